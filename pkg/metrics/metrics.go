// Package metrics exposes a Prometheus scrape endpoint for Engine/Provider/
// Harvester activity: provider activation counts, selection outcomes, and
// Harvester submission counters.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ubports/locationd/pkg/logx"
)

// Server exposes the location daemon's Prometheus metrics on its own
// listener. Opt-in: nothing is served unless Start is called.
type Server struct {
	logger   *logx.Logger
	server   *http.Server
	registry *prometheus.Registry

	providerActivations *prometheus.CounterVec
	selectionOutcomes   *prometheus.CounterVec
	harvesterSubmits    *prometheus.CounterVec
	lastFixAccuracy     prometheus.Gauge
	engineState         prometheus.Gauge
}

// NewServer constructs a Server with its own Prometheus registry.
func NewServer(logger *logx.Logger) *Server {
	s := &Server{
		logger:   logger,
		registry: prometheus.NewRegistry(),
		providerActivations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "locationd_provider_activations_total",
				Help: "Total provider start transitions (0->1) by kind.",
			},
			[]string{"provider", "kind"},
		),
		selectionOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "locationd_selection_outcomes_total",
				Help: "Provider selection outcomes by kind (matched/no_matching_provider).",
			},
			[]string{"kind", "outcome"},
		),
		harvesterSubmits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "locationd_harvester_submissions_total",
				Help: "Harvester Reporter submissions by outcome (ok/dropped).",
			},
			[]string{"outcome"},
		),
		lastFixAccuracy: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "locationd_last_known_horizontal_accuracy_meters",
				Help: "Horizontal accuracy of the Engine's last-known fix, in meters.",
			},
		),
		engineState: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "locationd_engine_state",
				Help: "Current engine_state (0=off, 1=on, 2=active).",
			},
		),
	}

	s.registry.MustRegister(
		s.providerActivations,
		s.selectionOutcomes,
		s.harvesterSubmits,
		s.lastFixAccuracy,
		s.engineState,
	)
	return s
}

// ObserveProviderActivation increments the activation counter for a
// provider/kind pair. The Engine calls this through its Observer hook each
// time a permission-gated provider transitions to active for a kind.
func (s *Server) ObserveProviderActivation(providerName, kind string) {
	s.providerActivations.WithLabelValues(providerName, kind).Inc()
}

// ObserveSelectionOutcome records whether a selection run matched a
// provider for kind. The Engine calls this once per requested kind after
// each DetermineProviderSelectionForCriteria.
func (s *Server) ObserveSelectionOutcome(kind string, matched bool) {
	outcome := "matched"
	if !matched {
		outcome = "no_matching_provider"
	}
	s.selectionOutcomes.WithLabelValues(kind, outcome).Inc()
}

// ObserveHarvesterSubmission records a Harvester Reporter.Submit outcome,
// reported through the Harvester's Observer hook.
func (s *Server) ObserveHarvesterSubmission(ok bool) {
	outcome := "ok"
	if !ok {
		outcome = "dropped"
	}
	s.harvesterSubmits.WithLabelValues(outcome).Inc()
}

// SetLastFixAccuracy records the horizontal accuracy, in meters, of the
// Engine's most recent last-known-location update.
func (s *Server) SetLastFixAccuracy(meters float64) {
	s.lastFixAccuracy.Set(meters)
}

// SetEngineState records the current engine_state as a small ordinal.
func (s *Server) SetEngineState(state int) {
	s.engineState.Set(float64(state))
}

// Start begins serving /metrics on addr (e.g. ":9475"). Non-blocking.
func (s *Server) Start(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	s.server = &http.Server{Addr: addr, Handler: mux}

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("metrics server error", "error", err.Error())
		}
	}()
	s.logger.Info("metrics server started", "addr", addr)
	return nil
}

// Stop gracefully shuts the metrics server down.
func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("metrics: shutdown: %w", err)
	}
	return nil
}
