// Package remote implements a Provider that polls a remote HTTP location
// service, the network counterpart to the vendor GPS HAL in
// pkg/provider/gpshal. Retries go through pkg/retry.Runner rather than a
// second, bespoke backoff loop.
package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ubports/locationd/pkg/criteria"
	"github.com/ubports/locationd/pkg/logx"
	"github.com/ubports/locationd/pkg/provider"
	"github.com/ubports/locationd/pkg/retry"
	"github.com/ubports/locationd/pkg/units"
)

// fixResponse is the wire shape this provider expects back from the remote
// endpoint: a single JSON object carrying whichever fields the service has.
type fixResponse struct {
	Latitude   float64  `json:"latitude"`
	Longitude  float64  `json:"longitude"`
	AltitudeM  *float64 `json:"altitude_m,omitempty"`
	AccuracyM  *float64 `json:"accuracy_m,omitempty"`
	SpeedMPS   *float64 `json:"speed_mps,omitempty"`
	BearingDeg *float64 `json:"bearing_deg,omitempty"`
	TimestampNs int64   `json:"timestamp_ns"`
}

// Config configures a Provider.
type Config struct {
	Endpoint     string
	PollInterval time.Duration // default 5s
	Timeout      time.Duration // per-request budget, default 10s
	Retry        retry.Config
	Capabilities criteria.Capabilities
}

// Provider polls a remote HTTP endpoint on a fixed interval and fans each
// successful response out as position/velocity/heading updates, the same
// shape as gpshal.Adapter's fan-out but sourced over the network instead of
// a vendor callback.
type Provider struct {
	*provider.Base

	endpoint string
	client   *http.Client
	interval time.Duration
	runner   *retry.Runner
	logger   *logx.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
}

// New constructs a remote Provider with a plain HTTP client; the endpoint
// is expected to carry a publicly verifiable certificate.
func New(cfg Config, logger *logx.Logger) *Provider {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	p := &Provider{
		endpoint: strings.TrimSuffix(cfg.Endpoint, "/"),
		client:   &http.Client{Timeout: cfg.Timeout},
		interval: cfg.PollInterval,
		runner:   retry.NewRunner(cfg.Retry),
		logger:   logger,
	}
	p.Base = provider.NewBase(cfg.Capabilities, p)
	return p
}

// Name labels this provider in logs and metrics.
func (p *Provider) Name() string { return "remote" }

// OnActive starts the polling loop on the first kind activated.
func (p *Provider) OnActive(provider.Kind) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	go p.pollLoop(ctx)
}

// OnInactive stops the polling loop once no kind remains active.
func (p *Provider) OnInactive(provider.Kind) {
	for _, k := range []provider.Kind{provider.KindPosition, provider.KindHeading, provider.KindVelocity} {
		if p.Counter.Active(k) {
			return
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel == nil {
		return
	}
	p.cancel()
	p.cancel = nil
}

func (p *Provider) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	p.pollOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.pollOnce(ctx)
		}
	}
}

func (p *Provider) pollOnce(ctx context.Context) {
	var resp fixResponse
	err := p.runner.Do(ctx, func(ctx context.Context) error {
		r, err := p.fetch(ctx)
		if err != nil {
			return err
		}
		resp = r
		return nil
	})
	if err != nil {
		p.logger.Warn("remote location poll failed", "endpoint", p.endpoint, "error", err.Error())
		return
	}
	p.handleResponse(resp)
}

func (p *Provider) fetch(ctx context.Context) (fixResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.endpoint, nil)
	if err != nil {
		return fixResponse{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fixResponse{}, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fixResponse{}, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fixResponse{}, fmt.Errorf("request failed with status %d: %s", resp.StatusCode, string(body))
	}

	var fix fixResponse
	if err := json.Unmarshal(body, &fix); err != nil {
		return fixResponse{}, fmt.Errorf("unmarshal response: %w", err)
	}
	return fix, nil
}

func (p *Provider) handleResponse(resp fixResponse) {
	var alt *units.Length
	if resp.AltitudeM != nil {
		v := units.Length(*resp.AltitudeM)
		alt = &v
	}
	var acc units.Accuracy
	if resp.AccuracyM != nil {
		h := units.Length(*resp.AccuracyM)
		acc.Horizontal = &h
	}

	pos, err := units.NewPosition(units.Angle(resp.Latitude), units.Angle(resp.Longitude), alt, acc)
	if err != nil {
		p.logger.Debug("remote provider dropped invalid position", "error", err.Error())
		return
	}
	p.EmitPosition(units.Update[units.Position]{Value: pos, Timestamp: resp.TimestampNs})

	if resp.SpeedMPS != nil {
		p.EmitVelocity(units.Update[units.Velocity]{Value: units.Velocity(*resp.SpeedMPS), Timestamp: resp.TimestampNs})
	}
	if resp.BearingDeg != nil {
		p.EmitHeading(units.Update[units.Heading]{Value: units.Heading(*resp.BearingDeg), Timestamp: resp.TimestampNs})
	}
}

// OnReferenceLocationUpdated is accepted but ignored: a hosted location
// service has no reference-hint input, unlike the vendor GPS HAL.
func (p *Provider) OnReferenceLocationUpdated(units.Position) {}

// OnReferenceVelocityUpdated is accepted but ignored, symmetric with
// OnReferenceLocationUpdated.
func (p *Provider) OnReferenceVelocityUpdated(units.Velocity) {}

// OnReferenceHeadingUpdated is accepted but ignored, symmetric with
// OnReferenceLocationUpdated.
func (p *Provider) OnReferenceHeadingUpdated(units.Heading) {}

// OnWifiAndCellReportingStateChanged is a no-op: this provider has no wifi/
// cell reporting dependency of its own (the Harvester owns that path).
func (p *Provider) OnWifiAndCellReportingStateChanged(bool) {}
