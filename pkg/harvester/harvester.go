// Package harvester implements opportunistic reporting of observed positions
// and the radio environment to an external database. It subscribes to the
// Engine's last-known-location property and the connectivity snapshot,
// coalescing submissions to at most one in flight; a failed submission is
// dropped, not retried.
package harvester

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sajari/regression"

	"github.com/ubports/locationd/pkg/connectivity"
	"github.com/ubports/locationd/pkg/harvester/reporter"
	"github.com/ubports/locationd/pkg/locerr"
	"github.com/ubports/locationd/pkg/logx"
	"github.com/ubports/locationd/pkg/observable"
	"github.com/ubports/locationd/pkg/units"
)

// lastKnownLocationSource is the slice of engine.Engine the Harvester
// subscribes to: its fused last-known-location Property.
type lastKnownLocationSource interface {
	Subscribe(fn func(*units.Update[units.Position])) observable.Handle
	Unsubscribe(observable.Handle)
}

// ReportingStateSource answers whether wifi/cell-id reporting is currently
// on. Polled at the moment each position update arrives rather than
// subscribed to, since the Harvester only ever needs the value at that
// instant.
type ReportingStateSource interface {
	Get() bool
}

// Observer receives the outcome of each Reporter submission. metrics.Server
// satisfies it.
type Observer interface {
	ObserveHarvesterSubmission(ok bool)
}

// GetterFunc adapts a plain func() bool to a ReportingStateSource, so
// callers can wrap engine.Engine's WifiAndCellReporting Property (whose
// Get() returns engine.OnOffState, not bool) without harvester importing
// the engine package.
type GetterFunc func() bool

// Get implements ReportingStateSource.
func (f GetterFunc) Get() bool { return f() }

// Harvester subscribes to a position source and a connectivity snapshot and
// opportunistically reports fixes via a Reporter.
type Harvester struct {
	positions    lastKnownLocationSource
	reportingOn  ReportingStateSource
	connectivity *connectivity.Snapshot
	reporter     reporter.Reporter
	logger       *logx.Logger

	started  atomic.Bool
	inFlight atomic.Bool

	// observer, when set, sees every Submit outcome. Set before Start.
	observer Observer

	posHandle observable.Handle
	subscribed bool

	trendMu sync.Mutex
	trend   []trendPoint
}

type trendPoint struct {
	t        float64
	accuracy float64
}

// New constructs a Harvester. positions is typically engine.Engine's
// LastKnownLocation Property, which satisfies lastKnownLocationSource
// directly; reportingOn is typically a GetterFunc over its
// WifiAndCellReporting Property. Both are narrowed here so tests can supply
// fakes instead of a real Engine.
func New(positions lastKnownLocationSource, reportingOn ReportingStateSource, snap *connectivity.Snapshot, rep reporter.Reporter, logger *logx.Logger) *Harvester {
	return &Harvester{
		positions:    positions,
		reportingOn:  reportingOn,
		connectivity: snap,
		reporter:     rep,
		logger:       logger,
	}
}

// SetObserver installs o to receive per-submission outcomes. Must be called
// before Start.
func (h *Harvester) SetObserver(o Observer) { h.observer = o }

// Start subscribes to the position source. Idempotent.
func (h *Harvester) Start() {
	if !h.started.CompareAndSwap(false, true) {
		return
	}
	h.posHandle = h.positions.Subscribe(h.onPosition)
	h.subscribed = true
}

// Stop unsubscribes from the position source. Idempotent. In-flight
// submissions are not cancelled: they run to completion, their result
// simply no longer matters.
func (h *Harvester) Stop() {
	if !h.started.CompareAndSwap(true, false) {
		return
	}
	if h.subscribed {
		h.positions.Unsubscribe(h.posHandle)
		h.subscribed = false
	}
}

func (h *Harvester) onPosition(u *units.Update[units.Position]) {
	if u == nil || !h.started.Load() || !h.reportingOn.Get() {
		return
	}
	if !h.inFlight.CompareAndSwap(false, true) {
		// a submission is already in flight; this update is not queued
		return
	}

	batch := reporter.Batch{
		Position: u.Value,
		Cells:    h.connectivity.VisibleRadioCells(),
		APs:      h.connectivity.VisibleWirelessNetworks(),
	}
	h.recordTrend(u)

	go func() {
		defer h.inFlight.Store(false)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		err := h.reporter.Submit(ctx, batch)
		if h.observer != nil {
			h.observer.ObserveHarvesterSubmission(err == nil)
		}
		if err != nil {
			if locerr.Is(err, locerr.KindReporterPermanent) {
				// a permanent reporter failure stops harvesting until an
				// external restart
				h.logger.Error("harvester stopped on permanent reporter failure", "error", err.Error())
				h.Stop()
				return
			}
			h.logger.Warn("harvester submission dropped", "error", err.Error())
		}
	}()
}

// recordTrend fits a short accuracy-vs-time linear trend over recently seen
// fixes and logs it before each submission. Diagnostic only; it never
// influences submission gating.
func (h *Harvester) recordTrend(u *units.Update[units.Position]) {
	h.trendMu.Lock()
	defer h.trendMu.Unlock()

	acc := u.Value.Accuracy.HorizontalOrInfinite().Meters()
	h.trend = append(h.trend, trendPoint{t: float64(u.Timestamp), accuracy: acc})
	const window = 10
	if len(h.trend) > window {
		h.trend = h.trend[len(h.trend)-window:]
	}
	if len(h.trend) < 3 {
		return
	}

	r := new(regression.Regression)
	r.SetObserved("horizontal accuracy (m)")
	r.SetVar(0, "timestamp")
	for _, p := range h.trend {
		r.Train(regression.DataPoint(p.accuracy, []float64{p.t}))
	}
	if err := r.Run(); err != nil {
		return
	}
	coeffs := r.GetCoeffs()
	if len(coeffs) < 2 {
		return
	}
	h.logger.Debug("harvester accuracy trend", "slope_m_per_ns", coeffs[1], "r2", r.R2)
}
