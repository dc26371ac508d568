// Package engine implements the central fusion, selection, and arbitration
// component. The Engine owns the provider registry, runs the provider
// selection policy, and maintains the observable global state: engine state
// (off/on/active), satellite-based positioning on/off, wifi-and-cell-id
// reporting on/off, and the fused last-known location.
package engine

import (
	"fmt"
	"sync"

	"github.com/ubports/locationd/pkg/connectivity"
	"github.com/ubports/locationd/pkg/criteria"
	"github.com/ubports/locationd/pkg/logx"
	"github.com/ubports/locationd/pkg/observable"
	"github.com/ubports/locationd/pkg/provider"
	"github.com/ubports/locationd/pkg/selection"
	"github.com/ubports/locationd/pkg/units"
)

// Handle identifies a registered provider for later removal.
type Handle uint64

// State is the engine's overall on/off/active state. Active means at least
// one session is consuming updates.
type State int

const (
	StateOff State = iota
	StateOn
	StateActive
)

func (s State) String() string {
	switch s {
	case StateOff:
		return "off"
	case StateOn:
		return "on"
	case StateActive:
		return "active"
	default:
		return "unknown"
	}
}

// OnOffState is the value space shared by satellite_based_positioning_state
// and wifi_and_cell_id_reporting_state.
type OnOffState int

const (
	Off OnOffState = iota
	On
)

// Observer receives engine-level observability callbacks: one call per
// provider/kind activation (a permission-gated 0->1 start transition) and
// one per selection outcome per requested kind. metrics.Server satisfies
// it; the zero Engine has none and skips the calls.
type Observer interface {
	ObserveProviderActivation(provider, kind string)
	ObserveSelectionOutcome(kind string, matched bool)
}

type registeredProvider struct {
	handle Handle
	gated  *gatedProvider
	order  int

	unsubPosition func()
	unsubSV       func()
}

// Engine is the central arbitration component. The zero value is not usable;
// construct with New.
type Engine struct {
	logger       *logx.Logger
	connectivity *connectivity.Snapshot
	policy       selection.Policy

	obsMu    sync.Mutex
	observer Observer

	mu                sync.Mutex
	providers         map[Handle]*registeredProvider
	nextHandle        Handle
	nextOrder         int
	desiredOn         bool
	activeSessions    int
	lastKnownLocation *units.Update[units.Position]
	spaceVehicles     map[criteria.SpaceVehicleKey]criteria.SpaceVehicle

	State                observable.Property[State]
	SatellitePositioning observable.Property[OnOffState]
	WifiAndCellReporting observable.Property[OnOffState]
	LastKnownLocation    observable.Property[*units.Update[units.Position]]
	VisibleSpaceVehicles observable.Signal[criteria.SpaceVehicle]
}

// New constructs an Engine in state on, satellite positioning on, wifi/cell
// reporting on.
func New(snap *connectivity.Snapshot, logger *logx.Logger) *Engine {
	e := &Engine{
		logger:       logger,
		connectivity: snap,
		providers:     make(map[Handle]*registeredProvider),
		spaceVehicles: make(map[criteria.SpaceVehicleKey]criteria.SpaceVehicle),
		desiredOn:     true,
	}
	e.State.Set(StateOn)
	e.SatellitePositioning.Set(On)
	e.WifiAndCellReporting.Set(On)
	e.LastKnownLocation.Set(nil)

	snap.State.Subscribe(func(connectivity.OnlineState) { e.recomputeAllPermissions() })
	return e
}

// SetObserver installs o to receive activation and selection-outcome
// callbacks. Typically called once at startup, before providers register.
func (e *Engine) SetObserver(o Observer) {
	e.obsMu.Lock()
	e.observer = o
	e.obsMu.Unlock()
}

func (e *Engine) currentObserver() Observer {
	e.obsMu.Lock()
	defer e.obsMu.Unlock()
	return e.observer
}

// providerName labels a provider for observability: its own Name if it has
// one, else its concrete type.
func providerName(p provider.Provider) string {
	if n, ok := p.(interface{ Name() string }); ok {
		return n.Name()
	}
	return fmt.Sprintf("%T", p)
}

// Add registers a provider, subscribing to its position and space-vehicle
// streams so the Engine can re-broadcast into its own fused streams, and
// returns a Handle for later Remove. Heading and velocity are not fused at
// the Engine level; only ProxyProvider forwards those.
func (e *Engine) Add(p provider.Provider) Handle {
	e.mu.Lock()
	defer e.mu.Unlock()

	gated := newGatedProvider(p)
	gated.onActive = func(kind provider.Kind) {
		if o := e.currentObserver(); o != nil {
			o.ObserveProviderActivation(providerName(p), kind.String())
		}
	}
	h := e.nextHandle
	e.nextHandle++
	order := e.nextOrder
	e.nextOrder++

	rp := &registeredProvider{handle: h, gated: gated, order: order}
	posHandle := p.PositionUpdates().Subscribe(func(u units.Update[units.Position]) { e.applyPositionUpdate(u) })
	svHandle := p.SpaceVehicleUpdates().Subscribe(func(sv criteria.SpaceVehicle) { e.applySpaceVehicleUpdate(sv) })
	rp.unsubPosition = func() { p.PositionUpdates().Unsubscribe(posHandle) }
	rp.unsubSV = func() { p.SpaceVehicleUpdates().Unsubscribe(svHandle) }

	e.providers[h] = rp
	gated.setPermitted(e.permittedForLocked(p))
	return h
}

// Remove detaches a provider. In-flight updates already dispatched are not
// recalled.
func (e *Engine) Remove(h Handle) {
	e.mu.Lock()
	rp, ok := e.providers[h]
	if ok {
		delete(e.providers, h)
	}
	e.mu.Unlock()
	if !ok {
		return
	}
	rp.unsubPosition()
	rp.unsubSV()
}

// DetermineProviderSelectionForCriteria runs the selection policy over the
// currently registered, permission-gated providers.
func (e *Engine) DetermineProviderSelectionForCriteria(c criteria.Criteria) selection.Selection {
	e.mu.Lock()
	candidates := make([]selection.Candidate, 0, len(e.providers))
	for _, rp := range e.providers {
		candidates = append(candidates, selection.Candidate{
			Provider:  rp.gated,
			Order:     rp.order,
			Permitted: rp.gated.isPermitted(),
		})
	}
	e.mu.Unlock()

	sel := e.policy.Select(candidates, c)
	if o := e.currentObserver(); o != nil {
		o.ObserveSelectionOutcome("position", sel.Position != nil)
		if c.WantsHeading {
			o.ObserveSelectionOutcome("heading", sel.Heading != nil)
		}
		if c.WantsVelocity {
			o.ObserveSelectionOutcome("velocity", sel.Velocity != nil)
		}
	}
	return sel
}

// SetEngineOn sets the externally-controlled half of the engine state. Off
// forces every provider's permission to false; on restores permission
// evaluation to the remaining gates.
func (e *Engine) SetEngineOn(on bool) {
	e.mu.Lock()
	if e.desiredOn == on {
		e.mu.Unlock()
		return
	}
	e.desiredOn = on
	s, changed := e.recomputeStateLocked()
	e.mu.Unlock()
	if changed {
		e.State.Set(s)
	}
	e.recomputeAllPermissions()
}

// SetSatelliteBasedPositioning toggles satellite-based positioning,
// re-evaluating permission for every provider requiring satellites.
func (e *Engine) SetSatelliteBasedPositioning(state OnOffState) {
	if e.SatellitePositioning.Get() == state {
		return
	}
	e.SatellitePositioning.Set(state)
	e.recomputeAllPermissions()
}

// SetWifiAndCellReporting toggles wifi/cell-id reporting, re-evaluating
// permission for every provider requiring the cell network.
func (e *Engine) SetWifiAndCellReporting(state OnOffState) {
	if e.WifiAndCellReporting.Get() == state {
		return
	}
	e.WifiAndCellReporting.Set(state)
	e.recomputeAllPermissions()
	for _, rp := range e.snapshotProviders() {
		rp.gated.Provider.OnWifiAndCellReportingStateChanged(state == On)
	}
}

// NotifySessionBecameActive/NotifySessionBecameIdle drive the on<->active
// half of the engine state: a Session calls these exactly once per
// transition of "does this session currently have any kind enabled".
func (e *Engine) NotifySessionBecameActive() {
	e.mu.Lock()
	e.activeSessions++
	s, changed := e.recomputeStateLocked()
	e.mu.Unlock()
	if changed {
		e.State.Set(s)
	}
}

func (e *Engine) NotifySessionBecameIdle() {
	e.mu.Lock()
	if e.activeSessions > 0 {
		e.activeSessions--
	}
	s, changed := e.recomputeStateLocked()
	e.mu.Unlock()
	if changed {
		e.State.Set(s)
	}
}

// recomputeStateLocked derives the current engine state. The caller
// publishes the change after releasing the state mutex so no lock is held
// across subscriber callbacks.
func (e *Engine) recomputeStateLocked() (State, bool) {
	var s State
	switch {
	case !e.desiredOn:
		s = StateOff
	case e.activeSessions > 0:
		s = StateActive
	default:
		s = StateOn
	}
	return s, e.State.Get() != s
}

// LastKnownLocationForReplay returns the Engine's current last-known fix
// under the same lock applyPositionUpdate uses. The caller must subscribe to
// the position stream before releasing whatever lock it took to call this,
// to avoid losing an interleaved update; see pkg/session's replay-on-enable.
func (e *Engine) LastKnownLocationForReplay() *units.Update[units.Position] {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastKnownLocation
}

// SeedLastKnownLocation installs u as the starting last_known_location,
// e.g. restored from pkg/lastfix at process startup. Unlike
// applyPositionUpdate it does not compare against a current value; it is
// called once, before any provider is registered. A later provider update
// replaces it under applyPositionUpdate's usual rule: a strictly newer
// timestamp, or a tighter horizontal accuracy at an equal timestamp.
func (e *Engine) SeedLastKnownLocation(u units.Update[units.Position]) {
	e.mu.Lock()
	e.lastKnownLocation = &u
	e.mu.Unlock()
	e.LastKnownLocation.Set(&u)
}

func (e *Engine) applyPositionUpdate(u units.Update[units.Position]) {
	e.mu.Lock()
	cur := e.lastKnownLocation
	accept := cur == nil || u.Timestamp > cur.Timestamp ||
		(u.Timestamp == cur.Timestamp && u.Value.Accuracy.HorizontalOrInfinite() < cur.Value.Accuracy.HorizontalOrInfinite())
	if accept {
		e.lastKnownLocation = &u
	}
	e.mu.Unlock()
	if accept {
		e.LastKnownLocation.Set(&u)
	}
}

// applySpaceVehicleUpdate records sv in the engine-wide map, keyed uniquely
// by (constellation, prn), and re-broadcasts it on the fused stream.
func (e *Engine) applySpaceVehicleUpdate(sv criteria.SpaceVehicle) {
	e.mu.Lock()
	e.spaceVehicles[sv.Key] = sv
	e.mu.Unlock()
	e.VisibleSpaceVehicles.Emit(sv)
}

// SpaceVehicleSnapshot returns a copy of the current per-key SV state.
func (e *Engine) SpaceVehicleSnapshot() map[criteria.SpaceVehicleKey]criteria.SpaceVehicle {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[criteria.SpaceVehicleKey]criteria.SpaceVehicle, len(e.spaceVehicles))
	for k, v := range e.spaceVehicles {
		out[k] = v
	}
	return out
}

func (e *Engine) snapshotProviders() []*registeredProvider {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*registeredProvider, 0, len(e.providers))
	for _, rp := range e.providers {
		out = append(out, rp)
	}
	return out
}

func (e *Engine) recomputeAllPermissions() {
	for _, rp := range e.snapshotProviders() {
		rp.gated.setPermitted(e.permittedFor(rp.gated.Provider))
	}
}

func (e *Engine) permittedFor(p provider.Provider) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.permittedForLocked(p)
}

// permittedForLocked implements the permission gate: engine off, satellite
// positioning off vs a satellites requirement, reporting off vs a cell
// network requirement, and offline vs a data network requirement.
func (e *Engine) permittedForLocked(p provider.Provider) bool {
	if e.State.Get() == StateOff {
		return false
	}
	req := p.Requirements()
	if req.Has(criteria.RequiresSatellites) && e.SatellitePositioning.Get() == Off {
		return false
	}
	if req.Has(criteria.RequiresCellNetwork) && e.WifiAndCellReporting.Get() == Off {
		return false
	}
	if req.Has(criteria.RequiresDataNetwork) && e.connectivity.State.Get() == connectivity.StateOffline {
		return false
	}
	return true
}
