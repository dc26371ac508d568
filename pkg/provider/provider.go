// Package provider defines the Provider abstraction: a polymorphic producer
// of position/heading/velocity/space-vehicle updates with a declared
// capability set, plus the reference-counted activation state machine every
// concrete provider embeds.
package provider

import (
	"sync"

	"github.com/ubports/locationd/pkg/criteria"
	"github.com/ubports/locationd/pkg/observable"
	"github.com/ubports/locationd/pkg/units"
)

// Kind distinguishes the three independently-activated update streams.
type Kind int

const (
	KindPosition Kind = iota
	KindHeading
	KindVelocity
)

func (k Kind) String() string {
	switch k {
	case KindPosition:
		return "position"
	case KindHeading:
		return "heading"
	case KindVelocity:
		return "velocity"
	default:
		return "unknown"
	}
}

// Driver is the narrow interface a concrete Provider implements to react to
// activation transitions.
type Driver interface {
	// OnActive is called when a kind's reference count transitions 0 -> 1.
	OnActive(kind Kind)
	// OnInactive is called when a kind's reference count transitions 1 -> 0.
	OnInactive(kind Kind)
}

// ActivationCounter is the per-kind, non-negative reference counter behind
// every Provider's start/stop surface: start increments and, on a 0->1
// transition, emits OnActive; stop decrements (floored at 0) and, on a
// transition to 0, emits OnInactive.
type ActivationCounter struct {
	mu     sync.Mutex
	driver Driver
	counts map[Kind]int
}

// NewActivationCounter constructs a counter reporting transitions to driver.
func NewActivationCounter(driver Driver) *ActivationCounter {
	return &ActivationCounter{driver: driver, counts: make(map[Kind]int)}
}

// Start increments kind's counter. A start while the counter is already > 0
// never re-fires OnActive; the count still grows so the matching stops
// balance.
func (a *ActivationCounter) Start(kind Kind) {
	a.mu.Lock()
	was := a.counts[kind]
	a.counts[kind] = was + 1
	a.mu.Unlock()
	// The driver callback runs outside the counter lock so it can query
	// Active and block on its own driver mutex.
	if was == 0 {
		a.driver.OnActive(kind)
	}
}

// Stop decrements kind's counter, floored at zero, emitting OnInactive on the
// transition to zero. Stopping an already-zero counter is a no-op.
func (a *ActivationCounter) Stop(kind Kind) {
	a.mu.Lock()
	if a.counts[kind] <= 0 {
		a.counts[kind] = 0
		a.mu.Unlock()
		return
	}
	a.counts[kind]--
	becameInactive := a.counts[kind] == 0
	a.mu.Unlock()
	if becameInactive {
		a.driver.OnInactive(kind)
	}
}

// Active reports whether kind's counter is currently greater than zero.
func (a *ActivationCounter) Active(kind Kind) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.counts[kind] > 0
}

// Drain zeroes every non-zero counter and emits OnInactive exactly once per
// kind that was active. Called on provider teardown.
func (a *ActivationCounter) Drain() {
	a.mu.Lock()
	active := make([]Kind, 0, len(a.counts))
	for kind, n := range a.counts {
		if n > 0 {
			active = append(active, kind)
		}
		a.counts[kind] = 0
	}
	a.mu.Unlock()
	for _, kind := range active {
		a.driver.OnInactive(kind)
	}
}

// Provider is a polymorphic producer of position/heading/velocity/SV updates.
type Provider interface {
	Features() criteria.Features
	Requirements() criteria.Requirements
	Satisfies(c criteria.Criteria) bool

	PositionUpdates() *observable.Signal[units.Update[units.Position]]
	HeadingUpdates() *observable.Signal[units.Update[units.Heading]]
	VelocityUpdates() *observable.Signal[units.Update[units.Velocity]]
	SpaceVehicleUpdates() *observable.Signal[criteria.SpaceVehicle]

	OnReferenceLocationUpdated(units.Position)
	OnReferenceVelocityUpdated(units.Velocity)
	OnReferenceHeadingUpdated(units.Heading)
	OnWifiAndCellReportingStateChanged(enabled bool)

	StartPositionUpdates()
	StopPositionUpdates()
	StartHeadingUpdates()
	StopHeadingUpdates()
	StartVelocityUpdates()
	StopVelocityUpdates()
}

// Base is embedded by every concrete Provider to supply the Features/
// Requirements/Satisfies/Updates/ActivationCounter plumbing so concrete
// types only implement the parts that actually differ (HAL glue, HTTP
// polling, scripted fixtures).
type Base struct {
	Caps criteria.Capabilities

	PositionSignal     observable.Signal[units.Update[units.Position]]
	HeadingSignal      observable.Signal[units.Update[units.Heading]]
	VelocitySignal     observable.Signal[units.Update[units.Velocity]]
	SpaceVehicleSignal observable.Signal[criteria.SpaceVehicle]

	Counter *ActivationCounter
}

// NewBase constructs a Base wired to driver for activation callbacks.
func NewBase(caps criteria.Capabilities, driver Driver) *Base {
	return &Base{Caps: caps, Counter: NewActivationCounter(driver)}
}

func (b *Base) Features() criteria.Features         { return b.Caps.Features }
func (b *Base) Requirements() criteria.Requirements { return b.Caps.Requirements }
func (b *Base) Satisfies(c criteria.Criteria) bool  { return criteria.Satisfies(b.Caps, c) }

// Capabilities returns the full declared capability set, used by
// pkg/selection's accuracy tie-break (narrower than Features/Requirements
// alone).
func (b *Base) Capabilities() criteria.Capabilities { return b.Caps }

func (b *Base) PositionUpdates() *observable.Signal[units.Update[units.Position]] {
	return &b.PositionSignal
}
func (b *Base) HeadingUpdates() *observable.Signal[units.Update[units.Heading]] {
	return &b.HeadingSignal
}
func (b *Base) VelocityUpdates() *observable.Signal[units.Update[units.Velocity]] {
	return &b.VelocitySignal
}
func (b *Base) SpaceVehicleUpdates() *observable.Signal[criteria.SpaceVehicle] {
	return &b.SpaceVehicleSignal
}

func (b *Base) StartPositionUpdates() { b.Counter.Start(KindPosition) }
func (b *Base) StopPositionUpdates()  { b.Counter.Stop(KindPosition) }
func (b *Base) StartHeadingUpdates()  { b.Counter.Start(KindHeading) }
func (b *Base) StopHeadingUpdates()   { b.Counter.Stop(KindHeading) }
func (b *Base) StartVelocityUpdates() { b.Counter.Start(KindVelocity) }
func (b *Base) StopVelocityUpdates()  { b.Counter.Stop(KindVelocity) }

// EmitPosition validates and publishes a position update. Updates with
// invalid coordinates are dropped, not propagated.
func (b *Base) EmitPosition(u units.Update[units.Position]) {
	if !u.Value.Valid() {
		return
	}
	b.PositionSignal.Emit(u)
}

// EmitHeading publishes a heading update.
func (b *Base) EmitHeading(u units.Update[units.Heading]) { b.HeadingSignal.Emit(u) }

// EmitVelocity publishes a velocity update.
func (b *Base) EmitVelocity(u units.Update[units.Velocity]) { b.VelocitySignal.Emit(u) }

// EmitSpaceVehicle publishes a tracked space-vehicle state update.
func (b *Base) EmitSpaceVehicle(sv criteria.SpaceVehicle) { b.SpaceVehicleSignal.Emit(sv) }
