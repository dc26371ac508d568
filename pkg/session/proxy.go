// Package session implements ProxyProvider and Session: the per-client
// fan-in of whichever providers the Engine's policy selected for a
// Criteria.
package session

import (
	"github.com/ubports/locationd/pkg/criteria"
	"github.com/ubports/locationd/pkg/locerr"
	"github.com/ubports/locationd/pkg/observable"
	"github.com/ubports/locationd/pkg/selection"
	"github.com/ubports/locationd/pkg/units"
)

// ErrNoMatchingProvider is returned from a start call when the policy found
// no provider satisfying the corresponding kind.
var ErrNoMatchingProvider = locerr.New(locerr.KindNoMatchingProvider, "session")

// ProxyProvider holds a selection.Selection and forwards each session's
// start/stop calls to the chosen sub-provider, merging their four update
// signals into its own four streams. If the same provider backs multiple
// kinds, starts are still counted per kind: each kind forwards to that
// provider's own independent per-kind Start/Stop method, so stopping
// velocity does not stop position.
type ProxyProvider struct {
	selection selection.Selection

	Position     observable.Signal[units.Update[units.Position]]
	Heading      observable.Signal[units.Update[units.Heading]]
	Velocity     observable.Signal[units.Update[units.Velocity]]
	SpaceVehicle observable.Signal[criteria.SpaceVehicle]

	unsubscribe []func()
}

// NewProxyProvider constructs a ProxyProvider over sel, wiring its own
// streams to whichever providers sel names.
func NewProxyProvider(sel selection.Selection) *ProxyProvider {
	p := &ProxyProvider{selection: sel}
	if sel.Position != nil {
		h := sel.Position.PositionUpdates().Subscribe(func(u units.Update[units.Position]) { p.Position.Emit(u) })
		p.unsubscribe = append(p.unsubscribe, func() { sel.Position.PositionUpdates().Unsubscribe(h) })
		svh := sel.Position.SpaceVehicleUpdates().Subscribe(func(sv criteria.SpaceVehicle) { p.SpaceVehicle.Emit(sv) })
		p.unsubscribe = append(p.unsubscribe, func() { sel.Position.SpaceVehicleUpdates().Unsubscribe(svh) })
	}
	if sel.Heading != nil {
		h := sel.Heading.HeadingUpdates().Subscribe(func(u units.Update[units.Heading]) { p.Heading.Emit(u) })
		p.unsubscribe = append(p.unsubscribe, func() { sel.Heading.HeadingUpdates().Unsubscribe(h) })
	}
	if sel.Velocity != nil {
		h := sel.Velocity.VelocityUpdates().Subscribe(func(u units.Update[units.Velocity]) { p.Velocity.Emit(u) })
		p.unsubscribe = append(p.unsubscribe, func() { sel.Velocity.VelocityUpdates().Unsubscribe(h) })
	}
	return p
}

// StartPositionUpdates forwards to the selected position provider, or
// reports ErrNoMatchingProvider if the policy found none.
func (p *ProxyProvider) StartPositionUpdates() error {
	if p.selection.Position == nil {
		return ErrNoMatchingProvider
	}
	p.selection.Position.StartPositionUpdates()
	return nil
}

// StopPositionUpdates forwards to the selected position provider, if any;
// stopping an absent selection is a no-op, not an error.
func (p *ProxyProvider) StopPositionUpdates() error {
	if p.selection.Position != nil {
		p.selection.Position.StopPositionUpdates()
	}
	return nil
}

// StartHeadingUpdates is the heading counterpart of StartPositionUpdates.
func (p *ProxyProvider) StartHeadingUpdates() error {
	if p.selection.Heading == nil {
		return ErrNoMatchingProvider
	}
	p.selection.Heading.StartHeadingUpdates()
	return nil
}

// StopHeadingUpdates is the heading counterpart of StopPositionUpdates.
func (p *ProxyProvider) StopHeadingUpdates() error {
	if p.selection.Heading != nil {
		p.selection.Heading.StopHeadingUpdates()
	}
	return nil
}

// StartVelocityUpdates is the velocity counterpart of StartPositionUpdates.
func (p *ProxyProvider) StartVelocityUpdates() error {
	if p.selection.Velocity == nil {
		return ErrNoMatchingProvider
	}
	p.selection.Velocity.StartVelocityUpdates()
	return nil
}

// StopVelocityUpdates is the velocity counterpart of StopPositionUpdates.
func (p *ProxyProvider) StopVelocityUpdates() error {
	if p.selection.Velocity != nil {
		p.selection.Velocity.StopVelocityUpdates()
	}
	return nil
}

// ReplayPosition pushes u directly onto the proxy's own position stream,
// bypassing the selected provider. Used by Session for the enable-time
// last-known-fix replay.
func (p *ProxyProvider) ReplayPosition(u units.Update[units.Position]) {
	p.Position.Emit(u)
}

// Close detaches from every selected provider's streams. It does not stop
// any kind; callers (Session) must have already issued matching stops.
func (p *ProxyProvider) Close() {
	for _, fn := range p.unsubscribe {
		fn()
	}
	p.unsubscribe = nil
}
