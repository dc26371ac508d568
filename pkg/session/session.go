package session

import (
	"sync"

	"github.com/ubports/locationd/pkg/observable"
	"github.com/ubports/locationd/pkg/units"
)

// EnabledState is the value space of a Session's per-kind status Properties.
type EnabledState int

const (
	Disabled EnabledState = iota
	Enabled
)

// lastKnownSource is the slice of Engine a Session needs: reading the
// current last-known fix under Engine's own lock, for the replay-on-enable
// rule. Narrowed to an interface so session tests don't need a real Engine.
type lastKnownSource interface {
	LastKnownLocationForReplay() *units.Update[units.Position]
}

// sessionNotifier is the slice of Engine a Session uses to drive the
// engine's on<->active transition.
type sessionNotifier interface {
	NotifySessionBecameActive()
	NotifySessionBecameIdle()
}

// Session wraps one ProxyProvider and exposes the per-kind enable surface
// plus the four update streams a client consumes.
type Session struct {
	proxy    *ProxyProvider
	lastFix  lastKnownSource
	notifier sessionNotifier

	PositionStatus observable.Property[EnabledState]
	HeadingStatus  observable.Property[EnabledState]
	VelocityStatus observable.Property[EnabledState]
	Errors         observable.Signal[error]

	mu          sync.Mutex
	activeKinds int
	closed      bool
}

// New constructs a Session over proxy. e supplies the last-known-fix replay
// source and the active-session notification sink (engine.Engine satisfies
// both in production; tests may supply narrower fakes).
func New(proxy *ProxyProvider, e interface {
	lastKnownSource
	sessionNotifier
}) *Session {
	s := &Session{proxy: proxy, lastFix: e, notifier: e}
	s.PositionStatus.Set(Disabled)
	s.HeadingStatus.Set(Disabled)
	s.VelocityStatus.Set(Disabled)
	return s
}

// SetPositionStatus enables or disables the position stream. Enabling
// replays the Engine's last-known fix immediately if one exists, before any
// further provider update can arrive on this session's stream, so clients
// see a fix without waiting for a full acquisition cycle.
func (s *Session) SetPositionStatus(state EnabledState) error {
	if state != Enabled {
		err := s.proxy.StopPositionUpdates()
		s.recordTransition(&s.PositionStatus, state)
		return err
	}
	if err := s.proxy.StartPositionUpdates(); err != nil {
		s.Errors.Emit(err)
		return err
	}
	if fix := s.lastFix.LastKnownLocationForReplay(); fix != nil {
		s.proxy.ReplayPosition(*fix)
	}
	s.recordTransition(&s.PositionStatus, state)
	return nil
}

// SetHeadingStatus is the heading counterpart of SetPositionStatus.
func (s *Session) SetHeadingStatus(state EnabledState) error {
	if state != Enabled {
		err := s.proxy.StopHeadingUpdates()
		s.recordTransition(&s.HeadingStatus, state)
		return err
	}
	if err := s.proxy.StartHeadingUpdates(); err != nil {
		s.Errors.Emit(err)
		return err
	}
	s.recordTransition(&s.HeadingStatus, state)
	return nil
}

// SetVelocityStatus is the velocity counterpart of SetPositionStatus.
func (s *Session) SetVelocityStatus(state EnabledState) error {
	if state != Enabled {
		err := s.proxy.StopVelocityUpdates()
		s.recordTransition(&s.VelocityStatus, state)
		return err
	}
	if err := s.proxy.StartVelocityUpdates(); err != nil {
		s.Errors.Emit(err)
		return err
	}
	s.recordTransition(&s.VelocityStatus, state)
	return nil
}

// recordTransition updates prop and notifies the Engine of this session's
// active/idle transition the first time any kind becomes enabled, or the
// last time all kinds become disabled.
func (s *Session) recordTransition(prop *observable.Property[EnabledState], state EnabledState) {
	s.mu.Lock()
	was := prop.Get()
	if was != Enabled && state == Enabled {
		s.activeKinds++
	} else if was == Enabled && state != Enabled && s.activeKinds > 0 {
		s.activeKinds--
	}
	activeNow := s.activeKinds
	s.mu.Unlock()

	prop.Set(state)

	switch {
	case was != Enabled && state == Enabled && activeNow == 1:
		s.notifier.NotifySessionBecameActive()
	case activeNow == 0 && was == Enabled && state != Enabled:
		s.notifier.NotifySessionBecameIdle()
	}
}

// Close stops every currently-enabled kind and detaches the proxy. A
// dropped client transport must end up here so the session releases every
// per-kind start it still holds.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	if s.PositionStatus.Get() == Enabled {
		s.SetPositionStatus(Disabled)
	}
	if s.HeadingStatus.Get() == Enabled {
		s.SetHeadingStatus(Disabled)
	}
	if s.VelocityStatus.Get() == Enabled {
		s.SetVelocityStatus(Disabled)
	}
	s.proxy.Close()
}
