package session

import (
	"testing"

	"github.com/ubports/locationd/pkg/criteria"
	"github.com/ubports/locationd/pkg/observable"
	"github.com/ubports/locationd/pkg/selection"
	"github.com/ubports/locationd/pkg/units"
)

type fakeProvider struct {
	caps criteria.Capabilities

	position observable.Signal[units.Update[units.Position]]
	heading  observable.Signal[units.Update[units.Heading]]
	velocity observable.Signal[units.Update[units.Velocity]]
	sv       observable.Signal[criteria.SpaceVehicle]

	positionStarts, positionStops, velocityStarts int
}

func (f *fakeProvider) Features() criteria.Features         { return f.caps.Features }
func (f *fakeProvider) Requirements() criteria.Requirements { return f.caps.Requirements }
func (f *fakeProvider) Satisfies(c criteria.Criteria) bool  { return criteria.Satisfies(f.caps, c) }
func (f *fakeProvider) PositionUpdates() *observable.Signal[units.Update[units.Position]] {
	return &f.position
}
func (f *fakeProvider) HeadingUpdates() *observable.Signal[units.Update[units.Heading]] {
	return &f.heading
}
func (f *fakeProvider) VelocityUpdates() *observable.Signal[units.Update[units.Velocity]] {
	return &f.velocity
}
func (f *fakeProvider) SpaceVehicleUpdates() *observable.Signal[criteria.SpaceVehicle] { return &f.sv }
func (f *fakeProvider) OnReferenceLocationUpdated(units.Position)                      {}
func (f *fakeProvider) OnReferenceVelocityUpdated(units.Velocity)                      {}
func (f *fakeProvider) OnReferenceHeadingUpdated(units.Heading)                        {}
func (f *fakeProvider) OnWifiAndCellReportingStateChanged(bool)                        {}
func (f *fakeProvider) StartPositionUpdates()                                          { f.positionStarts++ }
func (f *fakeProvider) StopPositionUpdates()                                           { f.positionStops++ }
func (f *fakeProvider) StartHeadingUpdates()                                           {}
func (f *fakeProvider) StopHeadingUpdates()                                            {}
func (f *fakeProvider) StartVelocityUpdates()                                          { f.velocityStarts++ }
func (f *fakeProvider) StopVelocityUpdates()                                           {}

type fakeEngine struct {
	fix              *units.Update[units.Position]
	activeCalls      int
	idleCalls        int
}

func (f *fakeEngine) LastKnownLocationForReplay() *units.Update[units.Position] { return f.fix }
func (f *fakeEngine) NotifySessionBecameActive()                               { f.activeCalls++ }
func (f *fakeEngine) NotifySessionBecameIdle()                                 { f.idleCalls++ }

func mustPosition(t *testing.T, lat, lon float64) units.Position {
	t.Helper()
	p, err := units.NewPosition(units.Angle(lat), units.Angle(lon), nil, units.Accuracy{})
	if err != nil {
		t.Fatalf("NewPosition: %v", err)
	}
	return p
}

func TestSessionReplaysLastKnownFixOnEnable(t *testing.T) {
	fp := &fakeProvider{caps: criteria.Capabilities{Features: criteria.FeaturePosition}}
	proxy := newTestProxy(fp)
	fix := units.Update[units.Position]{Value: mustPosition(t, 10, 10), Timestamp: 100}
	fe := &fakeEngine{fix: &fix}
	s := New(proxy, fe)

	var got []units.Update[units.Position]
	proxy.Position.Subscribe(func(u units.Update[units.Position]) { got = append(got, u) })

	if err := s.SetPositionStatus(Enabled); err != nil {
		t.Fatalf("SetPositionStatus: %v", err)
	}
	if len(got) != 1 || got[0].Timestamp != 100 {
		t.Fatalf("expected exactly one replayed update as the first event, got %+v", got)
	}
	if fp.positionStarts != 1 {
		t.Fatalf("expected the underlying provider started exactly once, got %d", fp.positionStarts)
	}
}

func TestSessionNoReplayWithoutLastKnownFix(t *testing.T) {
	fp := &fakeProvider{caps: criteria.Capabilities{Features: criteria.FeaturePosition}}
	proxy := newTestProxy(fp)
	fe := &fakeEngine{}
	s := New(proxy, fe)

	var got []units.Update[units.Position]
	proxy.Position.Subscribe(func(u units.Update[units.Position]) { got = append(got, u) })

	s.SetPositionStatus(Enabled)
	if len(got) != 0 {
		t.Fatalf("expected no replay when the engine has no last-known fix, got %+v", got)
	}
}

func TestSessionNotifiesEngineActiveOnlyOnFirstKind(t *testing.T) {
	fp := &fakeProvider{caps: criteria.Capabilities{Features: criteria.FeaturePosition, Requirements: 0}}
	fp.caps.Features |= criteria.FeatureVelocity
	proxy := newTestProxy(fp)
	fe := &fakeEngine{}
	s := New(proxy, fe)

	s.SetPositionStatus(Enabled)
	if fe.activeCalls != 1 {
		t.Fatalf("expected exactly one active notification on the first kind enabled, got %d", fe.activeCalls)
	}
	s.SetVelocityStatus(Enabled)
	if fe.activeCalls != 1 {
		t.Fatalf("expected no additional active notification for a second kind, got %d", fe.activeCalls)
	}

	s.SetPositionStatus(Disabled)
	if fe.idleCalls != 0 {
		t.Fatalf("expected no idle notification while velocity is still enabled, got %d", fe.idleCalls)
	}
	s.SetVelocityStatus(Disabled)
	if fe.idleCalls != 1 {
		t.Fatalf("expected exactly one idle notification once the last kind disables, got %d", fe.idleCalls)
	}
}

func TestSessionStartUnmatchedKindReturnsNoMatchingProvider(t *testing.T) {
	proxy := NewProxyProvider(selection.Selection{})
	fe := &fakeEngine{}
	s := New(proxy, fe)

	if err := s.SetPositionStatus(Enabled); err != ErrNoMatchingProvider {
		t.Fatalf("expected ErrNoMatchingProvider, got %v", err)
	}
}

func TestSessionCloseStopsEnabledKinds(t *testing.T) {
	fp := &fakeProvider{caps: criteria.Capabilities{Features: criteria.FeaturePosition}}
	proxy := newTestProxy(fp)
	fe := &fakeEngine{}
	s := New(proxy, fe)
	s.SetPositionStatus(Enabled)
	s.Close()
	if fp.positionStops != 1 {
		t.Fatalf("expected Close to stop the enabled position kind, got %d stops", fp.positionStops)
	}
}

// newTestProxy constructs a ProxyProvider whose position and velocity
// selections both point at the same fake provider, so tests cover per-kind
// counting independence on a shared backing provider.
func newTestProxy(fp *fakeProvider) *ProxyProvider {
	return NewProxyProvider(selection.Selection{Position: fp, Velocity: fp})
}
