package harvester

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ubports/locationd/pkg/connectivity"
	"github.com/ubports/locationd/pkg/harvester/reporter"
	"github.com/ubports/locationd/pkg/locerr"
	"github.com/ubports/locationd/pkg/logx"
	"github.com/ubports/locationd/pkg/observable"
	"github.com/ubports/locationd/pkg/units"
)

type fakeReporter struct {
	mu      sync.Mutex
	calls   int
	fail    bool
	failErr error
	block   chan struct{}
}

func (f *fakeReporter) Submit(ctx context.Context, batch reporter.Batch) error {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.fail {
		if f.failErr != nil {
			return f.failErr
		}
		return context.DeadlineExceeded
	}
	return nil
}

func (f *fakeReporter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type alwaysOn bool

func (a alwaysOn) Get() bool { return bool(a) }

type toggleGate struct{ on atomic.Bool }

func (g *toggleGate) Get() bool { return g.on.Load() }

func newPosition(t *testing.T, lat, lon float64, ts int64) units.Update[units.Position] {
	t.Helper()
	pos, err := units.NewPosition(units.Angle(lat), units.Angle(lon), nil, units.Accuracy{})
	if err != nil {
		t.Fatalf("NewPosition: %v", err)
	}
	return units.Update[units.Position]{Value: pos, Timestamp: ts}
}

func TestHarvesterSubmitsWhenReportingOnAndStarted(t *testing.T) {
	positions := observable.NewProperty[*units.Update[units.Position]](nil)
	rep := &fakeReporter{}
	h := New(positions, alwaysOn(true), connectivity.NewSnapshot(), rep, logx.New("error"))
	h.Start()

	u := newPosition(t, 1, 2, 100)
	positions.Set(&u)

	deadline := time.Now().Add(time.Second)
	for rep.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if rep.count() != 1 {
		t.Fatalf("Submit called %d times, want 1", rep.count())
	}
}

func TestHarvesterGatedByReportingState(t *testing.T) {
	positions := observable.NewProperty[*units.Update[units.Position]](nil)
	rep := &fakeReporter{}
	h := New(positions, alwaysOn(false), connectivity.NewSnapshot(), rep, logx.New("error"))
	h.Start()

	u := newPosition(t, 1, 2, 100)
	positions.Set(&u)
	time.Sleep(20 * time.Millisecond)
	if rep.count() != 0 {
		t.Fatalf("Submit called %d times with reporting off, want 0", rep.count())
	}
}

func TestHarvesterSubmitsAfterReportingToggledOn(t *testing.T) {
	positions := observable.NewProperty[*units.Update[units.Position]](nil)
	rep := &fakeReporter{}
	gate := &toggleGate{}
	h := New(positions, gate, connectivity.NewSnapshot(), rep, logx.New("error"))
	h.Start()

	u1 := newPosition(t, 1, 2, 100)
	positions.Set(&u1)
	time.Sleep(20 * time.Millisecond)
	if rep.count() != 0 {
		t.Fatalf("Submit called %d times with reporting off, want 0", rep.count())
	}

	gate.on.Store(true)
	u2 := newPosition(t, 3, 4, 200)
	positions.Set(&u2)

	deadline := time.Now().Add(time.Second)
	for rep.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if rep.count() != 1 {
		t.Fatalf("Submit called %d times after toggling reporting on, want exactly 1", rep.count())
	}
}

func TestHarvesterCoalescesInFlight(t *testing.T) {
	positions := observable.NewProperty[*units.Update[units.Position]](nil)
	rep := &fakeReporter{block: make(chan struct{})}
	h := New(positions, alwaysOn(true), connectivity.NewSnapshot(), rep, logx.New("error"))
	h.Start()

	u1 := newPosition(t, 1, 2, 100)
	positions.Set(&u1)
	time.Sleep(10 * time.Millisecond) // ensure first submission has started and is blocked

	u2 := newPosition(t, 3, 4, 200)
	positions.Set(&u2) // dropped: a submission is already in flight
	close(rep.block)

	deadline := time.Now().Add(time.Second)
	for rep.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	time.Sleep(20 * time.Millisecond)
	if rep.count() != 1 {
		t.Fatalf("Submit called %d times, want exactly 1 (coalesced)", rep.count())
	}
}

type countObserver struct{ ok, failed atomic.Int32 }

func (c *countObserver) ObserveHarvesterSubmission(ok bool) {
	if ok {
		c.ok.Add(1)
	} else {
		c.failed.Add(1)
	}
}

func TestHarvesterObserverSeesSubmissionOutcomes(t *testing.T) {
	positions := observable.NewProperty[*units.Update[units.Position]](nil)
	rep := &fakeReporter{}
	h := New(positions, alwaysOn(true), connectivity.NewSnapshot(), rep, logx.New("error"))
	obs := &countObserver{}
	h.SetObserver(obs)
	h.Start()

	u := newPosition(t, 1, 2, 100)
	positions.Set(&u)

	deadline := time.Now().Add(time.Second)
	for obs.ok.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if obs.ok.Load() != 1 || obs.failed.Load() != 0 {
		t.Fatalf("observer saw ok=%d failed=%d, want ok=1 failed=0", obs.ok.Load(), obs.failed.Load())
	}
}

func TestHarvesterStartStopIdempotent(t *testing.T) {
	positions := observable.NewProperty[*units.Update[units.Position]](nil)
	rep := &fakeReporter{}
	h := New(positions, alwaysOn(true), connectivity.NewSnapshot(), rep, logx.New("error"))
	h.Start()
	h.Start()
	h.Stop()
	h.Stop()

	u := newPosition(t, 1, 2, 100)
	positions.Set(&u)
	time.Sleep(20 * time.Millisecond)
	if rep.count() != 0 {
		t.Fatalf("Submit called %d times after Stop, want 0", rep.count())
	}
}

func TestHarvesterDropsOnFailureAndAcceptsNext(t *testing.T) {
	positions := observable.NewProperty[*units.Update[units.Position]](nil)
	rep := &fakeReporter{fail: true}
	h := New(positions, alwaysOn(true), connectivity.NewSnapshot(), rep, logx.New("error"))
	h.Start()

	u1 := newPosition(t, 1, 2, 100)
	positions.Set(&u1)
	time.Sleep(20 * time.Millisecond)

	u2 := newPosition(t, 3, 4, 200)
	positions.Set(&u2)
	time.Sleep(20 * time.Millisecond)

	if rep.count() != 2 {
		t.Fatalf("Submit called %d times, want 2 (failure doesn't block the next update)", rep.count())
	}
}

func TestHarvesterStopsOnPermanentReporterFailure(t *testing.T) {
	positions := observable.NewProperty[*units.Update[units.Position]](nil)
	rep := &fakeReporter{fail: true, failErr: locerr.New(locerr.KindReporterPermanent, "api key revoked")}
	h := New(positions, alwaysOn(true), connectivity.NewSnapshot(), rep, logx.New("error"))
	h.Start()

	u1 := newPosition(t, 1, 2, 100)
	positions.Set(&u1)
	time.Sleep(20 * time.Millisecond)

	u2 := newPosition(t, 3, 4, 200)
	positions.Set(&u2)
	time.Sleep(20 * time.Millisecond)

	if rep.count() != 1 {
		t.Fatalf("Submit called %d times, want 1: a permanent failure stops harvesting", rep.count())
	}
}
