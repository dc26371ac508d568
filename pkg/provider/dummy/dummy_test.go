package dummy

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/ubports/locationd/pkg/criteria"
	"github.com/ubports/locationd/pkg/units"
)

func mustPosition(t *testing.T, lat, lon float64) units.Position {
	t.Helper()
	p, err := units.NewPosition(units.Angle(lat), units.Angle(lon), nil, units.Accuracy{})
	if err != nil {
		t.Fatalf("NewPosition: %v", err)
	}
	return p
}

func TestProviderReplaysScriptAndLoops(t *testing.T) {
	script := Script{
		Positions: []units.Update[units.Position]{
			{Value: mustPosition(t, 1, 1), Timestamp: 1},
			{Value: mustPosition(t, 2, 2), Timestamp: 2},
		},
		Interval: 5 * time.Millisecond,
	}
	p := New(criteria.Capabilities{Features: criteria.FeaturePosition}, script)

	var count int32
	var lastLat float64
	p.PositionUpdates().Subscribe(func(u units.Update[units.Position]) {
		atomic.AddInt32(&count, 1)
		lastLat = u.Value.Latitude.Degrees()
	})

	p.StartPositionUpdates()
	time.Sleep(55 * time.Millisecond)
	p.StopPositionUpdates()

	if atomic.LoadInt32(&count) < 4 {
		t.Fatalf("expected at least 4 replayed updates in ~50ms at 5ms interval, got %d", count)
	}
	if lastLat != 1 && lastLat != 2 {
		t.Fatalf("expected the last update to be one of the scripted positions, got %v", lastLat)
	}
}

func TestProviderStopsReplayOnDeactivate(t *testing.T) {
	script := Script{
		Positions: []units.Update[units.Position]{{Value: mustPosition(t, 1, 1), Timestamp: 1}},
		Interval:  5 * time.Millisecond,
	}
	p := New(criteria.Capabilities{Features: criteria.FeaturePosition}, script)
	var count int32
	p.PositionUpdates().Subscribe(func(units.Update[units.Position]) { atomic.AddInt32(&count, 1) })

	p.StartPositionUpdates()
	time.Sleep(20 * time.Millisecond)
	p.StopPositionUpdates()
	after := atomic.LoadInt32(&count)
	time.Sleep(20 * time.Millisecond)
	if atomic.LoadInt32(&count) != after {
		t.Fatalf("expected no further updates after stop: before=%d after=%d", after, count)
	}
}
