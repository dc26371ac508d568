package gpshal

import (
	"testing"

	"github.com/ubports/locationd/pkg/connectivity"
	"github.com/ubports/locationd/pkg/criteria"
	"github.com/ubports/locationd/pkg/logx"
	"github.com/ubports/locationd/pkg/units"
)

type fakeHAL struct {
	starts, stops      int
	injectedLat, injectedLon, injectedAcc float64
	injectLocationCalls int
}

func (f *fakeHAL) Start() error { f.starts++; return nil }
func (f *fakeHAL) Stop() error  { f.stops++; return nil }
func (f *fakeHAL) DeleteAidingData(AidingMask) error { return nil }
func (f *fakeHAL) SetPositionMode(PositionModeRequest) error { return nil }
func (f *fakeHAL) InjectLocation(lat, lon, accuracyM float64) error {
	f.injectLocationCalls++
	f.injectedLat, f.injectedLon, f.injectedAcc = lat, lon, accuracyM
	return nil
}
func (f *fakeHAL) InjectTime(int64, int64, int64) error                 { return nil }
func (f *fakeHAL) InjectReferenceLocation(AGPSReferenceLocation) error { return nil }

func newTestAdapter() (*Adapter, *fakeHAL) {
	hal := &fakeHAL{}
	snap := connectivity.NewSnapshot()
	logger := logx.New("error")
	a := New(hal, snap, logger, Config{Capabilities: criteria.Capabilities{Features: criteria.FeaturePosition | criteria.FeatureHeading | criteria.FeatureVelocity}})
	return a, hal
}

func TestThreeStartsThreeStopsProduceOneDriverStartStop(t *testing.T) {
	a, hal := newTestAdapter()
	a.StartPositionUpdates()
	a.StartPositionUpdates()
	a.StartPositionUpdates()
	if hal.starts != 1 {
		t.Fatalf("expected 1 driver start, got %d", hal.starts)
	}
	a.StopPositionUpdates()
	a.StopPositionUpdates()
	a.StopPositionUpdates()
	if hal.stops != 1 {
		t.Fatalf("expected 1 driver stop, got %d", hal.stops)
	}
}

func TestReferenceLocationInjectedExactlyOnce(t *testing.T) {
	a, hal := newTestAdapter()
	acc := units.Length(10)
	pos, err := units.NewPosition(0, 0, nil, units.Accuracy{Horizontal: &acc})
	if err != nil {
		t.Fatalf("NewPosition: %v", err)
	}
	a.OnReferenceLocationUpdated(pos)
	if hal.injectLocationCalls != 1 {
		t.Fatalf("expected exactly one InjectLocation call, got %d", hal.injectLocationCalls)
	}
	if hal.injectedLat != 0 || hal.injectedLon != 0 || hal.injectedAcc != 10 {
		t.Fatalf("unexpected injected values: lat=%v lon=%v acc=%v", hal.injectedLat, hal.injectedLon, hal.injectedAcc)
	}
}

func TestHALFanOutProducesIndependentUpdates(t *testing.T) {
	a, _ := newTestAdapter()

	var positions []units.Update[units.Position]
	var velocities []units.Update[units.Velocity]
	var headings []units.Update[units.Heading]
	var svs []criteria.SpaceVehicle
	a.PositionUpdates().Subscribe(func(u units.Update[units.Position]) { positions = append(positions, u) })
	a.VelocityUpdates().Subscribe(func(u units.Update[units.Velocity]) { velocities = append(velocities, u) })
	a.HeadingUpdates().Subscribe(func(u units.Update[units.Heading]) { headings = append(headings, u) })
	a.SpaceVehicleUpdates().Subscribe(func(sv criteria.SpaceVehicle) { svs = append(svs, sv) })

	a.HandleLocation(LocationCallback{
		Flags:      FlagLatLong | FlagAccuracy | FlagSpeed | FlagBearing,
		Latitude:   51.5,
		Longitude:  -0.1,
		AccuracyM:  5,
		SpeedMPS:   1.0,
		BearingDeg: 90,
	})

	if len(positions) != 1 {
		t.Fatalf("expected exactly one position update, got %d", len(positions))
	}
	if len(velocities) != 1 || velocities[0].Value != 1.0 {
		t.Fatalf("expected one velocity update of 1.0 m/s, got %v", velocities)
	}
	if len(headings) != 1 || headings[0].Value != 90 {
		t.Fatalf("expected one heading update of 90 degrees, got %v", headings)
	}
	if len(svs) != 0 {
		t.Fatalf("expected no SV update from a location-only callback, got %d", len(svs))
	}
}

func TestHALFanOutSkipsWithoutLatLong(t *testing.T) {
	a, _ := newTestAdapter()
	var positions []units.Update[units.Position]
	a.PositionUpdates().Subscribe(func(u units.Update[units.Position]) { positions = append(positions, u) })
	a.HandleLocation(LocationCallback{Flags: FlagSpeed, SpeedMPS: 3})
	if len(positions) != 0 {
		t.Fatalf("expected no position update without the lat_long flag")
	}
}

func TestSVStatusPreservesAzimuthElevationSwap(t *testing.T) {
	a, _ := newTestAdapter()
	a.HandleSVStatus([]SVCallbackEntry{
		{PRN: 1, SNR: 40, Azimuth: 10, Elevation: 50},
	}, 0b1, 0b1, 0b1)

	key := criteria.SpaceVehicleKey{Constellation: criteria.ConstellationGPS, PRN: 1}
	a.svMu.Lock()
	sv := a.svState[key]
	a.svMu.Unlock()

	if sv.Azimuth.Degrees() != 50 || sv.Elevation.Degrees() != 10 {
		t.Fatalf("expected azimuth/elevation swap preserved (az=50,el=10), got az=%v el=%v", sv.Azimuth, sv.Elevation)
	}
	if !sv.HasAlmanac || !sv.HasEphemeris || !sv.UsedInFix {
		t.Fatalf("expected all three bitmask flags set for PRN 1, got %+v", sv)
	}
}

type refLocationFakeHAL struct {
	fakeHAL
	injectReferenceCalls int
}

func (f *refLocationFakeHAL) InjectReferenceLocation(AGPSReferenceLocation) error {
	f.injectReferenceCalls++
	return nil
}

func TestReferenceLocationRILInactiveByDefault(t *testing.T) {
	hal := &refLocationFakeHAL{}
	snap := connectivity.NewSnapshot()
	snap.AddCell("a", connectivity.RadioCell{Technology: connectivity.RadioGSM, MCC: 1, MNC: 1, LAC: 1, CID: 1})
	a := New(hal, snap, logx.New("error"), Config{})
	a.HandleRequestReferenceLocation()
	if hal.injectReferenceCalls != 0 {
		t.Fatalf("expected no reference-location injection until explicitly enabled, got %d calls", hal.injectReferenceCalls)
	}

	a.EnableReferenceLocationInjection(true)
	a.HandleRequestReferenceLocation()
	if hal.injectReferenceCalls != 1 {
		t.Fatalf("expected one reference-location injection once enabled, got %d calls", hal.injectReferenceCalls)
	}
}
