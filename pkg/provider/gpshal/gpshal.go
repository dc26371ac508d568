// Package gpshal adapts the vendor GPS hardware-abstraction-layer contract
// into a provider.Provider. The vendor driver itself lives behind the HAL
// interface below, so a concrete build links a real vendor shim and tests
// substitute a fake.
package gpshal

import (
	"sync"
	"time"

	"github.com/ubports/locationd/pkg/connectivity"
	"github.com/ubports/locationd/pkg/criteria"
	"github.com/ubports/locationd/pkg/locerr"
	"github.com/ubports/locationd/pkg/logx"
	"github.com/ubports/locationd/pkg/provider"
	"github.com/ubports/locationd/pkg/units"
)

// Capability bits reported by the vendor driver's capabilities callback.
const (
	CapabilityScheduling    = 0x01
	CapabilityMSB           = 0x02
	CapabilityMSA           = 0x04
	CapabilityOnDemandTime  = 0x10
	CapabilityGeofence      = 0x20
	DefaultEngineCapability = CapabilityScheduling | CapabilityMSB | CapabilityMSA | CapabilityOnDemandTime | CapabilityGeofence // 0x33
)

// AssistanceMode is the negotiated AGPS assistance mode.
type AssistanceMode int

const (
	AssistanceStandalone AssistanceMode = iota
	AssistanceMobileStationAssisted
	AssistanceMobileStationBased
)

// PositionMode is the negotiated fix recurrence mode.
type PositionMode int

const (
	PositionSingleShot PositionMode = iota
	PositionPeriodic
)

// PositionModeRequest is the argument to HAL.SetPositionMode.
type PositionModeRequest struct {
	Assistance         AssistanceMode
	Recurrence         PositionMode
	MinIntervalMS      int
	PreferredAccuracyM float64
	PreferredTTFFMs    int
}

// AidingMask selects which aiding data to delete on HAL.DeleteAidingData.
type AidingMask uint32

// AGPSReferenceLocation is the (mcc, mnc, lac, cid) tuple injected for GSM/
// UMTS cells via HAL.InjectReferenceLocation.
type AGPSReferenceLocation struct {
	MCC, MNC, LAC, CID int
}

// HAL is the vendor driver contract the adapter depends on.
type HAL interface {
	Start() error
	Stop() error
	DeleteAidingData(mask AidingMask) error
	SetPositionMode(req PositionModeRequest) error
	InjectLocation(lat, lon, accuracyM float64) error
	InjectTime(refNs, sampleNs, uncertaintyNs int64) error
	InjectReferenceLocation(ref AGPSReferenceLocation) error
}

// LocationFlags marks which fields a HAL location callback populated.
type LocationFlags uint8

const (
	FlagLatLong LocationFlags = 1 << iota
	FlagAltitude
	FlagSpeed
	FlagBearing
	FlagAccuracy
)

// LocationCallback is the raw shape of a vendor location callback delivery.
type LocationCallback struct {
	Flags     LocationFlags
	Latitude  float64
	Longitude float64
	AltitudeM float64
	SpeedMPS  float64
	BearingDeg float64
	AccuracyM float64
	TimestampNs int64
}

// SVCallbackEntry is one entry of a vendor SV-status callback's flat list,
// indexed by (PRN - 1) in the bitmasks the caller supplies separately.
type SVCallbackEntry struct {
	PRN       int
	SNR       float64
	Azimuth   float64
	Elevation float64
}

// AGPSStatusType distinguishes SUPL from other (e.g. C2K) assistance types
// the agps_status callback can report.
type AGPSStatusType int

const (
	AGPSStatusSUPL AGPSStatusType = iota
	AGPSStatusOther
)

// DataConnectionEvent is one of the three notifications the surrounding
// system emits for the SUPL assistant sub-object.
type DataConnectionEvent int

const (
	DataConnectionOpened DataConnectionEvent = iota
	DataConnectionClosed
	DataConnectionUnavailable
)

// SUPLAssistant carries the SUPL status and server IP the AGPS status
// callback reports.
type SUPLAssistant struct {
	Status   string
	ServerIP string
}

// UTCTimeHandler, if installed, answers request_utc_time callbacks instead
// of the adapter's now/now/0 default.
type UTCTimeHandler func() (refNs, sampleNs, uncertaintyNs int64)

// Adapter binds the vendor HAL contract to a provider.Provider.
type Adapter struct {
	*provider.Base

	hal          HAL
	logger       *logx.Logger
	connectivity *connectivity.Snapshot
	timeout      time.Duration

	mu                 sync.Mutex
	capabilitiesLatched bool
	capabilities        uint32

	utcHandler UTCTimeHandler
	supl       SUPLAssistant

	// agpsRILEnabled gates the reference-location injection path,
	// inactive by default. TODO: confirm with the modem team whether the
	// RIL path is required and flip the default.
	agpsRILEnabled bool

	// svState is the deduplicated (constellation, prn) -> SpaceVehicle
	// map the SV fan-out builds.
	svMu    sync.Mutex
	svState map[criteria.SpaceVehicleKey]criteria.SpaceVehicle
}

// Config configures a new Adapter.
type Config struct {
	Capabilities criteria.Capabilities
	Timeout      time.Duration // stored on the Adapter, default 1s; HAL calls are made synchronously and are not bounded by it
}

// New constructs an Adapter bound to hal, logging through logger and
// consulting snap for AGPS RIL reference-location injection.
func New(hal HAL, snap *connectivity.Snapshot, logger *logx.Logger, cfg Config) *Adapter {
	if cfg.Timeout == 0 {
		cfg.Timeout = time.Second
	}
	a := &Adapter{
		hal:          hal,
		logger:       logger,
		connectivity: snap,
		timeout:      cfg.Timeout,
		svState:      make(map[criteria.SpaceVehicleKey]criteria.SpaceVehicle),
	}
	a.Base = provider.NewBase(cfg.Capabilities, a)
	return a
}

// Name labels this provider in logs and metrics.
func (a *Adapter) Name() string { return "gps" }

// SetUTCTimeHandler installs a handler answering request_utc_time callbacks.
func (a *Adapter) SetUTCTimeHandler(h UTCTimeHandler) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.utcHandler = h
}

// EnableReferenceLocationInjection turns on the AGPS RIL path (see
// agpsRILEnabled doc above). Off by default.
func (a *Adapter) EnableReferenceLocationInjection(enabled bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.agpsRILEnabled = enabled
}

// OnActive starts the vendor driver on the first kind activated across
// position/heading/velocity. The HAL has no separate knobs per kind: one
// start produces all three streams conditionally.
func (a *Adapter) OnActive(provider.Kind) {
	if countActive(a.Base.Counter) > 1 {
		// driver already running to serve another kind
		return
	}
	if err := a.hal.Start(); err != nil {
		a.logger.Error("gps hal start failed", "error", err.Error())
	}
}

// OnInactive stops the vendor driver once no kind remains active.
func (a *Adapter) OnInactive(provider.Kind) {
	if countActive(a.Base.Counter) > 0 {
		return
	}
	if err := a.hal.Stop(); err != nil {
		a.logger.Error("gps hal stop failed", "error", err.Error())
	}
}

func countActive(c *provider.ActivationCounter) int {
	n := 0
	for _, k := range []provider.Kind{provider.KindPosition, provider.KindHeading, provider.KindVelocity} {
		if c.Active(k) {
			n++
		}
	}
	return n
}

// OnReferenceLocationUpdated injects a fused position hint into the driver.
func (a *Adapter) OnReferenceLocationUpdated(pos units.Position) {
	accM := 0.0
	if pos.Accuracy.Horizontal != nil {
		accM = pos.Accuracy.Horizontal.Meters()
	}
	if err := a.hal.InjectLocation(pos.Latitude.Degrees(), pos.Longitude.Degrees(), accM); err != nil {
		a.logger.Warn("gps hal inject location failed", "error", err.Error())
	}
}

// OnReferenceVelocityUpdated is accepted but ignored: the vendor HAL
// exposes no velocity-hint injection call.
func (a *Adapter) OnReferenceVelocityUpdated(units.Velocity) {}

// OnReferenceHeadingUpdated is accepted but currently ignored, symmetric
// with OnReferenceVelocityUpdated.
func (a *Adapter) OnReferenceHeadingUpdated(units.Heading) {}

// OnWifiAndCellReportingStateChanged is a side-channel policy notification;
// the HAL adapter itself has no behavior gated on it. The Engine gates
// provider activation instead.
func (a *Adapter) OnWifiAndCellReportingStateChanged(bool) {}

// ErrUnsupportedMode is returned when a requested mode is incompatible with
// the latched capability bitset.
var ErrUnsupportedMode = locerr.New(locerr.KindUnsupportedMode, "gpshal")

// HandleSetCapabilities latches the first set_capabilities callback. Later
// callbacks are ignored: the bitset is defined to latch once.
func (a *Adapter) HandleSetCapabilities(bits uint32) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.capabilitiesLatched {
		return
	}
	a.capabilities = bits
	a.capabilitiesLatched = true
}

// RequestPositionMode validates req against the latched capability bitset
// and forwards it to the HAL.
func (a *Adapter) RequestPositionMode(req PositionModeRequest) error {
	a.mu.Lock()
	caps := a.capabilities
	latched := a.capabilitiesLatched
	a.mu.Unlock()

	if latched {
		if req.Assistance == AssistanceMobileStationBased && caps&CapabilityMSB == 0 {
			return ErrUnsupportedMode
		}
		if req.Assistance == AssistanceMobileStationAssisted && caps&CapabilityMSA == 0 {
			return ErrUnsupportedMode
		}
		if req.Recurrence == PositionPeriodic && caps&CapabilityScheduling == 0 {
			return ErrUnsupportedMode
		}
	}
	return a.hal.SetPositionMode(req)
}

// HandleLocation fans a vendor location callback out into up to three
// independent, conditional emissions: a Position only when lat_long is
// flagged, a Velocity when speed is flagged, a Heading when bearing is.
func (a *Adapter) HandleLocation(cb LocationCallback) {
	if cb.Flags&FlagLatLong == 0 {
		return
	}

	var alt *units.Length
	if cb.Flags&FlagAltitude != 0 {
		v := units.Length(cb.AltitudeM)
		alt = &v
	}
	var acc units.Accuracy
	if cb.Flags&FlagAccuracy != 0 {
		h := units.Length(cb.AccuracyM)
		acc.Horizontal = &h
	}

	pos, err := units.NewPosition(units.Angle(cb.Latitude), units.Angle(cb.Longitude), alt, acc)
	if err != nil {
		a.logger.Debug("gps hal dropped invalid position", "error", err.Error())
		return
	}
	a.EmitPosition(units.Update[units.Position]{Value: pos, Timestamp: cb.TimestampNs})

	if cb.Flags&FlagSpeed != 0 {
		a.EmitVelocity(units.Update[units.Velocity]{Value: units.Velocity(cb.SpeedMPS), Timestamp: cb.TimestampNs})
	}
	if cb.Flags&FlagBearing != 0 {
		a.EmitHeading(units.Update[units.Heading]{Value: units.Heading(cb.BearingDeg), Timestamp: cb.TimestampNs})
	}
}

// HandleSVStatus builds the deduplicated (constellation=gps, prn) -> SV map
// from a flat vendor SV list plus parallel almanac/ephemeris/used-in-fix
// bitmasks indexed by (prn-1).
//
// The vendor stack this was written against delivers azimuth and elevation
// swapped; the swap is reproduced here verbatim rather than silently
// corrected, and nothing downstream in this repository swaps them back. TODO: drop the swap once the
// vendor confirms a fixed driver build.
func (a *Adapter) HandleSVStatus(entries []SVCallbackEntry, almanacMask, ephemerisMask, usedInFixMask uint32) {
	a.svMu.Lock()
	defer a.svMu.Unlock()

	for _, e := range entries {
		bit := uint32(1) << uint(e.PRN-1)
		key := criteria.SpaceVehicleKey{Constellation: criteria.ConstellationGPS, PRN: e.PRN}
		sv := criteria.SpaceVehicle{
			Key:          key,
			SNR:          e.SNR,
			HasAlmanac:   almanacMask&bit != 0,
			HasEphemeris: ephemerisMask&bit != 0,
			UsedInFix:    usedInFixMask&bit != 0,
			Azimuth:      units.Angle(e.Elevation), // preserved swap, see doc above
			Elevation:    units.Angle(e.Azimuth),   // preserved swap, see doc above
		}
		a.svState[key] = sv
		a.SpaceVehicleSignal.Emit(sv)
	}
}

// HandleAGPSStatus translates an agps_status callback into SUPL assistant
// state, or logs and drops non-SUPL (e.g. C2K) status types.
func (a *Adapter) HandleAGPSStatus(statusType AGPSStatusType, status, serverIP string) {
	if statusType != AGPSStatusSUPL {
		a.logger.Debug("gps hal dropped non-SUPL agps status", "type", statusType)
		return
	}
	a.mu.Lock()
	a.supl.Status = status
	a.supl.ServerIP = serverIP
	a.mu.Unlock()
}

// HandleDataConnectionEvent records a SUPL data-connection notification.
// The vendor contract has no dedicated data-connection HAL call, only the
// AGPS reference-location and time-injection paths the connection state
// gates, so the bookkeeping here is log-only.
func (a *Adapter) HandleDataConnectionEvent(event DataConnectionEvent, apn string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	switch event {
	case DataConnectionOpened:
		a.logger.Debug("supl data connection opened", "apn", apn)
	case DataConnectionClosed:
		a.logger.Debug("supl data connection closed", "apn", apn)
	case DataConnectionUnavailable:
		a.logger.Debug("supl data connection unavailable")
	}
}

// HandleRequestUTCTime answers a request_utc_time callback: the installed
// handler if present, else (now, now, uncertainty=0).
func (a *Adapter) HandleRequestUTCTime(now func() int64) {
	a.mu.Lock()
	h := a.utcHandler
	a.mu.Unlock()

	var refNs, sampleNs, uncertaintyNs int64
	if h != nil {
		refNs, sampleNs, uncertaintyNs = h()
	} else {
		n := now()
		refNs, sampleNs, uncertaintyNs = n, n, 0
	}
	if err := a.hal.InjectTime(refNs, sampleNs, uncertaintyNs); err != nil {
		a.logger.Warn("gps hal inject time failed", "error", err.Error())
	}
}

// HandleRequestReferenceLocation answers an AGPS RIL reference-location
// request by reading the current connectivity snapshot and injecting a
// visible GSM cell's (mcc, mnc, lac, cid), or a UMTS cell's if no GSM cell
// is visible; other cell types are skipped, and a debug line is logged when
// no GSM/UMTS cell is visible. Inactive unless
// EnableReferenceLocationInjection(true) was called.
func (a *Adapter) HandleRequestReferenceLocation() {
	a.mu.Lock()
	enabled := a.agpsRILEnabled
	a.mu.Unlock()
	if !enabled {
		return
	}

	for _, tech := range []connectivity.RadioTechnology{connectivity.RadioGSM, connectivity.RadioUMTS} {
		if cell, ok := a.connectivity.FirstCellOfType(tech); ok {
			if err := a.hal.InjectReferenceLocation(AGPSReferenceLocation{MCC: cell.MCC, MNC: cell.MNC, LAC: cell.LAC, CID: cell.CID}); err != nil {
				a.logger.Warn("gps hal inject reference location failed", "error", err.Error())
			}
			return
		}
	}
	a.logger.Debug("no GSM/UMTS cell visible for reference-location injection")
}
