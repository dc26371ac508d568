// Package connectivity models the radio environment the GPS HAL's AGPS
// reference-location path and the Harvester both consume: visible cells,
// visible Wi-Fi access points, and an online/offline/portal summary. The
// snapshot is eventually consistent: arrivals/departures are delivered via
// add/remove signals, and a consumer may briefly observe both pre- and
// post-state.
package connectivity

import (
	"strings"
	"sync"

	"github.com/ubports/locationd/pkg/observable"
)

// OnlineState summarizes the device's internet reachability.
type OnlineState int

const (
	StateOffline OnlineState = iota
	StateOnline
	StatePortal // captive-portal: connected to a network but not the internet
)

// RadioTechnology distinguishes the GSM/UMTS/LTE/CDMA cell variants the HAL
// reference-location path branches on.
type RadioTechnology int

const (
	RadioGSM RadioTechnology = iota
	RadioUMTS
	RadioLTE
	RadioCDMA
)

// RadioCell is a tagged variant over GSM/UMTS/LTE/CDMA, each technology
// carrying its own identifiers alongside the common MCC/MNC pair. Only the
// fields matching Technology are meaningful.
type RadioCell struct {
	Technology RadioTechnology
	MCC        int
	MNC        int

	// GSM/UMTS
	LAC int
	CID int

	// LTE
	TAC   int
	ECI   int
	PCI   int
	EARFCN int

	// CDMA
	NetworkID  int
	SystemID   int
	BaseStationID int

	SignalStrengthDBM int
}

// WirelessNetwork is one visible Wi-Fi access point.
type WirelessNetwork struct {
	SSID        []byte
	BSSID       string // hex-normalized, lower-case, colon-separated
	FrequencyMHz int
	Mode        string
	StrengthDBM int8
}

// NormalizeBSSID lower-cases and colon-separates a raw 12-hex-digit or
// already-colon-separated MAC so every caller gets the same canonical form.
func NormalizeBSSID(raw string) string {
	hex := strings.ToLower(strings.ReplaceAll(raw, ":", ""))
	hex = strings.ReplaceAll(hex, "-", "")
	if len(hex) != 12 {
		return strings.ToLower(raw)
	}
	var b strings.Builder
	for i := 0; i < 12; i += 2 {
		if i > 0 {
			b.WriteByte(':')
		}
		b.WriteString(hex[i : i+2])
	}
	return b.String()
}

// FrequencyMHzFromHz converts the driver's Hz reading to MHz.
func FrequencyMHzFromHz(hz int) int { return hz / 1_000_000 }

// Snapshot is the read-only connectivity view Engine, Harvester, and the GPS
// HAL's RIL path all consume.
type Snapshot struct {
	State observable.Property[OnlineState]

	cellsMu sync.Mutex
	cells   map[string]RadioCell // keyed by a caller-assigned stable ID

	apsMu sync.Mutex
	aps   map[string]WirelessNetwork

	CellAdded   observable.Signal[RadioCell]
	CellRemoved observable.Signal[RadioCell]
	APAdded     observable.Signal[WirelessNetwork]
	APRemoved   observable.Signal[WirelessNetwork]
}

// NewSnapshot constructs an empty Snapshot. The zero State is offline.
func NewSnapshot() *Snapshot {
	return &Snapshot{
		cells: make(map[string]RadioCell),
		aps:   make(map[string]WirelessNetwork),
	}
}

// AddCell records a newly visible cell and emits CellAdded.
func (s *Snapshot) AddCell(id string, cell RadioCell) {
	s.cellsMu.Lock()
	s.cells[id] = cell
	s.cellsMu.Unlock()
	s.CellAdded.Emit(cell)
}

// RemoveCell forgets a cell that is no longer visible and emits CellRemoved.
func (s *Snapshot) RemoveCell(id string) {
	s.cellsMu.Lock()
	cell, ok := s.cells[id]
	delete(s.cells, id)
	s.cellsMu.Unlock()
	if ok {
		s.CellRemoved.Emit(cell)
	}
}

// VisibleRadioCells returns a snapshot copy of the currently visible cells.
func (s *Snapshot) VisibleRadioCells() []RadioCell {
	s.cellsMu.Lock()
	defer s.cellsMu.Unlock()
	out := make([]RadioCell, 0, len(s.cells))
	for _, c := range s.cells {
		out = append(out, c)
	}
	return out
}

// AddAccessPoint records a newly visible AP and emits APAdded.
func (s *Snapshot) AddAccessPoint(id string, ap WirelessNetwork) {
	s.apsMu.Lock()
	s.aps[id] = ap
	s.apsMu.Unlock()
	s.APAdded.Emit(ap)
}

// RemoveAccessPoint forgets an AP no longer visible and emits APRemoved.
func (s *Snapshot) RemoveAccessPoint(id string) {
	s.apsMu.Lock()
	ap, ok := s.aps[id]
	delete(s.aps, id)
	s.apsMu.Unlock()
	if ok {
		s.APRemoved.Emit(ap)
	}
}

// VisibleWirelessNetworks returns a snapshot copy of the currently visible APs.
func (s *Snapshot) VisibleWirelessNetworks() []WirelessNetwork {
	s.apsMu.Lock()
	defer s.apsMu.Unlock()
	out := make([]WirelessNetwork, 0, len(s.aps))
	for _, a := range s.aps {
		out = append(out, a)
	}
	return out
}

// FirstCellOfType returns a visible cell matching tech, used by the GPS
// HAL's AGPS reference-location injection, which only understands GSM and
// UMTS cells. Cells are held in a map, so which one is returned when several
// match is not defined.
func (s *Snapshot) FirstCellOfType(tech RadioTechnology) (RadioCell, bool) {
	s.cellsMu.Lock()
	defer s.cellsMu.Unlock()
	for _, c := range s.cells {
		if c.Technology == tech {
			return c, true
		}
	}
	return RadioCell{}, false
}
