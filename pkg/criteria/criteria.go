// Package criteria defines the quality-bound vocabulary clients declare when
// opening a Session, and the capability/requirement bitsets Providers
// declare so the selection policy (pkg/selection) can match the two.
package criteria

import "github.com/ubports/locationd/pkg/units"

// Features is a bitset over the kinds of update a Provider can produce.
type Features uint8

const (
	FeaturePosition Features = 1 << iota
	FeatureHeading
	FeatureVelocity
)

// Has reports whether all bits of want are set in f.
func (f Features) Has(want Features) bool { return f&want == want }

// Requirements is a bitset over resources/permissions a Provider needs
// before the Engine is allowed to activate it.
type Requirements uint8

const (
	RequiresSatellites Requirements = 1 << iota
	RequiresCellNetwork
	RequiresDataNetwork
	RequiresMonetarySpend
)

// Has reports whether all bits of want are set in r.
func (r Requirements) Has(want Requirements) bool { return r&want == want }

// Popcount returns the number of set requirement bits, used by the default
// selection policy as a prefer-cheapest tie-break.
func (r Requirements) Popcount() int {
	n := 0
	for r != 0 {
		n += int(r & 1)
		r >>= 1
	}
	return n
}

// PowerRequirement is a non-binding hint a client may supply. It is never a
// filter, and the default selection policy (pkg/selection) does not read it.
type PowerRequirement int

const (
	PowerNoRequirement PowerRequirement = iota
	PowerLow
	PowerHighAccuracy
)

// Criteria declares a client's requested quality bounds. A nil accuracy
// bound means "no bound requested" for that axis.
type Criteria struct {
	HorizontalAccuracy *units.Length
	VerticalAccuracy   *units.Length
	VelocityAccuracy   *units.Velocity
	HeadingAccuracy    *units.Angle

	WantsHeading        bool
	WantsVelocity       bool
	WantsSpaceVehicles  bool
	PowerRequirement    PowerRequirement
}

// RequiredFeatures reports which Features this Criteria requires a
// selection to cover. Position is always implicitly required: a Session
// with no interest in a fix at all isn't meaningful in this system.
func (c Criteria) RequiredFeatures() Features {
	f := FeaturePosition
	if c.WantsHeading {
		f |= FeatureHeading
	}
	if c.WantsVelocity {
		f |= FeatureVelocity
	}
	return f
}

// Capabilities is what a Provider declares about itself: which Features it
// can produce and how accurate each one is. Declared once at construction
// and immutable thereafter.
type Capabilities struct {
	Features            Features
	Requirements        Requirements
	HorizontalAccuracy  units.Length
	VerticalAccuracy    units.Length
	VelocityAccuracy    units.Velocity
	HeadingAccuracy     units.Angle
}

// Satisfies reports whether a Provider with caps meets every bound c
// requests. A tighter (smaller) declared accuracy value satisfies a looser
// (larger) or equal requested bound.
func Satisfies(caps Capabilities, c Criteria) bool {
	if !caps.Features.Has(c.RequiredFeatures()) {
		return false
	}
	if c.HorizontalAccuracy != nil && caps.HorizontalAccuracy > *c.HorizontalAccuracy {
		return false
	}
	if c.VerticalAccuracy != nil && caps.VerticalAccuracy > *c.VerticalAccuracy {
		return false
	}
	if c.WantsVelocity && c.VelocityAccuracy != nil && caps.VelocityAccuracy > *c.VelocityAccuracy {
		return false
	}
	if c.WantsHeading && c.HeadingAccuracy != nil && caps.HeadingAccuracy > *c.HeadingAccuracy {
		return false
	}
	return true
}

// ConstellationKind distinguishes satellite systems for SpaceVehicle keys.
type ConstellationKind int

const (
	ConstellationGPS ConstellationKind = iota
	ConstellationGLONASS
	ConstellationGalileo
	ConstellationBeiDou
)

// SpaceVehicleKey uniquely identifies a space vehicle within the Engine's map.
type SpaceVehicleKey struct {
	Constellation ConstellationKind
	PRN           int
}

// SpaceVehicle is a single tracked satellite and its current fix-relevant state.
type SpaceVehicle struct {
	Key          SpaceVehicleKey
	SNR          float64
	HasAlmanac   bool
	HasEphemeris bool
	UsedInFix    bool
	Azimuth      units.Angle
	Elevation    units.Angle
}

// InFixRatio is a derived, never-stored convenience value for diagnostic
// logging: 1.0 if the SV contributed to the current fix, else 0.0.
func (sv SpaceVehicle) InFixRatio() float64 {
	if sv.UsedInFix {
		return 1.0
	}
	return 0.0
}
