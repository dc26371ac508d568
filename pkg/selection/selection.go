// Package selection implements the default provider selection policy: a
// pure function from (available providers, criteria) to a Selection.
// Structured as a plain scan-and-compare loop rather than a generic sort,
// since each of the three kinds is chosen independently.
package selection

import (
	"gonum.org/v1/gonum/stat"

	"github.com/ubports/locationd/pkg/criteria"
	"github.com/ubports/locationd/pkg/provider"
)

// Candidate is one provider entry as the policy sees it: its declared
// capabilities, its insertion order (for the final tie-break), and whether
// its Requirements are currently permitted by Engine-level policy (satellite
// positioning toggle, wifi/cell reporting toggle, connectivity state).
type Candidate struct {
	Provider provider.Provider
	Order    int
	Permitted bool
}

// Selection is the outcome of running the policy: the chosen provider for
// each of the three independently-selected kinds, or nil if no candidate
// satisfies that kind.
type Selection struct {
	Position provider.Provider
	Heading  provider.Provider
	Velocity provider.Provider
}

// Policy implements the default three-pass selection: filter on
// satisfaction and permission, pick the tightest declared accuracy per
// kind, tie-break by requirements popcount then insertion order.
type Policy struct{}

// Select runs the default policy against candidates for criteria c. Each
// kind is chosen independently against the slice of c relevant to it, so a
// provider set with no heading source still yields a partial selection with
// a position provider; the missing kind surfaces only when a session first
// starts it.
func (Policy) Select(candidates []Candidate, c criteria.Criteria) Selection {
	var sel Selection
	sel.Position = pickForKind(filterEligible(candidates, criteria.FeaturePosition, c), criteria.FeaturePosition, accuracyFor(criteria.FeaturePosition))
	if c.WantsHeading {
		sel.Heading = pickForKind(filterEligible(candidates, criteria.FeatureHeading, c), criteria.FeatureHeading, accuracyFor(criteria.FeatureHeading))
	}
	if c.WantsVelocity {
		sel.Velocity = pickForKind(filterEligible(candidates, criteria.FeatureVelocity, c), criteria.FeatureVelocity, accuracyFor(criteria.FeatureVelocity))
	}
	return sel
}

// filterEligible is pass 1 for one kind: keep only candidates whose
// requirements are currently permitted, that declare the kind, and whose
// declared accuracy meets the bound c requests for that kind.
func filterEligible(candidates []Candidate, kind criteria.Features, c criteria.Criteria) []Candidate {
	var out []Candidate
	for _, cand := range candidates {
		if !cand.Permitted {
			continue
		}
		if !satisfiesKind(providerCapabilities(cand.Provider), kind, c) {
			continue
		}
		out = append(out, cand)
	}
	return out
}

// satisfiesKind checks the slice of c relevant to one kind. A tighter
// (smaller) declared accuracy satisfies a looser or equal requested bound.
func satisfiesKind(caps criteria.Capabilities, kind criteria.Features, c criteria.Criteria) bool {
	if !caps.Features.Has(kind) {
		return false
	}
	switch kind {
	case criteria.FeatureHeading:
		return c.HeadingAccuracy == nil || caps.HeadingAccuracy <= *c.HeadingAccuracy
	case criteria.FeatureVelocity:
		return c.VelocityAccuracy == nil || caps.VelocityAccuracy <= *c.VelocityAccuracy
	default:
		if c.HorizontalAccuracy != nil && caps.HorizontalAccuracy > *c.HorizontalAccuracy {
			return false
		}
		return c.VerticalAccuracy == nil || caps.VerticalAccuracy <= *c.VerticalAccuracy
	}
}

// accuracyFor returns the accessor pulling the declared accuracy relevant to
// kind out of a Provider's capabilities, so pickForKind can stay generic
// over all three kinds.
func accuracyFor(kind criteria.Features) func(criteria.Capabilities) float64 {
	return func(caps criteria.Capabilities) float64 {
		switch kind {
		case criteria.FeatureHeading:
			return caps.HeadingAccuracy.Degrees()
		case criteria.FeatureVelocity:
			return float64(caps.VelocityAccuracy.MetersPerSecond())
		default:
			return caps.HorizontalAccuracy.Meters()
		}
	}
}

// pickForKind runs passes 2 and 3 for a single kind: tightest declared
// accuracy wins; ties broken by lower Requirements popcount, then by
// insertion order.
func pickForKind(eligible []Candidate, kind criteria.Features, accuracy func(criteria.Capabilities) float64) provider.Provider {
	var have []Candidate
	for _, cand := range eligible {
		if cand.Provider.Features().Has(kind) {
			have = append(have, cand)
		}
	}
	if len(have) == 0 {
		return nil
	}

	best := have[0]
	for _, cand := range have[1:] {
		if isTighterOrEarlier(cand, best, accuracy) {
			best = cand
		}
	}
	return best.Provider
}

// isTighterOrEarlier reports whether a should replace b as the current best:
// strictly tighter accuracy first; on a near-tie (stat.Mean-smoothed
// comparison to avoid float noise deciding a tie that isn't really one),
// lower requirements popcount; finally, lower insertion order.
func isTighterOrEarlier(a, b Candidate, accuracy func(criteria.Capabilities) float64) bool {
	aCaps := providerCapabilities(a.Provider)
	bCaps := providerCapabilities(b.Provider)
	aAcc, bAcc := accuracy(aCaps), accuracy(bCaps)

	if !nearlyEqual(aAcc, bAcc) {
		return aAcc < bAcc
	}
	aPop, bPop := aCaps.Requirements.Popcount(), bCaps.Requirements.Popcount()
	if aPop != bPop {
		return aPop < bPop
	}
	return a.Order < b.Order
}

// nearlyEqual compares two accuracy values relative to their mean, so float
// noise never decides a tie that isn't really one.
func nearlyEqual(a, b float64) bool {
	mean := stat.Mean([]float64{a, b}, nil)
	if mean == 0 {
		return a == b
	}
	const relativeTolerance = 1e-9
	diff := a - b
	if diff < 0 {
		diff = -diff
	}
	return diff/mean < relativeTolerance
}

// providerCapabilities narrows a Provider down to its full Capabilities via
// the capabilitiesProvider interface every provider.Base-backed concrete
// type satisfies, falling back to a zero-accuracy struct for anything that
// doesn't. Features and Requirements stay correct either way; the zero
// declared accuracies pass every accuracy bound in filterEligible and tie on
// accuracy in the tie-break.
func providerCapabilities(p provider.Provider) criteria.Capabilities {
	if cp, ok := p.(capabilitiesProvider); ok {
		return cp.Capabilities()
	}
	return criteria.Capabilities{Features: p.Features(), Requirements: p.Requirements()}
}

type capabilitiesProvider interface {
	Capabilities() criteria.Capabilities
}
