package criteria

import (
	"testing"

	"github.com/ubports/locationd/pkg/units"
)

func TestSatisfiesRejectsMissingFeature(t *testing.T) {
	caps := Capabilities{Features: FeaturePosition}
	c := Criteria{WantsHeading: true}
	if Satisfies(caps, c) {
		t.Fatalf("expected provider without heading feature to fail a heading-requiring criteria")
	}
}

func TestSatisfiesRejectsLooseAccuracy(t *testing.T) {
	want := units.Length(5)
	caps := Capabilities{Features: FeaturePosition, HorizontalAccuracy: 10}
	c := Criteria{HorizontalAccuracy: &want}
	if Satisfies(caps, c) {
		t.Fatalf("expected 10m declared accuracy to fail a 5m request")
	}
}

func TestSatisfiesAcceptsTighterAccuracy(t *testing.T) {
	want := units.Length(10)
	caps := Capabilities{Features: FeaturePosition, HorizontalAccuracy: 5}
	c := Criteria{HorizontalAccuracy: &want}
	if !Satisfies(caps, c) {
		t.Fatalf("expected 5m declared accuracy to satisfy a 10m request")
	}
}

func TestRequirementsPopcount(t *testing.T) {
	r := RequiresSatellites | RequiresCellNetwork
	if got := r.Popcount(); got != 2 {
		t.Fatalf("expected popcount 2, got %d", got)
	}
}

func TestRequiredFeaturesAlwaysIncludesPosition(t *testing.T) {
	c := Criteria{}
	if !c.RequiredFeatures().Has(FeaturePosition) {
		t.Fatalf("expected position to always be required")
	}
}
