package metrics

import (
	"testing"

	"github.com/ubports/locationd/pkg/logx"
)

func TestNewServerRegistersWithoutPanic(t *testing.T) {
	s1 := NewServer(logx.New("error"))
	s2 := NewServer(logx.New("error"))

	s1.ObserveProviderActivation("gpshal", "position")
	s1.ObserveSelectionOutcome("heading", false)
	s1.ObserveHarvesterSubmission(true)
	s1.SetLastFixAccuracy(12.5)
	s1.SetEngineState(2)

	// Independent registries: constructing a second Server must not panic
	// on duplicate metric registration.
	s2.ObserveProviderActivation("dummy", "velocity")
}
