package mqtttelemetry

import (
	"testing"

	"github.com/ubports/locationd/pkg/logx"
	"github.com/ubports/locationd/pkg/units"
)

func TestDisabledPublisherIsNoop(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = false
	p := NewPublisher(cfg, logx.New("error"))

	if err := p.Connect(); err != nil {
		t.Fatalf("Connect on disabled publisher returned error: %v", err)
	}

	pos, err := units.NewPosition(units.Angle(51.5), units.Angle(-0.1), nil, units.Accuracy{})
	if err != nil {
		t.Fatalf("NewPosition: %v", err)
	}
	if err := p.PublishFix(units.Update[units.Position]{Value: pos, Timestamp: 1}); err != nil {
		t.Fatalf("PublishFix on disabled publisher returned error: %v", err)
	}
	if err := p.PublishEngineState("active"); err != nil {
		t.Fatalf("PublishEngineState on disabled publisher returned error: %v", err)
	}
}
