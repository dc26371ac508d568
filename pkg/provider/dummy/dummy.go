// Package dummy implements a deterministic, scripted Provider used by tests
// and registered by the locationd binary as a stand-in position source in
// place of real hardware.
package dummy

import (
	"sync"
	"time"

	"github.com/ubports/locationd/pkg/criteria"
	"github.com/ubports/locationd/pkg/provider"
	"github.com/ubports/locationd/pkg/units"
)

// Script is a fixed, ordered sequence of position updates a Provider replays
// once per Interval while active.
type Script struct {
	Positions []units.Update[units.Position]
	Interval  time.Duration // default 1s
}

// Provider replays a Script on a ticker while any kind is active, looping
// back to the first entry once the script is exhausted.
type Provider struct {
	*provider.Base

	script Script

	mu     sync.Mutex
	cancel func()
	index  int
}

// New constructs a dummy Provider declaring caps and replaying script.
func New(caps criteria.Capabilities, script Script) *Provider {
	if script.Interval <= 0 {
		script.Interval = time.Second
	}
	p := &Provider{script: script}
	p.Base = provider.NewBase(caps, p)
	return p
}

// Name labels this provider in logs and metrics.
func (p *Provider) Name() string { return "dummy" }

// OnActive starts replaying the script on the first kind activated.
func (p *Provider) OnActive(provider.Kind) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return
	}
	stop := make(chan struct{})
	p.cancel = sync.OnceFunc(func() { close(stop) })
	go p.replay(stop)
}

// OnInactive stops replay once no kind remains active.
func (p *Provider) OnInactive(provider.Kind) {
	for _, k := range []provider.Kind{provider.KindPosition, provider.KindHeading, provider.KindVelocity} {
		if p.Counter.Active(k) {
			return
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel == nil {
		return
	}
	p.cancel()
	p.cancel = nil
}

func (p *Provider) replay(stop <-chan struct{}) {
	if len(p.script.Positions) == 0 {
		return
	}
	ticker := time.NewTicker(p.script.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			p.mu.Lock()
			u := p.script.Positions[p.index%len(p.script.Positions)]
			p.index++
			p.mu.Unlock()
			p.EmitPosition(u)
		}
	}
}

// OnReferenceLocationUpdated is a no-op: a scripted fixture has nothing to
// steer.
func (p *Provider) OnReferenceLocationUpdated(units.Position) {}

// OnReferenceVelocityUpdated is a no-op, symmetric with
// OnReferenceLocationUpdated.
func (p *Provider) OnReferenceVelocityUpdated(units.Velocity) {}

// OnReferenceHeadingUpdated is a no-op, symmetric with
// OnReferenceLocationUpdated.
func (p *Provider) OnReferenceHeadingUpdated(units.Heading) {}

// OnWifiAndCellReportingStateChanged is a no-op: a scripted fixture has no
// wifi/cell dependency.
func (p *Provider) OnWifiAndCellReportingStateChanged(bool) {}
