package engine

import (
	"sync"

	"github.com/ubports/locationd/pkg/criteria"
	"github.com/ubports/locationd/pkg/provider"
)

// gatedProvider wraps a registered provider.Provider so the Engine can force
// it inactive regardless of how many sessions currently hold it started,
// without disturbing the session-level start/stop counts once permission is
// restored. It tracks its own per-kind "requested by sessions" count
// separately from the wrapped provider's own ActivationCounter, and forwards
// exactly that many Start/Stop calls to the wrapped provider whenever
// permission flips, to leave its counter balanced.
type gatedProvider struct {
	provider.Provider

	// onActive, when set, is called after the gate forwards a start that
	// takes a kind's forwarded count 0->1. Invoked outside the gate mutex.
	onActive func(provider.Kind)

	mu        sync.Mutex
	permitted bool
	requested map[provider.Kind]int
	forwarded map[provider.Kind]int
}

func newGatedProvider(p provider.Provider) *gatedProvider {
	return &gatedProvider{
		Provider:  p,
		requested: make(map[provider.Kind]int),
		forwarded: make(map[provider.Kind]int),
	}
}

func (g *gatedProvider) isPermitted() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.permitted
}

// setPermitted flips the gate, forwarding enough Start/Stop calls to the
// wrapped provider to bring its counters to where they'd be had permission
// been this value all along.
func (g *gatedProvider) setPermitted(permitted bool) {
	g.mu.Lock()
	if g.permitted == permitted {
		g.mu.Unlock()
		return
	}
	g.permitted = permitted
	var activated []provider.Kind
	for kind, n := range g.requested {
		for i := 0; i < n; i++ {
			if permitted {
				if g.startKindLocked(kind) {
					activated = append(activated, kind)
				}
			} else {
				g.stopKindLocked(kind)
			}
		}
	}
	g.mu.Unlock()
	g.notifyActivated(activated)
}

func (g *gatedProvider) request(kind provider.Kind, delta int) {
	g.mu.Lock()
	g.requested[kind] += delta
	if g.requested[kind] < 0 {
		g.requested[kind] = 0
	}
	var activated []provider.Kind
	if g.permitted {
		if delta > 0 {
			for i := 0; i < delta; i++ {
				if g.startKindLocked(kind) {
					activated = append(activated, kind)
				}
			}
		} else {
			for i := 0; i < -delta; i++ {
				g.stopKindLocked(kind)
			}
		}
	}
	g.mu.Unlock()
	g.notifyActivated(activated)
}

// startKindLocked forwards one start and reports whether it took the
// forwarded count for kind 0->1.
func (g *gatedProvider) startKindLocked(kind provider.Kind) bool {
	g.forwarded[kind]++
	switch kind {
	case provider.KindPosition:
		g.Provider.StartPositionUpdates()
	case provider.KindHeading:
		g.Provider.StartHeadingUpdates()
	case provider.KindVelocity:
		g.Provider.StartVelocityUpdates()
	}
	return g.forwarded[kind] == 1
}

func (g *gatedProvider) stopKindLocked(kind provider.Kind) {
	if g.forwarded[kind] > 0 {
		g.forwarded[kind]--
	}
	switch kind {
	case provider.KindPosition:
		g.Provider.StopPositionUpdates()
	case provider.KindHeading:
		g.Provider.StopHeadingUpdates()
	case provider.KindVelocity:
		g.Provider.StopVelocityUpdates()
	}
}

func (g *gatedProvider) notifyActivated(kinds []provider.Kind) {
	if g.onActive == nil {
		return
	}
	for _, kind := range kinds {
		g.onActive(kind)
	}
}

// StartPositionUpdates etc. override the embedded Provider's methods so
// callers (ProxyProvider) go through the gate instead of straight to the
// wrapped provider.
func (g *gatedProvider) StartPositionUpdates() { g.request(provider.KindPosition, 1) }
func (g *gatedProvider) StopPositionUpdates()  { g.request(provider.KindPosition, -1) }
func (g *gatedProvider) StartHeadingUpdates()  { g.request(provider.KindHeading, 1) }
func (g *gatedProvider) StopHeadingUpdates()   { g.request(provider.KindHeading, -1) }
func (g *gatedProvider) StartVelocityUpdates() { g.request(provider.KindVelocity, 1) }
func (g *gatedProvider) StopVelocityUpdates()  { g.request(provider.KindVelocity, -1) }

// Capabilities forwards to the wrapped provider when it exposes the full
// struct (every provider.Base-backed concrete type does), so
// pkg/selection's accuracy tie-break sees real numbers through the gate.
func (g *gatedProvider) Capabilities() criteria.Capabilities {
	if cp, ok := g.Provider.(interface{ Capabilities() criteria.Capabilities }); ok {
		return cp.Capabilities()
	}
	return criteria.Capabilities{Features: g.Provider.Features(), Requirements: g.Provider.Requirements()}
}

var _ provider.Provider = (*gatedProvider)(nil)
