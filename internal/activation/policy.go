// Package activation decides when the GNSS feeds must run and whether the
// GDL90 stream is being served, from reference-counted interests.
package activation

import (
	"fmt"
	"sync"
)

// Interest is a kind of consumer that keeps sensors alive.
type Interest int

const (
	// InterestLocation is a UI observer of location samples.
	InterestLocation Interest = iota
	// InterestSatellites is a UI observer of satellite batches.
	InterestSatellites
)

func (i Interest) String() string {
	switch i {
	case InterestLocation:
		return "location"
	case InterestSatellites:
		return "satellites"
	default:
		return fmt.Sprintf("interest(%d)", int(i))
	}
}

// Counts are the inputs of Derive.
type Counts struct {
	LocationObservers  int
	SatelliteObservers int
	EnabledClients     int
}

// State is the set of derived booleans.
type State struct {
	NeedLocation   bool `json:"need_location"`
	NeedSatellites bool `json:"need_satellites"`
	Serving        bool `json:"serving"`
}

// Derive computes the state for a set of counters. Serving needs the
// satellite feed (heartbeat validity), and satellites in turn need the
// location feed running.
func Derive(c Counts) State {
	serving := c.EnabledClients > 0
	needSats := c.SatelliteObservers > 0 || serving
	return State{
		NeedLocation:   c.LocationObservers > 0 || needSats || serving,
		NeedSatellites: needSats,
		Serving:        serving,
	}
}

// Hooks are invoked on transitions of the derived booleans. Nil hooks are
// skipped. They run with the policy lock held and must not block on I/O.
type Hooks struct {
	StartLocation   func()
	StopLocation    func()
	StartSatellites func()
	StopSatellites  func()
	ServingChanged  func(serving bool)
}

// Policy holds the interest counters and fires hooks edge-triggered.
type Policy struct {
	mu     sync.Mutex
	hooks  Hooks
	counts Counts
	state  State
}

func New(h Hooks) *Policy {
	return &Policy{hooks: h}
}

// Acquire adds one observer of the given kind.
func (p *Policy) Acquire(i Interest) {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch i {
	case InterestLocation:
		p.counts.LocationObservers++
	case InterestSatellites:
		p.counts.SatelliteObservers++
	default:
		return
	}
	p.applyLocked()
}

// Release removes one observer of the given kind. Releasing below zero is
// ignored.
func (p *Policy) Release(i Interest) {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch i {
	case InterestLocation:
		if p.counts.LocationObservers == 0 {
			return
		}
		p.counts.LocationObservers--
	case InterestSatellites:
		if p.counts.SatelliteObservers == 0 {
			return
		}
		p.counts.SatelliteObservers--
	default:
		return
	}
	p.applyLocked()
}

// SetEnabledClients records the number of enabled clients.
func (p *Policy) SetEnabledClients(n int) {
	if n < 0 {
		n = 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.counts.EnabledClients = n
	p.applyLocked()
}

func (p *Policy) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Policy) Counts() Counts {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.counts
}

func (p *Policy) applyLocked() {
	next := Derive(p.counts)
	prev := p.state
	p.state = next

	// Start order: location before satellites. Stop order is the reverse.
	if next.NeedLocation && !prev.NeedLocation {
		call(p.hooks.StartLocation)
	}
	if next.NeedSatellites && !prev.NeedSatellites {
		call(p.hooks.StartSatellites)
	}
	if !next.NeedSatellites && prev.NeedSatellites {
		call(p.hooks.StopSatellites)
	}
	if !next.NeedLocation && prev.NeedLocation {
		call(p.hooks.StopLocation)
	}
	if next.Serving != prev.Serving && p.hooks.ServingChanged != nil {
		p.hooks.ServingChanged(next.Serving)
	}
}

func call(fn func()) {
	if fn != nil {
		fn()
	}
}
