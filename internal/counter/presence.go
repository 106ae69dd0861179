package counter

import (
	"go.uber.org/atomic"
)

// Presence tracks connected sessions: a gauge of the sessions open right now
// and a cumulative count of every session ever opened.
type Presence struct {
	concurrent atomic.Int64
	total      atomic.Uint64
}

func NewPresence() *Presence {
	return &Presence{}
}

// Connected records a new session and returns the new concurrent count.
func (p *Presence) Connected() int64 {
	p.total.Inc()
	return p.concurrent.Inc()
}

// Disconnected records a closed session and returns the new concurrent count.
// Every call must pair with an earlier Connected.
func (p *Presence) Disconnected() int64 {
	return p.concurrent.Dec()
}

func (p *Presence) Concurrent() int64 {
	return p.concurrent.Load()
}

func (p *Presence) Total() uint64 {
	return p.total.Load()
}

// RestoreTotal seeds the cumulative counter from a persisted snapshot.
func (p *Presence) RestoreTotal(n uint64) {
	p.total.Store(n)
}
