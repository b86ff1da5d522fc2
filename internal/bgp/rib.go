package bgp

import "sync/atomic"

// CounterRIB is a minimal RIBImporter that only tracks the imported
// route count; actual RIB policy and attribute application are a
// named non-goal (§1) left to the surrounding routing core.
type CounterRIB struct {
	n atomic.Uint64
}

// Set records the current imported route count.
func (r *CounterRIB) Set(n uint64) { r.n.Store(n) }

func (r *CounterRIB) Imported() uint64 { return r.n.Load() }
