// Package pool provides the per-engine sync.Pool-backed allocation
// reuse named in §5's Shared Resources section: one pool per recurring
// shape (token fact-id slices, fact-field maps, fact-id sets, fact
// pointer slices), each
// scoped to a single engine instance. Grounded on the pack's
// sync.Pool-wrapped-in-a-named-type pattern (theRebelliousNerd-codenerd's
// world.Scanner.parserPool).
package pool

import (
	"sync"

	"github.com/ledgerrules/rete/internal/factvalue"
	"github.com/ledgerrules/rete/internal/types"
)

// Pools bundles every allocation-reuse pool one engine instance needs.
type Pools struct {
	tokenFacts sync.Pool // []types.FactID
	fieldMaps  sync.Pool // map[string]factvalue.Value
	factIDSets sync.Pool // map[types.FactID]struct{}
	factVecs   sync.Pool // []*types.Fact

	gets, puts int64
	mu         sync.Mutex
}

// New constructs a fresh set of pools.
func New() *Pools {
	p := &Pools{}
	p.tokenFacts.New = func() any { return make([]types.FactID, 0, 4) }
	p.fieldMaps.New = func() any { return make(map[string]factvalue.Value, 8) }
	p.factIDSets.New = func() any { return make(map[types.FactID]struct{}, 8) }
	p.factVecs.New = func() any { return make([]*types.Fact, 0, 16) }
	return p
}

func (p *Pools) track() {
	p.mu.Lock()
	p.gets++
	p.mu.Unlock()
}

// GetTokenFacts returns a zero-length fact id slice ready for reuse.
func (p *Pools) GetTokenFacts() []types.FactID {
	p.track()
	return p.tokenFacts.Get().([]types.FactID)[:0]
}

// PutTokenFacts returns s to the pool.
func (p *Pools) PutTokenFacts(s []types.FactID) {
	p.mu.Lock()
	p.puts++
	p.mu.Unlock()
	p.tokenFacts.Put(s) //nolint:staticcheck // caller-owned slice, safe to recycle
}

// GetFieldMap returns an empty field map ready for reuse.
func (p *Pools) GetFieldMap() map[string]factvalue.Value {
	p.track()
	m := p.fieldMaps.Get().(map[string]factvalue.Value)
	for k := range m {
		delete(m, k)
	}
	return m
}

// PutFieldMap returns m to the pool.
func (p *Pools) PutFieldMap(m map[string]factvalue.Value) {
	p.mu.Lock()
	p.puts++
	p.mu.Unlock()
	p.fieldMaps.Put(m)
}

// GetFactIDSet returns an empty fact id set ready for reuse.
func (p *Pools) GetFactIDSet() map[types.FactID]struct{} {
	p.track()
	m := p.factIDSets.Get().(map[types.FactID]struct{})
	for k := range m {
		delete(m, k)
	}
	return m
}

// PutFactIDSet returns m to the pool.
func (p *Pools) PutFactIDSet(m map[types.FactID]struct{}) {
	p.mu.Lock()
	p.puts++
	p.mu.Unlock()
	p.factIDSets.Put(m)
}

// GetFactVec returns a zero-length fact pointer slice ready for reuse.
func (p *Pools) GetFactVec() []*types.Fact {
	p.track()
	return p.factVecs.Get().([]*types.Fact)[:0]
}

// PutFactVec returns s to the pool.
func (p *Pools) PutFactVec(s []*types.Fact) {
	p.mu.Lock()
	p.puts++
	p.mu.Unlock()
	p.factVecs.Put(s)
}

// Stats reports total checkouts and returns across every pool, the
// coarse signal the engine folds (Gets minus Puts) into the memory usage
// estimate it reports to the memory coordinator.
type Stats struct {
	Gets, Puts int64
}

func (p *Pools) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{Gets: p.gets, Puts: p.puts}
}

// ReduceMemoryUsage drops every pooled value by discarding and
// recreating the pools, the only lever sync.Pool exposes; factor is
// accepted for interface parity with cache.ScratchBuffers's finer-grained
// eviction but otherwise ignored here; any value below 1.0 triggers a
// full reset.
func (p *Pools) ReduceMemoryUsage(factor float64) {
	if factor >= 1.0 {
		return
	}
	p.tokenFacts = sync.Pool{New: p.tokenFacts.New}
	p.fieldMaps = sync.Pool{New: p.fieldMaps.New}
	p.factIDSets = sync.Pool{New: p.factIDSets.New}
	p.factVecs = sync.Pool{New: p.factVecs.New}
}
