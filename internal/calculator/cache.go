package calculator

import (
	"sync"

	"github.com/ledgerrules/rete/internal/factvalue"
)

// CacheStats reports a cache's hit/miss counters and utilization
// fraction, per §9's "Caches must support clear() and report
// {hits, misses, utilization}."
type CacheStats struct {
	Hits        uint64
	Misses      uint64
	Utilization float64
}

// CompilationCache memoizes expression text -> parsed AST, keyed on the
// expression text alone (§4.4's caching contract).
type CompilationCache struct {
	mu       sync.RWMutex
	entries  map[string]Node
	capacity int
	hits     uint64
	misses   uint64
}

// NewCompilationCache constructs a compilation cache bounded to capacity
// entries (0 means unbounded).
func NewCompilationCache(capacity int) *CompilationCache {
	return &CompilationCache{entries: make(map[string]Node), capacity: capacity}
}

// Get returns the cached AST for expr, if present.
func (c *CompilationCache) Get(expr string) (Node, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n, ok := c.entries[expr]
	if ok {
		c.hits++
	} else {
		c.misses++
	}
	return n, ok
}

// Put stores the parsed AST for expr, evicting an arbitrary entry if the
// cache is at capacity.
func (c *CompilationCache) Put(expr string, n Node) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.capacity > 0 && len(c.entries) >= c.capacity {
		for k := range c.entries {
			delete(c.entries, k)
			break
		}
	}
	c.entries[expr] = n
}

// Clear empties the cache without resetting hit/miss counters.
func (c *CompilationCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]Node)
}

// Stats reports the cache's hit/miss/utilization counters.
func (c *CompilationCache) Stats() CacheStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var util float64
	if c.capacity > 0 {
		util = float64(len(c.entries)) / float64(c.capacity)
	}
	return CacheStats{Hits: c.hits, Misses: c.misses, Utilization: util}
}

// resultKey identifies one (expression, context) pairing for the result
// cache, per §4.4: "keyed by (expression_text, hash(relevant context
// fields))".
type resultKey struct {
	expr string
	hash uint64
}

// ResultCache memoizes (expression, context-hash) -> evaluated value.
type ResultCache struct {
	mu       sync.RWMutex
	entries  map[resultKey]factvalue.Value
	capacity int
	hits     uint64
	misses   uint64
}

// NewResultCache constructs a result cache bounded to capacity entries.
func NewResultCache(capacity int) *ResultCache {
	return &ResultCache{entries: make(map[resultKey]factvalue.Value), capacity: capacity}
}

// HashContext computes the cache key's context hash by wrapping ctx in a
// factvalue.Object and reusing its sorted-key hashing, so field order
// never perturbs the cache key.
func HashContext(ctx Context) uint64 {
	obj := make(map[string]factvalue.Value, len(ctx))
	for k, v := range ctx {
		obj[k] = v
	}
	return factvalue.Object(obj).Hash()
}

// Get returns the cached result for (expr, ctxHash), if present.
func (c *ResultCache) Get(expr string, ctxHash uint64) (factvalue.Value, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.entries[resultKey{expr, ctxHash}]
	if ok {
		c.hits++
	} else {
		c.misses++
	}
	return v, ok
}

// Put stores the evaluated value for (expr, ctxHash).
func (c *ResultCache) Put(expr string, ctxHash uint64, v factvalue.Value) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.capacity > 0 && len(c.entries) >= c.capacity {
		for k := range c.entries {
			delete(c.entries, k)
			break
		}
	}
	c.entries[resultKey{expr, ctxHash}] = v
}

// Clear empties the cache without resetting hit/miss counters.
func (c *ResultCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[resultKey]factvalue.Value)
}

// Stats reports the cache's hit/miss/utilization counters.
func (c *ResultCache) Stats() CacheStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var util float64
	if c.capacity > 0 {
		util = float64(len(c.entries)) / float64(c.capacity)
	}
	return CacheStats{Hits: c.hits, Misses: c.misses, Utilization: util}
}
