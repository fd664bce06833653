package factstore

import (
	"sync"

	"github.com/ledgerrules/rete/internal/factvalue"
	"github.com/ledgerrules/rete/internal/types"
)

// HashMapStore is the fast-random-access backend of §4.1. Field indexes
// are bucketed by value hash, with each bucket resolving collisions by
// re-checking the actual fact value.
type HashMapStore struct {
	mu    sync.RWMutex
	alloc idAllocator
	facts map[types.FactID]*types.Fact
	index map[string]map[uint64]map[types.FactID]struct{}
}

// NewHashMap constructs an empty hash-map-backed fact store.
func NewHashMap() *HashMapStore {
	return &HashMapStore{
		facts: make(map[types.FactID]*types.Fact),
		index: make(map[string]map[uint64]map[types.FactID]struct{}),
	}
}

func (s *HashMapStore) Insert(f *types.Fact) (types.FactID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if f.ID == 0 {
		f.ID = s.alloc.allocate()
	}
	ensureExternalID(f)
	s.facts[f.ID] = f
	for field, val := range f.Fields {
		s.indexField(f.ID, field, val)
	}
	return f.ID, nil
}

func (s *HashMapStore) Get(id types.FactID) (*types.Fact, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.facts[id]
	return f, ok
}

func (s *HashMapStore) Remove(id types.FactID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.facts[id]
	if !ok {
		return false
	}
	for field, val := range f.Fields {
		s.unindexField(id, field, val)
	}
	delete(s.facts, id)
	return true
}

func (s *HashMapStore) LookupByField(field string, value factvalue.Value) []types.FactID {
	s.mu.RLock()
	defer s.mu.RUnlock()

	buckets, indexed := s.index[field]
	if !indexed {
		return s.scanByField(field, value)
	}
	bucket, ok := buckets[value.Hash()]
	if !ok {
		return nil
	}
	out := make([]types.FactID, 0, len(bucket))
	for id := range bucket {
		if f, ok := s.facts[id]; ok {
			if fv, has := f.Fields[field]; has && fv.Equal(value) {
				out = append(out, id)
			}
		}
	}
	return out
}

func (s *HashMapStore) scanByField(field string, value factvalue.Value) []types.FactID {
	var out []types.FactID
	for id, f := range s.facts {
		if fv, ok := f.Fields[field]; ok && fv.Equal(value) {
			out = append(out, id)
		}
	}
	return out
}

func (s *HashMapStore) Update(id types.FactID, updates map[string]factvalue.Value) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.facts[id]
	if !ok {
		return newFactStoreError(id, "update", "fact not found")
	}
	if f.Fields == nil {
		f.Fields = make(map[string]factvalue.Value, len(updates))
	}
	for field, newVal := range updates {
		if oldVal, had := f.Fields[field]; had {
			s.unindexField(id, field, oldVal)
		}
		f.Fields[field] = newVal
		s.indexField(id, field, newVal)
	}
	return nil
}

func (s *HashMapStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.facts)
}

func (s *HashMapStore) All() []*types.Fact {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*types.Fact, 0, len(s.facts))
	for _, f := range s.facts {
		out = append(out, f)
	}
	return out
}

func (s *HashMapStore) indexField(id types.FactID, field string, val factvalue.Value) {
	buckets, ok := s.index[field]
	if !ok {
		buckets = make(map[uint64]map[types.FactID]struct{})
		s.index[field] = buckets
	}
	h := val.Hash()
	bucket, ok := buckets[h]
	if !ok {
		bucket = make(map[types.FactID]struct{})
		buckets[h] = bucket
	}
	bucket[id] = struct{}{}
}

func (s *HashMapStore) unindexField(id types.FactID, field string, val factvalue.Value) {
	buckets, ok := s.index[field]
	if !ok {
		return
	}
	h := val.Hash()
	bucket, ok := buckets[h]
	if !ok {
		return
	}
	delete(bucket, id)
	if len(bucket) == 0 {
		delete(buckets, h)
	}
}

var _ Store = (*HashMapStore)(nil)
