package factstore

import (
	"fmt"
	"sort"
	"sync"

	"github.com/ledgerrules/rete/internal/factvalue"
	"github.com/ledgerrules/rete/internal/types"
)

// indexEntry is one (value, id) pair in a field's sorted index.
type indexEntry struct {
	value factvalue.Value
	id    types.FactID
}

// SortedVectorStore is the cache-locality-favoring backend of §4.1: facts
// live in a contiguous slice (swap-delete on removal), and each indexed
// field keeps a slice sorted by value for binary-search lookup.
//
// Supplemented feature (not in spec.md, motivated by payroll-style range
// queries — see DESIGN.md): RangeByField performs a bounded scan over an
// indexed field's sorted entries, which this backend's layout makes
// nearly free once the index is sorted.
type SortedVectorStore struct {
	mu     sync.RWMutex
	alloc  idAllocator
	facts  []*types.Fact
	posOf  map[types.FactID]int
	index  map[string][]indexEntry
	dirty  map[string]bool
}

// NewSortedVector constructs an empty sorted-vector-backed fact store.
func NewSortedVector() *SortedVectorStore {
	return &SortedVectorStore{
		posOf: make(map[types.FactID]int),
		index: make(map[string][]indexEntry),
		dirty: make(map[string]bool),
	}
}

func (s *SortedVectorStore) Insert(f *types.Fact) (types.FactID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if f.ID == 0 {
		f.ID = s.alloc.allocate()
	}
	ensureExternalID(f)
	s.posOf[f.ID] = len(s.facts)
	s.facts = append(s.facts, f)
	for field, val := range f.Fields {
		s.appendIndex(field, val, f.ID)
	}
	return f.ID, nil
}

func (s *SortedVectorStore) Get(id types.FactID) (*types.Fact, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pos, ok := s.posOf[id]
	if !ok {
		return nil, false
	}
	return s.facts[pos], true
}

func (s *SortedVectorStore) Remove(id types.FactID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	pos, ok := s.posOf[id]
	if !ok {
		return false
	}
	f := s.facts[pos]
	for field, val := range f.Fields {
		s.removeFromIndex(field, val, id)
	}

	last := len(s.facts) - 1
	s.facts[pos] = s.facts[last]
	s.posOf[s.facts[pos].ID] = pos
	s.facts = s.facts[:last]
	delete(s.posOf, id)
	return true
}

func (s *SortedVectorStore) LookupByField(field string, value factvalue.Value) []types.FactID {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, indexed := s.index[field]
	if !indexed {
		return s.scanByField(field, value)
	}
	s.ensureSorted(field)
	entries = s.index[field]

	lo := sort.Search(len(entries), func(i int) bool {
		c, err := entries[i].value.Compare(value)
		if err != nil {
			return false
		}
		return c >= 0
	})
	var out []types.FactID
	for i := lo; i < len(entries); i++ {
		c, err := entries[i].value.Compare(value)
		if err != nil || c != 0 {
			break
		}
		out = append(out, entries[i].id)
	}
	return out
}

func (s *SortedVectorStore) scanByField(field string, value factvalue.Value) []types.FactID {
	var out []types.FactID
	for _, f := range s.facts {
		if fv, ok := f.Fields[field]; ok && fv.Equal(value) {
			out = append(out, f.ID)
		}
	}
	return out
}

// RangeByField returns the ids of facts whose Field value is between lo
// and hi inclusive, according to factvalue.Value.Compare. If lo and hi
// are of different Kinds, an error wrapping ErrIncompatibleTypes is
// returned; the scan also returns an error if it reaches an indexed value
// whose Kind differs from hi's. Bounds of a Kind no indexed value has
// yield no ids and no error.
func (s *SortedVectorStore) RangeByField(field string, lo, hi factvalue.Value) ([]types.FactID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, err := lo.Compare(hi); err != nil {
		return nil, fmt.Errorf("factstore: range bounds incompatible: %w", err)
	}
	s.ensureSorted(field)
	entries := s.index[field]
	start := sort.Search(len(entries), func(i int) bool {
		c, err := entries[i].value.Compare(lo)
		return err == nil && c >= 0
	})
	var out []types.FactID
	for i := start; i < len(entries); i++ {
		c, err := entries[i].value.Compare(hi)
		if err != nil {
			return nil, fmt.Errorf("factstore: range scan: %w", err)
		}
		if c > 0 {
			break
		}
		out = append(out, entries[i].id)
	}
	return out, nil
}

func (s *SortedVectorStore) Update(id types.FactID, updates map[string]factvalue.Value) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	pos, ok := s.posOf[id]
	if !ok {
		return newFactStoreError(id, "update", "fact not found")
	}
	f := s.facts[pos]
	if f.Fields == nil {
		f.Fields = make(map[string]factvalue.Value, len(updates))
	}
	for field, newVal := range updates {
		if oldVal, had := f.Fields[field]; had {
			s.removeFromIndex(field, oldVal, id)
		}
		f.Fields[field] = newVal
		s.appendIndex(field, newVal, id)
	}
	return nil
}

func (s *SortedVectorStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.facts)
}

func (s *SortedVectorStore) All() []*types.Fact {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*types.Fact, len(s.facts))
	copy(out, s.facts)
	return out
}

func (s *SortedVectorStore) appendIndex(field string, val factvalue.Value, id types.FactID) {
	s.index[field] = append(s.index[field], indexEntry{value: val, id: id})
	s.dirty[field] = true
}

func (s *SortedVectorStore) removeFromIndex(field string, val factvalue.Value, id types.FactID) {
	entries := s.index[field]
	for i, e := range entries {
		if e.id == id && e.value.Equal(val) {
			entries[i] = entries[len(entries)-1]
			s.index[field] = entries[:len(entries)-1]
			s.dirty[field] = true
			return
		}
	}
}

func (s *SortedVectorStore) ensureSorted(field string) {
	if !s.dirty[field] {
		return
	}
	entries := s.index[field]
	sort.SliceStable(entries, func(i, j int) bool {
		c, err := entries[i].value.Compare(entries[j].value)
		if err != nil {
			return false
		}
		return c < 0
	})
	s.dirty[field] = false
}

var _ Store = (*SortedVectorStore)(nil)
