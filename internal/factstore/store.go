// Package factstore implements working memory (§4.1 of the engine
// specification): a store mapping fact id to fact, with field indexing
// for fast narrowing of alpha-node candidates. Two backends are provided,
// selectable at construction, both satisfying the Store interface with
// identical externally observable semantics: NewHashMap for fast random
// access, NewSortedVector for range-scan-friendly cache locality.
package factstore

import (
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/ledgerrules/rete/internal/factvalue"
	"github.com/ledgerrules/rete/internal/ruleerrors"
	"github.com/ledgerrules/rete/internal/types"
)

// Store is the shared contract both backends satisfy.
type Store interface {
	// Insert assigns an id if Fact.ID is zero, generates a correlation
	// ExternalID if one was not supplied, indexes the fact's fields, and
	// returns the assigned id.
	Insert(f *types.Fact) (types.FactID, error)

	// Get returns the fact by id and whether it was present.
	Get(id types.FactID) (*types.Fact, bool)

	// Remove deletes the fact and its index entries, reporting whether it
	// was present.
	Remove(id types.FactID) bool

	// LookupByField returns the ids of facts whose Field equals value,
	// using the index when available and falling back to a full scan
	// otherwise.
	LookupByField(field string, value factvalue.Value) []types.FactID

	// Update replaces the named fields on the fact, re-indexing only the
	// fields that changed.
	Update(id types.FactID, updates map[string]factvalue.Value) error

	// Len returns the number of facts currently stored.
	Len() int

	// All returns every fact currently stored, in backend-defined order.
	All() []*types.Fact
}

// idAllocator hands out monotonically increasing fact ids, shared by both
// backends so construction code can swap backends without changing id
// assignment behavior.
type idAllocator struct {
	next uint64
}

func (a *idAllocator) allocate() types.FactID {
	return types.FactID(atomic.AddUint64(&a.next, 1))
}

func ensureExternalID(f *types.Fact) {
	if f.ExternalID == "" {
		f.ExternalID = uuid.NewString()
	}
}

func newFactStoreError(factID types.FactID, op, msg string) error {
	return ruleerrors.NewFactStoreError(uint64(factID), op, msg, nil)
}
