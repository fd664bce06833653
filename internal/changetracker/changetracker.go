// Package changetracker implements the hash-based incremental processing
// plan of §4.2: given the full current fact set, it classifies each fact
// as new, modified, unchanged, or deleted relative to the previous cycle,
// without retaining the facts themselves — only per-id content hashes.
package changetracker

import (
	"github.com/ledgerrules/rete/internal/factvalue"
	"github.com/ledgerrules/rete/internal/types"
)

// Plan is the classification result of one cycle.
type Plan struct {
	New       []types.FactID
	Modified  []types.FactID
	Unchanged []types.FactID
	Deleted   []types.FactID
}

// NewOrModified returns the ids the engine must propagate into the
// network this cycle — everything except Unchanged.
func (p Plan) NewOrModified() []types.FactID {
	out := make([]types.FactID, 0, len(p.New)+len(p.Modified))
	out = append(out, p.New...)
	out = append(out, p.Modified...)
	return out
}

// Tracker holds the per-id content hash from the last cycle it classified.
type Tracker struct {
	lastHash map[types.FactID]uint64
}

// New constructs an empty tracker (no facts seen yet).
func New() *Tracker {
	return &Tracker{lastHash: make(map[types.FactID]uint64)}
}

// Classify compares the current fact set against the hashes retained
// from the previous call and returns a Plan, updating its internal
// tracked-id/hash state for the next call.
func (t *Tracker) Classify(current []*types.Fact) Plan {
	var plan Plan
	seen := make(map[types.FactID]struct{}, len(current))

	for _, f := range current {
		seen[f.ID] = struct{}{}
		h := hashFact(f)
		prev, tracked := t.lastHash[f.ID]
		switch {
		case !tracked:
			plan.New = append(plan.New, f.ID)
		case prev != h:
			plan.Modified = append(plan.Modified, f.ID)
		default:
			plan.Unchanged = append(plan.Unchanged, f.ID)
		}
		t.lastHash[f.ID] = h
	}

	for id := range t.lastHash {
		if _, stillPresent := seen[id]; !stillPresent {
			plan.Deleted = append(plan.Deleted, id)
		}
	}
	for _, id := range plan.Deleted {
		delete(t.lastHash, id)
	}

	return plan
}

// hashFact computes a 64-bit content hash over the fact id and all
// fields in deterministic (sorted) key order, per §4.2. factvalue.Value's
// own Object hashing already traverses keys in sorted order, so building
// a single Object wrapping the fields plus the id is sufficient.
func hashFact(f *types.Fact) uint64 {
	obj := make(map[string]factvalue.Value, len(f.Fields)+1)
	for k, v := range f.Fields {
		obj[k] = v
	}
	// The fact id is folded in under a key no real fact field can
	// collide with, so two facts with identical field sets but
	// different ids never hash equal.
	obj["\x00id"] = factvalue.Int(int64(f.ID))
	return factvalue.Object(obj).Hash()
}
