// Package types defines the cross-cutting domain types shared by every
// rules-engine package: facts, rules, conditions, actions, and results.
// Keeping them in one package (rather than scattering Fact into
// factstore and Condition into rete) centralizes
// its own cross-cutting domain vocabulary in a single types package
// that every other internal package imports.
package types

import (
	"time"

	"github.com/ledgerrules/rete/internal/factvalue"
)

// FactID uniquely identifies a fact within one engine's lifetime.
type FactID uint64

// Fact is a single unit of working memory.
type Fact struct {
	ID         FactID                     `json:"id"`
	ExternalID string                     `json:"external_id,omitempty"`
	Timestamp  time.Time                  `json:"created_at"`
	Fields     map[string]factvalue.Value `json:"data"`
}

// Clone returns a deep-enough copy of the fact for snapshotting into a
// firing record (see the "mutation during firing" design note: queued
// firings must see the fact state at enqueue time, not a live reference).
func (f *Fact) Clone() *Fact {
	if f == nil {
		return nil
	}
	cp := &Fact{ID: f.ID, ExternalID: f.ExternalID, Timestamp: f.Timestamp}
	cp.Fields = make(map[string]factvalue.Value, len(f.Fields))
	for k, v := range f.Fields {
		cp.Fields[k] = v
	}
	return cp
}
