package rete

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ledgerrules/rete/internal/types"
)

// SharingStats is the advisory-only node-sharing telemetry of §4.3.3.
type SharingStats struct {
	AlphaSharesFound int
	BetaSharesFound  int
	AlphaNodesActive int
	BetaNodesActive  int
}

// NodeSharingRegistry maintains canonical-signature maps for alpha and
// beta nodes so that two rules compiling to identical condition/join
// sequences reuse the same interior nodes (§4.3.1's invariant),
// generalized from node_sharing.rs's design
// (two signature maps plus per-node refcounts; only Simple conditions
// are alpha-shareable, a limitation this registry carries over
// unchanged — see isNetworkCondition/alphaSignature below).
type NodeSharingRegistry struct {
	alphaSignatures map[string]NodeID
	betaSignatures  map[string]NodeID
	alphaRefCounts  map[NodeID]int
	betaRefCounts   map[NodeID]int
	stats           SharingStats
}

// NewNodeSharingRegistry constructs an empty registry.
func NewNodeSharingRegistry() *NodeSharingRegistry {
	return &NodeSharingRegistry{
		alphaSignatures: make(map[string]NodeID),
		betaSignatures:  make(map[string]NodeID),
		alphaRefCounts:  make(map[NodeID]int),
		betaRefCounts:   make(map[NodeID]int),
	}
}

// alphaSignature canonicalizes a Simple condition's (field, operator,
// value) for sharing. Complex conditions are never shareable (mirroring
// the pack's AlphaNodeSignature.is_shareable, which restricts sharing to
// Condition::Simple "for now") and always return ("", false).
func alphaSignature(cond types.Condition) (string, bool) {
	simple, ok := cond.(types.SimpleCondition)
	if !ok {
		return "", false
	}
	body, err := types.MarshalCondition(simple)
	if err != nil {
		return "", false
	}
	return string(body), true
}

// betaSignature canonicalizes a beta node's join condition list, sorted
// by (left_field, right_field, operator) per §4.3.1 so permutations of
// the same join set share, plus the identity of both parents: two betas
// with identical join conditions but different parents are not the same
// node.
func betaSignature(joinConds []JoinCondition, left NodeRef, right NodeID) string {
	sorted := make([]JoinCondition, len(joinConds))
	copy(sorted, joinConds)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].LeftField != sorted[j].LeftField {
			return sorted[i].LeftField < sorted[j].LeftField
		}
		if sorted[i].RightField != sorted[j].RightField {
			return sorted[i].RightField < sorted[j].RightField
		}
		return sorted[i].Operator < sorted[j].Operator
	})
	var sb strings.Builder
	fmt.Fprintf(&sb, "L%d:%d|R%d|", left.Kind, left.ID, right)
	for _, jc := range sorted {
		fmt.Fprintf(&sb, "%s,%s,%s;", jc.LeftField, jc.RightField, jc.Operator)
	}
	return sb.String()
}

// findOrReserveAlpha returns an existing alpha node id sharing cond's
// signature, incrementing its refcount, or reports a miss so the caller
// can create one and register it via registerAlpha.
func (r *NodeSharingRegistry) findOrReserveAlpha(cond types.Condition) (NodeID, bool, bool) {
	sig, shareable := alphaSignature(cond)
	if !shareable {
		return 0, false, false
	}
	id, ok := r.alphaSignatures[sig]
	if !ok {
		return 0, false, true
	}
	r.alphaRefCounts[id]++
	r.stats.AlphaSharesFound++
	return id, true, true
}

func (r *NodeSharingRegistry) registerAlpha(cond types.Condition, id NodeID) {
	r.alphaRefCounts[id] = 1
	r.stats.AlphaNodesActive++
	if sig, shareable := alphaSignature(cond); shareable {
		r.alphaSignatures[sig] = id
	}
}

func (r *NodeSharingRegistry) releaseAlpha(cond types.Condition, id NodeID) (deleted bool) {
	r.alphaRefCounts[id]--
	if r.alphaRefCounts[id] > 0 {
		return false
	}
	delete(r.alphaRefCounts, id)
	if sig, shareable := alphaSignature(cond); shareable {
		delete(r.alphaSignatures, sig)
	}
	r.stats.AlphaNodesActive--
	return true
}

func (r *NodeSharingRegistry) findOrReserveBeta(joinConds []JoinCondition, left NodeRef, right NodeID) (NodeID, bool) {
	sig := betaSignature(joinConds, left, right)
	id, ok := r.betaSignatures[sig]
	if !ok {
		return 0, false
	}
	r.betaRefCounts[id]++
	r.stats.BetaSharesFound++
	return id, true
}

func (r *NodeSharingRegistry) registerBeta(joinConds []JoinCondition, left NodeRef, right NodeID, id NodeID) {
	r.betaRefCounts[id] = 1
	r.stats.BetaNodesActive++
	r.betaSignatures[betaSignature(joinConds, left, right)] = id
}

func (r *NodeSharingRegistry) releaseBeta(joinConds []JoinCondition, left NodeRef, right NodeID, id NodeID) (deleted bool) {
	r.betaRefCounts[id]--
	if r.betaRefCounts[id] > 0 {
		return false
	}
	delete(r.betaRefCounts, id)
	delete(r.betaSignatures, betaSignature(joinConds, left, right))
	r.stats.BetaNodesActive--
	return true
}

// Stats returns a snapshot of the advisory sharing statistics.
func (r *NodeSharingRegistry) Stats() SharingStats { return r.stats }
