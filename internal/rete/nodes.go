// Package rete implements the discrimination network of §4.3: alpha
// nodes testing a single condition, beta nodes joining partial matches,
// and terminal nodes firing a rule's action list. Grounded on the
// arena-allocation design note of spec §9 ("model with arena allocation
// keyed by NodeId/TokenId indices rather than direct references"),
// expressed the way internal/storage packages key mutable
// state by integer id in a map rather than holding Go pointers across
// package boundaries, sidestepping reference cycles between nodes that
// share parents.
package rete

import "github.com/ledgerrules/rete/internal/types"

// NodeID identifies any node (alpha, beta, or terminal) in the network's
// arena. Ids are never reused within one Network's lifetime, even after
// deletion, so a stale NodeID reliably misses rather than aliasing a
// later unrelated node.
type NodeID uint64

// TokenID identifies one beta node's partial-match entry, used by the
// retraction reverse index (fact id -> token ids) named in §4.3.2's
// edge cases.
type TokenID uint64

// NodeKind distinguishes what a NodeRef points at.
type NodeKind int

const (
	KindAlpha NodeKind = iota
	KindBeta
	KindTerminal
)

// NodeRef is a typed pointer into the arena: which map to look the id up
// in.
type NodeRef struct {
	Kind NodeKind
	ID   NodeID
}

// JoinCondition is one {left_field, right_field, operator} test a beta
// node applies between its left token's bound fields and a candidate
// right-parent fact, per §3's Network Nodes section.
type JoinCondition struct {
	LeftField  string
	RightField string
	Operator   types.Operator
}

// AlphaNode tests a single Simple or Complex condition against each
// fact offered to the network and remembers which facts passed.
type AlphaNode struct {
	ID        NodeID
	Condition types.Condition
	// IndexField is the field narrowing for this alpha in the network's
	// field index; empty for Complex conditions, which cannot be
	// narrowed by a single field and are instead tried against every
	// fact (§4.3.1's sharing registry only dedups Simple conditions, and
	// this non-indexability is the same limitation).
	IndexField string
	FactIDs    map[types.FactID]struct{}
	// Downstream holds beta nodes using this alpha as either parent, and
	// (for a single-condition rule) the terminal node fed directly by it.
	Downstream []NodeRef
}

// BetaNode joins its left parent's partial-match tokens against its
// right parent alpha's fact set under JoinConditions. Tokens holds the
// left memory: every token this node has accumulated from its left
// parent, probed against new right-side facts as they arrive.
type BetaNode struct {
	ID             NodeID
	JoinConditions []JoinCondition
	LeftParent     NodeRef // Kind is Alpha or Beta
	RightParent    NodeID  // always an AlphaNode id
	Tokens         map[TokenID]Token
	nextTokenID    TokenID
	Downstream     []NodeRef // beta (as their left parent) or terminal
}

// Token is an ordered sequence of fact ids representing one satisfied
// prefix of a rule's conditions, per §3.
type Token struct {
	Facts []types.FactID
}

// TerminalNode is a rule's firing site: reached once every join in its
// condition chain has succeeded.
type TerminalNode struct {
	ID       NodeID
	RuleID   types.RuleID
	RuleName string
	Actions  []types.Action
	Priority int
}

// Firing is one queued rule activation, captured with the fact state at
// enqueue time per spec §9's "mutation during firing" design note:
// queued firings must fire against a snapshot, not a live fact
// reference, since an earlier firing in the same batch may mutate the
// fact store before this one drains.
type Firing struct {
	RuleID     types.RuleID
	RuleName   string
	Actions    []types.Action
	Token      Token
	Priority   int
	BoundFacts map[types.FactID]*types.Fact
}
