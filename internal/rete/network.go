package rete

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/ledgerrules/rete/internal/factstore"
	"github.com/ledgerrules/rete/internal/factvalue"
	"github.com/ledgerrules/rete/internal/ruleerrors"
	"github.com/ledgerrules/rete/internal/types"
)

type alphaStep struct {
	NodeID    NodeID
	Condition types.Condition
}

type betaStep struct {
	NodeID    NodeID
	JoinConds []JoinCondition
	Left      NodeRef
	Right     NodeID
}

type compiledRule struct {
	AlphaSteps     []alphaStep
	BetaSteps      []betaStep
	TerminalID     NodeID
	TerminalParent NodeRef
}

type tokenLoc struct {
	Beta NodeID
	Tok  TokenID
}

// Network is the compiled alpha/beta/terminal discrimination network of
// §4.3, holding every rule currently added to one engine instance.
// Nodes are arena-allocated by NodeID (spec §9's design note) rather
// than linked by pointer, so shared interior nodes never create a
// reference cycle between rules.
type Network struct {
	mu sync.Mutex

	store factstore.Store

	nextNodeID NodeID
	alphas     map[NodeID]*AlphaNode
	betas      map[NodeID]*BetaNode
	terminals  map[NodeID]*TerminalNode

	fieldIndex      map[string][]NodeID // field -> alpha node ids testing it
	unindexedAlphas []NodeID            // Complex-condition alphas, tried against every fact

	factAlphas map[types.FactID]map[NodeID]struct{}  // fact -> alphas currently holding it
	factTokens map[types.FactID]map[tokenLoc]struct{} // fact -> beta tokens containing it (transitively)

	registry *NodeSharingRegistry
	rules    map[types.RuleID]compiledRule

	pending []pendingFiring

	// floatEpsilon is 0 for strict (bitwise) float equality in Equal/
	// NotEqual condition and join tests, per the default Open Question
	// resolution in DESIGN.md. SetFloatEpsilon loosens it, driven by
	// config.EngineConfig.StrictFloatEquality.
	floatEpsilon float64
}

type pendingFiring struct {
	Terminal NodeID
	Token    Token
}

// NewNetwork constructs an empty network backed by store for field
// lookups during beta joins and fact snapshotting at firing time. store
// must already contain (or come to contain, before ProcessFacts is
// called) every fact the network is asked to match.
func NewNetwork(store factstore.Store) *Network {
	return &Network{
		store:      store,
		alphas:     make(map[NodeID]*AlphaNode),
		betas:      make(map[NodeID]*BetaNode),
		terminals:  make(map[NodeID]*TerminalNode),
		fieldIndex: make(map[string][]NodeID),
		factAlphas: make(map[types.FactID]map[NodeID]struct{}),
		factTokens: make(map[types.FactID]map[tokenLoc]struct{}),
		registry:   NewNodeSharingRegistry(),
		rules:      make(map[types.RuleID]compiledRule),
	}
}

// SetFloatEpsilon configures the tolerance SimpleCondition Equal/
// NotEqual tests and beta-join equality tests use when comparing
// numeric values. 0 (the default) means strict bitwise equality;
// internal/config.EngineConfig.StrictFloatEquality==false drives this
// to a positive epsilon at engine construction time.
func (n *Network) SetFloatEpsilon(epsilon float64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.floatEpsilon = epsilon
}

func (n *Network) nextID() NodeID {
	n.nextNodeID++
	return n.nextNodeID
}

// Stats is the engine-facing view of §4.8's node_count plus §4.3.3's
// advisory sharing counters.
type Stats struct {
	AlphaNodeCount    int
	BetaNodeCount     int
	TerminalNodeCount int
	Sharing           SharingStats
}

// GetStats reports the network's current node population.
func (n *Network) GetStats() Stats {
	n.mu.Lock()
	defer n.mu.Unlock()
	return Stats{
		AlphaNodeCount:    len(n.alphas),
		BetaNodeCount:     len(n.betas),
		TerminalNodeCount: len(n.terminals),
		Sharing:           n.registry.Stats(),
	}
}

// AddRule compiles rule into the network per §4.3.1: canonicalize each
// Simple condition and consult the alpha sharing registry; chain
// additional conditions through (shared or new) beta join nodes; attach
// a fresh terminal node carrying the rule's actions.
func (n *Network) AddRule(rule *types.Rule) error {
	if err := rule.Validate(); err != nil {
		return ruleerrors.NewRuleError(uint64(rule.ID), rule.Name, err.Error(), err)
	}
	for _, c := range rule.Conditions {
		if !isNetworkCondition(c) {
			return ruleerrors.NewRuleError(uint64(rule.ID), rule.Name,
				"aggregation/stream conditions are not compiled into the RETE network; the engine facade must evaluate them separately", nil)
		}
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	var cr compiledRule

	first := rule.Conditions[0]
	firstID := n.getOrCreateAlphaLocked(first)
	cr.AlphaSteps = append(cr.AlphaSteps, alphaStep{NodeID: firstID, Condition: first})
	prefix := NodeRef{Kind: KindAlpha, ID: firstID}
	prefixFields := fieldsOf(first)

	for _, cond := range rule.Conditions[1:] {
		rightID := n.getOrCreateAlphaLocked(cond)
		cr.AlphaSteps = append(cr.AlphaSteps, alphaStep{NodeID: rightID, Condition: cond})

		joinConds := deriveJoinConditions(prefixFields, cond)
		betaID := n.getOrCreateBetaLocked(joinConds, prefix, rightID)
		cr.BetaSteps = append(cr.BetaSteps, betaStep{NodeID: betaID, JoinConds: joinConds, Left: prefix, Right: rightID})

		prefix = NodeRef{Kind: KindBeta, ID: betaID}
		prefixFields = append(prefixFields, fieldsOf(cond)...)
	}

	terminalID := n.nextID()
	n.terminals[terminalID] = &TerminalNode{
		ID: terminalID, RuleID: rule.ID, RuleName: rule.Name,
		Actions: rule.Actions, Priority: rule.Priority,
	}
	n.attachDownstreamLocked(prefix, NodeRef{Kind: KindTerminal, ID: terminalID})
	cr.TerminalID = terminalID
	cr.TerminalParent = prefix

	n.rules[rule.ID] = cr
	return nil
}

// deriveJoinConditions builds the equality join conditions between a
// rule's condition prefix and its next condition, from fields the two
// share (§4.3.1). No shared fields yields a cross-product beta (empty
// JoinConditions). Conditions are deduplicated and sorted for
// deterministic test order.
func deriveJoinConditions(prefixFields []string, next types.Condition) []JoinCondition {
	prefixSet := make(map[string]struct{}, len(prefixFields))
	for _, f := range prefixFields {
		prefixSet[f] = struct{}{}
	}
	seen := make(map[string]struct{})
	var out []JoinCondition
	for _, f := range fieldsOf(next) {
		if _, shared := prefixSet[f]; !shared {
			continue
		}
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, JoinCondition{LeftField: f, RightField: f, Operator: types.OpEqual})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].LeftField != out[j].LeftField {
			return out[i].LeftField < out[j].LeftField
		}
		if out[i].RightField != out[j].RightField {
			return out[i].RightField < out[j].RightField
		}
		return out[i].Operator < out[j].Operator
	})
	return out
}

func (n *Network) getOrCreateAlphaLocked(cond types.Condition) NodeID {
	if id, found, _ := n.registry.findOrReserveAlpha(cond); found {
		return id
	}
	id := n.nextID()
	indexField := ""
	if simple, ok := cond.(types.SimpleCondition); ok {
		indexField = simple.Field
	}
	n.alphas[id] = &AlphaNode{ID: id, Condition: cond, IndexField: indexField, FactIDs: make(map[types.FactID]struct{})}
	n.registry.registerAlpha(cond, id)
	if indexField != "" {
		n.fieldIndex[indexField] = append(n.fieldIndex[indexField], id)
	} else {
		n.unindexedAlphas = append(n.unindexedAlphas, id)
	}
	return id
}

func (n *Network) getOrCreateBetaLocked(joinConds []JoinCondition, left NodeRef, right NodeID) NodeID {
	if id, found := n.registry.findOrReserveBeta(joinConds, left, right); found {
		return id
	}
	id := n.nextID()
	n.betas[id] = &BetaNode{
		ID: id, JoinConditions: joinConds, LeftParent: left, RightParent: right,
		Tokens: make(map[TokenID]Token),
	}
	n.registry.registerBeta(joinConds, left, right, id)
	n.attachDownstreamLocked(left, NodeRef{Kind: KindBeta, ID: id})
	n.attachDownstreamLocked(NodeRef{Kind: KindAlpha, ID: right}, NodeRef{Kind: KindBeta, ID: id})
	return id
}

func (n *Network) attachDownstreamLocked(parent, child NodeRef) {
	switch parent.Kind {
	case KindAlpha:
		a := n.alphas[parent.ID]
		a.Downstream = append(a.Downstream, child)
	case KindBeta:
		b := n.betas[parent.ID]
		b.Downstream = append(b.Downstream, child)
	}
}

func (n *Network) detachDownstreamLocked(parent, child NodeRef) {
	remove := func(refs []NodeRef) []NodeRef {
		for i, r := range refs {
			if r == child {
				return append(refs[:i], refs[i+1:]...)
			}
		}
		return refs
	}
	switch parent.Kind {
	case KindAlpha:
		if a, ok := n.alphas[parent.ID]; ok {
			a.Downstream = remove(a.Downstream)
		}
	case KindBeta:
		if b, ok := n.betas[parent.ID]; ok {
			b.Downstream = remove(b.Downstream)
		}
	}
}

// RemoveRule decrements the refcounts of every node this rule
// contributed, physically deleting any node whose refcount reaches zero
// along with its token memory and index entries (§3's Network Nodes
// invariant).
func (n *Network) RemoveRule(ruleID types.RuleID) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	cr, ok := n.rules[ruleID]
	if !ok {
		return ruleerrors.NewRuleError(uint64(ruleID), "", "rule not found in network", nil)
	}

	delete(n.terminals, cr.TerminalID)
	n.detachDownstreamLocked(cr.TerminalParent, NodeRef{Kind: KindTerminal, ID: cr.TerminalID})

	for i := len(cr.BetaSteps) - 1; i >= 0; i-- {
		bs := cr.BetaSteps[i]
		if !n.registry.releaseBeta(bs.JoinConds, bs.Left, bs.Right, bs.NodeID) {
			continue
		}
		beta, ok := n.betas[bs.NodeID]
		if !ok {
			continue
		}
		n.detachDownstreamLocked(bs.Left, NodeRef{Kind: KindBeta, ID: bs.NodeID})
		n.detachDownstreamLocked(NodeRef{Kind: KindAlpha, ID: bs.Right}, NodeRef{Kind: KindBeta, ID: bs.NodeID})
		for tid, tok := range beta.Tokens {
			n.removeTokenFromIndexLocked(bs.NodeID, tid, tok)
		}
		delete(n.betas, bs.NodeID)
	}

	for i := len(cr.AlphaSteps) - 1; i >= 0; i-- {
		as := cr.AlphaSteps[i]
		if !n.registry.releaseAlpha(as.Condition, as.NodeID) {
			continue
		}
		alpha, ok := n.alphas[as.NodeID]
		if !ok {
			continue
		}
		if alpha.IndexField != "" {
			n.fieldIndex[alpha.IndexField] = removeNodeID(n.fieldIndex[alpha.IndexField], as.NodeID)
		} else {
			n.unindexedAlphas = removeNodeID(n.unindexedAlphas, as.NodeID)
		}
		for f := range alpha.FactIDs {
			if set, ok := n.factAlphas[f]; ok {
				delete(set, as.NodeID)
				if len(set) == 0 {
					delete(n.factAlphas, f)
				}
			}
		}
		delete(n.alphas, as.NodeID)
	}

	delete(n.rules, ruleID)
	return nil
}

func removeNodeID(ids []NodeID, target NodeID) []NodeID {
	for i, id := range ids {
		if id == target {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}

func (n *Network) removeTokenFromIndexLocked(beta NodeID, tok TokenID, token Token) {
	loc := tokenLoc{Beta: beta, Tok: tok}
	for _, f := range token.Facts {
		if set, ok := n.factTokens[f]; ok {
			delete(set, loc)
			if len(set) == 0 {
				delete(n.factTokens, f)
			}
		}
	}
}

// ProcessFacts runs alpha activation and beta joins for every fact in
// the batch (facts must already be present in the network's store),
// then drains the firing queue exactly once (§4.3.2's batch-oriented
// semantics), deduplicated by (rule, token) so a rule never activates
// twice for the same bound token within one batch.
func (n *Network) ProcessFacts(facts []*types.Fact) []Firing {
	n.mu.Lock()
	defer n.mu.Unlock()

	for _, f := range facts {
		n.activateFactLocked(f)
	}

	seen := make(map[string]struct{}, len(n.pending))
	firings := make([]Firing, 0, len(n.pending))
	for _, pf := range n.pending {
		term, ok := n.terminals[pf.Terminal]
		if !ok {
			continue
		}
		key := firingKey(term.RuleID, pf.Token)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		bound := make(map[types.FactID]*types.Fact, len(pf.Token.Facts))
		for _, fid := range pf.Token.Facts {
			if f, ok := n.store.Get(fid); ok {
				bound[fid] = f.Clone()
			}
		}
		firings = append(firings, Firing{
			RuleID: term.RuleID, RuleName: term.RuleName, Actions: term.Actions,
			Token: pf.Token, Priority: term.Priority, BoundFacts: bound,
		})
	}
	n.pending = n.pending[:0]

	sort.SliceStable(firings, func(i, j int) bool { return firings[i].Priority > firings[j].Priority })
	return firings
}

// CurrentMatches returns one Firing per token currently satisfying each
// compiled rule's full condition chain, read directly from the alpha
// fact-sets and beta left-memories that persist across ProcessFacts
// calls rather than from the transient pending queue. A rule's matches
// do not disappear just because a cycle introduced no new or modified
// facts: this is what lets a caller re-fire the same results on an
// unchanged reprocessing instead of only on the cycle a match first
// appeared.
func (n *Network) CurrentMatches() []Firing {
	n.mu.Lock()
	defer n.mu.Unlock()

	var firings []Firing
	for _, cr := range n.rules {
		term, ok := n.terminals[cr.TerminalID]
		if !ok {
			continue
		}
		for _, tok := range n.currentTokensLocked(cr.TerminalParent) {
			bound := make(map[types.FactID]*types.Fact, len(tok.Facts))
			for _, fid := range tok.Facts {
				if f, ok := n.store.Get(fid); ok {
					bound[fid] = f.Clone()
				}
			}
			firings = append(firings, Firing{
				RuleID: term.RuleID, RuleName: term.RuleName, Actions: term.Actions,
				Token: tok, Priority: term.Priority, BoundFacts: bound,
			})
		}
	}

	sort.SliceStable(firings, func(i, j int) bool { return firings[i].Priority > firings[j].Priority })
	return firings
}

// currentTokensLocked returns every token currently satisfying ref,
// recomputing a beta node's join against its right alpha's present
// fact set rather than relying on any historical propagation record.
func (n *Network) currentTokensLocked(ref NodeRef) []Token {
	switch ref.Kind {
	case KindAlpha:
		alpha := n.alphas[ref.ID]
		if alpha == nil {
			return nil
		}
		toks := make([]Token, 0, len(alpha.FactIDs))
		for fid := range alpha.FactIDs {
			toks = append(toks, Token{Facts: []types.FactID{fid}})
		}
		return toks
	case KindBeta:
		beta := n.betas[ref.ID]
		if beta == nil {
			return nil
		}
		rightAlpha := n.alphas[beta.RightParent]
		if rightAlpha == nil {
			return nil
		}
		var toks []Token
		for _, tok := range beta.Tokens {
			for rf := range rightAlpha.FactIDs {
				if n.joinMatchesLocked(beta.JoinConditions, tok, rf) {
					toks = append(toks, extendToken(tok, rf))
				}
			}
		}
		return toks
	default:
		return nil
	}
}

func firingKey(ruleID types.RuleID, tok Token) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d:", ruleID)
	for _, f := range tok.Facts {
		fmt.Fprintf(&sb, "%d,", f)
	}
	return sb.String()
}

// RemoveFact retracts factID from every alpha fact-set and beta token
// memory that held it, transitively: every extended token derived from
// a token containing factID is indexed under factID too (see
// propagateLeftToken), so one pass over factTokens removes the whole
// downstream chain (§4.3.2's retraction edge case).
func (n *Network) RemoveFact(factID types.FactID) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if alphaIDs, ok := n.factAlphas[factID]; ok {
		for alphaID := range alphaIDs {
			if a, ok := n.alphas[alphaID]; ok {
				delete(a.FactIDs, factID)
			}
		}
		delete(n.factAlphas, factID)
	}

	if locs, ok := n.factTokens[factID]; ok {
		for loc := range locs {
			if beta, ok := n.betas[loc.Beta]; ok {
				if tok, ok := beta.Tokens[loc.Tok]; ok {
					n.removeTokenFromIndexLocked(loc.Beta, loc.Tok, tok)
				}
				delete(beta.Tokens, loc.Tok)
			}
		}
	}
}

func (n *Network) activateFactLocked(f *types.Fact) {
	candidates := make(map[NodeID]struct{})
	for field := range f.Fields {
		for _, id := range n.fieldIndex[field] {
			candidates[id] = struct{}{}
		}
	}
	for _, id := range n.unindexedAlphas {
		candidates[id] = struct{}{}
	}

	for id := range candidates {
		alpha := n.alphas[id]
		if alpha == nil || !evaluateCondition(alpha.Condition, f, n.floatEpsilon) {
			continue
		}
		n.admitToAlphaLocked(id, f.ID)
	}
}

func (n *Network) admitToAlphaLocked(alphaID NodeID, factID types.FactID) {
	alpha := n.alphas[alphaID]
	alpha.FactIDs[factID] = struct{}{}
	if n.factAlphas[factID] == nil {
		n.factAlphas[factID] = make(map[NodeID]struct{})
	}
	n.factAlphas[factID][alphaID] = struct{}{}

	for _, ref := range alpha.Downstream {
		switch ref.Kind {
		case KindTerminal:
			n.pending = append(n.pending, pendingFiring{Terminal: ref.ID, Token: Token{Facts: []types.FactID{factID}}})
		case KindBeta:
			beta := n.betas[ref.ID]
			if beta.LeftParent.Kind == KindAlpha && beta.LeftParent.ID == alphaID {
				n.propagateLeftTokenLocked(ref.ID, Token{Facts: []types.FactID{factID}})
			}
			if beta.RightParent == alphaID {
				n.propagateRightFactLocked(ref.ID, factID)
			}
		}
	}
}

func (n *Network) propagateLeftTokenLocked(betaID NodeID, token Token) {
	beta := n.betas[betaID]
	tid := beta.nextTokenID
	beta.nextTokenID++
	beta.Tokens[tid] = token
	loc := tokenLoc{Beta: betaID, Tok: tid}
	for _, f := range token.Facts {
		if n.factTokens[f] == nil {
			n.factTokens[f] = make(map[tokenLoc]struct{})
		}
		n.factTokens[f][loc] = struct{}{}
	}

	rightAlpha := n.alphas[beta.RightParent]
	for rf := range rightAlpha.FactIDs {
		if n.joinMatchesLocked(beta.JoinConditions, token, rf) {
			n.propagateDownstreamLocked(beta.Downstream, extendToken(token, rf))
		}
	}
}

func (n *Network) propagateRightFactLocked(betaID NodeID, factID types.FactID) {
	beta := n.betas[betaID]
	for _, token := range beta.Tokens {
		if n.joinMatchesLocked(beta.JoinConditions, token, factID) {
			n.propagateDownstreamLocked(beta.Downstream, extendToken(token, factID))
		}
	}
}

func (n *Network) propagateDownstreamLocked(refs []NodeRef, token Token) {
	for _, ref := range refs {
		switch ref.Kind {
		case KindTerminal:
			n.pending = append(n.pending, pendingFiring{Terminal: ref.ID, Token: token})
		case KindBeta:
			n.propagateLeftTokenLocked(ref.ID, token)
		}
	}
}

func extendToken(token Token, fact types.FactID) Token {
	facts := make([]types.FactID, len(token.Facts)+1)
	copy(facts, token.Facts)
	facts[len(token.Facts)] = fact
	return Token{Facts: facts}
}

func (n *Network) joinMatchesLocked(joinConds []JoinCondition, token Token, rightFactID types.FactID) bool {
	rightFact, ok := n.store.Get(rightFactID)
	if !ok {
		return false
	}
	for _, jc := range joinConds {
		leftVal, ok := n.resolveFieldLocked(token, jc.LeftField)
		if !ok {
			return false
		}
		rightVal, ok := rightFact.Fields[jc.RightField]
		if !ok {
			return false
		}
		if !applyOperator(jc.Operator, leftVal, rightVal, n.floatEpsilon) {
			return false
		}
	}
	return true
}

func (n *Network) resolveFieldLocked(token Token, field string) (factvalue.Value, bool) {
	for _, fid := range token.Facts {
		f, ok := n.store.Get(fid)
		if !ok {
			continue
		}
		if val, has := f.Fields[field]; has {
			return val, true
		}
	}
	return factvalue.Value{}, false
}
