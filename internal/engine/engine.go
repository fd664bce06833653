// Package engine implements the §4.8 facade: the single entry point
// that wires the fact store, change tracker, RETE network, aggregation/
// stream pre-evaluation, and action executor into the one-cycle
// process_facts operation, with OpenTelemetry spans and a node-count
// gauge modeled on internal/storage/dolt's instrumentation
// pattern (package-level otel.Tracer/otel.Meter, a span per hot
// operation, attributes describing the call).
package engine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/ledgerrules/rete/internal/action"
	"github.com/ledgerrules/rete/internal/aggregation"
	"github.com/ledgerrules/rete/internal/calculator"
	"github.com/ledgerrules/rete/internal/changetracker"
	"github.com/ledgerrules/rete/internal/config"
	"github.com/ledgerrules/rete/internal/engine/cache"
	"github.com/ledgerrules/rete/internal/engine/memory"
	"github.com/ledgerrules/rete/internal/engine/pool"
	"github.com/ledgerrules/rete/internal/factstore"
	"github.com/ledgerrules/rete/internal/factvalue"
	"github.com/ledgerrules/rete/internal/rete"
	"github.com/ledgerrules/rete/internal/ruleerrors"
	"github.com/ledgerrules/rete/internal/stream"
	"github.com/ledgerrules/rete/internal/types"
)

var tracer = otel.Tracer("github.com/ledgerrules/rete/internal/engine")

// ruleKind distinguishes how a registered rule is evaluated.
type ruleKind int

const (
	kindNetwork ruleKind = iota // compiled into the RETE network
	kindGlobal                  // evaluated directly, each cycle, over the whole fact set (Aggregation/Stream conditions)
)

type registeredRule struct {
	rule *types.Rule
	kind ruleKind
}

// Engine is the facade of §4.8, bundling every subsystem behind the
// five public operations plus lookup_fact_by_id from §6.1.
type Engine struct {
	store    factstore.Store
	network  *rete.Network
	tracker  *changetracker.Tracker
	calc     *calculator.Engine
	executor *action.Executor
	pools    *pool.Pools
	scratch  *cache.ScratchBuffers
	coord    *memory.Coordinator

	rules map[types.RuleID]registeredRule

	meter            metric.Meter
	nodesActiveGauge metric.Int64ObservableGauge

	streamJS nats.JetStreamContext
}

// SetStreamJetStream attaches a JetStream context that every stream
// window a StreamCondition evaluation opens will publish its close
// events to, the engine-facade counterpart of eventbus.Bus.SetJetStream.
// Disabled (nil) by default; streamWindowBindings only attaches it to
// the per-call Processor when set.
func (e *Engine) SetStreamJetStream(js nats.JetStreamContext) {
	e.streamJS = js
}

// New constructs an engine instance. notifier may be nil, in which case
// TriggerAlertAction results are recorded but never delivered anywhere.
func New(store factstore.Store, calc *calculator.Engine, notifier action.Notifier) *Engine {
	e := &Engine{
		store:    store,
		network:  rete.NewNetwork(store),
		tracker:  changetracker.New(),
		calc:     calc,
		executor: action.New(store, calc, notifier),
		pools:    pool.New(),
		scratch:  cache.NewScratchBuffers(64),
		coord:    memory.New(0), // pressure checks disabled until ConfigureMemoryPressure sets a threshold
		rules:    make(map[types.RuleID]registeredRule),
	}
	e.coord.Register(memory.PriorityCache, calc)
	e.coord.Register(memory.PriorityCache, e.scratch)
	e.coord.Register(memory.PriorityPool, e.pools)

	e.meter = otel.Meter("github.com/ledgerrules/rete/internal/engine")
	gauge, err := e.meter.Int64ObservableGauge(
		"rete.nodes_active",
		metric.WithDescription("alpha + beta + terminal nodes currently compiled into the engine's network"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			s := e.network.GetStats()
			o.Observe(int64(s.AlphaNodeCount + s.BetaNodeCount + s.TerminalNodeCount))
			return nil
		}),
	)
	if err == nil {
		e.nodesActiveGauge = gauge
	}
	return e
}

// ApplyConfig wires a loaded config.EngineConfig into the engine's
// already-constructed subsystems: the network's float-equality
// tolerance and, if a nonzero threshold is set, the memory coordinator.
// Cache/pool capacities set at construction time (compilation and
// result cache sizes) are not retroactively resizable and so are
// expected to be read from the same EngineConfig by the caller before
// constructing the calculator.Engine passed to New.
func (e *Engine) ApplyConfig(cfg config.EngineConfig) {
	e.network.SetFloatEpsilon(cfg.FloatEpsilon())
	if cfg.MemoryPressureThreshold > 0 {
		e.ConfigureMemoryPressure(cfg.MemoryPressureThreshold)
	}
}

// ConfigureMemoryPressure sets the byte threshold at which the memory
// coordinator shrinks registered caches and pools, per §5.
func (e *Engine) ConfigureMemoryPressure(thresholdBytes int64) {
	e.coord = memory.New(thresholdBytes)
	e.coord.Register(memory.PriorityCache, e.calc)
	e.coord.Register(memory.PriorityCache, e.scratch)
	e.coord.Register(memory.PriorityPool, e.pools)
}

// AddRule compiles rule per §4.8: Simple/Complex-condition rules
// compile into the RETE network; rules carrying an Aggregation or
// Stream condition bypass the network entirely and are re-evaluated
// globally on every ProcessFacts cycle (the compilation-boundary
// decision recorded in DESIGN.md, since §4.3's alpha/beta model has no
// representation for a condition that spans many facts at once).
func (e *Engine) AddRule(ctx context.Context, rule *types.Rule) error {
	ctx, span := tracer.Start(ctx, "rete.add_rule", trace.WithAttributes(
		attribute.Int64("rule.id", int64(rule.ID)),
		attribute.String("rule.name", rule.Name),
	))
	defer span.End()
	_ = ctx

	if err := rule.Validate(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return ruleerrors.NewRuleError(uint64(rule.ID), rule.Name, err.Error(), err)
	}

	kind := kindNetwork
	for _, c := range rule.Conditions {
		switch c.(type) {
		case types.AggregationCondition, types.StreamCondition:
			kind = kindGlobal
		}
	}

	if kind == kindNetwork {
		if err := e.network.AddRule(rule); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return err
		}
	}
	e.rules[rule.ID] = registeredRule{rule: rule, kind: kind}
	return nil
}

// RemoveRule deletes a rule and, for network-compiled rules, releases
// its nodes.
func (e *Engine) RemoveRule(ruleID types.RuleID) error {
	rr, ok := e.rules[ruleID]
	if !ok {
		return ruleerrors.NewRuleError(uint64(ruleID), "", "rule not found", nil)
	}
	if rr.kind == kindNetwork {
		if err := e.network.RemoveRule(ruleID); err != nil {
			return err
		}
	}
	delete(e.rules, ruleID)
	return nil
}

// ProcessFacts runs one cycle of §4.3.2: facts is the complete current
// fact set for this cycle (the change tracker diffs it against the
// previous cycle's set, per §4.2's "given the full current fact set").
func (e *Engine) ProcessFacts(ctx context.Context, facts []*types.Fact) ([]types.RuleExecutionResult, error) {
	ctx, span := tracer.Start(ctx, "rete.process_facts", trace.WithAttributes(
		attribute.Int("fact.count", len(facts)),
	))
	defer span.End()
	_ = ctx

	plan := e.tracker.Classify(facts)
	byID := make(map[types.FactID]*types.Fact, len(facts))
	for _, f := range facts {
		byID[f.ID] = f
	}

	for _, id := range plan.New {
		if f, ok := byID[id]; ok {
			if _, err := e.store.Insert(f); err != nil {
				span.RecordError(err)
				return nil, ruleerrors.NewFactStoreError(uint64(id), "insert", err.Error(), err)
			}
		}
	}
	for _, id := range plan.Modified {
		if f, ok := byID[id]; ok {
			if err := e.store.Update(id, f.Fields); err != nil {
				span.RecordError(err)
				return nil, ruleerrors.NewFactStoreError(uint64(id), "update", err.Error(), err)
			}
		}
	}
	for _, id := range plan.Deleted {
		e.store.Remove(id)
		e.network.RemoveFact(id)
	}

	networkBatch := e.pools.GetFactVec()
	defer e.pools.PutFactVec(networkBatch)
	for _, id := range plan.NewOrModified() {
		if f, ok := e.store.Get(id); ok {
			networkBatch = append(networkBatch, f)
		}
	}

	// ProcessFacts admits networkBatch into the alpha/beta memories so new
	// or modified facts start contributing to matches; its own return
	// value is the newly-queued activity from this batch only and is not
	// what gets reported. CurrentMatches reads back the network's full,
	// persistent match set afterward, so a cycle that classified every
	// fact Unchanged (an empty networkBatch) still reports every rule
	// presently satisfied, per invariant 2 in §8: two identical
	// process_facts calls return the same rule_execution_result list,
	// modulo mutation actions that are idempotent on already-mutated
	// facts. plan only decides which facts are written to the store and
	// admitted to the network, never which matches get reported; no
	// efficiency figure is computed from it.
	e.network.ProcessFacts(networkBatch)
	matches := e.network.CurrentMatches()

	results := make([]types.RuleExecutionResult, 0, len(matches))
	for _, fr := range matches {
		results = append(results, e.runFiring(fr.RuleID, fr.RuleName, fr.Actions, fr.Token, fr.BoundFacts))
	}

	globalResults, err := e.evaluateGlobalRules(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	results = append(results, globalResults...)

	span.SetAttributes(attribute.Int("result.count", len(results)))
	e.coord.ReportUsage(e.estimateMemoryUsage())
	e.coord.CheckPressure()
	return results, nil
}

func (e *Engine) runFiring(ruleID types.RuleID, ruleName string, actions []types.Action, token rete.Token, bound map[types.FactID]*types.Fact) types.RuleExecutionResult {
	var current *types.Fact
	if len(token.Facts) > 0 {
		current = bound[token.Facts[0]]
	}
	if current == nil {
		current = &types.Fact{Fields: map[string]factvalue.Value{}}
	}
	return types.RuleExecutionResult{
		RuleID:    ruleID,
		RuleName:  ruleName,
		MatchedAt: time.Now(),
		Results:   e.executor.Run(current, actions),
	}
}

// evaluateGlobalRules re-runs every Aggregation/Stream-bearing rule
// against the engine's current fact set each cycle, per the
// compilation-boundary decision in DESIGN.md. The alias value each
// condition binds is folded onto a synthetic fact passed to the
// executor, since no single stored fact "is" an aggregate. A rule
// carrying a StreamCondition can produce more than one
// RuleExecutionResult in a single cycle, one per completed window whose
// Having clause (if any) is satisfied, so scenario S6's three
// independent sessions each get their own firing decision instead of
// collapsing into whichever window happened to close last.
func (e *Engine) evaluateGlobalRules(_ context.Context) ([]types.RuleExecutionResult, error) {
	var ids []types.RuleID
	for id, rr := range e.rules {
		if rr.kind == kindGlobal {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	all := e.store.All()
	var results []types.RuleExecutionResult
	for _, id := range ids {
		rr := e.rules[id]
		binds, err := e.evaluateRuleBindings(rr.rule.Conditions, all)
		if err != nil {
			return nil, err
		}
		for _, bound := range binds {
			synthetic := &types.Fact{Fields: bound}
			results = append(results, types.RuleExecutionResult{
				RuleID:    rr.rule.ID,
				RuleName:  rr.rule.Name,
				MatchedAt: time.Now(),
				Results:   e.executor.Run(synthetic, rr.rule.Actions),
			})
		}
	}
	return results, nil
}

// evaluateRuleBindings evaluates a global rule's Simple/Complex/
// Aggregation conditions once (their alias bindings, if any, apply to
// every firing alike), then fans out over its StreamCondition (if it
// has one) to produce one merged binding map per qualifying window.
// A rule with no StreamCondition always produces at most one binding,
// matching the single-firing-per-cycle semantics Aggregation-only rules
// already had.
func (e *Engine) evaluateRuleBindings(conds []types.Condition, facts []*types.Fact) ([]map[string]factvalue.Value, error) {
	var streamCond *types.StreamCondition
	others := make([]types.Condition, 0, len(conds))
	for _, c := range conds {
		if sc, ok := c.(types.StreamCondition); ok {
			scCopy := sc
			streamCond = &scCopy
			continue
		}
		others = append(others, c)
	}

	base := map[string]factvalue.Value{}
	ok, err := e.evaluateConditionsGlobally(others, facts, base)
	if err != nil || !ok {
		return nil, err
	}

	if streamCond == nil {
		return []map[string]factvalue.Value{base}, nil
	}

	windowBinds, err := e.streamWindowBindings(*streamCond, facts)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]factvalue.Value, 0, len(windowBinds))
	for _, wb := range windowBinds {
		merged := make(map[string]factvalue.Value, len(base)+len(wb))
		for k, v := range base {
			merged[k] = v
		}
		for k, v := range wb {
			merged[k] = v
		}
		out = append(out, merged)
	}
	return out, nil
}

func (e *Engine) evaluateConditionsGlobally(conds []types.Condition, facts []*types.Fact, bound map[string]factvalue.Value) (bool, error) {
	for _, c := range conds {
		switch cond := c.(type) {
		case types.AggregationCondition:
			ok, err := e.evaluateAggregationCondition(cond, facts, bound)
			if err != nil || !ok {
				return false, err
			}
		default:
			if !anyFactSatisfies(cond, facts) {
				return false, nil
			}
		}
	}
	return true, nil
}

// anyFactSatisfies reports whether some fact in facts satisfies a
// Simple/Complex condition embedded alongside an Aggregation/Stream
// condition in the same rule, using the network's own per-fact
// evaluator so the two evaluation paths agree on Simple/Complex
// semantics.
func anyFactSatisfies(cond types.Condition, facts []*types.Fact) bool {
	for _, f := range facts {
		if rete.Evaluate(cond, f) {
			return true
		}
	}
	return false
}

func (e *Engine) evaluateAggregationCondition(cond types.AggregationCondition, facts []*types.Fact, bound map[string]factvalue.Value) (bool, error) {
	spec := aggregation.Spec{
		GroupBy:         cond.GroupBy,
		SourceField:     cond.SourceField,
		AggregationType: cond.AggregationType,
		Percentile:      cond.Percentile,
	}
	results, err := aggregation.Aggregate(facts, spec)
	if err != nil {
		return false, err
	}
	if len(results) == 0 {
		return false, nil
	}
	val := results[0].AggregatedValue
	bound[cond.Alias] = val
	if cond.Having == nil {
		return true, nil
	}
	havingFact := &types.Fact{Fields: map[string]factvalue.Value{cond.Alias: val}}
	return rete.Evaluate(cond.Having, havingFact), nil
}

// streamWindowBindings evaluates cond against facts and returns one
// {alias: aggregated value} binding per window that closed this cycle
// and satisfies cond's Having clause (if any). The Processor is
// constructed fresh per call and discarded at the end of it, so Flush
// force-closes every window this batch produced rather than waiting on
// a watermark that, advanced only to "now", would never pass a window
// End sized in minutes or hours.
func (e *Engine) streamWindowBindings(cond types.StreamCondition, facts []*types.Fact) ([]map[string]factvalue.Value, error) {
	proc := stream.NewProcessor(cond.WindowSpec, 0)
	if e.streamJS != nil {
		proc.SetJetStream(e.streamJS)
	}
	for _, f := range facts {
		if cond.Filter != nil && !rete.Evaluate(cond.Filter, f) {
			continue
		}
		proc.Ingest(streamGroupKey(f, cond.GroupBy), f.Timestamp, f)
	}
	proc.Flush()

	spec := aggregation.Spec{GroupBy: cond.GroupBy, SourceField: cond.SourceField, AggregationType: cond.Aggregation}
	var out []map[string]factvalue.Value
	for _, w := range proc.CompletedWindows() {
		results, err := aggregation.Aggregate(w.Facts, spec)
		if err != nil {
			return nil, err
		}
		if len(results) == 0 {
			continue
		}
		val := results[0].AggregatedValue
		if cond.Having != nil {
			havingFact := &types.Fact{Fields: map[string]factvalue.Value{cond.Alias: val}}
			if !rete.Evaluate(cond.Having, havingFact) {
				continue
			}
		}
		proc.Finalize(w.ID)
		out = append(out, map[string]factvalue.Value{cond.Alias: val})
	}
	return out, nil
}

// streamGroupKey concatenates the named fields' string forms into one
// grouping key for the stream processor, which groups windows by an
// opaque key string rather than field values directly.
func streamGroupKey(f *types.Fact, groupBy []string) string {
	if len(groupBy) == 0 {
		return "*"
	}
	key := ""
	for _, field := range groupBy {
		v, ok := f.Fields[field]
		if !ok {
			key += "\x1f<missing>"
			continue
		}
		key += fmt.Sprintf("\x1f%v", v)
	}
	return key
}

// Stats is the engine-level snapshot of §4.8's get_stats().
type Stats struct {
	RuleCount        int
	FactCount        int
	NodeCount        int
	MemoryUsageBytes int64
}

// GetStats reports the engine-level counters of §4.8.
func (e *Engine) GetStats() Stats {
	ns := e.network.GetStats()
	return Stats{
		RuleCount:        len(e.rules),
		FactCount:        e.store.Len(),
		NodeCount:        ns.AlphaNodeCount + ns.BetaNodeCount + ns.TerminalNodeCount,
		MemoryUsageBytes: e.estimateMemoryUsage(),
	}
}

// Clear removes every rule and every fact, returning the engine to its
// just-constructed state.
func (e *Engine) Clear() {
	for id := range e.rules {
		_ = e.RemoveRule(id)
	}
	e.ClearFacts()
}

// ClearFacts removes every fact from the store and network without
// touching rule definitions.
func (e *Engine) ClearFacts() {
	for _, f := range e.store.All() {
		e.store.Remove(f.ID)
		e.network.RemoveFact(f.ID)
	}
	e.tracker = changetracker.New()
}

// LookupFactByID returns the fact with the given external id, per
// §6.1. External ids are not a Fields-map entry, so this is a linear
// scan; no Non-goal excludes indexing it, but this facade has no
// high-cardinality external-id workload to justify one yet.
func (e *Engine) LookupFactByID(externalID string) (*types.Fact, bool) {
	for _, f := range e.store.All() {
		if f.ExternalID == externalID {
			return f, true
		}
	}
	return nil, false
}

func (e *Engine) estimateMemoryUsage() int64 {
	ns := e.network.GetStats()
	const bytesPerFact = 256
	const bytesPerNode = 128
	poolStats := e.pools.Stats()
	scratchStats := e.scratch.Stats()
	usage := int64(e.store.Len())*bytesPerFact +
		int64(ns.AlphaNodeCount+ns.BetaNodeCount+ns.TerminalNodeCount)*bytesPerNode +
		(poolStats.Gets-poolStats.Puts)*64 +
		int64(scratchStats.Utilization*1024)
	if usage < 0 {
		usage = 0
	}
	return usage
}
