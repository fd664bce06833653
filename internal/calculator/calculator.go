package calculator

import "github.com/ledgerrules/rete/internal/factvalue"

// Engine ties the lexer/parser, evaluator, registry, and compilation/
// result caches into the single entry point the action executor and
// FormulaAction/CallCalculatorAction use. One Engine is scoped to a
// single rules engine instance (§5: caches are per-engine, never shared
// across engines).
type Engine struct {
	registry    *Registry
	evaluator   *Evaluator
	compileCache *CompilationCache
	resultCache  *ResultCache
}

// NewEngine constructs a calculator Engine with the given cache
// capacities (0 means unbounded).
func NewEngine(registry *Registry, compileCacheSize, resultCacheSize int) *Engine {
	if registry == nil {
		registry = NewRegistry()
	}
	return &Engine{
		registry:     registry,
		evaluator:    NewEvaluator(registry),
		compileCache: NewCompilationCache(compileCacheSize),
		resultCache:  NewResultCache(resultCacheSize),
	}
}

// Registry returns the engine's function/calculator registry, so callers
// can register additional named calculators per §6.3.
func (e *Engine) Registry() *Registry { return e.registry }

// Evaluate parses (or fetches from the compilation cache) expr and
// evaluates it against ctx, serving from the result cache when the same
// expression has already run over an identical context.
func (e *Engine) Evaluate(expr string, ctx Context) (factvalue.Value, error) {
	ctxHash := HashContext(ctx)
	if v, ok := e.resultCache.Get(expr, ctxHash); ok {
		return v, nil
	}

	node, ok := e.compileCache.Get(expr)
	if !ok {
		parsed, err := Parse(expr)
		if err != nil {
			return factvalue.Value{}, err
		}
		node = parsed
		e.compileCache.Put(expr, node)
	}

	v, err := e.evaluator.Eval(node, ctx)
	if err != nil {
		return factvalue.Value{}, err
	}
	e.resultCache.Put(expr, ctxHash, v)
	return v, nil
}

// InvokeCalculator calls a named calculator directly (CallCalculatorAction's
// path, bypassing expression parsing entirely).
func (e *Engine) InvokeCalculator(name string, inputs map[string]factvalue.Value) (factvalue.Value, error) {
	return e.registry.Invoke(name, inputs)
}

// CompilationCacheStats and ResultCacheStats expose the per-cache
// {hits, misses, utilization} of §9.
func (e *Engine) CompilationCacheStats() CacheStats { return e.compileCache.Stats() }
func (e *Engine) ResultCacheStats() CacheStats      { return e.resultCache.Stats() }

// ClearCaches empties both caches, e.g. in response to the memory
// coordinator's pressure-relief pass (§5).
func (e *Engine) ClearCaches() {
	e.compileCache.Clear()
	e.resultCache.Clear()
}

// ReduceMemoryUsage implements the engine/memory.Consumer contract: it
// clears caches outright rather than partially evicting, since a
// compilation/result cache miss is cheap to repay (a re-parse or
// re-evaluate) relative to the complexity of fractional eviction.
func (e *Engine) ReduceMemoryUsage(factor float64) {
	_ = factor
	e.ClearCaches()
}
