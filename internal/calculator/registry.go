package calculator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ledgerrules/rete/internal/factvalue"
)

// FieldSpec describes one named input a Calculator requires, matching
// §6.3's registration contract ({name, type, required}).
type FieldSpec struct {
	Name     string
	Type     factvalue.Kind
	Required bool
}

// Func is the callable body of a registered Calculator.
type Func func(inputs map[string]factvalue.Value) (factvalue.Value, error)

// Calculator is one named, schema-carrying extension point, modeled on
// formula.Step/VarDef's pairing of a named operation with a
// declared variable schema (internal/formula/types.go).
type Calculator struct {
	Name           string
	RequiredFields []FieldSpec
	Fn             Func
	// External marks a calculator that performs I/O (per §6.3, a caller
	// may register one backed by a remote service); such calculators are
	// invoked through a bounded backoff.Retry so a transient failure
	// (an error returned by Fn that itself implements a Temporary() bool
	// method returning true) doesn't immediately fail the action.
	External bool
}

// Registry holds named calculators, consulted both by CallCalculatorAction
// (§6.1 action) and by the DSL's function-call expressions (§4.4),
// unified into one pluggable lookup.
type Registry struct {
	mu          sync.RWMutex
	calculators map[string]Calculator
}

// NewRegistry constructs a Registry pre-populated with the ten required
// built-ins of §4.4 plus the string and date built-ins (registerBuiltins).
func NewRegistry() *Registry {
	r := &Registry{calculators: make(map[string]Calculator)}
	registerBuiltins(r)
	return r
}

// Register adds or replaces a named calculator.
func (r *Registry) Register(c Calculator) error {
	if c.Name == "" {
		return fmt.Errorf("calculator: registered calculator must have a name")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calculators[c.Name] = c
	return nil
}

// Get returns the named calculator and whether it was found.
func (r *Registry) Get(name string) (Calculator, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.calculators[name]
	return c, ok
}

// temporary is implemented by errors that should trigger a retry when
// Invoke calls an External calculator.
type temporary interface {
	Temporary() bool
}

// Invoke calls the named calculator with inputs, retrying transient
// failures from External calculators with a short capped backoff (per
// SPEC_FULL.md's domain-stack wiring of cenkalti/backoff). A calculator
// that exhausts its retries still returns an error rather than panicking
// or aborting the caller's cycle — per §4.7, the action executor is
// responsible for capturing it as an ErrorResult.
func (r *Registry) Invoke(name string, inputs map[string]factvalue.Value) (factvalue.Value, error) {
	calc, ok := r.Get(name)
	if !ok {
		return factvalue.Value{}, &CalcError{Kind: ErrUnknownVariable, Message: "unknown calculator", Variable: name}
	}
	if err := validateInputs(calc, inputs); err != nil {
		return factvalue.Value{}, err
	}
	if !calc.External {
		return calc.Fn(inputs)
	}

	var result factvalue.Value
	bo := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3)
	err := backoff.Retry(func() error {
		v, err := calc.Fn(inputs)
		if err != nil {
			if t, ok := err.(temporary); ok && t.Temporary() {
				return err
			}
			return backoff.Permanent(err)
		}
		result = v
		return nil
	}, backoff.WithContext(bo, context.Background()))
	return result, err
}

func validateInputs(calc Calculator, inputs map[string]factvalue.Value) error {
	for _, f := range calc.RequiredFields {
		if !f.Required {
			continue
		}
		if _, ok := inputs[f.Name]; !ok {
			return newArgumentArity(calc.Name, len(calc.RequiredFields), len(inputs))
		}
	}
	return nil
}

// withTimeout is a small helper external calculators may use to bound
// their own I/O; kept here rather than in builtins.go since it has no
// built-in call site of its own.
func withTimeout(d time.Duration, fn func() (factvalue.Value, error)) (factvalue.Value, error) {
	ch := make(chan struct {
		v   factvalue.Value
		err error
	}, 1)
	go func() {
		v, err := fn()
		ch <- struct {
			v   factvalue.Value
			err error
		}{v, err}
	}()
	select {
	case r := <-ch:
		return r.v, r.err
	case <-time.After(d):
		return factvalue.Value{}, &CalcError{Kind: ErrUnsupportedOperator, Message: "timed out"}
	}
}
