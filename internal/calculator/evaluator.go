package calculator

import (
	"fmt"
	"math"

	"github.com/ledgerrules/rete/internal/factvalue"
)

// Epsilon is the tolerance used by the calculator's own equality
// operator (==, !=), per §4.3.2/§9: bitwise in simple conditions,
// ε-based here, using machine epsilon per "ε = machine
// epsilon" requirement.
const Epsilon = 2.220446049250313e-16

// Context is the variable-binding environment an expression evaluates
// against — ordinarily a fact's field map.
type Context map[string]factvalue.Value

// Evaluator evaluates a parsed expression against a Context, dispatching
// function calls to a Registry.
type Evaluator struct {
	registry *Registry
}

// NewEvaluator constructs an Evaluator bound to registry (nil is
// permitted; function calls then always fail with an ErrUnknownVariable
// error naming the function).
func NewEvaluator(registry *Registry) *Evaluator {
	return &Evaluator{registry: registry}
}

// Eval evaluates node against ctx.
func (e *Evaluator) Eval(node Node, ctx Context) (factvalue.Value, error) {
	switch n := node.(type) {
	case NumberLit:
		if n.IsFloat {
			return factvalue.Float(n.Float), nil
		}
		return factvalue.Int(n.Int), nil
	case StringLit:
		return factvalue.String(n.Value), nil
	case BoolLit:
		return factvalue.Bool(n.Value), nil
	case NullLit:
		return factvalue.Null(), nil
	case Ident:
		v, ok := ctx[n.Name]
		if !ok {
			return factvalue.Value{}, newUnknownVariable(n.Name)
		}
		return v, nil
	case FieldAccess:
		return e.evalFieldAccess(n, ctx)
	case IndexExpr:
		return e.evalIndex(n, ctx)
	case ArrayLit:
		items := make([]factvalue.Value, len(n.Items))
		for i, it := range n.Items {
			v, err := e.Eval(it, ctx)
			if err != nil {
				return factvalue.Value{}, err
			}
			items[i] = v
		}
		return factvalue.Array(items), nil
	case ObjectLit:
		m := make(map[string]factvalue.Value, len(n.Keys))
		for i, k := range n.Keys {
			v, err := e.Eval(n.Values[i], ctx)
			if err != nil {
				return factvalue.Value{}, err
			}
			m[k] = v
		}
		return factvalue.Object(m), nil
	case UnaryOp:
		return e.evalUnary(n, ctx)
	case BinaryOp:
		return e.evalBinary(n, ctx)
	case CallExpr:
		return e.evalCall(n, ctx)
	case IfExpr:
		cond, err := e.Eval(n.Cond, ctx)
		if err != nil {
			return factvalue.Value{}, err
		}
		b, truthy := cond.Bool()
		if !truthy {
			return factvalue.Value{}, newTypeMismatch("if", "condition is not a boolean")
		}
		if b {
			return e.Eval(n.Then, ctx)
		}
		return e.Eval(n.Else, ctx)
	case CondSetExpr:
		for _, clause := range n.Clauses {
			cond, err := e.Eval(clause.Cond, ctx)
			if err != nil {
				return factvalue.Value{}, err
			}
			b, truthy := cond.Bool()
			if !truthy {
				return factvalue.Value{}, newTypeMismatch("cond", "clause condition is not a boolean")
			}
			if b {
				return e.Eval(clause.Result, ctx)
			}
		}
		return e.Eval(n.Default, ctx)
	default:
		return factvalue.Value{}, newUnsupportedOperator("unknown node")
	}
}

func (e *Evaluator) evalFieldAccess(n FieldAccess, ctx Context) (factvalue.Value, error) {
	obj, err := e.Eval(n.Object, ctx)
	if err != nil {
		return factvalue.Value{}, err
	}
	fields, ok := obj.Fields()
	if !ok {
		return factvalue.Value{}, newTypeMismatch("field_access", "not an object")
	}
	v, ok := fields[n.Field]
	if !ok {
		return factvalue.Value{}, newUnknownVariable(n.Field)
	}
	return v, nil
}

func (e *Evaluator) evalIndex(n IndexExpr, ctx Context) (factvalue.Value, error) {
	obj, err := e.Eval(n.Object, ctx)
	if err != nil {
		return factvalue.Value{}, err
	}
	items, ok := obj.Items()
	if !ok {
		return factvalue.Value{}, newTypeMismatch("index", "not an array")
	}
	idxVal, err := e.Eval(n.Index, ctx)
	if err != nil {
		return factvalue.Value{}, err
	}
	idx64, ok := idxVal.AsInt()
	if !ok {
		return factvalue.Value{}, newTypeMismatch("index", "index is not an integer")
	}
	idx := int(idx64)
	if idx < 0 {
		idx += len(items)
	}
	if idx < 0 || idx >= len(items) {
		return factvalue.Value{}, newArrayIndexOOB(int(idx64), len(items))
	}
	return items[idx], nil
}

func (e *Evaluator) evalUnary(n UnaryOp, ctx Context) (factvalue.Value, error) {
	v, err := e.Eval(n.Operand, ctx)
	if err != nil {
		return factvalue.Value{}, err
	}
	switch n.Op {
	case TokenMinus:
		f, ok := v.AsFloat64()
		if !ok {
			return factvalue.Value{}, newTypeMismatch("unary-", "operand is not numeric")
		}
		if v.Kind() == factvalue.KindInteger {
			i, _ := v.Int()
			return factvalue.Int(-i), nil
		}
		return factvalue.Float(-f), nil
	case TokenBang:
		b, ok := v.Bool()
		if !ok {
			return factvalue.Value{}, newTypeMismatch("unary!", "operand is not a boolean")
		}
		return factvalue.Bool(!b), nil
	default:
		return factvalue.Value{}, newUnsupportedOperator(n.Op.String())
	}
}

func (e *Evaluator) evalBinary(n BinaryOp, ctx Context) (factvalue.Value, error) {
	left, err := e.Eval(n.Left, ctx)
	if err != nil {
		return factvalue.Value{}, err
	}

	// Short-circuit boolean operators evaluate Right lazily.
	switch n.Op {
	case TokenAndAnd:
		lb, ok := left.Bool()
		if !ok {
			return factvalue.Value{}, newTypeMismatch("&&", "left operand is not a boolean")
		}
		if !lb {
			return factvalue.Bool(false), nil
		}
		right, err := e.Eval(n.Right, ctx)
		if err != nil {
			return factvalue.Value{}, err
		}
		rb, ok := right.Bool()
		if !ok {
			return factvalue.Value{}, newTypeMismatch("&&", "right operand is not a boolean")
		}
		return factvalue.Bool(rb), nil
	case TokenOrOr:
		lb, ok := left.Bool()
		if !ok {
			return factvalue.Value{}, newTypeMismatch("||", "left operand is not a boolean")
		}
		if lb {
			return factvalue.Bool(true), nil
		}
		right, err := e.Eval(n.Right, ctx)
		if err != nil {
			return factvalue.Value{}, err
		}
		rb, ok := right.Bool()
		if !ok {
			return factvalue.Value{}, newTypeMismatch("||", "right operand is not a boolean")
		}
		return factvalue.Bool(rb), nil
	}

	right, err := e.Eval(n.Right, ctx)
	if err != nil {
		return factvalue.Value{}, err
	}

	switch n.Op {
	case TokenPlus:
		return arith(n.Op, left, right)
	case TokenMinus, TokenStar, TokenSlash, TokenPercent, TokenStarStar:
		return arith(n.Op, left, right)
	case TokenEqEq:
		return factvalue.Bool(calcEqual(left, right)), nil
	case TokenNotEq:
		return factvalue.Bool(!calcEqual(left, right)), nil
	case TokenLess, TokenLessEq, TokenGreater, TokenGreaterEq:
		return compareOp(n.Op, left, right)
	default:
		return factvalue.Value{}, newUnsupportedOperator(n.Op.String())
	}
}

// calcEqual implements the calculator's ε-based float equality (§9,
// invariant 8), distinct from factvalue.Value.Equal's bitwise float
// comparison used by simple conditions. String concatenation via '+' is
// handled in arith, not here.
func calcEqual(a, b factvalue.Value) bool {
	if a.Kind() == factvalue.KindFloat || b.Kind() == factvalue.KindFloat {
		af, aok := a.AsFloat64()
		bf, bok := b.AsFloat64()
		if aok && bok {
			if math.IsNaN(af) && math.IsNaN(bf) {
				return true
			}
			return math.Abs(af-bf) <= Epsilon*math.Max(1, math.Max(math.Abs(af), math.Abs(bf)))
		}
	}
	return a.Equal(b)
}

func arith(op TokenType, a, b factvalue.Value) (factvalue.Value, error) {
	if op == TokenPlus && a.Kind() == factvalue.KindString && b.Kind() == factvalue.KindString {
		as, _ := a.Str()
		bs, _ := b.Str()
		return factvalue.String(as + bs), nil
	}
	af, aok := a.AsFloat64()
	bf, bok := b.AsFloat64()
	if !aok || !bok {
		return factvalue.Value{}, newTypeMismatch(op.String(), "operand is not numeric")
	}
	bothInt := a.Kind() == factvalue.KindInteger && b.Kind() == factvalue.KindInteger

	switch op {
	case TokenPlus:
		if bothInt {
			ai, _ := a.Int()
			bi, _ := b.Int()
			return factvalue.Int(ai + bi), nil
		}
		return factvalue.Float(af + bf), nil
	case TokenMinus:
		if bothInt {
			ai, _ := a.Int()
			bi, _ := b.Int()
			return factvalue.Int(ai - bi), nil
		}
		return factvalue.Float(af - bf), nil
	case TokenStar:
		if bothInt {
			ai, _ := a.Int()
			bi, _ := b.Int()
			return factvalue.Int(ai * bi), nil
		}
		return factvalue.Float(af * bf), nil
	case TokenSlash:
		if bf == 0 {
			return factvalue.Value{}, newDivisionByZero("/")
		}
		if bothInt {
			ai, _ := a.Int()
			bi, _ := b.Int()
			if ai%bi == 0 {
				return factvalue.Int(ai / bi), nil
			}
		}
		return factvalue.Float(af / bf), nil
	case TokenPercent:
		if bf == 0 {
			return factvalue.Value{}, newDivisionByZero("%")
		}
		if bothInt {
			ai, _ := a.Int()
			bi, _ := b.Int()
			return factvalue.Int(ai % bi), nil
		}
		return factvalue.Float(math.Mod(af, bf)), nil
	case TokenStarStar:
		if bothInt && bf >= 0 {
			ai, _ := a.Int()
			bi, _ := b.Int()
			return factvalue.Int(intPow(ai, bi)), nil
		}
		return factvalue.Float(math.Pow(af, bf)), nil
	default:
		return factvalue.Value{}, newUnsupportedOperator(op.String())
	}
}

func intPow(base, exp int64) int64 {
	var result int64 = 1
	for i := int64(0); i < exp; i++ {
		result *= base
	}
	return result
}

func compareOp(op TokenType, a, b factvalue.Value) (factvalue.Value, error) {
	c, err := a.Compare(b)
	if err != nil {
		return factvalue.Value{}, newTypeMismatch(op.String(), err.Error())
	}
	switch op {
	case TokenLess:
		return factvalue.Bool(c < 0), nil
	case TokenLessEq:
		return factvalue.Bool(c <= 0), nil
	case TokenGreater:
		return factvalue.Bool(c > 0), nil
	case TokenGreaterEq:
		return factvalue.Bool(c >= 0), nil
	default:
		return factvalue.Value{}, newUnsupportedOperator(op.String())
	}
}

func (e *Evaluator) evalCall(n CallExpr, ctx Context) (factvalue.Value, error) {
	if e.registry == nil {
		return factvalue.Value{}, &CalcError{Kind: ErrUnknownVariable, Message: "no function registry configured", Variable: n.Name}
	}
	calc, ok := e.registry.Get(n.Name)
	if !ok {
		return factvalue.Value{}, &CalcError{Kind: ErrUnknownVariable, Message: "unknown function", Variable: n.Name}
	}
	args := make([]factvalue.Value, len(n.Args))
	for i, a := range n.Args {
		v, err := e.Eval(a, ctx)
		if err != nil {
			return factvalue.Value{}, err
		}
		args[i] = v
	}
	inputs, err := bindPositional(calc, args)
	if err != nil {
		return factvalue.Value{}, err
	}
	return e.registry.Invoke(n.Name, inputs)
}

// bindPositional maps a call's positional argument list onto a
// Calculator's named RequiredFields, in declaration order.
func bindPositional(calc Calculator, args []factvalue.Value) (map[string]factvalue.Value, error) {
	if len(calc.RequiredFields) == 0 {
		// Variadic built-ins (e.g. concat) declare no fixed schema; bind
		// positionally under synthetic "argN" keys instead.
		inputs := make(map[string]factvalue.Value, len(args))
		for i, v := range args {
			inputs[fmt.Sprintf("arg%d", i)] = v
		}
		return inputs, nil
	}
	required := 0
	for _, f := range calc.RequiredFields {
		if f.Required {
			required++
		}
	}
	if len(args) < required || len(args) > len(calc.RequiredFields) {
		return nil, newArgumentArity(calc.Name, len(calc.RequiredFields), len(args))
	}
	inputs := make(map[string]factvalue.Value, len(args))
	for i, v := range args {
		inputs[calc.RequiredFields[i].Name] = v
	}
	return inputs, nil
}
