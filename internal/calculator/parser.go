package calculator

import (
	"fmt"
	"strconv"
	"strings"
)

// Parser is a recursive-descent parser over the calculator lexer,
// structured exactly like query.Parser: a current token,
// a one-token lookahead buffer, and one parse method per precedence
// level from lowest (conditional) to highest (postfix/primary).
type Parser struct {
	lexer   *Lexer
	current Token
	peeked  *Token
}

// NewParser constructs a Parser over expr.
func NewParser(expr string) *Parser {
	return &Parser{lexer: NewLexer(expr)}
}

// Parse parses the full expression and errors if trailing tokens remain.
func (p *Parser) Parse() (Node, error) {
	if err := p.advance(); err != nil {
		return nil, err
	}
	if p.current.Type == TokenEOF {
		return nil, &ParseError{Message: "empty expression"}
	}
	node, err := p.parseConditional()
	if err != nil {
		return nil, err
	}
	if p.current.Type != TokenEOF {
		return nil, &ParseError{Message: fmt.Sprintf("unexpected token %q at position %d", p.current.Value, p.current.Pos)}
	}
	return node, nil
}

func (p *Parser) advance() error {
	if p.peeked != nil {
		p.current = *p.peeked
		p.peeked = nil
		return nil
	}
	tok, err := p.lexer.NextToken()
	if err != nil {
		return err
	}
	p.current = tok
	return nil
}

func (p *Parser) expect(t TokenType) error {
	if p.current.Type != t {
		return &ParseError{Message: fmt.Sprintf("expected %s at position %d, got %s", t, p.current.Pos, p.current.Type)}
	}
	return p.advance()
}

func (p *Parser) parseConditional() (Node, error) {
	switch p.current.Type {
	case TokenIf:
		return p.parseIf()
	case TokenCond:
		return p.parseCondSet()
	default:
		return p.parseOr()
	}
}

func (p *Parser) parseIf() (Node, error) {
	if err := p.advance(); err != nil { // consume 'if'
		return nil, err
	}
	cond, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if err := p.expect(TokenThen); err != nil {
		return nil, err
	}
	thenExpr, err := p.parseConditional()
	if err != nil {
		return nil, err
	}
	if err := p.expect(TokenElse); err != nil {
		return nil, err
	}
	elseExpr, err := p.parseConditional()
	if err != nil {
		return nil, err
	}
	return IfExpr{Cond: cond, Then: thenExpr, Else: elseExpr}, nil
}

func (p *Parser) parseCondSet() (Node, error) {
	if err := p.advance(); err != nil { // consume 'cond'
		return nil, err
	}
	if err := p.expect(TokenLBrace); err != nil {
		return nil, err
	}
	var clauses []CondClause
	var def Node
	for p.current.Type != TokenRBrace {
		if p.current.Type == TokenDefault {
			if err := p.advance(); err != nil {
				return nil, err
			}
			if err := p.expect(TokenColon); err != nil {
				return nil, err
			}
			d, err := p.parseOr()
			if err != nil {
				return nil, err
			}
			def = d
		} else {
			cond, err := p.parseOr()
			if err != nil {
				return nil, err
			}
			if err := p.expect(TokenColon); err != nil {
				return nil, err
			}
			result, err := p.parseOr()
			if err != nil {
				return nil, err
			}
			clauses = append(clauses, CondClause{Cond: cond, Result: result})
		}
		if p.current.Type == TokenComma {
			if err := p.advance(); err != nil {
				return nil, err
			}
		}
	}
	if err := p.expect(TokenRBrace); err != nil {
		return nil, err
	}
	if def == nil {
		return nil, &ParseError{Message: "cond expression requires a default clause"}
	}
	return CondSetExpr{Clauses: clauses, Default: def}, nil
}

func (p *Parser) parseOr() (Node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.current.Type == TokenOrOr {
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = BinaryOp{Op: TokenOrOr, Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) parseAnd() (Node, error) {
	left, err := p.parseEquality()
	if err != nil {
		return nil, err
	}
	for p.current.Type == TokenAndAnd {
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseEquality()
		if err != nil {
			return nil, err
		}
		left = BinaryOp{Op: TokenAndAnd, Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) parseEquality() (Node, error) {
	left, err := p.parseComparison()
	if err != nil {
		return nil, err
	}
	for p.current.Type == TokenEqEq || p.current.Type == TokenNotEq {
		op := p.current.Type
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseComparison()
		if err != nil {
			return nil, err
		}
		left = BinaryOp{Op: op, Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) parseComparison() (Node, error) {
	left, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	for p.current.Type == TokenLess || p.current.Type == TokenLessEq ||
		p.current.Type == TokenGreater || p.current.Type == TokenGreaterEq {
		op := p.current.Type
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		left = BinaryOp{Op: op, Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) parseAdditive() (Node, error) {
	left, err := p.parseMultiplicative()
	if err != nil {
		return nil, err
	}
	for p.current.Type == TokenPlus || p.current.Type == TokenMinus {
		op := p.current.Type
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseMultiplicative()
		if err != nil {
			return nil, err
		}
		left = BinaryOp{Op: op, Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) parseMultiplicative() (Node, error) {
	left, err := p.parsePower()
	if err != nil {
		return nil, err
	}
	for p.current.Type == TokenStar || p.current.Type == TokenSlash || p.current.Type == TokenPercent {
		op := p.current.Type
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parsePower()
		if err != nil {
			return nil, err
		}
		left = BinaryOp{Op: op, Left: left, Right: right}
	}
	return left, nil
}

// parsePower is right-associative: 2 ** 3 ** 2 == 2 ** (3 ** 2).
func (p *Parser) parsePower() (Node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	if p.current.Type == TokenStarStar {
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parsePower()
		if err != nil {
			return nil, err
		}
		return BinaryOp{Op: TokenStarStar, Left: left, Right: right}, nil
	}
	return left, nil
}

func (p *Parser) parseUnary() (Node, error) {
	if p.current.Type == TokenMinus || p.current.Type == TokenBang {
		op := p.current.Type
		if err := p.advance(); err != nil {
			return nil, err
		}
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return UnaryOp{Op: op, Operand: operand}, nil
	}
	return p.parsePostfix()
}

func (p *Parser) parsePostfix() (Node, error) {
	node, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for {
		switch p.current.Type {
		case TokenDot:
			if err := p.advance(); err != nil {
				return nil, err
			}
			if p.current.Type != TokenIdent {
				return nil, &ParseError{Message: fmt.Sprintf("expected field name after '.' at position %d", p.current.Pos)}
			}
			field := p.current.Value
			if err := p.advance(); err != nil {
				return nil, err
			}
			node = FieldAccess{Object: node, Field: field}
		case TokenLBracket:
			if err := p.advance(); err != nil {
				return nil, err
			}
			idx, err := p.parseOr()
			if err != nil {
				return nil, err
			}
			if err := p.expect(TokenRBracket); err != nil {
				return nil, err
			}
			node = IndexExpr{Object: node, Index: idx}
		default:
			return node, nil
		}
	}
}

func (p *Parser) parsePrimary() (Node, error) {
	switch p.current.Type {
	case TokenNumber:
		text := p.current.Value
		if err := p.advance(); err != nil {
			return nil, err
		}
		return parseNumberLit(text)
	case TokenString:
		v := p.current.Value
		if err := p.advance(); err != nil {
			return nil, err
		}
		return StringLit{Value: v}, nil
	case TokenTrue:
		if err := p.advance(); err != nil {
			return nil, err
		}
		return BoolLit{Value: true}, nil
	case TokenFalse:
		if err := p.advance(); err != nil {
			return nil, err
		}
		return BoolLit{Value: false}, nil
	case TokenNull:
		if err := p.advance(); err != nil {
			return nil, err
		}
		return NullLit{}, nil
	case TokenIdent:
		name := p.current.Value
		if err := p.advance(); err != nil {
			return nil, err
		}
		if p.current.Type == TokenLParen {
			return p.parseCall(name)
		}
		return Ident{Name: name}, nil
	case TokenLParen:
		if err := p.advance(); err != nil {
			return nil, err
		}
		inner, err := p.parseConditional()
		if err != nil {
			return nil, err
		}
		if err := p.expect(TokenRParen); err != nil {
			return nil, err
		}
		return inner, nil
	case TokenLBracket:
		return p.parseArrayLit()
	case TokenLBrace:
		return p.parseObjectLit()
	default:
		return nil, &ParseError{Message: fmt.Sprintf("unexpected token %q at position %d", p.current.Value, p.current.Pos)}
	}
}

func (p *Parser) parseCall(name string) (Node, error) {
	if err := p.advance(); err != nil { // consume '('
		return nil, err
	}
	var args []Node
	for p.current.Type != TokenRParen {
		arg, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
		if p.current.Type == TokenComma {
			if err := p.advance(); err != nil {
				return nil, err
			}
		}
	}
	if err := p.expect(TokenRParen); err != nil {
		return nil, err
	}
	return CallExpr{Name: name, Args: args}, nil
}

func (p *Parser) parseArrayLit() (Node, error) {
	if err := p.advance(); err != nil { // consume '['
		return nil, err
	}
	var items []Node
	for p.current.Type != TokenRBracket {
		item, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		items = append(items, item)
		if p.current.Type == TokenComma {
			if err := p.advance(); err != nil {
				return nil, err
			}
		}
	}
	if err := p.expect(TokenRBracket); err != nil {
		return nil, err
	}
	return ArrayLit{Items: items}, nil
}

func (p *Parser) parseObjectLit() (Node, error) {
	if err := p.advance(); err != nil { // consume '{'
		return nil, err
	}
	var keys []string
	var values []Node
	for p.current.Type != TokenRBrace {
		var key string
		switch p.current.Type {
		case TokenIdent:
			key = p.current.Value
		case TokenString:
			key = p.current.Value
		default:
			return nil, &ParseError{Message: fmt.Sprintf("expected object key at position %d", p.current.Pos)}
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		if err := p.expect(TokenColon); err != nil {
			return nil, err
		}
		val, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
		values = append(values, val)
		if p.current.Type == TokenComma {
			if err := p.advance(); err != nil {
				return nil, err
			}
		}
	}
	if err := p.expect(TokenRBrace); err != nil {
		return nil, err
	}
	return ObjectLit{Keys: keys, Values: values}, nil
}

func parseNumberLit(text string) (Node, error) {
	if strings.ContainsAny(text, ".eE") {
		f, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return nil, &ParseError{Message: fmt.Sprintf("invalid number %q: %v", text, err)}
		}
		return NumberLit{IsFloat: true, Float: f}, nil
	}
	i, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		return nil, &ParseError{Message: fmt.Sprintf("invalid number %q: %v", text, err)}
	}
	return NumberLit{Int: i}, nil
}

// Parse is a convenience wrapper matching query.Parse's package-level
// Parse helper in internal/query.
func Parse(expr string) (Node, error) {
	return NewParser(expr).Parse()
}
