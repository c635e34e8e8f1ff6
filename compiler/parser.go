package compiler

import (
	"fmt"
	"strconv"
)

// ---------------------------------------------------------------------------
// Parser: Recursive descent parser for unit and patch source
// ---------------------------------------------------------------------------

// Parser parses source text into top-level nodes.
type Parser struct {
	lexer     *Lexer
	curToken  Token
	peekToken Token
	errors    []Diagnostic
}

// NewParser creates a new parser for the given input.
func NewParser(input string) *Parser {
	p := &Parser{lexer: NewLexer(input)}
	// Read two tokens to fill curToken and peekToken
	p.nextToken()
	p.nextToken()
	return p
}

// Parse parses a complete source file. Parse errors are returned as an
// *Error carrying one diagnostic per problem.
func Parse(input string) (*File, error) {
	p := NewParser(input)
	f := p.ParseFile()
	if len(p.errors) > 0 {
		return f, &Error{Diagnostics: p.errors}
	}
	return f, nil
}

// nextToken advances to the next token.
func (p *Parser) nextToken() {
	p.curToken = p.peekToken
	p.peekToken = p.lexer.NextToken()
	if p.peekToken.Type == TokenError {
		p.errors = append(p.errors, Diagnostic{
			Severity: SeverityError,
			Line:     p.peekToken.Pos.Line,
			Message:  p.peekToken.Literal,
		})
	}
}

// curTokenIs checks if the current token is of the given type.
func (p *Parser) curTokenIs(t TokenType) bool {
	return p.curToken.Type == t
}

// expect advances if the current token matches, otherwise records an error.
func (p *Parser) expect(t TokenType) bool {
	if p.curTokenIs(t) {
		p.nextToken()
		return true
	}
	p.errorf("expected %s, got %s", t, p.curToken.Type)
	return false
}

// errorf records a parse error at the current token.
func (p *Parser) errorf(format string, args ...interface{}) {
	if p.curTokenIs(TokenError) {
		// already reported by nextToken
		return
	}
	p.errors = append(p.errors, Diagnostic{
		Severity: SeverityError,
		Line:     p.curToken.Pos.Line,
		Message:  fmt.Sprintf(format, args...),
	})
}

// Errors returns accumulated parse errors.
func (p *Parser) Errors() []Diagnostic {
	return p.errors
}

// ---------------------------------------------------------------------------
// Top-level parsing
// ---------------------------------------------------------------------------

// ParseFile parses an optional unit header followed by top-level nodes.
func (p *Parser) ParseFile() *File {
	f := &File{}
	if p.curTokenIs(TokenUnit) {
		start := p.curToken.Pos
		p.nextToken()
		if p.curTokenIs(TokenIdentifier) {
			f.Unit = &UnitDecl{SpanVal: MakeSpan(start, p.curToken.Pos), Name: p.curToken.Literal}
			p.nextToken()
		} else {
			p.errorf("expected unit name, got %s", p.curToken.Type)
		}
	}

	for !p.curTokenIs(TokenEOF) {
		before := len(p.errors)
		startTok := p.curToken
		n := p.parseTopLevel()
		if n != nil {
			f.Nodes = append(f.Nodes, n)
		}
		if len(p.errors) > before {
			p.synchronize()
		}
		if p.curToken == startTok {
			p.nextToken()
		}
	}
	return f
}

// synchronize skips tokens until the start of the next top-level node.
func (p *Parser) synchronize() {
	for {
		switch p.curToken.Type {
		case TokenEOF, TokenDef, TokenDefp, TokenAt:
			return
		}
		p.nextToken()
	}
}

func (p *Parser) parseTopLevel() Node {
	switch p.curToken.Type {
	case TokenDef, TokenDefp:
		return p.parseFuncDecl()
	case TokenAt:
		return p.parseAnnotation()
	case TokenUnit:
		p.errorf("unit header must come first")
		p.nextToken()
		return nil
	default:
		p.errorf("expected def, defp or @directive, got %s", p.curToken.Type)
		p.nextToken()
		return nil
	}
}

// parseFuncDecl parses def name(params) = expr.
func (p *Parser) parseFuncDecl() Node {
	start := p.curToken.Pos
	private := p.curTokenIs(TokenDefp)
	p.nextToken()

	if !p.curTokenIs(TokenIdentifier) {
		p.errorf("expected function name, got %s", p.curToken.Type)
		return nil
	}
	name := p.curToken.Literal
	p.nextToken()

	if !p.expect(TokenLParen) {
		return nil
	}
	var params []string
	for !p.curTokenIs(TokenRParen) {
		if !p.curTokenIs(TokenIdentifier) {
			p.errorf("expected parameter name, got %s", p.curToken.Type)
			return nil
		}
		params = append(params, p.curToken.Literal)
		p.nextToken()
		if p.curTokenIs(TokenComma) {
			p.nextToken()
		} else if !p.curTokenIs(TokenRParen) {
			p.errorf("expected , or ), got %s", p.curToken.Type)
			return nil
		}
	}
	p.nextToken() // consume )

	if !p.expect(TokenAssign) {
		return nil
	}
	body := p.ParseExpression()
	if body == nil {
		return nil
	}
	return &FuncDecl{
		SpanVal: MakeSpan(start, p.curToken.Pos),
		Name:    name,
		Params:  params,
		Body:    body,
		Private: private,
	}
}

// parseAnnotation parses @doc "text" and directives such as @override
// or @override(options). Directive names are checked by their consumer.
func (p *Parser) parseAnnotation() Node {
	start := p.curToken.Pos
	p.nextToken() // consume @

	if !p.curTokenIs(TokenIdentifier) {
		p.errorf("expected directive name after @, got %s", p.curToken.Type)
		return nil
	}
	name := p.curToken.Literal
	p.nextToken()

	switch name {
	case "doc":
		if !p.curTokenIs(TokenString) {
			p.errorf("expected string after @doc, got %s", p.curToken.Type)
			return nil
		}
		text := p.curToken.Literal
		p.nextToken()
		return &DocDecl{SpanVal: MakeSpan(start, p.curToken.Pos), Text: text}

	default:
		d := &Directive{Name: name}
		if p.curTokenIs(TokenLParen) {
			p.nextToken()
			opts, ok := p.parseOptions(TokenRParen)
			if !ok {
				return nil
			}
			d.Options = opts
		}
		d.SpanVal = MakeSpan(start, p.curToken.Pos)
		return d
	}
}

// parseOptions parses key: value pairs up to and including the closing
// token.
func (p *Parser) parseOptions(closing TokenType) ([]*Option, bool) {
	var opts []*Option
	for !p.curTokenIs(closing) {
		start := p.curToken.Pos
		if !p.curTokenIs(TokenIdentifier) {
			p.errorf("expected option name, got %s", p.curToken.Type)
			return nil, false
		}
		key := p.curToken.Literal
		p.nextToken()
		if !p.expect(TokenColon) {
			return nil, false
		}
		val := p.parseOptionValue()
		if val == nil {
			return nil, false
		}
		opts = append(opts, &Option{SpanVal: MakeSpan(start, p.curToken.Pos), Key: key, Value: val})

		if p.curTokenIs(TokenComma) {
			p.nextToken()
		} else if !p.curTokenIs(closing) {
			p.errorf("expected , or %s, got %s", closing, p.curToken.Type)
			return nil, false
		}
	}
	p.nextToken() // consume closing
	return opts, true
}

func (p *Parser) parseOptionValue() OptionValue {
	tok := p.curToken
	span := MakeSpan(tok.Pos, tok.Pos)
	switch tok.Type {
	case TokenIdentifier:
		p.nextToken()
		return &Ident{SpanVal: span, Name: tok.Literal}
	case TokenTrue, TokenFalse:
		p.nextToken()
		return &BoolLit{SpanVal: span, Value: tok.Type == TokenTrue}
	case TokenInteger:
		v, err := strconv.ParseInt(tok.Literal, 10, 64)
		if err != nil {
			p.errorf("integer out of range: %s", tok.Literal)
			return nil
		}
		p.nextToken()
		return &IntLit{SpanVal: span, Value: v}
	case TokenString:
		p.nextToken()
		return &StringLit{SpanVal: span, Value: tok.Literal}
	case TokenLBracket:
		p.nextToken()
		opts, ok := p.parseOptions(TokenRBracket)
		if !ok {
			return nil
		}
		return &OptionList{SpanVal: MakeSpan(tok.Pos, p.curToken.Pos), Options: opts}
	default:
		p.errorf("expected option value, got %s", tok.Type)
		return nil
	}
}

// ---------------------------------------------------------------------------
// Expressions
// ---------------------------------------------------------------------------

// ParseExpression parses a single expression.
func (p *Parser) ParseExpression() Expr {
	if p.curTokenIs(TokenIf) {
		return p.parseIf()
	}
	return p.parseBinary(1)
}

func (p *Parser) parseIf() Expr {
	start := p.curToken.Pos
	p.nextToken() // consume if
	cond := p.ParseExpression()
	if cond == nil || !p.expect(TokenThen) {
		return nil
	}
	then := p.ParseExpression()
	if then == nil || !p.expect(TokenElse) {
		return nil
	}
	els := p.ParseExpression()
	if els == nil {
		return nil
	}
	return &IfExpr{SpanVal: MakeSpan(start, p.curToken.Pos), Cond: cond, Then: then, Else: els}
}

// parseBinary implements precedence climbing over binaryPrecedence.
func (p *Parser) parseBinary(minPrec int) Expr {
	left := p.parseUnary()
	if left == nil {
		return nil
	}
	for {
		prec, ok := binaryPrecedence[p.curToken.Type]
		if !ok || prec < minPrec {
			return left
		}
		op := p.curToken
		p.nextToken()
		var right Expr
		if p.curTokenIs(TokenIf) {
			right = p.parseIf()
		} else {
			right = p.parseBinary(prec + 1)
		}
		if right == nil {
			return nil
		}
		left = &BinaryExpr{
			SpanVal: MakeSpan(left.Span().Start, p.curToken.Pos),
			Op:      op.Literal,
			Left:    left,
			Right:   right,
		}
	}
}

func (p *Parser) parseUnary() Expr {
	if !p.curTokenIs(TokenMinus) {
		return p.parsePrimary()
	}
	start := p.curToken.Pos
	p.nextToken()
	operand := p.parseUnary()
	if operand == nil {
		return nil
	}
	if lit, ok := operand.(*IntLit); ok {
		lit.Value = -lit.Value
		lit.SpanVal.Start = start
		return lit
	}
	return &BinaryExpr{
		SpanVal: MakeSpan(start, p.curToken.Pos),
		Op:      "-",
		Left:    &IntLit{SpanVal: MakeSpan(start, start)},
		Right:   operand,
	}
}

func (p *Parser) parsePrimary() Expr {
	tok := p.curToken
	span := MakeSpan(tok.Pos, tok.Pos)

	switch tok.Type {
	case TokenInteger:
		v, err := strconv.ParseInt(tok.Literal, 10, 64)
		if err != nil {
			p.errorf("integer out of range: %s", tok.Literal)
			return nil
		}
		p.nextToken()
		return &IntLit{SpanVal: span, Value: v}

	case TokenString:
		p.nextToken()
		return &StringLit{SpanVal: span, Value: tok.Literal}

	case TokenTrue, TokenFalse:
		p.nextToken()
		return &BoolLit{SpanVal: span, Value: tok.Type == TokenTrue}

	case TokenRaise:
		p.nextToken()
		if !p.expect(TokenLParen) {
			return nil
		}
		msg := p.ParseExpression()
		if msg == nil || !p.expect(TokenRParen) {
			return nil
		}
		return &RaiseExpr{SpanVal: MakeSpan(tok.Pos, p.curToken.Pos), Message: msg}

	case TokenLParen:
		p.nextToken()
		e := p.ParseExpression()
		if e == nil || !p.expect(TokenRParen) {
			return nil
		}
		return e

	case TokenIdentifier:
		p.nextToken()
		switch p.curToken.Type {
		case TokenLParen:
			return p.parseCall(tok, "", tok.Literal)
		case TokenDot:
			p.nextToken()
			if !p.curTokenIs(TokenIdentifier) {
				p.errorf("expected function name after %s., got %s", tok.Literal, p.curToken.Type)
				return nil
			}
			name := p.curToken.Literal
			p.nextToken()
			if !p.curTokenIs(TokenLParen) {
				p.errorf("expected ( after %s.%s", tok.Literal, name)
				return nil
			}
			return p.parseCall(tok, tok.Literal, name)
		}
		return &Ident{SpanVal: span, Name: tok.Literal}

	default:
		p.errorf("expected expression, got %s", tok.Type)
		return nil
	}
}

// parseCall parses an argument list; the current token is (.
func (p *Parser) parseCall(start Token, unit, name string) Expr {
	p.nextToken() // consume (
	var args []Expr
	for !p.curTokenIs(TokenRParen) {
		arg := p.ParseExpression()
		if arg == nil {
			return nil
		}
		args = append(args, arg)
		if p.curTokenIs(TokenComma) {
			p.nextToken()
		} else if !p.curTokenIs(TokenRParen) {
			p.errorf("expected , or ), got %s", p.curToken.Type)
			return nil
		}
	}
	p.nextToken() // consume )
	return &CallExpr{
		SpanVal: MakeSpan(start.Pos, p.curToken.Pos),
		Unit:    unit,
		Name:    name,
		Args:    args,
	}
}
