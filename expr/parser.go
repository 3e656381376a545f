package expr

import "strings"

const (
	// MaxExpressionLength is the longest source accepted by Parse
	MaxExpressionLength = 4096

	// MaxDepth bounds nesting of parentheses, unary operators and calls
	MaxDepth = 64
)

// Expr is a parsed formula expression
type Expr struct {
	Source string
	Root   Node

	vars []string
}

// Variables returns the free variables in order of first appearance
func (e *Expr) Variables() []string {
	out := make([]string, len(e.vars))
	copy(out, e.vars)
	return out
}

// Parse turns src into an expression tree. The returned error is always an *Error
// of kind KindSyntax.
func Parse(src string) (*Expr, error) {
	if len(src) > MaxExpressionLength {
		return nil, &Error{
			Kind:    KindSyntax,
			Message: "expression exceeds maximum length of 4096 characters",
			Pos:     MaxExpressionLength,
		}
	}
	if strings.TrimSpace(src) == "" {
		return nil, &Error{Kind: KindSyntax, Message: "expression is empty", Pos: 0}
	}

	toks, err := tokenize(src)
	if err != nil {
		return nil, err
	}

	p := &parser{src: src, toks: toks, seen: make(map[string]bool)}
	root, err := p.expression(0)
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.kind != tokEOF {
		if t.kind == tokRParen {
			return nil, syntaxErrorf(src, t.pos, "unbalanced parentheses: unexpected ')'")
		}
		return nil, syntaxErrorf(src, t.pos, "unexpected %s", t.kind)
	}

	return &Expr{Source: src, Root: root, vars: p.vars}, nil
}

type parser struct {
	src  string
	toks []token
	pos  int
	vars []string
	seen map[string]bool
}

func (p *parser) peek() token {
	return p.toks[p.pos]
}

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) expression(depth int) (Node, error) {
	left, err := p.term(depth)
	if err != nil {
		return nil, err
	}
	for {
		t := p.peek()
		if t.kind != tokPlus && t.kind != tokMinus {
			return left, nil
		}
		p.next()
		right, err := p.term(depth)
		if err != nil {
			return nil, err
		}
		left = &Binary{Op: t.text[0], Left: left, Right: right}
	}
}

func (p *parser) term(depth int) (Node, error) {
	left, err := p.unary(depth)
	if err != nil {
		return nil, err
	}
	for {
		t := p.peek()
		if t.kind != tokStar && t.kind != tokSlash {
			return left, nil
		}
		p.next()
		right, err := p.unary(depth)
		if err != nil {
			return nil, err
		}
		left = &Binary{Op: t.text[0], Left: left, Right: right}
	}
}

func (p *parser) unary(depth int) (Node, error) {
	if depth > MaxDepth {
		return nil, syntaxErrorf(p.src, p.peek().pos, "expression nested deeper than %d levels", MaxDepth)
	}
	if p.peek().kind == tokMinus {
		p.next()
		operand, err := p.unary(depth + 1)
		if err != nil {
			return nil, err
		}
		return &Unary{Op: '-', Operand: operand}, nil
	}
	return p.primary(depth)
}

func (p *parser) primary(depth int) (Node, error) {
	t := p.next()
	switch t.kind {
	case tokNumber:
		return &Number{Value: t.num}, nil

	case tokIdent:
		if p.peek().kind == tokLParen {
			return p.call(t, depth)
		}
		if _, isFunc := functions[t.text]; isFunc {
			return nil, syntaxErrorf(p.src, t.pos, "function %s used without arguments", t.text)
		}
		if reservedWords[t.text] {
			return nil, syntaxErrorf(p.src, t.pos, "reserved word %q cannot be used as a variable", t.text)
		}
		if !p.seen[t.text] {
			p.seen[t.text] = true
			p.vars = append(p.vars, t.text)
		}
		return &Var{Name: t.text}, nil

	case tokLParen:
		inner, err := p.expression(depth + 1)
		if err != nil {
			return nil, err
		}
		if closing := p.next(); closing.kind != tokRParen {
			return nil, syntaxErrorf(p.src, closing.pos, "unbalanced parentheses: expected ')' but found %s", closing.kind)
		}
		return inner, nil

	case tokEOF:
		return nil, syntaxErrorf(p.src, t.pos, "unexpected end of expression")
	}
	return nil, syntaxErrorf(p.src, t.pos, "unexpected %s", t.kind)
}

func (p *parser) call(name token, depth int) (Node, error) {
	fn, ok := functions[name.text]
	if !ok {
		return nil, syntaxErrorf(p.src, name.pos, "unknown function %q", name.text)
	}
	p.next() // '('

	var args []Node
	if p.peek().kind != tokRParen {
		for {
			arg, err := p.expression(depth + 1)
			if err != nil {
				return nil, err
			}
			args = append(args, arg)
			if p.peek().kind != tokComma {
				break
			}
			p.next()
		}
	}
	if closing := p.next(); closing.kind != tokRParen {
		return nil, syntaxErrorf(p.src, closing.pos, "unbalanced parentheses: expected ')' to close %s( but found %s", name.text, closing.kind)
	}

	if len(args) < fn.minArgs || (fn.maxArgs >= 0 && len(args) > fn.maxArgs) {
		return nil, syntaxErrorf(p.src, name.pos, "%s expects %s, got %d", name.text, arity(fn), len(args))
	}
	return &Call{Func: name.text, Args: args}, nil
}

func arity(fn function) string {
	switch {
	case fn.maxArgs < 0:
		return "at least 1 argument"
	case fn.minArgs == fn.maxArgs && fn.minArgs == 1:
		return "exactly 1 argument"
	}
	return "a different number of arguments"
}
