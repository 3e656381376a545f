package expr

import (
	"strconv"
	"strings"
)

// Node is an element of a parsed expression tree
type Node interface {
	// String renders the node back to source form, fully parenthesized for operators
	String() string
}

// Number is a numeric literal
type Number struct {
	Value float64
}

// Var references a variable from the evaluation scope
type Var struct {
	Name string
}

// Unary is a negation
type Unary struct {
	Op      byte // '-'
	Operand Node
}

// Binary is an infix arithmetic operation
type Binary struct {
	Op    byte // one of + - * /
	Left  Node
	Right Node
}

// Call invokes an allow-listed function
type Call struct {
	Func string
	Args []Node
}

func (n *Number) String() string {
	return FormatNumber(n.Value)
}

func (n *Var) String() string {
	return n.Name
}

func (n *Unary) String() string {
	return "(" + string(n.Op) + n.Operand.String() + ")"
}

func (n *Binary) String() string {
	return "(" + n.Left.String() + " " + string(n.Op) + " " + n.Right.String() + ")"
}

func (n *Call) String() string {
	args := make([]string, len(n.Args))
	for i, a := range n.Args {
		args[i] = a.String()
	}
	return n.Func + "(" + strings.Join(args, ", ") + ")"
}

// FormatNumber renders v without exponent notation and without trailing zeros
func FormatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// function describes an allow-listed pure function
type function struct {
	minArgs int
	maxArgs int // -1 for variadic
}

var functions = map[string]function{
	"min":   {minArgs: 1, maxArgs: -1},
	"max":   {minArgs: 1, maxArgs: -1},
	"abs":   {minArgs: 1, maxArgs: 1},
	"round": {minArgs: 1, maxArgs: 1},
	"floor": {minArgs: 1, maxArgs: 1},
	"ceil":  {minArgs: 1, maxArgs: 1},
}

// Functions returns the allow-listed function names in a stable order
func Functions() []string {
	return []string{"min", "max", "abs", "round", "floor", "ceil"}
}

// Walk visits n and its children depth-first, parents before children
func Walk(n Node, visit func(Node)) {
	visit(n)
	switch n := n.(type) {
	case *Unary:
		Walk(n.Operand, visit)
	case *Binary:
		Walk(n.Left, visit)
		Walk(n.Right, visit)
	case *Call:
		for _, a := range n.Args {
			Walk(a, visit)
		}
	}
}
