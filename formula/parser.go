package formula

import (
	"github.com/shopspring/decimal"
)

// =============================================================================
// AST - the complete set of node types a formula can contain
// =============================================================================

// Node is one node of a parsed formula.
type Node interface {
	node()
}

// Number is a literal.
type Number struct {
	Value decimal.Decimal
}

// Variable references a value supplied at evaluation time.
type Variable struct {
	Name string
}

// Unary is a sign applied to an operand.
type Unary struct {
	Op      byte // '+' or '-'
	Operand Node
}

// Binary is an arithmetic operation.
type Binary struct {
	Op    byte // one of + - * / % ^
	Left  Node
	Right Node
}

// Call invokes a function by name. Whether the name is allowed is decided
// by analysis, not by the parser.
type Call struct {
	Func string
	Args []Node
}

func (Number) node()   {}
func (Variable) node() {}
func (Unary) node()    {}
func (Binary) node()   {}
func (Call) node()     {}

// =============================================================================
// PARSER - recursive descent
// =============================================================================
//
//   expr    := term (('+' | '-') term)*
//   term    := unary (('*' | '/' | '%') unary)*
//   unary   := ('+' | '-') unary | power
//   power   := primary ('^' unary)?          right associative
//   primary := NUMBER | IDENT | IDENT '(' args? ')' | '(' expr ')'
//   args    := expr (',' expr)*

type parser struct {
	toks     []token
	pos      int
	depth    int
	maxDepth int
}

// Parse builds the AST for src. maxDepth bounds recursion; zero means
// DefaultMaxDepth.
func Parse(src string, maxDepth int) (Node, error) {
	toks, err := lex(src)
	if err != nil {
		return nil, err
	}
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	p := &parser{toks: toks, maxDepth: maxDepth}
	n, err := p.expr()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.kind != tokEOF {
		return nil, syntaxErrorf(t.pos, "unexpected %s %q", t.kind, t.text)
	}
	return n, nil
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) enter() error {
	p.depth++
	if p.depth > p.maxDepth {
		return syntaxErrorf(p.peek().pos, "expression nested deeper than %d levels", p.maxDepth)
	}
	return nil
}

func (p *parser) leave() { p.depth-- }

func (p *parser) expr() (Node, error) {
	if err := p.enter(); err != nil {
		return nil, err
	}
	defer p.leave()

	left, err := p.term()
	if err != nil {
		return nil, err
	}
	for {
		t := p.peek()
		if t.kind != tokOp || (t.text != "+" && t.text != "-") {
			return left, nil
		}
		p.next()
		right, err := p.term()
		if err != nil {
			return nil, err
		}
		left = Binary{Op: t.text[0], Left: left, Right: right}
	}
}

func (p *parser) term() (Node, error) {
	left, err := p.unary()
	if err != nil {
		return nil, err
	}
	for {
		t := p.peek()
		if t.kind != tokOp || (t.text != "*" && t.text != "/" && t.text != "%") {
			return left, nil
		}
		p.next()
		right, err := p.unary()
		if err != nil {
			return nil, err
		}
		left = Binary{Op: t.text[0], Left: left, Right: right}
	}
}

func (p *parser) unary() (Node, error) {
	t := p.peek()
	if t.kind == tokOp && (t.text == "+" || t.text == "-") {
		if err := p.enter(); err != nil {
			return nil, err
		}
		defer p.leave()
		p.next()
		operand, err := p.unary()
		if err != nil {
			return nil, err
		}
		return Unary{Op: t.text[0], Operand: operand}, nil
	}
	return p.power()
}

func (p *parser) power() (Node, error) {
	base, err := p.primary()
	if err != nil {
		return nil, err
	}
	t := p.peek()
	if t.kind != tokOp || t.text != "^" {
		return base, nil
	}
	if err := p.enter(); err != nil {
		return nil, err
	}
	defer p.leave()
	p.next()
	exp, err := p.unary()
	if err != nil {
		return nil, err
	}
	return Binary{Op: '^', Left: base, Right: exp}, nil
}

func (p *parser) primary() (Node, error) {
	t := p.next()
	switch t.kind {
	case tokNumber:
		text := t.text
		if text[0] == '.' {
			text = "0" + text
		}
		v, err := decimal.NewFromString(text)
		if err != nil {
			return nil, syntaxErrorf(t.pos, "malformed number %q", t.text)
		}
		return Number{Value: v}, nil

	case tokIdent:
		if p.peek().kind != tokLParen {
			return Variable{Name: t.text}, nil
		}
		p.next()
		args, err := p.args()
		if err != nil {
			return nil, err
		}
		return Call{Func: t.text, Args: args}, nil

	case tokLParen:
		n, err := p.expr()
		if err != nil {
			return nil, err
		}
		if c := p.next(); c.kind != tokRParen {
			return nil, syntaxErrorf(c.pos, "expected ')' but found %s", c.kind)
		}
		return n, nil

	default:
		return nil, syntaxErrorf(t.pos, "unexpected %s", t.kind)
	}
}

func (p *parser) args() ([]Node, error) {
	var args []Node
	if p.peek().kind == tokRParen {
		p.next()
		return args, nil
	}
	for {
		a, err := p.expr()
		if err != nil {
			return nil, err
		}
		args = append(args, a)
		t := p.next()
		switch t.kind {
		case tokComma:
			continue
		case tokRParen:
			return args, nil
		default:
			return nil, syntaxErrorf(t.pos, "expected ',' or ')' but found %s", t.kind)
		}
	}
}

// =============================================================================
// ANALYSIS
// =============================================================================

// Analysis is the static summary of a parsed formula.
type Analysis struct {
	Variables  []string
	Functions  []string
	Complexity int // node count
	Depth      int // longest root-to-leaf path
}

// Analyze walks the AST once, collecting referenced names in first-seen order.
func Analyze(n Node) Analysis {
	var a Analysis
	seenVar := map[string]bool{}
	seenFn := map[string]bool{}

	var walk func(n Node, depth int)
	walk = func(n Node, depth int) {
		a.Complexity++
		if depth > a.Depth {
			a.Depth = depth
		}
		switch x := n.(type) {
		case Variable:
			if !seenVar[x.Name] {
				seenVar[x.Name] = true
				a.Variables = append(a.Variables, x.Name)
			}
		case Unary:
			walk(x.Operand, depth+1)
		case Binary:
			walk(x.Left, depth+1)
			walk(x.Right, depth+1)
		case Call:
			if !seenFn[x.Func] {
				seenFn[x.Func] = true
				a.Functions = append(a.Functions, x.Func)
			}
			for _, arg := range x.Args {
				walk(arg, depth+1)
			}
		}
	}
	walk(n, 1)
	return a
}
