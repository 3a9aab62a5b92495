package expr

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/vinayprograms/autokit/errors"
)

// Node is an interpreted expression tree. Conditions stored on rules
// are parsed once at definition time and evaluated directly; stored
// text is never executed as code.
type Node interface {
	eval(env map[string]interface{}) (interface{}, error)
}

// Parse compiles a condition string into a Node.
// The grammar admits only field paths, literals, comparisons,
// membership, and boolean connectives.
func Parse(input string) (Node, error) {
	toks, err := lex(input)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	node, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if !p.eof() {
		return nil, errors.InvalidInput(fmt.Sprintf("unexpected %q in condition", p.peek().text))
	}
	return node, nil
}

// Eval evaluates a parsed condition against an environment of named
// values (key, old_entry, new_entry). The result must be boolean.
func Eval(node Node, env map[string]interface{}) (bool, error) {
	v, err := node.eval(env)
	if err != nil {
		return false, err
	}
	b, ok := v.(bool)
	if !ok {
		return false, errors.InvalidInput(fmt.Sprintf("condition evaluated to %T, want bool", v))
	}
	return b, nil
}

// --- lexer ---

type tokenKind int

const (
	tokIdent tokenKind = iota
	tokString
	tokNumber
	tokOp    // == != < <= > >= ( ) [ ] .
	tokEOF
)

type token struct {
	kind tokenKind
	text string
}

func lex(input string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(input) {
		c := rune(input[i])
		switch {
		case unicode.IsSpace(c):
			i++
		case c == '\'' || c == '"':
			quote := input[i]
			j := i + 1
			for j < len(input) && input[j] != quote {
				j++
			}
			if j >= len(input) {
				return nil, errors.InvalidInput("unterminated string in condition")
			}
			toks = append(toks, token{tokString, input[i+1 : j]})
			i = j + 1
		case unicode.IsDigit(c) || (c == '-' && i+1 < len(input) && unicode.IsDigit(rune(input[i+1]))):
			j := i + 1
			for j < len(input) && (unicode.IsDigit(rune(input[j])) || input[j] == '.') {
				j++
			}
			toks = append(toks, token{tokNumber, input[i:j]})
			i = j
		case unicode.IsLetter(c) || c == '_':
			j := i
			for j < len(input) && (unicode.IsLetter(rune(input[j])) || unicode.IsDigit(rune(input[j])) || input[j] == '_') {
				j++
			}
			toks = append(toks, token{tokIdent, input[i:j]})
			i = j
		case strings.ContainsRune("=!<>", c):
			if i+1 < len(input) && input[i+1] == '=' {
				toks = append(toks, token{tokOp, input[i : i+2]})
				i += 2
			} else if c == '<' || c == '>' {
				toks = append(toks, token{tokOp, string(c)})
				i++
			} else {
				return nil, errors.InvalidInput(fmt.Sprintf("unexpected %q in condition", c))
			}
		case strings.ContainsRune("()[].", c):
			toks = append(toks, token{tokOp, string(c)})
			i++
		default:
			return nil, errors.InvalidInput(fmt.Sprintf("unexpected %q in condition", c))
		}
	}
	toks = append(toks, token{tokEOF, ""})
	return toks, nil
}

// --- parser ---

type parser struct {
	toks []token
	pos  int
}

func (p *parser) peek() token  { return p.toks[p.pos] }
func (p *parser) next() token  { t := p.toks[p.pos]; p.pos++; return t }
func (p *parser) eof() bool    { return p.peek().kind == tokEOF }

func (p *parser) acceptIdent(word string) bool {
	if p.peek().kind == tokIdent && p.peek().text == word {
		p.pos++
		return true
	}
	return false
}

func (p *parser) acceptOp(op string) bool {
	if p.peek().kind == tokOp && p.peek().text == op {
		p.pos++
		return true
	}
	return false
}

func (p *parser) parseOr() (Node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.acceptIdent("or") {
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &binaryNode{op: "or", left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (Node, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.acceptIdent("and") {
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = &binaryNode{op: "and", left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseNot() (Node, error) {
	if p.acceptIdent("not") {
		inner, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return &notNode{inner: inner}, nil
	}
	return p.parseCompare()
}

var compareOps = map[string]bool{
	"==": true, "!=": true, "<": true, "<=": true, ">": true, ">=": true,
}

func (p *parser) parseCompare() (Node, error) {
	left, err := p.parseTerm()
	if err != nil {
		return nil, err
	}
	if p.peek().kind == tokOp && compareOps[p.peek().text] {
		op := p.next().text
		right, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		return &binaryNode{op: op, left: left, right: right}, nil
	}
	if p.acceptIdent("in") {
		right, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		return &binaryNode{op: "in", left: left, right: right}, nil
	}
	return left, nil
}

func (p *parser) parseTerm() (Node, error) {
	t := p.peek()
	switch {
	case t.kind == tokString:
		p.next()
		return &literalNode{value: t.text}, nil

	case t.kind == tokNumber:
		p.next()
		f, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return nil, errors.InvalidInput(fmt.Sprintf("bad number %q", t.text))
		}
		return &literalNode{value: f}, nil

	case t.kind == tokOp && t.text == "(":
		p.next()
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if !p.acceptOp(")") {
			return nil, errors.InvalidInput("missing closing parenthesis")
		}
		return inner, nil

	case t.kind == tokIdent:
		switch t.text {
		case "true":
			p.next()
			return &literalNode{value: true}, nil
		case "false":
			p.next()
			return &literalNode{value: false}, nil
		case "null":
			p.next()
			return &literalNode{value: nil}, nil
		}
		return p.parsePath()

	default:
		return nil, errors.InvalidInput(fmt.Sprintf("unexpected %q in condition", t.text))
	}
}

// parsePath consumes ident(.ident | [int])*
func (p *parser) parsePath() (Node, error) {
	t := p.next()
	segments := []pathSegment{{field: t.text}}
	for {
		if p.acceptOp(".") {
			nxt := p.next()
			if nxt.kind != tokIdent {
				return nil, errors.InvalidInput("expected field name after '.'")
			}
			segments = append(segments, pathSegment{field: nxt.text})
			continue
		}
		if p.acceptOp("[") {
			nxt := p.next()
			if nxt.kind != tokNumber {
				return nil, errors.InvalidInput("expected index inside brackets")
			}
			idx, err := strconv.Atoi(nxt.text)
			if err != nil {
				return nil, errors.InvalidInput(fmt.Sprintf("bad index %q", nxt.text))
			}
			if !p.acceptOp("]") {
				return nil, errors.InvalidInput("missing closing bracket")
			}
			segments = append(segments, pathSegment{index: idx, isIndex: true})
			continue
		}
		break
	}
	return &pathNode{segments: segments}, nil
}

// --- nodes ---

type literalNode struct {
	value interface{}
}

func (n *literalNode) eval(env map[string]interface{}) (interface{}, error) {
	return n.value, nil
}

type pathSegment struct {
	field   string
	index   int
	isIndex bool
}

type pathNode struct {
	segments []pathSegment
}

// eval walks maps and slices; missing fields yield nil rather than an
// error so conditions like "new_entry.status == 'open'" stay quiet on
// sparse entries.
func (n *pathNode) eval(env map[string]interface{}) (interface{}, error) {
	var cur interface{} = env
	for _, seg := range n.segments {
		if seg.isIndex {
			list, ok := cur.([]interface{})
			if !ok || seg.index < 0 || seg.index >= len(list) {
				return nil, nil
			}
			cur = list[seg.index]
			continue
		}
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil, nil
		}
		cur = m[seg.field]
	}
	return cur, nil
}

type notNode struct {
	inner Node
}

func (n *notNode) eval(env map[string]interface{}) (interface{}, error) {
	v, err := n.inner.eval(env)
	if err != nil {
		return nil, err
	}
	b, ok := v.(bool)
	if !ok {
		return nil, errors.InvalidInput("'not' requires a boolean operand")
	}
	return !b, nil
}

type binaryNode struct {
	op    string
	left  Node
	right Node
}

func (n *binaryNode) eval(env map[string]interface{}) (interface{}, error) {
	lv, err := n.left.eval(env)
	if err != nil {
		return nil, err
	}

	// Short-circuit boolean connectives.
	switch n.op {
	case "and", "or":
		lb, ok := lv.(bool)
		if !ok {
			return nil, errors.InvalidInput(fmt.Sprintf("%q requires boolean operands", n.op))
		}
		if n.op == "and" && !lb {
			return false, nil
		}
		if n.op == "or" && lb {
			return true, nil
		}
		rv, err := n.right.eval(env)
		if err != nil {
			return nil, err
		}
		rb, ok := rv.(bool)
		if !ok {
			return nil, errors.InvalidInput(fmt.Sprintf("%q requires boolean operands", n.op))
		}
		return rb, nil
	}

	rv, err := n.right.eval(env)
	if err != nil {
		return nil, err
	}

	switch n.op {
	case "==":
		return equal(lv, rv), nil
	case "!=":
		return !equal(lv, rv), nil
	case "<", "<=", ">", ">=":
		return order(n.op, lv, rv)
	case "in":
		return contains(lv, rv)
	default:
		return nil, errors.InvalidInput(fmt.Sprintf("unknown operator %q", n.op))
	}
}

// equal compares after numeric normalization.
func equal(a, b interface{}) bool {
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			return af == bf
		}
		return false
	}
	return a == b
}

func order(op string, a, b interface{}) (interface{}, error) {
	if af, aok := toFloat(a); aok {
		bf, bok := toFloat(b)
		if !bok {
			return nil, errors.InvalidInput("cannot order number against non-number")
		}
		switch op {
		case "<":
			return af < bf, nil
		case "<=":
			return af <= bf, nil
		case ">":
			return af > bf, nil
		default:
			return af >= bf, nil
		}
	}
	as, aok := a.(string)
	bs, bok := b.(string)
	if !aok || !bok {
		return nil, errors.InvalidInput(fmt.Sprintf("cannot order %T against %T", a, b))
	}
	switch op {
	case "<":
		return as < bs, nil
	case "<=":
		return as <= bs, nil
	case ">":
		return as > bs, nil
	default:
		return as >= bs, nil
	}
}

// contains implements "x in y": substring for strings, membership for
// lists, key presence for maps.
func contains(needle, haystack interface{}) (interface{}, error) {
	switch h := haystack.(type) {
	case string:
		s, ok := needle.(string)
		if !ok {
			return nil, errors.InvalidInput("'in' on a string requires a string needle")
		}
		return strings.Contains(h, s), nil
	case []interface{}:
		for _, item := range h {
			if equal(needle, item) {
				return true, nil
			}
		}
		return false, nil
	case map[string]interface{}:
		s, ok := needle.(string)
		if !ok {
			return nil, errors.InvalidInput("'in' on a map requires a string key")
		}
		_, present := h[s]
		return present, nil
	case nil:
		return false, nil
	default:
		return nil, errors.InvalidInput(fmt.Sprintf("'in' not supported on %T", haystack))
	}
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
