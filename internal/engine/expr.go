package engine

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/mkraev/Conveyor/internal/domain"
)

// Scope — окружение вычисления выражений.
//
// Выражения — чистые функции от (выражение, Scope): никаких побочных
// эффектов. Закрытая грамматика:
//
//	inputs.X                    — входной параметр run
//	needs.<job>.outputs.<key>   — output завершённого job
//	needs.<job>.result          — агрегированный статус job
//	always() / success() / failure()
//	литералы: 'строка', числа, true/false
//	операторы: == != ! && || и скобки
type Scope struct {
	// Inputs — входные параметры run.
	Inputs map[string]string

	// ResultOf возвращает агрегированный статус job по ID.
	// ok=false — job не существует в контексте.
	ResultOf func(jobID string) (domain.JobStatus, bool)

	// OutputOf возвращает output job. ok=false — значение не записано.
	OutputOf func(jobID, key string) (string, bool)

	// DepStatuses — терминальные статусы всех jobs в цепочке needs
	// вычисляющего job, включая транзитивные.
	// Основа для success()/failure().
	DepStatuses func() []domain.JobStatus
}

// Eval вычисляет выражение и возвращает скалярное значение
// (string, bool или float64).
func Eval(expr string, scope *Scope) (any, error) {
	node, err := parseExpr(expr)
	if err != nil {
		return nil, err
	}
	return node.eval(scope)
}

// EvalBool вычисляет выражение как булево.
// Не-булев результат приводится: пустая строка и 0 — false.
func EvalBool(expr string, scope *Scope) (bool, error) {
	v, err := Eval(expr, scope)
	if err != nil {
		return false, err
	}
	return truthy(v), nil
}

// References возвращает пути всех ссылок в выражении
// (например, [["inputs","env"], ["needs","build","outputs","tag"]]).
// Используется для статической проверки ссылок при построении графа.
func References(expr string) ([][]string, error) {
	node, err := parseExpr(expr)
	if err != nil {
		return nil, err
	}
	var refs [][]string
	collectRefs(node, &refs)
	return refs, nil
}

// Interpolate подставляет выражения вида "${{ expr }}" в строку.
// Строка без "${{" возвращается как есть.
func Interpolate(s string, scope *Scope) (string, error) {
	if !strings.Contains(s, "${{") {
		return s, nil
	}

	var b strings.Builder
	rest := s
	for {
		start := strings.Index(rest, "${{")
		if start < 0 {
			b.WriteString(rest)
			return b.String(), nil
		}
		end := strings.Index(rest[start:], "}}")
		if end < 0 {
			return "", fmt.Errorf("%w: unterminated ${{ in %q", ErrExprSyntax, s)
		}

		b.WriteString(rest[:start])
		inner := rest[start+3 : start+end]
		v, err := Eval(inner, scope)
		if err != nil {
			return "", err
		}
		b.WriteString(stringify(v))
		rest = rest[start+end+2:]
	}
}

// ResolveParams рекурсивно разрешает выражения в параметрах task.
// Строки интерполируются, map и slice обходятся, остальные скаляры
// возвращаются как есть.
func ResolveParams(params map[string]any, scope *Scope) (map[string]any, error) {
	if params == nil {
		return map[string]any{}, nil
	}
	resolved, err := resolveValue(params, scope)
	if err != nil {
		return nil, err
	}
	return resolved.(map[string]any), nil
}

func resolveValue(value any, scope *Scope) (any, error) {
	switch v := value.(type) {
	case string:
		return Interpolate(v, scope)

	case map[string]any:
		result := make(map[string]any, len(v))
		for key, val := range v {
			r, err := resolveValue(val, scope)
			if err != nil {
				return nil, err
			}
			result[key] = r
		}
		return result, nil

	case []any:
		result := make([]any, len(v))
		for i, val := range v {
			r, err := resolveValue(val, scope)
			if err != nil {
				return nil, err
			}
			result[i] = r
		}
		return result, nil

	default:
		return value, nil
	}
}

// --- AST ---

type exprNode interface {
	eval(scope *Scope) (any, error)
}

type litNode struct{ value any }

func (n *litNode) eval(*Scope) (any, error) { return n.value, nil }

type refNode struct{ path []string }

func (n *refNode) eval(scope *Scope) (any, error) {
	switch {
	case len(n.path) == 2 && n.path[0] == "inputs":
		v, ok := scope.Inputs[n.path[1]]
		if !ok {
			return nil, fmt.Errorf("%w: inputs.%s", ErrUnresolvedReference, n.path[1])
		}
		return v, nil

	case len(n.path) == 3 && n.path[0] == "needs" && n.path[2] == "result":
		status, ok := scope.ResultOf(n.path[1])
		if !ok {
			return nil, fmt.Errorf("%w: needs.%s", ErrUnresolvedReference, n.path[1])
		}
		return strings.ToLower(string(status)), nil

	case len(n.path) == 4 && n.path[0] == "needs" && n.path[2] == "outputs":
		v, ok := scope.OutputOf(n.path[1], n.path[3])
		if !ok {
			return nil, fmt.Errorf("%w: needs.%s.outputs.%s",
				ErrUnresolvedReference, n.path[1], n.path[3])
		}
		return v, nil
	}

	return nil, fmt.Errorf("%w: unknown reference %s", ErrExprSyntax, strings.Join(n.path, "."))
}

type callNode struct{ name string }

func (n *callNode) eval(scope *Scope) (any, error) {
	statuses := scope.DepStatuses()

	switch n.name {
	case "always":
		return true, nil

	case "success":
		for _, s := range statuses {
			if s != domain.JobStatusSucceeded {
				return false, nil
			}
		}
		return true, nil

	case "failure":
		for _, s := range statuses {
			if s == domain.JobStatusFailed {
				return true, nil
			}
		}
		return false, nil
	}

	return nil, fmt.Errorf("%w: unknown function %s()", ErrExprSyntax, n.name)
}

type unaryNode struct{ operand exprNode }

func (n *unaryNode) eval(scope *Scope) (any, error) {
	v, err := n.operand.eval(scope)
	if err != nil {
		return nil, err
	}
	return !truthy(v), nil
}

type binaryNode struct {
	op          string
	left, right exprNode
}

func (n *binaryNode) eval(scope *Scope) (any, error) {
	left, err := n.left.eval(scope)
	if err != nil {
		return nil, err
	}

	// && и || вычисляются лениво
	switch n.op {
	case "&&":
		if !truthy(left) {
			return false, nil
		}
		right, err := n.right.eval(scope)
		if err != nil {
			return nil, err
		}
		return truthy(right), nil

	case "||":
		if truthy(left) {
			return true, nil
		}
		right, err := n.right.eval(scope)
		if err != nil {
			return nil, err
		}
		return truthy(right), nil
	}

	right, err := n.right.eval(scope)
	if err != nil {
		return nil, err
	}

	switch n.op {
	case "==":
		return equal(left, right), nil
	case "!=":
		return !equal(left, right), nil
	}

	return nil, fmt.Errorf("%w: unknown operator %s", ErrExprSyntax, n.op)
}

func collectRefs(node exprNode, refs *[][]string) {
	switch n := node.(type) {
	case *refNode:
		*refs = append(*refs, n.path)
	case *unaryNode:
		collectRefs(n.operand, refs)
	case *binaryNode:
		collectRefs(n.left, refs)
		collectRefs(n.right, refs)
	}
}

// --- Семантика значений ---

func truthy(v any) bool {
	switch x := v.(type) {
	case bool:
		return x
	case string:
		return x != ""
	case float64:
		return x != 0
	default:
		return v != nil
	}
}

func stringify(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// equal сравнивает скаляры: однотипные — напрямую,
// разнотипные — по строковому представлению.
func equal(a, b any) bool {
	if ab, ok := a.(bool); ok {
		if bb, ok := b.(bool); ok {
			return ab == bb
		}
	}
	if af, ok := a.(float64); ok {
		if bf, ok := b.(float64); ok {
			return af == bf
		}
	}
	return stringify(a) == stringify(b)
}

// --- Лексер ---

type token struct {
	kind tokenKind
	text string
}

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokString
	tokNumber
	tokOp // == != && || ! ( ) .
)

func lex(input string) ([]token, error) {
	var tokens []token
	i := 0

	for i < len(input) {
		c := input[i]

		switch {
		case c == ' ' || c == '\t' || c == '\n':
			i++

		case c == '\'' || c == '"':
			quote := c
			j := i + 1
			for j < len(input) && input[j] != quote {
				j++
			}
			if j >= len(input) {
				return nil, fmt.Errorf("%w: unterminated string", ErrExprSyntax)
			}
			tokens = append(tokens, token{tokString, input[i+1 : j]})
			i = j + 1

		case c >= '0' && c <= '9':
			j := i
			for j < len(input) && (input[j] >= '0' && input[j] <= '9' || input[j] == '.') {
				j++
			}
			tokens = append(tokens, token{tokNumber, input[i:j]})
			i = j

		case isIdentChar(c):
			j := i
			for j < len(input) && isIdentChar(input[j]) {
				j++
			}
			tokens = append(tokens, token{tokIdent, input[i:j]})
			i = j

		case c == '(', c == ')', c == '!', c == '.':
			if c == '!' && i+1 < len(input) && input[i+1] == '=' {
				tokens = append(tokens, token{tokOp, "!="})
				i += 2
				break
			}
			tokens = append(tokens, token{tokOp, string(c)})
			i++

		case c == '=', c == '&', c == '|':
			if i+1 >= len(input) || input[i+1] != c {
				return nil, fmt.Errorf("%w: unexpected %q", ErrExprSyntax, string(c))
			}
			switch c {
			case '=':
				tokens = append(tokens, token{tokOp, "=="})
			case '&':
				tokens = append(tokens, token{tokOp, "&&"})
			case '|':
				tokens = append(tokens, token{tokOp, "||"})
			}
			i += 2

		default:
			return nil, fmt.Errorf("%w: unexpected %q", ErrExprSyntax, string(c))
		}
	}

	tokens = append(tokens, token{kind: tokEOF})
	return tokens, nil
}

func isIdentChar(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' ||
		c >= '0' && c <= '9' || c == '_' || c == '-'
}

// --- Парсер (рекурсивный спуск) ---
//
// expr     := or
// or       := and ("||" and)*
// and      := equality ("&&" equality)*
// equality := unary (("==" | "!=") unary)*
// unary    := "!" unary | primary
// primary  := literal | reference | call | "(" expr ")"

type parser struct {
	tokens []token
	pos    int
}

func parseExpr(input string) (exprNode, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return nil, fmt.Errorf("%w: empty expression", ErrExprSyntax)
	}

	tokens, err := lex(input)
	if err != nil {
		return nil, err
	}

	p := &parser{tokens: tokens}
	node, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.peek().kind != tokEOF {
		return nil, fmt.Errorf("%w: trailing %q", ErrExprSyntax, p.peek().text)
	}
	return node, nil
}

func (p *parser) peek() token {
	return p.tokens[p.pos]
}

func (p *parser) next() token {
	t := p.tokens[p.pos]
	p.pos++
	return t
}

func (p *parser) acceptOp(text string) bool {
	if p.peek().kind == tokOp && p.peek().text == text {
		p.pos++
		return true
	}
	return false
}

func (p *parser) parseOr() (exprNode, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.acceptOp("||") {
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &binaryNode{op: "||", left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (exprNode, error) {
	left, err := p.parseEquality()
	if err != nil {
		return nil, err
	}
	for p.acceptOp("&&") {
		right, err := p.parseEquality()
		if err != nil {
			return nil, err
		}
		left = &binaryNode{op: "&&", left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseEquality() (exprNode, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		var op string
		switch {
		case p.acceptOp("=="):
			op = "=="
		case p.acceptOp("!="):
			op = "!="
		default:
			return left, nil
		}
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &binaryNode{op: op, left: left, right: right}
	}
}

func (p *parser) parseUnary() (exprNode, error) {
	if p.acceptOp("!") {
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &unaryNode{operand: operand}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (exprNode, error) {
	t := p.peek()

	switch t.kind {
	case tokString:
		p.next()
		return &litNode{value: t.text}, nil

	case tokNumber:
		p.next()
		f, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: bad number %q", ErrExprSyntax, t.text)
		}
		return &litNode{value: f}, nil

	case tokIdent:
		return p.parseIdent()

	case tokOp:
		if t.text == "(" {
			p.next()
			node, err := p.parseOr()
			if err != nil {
				return nil, err
			}
			if !p.acceptOp(")") {
				return nil, fmt.Errorf("%w: expected )", ErrExprSyntax)
			}
			return node, nil
		}
	}

	return nil, fmt.Errorf("%w: unexpected %q", ErrExprSyntax, t.text)
}

func (p *parser) parseIdent() (exprNode, error) {
	t := p.next()

	switch t.text {
	case "true":
		return &litNode{value: true}, nil
	case "false":
		return &litNode{value: false}, nil
	}

	// Вызов функции: always() / success() / failure()
	if p.acceptOp("(") {
		if !p.acceptOp(")") {
			return nil, fmt.Errorf("%w: %s() takes no arguments", ErrExprSyntax, t.text)
		}
		return &callNode{name: t.text}, nil
	}

	// Ссылка: inputs.X / needs.J.outputs.K / needs.J.result
	path := []string{t.text}
	for p.acceptOp(".") {
		seg := p.next()
		if seg.kind != tokIdent {
			return nil, fmt.Errorf("%w: expected identifier after .", ErrExprSyntax)
		}
		path = append(path, seg.text)
	}

	if len(path) == 1 {
		return nil, fmt.Errorf("%w: bare identifier %q", ErrExprSyntax, t.text)
	}

	return &refNode{path: path}, nil
}
