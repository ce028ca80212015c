package builtin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"
)

const (
	maxExpressionLength = 1024
	maxNestingDepth     = 128
)

// CalculatorParams are the calculator's arguments.
type CalculatorParams struct {
	Expression string `json:"expression" jsonschema_description:"Mathematical expression to evaluate (e.g., '2 + 2', 'sqrt(16)', '3 ** 4')"`
}

// CalculatorResult is returned on success.
type CalculatorResult struct {
	Status     string  `json:"status"`
	Result     float64 `json:"result"`
	Expression string  `json:"expression"`
}

// CalculatorTool evaluates arithmetic expressions without any code execution.
type CalculatorTool struct {
	schema json.RawMessage
}

func NewCalculatorTool() *CalculatorTool {
	return &CalculatorTool{schema: reflectSchema(&CalculatorParams{})}
}

func (t *CalculatorTool) Name() string { return "calculator" }

func (t *CalculatorTool) Description() string {
	return "Perform mathematical calculations. Supports basic arithmetic, powers, roots, and common math functions."
}

func (t *CalculatorTool) Schema() json.RawMessage { return t.schema }

func (t *CalculatorTool) Execute(ctx context.Context, params json.RawMessage) (any, error) {
	var input CalculatorParams
	if err := json.Unmarshal(params, &input); err != nil {
		return nil, fmt.Errorf("invalid parameters: %w", err)
	}
	expr := strings.TrimSpace(input.Expression)
	value, err := Evaluate(expr)
	if err != nil {
		return nil, err
	}
	return CalculatorResult{Status: "success", Result: value, Expression: expr}, nil
}

// Evaluate computes expr. Supported: + - * / % ^ ** with the usual
// precedence (power binds tighter than unary minus and is right
// associative), parentheses, the functions in calcFunctions and the
// constants pi and e.
func Evaluate(expr string) (float64, error) {
	if strings.TrimSpace(expr) == "" {
		return 0, errors.New("expression is empty")
	}
	if len(expr) > maxExpressionLength {
		return 0, fmt.Errorf("expression exceeds %d characters", maxExpressionLength)
	}
	toks, err := tokenize(expr)
	if err != nil {
		return 0, err
	}
	p := &parser{toks: toks}
	value, err := p.expression(0)
	if err != nil {
		return 0, err
	}
	if tok := p.peek(); tok.kind != tokEOF {
		return 0, fmt.Errorf("unexpected %q at position %d", tok.text, tok.pos)
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, errors.New("result is not a finite number")
	}
	return value, nil
}

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokNumber
	tokIdent
	tokOp
	tokLParen
	tokRParen
	tokComma
)

type token struct {
	kind tokenKind
	text string
	num  float64
	pos  int
}

func tokenize(expr string) ([]token, error) {
	var toks []token
	runes := []rune(expr)
	for i := 0; i < len(runes); {
		r := runes[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case unicode.IsDigit(r) || r == '.':
			start := i
			for i < len(runes) && (unicode.IsDigit(runes[i]) || runes[i] == '.') {
				i++
			}
			// Exponent only when digits follow, so "2e" stays 2 * e.
			if i < len(runes) && (runes[i] == 'e' || runes[i] == 'E') {
				j := i + 1
				if j < len(runes) && (runes[j] == '+' || runes[j] == '-') {
					j++
				}
				if j < len(runes) && unicode.IsDigit(runes[j]) {
					for j < len(runes) && unicode.IsDigit(runes[j]) {
						j++
					}
					i = j
				}
			}
			text := string(runes[start:i])
			num, err := strconv.ParseFloat(text, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid number %q at position %d", text, start)
			}
			toks = append(toks, token{kind: tokNumber, text: text, num: num, pos: start})
		case unicode.IsLetter(r) || r == '_':
			start := i
			for i < len(runes) && (unicode.IsLetter(runes[i]) || unicode.IsDigit(runes[i]) || runes[i] == '_') {
				i++
			}
			toks = append(toks, token{kind: tokIdent, text: strings.ToLower(string(runes[start:i])), pos: start})
		case r == '*' && i+1 < len(runes) && runes[i+1] == '*':
			toks = append(toks, token{kind: tokOp, text: "**", pos: i})
			i += 2
		case strings.ContainsRune("+-*/%^", r):
			toks = append(toks, token{kind: tokOp, text: string(r), pos: i})
			i++
		case r == '(':
			toks = append(toks, token{kind: tokLParen, text: "(", pos: i})
			i++
		case r == ')':
			toks = append(toks, token{kind: tokRParen, text: ")", pos: i})
			i++
		case r == ',':
			toks = append(toks, token{kind: tokComma, text: ",", pos: i})
			i++
		default:
			return nil, fmt.Errorf("unexpected character %q at position %d", r, i)
		}
	}
	return append(toks, token{kind: tokEOF, pos: len(runes)}), nil
}

// Binding powers. Unary minus sits between multiplication and power so that
// -2 ** 2 is -4.
const (
	bpAdditive       = 10
	bpMultiplicative = 20
	bpUnary          = 30
	bpPower          = 40
)

type parser struct {
	toks  []token
	pos   int
	depth int
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) next() token {
	tok := p.toks[p.pos]
	if tok.kind != tokEOF {
		p.pos++
	}
	return tok
}

func (p *parser) expression(minBP int) (float64, error) {
	p.depth++
	defer func() { p.depth-- }()
	if p.depth > maxNestingDepth {
		return 0, errors.New("expression is nested too deeply")
	}

	left, err := p.prefix()
	if err != nil {
		return 0, err
	}
	for {
		tok := p.peek()
		if tok.kind != tokOp {
			return left, nil
		}
		lbp, rbp := infixBindingPower(tok.text)
		if lbp < minBP {
			return left, nil
		}
		p.next()
		right, err := p.expression(rbp)
		if err != nil {
			return 0, err
		}
		left, err = applyBinary(tok.text, left, right)
		if err != nil {
			return 0, err
		}
	}
}

func infixBindingPower(op string) (int, int) {
	switch op {
	case "+", "-":
		return bpAdditive, bpAdditive + 1
	case "*", "/", "%":
		return bpMultiplicative, bpMultiplicative + 1
	default: // ^ and ** are right associative
		return bpPower, bpPower - 1
	}
}

func (p *parser) prefix() (float64, error) {
	tok := p.next()
	switch tok.kind {
	case tokNumber:
		return tok.num, nil
	case tokOp:
		if tok.text != "-" && tok.text != "+" {
			return 0, fmt.Errorf("unexpected %q at position %d", tok.text, tok.pos)
		}
		v, err := p.expression(bpUnary)
		if err != nil {
			return 0, err
		}
		if tok.text == "-" {
			return -v, nil
		}
		return v, nil
	case tokLParen:
		v, err := p.expression(0)
		if err != nil {
			return 0, err
		}
		if closing := p.next(); closing.kind != tokRParen {
			return 0, fmt.Errorf("missing closing parenthesis at position %d", closing.pos)
		}
		return v, nil
	case tokIdent:
		if p.peek().kind == tokLParen {
			return p.call(tok)
		}
		if v, ok := calcConstants[tok.text]; ok {
			return v, nil
		}
		return 0, fmt.Errorf("unknown name %q", tok.text)
	case tokEOF:
		return 0, errors.New("unexpected end of expression")
	default:
		return 0, fmt.Errorf("unexpected %q at position %d", tok.text, tok.pos)
	}
}

func (p *parser) call(name token) (float64, error) {
	fn, ok := calcFunctions[name.text]
	if !ok {
		return 0, fmt.Errorf("unknown function %q", name.text)
	}
	p.next() // (
	var args []float64
	if p.peek().kind != tokRParen {
		for {
			v, err := p.expression(0)
			if err != nil {
				return 0, err
			}
			args = append(args, v)
			if p.peek().kind != tokComma {
				break
			}
			p.next()
		}
	}
	if closing := p.next(); closing.kind != tokRParen {
		return 0, fmt.Errorf("missing closing parenthesis for %s at position %d", name.text, closing.pos)
	}
	if len(args) < fn.minArgs || (fn.maxArgs >= 0 && len(args) > fn.maxArgs) {
		return 0, fmt.Errorf("%s: wrong number of arguments (%d)", name.text, len(args))
	}
	return fn.eval(args)
}

func applyBinary(op string, a, b float64) (float64, error) {
	switch op {
	case "+":
		return a + b, nil
	case "-":
		return a - b, nil
	case "*":
		return a * b, nil
	case "/":
		if b == 0 {
			return 0, errors.New("division by zero")
		}
		return a / b, nil
	case "%":
		if b == 0 {
			return 0, errors.New("modulo by zero")
		}
		// Floored modulo: the result takes the divisor's sign.
		r := math.Mod(a, b)
		if r != 0 && (r < 0) != (b < 0) {
			r += b
		}
		return r, nil
	default:
		return math.Pow(a, b), nil
	}
}

type calcFunction struct {
	minArgs int
	maxArgs int // -1 for variadic
	eval    func(args []float64) (float64, error)
}

func unary(fn func(float64) float64) calcFunction {
	return calcFunction{minArgs: 1, maxArgs: 1, eval: func(args []float64) (float64, error) {
		return fn(args[0]), nil
	}}
}

var calcConstants = map[string]float64{
	"pi": math.Pi,
	"e":  math.E,
}

var calcFunctions = map[string]calcFunction{
	"abs": unary(math.Abs),
	"sin": unary(math.Sin),
	"cos": unary(math.Cos),
	"tan": unary(math.Tan),
	"exp": unary(math.Exp),
	"sqrt": {minArgs: 1, maxArgs: 1, eval: func(args []float64) (float64, error) {
		if args[0] < 0 {
			return 0, errors.New("sqrt: math domain error")
		}
		return math.Sqrt(args[0]), nil
	}},
	"log": {minArgs: 1, maxArgs: 2, eval: func(args []float64) (float64, error) {
		if args[0] <= 0 {
			return 0, errors.New("log: math domain error")
		}
		if len(args) == 1 {
			return math.Log(args[0]), nil
		}
		if args[1] <= 0 || args[1] == 1 {
			return 0, errors.New("log: invalid base")
		}
		return math.Log(args[0]) / math.Log(args[1]), nil
	}},
	"log10": {minArgs: 1, maxArgs: 1, eval: func(args []float64) (float64, error) {
		if args[0] <= 0 {
			return 0, errors.New("log10: math domain error")
		}
		return math.Log10(args[0]), nil
	}},
	"pow": {minArgs: 2, maxArgs: 2, eval: func(args []float64) (float64, error) {
		return math.Pow(args[0], args[1]), nil
	}},
	"round": {minArgs: 1, maxArgs: 2, eval: func(args []float64) (float64, error) {
		if len(args) == 1 {
			return math.RoundToEven(args[0]), nil
		}
		scale := math.Pow(10, math.Trunc(args[1]))
		return math.RoundToEven(args[0]*scale) / scale, nil
	}},
	"min": {minArgs: 1, maxArgs: -1, eval: func(args []float64) (float64, error) {
		out := args[0]
		for _, v := range args[1:] {
			out = math.Min(out, v)
		}
		return out, nil
	}},
	"max": {minArgs: 1, maxArgs: -1, eval: func(args []float64) (float64, error) {
		out := args[0]
		for _, v := range args[1:] {
			out = math.Max(out, v)
		}
		return out, nil
	}},
	"sum": {minArgs: 0, maxArgs: -1, eval: func(args []float64) (float64, error) {
		var total float64
		for _, v := range args {
			total += v
		}
		return total, nil
	}},
}
