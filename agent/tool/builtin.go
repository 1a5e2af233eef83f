package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/cloudwego/eino/schema"

	contractx "github.com/Jhons14/LocalAI/agent/contract"
)

// BuiltinToolkit names the local toolkit that runs in-process and needs no
// platform credential.
const BuiltinToolkit = "Builtin"

const toolMathEvaluate = "math.evaluate"

// Accepts digits, whitespace, decimal points, operators, and parentheses.
var exprPattern = regexp.MustCompile(`^[\d\s\+\-\*/%\^\(\)\.]+$`)

// BuiltinProvider serves the local toolkit. All builtin tools are
// credential-free, so RequiresAuth is always false and Authorize is never a
// valid call.
type BuiltinProvider struct{}

var _ contractx.ToolProvider = (*BuiltinProvider)(nil)

func NewBuiltinProvider() *BuiltinProvider {
	return &BuiltinProvider{}
}

// IsBuiltinToolkit reports whether a toolkit name refers to the local toolkit.
func IsBuiltinToolkit(toolkit string) bool {
	return strings.EqualFold(strings.TrimSpace(toolkit), BuiltinToolkit)
}

func (p *BuiltinProvider) Tools(_ context.Context, toolkits []string) ([]*schema.ToolInfo, error) {
	for _, tk := range toolkits {
		if IsBuiltinToolkit(tk) {
			return builtinToolInfos(), nil
		}
	}
	return nil, nil
}

func (p *BuiltinProvider) RequiresAuth(string) bool { return false }

func (p *BuiltinProvider) Authorize(_ context.Context, tool, _ string) (contractx.AuthHandle, error) {
	return contractx.AuthHandle{}, fmt.Errorf("%w: builtin tool %q needs no authorization", contractx.ErrValidation, tool)
}

func (p *BuiltinProvider) WaitForAuth(context.Context, contractx.AuthHandle) error {
	return nil
}

// Handles reports whether the named tool is served locally.
func (p *BuiltinProvider) Handles(tool string) bool {
	return tool == toolMathEvaluate
}

func (p *BuiltinProvider) Execute(_ context.Context, call schema.ToolCall) (string, error) {
	if call.Function.Name != toolMathEvaluate {
		return "", fmt.Errorf("%w: unknown builtin tool %q", contractx.ErrValidation, call.Function.Name)
	}

	var args struct {
		Expression string `json:"expression"`
	}
	if raw := strings.TrimSpace(call.Function.Arguments); raw != "" {
		if err := json.Unmarshal([]byte(raw), &args); err != nil {
			return "", fmt.Errorf("%w: invalid arguments for %s: %v", contractx.ErrValidation, toolMathEvaluate, err)
		}
	}

	expr := strings.TrimSpace(args.Expression)
	if err := validateExpression(expr); err != nil {
		return "", err
	}
	result, err := evaluateExpression(expr)
	if err != nil {
		return "", err
	}

	out, err := json.Marshal(map[string]any{"expression": expr, "result": result})
	if err != nil {
		return "", fmt.Errorf("marshal result: %w", err)
	}
	return string(out), nil
}

func builtinToolInfos() []*schema.ToolInfo {
	return []*schema.ToolInfo{
		{
			Name: toolMathEvaluate,
			Desc: "Evaluate a mathematical expression with +, -, *, /, %, ^ and parentheses.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"expression": {Type: schema.String, Desc: "Expression to evaluate", Required: true},
			}),
		},
	}
}

func validateExpression(expr string) error {
	if expr == "" {
		return fmt.Errorf("expression is empty")
	}
	if !exprPattern.MatchString(expr) {
		return fmt.Errorf("expression contains invalid characters")
	}

	depth := 0
	for _, ch := range expr {
		switch ch {
		case '(':
			depth++
		case ')':
			depth--
			if depth < 0 {
				return fmt.Errorf("expression has unbalanced parentheses")
			}
		}
	}
	if depth != 0 {
		return fmt.Errorf("expression has unbalanced parentheses")
	}
	return nil
}

func evaluateExpression(expr string) (float64, error) {
	toks, err := scanTokens(expr)
	if err != nil {
		return 0, err
	}

	ev := &evaluator{toks: toks}
	value, err := ev.evalExpr(0)
	if err != nil {
		return 0, err
	}
	if tok := ev.peek(); tok.kind != tokEOF {
		return 0, fmt.Errorf("unexpected token at position %d", tok.pos)
	}
	return value, nil
}

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokNumber
	tokOperator
	tokLParen
	tokRParen
)

type token struct {
	kind tokenKind
	op   byte
	num  float64
	pos  int
}

// scanTokens splits the expression into numbers, operators, and parentheses.
// Number literals are parsed here, so the evaluator only sees typed tokens.
func scanTokens(expr string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(expr) {
		ch := expr[i]
		switch {
		case ch == ' ':
			i++
		case ch == '(':
			toks = append(toks, token{kind: tokLParen, pos: i})
			i++
		case ch == ')':
			toks = append(toks, token{kind: tokRParen, pos: i})
			i++
		case strings.IndexByte("+-*/%^", ch) >= 0:
			toks = append(toks, token{kind: tokOperator, op: ch, pos: i})
			i++
		case ch >= '0' && ch <= '9' || ch == '.':
			start := i
			dots := 0
			for i < len(expr) && (expr[i] >= '0' && expr[i] <= '9' || expr[i] == '.') {
				if expr[i] == '.' {
					dots++
				}
				i++
			}
			raw := expr[start:i]
			if dots > 1 || raw == "." {
				return nil, fmt.Errorf("invalid number format at position %d", start)
			}
			num, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid number %q: %w", raw, err)
			}
			toks = append(toks, token{kind: tokNumber, num: num, pos: start})
		default:
			return nil, fmt.Errorf("unexpected character %q at position %d", ch, i)
		}
	}
	return append(toks, token{kind: tokEOF, pos: len(expr)}), nil
}

// evaluator folds the token stream by precedence climbing. ^ binds tightest
// and associates right; * / % bind tighter than + -.
type evaluator struct {
	toks []token
	pos  int
}

func precedence(op byte) int {
	switch op {
	case '^':
		return 3
	case '*', '/', '%':
		return 2
	default:
		return 1
	}
}

func (e *evaluator) peek() token { return e.toks[e.pos] }

func (e *evaluator) evalExpr(minPrec int) (float64, error) {
	left, err := e.evalOperand()
	if err != nil {
		return 0, err
	}

	for {
		tok := e.peek()
		if tok.kind != tokOperator || precedence(tok.op) < minPrec {
			return left, nil
		}
		e.pos++

		nextMin := precedence(tok.op) + 1
		if tok.op == '^' {
			nextMin = precedence(tok.op)
		}
		right, err := e.evalExpr(nextMin)
		if err != nil {
			return 0, err
		}

		left, err = applyOperator(tok.op, left, right)
		if err != nil {
			return 0, err
		}
	}
}

func (e *evaluator) evalOperand() (float64, error) {
	tok := e.peek()
	switch {
	case tok.kind == tokOperator && tok.op == '+':
		e.pos++
		return e.evalOperand()
	case tok.kind == tokOperator && tok.op == '-':
		e.pos++
		value, err := e.evalOperand()
		if err != nil {
			return 0, err
		}
		return -value, nil
	case tok.kind == tokLParen:
		e.pos++
		value, err := e.evalExpr(0)
		if err != nil {
			return 0, err
		}
		if closing := e.peek(); closing.kind != tokRParen {
			return 0, fmt.Errorf("missing closing parenthesis at position %d", closing.pos)
		}
		e.pos++
		return value, nil
	case tok.kind == tokNumber:
		e.pos++
		return tok.num, nil
	default:
		return 0, fmt.Errorf("expected number at position %d", tok.pos)
	}
}

func applyOperator(op byte, left, right float64) (float64, error) {
	switch op {
	case '+':
		return left + right, nil
	case '-':
		return left - right, nil
	case '*':
		return left * right, nil
	case '/':
		if right == 0 {
			return 0, fmt.Errorf("division by zero")
		}
		return left / right, nil
	case '%':
		if right == 0 {
			return 0, fmt.Errorf("modulo by zero")
		}
		return math.Mod(left, right), nil
	case '^':
		return math.Pow(left, right), nil
	default:
		return 0, fmt.Errorf("unknown operator %q", op)
	}
}
