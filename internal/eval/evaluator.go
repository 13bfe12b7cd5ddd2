package eval

import (
	"fmt"
	"strconv"
	"strings"
)

// Evaluator is the black-box expression evaluator: given a template
// expression and a variable-binding environment it returns a value or
// an evaluation failure. The expression language itself is external to
// the engine; implementations can wrap any evaluator that satisfies
// this contract.
type Evaluator interface {
	Evaluate(expr string, env *Environment) (any, error)
}

// SimpleEvaluator is the built-in evaluator: string and integer
// literals, $-prefixed variable references with dotted field paths, and
// a default() fallback helper. It covers what the file-backed templates
// and tests need; richer languages plug in behind the Evaluator
// interface.
type SimpleEvaluator struct{}

// NewSimpleEvaluator creates the built-in evaluator.
func NewSimpleEvaluator() *SimpleEvaluator {
	return &SimpleEvaluator{}
}

// Evaluate resolves one expression against the environment.
func (s *SimpleEvaluator) Evaluate(expr string, env *Environment) (any, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return "", nil
	}

	// default(ref, literal) falls back when the reference is unbound.
	if strings.HasPrefix(expr, "default(") && strings.HasSuffix(expr, ")") {
		inner := expr[len("default(") : len(expr)-1]
		parts := splitArgs(inner)
		if len(parts) != 2 {
			return nil, fmt.Errorf("default() takes 2 arguments, got %d", len(parts))
		}
		if v, err := s.Evaluate(parts[0], env); err == nil {
			return v, nil
		}
		return s.Evaluate(parts[1], env)
	}

	// Quoted string literal.
	if len(expr) >= 2 {
		if (expr[0] == '\'' && expr[len(expr)-1] == '\'') ||
			(expr[0] == '"' && expr[len(expr)-1] == '"') {
			return expr[1 : len(expr)-1], nil
		}
	}

	// Integer literal.
	if n, err := strconv.Atoi(expr); err == nil {
		return n, nil
	}

	// Boolean literal.
	if expr == "true" || expr == "false" {
		return expr == "true", nil
	}

	// Variable reference, with or without the leading $.
	ref := expr
	if !strings.HasPrefix(ref, "$") {
		ref = "$" + ref
	}
	if v, ok := env.Lookup(ref); ok {
		return v, nil
	}
	return nil, fmt.Errorf("unresolved reference %q", expr)
}

func splitArgs(s string) []string {
	var (
		args  []string
		depth int
		start int
		quote byte
	)
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '\'' || c == '"':
			quote = c
		case c == '(':
			depth++
		case c == ')':
			depth--
		case c == ',' && depth == 0:
			args = append(args, strings.TrimSpace(s[start:i]))
			start = i + 1
		}
	}
	args = append(args, strings.TrimSpace(s[start:]))
	return args
}

// AsInt coerces an evaluated value to an int, tolerating the string
// and numeric shapes expressions produce.
func AsInt(v any) (int, bool) {
	switch t := v.(type) {
	case int:
		return t, true
	case int64:
		return int(t), true
	case float64:
		return int(t), true
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(t))
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}
