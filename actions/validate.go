package actions

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/antonmedv/expr"
	"github.com/antonmedv/expr/vm"
)

// ruleEnv is the environment visible to expression rules.
type ruleEnv struct {
	Value    any            `expr:"value"`
	Expected string         `expr:"expected"`
	Data     map[string]any `expr:"data"`
	Config   map[string]any `expr:"config"`
}

// Validator evaluates validation rules and caches compiled programs.
//
// Rules: equals, not_equals, not_empty, contains, regex:<pattern>,
// range:<min>,<max>; anything else is compiled as a boolean expression
// over value, expected, data and config.
type Validator struct {
	mu       sync.RWMutex
	programs map[string]*vm.Program
	patterns map[string]*regexp.Regexp
}

func NewValidator() *Validator {
	return &Validator{
		programs: make(map[string]*vm.Program),
		patterns: make(map[string]*regexp.Regexp),
	}
}

// Check applies rule to value. An empty rule with an expected value means
// equals; an empty rule with no expected value always passes.
func (v *Validator) Check(rule string, value any, expected string) (bool, error) {
	rule = strings.TrimSpace(rule)
	switch {
	case rule == "":
		if expected == "" {
			return true, nil
		}
		return looselyEqual(value, expected), nil
	case rule == "equals":
		return looselyEqual(value, expected), nil
	case rule == "not_equals":
		return !looselyEqual(value, expected), nil
	case rule == "not_empty":
		return !isEmpty(value), nil
	case rule == "contains":
		return strings.Contains(stringify(value), expected), nil
	case strings.HasPrefix(rule, "regex:"):
		re, err := v.pattern(strings.TrimPrefix(rule, "regex:"))
		if err != nil {
			return false, err
		}
		return re.MatchString(stringify(value)), nil
	case strings.HasPrefix(rule, "range:"):
		return inRange(strings.TrimPrefix(rule, "range:"), value)
	default:
		out, err := v.Eval(rule, ruleEnv{Value: value, Expected: expected})
		if err != nil {
			return false, err
		}
		ok, isBool := out.(bool)
		if !isBool {
			return false, fmt.Errorf("rule %q returned %T, not bool", rule, out)
		}
		return ok, nil
	}
}

// Eval runs an expression against env and returns its raw result.
func (v *Validator) Eval(code string, env ruleEnv) (any, error) {
	program, err := v.program(code)
	if err != nil {
		return nil, err
	}
	out, err := expr.Run(program, env)
	if err != nil {
		return nil, fmt.Errorf("rule execution failed: %w", err)
	}
	return out, nil
}

func (v *Validator) program(code string) (*vm.Program, error) {
	v.mu.RLock()
	p, ok := v.programs[code]
	v.mu.RUnlock()
	if ok {
		return p, nil
	}
	p, err := expr.Compile(code, expr.Env(ruleEnv{}))
	if err != nil {
		return nil, fmt.Errorf("rule compilation failed: %w", err)
	}
	v.mu.Lock()
	v.programs[code] = p
	v.mu.Unlock()
	return p, nil
}

func (v *Validator) pattern(src string) (*regexp.Regexp, error) {
	v.mu.RLock()
	re, ok := v.patterns[src]
	v.mu.RUnlock()
	if ok {
		return re, nil
	}
	re, err := regexp.Compile(src)
	if err != nil {
		return nil, fmt.Errorf("invalid regex rule: %w", err)
	}
	v.mu.Lock()
	v.patterns[src] = re
	v.mu.Unlock()
	return re, nil
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case float64:
		return t, true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case bool:
		if t {
			return 1, true
		}
		return 0, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	}
	return 0, false
}

func looselyEqual(value any, expected string) bool {
	if stringify(value) == expected {
		return true
	}
	a, okA := toFloat(value)
	b, okB := toFloat(expected)
	if okA && okB {
		return a == b
	}
	return strings.EqualFold(stringify(value), expected)
}

func isEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	}
	return false
}

func inRange(bounds string, value any) (bool, error) {
	lo, hi, ok := strings.Cut(bounds, ",")
	if !ok {
		return false, fmt.Errorf("range rule needs min,max: %q", bounds)
	}
	minV, err := strconv.ParseFloat(strings.TrimSpace(lo), 64)
	if err != nil {
		return false, fmt.Errorf("range min: %w", err)
	}
	maxV, err := strconv.ParseFloat(strings.TrimSpace(hi), 64)
	if err != nil {
		return false, fmt.Errorf("range max: %w", err)
	}
	f, ok := toFloat(value)
	if !ok {
		return false, nil
	}
	return f >= minV && f <= maxV, nil
}
