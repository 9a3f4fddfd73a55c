package expression

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Function is the signature of functions callable from a condition
type Function func(params ...interface{}) (interface{}, error)

// Engine compiles and caches branch conditions. Conditions see the run
// environment: kickoff, roles, steps and workspace.
type Engine struct {
	programCache map[string]*vm.Program
	functions    map[string]Function
	now          func() time.Time
	mu           sync.RWMutex
}

// NewEngine creates an engine with the builtin functions registered
func NewEngine() *Engine {
	e := &Engine{
		programCache: make(map[string]*vm.Program),
		functions:    make(map[string]Function),
		now:          time.Now,
	}
	e.functions["LEN"] = fnLen
	e.functions["UPPER"] = stringFunc("UPPER", strings.ToUpper)
	e.functions["LOWER"] = stringFunc("LOWER", strings.ToLower)
	e.functions["TRIM"] = stringFunc("TRIM", strings.TrimSpace)
	e.functions["NUMBER"] = fnNumber
	e.functions["BLANK"] = fnBlank
	e.functions["CONTAINS"] = fnContains
	e.functions["DAYS_SINCE"] = e.daysSince
	return e
}

// Evaluate compiles (if needed) and runs an expression against the given environment
func (e *Engine) Evaluate(expression string, env map[string]interface{}) (interface{}, error) {
	program, err := e.getProgram(expression)
	if err != nil {
		return nil, err
	}
	if env == nil {
		env = map[string]interface{}{}
	}
	return expr.Run(program, env)
}

// EvaluateCondition runs a boolean expression. A blank expression is false.
func (e *Engine) EvaluateCondition(expression string, env map[string]interface{}) (bool, error) {
	if strings.TrimSpace(expression) == "" {
		return false, nil
	}
	out, err := e.Evaluate(expression, env)
	if err != nil {
		return false, err
	}
	result, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("condition %q returned %T, expected bool", expression, out)
	}
	return result, nil
}

// RegisterFunction adds or replaces a function and drops compiled programs
func (e *Engine) RegisterFunction(name string, fn Function) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.functions[name] = fn
	e.programCache = make(map[string]*vm.Program)
}

// Validate compiles an expression without running it
func (e *Engine) Validate(expression string) error {
	_, err := e.getProgram(expression)
	return err
}

func (e *Engine) getProgram(expression string) (*vm.Program, error) {
	e.mu.RLock()
	if prog, ok := e.programCache[expression]; ok {
		e.mu.RUnlock()
		return prog, nil
	}
	e.mu.RUnlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	// Double check
	if prog, ok := e.programCache[expression]; ok {
		return prog, nil
	}

	// Result data is free-form, so names are resolved at run time
	options := []expr.Option{
		expr.Env(map[string]interface{}{}),
		expr.AllowUndefinedVariables(),
	}
	for name, fn := range e.functions {
		options = append(options, expr.Function(name, fn))
	}

	program, err := expr.Compile(expression, options...)
	if err != nil {
		return nil, err
	}

	e.programCache[expression] = program
	return program, nil
}

func stringFunc(name string, fn func(string) string) Function {
	return func(params ...interface{}) (interface{}, error) {
		if len(params) != 1 {
			return nil, fmt.Errorf("%s requires 1 argument", name)
		}
		switch v := params[0].(type) {
		case string:
			return fn(v), nil
		case nil:
			return "", nil
		}
		return nil, fmt.Errorf("%s argument must be string, got %T", name, params[0])
	}
}

func fnLen(params ...interface{}) (interface{}, error) {
	if len(params) != 1 {
		return nil, fmt.Errorf("LEN requires 1 argument")
	}
	switch v := params[0].(type) {
	case string:
		return len(v), nil
	case []interface{}:
		return len(v), nil
	case map[string]interface{}:
		return len(v), nil
	case nil:
		return 0, nil
	}
	return nil, fmt.Errorf("LEN argument must be string, list or map")
}

func fnNumber(params ...interface{}) (interface{}, error) {
	if len(params) != 1 {
		return nil, fmt.Errorf("NUMBER requires 1 argument")
	}
	return toFloat(params[0])
}

// fnBlank is true for nil, whitespace-only strings and empty lists or maps
func fnBlank(params ...interface{}) (interface{}, error) {
	if len(params) != 1 {
		return nil, fmt.Errorf("BLANK requires 1 argument")
	}
	switch v := params[0].(type) {
	case nil:
		return true, nil
	case string:
		return strings.TrimSpace(v) == "", nil
	case []interface{}:
		return len(v) == 0, nil
	case map[string]interface{}:
		return len(v) == 0, nil
	}
	return false, nil
}

// fnContains tests substring for strings and membership for lists.
// String comparison ignores case.
func fnContains(params ...interface{}) (interface{}, error) {
	if len(params) != 2 {
		return nil, fmt.Errorf("CONTAINS requires 2 arguments (haystack, needle)")
	}
	needle := fmt.Sprintf("%v", params[1])
	switch h := params[0].(type) {
	case nil:
		return false, nil
	case string:
		return strings.Contains(strings.ToLower(h), strings.ToLower(needle)), nil
	case []interface{}:
		for _, item := range h {
			if strings.EqualFold(fmt.Sprintf("%v", item), needle) {
				return true, nil
			}
		}
		return false, nil
	}
	return nil, fmt.Errorf("CONTAINS haystack must be string or list, got %T", params[0])
}

// daysSince returns whole days elapsed since an RFC 3339 timestamp or a
// YYYY-MM-DD date.
func (e *Engine) daysSince(params ...interface{}) (interface{}, error) {
	if len(params) != 1 {
		return nil, fmt.Errorf("DAYS_SINCE requires 1 argument")
	}
	s, ok := params[0].(string)
	if !ok {
		return nil, fmt.Errorf("DAYS_SINCE argument must be string")
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		if t, err = time.Parse("2006-01-02", s); err != nil {
			return nil, fmt.Errorf("DAYS_SINCE date format invalid: %q", s)
		}
	}
	return int(e.now().Sub(t).Hours() / 24), nil
}

func toFloat(v interface{}) (float64, error) {
	switch val := v.(type) {
	case float64:
		return val, nil
	case int:
		return float64(val), nil
	case int64:
		return float64(val), nil
	case float32:
		return float64(val), nil
	case string:
		return strconv.ParseFloat(strings.TrimSpace(val), 64)
	}
	return 0, fmt.Errorf("cannot convert %T to number", v)
}
