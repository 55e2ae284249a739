package condition

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
)

var (
	// ErrSyntax marks an expression that does not compile or does not
	// produce a boolean.
	ErrSyntax = errors.New("condition syntax")
	// ErrEval marks a runtime evaluation failure, e.g. a reference to a
	// missing context key.
	ErrEval = errors.New("condition evaluation")
)

// Vars is the evaluation input a condition can inspect.
type Vars struct {
	Principal string
	Action    string
	Resource  string
	Context   map[string]any
}

// Evaluator compiles and runs CEL condition expressions against request
// variables. Compiled programs are cached by expression source, so repeated
// evaluation of the same stored grant is cheap.
type Evaluator struct {
	env *cel.Env

	mu       sync.RWMutex
	programs map[string]cel.Program
}

// NewEvaluator builds an evaluator exposing the request variables
// `principal`, `action`, `resource` (strings) and `context` (string-keyed
// map) to condition expressions.
func NewEvaluator() (*Evaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("principal", cel.StringType),
		cel.Variable("action", cel.StringType),
		cel.Variable("resource", cel.StringType),
		cel.Variable("context", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("create condition environment: %w", err)
	}
	return &Evaluator{
		env:      env,
		programs: make(map[string]cel.Program),
	}, nil
}

// Compile validates an expression without running it. Used at grant
// creation so malformed conditions fail fast; the compiled program stays
// cached for evaluation.
func (e *Evaluator) Compile(expr string) error {
	_, err := e.program(expr)
	return err
}

// Eval runs an expression against request variables. The empty expression
// is vacuously true, matching a grant with no condition.
func (e *Evaluator) Eval(expr string, vars Vars) (bool, error) {
	if expr == "" {
		return true, nil
	}
	prg, err := e.program(expr)
	if err != nil {
		return false, err
	}

	ctxMap := vars.Context
	if ctxMap == nil {
		ctxMap = map[string]any{}
	}
	out, _, err := prg.Eval(map[string]any{
		"principal": vars.Principal,
		"action":    vars.Action,
		"resource":  vars.Resource,
		"context":   ctxMap,
	})
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrEval, err)
	}
	result, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("%w: expression %q produced %T, want bool", ErrEval, expr, out.Value())
	}
	return result, nil
}

func (e *Evaluator) program(expr string) (cel.Program, error) {
	e.mu.RLock()
	prg, hit := e.programs[expr]
	e.mu.RUnlock()
	if hit {
		return prg, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if prg, hit = e.programs[expr]; hit {
		return prg, nil
	}

	ast, iss := e.env.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return nil, fmt.Errorf("%w: %v", ErrSyntax, iss.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("%w: expression %q evaluates to %s, want bool", ErrSyntax, expr, ast.OutputType())
	}
	prg, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSyntax, err)
	}
	e.programs[expr] = prg
	return prg, nil
}

var (
	defaultOnce sync.Once
	defaultEval *Evaluator
	defaultErr  error
)

// Default returns the process-wide evaluator used by Grant.Matches. The
// shared program cache is the only state; evaluation itself is pure.
func Default() (*Evaluator, error) {
	defaultOnce.Do(func() {
		defaultEval, defaultErr = NewEvaluator()
	})
	return defaultEval, defaultErr
}
