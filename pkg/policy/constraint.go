package policy

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
)

// Constraint is a compiled goal constraint. Expressions are written in
// CEL over the variables `action`, `citation`, and `confidence`, and
// must evaluate to bool. A constraint that evaluates false — or fails
// to evaluate at all — denies the action: constraints fail closed.
type Constraint struct {
	expr string
	prog cel.Program
}

var (
	envOnce sync.Once
	env     *cel.Env
	envErr  error
)

func constraintEnv() (*cel.Env, error) {
	envOnce.Do(func() {
		env, envErr = cel.NewEnv(
			cel.Variable("action", cel.StringType),
			cel.Variable("citation", cel.StringType),
			cel.Variable("confidence", cel.IntType),
		)
	})
	return env, envErr
}

// CompileConstraint compiles expr into an evaluable Constraint.
func CompileConstraint(expr string) (*Constraint, error) {
	e, err := constraintEnv()
	if err != nil {
		return nil, fmt.Errorf("policy: constraint env: %w", err)
	}
	ast, iss := e.Compile(expr)
	if iss.Err() != nil {
		return nil, fmt.Errorf("policy: compile constraint: %w", iss.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("policy: constraint must evaluate to bool, got %s", ast.OutputType())
	}
	prog, err := e.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("policy: program constraint: %w", err)
	}
	return &Constraint{expr: expr, prog: prog}, nil
}

// Expr returns the source expression.
func (c *Constraint) Expr() string { return c.expr }

// Permits evaluates the constraint against a proposed action. Any
// evaluation error denies.
func (c *Constraint) Permits(action, citation string, confidence int) bool {
	out, _, err := c.prog.Eval(map[string]any{
		"action":     action,
		"citation":   citation,
		"confidence": int64(confidence),
	})
	if err != nil {
		return false
	}
	allowed, ok := out.Value().(bool)
	return ok && allowed
}
