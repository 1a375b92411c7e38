// Package policy holds deployment-supplied guards that constrain governance
// operations beyond the built-in role and status checks.
package policy

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/cel-go/cel"

	"github.com/sinanzx3473-web/0xzero-nation-state/pkg/defcon"
)

// StrictOracleUpdate only permits oracle rotation while the protocol is SECURE.
const StrictOracleUpdate = `status == "SECURE"`

// ErrPolicyDenied is returned when the expression evaluates to false.
var ErrPolicyDenied = errors.New("oracle update denied by policy")

// CELGuard evaluates a CEL expression against each oracle update request.
// The zero value and a guard built from an empty expression permit every
// request.
type CELGuard struct {
	expr string
	prg  cel.Program
}

var _ defcon.OracleGuard = (*CELGuard)(nil)

// NewCELGuard compiles expr. The expression must yield a bool.
func NewCELGuard(expr string) (*CELGuard, error) {
	if expr == "" {
		return &CELGuard{}, nil
	}

	env, err := cel.NewEnv(
		cel.Variable("status", cel.StringType),
		cel.Variable("caller", cel.StringType),
		cel.Variable("current_oracle", cel.StringType),
		cel.Variable("new_oracle", cel.StringType),
		cel.Variable("pending_seconds", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile oracle policy: %w", issues.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("oracle policy must evaluate to bool, got %s", ast.OutputType())
	}

	prg, err := env.Program(ast,
		cel.InterruptCheckFrequency(100),
		cel.CostLimit(10000),
	)
	if err != nil {
		return nil, fmt.Errorf("program: %w", err)
	}
	return &CELGuard{expr: expr, prg: prg}, nil
}

// Expression returns the source expression, empty for the permissive guard.
func (g *CELGuard) Expression() string {
	return g.expr
}

// AllowOracleUpdate implements defcon.OracleGuard.
func (g *CELGuard) AllowOracleUpdate(ctx context.Context, req defcon.OracleUpdateRequest) error {
	if g == nil || g.prg == nil {
		return nil
	}

	out, _, err := g.prg.ContextEval(ctx, map[string]any{
		"status":          string(req.Status),
		"caller":          req.Caller.String(),
		"current_oracle":  req.CurrentOracle.String(),
		"new_oracle":      req.NewOracle.String(),
		"pending_seconds": int64(req.PendingFor.Seconds()),
	})
	if err != nil {
		// Fail closed: an expression that cannot be evaluated denies.
		return fmt.Errorf("%w: eval: %w", ErrPolicyDenied, err)
	}
	allowed, ok := out.Value().(bool)
	if !ok {
		return fmt.Errorf("%w: result not bool", ErrPolicyDenied)
	}
	if !allowed {
		return fmt.Errorf("%w: %s", ErrPolicyDenied, g.expr)
	}
	return nil
}
