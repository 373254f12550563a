package rules

import (
	"context"
	"fmt"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"

	"github.com/opensource-finance/kite/internal/config"
	"github.com/opensource-finance/kite/internal/domain"
)

// CustomExpressionRule evaluates an operator-supplied CEL expression
// against each transaction. The expression is compiled once at
// configuration load; a malformed expression is a load-time error.
type CustomExpressionRule struct {
	Expression string
	Severity   string
	Reason     string
	ScoreDelta float64

	program cel.Program
}

// NewCustomExpressionRule compiles the configured expression.
func NewCustomExpressionRule(cfg config.CustomExpressionConfig) (*CustomExpressionRule, error) {
	env, err := cel.NewEnv(
		cel.Variable("amount", cel.DoubleType),
		cel.Variable("currency", cel.StringType),
		cel.Variable("counterparty", cel.StringType),
		cel.Variable("country", cel.StringType),
		cel.Variable("channel", cel.StringType),
		cel.Variable("direction", cel.StringType),
		cel.Variable("base_risk", cel.DoubleType),
		cel.Variable("tx", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	ast, issues := env.Compile(cfg.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, &domain.ConfigError{
			Field:  "rules.custom_expression.expression",
			Reason: issues.Err().Error(),
		}
	}
	if ast.OutputType() != cel.BoolType {
		return nil, &domain.ConfigError{
			Field:  "rules.custom_expression.expression",
			Reason: fmt.Sprintf("expression must yield bool, got %s", ast.OutputType()),
		}
	}

	program, err := env.Program(ast)
	if err != nil {
		return nil, &domain.ConfigError{
			Field:  "rules.custom_expression.expression",
			Reason: err.Error(),
		}
	}

	severity := cfg.Severity
	if severity == "" {
		severity = domain.SeverityMedium
	}
	reason := cfg.Reason
	if reason == "" {
		reason = "custom expression matched"
	}

	return &CustomExpressionRule{
		Expression: cfg.Expression,
		Severity:   severity,
		Reason:     reason,
		ScoreDelta: cfg.ScoreDelta,
		program:    program,
	}, nil
}

func (r *CustomExpressionRule) ID() string   { return RuleCustomExpression }
func (r *CustomExpressionRule) Hash() string { return RuleHash(RuleCustomExpression) }

func (r *CustomExpressionRule) Evaluate(ctx context.Context, s *domain.TransactionSubject) (*domain.Finding, error) {
	activation := map[string]any{
		"amount":       s.Amount,
		"currency":     s.Currency,
		"counterparty": s.Counterparty,
		"country":      s.Country,
		"channel":      s.Channel,
		"direction":    s.Direction,
		"base_risk":    s.CustomerBase,
		"tx": map[string]any{
			"id":         s.ID,
			"account_id": s.AccountID,
			"timestamp":  s.Timestamp,
		},
	}

	out, _, err := r.program.Eval(activation)
	if err != nil {
		return nil, fmt.Errorf("custom expression evaluation: %w", err)
	}
	if out != types.True {
		return nil, nil
	}

	return &domain.Finding{
		RuleID:   RuleCustomExpression,
		RuleHash: r.Hash(),
		Severity: r.Severity,
		Reason:   r.Reason,
		Evidence: map[string]any{
			"expression": r.Expression,
		},
		ScoreDelta: r.ScoreDelta,
	}, nil
}
