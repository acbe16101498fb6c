// Package policy implements an internal bookkeeping block whose outcome is
// decided by govaluate rules over the payment method and the phase args.
package policy

import (
	"context"
	"fmt"
	"sort"

	"github.com/Knetic/govaluate"

	"github.com/yourorg/payment-flow/internal/block"
	"github.com/yourorg/payment-flow/internal/payment"
)

// Rule maps a boolean expression to the status the block reports when it
// matches. Lower Priority values are evaluated first; ties keep list order.
type Rule struct {
	ID         string                  `mapstructure:"id"`
	Expression string                  `mapstructure:"expression"`
	Priority   int                     `mapstructure:"priority"`
	Status     payment.OperationStatus `mapstructure:"status"`
	Message    string                  `mapstructure:"message"`
}

type compiledRule struct {
	Rule
	expr *govaluate.EvaluableExpression
}

// Block evaluates its rules in order; the first match decides. No match means
// COMPLETED.
type Block struct {
	name  string
	rules []compiledRule
}

// New compiles rules. It fails on empty or invalid expressions and on statuses
// a block may not report.
func New(name string, rules []Rule) (*Block, error) {
	b := &Block{name: name}
	for _, r := range rules {
		if r.Expression == "" {
			return nil, fmt.Errorf("policy rule ID '%s' has an empty expression", r.ID)
		}
		switch r.Status {
		case payment.StatusCompleted, payment.StatusFailed, payment.StatusPending, payment.StatusRequiresAction:
		default:
			return nil, fmt.Errorf("policy rule ID '%s' has unsupported status %q", r.ID, r.Status)
		}
		expr, err := govaluate.NewEvaluableExpression(r.Expression)
		if err != nil {
			return nil, fmt.Errorf("failed to compile rule ID '%s': %w", r.ID, err)
		}
		b.rules = append(b.rules, compiledRule{Rule: r, expr: expr})
	}
	sort.SliceStable(b.rules, func(i, j int) bool { return b.rules[i].Priority < b.rules[j].Priority })
	return b, nil
}

func (b *Block) Name() string { return b.name }

// Run implements block.Block.
func (b *Block) Run(_ context.Context, pm *payment.PaymentMethod, args block.Args) (payment.BlockResponse, error) {
	params := parameters(pm, args)
	for _, r := range b.rules {
		result, err := r.expr.Evaluate(params)
		if err != nil {
			return payment.BlockResponse{}, fmt.Errorf("policy %s: failed to evaluate rule ID '%s': %w", b.name, r.ID, err)
		}
		matched, ok := result.(bool)
		if !ok {
			return payment.BlockResponse{}, fmt.Errorf("policy %s: rule ID '%s' did not evaluate to a boolean", b.name, r.ID)
		}
		if matched {
			resp := payment.BlockResponse{Status: r.Status, ErrorMessage: r.Message}
			if r.Status == payment.StatusFailed && resp.ErrorMessage == "" {
				resp.ErrorMessage = fmt.Sprintf("rejected by policy rule %s", r.ID)
			}
			return resp, nil
		}
	}
	return payment.BlockResponse{Status: payment.StatusCompleted}, nil
}

// parameters exposes the payment method as confirmable, payment_attempt_id and
// operations, and every arg under its own name. Numbers become float64, which
// is what govaluate compares.
func parameters(pm *payment.PaymentMethod, args block.Args) map[string]interface{} {
	params := make(map[string]interface{}, len(args)+3)
	for k, v := range args {
		params[k] = normalize(v)
	}
	params["confirmable"] = pm.Confirmable
	params["payment_attempt_id"] = pm.PaymentAttemptID
	params["operations"] = float64(len(pm.Operations))
	return params
}

func normalize(v any) any {
	switch n := v.(type) {
	case int:
		return float64(n)
	case int32:
		return float64(n)
	case int64:
		return float64(n)
	case float32:
		return float64(n)
	default:
		return v
	}
}
