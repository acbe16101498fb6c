package decision

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"

	"github.com/yourorg/payment-flow/internal/payment"
)

var allStatuses = []payment.OperationStatus{
	payment.StatusStarted,
	payment.StatusCompleted,
	payment.StatusFailed,
	payment.StatusRequiresAction,
	payment.StatusPending,
	payment.StatusNotPerformed,
}

var terminalStatuses = allStatuses[1:]

var exclusivePhases = []payment.OperationType{
	payment.OperationInitialize,
	payment.OperationProcessAction,
	payment.OperationAfterPay,
	payment.OperationConfirm,
	payment.OperationAfterConfirm,
}

// arbitraryHistory draws unconstrained event sequences, including ones the
// saga would never produce.
func arbitraryHistory() *rapid.Generator[*payment.PaymentMethod] {
	return rapid.Custom(func(t *rapid.T) *payment.PaymentMethod {
		pm := &payment.PaymentMethod{ID: "pm-prop", Confirmable: rapid.Bool().Draw(t, "confirmable")}
		n := rapid.IntRange(0, 30).Draw(t, "n")
		for i := 0; i < n; i++ {
			pm.Append(payment.OperationEvent{
				ID:     int64(i + 1),
				Type:   rapid.SampledFrom(payment.OperationTypes).Draw(t, "type"),
				Status: rapid.SampledFrom(allStatuses).Draw(t, "status"),
			})
		}
		return pm
	})
}

// walkedHistory drives a payment method through eligible phases only, with a
// random outcome per phase, the way the saga would record them.
func walkedHistory() *rapid.Generator[*payment.PaymentMethod] {
	return rapid.Custom(func(t *rapid.T) *payment.PaymentMethod {
		pm := &payment.PaymentMethod{ID: "pm-walk", Confirmable: rapid.Bool().Draw(t, "confirmable")}
		var seq int64
		record := func(op payment.OperationType, s payment.OperationStatus) {
			seq++
			pm.Append(payment.OperationEvent{ID: seq, Type: op, Status: s})
		}
		steps := rapid.IntRange(0, 8).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			eligible := Eligible(pm)
			if len(eligible) == 0 {
				break
			}
			op := rapid.SampledFrom(eligible).Draw(t, "op")
			outcome := rapid.SampledFrom(terminalStatuses).Draw(t, "outcome")
			record(op, payment.StatusStarted)
			record(op, outcome)
			chains := op == payment.OperationInitialize || op == payment.OperationProcessAction
			if chains && (outcome == payment.StatusCompleted || outcome == payment.StatusNotPerformed) {
				record(payment.OperationPay, payment.StatusStarted)
				record(payment.OperationPay, rapid.SampledFrom(terminalStatuses).Draw(t, "pay"))
			}
		}
		return pm
	})
}

func countTrue(pm *payment.PaymentMethod) int {
	n := 0
	for _, op := range exclusivePhases {
		if CanExecute(op, pm) {
			n++
		}
	}
	return n
}

func TestProperty_PredicatesArePure(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		pm := arbitraryHistory().Draw(t, "pm")
		before := pm.Clone()
		for op := range predicates {
			first := CanExecute(op, pm)
			second := CanExecute(op, pm)
			if first != second {
				t.Fatalf("%s evaluated to %v then %v", op, first, second)
			}
		}
		if !assert.ObjectsAreEqual(before, pm) {
			t.Fatalf("predicates mutated the payment method")
		}
	})
}

func TestProperty_PhasesAreMutuallyExclusive(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		pm := arbitraryHistory().Draw(t, "pm")
		if n := countTrue(pm); n > 1 {
			t.Fatalf("%d phases eligible at once: %v", n, Eligible(pm))
		}
	})
	rapid.Check(t, func(t *rapid.T) {
		pm := walkedHistory().Draw(t, "pm")
		if n := countTrue(pm); n > 1 {
			t.Fatalf("%d phases eligible at once: %v", n, Eligible(pm))
		}
	})
}

func TestProperty_RefundOnlyWhenNoRefundInFlight(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		pm := arbitraryHistory().Draw(t, "pm")
		started := pm.Count(payment.OperationRefund, payment.StatusStarted)
		completed := pm.Count(payment.OperationRefund, payment.StatusCompleted)
		if CanRefund(pm) && started > completed {
			t.Fatalf("refund eligible with %d started and %d completed", started, completed)
		}
	})
}

func TestProperty_RefundOnSettledHistory(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		pm := history(false, paidThroughAfterPay()...)
		n := rapid.IntRange(0, 10).Draw(t, "refunds")
		for i := 0; i < n; i++ {
			s := rapid.SampledFrom([]payment.OperationStatus{payment.StatusStarted, payment.StatusCompleted, payment.StatusFailed}).Draw(t, "status")
			pm.Append(payment.OperationEvent{ID: int64(100 + i), Type: payment.OperationRefund, Status: s})
		}
		started := pm.Count(payment.OperationRefund, payment.StatusStarted)
		completed := pm.Count(payment.OperationRefund, payment.StatusCompleted)
		if got, want := CanRefund(pm), started <= completed; got != want {
			t.Fatalf("CanRefund=%v with %d started and %d completed", got, started, completed)
		}
	})
}
