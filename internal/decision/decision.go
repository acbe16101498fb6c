// Package decision decides which phase a payment method may go through next.
// Every predicate is a pure function of the payment method's event history and
// its confirmable flag; none of them perform I/O or retain state.
package decision

import (
	"github.com/yourorg/payment-flow/internal/payment"
)

// CanInitialize holds while INITIALIZE has never been started.
func CanInitialize(pm *payment.PaymentMethod) bool {
	return !pm.Has(payment.OperationInitialize, payment.StatusStarted)
}

// CanProcessAction holds once INITIALIZE asked for a customer action and
// PROCESS_ACTION has not been started yet.
func CanProcessAction(pm *payment.PaymentMethod) bool {
	return !pm.Has(payment.OperationProcessAction, payment.StatusStarted) &&
		pm.Has(payment.OperationInitialize, payment.StatusStarted) &&
		pm.Has(payment.OperationInitialize, payment.StatusRequiresAction)
}

// CanAfterPay holds once the payment went through and settlement has not started.
func CanAfterPay(pm *payment.PaymentMethod) bool {
	if pm.Has(payment.OperationAfterPay, payment.StatusStarted) {
		return false
	}
	if CanInitialize(pm) || CanProcessAction(pm) {
		return false
	}
	if pm.Has(payment.OperationInitialize, payment.StatusStarted) && !initializeSettled(pm) {
		return false
	}
	if pm.Has(payment.OperationPay, payment.StatusStarted) && !pm.Has(payment.OperationPay, payment.StatusCompleted) {
		return false
	}
	return true
}

// CanConfirm holds for confirmable payment methods whose AFTER_PAY completed.
func CanConfirm(pm *payment.PaymentMethod) bool {
	return pm.Confirmable &&
		!(CanInitialize(pm) || CanProcessAction(pm) || CanAfterPay(pm)) &&
		pm.Has(payment.OperationAfterPay, payment.StatusCompleted) &&
		!pm.Has(payment.OperationConfirm, payment.StatusStarted)
}

// CanAfterConfirm holds once a confirmable payment method went through every
// earlier phase and CONFIRM completed.
func CanAfterConfirm(pm *payment.PaymentMethod) bool {
	if CanInitialize(pm) || CanProcessAction(pm) || CanAfterPay(pm) || CanConfirm(pm) {
		return false
	}
	if !pm.Confirmable {
		return false
	}
	if !pm.Has(payment.OperationInitialize, payment.StatusCompleted) &&
		!pm.Has(payment.OperationInitialize, payment.StatusNotPerformed) {
		return false
	}
	if pm.Has(payment.OperationInitialize, payment.StatusRequiresAction) && !actionProcessed(pm) {
		return false
	}
	return pm.Has(payment.OperationPay, payment.StatusCompleted) &&
		pm.Has(payment.OperationAfterPay, payment.StatusCompleted) &&
		pm.Has(payment.OperationConfirm, payment.StatusCompleted) &&
		!pm.Has(payment.OperationAfterConfirm, payment.StatusStarted)
}

// CanRefund holds once the lifecycle is settled and every started refund has
// completed. Refunds are repeatable.
func CanRefund(pm *payment.PaymentMethod) bool {
	if CanInitialize(pm) || CanProcessAction(pm) || CanAfterPay(pm) || CanConfirm(pm) || CanAfterConfirm(pm) {
		return false
	}
	if !pm.Has(payment.OperationAfterPay, payment.StatusCompleted) {
		return false
	}
	if pm.Confirmable && !pm.Has(payment.OperationAfterConfirm, payment.StatusCompleted) {
		return false
	}
	return pm.Count(payment.OperationRefund, payment.StatusStarted) <=
		pm.Count(payment.OperationRefund, payment.StatusCompleted)
}

// initializeSettled: either the action INITIALIZE asked for was processed, or
// INITIALIZE finished without asking for one.
func initializeSettled(pm *payment.PaymentMethod) bool {
	requiresAction := pm.Has(payment.OperationInitialize, payment.StatusRequiresAction)
	if requiresAction {
		return actionProcessed(pm)
	}
	return pm.Has(payment.OperationInitialize, payment.StatusCompleted) ||
		pm.Has(payment.OperationInitialize, payment.StatusNotPerformed)
}

// actionProcessed: PROCESS_ACTION completed, or had no block and chained to PAY.
func actionProcessed(pm *payment.PaymentMethod) bool {
	return pm.Has(payment.OperationProcessAction, payment.StatusCompleted) ||
		pm.Has(payment.OperationProcessAction, payment.StatusNotPerformed)
}

var predicates = map[payment.OperationType]func(*payment.PaymentMethod) bool{
	payment.OperationInitialize:    CanInitialize,
	payment.OperationProcessAction: CanProcessAction,
	payment.OperationAfterPay:      CanAfterPay,
	payment.OperationConfirm:       CanConfirm,
	payment.OperationAfterConfirm:  CanAfterConfirm,
	payment.OperationRefund:        CanRefund,
}

// CanExecute dispatches to the predicate for op. Operations without a
// predicate (PAY, VOID, AFTER_REFUND, AFTER_VOID) are never directly eligible.
func CanExecute(op payment.OperationType, pm *payment.PaymentMethod) bool {
	p, ok := predicates[op]
	if !ok {
		return false
	}
	return p(pm)
}

// Eligible lists, in lifecycle order, every operation whose predicate holds.
func Eligible(pm *payment.PaymentMethod) []payment.OperationType {
	out := []payment.OperationType{}
	for _, op := range payment.OperationTypes {
		if CanExecute(op, pm) {
			out = append(out, op)
		}
	}
	return out
}
