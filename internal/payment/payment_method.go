package payment

import "time"

// PaymentMethod is the aggregate the saga drives through its phases.
// Operations is append-only and kept in insertion (chronological) order.
type PaymentMethod struct {
	ID               string           `json:"id"`
	CreatedAt        time.Time        `json:"created_at"`
	PaymentAttemptID string           `json:"payment_attempt_id"`
	Confirmable      bool             `json:"confirmable"`
	Operations       []OperationEvent `json:"operations"`
}

// PaymentMethodDraft carries what a caller supplies when a payment attempt is
// ready to be paid. The repository assigns the identifier and timestamp.
type PaymentMethodDraft struct {
	PaymentAttemptID string
	Confirmable      bool
}

// Has reports whether at least one event with the given type and status exists.
func (pm *PaymentMethod) Has(t OperationType, s OperationStatus) bool {
	for _, op := range pm.Operations {
		if op.Type == t && op.Status == s {
			return true
		}
	}
	return false
}

// Count returns the number of events with the given type and status.
func (pm *PaymentMethod) Count(t OperationType, s OperationStatus) int {
	n := 0
	for _, op := range pm.Operations {
		if op.Type == t && op.Status == s {
			n++
		}
	}
	return n
}

// Last returns the most recent event, if any.
func (pm *PaymentMethod) Last() (OperationEvent, bool) {
	if len(pm.Operations) == 0 {
		return OperationEvent{}, false
	}
	return pm.Operations[len(pm.Operations)-1], true
}

// Append adds an accepted event to the end of the history.
func (pm *PaymentMethod) Append(evt OperationEvent) {
	pm.Operations = append(pm.Operations, evt)
}

// Clone returns a copy whose event slice does not alias the receiver's.
func (pm *PaymentMethod) Clone() *PaymentMethod {
	if pm == nil {
		return nil
	}
	out := *pm
	if pm.Operations != nil {
		out.Operations = make([]OperationEvent, len(pm.Operations))
		copy(out.Operations, pm.Operations)
	}
	return &out
}
