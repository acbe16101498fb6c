package payment

// Action is an opaque descriptor a block hands back to the caller, e.g. a
// redirect URL or a 3-D Secure challenge.
type Action map[string]any

// BlockResponse is what a block returns to the saga.
type BlockResponse struct {
	Status       OperationStatus `json:"status"`
	Actions      []Action        `json:"actions,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
}

// OperationResponse is what the saga returns to its caller for every phase call.
// PaymentMethod is nil when the payment method was missing or ineligible.
type OperationResponse struct {
	Status        OperationStatus `json:"status"`
	PaymentMethod *PaymentMethod  `json:"payment_method,omitempty"`
	Type          OperationType   `json:"type"`
	ErrorMessage  string          `json:"error_message,omitempty"`
	Actions       []Action        `json:"actions,omitempty"`
}
