package saga

import (
	"errors"
	"fmt"

	"github.com/yourorg/payment-flow/internal/payment"
)

// ErrPaymentMethodBusy is returned when another caller holds the payment
// method's lock.
var ErrPaymentMethodBusy = errors.New("saga: payment method is busy")

// ConfigError describes a wiring bug. The saga panics with it rather than
// returning it, since no payment condition can cause one.
type ConfigError struct {
	Operation payment.OperationType
	Reason    string
}

func (e *ConfigError) Error() string {
	if e.Operation == "" {
		return fmt.Sprintf("saga configuration: %s", e.Reason)
	}
	return fmt.Sprintf("saga configuration (%s): %s", e.Operation, e.Reason)
}
