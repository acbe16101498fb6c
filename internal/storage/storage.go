// Package storage defines the persistence contracts the saga consumes and an
// in-memory backend. The SQL backend lives in storage/sqlstore.
package storage

import (
	"context"
	"errors"

	"github.com/yourorg/payment-flow/internal/payment"
)

var (
	// ErrNotFound is returned when Get targets an id that does not exist.
	ErrNotFound = errors.New("storage: not found")
	// ErrDuplicate is returned when an insert violates a uniqueness constraint.
	ErrDuplicate = errors.New("storage: duplicate")
)

// PaymentMethodRepository stores payment method aggregates.
type PaymentMethodRepository interface {
	Add(ctx context.Context, draft payment.PaymentMethodDraft) (*payment.PaymentMethod, error)
	// Get returns the aggregate with its operation events ordered by ID.
	Get(ctx context.Context, id string) (*payment.PaymentMethod, error)
}

// OperationEventRepository appends phase-level events.
type OperationEventRepository interface {
	Add(ctx context.Context, draft payment.OperationEventDraft) (payment.OperationEvent, error)
}

// BlockEventRepository appends block-level audit events.
type BlockEventRepository interface {
	Add(ctx context.Context, draft payment.BlockEventDraft) (payment.BlockEvent, error)
	ListByPaymentMethod(ctx context.Context, paymentMethodID string) ([]payment.BlockEvent, error)
}

// Repositories is the set of repositories bound to one unit of work.
type Repositories interface {
	PaymentMethods() PaymentMethodRepository
	OperationEvents() OperationEventRepository
	BlockEvents() BlockEventRepository
}

// UnitOfWork scopes writes transactionally. Do commits when fn returns nil and
// rolls back otherwise, including when fn panics. Each Do call is its own
// scope; writes are visible to later calls once Do returns nil.
type UnitOfWork interface {
	Do(ctx context.Context, fn func(Repositories) error) error
}

// StartedIsExclusive reports whether a STARTED event of op may exist at most
// once per payment method. REFUND is repeatable and therefore exempt.
func StartedIsExclusive(op payment.OperationType) bool {
	return op != payment.OperationRefund
}
