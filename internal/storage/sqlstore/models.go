package sqlstore

import (
	"time"

	"github.com/uptrace/bun"

	"github.com/yourorg/payment-flow/internal/payment"
)

type paymentMethodModel struct {
	bun.BaseModel `bun:"table:payment_methods,alias:pm"`

	ID               string    `bun:"id,pk"`
	CreatedAt        time.Time `bun:"created_at,notnull"`
	PaymentAttemptID string    `bun:"payment_attempt_id,notnull"`
	Confirmable      bool      `bun:"confirmable,notnull"`
}

type operationEventModel struct {
	bun.BaseModel `bun:"table:operation_events,alias:oe"`

	ID              int64     `bun:"id,pk,autoincrement"`
	PaymentMethodID string    `bun:"payment_method_id,notnull"`
	Type            string    `bun:"type,notnull"`
	Status          string    `bun:"status,notnull"`
	CreatedAt       time.Time `bun:"created_at,notnull"`
}

type blockEventModel struct {
	bun.BaseModel `bun:"table:block_events,alias:be"`

	ID              int64     `bun:"id,pk,autoincrement"`
	BlockName       string    `bun:"block_name,notnull,unique:block_event_key"`
	Status          string    `bun:"status,notnull,unique:block_event_key"`
	PaymentMethodID string    `bun:"payment_method_id,notnull,unique:block_event_key"`
	CreatedAt       time.Time `bun:"created_at,notnull"`
}

func (m paymentMethodModel) toDomain() *payment.PaymentMethod {
	return &payment.PaymentMethod{
		ID:               m.ID,
		CreatedAt:        m.CreatedAt,
		PaymentAttemptID: m.PaymentAttemptID,
		Confirmable:      m.Confirmable,
	}
}

func (m operationEventModel) toDomain() payment.OperationEvent {
	return payment.OperationEvent{
		ID:              m.ID,
		Type:            payment.OperationType(m.Type),
		Status:          payment.OperationStatus(m.Status),
		PaymentMethodID: m.PaymentMethodID,
		CreatedAt:       m.CreatedAt,
	}
}

func (m blockEventModel) toDomain() payment.BlockEvent {
	return payment.BlockEvent{
		ID:              m.ID,
		BlockName:       m.BlockName,
		Status:          payment.OperationStatus(m.Status),
		PaymentMethodID: m.PaymentMethodID,
		CreatedAt:       m.CreatedAt,
	}
}
