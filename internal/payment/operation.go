// Package payment holds the value types the payment-flow engine reasons about:
// the PaymentMethod aggregate, its append-only OperationEvent history, the
// per-block BlockEvent audit trail, and the responses exchanged between
// blocks, the saga and its callers.
package payment

import (
	"fmt"
	"strings"
	"time"
)

// OperationType names one phase of the payment lifecycle.
type OperationType string

const (
	OperationInitialize    OperationType = "INITIALIZE"
	OperationProcessAction OperationType = "PROCESS_ACTION"
	OperationPay           OperationType = "PAY"
	OperationAfterPay      OperationType = "AFTER_PAY"
	OperationConfirm       OperationType = "CONFIRM"
	OperationAfterConfirm  OperationType = "AFTER_CONFIRM"
	OperationRefund        OperationType = "REFUND"
	OperationVoid          OperationType = "VOID"
	OperationAfterRefund   OperationType = "AFTER_REFUND"
	OperationAfterVoid     OperationType = "AFTER_VOID"
)

// OperationTypes lists every known phase in lifecycle order.
var OperationTypes = []OperationType{
	OperationInitialize,
	OperationProcessAction,
	OperationPay,
	OperationAfterPay,
	OperationConfirm,
	OperationAfterConfirm,
	OperationRefund,
	OperationVoid,
	OperationAfterRefund,
	OperationAfterVoid,
}

// ParseOperationType accepts either the canonical name ("AFTER_PAY") or its
// lower-case wire form ("after_pay").
func ParseOperationType(s string) (OperationType, error) {
	candidate := OperationType(strings.ToUpper(strings.TrimSpace(s)))
	for _, t := range OperationTypes {
		if t == candidate {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown operation type %q", s)
}

// OperationStatus is the status an operation (or a block) reached.
type OperationStatus string

const (
	StatusStarted        OperationStatus = "STARTED"
	StatusCompleted      OperationStatus = "COMPLETED"
	StatusFailed         OperationStatus = "FAILED"
	StatusRequiresAction OperationStatus = "REQUIRES_ACTION"
	StatusPending        OperationStatus = "PENDING"
	StatusNotPerformed   OperationStatus = "NOT_PERFORMED"
)

// IsTerminal reports whether the status closes a STARTED operation.
func (s OperationStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusRequiresAction, StatusPending, StatusNotPerformed:
		return true
	}
	return false
}

// OperationEvent records that an operation reached a status for a payment method.
// ID is assigned by storage and is strictly increasing per store.
type OperationEvent struct {
	ID              int64           `json:"id"`
	Type            OperationType   `json:"type"`
	Status          OperationStatus `json:"status"`
	PaymentMethodID string          `json:"payment_method_id"`
	CreatedAt       time.Time       `json:"created_at"`
}

// OperationEventDraft is an OperationEvent before storage has accepted it.
type OperationEventDraft struct {
	Type            OperationType
	Status          OperationStatus
	PaymentMethodID string
	CreatedAt       time.Time
}

// BlockEvent records the start or finish of a single block invocation.
type BlockEvent struct {
	ID              int64           `json:"id"`
	BlockName       string          `json:"block_name"`
	Status          OperationStatus `json:"status"`
	PaymentMethodID string          `json:"payment_method_id"`
	CreatedAt       time.Time       `json:"created_at"`
}

// BlockEventDraft is a BlockEvent before storage has accepted it.
type BlockEventDraft struct {
	BlockName       string
	Status          OperationStatus
	PaymentMethodID string
	CreatedAt       time.Time
}
