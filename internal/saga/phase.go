package saga

import (
	"context"
	"fmt"
	"strings"

	"github.com/yourorg/payment-flow/internal/block"
	"github.com/yourorg/payment-flow/internal/payment"
	"github.com/yourorg/payment-flow/internal/storage"
)

// allowedStatuses is the allow-list for each single-block phase.
var allowedStatuses = map[payment.OperationType]map[payment.OperationStatus]bool{
	payment.OperationInitialize: {
		payment.StatusCompleted:      true,
		payment.StatusFailed:         true,
		payment.StatusRequiresAction: true,
	},
	payment.OperationProcessAction: {
		payment.StatusCompleted: true,
		payment.StatusFailed:    true,
	},
	payment.OperationConfirm: {
		payment.StatusCompleted: true,
		payment.StatusFailed:    true,
		payment.StatusPending:   true,
	},
}

type blockOutcome struct {
	name string
	resp payment.BlockResponse
}

// execute runs steps 3 to 9 of a phase on an aggregate that has already been
// refreshed and found eligible. pm is updated in place as events are recorded.
func (s *PaymentMethodSaga) execute(ctx context.Context, op payment.OperationType, pm *payment.PaymentMethod, args block.Args) (payment.OperationResponse, error) {
	if err := s.record(ctx, pm, op, payment.StatusStarted); err != nil {
		return payment.OperationResponse{}, err
	}

	var outcome payment.BlockResponse
	switch op {
	case payment.OperationInitialize, payment.OperationProcessAction, payment.OperationConfirm:
		b := s.single(op)
		if b == nil {
			if err := s.record(ctx, pm, op, payment.StatusNotPerformed); err != nil {
				return payment.OperationResponse{}, err
			}
			if op == payment.OperationConfirm {
				return payment.OperationResponse{Status: payment.StatusNotPerformed, PaymentMethod: pm, Type: op}, nil
			}
			return s.pay(ctx, pm, args)
		}
		outcome = s.validate(op, s.invoke(ctx, b, pm, args))
	case payment.OperationPay, payment.OperationAfterPay, payment.OperationAfterConfirm:
		outcomes := make([]blockOutcome, 0, len(s.list(op)))
		for _, b := range s.list(op) {
			outcomes = append(outcomes, s.invoke(ctx, b, pm, args))
		}
		outcome = aggregate(op, outcomes)
	default:
		panic(&ConfigError{Operation: op, Reason: "no phase algorithm"})
	}

	if err := s.record(ctx, pm, op, outcome.Status); err != nil {
		return payment.OperationResponse{}, err
	}

	if chainsToPay(op) && outcome.Status == payment.StatusCompleted {
		return s.pay(ctx, pm, args)
	}

	resp := payment.OperationResponse{
		Status:        outcome.Status,
		PaymentMethod: pm,
		Type:          op,
		ErrorMessage:  outcome.ErrorMessage,
	}
	if op == payment.OperationInitialize {
		resp.Actions = outcome.Actions
	}
	return resp, nil
}

// pay runs the internal PAY phase on the in-memory aggregate, skipping the
// refresh and eligibility steps.
func (s *PaymentMethodSaga) pay(ctx context.Context, pm *payment.PaymentMethod, args block.Args) (payment.OperationResponse, error) {
	ctx, span := s.tracer.Start(ctx, "Saga."+string(payment.OperationPay))
	defer span.End()
	return s.execute(ctx, payment.OperationPay, pm, args)
}

func chainsToPay(op payment.OperationType) bool {
	return op == payment.OperationInitialize || op == payment.OperationProcessAction
}

func (s *PaymentMethodSaga) single(op payment.OperationType) block.Block {
	switch op {
	case payment.OperationInitialize:
		return s.cfg.Initialize
	case payment.OperationProcessAction:
		return s.cfg.ProcessAction
	case payment.OperationConfirm:
		return s.cfg.Confirm
	}
	return nil
}

func (s *PaymentMethodSaga) list(op payment.OperationType) []block.Block {
	switch op {
	case payment.OperationPay:
		return s.cfg.Pay
	case payment.OperationAfterPay:
		return s.cfg.AfterPay
	case payment.OperationAfterConfirm:
		return s.cfg.AfterConfirm
	}
	return nil
}

// invoke hands the block a copy of the aggregate and args. A block error
// becomes a FAILED outcome carrying the error text.
func (s *PaymentMethodSaga) invoke(ctx context.Context, b block.Block, pm *payment.PaymentMethod, args block.Args) blockOutcome {
	resp, err := s.invoker.Invoke(ctx, b, pm.Clone(), args.Clone())
	if err != nil {
		s.log.Warn().Err(err).Str("block", b.Name()).Str("payment_method_id", pm.ID).Msg("block failed")
		return blockOutcome{name: b.Name(), resp: payment.BlockResponse{Status: payment.StatusFailed, ErrorMessage: err.Error()}}
	}
	return blockOutcome{name: b.Name(), resp: resp}
}

// validate coerces a single-block outcome outside the phase's allow-list to
// FAILED.
func (s *PaymentMethodSaga) validate(op payment.OperationType, o blockOutcome) payment.BlockResponse {
	resp := o.resp
	var diag string
	switch {
	case !allowedStatuses[op][resp.Status]:
		diag = fmt.Sprintf("block %s returned status %q, which %s does not accept", o.name, resp.Status, op)
	case resp.Status == payment.StatusRequiresAction && len(resp.Actions) == 0:
		diag = fmt.Sprintf("block %s returned %s without actions", o.name, payment.StatusRequiresAction)
	default:
		return resp
	}
	s.log.Warn().Str("block", o.name).Str("operation", string(op)).Str("status", string(resp.Status)).Msg("invalid block status")
	return payment.BlockResponse{Status: payment.StatusFailed, ErrorMessage: diag}
}

// aggregate folds multi-block outcomes: all COMPLETED (or no blocks) gives
// COMPLETED, otherwise any PENDING gives PENDING except for AFTER_PAY, and
// anything else is FAILED.
func aggregate(op payment.OperationType, outcomes []blockOutcome) payment.BlockResponse {
	allCompleted, anyPending := true, false
	var msgs []string
	for _, o := range outcomes {
		switch o.resp.Status {
		case payment.StatusCompleted:
		case payment.StatusPending:
			allCompleted, anyPending = false, true
			if op == payment.OperationAfterPay {
				msgs = append(msgs, fmt.Sprintf("block %s returned %s, which %s does not accept", o.name, payment.StatusPending, op))
			}
		default:
			allCompleted = false
		}
		if o.resp.ErrorMessage != "" {
			msgs = append(msgs, o.resp.ErrorMessage)
		}
	}

	status := payment.StatusFailed
	switch {
	case allCompleted:
		status = payment.StatusCompleted
	case anyPending && op != payment.OperationAfterPay:
		status = payment.StatusPending
	}
	return payment.BlockResponse{Status: status, ErrorMessage: strings.Join(msgs, ", ")}
}

// record appends an operation event in its own unit of work and mirrors it
// onto pm.
func (s *PaymentMethodSaga) record(ctx context.Context, pm *payment.PaymentMethod, op payment.OperationType, status payment.OperationStatus) error {
	var evt payment.OperationEvent
	err := s.uow.Do(ctx, func(r storage.Repositories) error {
		var err error
		evt, err = r.OperationEvents().Add(ctx, payment.OperationEventDraft{
			Type:            op,
			Status:          status,
			PaymentMethodID: pm.ID,
			CreatedAt:       s.now(),
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to record %s %s for payment method %s: %w", op, status, pm.ID, err)
	}
	pm.Append(evt)
	operationEventsTotal.WithLabelValues(string(op), string(status)).Inc()

	if s.publisher != nil {
		if err := s.publisher.Publish(ctx, evt); err != nil {
			s.log.Warn().Err(err).Str("payment_method_id", pm.ID).Str("operation", string(op)).Str("status", string(status)).Msg("failed to publish operation event")
		}
	}
	return nil
}
