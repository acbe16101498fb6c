// Package saga drives a payment method through its lifecycle. Each public
// phase method refreshes the aggregate, checks eligibility, records a STARTED
// event, delegates to the configured blocks, records the outcome and, for
// INITIALIZE and PROCESS_ACTION, chains straight into the internal PAY phase.
package saga

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/yourorg/payment-flow/internal/block"
	"github.com/yourorg/payment-flow/internal/decision"
	"github.com/yourorg/payment-flow/internal/payment"
	"github.com/yourorg/payment-flow/internal/storage"
)

const (
	msgNotFound   = "PaymentMethod not found"
	msgIneligible = "PaymentMethod cannot go through this operation"
)

// Config declares which blocks run in which phase. Initialize, ProcessAction
// and Confirm are optional; a nil block makes the phase NOT_PERFORMED. Pay
// must hold at least one block. AfterPay and AfterConfirm may be empty.
type Config struct {
	Initialize    block.Block
	ProcessAction block.Block
	Pay           []block.Block
	AfterPay      []block.Block
	Confirm       block.Block
	AfterConfirm  []block.Block
}

// Locker serialises phase calls per payment method. TryLock reports false
// without error when the key is held elsewhere.
type Locker interface {
	TryLock(ctx context.Context, key string) (unlock func(context.Context) error, ok bool, err error)
}

// Publisher is told about every recorded operation event.
type Publisher interface {
	Publish(ctx context.Context, evt payment.OperationEvent) error
}

// Option customises a PaymentMethodSaga.
type Option func(*PaymentMethodSaga)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l zerolog.Logger) Option {
	return func(s *PaymentMethodSaga) { s.log = l }
}

// WithLocker holds a per-payment-method lock for the whole phase call,
// chained PAY included.
func WithLocker(l Locker) Option {
	return func(s *PaymentMethodSaga) { s.locker = l }
}

// WithPublisher forwards recorded events. Publish failures are logged only.
func WithPublisher(p Publisher) Option {
	return func(s *PaymentMethodSaga) { s.publisher = p }
}

// WithClock overrides the event timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *PaymentMethodSaga) { s.now = now }
}

// PaymentMethodSaga is safe for concurrent use. Without a Locker, concurrent
// calls for the same payment method are arbitrated by the storage uniqueness
// constraint on STARTED events.
type PaymentMethodSaga struct {
	cfg       Config
	uow       storage.UnitOfWork
	invoker   *block.Invoker
	log       zerolog.Logger
	locker    Locker
	publisher Publisher
	now       func() time.Time
	tracer    trace.Tracer
}

// NewPaymentMethodSaga panics with *ConfigError when cfg is unusable.
func NewPaymentMethodSaga(cfg Config, uow storage.UnitOfWork, opts ...Option) *PaymentMethodSaga {
	if uow == nil {
		panic(&ConfigError{Reason: "a unit of work is required"})
	}
	if len(cfg.Pay) == 0 {
		panic(&ConfigError{Operation: payment.OperationPay, Reason: "at least one block is required"})
	}
	for op, list := range map[payment.OperationType][]block.Block{
		payment.OperationPay:          cfg.Pay,
		payment.OperationAfterPay:     cfg.AfterPay,
		payment.OperationAfterConfirm: cfg.AfterConfirm,
	} {
		for i, b := range list {
			if b == nil {
				panic(&ConfigError{Operation: op, Reason: fmt.Sprintf("block %d is nil", i)})
			}
		}
	}

	s := &PaymentMethodSaga{
		cfg:    cfg,
		uow:    uow,
		log:    zerolog.Nop(),
		now:    func() time.Time { return time.Now().UTC() },
		tracer: otel.Tracer("saga"),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With().Str("component", "saga").Logger()
	s.invoker = block.NewInvoker(uow, s.log)
	return s
}

// Initialize runs the INITIALIZE phase and, when it completes or has no
// block, the PAY phase.
func (s *PaymentMethodSaga) Initialize(ctx context.Context, id string, args block.Args) (payment.OperationResponse, error) {
	return s.run(ctx, payment.OperationInitialize, id, args)
}

// ProcessAction runs PROCESS_ACTION after INITIALIZE asked for an action and,
// when it completes or has no block, the PAY phase.
func (s *PaymentMethodSaga) ProcessAction(ctx context.Context, id string, args block.Args) (payment.OperationResponse, error) {
	return s.run(ctx, payment.OperationProcessAction, id, args)
}

// AfterPay runs the post-payment blocks. PENDING is not an acceptable outcome.
func (s *PaymentMethodSaga) AfterPay(ctx context.Context, id string, args block.Args) (payment.OperationResponse, error) {
	return s.run(ctx, payment.OperationAfterPay, id, args)
}

// Confirm runs CONFIRM for confirmable payment methods.
func (s *PaymentMethodSaga) Confirm(ctx context.Context, id string, args block.Args) (payment.OperationResponse, error) {
	return s.run(ctx, payment.OperationConfirm, id, args)
}

// AfterConfirm runs the post-confirmation blocks.
func (s *PaymentMethodSaga) AfterConfirm(ctx context.Context, id string, args block.Args) (payment.OperationResponse, error) {
	return s.run(ctx, payment.OperationAfterConfirm, id, args)
}

// PublicOperations lists the operations Execute accepts, in lifecycle order.
var PublicOperations = []payment.OperationType{
	payment.OperationInitialize,
	payment.OperationProcessAction,
	payment.OperationAfterPay,
	payment.OperationConfirm,
	payment.OperationAfterConfirm,
}

// IsPublic reports whether Execute accepts op.
func IsPublic(op payment.OperationType) bool {
	for _, p := range PublicOperations {
		if p == op {
			return true
		}
	}
	return false
}

// Execute dispatches to the phase method for op. Any other operation,
// including the internal PAY phase, is a wiring bug and panics with
// *ConfigError.
func (s *PaymentMethodSaga) Execute(ctx context.Context, op payment.OperationType, id string, args block.Args) (payment.OperationResponse, error) {
	switch op {
	case payment.OperationInitialize:
		return s.Initialize(ctx, id, args)
	case payment.OperationProcessAction:
		return s.ProcessAction(ctx, id, args)
	case payment.OperationAfterPay:
		return s.AfterPay(ctx, id, args)
	case payment.OperationConfirm:
		return s.Confirm(ctx, id, args)
	case payment.OperationAfterConfirm:
		return s.AfterConfirm(ctx, id, args)
	default:
		panic(&ConfigError{Operation: op, Reason: "not a public phase"})
	}
}

// CreatePaymentMethod stores a new payment method with an empty history.
func (s *PaymentMethodSaga) CreatePaymentMethod(ctx context.Context, draft payment.PaymentMethodDraft) (*payment.PaymentMethod, error) {
	var pm *payment.PaymentMethod
	err := s.uow.Do(ctx, func(r storage.Repositories) error {
		var err error
		pm, err = r.PaymentMethods().Add(ctx, draft)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create payment method: %w", err)
	}
	s.log.Info().Str("payment_method_id", pm.ID).Bool("confirmable", pm.Confirmable).Msg("payment method created")
	return pm, nil
}

// PaymentMethod loads the aggregate. A missing id yields storage.ErrNotFound.
func (s *PaymentMethodSaga) PaymentMethod(ctx context.Context, id string) (*payment.PaymentMethod, error) {
	var pm *payment.PaymentMethod
	err := s.uow.Do(ctx, func(r storage.Repositories) error {
		var err error
		pm, err = r.PaymentMethods().Get(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return pm, nil
}

// BlockEvents lists the block audit trail of a payment method.
func (s *PaymentMethodSaga) BlockEvents(ctx context.Context, id string) ([]payment.BlockEvent, error) {
	var events []payment.BlockEvent
	err := s.uow.Do(ctx, func(r storage.Repositories) error {
		var err error
		events, err = r.BlockEvents().ListByPaymentMethod(ctx, id)
		return err
	})
	return events, err
}

func (s *PaymentMethodSaga) run(ctx context.Context, op payment.OperationType, id string, args block.Args) (resp payment.OperationResponse, err error) {
	ctx, span := s.tracer.Start(ctx, "Saga."+string(op), trace.WithAttributes(
		attribute.String("payment_method.id", id),
		attribute.String("operation", string(op)),
	))
	start := time.Now()
	defer func() {
		status := string(resp.Status)
		if err != nil {
			status = "ERROR"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.SetAttributes(attribute.String("status", status), attribute.String("response.type", string(resp.Type)))
		span.End()
		phaseCallsTotal.WithLabelValues(string(op), status).Inc()
		phaseDurationSeconds.WithLabelValues(string(op)).Observe(time.Since(start).Seconds())
	}()

	log := s.log.With().Str("payment_method_id", id).Str("operation", string(op)).Logger()

	if s.locker != nil {
		unlock, ok, err := s.locker.TryLock(ctx, lockKey(id))
		if err != nil {
			return payment.OperationResponse{}, fmt.Errorf("failed to lock payment method %s: %w", id, err)
		}
		if !ok {
			return payment.OperationResponse{}, fmt.Errorf("payment method %s: %w", id, ErrPaymentMethodBusy)
		}
		defer func() {
			if err := unlock(context.WithoutCancel(ctx)); err != nil {
				log.Warn().Err(err).Msg("failed to release payment method lock")
			}
		}()
	}

	pm, err := s.PaymentMethod(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		log.Info().Msg("payment method not found")
		return payment.OperationResponse{Status: payment.StatusFailed, Type: op, ErrorMessage: msgNotFound}, nil
	}
	if err != nil {
		return payment.OperationResponse{}, fmt.Errorf("failed to refresh payment method %s: %w", id, err)
	}

	if !decision.CanExecute(op, pm) {
		log.Info().Msg("payment method not eligible")
		return payment.OperationResponse{Status: payment.StatusFailed, Type: op, ErrorMessage: msgIneligible}, nil
	}

	resp, err = s.execute(ctx, op, pm, args)
	if err != nil {
		log.Error().Err(err).Msg("phase aborted")
		return payment.OperationResponse{}, err
	}
	log.Info().Str("status", string(resp.Status)).Str("response_type", string(resp.Type)).Msg("phase finished")
	return resp, nil
}

func lockKey(id string) string {
	return "payment-method:" + id
}
