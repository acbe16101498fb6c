package block

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/yourorg/payment-flow/internal/payment"
	"github.com/yourorg/payment-flow/internal/storage"
)

// Invoker runs blocks and leaves a BlockEvent trail: STARTED before the call
// and the outcome status after it. Recording is best effort. A failed write
// is logged and counted but never changes what the block returned.
type Invoker struct {
	uow    storage.UnitOfWork
	log    zerolog.Logger
	tracer trace.Tracer
	now    func() time.Time
}

// NewInvoker records block events through uow.
func NewInvoker(uow storage.UnitOfWork, logger zerolog.Logger) *Invoker {
	return &Invoker{
		uow:    uow,
		log:    logger.With().Str("component", "block_invoker").Logger(),
		tracer: otel.Tracer("block"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Invoke runs b for pm. The returned response and error are exactly what b
// returned.
func (i *Invoker) Invoke(ctx context.Context, b Block, pm *payment.PaymentMethod, args Args) (payment.BlockResponse, error) {
	name := b.Name()
	ctx, span := i.tracer.Start(ctx, "Block.Run", trace.WithAttributes(
		attribute.String("block.name", name),
		attribute.String("payment_method.id", pm.ID),
	))
	defer span.End()

	i.record(ctx, name, pm.ID, payment.StatusStarted)

	start := time.Now()
	resp, err := b.Run(ctx, pm, args)
	blockDurationSeconds.WithLabelValues(name).Observe(time.Since(start).Seconds())

	finish := resp.Status
	if err != nil {
		finish = payment.StatusFailed
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else if finish == "" {
		finish = payment.StatusFailed
	}
	span.SetAttributes(attribute.String("block.status", string(finish)))
	blockInvocationsTotal.WithLabelValues(name, string(finish)).Inc()

	i.record(ctx, name, pm.ID, finish)
	return resp, err
}

func (i *Invoker) record(ctx context.Context, name, paymentMethodID string, status payment.OperationStatus) {
	err := i.uow.Do(ctx, func(r storage.Repositories) error {
		_, err := r.BlockEvents().Add(ctx, payment.BlockEventDraft{
			BlockName:       name,
			Status:          status,
			PaymentMethodID: paymentMethodID,
			CreatedAt:       i.now(),
		})
		return err
	})
	if err != nil {
		blockEventRecordFailuresTotal.WithLabelValues(name, string(status)).Inc()
		i.log.Warn().Err(err).
			Str("block", name).
			Str("status", string(status)).
			Str("payment_method_id", paymentMethodID).
			Msg("failed to record block event")
	}
}
