package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/yourorg/payment-flow/internal/api"
	"github.com/yourorg/payment-flow/internal/block"
	"github.com/yourorg/payment-flow/internal/block/circuitbreaker"
	"github.com/yourorg/payment-flow/internal/block/policy"
	"github.com/yourorg/payment-flow/internal/block/stripe"
	"github.com/yourorg/payment-flow/internal/config"
	"github.com/yourorg/payment-flow/internal/events"
	"github.com/yourorg/payment-flow/internal/lock"
	"github.com/yourorg/payment-flow/internal/logging"
	"github.com/yourorg/payment-flow/internal/saga"
	"github.com/yourorg/payment-flow/internal/storage"
	"github.com/yourorg/payment-flow/internal/storage/sqlstore"
)

// app holds everything built from a Config. close releases it in reverse
// order of construction.
type app struct {
	cfg     *config.Config
	log     zerolog.Logger
	saga    *saga.PaymentMethodSaga
	checks  []api.Option
	closers []func(context.Context) error
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	logger, err := logging.New(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, log: logger}

	if cfg.Tracing.Enabled {
		exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("failed to create trace exporter: %w", err)
		}
		tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exp))
		otel.SetTracerProvider(tp)
		a.closers = append(a.closers, tp.Shutdown)
	}

	uow, err := a.openStore(ctx)
	if err != nil {
		a.close(ctx)
		return nil, err
	}

	sagaCfg, err := buildSagaConfig(cfg)
	if err != nil {
		a.close(ctx)
		return nil, err
	}

	opts := []saga.Option{saga.WithLogger(logger)}
	if cfg.Redis.Enabled {
		client := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		a.closers = append(a.closers, func(context.Context) error { return client.Close() })
		a.checks = append(a.checks, api.WithHealthCheck("redis", func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		}))
		opts = append(opts, saga.WithLocker(lock.NewRedisLocker(client, cfg.Redis.LockTTL, logger)))
	}
	if cfg.Kafka.Enabled {
		pub := events.NewPublisher(events.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic), logger)
		a.closers = append(a.closers, func(context.Context) error { return pub.Close() })
		opts = append(opts, saga.WithPublisher(pub))
	}

	a.saga = saga.NewPaymentMethodSaga(sagaCfg, uow, opts...)
	return a, nil
}

func (a *app) openStore(ctx context.Context) (storage.UnitOfWork, error) {
	if a.cfg.Database.Driver == "memory" {
		a.log.Warn().Msg("using in-memory storage; history is lost on exit")
		return storage.NewMemoryStore(), nil
	}
	store, err := sqlstore.Open(a.cfg.Database.Driver, a.cfg.Database.DSN, a.log)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func(context.Context) error { return store.Close() })
	if err := store.CreateSchema(ctx); err != nil {
		return nil, err
	}
	a.checks = append(a.checks, api.WithHealthCheck("database", store.Ping))
	return store, nil
}

func (a *app) close(ctx context.Context) {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i](ctx))
	}
	if err := errors.Join(errs...); err != nil {
		a.log.Warn().Err(err).Msg("shutdown incomplete")
	}
}

// buildSagaConfig assembles the phase blocks. Stripe blocks are wrapped in
// one shared circuit breaker. PAY always carries the risk policy block, which
// completes when it has no rules.
func buildSagaConfig(cfg *config.Config) (saga.Config, error) {
	risk, err := policy.New("risk-policy", cfg.Policy.PayRules)
	if err != nil {
		return saga.Config{}, fmt.Errorf("invalid pay rules: %w", err)
	}
	sc := saga.Config{Pay: []block.Block{risk}}

	if len(cfg.Policy.AfterPayRules) > 0 {
		settlement, err := policy.New("settlement-policy", cfg.Policy.AfterPayRules)
		if err != nil {
			return saga.Config{}, fmt.Errorf("invalid after pay rules: %w", err)
		}
		sc.AfterPay = append(sc.AfterPay, settlement)
	}
	if len(cfg.Policy.AfterConfirmRules) > 0 {
		capture, err := policy.New("capture-policy", cfg.Policy.AfterConfirmRules)
		if err != nil {
			return saga.Config{}, fmt.Errorf("invalid after confirm rules: %w", err)
		}
		sc.AfterConfirm = append(sc.AfterConfirm, capture)
	}

	if cfg.Stripe.Enabled {
		cb := circuitbreaker.NewCircuitBreaker(cfg.CircuitBreaker)
		creds := stripe.Credentials{APIKey: cfg.Stripe.APIKey}
		newStripe := func(name string, mode stripe.Mode) block.Block {
			return circuitbreaker.Guard(stripe.New(name, mode, creds, stripe.WithBaseURL(cfg.Stripe.BaseURL)), cb)
		}
		sc.Initialize = newStripe("stripe-create-intent", stripe.ModeCreateIntent)
		sc.ProcessAction = newStripe("stripe-verify-action", stripe.ModeSyncIntent)
		sc.Pay = append(sc.Pay, newStripe("stripe-sync-intent", stripe.ModeSyncIntent))
		sc.Confirm = newStripe("stripe-capture-intent", stripe.ModeCaptureIntent)
	}
	return sc, nil
}
