// Package sqlstore is the bun-backed storage backend. It runs on SQLite (via
// sqliteshim) for local use and tests and on PostgreSQL (via lib/pq) in
// deployments.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/rs/zerolog"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	"github.com/yourorg/payment-flow/internal/payment"
	"github.com/yourorg/payment-flow/internal/storage"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Store implements storage.UnitOfWork on top of a bun.DB.
type Store struct {
	db  *bun.DB
	log zerolog.Logger
	now func() time.Time
}

// Open connects to the database named by driver and dsn.
func Open(driver, dsn string, logger zerolog.Logger) (*Store, error) {
	var db *bun.DB
	switch driver {
	case DriverSQLite:
		sqldb, err := sql.Open(sqliteshim.ShimName, dsn)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite database: %w", err)
		}
		// SQLite serialises writers; a single connection also keeps
		// shared in-memory databases alive.
		sqldb.SetMaxOpenConns(1)
		db = bun.NewDB(sqldb, sqlitedialect.New())
	case DriverPostgres:
		sqldb, err := sql.Open("postgres", dsn)
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres database: %w", err)
		}
		db = bun.NewDB(sqldb, pgdialect.New())
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
	logger.Info().Str("driver", driver).Msg("database opened")
	return New(db, logger), nil
}

// New wraps an existing bun.DB.
func New(db *bun.DB, logger zerolog.Logger) *Store {
	return &Store{
		db:  db,
		log: logger.With().Str("component", "sqlstore").Logger(),
		now: func() time.Time { return time.Now().UTC() },
	}
}

// CreateSchema creates tables and indexes if they do not exist yet.
func (s *Store) CreateSchema(ctx context.Context) error {
	models := []interface{}{
		(*paymentMethodModel)(nil),
		(*operationEventModel)(nil),
		(*blockEventModel)(nil),
	}
	for _, m := range models {
		if _, err := s.db.NewCreateTable().Model(m).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}
	indexes := []string{
		"CREATE INDEX IF NOT EXISTS ix_operation_events_payment_method ON operation_events (payment_method_id, id)",
		// A phase may start only once per payment method; refunds repeat.
		"CREATE UNIQUE INDEX IF NOT EXISTS ux_operation_events_started ON operation_events (payment_method_id, type) WHERE status = 'STARTED' AND type <> 'REFUND'",
		"CREATE INDEX IF NOT EXISTS ix_block_events_payment_method ON block_events (payment_method_id, id)",
	}
	for _, q := range indexes {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}
	s.log.Info().Msg("schema ready")
	return nil
}

// Do implements storage.UnitOfWork. bun rolls the transaction back when fn
// returns an error or panics.
func (s *Store) Do(ctx context.Context, fn func(storage.Repositories) error) error {
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		return fn(&repositories{db: tx, now: s.now})
	})
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

type repositories struct {
	db  bun.IDB
	now func() time.Time
}

func (r *repositories) PaymentMethods() storage.PaymentMethodRepository {
	return paymentMethods{r}
}

func (r *repositories) OperationEvents() storage.OperationEventRepository {
	return operationEvents{r}
}

func (r *repositories) BlockEvents() storage.BlockEventRepository {
	return blockEvents{r}
}

func (r *repositories) methodExists(ctx context.Context, id string) (bool, error) {
	return r.db.NewSelect().Model((*paymentMethodModel)(nil)).Where("id = ?", id).Exists(ctx)
}

type paymentMethods struct{ *repositories }

func (r paymentMethods) Add(ctx context.Context, draft payment.PaymentMethodDraft) (*payment.PaymentMethod, error) {
	m := &paymentMethodModel{
		ID:               uuid.NewString(),
		CreatedAt:        r.now(),
		PaymentAttemptID: draft.PaymentAttemptID,
		Confirmable:      draft.Confirmable,
	}
	if _, err := r.db.NewInsert().Model(m).Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to insert payment method: %w", err)
	}
	return m.toDomain(), nil
}

func (r paymentMethods) Get(ctx context.Context, id string) (*payment.PaymentMethod, error) {
	var m paymentMethodModel
	err := r.db.NewSelect().Model(&m).Where("id = ?", id).Limit(1).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("payment method %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load payment method %s: %w", id, err)
	}

	var ops []operationEventModel
	err = r.db.NewSelect().Model(&ops).Where("payment_method_id = ?", id).OrderExpr("id ASC").Scan(ctx)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to load operations for %s: %w", id, err)
	}

	pm := m.toDomain()
	for _, op := range ops {
		pm.Append(op.toDomain())
	}
	return pm, nil
}

type operationEvents struct{ *repositories }

func (r operationEvents) Add(ctx context.Context, draft payment.OperationEventDraft) (payment.OperationEvent, error) {
	exists, err := r.methodExists(ctx, draft.PaymentMethodID)
	if err != nil {
		return payment.OperationEvent{}, fmt.Errorf("failed to check payment method: %w", err)
	}
	if !exists {
		return payment.OperationEvent{}, fmt.Errorf("payment method %s: %w", draft.PaymentMethodID, storage.ErrNotFound)
	}
	m := &operationEventModel{
		PaymentMethodID: draft.PaymentMethodID,
		Type:            string(draft.Type),
		Status:          string(draft.Status),
		CreatedAt:       draft.CreatedAt,
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = r.now()
	}
	if _, err := r.db.NewInsert().Model(m).Returning("id").Exec(ctx); err != nil {
		if isUniqueViolation(err) {
			return payment.OperationEvent{}, fmt.Errorf("operation %s/%s for %s: %w", draft.Type, draft.Status, draft.PaymentMethodID, storage.ErrDuplicate)
		}
		return payment.OperationEvent{}, fmt.Errorf("failed to insert operation event: %w", err)
	}
	return m.toDomain(), nil
}

type blockEvents struct{ *repositories }

func (r blockEvents) Add(ctx context.Context, draft payment.BlockEventDraft) (payment.BlockEvent, error) {
	m := &blockEventModel{
		BlockName:       draft.BlockName,
		Status:          string(draft.Status),
		PaymentMethodID: draft.PaymentMethodID,
		CreatedAt:       draft.CreatedAt,
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = r.now()
	}
	if _, err := r.db.NewInsert().Model(m).Returning("id").Exec(ctx); err != nil {
		if isUniqueViolation(err) {
			return payment.BlockEvent{}, fmt.Errorf("block event %s/%s for %s: %w", draft.BlockName, draft.Status, draft.PaymentMethodID, storage.ErrDuplicate)
		}
		return payment.BlockEvent{}, fmt.Errorf("failed to insert block event: %w", err)
	}
	return m.toDomain(), nil
}

func (r blockEvents) ListByPaymentMethod(ctx context.Context, paymentMethodID string) ([]payment.BlockEvent, error) {
	var rows []blockEventModel
	err := r.db.NewSelect().Model(&rows).Where("payment_method_id = ?", paymentMethodID).OrderExpr("id ASC").Scan(ctx)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to list block events for %s: %w", paymentMethodID, err)
	}
	out := make([]payment.BlockEvent, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toDomain())
	}
	return out, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "duplicate key value")
}
