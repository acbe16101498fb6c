package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yourorg/payment-flow/internal/payment"
)

// MemoryStore is an in-memory UnitOfWork. Writes inside Do are staged and only
// become visible when fn succeeds. Do is not reentrant.
type MemoryStore struct {
	mu          sync.Mutex
	methods     map[string]payment.PaymentMethod
	operations  []payment.OperationEvent
	blocks      []payment.BlockEvent
	nextOpID    int64
	nextBlockID int64
	now         func() time.Time
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		methods: make(map[string]payment.PaymentMethod),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Do implements UnitOfWork.
func (s *MemoryStore) Do(ctx context.Context, fn func(Repositories) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memoryTx{store: s}
	if err := fn(tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

type memoryTx struct {
	store      *MemoryStore
	methods    []payment.PaymentMethod
	operations []payment.OperationEvent
	blocks     []payment.BlockEvent
}

func (tx *memoryTx) PaymentMethods() PaymentMethodRepository    { return memoryMethods{tx} }
func (tx *memoryTx) OperationEvents() OperationEventRepository { return memoryOperations{tx} }
func (tx *memoryTx) BlockEvents() BlockEventRepository         { return memoryBlocks{tx} }

func (tx *memoryTx) commit() {
	s := tx.store
	for _, pm := range tx.methods {
		s.methods[pm.ID] = pm
	}
	s.operations = append(s.operations, tx.operations...)
	s.blocks = append(s.blocks, tx.blocks...)
}

func (tx *memoryTx) allOperations() []payment.OperationEvent {
	out := make([]payment.OperationEvent, 0, len(tx.store.operations)+len(tx.operations))
	out = append(out, tx.store.operations...)
	return append(out, tx.operations...)
}

func (tx *memoryTx) allBlocks() []payment.BlockEvent {
	out := make([]payment.BlockEvent, 0, len(tx.store.blocks)+len(tx.blocks))
	out = append(out, tx.store.blocks...)
	return append(out, tx.blocks...)
}

func (tx *memoryTx) lookup(id string) (payment.PaymentMethod, bool) {
	if pm, ok := tx.store.methods[id]; ok {
		return pm, true
	}
	for _, pm := range tx.methods {
		if pm.ID == id {
			return pm, true
		}
	}
	return payment.PaymentMethod{}, false
}

type memoryMethods struct{ tx *memoryTx }

func (r memoryMethods) Add(_ context.Context, draft payment.PaymentMethodDraft) (*payment.PaymentMethod, error) {
	pm := payment.PaymentMethod{
		ID:               uuid.NewString(),
		CreatedAt:        r.tx.store.now(),
		PaymentAttemptID: draft.PaymentAttemptID,
		Confirmable:      draft.Confirmable,
	}
	r.tx.methods = append(r.tx.methods, pm)
	return pm.Clone(), nil
}

func (r memoryMethods) Get(_ context.Context, id string) (*payment.PaymentMethod, error) {
	pm, ok := r.tx.lookup(id)
	if !ok {
		return nil, fmt.Errorf("payment method %s: %w", id, ErrNotFound)
	}
	out := pm.Clone()
	for _, op := range r.tx.allOperations() {
		if op.PaymentMethodID == id {
			out.Append(op)
		}
	}
	return out, nil
}

type memoryOperations struct{ tx *memoryTx }

func (r memoryOperations) Add(_ context.Context, draft payment.OperationEventDraft) (payment.OperationEvent, error) {
	if _, ok := r.tx.lookup(draft.PaymentMethodID); !ok {
		return payment.OperationEvent{}, fmt.Errorf("payment method %s: %w", draft.PaymentMethodID, ErrNotFound)
	}
	if draft.Status == payment.StatusStarted && StartedIsExclusive(draft.Type) {
		for _, op := range r.tx.allOperations() {
			if op.PaymentMethodID == draft.PaymentMethodID && op.Type == draft.Type && op.Status == payment.StatusStarted {
				return payment.OperationEvent{}, fmt.Errorf("operation %s already started for %s: %w", draft.Type, draft.PaymentMethodID, ErrDuplicate)
			}
		}
	}
	createdAt := draft.CreatedAt
	if createdAt.IsZero() {
		createdAt = r.tx.store.now()
	}
	r.tx.store.nextOpID++
	evt := payment.OperationEvent{
		ID:              r.tx.store.nextOpID,
		Type:            draft.Type,
		Status:          draft.Status,
		PaymentMethodID: draft.PaymentMethodID,
		CreatedAt:       createdAt,
	}
	r.tx.operations = append(r.tx.operations, evt)
	return evt, nil
}

type memoryBlocks struct{ tx *memoryTx }

func (r memoryBlocks) Add(_ context.Context, draft payment.BlockEventDraft) (payment.BlockEvent, error) {
	for _, b := range r.tx.allBlocks() {
		if b.PaymentMethodID == draft.PaymentMethodID && b.BlockName == draft.BlockName && b.Status == draft.Status {
			return payment.BlockEvent{}, fmt.Errorf("block event %s/%s for %s: %w", draft.BlockName, draft.Status, draft.PaymentMethodID, ErrDuplicate)
		}
	}
	createdAt := draft.CreatedAt
	if createdAt.IsZero() {
		createdAt = r.tx.store.now()
	}
	r.tx.store.nextBlockID++
	evt := payment.BlockEvent{
		ID:              r.tx.store.nextBlockID,
		BlockName:       draft.BlockName,
		Status:          draft.Status,
		PaymentMethodID: draft.PaymentMethodID,
		CreatedAt:       createdAt,
	}
	r.tx.blocks = append(r.tx.blocks, evt)
	return evt, nil
}

func (r memoryBlocks) ListByPaymentMethod(_ context.Context, paymentMethodID string) ([]payment.BlockEvent, error) {
	out := []payment.BlockEvent{}
	for _, b := range r.tx.allBlocks() {
		if b.PaymentMethodID == paymentMethodID {
			out = append(out, b)
		}
	}
	return out, nil
}
