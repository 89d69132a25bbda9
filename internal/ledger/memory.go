package ledger

import (
	"context"
	"sync"

	"github.com/agentpay/agentpay/internal/domain"
)

// MemoryRepository keeps the record set in process memory. It backs tests
// and the development mode of the api binary; semantics match the Postgres
// implementation. One mutex around the record set gives each mutating call
// exclusive access, so no interleaving of two transitions on the same
// record is observable.
type MemoryRepository struct {
	mu      sync.Mutex
	subs    map[int64]*domain.Subscription
	byPayer map[string][]int64
	nextID  int64
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		subs:    make(map[int64]*domain.Subscription),
		byPayer: make(map[string][]int64),
		nextID:  1,
	}
}

func (r *MemoryRepository) insertLocked(sub *domain.Subscription) int64 {
	stored := *sub
	stored.ID = r.nextID
	r.nextID++
	r.subs[stored.ID] = &stored
	r.byPayer[stored.Payer] = append(r.byPayer[stored.Payer], stored.ID)
	sub.ID = stored.ID
	return stored.ID
}

func (r *MemoryRepository) Create(ctx context.Context, sub *domain.Subscription) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.insertLocked(sub), nil
}

func (r *MemoryRepository) CreateBatch(ctx context.Context, subs []*domain.Subscription) ([]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]int64, 0, len(subs))
	for _, sub := range subs {
		ids = append(ids, r.insertLocked(sub))
	}
	return ids, nil
}

func (r *MemoryRepository) CreateAndPay(ctx context.Context, sub *domain.Subscription, pay func(ctx context.Context) error) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := pay(ctx); err != nil {
		return 0, err
	}

	sub.Paid = true
	return r.insertLocked(sub), nil
}

func (r *MemoryRepository) Get(ctx context.Context, id int64) (domain.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.subs[id]
	if !ok {
		return domain.Subscription{}, domain.ErrSubscriptionNotFound
	}
	return *sub, nil
}

func (r *MemoryRepository) Transition(ctx context.Context, id int64, fn func(sub *domain.Subscription) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.subs[id]
	if !ok {
		return domain.ErrSubscriptionNotFound
	}

	// fn works on a copy so a failed transition leaves the record unchanged.
	scratch := *stored
	if err := fn(&scratch); err != nil {
		return err
	}
	*stored = scratch
	return nil
}

func (r *MemoryRepository) ListByPayer(ctx context.Context, payer string) ([]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]int64, len(r.byPayer[payer]))
	copy(ids, r.byPayer[payer])
	return ids, nil
}

func (r *MemoryRepository) ListDue(ctx context.Context, payer string, now int64) ([]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := []int64{}
	for _, id := range r.byPayer[payer] {
		sub := r.subs[id]
		if !sub.Paid && !sub.Cancelled && sub.PaymentDate <= now {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// Count reports committed records, matching the Postgres implementation.
func (r *MemoryRepository) Count(ctx context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int64(len(r.subs)), nil
}
