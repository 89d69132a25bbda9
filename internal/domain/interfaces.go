package domain

import "context"

// SubscriptionRepository owns the durable record set: identity assignment,
// the per-payer index and the lifecycle flags. Implementations must assign
// ids sequentially and never reuse them, and must make every mutating call
// atomic with respect to concurrent callers.
type SubscriptionRepository interface {
	// Create stores a pending record and returns its assigned id.
	Create(ctx context.Context, sub *Subscription) (int64, error)

	// CreateBatch stores all records or none of them.
	CreateBatch(ctx context.Context, subs []*Subscription) ([]int64, error)

	// CreateAndPay stores a pending record, runs pay while holding the
	// record exclusively, and commits it as paid. If pay fails nothing is
	// persisted.
	CreateAndPay(ctx context.Context, sub *Subscription, pay func(ctx context.Context) error) (int64, error)

	// Get returns the record or ErrSubscriptionNotFound.
	Get(ctx context.Context, id int64) (Subscription, error)

	// Transition loads the record under an exclusive lock, applies fn and
	// persists the Paid/Cancelled flags fn set. An error from fn rolls the
	// whole call back and is returned verbatim.
	Transition(ctx context.Context, id int64, fn func(sub *Subscription) error) error

	// ListByPayer returns the payer's subscription ids in insertion order.
	ListByPayer(ctx context.Context, payer string) ([]int64, error)

	// ListDue returns the payer's ids that are pending and due at the given
	// unix instant, in insertion order.
	ListDue(ctx context.Context, payer string, now int64) ([]int64, error)

	// Count returns the number of ids ever assigned.
	Count(ctx context.Context) (int64, error)
}

// TokenLedger is the value transfer capability the execution pipeline is
// handed. TransferFrom draws on a prior allowance granted by owner to the
// engine; on failure it must leave balances and allowances untouched.
type TokenLedger interface {
	Allowance(ctx context.Context, owner, spender string) (int64, error)
	TransferFrom(ctx context.Context, owner, recipient string, amount int64) error
}

// EventPublisher receives the audit trail. Transitions are already durable
// when these are called; a publish failure must not fail the operation.
type EventPublisher interface {
	SubscriptionCreated(ctx context.Context, ev SubscriptionCreatedEvent) error
	SubscriptionCancelled(ctx context.Context, ev SubscriptionCancelledEvent) error
	PaymentExecuted(ctx context.Context, ev PaymentExecutedEvent) error
}
