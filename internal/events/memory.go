package events

import (
	"context"
	"sync"

	"github.com/agentpay/agentpay/internal/domain"
)

// Recorder keeps published events in order in memory. Tests use it to
// assert on the audit trail; it also stands in for Kafka when no brokers
// are configured.
type Recorder struct {
	mu        sync.Mutex
	Created   []domain.SubscriptionCreatedEvent
	Cancelled []domain.SubscriptionCancelledEvent
	Executed  []domain.PaymentExecutedEvent
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) SubscriptionCreated(ctx context.Context, ev domain.SubscriptionCreatedEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Created = append(r.Created, ev)
	return nil
}

func (r *Recorder) SubscriptionCancelled(ctx context.Context, ev domain.SubscriptionCancelledEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Cancelled = append(r.Cancelled, ev)
	return nil
}

func (r *Recorder) PaymentExecuted(ctx context.Context, ev domain.PaymentExecutedEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Executed = append(r.Executed, ev)
	return nil
}
