package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/agentpay/agentpay/internal/domain"
)

// Metrics
var (
	subscriptionsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agentpay_subscriptions_created_total",
		Help: "Subscription records created, batch occurrences included",
	})
	paymentsExecuted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agentpay_payments_executed_total",
		Help: "Payments moved to the paid state",
	})
	subscriptionsCancelled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agentpay_subscriptions_cancelled_total",
		Help: "Subscriptions cancelled by their payer",
	})
	transferFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agentpay_transfer_failures_total",
		Help: "Value transfers declined by the token ledger",
	})
)

// Engine gates every mutation of the subscription ledger: creation
// validation, payer-only cancellation, eligibility-checked execution and
// the batch expansion of recurring requests. It is the only path that
// moves value.
type Engine struct {
	repo     domain.SubscriptionRepository
	token    domain.TokenLedger
	events   domain.EventPublisher
	logger   zerolog.Logger
	now      func() time.Time
	maxBatch int
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock substitutes the wall clock. Tests use this to cross payment
// dates without sleeping.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithMaxBatch bounds the occurrence count accepted by ScheduleBatch.
func WithMaxBatch(n int) Option {
	return func(e *Engine) { e.maxBatch = n }
}

func New(repo domain.SubscriptionRepository, token domain.TokenLedger, events domain.EventPublisher, logger zerolog.Logger, opts ...Option) *Engine {
	e := &Engine{
		repo:     repo,
		token:    token,
		events:   events,
		logger:   logger,
		now:      time.Now,
		maxBatch: DefaultMaxBatch,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// validateCreate runs the invariants every creation path shares. The
// caller is the payer; third-party creation is not a thing.
func validateCreate(payer, recipient string, amount int64) error {
	if amount <= 0 {
		return domain.ErrInvalidAmount
	}
	if recipient == "" || recipient == payer {
		return domain.ErrInvalidRecipient
	}
	return nil
}

// PayNow creates a subscription due immediately and executes it in the
// same call. A declined transfer leaves no record behind.
func (e *Engine) PayNow(ctx context.Context, caller, recipient string, amount int64, description string) (int64, error) {
	if err := validateCreate(caller, recipient, amount); err != nil {
		return 0, err
	}

	now := e.now()
	sub := &domain.Subscription{
		Payer:       caller,
		Recipient:   recipient,
		Amount:      amount,
		PaymentDate: now.Unix(),
		Description: description,
	}

	id, err := e.repo.CreateAndPay(ctx, sub, func(ctx context.Context) error {
		return e.transferFrom(ctx, caller, recipient, amount)
	})
	if err != nil {
		return 0, err
	}

	subscriptionsCreated.Inc()
	paymentsExecuted.Inc()
	e.publishCreated(ctx, *sub)
	e.publishExecuted(ctx, *sub, now)
	e.logger.Info().
		Int64("subscription_id", id).
		Str("payer", caller).
		Str("recipient", recipient).
		Int64("amount", amount).
		Msg("immediate payment executed")
	return id, nil
}

// Schedule creates a pending subscription due at paymentDate.
func (e *Engine) Schedule(ctx context.Context, caller, recipient string, amount, paymentDate int64, description string) (int64, error) {
	if err := validateCreate(caller, recipient, amount); err != nil {
		return 0, err
	}
	if paymentDate < e.now().Unix() {
		return 0, domain.ErrInvalidDate
	}

	sub := &domain.Subscription{
		Payer:       caller,
		Recipient:   recipient,
		Amount:      amount,
		PaymentDate: paymentDate,
		Description: description,
	}
	id, err := e.repo.Create(ctx, sub)
	if err != nil {
		return 0, err
	}

	subscriptionsCreated.Inc()
	e.publishCreated(ctx, *sub)
	e.logger.Info().
		Int64("subscription_id", id).
		Str("payer", caller).
		Int64("payment_date", paymentDate).
		Msg("payment scheduled")
	return id, nil
}

// ScheduleBatch expands one recurring request into count records,
// occurrence k due intervalDays*k days after startDate. All records
// persist or none do.
func (e *Engine) ScheduleBatch(ctx context.Context, caller, recipient string, amount, startDate, intervalDays, count int64, description string) ([]int64, error) {
	if err := validateCreate(caller, recipient, amount); err != nil {
		return nil, err
	}

	dates, err := paymentDates(startDate, intervalDays, count, e.now().Unix(), e.maxBatch)
	if err != nil {
		return nil, err
	}

	subs := make([]*domain.Subscription, len(dates))
	for i, date := range dates {
		subs[i] = &domain.Subscription{
			Payer:       caller,
			Recipient:   recipient,
			Amount:      amount,
			PaymentDate: date,
			Description: description,
		}
	}

	ids, err := e.repo.CreateBatch(ctx, subs)
	if err != nil {
		return nil, err
	}

	subscriptionsCreated.Add(float64(len(ids)))
	for _, sub := range subs {
		e.publishCreated(ctx, *sub)
	}
	e.logger.Info().
		Str("payer", caller).
		Int64("count", count).
		Int64("interval_days", intervalDays).
		Msg("recurring payments scheduled")
	return ids, nil
}

// Cancel marks a pending subscription cancelled. Only the payer of record
// may cancel, regardless of record state.
func (e *Engine) Cancel(ctx context.Context, caller string, id int64) error {
	var cancelled domain.Subscription
	err := e.repo.Transition(ctx, id, func(sub *domain.Subscription) error {
		if sub.Payer != caller {
			return domain.ErrUnauthorized
		}
		if sub.Paid {
			return domain.ErrAlreadyPaid
		}
		if sub.Cancelled {
			return domain.ErrAlreadyCancelled
		}
		sub.Cancelled = true
		cancelled = *sub
		return nil
	})
	if err != nil {
		return err
	}

	subscriptionsCancelled.Inc()
	e.publishCancelled(ctx, cancelled)
	e.logger.Info().
		Int64("subscription_id", id).
		Str("payer", caller).
		Msg("subscription cancelled")
	return nil
}

// Execute settles an eligible subscription. Anyone may trigger it; the
// payer's pre-authorized balance funds it. The paid transition commits
// only after the transfer is confirmed, and the record lock is held across
// both so a record can never pay twice.
func (e *Engine) Execute(ctx context.Context, id int64) error {
	now := e.now()
	var executed domain.Subscription
	err := e.repo.Transition(ctx, id, func(sub *domain.Subscription) error {
		if sub.Paid {
			return domain.ErrAlreadyPaid
		}
		if sub.Cancelled {
			return domain.ErrAlreadyCancelled
		}
		if !sub.DueAt(now) {
			return domain.ErrNotYetDue
		}
		if err := e.transferFrom(ctx, sub.Payer, sub.Recipient, sub.Amount); err != nil {
			return err
		}
		sub.Paid = true
		executed = *sub
		return nil
	})
	if err != nil {
		return err
	}

	paymentsExecuted.Inc()
	e.publishExecuted(ctx, executed, now)
	e.logger.Info().
		Int64("subscription_id", id).
		Str("payer", executed.Payer).
		Str("recipient", executed.Recipient).
		Int64("amount", executed.Amount).
		Msg("payment executed")
	return nil
}

// CanExecute reports whether the record is currently eligible for
// execution. An unknown id is an error, not a false.
func (e *Engine) CanExecute(ctx context.Context, id int64) (bool, error) {
	sub, err := e.repo.Get(ctx, id)
	if err != nil {
		return false, err
	}
	return sub.Executable(e.now()), nil
}

// Get returns the full record.
func (e *Engine) Get(ctx context.Context, id int64) (domain.Subscription, error) {
	return e.repo.Get(ctx, id)
}

// UserSubscriptions returns every id the payer ever created, oldest first.
func (e *Engine) UserSubscriptions(ctx context.Context, payer string) ([]int64, error) {
	return e.repo.ListByPayer(ctx, payer)
}

// PendingSubscriptions returns the payer's ids that are pending and past
// their payment date, i.e. actionable right now.
func (e *Engine) PendingSubscriptions(ctx context.Context, payer string) ([]int64, error) {
	return e.repo.ListDue(ctx, payer, e.now().Unix())
}

// TotalSubscriptions returns the global count of ids ever assigned.
func (e *Engine) TotalSubscriptions(ctx context.Context) (int64, error) {
	return e.repo.Count(ctx)
}

// transferFrom invokes the token ledger and folds its failures into the
// two kinds callers see: a balance shortfall, or a declined transfer.
func (e *Engine) transferFrom(ctx context.Context, payer, recipient string, amount int64) error {
	err := e.token.TransferFrom(ctx, payer, recipient, amount)
	if err == nil {
		return nil
	}
	transferFailures.Inc()
	if errors.Is(err, domain.ErrInsufficientBalance) {
		return domain.ErrInsufficientBalance
	}
	return fmt.Errorf("%w: %v", domain.ErrTransferFailed, err)
}

func (e *Engine) publishCreated(ctx context.Context, sub domain.Subscription) {
	err := e.events.SubscriptionCreated(ctx, domain.SubscriptionCreatedEvent{
		SubscriptionID: sub.ID,
		Payer:          sub.Payer,
		Recipient:      sub.Recipient,
		Amount:         sub.Amount,
		PaymentDate:    sub.PaymentDate,
		Description:    sub.Description,
	})
	if err != nil {
		e.logger.Error().Err(err).Int64("subscription_id", sub.ID).Msg("failed to publish created event")
	}
}

func (e *Engine) publishCancelled(ctx context.Context, sub domain.Subscription) {
	err := e.events.SubscriptionCancelled(ctx, domain.SubscriptionCancelledEvent{
		SubscriptionID: sub.ID,
		Payer:          sub.Payer,
	})
	if err != nil {
		e.logger.Error().Err(err).Int64("subscription_id", sub.ID).Msg("failed to publish cancelled event")
	}
}

func (e *Engine) publishExecuted(ctx context.Context, sub domain.Subscription, at time.Time) {
	err := e.events.PaymentExecuted(ctx, domain.PaymentExecutedEvent{
		SubscriptionID: sub.ID,
		Payer:          sub.Payer,
		Recipient:      sub.Recipient,
		Amount:         sub.Amount,
		Timestamp:      at.Unix(),
	})
	if err != nil {
		e.logger.Error().Err(err).Int64("subscription_id", sub.ID).Msg("failed to publish executed event")
	}
}
