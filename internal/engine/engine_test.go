package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentpay/agentpay/internal/domain"
	"github.com/agentpay/agentpay/internal/engine"
	"github.com/agentpay/agentpay/internal/events"
	"github.com/agentpay/agentpay/internal/ledger"
	"github.com/agentpay/agentpay/internal/token"
)

const (
	spender = "agentpay-engine"
	alice   = "0xaaaa"
	bob     = "0xbbbb"
	netflix = "0xnetflix"
)

type clock struct {
	now time.Time
}

func (c *clock) Now() time.Time { return c.now }

func (c *clock) Advance(d time.Duration) { c.now = c.now.Add(d) }

type fixture struct {
	repo   *ledger.MemoryRepository
	token  *token.MemoryLedger
	events *events.Recorder
	clock  *clock
	eng    *engine.Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		repo:   ledger.NewMemoryRepository(),
		token:  token.NewMemoryLedger(spender),
		events: events.NewRecorder(),
		clock:  &clock{now: time.Unix(1_700_000_000, 0)},
	}
	f.eng = engine.New(f.repo, f.token, f.events, zerolog.Nop(), engine.WithClock(f.clock.Now))
	return f
}

// fund gives an account a balance and pre-authorizes the engine.
func (f *fixture) fund(t *testing.T, address string, balance, allowance int64) {
	t.Helper()
	require.NoError(t, f.token.Mint(context.Background(), address, balance))
	require.NoError(t, f.token.Approve(context.Background(), address, spender, allowance))
}

// brokenPublisher rejects every event, standing in for an unreachable broker.
type brokenPublisher struct{}

func (brokenPublisher) SubscriptionCreated(ctx context.Context, ev domain.SubscriptionCreatedEvent) error {
	return errors.New("broker down")
}

func (brokenPublisher) SubscriptionCancelled(ctx context.Context, ev domain.SubscriptionCancelledEvent) error {
	return errors.New("broker down")
}

func (brokenPublisher) PaymentExecuted(ctx context.Context, ev domain.PaymentExecutedEvent) error {
	return errors.New("broker down")
}

// The audit trail is best effort: transitions are already durable when
// events go out, so a publish failure must never fail the call or unwind
// the committed state.
func TestPublishFailureDoesNotFailMutation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.eng = engine.New(f.repo, f.token, brokenPublisher{}, zerolog.Nop(), engine.WithClock(f.clock.Now))
	f.fund(t, alice, 10_000000, 10_000000)

	paidID, err := f.eng.PayNow(ctx, alice, netflix, 2_000000, "Netflix")
	require.NoError(t, err)

	sub, err := f.eng.Get(ctx, paidID)
	require.NoError(t, err)
	assert.True(t, sub.Paid)

	scheduledID, err := f.eng.Schedule(ctx, alice, netflix, 1000, f.clock.now.Unix()+3600, "future")
	require.NoError(t, err)

	batchIDs, err := f.eng.ScheduleBatch(ctx, alice, netflix, 1000, f.clock.now.Unix()+3600, 30, 2, "monthly")
	require.NoError(t, err)
	assert.Len(t, batchIDs, 2)

	require.NoError(t, f.eng.Cancel(ctx, alice, scheduledID))
	sub, err = f.eng.Get(ctx, scheduledID)
	require.NoError(t, err)
	assert.True(t, sub.Cancelled)

	f.clock.Advance(2 * time.Hour)
	require.NoError(t, f.eng.Execute(ctx, batchIDs[0]))
	sub, err = f.eng.Get(ctx, batchIDs[0])
	require.NoError(t, err)
	assert.True(t, sub.Paid)
}

func TestPayNow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, alice, 10_000000, 10_000000)

	id, err := f.eng.PayNow(ctx, alice, netflix, 2_000000, "Netflix")
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)

	sub, err := f.eng.Get(ctx, id)
	require.NoError(t, err)
	assert.True(t, sub.Paid)
	assert.False(t, sub.Cancelled)
	assert.Equal(t, alice, sub.Payer)
	assert.Equal(t, f.clock.now.Unix(), sub.PaymentDate)

	total, err := f.eng.TotalSubscriptions(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)

	balance, err := f.token.BalanceOf(ctx, netflix)
	require.NoError(t, err)
	assert.Equal(t, int64(2_000000), balance)

	require.Len(t, f.events.Created, 1)
	require.Len(t, f.events.Executed, 1)
	assert.Equal(t, id, f.events.Executed[0].SubscriptionID)
	assert.Equal(t, int64(2_000000), f.events.Executed[0].Amount)
}

func TestPayNowDeclinedLeavesNoRecord(t *testing.T) {
	tests := []struct {
		name      string
		balance   int64
		allowance int64
		wantErr   error
	}{
		{"insufficient balance", 1_000000, 10_000000, domain.ErrInsufficientBalance},
		{"insufficient allowance", 10_000000, 1_000000, domain.ErrTransferFailed},
		{"unknown payer account", 0, 0, domain.ErrTransferFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			if tt.balance > 0 {
				f.fund(t, alice, tt.balance, tt.allowance)
			}

			_, err := f.eng.PayNow(ctx, alice, netflix, 2_000000, "Netflix")
			require.ErrorIs(t, err, tt.wantErr)

			total, err := f.eng.TotalSubscriptions(ctx)
			require.NoError(t, err)
			assert.Zero(t, total)
			assert.Empty(t, f.events.Created)
			assert.Empty(t, f.events.Executed)
		})
	}
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	future := f.clock.now.Unix() + 3600

	tests := []struct {
		name      string
		recipient string
		amount    int64
		date      int64
		wantErr   error
	}{
		{"zero amount", netflix, 0, future, domain.ErrInvalidAmount},
		{"negative amount", netflix, -5, future, domain.ErrInvalidAmount},
		{"empty recipient", "", 1000, future, domain.ErrInvalidRecipient},
		{"self payment", alice, 1000, future, domain.ErrInvalidRecipient},
		{"past date", netflix, 1000, f.clock.now.Unix() - 1, domain.ErrInvalidDate},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.eng.Schedule(ctx, alice, tt.recipient, tt.amount, tt.date, "x")
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	total, err := f.eng.TotalSubscriptions(ctx)
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestScheduleThenExecute(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, alice, 10_000000, 10_000000)

	due := f.clock.now.Unix() + 300
	id, err := f.eng.Schedule(ctx, alice, netflix, 1_500000, due, "future")
	require.NoError(t, err)

	// Too early.
	err = f.eng.Execute(ctx, id)
	require.ErrorIs(t, err, domain.ErrNotYetDue)

	sub, err := f.eng.Get(ctx, id)
	require.NoError(t, err)
	assert.False(t, sub.Paid)
	assert.Empty(t, f.events.Executed)

	f.clock.Advance(301 * time.Second)
	require.NoError(t, f.eng.Execute(ctx, id))

	sub, err = f.eng.Get(ctx, id)
	require.NoError(t, err)
	assert.True(t, sub.Paid)

	// Terminal records stay terminal.
	err = f.eng.Execute(ctx, id)
	assert.ErrorIs(t, err, domain.ErrAlreadyPaid)
	assert.Len(t, f.events.Executed, 1)
}

func TestExecuteTransferFailureLeavesPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, alice, 1_000000, 10_000000) // cannot cover the amount

	id, err := f.eng.Schedule(ctx, alice, netflix, 5_000000, f.clock.now.Unix(), "rent")
	require.NoError(t, err)

	err = f.eng.Execute(ctx, id)
	require.ErrorIs(t, err, domain.ErrInsufficientBalance)

	sub, err := f.eng.Get(ctx, id)
	require.NoError(t, err)
	assert.False(t, sub.Paid)
	assert.False(t, sub.Cancelled)
	assert.Empty(t, f.events.Executed)

	// Still executable once the payer funds up.
	f.fund(t, alice, 10_000000, 10_000000)
	require.NoError(t, f.eng.Execute(ctx, id))
}

func TestExecuteUnknownID(t *testing.T) {
	f := newFixture(t)
	err := f.eng.Execute(context.Background(), 42)
	assert.ErrorIs(t, err, domain.ErrSubscriptionNotFound)
}

func TestCancelAuthorization(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id, err := f.eng.Schedule(ctx, alice, netflix, 1000, f.clock.now.Unix()+3600, "sub")
	require.NoError(t, err)

	// Only the payer of record may cancel, regardless of record state.
	err = f.eng.Cancel(ctx, bob, id)
	require.ErrorIs(t, err, domain.ErrUnauthorized)

	require.NoError(t, f.eng.Cancel(ctx, alice, id))

	sub, err := f.eng.Get(ctx, id)
	require.NoError(t, err)
	assert.True(t, sub.Cancelled)
	assert.False(t, sub.Paid)
	require.Len(t, f.events.Cancelled, 1)
	assert.Equal(t, id, f.events.Cancelled[0].SubscriptionID)

	// Cancelling again fails rather than silently no-opping.
	err = f.eng.Cancel(ctx, alice, id)
	assert.ErrorIs(t, err, domain.ErrAlreadyCancelled)

	// A cancelled record can never be executed.
	err = f.eng.Execute(ctx, id)
	assert.ErrorIs(t, err, domain.ErrAlreadyCancelled)

	// A non-payer is still rejected on a terminal record.
	err = f.eng.Cancel(ctx, bob, id)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestCancelPaidSubscription(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, alice, 10_000000, 10_000000)

	id, err := f.eng.PayNow(ctx, alice, netflix, 1000, "paid")
	require.NoError(t, err)

	err = f.eng.Cancel(ctx, alice, id)
	assert.ErrorIs(t, err, domain.ErrAlreadyPaid)
}

func TestScheduleBatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	start := f.clock.now.Unix() + 3600
	ids, err := f.eng.ScheduleBatch(ctx, alice, netflix, 500000, start, 30, 3, "Netflix Monthly")
	require.NoError(t, err)
	require.Len(t, ids, 3)

	const thirtyDays = 30 * 86400
	for k, id := range ids {
		sub, err := f.eng.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, start+int64(k)*thirtyDays, sub.PaymentDate)
		assert.Equal(t, "pending", sub.Status())
		assert.Equal(t, int64(500000), sub.Amount)
		if k > 0 {
			assert.Greater(t, id, ids[k-1])
		}
	}

	assert.Len(t, f.events.Created, 3)

	total, err := f.eng.TotalSubscriptions(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
}

func TestScheduleBatchValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	future := f.clock.now.Unix() + 3600

	tests := []struct {
		name     string
		start    int64
		interval int64
		count    int64
		wantErr  error
	}{
		{"zero count", future, 30, 0, domain.ErrInvalidDate},
		{"count above max", future, 30, engine.DefaultMaxBatch + 1, domain.ErrInvalidDate},
		{"zero interval", future, 0, 3, domain.ErrInvalidDate},
		{"start in the past", f.clock.now.Unix() - 1, 30, 3, domain.ErrInvalidDate},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.eng.ScheduleBatch(ctx, alice, netflix, 1000, tt.start, tt.interval, tt.count, "x")
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	// Nothing from a rejected batch persists.
	total, err := f.eng.TotalSubscriptions(ctx)
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestCanExecute(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.eng.CanExecute(ctx, 99)
	assert.ErrorIs(t, err, domain.ErrSubscriptionNotFound)

	id, err := f.eng.Schedule(ctx, alice, netflix, 1000, f.clock.now.Unix()+300, "future")
	require.NoError(t, err)

	ok, err := f.eng.CanExecute(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok)

	f.clock.Advance(300 * time.Second)
	ok, err = f.eng.CanExecute(ctx, id)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, f.eng.Cancel(ctx, alice, id))
	ok, err = f.eng.CanExecute(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPendingSubscriptions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	soon, err := f.eng.Schedule(ctx, alice, netflix, 1000, f.clock.now.Unix()+60, "soon")
	require.NoError(t, err)
	_, err = f.eng.Schedule(ctx, alice, netflix, 1000, f.clock.now.Unix()+3600, "later")
	require.NoError(t, err)

	ids, err := f.eng.PendingSubscriptions(ctx, alice)
	require.NoError(t, err)
	assert.Empty(t, ids)

	f.clock.Advance(61 * time.Second)
	ids, err = f.eng.PendingSubscriptions(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, []int64{soon}, ids)
}

func TestUserSubscriptionsInsertionOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	future := f.clock.now.Unix() + 3600

	var want []int64
	for i := 0; i < 3; i++ {
		id, err := f.eng.Schedule(ctx, alice, netflix, 1000, future, "a")
		require.NoError(t, err)
		want = append(want, id)

		// Interleave another payer; indices must stay disjoint.
		_, err = f.eng.Schedule(ctx, bob, netflix, 1000, future, "b")
		require.NoError(t, err)
	}

	ids, err := f.eng.UserSubscriptions(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, want, ids)

	bobIDs, err := f.eng.UserSubscriptions(ctx, bob)
	require.NoError(t, err)
	require.Len(t, bobIDs, 3)
	for _, id := range bobIDs {
		assert.NotContains(t, want, id)
	}

	none, err := f.eng.UserSubscriptions(ctx, "0xnobody")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestIDsStrictlyIncreasing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	future := f.clock.now.Unix() + 3600

	var last int64
	for i := 0; i < 10; i++ {
		id, err := f.eng.Schedule(ctx, alice, netflix, 1000, future, "n")
		require.NoError(t, err)
		assert.Greater(t, id, last)
		last = id
	}
}

func TestAllowanceDrawdown(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, alice, 10_000000, 3_000000)

	_, err := f.eng.PayNow(ctx, alice, netflix, 2_000000, "first")
	require.NoError(t, err)

	remaining, err := f.token.Allowance(ctx, alice, spender)
	require.NoError(t, err)
	assert.Equal(t, int64(1_000000), remaining)

	// The next payment exceeds what is left of the pre-authorization.
	_, err = f.eng.PayNow(ctx, alice, netflix, 2_000000, "second")
	assert.ErrorIs(t, err, domain.ErrTransferFailed)
}
