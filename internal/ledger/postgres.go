package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/agentpay/agentpay/internal/domain"
)

// PostgresRepository stores subscriptions in Postgres. Ids come from a
// sequence, so they are unique and strictly increasing for the lifetime of
// the ledger. Mutations run inside a transaction with the record row
// locked, which serializes concurrent transitions on the same record.
type PostgresRepository struct {
	db *pgxpool.Pool
}

func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, sub *domain.Subscription) (int64, error) {
	err := r.db.QueryRow(ctx,
		`INSERT INTO subscriptions (payer, recipient, amount, payment_date, description)
		 VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		sub.Payer, sub.Recipient, sub.Amount, sub.PaymentDate, sub.Description,
	).Scan(&sub.ID)
	if err != nil {
		return 0, fmt.Errorf("subscription insert failed: %w", err)
	}
	return sub.ID, nil
}

// CreateBatch inserts every record in one transaction, so a batch either
// fully persists or not at all.
func (r *PostgresRepository) CreateBatch(ctx context.Context, subs []*domain.Subscription) ([]int64, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	ids := make([]int64, 0, len(subs))
	for _, sub := range subs {
		err := tx.QueryRow(ctx,
			`INSERT INTO subscriptions (payer, recipient, amount, payment_date, description)
			 VALUES ($1, $2, $3, $4, $5) RETURNING id`,
			sub.Payer, sub.Recipient, sub.Amount, sub.PaymentDate, sub.Description,
		).Scan(&sub.ID)
		if err != nil {
			return nil, fmt.Errorf("batch insert failed: %w", err)
		}
		ids = append(ids, sub.ID)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("tx commit failed: %w", err)
	}
	return ids, nil
}

// CreateAndPay inserts the record, runs pay, and only then flips it to
// paid, all in one transaction. A pay failure rolls the insert back so no
// record of the attempt persists.
func (r *PostgresRepository) CreateAndPay(ctx context.Context, sub *domain.Subscription, pay func(ctx context.Context) error) (int64, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx,
		`INSERT INTO subscriptions (payer, recipient, amount, payment_date, description)
		 VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		sub.Payer, sub.Recipient, sub.Amount, sub.PaymentDate, sub.Description,
	).Scan(&sub.ID)
	if err != nil {
		return 0, fmt.Errorf("subscription insert failed: %w", err)
	}

	if err := pay(ctx); err != nil {
		return 0, err
	}

	if _, err := tx.Exec(ctx, "UPDATE subscriptions SET paid = TRUE WHERE id = $1", sub.ID); err != nil {
		return 0, fmt.Errorf("paid update failed: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("tx commit failed: %w", err)
	}
	sub.Paid = true
	return sub.ID, nil
}

func (r *PostgresRepository) Get(ctx context.Context, id int64) (domain.Subscription, error) {
	var sub domain.Subscription
	err := r.db.QueryRow(ctx,
		`SELECT id, payer, recipient, amount, payment_date, paid, cancelled, description
		 FROM subscriptions WHERE id = $1`, id,
	).Scan(&sub.ID, &sub.Payer, &sub.Recipient, &sub.Amount, &sub.PaymentDate, &sub.Paid, &sub.Cancelled, &sub.Description)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Subscription{}, domain.ErrSubscriptionNotFound
		}
		return domain.Subscription{}, fmt.Errorf("subscription query failed: %w", err)
	}
	return sub, nil
}

// Transition locks the record with FOR UPDATE, applies fn and persists the
// lifecycle flags. Holding the row lock across fn is what makes the
// transfer-then-mark-paid sequence atomic to other executors.
func (r *PostgresRepository) Transition(ctx context.Context, id int64, fn func(sub *domain.Subscription) error) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	var sub domain.Subscription
	err = tx.QueryRow(ctx,
		`SELECT id, payer, recipient, amount, payment_date, paid, cancelled, description
		 FROM subscriptions WHERE id = $1 FOR UPDATE`, id,
	).Scan(&sub.ID, &sub.Payer, &sub.Recipient, &sub.Amount, &sub.PaymentDate, &sub.Paid, &sub.Cancelled, &sub.Description)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrSubscriptionNotFound
		}
		return fmt.Errorf("lock acquisition failed: %w", err)
	}

	if err := fn(&sub); err != nil {
		return err
	}

	_, err = tx.Exec(ctx,
		"UPDATE subscriptions SET paid = $2, cancelled = $3 WHERE id = $1",
		id, sub.Paid, sub.Cancelled,
	)
	if err != nil {
		return fmt.Errorf("state update failed: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("tx commit failed: %w", err)
	}
	return nil
}

func (r *PostgresRepository) ListByPayer(ctx context.Context, payer string) ([]int64, error) {
	rows, err := r.db.Query(ctx,
		"SELECT id FROM subscriptions WHERE payer = $1 ORDER BY id", payer)
	if err != nil {
		return nil, fmt.Errorf("payer index query failed: %w", err)
	}
	defer rows.Close()
	return scanIDs(rows)
}

func (r *PostgresRepository) ListDue(ctx context.Context, payer string, now int64) ([]int64, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id FROM subscriptions
		 WHERE payer = $1 AND NOT paid AND NOT cancelled AND payment_date <= $2
		 ORDER BY id`, payer, now)
	if err != nil {
		return nil, fmt.Errorf("due query failed: %w", err)
	}
	defer rows.Close()
	return scanIDs(rows)
}

// Count returns the number of committed records. A rolled-back creation
// advances the id sequence without leaving a row, so this is not the
// sequence high-water mark.
func (r *PostgresRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.QueryRow(ctx, "SELECT COUNT(*) FROM subscriptions").Scan(&n); err != nil {
		return 0, fmt.Errorf("count query failed: %w", err)
	}
	return n, nil
}

func scanIDs(rows pgx.Rows) ([]int64, error) {
	ids := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
