package token

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/agentpay/agentpay/internal/domain"
)

// PostgresLedger is a fungible-token ledger with ERC-20 style allowance
// semantics: balances per address, and per (owner, spender) allowances that
// TransferFrom draws down. The engine is constructed with its own spender
// address and debits payers against the allowance they granted it.
type PostgresLedger struct {
	db      *pgxpool.Pool
	spender string
}

func NewPostgresLedger(db *pgxpool.Pool, spender string) *PostgresLedger {
	return &PostgresLedger{db: db, spender: spender}
}

// Spender returns the address allowances must be granted to.
func (l *PostgresLedger) Spender() string {
	return l.spender
}

func (l *PostgresLedger) BalanceOf(ctx context.Context, address string) (int64, error) {
	var balance int64
	err := l.db.QueryRow(ctx,
		"SELECT balance FROM token_accounts WHERE address = $1", address).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, domain.ErrAccountNotFound
		}
		return 0, fmt.Errorf("balance query failed: %w", err)
	}
	return balance, nil
}

func (l *PostgresLedger) Allowance(ctx context.Context, owner, spender string) (int64, error) {
	var amount int64
	err := l.db.QueryRow(ctx,
		"SELECT amount FROM token_allowances WHERE owner = $1 AND spender = $2",
		owner, spender).Scan(&amount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("allowance query failed: %w", err)
	}
	return amount, nil
}

// Approve sets the allowance from owner to spender, replacing any previous
// value, as ERC-20 approve does.
func (l *PostgresLedger) Approve(ctx context.Context, owner, spender string, amount int64) error {
	if amount < 0 {
		return domain.ErrInvalidAmount
	}
	_, err := l.db.Exec(ctx,
		`INSERT INTO token_allowances (owner, spender, amount) VALUES ($1, $2, $3)
		 ON CONFLICT (owner, spender) DO UPDATE SET amount = EXCLUDED.amount`,
		owner, spender, amount)
	if err != nil {
		return fmt.Errorf("approve failed: %w", err)
	}
	return nil
}

// Mint credits an account, creating it if needed. Used by the seeder only.
func (l *PostgresLedger) Mint(ctx context.Context, address string, amount int64) error {
	_, err := l.db.Exec(ctx,
		`INSERT INTO token_accounts (address, balance) VALUES ($1, $2)
		 ON CONFLICT (address) DO UPDATE SET balance = token_accounts.balance + EXCLUDED.balance`,
		address, amount)
	if err != nil {
		return fmt.Errorf("mint failed: %w", err)
	}
	return nil
}

// TransferFrom moves amount from owner to recipient against the allowance
// owner granted the ledger's spender. The whole movement runs in one
// transaction with account rows locked in address order, so concurrent
// transfers cannot deadlock or observe a partial move.
func (l *PostgresLedger) TransferFrom(ctx context.Context, owner, recipient string, amount int64) error {
	if amount <= 0 {
		return domain.ErrInvalidAmount
	}

	tx, err := l.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	// Recipient accounts come into existence on first credit, the way a
	// token transfer to a fresh address would.
	if _, err := tx.Exec(ctx,
		"INSERT INTO token_accounts (address) VALUES ($1) ON CONFLICT (address) DO NOTHING",
		recipient); err != nil {
		return fmt.Errorf("recipient init failed: %w", err)
	}

	// Deterministic lock ordering.
	first, second := owner, recipient
	if first > second {
		first, second = second, first
	}

	balances := map[string]int64{}
	for _, addr := range []string{first, second} {
		var balance int64
		err := tx.QueryRow(ctx,
			"SELECT balance FROM token_accounts WHERE address = $1 FOR UPDATE", addr).Scan(&balance)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return domain.ErrAccountNotFound
			}
			return fmt.Errorf("lock acquisition failed: %w", err)
		}
		balances[addr] = balance
	}

	if balances[owner] < amount {
		return domain.ErrInsufficientBalance
	}

	var allowance int64
	err = tx.QueryRow(ctx,
		"SELECT amount FROM token_allowances WHERE owner = $1 AND spender = $2 FOR UPDATE",
		owner, l.spender).Scan(&allowance)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("allowance lock failed: %w", err)
	}
	if allowance < amount {
		return domain.ErrInsufficientAllowance
	}

	if _, err := tx.Exec(ctx,
		"UPDATE token_allowances SET amount = amount - $1 WHERE owner = $2 AND spender = $3",
		amount, owner, l.spender); err != nil {
		return fmt.Errorf("allowance update failed: %w", err)
	}
	if _, err := tx.Exec(ctx,
		"UPDATE token_accounts SET balance = balance - $1 WHERE address = $2", amount, owner); err != nil {
		return fmt.Errorf("debit failed: %w", err)
	}
	if _, err := tx.Exec(ctx,
		"UPDATE token_accounts SET balance = balance + $1 WHERE address = $2", amount, recipient); err != nil {
		return fmt.Errorf("credit failed: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("tx commit failed: %w", err)
	}
	return nil
}
