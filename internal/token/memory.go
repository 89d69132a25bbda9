package token

import (
	"context"
	"sync"

	"github.com/agentpay/agentpay/internal/domain"
)

type allowanceKey struct {
	owner   string
	spender string
}

// MemoryLedger is an in-process token ledger with the same allowance
// semantics as the Postgres one. It serves tests and development mode.
type MemoryLedger struct {
	mu         sync.Mutex
	spender    string
	balances   map[string]int64
	allowances map[allowanceKey]int64
}

func NewMemoryLedger(spender string) *MemoryLedger {
	return &MemoryLedger{
		spender:    spender,
		balances:   make(map[string]int64),
		allowances: make(map[allowanceKey]int64),
	}
}

func (l *MemoryLedger) Spender() string {
	return l.spender
}

func (l *MemoryLedger) BalanceOf(ctx context.Context, address string) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	balance, ok := l.balances[address]
	if !ok {
		return 0, domain.ErrAccountNotFound
	}
	return balance, nil
}

func (l *MemoryLedger) Allowance(ctx context.Context, owner, spender string) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.allowances[allowanceKey{owner, spender}], nil
}

func (l *MemoryLedger) Approve(ctx context.Context, owner, spender string, amount int64) error {
	if amount < 0 {
		return domain.ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.allowances[allowanceKey{owner, spender}] = amount
	return nil
}

func (l *MemoryLedger) Mint(ctx context.Context, address string, amount int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[address] += amount
	return nil
}

func (l *MemoryLedger) TransferFrom(ctx context.Context, owner, recipient string, amount int64) error {
	if amount <= 0 {
		return domain.ErrInvalidAmount
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	balance, ok := l.balances[owner]
	if !ok {
		return domain.ErrAccountNotFound
	}
	if balance < amount {
		return domain.ErrInsufficientBalance
	}

	key := allowanceKey{owner, l.spender}
	if l.allowances[key] < amount {
		return domain.ErrInsufficientAllowance
	}

	l.allowances[key] -= amount
	l.balances[owner] -= amount
	l.balances[recipient] += amount
	return nil
}
