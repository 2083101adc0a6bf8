package token

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/Genius-Foundation/genius-contracts-sub003/internal/types"
	"github.com/holiman/uint256"
)

// ErrInsufficientBalance is returned by Memory when a sender cannot cover a transfer.
var ErrInsufficientBalance = errors.New("insufficient token balance")

// TransferHook runs after every successful Memory transfer, outside the
// token's lock, with the context of the caller. A hook that calls back into
// the ledger must use that context.
type TransferHook func(ctx context.Context, from, to types.Account, amount *uint256.Int)

// Memory is an in-process token used by tests and local nodes.
type Memory struct {
	mu       sync.RWMutex
	balances map[types.Account]*uint256.Int
	feeBps   uint64
	failErr  error
	hook     TransferHook
}

// NewMemory returns an empty in-memory token.
func NewMemory() *Memory {
	return &Memory{balances: make(map[types.Account]*uint256.Int)}
}

// Mint credits amount to account.
func (m *Memory) Mint(account types.Account, amount *uint256.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b := m.balanceLocked(account)
	b.Add(b, amount)
}

// SetTransferFee makes every transfer burn bps/10000 of the amount, delivering less than instructed.
func (m *Memory) SetTransferFee(bps uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.feeBps = bps
}

// SetTransferError makes every transfer fail with err until cleared with nil.
func (m *Memory) SetTransferError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failErr = err
}

// SetHook installs a callback invoked after each transfer.
func (m *Memory) SetHook(hook TransferHook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hook = hook
}

// Balances implements Snapshotter. Zero balances are left out.
func (m *Memory) Balances() map[types.Account]*uint256.Int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[types.Account]*uint256.Int, len(m.balances))
	for account, b := range m.balances {
		if !b.IsZero() {
			out[account] = b.Clone()
		}
	}
	return out
}

// SetBalances implements Snapshotter, replacing every balance.
func (m *Memory) SetBalances(balances map[types.Account]*uint256.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances = make(map[types.Account]*uint256.Int, len(balances))
	for account, b := range balances {
		m.balances[account] = b.Clone()
	}
}

// BalanceOf implements Token.
func (m *Memory) BalanceOf(_ context.Context, account types.Account) (*uint256.Int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if b, ok := m.balances[account]; ok {
		return b.Clone(), nil
	}
	return new(uint256.Int), nil
}

// Transfer implements Token.
func (m *Memory) Transfer(ctx context.Context, from, to types.Account, amount *uint256.Int) error {
	m.mu.Lock()
	if m.failErr != nil {
		err := m.failErr
		m.mu.Unlock()
		return err
	}
	src := m.balanceLocked(from)
	if src.Lt(amount) {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s has %s, needs %s", ErrInsufficientBalance, from, src.Dec(), amount.Dec())
	}
	delivered := amount.Clone()
	if m.feeBps > 0 {
		fee := new(uint256.Int).Mul(amount, uint256.NewInt(m.feeBps))
		fee.Div(fee, uint256.NewInt(10_000))
		delivered.Sub(delivered, fee)
	}
	src.Sub(src, amount)
	dst := m.balanceLocked(to)
	dst.Add(dst, delivered)
	hook := m.hook
	m.mu.Unlock()

	if hook != nil {
		hook(ctx, from, to, amount)
	}
	return nil
}

func (m *Memory) balanceLocked(account types.Account) *uint256.Int {
	b, ok := m.balances[account]
	if !ok {
		b = new(uint256.Int)
		m.balances[account] = b
	}
	return b
}
