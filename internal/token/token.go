// Package token models the stablecoin collaborator the ledger custodies.
package token

import (
	"context"
	"errors"
	"fmt"

	"github.com/Genius-Foundation/genius-contracts-sub003/internal/types"
	"github.com/holiman/uint256"
)

// Token is the transfer primitive. Implementations may charge transfer fees
// or otherwise deliver a different amount than instructed; callers that need
// exact amounts use ReceiveExact and SendExact.
type Token interface {
	BalanceOf(ctx context.Context, account types.Account) (*uint256.Int, error)
	Transfer(ctx context.Context, from, to types.Account, amount *uint256.Int) error
}

// Snapshotter is a token whose balances live in process, so the ledger has to
// save and restore them along with its own state.
type Snapshotter interface {
	Balances() map[types.Account]*uint256.Int
	SetBalances(balances map[types.Account]*uint256.Int)
}

// ReceiveExact transfers amount and verifies that `to` gained exactly amount.
// On a mismatch whatever `to` received is sent back to `from`.
func ReceiveExact(ctx context.Context, t Token, from, to types.Account, amount *uint256.Int) error {
	return transferExact(ctx, t, from, to, amount, true)
}

// SendExact transfers amount and verifies that `from` lost exactly amount.
// On a mismatch whatever `to` received is sent back to `from`.
func SendExact(ctx context.Context, t Token, from, to types.Account, amount *uint256.Int) error {
	return transferExact(ctx, t, from, to, amount, false)
}

func transferExact(ctx context.Context, t Token, from, to types.Account, amount *uint256.Int, checkRecipient bool) error {
	fromBefore, err := t.BalanceOf(ctx, from)
	if err != nil {
		return fmt.Errorf("failed to read balance of %s: %w", from, err)
	}
	toBefore, err := t.BalanceOf(ctx, to)
	if err != nil {
		return fmt.Errorf("failed to read balance of %s: %w", to, err)
	}
	if err := t.Transfer(ctx, from, to, amount); err != nil {
		return fmt.Errorf("transfer %s -> %s failed: %w", from, to, err)
	}
	fromAfter, err := t.BalanceOf(ctx, from)
	if err != nil {
		return fmt.Errorf("failed to read balance of %s: %w", from, err)
	}
	toAfter, err := t.BalanceOf(ctx, to)
	if err != nil {
		return fmt.Errorf("failed to read balance of %s: %w", to, err)
	}

	var mismatch error
	if checkRecipient {
		mismatch = expectDelta(amount, toBefore, toAfter, true)
	} else {
		mismatch = expectDelta(amount, fromBefore, fromAfter, false)
	}
	if mismatch == nil {
		return nil
	}

	received, grew := Delta(toBefore, toAfter)
	if !grew || received.IsZero() {
		return mismatch
	}
	if err := t.Transfer(ctx, to, from, received); err != nil {
		return errors.Join(mismatch, fmt.Errorf("failed to return %s from %s to %s: %w", received.Dec(), to, from, err))
	}
	return mismatch
}

// Delta returns |after - before| and whether the balance grew.
func Delta(before, after *uint256.Int) (*uint256.Int, bool) {
	if after.Lt(before) {
		return new(uint256.Int).Sub(before, after), false
	}
	return new(uint256.Int).Sub(after, before), true
}

func expectDelta(amount, before, after *uint256.Int, increase bool) error {
	moved := new(uint256.Int)
	switch {
	case increase && !after.Lt(before):
		moved.Sub(after, before)
	case !increase && !before.Lt(after):
		moved.Sub(before, after)
	}
	if !moved.Eq(amount) {
		return &types.MismatchError{Expected: amount.Clone(), Actual: moved}
	}
	return nil
}
