package liquidity

import (
	"context"
	"errors"
	"fmt"

	"github.com/Genius-Foundation/genius-contracts-sub003/internal/token"
	"github.com/Genius-Foundation/genius-contracts-sub003/internal/types"
	"github.com/holiman/uint256"
)

// Bridge forwards liquidity that has already been transferred to Target.
// Dispatch must not move custody funds, and calls back into the ledger must
// use ctx.
type Bridge interface {
	Dispatch(ctx context.Context, req BridgeRequest) error
}

// BridgeRequest describes one liquidity move out of the pool.
type BridgeRequest struct {
	Target      types.Account
	Token       types.Account
	Amount      *uint256.Int
	DestChainID uint64
	Data        []byte
}

// SetBridgeTarget adds or removes target from the bridge allow-list.
func (a *Account) SetBridgeTarget(target types.Account, allowed bool) error {
	if target.IsZero() {
		return fmt.Errorf("%w: bridge target", types.ErrZeroAddress)
	}
	if allowed {
		a.bridgeTargets[target] = true
	} else {
		delete(a.bridgeTargets, target)
	}
	return nil
}

func (a *Account) IsBridgeTarget(target types.Account) bool { return a.bridgeTargets[target] }

// Move transfers req.Amount to the allow-listed req.Target and hands the
// request to bridge. The custody balance must drop by exactly req.Amount and
// stay above MinLiquidity; otherwise the move is undone and an error returned.
func (a *Account) Move(ctx context.Context, bridge Bridge, req BridgeRequest) error {
	if req.Amount == nil || req.Amount.IsZero() {
		return fmt.Errorf("%w: zero bridge amount", types.ErrInvalidAmount)
	}
	if !a.bridgeTargets[req.Target] {
		return fmt.Errorf("%w: %s", types.ErrTargetNotAllowed, req.Target)
	}
	if err := a.RequireAvailable(ctx, req.Amount); err != nil {
		return err
	}
	before, err := a.Balance(ctx)
	if err != nil {
		return err
	}

	if err := token.SendExact(ctx, a.token, a.custody, req.Target, req.Amount); err != nil {
		return err
	}
	afterTransfer, err := a.Balance(ctx)
	if err != nil {
		return a.undoMove(ctx, req, before, err)
	}
	if floor := a.MinLiquidity(); afterTransfer.Lt(floor) {
		return a.undoMove(ctx, req, before,
			fmt.Errorf("%w: balance %s below minimum %s", types.ErrThresholdBreach, afterTransfer.Dec(), floor.Dec()))
	}

	if bridge == nil {
		return nil
	}
	req.Token = a.tokenID
	if err := bridge.Dispatch(ctx, req); err != nil {
		return a.undoMove(ctx, req, before, fmt.Errorf("bridge dispatch to %s failed: %w", req.Target, err))
	}
	afterCall, err := a.Balance(ctx)
	if err != nil {
		return a.undoMove(ctx, req, before, err)
	}
	if !afterCall.Eq(afterTransfer) {
		delta, _ := token.Delta(afterTransfer, afterCall)
		return a.undoMove(ctx, req, before, &types.MismatchError{Expected: new(uint256.Int), Actual: delta})
	}
	return nil
}

// undoMove pulls from the target whatever custody is short of its balance
// before the move (req.Amount when that cannot be read), capped at what the
// target holds. It returns cause, joined with any failure to pull.
func (a *Account) undoMove(ctx context.Context, req BridgeRequest, before *uint256.Int, cause error) error {
	owed := req.Amount.Clone()
	if now, err := a.Balance(ctx); err == nil {
		if !now.Lt(before) {
			return cause
		}
		owed.Sub(before, now)
	}
	if held, err := a.token.BalanceOf(ctx, req.Target); err == nil && held.Lt(owed) {
		owed = held
	}
	if owed.IsZero() {
		return cause
	}
	if err := a.token.Transfer(ctx, req.Target, a.custody, owed); err != nil {
		a.log.WithError(err).WithField("target", req.Target.Hex()).
			Error("Failed to return bridged liquidity to custody")
		return errors.Join(cause, fmt.Errorf("failed to return %s from %s: %w", owed.Dec(), req.Target, err))
	}
	return cause
}
