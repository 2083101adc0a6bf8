package ledger

import (
	"context"
	"fmt"

	"github.com/Genius-Foundation/genius-contracts-sub003/internal/auth"
	"github.com/Genius-Foundation/genius-contracts-sub003/internal/events"
	"github.com/Genius-Foundation/genius-contracts-sub003/internal/liquidity"
	"github.com/Genius-Foundation/genius-contracts-sub003/internal/types"
	"github.com/holiman/uint256"
	"github.com/sirupsen/logrus"
)

// StakeDeposit pulls amount from caller into the pool and mints shares to receiver.
func (l *Ledger) StakeDeposit(ctx context.Context, caller, receiver types.Account, amount *uint256.Int) (*uint256.Int, error) {
	var minted *uint256.Int
	err := l.run(ctx, "stake_deposit", caller, true, func(c *call) error {
		shares, err := l.pool.Deposit(c.ctx, c.caller, receiver, amount)
		if err != nil {
			return err
		}
		e := l.event(events.StakeDeposited, c)
		e.Account, e.Amount, e.Detail = receiver, amount.Clone(), "shares="+shares.Dec()
		c.emit(e)

		l.log.WithFields(logrus.Fields{
			"receiver": receiver.Hex(),
			"amount":   types.FormatUnits(amount, l.cfg.Decimals),
			"shares":   shares.Dec(),
		}).Info("Stake deposited")
		minted = shares
		return nil
	})
	return minted, err
}

// StakeWithdraw burns owner's shares and pays amount to receiver. caller must be owner.
func (l *Ledger) StakeWithdraw(ctx context.Context, caller, receiver, owner types.Account, amount *uint256.Int) (*uint256.Int, error) {
	var burned *uint256.Int
	err := l.run(ctx, "stake_withdraw", caller, true, func(c *call) error {
		shares, err := l.pool.Withdraw(c.ctx, c.caller, receiver, owner, amount)
		if err != nil {
			return err
		}
		e := l.event(events.StakeWithdrawn, c)
		e.Account, e.Amount, e.Detail = receiver, amount.Clone(), "shares="+shares.Dec()
		c.emit(e)

		l.log.WithFields(logrus.Fields{
			"owner":  owner.Hex(),
			"amount": types.FormatUnits(amount, l.cfg.Decimals),
			"shares": shares.Dec(),
		}).Info("Stake withdrawn")
		burned = shares
		return nil
	})
	return burned, err
}

// RemoveBridgeLiquidity sends amount to an allow-listed bridge target.
func (l *Ledger) RemoveBridgeLiquidity(ctx context.Context, caller, target types.Account, amount *uint256.Int, data []byte) error {
	return l.run(ctx, "remove_liquidity", caller, true, func(c *call) error {
		return l.move(c, events.LiquidityRemoved, liquidity.BridgeRequest{Target: target, Amount: amount, Data: data})
	})
}

// RebalanceLiquidity sends amount through an allow-listed bridge target to destChainID.
func (l *Ledger) RebalanceLiquidity(ctx context.Context, caller, target types.Account, amount *uint256.Int, destChainID uint64, data []byte) error {
	return l.run(ctx, "rebalance", caller, true, func(c *call) error {
		if destChainID == 0 || destChainID == l.cfg.ChainID {
			return fmt.Errorf("%w: rebalance destination %d", types.ErrChainMismatch, destChainID)
		}
		return l.move(c, events.LiquidityRebalanced, liquidity.BridgeRequest{
			Target: target, Amount: amount, DestChainID: destChainID, Data: data,
		})
	})
}

func (l *Ledger) move(c *call, t events.Type, req liquidity.BridgeRequest) error {
	if err := l.gate.Require(auth.RoleOrchestrator, c.caller); err != nil {
		return err
	}
	if err := l.VerifyPrice(c.ctx); err != nil {
		return err
	}
	if req.Amount != nil {
		req.Amount = req.Amount.Clone()
	}
	if err := l.pool.Move(c.ctx, l.bridge, req); err != nil {
		return err
	}
	e := l.event(t, c)
	e.Account, e.Amount, e.DestChainID = req.Target, req.Amount.Clone(), req.DestChainID
	c.emit(e)

	l.log.WithFields(logrus.Fields{
		"target": req.Target.Hex(),
		"amount": types.FormatUnits(req.Amount, l.cfg.Decimals),
		"dest":   req.DestChainID,
	}).Info("Liquidity moved to bridge")
	return nil
}

// CollectProtocolFees pays every unclaimed base and bps fee to `to`.
func (l *Ledger) CollectProtocolFees(ctx context.Context, caller, to types.Account) (*uint256.Int, error) {
	var collected *uint256.Int
	err := l.run(ctx, "collect_fees", caller, true, func(c *call) error {
		if err := l.gate.Require(auth.RoleAdmin, c.caller); err != nil {
			return err
		}
		amount, err := l.pool.CollectFees(c.ctx, to)
		if err != nil {
			return err
		}
		e := l.event(events.FeesCollected, c)
		e.Account, e.Amount = to, amount.Clone()
		c.emit(e)
		l.log.WithFields(logrus.Fields{"to": to.Hex(), "amount": types.FormatUnits(amount, l.cfg.Decimals)}).
			Info("Protocol fees collected")
		collected = amount
		return nil
	})
	return collected, err
}
