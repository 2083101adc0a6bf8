package ledger

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/Genius-Foundation/genius-contracts-sub003/internal/auth"
	"github.com/Genius-Foundation/genius-contracts-sub003/internal/events"
	"github.com/Genius-Foundation/genius-contracts-sub003/internal/fees"
	"github.com/Genius-Foundation/genius-contracts-sub003/internal/types"
	"github.com/holiman/uint256"
)

// admin runs fn as an admin-only configuration change. Configuration stays
// possible while paused.
func (l *Ledger) admin(ctx context.Context, action string, caller types.Account, fn func(c *call) error) error {
	return l.run(ctx, action, caller, false, func(c *call) error {
		if err := l.gate.Require(auth.RoleAdmin, c.caller); err != nil {
			return err
		}
		if err := fn(c); err != nil {
			return err
		}
		l.log.WithField("action", action).Info("Configuration updated")
		return nil
	})
}

func (l *Ledger) configured(c *call, t events.Type, detail string) {
	e := l.event(t, c)
	e.Detail = detail
	c.emit(e)
}

// SetTradingTiers replaces the trading fee table.
func (l *Ledger) SetTradingTiers(ctx context.Context, caller types.Account, thresholds []*uint256.Int, bps []uint64) error {
	return l.admin(ctx, "set_trading_tiers", caller, func(c *call) error {
		tiers, err := fees.BuildTiers(thresholds, bps)
		if err != nil {
			return err
		}
		if err := l.fees.SetTradingTiers(tiers); err != nil {
			return err
		}
		l.configured(c, events.FeesConfigured, fmt.Sprintf("trading tiers=%d", len(tiers)))
		return nil
	})
}

// SetInsuranceTiers replaces the insurance fee table.
func (l *Ledger) SetInsuranceTiers(ctx context.Context, caller types.Account, thresholds []*uint256.Int, bps []uint64) error {
	return l.admin(ctx, "set_insurance_tiers", caller, func(c *call) error {
		tiers, err := fees.BuildTiers(thresholds, bps)
		if err != nil {
			return err
		}
		if err := l.fees.SetInsuranceTiers(tiers); err != nil {
			return err
		}
		l.configured(c, events.FeesConfigured, fmt.Sprintf("insurance tiers=%d", len(tiers)))
		return nil
	})
}

// SetBaseFee sets the flat fee for orders to destChainID.
func (l *Ledger) SetBaseFee(ctx context.Context, caller types.Account, destChainID uint64, fee *uint256.Int) error {
	return l.admin(ctx, "set_base_fee", caller, func(c *call) error {
		if destChainID == l.cfg.ChainID {
			return fmt.Errorf("%w: base fee for the local chain", types.ErrChainMismatch)
		}
		l.fees.SetBaseFee(l.cfg.Token, destChainID, fee)
		e := l.event(events.FeesConfigured, c)
		e.DestChainID, e.Fee, e.Detail = destChainID, cloneOrZero(fee), "base fee"
		c.emit(e)
		return nil
	})
}

// SetFeeRefundBps sets the share of the fee returned to traders on revert.
func (l *Ledger) SetFeeRefundBps(ctx context.Context, caller types.Account, bps uint64) error {
	return l.admin(ctx, "set_refund", caller, func(c *call) error {
		if err := l.fees.SetRefundBps(bps); err != nil {
			return err
		}
		l.configured(c, events.FeesConfigured, fmt.Sprintf("refund bps=%d", bps))
		return nil
	})
}

// SetRebalanceThreshold sets how much of the staked assets may be drawn, in bps.
func (l *Ledger) SetRebalanceThreshold(ctx context.Context, caller types.Account, bps uint64) error {
	return l.admin(ctx, "set_threshold", caller, func(c *call) error {
		if err := l.pool.SetThreshold(bps); err != nil {
			return err
		}
		l.configured(c, events.ConfigUpdated, fmt.Sprintf("rebalance threshold bps=%d", bps))
		return nil
	})
}

// RegisterChainDecimals records the stablecoin precision of a remote chain.
func (l *Ledger) RegisterChainDecimals(ctx context.Context, caller types.Account, chainID uint64, decimals uint8) error {
	return l.admin(ctx, "register_decimals", caller, func(c *call) error {
		if chainID == 0 || chainID == l.cfg.ChainID {
			return fmt.Errorf("%w: cannot register decimals for chain %d", types.ErrChainMismatch, chainID)
		}
		if decimals > maxDecimals {
			return fmt.Errorf("%w: %d decimals", types.ErrInvalidAmount, decimals)
		}
		l.decimals[chainID] = decimals
		l.configured(c, events.ConfigUpdated, fmt.Sprintf("chain %d decimals=%d", chainID, decimals))
		return nil
	})
}

// SetPriceBounds replaces the accepted 8-decimal price range.
func (l *Ledger) SetPriceBounds(ctx context.Context, caller types.Account, lower, upper *big.Int) error {
	return l.admin(ctx, "set_price_bounds", caller, func(c *call) error {
		if l.guard == nil {
			return fmt.Errorf("%w: no price guard configured", types.ErrPriceFeedUnavailable)
		}
		if err := l.guard.SetBounds(lower, upper); err != nil {
			return err
		}
		l.configured(c, events.ConfigUpdated, fmt.Sprintf("price bounds=[%s, %s]", lower, upper))
		return nil
	})
}

// SetPriceHeartbeat replaces the maximum accepted age of a price.
func (l *Ledger) SetPriceHeartbeat(ctx context.Context, caller types.Account, heartbeat time.Duration) error {
	return l.admin(ctx, "set_price_heartbeat", caller, func(c *call) error {
		if l.guard == nil {
			return fmt.Errorf("%w: no price guard configured", types.ErrPriceFeedUnavailable)
		}
		if err := l.guard.SetHeartbeat(heartbeat); err != nil {
			return err
		}
		l.configured(c, events.ConfigUpdated, "price heartbeat="+heartbeat.String())
		return nil
	})
}

// SetBridgeTarget allows or forbids target for liquidity moves.
func (l *Ledger) SetBridgeTarget(ctx context.Context, caller, target types.Account, allowed bool) error {
	return l.admin(ctx, "set_bridge_target", caller, func(c *call) error {
		if err := l.pool.SetBridgeTarget(target, allowed); err != nil {
			return err
		}
		e := l.event(events.ConfigUpdated, c)
		e.Account, e.Detail = target, fmt.Sprintf("bridge target allowed=%t", allowed)
		c.emit(e)
		return nil
	})
}

// SetRevertGracePeriod delays revert eligibility past the fill deadline.
func (l *Ledger) SetRevertGracePeriod(ctx context.Context, caller types.Account, grace time.Duration) error {
	return l.admin(ctx, "set_revert_grace", caller, func(c *call) error {
		if grace < 0 {
			return fmt.Errorf("%w: negative grace period", types.ErrDeadlineInvalid)
		}
		l.cfg.RevertGracePeriod = grace
		l.configured(c, events.ConfigUpdated, "revert grace="+grace.String())
		return nil
	})
}

// GrantRole adds account to role.
func (l *Ledger) GrantRole(ctx context.Context, caller types.Account, role auth.Role, account types.Account) error {
	return l.run(ctx, "grant_role", caller, false, func(c *call) error {
		changed, err := l.gate.Grant(c.caller, role, account)
		if err != nil || !changed {
			return err
		}
		e := l.event(events.RoleGranted, c)
		e.Account, e.Detail = account, string(role)
		c.emit(e)
		l.log.WithField("role", role).WithField("account", account.Hex()).Info("Role granted")
		return nil
	})
}

// RevokeRole removes account from role.
func (l *Ledger) RevokeRole(ctx context.Context, caller types.Account, role auth.Role, account types.Account) error {
	return l.run(ctx, "revoke_role", caller, false, func(c *call) error {
		changed, err := l.gate.Revoke(c.caller, role, account)
		if err != nil || !changed {
			return err
		}
		e := l.event(events.RoleRevoked, c)
		e.Account, e.Detail = account, string(role)
		c.emit(e)
		l.log.WithField("role", role).WithField("account", account.Hex()).Info("Role revoked")
		return nil
	})
}

// Pause stops every mutating entry point except configuration.
func (l *Ledger) Pause(ctx context.Context, caller types.Account) error {
	return l.run(ctx, "pause", caller, false, func(c *call) error {
		if err := l.gate.Pause(c.caller); err != nil {
			return err
		}
		c.emit(l.event(events.Paused, c))
		l.log.Warn("Ledger paused")
		return nil
	})
}

func (l *Ledger) Unpause(ctx context.Context, caller types.Account) error {
	return l.run(ctx, "unpause", caller, false, func(c *call) error {
		if err := l.gate.Unpause(c.caller); err != nil {
			return err
		}
		c.emit(l.event(events.Unpaused, c))
		l.log.Info("Ledger unpaused")
		return nil
	})
}

func cloneOrZero(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return v.Clone()
}
