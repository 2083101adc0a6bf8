package relay

import (
	"context"
	"fmt"
	"time"

	"github.com/Genius-Foundation/genius-contracts-sub003/internal/ledger"
	"github.com/Genius-Foundation/genius-contracts-sub003/internal/types"
	"github.com/holiman/uint256"
)

// Rule vets an order before the relay fills it on dest.
type Rule func(ctx context.Context, order *types.Order, dest *ledger.Ledger) error

// EnoughLiquidityOnDestination rejects orders whose payout exceeds the
// destination's available assets, so the fill is not attempted.
func EnoughLiquidityOnDestination() Rule {
	return func(ctx context.Context, order *types.Order, dest *ledger.Ledger) error {
		net, ok := order.NetAmount()
		if !ok {
			return fmt.Errorf("%w: fee exceeds amount", types.ErrInvalidAmount)
		}
		srcDecimals, ok := dest.ChainDecimals(ctx, order.SrcChainID)
		if !ok {
			return fmt.Errorf("%w: %d", types.ErrUnknownChain, order.SrcChainID)
		}
		payout, err := ledger.Rescale(net, srcDecimals, dest.Config(ctx).Decimals)
		if err != nil {
			return err
		}
		avail, err := dest.AvailableAssets(ctx)
		if err != nil {
			return err
		}
		if payout.Gt(avail) {
			return &types.LiquidityError{Requested: payout, Available: avail}
		}
		return nil
	}
}

// MaxAmountIn rejects orders above limit, in source chain units.
func MaxAmountIn(limit *uint256.Int) Rule {
	return func(_ context.Context, order *types.Order, _ *ledger.Ledger) error {
		if order.AmountIn != nil && order.AmountIn.Gt(limit) {
			return fmt.Errorf("%w: amount %s above relay limit %s", types.ErrInvalidAmount, order.AmountIn.Dec(), limit.Dec())
		}
		return nil
	}
}

// DeadlineMargin skips orders that expire within margin, leaving time for
// the fill to land before the trader can revert.
func DeadlineMargin(now func() time.Time, margin time.Duration) Rule {
	return func(_ context.Context, order *types.Order, _ *ledger.Ledger) error {
		cutoff := uint64(now().Add(margin).Unix())
		if cutoff > order.FillDeadline {
			return fmt.Errorf("%w: deadline %d inside margin %s", types.ErrDeadlineExpired, order.FillDeadline, margin)
		}
		return nil
	}
}
