package ledger

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/Genius-Foundation/genius-contracts-sub003/internal/events"
	"github.com/Genius-Foundation/genius-contracts-sub003/internal/liquidity"
	"github.com/Genius-Foundation/genius-contracts-sub003/internal/priceguard"
	"github.com/Genius-Foundation/genius-contracts-sub003/internal/types"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// usdc returns whole units at 6 decimals.
func usdc(v uint64) *uint256.Int { return new(uint256.Int).Mul(u(v), u(1_000_000)) }

func TestStaking(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, 6)

	assert.Equal(t, usdc(4_000_000), e.dst.SharesOf(ctx, lp), "first deposit mints 1:1")
	avail, err := e.dst.AvailableAssets(ctx)
	require.NoError(t, err)
	assert.Equal(t, usdc(2_000_000), avail)
	assert.Equal(t, usdc(2_000_000), e.dst.MinLiquidity(ctx))

	burned, err := e.dst.StakeWithdraw(ctx, lp, lp, lp, usdc(1_000_000))
	require.NoError(t, err)
	assert.Equal(t, usdc(1_000_000), burned)
	assert.Equal(t, usdc(3_000_000), e.dst.Stake(ctx).TotalStaked)
	require.Len(t, e.dstRec.OfType(events.StakeWithdrawn), 1)

	t.Run("only the owner withdraws", func(t *testing.T) {
		_, err := e.dst.StakeWithdraw(ctx, stranger, stranger, lp, usdc(1))
		assert.ErrorIs(t, err, types.ErrMissingRole)
	})

	t.Run("withdrawal above available liquidity", func(t *testing.T) {
		_, err := e.dst.StakeWithdraw(ctx, lp, lp, lp, usdc(2_000_000))
		var liqErr *types.LiquidityError
		require.ErrorAs(t, err, &liqErr)
		assert.Equal(t, usdc(1_500_000), liqErr.Available)
		assert.Equal(t, usdc(3_000_000), e.dst.SharesOf(ctx, lp))
	})

	t.Run("second depositor", func(t *testing.T) {
		e.dstTok.Mint(stranger, usdc(300))
		minted, err := e.dst.StakeDeposit(ctx, stranger, stranger, usdc(300))
		require.NoError(t, err)
		assert.Equal(t, usdc(300), minted)
		require.Len(t, e.dstRec.OfType(events.StakeDeposited), 1)
	})
}

func TestInsuranceFeesGrowStake(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, 6)
	require.NoError(t, e.src.SetInsuranceTiers(ctx, admin, []*uint256.Int{u(0)}, []uint64{20}))
	require.NoError(t, e.src.SetBaseFee(ctx, admin, dstChain, u(50)))

	b, err := e.src.ComputeFees(ctx, u(1_000_000), dstChain)
	require.NoError(t, err)
	assert.Equal(t, uint64(50), b.BaseFee.Uint64())
	assert.Equal(t, uint64(1_000), b.BpsFee.Uint64())
	assert.Equal(t, uint64(2_000), b.InsuranceFee.Uint64())
	assert.Equal(t, uint64(3_050), b.TotalFee.Uint64())

	created, _ := e.create(t, e.newOrder(t))
	assert.Equal(t, uint64(3_050), created.Fee.Uint64())
	stake := e.src.Stake(ctx)
	assert.Equal(t, uint64(2_000), stake.TotalStaked.Uint64())
	assert.Equal(t, uint64(1_050), stake.ProtocolFees.Uint64())
}

func TestCollectProtocolFees(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, 6)
	e.create(t, e.newOrder(t))

	avail, err := e.src.AvailableAssets(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(999_000), avail.Uint64(), "unclaimed fees are not available liquidity")

	_, err = e.src.CollectProtocolFees(ctx, stranger, stranger)
	assert.ErrorIs(t, err, types.ErrMissingRole)

	collected, err := e.src.CollectProtocolFees(ctx, admin, stranger)
	require.NoError(t, err)
	assert.Equal(t, uint64(1_000), collected.Uint64())
	assert.Equal(t, uint64(1_000), balanceOf(t, e.srcTok, stranger).Uint64())
	assert.True(t, e.src.Stake(ctx).ProtocolFees.IsZero())

	again, err := e.src.CollectProtocolFees(ctx, admin, stranger)
	require.NoError(t, err)
	assert.True(t, again.IsZero())
}

type recordingBridge struct {
	requests []liquidity.BridgeRequest
	err      error
	// also runs on dispatch, for bridges that misbehave
	also func(ctx context.Context, req liquidity.BridgeRequest)
}

func (b *recordingBridge) Dispatch(ctx context.Context, req liquidity.BridgeRequest) error {
	if b.also != nil {
		b.also(ctx, req)
	}
	if b.err != nil {
		return b.err
	}
	b.requests = append(b.requests, req)
	return nil
}

func TestLiquidityMoves(t *testing.T) {
	ctx := context.Background()
	bridge := &recordingBridge{}
	e := newEnv(t, 6, WithBridge(bridge))
	orch := e.orch.Account()

	t.Run("target must be allow-listed", func(t *testing.T) {
		err := e.dst.RebalanceLiquidity(ctx, orch, bridgeAddr, usdc(1), srcChain, nil)
		assert.ErrorIs(t, err, types.ErrTargetNotAllowed)
	})

	require.NoError(t, e.dst.SetBridgeTarget(ctx, admin, bridgeAddr, true))

	tests := []struct {
		name    string
		call    func() error
		wantErr error
	}{
		{"not an orchestrator", func() error {
			return e.dst.RebalanceLiquidity(ctx, stranger, bridgeAddr, usdc(1), srcChain, nil)
		}, types.ErrMissingRole},
		{"rebalance to the local chain", func() error {
			return e.dst.RebalanceLiquidity(ctx, orch, bridgeAddr, usdc(1), dstChain, nil)
		}, types.ErrChainMismatch},
		{"rebalance without destination", func() error {
			return e.dst.RebalanceLiquidity(ctx, orch, bridgeAddr, usdc(1), 0, nil)
		}, types.ErrChainMismatch},
		{"more than available", func() error {
			return e.dst.RebalanceLiquidity(ctx, orch, bridgeAddr, usdc(2_000_001), srcChain, nil)
		}, types.ErrInsufficientLiquidity},
		{"remove more than available", func() error {
			return e.dst.RemoveBridgeLiquidity(ctx, orch, bridgeAddr, usdc(2_000_001), nil)
		}, types.ErrInsufficientLiquidity},
		{"zero amount", func() error {
			return e.dst.RemoveBridgeLiquidity(ctx, orch, bridgeAddr, u(0), nil)
		}, types.ErrInvalidAmount},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.call(), tt.wantErr)
			bal, err := e.dst.Balance(ctx)
			require.NoError(t, err)
			assert.Equal(t, usdc(4_000_000), bal, "rejected moves leave custody untouched")
		})
	}
	assert.Empty(t, bridge.requests)

	require.NoError(t, e.dst.RebalanceLiquidity(ctx, orch, bridgeAddr, usdc(1_500_000), srcChain, []byte{0xbe, 0xef}))
	require.Len(t, bridge.requests, 1)
	assert.Equal(t, usdcDst, bridge.requests[0].Token)
	assert.Equal(t, srcChain, bridge.requests[0].DestChainID)
	assert.Equal(t, usdc(1_500_000), balanceOf(t, e.dstTok, bridgeAddr))

	ev := e.dstRec.OfType(events.LiquidityRebalanced)
	require.Len(t, ev, 1)
	assert.Equal(t, usdc(1_500_000), ev[0].Amount)

	avail, err := e.dst.AvailableAssets(ctx)
	require.NoError(t, err)
	assert.Equal(t, usdc(500_000), avail)

	require.NoError(t, e.dst.RemoveBridgeLiquidity(ctx, orch, bridgeAddr, usdc(500_000), nil))
	require.Len(t, e.dstRec.OfType(events.LiquidityRemoved), 1)

	t.Run("failed dispatch is undone", func(t *testing.T) {
		e.dstTok.Mint(dstCustody, usdc(10))
		bridge.err = errors.New("bridge paused")
		defer func() { bridge.err = nil }()
		err := e.dst.RemoveBridgeLiquidity(ctx, orch, bridgeAddr, usdc(10), nil)
		require.Error(t, err)
		assert.Equal(t, usdc(2_000_010), balanceOf(t, e.dstTok, dstCustody))
	})

	t.Run("bridge pulling extra custody funds is undone", func(t *testing.T) {
		custodyBefore := balanceOf(t, e.dstTok, dstCustody)
		targetBefore := balanceOf(t, e.dstTok, bridgeAddr)
		bridge.also = func(ctx context.Context, req liquidity.BridgeRequest) {
			require.NoError(t, e.dstTok.Transfer(ctx, dstCustody, req.Target, u(1)))
		}
		defer func() { bridge.also = nil }()

		err := e.dst.RemoveBridgeLiquidity(ctx, orch, bridgeAddr, usdc(10), nil)
		assert.ErrorIs(t, err, types.ErrTransferMismatch)
		assert.Equal(t, custodyBefore, balanceOf(t, e.dstTok, dstCustody))
		assert.Equal(t, targetBefore, balanceOf(t, e.dstTok, bridgeAddr))
		assert.Len(t, e.dstRec.OfType(events.LiquidityRemoved), 1, "no event for the undone move")
	})
}

type stubOracle struct{ round priceguard.Round }

func (o *stubOracle) LatestRound(context.Context) (priceguard.Round, error) { return o.round, nil }

func TestPriceGuard(t *testing.T) {
	ctx := context.Background()
	oracle := &stubOracle{round: priceguard.Round{
		RoundID:         big.NewInt(7),
		Answer:          big.NewInt(100_000_000),
		StartedAt:       uint64(start.Unix()),
		UpdatedAt:       uint64(start.Unix()),
		AnsweredInRound: big.NewInt(7),
	}}
	guard, err := priceguard.New(oracle, time.Hour, big.NewInt(98_000_000), big.NewInt(102_000_000))
	require.NoError(t, err)

	e := newEnv(t, 6, WithPriceGuard(guard))
	guard.WithClock(e.clock.Now)
	require.NoError(t, e.dst.SetBridgeTarget(ctx, admin, bridgeAddr, true))
	created, _ := e.create(t, e.newOrder(t))
	orch := e.orch.Account()

	require.NoError(t, e.dst.VerifyPrice(ctx))

	t.Run("stale price blocks fills and moves", func(t *testing.T) {
		e.clock.Set(start.Add(2 * time.Hour))
		defer e.clock.Set(start)
		o := created.Copy()
		o.FillDeadline = uint64(start.Add(3 * time.Hour).Unix())
		_, err := e.dst.FillOrder(ctx, orch, o, Direct)
		assert.ErrorIs(t, err, types.ErrStalePrice)
		err = e.dst.RebalanceLiquidity(ctx, orch, bridgeAddr, usdc(1), srcChain, nil)
		assert.ErrorIs(t, err, types.ErrStalePrice)
	})

	t.Run("depeg blocks fills", func(t *testing.T) {
		oracle.round.Answer = big.NewInt(97_000_000)
		defer func() { oracle.round.Answer = big.NewInt(100_000_000) }()
		_, err := e.dst.FillOrder(ctx, orch, created, Direct)
		assert.ErrorIs(t, err, types.ErrPriceOutOfBounds)
	})

	t.Run("widened bounds admit the price", func(t *testing.T) {
		oracle.round.Answer = big.NewInt(97_000_000)
		defer func() { oracle.round.Answer = big.NewInt(100_000_000) }()
		require.NoError(t, e.dst.SetPriceBounds(ctx, admin, big.NewInt(95_000_000), big.NewInt(105_000_000)))
		assert.NoError(t, e.dst.VerifyPrice(ctx))
	})

	assert.Equal(t, types.StatusNonexistent, e.dst.OrderStatus(ctx, created.Digest()))
	_, err = e.dst.FillOrder(ctx, orch, created, Direct)
	require.NoError(t, err)

	t.Run("source chain creates without a guard", func(t *testing.T) {
		e.create(t, e.newOrder(t))
	})
}
