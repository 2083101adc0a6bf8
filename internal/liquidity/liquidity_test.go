package liquidity

import (
	"context"
	"errors"
	"testing"

	"github.com/Genius-Foundation/genius-contracts-sub003/internal/token"
	"github.com/Genius-Foundation/genius-contracts-sub003/internal/types"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	usdc    = types.MustParseAccount("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")
	custody = types.MustParseAccount("0x00000000000000000000000000000000000C0575")
	lp      = types.MustParseAccount("0x1111111111111111111111111111111111111111")
	lp2     = types.MustParseAccount("0x2222222222222222222222222222222222222222")
	bridgeT = types.MustParseAccount("0xb41d6e0000000000000000000000000000000000")
)

func u(v uint64) *uint256.Int { return uint256.NewInt(v) }

func newPool(t *testing.T, thresholdBps uint64) (*Account, *token.Memory) {
	t.Helper()
	tok := token.NewMemory()
	tok.Mint(lp, u(1_000_000))
	tok.Mint(lp2, u(1_000_000))
	pool, err := New(tok, usdc, custody, thresholdBps, nil)
	require.NoError(t, err)
	return pool, tok
}

func balance(t *testing.T, tok token.Token, who types.Account) uint64 {
	t.Helper()
	b, err := tok.BalanceOf(context.Background(), who)
	require.NoError(t, err)
	return b.Uint64()
}

func TestNewValidation(t *testing.T) {
	tok := token.NewMemory()
	_, err := New(tok, types.ZeroAccount, custody, 0, nil)
	assert.ErrorIs(t, err, types.ErrInvalidToken)
	_, err = New(tok, usdc, types.ZeroAccount, 0, nil)
	assert.ErrorIs(t, err, types.ErrZeroAddress)
	_, err = New(tok, usdc, custody, 10_001, nil)
	assert.ErrorIs(t, err, types.ErrInvalidThreshold)
}

func TestAvailableAssets(t *testing.T) {
	ctx := context.Background()
	pool, tok := newPool(t, 7_500)

	_, err := pool.Deposit(ctx, lp, lp, u(1_000))
	require.NoError(t, err)
	assert.Equal(t, uint64(250), pool.MinLiquidity().Uint64())

	avail, err := pool.AvailableAssets(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(750), avail.Uint64())

	// order deposits sitting in custody are available for fills
	tok.Mint(custody, u(100))
	avail, _ = pool.AvailableAssets(ctx)
	assert.Equal(t, uint64(850), avail.Uint64())

	// unclaimed protocol fees are reserved
	pool.AccrueFees(nil, u(50))
	avail, _ = pool.AvailableAssets(ctx)
	assert.Equal(t, uint64(800), avail.Uint64())

	t.Run("never negative and never above balance", func(t *testing.T) {
		for _, bps := range []uint64{0, 1, 5_000, 9_999, 10_000} {
			require.NoError(t, pool.SetThreshold(bps))
			avail, err := pool.AvailableAssets(ctx)
			require.NoError(t, err)
			bal, _ := pool.Balance(ctx)
			assert.False(t, avail.Gt(bal), "threshold %d", bps)
		}
		require.NoError(t, pool.SetThreshold(0))
		avail, _ := pool.AvailableAssets(ctx)
		assert.Equal(t, uint64(50), avail.Uint64(), "balance 1100 - staked 1000 - fees 50")
	})

	assert.ErrorIs(t, pool.SetThreshold(10_001), types.ErrInvalidThreshold)
}

func TestMinLiquidityMonotonic(t *testing.T) {
	pool, _ := newPool(t, 0)
	pool.AccrueFees(u(10_000), nil)

	prev := pool.MinLiquidity()
	for _, bps := range []uint64{1_000, 2_000, 9_000} {
		require.NoError(t, pool.SetThreshold(bps))
		cur := pool.MinLiquidity()
		assert.False(t, cur.Gt(prev), "raising the threshold releases liquidity")
		prev = cur
	}
	before := pool.MinLiquidity()
	pool.AccrueFees(u(10_000), nil)
	assert.True(t, pool.MinLiquidity().Gt(before))
}

func TestDepositWithdrawShares(t *testing.T) {
	ctx := context.Background()
	pool, tok := newPool(t, 10_000)

	minted, err := pool.Deposit(ctx, lp, lp, u(1_000))
	require.NoError(t, err)
	assert.Equal(t, uint64(1_000), minted.Uint64(), "first deposit is 1:1")

	// insurance fees raise the share price
	pool.AccrueFees(u(1_000), nil)
	tok.Mint(custody, u(1_000))

	minted, err = pool.Deposit(ctx, lp2, lp2, u(1_000))
	require.NoError(t, err)
	assert.Equal(t, uint64(500), minted.Uint64())
	assert.Equal(t, uint64(1_500), pool.TotalShares().Uint64())
	assert.Equal(t, uint64(3_000), pool.TotalStaked().Uint64())

	burned, err := pool.Withdraw(ctx, lp2, lp2, lp2, u(999))
	require.NoError(t, err)
	assert.Equal(t, uint64(500), burned.Uint64(), "999*1500/3000 rounds up")
	assert.True(t, pool.SharesOf(lp2).IsZero())
	assert.Equal(t, uint64(1_000_000-1_000+999), balance(t, tok, lp2))

	t.Run("only the owner withdraws", func(t *testing.T) {
		_, err := pool.Withdraw(ctx, lp2, lp2, lp, u(1))
		assert.ErrorIs(t, err, types.ErrMissingRole)
	})

	t.Run("cannot burn more shares than held", func(t *testing.T) {
		_, err := pool.Withdraw(ctx, lp2, lp2, lp2, u(1))
		assert.ErrorIs(t, err, types.ErrInsufficientShares)
	})

	t.Run("zero amounts and receivers", func(t *testing.T) {
		_, err := pool.Deposit(ctx, lp, lp, u(0))
		assert.ErrorIs(t, err, types.ErrInvalidAmount)
		_, err = pool.Deposit(ctx, lp, types.ZeroAccount, u(1))
		assert.ErrorIs(t, err, types.ErrZeroAddress)
		_, err = pool.Withdraw(ctx, lp, lp, lp, u(0))
		assert.ErrorIs(t, err, types.ErrInvalidAmount)
	})
}

func TestWithdrawRespectsThreshold(t *testing.T) {
	ctx := context.Background()
	pool, _ := newPool(t, 5_000)
	_, err := pool.Deposit(ctx, lp, lp, u(1_000))
	require.NoError(t, err)

	_, err = pool.Withdraw(ctx, lp, lp, lp, u(501))
	var liq *types.LiquidityError
	require.True(t, errors.As(err, &liq))
	assert.Equal(t, uint64(500), liq.Available.Uint64())
	assert.Equal(t, uint64(1_000), pool.SharesOf(lp).Uint64())
}

func TestWithdrawRollsBackOnTransferFailure(t *testing.T) {
	ctx := context.Background()
	pool, tok := newPool(t, 10_000)
	_, err := pool.Deposit(ctx, lp, lp, u(1_000))
	require.NoError(t, err)

	tok.SetTransferError(errors.New("token paused"))
	_, err = pool.Withdraw(ctx, lp, lp, lp, u(400))
	require.Error(t, err)

	assert.Equal(t, uint64(1_000), pool.SharesOf(lp).Uint64())
	assert.Equal(t, uint64(1_000), pool.TotalShares().Uint64())
	assert.Equal(t, uint64(1_000), pool.TotalStaked().Uint64())
}

func TestDepositMintsAfterTransfer(t *testing.T) {
	ctx := context.Background()
	pool, tok := newPool(t, 10_000)

	var sharesDuringTransfer uint64 = 99
	tok.SetHook(func(ctx context.Context, from, to types.Account, amount *uint256.Int) {
		sharesDuringTransfer = pool.TotalShares().Uint64()
	})
	_, err := pool.Deposit(ctx, lp, lp, u(1_000))
	require.NoError(t, err)
	assert.Zero(t, sharesDuringTransfer)
}

func TestDepositRejectsFeeOnTransfer(t *testing.T) {
	ctx := context.Background()
	pool, tok := newPool(t, 10_000)
	tok.SetTransferFee(10)

	_, err := pool.Deposit(ctx, lp, lp, u(1_000))
	assert.ErrorIs(t, err, types.ErrTransferMismatch)
	assert.True(t, pool.TotalShares().IsZero())
	assert.Zero(t, balance(t, tok, custody), "the 999 received went back")
	assert.Equal(t, uint64(1_000_000-1), balance(t, tok, lp))
}

func TestProtocolFees(t *testing.T) {
	ctx := context.Background()
	pool, tok := newPool(t, 10_000)
	tok.Mint(custody, u(300))
	pool.AccrueFees(u(100), u(200))

	assert.Equal(t, uint64(100), pool.TotalStaked().Uint64())
	assert.Equal(t, uint64(50), pool.ReleaseFees(u(50)).Uint64())
	assert.Equal(t, uint64(150), pool.ReleaseFees(u(1_000)).Uint64(), "release saturates")
	assert.Equal(t, uint64(40), pool.ReleaseInsurance(u(40)).Uint64())
	assert.Equal(t, uint64(60), pool.TotalStaked().Uint64())
	assert.Equal(t, uint64(60), pool.ReleaseInsurance(u(1_000)).Uint64(), "release saturates")

	pool.AccrueFees(nil, u(120))
	treasury := types.MustParseAccount("0x7777777777777777777777777777777777777777")
	collected, err := pool.CollectFees(ctx, treasury)
	require.NoError(t, err)
	assert.Equal(t, uint64(120), collected.Uint64())
	assert.Equal(t, uint64(120), balance(t, tok, treasury))
	assert.True(t, pool.ProtocolFees().IsZero())
}

type fakeBridge struct {
	err        error
	steal      *token.Memory
	onDispatch func()
	calls      []BridgeRequest
}

func (b *fakeBridge) Dispatch(ctx context.Context, req BridgeRequest) error {
	b.calls = append(b.calls, req)
	if b.onDispatch != nil {
		b.onDispatch()
	}
	if b.steal != nil {
		if err := b.steal.Transfer(ctx, custody, req.Target, u(1)); err != nil {
			return err
		}
	}
	return b.err
}

var errBlind = errors.New("balance unavailable")

// blindToken stops reporting the custody balance once blind is set.
type blindToken struct {
	*token.Memory
	blind bool
}

func (b *blindToken) BalanceOf(ctx context.Context, account types.Account) (*uint256.Int, error) {
	if b.blind && account == custody {
		return nil, errBlind
	}
	return b.Memory.BalanceOf(ctx, account)
}

func TestMove(t *testing.T) {
	ctx := context.Background()

	setup := func(t *testing.T) (*Account, *token.Memory) {
		pool, tok := newPool(t, 5_000)
		_, err := pool.Deposit(ctx, lp, lp, u(1_000))
		require.NoError(t, err)
		require.NoError(t, pool.SetBridgeTarget(bridgeT, true))
		return pool, tok
	}

	t.Run("moves exact amount", func(t *testing.T) {
		pool, tok := setup(t)
		bridge := &fakeBridge{}
		err := pool.Move(ctx, bridge, BridgeRequest{Target: bridgeT, Amount: u(400), DestChainID: 10})
		require.NoError(t, err)
		assert.Equal(t, uint64(600), balance(t, tok, custody))
		assert.Equal(t, uint64(400), balance(t, tok, bridgeT))
		require.Len(t, bridge.calls, 1)
		assert.Equal(t, usdc, bridge.calls[0].Token)
	})

	t.Run("more than available leaves balance unchanged", func(t *testing.T) {
		pool, tok := setup(t)
		err := pool.Move(ctx, nil, BridgeRequest{Target: bridgeT, Amount: u(501)})
		assert.ErrorIs(t, err, types.ErrInsufficientLiquidity)
		assert.Equal(t, types.ClassSolvency, types.Classify(err))
		assert.Equal(t, uint64(1_000), balance(t, tok, custody))
	})

	t.Run("target must be allow-listed", func(t *testing.T) {
		pool, _ := setup(t)
		require.NoError(t, pool.SetBridgeTarget(bridgeT, false))
		err := pool.Move(ctx, nil, BridgeRequest{Target: bridgeT, Amount: u(1)})
		assert.ErrorIs(t, err, types.ErrTargetNotAllowed)
	})

	t.Run("failed dispatch is undone", func(t *testing.T) {
		pool, tok := setup(t)
		err := pool.Move(ctx, &fakeBridge{err: errors.New("bridge down")}, BridgeRequest{Target: bridgeT, Amount: u(100)})
		require.Error(t, err)
		assert.Equal(t, uint64(1_000), balance(t, tok, custody))
	})

	t.Run("bridge moving extra funds is a mismatch", func(t *testing.T) {
		pool, tok := setup(t)
		err := pool.Move(ctx, &fakeBridge{steal: tok}, BridgeRequest{Target: bridgeT, Amount: u(100)})
		assert.ErrorIs(t, err, types.ErrTransferMismatch)
		assert.Equal(t, uint64(1_000), balance(t, tok, custody), "amount and extra pulled back")
		assert.Zero(t, balance(t, tok, bridgeT))
	})

	t.Run("unreadable balance after dispatch is undone", func(t *testing.T) {
		mem := token.NewMemory()
		mem.Mint(lp, u(1_000))
		tok := &blindToken{Memory: mem}
		pool, err := New(tok, usdc, custody, 5_000, nil)
		require.NoError(t, err)
		_, err = pool.Deposit(ctx, lp, lp, u(1_000))
		require.NoError(t, err)
		require.NoError(t, pool.SetBridgeTarget(bridgeT, true))

		bridge := &fakeBridge{onDispatch: func() { tok.blind = true }}
		err = pool.Move(ctx, bridge, BridgeRequest{Target: bridgeT, Amount: u(100)})
		assert.ErrorIs(t, err, errBlind)
		assert.Equal(t, uint64(1_000), balance(t, mem, custody))
		assert.Zero(t, balance(t, mem, bridgeT))
	})

	t.Run("custody side of a fee-on-transfer move is exact", func(t *testing.T) {
		pool, tok := setup(t)
		tok.SetTransferFee(100)
		// the custody balance drops by the full amount, the target gets less
		err := pool.Move(ctx, nil, BridgeRequest{Target: bridgeT, Amount: u(100)})
		require.NoError(t, err)
		assert.Equal(t, uint64(99), balance(t, tok, bridgeT))
	})
}

func TestExportImport(t *testing.T) {
	ctx := context.Background()
	pool, _ := newPool(t, 2_500)
	_, err := pool.Deposit(ctx, lp, lp, u(1_000))
	require.NoError(t, err)
	pool.AccrueFees(u(10), u(20))
	require.NoError(t, pool.SetBridgeTarget(bridgeT, true))

	state := pool.Export()
	other, _ := newPool(t, 0)
	require.NoError(t, other.Import(state))
	assert.Equal(t, state, other.Export())
	assert.True(t, other.IsBridgeTarget(bridgeT))
	assert.Equal(t, pool.MinLiquidity(), other.MinLiquidity())

	state.ThresholdBps = 20_000
	assert.ErrorIs(t, other.Import(state), types.ErrInvalidThreshold)
}
