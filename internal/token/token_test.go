package token

import (
	"context"
	"errors"
	"testing"

	"github.com/Genius-Foundation/genius-contracts-sub003/internal/types"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	alice   = types.MustParseAccount("0x1111111111111111111111111111111111111111")
	bob     = types.MustParseAccount("0x2222222222222222222222222222222222222222")
	custody = types.MustParseAccount("0x3333333333333333333333333333333333333333")
)

func TestMemoryTransfer(t *testing.T) {
	ctx := context.Background()
	tok := NewMemory()
	tok.Mint(alice, uint256.NewInt(100))

	require.NoError(t, tok.Transfer(ctx, alice, bob, uint256.NewInt(40)))
	a, _ := tok.BalanceOf(ctx, alice)
	b, _ := tok.BalanceOf(ctx, bob)
	assert.Equal(t, uint64(60), a.Uint64())
	assert.Equal(t, uint64(40), b.Uint64())

	err := tok.Transfer(ctx, bob, alice, uint256.NewInt(41))
	assert.ErrorIs(t, err, ErrInsufficientBalance)
}

func TestReceiveExact(t *testing.T) {
	ctx := context.Background()

	t.Run("exact token", func(t *testing.T) {
		tok := NewMemory()
		tok.Mint(alice, uint256.NewInt(1_000))
		require.NoError(t, ReceiveExact(ctx, tok, alice, custody, uint256.NewInt(1_000)))
	})

	t.Run("fee on transfer is detected", func(t *testing.T) {
		tok := NewMemory()
		tok.Mint(alice, uint256.NewInt(1_000))
		tok.SetTransferFee(100)

		err := ReceiveExact(ctx, tok, alice, custody, uint256.NewInt(1_000))
		require.ErrorIs(t, err, types.ErrTransferMismatch)

		var mismatch *types.MismatchError
		require.True(t, errors.As(err, &mismatch))
		assert.Equal(t, uint64(1_000), mismatch.Expected.Uint64())
		assert.Equal(t, uint64(990), mismatch.Actual.Uint64())

		// custody hands back what it got; only the token's own fees are lost
		held, _ := tok.BalanceOf(ctx, custody)
		assert.True(t, held.IsZero())
		back, _ := tok.BalanceOf(ctx, alice)
		assert.Equal(t, uint64(1_000-10-9), back.Uint64())
	})

	t.Run("transfer error is propagated", func(t *testing.T) {
		tok := NewMemory()
		boom := errors.New("paused token")
		tok.SetTransferError(boom)
		err := ReceiveExact(ctx, tok, alice, custody, uint256.NewInt(1))
		assert.ErrorIs(t, err, boom)
	})
}

func TestSendExact(t *testing.T) {
	ctx := context.Background()
	tok := NewMemory()
	tok.Mint(custody, uint256.NewInt(500))

	require.NoError(t, SendExact(ctx, tok, custody, bob, uint256.NewInt(200)))
	bal, _ := tok.BalanceOf(ctx, custody)
	assert.Equal(t, uint64(300), bal.Uint64())

	// the sender loses the full amount even with a transfer fee
	tok.SetTransferFee(50)
	require.NoError(t, SendExact(ctx, tok, custody, bob, uint256.NewInt(100)))
}

func TestHookSeesCallerContext(t *testing.T) {
	type key struct{}
	ctx := context.WithValue(context.Background(), key{}, "marker")
	tok := NewMemory()
	tok.Mint(alice, uint256.NewInt(10))

	var seen any
	tok.SetHook(func(ctx context.Context, from, to types.Account, amount *uint256.Int) {
		seen = ctx.Value(key{})
		// re-entering the token from the hook must not deadlock
		_, _ = tok.BalanceOf(ctx, from)
	})
	require.NoError(t, tok.Transfer(ctx, alice, bob, uint256.NewInt(1)))
	assert.Equal(t, "marker", seen)
}

func TestDelta(t *testing.T) {
	d, grew := Delta(uint256.NewInt(10), uint256.NewInt(4))
	assert.False(t, grew)
	assert.Equal(t, uint64(6), d.Uint64())

	d, grew = Delta(uint256.NewInt(4), uint256.NewInt(10))
	assert.True(t, grew)
	assert.Equal(t, uint64(6), d.Uint64())
}

func TestSendExactReturnsOnMismatch(t *testing.T) {
	ctx := context.Background()
	carol := types.MustParseAccount("0x4444444444444444444444444444444444444444")
	tok := NewMemory()
	tok.Mint(custody, uint256.NewInt(500))

	// a token that pulls an extra 10 out of the sender on every send to bob
	skim := true
	tok.SetHook(func(ctx context.Context, from, to types.Account, _ *uint256.Int) {
		if skim && from == custody && to == bob {
			skim = false
			require.NoError(t, tok.Transfer(ctx, custody, carol, uint256.NewInt(10)))
		}
	})

	err := SendExact(ctx, tok, custody, bob, uint256.NewInt(100))
	require.ErrorIs(t, err, types.ErrTransferMismatch)
	var mismatch *types.MismatchError
	require.True(t, errors.As(err, &mismatch))
	assert.Equal(t, uint64(110), mismatch.Actual.Uint64())

	held, _ := tok.BalanceOf(ctx, custody)
	assert.Equal(t, uint64(490), held.Uint64())
	got, _ := tok.BalanceOf(ctx, bob)
	assert.True(t, got.IsZero())
}

func TestExactReturnFailure(t *testing.T) {
	ctx := context.Background()
	tok := NewMemory()
	tok.Mint(alice, uint256.NewInt(1_000))
	tok.SetTransferFee(100)

	// the token stops moving funds right after the first transfer
	boom := errors.New("token frozen")
	tok.SetHook(func(context.Context, types.Account, types.Account, *uint256.Int) {
		tok.SetTransferError(boom)
	})

	err := ReceiveExact(ctx, tok, alice, custody, uint256.NewInt(1_000))
	assert.ErrorIs(t, err, types.ErrTransferMismatch)
	assert.ErrorIs(t, err, boom)
}

func TestMemoryBalances(t *testing.T) {
	ctx := context.Background()
	tok := NewMemory()
	tok.Mint(alice, uint256.NewInt(100))
	require.NoError(t, tok.Transfer(ctx, alice, bob, uint256.NewInt(100)))

	var snap Snapshotter = tok
	saved := snap.Balances()
	assert.Equal(t, map[types.Account]*uint256.Int{bob: uint256.NewInt(100)}, saved)

	saved[bob].SetUint64(1)
	b, _ := tok.BalanceOf(ctx, bob)
	assert.Equal(t, uint64(100), b.Uint64(), "exported balances are copies")

	other := NewMemory()
	other.Mint(alice, uint256.NewInt(7))
	other.SetBalances(tok.Balances())
	a, _ := other.BalanceOf(ctx, alice)
	assert.True(t, a.IsZero())
	b, _ = other.BalanceOf(ctx, bob)
	assert.Equal(t, uint64(100), b.Uint64())
}
