package ledger

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Genius-Foundation/genius-contracts-sub003/internal/auth"
	"github.com/Genius-Foundation/genius-contracts-sub003/internal/events"
	"github.com/Genius-Foundation/genius-contracts-sub003/internal/token"
	"github.com/Genius-Foundation/genius-contracts-sub003/internal/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

const (
	srcChain uint64 = 1
	dstChain uint64 = 8453
)

var (
	admin      = types.MustParseAccount("0xad00000000000000000000000000000000000001")
	pauser     = types.MustParseAccount("0xad00000000000000000000000000000000000002")
	trader     = types.MustParseAccount("0x1111111111111111111111111111111111111111")
	receiver   = types.MustParseAccount("0x2222222222222222222222222222222222222222")
	lp         = types.MustParseAccount("0x3333333333333333333333333333333333333333")
	stranger   = types.MustParseAccount("0x4444444444444444444444444444444444444444")
	usdcSrc    = types.MustParseAccount("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")
	usdcDst    = types.MustParseAccount("0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913")
	srcCustody = types.MustParseAccount("0x00000000000000000000000000000000000C0001")
	dstCustody = types.MustParseAccount("0x00000000000000000000000000000000000C2105")
	bridgeAddr = types.MustParseAccount("0xb41d6e0000000000000000000000000000000001")

	start    = time.Unix(1_700_000_000, 0)
	deadline = uint64(start.Add(time.Hour).Unix())
)

func u(v uint64) *uint256.Int { return uint256.NewInt(v) }

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

type env struct {
	src, dst       *Ledger
	srcTok, dstTok *token.Memory
	srcRec, dstRec *events.Recorder
	clock          *clock
	orch           *auth.PrivateKeySigner
}

func quietLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

// newEnv wires a 6-decimal source ledger and a destination ledger with the
// given decimals, 4 USDC staked on the destination and a 10 bps trading fee
// on the source.
func newEnv(t *testing.T, dstDecimals uint8, opts ...Option) *env {
	t.Helper()
	ctx := context.Background()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	e := &env{
		srcTok: token.NewMemory(),
		dstTok: token.NewMemory(),
		srcRec: events.NewRecorder(),
		dstRec: events.NewRecorder(),
		clock:  &clock{t: start},
		orch:   auth.NewSigner(key),
	}
	e.srcTok.Mint(trader, u(100_000_000))
	e.dstTok.Mint(lp, new(uint256.Int).Mul(u(10_000_000), pow10(dstDecimals)))

	e.src, err = New(Config{
		ChainID: srcChain, Token: usdcSrc, Custody: srcCustody, Decimals: 6,
		Admin: admin, RebalanceThresholdBps: 5_000,
	}, e.srcTok, WithSink(e.srcRec), WithClock(e.clock.Now), WithLogger(quietLogger()))
	require.NoError(t, err)

	dstOpts := append([]Option{WithSink(e.dstRec), WithClock(e.clock.Now), WithLogger(quietLogger())}, opts...)
	e.dst, err = New(Config{
		ChainID: dstChain, Token: usdcDst, Custody: dstCustody, Decimals: dstDecimals,
		Admin: admin, RebalanceThresholdBps: 5_000,
	}, e.dstTok, dstOpts...)
	require.NoError(t, err)

	for _, l := range []*Ledger{e.src, e.dst} {
		require.NoError(t, l.GrantRole(ctx, admin, auth.RoleOrchestrator, e.orch.Account()))
		require.NoError(t, l.GrantRole(ctx, admin, auth.RolePauser, pauser))
	}
	require.NoError(t, e.src.SetTradingTiers(ctx, admin, []*uint256.Int{u(0)}, []uint64{10}))
	require.NoError(t, e.src.RegisterChainDecimals(ctx, admin, dstChain, dstDecimals))
	require.NoError(t, e.dst.RegisterChainDecimals(ctx, admin, srcChain, 6))

	stake := new(uint256.Int).Mul(u(4_000_000), pow10(dstDecimals))
	_, err = e.dst.StakeDeposit(ctx, lp, lp, stake)
	require.NoError(t, err)

	e.srcRec.Reset()
	e.dstRec.Reset()
	return e
}

func (e *env) newOrder(t *testing.T) *types.Order {
	t.Helper()
	seed, err := types.NewSeed(types.ZeroAccount, nil)
	require.NoError(t, err)
	return &types.Order{
		Seed:         seed,
		Trader:       trader,
		Receiver:     receiver,
		TokenIn:      usdcSrc,
		TokenOut:     usdcDst,
		AmountIn:     u(1_000_000),
		MinAmountOut: u(990_000),
		SrcChainID:   srcChain,
		DestChainID:  dstChain,
		FillDeadline: deadline,
	}
}

// create places order on the source ledger and returns the stored version.
func (e *env) create(t *testing.T, order *types.Order) (*types.Order, types.Digest) {
	t.Helper()
	created, digest, err := e.src.CreateOrder(context.Background(), trader, order)
	require.NoError(t, err)
	return created, digest
}

func (e *env) cancelSig(t *testing.T, digest types.Digest) []byte {
	t.Helper()
	sig, err := e.orch.SignCancel(srcChain, srcCustody, digest)
	require.NoError(t, err)
	return sig
}

func balanceOf(t *testing.T, tok token.Token, who types.Account) *uint256.Int {
	t.Helper()
	b, err := tok.BalanceOf(context.Background(), who)
	require.NoError(t, err)
	return b
}
