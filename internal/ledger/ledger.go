// Package ledger implements the per-chain order ledger: order life cycle,
// staked liquidity, fees and administration, serialized per instance.
package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Genius-Foundation/genius-contracts-sub003/internal/auth"
	"github.com/Genius-Foundation/genius-contracts-sub003/internal/events"
	"github.com/Genius-Foundation/genius-contracts-sub003/internal/fees"
	"github.com/Genius-Foundation/genius-contracts-sub003/internal/liquidity"
	"github.com/Genius-Foundation/genius-contracts-sub003/internal/priceguard"
	"github.com/Genius-Foundation/genius-contracts-sub003/internal/telemetry"
	"github.com/Genius-Foundation/genius-contracts-sub003/internal/token"
	"github.com/Genius-Foundation/genius-contracts-sub003/internal/types"
	"github.com/holiman/uint256"
	"github.com/sirupsen/logrus"
)

// Config fixes the identity of a ledger deployment.
type Config struct {
	ChainID uint64
	// Token is the stablecoin identifier on this chain.
	Token types.Account
	// Custody is the ledger's own account on Token. It also domain-separates
	// revert approvals between deployments.
	Custody               types.Account
	Decimals              uint8
	Admin                 types.Account
	RebalanceThresholdBps uint64
	RevertGracePeriod     time.Duration
}

// Option customizes a Ledger.
type Option func(*Ledger)

func WithLogger(log logrus.FieldLogger) Option { return func(l *Ledger) { l.log = log } }

// WithSink sets where committed events are published.
func WithSink(sink events.Sink) Option { return func(l *Ledger) { l.sink = sink } }

// WithClock sets the block time source.
func WithClock(now func() time.Time) Option { return func(l *Ledger) { l.now = now } }

// WithPriceGuard makes fills and bridge moves verify the stablecoin price first.
func WithPriceGuard(g *priceguard.Guard) Option { return func(l *Ledger) { l.guard = g } }

// WithExecutor sets the swap/call collaborator used by non-direct fills.
func WithExecutor(e Executor) Option { return func(l *Ledger) { l.executor = e } }

// WithBridge sets the collaborator that forwards removed liquidity.
func WithBridge(b liquidity.Bridge) Option { return func(l *Ledger) { l.bridge = b } }

// Ledger is the order ledger of one chain. Every entry point runs under a
// single lock, so calls are applied one at a time and either commit fully or
// leave state untouched.
type Ledger struct {
	mu  sync.Mutex
	cfg Config

	log      logrus.FieldLogger
	sink     events.Sink
	now      func() time.Time
	guard    *priceguard.Guard
	executor Executor
	bridge   liquidity.Bridge

	fees     *fees.Engine
	pool     *liquidity.Account
	gate     *auth.Gate
	statuses map[types.Digest]types.OrderStatus
	decimals map[uint64]uint8
	// insurance holds the insurance part of the fee of each Created order
	// that paid one, so a revert takes it back out of the stake.
	insurance map[types.Digest]*uint256.Int
}

// New returns a ledger custodying cfg.Token in cfg.Custody on tok.
func New(cfg Config, tok token.Token, opts ...Option) (*Ledger, error) {
	if cfg.ChainID == 0 {
		return nil, fmt.Errorf("%w: chain id is required", types.ErrChainMismatch)
	}
	if cfg.RevertGracePeriod < 0 {
		return nil, fmt.Errorf("%w: negative grace period", types.ErrDeadlineInvalid)
	}
	gate, err := auth.NewGate(cfg.Admin)
	if err != nil {
		return nil, err
	}
	l := &Ledger{
		cfg:       cfg,
		sink:      events.Discard{},
		now:       time.Now,
		fees:      fees.NewEngine(),
		gate:      gate,
		statuses:  make(map[types.Digest]types.OrderStatus),
		decimals:  map[uint64]uint8{cfg.ChainID: cfg.Decimals},
		insurance: make(map[types.Digest]*uint256.Int),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.log == nil {
		l.log = logrus.StandardLogger()
	}
	l.log = l.log.WithField("chain", cfg.ChainID)
	if l.pool, err = liquidity.New(tok, cfg.Token, cfg.Custody, cfg.RebalanceThresholdBps, l.log); err != nil {
		return nil, err
	}
	return l, nil
}

type inCallKey struct{}

// call collects the events of one entry point until it commits.
type call struct {
	ctx    context.Context
	caller types.Account
	events []events.Event
}

func (c *call) emit(e events.Event) { c.events = append(c.events, e) }

func (l *Ledger) inCall(ctx context.Context) bool {
	owner, _ := ctx.Value(inCallKey{}).(*Ledger)
	return owner == l
}

// run executes fn as one transaction. Collaborators invoked by fn receive a
// context that makes any nested entry point on this ledger fail. A
// collaborator that calls back with some other context waits for the lock
// like any concurrent caller, so it must pass on the context it was given.
func (l *Ledger) run(ctx context.Context, action string, caller types.Account, pausable bool, fn func(c *call) error) error {
	if l.inCall(ctx) {
		return l.reject(action, fmt.Errorf("%w: %s", types.ErrReentrantCall, action))
	}

	l.mu.Lock()
	c := &call{ctx: context.WithValue(ctx, inCallKey{}, l), caller: caller}
	var err error
	if pausable {
		err = l.gate.RequireNotPaused()
	}
	if err == nil {
		err = fn(c)
	}
	if err == nil {
		l.observe(c.ctx)
	}
	l.mu.Unlock()

	if err != nil {
		return l.reject(action, err)
	}
	l.publish(ctx, c.events)
	return nil
}

func (l *Ledger) reject(action string, err error) error {
	telemetry.RejectionsTotal.WithLabelValues(action, string(types.Classify(err))).Inc()
	l.log.WithError(err).WithField("action", action).Debug("Call rejected")
	return err
}

func (l *Ledger) publish(ctx context.Context, batch []events.Event) {
	if len(batch) == 0 {
		return
	}
	if err := l.sink.Publish(ctx, batch); err != nil {
		telemetry.EventPublishFailuresTotal.Inc()
		l.log.WithError(err).WithField("events", len(batch)).Warn("Failed to publish ledger events")
	}
}

func (l *Ledger) observe(ctx context.Context) {
	if avail, err := l.pool.AvailableAssets(ctx); err == nil {
		telemetry.AvailableAssets.Set(avail.Float64())
	}
	telemetry.TotalStakedAssets.Set(l.pool.TotalStaked().Float64())
}

// read runs a query. Queries from inside an entry point (for example from a
// token hook) reuse the held lock.
func (l *Ledger) read(ctx context.Context, fn func(ctx context.Context) error) error {
	if !l.inCall(ctx) {
		l.mu.Lock()
		defer l.mu.Unlock()
	}
	return fn(ctx)
}

func (l *Ledger) event(t events.Type, c *call) events.Event {
	return events.Event{Type: t, ChainID: l.cfg.ChainID, Timestamp: uint64(l.now().Unix()), Actor: c.caller}
}

func (l *Ledger) ChainID() uint64 { return l.cfg.ChainID }

func (l *Ledger) Config(ctx context.Context) Config {
	var cfg Config
	_ = l.read(ctx, func(context.Context) error {
		cfg = l.cfg
		return nil
	})
	return cfg
}

// OrderDigest returns the cross-chain identifier of order.
func (l *Ledger) OrderDigest(order *types.Order) types.Digest { return order.Digest() }

// CancelDigest returns the payload an orchestrator signs to approve reverting order.
func (l *Ledger) CancelDigest(order types.Digest) types.Digest {
	return auth.CancelDigest(l.cfg.ChainID, l.cfg.Custody, order)
}

// OrderStatus returns the status recorded for digest on this chain.
func (l *Ledger) OrderStatus(ctx context.Context, digest types.Digest) types.OrderStatus {
	var status types.OrderStatus
	_ = l.read(ctx, func(context.Context) error {
		status = l.statuses[digest]
		return nil
	})
	return status
}

// ComputeFees returns the fee breakdown for an order of amount to destChainID.
func (l *Ledger) ComputeFees(ctx context.Context, amount *uint256.Int, destChainID uint64) (fees.Breakdown, error) {
	var b fees.Breakdown
	err := l.read(ctx, func(context.Context) error {
		var err error
		b, err = l.fees.Compute(l.cfg.Token, amount, destChainID)
		return err
	})
	return b, err
}

// AvailableAssets returns the liquidity usable for fills and bridge moves.
func (l *Ledger) AvailableAssets(ctx context.Context) (*uint256.Int, error) {
	var avail *uint256.Int
	err := l.read(ctx, func(ctx context.Context) error {
		var err error
		avail, err = l.pool.AvailableAssets(ctx)
		return err
	})
	return avail, err
}

func (l *Ledger) MinLiquidity(ctx context.Context) *uint256.Int {
	var floor *uint256.Int
	_ = l.read(ctx, func(context.Context) error {
		floor = l.pool.MinLiquidity()
		return nil
	})
	return floor
}

// Balance returns the custodied stablecoin balance.
func (l *Ledger) Balance(ctx context.Context) (*uint256.Int, error) {
	var bal *uint256.Int
	err := l.read(ctx, func(ctx context.Context) error {
		var err error
		bal, err = l.pool.Balance(ctx)
		return err
	})
	return bal, err
}

// Stake summarizes the staking pool.
type Stake struct {
	TotalStaked  *uint256.Int
	TotalShares  *uint256.Int
	ProtocolFees *uint256.Int
	ThresholdBps uint64
}

func (l *Ledger) Stake(ctx context.Context) Stake {
	var s Stake
	_ = l.read(ctx, func(context.Context) error {
		s = Stake{
			TotalStaked:  l.pool.TotalStaked(),
			TotalShares:  l.pool.TotalShares(),
			ProtocolFees: l.pool.ProtocolFees(),
			ThresholdBps: l.pool.ThresholdBps(),
		}
		return nil
	})
	return s
}

func (l *Ledger) SharesOf(ctx context.Context, owner types.Account) *uint256.Int {
	var shares *uint256.Int
	_ = l.read(ctx, func(context.Context) error {
		shares = l.pool.SharesOf(owner)
		return nil
	})
	return shares
}

// PreviewRevertRefund returns what RevertOrder would pay the trader of order.
func (l *Ledger) PreviewRevertRefund(ctx context.Context, order *types.Order) (*uint256.Int, error) {
	var refund *uint256.Int
	err := l.read(ctx, func(context.Context) error {
		var err error
		refund, err = l.revertRefund(order)
		return err
	})
	return refund, err
}

func (l *Ledger) HasRole(ctx context.Context, role auth.Role, account types.Account) bool {
	var ok bool
	_ = l.read(ctx, func(context.Context) error {
		ok = l.gate.HasRole(role, account)
		return nil
	})
	return ok
}

func (l *Ledger) Paused(ctx context.Context) bool {
	var paused bool
	_ = l.read(ctx, func(context.Context) error {
		paused = l.gate.Paused()
		return nil
	})
	return paused
}

// ChainDecimals returns the registered stablecoin precision of chainID.
func (l *Ledger) ChainDecimals(ctx context.Context, chainID uint64) (uint8, bool) {
	var (
		d  uint8
		ok bool
	)
	_ = l.read(ctx, func(context.Context) error {
		d, ok = l.decimals[chainID]
		return nil
	})
	return d, ok
}

// VerifyPrice runs the configured price guard. Without a guard it succeeds.
func (l *Ledger) VerifyPrice(ctx context.Context) error {
	if l.guard == nil {
		return nil
	}
	_, err := l.guard.Verify(ctx)
	result := "ok"
	if err != nil {
		result = string(types.Classify(err))
	}
	telemetry.PriceChecksTotal.WithLabelValues(result).Inc()
	return err
}

func (l *Ledger) revertRefund(order *types.Order) (*uint256.Int, error) {
	if order == nil {
		return nil, fmt.Errorf("%w: nil order", types.ErrInvalidAmount)
	}
	net, ok := order.NetAmount()
	if !ok {
		return nil, fmt.Errorf("%w: fee exceeds amount", types.ErrInvalidAmount)
	}
	return net.Add(net, l.fees.Refund(order.Fee)), nil
}
