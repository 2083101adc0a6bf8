// Package liquidity tracks the staked stablecoin pool backing fills on one chain.
package liquidity

import (
	"context"
	"fmt"
	"sort"

	"github.com/Genius-Foundation/genius-contracts-sub003/internal/token"
	"github.com/Genius-Foundation/genius-contracts-sub003/internal/types"
	"github.com/holiman/uint256"
	"github.com/sirupsen/logrus"
)

// MaxThresholdBps is the largest rebalance threshold (100%).
const MaxThresholdBps = 10_000

var maxBps = uint256.NewInt(MaxThresholdBps)

// Account is the pool on one chain. The stablecoin balance is always read
// from the token; only stake, shares and unclaimed protocol fees are stored.
// Account is not safe for concurrent use; the ledger serializes access.
type Account struct {
	token   token.Token
	tokenID types.Account
	custody types.Account
	log     logrus.FieldLogger

	thresholdBps  uint64
	totalStaked   *uint256.Int
	totalShares   *uint256.Int
	protocolFees  *uint256.Int
	shares        map[types.Account]*uint256.Int
	bridgeTargets map[types.Account]bool
}

// New returns an empty pool holding tokenID in the custody account.
func New(tok token.Token, tokenID, custody types.Account, thresholdBps uint64, log logrus.FieldLogger) (*Account, error) {
	if tok == nil || tokenID.IsZero() {
		return nil, types.ErrInvalidToken
	}
	if custody.IsZero() {
		return nil, fmt.Errorf("%w: custody account", types.ErrZeroAddress)
	}
	if thresholdBps > MaxThresholdBps {
		return nil, fmt.Errorf("%w: %d bps", types.ErrInvalidThreshold, thresholdBps)
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Account{
		token:         tok,
		tokenID:       tokenID,
		custody:       custody,
		log:           log,
		thresholdBps:  thresholdBps,
		totalStaked:   new(uint256.Int),
		totalShares:   new(uint256.Int),
		protocolFees:  new(uint256.Int),
		shares:        make(map[types.Account]*uint256.Int),
		bridgeTargets: make(map[types.Account]bool),
	}, nil
}

func (a *Account) Token() token.Token     { return a.token }
func (a *Account) TokenID() types.Account { return a.tokenID }
func (a *Account) Custody() types.Account { return a.custody }

// Balance reads the custodied stablecoin balance.
func (a *Account) Balance(ctx context.Context) (*uint256.Int, error) {
	bal, err := a.token.BalanceOf(ctx, a.custody)
	if err != nil {
		return nil, fmt.Errorf("failed to read custody balance: %w", err)
	}
	return bal, nil
}

// MinLiquidity is the balance that must stay in custody: the staked assets
// not released by the rebalance threshold plus unclaimed protocol fees.
func (a *Account) MinLiquidity() *uint256.Int {
	reserve, _ := new(uint256.Int).MulDivOverflow(a.totalStaked, uint256.NewInt(MaxThresholdBps-a.thresholdBps), maxBps)
	floor, overflow := new(uint256.Int).AddOverflow(reserve, a.protocolFees)
	if overflow {
		return new(uint256.Int).SetAllOne()
	}
	return floor
}

// AvailableAssets returns max(0, balance - MinLiquidity()).
func (a *Account) AvailableAssets(ctx context.Context) (*uint256.Int, error) {
	bal, err := a.Balance(ctx)
	if err != nil {
		return nil, err
	}
	return available(bal, a.MinLiquidity()), nil
}

// RequireAvailable fails with a *types.LiquidityError when amount exceeds AvailableAssets.
func (a *Account) RequireAvailable(ctx context.Context, amount *uint256.Int) error {
	avail, err := a.AvailableAssets(ctx)
	if err != nil {
		return err
	}
	if amount.Gt(avail) {
		return &types.LiquidityError{Requested: amount.Clone(), Available: avail}
	}
	return nil
}

// SetThreshold replaces the rebalance threshold.
func (a *Account) SetThreshold(bps uint64) error {
	if bps > MaxThresholdBps {
		return fmt.Errorf("%w: %d bps", types.ErrInvalidThreshold, bps)
	}
	a.thresholdBps = bps
	return nil
}

// Deposit pulls amount from caller and mints shares to receiver. Shares are
// minted only after the transfer has been verified.
func (a *Account) Deposit(ctx context.Context, caller, receiver types.Account, amount *uint256.Int) (*uint256.Int, error) {
	if amount == nil || amount.IsZero() {
		return nil, fmt.Errorf("%w: zero stake", types.ErrInvalidAmount)
	}
	if receiver.IsZero() {
		return nil, fmt.Errorf("%w: receiver", types.ErrZeroAddress)
	}
	minted := a.previewDeposit(amount)
	if minted.IsZero() {
		return nil, fmt.Errorf("%w: stake of %s mints no shares", types.ErrInvalidAmount, amount.Dec())
	}

	if err := token.ReceiveExact(ctx, a.token, caller, a.custody, amount); err != nil {
		return nil, err
	}

	a.totalStaked.Add(a.totalStaked, amount)
	a.totalShares.Add(a.totalShares, minted)
	a.sharesOf(receiver).Add(a.sharesOf(receiver), minted)
	return minted, nil
}

// Withdraw burns owner's shares worth amount and pays receiver. Only the owner may withdraw.
func (a *Account) Withdraw(ctx context.Context, caller, receiver, owner types.Account, amount *uint256.Int) (*uint256.Int, error) {
	if amount == nil || amount.IsZero() {
		return nil, fmt.Errorf("%w: zero withdrawal", types.ErrInvalidAmount)
	}
	if receiver.IsZero() {
		return nil, fmt.Errorf("%w: receiver", types.ErrZeroAddress)
	}
	if caller != owner {
		return nil, fmt.Errorf("%w: %s cannot withdraw shares of %s", types.ErrMissingRole, caller, owner)
	}
	if amount.Gt(a.totalStaked) {
		return nil, fmt.Errorf("%w: withdrawal %s exceeds staked %s", types.ErrInsufficientShares, amount.Dec(), a.totalStaked.Dec())
	}
	burned := a.previewWithdraw(amount)
	held := a.sharesOf(owner)
	if burned.Gt(held) {
		return nil, fmt.Errorf("%w: %s holds %s, needs %s", types.ErrInsufficientShares, owner, held.Dec(), burned.Dec())
	}
	if err := a.RequireAvailable(ctx, amount); err != nil {
		return nil, err
	}

	held.Sub(held, burned)
	a.totalShares.Sub(a.totalShares, burned)
	a.totalStaked.Sub(a.totalStaked, amount)

	if err := token.SendExact(ctx, a.token, a.custody, receiver, amount); err != nil {
		held.Add(held, burned)
		a.totalShares.Add(a.totalShares, burned)
		a.totalStaked.Add(a.totalStaked, amount)
		return nil, err
	}
	return burned, nil
}

// AccrueFees adds the insurance fee to the staked assets and the remaining fee to protocol fees.
func (a *Account) AccrueFees(insurance, protocol *uint256.Int) {
	if insurance != nil {
		a.totalStaked.Add(a.totalStaked, insurance)
	}
	if protocol != nil {
		a.protocolFees.Add(a.protocolFees, protocol)
	}
}

// ReleaseFees removes up to amount from the unclaimed protocol fees and returns what was removed.
func (a *Account) ReleaseFees(amount *uint256.Int) *uint256.Int {
	released := amount.Clone()
	if released.Gt(a.protocolFees) {
		released.Set(a.protocolFees)
	}
	a.protocolFees.Sub(a.protocolFees, released)
	return released
}

// ReleaseInsurance removes up to amount of accrued insurance from the staked
// assets and returns what was removed.
func (a *Account) ReleaseInsurance(amount *uint256.Int) *uint256.Int {
	released := amount.Clone()
	if released.Gt(a.totalStaked) {
		released.Set(a.totalStaked)
	}
	a.totalStaked.Sub(a.totalStaked, released)
	return released
}

// CollectFees pays every unclaimed protocol fee to `to`.
func (a *Account) CollectFees(ctx context.Context, to types.Account) (*uint256.Int, error) {
	if to.IsZero() {
		return nil, fmt.Errorf("%w: fee recipient", types.ErrZeroAddress)
	}
	amount := a.protocolFees.Clone()
	if amount.IsZero() {
		return amount, nil
	}
	a.protocolFees.Clear()
	if err := token.SendExact(ctx, a.token, a.custody, to, amount); err != nil {
		a.protocolFees.Set(amount)
		return nil, err
	}
	return amount, nil
}

// Payout sends amount from custody to `to` after checking availability.
func (a *Account) Payout(ctx context.Context, to types.Account, amount *uint256.Int) error {
	if err := a.RequireAvailable(ctx, amount); err != nil {
		return err
	}
	return token.SendExact(ctx, a.token, a.custody, to, amount)
}

// Refund sends amount from custody to `to` without an availability check.
// Refunds return deposits that never left the pool.
func (a *Account) Refund(ctx context.Context, to types.Account, amount *uint256.Int) error {
	return token.SendExact(ctx, a.token, a.custody, to, amount)
}

func (a *Account) SharesOf(owner types.Account) *uint256.Int {
	if s, ok := a.shares[owner]; ok {
		return s.Clone()
	}
	return new(uint256.Int)
}

func (a *Account) TotalShares() *uint256.Int  { return a.totalShares.Clone() }
func (a *Account) TotalStaked() *uint256.Int  { return a.totalStaked.Clone() }
func (a *Account) ProtocolFees() *uint256.Int { return a.protocolFees.Clone() }
func (a *Account) ThresholdBps() uint64       { return a.thresholdBps }

// previewDeposit mints 1:1 into an empty pool, pro rata otherwise.
func (a *Account) previewDeposit(amount *uint256.Int) *uint256.Int {
	if a.totalShares.IsZero() || a.totalStaked.IsZero() {
		return amount.Clone()
	}
	shares, _ := new(uint256.Int).MulDivOverflow(amount, a.totalShares, a.totalStaked)
	return shares
}

// previewWithdraw rounds the burned shares up.
func (a *Account) previewWithdraw(amount *uint256.Int) *uint256.Int {
	if a.totalShares.IsZero() || a.totalStaked.IsZero() {
		return amount.Clone()
	}
	num, overflow := new(uint256.Int).MulOverflow(amount, a.totalShares)
	if overflow {
		shares, _ := new(uint256.Int).MulDivOverflow(amount, a.totalShares, a.totalStaked)
		return shares.AddUint64(shares, 1)
	}
	shares, rem := new(uint256.Int).DivMod(num, a.totalStaked, new(uint256.Int))
	if !rem.IsZero() {
		shares.AddUint64(shares, 1)
	}
	return shares
}

func (a *Account) sharesOf(owner types.Account) *uint256.Int {
	s, ok := a.shares[owner]
	if !ok {
		s = new(uint256.Int)
		a.shares[owner] = s
	}
	return s
}

func available(balance, floor *uint256.Int) *uint256.Int {
	if balance.Lt(floor) {
		return new(uint256.Int)
	}
	return new(uint256.Int).Sub(balance, floor)
}

// State is the persisted part of an Account.
type State struct {
	ThresholdBps  uint64
	TotalStaked   *uint256.Int
	TotalShares   *uint256.Int
	ProtocolFees  *uint256.Int
	Shares        map[types.Account]*uint256.Int
	BridgeTargets []types.Account
}

// Export returns a deep copy of the stored state.
func (a *Account) Export() State {
	s := State{
		ThresholdBps:  a.thresholdBps,
		TotalStaked:   a.totalStaked.Clone(),
		TotalShares:   a.totalShares.Clone(),
		ProtocolFees:  a.protocolFees.Clone(),
		Shares:        make(map[types.Account]*uint256.Int, len(a.shares)),
		BridgeTargets: a.BridgeTargets(),
	}
	for owner, shares := range a.shares {
		if !shares.IsZero() {
			s.Shares[owner] = shares.Clone()
		}
	}
	return s
}

// Import replaces the stored state.
func (a *Account) Import(s State) error {
	if s.ThresholdBps > MaxThresholdBps {
		return fmt.Errorf("%w: %d bps", types.ErrInvalidThreshold, s.ThresholdBps)
	}
	a.thresholdBps = s.ThresholdBps
	a.totalStaked = cloneOrZero(s.TotalStaked)
	a.totalShares = cloneOrZero(s.TotalShares)
	a.protocolFees = cloneOrZero(s.ProtocolFees)
	a.shares = make(map[types.Account]*uint256.Int, len(s.Shares))
	for owner, shares := range s.Shares {
		a.shares[owner] = cloneOrZero(shares)
	}
	a.bridgeTargets = make(map[types.Account]bool, len(s.BridgeTargets))
	for _, target := range s.BridgeTargets {
		a.bridgeTargets[target] = true
	}
	return nil
}

// BridgeTargets lists the allow-listed bridge targets in byte order.
func (a *Account) BridgeTargets() []types.Account {
	out := make([]types.Account, 0, len(a.bridgeTargets))
	for target := range a.bridgeTargets {
		out = append(out, target)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Hex() < out[j].Hex() })
	return out
}

func cloneOrZero(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return v.Clone()
}
