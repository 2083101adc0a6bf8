package ledger

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/Genius-Foundation/genius-contracts-sub003/internal/auth"
	"github.com/Genius-Foundation/genius-contracts-sub003/internal/events"
	"github.com/Genius-Foundation/genius-contracts-sub003/internal/telemetry"
	"github.com/Genius-Foundation/genius-contracts-sub003/internal/token"
	"github.com/Genius-Foundation/genius-contracts-sub003/internal/types"
	"github.com/holiman/uint256"
	"github.com/sirupsen/logrus"
)

// CreateOrder records a deposit on the source chain. The order's fee is
// replaced by the computed total fee; the returned order is the one whose
// digest the destination chain must reproduce.
func (l *Ledger) CreateOrder(ctx context.Context, caller types.Account, order *types.Order) (*types.Order, types.Digest, error) {
	var (
		created *types.Order
		digest  types.Digest
	)
	err := l.run(ctx, "create", caller, true, func(c *call) error {
		if order == nil {
			return fmt.Errorf("%w: nil order", types.ErrInvalidAmount)
		}
		o := order.Copy()
		if o.Trader.IsZero() {
			return fmt.Errorf("%w: trader", types.ErrZeroAddress)
		}
		if o.Receiver.IsZero() {
			return fmt.Errorf("%w: receiver", types.ErrZeroAddress)
		}
		if o.AmountIn.IsZero() {
			return fmt.Errorf("%w: zero amountIn", types.ErrInvalidAmount)
		}
		if o.SrcChainID != l.cfg.ChainID {
			return fmt.Errorf("%w: order source %d on chain %d", types.ErrInvalidSourceChain, o.SrcChainID, l.cfg.ChainID)
		}
		if o.DestChainID == l.cfg.ChainID {
			return fmt.Errorf("%w: destination %d is the local chain", types.ErrChainMismatch, o.DestChainID)
		}
		if o.TokenIn != l.cfg.Token {
			return fmt.Errorf("%w: tokenIn %s is not the stablecoin", types.ErrInvalidToken, o.TokenIn)
		}
		if now := uint64(l.now().Unix()); o.FillDeadline <= now {
			return fmt.Errorf("%w: deadline %d, now %d", types.ErrDeadlineInvalid, o.FillDeadline, now)
		}

		breakdown, err := l.fees.Compute(o.TokenIn, o.AmountIn, o.DestChainID)
		if err != nil {
			return err
		}
		if !breakdown.TotalFee.Lt(o.AmountIn) {
			return fmt.Errorf("%w: fee %s consumes amount %s", types.ErrInvalidAmount, breakdown.TotalFee.Dec(), o.AmountIn.Dec())
		}
		o.Fee = breakdown.TotalFee.Clone()

		d := o.Digest()
		if status := l.statuses[d]; status != types.StatusNonexistent {
			return &types.StatusError{Digest: d, Status: status, Want: types.StatusNonexistent}
		}

		if err := token.ReceiveExact(c.ctx, l.pool.Token(), c.caller, l.cfg.Custody, o.AmountIn); err != nil {
			return err
		}

		l.statuses[d] = types.StatusCreated
		protocolFee := new(uint256.Int).Add(breakdown.BaseFee, breakdown.BpsFee)
		l.pool.AccrueFees(breakdown.InsuranceFee, protocolFee)
		if !breakdown.InsuranceFee.IsZero() {
			l.insurance[d] = breakdown.InsuranceFee.Clone()
		}

		telemetry.OrderTransitionsTotal.WithLabelValues("create").Inc()
		telemetry.FeesAccruedTotal.WithLabelValues("base").Add(breakdown.BaseFee.Float64())
		telemetry.FeesAccruedTotal.WithLabelValues("bps").Add(breakdown.BpsFee.Float64())
		telemetry.FeesAccruedTotal.WithLabelValues("insurance").Add(breakdown.InsuranceFee.Float64())

		e := l.event(events.OrderCreated, c)
		e.Digest, e.Order, e.Account = d, o.Copy(), o.Trader
		e.Amount, e.Fee, e.DestChainID = o.AmountIn.Clone(), o.Fee.Clone(), o.DestChainID
		c.emit(e)

		l.log.WithFields(logrus.Fields{
			"digest": d.Hex(),
			"amount": types.FormatUnits(o.AmountIn, l.cfg.Decimals),
			"fee":    types.FormatUnits(o.Fee, l.cfg.Decimals),
			"dest":   o.DestChainID,
		}).Info("Order created")

		created, digest = o, d
		return nil
	})
	return created, digest, err
}

// FillResult describes a committed fill.
type FillResult struct {
	Digest         types.Digest
	Payout         *uint256.Int
	OutputToken    types.Account
	OutputAmount   *uint256.Int
	RouteSucceeded bool
}

// FillOrder pays out an order on its destination chain. It is the first
// write for the digest on this chain. Once disbursement has been attempted
// the order is Filled even if the swap or call failed; the receiver then
// gets the stablecoin and RouteSucceeded is false.
func (l *Ledger) FillOrder(ctx context.Context, caller types.Account, order *types.Order, route Route) (*FillResult, error) {
	var result *FillResult
	err := l.run(ctx, "fill", caller, true, func(c *call) error {
		if err := l.gate.Require(auth.RoleOrchestrator, c.caller); err != nil {
			return err
		}
		if order == nil {
			return fmt.Errorf("%w: nil order", types.ErrInvalidAmount)
		}
		o := order.Copy()
		if o.DestChainID != l.cfg.ChainID {
			return fmt.Errorf("%w: order destination %d on chain %d", types.ErrChainMismatch, o.DestChainID, l.cfg.ChainID)
		}
		if o.SrcChainID == l.cfg.ChainID {
			return fmt.Errorf("%w: source %d is the local chain", types.ErrInvalidSourceChain, o.SrcChainID)
		}
		if o.Trader.IsZero() {
			return fmt.Errorf("%w: trader", types.ErrZeroAddress)
		}
		if o.Receiver.IsZero() {
			return fmt.Errorf("%w: receiver", types.ErrZeroAddress)
		}
		if now := uint64(l.now().Unix()); now > o.FillDeadline {
			return fmt.Errorf("%w: deadline %d, now %d", types.ErrDeadlineExpired, o.FillDeadline, now)
		}

		d := o.Digest()
		if status := l.statuses[d]; status != types.StatusNonexistent {
			return &types.StatusError{Digest: d, Status: status, Want: types.StatusNonexistent}
		}

		net, ok := o.NetAmount()
		if !ok || net.IsZero() {
			return fmt.Errorf("%w: nothing to pay after fee", types.ErrInvalidAmount)
		}
		payout, err := l.normalize(net, o.SrcChainID)
		if err != nil {
			return err
		}
		if err := route.validate(o); err != nil {
			return err
		}
		if route.Kind != RouteDirect && l.executor == nil {
			return fmt.Errorf("%w: no executor for %s route", types.ErrTargetNotAllowed, route.Kind)
		}
		if err := l.VerifyPrice(c.ctx); err != nil {
			return err
		}
		if err := l.pool.RequireAvailable(c.ctx, payout); err != nil {
			return err
		}

		l.statuses[d] = types.StatusFilled
		res, err := l.disburse(c.ctx, d, o, route, payout)
		if err != nil {
			delete(l.statuses, d)
			return err
		}
		res.Digest, res.Payout = d, payout

		outcome := "success"
		if !res.RouteSucceeded {
			outcome = "fallback"
		}
		telemetry.OrderTransitionsTotal.WithLabelValues("fill").Inc()
		telemetry.RouteOutcomesTotal.WithLabelValues(route.Kind.String(), outcome).Inc()

		e := l.event(events.OrderFilled, c)
		e.Digest, e.Order, e.Account, e.Amount = d, o.Copy(), o.Receiver, payout.Clone()
		e.OutputToken, e.OutputAmount, e.RouteSucceeded = res.OutputToken, res.OutputAmount.Clone(), res.RouteSucceeded
		e.Detail = route.Kind.String()
		c.emit(e)

		l.log.WithFields(logrus.Fields{
			"digest":         d.Hex(),
			"payout":         types.FormatUnits(payout, l.cfg.Decimals),
			"route":          route.Kind.String(),
			"routeSucceeded": res.RouteSucceeded,
		}).Info("Order filled")

		result = res
		return nil
	})
	return result, err
}

// disburse pays payout to the receiver through route. For swap and call
// routes the executor's custody movement is verified; a failed route falls
// back to a direct stablecoin payment.
func (l *Ledger) disburse(ctx context.Context, d types.Digest, o *types.Order, route Route, payout *uint256.Int) (*FillResult, error) {
	direct := func() (*FillResult, error) {
		if err := token.SendExact(ctx, l.pool.Token(), l.cfg.Custody, o.Receiver, payout); err != nil {
			return nil, err
		}
		return &FillResult{OutputToken: l.cfg.Token, OutputAmount: payout.Clone()}, nil
	}

	if route.Kind == RouteDirect {
		res, err := direct()
		if err == nil {
			res.RouteSucceeded = true
		}
		return res, err
	}

	before, err := l.pool.Balance(ctx)
	if err != nil {
		return nil, err
	}
	res, execErr := l.executor.Execute(ctx, ExecRequest{
		Digest:       d,
		Kind:         route.Kind,
		Target:       route.Target,
		Data:         append([]byte(nil), route.Data...),
		Custody:      l.cfg.Custody,
		Token:        l.cfg.Token,
		Amount:       payout.Clone(),
		Receiver:     o.Receiver,
		TokenOut:     o.TokenOut,
		MinAmountOut: o.MinAmountOut.Clone(),
	})
	after, err := l.pool.Balance(ctx)
	if err != nil {
		return nil, err
	}
	moved, decreased := token.Delta(before, after)
	if moved.IsZero() {
		decreased = true
	}

	if execErr == nil && res.Success {
		if !decreased || !moved.Eq(payout) {
			return nil, &types.MismatchError{Expected: payout.Clone(), Actual: moved}
		}
		out := res.OutputAmount
		if out == nil {
			out = new(uint256.Int)
		}
		return &FillResult{OutputToken: res.OutputToken, OutputAmount: out, RouteSucceeded: true}, nil
	}

	if !moved.IsZero() {
		return nil, &types.MismatchError{Expected: new(uint256.Int), Actual: moved}
	}
	log := l.log.WithFields(logrus.Fields{"digest": d.Hex(), "route": route.Kind.String(), "target": route.Target.Hex()})
	if execErr != nil {
		log = log.WithError(execErr)
	}
	log.Warn("Route failed, paying stablecoin directly")
	return direct()
}

// RevertOrder refunds an expired, unfilled order on its source chain. Anyone
// may submit it with an orchestrator's signature over CancelDigest.
func (l *Ledger) RevertOrder(ctx context.Context, caller types.Account, order *types.Order, signature []byte) (*uint256.Int, error) {
	var refund *uint256.Int
	err := l.run(ctx, "revert", caller, true, func(c *call) error {
		if order == nil {
			return fmt.Errorf("%w: nil order", types.ErrInvalidAmount)
		}
		o := order.Copy()
		if o.SrcChainID != l.cfg.ChainID {
			return fmt.Errorf("%w: order source %d on chain %d", types.ErrInvalidSourceChain, o.SrcChainID, l.cfg.ChainID)
		}
		d := o.Digest()
		if status := l.statuses[d]; status != types.StatusCreated {
			return &types.StatusError{Digest: d, Status: status, Want: types.StatusCreated}
		}
		eligible := revertibleAt(o.FillDeadline, l.cfg.RevertGracePeriod)
		if now := uint64(l.now().Unix()); now < eligible {
			return fmt.Errorf("%w: revertible at %d, now %d", types.ErrDeadlineNotReached, eligible, now)
		}
		signer, err := l.gate.VerifyOrchestrator(l.CancelDigest(d), signature)
		if err != nil {
			return err
		}

		amount, err := l.revertRefund(o)
		if err != nil {
			return err
		}
		refundedFee := l.fees.Refund(o.Fee)
		fromInsurance, fromProtocol := l.splitRefundedFee(d, o.Fee, refundedFee)

		l.statuses[d] = types.StatusReverted
		releasedInsurance := l.pool.ReleaseInsurance(fromInsurance)
		releasedProtocol := l.pool.ReleaseFees(fromProtocol)
		if err := l.pool.Refund(c.ctx, o.Trader, amount); err != nil {
			l.statuses[d] = types.StatusCreated
			l.pool.AccrueFees(releasedInsurance, releasedProtocol)
			return err
		}
		delete(l.insurance, d)

		telemetry.OrderTransitionsTotal.WithLabelValues("revert").Inc()

		e := l.event(events.OrderReverted, c)
		e.Digest, e.Order, e.Account = d, o.Copy(), o.Trader
		e.Amount, e.Fee = amount.Clone(), new(uint256.Int).Sub(o.Fee, refundedFee)
		e.Detail = "approved by " + signer.Hex()
		c.emit(e)

		l.log.WithFields(logrus.Fields{
			"digest": d.Hex(),
			"refund": types.FormatUnits(amount, l.cfg.Decimals),
			"signer": signer.Hex(),
		}).Info("Order reverted")

		refund = amount
		return nil
	})
	return refund, err
}

// MarkFilled reconciles the source-chain copy of an order after the relayer
// observed its fill on the destination chain.
func (l *Ledger) MarkFilled(ctx context.Context, caller types.Account, order *types.Order) error {
	return l.run(ctx, "settle", caller, true, func(c *call) error {
		if err := l.gate.Require(auth.RoleOrchestrator, c.caller); err != nil {
			return err
		}
		if order == nil {
			return fmt.Errorf("%w: nil order", types.ErrInvalidAmount)
		}
		if order.SrcChainID != l.cfg.ChainID {
			return fmt.Errorf("%w: order source %d on chain %d", types.ErrInvalidSourceChain, order.SrcChainID, l.cfg.ChainID)
		}
		d := order.Digest()
		if status := l.statuses[d]; status != types.StatusCreated {
			return &types.StatusError{Digest: d, Status: status, Want: types.StatusCreated}
		}
		l.statuses[d] = types.StatusFilled
		delete(l.insurance, d)
		telemetry.OrderTransitionsTotal.WithLabelValues("settle").Inc()

		e := l.event(events.OrderSettled, c)
		e.Digest, e.Order = d, order.Copy()
		c.emit(e)

		l.log.WithField("digest", d.Hex()).Info("Order marked filled")
		return nil
	})
}

// splitRefundedFee divides the refunded part of an order's fee between its
// insurance and protocol parts in the proportion they were charged.
func (l *Ledger) splitRefundedFee(d types.Digest, fee, refunded *uint256.Int) (insurance, protocol *uint256.Int) {
	insurance = new(uint256.Int)
	if paid, ok := l.insurance[d]; ok && !fee.IsZero() {
		insurance.MulDivOverflow(refunded, paid, fee)
	}
	return insurance, new(uint256.Int).Sub(refunded, insurance)
}

// revertibleAt is the first second an order may be reverted, saturating at
// the largest timestamp.
func revertibleAt(deadline uint64, grace time.Duration) uint64 {
	if grace <= 0 {
		return deadline
	}
	secs := uint64(grace / time.Second)
	if deadline > math.MaxUint64-secs {
		return math.MaxUint64
	}
	return deadline + secs
}
