// Package fees computes the fee breakdown of an order from tiered tables.
package fees

import (
	"bytes"
	"fmt"
	"sort"
	"sync"

	"github.com/Genius-Foundation/genius-contracts-sub003/internal/types"
	"github.com/holiman/uint256"
)

// MaxBps is 100% in basis points.
const MaxBps = 10_000

var maxBps = uint256.NewInt(MaxBps)

// Tier selects Bps for amounts at or above Threshold.
type Tier struct {
	Threshold *uint256.Int `json:"threshold"`
	Bps       uint64       `json:"bps"`
}

// Breakdown is the result of Engine.Compute.
type Breakdown struct {
	BaseFee      *uint256.Int `json:"baseFee"`
	BpsFee       *uint256.Int `json:"bpsFee"`
	InsuranceFee *uint256.Int `json:"insuranceFee"`
	TotalFee     *uint256.Int `json:"totalFee"`
}

type baseFeeKey struct {
	token types.Account
	chain uint64
}

// Engine holds fee configuration. It is safe for concurrent use.
type Engine struct {
	mu        sync.RWMutex
	trading   []Tier
	insurance []Tier
	baseFees  map[baseFeeKey]*uint256.Int
	refundBps uint64
}

// NewEngine returns an engine with empty tier tables, no base fees and no revert refund.
func NewEngine() *Engine {
	return &Engine{baseFees: make(map[baseFeeKey]*uint256.Int)}
}

// ValidateTiers checks that thresholds are strictly ascending and every bps is at most MaxBps.
func ValidateTiers(tiers []Tier) error {
	for i, tier := range tiers {
		if tier.Threshold == nil {
			return fmt.Errorf("%w: tier %d has no threshold", types.ErrInvalidFeeTier, i)
		}
		if tier.Bps > MaxBps {
			return fmt.Errorf("%w: tier %d bps %d exceeds %d", types.ErrInvalidFeeTier, i, tier.Bps, MaxBps)
		}
		if i > 0 && !tier.Threshold.Gt(tiers[i-1].Threshold) {
			return fmt.Errorf("%w: tier %d threshold %s is not above %s",
				types.ErrInvalidFeeTier, i, tier.Threshold.Dec(), tiers[i-1].Threshold.Dec())
		}
	}
	return nil
}

// BuildTiers pairs thresholds with bps values.
func BuildTiers(thresholds []*uint256.Int, bps []uint64) ([]Tier, error) {
	if len(thresholds) != len(bps) {
		return nil, fmt.Errorf("%w: %d thresholds for %d rates", types.ErrInvalidFeeTier, len(thresholds), len(bps))
	}
	tiers := make([]Tier, len(thresholds))
	for i := range thresholds {
		tiers[i] = Tier{Threshold: thresholds[i], Bps: bps[i]}
	}
	return tiers, nil
}

// SetTradingTiers replaces the trading fee table. On error the old table stays.
func (e *Engine) SetTradingTiers(tiers []Tier) error {
	if err := ValidateTiers(tiers); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.trading = cloneTiers(tiers)
	return nil
}

// SetInsuranceTiers replaces the insurance fee table. On error the old table stays.
func (e *Engine) SetInsuranceTiers(tiers []Tier) error {
	if err := ValidateTiers(tiers); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.insurance = cloneTiers(tiers)
	return nil
}

// SetBaseFee sets the flat fee charged for orders of token to destChainID.
func (e *Engine) SetBaseFee(token types.Account, destChainID uint64, fee *uint256.Int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if fee == nil || fee.IsZero() {
		delete(e.baseFees, baseFeeKey{token, destChainID})
		return
	}
	e.baseFees[baseFeeKey{token, destChainID}] = fee.Clone()
}

// SetRefundBps sets the share of the collected fee returned on revert.
func (e *Engine) SetRefundBps(bps uint64) error {
	if bps > MaxBps {
		return fmt.Errorf("%w: refund bps %d exceeds %d", types.ErrInvalidFeeTier, bps, MaxBps)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.refundBps = bps
	return nil
}

// Compute returns the fee breakdown for amount of token sent to destChainID.
func (e *Engine) Compute(token types.Account, amount *uint256.Int, destChainID uint64) (Breakdown, error) {
	if amount == nil || amount.IsZero() {
		return Breakdown{}, fmt.Errorf("%w: zero amount", types.ErrInvalidAmount)
	}
	e.mu.RLock()
	defer e.mu.RUnlock()

	b := Breakdown{
		BaseFee:      new(uint256.Int),
		BpsFee:       applyBps(amount, TierBps(e.trading, amount)),
		InsuranceFee: applyBps(amount, TierBps(e.insurance, amount)),
	}
	if fee, ok := e.baseFees[baseFeeKey{token, destChainID}]; ok {
		b.BaseFee.Set(fee)
	}
	total, overflow := new(uint256.Int).AddOverflow(b.BaseFee, b.BpsFee)
	if !overflow {
		total, overflow = total.AddOverflow(total, b.InsuranceFee)
	}
	if overflow {
		return Breakdown{}, fmt.Errorf("%w: fee overflows", types.ErrInvalidAmount)
	}
	b.TotalFee = total
	return b, nil
}

// Refund returns the part of fee returned to the trader on revert.
func (e *Engine) Refund(fee *uint256.Int) *uint256.Int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if fee == nil {
		return new(uint256.Int)
	}
	return applyBps(fee, e.refundBps)
}

// TierBps walks tiers in ascending order and returns the bps of the highest
// tier whose threshold is at most amount. tiers[0] is the floor.
func TierBps(tiers []Tier, amount *uint256.Int) uint64 {
	if len(tiers) == 0 {
		return 0
	}
	bps := tiers[0].Bps
	for _, tier := range tiers[1:] {
		if amount.Lt(tier.Threshold) {
			break
		}
		bps = tier.Bps
	}
	return bps
}

func (e *Engine) TradingTiers() []Tier {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return cloneTiers(e.trading)
}

func (e *Engine) InsuranceTiers() []Tier {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return cloneTiers(e.insurance)
}

func (e *Engine) RefundBps() uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.refundBps
}

// BaseFee returns the configured flat fee, zero when unset.
func (e *Engine) BaseFee(token types.Account, destChainID uint64) *uint256.Int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if fee, ok := e.baseFees[baseFeeKey{token, destChainID}]; ok {
		return fee.Clone()
	}
	return new(uint256.Int)
}

// BaseFeeEntry is one configured flat fee.
type BaseFeeEntry struct {
	Token       types.Account `json:"token"`
	DestChainID uint64        `json:"destChainId"`
	Fee         *uint256.Int  `json:"fee"`
}

// BaseFees lists every configured flat fee ordered by token, then destination.
func (e *Engine) BaseFees() []BaseFeeEntry {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]BaseFeeEntry, 0, len(e.baseFees))
	for k, fee := range e.baseFees {
		out = append(out, BaseFeeEntry{Token: k.token, DestChainID: k.chain, Fee: fee.Clone()})
	}
	sort.Slice(out, func(i, j int) bool {
		if c := bytes.Compare(out[i].Token[:], out[j].Token[:]); c != 0 {
			return c < 0
		}
		return out[i].DestChainID < out[j].DestChainID
	})
	return out
}

// applyBps returns amount*bps/10000 rounded down. bps <= MaxBps so it cannot overflow.
func applyBps(amount *uint256.Int, bps uint64) *uint256.Int {
	if bps == 0 {
		return new(uint256.Int)
	}
	z, _ := new(uint256.Int).MulDivOverflow(amount, uint256.NewInt(bps), maxBps)
	return z
}

func cloneTiers(tiers []Tier) []Tier {
	out := make([]Tier, len(tiers))
	for i, t := range tiers {
		out[i] = Tier{Threshold: t.Threshold.Clone(), Bps: t.Bps}
	}
	return out
}
