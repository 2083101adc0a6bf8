// Package priceguard validates a Chainlink-style stablecoin price feed before
// liquidity-sensitive operations.
package priceguard

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/Genius-Foundation/genius-contracts-sub003/internal/types"
)

// PriceDecimals is the fixed-point precision of feed answers and bounds.
const PriceDecimals = 8

// Round is one answer of the feed.
type Round struct {
	RoundID         *big.Int
	Answer          *big.Int
	StartedAt       uint64
	UpdatedAt       uint64
	AnsweredInRound *big.Int
}

// Oracle reads the latest round of a price feed.
type Oracle interface {
	LatestRound(ctx context.Context) (Round, error)
}

// Guard checks feed freshness and bounds. It stores no price.
type Guard struct {
	mu        sync.RWMutex
	oracle    Oracle
	heartbeat time.Duration
	lower     *big.Int
	upper     *big.Int
	now       func() time.Time
}

// New returns a guard for oracle. lower and upper are 8-decimal prices.
func New(oracle Oracle, heartbeat time.Duration, lower, upper *big.Int) (*Guard, error) {
	g := &Guard{oracle: oracle, now: time.Now}
	if err := g.SetHeartbeat(heartbeat); err != nil {
		return nil, err
	}
	if err := g.SetBounds(lower, upper); err != nil {
		return nil, err
	}
	return g, nil
}

// WithClock replaces the time source.
func (g *Guard) WithClock(now func() time.Time) *Guard {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.now = now
	return g
}

// SetBounds replaces the accepted price range [lower, upper].
func (g *Guard) SetBounds(lower, upper *big.Int) error {
	if lower == nil || upper == nil || lower.Sign() <= 0 || lower.Cmp(upper) > 0 {
		return fmt.Errorf("%w: bounds [%v, %v]", types.ErrInvalidPrice, lower, upper)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.lower = new(big.Int).Set(lower)
	g.upper = new(big.Int).Set(upper)
	return nil
}

// SetHeartbeat replaces the maximum age of an accepted round.
func (g *Guard) SetHeartbeat(heartbeat time.Duration) error {
	if heartbeat <= 0 {
		return fmt.Errorf("%w: heartbeat must be positive", types.ErrStalePrice)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.heartbeat = heartbeat
	return nil
}

// Bounds returns copies of the configured range.
func (g *Guard) Bounds() (*big.Int, *big.Int) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return new(big.Int).Set(g.lower), new(big.Int).Set(g.upper)
}

func (g *Guard) Heartbeat() time.Duration {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.heartbeat
}

// Verify reads the latest round and returns the accepted price.
func (g *Guard) Verify(ctx context.Context) (*big.Int, error) {
	g.mu.RLock()
	oracle, heartbeat, now := g.oracle, g.heartbeat, g.now
	lower, upper := g.lower, g.upper
	g.mu.RUnlock()

	if oracle == nil {
		return nil, fmt.Errorf("%w: no oracle configured", types.ErrPriceFeedUnavailable)
	}
	round, err := oracle.LatestRound(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrPriceFeedUnavailable, err)
	}

	updated := time.Unix(int64(round.UpdatedAt), 0)
	if round.UpdatedAt == 0 || now().Sub(updated) > heartbeat {
		return nil, fmt.Errorf("%w: updated at %d, heartbeat %s", types.ErrStalePrice, round.UpdatedAt, heartbeat)
	}
	if round.RoundID != nil && round.AnsweredInRound != nil && round.AnsweredInRound.Cmp(round.RoundID) < 0 {
		return nil, fmt.Errorf("%w: answered in round %s before round %s", types.ErrStalePrice, round.AnsweredInRound, round.RoundID)
	}
	if round.Answer == nil || round.Answer.Sign() <= 0 {
		return nil, fmt.Errorf("%w: %v", types.ErrInvalidPrice, round.Answer)
	}
	if round.Answer.Cmp(lower) < 0 || round.Answer.Cmp(upper) > 0 {
		return nil, fmt.Errorf("%w: %s outside [%s, %s]", types.ErrPriceOutOfBounds, round.Answer, lower, upper)
	}
	return new(big.Int).Set(round.Answer), nil
}
