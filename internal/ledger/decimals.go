package ledger

import (
	"fmt"

	"github.com/Genius-Foundation/genius-contracts-sub003/internal/types"
	"github.com/holiman/uint256"
)

// maxDecimals keeps 10^decimals inside 256 bits.
const maxDecimals = 77

// Rescale converts amount from one decimal precision to another, rounding
// down. A nonzero amount that would become zero is rejected.
func Rescale(amount *uint256.Int, from, to uint8) (*uint256.Int, error) {
	if from > maxDecimals || to > maxDecimals {
		return nil, fmt.Errorf("%w: decimals %d -> %d", types.ErrInvalidAmount, from, to)
	}
	out := amount.Clone()
	switch {
	case to > from:
		scale := pow10(to - from)
		if _, overflow := out.MulOverflow(out, scale); overflow {
			return nil, fmt.Errorf("%w: %s overflows at %d decimals", types.ErrInvalidAmount, amount.Dec(), to)
		}
	case to < from:
		out.Div(out, pow10(from-to))
	}
	if out.IsZero() && !amount.IsZero() {
		return nil, fmt.Errorf("%w: %s truncates to zero at %d decimals", types.ErrInvalidAmount, amount.Dec(), to)
	}
	return out, nil
}

func pow10(n uint8) *uint256.Int {
	return new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(uint64(n)))
}

// normalize rescales a source-chain amount to the local stablecoin precision.
func (l *Ledger) normalize(amount *uint256.Int, srcChainID uint64) (*uint256.Int, error) {
	from, ok := l.decimals[srcChainID]
	if !ok {
		return nil, fmt.Errorf("%w: chain %d", types.ErrUnknownChain, srcChainID)
	}
	return Rescale(amount, from, l.cfg.Decimals)
}
