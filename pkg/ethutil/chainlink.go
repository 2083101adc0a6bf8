package ethutil

import (
	"context"
	"fmt"
	"math/big"

	"github.com/Genius-Foundation/genius-contracts-sub003/internal/priceguard"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
)

// AggregatorV3ABI covers the reads of a Chainlink AggregatorV3Interface feed.
const AggregatorV3ABI = `[
	{"inputs":[],"name":"decimals","outputs":[{"name":"","type":"uint8"}],"stateMutability":"view","type":"function"},
	{"inputs":[],"name":"latestRoundData","outputs":[
		{"name":"roundId","type":"uint80"},
		{"name":"answer","type":"int256"},
		{"name":"startedAt","type":"uint256"},
		{"name":"updatedAt","type":"uint256"},
		{"name":"answeredInRound","type":"uint80"}
	],"stateMutability":"view","type":"function"}
]`

var aggregatorABI = mustParseABI(AggregatorV3ABI)

// ChainlinkFeed reads a Chainlink aggregator and reports answers with
// priceguard.PriceDecimals decimals.
type ChainlinkFeed struct {
	client   ethereum.ContractCaller
	address  common.Address
	decimals uint8
}

var _ priceguard.Oracle = (*ChainlinkFeed)(nil)

// NewChainlinkFeed reads the feed's decimals once and returns the reader.
func NewChainlinkFeed(ctx context.Context, client ethereum.ContractCaller, address common.Address) (*ChainlinkFeed, error) {
	out, err := call(ctx, client, aggregatorABI, address, "decimals")
	if err != nil {
		return nil, err
	}
	decimals, ok := out[0].(uint8)
	if !ok {
		return nil, fmt.Errorf("unexpected decimals result %T", out[0])
	}
	return &ChainlinkFeed{client: client, address: address, decimals: decimals}, nil
}

func (f *ChainlinkFeed) Address() common.Address { return f.address }

// LatestRound implements priceguard.Oracle.
func (f *ChainlinkFeed) LatestRound(ctx context.Context) (priceguard.Round, error) {
	out, err := call(ctx, f.client, aggregatorABI, f.address, "latestRoundData")
	if err != nil {
		return priceguard.Round{}, err
	}
	if len(out) != 5 {
		return priceguard.Round{}, fmt.Errorf("latestRoundData returned %d values", len(out))
	}
	ints := make([]*big.Int, len(out))
	for i, v := range out {
		n, ok := v.(*big.Int)
		if !ok {
			return priceguard.Round{}, fmt.Errorf("unexpected latestRoundData value %d: %T", i, v)
		}
		ints[i] = n
	}
	if !ints[2].IsUint64() || !ints[3].IsUint64() {
		return priceguard.Round{}, fmt.Errorf("round timestamps out of range")
	}
	return priceguard.Round{
		RoundID:         ints[0],
		Answer:          rescalePrice(ints[1], f.decimals),
		StartedAt:       ints[2].Uint64(),
		UpdatedAt:       ints[3].Uint64(),
		AnsweredInRound: ints[4],
	}, nil
}

// rescalePrice converts a feed answer to priceguard.PriceDecimals, rounding down.
func rescalePrice(answer *big.Int, decimals uint8) *big.Int {
	out := new(big.Int).Set(answer)
	switch {
	case decimals > priceguard.PriceDecimals:
		return out.Quo(out, new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals-priceguard.PriceDecimals)), nil))
	case decimals < priceguard.PriceDecimals:
		return out.Mul(out, new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(priceguard.PriceDecimals-decimals)), nil))
	}
	return out
}
