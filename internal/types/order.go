package types

import (
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

// Digest identifies an order on every chain.
type Digest = common.Hash

// OrderStatus is the life-cycle position of an order on one chain.
type OrderStatus uint8

const (
	StatusNonexistent OrderStatus = iota
	StatusCreated
	StatusFilled
	StatusReverted
)

func (s OrderStatus) String() string {
	switch s {
	case StatusNonexistent:
		return "NONEXISTENT"
	case StatusCreated:
		return "CREATED"
	case StatusFilled:
		return "FILLED"
	case StatusReverted:
		return "REVERTED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(s))
	}
}

// IsTerminal reports whether no transition leaves s.
func (s OrderStatus) IsTerminal() bool {
	return s == StatusFilled || s == StatusReverted
}

// Seed discriminates structurally identical orders and can carry a call
// commitment in its high 16 bytes.
type Seed [32]byte

func (s Seed) Hex() string { return hexutil.Encode(s[:]) }

// MarshalText implements encoding.TextMarshaler.
func (s Seed) MarshalText() ([]byte, error) { return []byte(s.Hex()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Seed) UnmarshalText(text []byte) error {
	raw, err := hexutil.Decode(string(text))
	if err != nil {
		return fmt.Errorf("invalid seed: %w", err)
	}
	if len(raw) != len(s) {
		return fmt.Errorf("invalid seed length: %d", len(raw))
	}
	copy(s[:], raw)
	return nil
}

// Order is the cross-chain intent. Amounts are expressed in the stablecoin
// precision of the source chain.
type Order struct {
	Seed         Seed         `json:"seed"`
	Trader       Account      `json:"trader"`
	Receiver     Account      `json:"receiver"`
	TokenIn      Account      `json:"tokenIn"`
	TokenOut     Account      `json:"tokenOut"`
	AmountIn     *uint256.Int `json:"amountIn"`
	MinAmountOut *uint256.Int `json:"minAmountOut"`
	Fee          *uint256.Int `json:"fee"`
	SrcChainID   uint64       `json:"srcChainId"`
	DestChainID  uint64       `json:"destChainId"`
	FillDeadline uint64       `json:"fillDeadline"`
}

var (
	bytes32Type, _ = abi.NewType("bytes32", "", nil)
	uint256Type, _ = abi.NewType("uint256", "", nil)
	bytesType, _   = abi.NewType("bytes", "", nil)

	// orderArguments fixes the packing order of the digest:
	// seed, trader, receiver, tokenIn, tokenOut, amountIn, minAmountOut, fee,
	// srcChainId, destChainId, fillDeadline.
	orderArguments = abi.Arguments{
		{Type: bytes32Type}, {Type: bytes32Type}, {Type: bytes32Type}, {Type: bytes32Type}, {Type: bytes32Type},
		{Type: uint256Type}, {Type: uint256Type}, {Type: uint256Type},
		{Type: uint256Type}, {Type: uint256Type}, {Type: uint256Type},
	}

	callArguments = abi.Arguments{{Type: bytes32Type}, {Type: bytesType}}
)

// Digest returns keccak256 over the ABI encoding of every order field.
func (o *Order) Digest() Digest {
	packed, err := orderArguments.Pack(
		[32]byte(o.Seed),
		[32]byte(o.Trader),
		[32]byte(o.Receiver),
		[32]byte(o.TokenIn),
		[32]byte(o.TokenOut),
		bigOrZero(o.AmountIn),
		bigOrZero(o.MinAmountOut),
		bigOrZero(o.Fee),
		new(big.Int).SetUint64(o.SrcChainID),
		new(big.Int).SetUint64(o.DestChainID),
		new(big.Int).SetUint64(o.FillDeadline),
	)
	if err != nil {
		// Static types only; Pack cannot fail for well-typed values.
		panic(fmt.Sprintf("pack order: %v", err))
	}
	return crypto.Keccak256Hash(packed)
}

// Copy returns a deep copy so callers cannot mutate ledger-owned amounts.
func (o *Order) Copy() *Order {
	c := *o
	c.AmountIn = copyOrZero(o.AmountIn)
	c.MinAmountOut = copyOrZero(o.MinAmountOut)
	c.Fee = copyOrZero(o.Fee)
	return &c
}

// NetAmount returns AmountIn - Fee, or false if the fee exceeds the amount.
func (o *Order) NetAmount() (*uint256.Int, bool) {
	in, fee := copyOrZero(o.AmountIn), copyOrZero(o.Fee)
	if fee.Gt(in) {
		return nil, false
	}
	return new(uint256.Int).Sub(in, fee), true
}

// CallCommitment is the 16-byte prefix of keccak256(abi.encode(target, data)).
func CallCommitment(target Account, data []byte) [16]byte {
	packed, err := callArguments.Pack([32]byte(target), data)
	if err != nil {
		panic(fmt.Sprintf("pack call: %v", err))
	}
	var c [16]byte
	copy(c[:], crypto.Keccak256(packed)[:16])
	return c
}

// NewSeed returns a seed with a random salt in its low 16 bytes. When target
// is non-zero the high 16 bytes commit to the post-fill call (target, data).
func NewSeed(target Account, data []byte) (Seed, error) {
	var seed Seed
	if _, err := rand.Read(seed[16:]); err != nil {
		return seed, fmt.Errorf("failed to read seed salt: %w", err)
	}
	if target.IsZero() {
		if _, err := rand.Read(seed[:16]); err != nil {
			return seed, fmt.Errorf("failed to read seed salt: %w", err)
		}
		return seed, nil
	}
	c := CallCommitment(target, data)
	copy(seed[:16], c[:])
	return seed, nil
}

// SeedBinds reports whether seed commits to the call (target, data).
func SeedBinds(seed Seed, target Account, data []byte) bool {
	c := CallCommitment(target, data)
	return [16]byte(seed[:16]) == c
}

func bigOrZero(v *uint256.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v.ToBig()
}

func copyOrZero(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return v.Clone()
}
