package types

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/NethermindEth/juno/core/felt"
	"github.com/NethermindEth/starknet.go/utils"
	"github.com/ethereum/go-ethereum/common"
)

// Account is a chain-neutral 32-byte identifier used for traders, receivers,
// tokens and call targets. EVM addresses are left-padded with 12 zero bytes,
// Starknet felts are stored big-endian.
type Account [32]byte

// ZeroAccount is the empty identifier.
var ZeroAccount Account

// maxFeltHighByte bounds the first byte of an Account that still fits the
// Starknet field (p = 2^251 + 17*2^192 + 1).
const maxFeltHighByte = 0x08

// AccountFromEVM left-pads an EVM address to 32 bytes.
func AccountFromEVM(addr common.Address) Account {
	var a Account
	copy(a[12:], addr.Bytes())
	return a
}

// AccountFromFelt converts a Starknet felt to an Account.
func AccountFromFelt(f *felt.Felt) Account {
	var a Account
	if f == nil {
		return a
	}
	utils.FeltToBigInt(f).FillBytes(a[:])
	return a
}

// ParseAccount converts a string address to an Account. It accepts 40-hex EVM
// addresses, 64-hex bytes32 values and shorter Starknet felts.
func ParseAccount(address string) (Account, error) {
	cleanAddr := strings.TrimPrefix(strings.TrimSpace(address), "0x")

	switch {
	case cleanAddr == "":
		return Account{}, fmt.Errorf("empty address")

	case len(cleanAddr) == 40:
		if !common.IsHexAddress(cleanAddr) {
			return Account{}, fmt.Errorf("invalid EVM address: %s", address)
		}
		return AccountFromEVM(common.HexToAddress(cleanAddr)), nil

	case len(cleanAddr) == 64:
		raw, err := hex.DecodeString(cleanAddr)
		if err != nil {
			return Account{}, fmt.Errorf("failed to decode bytes32 address: %w", err)
		}
		var a Account
		copy(a[:], raw)
		return a, nil

	case len(cleanAddr) < 64:
		f, err := utils.HexToFelt("0x" + cleanAddr)
		if err != nil {
			return Account{}, fmt.Errorf("failed to convert address to felt: %w", err)
		}
		return AccountFromFelt(f), nil
	}

	return Account{}, fmt.Errorf("unsupported address format: %s", address)
}

// MustParseAccount is ParseAccount for constants and tests.
func MustParseAccount(address string) Account {
	a, err := ParseAccount(address)
	if err != nil {
		panic(err)
	}
	return a
}

// IsZero reports whether the account is the zero identifier.
func (a Account) IsZero() bool { return a == ZeroAccount }

// IsEVM reports whether the account is a left-padded EVM address.
func (a Account) IsEVM() bool {
	for _, b := range a[:12] {
		if b != 0 {
			return false
		}
	}
	return true
}

// EVM returns the EVM address held in the low 20 bytes.
func (a Account) EVM() (common.Address, error) {
	if !a.IsEVM() {
		return common.Address{}, fmt.Errorf("account %s is not an EVM address", a.Hex())
	}
	return common.BytesToAddress(a[12:]), nil
}

// Felt returns the account as a Starknet felt.
func (a Account) Felt() (*felt.Felt, error) {
	if a[0] > maxFeltHighByte {
		return nil, fmt.Errorf("account %s exceeds the Starknet field", a.Hex())
	}
	return utils.BigIntToFelt(new(big.Int).SetBytes(a[:])), nil
}

// Hex returns the 0x-prefixed 64 character encoding.
func (a Account) Hex() string { return "0x" + hex.EncodeToString(a[:]) }

func (a Account) String() string { return a.Hex() }

// MarshalText implements encoding.TextMarshaler.
func (a Account) MarshalText() ([]byte, error) { return []byte(a.Hex()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Account) UnmarshalText(text []byte) error {
	parsed, err := ParseAccount(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
