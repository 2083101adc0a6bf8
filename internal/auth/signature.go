package auth

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/Genius-Foundation/genius-contracts-sub003/internal/types"
	"github.com/Genius-Foundation/genius-contracts-sub003/pkg/ethutil"
	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// CancelTypeHash domain-separates revert approvals from other signed payloads.
var CancelTypeHash = crypto.Keccak256Hash([]byte("SETTLEMENT_ORDER_CANCEL_V1"))

var cancelArguments = func() abi.Arguments {
	bytes32Type, _ := abi.NewType("bytes32", "", nil)
	uint256Type, _ := abi.NewType("uint256", "", nil)
	return abi.Arguments{{Type: bytes32Type}, {Type: uint256Type}, {Type: bytes32Type}, {Type: bytes32Type}}
}()

// CancelDigest binds a revert approval to one order on one ledger deployment.
func CancelDigest(chainID uint64, ledgerID types.Account, order types.Digest) types.Digest {
	packed, err := cancelArguments.Pack(
		[32]byte(CancelTypeHash),
		new(big.Int).SetUint64(chainID),
		[32]byte(ledgerID),
		[32]byte(order),
	)
	if err != nil {
		panic(fmt.Sprintf("pack cancel digest: %v", err))
	}
	return crypto.Keccak256Hash(packed)
}

// Recover returns the EVM signer of an EIP-191 signature over digest.
// V may be 0/1 or 27/28; high-S signatures are rejected.
func Recover(digest types.Digest, signature []byte) (common.Address, error) {
	if len(signature) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("%w: length %d", types.ErrInvalidSignature, len(signature))
	}
	sig := make([]byte, crypto.SignatureLength)
	copy(sig, signature)
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	r := new(big.Int).SetBytes(sig[:32])
	s := new(big.Int).SetBytes(sig[32:64])
	if !crypto.ValidateSignatureValues(sig[64], r, s, true) {
		return common.Address{}, fmt.Errorf("%w: malformed signature values", types.ErrInvalidSignature)
	}
	pub, err := crypto.SigToPub(accounts.TextHash(digest[:]), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", types.ErrInvalidSignature, err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// VerifyOrchestrator recovers the signer of digest and requires the orchestrator role.
func (g *Gate) VerifyOrchestrator(digest types.Digest, signature []byte) (types.Account, error) {
	addr, err := Recover(digest, signature)
	if err != nil {
		return types.ZeroAccount, err
	}
	signer := types.AccountFromEVM(addr)
	if !g.HasRole(RoleOrchestrator, signer) {
		return types.ZeroAccount, fmt.Errorf("%w: signer %s is not an orchestrator", types.ErrInvalidSignature, addr.Hex())
	}
	return signer, nil
}

// PrivateKeySigner produces orchestrator approvals.
type PrivateKeySigner struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// NewPrivateKeySigner constructs a signer from a hex-encoded private key string.
func NewPrivateKeySigner(privateKeyHex string) (*PrivateKeySigner, error) {
	key, err := ethutil.ParsePrivateKey(privateKeyHex)
	if err != nil {
		return nil, err
	}
	return NewSigner(key), nil
}

func NewSigner(key *ecdsa.PrivateKey) *PrivateKeySigner {
	return &PrivateKeySigner{privateKey: key, address: crypto.PubkeyToAddress(key.PublicKey)}
}

func (s *PrivateKeySigner) Address() common.Address { return s.address }

// Account returns the signer as a ledger identifier.
func (s *PrivateKeySigner) Account() types.Account { return types.AccountFromEVM(s.address) }

// SignDigest returns a 65-byte [R || S || V] EIP-191 signature with V in {27, 28}.
func (s *PrivateKeySigner) SignDigest(digest types.Digest) ([]byte, error) {
	sig, err := crypto.Sign(accounts.TextHash(digest[:]), s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("sign digest: %w", err)
	}
	sig[64] += 27
	return sig, nil
}

// SignCancel approves reverting order on the given ledger deployment.
func (s *PrivateKeySigner) SignCancel(chainID uint64, ledgerID types.Account, order types.Digest) ([]byte, error) {
	return s.SignDigest(CancelDigest(chainID, ledgerID, order))
}
