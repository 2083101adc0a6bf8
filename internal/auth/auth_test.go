package auth

import (
	"math/big"
	"testing"

	"github.com/Genius-Foundation/genius-contracts-sub003/internal/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	admin  = types.MustParseAccount("0xad00000000000000000000000000000000000001")
	pauser = types.MustParseAccount("0xad00000000000000000000000000000000000002")
	nobody = types.MustParseAccount("0xad00000000000000000000000000000000000003")
	ledger = types.MustParseAccount("0x00000000000000000000000000000000000C0575")
	digest = crypto.Keccak256Hash([]byte("order"))
)

func newSigner(t *testing.T) *PrivateKeySigner {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return NewSigner(key)
}

func TestRoles(t *testing.T) {
	g, err := NewGate(admin)
	require.NoError(t, err)
	assert.True(t, g.HasRole(RoleAdmin, admin))

	changed, err := g.Grant(admin, RolePauser, pauser)
	require.NoError(t, err)
	assert.True(t, changed)
	changed, err = g.Grant(admin, RolePauser, pauser)
	require.NoError(t, err)
	assert.False(t, changed, "granting twice is a no-op")

	_, err = g.Grant(nobody, RoleOrchestrator, nobody)
	assert.ErrorIs(t, err, types.ErrMissingRole)
	_, err = g.Grant(admin, Role("root"), nobody)
	assert.ErrorIs(t, err, types.ErrMissingRole)
	_, err = g.Grant(admin, RolePauser, types.ZeroAccount)
	assert.ErrorIs(t, err, types.ErrZeroAddress)

	assert.ErrorIs(t, g.Require(RoleOrchestrator, pauser), types.ErrMissingRole)
	assert.Equal(t, types.ClassAuthorization, types.Classify(g.Require(RoleOrchestrator, pauser)))

	changed, err = g.Revoke(admin, RolePauser, pauser)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.False(t, g.HasRole(RolePauser, pauser))

	_, err = g.Revoke(admin, RoleAdmin, admin)
	assert.ErrorIs(t, err, types.ErrMissingRole, "last admin stays")

	_, err = NewGate(types.ZeroAccount)
	assert.ErrorIs(t, err, types.ErrZeroAddress)
}

func TestPause(t *testing.T) {
	g, err := NewGate(admin)
	require.NoError(t, err)
	_, err = g.Grant(admin, RolePauser, pauser)
	require.NoError(t, err)

	assert.ErrorIs(t, g.Pause(admin), types.ErrMissingRole, "admin is not implicitly a pauser")
	require.NoError(t, g.Pause(pauser))
	assert.ErrorIs(t, g.RequireNotPaused(), types.ErrPaused)
	require.NoError(t, g.Unpause(pauser))
	assert.NoError(t, g.RequireNotPaused())
}

func TestVerifyOrchestrator(t *testing.T) {
	g, err := NewGate(admin)
	require.NoError(t, err)
	orchestrator := newSigner(t)
	_, err = g.Grant(admin, RoleOrchestrator, orchestrator.Account())
	require.NoError(t, err)

	cancel := CancelDigest(1, ledger, digest)
	sig, err := orchestrator.SignDigest(cancel)
	require.NoError(t, err)
	require.Len(t, sig, 65)
	assert.Contains(t, []byte{27, 28}, sig[64])

	t.Run("valid approval", func(t *testing.T) {
		signer, err := g.VerifyOrchestrator(cancel, sig)
		require.NoError(t, err)
		assert.Equal(t, orchestrator.Account(), signer)
	})

	t.Run("raw recovery id is accepted", func(t *testing.T) {
		raw := append([]byte(nil), sig...)
		raw[64] -= 27
		_, err := g.VerifyOrchestrator(cancel, raw)
		assert.NoError(t, err)
	})

	t.Run("signature for another order", func(t *testing.T) {
		other := CancelDigest(1, ledger, crypto.Keccak256Hash([]byte("other")))
		_, err := g.VerifyOrchestrator(other, sig)
		assert.ErrorIs(t, err, types.ErrInvalidSignature)
	})

	t.Run("signature for another chain or deployment", func(t *testing.T) {
		assert.NotEqual(t, cancel, CancelDigest(10, ledger, digest))
		assert.NotEqual(t, cancel, CancelDigest(1, admin, digest))
		_, err := g.VerifyOrchestrator(CancelDigest(10, ledger, digest), sig)
		assert.ErrorIs(t, err, types.ErrInvalidSignature)
	})

	t.Run("signer without role", func(t *testing.T) {
		stranger := newSigner(t)
		s, err := stranger.SignCancel(1, ledger, digest)
		require.NoError(t, err)
		_, err = g.VerifyOrchestrator(cancel, s)
		assert.ErrorIs(t, err, types.ErrInvalidSignature)
	})

	t.Run("malformed", func(t *testing.T) {
		_, err := g.VerifyOrchestrator(cancel, sig[:64])
		assert.ErrorIs(t, err, types.ErrInvalidSignature)

		highS := append([]byte(nil), sig...)
		s := new(big.Int).SetBytes(highS[32:64])
		s.Sub(crypto.S256().Params().N, s)
		s.FillBytes(highS[32:64])
		_, err = g.VerifyOrchestrator(cancel, highS)
		assert.ErrorIs(t, err, types.ErrInvalidSignature)
	})
}

func TestNewPrivateKeySigner(t *testing.T) {
	const keyHex = "0x4c0883a69102937d6231471b5dbb6204fe5129617082796fe3f6a4ab2ed5f8d2"
	s, err := NewPrivateKeySigner(keyHex)
	require.NoError(t, err)
	key, err := crypto.HexToECDSA(keyHex[2:])
	require.NoError(t, err)
	assert.Equal(t, crypto.PubkeyToAddress(key.PublicKey), s.Address())

	_, err = NewPrivateKeySigner("  ")
	assert.Error(t, err)
	_, err = NewPrivateKeySigner("0xnothex")
	assert.Error(t, err)
}

func TestExportImport(t *testing.T) {
	g, err := NewGate(admin)
	require.NoError(t, err)
	_, err = g.Grant(admin, RolePauser, pauser)
	require.NoError(t, err)
	require.NoError(t, g.Pause(pauser))

	restored, err := NewGate(nobody)
	require.NoError(t, err)
	require.NoError(t, restored.Import(g.Export()))
	assert.True(t, restored.HasRole(RolePauser, pauser))
	assert.False(t, restored.HasRole(RoleAdmin, nobody))
	assert.True(t, restored.Paused())

	assert.Error(t, restored.Import(State{}))
}
