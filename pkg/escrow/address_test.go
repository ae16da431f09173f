package escrow

import (
	"crypto/ed25519"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/code-payments/code-escrow/pkg/solana"
)

func TestGetEscrowAddress(t *testing.T) {
	keys := generateKeys(t, 3)
	maker, mintA, mintB := keys[0], keys[1], keys[2]

	address, bump, err := GetEscrowAddress(maker, 42)
	require.NoError(t, err)

	expected, err := solana.CreateProgramAddress(PROGRAM_ID, EscrowPrefix, maker, seedBytes(42), []byte{bump})
	require.NoError(t, err)
	assert.EqualValues(t, expected, address)

	record := NewEscrow(maker, mintA, mintB, 42, 1_000, bump)

	derived, err := record.Address(maker)
	require.NoError(t, err)
	assert.EqualValues(t, address, derived)

	assert.True(t, record.Signer(maker).Authorizes(PROGRAM_ID, address))
	assert.False(t, record.Signer(maker).Authorizes(mintA, address))
}

func TestGetEscrowAddress_Divergence(t *testing.T) {
	keys := generateKeys(t, 2)

	address, _, err := GetEscrowAddress(keys[0], 42)
	require.NoError(t, err)

	other, _, err := GetEscrowAddress(keys[0], 43)
	require.NoError(t, err)
	assert.NotEqual(t, address, other)

	other, _, err = GetEscrowAddress(keys[1], 42)
	require.NoError(t, err)
	assert.NotEqual(t, address, other)

	again, _, err := GetEscrowAddress(keys[0], 42)
	require.NoError(t, err)
	assert.EqualValues(t, address, again)
}

func TestEscrow_AddressWithWrongMaker(t *testing.T) {
	keys := generateKeys(t, 4)
	maker, other, mintA, mintB := keys[0], keys[1], keys[2], keys[3]

	address, bump, err := GetEscrowAddress(maker, 9)
	require.NoError(t, err)

	record := NewEscrow(maker, mintA, mintB, 9, 1, bump)

	derived, err := record.Address(other)
	if err == nil {
		assert.NotEqual(t, address, derived)
	}
	assert.False(t, record.Signer(other).Authorizes(PROGRAM_ID, address))
}

func generateKeys(t *testing.T, amount int) []ed25519.PublicKey {
	keys := make([]ed25519.PublicKey, amount)

	for i := 0; i < amount; i++ {
		pub, _, err := ed25519.GenerateKey(nil)
		require.NoError(t, err)

		keys[i] = pub
	}

	return keys
}
