package solana

import (
	"crypto/ed25519"
	"testing"

	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInstruction_Clone(t *testing.T) {
	program, account := generateKey(t), generateKey(t)

	original := NewInstruction(program, []byte{1, 2}, NewAccountMeta(account, true))
	cloned := original.Clone()
	assert.Equal(t, original, cloned)
	assert.True(t, cloned.IsProgram(program))

	cloned.Data[0] = 9
	cloned.Accounts[0].IsSigner = false
	cloned.Accounts[0].PublicKey[0] ^= 0xff

	assert.Equal(t, []byte{1, 2}, original.Data)
	assert.True(t, original.Accounts[0].IsSigner)
	assert.EqualValues(t, account, original.Accounts[0].PublicKey)
}

func TestInstruction_Validate(t *testing.T) {
	program, account := generateKey(t), generateKey(t)

	require.NoError(t, NewInstruction(program, nil, NewReadonlyAccountMeta(account, false)).Validate())

	assert.Error(t, NewInstruction(program[:31], nil).Validate())
	assert.Error(t, NewInstruction(program, nil, NewAccountMeta(ed25519.PublicKey{}, false)).Validate())
}

func TestAccountMeta_String(t *testing.T) {
	key := generateKey(t)
	encoded := base58.Encode(key)

	assert.Equal(t, encoded+":ws", NewAccountMeta(key, true).String())
	assert.Equal(t, encoded+":w", NewAccountMeta(key, false).String())
	assert.Equal(t, encoded+":rs", NewReadonlyAccountMeta(key, true).String())
	assert.Equal(t, encoded+":r", NewReadonlyAccountMeta(key, false).String())
}
