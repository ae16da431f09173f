package solana

import (
	"crypto/ed25519"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccountInfo_Borrows(t *testing.T) {
	info := newTestAccountInfo(t, []byte{1, 2, 3})

	shared1, err := info.BorrowData()
	require.NoError(t, err)
	shared2, err := info.BorrowData()
	require.NoError(t, err)

	_, err = info.BorrowMutData()
	assert.Equal(t, InstructionErrorAccountBorrowFailed, err)
	assert.Equal(t, InstructionErrorAccountBorrowFailed, info.Resize(1))
	assert.True(t, info.HasOutstandingBorrows())

	shared1.Release()
	shared1.Release()
	_, err = info.BorrowMutData()
	assert.Equal(t, InstructionErrorAccountBorrowFailed, err)

	shared2.Release()
	assert.False(t, info.HasOutstandingBorrows())

	mutable, err := info.BorrowMutData()
	require.NoError(t, err)
	mutable.Bytes()[0] = 0xff

	_, err = info.BorrowData()
	assert.Equal(t, InstructionErrorAccountBorrowFailed, err)

	mutable.Release()
	assert.Nil(t, mutable.Bytes())

	shared, err := info.BorrowData()
	require.NoError(t, err)
	assert.Equal(t, []byte{0xff, 2, 3}, shared.Bytes())
	shared.Release()
}

func TestAccountInfo_Lamports(t *testing.T) {
	info := newTestAccountInfo(t, nil)

	ref, err := info.BorrowMutLamports()
	require.NoError(t, err)

	_, err = info.BorrowMutLamports()
	assert.Equal(t, InstructionErrorAccountBorrowFailed, err)
	assert.Equal(t, InstructionErrorAccountBorrowFailed, info.Close())

	ref.Set(ref.Get() + 5)
	ref.Release()
	ref.Set(0)

	assert.EqualValues(t, 105, info.Lamports())
}

func TestAccountInfo_SharedState(t *testing.T) {
	info := newTestAccountInfo(t, []byte{1})
	view := info.WithPrivileges(true, false)

	assert.True(t, view.IsSigner())
	assert.False(t, view.IsWritable())
	assert.False(t, info.IsSigner())
	assert.True(t, info.IsWritable())
	assert.True(t, info.SharesState(view))
	assert.False(t, info.SharesState(newTestAccountInfo(t, nil)))

	ref, err := view.BorrowMutLamports()
	require.NoError(t, err)
	ref.Set(1)
	ref.Release()
	assert.EqualValues(t, 1, info.Lamports())

	owner := generateKey(t)
	view.Assign(owner)
	assert.True(t, info.IsOwnedBy(owner))
}

func TestAccountInfo_ResizeAndClose(t *testing.T) {
	info := newTestAccountInfo(t, []byte{1, 2, 3})

	require.NoError(t, info.Resize(1))
	assert.Equal(t, 1, info.DataLen())

	require.NoError(t, info.Resize(4))
	data, err := info.BorrowData()
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 0, 0, 0}, data.Bytes())
	data.Release()

	assert.Equal(t, InstructionErrorInvalidRealloc, info.Resize(3+MaxPermittedDataIncrease+1))
	assert.Equal(t, InstructionErrorInvalidRealloc, info.Resize(-1))

	require.NoError(t, info.Close())
	assert.EqualValues(t, 0, info.Lamports())
	assert.True(t, info.DataIsEmpty())
	assert.True(t, info.IsOwnedBy(SystemProgramKey))
}

func TestNewAccountInfo_CopiesState(t *testing.T) {
	data := []byte{1, 2}
	key := generateKey(t)

	info := NewAccountInfo(&NewAccountInfoArgs{
		Key:  key,
		Data: data,
	})
	data[0] = 9
	key[0] ^= 0xff

	assert.NotEqual(t, key, info.Key())
	assert.True(t, info.IsOwnedBy(SystemProgramKey))

	ref, err := info.BorrowData()
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2}, ref.Bytes())
	ref.Release()
}

func TestSigner(t *testing.T) {
	program := generateKey(t)
	seeds := [][]byte{[]byte("escrow"), generateKey(t)}

	address, bump, err := FindProgramAddressAndBump(program, seeds...)
	require.NoError(t, err)

	signer := NewSigner(append(seeds, []byte{bump})...)
	seeds[0][0] = 'x'

	actual, err := signer.Address(program)
	require.NoError(t, err)
	assert.Equal(t, address, actual)
	assert.True(t, signer.Authorizes(program, address))
	assert.False(t, signer.Authorizes(generateKey(t), address))
	assert.False(t, NewSigner(make([]byte, MaxSeedLength+1)).Authorizes(program, address))
}

func newTestAccountInfo(t *testing.T, data []byte) *AccountInfo {
	return NewAccountInfo(&NewAccountInfoArgs{
		Key:        generateKey(t),
		Lamports:   100,
		Data:       data,
		IsWritable: true,
	})
}

func generateKey(t *testing.T) ed25519.PublicKey {
	pub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	return pub
}
