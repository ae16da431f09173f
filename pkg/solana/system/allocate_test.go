package system

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/code-payments/code-escrow/pkg/solana"
)

func TestAllocate(t *testing.T) {
	keys := generateKeys(t, 2)

	instruction := Allocate(keys[0], 165)

	cmd, err := GetCommand(instruction)
	require.NoError(t, err)
	assert.Equal(t, CommandAllocate, cmd)
	assert.EqualValues(t, 165, binary.LittleEndian.Uint64(instruction.Data[4:]))

	require.Len(t, instruction.Accounts, 1)
	assert.True(t, instruction.Accounts[0].IsSigner)
	assert.True(t, instruction.Accounts[0].IsWritable)

	decompiled, err := DecompileAllocate(instruction)
	require.NoError(t, err)
	assert.Equal(t, keys[0], decompiled.Address)
	assert.EqualValues(t, 165, decompiled.Size)

	_, err = DecompileAssign(instruction)
	assert.Equal(t, solana.ErrIncorrectInstruction, err)

	instruction.Data = instruction.Data[:8]
	_, err = DecompileAllocate(instruction)
	assert.Error(t, err)

	instruction.Program = keys[1]
	_, err = DecompileAllocate(instruction)
	assert.Equal(t, solana.ErrIncorrectProgram, err)
}

func TestAssign(t *testing.T) {
	keys := generateKeys(t, 2)

	instruction := Assign(keys[0], keys[1])

	cmd, err := GetCommand(instruction)
	require.NoError(t, err)
	assert.Equal(t, CommandAssign, cmd)
	assert.Equal(t, []byte(keys[1]), instruction.Data[4:])

	decompiled, err := DecompileAssign(instruction)
	require.NoError(t, err)
	assert.Equal(t, keys[0], decompiled.Address)
	assert.Equal(t, keys[1], decompiled.Owner)

	instruction.Accounts = append(instruction.Accounts, solana.NewAccountMeta(keys[1], false))
	_, err = DecompileAssign(instruction)
	assert.Error(t, err)
}
