package system

import (
	"crypto/ed25519"

	"github.com/pkg/errors"

	"github.com/code-payments/code-escrow/pkg/solana"
	"github.com/code-payments/code-escrow/pkg/solana/binary"
)

// Reference: https://github.com/solana-labs/solana/blob/f02a78d8fff2dd7297dc6ce6eb5a68a3002f5359/sdk/src/system_instruction.rs
func Assign(address, owner ed25519.PublicKey) solana.Instruction {
	// # Account references
	//   0. [WRITE, SIGNER] Assigned account public key
	//
	// Assign {
	//   // Owner program account
	//   owner: Pubkey,
	// }
	data := make([]byte, 4+ed25519.PublicKeySize)

	var offset int
	binary.PutUint32(data, uint32(CommandAssign), &offset)
	binary.PutKey32(data, owner, &offset)

	return solana.NewInstruction(
		ProgramKey,
		data,
		solana.NewAccountMeta(address, true),
	)
}

type DecompiledAssign struct {
	Address ed25519.PublicKey
	Owner   ed25519.PublicKey
}

func DecompileAssign(i solana.Instruction) (*DecompiledAssign, error) {
	if err := checkCommand(i, CommandAssign, 4+ed25519.PublicKeySize); err != nil {
		return nil, err
	}

	v := &DecompiledAssign{
		Address: i.Accounts[0].PublicKey,
	}

	offset := 4
	binary.GetKey32(i.Data, &v.Owner, &offset)
	return v, nil
}

// Reference: https://github.com/solana-labs/solana/blob/f02a78d8fff2dd7297dc6ce6eb5a68a3002f5359/sdk/src/system_instruction.rs
func Allocate(address ed25519.PublicKey, size uint64) solana.Instruction {
	// # Account references
	//   0. [WRITE, SIGNER] New account
	//
	// Allocate {
	//   // Number of bytes of memory to allocate
	//   space: u64,
	// }
	data := make([]byte, 4+8)

	var offset int
	binary.PutUint32(data, uint32(CommandAllocate), &offset)
	binary.PutUint64(data, size, &offset)

	return solana.NewInstruction(
		ProgramKey,
		data,
		solana.NewAccountMeta(address, true),
	)
}

type DecompiledAllocate struct {
	Address ed25519.PublicKey
	Size    uint64
}

func DecompileAllocate(i solana.Instruction) (*DecompiledAllocate, error) {
	if err := checkCommand(i, CommandAllocate, 4+8); err != nil {
		return nil, err
	}

	v := &DecompiledAllocate{
		Address: i.Accounts[0].PublicKey,
	}

	offset := 4
	binary.GetUint64(i.Data, &v.Size, &offset)
	return v, nil
}

func checkCommand(i solana.Instruction, expected Command, dataLen int) error {
	if !i.IsProgram(ProgramKey) {
		return solana.ErrIncorrectProgram
	}
	if len(i.Data) < 4 {
		return solana.ErrIncorrectInstruction
	}

	var command uint32
	var offset int
	binary.GetUint32(i.Data, &command, &offset)
	if Command(command) != expected {
		return solana.ErrIncorrectInstruction
	}

	if len(i.Accounts) != 1 {
		return errors.Errorf("invalid number of accounts: %d", len(i.Accounts))
	}
	if len(i.Data) != dataLen {
		return errors.Errorf("invalid instruction data size: %d", len(i.Data))
	}
	return nil
}
