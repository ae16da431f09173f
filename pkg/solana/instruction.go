package solana

import (
	"bytes"
	"crypto/ed25519"

	"github.com/mr-tron/base58"
	"github.com/pkg/errors"
)

var (
	ErrIncorrectProgram     = errors.New("incorrect program")
	ErrIncorrectInstruction = errors.New("incorrect instruction")
)

// AccountMeta is an account referenced by an instruction, along with the
// privileges the instruction requests for it.
type AccountMeta struct {
	PublicKey  ed25519.PublicKey
	IsSigner   bool
	IsWritable bool
}

// NewAccountMeta creates a new AccountMeta representing a writable
// account.
func NewAccountMeta(pub ed25519.PublicKey, isSigner bool) AccountMeta {
	return AccountMeta{
		PublicKey:  pub,
		IsSigner:   isSigner,
		IsWritable: true,
	}
}

// NewReadonlyAccountMeta creates a new AccountMeta representing a readonly
// account.
func NewReadonlyAccountMeta(pub ed25519.PublicKey, isSigner bool) AccountMeta {
	return AccountMeta{
		PublicKey:  pub,
		IsSigner:   isSigner,
		IsWritable: false,
	}
}

// Instruction is a single program invocation.
type Instruction struct {
	Program  ed25519.PublicKey
	Accounts []AccountMeta
	Data     []byte
}

// NewInstruction creates a new instruction.
func NewInstruction(program ed25519.PublicKey, data []byte, accounts ...AccountMeta) Instruction {
	return Instruction{
		Program:  program,
		Data:     data,
		Accounts: accounts,
	}
}

// IsProgram reports whether the instruction targets program.
func (i Instruction) IsProgram(program ed25519.PublicKey) bool {
	return bytes.Equal(i.Program, program)
}

// Clone returns a deep copy of the instruction.
func (i Instruction) Clone() Instruction {
	accounts := make([]AccountMeta, len(i.Accounts))
	for j, meta := range i.Accounts {
		accounts[j] = AccountMeta{
			PublicKey:  append(ed25519.PublicKey(nil), meta.PublicKey...),
			IsSigner:   meta.IsSigner,
			IsWritable: meta.IsWritable,
		}
	}

	return Instruction{
		Program:  append(ed25519.PublicKey(nil), i.Program...),
		Accounts: accounts,
		Data:     append([]byte(nil), i.Data...),
	}
}

// Validate checks that the program and every account are well formed
// addresses.
func (i Instruction) Validate() error {
	if len(i.Program) != ed25519.PublicKeySize {
		return errors.Errorf("invalid program key length: %d", len(i.Program))
	}

	for j, meta := range i.Accounts {
		if len(meta.PublicKey) != ed25519.PublicKeySize {
			return errors.Errorf("invalid key length for account %d: %d", j, len(meta.PublicKey))
		}
	}
	return nil
}

func (m AccountMeta) String() string {
	flags := "r"
	if m.IsWritable {
		flags = "w"
	}
	if m.IsSigner {
		flags += "s"
	}
	return base58.Encode(m.PublicKey) + ":" + flags
}
