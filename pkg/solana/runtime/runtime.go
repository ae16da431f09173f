package runtime

import (
	"context"

	"github.com/code-payments/code-escrow/pkg/solana"
	"github.com/code-payments/code-escrow/pkg/solana/system"
)

// Runtime is the view of the ledger available to a program while it
// processes a single instruction.
type Runtime interface {
	// Rent returns the rent parameters in effect for the ledger.
	Rent() system.Rent

	// InvokeSigned performs a cross-program invocation of ix. Every account
	// referenced by ix must be present in accounts. An account marked as a
	// signer in ix must either be a signer in the calling instruction, or be
	// the program derived address of the calling program for one of signers.
	InvokeSigned(ctx context.Context, ix solana.Instruction, accounts []*solana.AccountInfo, signers ...solana.Signer) error
}

// Program is the entrypoint of an on-chain program.
type Program interface {
	ProcessInstruction(ctx context.Context, rt Runtime, accounts []*solana.AccountInfo, data []byte) error
}

// ProgramFunc adapts a function to the Program interface.
type ProgramFunc func(ctx context.Context, rt Runtime, accounts []*solana.AccountInfo, data []byte) error

func (f ProgramFunc) ProcessInstruction(ctx context.Context, rt Runtime, accounts []*solana.AccountInfo, data []byte) error {
	return f(ctx, rt, accounts, data)
}

// Invoke is InvokeSigned without any program derived signers.
func Invoke(ctx context.Context, rt Runtime, ix solana.Instruction, accounts []*solana.AccountInfo) error {
	return rt.InvokeSigned(ctx, ix, accounts)
}
