package memory

import (
	"context"
	"crypto/ed25519"

	"github.com/mr-tron/base58"
	"github.com/pkg/errors"

	"github.com/code-payments/code-escrow/pkg/solana"
	"github.com/code-payments/code-escrow/pkg/solana/runtime"
	"github.com/code-payments/code-escrow/pkg/solana/system"
)

// systemProgram implements the subset of the system program needed to fund
// and allocate accounts.
//
// Reference: https://github.com/solana-labs/solana/blob/4e2754341514cd181ae3f373cc2548bd22e918b8/programs/system/src/system_processor.rs
type systemProgram struct{}

func (p *systemProgram) ProcessInstruction(_ context.Context, _ runtime.Runtime, accounts []*solana.AccountInfo, data []byte) error {
	ix := toInstruction(system.ProgramKey, accounts, data)

	command, err := system.GetCommand(ix)
	if err != nil {
		return errors.Wrap(solana.InstructionErrorInvalidInstructionData, err.Error())
	}

	switch command {
	case system.CommandCreateAccount:
		return p.createAccount(ix, accounts)
	case system.CommandTransfer:
		return p.transfer(ix, accounts)
	case system.CommandAllocate:
		return p.allocate(ix, accounts)
	case system.CommandAssign:
		return p.assign(ix, accounts)
	default:
		return errors.Wrapf(solana.InstructionErrorInvalidInstructionData, "unsupported system command %d", command)
	}
}

func (p *systemProgram) createAccount(ix solana.Instruction, accounts []*solana.AccountInfo) error {
	if len(accounts) < 2 {
		return solana.InstructionErrorNotEnoughAccountKeys
	}

	decompiled, err := system.DecompileCreateAccount(ix)
	if err != nil {
		return errors.Wrap(solana.InstructionErrorInvalidInstructionData, err.Error())
	}

	funder, account := accounts[0], accounts[1]
	if !account.IsSigner() {
		return errors.Wrapf(solana.InstructionErrorMissingRequiredSignature, "new account %s must sign", base58.Encode(account.Key()))
	}
	if !account.IsOwnedBy(system.ProgramKey) || account.Lamports() > 0 || !account.DataIsEmpty() {
		return errors.Wrapf(solana.InstructionErrorAccountAlreadyInitialized, "account %s already in use", base58.Encode(account.Key()))
	}
	if decompiled.Size > system.MaxPermittedDataLength {
		return errors.Wrapf(solana.InstructionErrorInvalidArgument, "size %d exceeds limit", decompiled.Size)
	}

	if err := debit(funder, account, decompiled.Lamports); err != nil {
		return err
	}

	if err := account.Resize(int(decompiled.Size)); err != nil {
		return err
	}
	account.Assign(decompiled.Owner)
	return nil
}

func (p *systemProgram) allocate(ix solana.Instruction, accounts []*solana.AccountInfo) error {
	if len(accounts) < 1 {
		return solana.InstructionErrorNotEnoughAccountKeys
	}

	decompiled, err := system.DecompileAllocate(ix)
	if err != nil {
		return errors.Wrap(solana.InstructionErrorInvalidInstructionData, err.Error())
	}

	account := accounts[0]
	if !account.IsSigner() {
		return errors.Wrapf(solana.InstructionErrorMissingRequiredSignature, "allocated account %s must sign", base58.Encode(account.Key()))
	}
	if !account.IsOwnedBy(system.ProgramKey) || !account.DataIsEmpty() {
		return errors.Wrapf(solana.InstructionErrorAccountAlreadyInitialized, "account %s already in use", base58.Encode(account.Key()))
	}
	if decompiled.Size > system.MaxPermittedDataLength {
		return errors.Wrapf(solana.InstructionErrorInvalidArgument, "size %d exceeds limit", decompiled.Size)
	}

	return account.Resize(int(decompiled.Size))
}

func (p *systemProgram) assign(ix solana.Instruction, accounts []*solana.AccountInfo) error {
	if len(accounts) < 1 {
		return solana.InstructionErrorNotEnoughAccountKeys
	}

	decompiled, err := system.DecompileAssign(ix)
	if err != nil {
		return errors.Wrap(solana.InstructionErrorInvalidInstructionData, err.Error())
	}

	account := accounts[0]
	if account.IsOwnedBy(decompiled.Owner) {
		return nil
	}
	if !account.IsSigner() {
		return errors.Wrapf(solana.InstructionErrorMissingRequiredSignature, "assigned account %s must sign", base58.Encode(account.Key()))
	}

	account.Assign(decompiled.Owner)
	return nil
}

func (p *systemProgram) transfer(ix solana.Instruction, accounts []*solana.AccountInfo) error {
	if len(accounts) < 2 {
		return solana.InstructionErrorNotEnoughAccountKeys
	}

	decompiled, err := system.DecompileTransfer(ix)
	if err != nil {
		return errors.Wrap(solana.InstructionErrorInvalidInstructionData, err.Error())
	}

	return debit(accounts[0], accounts[1], decompiled.Lamports)
}

// debit moves lamports out of a system owned, data-less signer.
func debit(from, to *solana.AccountInfo, lamports uint64) error {
	if !from.IsSigner() {
		return errors.Wrapf(solana.InstructionErrorMissingRequiredSignature, "funder %s must sign", base58.Encode(from.Key()))
	}
	if !from.DataIsEmpty() || !from.IsOwnedBy(system.ProgramKey) {
		return errors.Wrapf(solana.InstructionErrorInvalidArgument, "funder %s must be a system account without data", base58.Encode(from.Key()))
	}
	if from.Lamports() < lamports {
		return errors.Wrapf(solana.InstructionErrorInsufficientFunds, "funder %s has %d, needs %d", base58.Encode(from.Key()), from.Lamports(), lamports)
	}

	return moveLamports(from, to, lamports)
}

func moveLamports(from, to *solana.AccountInfo, lamports uint64) error {
	if from.SharesState(to) {
		return nil
	}

	src, err := from.BorrowMutLamports()
	if err != nil {
		return err
	}
	defer src.Release()

	dst, err := to.BorrowMutLamports()
	if err != nil {
		return err
	}
	defer dst.Release()

	if dst.Get()+lamports < dst.Get() {
		return errors.Wrapf(solana.InstructionErrorArithmeticOverflow, "crediting %d to %s", lamports, base58.Encode(to.Key()))
	}

	src.Set(src.Get() - lamports)
	dst.Set(dst.Get() + lamports)
	return nil
}

// toInstruction rebuilds the instruction a native program was invoked with,
// so that the package decompilers can be used to parse it.
func toInstruction(program ed25519.PublicKey, accounts []*solana.AccountInfo, data []byte) solana.Instruction {
	metas := make([]solana.AccountMeta, len(accounts))
	for i, account := range accounts {
		metas[i] = solana.AccountMeta{
			PublicKey:  account.Key(),
			IsSigner:   account.IsSigner(),
			IsWritable: account.IsWritable(),
		}
	}
	return solana.NewInstruction(program, data, metas...)
}
