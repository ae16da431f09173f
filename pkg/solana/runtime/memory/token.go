package memory

import (
	"bytes"
	"context"

	"github.com/mr-tron/base58"
	"github.com/pkg/errors"

	"github.com/code-payments/code-escrow/pkg/solana"
	"github.com/code-payments/code-escrow/pkg/solana/runtime"
	"github.com/code-payments/code-escrow/pkg/solana/token"
)

// tokenProgram implements the token program instructions used to hold,
// move and close token balances. Multisig owners and delegates are not
// supported.
//
// Reference: https://github.com/solana-labs/solana-program-library/blob/b011698251981b5a12088acba18fad1d41c3719a/token/program/src/processor.rs
type tokenProgram struct{}

func (p *tokenProgram) ProcessInstruction(_ context.Context, rt runtime.Runtime, accounts []*solana.AccountInfo, data []byte) error {
	ix := toInstruction(token.ProgramKey, accounts, data)

	command, err := token.GetCommand(ix)
	if err != nil {
		return token.ErrorInvalidInstruction
	}

	switch command {
	case token.CommandInitializeAccount3:
		return p.initializeAccount(rt, ix, accounts)
	case token.CommandTransfer:
		return p.transfer(ix, accounts)
	case token.CommandCloseAccount:
		return p.closeAccount(ix, accounts)
	default:
		return errors.Wrapf(token.ErrorInvalidInstruction, "unsupported token command %d", command)
	}
}

func (p *tokenProgram) initializeAccount(rt runtime.Runtime, ix solana.Instruction, accounts []*solana.AccountInfo) error {
	if len(accounts) < 2 {
		return solana.InstructionErrorNotEnoughAccountKeys
	}

	decompiled, err := token.DecompileInitializeAccount3(ix)
	if err != nil {
		return errors.Wrap(token.ErrorInvalidInstruction, err.Error())
	}

	account, mint := accounts[0], accounts[1]
	if !account.IsOwnedBy(token.ProgramKey) || !mint.IsOwnedBy(token.ProgramKey) {
		return solana.InstructionErrorIncorrectProgramID
	}

	var mintState token.Mint
	if err := readMint(mint, &mintState); err != nil {
		return err
	}

	ref, err := account.BorrowMutData()
	if err != nil {
		return err
	}
	defer ref.Release()

	var state token.Account
	if !state.Unmarshal(ref.Bytes()) {
		return errors.Wrapf(solana.InstructionErrorInvalidAccountData, "invalid token account size %d", len(ref.Bytes()))
	}
	if state.IsInitialized() {
		return token.ErrorAlreadyInUse
	}
	if !rt.Rent().IsExempt(account.Lamports(), uint64(account.DataLen())) {
		return token.ErrorNotRentExempt
	}

	state = token.Account{
		Mint:  decompiled.Mint,
		Owner: decompiled.Owner,
		State: token.AccountStateInitialized,
	}
	copy(ref.Bytes(), state.Marshal())
	return nil
}

func (p *tokenProgram) transfer(ix solana.Instruction, accounts []*solana.AccountInfo) error {
	if len(accounts) < 3 {
		return solana.InstructionErrorNotEnoughAccountKeys
	}

	decompiled, err := token.DecompileTransfer(ix)
	if err != nil {
		return errors.Wrap(token.ErrorInvalidInstruction, err.Error())
	}

	source, dest, authority := accounts[0], accounts[1], accounts[2]

	var src, dst token.Account
	if err := readTokenAccount(source, &src); err != nil {
		return err
	}
	if err := readTokenAccount(dest, &dst); err != nil {
		return err
	}

	if !bytes.Equal(src.Mint, dst.Mint) {
		return token.ErrorMintMismatch
	}
	if src.State == token.AccountStateFrozen || dst.State == token.AccountStateFrozen {
		return token.ErrorAccountFrozen
	}
	if src.Amount < decompiled.Amount {
		return token.ErrorInsufficientFunds
	}
	if err := validateOwner(src.Owner, authority); err != nil {
		return err
	}

	if source.SharesState(dest) {
		return nil
	}

	if dst.Amount+decompiled.Amount < dst.Amount {
		return token.ErrorOverflow
	}

	src.Amount -= decompiled.Amount
	dst.Amount += decompiled.Amount

	if err := writeTokenAccount(source, &src); err != nil {
		return err
	}
	return writeTokenAccount(dest, &dst)
}

func (p *tokenProgram) closeAccount(ix solana.Instruction, accounts []*solana.AccountInfo) error {
	if len(accounts) < 3 {
		return solana.InstructionErrorNotEnoughAccountKeys
	}

	if _, err := token.DecompileCloseAccount(ix); err != nil {
		return errors.Wrap(token.ErrorInvalidInstruction, err.Error())
	}

	account, dest, authority := accounts[0], accounts[1], accounts[2]
	if account.SharesState(dest) {
		return solana.InstructionErrorInvalidAccountData
	}

	var state token.Account
	if err := readTokenAccount(account, &state); err != nil {
		return err
	}
	if state.Amount != 0 {
		return token.ErrorNonNativeHasBalance
	}

	closeAuthority := state.CloseAuthority
	if len(closeAuthority) == 0 {
		closeAuthority = state.Owner
	}
	if err := validateOwner(closeAuthority, authority); err != nil {
		return err
	}

	if err := moveLamports(account, dest, account.Lamports()); err != nil {
		return err
	}
	return account.Close()
}

func validateOwner(expected []byte, authority *solana.AccountInfo) error {
	if !bytes.Equal(expected, authority.Key()) {
		return token.ErrorOwnerMismatch
	}
	if !authority.IsSigner() {
		return errors.Wrapf(solana.InstructionErrorMissingRequiredSignature, "authority %s must sign", base58.Encode(authority.Key()))
	}
	return nil
}

func readTokenAccount(info *solana.AccountInfo, dst *token.Account) error {
	if !info.IsOwnedBy(token.ProgramKey) {
		return solana.InstructionErrorIncorrectProgramID
	}

	ref, err := info.BorrowData()
	if err != nil {
		return err
	}
	defer ref.Release()

	if !dst.Unmarshal(ref.Bytes()) || !dst.IsInitialized() {
		return token.ErrorUninitializedState
	}
	return nil
}

func writeTokenAccount(info *solana.AccountInfo, src *token.Account) error {
	ref, err := info.BorrowMutData()
	if err != nil {
		return err
	}
	defer ref.Release()

	copy(ref.Bytes(), src.Marshal())
	return nil
}

func readMint(info *solana.AccountInfo, dst *token.Mint) error {
	ref, err := info.BorrowData()
	if err != nil {
		return err
	}
	defer ref.Release()

	if !dst.Unmarshal(ref.Bytes()) || !dst.IsInitialized {
		return token.ErrorInvalidMint
	}
	return nil
}
