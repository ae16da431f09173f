package memory

import (
	"bytes"
	"context"

	"github.com/mr-tron/base58"
	"github.com/pkg/errors"

	"github.com/code-payments/code-escrow/pkg/solana"
	"github.com/code-payments/code-escrow/pkg/solana/runtime"
	"github.com/code-payments/code-escrow/pkg/solana/system"
	"github.com/code-payments/code-escrow/pkg/solana/token"
)

// associatedTokenAccountProgram creates token accounts at the address derived
// from a wallet and a mint.
//
// Reference: https://github.com/solana-labs/solana-program-library/blob/0639953c7dd0f5228c3ceda3ba68fece3b46ff1d/associated-token-account/program/src/processor.rs
type associatedTokenAccountProgram struct{}

func (p *associatedTokenAccountProgram) ProcessInstruction(ctx context.Context, rt runtime.Runtime, accounts []*solana.AccountInfo, data []byte) error {
	if len(accounts) < 6 {
		return solana.InstructionErrorNotEnoughAccountKeys
	}

	decompiled, err := token.DecompileCreateAssociatedAccount(toInstruction(token.AssociatedTokenAccountProgramKey, accounts, data))
	if err != nil {
		return errors.Wrap(solana.InstructionErrorInvalidInstructionData, err.Error())
	}

	funder, account, wallet, mint := accounts[0], accounts[1], accounts[2], accounts[3]

	expected, bump, err := token.GetAssociatedAccountAndBump(decompiled.Owner, decompiled.Mint)
	if err != nil {
		return err
	}
	if !bytes.Equal(expected, account.Key()) {
		return errors.Wrapf(solana.InstructionErrorInvalidSeeds, "expected associated account %s", base58.Encode(expected))
	}

	if decompiled.Idempotent && account.IsOwnedBy(token.ProgramKey) {
		var state token.Account
		if err := readTokenAccount(account, &state); err != nil {
			return err
		}
		if !bytes.Equal(state.Owner, wallet.Key()) || !bytes.Equal(state.Mint, mint.Key()) {
			return errors.Wrap(solana.InstructionErrorInvalidAccountOwner, "existing associated account has a different owner or mint")
		}
		return nil
	}

	if !mint.IsOwnedBy(token.ProgramKey) {
		return solana.InstructionErrorIncorrectProgramID
	}

	signer := solana.NewSigner(wallet.Key(), token.ProgramKey, mint.Key(), []byte{bump})
	if err := createPDAAccount(ctx, rt, funder, account, accounts, signer); err != nil {
		return err
	}

	return runtime.Invoke(ctx, rt, token.InitializeAccount3(account.Key(), mint.Key(), wallet.Key()), accounts)
}

// createPDAAccount creates a token account at a derived address. An address
// that already holds lamports cannot go through CreateAccount, so it is
// topped up to rent exemption, then allocated and assigned in place.
func createPDAAccount(ctx context.Context, rt runtime.Runtime, funder, account *solana.AccountInfo, accounts []*solana.AccountInfo, signer solana.Signer) error {
	rent := rt.Rent().MinimumBalance(token.AccountSize)

	current := account.Lamports()
	if current == 0 {
		return rt.InvokeSigned(
			ctx,
			system.CreateAccount(funder.Key(), account.Key(), token.ProgramKey, rent, token.AccountSize),
			accounts,
			signer,
		)
	}

	if current < rent {
		if err := runtime.Invoke(ctx, rt, system.Transfer(funder.Key(), account.Key(), rent-current), accounts); err != nil {
			return err
		}
	}

	if err := rt.InvokeSigned(ctx, system.Allocate(account.Key(), token.AccountSize), accounts, signer); err != nil {
		return err
	}
	return rt.InvokeSigned(ctx, system.Assign(account.Key(), token.ProgramKey), accounts, signer)
}
