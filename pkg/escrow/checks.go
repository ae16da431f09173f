package escrow

import (
	"bytes"
	"context"

	"github.com/mr-tron/base58"
	"github.com/pkg/errors"

	"github.com/code-payments/code-escrow/pkg/solana"
	"github.com/code-payments/code-escrow/pkg/solana/runtime"
	"github.com/code-payments/code-escrow/pkg/solana/token"
)

// AccountRole is a semantic role an account passed to an instruction must
// satisfy before it is trusted.
type AccountRole uint8

const (
	RoleSigner AccountRole = iota
	RoleMint
	RoleProgramAccount
	RoleAssociatedTokenAccount
)

func (r AccountRole) String() string {
	switch r {
	case RoleSigner:
		return "signer"
	case RoleMint:
		return "mint"
	case RoleProgramAccount:
		return "program_account"
	case RoleAssociatedTokenAccount:
		return "associated_token_account"
	}
	return "unknown"
}

// CheckContext carries the related accounts a role is validated against.
// Only RoleAssociatedTokenAccount uses it.
type CheckContext struct {
	Owner        *solana.AccountInfo
	Mint         *solana.AccountInfo
	TokenProgram *solana.AccountInfo
}

// AccountCheck is one entry of an instruction's validation checklist.
type AccountCheck struct {
	Role    AccountRole
	Account *solana.AccountInfo
	Context *CheckContext
}

type accountValidator func(account *solana.AccountInfo, checkCtx *CheckContext) error

var accountValidators = map[AccountRole]accountValidator{
	RoleSigner: func(account *solana.AccountInfo, _ *CheckContext) error {
		return CheckSigner(account)
	},
	RoleMint: func(account *solana.AccountInfo, _ *CheckContext) error {
		return CheckMint(account)
	},
	RoleProgramAccount: func(account *solana.AccountInfo, _ *CheckContext) error {
		return CheckProgramAccount(account)
	},
	RoleAssociatedTokenAccount: func(account *solana.AccountInfo, checkCtx *CheckContext) error {
		if checkCtx == nil || checkCtx.Owner == nil || checkCtx.Mint == nil || checkCtx.TokenProgram == nil {
			return errors.Wrap(solana.InstructionErrorInvalidArgument, "associated token account check requires owner, mint and token program")
		}
		return CheckAssociatedTokenAccount(account, checkCtx.Owner, checkCtx.Mint, checkCtx.TokenProgram)
	},
}

// RunChecks validates each account against its role, in order, and returns
// the first failure. Checks never modify accounts.
func RunChecks(checks ...AccountCheck) error {
	for _, check := range checks {
		validate, ok := accountValidators[check.Role]
		if !ok {
			return errors.Wrapf(solana.InstructionErrorInvalidArgument, "unknown account role %d", check.Role)
		}

		if check.Account == nil {
			return errors.Wrapf(solana.InstructionErrorNotEnoughAccountKeys, "missing %s account", check.Role)
		}

		if err := validate(check.Account, check.Context); err != nil {
			return errors.Wrapf(err, "%s check failed for %s", check.Role, base58.Encode(check.Account.Key()))
		}
	}
	return nil
}

// CheckSigner requires the account to have signed the transaction.
func CheckSigner(account *solana.AccountInfo) error {
	if !account.IsSigner() {
		return ErrNotSigner
	}
	return nil
}

// CheckMint requires the account to be a token program mint.
func CheckMint(account *solana.AccountInfo) error {
	if !account.IsOwnedBy(token.ProgramKey) {
		return ErrInvalidOwner
	}
	if account.DataLen() != token.MintSize {
		return ErrInvalidAccountData
	}
	return nil
}

// CheckProgramAccount requires the account to be owned by the escrow
// program. The size of the record it holds is validated when it is loaded.
func CheckProgramAccount(account *solana.AccountInfo) error {
	if !account.IsOwnedBy(PROGRAM_ID) {
		return ErrInvalidOwner
	}
	return nil
}

// CheckAssociatedTokenAccount requires the account to be the token account
// derived for owner and mint under the associated token account program.
func CheckAssociatedTokenAccount(account, owner, mint, tokenProgram *solana.AccountInfo) error {
	if !bytes.Equal(tokenProgram.Key(), token.ProgramKey) || !account.IsOwnedBy(tokenProgram.Key()) {
		return ErrInvalidOwner
	}
	if account.DataLen() != token.AccountSize {
		return ErrInvalidAccountData
	}

	expected, err := token.GetAssociatedAccount(owner.Key(), mint.Key())
	if err != nil {
		return errors.Wrap(ErrInvalidAddress, err.Error())
	}
	if !bytes.Equal(expected, account.Key()) {
		return ErrInvalidAddress
	}
	return nil
}

// InitAssociatedTokenAccountIfNeeded creates the associated token account of
// owner for mint, funded by payer, unless it already passes
// CheckAssociatedTokenAccount.
func InitAssociatedTokenAccountIfNeeded(
	ctx context.Context,
	rt runtime.Runtime,
	account, mint, payer, owner, systemProgram, tokenProgram *solana.AccountInfo,
) error {
	if err := CheckAssociatedTokenAccount(account, owner, mint, tokenProgram); err == nil {
		return nil
	}

	ix, address, err := token.CreateAssociatedTokenAccountIdempotent(payer.Key(), owner.Key(), mint.Key())
	if err != nil {
		return errors.Wrap(ErrInvalidAddress, err.Error())
	}
	if !bytes.Equal(address, account.Key()) {
		return ErrInvalidAddress
	}

	accounts := []*solana.AccountInfo{payer, account, owner, mint, systemProgram, tokenProgram}
	if err := runtime.Invoke(ctx, rt, ix, accounts); err != nil {
		return err
	}

	return CheckAssociatedTokenAccount(account, owner, mint, tokenProgram)
}
