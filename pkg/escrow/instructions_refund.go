package escrow

import (
	"bytes"
	"context"
	"crypto/ed25519"

	"github.com/mr-tron/base58"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/code-payments/code-escrow/pkg/metrics"
	"github.com/code-payments/code-escrow/pkg/solana"
	"github.com/code-payments/code-escrow/pkg/solana/runtime"
	"github.com/code-payments/code-escrow/pkg/solana/system"
	"github.com/code-payments/code-escrow/pkg/solana/token"
)

const (
	metricsStructName = "escrow.program"

	refundSuccessMetricName = "Escrow/Refund/Success"
	refundFailureEventName  = "EscrowRefundFailure"
)

const RefundInstructionAccountsCount = 8

type RefundInstructionAccounts struct {
	Maker  ed25519.PublicKey
	Escrow ed25519.PublicKey
	MintA  ed25519.PublicKey
}

// NewRefundInstruction builds the instruction a maker signs to cancel their
// escrow. The trailing reserved slot carries the associated token account
// program, which creates the maker's token account when it doesn't exist.
func NewRefundInstruction(accounts *RefundInstructionAccounts) (solana.Instruction, error) {
	vault, err := token.GetAssociatedAccount(accounts.Escrow, accounts.MintA)
	if err != nil {
		return solana.Instruction{}, errors.Wrap(err, "error getting vault address")
	}

	makerAtaA, err := token.GetAssociatedAccount(accounts.Maker, accounts.MintA)
	if err != nil {
		return solana.Instruction{}, errors.Wrap(err, "error getting maker token account address")
	}

	return solana.Instruction{
		Program: PROGRAM_ADDRESS,

		// Instruction args
		Data: []byte{byte(InstructionRefund)},

		// Instruction accounts
		Accounts: []solana.AccountMeta{
			{
				PublicKey:  accounts.Maker,
				IsWritable: true,
				IsSigner:   true,
			},
			{
				PublicKey:  accounts.Escrow,
				IsWritable: true,
				IsSigner:   false,
			},
			{
				PublicKey:  accounts.MintA,
				IsWritable: false,
				IsSigner:   false,
			},
			{
				PublicKey:  vault,
				IsWritable: true,
				IsSigner:   false,
			},
			{
				PublicKey:  makerAtaA,
				IsWritable: true,
				IsSigner:   false,
			},
			{
				PublicKey:  system.ProgramKey,
				IsWritable: false,
				IsSigner:   false,
			},
			{
				PublicKey:  token.ProgramKey,
				IsWritable: false,
				IsSigner:   false,
			},
			{
				PublicKey:  token.AssociatedTokenAccountProgramKey,
				IsWritable: false,
				IsSigner:   false,
			},
		},
	}, nil
}

// RefundAccounts is the validated account set of a refund instruction.
type RefundAccounts struct {
	Maker         *solana.AccountInfo
	Escrow        *solana.AccountInfo
	MintA         *solana.AccountInfo
	Vault         *solana.AccountInfo
	MakerAtaA     *solana.AccountInfo
	SystemProgram *solana.AccountInfo
	TokenProgram  *solana.AccountInfo

	all []*solana.AccountInfo
}

// NewRefundAccounts assigns the positional accounts of a refund instruction
// to their roles and validates them.
func NewRefundAccounts(accounts []*solana.AccountInfo) (*RefundAccounts, error) {
	if len(accounts) < RefundInstructionAccountsCount {
		return nil, errors.Wrapf(solana.InstructionErrorNotEnoughAccountKeys, "refund requires %d accounts, got %d", RefundInstructionAccountsCount, len(accounts))
	}

	a := &RefundAccounts{
		Maker:         accounts[0],
		Escrow:        accounts[1],
		MintA:         accounts[2],
		Vault:         accounts[3],
		MakerAtaA:     accounts[4],
		SystemProgram: accounts[5],
		TokenProgram:  accounts[6],
		all:           accounts,
	}

	err := RunChecks(
		AccountCheck{Role: RoleSigner, Account: a.Maker},
		AccountCheck{Role: RoleProgramAccount, Account: a.Escrow},
		AccountCheck{Role: RoleMint, Account: a.MintA},
		AccountCheck{
			Role:    RoleAssociatedTokenAccount,
			Account: a.Vault,
			Context: &CheckContext{
				Owner:        a.Escrow,
				Mint:         a.MintA,
				TokenProgram: a.TokenProgram,
			},
		},
	)
	if err != nil {
		return nil, err
	}

	return a, nil
}

// Refund cancels an open escrow. The full vault balance is returned to the
// maker's token account, which is created if needed, and both the vault and
// the escrow account are closed with their rent sent to the maker.
func (p *Program) Refund(ctx context.Context, rt runtime.Runtime, accounts []*solana.AccountInfo) error {
	tracer := metrics.TraceMethodCall(ctx, metricsStructName, "Refund")
	defer tracer.End()

	log := p.log.WithField("method", "Refund")

	err := p.refund(ctx, rt, accounts, log, tracer)
	if err != nil {
		log.WithError(err).Debug("refund failed")

		tracer.OnError(err)
		metrics.RecordEvent(ctx, refundFailureEventName, map[string]interface{}{
			"error": errors.Cause(err).Error(),
		})
		return err
	}

	metrics.RecordCount(ctx, refundSuccessMetricName, 1)
	return nil
}

func (p *Program) refund(ctx context.Context, rt runtime.Runtime, accounts []*solana.AccountInfo, log *logrus.Entry, tracer *metrics.MethodTracer) error {
	a, err := NewRefundAccounts(accounts)
	if err != nil {
		return err
	}

	fields := logrus.Fields{
		"maker":  base58.Encode(a.Maker.Key()),
		"escrow": base58.Encode(a.Escrow.Key()),
		"vault":  base58.Encode(a.Vault.Key()),
	}
	log = log.WithFields(fields)
	tracer.AddAttributes(fields)

	err = InitAssociatedTokenAccountIfNeeded(ctx, rt, a.MakerAtaA, a.MintA, a.Maker, a.Maker, a.SystemProgram, a.TokenProgram)
	if err != nil {
		return errors.Wrap(err, "error initializing maker token account")
	}

	record, err := p.loadVerifiedEscrow(ctx, a)
	if err != nil {
		return err
	}
	log = log.WithField("seed", record.Seed)
	tracer.AddAttribute("seed", record.Seed)

	amount, err := vaultAmount(a.Vault)
	if err != nil {
		return err
	}
	log = log.WithField("amount", amount)

	signer := record.Signer(a.Maker.Key())

	err = rt.InvokeSigned(ctx, token.Transfer(a.Vault.Key(), a.MakerAtaA.Key(), a.Escrow.Key(), amount), a.all, signer)
	if err != nil {
		return errors.Wrap(err, "error transferring vault balance")
	}
	log.Debug("vault balance returned to maker")

	err = rt.InvokeSigned(ctx, token.CloseAccount(a.Vault.Key(), a.Maker.Key(), a.Escrow.Key()), a.all, signer)
	if err != nil {
		return errors.Wrap(err, "error closing vault")
	}
	log.Debug("vault closed")

	if err := CloseProgramAccount(a.Escrow, a.Maker); err != nil {
		return errors.Wrap(err, "error closing escrow")
	}

	log.Debug("escrow closed")
	return nil
}

// loadVerifiedEscrow loads the escrow record and confirms it re-derives the
// address of the account holding it.
func (p *Program) loadVerifiedEscrow(ctx context.Context, a *RefundAccounts) (*Escrow, error) {
	data, err := a.Escrow.BorrowData()
	if err != nil {
		return nil, err
	}
	defer data.Release()

	record, err := LoadEscrow(data.Bytes(), p.conf.recordSizePolicy(ctx))
	if err != nil {
		return nil, err
	}

	address, err := record.Address(a.Maker.Key())
	if err != nil {
		return nil, errors.Wrap(solana.InstructionErrorInvalidAccountOwner, err.Error())
	}
	if !bytes.Equal(address, a.Escrow.Key()) {
		return nil, errors.Wrapf(solana.InstructionErrorInvalidAccountOwner, "escrow record derives %s", base58.Encode(address))
	}

	return record, nil
}

func vaultAmount(vault *solana.AccountInfo) (uint64, error) {
	data, err := vault.BorrowData()
	if err != nil {
		return 0, err
	}
	defer data.Release()

	var state token.Account
	if !state.Unmarshal(data.Bytes()) {
		return 0, ErrInvalidAccountData
	}
	return state.Amount, nil
}
