package escrow

import (
	"bytes"
	"context"

	"github.com/mr-tron/base58"
	"github.com/pkg/errors"

	"github.com/code-payments/code-escrow/pkg/solana"
	"github.com/code-payments/code-escrow/pkg/solana/runtime"
	"github.com/code-payments/code-escrow/pkg/solana/system"
)

// ClosedAccountDiscriminator is written to the first byte of a program
// account when it is closed, so its data can never decode as a live record.
const ClosedAccountDiscriminator = 0xff

// IsClosed reports whether data is what remains of a closed program account.
func IsClosed(data []byte) bool {
	return len(data) == 0 || len(data) == 1 && data[0] == ClosedAccountDiscriminator
}

// InitProgramAccount creates account as a rent exempt program account of
// space bytes, funded by payer. The program signs for account with signer,
// which must derive account's address under the escrow program.
func InitProgramAccount(
	ctx context.Context,
	rt runtime.Runtime,
	payer, account *solana.AccountInfo,
	signer solana.Signer,
	space uint64,
) error {
	address, err := signer.Address(PROGRAM_ID)
	if err != nil {
		return err
	}
	if !bytes.Equal(address, account.Key()) {
		return errors.Wrapf(solana.InstructionErrorInvalidSeeds, "seeds derive %s", base58.Encode(address))
	}

	if account.Lamports() > 0 || !account.DataIsEmpty() {
		return errors.Wrapf(solana.InstructionErrorAccountAlreadyInitialized, "%s already in use", base58.Encode(account.Key()))
	}

	lamports := rt.Rent().MinimumBalance(space)
	if payer.Lamports() < lamports {
		return errors.Wrapf(solana.InstructionErrorInsufficientFunds, "rent requires %d lamports", lamports)
	}

	return rt.InvokeSigned(
		ctx,
		system.CreateAccount(payer.Key(), account.Key(), PROGRAM_ID, lamports, space),
		[]*solana.AccountInfo{payer, account},
		signer,
	)
}

// CloseProgramAccount closes a program account, sending its lamports to
// destination. The closed discriminator is written before anything else, and
// is left in place if a later step fails.
func CloseProgramAccount(account, destination *solana.AccountInfo) error {
	if !account.IsWritable() || !destination.IsWritable() {
		return errors.Wrap(solana.InstructionErrorInvalidArgument, "closed and destination accounts must be writable")
	}
	if account.SharesState(destination) {
		return errors.Wrap(solana.InstructionErrorInvalidArgument, "cannot close an account into itself")
	}

	if err := markClosed(account); err != nil {
		return err
	}

	if err := sweepLamports(account, destination); err != nil {
		return err
	}

	if err := account.Resize(1); err != nil {
		return err
	}
	return account.Close()
}

func markClosed(account *solana.AccountInfo) error {
	data, err := account.BorrowMutData()
	if err != nil {
		return err
	}
	defer data.Release()

	if len(data.Bytes()) == 0 {
		return ErrInvalidAccountData
	}

	data.Bytes()[0] = ClosedAccountDiscriminator
	return nil
}

func sweepLamports(from, to *solana.AccountInfo) error {
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

	total := dst.Get() + src.Get()
	if total < dst.Get() {
		return errors.Wrapf(solana.InstructionErrorArithmeticOverflow, "cannot sweep %d into %d", src.Get(), dst.Get())
	}

	dst.Set(total)
	src.Set(0)
	return nil
}
