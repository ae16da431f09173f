package memory

import (
	"bytes"
	"context"
	"crypto/ed25519"

	"github.com/mr-tron/base58"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/code-payments/code-escrow/pkg/solana"
	"github.com/code-payments/code-escrow/pkg/solana/system"
)

// invocation is one frame of the call stack. The root frame has no program
// and only exists to start the top level instruction.
type invocation struct {
	ledger  *Ledger
	parent  *invocation
	program ed25519.PublicKey
	depth   int

	accounts    map[string]*frameAccount
	order       []string
	preLamports uint64
}

// frameAccount is an account as seen by a frame, along with the state it had
// when the frame last verified it.
type frameAccount struct {
	info       *solana.AccountInfo
	isSigner   bool
	isWritable bool

	owner      ed25519.PublicKey
	lamports   uint64
	data       []byte
	executable bool
}

func (inv *invocation) Rent() system.Rent {
	return inv.ledger.opts.rent
}

// InvokeSigned implements runtime.Runtime.InvokeSigned.
func (inv *invocation) InvokeSigned(ctx context.Context, ix solana.Instruction, accounts []*solana.AccountInfo, signers ...solana.Signer) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	inv.ledger.log.WithFields(logrus.Fields{
		"method": "InvokeSigned",
		"caller": base58.Encode(inv.program),
		"callee": base58.Encode(ix.Program),
		"depth":  inv.depth,
	}).Trace("invoking program")

	resolved := make([]*solana.AccountInfo, len(ix.Accounts))
	shared := make(map[string]struct{}, len(ix.Accounts))
	for i, meta := range ix.Accounts {
		key := string(meta.PublicKey)

		fa, ok := inv.accounts[key]
		if !ok || !containsHandle(accounts, fa.info) {
			return errors.Wrapf(solana.InstructionErrorMissingAccount, "%s not provided", base58.Encode(meta.PublicKey))
		}
		if fa.info.HasOutstandingBorrows() {
			return errors.Wrapf(solana.InstructionErrorAccountBorrowOutstanding, "%s is borrowed", base58.Encode(meta.PublicKey))
		}
		if meta.IsWritable && !fa.isWritable {
			return errors.Wrapf(solana.InstructionErrorPrivilegeEscalation, "%s is not writable", base58.Encode(meta.PublicKey))
		}
		if meta.IsSigner && !fa.isSigner && !anyAuthorizes(signers, inv.program, meta.PublicKey) {
			return errors.Wrapf(solana.InstructionErrorMissingRequiredSignature, "%s is not a signer", base58.Encode(meta.PublicKey))
		}

		resolved[i] = fa.info.WithPrivileges(meta.IsSigner, meta.IsWritable)
		shared[key] = struct{}{}
	}

	// Changes made by the caller so far have to be valid before the callee
	// observes them.
	for key := range shared {
		if err := inv.accounts[key].verify(inv.program); err != nil {
			return err
		}
	}

	if err := inv.process(ctx, ix, resolved); err != nil {
		return err
	}

	for key := range shared {
		if err := inv.accounts[key].snapshot(); err != nil {
			return err
		}
	}
	return nil
}

// process runs ix in a new frame directly below inv.
func (inv *invocation) process(ctx context.Context, ix solana.Instruction, accounts []*solana.AccountInfo) error {
	ledger := inv.ledger

	if inv.depth+1 > ledger.opts.maxCallDepth {
		return solana.InstructionErrorCallDepth
	}

	program, ok := ledger.programs[string(ix.Program)]
	if !ok {
		return errors.Wrapf(solana.InstructionErrorUnsupportedProgramID, "program %s not registered", base58.Encode(ix.Program))
	}

	// Only direct recursion is permitted.
	if !bytes.Equal(inv.program, ix.Program) {
		for frame := inv.parent; frame != nil && frame.program != nil; frame = frame.parent {
			if bytes.Equal(frame.program, ix.Program) {
				return solana.InstructionErrorReentrancyNotAllowed
			}
		}
	}

	callee, err := newInvocation(inv, ix.Program, accounts)
	if err != nil {
		return err
	}

	if err := program.ProcessInstruction(ctx, callee, accounts, ix.Data); err != nil {
		return err
	}

	return callee.verify()
}

func newInvocation(parent *invocation, program ed25519.PublicKey, accounts []*solana.AccountInfo) (*invocation, error) {
	inv := &invocation{
		ledger:   parent.ledger,
		parent:   parent,
		program:  program,
		depth:    parent.depth + 1,
		accounts: make(map[string]*frameAccount, len(accounts)),
	}

	for _, info := range accounts {
		key := string(info.Key())

		if fa, ok := inv.accounts[key]; ok {
			fa.isSigner = fa.isSigner || info.IsSigner()
			fa.isWritable = fa.isWritable || info.IsWritable()
			continue
		}

		fa := &frameAccount{
			info:       info,
			isSigner:   info.IsSigner(),
			isWritable: info.IsWritable(),
		}
		if err := fa.snapshot(); err != nil {
			return nil, err
		}

		inv.accounts[key] = fa
		inv.order = append(inv.order, key)
		inv.preLamports += fa.lamports
	}

	return inv, nil
}

// verify checks every account in the frame once the program has returned.
func (inv *invocation) verify() error {
	var postLamports uint64
	for _, key := range inv.order {
		fa := inv.accounts[key]

		if fa.info.HasOutstandingBorrows() {
			return errors.Wrapf(solana.InstructionErrorAccountBorrowOutstanding, "%s is borrowed", base58.Encode(fa.info.Key()))
		}
		if err := fa.verify(inv.program); err != nil {
			return err
		}

		postLamports += fa.info.Lamports()
	}

	if postLamports != inv.preLamports {
		return errors.Wrapf(solana.InstructionErrorUnbalancedInstruction, "lamports before %d, after %d", inv.preLamports, postLamports)
	}
	return nil
}

// verify checks the changes made to the account by program since the last
// snapshot.
//
// Reference: https://github.com/solana-labs/solana/blob/4e2754341514cd181ae3f373cc2548bd22e918b8/program-runtime/src/pre_account.rs#L44
func (fa *frameAccount) verify(program ed25519.PublicKey) error {
	data, err := fa.info.BorrowData()
	if err != nil {
		return solana.InstructionErrorAccountBorrowOutstanding
	}
	defer data.Release()

	key := base58.Encode(fa.info.Key())
	isOwner := bytes.Equal(program, fa.owner)

	if !bytes.Equal(fa.owner, fa.info.Owner()) {
		if !fa.isWritable || fa.executable || !isOwner || !isZeroed(data.Bytes()) {
			return errors.Wrapf(solana.InstructionErrorModifiedProgramID, "%s owner changed", key)
		}
	}

	lamports := fa.info.Lamports()
	if !isOwner && fa.lamports > lamports {
		return errors.Wrapf(solana.InstructionErrorExternalAccountLamportSpend, "%s debited", key)
	}
	if fa.lamports != lamports && (!fa.isWritable || fa.executable) {
		return errors.Wrapf(solana.InstructionErrorReadonlyLamportChange, "%s balance changed", key)
	}

	if !bytes.Equal(fa.data, data.Bytes()) && !(isOwner && fa.isWritable && !fa.executable) {
		if !fa.isWritable {
			return errors.Wrapf(solana.InstructionErrorReadonlyDataModified, "%s data changed", key)
		}
		return errors.Wrapf(solana.InstructionErrorExternalAccountDataModified, "%s data changed", key)
	}

	return nil
}

func (fa *frameAccount) snapshot() error {
	data, err := fa.info.BorrowData()
	if err != nil {
		return solana.InstructionErrorAccountBorrowOutstanding
	}
	defer data.Release()

	fa.owner = append(ed25519.PublicKey(nil), fa.info.Owner()...)
	fa.lamports = fa.info.Lamports()
	fa.data = append(fa.data[:0], data.Bytes()...)
	fa.executable = fa.info.Executable()
	return nil
}

func anyAuthorizes(signers []solana.Signer, program, key ed25519.PublicKey) bool {
	for _, signer := range signers {
		if signer.Authorizes(program, key) {
			return true
		}
	}
	return false
}

func containsHandle(accounts []*solana.AccountInfo, info *solana.AccountInfo) bool {
	for _, account := range accounts {
		if info.SharesState(account) {
			return true
		}
	}
	return false
}

func isZeroed(data []byte) bool {
	for _, b := range data {
		if b != 0 {
			return false
		}
	}
	return true
}
