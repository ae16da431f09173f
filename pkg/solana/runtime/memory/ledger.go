package memory

import (
	"context"
	"crypto/ed25519"
	"sync"
	"time"

	"github.com/mr-tron/base58"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/code-payments/code-escrow/pkg/metrics"
	"github.com/code-payments/code-escrow/pkg/solana"
	"github.com/code-payments/code-escrow/pkg/solana/runtime"
	"github.com/code-payments/code-escrow/pkg/solana/system"
	"github.com/code-payments/code-escrow/pkg/solana/token"
)

// DefaultMaxCallDepth is the maximum depth of nested program invocations,
// including the top level instruction.
//
// Reference: https://github.com/solana-labs/solana/blob/4e2754341514cd181ae3f373cc2548bd22e918b8/program-runtime/src/compute_budget.rs#L126
const DefaultMaxCallDepth = 5

const executeDurationMetricName = "Ledger/Execute/Duration"

// LedgerOption configures a Ledger.
type LedgerOption func(*ledgerOpts)

type ledgerOpts struct {
	rent         system.Rent
	maxCallDepth int
}

// WithRent configures the rent parameters used by the ledger.
func WithRent(rent system.Rent) LedgerOption {
	return func(o *ledgerOpts) {
		o.rent = rent
	}
}

// WithMaxCallDepth configures the maximum invocation depth.
func WithMaxCallDepth(depth int) LedgerOption {
	return func(o *ledgerOpts) {
		o.maxCallDepth = depth
	}
}

// Snapshot is a point in time copy of a committed account.
type Snapshot struct {
	Key        ed25519.PublicKey
	Owner      ed25519.PublicKey
	Lamports   uint64
	Data       []byte
	Executable bool
}

type storedAccount struct {
	owner      ed25519.PublicKey
	lamports   uint64
	data       []byte
	executable bool
}

// Ledger is an in-memory account store that executes instructions against
// registered programs. Each call to Execute is atomic: all account changes
// made by the instruction and the programs it invokes are committed together,
// or none are. Instructions are processed one at a time.
//
// The system, token and associated token account programs are registered by
// default.
type Ledger struct {
	log  *logrus.Entry
	opts ledgerOpts

	mu       sync.Mutex
	accounts map[string]*storedAccount
	programs map[string]runtime.Program
}

func NewLedger(opts ...LedgerOption) *Ledger {
	o := ledgerOpts{
		rent:         system.DefaultRent(),
		maxCallDepth: DefaultMaxCallDepth,
	}
	for _, opt := range opts {
		opt(&o)
	}

	l := &Ledger{
		log:      logrus.StandardLogger().WithField("type", "solana/runtime/memory"),
		opts:     o,
		accounts: make(map[string]*storedAccount),
		programs: make(map[string]runtime.Program),
	}

	l.RegisterProgram(system.ProgramKey, &systemProgram{})
	l.RegisterProgram(token.ProgramKey, &tokenProgram{})
	l.RegisterProgram(token.AssociatedTokenAccountProgramKey, &associatedTokenAccountProgram{})

	return l
}

// RegisterProgram makes program invokable at id, and stores an executable
// account for it so that it may be referenced by instructions.
func (l *Ledger) RegisterProgram(id ed25519.PublicKey, program runtime.Program) {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := string(id)
	l.programs[key] = program
	l.accounts[key] = &storedAccount{
		owner:      append(ed25519.PublicKey(nil), system.ProgramKey...),
		lamports:   1,
		executable: true,
	}
}

// SetAccount overwrites the committed state of an account.
func (l *Ledger) SetAccount(key, owner ed25519.PublicKey, lamports uint64, data []byte, executable bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(owner) == 0 {
		owner = system.ProgramKey
	}

	l.accounts[string(key)] = &storedAccount{
		owner:      append(ed25519.PublicKey(nil), owner...),
		lamports:   lamports,
		data:       append([]byte(nil), data...),
		executable: executable,
	}
}

// GetAccount returns a copy of the committed state of an account. Accounts
// that were never created, or that were garbage collected after their
// balance reached zero, are not found.
func (l *Ledger) GetAccount(key ed25519.PublicKey) (Snapshot, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	stored, ok := l.accounts[string(key)]
	if !ok {
		return Snapshot{}, false
	}

	return Snapshot{
		Key:        append(ed25519.PublicKey(nil), key...),
		Owner:      append(ed25519.PublicKey(nil), stored.owner...),
		Lamports:   stored.lamports,
		Data:       append([]byte(nil), stored.data...),
		Executable: stored.executable,
	}, true
}

// Rent returns the rent parameters of the ledger.
func (l *Ledger) Rent() system.Rent {
	return l.opts.rent
}

// Execute processes ix as a single transaction signed by signers.
//
// Program failures are returned as a solana.InstructionError, and leave the
// ledger unchanged.
func (l *Ledger) Execute(ctx context.Context, ix solana.Instruction, signers ...ed25519.PublicKey) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	start := time.Now()
	defer func() {
		metrics.RecordDuration(ctx, executeDurationMetricName, time.Since(start))
	}()

	log := l.log.WithFields(logrus.Fields{
		"method":   "Execute",
		"program":  base58.Encode(ix.Program),
		"accounts": ix.Accounts,
	})

	err := l.execute(ctx, ix, signers)
	if err != nil {
		ie := solana.InstructionError{Index: 0, Err: errors.Cause(err)}
		log.WithError(err).WithFields(logrus.Fields{
			"error_key": ie.ErrorKey(),
			"error_raw": ie.JSONString(),
		}).Debug("instruction failed, discarding changes")
		return ie
	}

	log.Debug("instruction committed")
	return nil
}

func (l *Ledger) execute(ctx context.Context, ix solana.Instruction, signers []ed25519.PublicKey) error {
	if err := ix.Validate(); err != nil {
		return errors.Wrap(solana.InstructionErrorInvalidArgument, err.Error())
	}

	signed := make(map[string]struct{}, len(signers))
	for _, signer := range signers {
		signed[string(signer)] = struct{}{}
	}

	loaded := make(map[string]*solana.AccountInfo)
	var order []string
	for _, meta := range ix.Accounts {
		if meta.IsSigner {
			if _, ok := signed[string(meta.PublicKey)]; !ok {
				return errors.Wrapf(solana.InstructionErrorMissingRequiredSignature, "%s did not sign", base58.Encode(meta.PublicKey))
			}
		}

		key := string(meta.PublicKey)
		existing, ok := loaded[key]
		if !ok {
			loaded[key] = l.load(meta.PublicKey, meta.IsSigner, meta.IsWritable)
			order = append(order, key)
			continue
		}

		// Privileges are per transaction, so duplicate references are
		// promoted to the union of their flags.
		loaded[key] = existing.WithPrivileges(existing.IsSigner() || meta.IsSigner, existing.IsWritable() || meta.IsWritable)
	}

	accounts := make([]*solana.AccountInfo, len(ix.Accounts))
	for i, meta := range ix.Accounts {
		accounts[i] = loaded[string(meta.PublicKey)]
	}

	inv := &invocation{ledger: l}
	if err := inv.process(ctx, ix, accounts); err != nil {
		return err
	}

	for _, key := range order {
		l.commit(loaded[key])
	}
	return nil
}

func (l *Ledger) load(key ed25519.PublicKey, isSigner, isWritable bool) *solana.AccountInfo {
	args := &solana.NewAccountInfoArgs{
		Key:        key,
		IsSigner:   isSigner,
		IsWritable: isWritable,
	}

	if stored, ok := l.accounts[string(key)]; ok {
		args.Owner = stored.owner
		args.Lamports = stored.lamports
		args.Data = stored.data
		args.Executable = stored.executable
	}

	return solana.NewAccountInfo(args)
}

func (l *Ledger) commit(info *solana.AccountInfo) {
	key := string(info.Key())

	if info.Lamports() == 0 && !info.Executable() {
		delete(l.accounts, key)
		return
	}

	data, _ := info.BorrowData()
	defer data.Release()

	l.accounts[key] = &storedAccount{
		owner:      append(ed25519.PublicKey(nil), info.Owner()...),
		lamports:   info.Lamports(),
		data:       append([]byte(nil), data.Bytes()...),
		executable: info.Executable(),
	}
}
