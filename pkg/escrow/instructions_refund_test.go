package escrow

import (
	"context"
	"crypto/ed25519"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/code-payments/code-escrow/pkg/solana"
	"github.com/code-payments/code-escrow/pkg/solana/runtime"
	"github.com/code-payments/code-escrow/pkg/solana/runtime/memory"
	"github.com/code-payments/code-escrow/pkg/solana/system"
	"github.com/code-payments/code-escrow/pkg/solana/token"
)

const (
	testMakerBalance = 1_000_000_000

	escrowRent       = 1_677_360
	tokenAccountRent = 2_039_280
)

type testEnv struct {
	ctx    context.Context
	ledger *memory.Ledger

	maker    ed25519.PublicKey
	mintA    ed25519.PublicKey
	mintB    ed25519.PublicKey
	escrow   ed25519.PublicKey
	vault    ed25519.PublicKey
	makerAta ed25519.PublicKey

	record *Escrow
}

func TestRefund_ReturnsDeposit(t *testing.T) {
	env := setup(t, 42, 1_000, EscrowSize, &testOverrides{})

	before := env.lamports(t, env.maker)

	require.NoError(t, env.refund(t))

	refunded := getTokenAccount(t, env.ledger, env.makerAta)
	assert.EqualValues(t, 1_000, refunded.Amount)
	assert.EqualValues(t, env.mintA, refunded.Mint)
	assert.EqualValues(t, env.maker, refunded.Owner)

	_, ok := env.ledger.GetAccount(env.vault)
	assert.False(t, ok)
	_, ok = env.ledger.GetAccount(env.escrow)
	assert.False(t, ok)

	// The vault's rent pays for the maker's new token account.
	assert.EqualValues(t, before+escrowRent, env.lamports(t, env.maker))
}

func TestRefund_ExistingMakerTokenAccount(t *testing.T) {
	env := setup(t, 7, 250, EscrowSize, &testOverrides{})

	ix, _, err := token.CreateAssociatedTokenAccountIdempotent(env.maker, env.maker, env.mintA)
	require.NoError(t, err)
	require.NoError(t, env.ledger.Execute(env.ctx, ix, env.maker))
	env.setTokenAmount(t, env.makerAta, 5)

	before := env.lamports(t, env.maker)

	require.NoError(t, env.refund(t))

	assert.EqualValues(t, 255, getTokenAccount(t, env.ledger, env.makerAta).Amount)
	assert.EqualValues(t, before+escrowRent+tokenAccountRent, env.lamports(t, env.maker))
}

func TestRefund_PrefundedMakerTokenAddress(t *testing.T) {
	for _, prefunded := range []uint64{1, tokenAccountRent + 10} {
		env := setup(t, 9, 300, EscrowSize, &testOverrides{})

		// Lamports sent to the address before the account exists.
		env.ledger.SetAccount(env.makerAta, nil, prefunded, nil, false)

		before := env.lamports(t, env.maker)

		require.NoError(t, env.refund(t))

		refunded := getTokenAccount(t, env.ledger, env.makerAta)
		assert.EqualValues(t, 300, refunded.Amount)
		assert.EqualValues(t, env.maker, refunded.Owner)

		created := env.account(t, env.makerAta)
		assert.EqualValues(t, token.ProgramKey, created.Owner)

		if prefunded < tokenAccountRent {
			assert.EqualValues(t, tokenAccountRent, created.Lamports)
			assert.EqualValues(t, before+escrowRent+prefunded, env.lamports(t, env.maker))
		} else {
			assert.EqualValues(t, prefunded, created.Lamports)
			assert.EqualValues(t, before+escrowRent+tokenAccountRent, env.lamports(t, env.maker))
		}

		_, ok := env.ledger.GetAccount(env.escrow)
		assert.False(t, ok)
	}
}

func TestRefund_EmptyVault(t *testing.T) {
	env := setup(t, 1, 0, EscrowSize, &testOverrides{})

	require.NoError(t, env.refund(t))

	assert.EqualValues(t, 0, getTokenAccount(t, env.ledger, env.makerAta).Amount)

	_, ok := env.ledger.GetAccount(env.vault)
	assert.False(t, ok)
	_, ok = env.ledger.GetAccount(env.escrow)
	assert.False(t, ok)
}

func TestRefund_AlreadyRefunded(t *testing.T) {
	env := setup(t, 42, 1_000, EscrowSize, &testOverrides{})

	require.NoError(t, env.refund(t))

	before := env.snapshot()
	assert.Equal(t, solana.InstructionError{Index: 0, Err: ErrInvalidOwner}, env.refund(t))
	assert.Equal(t, before, env.snapshot())
}

func TestRefund_ForeignEscrowOwner(t *testing.T) {
	env := setup(t, 42, 1_000, EscrowSize, &testOverrides{})

	stored := env.account(t, env.escrow)
	env.ledger.SetAccount(env.escrow, token.ProgramKey, stored.Lamports, stored.Data, false)

	before := env.snapshot()
	assert.Equal(t, solana.InstructionError{Index: 0, Err: ErrInvalidOwner}, env.refund(t))
	assert.Equal(t, before, env.snapshot())
}

func TestRefund_MakerNotSigner(t *testing.T) {
	env := setup(t, 42, 1_000, EscrowSize, &testOverrides{})

	ix := env.refundInstruction(t)
	ix.Accounts[0].IsSigner = false

	before := env.snapshot()
	assert.Equal(t, solana.InstructionError{Index: 0, Err: ErrNotSigner}, env.ledger.Execute(env.ctx, ix))
	assert.Equal(t, before, env.snapshot())
}

func TestRefund_WrongVault(t *testing.T) {
	env := setup(t, 42, 1_000, EscrowSize, &testOverrides{})

	impostor := generateKeys(t, 1)[0]
	state := token.Account{
		Mint:   env.mintA,
		Owner:  env.escrow,
		Amount: 1_000,
		State:  token.AccountStateInitialized,
	}
	env.ledger.SetAccount(impostor, token.ProgramKey, tokenAccountRent, state.Marshal(), false)

	ix := env.refundInstruction(t)
	ix.Accounts[3].PublicKey = impostor

	before := env.snapshot()
	assert.Equal(t, solana.InstructionError{Index: 0, Err: ErrInvalidAddress}, env.ledger.Execute(env.ctx, ix, env.maker))
	assert.Equal(t, before, env.snapshot())
}

func TestRefund_WrongMaker(t *testing.T) {
	env := setup(t, 42, 1_000, EscrowSize, &testOverrides{})

	attacker := generateKeys(t, 1)[0]
	env.ledger.SetAccount(attacker, nil, testMakerBalance, nil, false)

	ix, err := NewRefundInstruction(&RefundInstructionAccounts{
		Maker:  attacker,
		Escrow: env.escrow,
		MintA:  env.mintA,
	})
	require.NoError(t, err)

	attackerAta, err := token.GetAssociatedAccount(attacker, env.mintA)
	require.NoError(t, err)

	before := env.snapshot()
	assert.Equal(t, solana.InstructionError{Index: 0, Err: solana.InstructionErrorInvalidAccountOwner}, env.ledger.Execute(env.ctx, ix, attacker))
	assert.Equal(t, before, env.snapshot())

	_, ok := env.ledger.GetAccount(attackerAta)
	assert.False(t, ok)
	assert.EqualValues(t, testMakerBalance, env.lamports(t, attacker))
}

func TestRefund_DerivationMismatch(t *testing.T) {
	env := setup(t, 42, 1_000, EscrowSize, &testOverrides{})

	stored := env.account(t, env.escrow)
	binary.LittleEndian.PutUint64(stored.Data[0:8], 43)
	env.ledger.SetAccount(env.escrow, PROGRAM_ID, stored.Lamports, stored.Data, false)

	before := env.snapshot()
	assert.Equal(t, solana.InstructionError{Index: 0, Err: solana.InstructionErrorInvalidAccountOwner}, env.refund(t))

	// The maker token account created along the way is rolled back.
	assert.Equal(t, before, env.snapshot())
	_, ok := env.ledger.GetAccount(env.makerAta)
	assert.False(t, ok)
}

func TestRefund_ClosedRecord(t *testing.T) {
	env := setup(t, 42, 1_000, EscrowSize, &testOverrides{})

	stored := env.account(t, env.escrow)
	env.ledger.SetAccount(env.escrow, PROGRAM_ID, stored.Lamports, []byte{ClosedAccountDiscriminator}, false)

	before := env.snapshot()
	assert.Equal(t, solana.InstructionError{Index: 0, Err: ErrInvalidAccountData}, env.refund(t))
	assert.Equal(t, before, env.snapshot())
}

func TestRefund_RecordSizePolicy(t *testing.T) {
	const space = EscrowSize + 7

	strict := setup(t, 42, 1_000, space, &testOverrides{})
	assert.Equal(t, solana.InstructionError{Index: 0, Err: ErrInvalidAccountData}, strict.refund(t))

	lenient := setup(t, 42, 1_000, space, &testOverrides{lenientRecordSize: true})
	stored := lenient.account(t, lenient.escrow)
	assert.EqualValues(t, 1_726_080, stored.Lamports)

	before := lenient.lamports(t, lenient.maker)
	require.NoError(t, lenient.refund(t))

	assert.EqualValues(t, 1_000, getTokenAccount(t, lenient.ledger, lenient.makerAta).Amount)
	assert.EqualValues(t, before+1_726_080, lenient.lamports(t, lenient.maker))
}

func TestProgram_Dispatch(t *testing.T) {
	env := setup(t, 42, 1_000, EscrowSize, &testOverrides{})
	ix := env.refundInstruction(t)

	for _, data := range [][]byte{
		nil,
		{byte(InstructionMake)},
		{byte(InstructionTake)},
		{9},
	} {
		invalid := ix.Clone()
		invalid.Data = data

		assert.Equal(t, solana.InstructionError{Index: 0, Err: solana.InstructionErrorInvalidInstructionData}, env.ledger.Execute(env.ctx, invalid, env.maker))
	}

	truncated := ix.Clone()
	truncated.Accounts = truncated.Accounts[:RefundInstructionAccountsCount-1]
	assert.Equal(t, solana.InstructionError{Index: 0, Err: solana.InstructionErrorNotEnoughAccountKeys}, env.ledger.Execute(env.ctx, truncated, env.maker))

	// Nothing was refunded by the rejected instructions.
	assert.EqualValues(t, 1_000, getTokenAccount(t, env.ledger, env.vault).Amount)
}

func TestNewRefundInstruction(t *testing.T) {
	keys := generateKeys(t, 3)
	maker, escrow, mintA := keys[0], keys[1], keys[2]

	ix, err := NewRefundInstruction(&RefundInstructionAccounts{
		Maker:  maker,
		Escrow: escrow,
		MintA:  mintA,
	})
	require.NoError(t, err)

	vault, err := token.GetAssociatedAccount(escrow, mintA)
	require.NoError(t, err)
	makerAta, err := token.GetAssociatedAccount(maker, mintA)
	require.NoError(t, err)

	assert.EqualValues(t, PROGRAM_ID, ix.Program)
	assert.Equal(t, []byte{2}, ix.Data)
	require.Len(t, ix.Accounts, RefundInstructionAccountsCount)

	expected := []solana.AccountMeta{
		{PublicKey: maker, IsSigner: true, IsWritable: true},
		{PublicKey: escrow, IsWritable: true},
		{PublicKey: mintA},
		{PublicKey: vault, IsWritable: true},
		{PublicKey: makerAta, IsWritable: true},
		{PublicKey: system.ProgramKey},
		{PublicKey: token.ProgramKey},
		{PublicKey: token.AssociatedTokenAccountProgramKey},
	}
	for i, meta := range expected {
		assert.EqualValues(t, meta.PublicKey, ix.Accounts[i].PublicKey, "account %d", i)
		assert.Equal(t, meta.IsSigner, ix.Accounts[i].IsSigner, "account %d", i)
		assert.Equal(t, meta.IsWritable, ix.Accounts[i].IsWritable, "account %d", i)
	}
}

// setup opens an escrow of seed for a funded maker, with deposit units of
// mint A in its vault, and installs the refund program.
func setup(t *testing.T, seed, deposit, space uint64, overrides *testOverrides) *testEnv {
	keys := generateKeys(t, 3)

	env := &testEnv{
		ctx:    context.Background(),
		ledger: memory.NewLedger(),
		maker:  keys[0],
		mintA:  keys[1],
		mintB:  keys[2],
	}

	escrow, bump, err := GetEscrowAddress(env.maker, seed)
	require.NoError(t, err)
	env.escrow = escrow
	env.record = NewEscrow(env.maker, env.mintA, env.mintB, seed, 2*deposit+1, bump)

	env.vault, err = token.GetAssociatedAccount(env.escrow, env.mintA)
	require.NoError(t, err)
	env.makerAta, err = token.GetAssociatedAccount(env.maker, env.mintA)
	require.NoError(t, err)

	env.ledger.SetAccount(env.maker, nil, testMakerBalance, nil, false)
	env.setMint(env.mintA)
	env.setMint(env.mintB)

	// Stands in for the instruction that opens an escrow.
	env.ledger.RegisterProgram(PROGRAM_ID, runtime.ProgramFunc(func(ctx context.Context, rt runtime.Runtime, accounts []*solana.AccountInfo, _ []byte) error {
		maker, escrow, mintA, vault, systemProgram, tokenProgram := accounts[0], accounts[1], accounts[2], accounts[3], accounts[4], accounts[5]

		if err := InitProgramAccount(ctx, rt, maker, escrow, env.record.Signer(maker.Key()), space); err != nil {
			return err
		}

		encoded, err := env.record.Marshal()
		if err != nil {
			return err
		}

		data, err := escrow.BorrowMutData()
		if err != nil {
			return err
		}
		copy(data.Bytes(), encoded)
		data.Release()

		return InitAssociatedTokenAccountIfNeeded(ctx, rt, vault, mintA, maker, escrow, systemProgram, tokenProgram)
	}))

	err = env.ledger.Execute(
		env.ctx,
		solana.NewInstruction(
			PROGRAM_ID,
			[]byte{byte(InstructionMake)},
			solana.NewAccountMeta(env.maker, true),
			solana.NewAccountMeta(env.escrow, false),
			solana.NewReadonlyAccountMeta(env.mintA, false),
			solana.NewAccountMeta(env.vault, false),
			solana.NewReadonlyAccountMeta(system.ProgramKey, false),
			solana.NewReadonlyAccountMeta(token.ProgramKey, false),
			solana.NewReadonlyAccountMeta(token.AssociatedTokenAccountProgramKey, false),
		),
		env.maker,
	)
	require.NoError(t, err)

	env.setTokenAmount(t, env.vault, deposit)

	env.ledger.RegisterProgram(PROGRAM_ID, NewProgram(withManualTestOverrides(overrides)))
	return env
}

func (e *testEnv) refundInstruction(t *testing.T) solana.Instruction {
	ix, err := NewRefundInstruction(&RefundInstructionAccounts{
		Maker:  e.maker,
		Escrow: e.escrow,
		MintA:  e.mintA,
	})
	require.NoError(t, err)
	return ix
}

func (e *testEnv) refund(t *testing.T) error {
	return e.ledger.Execute(e.ctx, e.refundInstruction(t), e.maker)
}

func (e *testEnv) setMint(key ed25519.PublicKey) {
	state := token.Mint{
		Decimals:      6,
		IsInitialized: true,
	}
	e.ledger.SetAccount(key, token.ProgramKey, e.ledger.Rent().MinimumBalance(token.MintSize), state.Marshal(), false)
}

func (e *testEnv) setTokenAmount(t *testing.T, key ed25519.PublicKey, amount uint64) {
	stored := e.account(t, key)

	state := getTokenAccount(t, e.ledger, key)
	state.Amount = amount
	e.ledger.SetAccount(key, stored.Owner, stored.Lamports, state.Marshal(), false)
}

func (e *testEnv) account(t *testing.T, key ed25519.PublicKey) memory.Snapshot {
	snapshot, ok := e.ledger.GetAccount(key)
	require.True(t, ok)
	return snapshot
}

func (e *testEnv) lamports(t *testing.T, key ed25519.PublicKey) uint64 {
	return e.account(t, key).Lamports
}

// snapshot captures every account a refund touches. Missing accounts are
// recorded as zero values.
func (e *testEnv) snapshot() []memory.Snapshot {
	var snapshots []memory.Snapshot
	for _, key := range []ed25519.PublicKey{e.maker, e.escrow, e.mintA, e.vault, e.makerAta} {
		snapshot, _ := e.ledger.GetAccount(key)
		snapshots = append(snapshots, snapshot)
	}
	return snapshots
}

func getTokenAccount(t *testing.T, ledger *memory.Ledger, key ed25519.PublicKey) *token.Account {
	snapshot, ok := ledger.GetAccount(key)
	require.True(t, ok)

	var state token.Account
	require.True(t, state.Unmarshal(snapshot.Data))
	return &state
}
