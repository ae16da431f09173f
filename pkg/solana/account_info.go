package solana

import (
	"bytes"
	"crypto/ed25519"
)

// MaxPermittedDataIncrease is the maximum number of bytes an account may grow
// by within a single instruction.
//
// Reference: https://github.com/solana-labs/solana/blob/4e2754341514cd181ae3f373cc2548bd22e918b8/sdk/program/src/entrypoint.rs#L40
const MaxPermittedDataIncrease = 10 * 1024

const mutableBorrow = -1

// SystemProgramKey is the all-zero address of the system program, which owns
// every account that has not been assigned to another program.
var SystemProgramKey = ed25519.PublicKey(make([]byte, ed25519.PublicKeySize))

type accountState struct {
	key        ed25519.PublicKey
	owner      ed25519.PublicKey
	lamports   uint64
	data       []byte
	executable bool

	originalDataLen int

	dataBorrows     int
	lamportsBorrows int
}

// AccountInfo is the handle a program receives for one account of an
// instruction. Handles returned by WithPrivileges share the underlying state,
// so a change made through one is visible through all of them.
type AccountInfo struct {
	state *accountState

	isSigner   bool
	isWritable bool
}

type NewAccountInfoArgs struct {
	Key        ed25519.PublicKey
	Owner      ed25519.PublicKey
	Lamports   uint64
	Data       []byte
	Executable bool
	IsSigner   bool
	IsWritable bool
}

// NewAccountInfo returns a handle over a private copy of the provided state.
func NewAccountInfo(args *NewAccountInfoArgs) *AccountInfo {
	owner := args.Owner
	if len(owner) == 0 {
		owner = SystemProgramKey
	}

	return &AccountInfo{
		state: &accountState{
			key:             append(ed25519.PublicKey(nil), args.Key...),
			owner:           append(ed25519.PublicKey(nil), owner...),
			lamports:        args.Lamports,
			data:            append([]byte{}, args.Data...),
			executable:      args.Executable,
			originalDataLen: len(args.Data),
		},
		isSigner:   args.IsSigner,
		isWritable: args.IsWritable,
	}
}

// WithPrivileges returns a handle over the same account with different
// signer and writable flags.
func (a *AccountInfo) WithPrivileges(isSigner, isWritable bool) *AccountInfo {
	return &AccountInfo{
		state:      a.state,
		isSigner:   isSigner,
		isWritable: isWritable,
	}
}

// SharesState reports whether both handles refer to the same account.
func (a *AccountInfo) SharesState(other *AccountInfo) bool {
	return other != nil && a.state == other.state
}

func (a *AccountInfo) Key() ed25519.PublicKey {
	return a.state.key
}

func (a *AccountInfo) Owner() ed25519.PublicKey {
	return a.state.owner
}

func (a *AccountInfo) IsOwnedBy(program ed25519.PublicKey) bool {
	return bytes.Equal(a.state.owner, program)
}

func (a *AccountInfo) IsSigner() bool {
	return a.isSigner
}

func (a *AccountInfo) IsWritable() bool {
	return a.isWritable
}

func (a *AccountInfo) Executable() bool {
	return a.state.executable
}

// Lamports returns the balance without taking a borrow.
func (a *AccountInfo) Lamports() uint64 {
	return a.state.lamports
}

func (a *AccountInfo) DataLen() int {
	return len(a.state.data)
}

// DataIsEmpty reports whether the account holds no data.
func (a *AccountInfo) DataIsEmpty() bool {
	return len(a.state.data) == 0
}

// Assign changes the owning program. Callers are responsible for upholding
// the ownership rules; the runtime verifies them when the instruction ends.
func (a *AccountInfo) Assign(owner ed25519.PublicKey) {
	a.state.owner = append(ed25519.PublicKey(nil), owner...)
}

// DataRef is a scoped borrow of an account's data.
type DataRef struct {
	state    *accountState
	mutable  bool
	released bool
}

// BorrowData takes a shared borrow of the account data. It fails while a
// mutable borrow is outstanding.
func (a *AccountInfo) BorrowData() (*DataRef, error) {
	if a.state.dataBorrows == mutableBorrow {
		return nil, InstructionErrorAccountBorrowFailed
	}

	a.state.dataBorrows++
	return &DataRef{state: a.state}, nil
}

// BorrowMutData takes an exclusive borrow of the account data. It fails while
// any other borrow is outstanding.
func (a *AccountInfo) BorrowMutData() (*DataRef, error) {
	if a.state.dataBorrows != 0 {
		return nil, InstructionErrorAccountBorrowFailed
	}

	a.state.dataBorrows = mutableBorrow
	return &DataRef{state: a.state, mutable: true}, nil
}

// Bytes returns the borrowed data. The slice must not be retained after
// Release, and must not be written through a shared borrow.
func (r *DataRef) Bytes() []byte {
	if r.released {
		return nil
	}
	return r.state.data
}

// Release ends the borrow. Releasing twice is a no-op.
func (r *DataRef) Release() {
	if r.released {
		return
	}
	r.released = true

	if r.mutable {
		r.state.dataBorrows = 0
	} else {
		r.state.dataBorrows--
	}
}

// LamportsRef is a scoped, exclusive borrow of an account's balance.
type LamportsRef struct {
	state    *accountState
	released bool
}

// BorrowMutLamports takes an exclusive borrow of the balance.
func (a *AccountInfo) BorrowMutLamports() (*LamportsRef, error) {
	if a.state.lamportsBorrows != 0 {
		return nil, InstructionErrorAccountBorrowFailed
	}

	a.state.lamportsBorrows = mutableBorrow
	return &LamportsRef{state: a.state}, nil
}

func (r *LamportsRef) Get() uint64 {
	return r.state.lamports
}

func (r *LamportsRef) Set(v uint64) {
	if r.released {
		return
	}
	r.state.lamports = v
}

func (r *LamportsRef) Release() {
	if r.released {
		return
	}
	r.released = true
	r.state.lamportsBorrows = 0
}

// HasOutstandingBorrows reports whether any data or balance borrow has not
// been released.
func (a *AccountInfo) HasOutstandingBorrows() bool {
	return a.state.dataBorrows != 0 || a.state.lamportsBorrows != 0
}

// Resize changes the length of the account data, zero filling any growth.
func (a *AccountInfo) Resize(newLen int) error {
	if newLen < 0 || newLen > a.state.originalDataLen+MaxPermittedDataIncrease {
		return InstructionErrorInvalidRealloc
	}
	if a.state.dataBorrows != 0 {
		return InstructionErrorAccountBorrowFailed
	}

	current := len(a.state.data)
	if newLen <= current {
		a.state.data = a.state.data[:newLen]
		return nil
	}

	a.state.data = append(a.state.data, make([]byte, newLen-current)...)
	return nil
}

// Close zeroes the balance, empties the data and hands the account back to
// the system program, after which the runtime garbage collects it.
func (a *AccountInfo) Close() error {
	if a.HasOutstandingBorrows() {
		return InstructionErrorAccountBorrowFailed
	}

	a.state.lamports = 0
	a.state.data = a.state.data[:0]
	a.state.owner = append(ed25519.PublicKey(nil), SystemProgramKey...)
	return nil
}
