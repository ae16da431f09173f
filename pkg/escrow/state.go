package escrow

import (
	"crypto/ed25519"
	"fmt"

	"github.com/mr-tron/base58"
	"github.com/near/borsh-go"
	"github.com/pkg/errors"
)

const EscrowSize = (8 + // seed
	32 + // maker
	32 + // mint_a
	32 + // mint_b
	8 + // receive
	1) // bump

// RecordSizePolicy decides how strictly the size of a program account is
// matched against the record it is expected to hold.
type RecordSizePolicy uint8

const (
	// RecordSizeExact requires the account data to be exactly the record size.
	RecordSizeExact RecordSizePolicy = iota
	// RecordSizeAtLeast accepts trailing bytes after the record.
	RecordSizeAtLeast
)

// Escrow is an open trade offer: the maker deposited mint A into the vault and
// wants Receive units of mint B in return.
type Escrow struct {
	Seed    uint64
	Maker   [ed25519.PublicKeySize]byte
	MintA   [ed25519.PublicKeySize]byte
	MintB   [ed25519.PublicKeySize]byte
	Receive uint64
	Bump    [1]byte
}

// NewEscrow returns the record for an escrow found by GetEscrowAddress.
func NewEscrow(maker, mintA, mintB ed25519.PublicKey, seed, receive uint64, bump uint8) *Escrow {
	e := &Escrow{
		Seed:    seed,
		Receive: receive,
		Bump:    [1]byte{bump},
	}
	copy(e.Maker[:], maker)
	copy(e.MintA[:], mintA)
	copy(e.MintB[:], mintB)
	return e
}

// LoadEscrow decodes the escrow record held in a program account's data. A
// closed account never decodes.
func LoadEscrow(data []byte, policy RecordSizePolicy) (*Escrow, error) {
	if IsClosed(data) {
		return nil, errors.Wrap(ErrInvalidAccountData, "escrow account is closed")
	}

	switch {
	case len(data) < EscrowSize:
		return nil, errors.Wrapf(ErrInvalidAccountData, "escrow data too small: %d", len(data))
	case policy == RecordSizeExact && len(data) != EscrowSize:
		return nil, errors.Wrapf(ErrInvalidAccountData, "invalid escrow data size: %d", len(data))
	}

	var e Escrow
	if err := borsh.Deserialize(&e, data[:EscrowSize]); err != nil {
		return nil, errors.Wrap(ErrInvalidAccountData, err.Error())
	}
	return &e, nil
}

// Marshal encodes the record into its EscrowSize byte layout.
func (e *Escrow) Marshal() ([]byte, error) {
	return borsh.Serialize(*e)
}

func (e *Escrow) String() string {
	return fmt.Sprintf(
		"Escrow{seed=%d,maker=%s,mint_a=%s,mint_b=%s,receive=%d,bump=%d}",
		e.Seed,
		base58.Encode(e.Maker[:]),
		base58.Encode(e.MintA[:]),
		base58.Encode(e.MintB[:]),
		e.Receive,
		e.Bump[0],
	)
}
