package escrow

import (
	"crypto/ed25519"
	"encoding/binary"

	"github.com/code-payments/code-escrow/pkg/solana"
)

var (
	EscrowPrefix = []byte("escrow")
)

// GetEscrowAddress finds the address and bump of the escrow a maker opens
// with seed.
func GetEscrowAddress(maker ed25519.PublicKey, seed uint64) (ed25519.PublicKey, uint8, error) {
	return solana.FindProgramAddressAndBump(
		PROGRAM_ID,
		EscrowPrefix,
		maker,
		seedBytes(seed),
	)
}

// Signer returns the seeds the program signs with on behalf of the escrow
// account opened by maker.
func (e *Escrow) Signer(maker ed25519.PublicKey) solana.Signer {
	return solana.NewSigner(
		EscrowPrefix,
		maker,
		seedBytes(e.Seed),
		e.Bump[:],
	)
}

// Address re-derives the escrow account address from the record and maker.
func (e *Escrow) Address(maker ed25519.PublicKey) (ed25519.PublicKey, error) {
	return e.Signer(maker).Address(PROGRAM_ID)
}

func seedBytes(seed uint64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, seed)
	return b
}
