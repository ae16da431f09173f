package solana

import (
	"bytes"
	"crypto/ed25519"
)

// Signer is the seed material a program presents to sign for one of its
// program derived addresses during a cross-program invocation. No private key
// is involved: the runtime accepts the signature for exactly the address the
// seeds derive under the invoking program.
type Signer struct {
	Seeds [][]byte
}

// NewSigner returns a Signer over copies of the provided seeds.
func NewSigner(seeds ...[]byte) Signer {
	copied := make([][]byte, len(seeds))
	for i, seed := range seeds {
		copied[i] = append([]byte(nil), seed...)
	}
	return Signer{Seeds: copied}
}

// Address derives the address this signer authorizes under program.
func (s Signer) Address(program ed25519.PublicKey) (ed25519.PublicKey, error) {
	return CreateProgramAddress(program, s.Seeds...)
}

// Authorizes reports whether the signer's seeds derive key under program.
func (s Signer) Authorizes(program, key ed25519.PublicKey) bool {
	address, err := s.Address(program)
	if err != nil {
		return false
	}
	return bytes.Equal(address, key)
}
