package escrow

import (
	"github.com/code-payments/code-escrow/pkg/solana"
)

// Custom program errors, surfaced as solana.CustomError codes.
const (
	// A required authorizing party did not sign the instruction.
	ErrNotSigner solana.CustomError = iota
	// An account is not owned by the program expected for its role.
	ErrInvalidOwner
	// An account's size or contents do not match the expected layout.
	ErrInvalidAccountData
	// An account is not at the address derived for its role.
	ErrInvalidAddress
)
