package system

import (
	"crypto/ed25519"
	"math"

	"github.com/mr-tron/base58/base58"
	"github.com/pkg/errors"

	"github.com/code-payments/code-escrow/pkg/solana/binary"
)

// RentSysVar points to the system variable "Rent"
//
// Source: https://github.com/solana-labs/solana/blob/f02a78d8fff2dd7297dc6ce6eb5a68a3002f5359/sdk/src/sysvar/rent.rs#L11
var RentSysVar ed25519.PublicKey

func init() {
	var err error

	RentSysVar, err = base58.Decode("SysvarRent111111111111111111111111111111111")
	if err != nil {
		panic(err)
	}
}

// Reference: https://github.com/solana-labs/solana/blob/4e2754341514cd181ae3f373cc2548bd22e918b8/sdk/program/src/rent.rs
const (
	DefaultLamportsPerByteYear uint64  = 3480
	DefaultExemptionThreshold  float64 = 2.0
	DefaultBurnPercent         uint8   = 50

	// AccountStorageOverhead is the number of bytes the runtime charges for
	// every account on top of its data.
	AccountStorageOverhead uint64 = 128

	RentSize = 8 + 8 + 1
)

// Rent is the rent sysvar. Accounts holding at least MinimumBalance of their
// data size are exempt from rent collection.
type Rent struct {
	LamportsPerByteYear uint64
	ExemptionThreshold  float64
	BurnPercent         uint8
}

// DefaultRent returns the mainnet rent parameters.
func DefaultRent() Rent {
	return Rent{
		LamportsPerByteYear: DefaultLamportsPerByteYear,
		ExemptionThreshold:  DefaultExemptionThreshold,
		BurnPercent:         DefaultBurnPercent,
	}
}

// MinimumBalance returns the balance an account of dataLen bytes needs to be
// rent exempt.
func (r Rent) MinimumBalance(dataLen uint64) uint64 {
	bytes := AccountStorageOverhead + dataLen
	return uint64(float64(bytes*r.LamportsPerByteYear) * r.ExemptionThreshold)
}

// IsExempt reports whether balance covers the minimum balance for dataLen.
func (r Rent) IsExempt(balance, dataLen uint64) bool {
	return balance >= r.MinimumBalance(dataLen)
}

func (r Rent) Marshal() []byte {
	b := make([]byte, RentSize)

	var offset int
	binary.PutUint64(b, r.LamportsPerByteYear, &offset)
	binary.PutUint64(b, math.Float64bits(r.ExemptionThreshold), &offset)
	binary.PutUint8(b, r.BurnPercent, &offset)

	return b
}

func (r *Rent) Unmarshal(data []byte) error {
	if len(data) != RentSize {
		return errors.Errorf("invalid rent sysvar size: %d", len(data))
	}

	var offset int
	var threshold uint64
	binary.GetUint64(data, &r.LamportsPerByteYear, &offset)
	binary.GetUint64(data, &threshold, &offset)
	binary.GetUint8(data, &r.BurnPercent, &offset)
	r.ExemptionThreshold = math.Float64frombits(threshold)

	return nil
}
