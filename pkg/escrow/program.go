package escrow

import (
	"context"
	"crypto/ed25519"

	"github.com/mr-tron/base58"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/code-payments/code-escrow/pkg/solana"
	"github.com/code-payments/code-escrow/pkg/solana/runtime"
)

var (
	PROGRAM_ADDRESS = mustBase58Decode("GKRymZF7yZyuSwjXj7xZmxSe8LhNMZ3Lixu1zufBLprF")
	PROGRAM_ID      = ed25519.PublicKey(PROGRAM_ADDRESS)
)

// Instruction is the single byte discriminator that prefixes the data of
// every escrow instruction.
type Instruction uint8

const (
	InstructionMake Instruction = iota
	InstructionTake
	InstructionRefund
)

func (i Instruction) String() string {
	switch i {
	case InstructionMake:
		return "make"
	case InstructionTake:
		return "take"
	case InstructionRefund:
		return "refund"
	}
	return "unknown"
}

// Program is the escrow program entrypoint. Only refunds are processed here;
// escrows are opened and fulfilled by other deployments of the program.
type Program struct {
	log  *logrus.Entry
	conf *conf
}

func NewProgram(configProvider ConfigProvider) *Program {
	return &Program{
		log:  logrus.StandardLogger().WithField("type", "escrow/program"),
		conf: configProvider(),
	}
}

// ProcessInstruction implements runtime.Program.ProcessInstruction.
func (p *Program) ProcessInstruction(ctx context.Context, rt runtime.Runtime, accounts []*solana.AccountInfo, data []byte) error {
	if len(data) == 0 {
		return errors.Wrap(solana.InstructionErrorInvalidInstructionData, "missing instruction discriminator")
	}

	switch instruction := Instruction(data[0]); instruction {
	case InstructionRefund:
		return p.Refund(ctx, rt, accounts)
	default:
		p.log.WithField("instruction", instruction.String()).Debug("unsupported instruction")
		return errors.Wrapf(solana.InstructionErrorInvalidInstructionData, "unsupported instruction %d", data[0])
	}
}

func mustBase58Decode(value string) []byte {
	decoded, err := base58.Decode(value)
	if err != nil {
		panic(err)
	}
	return decoded
}
