package escrow

import (
	"context"

	"github.com/code-payments/code-escrow/pkg/config"
	"github.com/code-payments/code-escrow/pkg/config/env"
	"github.com/code-payments/code-escrow/pkg/config/memory"
	"github.com/code-payments/code-escrow/pkg/config/wrapper"
)

const (
	envConfigPrefix = "ESCROW_"

	StrictRecordSizeConfigEnvName = envConfigPrefix + "STRICT_RECORD_SIZE"
	defaultStrictRecordSize       = true
)

type conf struct {
	strictRecordSize config.Bool
}

// ConfigProvider defines how config values are pulled
type ConfigProvider func() *conf

// WithEnvConfigs returns configuration pulled from environment variables
func WithEnvConfigs() ConfigProvider {
	return func() *conf {
		return &conf{
			strictRecordSize: env.NewBoolConfig(StrictRecordSizeConfigEnvName, defaultStrictRecordSize),
		}
	}
}

func (c *conf) recordSizePolicy(ctx context.Context) RecordSizePolicy {
	if c.strictRecordSize.Get(ctx) {
		return RecordSizeExact
	}
	return RecordSizeAtLeast
}

type testOverrides struct {
	lenientRecordSize bool
}

func withManualTestOverrides(overrides *testOverrides) ConfigProvider {
	return func() *conf {
		return &conf{
			strictRecordSize: wrapper.NewBoolConfig(memory.NewConfig(!overrides.lenientRecordSize), defaultStrictRecordSize),
		}
	}
}
