package config

import (
	"fmt"
	"strings"

	"agentvault/native/common"
)

var (
	// MaxBatchInstructions is the hard ceiling on configurable batch sizes.
	MaxBatchInstructions = 64
	// MinTickInterval is the shortest clock interval accepted.
	MinTickInterval = uint64(1)
)

// Validate checks the bounds the ledger relies on.
func Validate(c *Config) error {
	if c == nil {
		return fmt.Errorf("config: nil")
	}
	if strings.TrimSpace(c.NativeAsset) == "" || strings.TrimSpace(c.WrappedAsset) == "" {
		return fmt.Errorf("assets: native and wrapped symbols required")
	}
	if strings.EqualFold(strings.TrimSpace(c.NativeAsset), strings.TrimSpace(c.WrappedAsset)) {
		return fmt.Errorf("assets: wrapped symbol must differ from native")
	}
	d := c.Delays
	if d.Min == 0 || d.Min > d.Max {
		return fmt.Errorf("delays: min > max or zero")
	}
	if d.Default < d.Min || d.Default > d.Max {
		return fmt.Errorf("delays: default %d outside [%d, %d]", d.Default, d.Min, d.Max)
	}
	if c.Batches.MaxInstructions <= 0 || c.Batches.MaxInstructions > MaxBatchInstructions {
		return fmt.Errorf("batches: max_instructions must be within [1, %d]", MaxBatchInstructions)
	}
	if c.Seed.ClawbackBufferBps > common.BpsDenominator {
		return fmt.Errorf("seed: clawback_buffer_bps above %d", common.BpsDenominator)
	}
	if c.Subscriptions.MaxTrial == 0 || c.Subscriptions.MaxPeriod == 0 {
		return fmt.Errorf("subscriptions: max_trial and max_period must be positive")
	}
	if c.Clock.IntervalSeconds < MinTickInterval {
		return fmt.Errorf("clock: interval_seconds too small")
	}
	return nil
}
