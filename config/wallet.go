package config

import (
	"fmt"
	"strings"
	"time"

	"agentvault/core/clock"
	"agentvault/core/types"
	"agentvault/crypto"
	"agentvault/native/billing"
	"agentvault/native/common"
	"agentvault/native/signing"
	"agentvault/native/wallet"
)

// DomainName is the signing domain name shared by every network.
const DomainName = "AgentVault"

// ParseAddress accepts either a bech32 address or a 0x-prefixed hex string.
func ParseAddress(value string) (types.Address, error) {
	trimmed := strings.TrimSpace(value)
	if strings.HasPrefix(trimmed, "0x") || strings.HasPrefix(trimmed, "0X") {
		return types.ParseAddress(trimmed)
	}
	addr, err := crypto.DecodeAddress(trimmed)
	if err != nil {
		return types.Address{}, err
	}
	return addr.Ledger(), nil
}

// FactoryAddresses resolves the configured factories. The operator keystore
// address is used when none are configured.
func (c *Config) FactoryAddresses() ([]types.Address, error) {
	out := make([]types.Address, 0, len(c.Factories)+1)
	for _, raw := range c.Factories {
		addr, err := ParseAddress(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid factory %q: %w", raw, err)
		}
		out = append(out, addr)
	}
	if len(out) == 0 && c.KeystorePath != "" {
		addr, err := crypto.KeystoreAddress(c.KeystorePath)
		if err != nil {
			return nil, fmt.Errorf("operator keystore: %w", err)
		}
		out = append(out, addr.Ledger())
	}
	return out, nil
}

// Wallet converts the file configuration into execution core parameters.
func (c *Config) Wallet() (wallet.Config, error) {
	factories, err := c.FactoryAddresses()
	if err != nil {
		return wallet.Config{}, err
	}
	return wallet.Config{
		NativeAsset:       c.NativeAsset,
		WrappedAsset:      c.WrappedAsset,
		Delay:             c.Delays.Default,
		MinDelay:          c.Delays.Min,
		MaxDelay:          c.Delays.Max,
		MaxBatchSize:      c.Batches.MaxInstructions,
		ClawbackBufferBps: c.Seed.ClawbackBufferBps,
		Domain:            signing.Domain{Name: DomainName, Network: c.NetworkName},
		Limits: billing.Limits{
			MaxTrial:  c.Subscriptions.MaxTrial,
			MaxPeriod: c.Subscriptions.MaxPeriod,
		},
		Factories: factories,
	}, nil
}

// NewClock returns the wall-time derived ledger clock.
func (c *Config) NewClock() *clock.Interval {
	genesis := time.Unix(c.Clock.GenesisUnix, 0)
	return clock.NewInterval(genesis, time.Duration(c.Clock.IntervalSeconds)*time.Second)
}

// PauseTable returns the initial pause table.
func (c *Config) PauseTable() *common.Pauses {
	p := common.NewPauses()
	p.Set(wallet.ModuleName, c.Pauses.Wallet)
	return p
}
