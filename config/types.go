package config

// Delays bounds the number of clock ticks between initiating and confirming
// an ownership or whitelist change.
type Delays struct {
	Default uint64 `toml:"Default"`
	Min     uint64 `toml:"Min"`
	Max     uint64 `toml:"Max"`
}

// Batches limits atomic instruction batches.
type Batches struct {
	MaxInstructions int `toml:"MaxInstructions"`
}

// Seed configures factory seed grants.
type Seed struct {
	// ClawbackBufferBps is added on top of the granted amount when a factory
	// recovers its seed.
	ClawbackBufferBps uint32 `toml:"ClawbackBufferBps"`
}

// Subscriptions caps the trial and period lengths accepted by the billing
// policy store.
type Subscriptions struct {
	MaxTrial  uint64 `toml:"MaxTrial"`
	MaxPeriod uint64 `toml:"MaxPeriod"`
}

// Clock derives ledger ticks from wall time.
type Clock struct {
	GenesisUnix     int64  `toml:"GenesisUnix"`
	IntervalSeconds uint64 `toml:"IntervalSeconds"`
}

type Pauses struct {
	Wallet bool `toml:"Wallet"`
}
