package config

// Logging selects the log level and optional rotated file output.
type Logging struct {
	Level      string `toml:"Level"`
	Env        string `toml:"Env"`
	File       string `toml:"File"`
	MaxSizeMB  int    `toml:"MaxSizeMB"`
	MaxBackups int    `toml:"MaxBackups"`
}

// Metrics controls the Prometheus scrape endpoint. An empty ListenAddress
// disables it.
type Metrics struct {
	ListenAddress string `toml:"ListenAddress"`
}

// Telemetry configures OpenTelemetry trace and metric export over OTLP/HTTP.
type Telemetry struct {
	Enabled     bool              `toml:"Enabled"`
	Endpoint    string            `toml:"Endpoint"`
	Insecure    bool              `toml:"Insecure"`
	Headers     map[string]string `toml:"Headers"`
	SampleRatio float64           `toml:"SampleRatio"`
}

// Milestone is one [[Milestones]] record. Omitted fields inherit the value
// of the previous record.
type Milestone struct {
	Height          uint64  `toml:"Height"`
	ActiveDelegates *uint32 `toml:"ActiveDelegates"`
	BlockTime       *uint32 `toml:"BlockTime"`
	Reward          *uint64 `toml:"Reward"`
	AIP11           *bool   `toml:"AIP11"`
	HTLCEnabled     *bool   `toml:"HTLCEnabled"`
}

// Exceptions lists transaction ids that are applied without validation.
type Exceptions struct {
	Transactions []string `toml:"Transactions"`
}

// HTLC carries the lock duration policy.
type HTLC struct {
	MinimumLockRounds uint64 `toml:"MinimumLockRounds"`
}

// Mempool controls transaction pool admission limits.
type Mempool struct {
	MaxSize       int     `toml:"MaxSize"`
	RatePerSecond float64 `toml:"RatePerSecond"`
	Burst         int     `toml:"Burst"`
}
