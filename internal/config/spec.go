package config

import "time"

// Config is the root configuration.
type Config struct {
	Engine   EngineSection   `koanf:"engine"`
	Recovery RecoverySection `koanf:"recovery"`
	Archive  ArchiveSection  `koanf:"archive"`
	Metrics  MetricsSection  `koanf:"metrics"`
	Log      LogSection      `koanf:"log"`
}

// EngineSection configures the state engine.
type EngineSection struct {
	MaxCheckpoints     int           `koanf:"max_checkpoints"`
	SnapshotRetention  int           `koanf:"snapshot_retention"`
	MaxTransactionLog  int           `koanf:"max_transaction_log"`
	HashAlgorithm      string        `koanf:"hash_algorithm"`
	RecordTransactions bool          `koanf:"record_transactions"`
	CheckpointInterval time.Duration `koanf:"checkpoint_interval"`

	// RequiredKeys must be present in every verified state.
	RequiredKeys []string `koanf:"required_keys"`
}

// RecoverySection configures automatic recovery.
type RecoverySection struct {
	// AutoRecoverEvery is the minimum spacing between automatic
	// recoveries. Zero disables the limit.
	AutoRecoverEvery time.Duration `koanf:"auto_recover_every"`
	AutoRecoverBurst int           `koanf:"auto_recover_burst"`
}

// ArchiveSection configures checkpoint archives.
type ArchiveSection struct {
	// Passphrase seals archives when set.
	Passphrase string `koanf:"passphrase"`
	// Cipher is aes-gcm or chacha20-poly1305; empty picks by platform.
	Cipher string `koanf:"cipher"`
}

// MetricsSection configures the Prometheus endpoint.
type MetricsSection struct {
	// Addr is the listen address; empty disables the endpoint.
	Addr string `koanf:"addr"`
}

// LogSection configures logging.
type LogSection struct {
	Level   string `koanf:"level"`
	Format  string `koanf:"format"`
	Backend string `koanf:"backend"`
}
