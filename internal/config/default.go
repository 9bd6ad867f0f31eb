package config

import (
	"github.com/yndnr/vmstate-go/internal/recovery/checkpoint"
	"github.com/yndnr/vmstate-go/internal/recovery/rollback"
	"github.com/yndnr/vmstate-go/internal/storage/snapshot"
)

// Default configuration values.
const (
	DefaultHashAlgorithm    = "sha256"
	DefaultAutoRecoverBurst = 1

	DefaultLogLevel   = "info"
	DefaultLogFormat  = "text"
	DefaultLogBackend = "slog"
)

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Engine: EngineSection{
			MaxCheckpoints:     checkpoint.DefaultMaxCheckpoints,
			SnapshotRetention:  snapshot.DefaultRetention,
			MaxTransactionLog:  rollback.DefaultMaxLogSize,
			HashAlgorithm:      DefaultHashAlgorithm,
			RecordTransactions: true,
		},
		Recovery: RecoverySection{
			AutoRecoverBurst: DefaultAutoRecoverBurst,
		},
		Log: LogSection{
			Level:   DefaultLogLevel,
			Format:  DefaultLogFormat,
			Backend: DefaultLogBackend,
		},
	}
}
