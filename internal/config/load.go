package config

import (
	"fmt"

	"github.com/yndnr/vmstate-go/internal/infra/confloader"
	"github.com/yndnr/vmstate-go/internal/recovery/checkpoint"
	"github.com/yndnr/vmstate-go/internal/storage"
	"github.com/yndnr/vmstate-go/internal/storage/merkle"
	"github.com/yndnr/vmstate-go/internal/telemetry/logger"
	"github.com/yndnr/vmstate-go/internal/telemetry/metric"
	"github.com/yndnr/vmstate-go/pkg/crypto/adaptive"
)

// Load reads path (optional) and the environment on top of Default,
// applies overrides (dotted keys, typically from flags) and verifies
// the result.
func Load(path string, overrides map[string]any) (*Config, error) {
	cfg := Default()

	l := confloader.NewLoader(confloader.WithConfigFile(path))
	if err := l.Load(cfg); err != nil {
		return nil, err
	}
	if len(overrides) > 0 {
		// Flags win over file and environment.
		if err := l.LoadMap(overrides); err != nil {
			return nil, err
		}
		if err := l.Unmarshal(cfg); err != nil {
			return nil, fmt.Errorf("unmarshal config: %w", err)
		}
	}

	if err := Verify(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoggerConfig converts the log section.
func (c *Config) LoggerConfig() logger.Config {
	lc := logger.DefaultConfig()
	lc.Level = c.Log.Level
	lc.Format = c.Log.Format
	lc.Backend = c.Log.Backend
	return lc
}

// StorageConfig converts the engine and recovery sections.
func (c *Config) StorageConfig(log logger.Logger, metrics *metric.Registry) storage.Config {
	return storage.Config{
		MaxCheckpoints:     c.Engine.MaxCheckpoints,
		SnapshotRetention:  c.Engine.SnapshotRetention,
		MaxTransactionLog:  c.Engine.MaxTransactionLog,
		HashAlgorithm:      merkle.Algorithm(c.Engine.HashAlgorithm),
		RecordTransactions: c.Engine.RecordTransactions,
		CheckpointInterval: c.Engine.CheckpointInterval,
		AutoRecoverEvery:   c.Recovery.AutoRecoverEvery,
		AutoRecoverBurst:   c.Recovery.AutoRecoverBurst,
		RequiredKeys:       append([]string(nil), c.Engine.RequiredKeys...),
		Logger:             log,
		Metrics:            metrics,
	}
}

// ArchiveOptions converts the archive section.
func (c *Config) ArchiveOptions() checkpoint.ArchiveOptions {
	opts := checkpoint.ArchiveOptions{Cipher: adaptive.CipherType(c.Archive.Cipher)}
	if c.Archive.Passphrase != "" {
		opts.Passphrase = []byte(c.Archive.Passphrase)
	}
	return opts
}
