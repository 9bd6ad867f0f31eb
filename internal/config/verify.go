package config

import (
	"errors"
	"fmt"
	"net"

	"github.com/yndnr/vmstate-go/internal/storage/merkle"
	"github.com/yndnr/vmstate-go/pkg/crypto/adaptive"
)

// Verify validates the configuration and returns all problems found.
func Verify(cfg *Config) error {
	return errors.Join(
		verifyEngine(&cfg.Engine),
		verifyRecovery(&cfg.Recovery),
		verifyArchive(&cfg.Archive),
		verifyMetrics(&cfg.Metrics),
		verifyLog(&cfg.Log),
	)
}

func verifyEngine(cfg *EngineSection) error {
	var errs []error
	if cfg.MaxCheckpoints < 1 {
		errs = append(errs, errors.New("engine.max_checkpoints must be at least 1"))
	}
	if cfg.SnapshotRetention < 1 {
		errs = append(errs, errors.New("engine.snapshot_retention must be at least 1"))
	}
	if cfg.MaxTransactionLog < 1 {
		errs = append(errs, errors.New("engine.max_transaction_log must be at least 1"))
	}
	if _, err := merkle.ParseAlgorithm(cfg.HashAlgorithm); err != nil {
		errs = append(errs, fmt.Errorf("engine.hash_algorithm: %w", err))
	}
	if cfg.CheckpointInterval < 0 {
		errs = append(errs, errors.New("engine.checkpoint_interval must not be negative"))
	}
	return errors.Join(errs...)
}

func verifyRecovery(cfg *RecoverySection) error {
	if cfg.AutoRecoverEvery < 0 {
		return errors.New("recovery.auto_recover_every must not be negative")
	}
	if cfg.AutoRecoverEvery > 0 && cfg.AutoRecoverBurst < 1 {
		return errors.New("recovery.auto_recover_burst must be at least 1")
	}
	return nil
}

func verifyArchive(cfg *ArchiveSection) error {
	switch adaptive.CipherType(cfg.Cipher) {
	case "", adaptive.CipherAESGCM, adaptive.CipherChaCha20:
	default:
		return fmt.Errorf("archive.cipher: unknown cipher %q", cfg.Cipher)
	}
	if cfg.Passphrase != "" && len(cfg.Passphrase) < adaptive.MinPassphraseLength {
		return fmt.Errorf("archive.passphrase: %w", adaptive.ErrPassphraseTooWeak)
	}
	return nil
}

func verifyMetrics(cfg *MetricsSection) error {
	if cfg.Addr == "" {
		return nil
	}
	if _, _, err := net.SplitHostPort(cfg.Addr); err != nil {
		return fmt.Errorf("metrics.addr: %w", err)
	}
	return nil
}

func verifyLog(cfg *LogSection) error {
	switch cfg.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level: unknown level %q", cfg.Level)
	}
	switch cfg.Format {
	case "json", "text":
	default:
		return fmt.Errorf("log.format: unknown format %q", cfg.Format)
	}
	switch cfg.Backend {
	case "slog", "hclog":
	default:
		return fmt.Errorf("log.backend: unknown backend %q", cfg.Backend)
	}
	return nil
}
