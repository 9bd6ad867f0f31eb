package command

import (
	"fmt"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/vmstate-go/internal/config"
	"github.com/yndnr/vmstate-go/internal/infra/buildinfo"
)

// ConfigCommand returns the config subcommand group.
func ConfigCommand() *cli.Command {
	return &cli.Command{
		Name:    "config",
		Aliases: []string{"cfg"},
		Usage:   "Configuration commands",
		Subcommands: []*cli.Command{
			{
				Name:   "show",
				Usage:  "Show the effective configuration (secrets masked)",
				Action: configShow,
			},
			{
				Name:   "validate",
				Usage:  "Load and validate the configuration",
				Action: configValidate,
			},
		},
	}
}

// ConfigEntry is one effective configuration value.
type ConfigEntry struct {
	Key   string `json:"key" yaml:"key"`
	Value string `json:"value" yaml:"value"`
}

func configShow(c *cli.Context) error {
	return render(c, configEntries(config.Sanitize(GetConfig(c))))
}

// configValidate succeeds once Before has loaded and verified the file.
func configValidate(c *cli.Context) error {
	path := ParseGlobalFlags(c).Config
	if path == "" {
		path = "(defaults and environment)"
	}
	_, err := fmt.Fprintf(outWriter(c), "✓ configuration valid: %s\n", path)
	return err
}

func configEntries(cfg *config.Config) []ConfigEntry {
	return []ConfigEntry{
		{"engine.max_checkpoints", fmt.Sprint(cfg.Engine.MaxCheckpoints)},
		{"engine.snapshot_retention", fmt.Sprint(cfg.Engine.SnapshotRetention)},
		{"engine.max_transaction_log", fmt.Sprint(cfg.Engine.MaxTransactionLog)},
		{"engine.hash_algorithm", cfg.Engine.HashAlgorithm},
		{"engine.record_transactions", fmt.Sprint(cfg.Engine.RecordTransactions)},
		{"engine.checkpoint_interval", cfg.Engine.CheckpointInterval.String()},
		{"engine.required_keys", strings.Join(cfg.Engine.RequiredKeys, ",")},
		{"recovery.auto_recover_every", cfg.Recovery.AutoRecoverEvery.String()},
		{"recovery.auto_recover_burst", fmt.Sprint(cfg.Recovery.AutoRecoverBurst)},
		{"archive.passphrase", cfg.Archive.Passphrase},
		{"archive.cipher", cfg.Archive.Cipher},
		{"metrics.addr", cfg.Metrics.Addr},
		{"log.level", cfg.Log.Level},
		{"log.format", cfg.Log.Format},
		{"log.backend", cfg.Log.Backend},
	}
}

// VersionCommand returns the version command.
func VersionCommand() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Show build information",
		Action: func(c *cli.Context) error {
			return render(c, buildinfo.Get())
		},
	}
}
