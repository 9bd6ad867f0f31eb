package command

import (
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/vmstate-go/internal/cli/output"
	"github.com/yndnr/vmstate-go/internal/config"
	"github.com/yndnr/vmstate-go/internal/infra/buildinfo"
	"github.com/yndnr/vmstate-go/internal/storage"
	"github.com/yndnr/vmstate-go/internal/telemetry/logger"
	"github.com/yndnr/vmstate-go/internal/telemetry/metric"
)

// Metadata keys set by the Before hook.
const (
	metaConfig = "config"
	metaLogger = "logger"
)

// App creates the CLI application.
func App() *cli.App {
	app := &cli.App{
		Name:    "vmstate-cli",
		Usage:   "Versioned state engine toolkit",
		Version: buildinfo.String(),
		Flags:   globalFlags(),
		Commands: []*cli.Command{
			DemoCommand(),
			MerkleCommand(),
			WorkloadCommand(),
			ArchiveCommand(),
			ShellCommand(),
			ConfigCommand(),
			VersionCommand(),
		},
		Before: setup,
	}

	return app
}

// globalFlags returns the global CLI flags.
func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "Path to a YAML configuration file",
			EnvVars: []string{"VMSTATE_CONFIG"},
		},
		&cli.StringFlag{
			Name:    "output",
			Aliases: []string{"o"},
			Usage:   "Output format: table, json, yaml",
			Value:   "table",
		},
		&cli.BoolFlag{
			Name:    "wide",
			Aliases: []string{"w"},
			Usage:   "Show wide output (more columns)",
		},
		&cli.StringFlag{
			Name:  "log-level",
			Usage: "Override log.level (debug, info, warn, error)",
		},
		&cli.StringFlag{
			Name:  "hash",
			Usage: "Override engine.hash_algorithm (sha256, blake2s)",
		},
	}
}

// GlobalFlags defines flags available to all commands.
type GlobalFlags struct {
	Config string

	// Output format
	Output string // table, json, yaml
	Wide   bool

	LogLevel string
	Hash     string
}

// ParseGlobalFlags extracts global flags from context.
func ParseGlobalFlags(c *cli.Context) *GlobalFlags {
	return &GlobalFlags{
		Config:   c.String("config"),
		Output:   c.String("output"),
		Wide:     c.Bool("wide"),
		LogLevel: c.String("log-level"),
		Hash:     c.String("hash"),
	}
}

// overrides maps the set flags onto dotted config keys.
func (f *GlobalFlags) overrides() map[string]any {
	m := make(map[string]any)
	if f.LogLevel != "" {
		m["log.level"] = f.LogLevel
	}
	if f.Hash != "" {
		m["engine.hash_algorithm"] = f.Hash
	}
	return m
}

func setup(c *cli.Context) error {
	flags := ParseGlobalFlags(c)
	if _, err := output.ParseFormat(flags.Output); err != nil {
		return err
	}

	cfg, err := config.Load(flags.Config, flags.overrides())
	if err != nil {
		return err
	}

	lc := cfg.LoggerConfig()
	lc.Output = errWriter(c)
	log, err := logger.New(lc)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	logger.SetDefault(log)

	if c.App.Metadata == nil {
		c.App.Metadata = make(map[string]any)
	}
	c.App.Metadata[metaConfig] = cfg
	c.App.Metadata[metaLogger] = log
	return nil
}

// GetConfig retrieves the loaded configuration from context.
func GetConfig(c *cli.Context) *config.Config {
	if cfg, ok := c.App.Metadata[metaConfig].(*config.Config); ok {
		return cfg
	}
	return config.Default()
}

// GetLogger retrieves the logger from context.
func GetLogger(c *cli.Context) logger.Logger {
	if l, ok := c.App.Metadata[metaLogger].(logger.Logger); ok {
		return l
	}
	return logger.Default()
}

// newEngine builds an engine from the loaded configuration.
func newEngine(c *cli.Context, metrics *metric.Registry) (*storage.Engine, error) {
	cfg := GetConfig(c)
	return storage.New(cfg.StorageConfig(GetLogger(c), metrics))
}

// render writes data in the selected output format.
func render(c *cli.Context, data any) error {
	flags := ParseGlobalFlags(c)
	format, err := output.ParseFormat(flags.Output)
	if err != nil {
		return err
	}
	return output.NewFormatter(format, flags.Wide).Format(outWriter(c), data)
}

func outWriter(c *cli.Context) io.Writer {
	if c.App.Writer != nil {
		return c.App.Writer
	}
	return os.Stdout
}

func errWriter(c *cli.Context) io.Writer {
	if c.App.ErrWriter != nil {
		return c.App.ErrWriter
	}
	return os.Stderr
}

// PrintError prints an error message to stderr.
func PrintError(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
}
