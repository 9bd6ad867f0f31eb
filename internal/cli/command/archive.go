package command

import (
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/vmstate-go/internal/cli/output"
	"github.com/yndnr/vmstate-go/internal/core/domain"
	"github.com/yndnr/vmstate-go/internal/recovery/checkpoint"
	"github.com/yndnr/vmstate-go/internal/recovery/verify"
	"github.com/yndnr/vmstate-go/internal/storage/merkle"
	"github.com/yndnr/vmstate-go/pkg/crypto/adaptive"
)

// ArchiveCommand returns the archive subcommand group.
func ArchiveCommand() *cli.Command {
	passphrase := &cli.StringFlag{
		Name:  "passphrase",
		Usage: "Archive passphrase (overrides archive.passphrase)",
	}
	return &cli.Command{
		Name:  "archive",
		Usage: "Write and read checkpoint archives",
		Subcommands: []*cli.Command{
			{
				Name:      "encode",
				Usage:     "Checkpoint a state and write it as an archive",
				ArgsUsage: "KEY=VALUE...",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "out",
						Usage:    "Archive file to write",
						Required: true,
					},
					passphrase,
					&cli.StringFlag{
						Name:  "cipher",
						Usage: "aes-gcm or chacha20-poly1305 (overrides archive.cipher)",
					},
				},
				Action: archiveEncode,
			},
			{
				Name:      "decode",
				Usage:     "Read an archive and print its checkpoint",
				ArgsUsage: "FILE",
				Flags: []cli.Flag{
					passphrase,
					&cli.StringFlag{
						Name:  "expect-root",
						Usage: "Fail unless the state has this Merkle root (hex)",
					},
				},
				Action: archiveDecode,
			},
		},
	}
}

// ArchiveView describes an archive written or read by the CLI.
type ArchiveView struct {
	ID        string    `json:"id" yaml:"id"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
	Keys      int       `json:"keys" yaml:"keys"`
	Root      string    `json:"root" yaml:"root"`
	Sealed    bool      `json:"sealed" yaml:"sealed"`
	Cipher    string    `json:"cipher,omitempty" yaml:"cipher,omitempty" table:"wide"`
	Bytes     int       `json:"bytes" yaml:"bytes" table:"wide"`
	Path      string    `json:"path" yaml:"path" table:"wide"`
	State     []string  `json:"state,omitempty" yaml:"state,omitempty" table:"wide"`
}

func archiveOptions(c *cli.Context) checkpoint.ArchiveOptions {
	opts := GetConfig(c).ArchiveOptions()
	if c.IsSet("passphrase") {
		opts.Passphrase = []byte(c.String("passphrase"))
	}
	if c.IsSet("cipher") {
		opts.Cipher = adaptive.CipherType(c.String("cipher"))
	}
	return opts
}

func archiveEncode(c *cli.Context) error {
	state, err := parseState(c.Args().Slice())
	if err != nil {
		return err
	}
	opts := archiveOptions(c)

	mgr := checkpoint.NewManager(checkpoint.WithLogger(GetLogger(c)))
	cp, err := mgr.Create(state)
	if err != nil {
		return err
	}

	var data []byte
	err = withSpinner(c, len(opts.Passphrase) > 0, "sealing archive", func() error {
		data, err = checkpoint.Encode(cp, opts)
		return err
	})
	if err != nil {
		return err
	}

	path := c.String("out")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write archive: %w", err)
	}

	view := newArchiveView(c, cp, path, len(data))
	if len(opts.Passphrase) > 0 {
		view.Sealed = true
		view.Cipher = string(opts.Cipher)
		if view.Cipher == "" {
			view.Cipher = string(adaptive.Preferred())
		}
	}
	return render(c, view)
}

func archiveDecode(c *cli.Context) error {
	if c.NArg() != 1 {
		return domain.ErrInvalidArgument.WithDetails("expected one archive file")
	}
	path := c.Args().First()
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read archive: %w", err)
	}
	opts := archiveOptions(c)

	var cp *checkpoint.Checkpoint
	err = withSpinner(c, len(opts.Passphrase) > 0, "opening archive", func() error {
		cp, err = checkpoint.Decode(data, opts.Passphrase)
		return err
	})
	if err != nil {
		return err
	}

	view := newArchiveView(c, cp, path, len(data))
	view.Sealed = len(opts.Passphrase) > 0

	if s := c.String("expect-root"); s != "" {
		if err := checkRoot(c, cp.State, s); err != nil {
			return err
		}
	}
	return render(c, view)
}

// checkRoot runs a one-off root hash verification of state.
func checkRoot(c *cli.Context, state domain.SystemState, hexRoot string) error {
	expected, err := merkle.ParseHash(hexRoot)
	if err != nil {
		return err
	}
	alg, err := treeAlgorithm(c)
	if err != nil {
		return err
	}

	v := verify.New(verify.WithLogger(GetLogger(c)))
	if err := v.AddCheck("root-hash", verify.RootHashCheck(expected, alg), true); err != nil {
		return err
	}
	if res := v.Verify(state); !res.Valid {
		return domain.ErrVerificationFailed.WithDetails(res.Reason)
	}
	return nil
}

func newArchiveView(c *cli.Context, cp *checkpoint.Checkpoint, path string, size int) ArchiveView {
	view := ArchiveView{
		ID:        cp.ID,
		CreatedAt: time.Unix(0, cp.Timestamp).UTC(),
		Keys:      len(cp.State),
		Bytes:     size,
		Path:      path,
	}
	if alg, err := treeAlgorithm(c); err == nil {
		if root, ok := merkle.RootOf(cp.State, merkle.WithAlgorithm(alg)); ok {
			view.Root = root.String()
		}
	}
	for _, k := range cp.State.SortedKeys() {
		view.State = append(view.State, k+"="+string(cp.State[k]))
	}
	return view
}

// withSpinner runs fn, animating a spinner on stderr when slow is set.
func withSpinner(c *cli.Context, slow bool, message string, fn func() error) error {
	if !slow {
		return fn()
	}
	s := output.NewSpinner(errWriter(c), message)
	s.Start()
	err := fn()
	s.Stop(err)
	return err
}
