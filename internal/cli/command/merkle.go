package command

import (
	"encoding/base64"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/vmstate-go/internal/core/domain"
	"github.com/yndnr/vmstate-go/internal/storage/merkle"
)

// MerkleCommand returns the merkle subcommand group.
func MerkleCommand() *cli.Command {
	return &cli.Command{
		Name:  "merkle",
		Usage: "Compute Merkle roots and inclusion proofs",
		Subcommands: []*cli.Command{
			{
				Name:      "root",
				Usage:     "Print the root hash of a state",
				ArgsUsage: "KEY=VALUE...",
				Action:    merkleRoot,
			},
			{
				Name:      "prove",
				Usage:     "Generate and verify an inclusion proof",
				ArgsUsage: "KEY=VALUE...",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "key",
						Aliases:  []string{"k"},
						Usage:    "Key to prove",
						Required: true,
					},
				},
				Action: merkleProve,
			},
			{
				Name:      "verify",
				Usage:     "Verify an encoded proof against a root",
				ArgsUsage: "PROOF",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "root",
						Usage:    "Expected root hash (hex)",
						Required: true,
					},
				},
				Action: merkleVerify,
			},
		},
	}
}

// RootView is the output of merkle root.
type RootView struct {
	Algorithm string `json:"algorithm" yaml:"algorithm"`
	Keys      int    `json:"keys" yaml:"keys"`
	Root      string `json:"root" yaml:"root"`
}

// ProofView is the output of merkle prove and merkle verify.
type ProofView struct {
	Key       string   `json:"key" yaml:"key"`
	Value     string   `json:"value" yaml:"value"`
	Algorithm string   `json:"algorithm" yaml:"algorithm"`
	Root      string   `json:"root" yaml:"root"`
	Siblings  []string `json:"siblings" yaml:"siblings" table:"wide"`
	Verified  bool     `json:"verified" yaml:"verified"`
	Encoded   string   `json:"encoded,omitempty" yaml:"encoded,omitempty" table:"wide"`
}

func treeAlgorithm(c *cli.Context) (merkle.Algorithm, error) {
	return merkle.ParseAlgorithm(GetConfig(c).Engine.HashAlgorithm)
}

func buildTree(c *cli.Context) (*merkle.Tree, error) {
	state, err := parseState(c.Args().Slice())
	if err != nil {
		return nil, err
	}
	alg, err := treeAlgorithm(c)
	if err != nil {
		return nil, err
	}
	return merkle.Build(state, merkle.WithAlgorithm(alg)), nil
}

func merkleRoot(c *cli.Context) error {
	tree, err := buildTree(c)
	if err != nil {
		return err
	}
	root, ok := tree.Root()
	if !ok {
		return domain.ErrEmptyTree
	}
	return render(c, RootView{
		Algorithm: string(tree.Algorithm()),
		Keys:      tree.Len(),
		Root:      root.String(),
	})
}

func merkleProve(c *cli.Context) error {
	tree, err := buildTree(c)
	if err != nil {
		return err
	}
	root, ok := tree.Root()
	if !ok {
		return domain.ErrEmptyTree
	}
	proof, err := tree.GenerateProof([]byte(c.String("key")))
	if err != nil {
		return err
	}
	encoded, err := proof.MarshalBinary()
	if err != nil {
		return err
	}

	view := newProofView(proof, root)
	view.Encoded = base64.StdEncoding.EncodeToString(encoded)
	return render(c, view)
}

func merkleVerify(c *cli.Context) error {
	if c.NArg() != 1 {
		return domain.ErrInvalidArgument.WithDetails("expected one encoded proof")
	}
	raw, err := base64.StdEncoding.DecodeString(c.Args().First())
	if err != nil {
		return domain.ErrInvalidArgument.WithDetails("proof is not base64").WithCause(err)
	}
	root, err := merkle.ParseHash(c.String("root"))
	if err != nil {
		return err
	}

	var proof merkle.Proof
	if err := proof.UnmarshalBinary(raw); err != nil {
		return domain.ErrInvalidArgument.WithCause(err)
	}
	view := newProofView(&proof, root)
	if err := render(c, view); err != nil {
		return err
	}
	if !view.Verified {
		return domain.ErrVerificationFailed.WithDetailsf("proof for %q", proof.Key)
	}
	return nil
}

func newProofView(p *merkle.Proof, root merkle.Hash) ProofView {
	siblings := make([]string, 0, len(p.Siblings))
	for _, s := range p.Siblings {
		side := "L"
		if s.IsRight {
			side = "R"
		}
		siblings = append(siblings, side+":"+s.Hash.String())
	}
	alg := p.Algorithm
	if alg == "" {
		alg = merkle.SHA256
	}
	return ProofView{
		Key:       string(p.Key),
		Value:     string(p.Value),
		Algorithm: string(alg),
		Root:      root.String(),
		Siblings:  siblings,
		Verified:  p.Verify(root),
	}
}
