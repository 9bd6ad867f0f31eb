package command

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/vmstate-go/internal/core/domain"
	"github.com/yndnr/vmstate-go/internal/recovery/rollback"
	"github.com/yndnr/vmstate-go/internal/storage"
	"github.com/yndnr/vmstate-go/internal/storage/mvcc"
)

// DemoCommand walks the engine through versioning, proofs, snapshots,
// checkpoints and a rollback.
func DemoCommand() *cli.Command {
	return &cli.Command{
		Name:   "demo",
		Usage:  "Run a guided tour of the state engine",
		Action: demoAction,
	}
}

// DemoStep is one line of the demo report.
type DemoStep struct {
	Step    int    `json:"step" yaml:"step"`
	Action  string `json:"action" yaml:"action"`
	Version uint64 `json:"version" yaml:"version"`
	Result  string `json:"result" yaml:"result"`
}

func demoAction(c *cli.Context) error {
	eng, err := newEngine(c, nil)
	if err != nil {
		return err
	}
	defer eng.Close()

	steps, err := runDemo(c.Context, eng)
	if renderErr := render(c, steps); renderErr != nil {
		return renderErr
	}
	return err
}

type demoRun struct {
	eng   *storage.Engine
	steps []DemoStep
}

func (d *demoRun) record(action, result string) {
	d.steps = append(d.steps, DemoStep{
		Step:    len(d.steps) + 1,
		Action:  action,
		Version: uint64(d.eng.CurrentVersion()),
		Result:  result,
	})
}

// runDemo drives eng and returns the steps completed. On error the
// steps up to the failure are returned with it.
func runDemo(ctx context.Context, eng *storage.Engine) ([]DemoStep, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	d := &demoRun{eng: eng}

	v1, err := eng.Execute(ctx, []mvcc.WriteOp{
		mvcc.Put([]byte("a"), []byte("1")),
		mvcc.Put([]byte("b"), []byte("2")),
	})
	if err != nil {
		return d.steps, err
	}
	d.record("transaction put a=1 b=2", fmt.Sprintf("committed version %d", v1))
	d.record("state at version 1", formatState(eng.StateAt(v1)))

	v2, err := eng.Execute(ctx, []mvcc.WriteOp{mvcc.Delete([]byte("a"))})
	if err != nil {
		return d.steps, err
	}
	d.record("transaction delete a", fmt.Sprintf("committed version %d", v2))
	d.record("state at version 1", formatState(eng.StateAt(v1)))
	d.record("state at version 2", formatState(eng.StateAt(v2)))

	root, err := eng.StateRoot(v2)
	if err != nil {
		return d.steps, err
	}
	d.record("merkle root", root.String())

	proof, proofRoot, err := eng.Prove([]byte("b"))
	if err != nil {
		return d.steps, err
	}
	if !proof.Verify(proofRoot) {
		return d.steps, domain.ErrVerificationFailed.WithDetails("proof for b")
	}
	d.record("prove b", fmt.Sprintf("verified with %d siblings", len(proof.Siblings)))

	snap, err := eng.CaptureSnapshot("after delete")
	if err != nil {
		return d.steps, err
	}
	d.record("capture snapshot", fmt.Sprintf("snapshot %d with %d keys", snap.ID, snap.Keys))

	cp, err := eng.Checkpoint()
	if err != nil {
		return d.steps, err
	}
	d.record("create checkpoint", cp.ID)

	if _, err := eng.Execute(ctx, []mvcc.WriteOp{mvcc.Put([]byte("b"), []byte("corrupted"))}); err != nil {
		return d.steps, err
	}
	d.record("inject fault b=corrupted", formatState(eng.LatestState()))

	if err := eng.Rollback(rollback.ErrorDetected("corrupted value for b")); err != nil {
		return d.steps, err
	}
	d.record("rollback to latest checkpoint", formatState(eng.LatestState()))

	if err := eng.ValidateVersion(eng.CurrentVersion()); err != nil {
		return d.steps, err
	}
	d.record("validate current version", "all proofs verified")

	return d.steps, nil
}

// formatState renders state as {k=v, ...} in key order.
func formatState(state domain.SystemState) string {
	s := "{"
	for i, k := range state.SortedKeys() {
		if i > 0 {
			s += ", "
		}
		s += k + "=" + string(state[k])
	}
	return s + "}"
}
