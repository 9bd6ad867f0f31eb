package repl

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/yndnr/vmstate-go/internal/core/domain"
	"github.com/yndnr/vmstate-go/internal/recovery"
	"github.com/yndnr/vmstate-go/internal/recovery/rollback"
	"github.com/yndnr/vmstate-go/internal/storage"
	"github.com/yndnr/vmstate-go/internal/storage/mvcc"
)

// errExit ends the loop.
var errExit = errors.New("exit")

// REPL represents the Read-Eval-Print Loop.
type REPL struct {
	input     io.Reader
	output    io.Writer
	completer *Completer
	history   *History
	engine    *storage.Engine
}

// Option configures a REPL.
type Option func(*REPL)

// WithIO sets the input and output streams.
func WithIO(in io.Reader, out io.Writer) Option {
	return func(r *REPL) {
		r.input = in
		r.output = out
	}
}

// WithHistory sets the history store.
func WithHistory(h *History) Option {
	return func(r *REPL) {
		r.history = h
	}
}

// New creates a REPL over engine.
func New(engine *storage.Engine, opts ...Option) *REPL {
	r := &REPL{
		input:     os.Stdin,
		output:    os.Stdout,
		completer: NewCompleter(),
		history:   NewHistory(""),
		engine:    engine,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run starts the REPL loop. It returns on exit, EOF or ctx cancellation.
func (r *REPL) Run(ctx context.Context) error {
	reader := bufio.NewReader(r.input)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		fmt.Fprint(r.output, "vmstate> ")

		line, err := reader.ReadString('\n')
		if err == io.EOF && strings.TrimSpace(line) == "" {
			fmt.Fprintln(r.output)
			return nil
		}
		if err != nil && err != io.EOF {
			return err
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		r.history.Add(line)

		if execErr := r.execute(ctx, line); execErr != nil {
			if errors.Is(execErr, errExit) {
				return nil
			}
			fmt.Fprintf(r.output, "Error: %v\n", execErr)
		}
		if err == io.EOF {
			return nil
		}
	}
}

func (r *REPL) execute(ctx context.Context, line string) error {
	fields := strings.Fields(line)
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case "exit", "quit":
		return errExit
	case "help":
		prefix := ""
		if len(args) > 0 {
			prefix = args[0]
		}
		fmt.Fprintln(r.output, strings.Join(r.completer.Complete(prefix), " "))
		return nil
	}
	if r.engine == nil {
		return fmt.Errorf("no engine attached")
	}

	switch cmd {
	case "put":
		return r.put(ctx, args)
	case "del":
		return r.del(ctx, args)
	case "get":
		return r.get(args)
	case "state":
		return r.state(args)
	case "history":
		return r.keyHistory(args)
	case "root":
		return r.root(args)
	case "prove":
		return r.prove(args)
	case "validate":
		return r.validate(args)
	case "snapshot":
		return r.snapshot(args)
	case "snapshots":
		return r.snapshots()
	case "restore":
		return r.restore(args)
	case "checkpoint":
		return r.checkpoint()
	case "checkpoints":
		return r.checkpoints()
	case "rollback":
		return r.rollback(args)
	case "verify":
		return r.verify()
	case "recover":
		return r.recover(args)
	case "stats":
		return r.stats()
	default:
		return fmt.Errorf("unknown command %q (try help)", cmd)
	}
}

func (r *REPL) put(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return domain.ErrInvalidArgument.WithDetails("usage: put KEY=VALUE...")
	}
	ops := make([]mvcc.WriteOp, 0, len(args))
	for _, arg := range args {
		k, v, ok := strings.Cut(arg, "=")
		if !ok || k == "" {
			return domain.ErrInvalidArgument.WithDetailsf("expected key=value, got %q", arg)
		}
		ops = append(ops, mvcc.Put([]byte(k), []byte(v)))
	}
	return r.commit(ctx, ops)
}

func (r *REPL) del(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return domain.ErrInvalidArgument.WithDetails("usage: del KEY...")
	}
	ops := make([]mvcc.WriteOp, 0, len(args))
	for _, k := range args {
		ops = append(ops, mvcc.Delete([]byte(k)))
	}
	return r.commit(ctx, ops)
}

func (r *REPL) commit(ctx context.Context, ops []mvcc.WriteOp) error {
	v, err := r.engine.Execute(ctx, ops)
	if err != nil {
		return err
	}
	fmt.Fprintf(r.output, "version %d\n", v)
	return nil
}

// versionArg parses args[i] as a version, defaulting to the current one.
func (r *REPL) versionArg(args []string, i int) (domain.Version, error) {
	if len(args) <= i {
		return r.engine.CurrentVersion(), nil
	}
	n, err := strconv.ParseUint(args[i], 10, 64)
	if err != nil {
		return 0, domain.ErrInvalidArgument.WithDetailsf("bad version %q", args[i])
	}
	return domain.Version(n), nil
}

func (r *REPL) get(args []string) error {
	if len(args) == 0 {
		return domain.ErrInvalidArgument.WithDetails("usage: get KEY [VERSION]")
	}
	v, err := r.versionArg(args, 1)
	if err != nil {
		return err
	}
	value, ok := r.engine.Read([]byte(args[0]), v)
	if !ok {
		fmt.Fprintf(r.output, "(absent at version %d)\n", v)
		return nil
	}
	fmt.Fprintf(r.output, "%s\n", value)
	return nil
}

func (r *REPL) state(args []string) error {
	v, err := r.versionArg(args, 0)
	if err != nil {
		return err
	}
	state := r.engine.StateAt(v)
	fmt.Fprintf(r.output, "version %d, %d keys\n", v, len(state))
	for _, k := range state.SortedKeys() {
		fmt.Fprintf(r.output, "  %s=%s\n", k, state[k])
	}
	return nil
}

func (r *REPL) keyHistory(args []string) error {
	if len(args) != 1 {
		return domain.ErrInvalidArgument.WithDetails("usage: history KEY")
	}
	for _, vv := range r.engine.History([]byte(args[0])) {
		if vv.Deleted {
			fmt.Fprintf(r.output, "  v%d-v%d %s\n", vv.CreatedAt, vv.DeletedAt, vv.Value)
			continue
		}
		fmt.Fprintf(r.output, "  v%d- %s\n", vv.CreatedAt, vv.Value)
	}
	return nil
}

func (r *REPL) root(args []string) error {
	v, err := r.versionArg(args, 0)
	if err != nil {
		return err
	}
	root, err := r.engine.StateRoot(v)
	if err != nil {
		return err
	}
	fmt.Fprintf(r.output, "%s\n", root)
	return nil
}

func (r *REPL) prove(args []string) error {
	if len(args) != 1 {
		return domain.ErrInvalidArgument.WithDetails("usage: prove KEY")
	}
	proof, root, err := r.engine.Prove([]byte(args[0]))
	if err != nil {
		return err
	}
	fmt.Fprintf(r.output, "root %s, %d siblings, verified %t\n", root, len(proof.Siblings), proof.Verify(root))
	return nil
}

func (r *REPL) validate(args []string) error {
	v, err := r.versionArg(args, 0)
	if err != nil {
		return err
	}
	if err := r.engine.ValidateVersion(v); err != nil {
		return err
	}
	fmt.Fprintf(r.output, "version %d valid\n", v)
	return nil
}

func (r *REPL) snapshot(args []string) error {
	info, err := r.engine.CaptureSnapshot(strings.Join(args, " "))
	if err != nil {
		return err
	}
	fmt.Fprintf(r.output, "snapshot %d at version %d\n", info.ID, info.Version)
	return nil
}

func (r *REPL) snapshots() error {
	for _, info := range r.engine.Snapshots() {
		fmt.Fprintf(r.output, "  %d version=%d keys=%d %s\n", info.ID, info.Version, info.Keys, info.Description)
	}
	return nil
}

func (r *REPL) restore(args []string) error {
	if len(args) != 1 {
		return domain.ErrInvalidArgument.WithDetails("usage: restore SNAPSHOT_ID")
	}
	id, err := strconv.ParseUint(args[0], 10, 32)
	if err != nil {
		return domain.ErrInvalidArgument.WithDetailsf("bad snapshot id %q", args[0])
	}
	v, err := r.engine.RestoreSnapshot(uint32(id))
	if err != nil {
		return err
	}
	fmt.Fprintf(r.output, "restored snapshot %d as version %d\n", id, v)
	return nil
}

func (r *REPL) checkpoint() error {
	cp, err := r.engine.Checkpoint()
	if err != nil {
		return err
	}
	fmt.Fprintf(r.output, "%s\n", cp.ID)
	return nil
}

func (r *REPL) checkpoints() error {
	for _, id := range r.engine.CheckpointIDs() {
		fmt.Fprintf(r.output, "  %s\n", id)
	}
	return nil
}

func (r *REPL) rollback(args []string) error {
	var err error
	if len(args) > 0 {
		err = r.engine.RollbackTo(args[0])
	} else {
		err = r.engine.Rollback(rollback.ManualIntervention())
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(r.output, "rolled back, version %d\n", r.engine.CurrentVersion())
	return nil
}

func (r *REPL) verify() error {
	res, err := r.engine.CheckConsistency()
	fmt.Fprintf(r.output, "%s\n", res)
	return err
}

func (r *REPL) recover(args []string) error {
	var res recovery.Result
	if len(args) > 0 {
		res = r.engine.Recover(args[0])
	} else {
		res = r.engine.AutoRecover()
	}
	if res.Err != nil {
		return res.Err
	}
	fmt.Fprintf(r.output, "recovery %s, version %d\n", res.Status, r.engine.CurrentVersion())
	for _, w := range res.Warnings {
		fmt.Fprintf(r.output, "  warning: %s\n", w)
	}
	return nil
}

func (r *REPL) stats() error {
	s := r.engine.Stats()
	live := len(r.engine.LatestState())
	fmt.Fprintf(r.output, "version=%d keys=%d history_keys=%d entries=%d tombstones=%d snapshots=%d checkpoints=%d txlog=%d\n",
		s.Store.Version, live, s.Store.Keys, s.Store.Entries, s.Store.Tombstones,
		s.Snapshots, s.Checkpoints, s.TransactionLog)
	return nil
}
