package command

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"net/http"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/vmstate-go/internal/cli/output"
	"github.com/yndnr/vmstate-go/internal/config"
	"github.com/yndnr/vmstate-go/internal/core/domain"
	"github.com/yndnr/vmstate-go/internal/infra/confloader"
	"github.com/yndnr/vmstate-go/internal/infra/shutdown"
	"github.com/yndnr/vmstate-go/internal/recovery"
	"github.com/yndnr/vmstate-go/internal/storage"
	"github.com/yndnr/vmstate-go/internal/storage/mvcc"
	"github.com/yndnr/vmstate-go/internal/telemetry/logger"
	"github.com/yndnr/vmstate-go/internal/telemetry/metric"
)

// faultKey marks a state as corrupted; the workload verifier rejects it.
const faultKey = "__fault"

// WorkloadCommand returns the workload command.
func WorkloadCommand() *cli.Command {
	return &cli.Command{
		Name:  "workload",
		Usage: "Run a synthetic write workload with fault injection",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "transactions",
				Aliases: []string{"n"},
				Usage:   "Number of transactions",
				Value:   1000,
			},
			&cli.IntFlag{
				Name:  "keys",
				Usage: "Size of the key space",
				Value: 100,
			},
			&cli.IntFlag{
				Name:  "checkpoint-every",
				Usage: "Create a checkpoint every N transactions",
				Value: 100,
			},
			&cli.Float64Flag{
				Name:  "fault-rate",
				Usage: "Probability that a transaction injects a fault",
				Value: 0.01,
			},
			&cli.Uint64Flag{
				Name:  "seed",
				Usage: "Random seed (0 picks one)",
			},
			&cli.StringFlag{
				Name:  "metrics-addr",
				Usage: "Serve Prometheus metrics on this address (overrides metrics.addr)",
			},
			&cli.BoolFlag{
				Name:  "hold",
				Usage: "Keep serving metrics after the run until interrupted",
			},
		},
		Action: workloadAction,
	}
}

// WorkloadOptions controls runWorkload.
type WorkloadOptions struct {
	Transactions    int
	Keys            int
	CheckpointEvery int
	FaultRate       float64
	Seed            uint64
}

// WorkloadReport summarizes a workload run.
type WorkloadReport struct {
	Transactions int           `json:"transactions" yaml:"transactions"`
	FinalVersion uint64        `json:"final_version" yaml:"final_version"`
	Keys         int           `json:"keys" yaml:"keys"`
	Checkpoints  int           `json:"checkpoints" yaml:"checkpoints"`
	Faults       int           `json:"faults" yaml:"faults"`
	Rollbacks    int           `json:"rollbacks" yaml:"rollbacks"`
	Recoveries   int           `json:"recoveries" yaml:"recoveries"`
	RateLimited  int           `json:"rate_limited" yaml:"rate_limited" table:"wide"`
	Root         string        `json:"root" yaml:"root" table:"wide"`
	Duration     time.Duration `json:"duration" yaml:"duration"`
}

func workloadAction(c *cli.Context) error {
	cfg := GetConfig(c)
	log := GetLogger(c)

	opts := WorkloadOptions{
		Transactions:    c.Int("transactions"),
		Keys:            c.Int("keys"),
		CheckpointEvery: c.Int("checkpoint-every"),
		FaultRate:       c.Float64("fault-rate"),
		Seed:            c.Uint64("seed"),
	}
	if opts.Seed == 0 {
		opts.Seed = uint64(time.Now().UnixNano())
	}

	reg := metric.NewRegistry()
	eng, err := newEngine(c, reg)
	if err != nil {
		return err
	}

	sd := shutdown.NewHandler(5 * time.Second)
	sd.OnShutdown(func(context.Context) error { return eng.Close() })

	addr := cfg.Metrics.Addr
	if c.IsSet("metrics-addr") {
		addr = c.String("metrics-addr")
	}
	if addr != "" {
		srv, err := serveMetrics(addr, reg, log)
		if err != nil {
			eng.Close()
			return err
		}
		sd.OnShutdown(srv.Shutdown)
	}

	bar := output.NewProgressBar(errWriter(c), "workload", "tx", int64(opts.Transactions))
	report, runErr := runWorkload(c.Context, eng, opts, func() { bar.Increment(1) })
	bar.Finish()

	if renderErr := render(c, report); renderErr != nil && runErr == nil {
		runErr = renderErr
	}

	if addr != "" && c.Bool("hold") && runErr == nil {
		if path := ParseGlobalFlags(c).Config; path != "" {
			stop, err := watchLogLevel(path, log)
			if err != nil {
				log.Warn("config watch disabled", "error", err)
			} else {
				sd.OnShutdown(func(context.Context) error { return stop() })
			}
		}
		log.Info("serving metrics until interrupted", "addr", addr)
	} else {
		sd.Trigger()
	}

	ctx := c.Context
	if ctx == nil {
		ctx = context.Background()
	}
	return errors.Join(runErr, sd.Wait(ctx))
}

// serveMetrics starts a Prometheus endpoint at addr/metrics.
func serveMetrics(addr string, reg *metric.Registry, log logger.Logger) (*http.Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen metrics: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", reg.Handler())
	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server failed", "error", err)
		}
	}()
	log.Info("metrics endpoint started", "addr", ln.Addr().String())
	return srv, nil
}

// watchLogLevel reloads path on change and applies its log level.
func watchLogLevel(path string, log logger.Logger) (func() error, error) {
	w, err := confloader.NewWatcher(confloader.WithWatcherLogger(log))
	if err != nil {
		return nil, err
	}
	if err := w.Watch(path); err != nil {
		w.Stop()
		return nil, err
	}
	w.OnChange(func(string) {
		cfg, err := config.Load(path, nil)
		if err != nil {
			log.Warn("config reload failed", "error", err)
			return
		}
		logger.SetLevel(cfg.Log.Level)
		log.Info("log level reloaded", "level", cfg.Log.Level)
	})
	w.StartAsync()
	return w.Stop, nil
}

// runWorkload applies opts.Transactions random transactions to eng,
// checkpointing periodically. Injected faults are caught by a critical
// consistency check and repaired by alternating rollback and recovery.
func runWorkload(ctx context.Context, eng *storage.Engine, opts WorkloadOptions, progress func()) (WorkloadReport, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if opts.Keys <= 0 {
		opts.Keys = 1
	}
	var report WorkloadReport
	start := time.Now()

	err := eng.Verifier().AddCheck("no-fault-marker", func(state domain.SystemState) error {
		if _, ok := state[faultKey]; ok {
			return errors.New("fault marker present")
		}
		return nil
	}, true)
	if err != nil {
		return finishReport(eng, report, start), err
	}

	// Rollback needs a checkpoint to land on.
	if _, err := eng.Checkpoint(); err != nil {
		return finishReport(eng, report, start), err
	}
	report.Checkpoints++

	rng := rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15))
	for i := 0; i < opts.Transactions; i++ {
		if err := ctx.Err(); err != nil {
			return finishReport(eng, report, start), err
		}

		ops := randomOps(rng, opts.Keys)
		fault := opts.FaultRate > 0 && rng.Float64() < opts.FaultRate
		if fault {
			ops = append(ops, mvcc.Put([]byte(faultKey), []byte("1")))
		}
		if _, err := eng.Execute(ctx, ops); err != nil {
			return finishReport(eng, report, start), err
		}
		report.Transactions++

		if fault {
			report.Faults++
			if err := repair(eng, &report); err != nil {
				return finishReport(eng, report, start), err
			}
		}

		if opts.CheckpointEvery > 0 && (i+1)%opts.CheckpointEvery == 0 {
			if _, err := eng.Checkpoint(); err != nil {
				return finishReport(eng, report, start), err
			}
			report.Checkpoints++
		}
		if progress != nil {
			progress()
		}
	}
	return finishReport(eng, report, start), nil
}

// repair removes an injected fault. Even faults go through automatic
// recovery; odd faults, and recoveries refused by the rate limiter,
// go through the consistency check and its rollback.
func repair(eng *storage.Engine, report *WorkloadReport) error {
	if report.Faults%2 == 0 {
		res := eng.AutoRecover()
		switch {
		case res.Status != recovery.StatusFailed:
			report.Recoveries++
			return nil
		case errors.Is(res.Err, domain.ErrRateLimited):
			report.RateLimited++
		default:
			return res.Err
		}
	}

	res, err := eng.CheckConsistency()
	if err != nil {
		return err
	}
	if res.Valid {
		return domain.ErrVerificationFailed.WithDetails("injected fault not detected")
	}
	report.Rollbacks++
	return nil
}

func randomOps(rng *rand.Rand, keys int) []mvcc.WriteOp {
	n := 1 + rng.IntN(3)
	ops := make([]mvcc.WriteOp, 0, n)
	for j := 0; j < n; j++ {
		key := []byte(fmt.Sprintf("key-%04d", rng.IntN(keys)))
		if rng.IntN(5) == 0 {
			ops = append(ops, mvcc.Delete(key))
			continue
		}
		ops = append(ops, mvcc.Put(key, []byte(fmt.Sprintf("%d", rng.Uint32()))))
	}
	return ops
}

func finishReport(eng *storage.Engine, report WorkloadReport, start time.Time) WorkloadReport {
	report.Duration = time.Since(start).Round(time.Millisecond)
	report.FinalVersion = uint64(eng.CurrentVersion())
	state := eng.LatestState()
	report.Keys = len(state)
	if root, err := eng.StateRoot(eng.CurrentVersion()); err == nil {
		report.Root = root.String()
	}
	return report
}
