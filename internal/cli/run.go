package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/CodePapayas/a-life-cs461/internal/api"
	"github.com/CodePapayas/a-life-cs461/internal/autosave"
	"github.com/CodePapayas/a-life-cs461/internal/engine"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Resume bool   // continue from the newest auto-save
	From   string // continue from a named slot
	Ticks  uint64 // ticks to run; overrides engine.max_ticks
	Port   int    // overrides api.port when set
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the simulation",
		Long: `Run the simulation, auto-saving on the configured schedule.

A stored auto-save schedule from an earlier run takes precedence over the
config file unless autosave.reset is set. On shutdown a final auto-save is
written.

Examples:
  alifesim run --ticks 5000
  alifesim run --resume --port 8080
  alifesim run --from checkpoint`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Resume && opts.From != "" {
				return NewExitError(ExitCommandError, "--resume and --from are mutually exclusive")
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runSimulation(ctx, opts, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Resume, "resume", false, "continue from the newest auto-save")
	cmd.Flags().StringVar(&opts.From, "from", "", "continue from a named snapshot")
	cmd.Flags().Uint64Var(&opts.Ticks, "ticks", 0, "ticks to run (0 = engine.max_ticks)")
	cmd.Flags().IntVar(&opts.Port, "port", 0, "HTTP API port (0 = api.port)")

	return cmd
}

func runSimulation(ctx context.Context, opts *RunOptions, cmd *cobra.Command) error {
	cfg := opts.Config

	db, saves, err := openSnapshots(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()
	slog.Info("snapshot store opened", "driver", db.Dialect(), "compress", saves.Compressing())

	sched, err := autosave.New(ctx, saves, false)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open auto-save config", err)
	}
	loaded, err := sched.LoadConfig(ctx)
	if err != nil {
		slog.Warn("stored auto-save config unreadable, using configured values", "error", err)
	}
	if cfg.AutoSave.Reset || !loaded {
		if err := sched.Configure(ctx, cfg.AutoSave.Scheduler()); err != nil {
			return WrapExitError(ExitCommandError, "failed to store auto-save config", err)
		}
	}
	as := sched.Config()
	slog.Info("auto-save schedule",
		"enabled", as.Enabled,
		"interval_ticks", as.IntervalTicks,
		"max_auto_saves", as.MaxAutoSaves,
		"prefix", as.SlotPrefix,
		"stored", loaded && !cfg.AutoSave.Reset,
	)

	sim, err := engine.NewSimulation(engine.Options{
		Width:           cfg.World.Width,
		Height:          cfg.World.Height,
		Seed:            cfg.World.Seed,
		Agents:          cfg.World.Agents,
		Resources:       cfg.World.Resources,
		HistoryCapacity: cfg.Engine.HistoryCapacity,
		GenomeLen:       engine.DefaultOptions().GenomeLen,
	}, saves, sched)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to build world", err)
	}

	switch {
	case opts.From != "":
		ok, err := sim.LoadSlot(ctx, opts.From)
		if err != nil {
			return WrapExitError(ExitFailure, "failed to restore snapshot", err)
		}
		if !ok {
			return NewExitError(ExitFailure, fmt.Sprintf("no snapshot named %q", opts.From))
		}
	case opts.Resume:
		ok, err := sim.ResumeLatest(ctx)
		if err != nil {
			return WrapExitError(ExitFailure, "failed to restore auto-save", err)
		}
		if !ok {
			slog.Info("no auto-save found, starting a new world")
		}
	}

	eng := engine.NewEngine()
	eng.Interval = cfg.Engine.Interval
	eng.SetTick(sim.LastTick)
	eng.OnTick = sim.Tick
	ticks := cfg.Engine.MaxTicks
	if opts.Ticks > 0 {
		ticks = opts.Ticks
	}
	if ticks > 0 {
		eng.MaxTicks = sim.LastTick + ticks
	}

	port := cfg.API.Port
	if opts.Port > 0 {
		port = opts.Port
	}
	if port > 0 {
		if cfg.API.AdminKey == "" {
			slog.Warn("ALIFE_API_ADMIN_KEY not set, admin endpoints will be disabled")
		}
		srv := &api.Server{
			Sim:        sim,
			Eng:        eng,
			Port:       port,
			AdminKey:   cfg.API.AdminKey,
			RateLimit:  cfg.API.RateLimit,
			Burst:      cfg.API.Burst,
			TrustProxy: cfg.API.TrustProxy,
		}
		srv.Start()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				slog.Warn("HTTP API shutdown", "error", err)
			}
		}()
	}

	out := cmd.OutOrStdout()
	st := sim.Status()
	fmt.Fprintf(out, "World %s: %s agents, %s resource nodes on %dx%d.\n",
		st.RunID, humanize.Comma(int64(st.Agents)), humanize.Comma(int64(st.Resources)),
		sim.Grid.Width, sim.Grid.Height)
	if st.Tick > 0 {
		fmt.Fprintf(out, "Resuming from tick %s\n", humanize.Comma(int64(st.Tick)))
	}
	if port > 0 {
		fmt.Fprintf(out, "API: http://localhost:%d/api/v1/status\n", port)
	}

	eng.Run(ctx)

	// Final save on shutdown; the signal context may already be done.
	slog.Info("final save...")
	var saveErr error
	eng.Do(func() { _, saveErr = sim.ForceAutoSave(context.Background()) })
	if saveErr != nil {
		slog.Error("final save failed", "error", saveErr)
	}

	st = sim.Status()
	fmt.Fprintf(out, "Stopped at tick %s: %s agents, %d births, %d deaths.\n",
		humanize.Comma(int64(st.Tick)), humanize.Comma(int64(st.Agents)), st.Births, st.Deaths)
	if saveErr != nil {
		return WrapExitError(ExitFailure, "final save failed", saveErr)
	}
	return nil
}
