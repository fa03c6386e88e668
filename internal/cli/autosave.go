package cli

import (
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/CodePapayas/a-life-cs461/internal/autosave"
	"github.com/CodePapayas/a-life-cs461/internal/snapshot"
)

// NewAutoSaveCommand creates the autosave command group.
func NewAutoSaveCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "autosave",
		Short: "Inspect and change the stored auto-save schedule",
	}
	cmd.AddCommand(newAutoSaveShowCommand(rootOpts))
	cmd.AddCommand(newAutoSaveSetCommand(rootOpts))
	cmd.AddCommand(newAutoSaveClearCommand(rootOpts))
	return cmd
}

// openScheduler opens the stores and a scheduler carrying the stored
// config, or the configured one if none has been stored yet.
func openScheduler(cmd *cobra.Command, opts *RootOptions) (*autosave.Scheduler, func(), error) {
	ctx := cmd.Context()
	db, saves, err := openSnapshots(ctx, opts.Config)
	if err != nil {
		return nil, nil, err
	}
	sched, err := autosave.New(ctx, saves, false)
	if err != nil {
		db.Close()
		return nil, nil, WrapExitError(ExitCommandError, "failed to open auto-save config", err)
	}
	loaded, err := sched.LoadConfig(ctx)
	if err != nil {
		db.Close()
		return nil, nil, WrapExitError(ExitFailure, "failed to read auto-save config", err)
	}
	if !loaded {
		if err := sched.Apply(opts.Config.AutoSave.Scheduler()); err != nil {
			db.Close()
			return nil, nil, WrapExitError(ExitCommandError, "invalid auto-save settings", err)
		}
	}
	return sched, func() { db.Close() }, nil
}

func newAutoSaveShowCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the schedule and the current auto-saves",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sched, closeFn, err := openScheduler(cmd, opts)
			if err != nil {
				return err
			}
			defer closeFn()

			list, err := sched.ListAutoSaves(cmd.Context())
			if err != nil {
				return WrapExitError(ExitFailure, "failed to list auto-saves", err)
			}
			return writeSchedule(cmd.OutOrStdout(), opts.Format, sched.Config(), sched.Stats(), list)
		},
	}
}

func newAutoSaveSetCommand(opts *RootOptions) *cobra.Command {
	var (
		interval uint32
		maxSaves uint32
		enabled  bool
		prefix   string
	)
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Change the stored schedule",
		Long: `Change the stored schedule. Only the flags given are changed.
A running simulation picks the change up on its next start.

Examples:
  alifesim autosave set --interval 500
  alifesim autosave set --max 10 --prefix checkpoint
  alifesim autosave set --enabled=false`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sched, closeFn, err := openScheduler(cmd, opts)
			if err != nil {
				return err
			}
			defer closeFn()

			cfg := sched.Config()
			flags := cmd.Flags()
			if flags.Changed("interval") {
				cfg.IntervalTicks = interval
			}
			if flags.Changed("max") {
				cfg.MaxAutoSaves = maxSaves
			}
			if flags.Changed("enabled") {
				cfg.Enabled = enabled
			}
			if flags.Changed("prefix") {
				cfg.SlotPrefix = prefix
			}
			if err := sched.Configure(cmd.Context(), cfg); err != nil {
				return WrapExitError(ExitFailure, "failed to store auto-save config", err)
			}
			// Shrinking the pool takes effect on disk right away.
			if err := sched.Prune(cmd.Context()); err != nil {
				return WrapExitError(ExitFailure, "failed to prune auto-saves", err)
			}

			list, err := sched.ListAutoSaves(cmd.Context())
			if err != nil {
				return WrapExitError(ExitFailure, "failed to list auto-saves", err)
			}
			return writeSchedule(cmd.OutOrStdout(), opts.Format, sched.Config(), sched.Stats(), list)
		},
	}
	cmd.Flags().Uint32Var(&interval, "interval", 0, "ticks between auto-saves")
	cmd.Flags().Uint32Var(&maxSaves, "max", 0, "number of rotating auto-save slots")
	cmd.Flags().BoolVar(&enabled, "enabled", true, "whether the schedule runs")
	cmd.Flags().StringVar(&prefix, "prefix", "", "slot name prefix")
	return cmd
}

func newAutoSaveClearCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Delete every auto-save",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sched, closeFn, err := openScheduler(cmd, opts)
			if err != nil {
				return err
			}
			defer closeFn()

			n, err := sched.ClearAll(cmd.Context())
			if err != nil {
				return WrapExitError(ExitFailure, "failed to clear auto-saves", err)
			}
			if opts.Format == "json" {
				return printJSON(cmd.OutOrStdout(), map[string]int64{"deleted": n})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d auto-saves\n", n)
			return nil
		},
	}
}

func writeSchedule(w io.Writer, format string, cfg autosave.Config, stats autosave.Stats, list []snapshot.SlotSummary) error {
	if format == "json" {
		return printJSON(w, map[string]any{
			"interval_ticks":      cfg.IntervalTicks,
			"max_auto_saves":      cfg.MaxAutoSaves,
			"enabled":             cfg.Enabled,
			"slot_prefix":         cfg.SlotPrefix,
			"last_auto_save_tick": stats.LastAutoSaveTick,
			"auto_saves":          len(list),
		})
	}

	tw := newTable(w)
	fmt.Fprintf(tw, "Enabled:\t%t\n", cfg.Enabled)
	fmt.Fprintf(tw, "Interval:\tevery %s ticks\n", humanize.Comma(int64(cfg.IntervalTicks)))
	fmt.Fprintf(tw, "Pool:\t%d slots named %s_N\n", cfg.MaxAutoSaves, cfg.SlotPrefix)
	fmt.Fprintf(tw, "Last auto-save:\ttick %s\n", humanize.Comma(int64(stats.LastAutoSaveTick)))
	fmt.Fprintf(tw, "Stored:\t%d\n", len(list))
	return tw.Flush()
}
