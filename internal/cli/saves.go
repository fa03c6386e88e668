package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/CodePapayas/a-life-cs461/internal/snapshot"
)

// NewSavesCommand creates the saves command group.
func NewSavesCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "saves",
		Short: "List, inspect and delete stored snapshots",
	}
	cmd.AddCommand(newSavesListCommand(rootOpts))
	cmd.AddCommand(newSavesShowCommand(rootOpts))
	cmd.AddCommand(newSavesDeleteCommand(rootOpts))
	return cmd
}

func newSavesListCommand(opts *RootOptions) *cobra.Command {
	var autoOnly bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List snapshots, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			db, saves, err := openSnapshots(ctx, opts.Config)
			if err != nil {
				return err
			}
			defer db.Close()

			var list []snapshot.SlotSummary
			if autoOnly {
				list, err = saves.ListAuto(ctx)
			} else {
				list, err = saves.List(ctx)
			}
			if err != nil {
				return WrapExitError(ExitFailure, "failed to list snapshots", err)
			}
			return writeSummaries(cmd.OutOrStdout(), opts.Format, list, time.Now())
		},
	}
	cmd.Flags().BoolVar(&autoOnly, "auto", false, "only auto-saves")
	return cmd
}

func newSavesShowCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show SLOT",
		Short: "Show one snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			db, saves, err := openSnapshots(ctx, opts.Config)
			if err != nil {
				return err
			}
			defer db.Close()

			snap, ok, err := saves.Load(ctx, args[0])
			if err != nil {
				return WrapExitError(ExitFailure, "failed to load snapshot", err)
			}
			if !ok {
				return NewExitError(ExitFailure, fmt.Sprintf("no snapshot named %q", args[0]))
			}
			return writeSnapshot(cmd.OutOrStdout(), opts.Format, snap)
		},
	}
}

func newSavesDeleteCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete SLOT",
		Short: "Delete a snapshot and everything stored with it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return deleteSlot(cmd.Context(), opts, cmd.OutOrStdout(), args[0])
		},
	}
}

func deleteSlot(ctx context.Context, opts *RootOptions, w io.Writer, name string) error {
	db, saves, err := openSnapshots(ctx, opts.Config)
	if err != nil {
		return err
	}
	defer db.Close()

	deleted, err := saves.Delete(ctx, name)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to delete snapshot", err)
	}
	if !deleted {
		return NewExitError(ExitFailure, fmt.Sprintf("no snapshot named %q", name))
	}
	if opts.Format == "json" {
		return printJSON(w, map[string]string{"deleted": name})
	}
	fmt.Fprintf(w, "deleted %s\n", name)
	return nil
}

type summaryOut struct {
	Slot        string    `json:"slot"`
	Description string    `json:"description"`
	Tick        uint64    `json:"tick"`
	Agents      int       `json:"agents"`
	Resources   int       `json:"resources"`
	TotalEnergy float64   `json:"total_energy"`
	AvgFitness  float64   `json:"avg_fitness"`
	AutoSave    bool      `json:"auto_save"`
	CreatedAt   time.Time `json:"created_at"`
}

func writeSummaries(w io.Writer, format string, list []snapshot.SlotSummary, now time.Time) error {
	if format == "json" {
		out := make([]summaryOut, len(list))
		for i, s := range list {
			out[i] = summaryOut{
				Slot:        s.SlotName,
				Description: s.Description,
				Tick:        s.Tick,
				Agents:      s.AgentCount,
				Resources:   s.ResourceCount,
				TotalEnergy: s.TotalEnergy,
				AvgFitness:  s.AvgFitness,
				AutoSave:    s.IsAutoSave,
				CreatedAt:   s.CreatedAt,
			}
		}
		return printJSON(w, out)
	}

	if len(list) == 0 {
		fmt.Fprintln(w, "no snapshots")
		return nil
	}
	tw := newTable(w)
	fmt.Fprintln(tw, "SLOT\tTICK\tAGENTS\tRESOURCES\tENERGY\tFITNESS\tAUTO\tSAVED")
	for _, s := range list {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%.3f\t%t\t%s\n",
			s.SlotName,
			humanize.Comma(int64(s.Tick)),
			humanize.Comma(int64(s.AgentCount)),
			humanize.Comma(int64(s.ResourceCount)),
			humanize.CommafWithDigits(s.TotalEnergy, 1),
			s.AvgFitness,
			s.IsAutoSave,
			humanize.RelTime(s.CreatedAt, now, "ago", "from now"),
		)
	}
	return tw.Flush()
}

func writeSnapshot(w io.Writer, format string, snap *snapshot.Snapshot) error {
	var genomeBytes int
	for _, a := range snap.Agents {
		genomeBytes += len(a.Genome)
	}

	if format == "json" {
		return printJSON(w, map[string]any{
			"slot":         snap.SlotName,
			"description":  snap.Description,
			"tick":         snap.Tick,
			"timestamp":    snap.Timestamp,
			"world_width":  snap.WorldWidth,
			"world_height": snap.WorldHeight,
			"total_energy": snap.TotalEnergy,
			"run_id":       snap.RunID,
			"agents":       len(snap.Agents),
			"resources":    len(snap.Resources),
			"history":      len(snap.History),
			"genome_bytes": genomeBytes,
		})
	}

	tw := newTable(w)
	fmt.Fprintf(tw, "Slot:\t%s\n", snap.SlotName)
	fmt.Fprintf(tw, "Description:\t%s\n", snap.Description)
	fmt.Fprintf(tw, "Tick:\t%s\n", humanize.Comma(int64(snap.Tick)))
	fmt.Fprintf(tw, "Taken:\t%s\n", snap.Timestamp.Format(time.RFC3339))
	fmt.Fprintf(tw, "World:\t%dx%d\n", snap.WorldWidth, snap.WorldHeight)
	fmt.Fprintf(tw, "Run:\t%s\n", snap.RunID)
	fmt.Fprintf(tw, "Total energy:\t%s\n", humanize.CommafWithDigits(snap.TotalEnergy, 1))
	fmt.Fprintf(tw, "Agents:\t%s (genomes %s)\n", humanize.Comma(int64(len(snap.Agents))), humanize.Bytes(uint64(genomeBytes)))
	fmt.Fprintf(tw, "Resources:\t%s\n", humanize.Comma(int64(len(snap.Resources))))
	fmt.Fprintf(tw, "History:\t%d points\n", len(snap.History))
	return tw.Flush()
}
