// Package cli implements the alifesim command tree.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/CodePapayas/a-life-cs461/internal/config"
	"github.com/CodePapayas/a-life-cs461/internal/persistence"
	"github.com/CodePapayas/a-life-cs461/internal/snapshot"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	Format     string // "json" | "text"

	// Config is loaded before any subcommand runs.
	Config *config.Config
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "alifesim",
		Short: "Artificial life simulation with checkpointing",
		Long: `Runs an artificial life simulation and manages its snapshots.

Settings come from an optional YAML file (--config) overlaid with
ALIFE_* environment variables, e.g. ALIFE_STORE_DRIVER=postgres.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			cfg, err := config.Load(opts.ConfigPath)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to load config", err)
			}
			opts.Config = cfg
			slog.SetDefault(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{
				Level: cfg.Log.SlogLevel(),
			})))
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "config file (YAML)")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewSavesCommand(opts))
	cmd.AddCommand(NewAutoSaveCommand(opts))

	return cmd
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

// openSnapshots opens the configured database and the snapshot store on it.
// The caller closes the returned persistence.Store.
func openSnapshots(ctx context.Context, cfg *config.Config) (persistence.Store, *snapshot.Store, error) {
	opts := cfg.Store.Options()
	if opts.Driver == persistence.DialectSQLite {
		if err := os.MkdirAll(filepath.Dir(opts.Path), 0o755); err != nil {
			return nil, nil, WrapExitError(ExitCommandError, "failed to create data directory", err)
		}
	}

	db, err := persistence.Open(ctx, opts)
	if err != nil {
		return nil, nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	saves, err := snapshot.New(ctx, db, snapshot.WithCompression(cfg.Store.CompressGenomes))
	if err != nil {
		db.Close()
		return nil, nil, WrapExitError(ExitCommandError, "failed to open snapshot store", err)
	}
	return db, saves, nil
}
