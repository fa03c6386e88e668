// Command alifesim runs the artificial life simulation and manages its
// snapshots.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/CodePapayas/a-life-cs461/internal/cli"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
