package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"voxlate/internal/app"
	"voxlate/internal/worker"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Expire and purge old jobs once",
	Long: `Run one maintenance pass and exit.

Jobs past their expiry are marked expired and their files removed. Finished
jobs older than RETENTION are deleted, as is stored content no job refers
to any more.`,
	Args: cobra.NoArgs,
	RunE: runSweep,
}

func runSweep(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	core, err := app.OpenCore(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("init: %w", err)
	}
	defer core.Close()

	sweeper := worker.NewSweeper(core.Orchestrator, core.Files, worker.SweeperConfig{
		Interval:      cfg.SweepInterval,
		Retention:     cfg.Retention,
		ContentMaxAge: cfg.JobTTL + cfg.Retention,
	}, logger)

	res, err := sweeper.RunOnce(ctx)
	fmt.Fprintf(cmd.OutOrStdout(), "expired: %d, purged: %d, files removed: %d\n", res.Expired, res.Purged, res.Files)
	if err != nil {
		return fmt.Errorf("sweep: %w", err)
	}
	return nil
}
