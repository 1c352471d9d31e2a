package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"voxlate/internal/app"
)

var statusCmd = &cobra.Command{
	Use:   "status <job-id>",
	Short: "Show a job as JSON",
	Long: `Show the stored state of a translation job as JSON.

A job past its expiry that never completed is marked expired first.

Examples:
  voxlate status 3f2b8c1e-6f0a-4c1d-9e7b-0a4d2f6c8e11`,
	Args: cobra.ExactArgs(1),
	RunE: runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	core, err := app.OpenCore(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("init: %w", err)
	}
	defer core.Close()

	job, err := core.Orchestrator.Refresh(ctx, args[0])
	if err != nil {
		return fmt.Errorf("get job: %w", err)
	}
	if job == nil {
		return fmt.Errorf("job not found: %s", args[0])
	}

	out, err := json.MarshalIndent(job, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}
