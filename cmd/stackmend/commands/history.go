package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stackmend/stackmend/pkg/stores"
)

// runHistory is the read side of the audit store.
type runHistory interface {
	GetRun(ctx context.Context, id string) (*stores.RunRecord, error)
	ListRuns(ctx context.Context, limit, offset int) ([]*stores.RunRecord, error)
	ListAttempts(ctx context.Context, runID string) ([]*stores.AttemptRecord, error)
	ListFailureEvents(ctx context.Context, runID string) ([]*stores.FailureEventRecord, error)
}

func newHistoryCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "Show past deployment runs from the audit store",
		Long: `History reads the audit database configured under store.path. Without
arguments it lists recent runs; with a run id it shows that run's
attempts and the failure events collected for them.`,
		Example: `  # List recent runs
  stackmend history -c stackmend.cue

  # Show one run in detail
  stackmend history -c stackmend.cue 4f7c2a`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Store.Path == "" {
				return fmt.Errorf("no audit store: set store.path in the config file")
			}

			store, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			if len(args) == 1 {
				return showRun(cmd, store, args[0])
			}
			return listRuns(cmd, store, limit)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum runs to list")

	return cmd
}

func listRuns(cmd *cobra.Command, store runHistory, limit int) error {
	runs, err := store.ListRuns(cmd.Context(), limit, 0)
	if err != nil {
		return err
	}

	if jsonOutput {
		return printJSON(runs)
	}

	if len(runs) == 0 {
		fmt.Println("no runs recorded")
		return nil
	}

	for _, run := range runs {
		outcome := "failed"
		if run.Success {
			outcome = "succeeded"
		}
		fmt.Printf("%s  %s  %s (%s)  started %s\n",
			run.ID, run.Target, outcome, run.State, run.StartedAt.Format("2006-01-02 15:04:05"))
	}
	return nil
}

func showRun(cmd *cobra.Command, store runHistory, runID string) error {
	run, err := store.GetRun(cmd.Context(), runID)
	if err != nil {
		return err
	}
	attempts, err := store.ListAttempts(cmd.Context(), runID)
	if err != nil {
		return err
	}
	events, err := store.ListFailureEvents(cmd.Context(), runID)
	if err != nil {
		return err
	}

	if jsonOutput {
		return printJSON(map[string]interface{}{
			"run":            run,
			"attempts":       attempts,
			"failure_events": events,
		})
	}

	fmt.Printf("run %s: target=%s state=%s success=%v\n", run.ID, run.Target, run.State, run.Success)
	for _, attempt := range attempts {
		line := fmt.Sprintf("  attempt %d: %s", attempt.Number, attempt.Status)
		if attempt.StackState != nil {
			line += fmt.Sprintf(" (stack %s)", *attempt.StackState)
		}
		if attempt.Error != nil {
			line += " - " + *attempt.Error
		}
		fmt.Println(line)
	}
	for _, event := range events {
		fmt.Printf("  failure (attempt %d) %s [%s]: %s\n",
			event.AttemptNumber, event.ResourceID, event.Status, event.StatusReason)
	}
	return nil
}
