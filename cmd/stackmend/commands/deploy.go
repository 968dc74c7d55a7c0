package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stackmend/stackmend/pkg/analyzer"
	"github.com/stackmend/stackmend/pkg/config"
	"github.com/stackmend/stackmend/pkg/deploy"
	"github.com/stackmend/stackmend/pkg/engine"
	"github.com/stackmend/stackmend/pkg/fixer"
	"github.com/stackmend/stackmend/pkg/gateway/cfn"
)

func newDeployCommand() *cobra.Command {
	var (
		target        string
		maxIterations int
		dryRun        bool
	)

	cmd := &cobra.Command{
		Use:   "deploy <template>",
		Short: "Deploy a template with analyze-fix-retry orchestration",
		Long: `Deploy analyzes and repairs the template, submits it to the
provisioning backend, polls until the stack reaches a terminal state,
and on failure diagnoses the resource events and retries with targeted
fixes, up to the configured iteration bound.

A run that times out waiting for a terminal state stops without
retrying: the remote operation may still be in progress.`,
		Example: `  # Deploy with a config file
  stackmend deploy -c stackmend.cue stack.json

  # Deploy to an explicit target with a tighter retry bound
  stackmend deploy --target orders-stack --max-iterations 3 stack.json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if target != "" {
				cfg.Target = target
			}
			if maxIterations > 0 {
				cfg.Deploy.MaxIterations = maxIterations
			}
			if cfg.Target == "" {
				return fmt.Errorf("no target: set --target or the config file's target field")
			}

			tpl, err := loadTemplate(args[0])
			if err != nil {
				return err
			}

			tel, err := setupTelemetry(cfg)
			if err != nil {
				return err
			}
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				_ = tel.Shutdown(shutdownCtx)
			}()

			logger := tel.Logger.Zerolog()

			a, err := newAnalyzer(cmd, cfg)
			if err != nil {
				return err
			}
			f := fixer.New(logger, a)

			if dryRun {
				return runDryRun(cmd, cfg, a, f, args[0])
			}

			awsCfg, err := loadAWSConfig(cmd.Context(), cfg)
			if err != nil {
				return fmt.Errorf("failed to load AWS configuration: %w", err)
			}
			gw := cfn.New(awsCfg, logger)

			orch := deploy.NewOrchestrator(logger, gw, a, f, cfg.DeployOptions())
			orch.SetMetrics(tel.Metrics)

			if cfg.Store.Path != "" {
				store, err := openStore(cmd.Context(), cfg)
				if err != nil {
					return err
				}
				defer store.Close()
				orch.SetAuditStore(store)
			}

			result, err := orch.Run(tel.WithContext(cmd.Context()), tpl)
			if err != nil {
				if engine.HasCode(err, engine.ErrCodeMalformedReference) {
					return fmt.Errorf("template is not deployable, repair its references first: %w", err)
				}
				return err
			}

			if jsonOutput {
				if err := printJSON(result); err != nil {
					return err
				}
			} else {
				printRunSummary(result)
			}

			if !result.Success {
				return fmt.Errorf("deployment failed after %d attempt(s): %s", len(result.Attempts), result.ErrorMessage)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&target, "target", "t", "", "remote stack to deploy to")
	cmd.Flags().IntVar(&maxIterations, "max-iterations", 0, "override the attempt bound")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "analyze and fix only, do not submit")

	return cmd
}

// runDryRun performs the pre-submission phases only.
func runDryRun(cmd *cobra.Command, cfg *config.Config, a *analyzer.Analyzer, f *fixer.Fixer, path string) error {
	tpl, err := loadTemplate(path)
	if err != nil {
		return err
	}

	result, err := a.Analyze(cmd.Context(), tpl)
	if err != nil {
		return err
	}

	fixResult, err := f.Fix(cmd.Context(), tpl, result.Issues, fixer.Options{
		AutoApply: cfg.Deploy.AutoApplyFixes,
		MaxFixes:  cfg.Deploy.MaxFixesPerPass,
	})
	if err != nil {
		return err
	}

	if jsonOutput {
		return printJSON(fixResult)
	}

	fmt.Printf("dry run: %d issue(s), %d fix(es) would be applied\n", len(result.Issues), len(fixResult.Applied))
	for _, fix := range fixResult.Applied {
		fmt.Printf("  [%s] %s: %s\n", fix.Confidence, fix.ResourceID, fix.Description)
	}
	return nil
}

func printRunSummary(result *deploy.Result) {
	for _, attempt := range result.Attempts {
		line := fmt.Sprintf("attempt %d: %s", attempt.Number, attempt.Status)
		if attempt.StackState != "" {
			line += fmt.Sprintf(" (stack %s)", attempt.StackState)
		}
		if attempt.ErrorMessage != "" {
			line += " - " + attempt.ErrorMessage
		}
		fmt.Println(line)
		for _, fix := range attempt.FixesApplied {
			fmt.Printf("  fix [%s] %s: %s\n", fix.Confidence, fix.ResourceID, fix.Description)
		}
	}

	if result.Success {
		fmt.Printf("run %s succeeded after %d attempt(s), %d fix(es) applied\n",
			result.RunID, len(result.Attempts), len(result.FixesApplied))
	} else {
		fmt.Printf("run %s failed (%s) after %d attempt(s)\n",
			result.RunID, result.State, len(result.Attempts))
	}
}
