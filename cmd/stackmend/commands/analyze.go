package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stackmend/stackmend/pkg/analyzer"
	"github.com/stackmend/stackmend/pkg/config"
)

func newAnalyzeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "analyze <template>",
		Short: "Report structural issues and policy violations",
		Long: `Analyze inspects a template without modifying it. It reports missing
required properties, missing companion resources, dependency cycles,
and Rego policy violations, ordered by severity.`,
		Example: `  # Analyze a template with the built-in policies
  stackmend analyze stack.json

  # Include custom policies from a config file
  stackmend analyze -c stackmend.cue stack.json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			tpl, err := loadTemplate(args[0])
			if err != nil {
				return err
			}

			a, err := newAnalyzer(cmd, cfg)
			if err != nil {
				return err
			}

			result, err := a.Analyze(cmd.Context(), tpl)
			if err != nil {
				return err
			}

			if jsonOutput {
				return printJSON(result)
			}

			if !result.HasIssues() {
				fmt.Printf("%s: no issues found (%d resources)\n", args[0], result.ResourceCount)
				return nil
			}

			// Group the report per resource, resources ordered by their
			// most severe issue.
			seen := map[string]bool{}
			for _, issue := range result.Issues {
				if seen[issue.ResourceID] {
					continue
				}
				seen[issue.ResourceID] = true
				fmt.Printf("%s:\n", issue.ResourceID)
				for _, ri := range result.IssuesFor(issue.ResourceID) {
					fmt.Printf("  [%s] %s: %s\n", ri.Severity, ri.Kind, ri.Description)
					if ri.Remediation != "" {
						fmt.Printf("       remediation: %s\n", ri.Remediation)
					}
				}
			}
			fmt.Printf("%d issue(s) in %d resources\n", len(result.Issues), result.ResourceCount)

			if result.HasBlocking() {
				return fmt.Errorf("template has blocking issues")
			}
			return nil
		},
	}

	return cmd
}

// newAnalyzer builds an analyzer with the configured policies loaded
// and disabled policies turned off.
func newAnalyzer(cmd *cobra.Command, cfg *config.Config) (*analyzer.Analyzer, error) {
	a, err := analyzer.New(commandLogger())
	if err != nil {
		return nil, err
	}

	if len(cfg.Analyzer.PolicyPaths) > 0 {
		if err := a.LoadPolicies(cmd.Context(), cfg.Analyzer.PolicyPaths); err != nil {
			return nil, err
		}
	}
	for _, name := range cfg.Analyzer.DisabledPolicies {
		if err := a.PolicyEngine().DisablePolicy(name); err != nil {
			return nil, err
		}
	}
	return a, nil
}
