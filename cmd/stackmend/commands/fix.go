package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/stackmend/stackmend/pkg/fixer"
)

func newFixCommand() *cobra.Command {
	var (
		apply      bool
		maxFixes   int
		outputPath string
	)

	cmd := &cobra.Command{
		Use:   "fix <template>",
		Short: "Analyze a template and repair the issues found",
		Long: `Fix runs the analyzer and then applies the fix strategies for the
issues it reports. Without --apply only HIGH-confidence fixes run;
lower-confidence fixes are skipped and reported.

The input file is never modified. Use --output to write the repaired
template somewhere.`,
		Example: `  # Show what would be fixed, applying only HIGH-confidence fixes
  stackmend fix stack.json

  # Apply all fixes and write the result
  stackmend fix --apply --output fixed.json stack.json`,
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

			f := fixer.New(commandLogger(), a)
			fixResult, err := f.Fix(cmd.Context(), tpl, result.Issues, fixer.Options{
				AutoApply: apply,
				MaxFixes:  maxFixes,
			})
			if err != nil {
				return err
			}

			if outputPath != "" {
				body, err := fixResult.FixedTemplate.JSON()
				if err != nil {
					return fmt.Errorf("failed to serialize fixed template: %w", err)
				}
				if err := os.WriteFile(outputPath, body, 0o644); err != nil {
					return fmt.Errorf("failed to write %s: %w", outputPath, err)
				}
			}

			if jsonOutput {
				return printJSON(fixResult)
			}

			for _, fix := range fixResult.Applied {
				fmt.Printf("fixed [%s] %s: %s\n", fix.Confidence, fix.ResourceID, fix.Description)
			}
			for _, skipped := range fixResult.Skipped {
				fmt.Printf("skipped %s %s: %s\n", skipped.Issue.Kind, skipped.Issue.ResourceID, skipped.Reason)
			}

			remaining := 0
			if fixResult.Validation != nil {
				remaining = len(fixResult.Validation.Issues)
			}
			fmt.Printf("%d fix(es) applied, %d skipped, %d issue(s) remaining\n",
				len(fixResult.Applied), len(fixResult.Skipped), remaining)

			return nil
		},
	}

	cmd.Flags().BoolVar(&apply, "apply", false, "apply fixes below HIGH confidence too")
	cmd.Flags().IntVar(&maxFixes, "max-fixes", 0, "cap the number of fixes (0 = default)")
	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "write the fixed template to this file")

	return cmd
}
