package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stackmend/stackmend/pkg/graph"
)

func newValidateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <template>",
		Short: "Parse a template and check its dependency graph",
		Long: `Validate parses a template file, resolves its references, and builds
the dependency graph. It fails on malformed documents, references to
unknown resources, and dependency cycles.`,
		Example: `  # Validate a template
  stackmend validate stack.json

  # Machine-readable output
  stackmend validate --json stack.yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tpl, err := loadTemplate(args[0])
			if err != nil {
				return err
			}

			g, err := graph.Build(tpl)
			if err != nil {
				return err
			}

			cycles := g.Cycles()
			if jsonOutput {
				return printJSON(map[string]interface{}{
					"valid":     len(cycles) == 0,
					"resources": len(tpl.ResourceNames()),
					"cycles":    cycles,
				})
			}

			if len(cycles) > 0 {
				for _, cycle := range cycles {
					fmt.Printf("dependency cycle: %s\n", graph.FormatCycle(cycle))
				}
				return fmt.Errorf("template has %d dependency cycle(s)", len(cycles))
			}

			fmt.Printf("%s: %d resources, dependency graph is acyclic\n", args[0], len(tpl.ResourceNames()))
			return nil
		},
	}

	return cmd
}
