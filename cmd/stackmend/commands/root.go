package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/stackmend/stackmend/pkg/config"
	"github.com/stackmend/stackmend/pkg/template"
)

var (
	// Global flags
	configPath string
	verbose    bool
	jsonOutput bool
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "stackmend",
		Short: "StackMend - self-healing infrastructure template deployment",
		Long: `StackMend analyzes declarative infrastructure templates, repairs the
problems it finds, and deploys the result with a bounded retry loop.

The engine works in four phases:
  - Analyze: structural checks, dependency cycles, policy evaluation
  - Fix: confidence-scored, replayable template mutations
  - Deploy: submission to the provisioning backend with status polling
  - Diagnose: failure events mapped back to targeted fixes for retry`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newAnalyzeCommand())
	rootCmd.AddCommand(newFixCommand())
	rootCmd.AddCommand(newDeployCommand())
	rootCmd.AddCommand(newHistoryCommand())

	return rootCmd
}

// loadConfig loads the config file if one was given, or returns the
// defaults. The returned config may still have an empty target; deploy
// requires one, analyze and fix do not.
func loadConfig() (*config.Config, error) {
	if configPath == "" {
		return config.Default(), nil
	}

	parser, err := config.NewParser()
	if err != nil {
		return nil, err
	}
	return parser.Load(configPath)
}

// loadTemplate reads and parses a template file.
func loadTemplate(path string) (*template.Template, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read template %s: %w", path, err)
	}

	tpl, err := template.Parse(content)
	if err != nil {
		return nil, fmt.Errorf("failed to parse template %s: %w", path, err)
	}
	return tpl, nil
}

// printJSON writes v as indented JSON to stdout.
func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func commandLogger() zerolog.Logger {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	if verbose {
		return logger.Level(zerolog.DebugLevel)
	}
	return logger.Level(zerolog.InfoLevel)
}
