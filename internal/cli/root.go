package cli

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wesleyorama2/ldload/internal/logger"
)

var version = "0.1.0"

// NewRootCmd returns the base command with every subcommand attached.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "ldload",
		Short:   "A load-test orchestrator for HTTP services",
		Version: version,
		Long: `ldload runs phased load tests against an HTTP target. Phases issue requests
at a constant arrival rate or run one-shot side effects (shell commands,
webhooks, Redis publishes), and can be chained with dependencies, groups
and start offsets.`,
		SilenceUsage: true,
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Help()
		},
	}

	cmd.PersistentFlags().String("log-level", "warn", "Log level: debug, info, warn, error")
	cmd.PersistentFlags().String("log-format", "console", "Log format: console, json")
	cmd.PersistentFlags().String("log-file", "", "Also write logs to this file (rotated)")

	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newValidateCmd())
	return cmd
}

// Execute runs the root command. It is called by main.main().
func Execute() error {
	return NewRootCmd().Execute()
}

// newLogger builds the logger described by the persistent log flags.
func newLogger(cmd *cobra.Command) (*zap.Logger, error) {
	cfg := logger.DefaultConfig()
	cfg.Level, _ = cmd.Flags().GetString("log-level")
	cfg.Format, _ = cmd.Flags().GetString("log-format")
	cfg.FilePath, _ = cmd.Flags().GetString("log-file")
	cfg.Writer = cmd.ErrOrStderr()
	if cfg.FilePath != "" {
		cfg.Output = "both"
	}
	return logger.New(cfg)
}
