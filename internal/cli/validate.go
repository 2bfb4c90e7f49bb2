package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/wesleyorama2/ldload/internal/loadtest/config"
)

func newValidateCmd() *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a configuration file without running it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if configFile == "" {
				return fmt.Errorf("--config is required")
			}

			cfg, err := config.LoadConfig(configFile)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			config.ApplyDefaults(cfg)

			deps, err := cfg.Dependencies()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Configuration is valid: %s (%d phases)\n", cfg.Name, len(cfg.Scenarios))
			for _, sc := range cfg.Scenarios {
				line := fmt.Sprintf("  %s [%s]", sc.Name, sc.Executor)
				if after := deps[sc.Name]; len(after) > 0 {
					line += " after " + strings.Join(after, ", ")
				}
				fmt.Fprintln(out, line)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configFile, "config", "c", "", "Configuration file (YAML or JSON)")
	return cmd
}
