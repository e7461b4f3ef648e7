package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wesleyorama2/stampede/internal/performance/threshold"
)

func newValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check a configuration without sending traffic",
		Long: `Validate loads the configuration (file, environment and flags), checks every
field and parses the threshold expressions. The dataset file is not read.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, _ := cmd.Flags().GetString("config")

			cfg, err := loadConfig(cmd, configPath)
			if err != nil {
				return err
			}
			rules, err := threshold.ParseAll(cfg.ThresholdDefinitions())
			if err != nil {
				return fatal("%w", err)
			}

			plan := cfg.Scenario.ExecutorConfig()
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Configuration is valid: %s\n", cfg.Name)
			fmt.Fprintf(out, "  Target:     %s %s\n", cfg.Target.Method, cfg.Target.URL())
			fmt.Fprintf(out, "  Dataset:    %s\n", cfg.Dataset.File)
			fmt.Fprintf(out, "  Stages:     %d (%s total, start %d VUs)\n", len(plan.Stages), plan.TotalDuration(), plan.StartVUs)
			for _, r := range rules {
				abort := ""
				if r.AbortOnFail {
					abort = " [abortOnFail]"
				}
				fmt.Fprintf(out, "  Threshold:  %s%s\n", r, abort)
			}
			return nil
		},
	}

	addOverlayFlags(cmd.Flags())
	return cmd
}
