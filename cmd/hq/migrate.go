package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/hiamp/hq/internal/config"
	"github.com/hiamp/hq/internal/migrate"
)

func newMigrateCmd() *cobra.Command {
	var from, to, defaultTeam, output string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Convert a config between transports",
		RunE: func(cmd *cobra.Command, args []string) error {
			if from != "slack" || to != "linear" {
				return fmt.Errorf("only --from slack --to linear is supported")
			}

			configPath := flagConfig
			if configPath == "" {
				configPath = os.Getenv(config.EnvConfigPath)
			}
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			res, err := migrate.SlackToLinear(cfg, defaultTeam)
			if err != nil {
				return err
			}

			data, err := yaml.Marshal(res.Config)
			if err != nil {
				return err
			}
			if output == "-" {
				fmt.Print(string(data))
			} else {
				if err := os.WriteFile(output, data, 0644); err != nil {
					return err
				}
				fmt.Printf("Wrote %s\n", output)
			}

			for _, line := range res.Summary {
				fmt.Printf("  %s\n", line)
			}
			for _, w := range res.Warnings {
				fmt.Printf("  warning: %s\n", w)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&from, "from", "slack", "source transport")
	cmd.Flags().StringVar(&to, "to", "linear", "target transport")
	cmd.Flags().StringVar(&defaultTeam, "default-team", "", "team key for the migrated config")
	cmd.Flags().StringVar(&output, "output", "-", "output file, - for stdout")
	return cmd
}
