package cmd

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/inference-sim/elastic-sim/sim/cluster"
)

// defaultsCmd prints the built-in deployment config as a starting point for --config
var defaultsCmd = &cobra.Command{
	Use:   "defaults",
	Short: "Print the default deployment config as YAML",
	Run: func(cmd *cobra.Command, args []string) {
		enc := yaml.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent(2)
		if err := enc.Encode(cluster.DefaultDeploymentConfig()); err != nil {
			logrus.Fatalf("encoding default config: %v", err)
		}
		if err := enc.Close(); err != nil {
			logrus.Fatalf("encoding default config: %v", err)
		}
	},
}
