package cmd

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/clanwyse/halo/internal/conf"
	"github.com/clanwyse/halo/internal/observability"
)

var configFile = ""

var rootCmd = cobra.Command{
	Use: "halo",
	Run: func(cmd *cobra.Command, args []string) {
		execWithConfig(cmd, inspect)
	},
}

// RootCommand will setup and return the root command
func RootCommand() *cobra.Command {
	rootCmd.AddCommand(&inspectCmd, &versionCmd)
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "the config file to use")

	return &rootCmd
}

func execWithConfig(cmd *cobra.Command, fn func(config *conf.GovernanceConfiguration)) {
	config, err := conf.LoadGovernance(configFile)
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %+v", err)
	}
	if err := observability.ConfigureLogging(&config.Logging); err != nil {
		logrus.Fatalf("Failed to configure logging: %+v", err)
	}

	fn(config)
}
