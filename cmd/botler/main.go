package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:          "botler",
		Short:        "Commerce webhook ingestion and AI reply service",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringP("config", "c", "", "path to config.toml")
	root.AddCommand(newServeCmd(), newMigrateCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func configPath(cmd *cobra.Command) string {
	path, _ := cmd.Flags().GetString("config")
	return path
}
