package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"taskforest/internal/config"
)

var Version = "dev"

var configPath string

// @title                       taskforest API
// @version                     1.0
// @description                 Per-owner task hierarchy with timeline rollup, status cascade and live change feeds.
// @BasePath                    /
// @securityDefinitions.apikey  BearerAuth
// @in                          header
// @name                        Authorization
func main() {
	rootCmd := &cobra.Command{
		Use:     "taskforest",
		Short:   "taskforest - hierarchical task service",
		Version: Version,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultPath, "path to the YAML config")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(tokenCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
