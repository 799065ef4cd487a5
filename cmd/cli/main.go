package main

import (
	"fmt"
	"os"

	"github.com/nimasrn/transaction-guard/internal/config"
	"github.com/nimasrn/transaction-guard/pkg/logger"
	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	defer logger.Sync()

	var envPath string
	rootCmd := &cobra.Command{
		Use:     "tguard",
		Short:   "transaction-guard operator tooling",
		Version: Version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if envPath == "" {
				if _, err := os.Stat(".env"); err == nil {
					envPath = ".env"
				}
			}
			return config.Load(envPath)
		},
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&envPath, "env", "", "path of an env file to load")

	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(stageCmd())
	rootCmd.AddCommand(fraudReportCmd())
	rootCmd.AddCommand(statsCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
