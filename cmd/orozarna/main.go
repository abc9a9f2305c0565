package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/erazemk/orozarna/internal/config"
)

const programName = "orozarna"

var globalFlags = struct {
	configFile string
	debug      bool
	database   string
	logFile    string
}{}

type configKey struct{}

func configFrom(ctx context.Context) *config.Config {
	cfg, _ := ctx.Value(configKey{}).(*config.Config)
	return cfg
}

func main() {
	rootCmd := &cobra.Command{
		Use:           programName,
		Short:         "Armory custody service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&globalFlags.configFile, "config", "c", "", "path to YAML config file")
	rootCmd.PersistentFlags().BoolVarP(&globalFlags.debug, "debug", "D", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&globalFlags.database, "db", "d", "", "SQLite database path (overrides config)")
	rootCmd.PersistentFlags().StringVarP(&globalFlags.logFile, "log", "l", "", "log file path (overrides config)")

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(globalFlags.configFile)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		if globalFlags.database != "" {
			cfg.Database = globalFlags.database
		}
		if globalFlags.logFile != "" {
			cfg.LogFile = globalFlags.logFile
		}
		cmd.SetContext(context.WithValue(cmd.Context(), configKey{}, cfg))
		return nil
	}

	rootCmd.AddCommand(serveCommand())
	rootCmd.AddCommand(initCommand())

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
