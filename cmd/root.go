// Package cmd contains the abitbot command line interface.
package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/abitbot/abitbot/internal/config"
	"github.com/abitbot/abitbot/internal/log"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "abitbot",
	Short: "Admissions chatbot grounded in the university site",
	Long: `abitbot answers applicant questions from an indexed copy of the
university admissions site. Answers are generated only from retrieved page
excerpts; when nothing relevant is indexed the bot says so instead of
guessing.

Run "abitbot ingest" to build the index, then "abitbot serve" to start the
HTTP chat API.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default ~/.abitbot/config.yaml)")
}

// loadConfig loads configuration and installs the process-wide logger.
func loadConfig() (*config.Config, *slog.Logger, error) {
	cfg, err := config.LoadFrom(cfgFile)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}

	logger := log.New(log.Config{
		Level: log.ParseLevel(cfg.LogLevel),
		JSON:  cfg.LogJSON,
	})
	slog.SetDefault(logger)

	return cfg, logger, nil
}
