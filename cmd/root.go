// Package cmd wires the CLI surface.
package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/w3spi5/bigdump-sub000/internal/config"
	"github.com/w3spi5/bigdump-sub000/internal/logger"
)

var (
	cfg *config.Config
	log logger.Logger

	rootCmd = &cobra.Command{
		Use:   "bigdump",
		Short: "Resumable streaming SQL dump importer",
		Long: `bigdump imports very large SQL dump files into MySQL or PostgreSQL
by streaming them line by line: statements are parsed across chunk
boundaries, single-row INSERTs are merged into multi-row batches, and
every invocation leaves behind a resumable session so an interrupted
import continues exactly where it stopped.

Dumps may be plain text or compressed (.gz, .bz2, .xz, .zst); the codec
is detected from the file extension.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

// Execute runs the CLI with the given context, configuration and logger.
func Execute(ctx context.Context, c *config.Config, l logger.Logger) error {
	cfg = c
	log = l
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagHost, "host", "", "database host (default from DB_HOST)")
	rootCmd.PersistentFlags().IntVar(&flagPort, "port", 0, "database port")
	rootCmd.PersistentFlags().StringVar(&flagUser, "user", "", "database user")
	rootCmd.PersistentFlags().StringVar(&flagDatabase, "database", "", "target database name")
	rootCmd.PersistentFlags().StringVar(&flagDBType, "db-type", "", "database type: mysql or postgres")
	rootCmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "enable debug logging")
}

var (
	flagHost     string
	flagPort     int
	flagUser     string
	flagDatabase string
	flagDBType   string
	flagDebug    bool
)

// applyGlobalFlags folds persistent flags over the env-derived config.
func applyGlobalFlags() {
	if flagHost != "" {
		cfg.Host = flagHost
	}
	if flagPort != 0 {
		cfg.Port = flagPort
	}
	if flagUser != "" {
		cfg.User = flagUser
	}
	if flagDatabase != "" {
		cfg.Database = flagDatabase
	}
	if flagDBType != "" {
		cfg.DatabaseType = flagDBType
	}
	if flagDebug {
		cfg.Debug = true
	}
}

func requireDatabase() error {
	if cfg.Database == "" {
		return fmt.Errorf("target database is required (--database or DB_DATABASE)")
	}
	return nil
}
