// bigdump — resumable streaming SQL dump importer.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/w3spi5/bigdump-sub000/cmd"
	"github.com/w3spi5/bigdump-sub000/internal/config"
	"github.com/w3spi5/bigdump-sub000/internal/logger"
)

// Build information (set by ldflags)
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

func main() {
	// Cancel on interrupt so the import loop can stop cooperatively and
	// persist its session before exiting.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg := config.New()
	cfg.Version = version
	cfg.BuildTime = buildTime
	cfg.GitCommit = gitCommit

	logLevel := cfg.LogLevel
	if cfg.Debug && logLevel != "debug" {
		logLevel = "debug"
	}
	log := logger.New(logLevel, cfg.LogFormat)

	if err := cmd.Execute(ctx, cfg, log); err != nil {
		log.Error("import failed", "error", err)
		os.Exit(1)
	}
}
