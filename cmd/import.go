package cmd

import (
	"os"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/w3spi5/bigdump-sub000/internal/analysis"
	"github.com/w3spi5/bigdump-sub000/internal/database"
	apperrors "github.com/w3spi5/bigdump-sub000/internal/errors"
	"github.com/w3spi5/bigdump-sub000/internal/importer"
	"github.com/w3spi5/bigdump-sub000/internal/session"
	"github.com/w3spi5/bigdump-sub000/internal/stream"
	"github.com/w3spi5/bigdump-sub000/internal/tuner"
)

var (
	importProfile    string
	importChunk      bool
	importLines      int64
	importTimeBudget int
	importBatchRows  int
	importBufferSize int
	importFresh      bool

	importCmd = &cobra.Command{
		Use:   "import <dump-file>",
		Short: "Import a SQL dump into the target database",
		Long: `Import streams a dump file into the database, resuming from a saved
session when one exists. By default the import runs to completion in a
single pass. With --chunk it processes one bounded chunk (line and time
budget) and exits, leaving a session behind for the next invocation —
the staggered mode used when an external scheduler drives the import.`,
		Args: cobra.ExactArgs(1),
		RunE: runImport,
	}
)

func init() {
	importCmd.Flags().StringVar(&importProfile, "profile", "conservative", "tuning profile: conservative or aggressive")
	importCmd.Flags().BoolVar(&importChunk, "chunk", false, "process one bounded chunk and exit (staggered mode)")
	importCmd.Flags().Int64Var(&importLines, "lines-per-session", 0, "line budget per chunk (default from config)")
	importCmd.Flags().IntVar(&importTimeBudget, "time-budget", 0, "time budget per chunk in seconds (default from config)")
	importCmd.Flags().IntVar(&importBatchRows, "batch-rows", 0, "override auto-tuned batch row limit")
	importCmd.Flags().IntVar(&importBufferSize, "buffer-size", 0, "read buffer size in bytes (clamped to 64KiB-256KiB)")
	importCmd.Flags().BoolVar(&importFresh, "fresh", false, "discard any saved session and start from the beginning")
	rootCmd.AddCommand(importCmd)
}

func runImport(cmd *cobra.Command, args []string) error {
	applyGlobalFlags()
	if err := requireDatabase(); err != nil {
		return err
	}
	ctx := cmd.Context()
	path := args[0]

	profile, err := tuner.ParseProfile(importProfile)
	if err != nil {
		log.Warn("unknown profile, falling back to conservative", "profile", importProfile)
	}

	res, err := analysis.FromFile(path)
	if err != nil {
		return apperrors.FileNotFound(path, err)
	}
	log.Info("analyzed dump",
		"file", path,
		"bytes", res.FileSize,
		"codec", string(stream.DetectCodec(path)))

	t := tuner.New(profile, stream.DetectCodec(path), res)
	if t.Downgraded() {
		log.Warn("aggressive profile downgraded: less than 128 MiB of memory headroom")
	}

	store, err := session.NewFileStore(cfg.SessionDir)
	if err != nil {
		return err
	}
	if importFresh {
		if err := store.Delete(path); err != nil {
			return err
		}
	}

	exec, err := database.Open(ctx, cfg.DriverName(), cfg.DSN())
	if err != nil {
		return err
	}
	defer exec.Close()
	if err := exec.PrepareBulkSession(ctx); err != nil {
		log.Warn("bulk session setup skipped", "error", err)
	}

	bufSize := cfg.BufferSize
	if importBufferSize > 0 {
		bufSize = importBufferSize
	}

	var budget importer.Budget
	if importChunk {
		budget.Lines = int64(cfg.LinesPerSession)
		budget.Time = time.Duration(cfg.TimeBudgetSecs) * time.Second
		if importLines > 0 {
			budget.Lines = importLines
		}
		if importTimeBudget > 0 {
			budget.Time = time.Duration(importTimeBudget) * time.Second
		}
	}

	orch := importer.New(importer.Options{
		FilePath:       path,
		BufferSize:     bufSize,
		Budget:         budget,
		BatchRows:      importBatchRows,
		Exec:           exec,
		Store:          store,
		Tuner:          t,
		Analysis:       res,
		Log:            log,
		OnSeekProgress: seekProgressBar(),
	})

	result, err := orch.Run(ctx)
	if err != nil {
		if apperrors.IsTargetExists(err) {
			log.Error("a target table already exists; drop it or use a dump with INSERT IGNORE, then re-run to resume",
				"error", err)
		}
		return err
	}

	log.Info("invocation summary",
		"statements", result.Statements,
		"rows", result.RowsAffected,
		"line", result.TotalLines,
		"offset", result.Offset)
	if result.SpeedHuman != "" {
		log.Info("throughput", "speed", result.SpeedHuman)
	}
	if !result.Done {
		log.Info("import paused; re-run the same command to continue",
			"offset", result.Offset)
	}
	return nil
}

// seekProgressBar renders replay-seek progress on stderr. The bar only
// appears when a resume actually has bytes to replay.
func seekProgressBar() stream.ProgressFunc {
	var bar *progressbar.ProgressBar
	return func(done, target int64) {
		if bar == nil {
			bar = progressbar.NewOptions64(target,
				progressbar.OptionSetDescription("replaying to saved offset"),
				progressbar.OptionSetWriter(os.Stderr),
				progressbar.OptionShowBytes(true),
				progressbar.OptionClearOnFinish(),
			)
		}
		_ = bar.Set64(done)
	}
}
