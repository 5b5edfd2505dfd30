package importer

import (
	"bufio"
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/klauspost/pgzip"

	"github.com/w3spi5/bigdump-sub000/internal/batch"
	apperrors "github.com/w3spi5/bigdump-sub000/internal/errors"
	"github.com/w3spi5/bigdump-sub000/internal/logger"
	"github.com/w3spi5/bigdump-sub000/internal/parser"
	"github.com/w3spi5/bigdump-sub000/internal/stream"
)

// RewriteOptions configures a dump-to-dump rewrite: statements are
// parsed and batched exactly as an import would, then written to an
// output file instead of executed.
type RewriteOptions struct {
	InputPath  string
	OutputPath string // .gz suffix enables gzip compression
	BufferSize int
	BatchRows  int
	BatchBytes int
	Log        logger.Logger
}

// RewriteResult summarizes a rewrite run.
type RewriteResult struct {
	Lines        int64         `json:"lines"`
	Statements   int64         `json:"statements"`
	BytesWritten int64         `json:"bytes_written"`
	Elapsed      time.Duration `json:"elapsed"`
	BatchStats   batch.Stats   `json:"batch_stats"`
	Warning      error         `json:"-"`
}

// countingWriter tracks bytes written to the final destination.
type countingWriter struct {
	w io.Writer
	n int64
}

func (cw *countingWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	cw.n += int64(n)
	return n, err
}

// Rewrite streams the input dump through the parser and batcher and
// writes the resulting statement sequence, one per line with a trailing
// semicolon. Cancellation is cooperative at the per-line loop.
func Rewrite(ctx context.Context, opts RewriteOptions) (*RewriteResult, error) {
	start := time.Now()
	log := opts.Log
	if log == nil {
		log = logger.NewSilent()
	}

	reader := stream.NewReader(opts.BufferSize)
	if err := reader.Open(opts.InputPath); err != nil {
		return nil, err
	}
	defer reader.Close()

	out, err := os.Create(opts.OutputPath)
	if err != nil {
		return nil, err
	}
	counter := &countingWriter{w: out}

	var (
		dst io.Writer = counter
		gzw *pgzip.Writer
	)
	if strings.HasSuffix(strings.ToLower(opts.OutputPath), ".gz") {
		gzw = pgzip.NewWriter(counter)
		dst = gzw
	}
	bw := bufio.NewWriterSize(dst, 256<<10)

	closeAll := func() error {
		var errs *multierror.Error
		errs = multierror.Append(errs, bw.Flush())
		if gzw != nil {
			errs = multierror.Append(errs, gzw.Close())
		}
		errs = multierror.Append(errs, out.Close())
		return errs.ErrorOrNil()
	}

	log.Info("rewriting dump",
		"file", opts.InputPath,
		"codec", string(reader.Codec()))

	p := parser.New()
	b := batch.New(batch.Config{MaxRows: opts.BatchRows, MaxBytes: opts.BatchBytes})
	res := &RewriteResult{}

	emit := func(stmts []string) error {
		for _, s := range stmts {
			if _, err := bw.WriteString(s); err != nil {
				return err
			}
			if _, err := bw.WriteString(";\n"); err != nil {
				return err
			}
			res.Statements++
		}
		return nil
	}

	for {
		if ctx.Err() != nil {
			closeAll()
			return res, ctx.Err()
		}

		rawLine, err := reader.ReadLine()
		if err == io.EOF {
			break
		}
		if err != nil {
			closeAll()
			return res, err
		}
		res.Lines++

		parsed := p.ParseLine(rawLine)
		if parsed.Err != "" {
			log.Warn("parser anomaly", "line", res.Lines, "error", parsed.Err)
		}
		for _, stmt := range parsed.Statements {
			if err := emit(b.Add(stmt)); err != nil {
				closeAll()
				return res, err
			}
		}
	}

	if err := emit(b.Flush()); err != nil {
		closeAll()
		return res, err
	}
	if pending := p.Pending(); pending != "" {
		res.Warning = apperrors.TruncatedDump(opts.InputPath, pending, res.Lines)
		log.Warn("dump ends mid-statement", "line", res.Lines, "error", res.Warning)
	}

	if err := closeAll(); err != nil {
		return res, err
	}
	res.BytesWritten = counter.n
	res.BatchStats = b.Stats()
	res.Elapsed = time.Since(start)

	log.Info("rewrite finished",
		"statements", res.Statements,
		"lines", res.Lines,
		"bytes", res.BytesWritten)
	return res, nil
}
