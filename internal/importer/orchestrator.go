// Package importer drives the import: lines from the stream reader, into
// the statement parser, through the batcher, out to the database —
// bounded per invocation in staggered mode, unbounded in CLI mode.
package importer

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/w3spi5/bigdump-sub000/internal/analysis"
	"github.com/w3spi5/bigdump-sub000/internal/batch"
	"github.com/w3spi5/bigdump-sub000/internal/database"
	apperrors "github.com/w3spi5/bigdump-sub000/internal/errors"
	"github.com/w3spi5/bigdump-sub000/internal/logger"
	"github.com/w3spi5/bigdump-sub000/internal/parser"
	"github.com/w3spi5/bigdump-sub000/internal/progress"
	"github.com/w3spi5/bigdump-sub000/internal/session"
	"github.com/w3spi5/bigdump-sub000/internal/stream"
	"github.com/w3spi5/bigdump-sub000/internal/tuner"
)

// Status is the orchestrator state machine.
type Status string

const (
	StatusNotStarted Status = "NOT_STARTED"
	StatusRunning    Status = "RUNNING"
	StatusFinished   Status = "FINISHED"
	StatusError      Status = "ERROR"
	StatusStopped    Status = "STOPPED"
)

// Budget bounds one invocation. Zero values mean unbounded; CLI mode
// passes the zero Budget.
type Budget struct {
	Lines int64
	Time  time.Duration
}

// Options wires an Orchestrator.
type Options struct {
	FilePath   string
	BufferSize int
	Budget     Budget
	// BatchRows overrides the tuner's batch recommendation when > 0.
	BatchRows int
	Exec      database.Executor
	Store     session.Store
	Tuner     *tuner.Tuner
	Analysis  *analysis.Result
	Log       logger.Logger
	// OnSeekProgress reports replay-seek progress during resume.
	OnSeekProgress stream.ProgressFunc
}

// Result summarizes one invocation.
type Result struct {
	Status       Status        `json:"status"`
	LinesRead    int64         `json:"lines_read"`    // this invocation
	TotalLines   int64         `json:"total_lines"`   // cumulative, from session
	Statements   int64         `json:"statements"`    // executed this invocation
	RowsAffected int64         `json:"rows_affected"` // this invocation
	Bytes        int64         `json:"bytes"`         // stream bytes read this invocation
	Offset       int64         `json:"offset"`        // resumable byte offset
	Done         bool          `json:"done"`
	Elapsed      time.Duration `json:"elapsed"`
	// Warning carries non-fatal anomalies, e.g. a dump truncated
	// mid-statement.
	Warning error `json:"-"`

	BatchStats   batch.Stats            `json:"batch_stats"`
	TunerMetrics map[string]interface{} `json:"tuner_metrics,omitempty"`
	SpeedHuman   string                 `json:"speed,omitempty"`
}

// Orchestrator runs the import loop. One orchestrator serves one dump
// file; invocations are serialized, never concurrent.
type Orchestrator struct {
	opts    Options
	status  Status
	stopReq atomic.Bool
	est     *progress.Estimator
}

// New creates an orchestrator in NOT_STARTED.
func New(opts Options) *Orchestrator {
	if opts.Log == nil {
		opts.Log = logger.NewSilent()
	}
	return &Orchestrator{
		opts:   opts,
		status: StatusNotStarted,
		est:    progress.NewDefaultEstimator(),
	}
}

// Status returns the current state.
func (o *Orchestrator) Status() Status {
	return o.status
}

// RequestStop asks the loop to stop cooperatively. Checked at the top of
// the per-line loop; an in-flight statement or replay-seek finishes
// first.
func (o *Orchestrator) RequestStop() {
	o.stopReq.Store(true)
}

// Run executes one invocation: restore (or create) the session, seek,
// loop until a budget is exhausted or EOF, persist the session. Call it
// repeatedly for staggered mode; with a zero Budget a single call runs
// to completion.
func (o *Orchestrator) Run(ctx context.Context) (*Result, error) {
	start := time.Now()
	log := o.opts.Log

	sess, err := o.restoreSession()
	if err != nil {
		o.status = StatusError
		return nil, err
	}

	reader := stream.NewReader(o.opts.BufferSize)
	if err := reader.Open(o.opts.FilePath); err != nil {
		o.status = StatusError
		return nil, err
	}
	defer reader.Close()

	if sess.Offset > 0 {
		log.Info("resuming import",
			"file", o.opts.FilePath,
			"offset", sess.Offset,
			"line", sess.Line,
			"codec", string(reader.Codec()))
		if err := reader.Seek(sess.Offset, o.opts.OnSeekProgress); err != nil {
			o.status = StatusError
			return nil, err
		}
	} else {
		log.Info("starting import",
			"file", o.opts.FilePath,
			"codec", string(reader.Codec()))
	}

	p := parser.Restore(sess.ParserState())
	b := batch.New(batch.Config{MaxRows: o.tunedBatchSize()})
	b.Restore(sess.BatchState())

	o.status = StatusRunning
	res, runErr := o.loop(ctx, start, sess, reader, p, b)
	res.Elapsed = time.Since(start)
	res.BatchStats = b.Stats()
	if o.opts.Tuner != nil {
		res.TunerMetrics = o.opts.Tuner.Metrics()
	}
	if spd := o.est.SpeedBytesPerSec(); spd > 0 {
		res.SpeedHuman = o.est.FormatSpeed()
	}

	switch res.Status {
	case StatusFinished:
		log.Info("import finished",
			"file", o.opts.FilePath,
			"statements", sess.Statements,
			"rows", sess.Rows,
			"line", sess.Line)
		if err := o.opts.Store.Delete(o.opts.FilePath); err != nil {
			log.Warn("could not remove finished session", "error", err)
		}
	case StatusError:
		// Session already persisted at the last safe point; a retry
		// resumes at the failing statement.
		log.Error("import halted", "error", runErr, "offset", res.Offset, "line", sess.Line)
	default:
		log.Info("invocation paused",
			"line", sess.Line,
			"offset", sess.Offset,
			"statements", sess.Statements)
	}
	return res, runErr
}

// restoreSession loads the persisted session, discarding it when the
// file changed underneath it.
func (o *Orchestrator) restoreSession() (*session.Session, error) {
	sess, err := o.opts.Store.Load(o.opts.FilePath)
	switch {
	case errors.Is(err, session.ErrNotFound):
		return session.New(o.opts.FilePath), nil
	case err != nil:
		return nil, err
	}
	if sess.Stale() {
		o.opts.Log.Warn("dump file changed since last invocation, restarting from the beginning",
			"file", o.opts.FilePath)
		if err := o.opts.Store.Delete(o.opts.FilePath); err != nil {
			return nil, err
		}
		return session.New(o.opts.FilePath), nil
	}
	return sess, nil
}

func (o *Orchestrator) tunedBatchSize() int {
	if o.opts.BatchRows > 0 {
		return o.opts.BatchRows
	}
	if o.opts.Tuner == nil {
		return 0 // batcher default
	}
	return o.opts.Tuner.BatchSize()
}

// loop is the per-line engine. A safe point is taken after every fully
// processed line: executed statements advance the counters, and rows
// still sitting in the open batch are captured into the session
// verbatim. A resumed invocation restores that batch instead of
// re-reading the lines that fed it, so no statement executes twice and
// the executed-statement sequence is identical to an uninterrupted run.
func (o *Orchestrator) loop(ctx context.Context, start time.Time, sess *session.Session, reader *stream.Reader, p *parser.Parser, b *batch.Batcher) (*Result, error) {
	res := &Result{Status: StatusRunning}
	var linesThisRun int64
	entryOffset := sess.Offset

	line := sess.Line
	stmtCount := sess.Statements
	rowCount := sess.Rows

	safePoint := func() {
		sess.Line = line
		sess.Offset = reader.Tell()
		sess.Statements = stmtCount
		sess.Rows = rowCount
		sess.CaptureParser(p.State())
		sess.CaptureBatch(b.State())
	}

	pause := func(st Status) (*Result, error) {
		o.status = st
		res.Status = st
		res.Offset = sess.Offset
		res.TotalLines = sess.Line
		if err := o.opts.Store.Save(sess); err != nil {
			o.status = StatusError
			res.Status = StatusError
			return res, err
		}
		return res, nil
	}

	for {
		// Cooperative cancellation, checked before any new work.
		if o.stopReq.Load() || ctx.Err() != nil {
			return pause(StatusStopped)
		}
		if o.opts.Budget.Lines > 0 && linesThisRun >= o.opts.Budget.Lines {
			return pause(StatusRunning)
		}
		if o.opts.Budget.Time > 0 && time.Since(start) >= o.opts.Budget.Time {
			return pause(StatusRunning)
		}

		rawLine, err := reader.ReadLine()
		if err == io.EOF {
			break
		}
		if err != nil {
			o.status = StatusError
			res.Status = StatusError
			res.Offset = sess.Offset
			return res, err
		}

		line++
		linesThisRun++
		res.LinesRead = linesThisRun
		res.Bytes = reader.Tell() - entryOffset
		o.est.Update(reader.Tell(), time.Now())

		parsed := p.ParseLine(rawLine)
		if parsed.Err != "" {
			o.opts.Log.Warn("parser anomaly", "line", line, "error", parsed.Err)
		}
		if parsed.DelimiterChanged {
			o.opts.Log.Debug("delimiter changed", "line", line, "delimiter", p.Delimiter())
		}

		for _, stmt := range parsed.Statements {
			ready := b.Add(stmt)
			if err := o.execute(ctx, ready, b, line, reader.Tell(), &stmtCount, &rowCount, res); err != nil {
				o.haltOnError(sess, res)
				return res, err
			}
		}

		safePoint()
	}

	// EOF: flush the open batch, then finish.
	if err := o.execute(ctx, b.Flush(), b, line, reader.Tell(), &stmtCount, &rowCount, res); err != nil {
		o.haltOnError(sess, res)
		return res, err
	}
	safePoint()

	if pending := p.Pending(); pending != "" {
		res.Warning = apperrors.TruncatedDump(o.opts.FilePath, pending, line)
		o.opts.Log.Warn("dump ends mid-statement", "line", line, "error", res.Warning)
	}

	o.status = StatusFinished
	res.Status = StatusFinished
	res.Done = true
	res.Offset = sess.Offset
	res.TotalLines = sess.Line
	return res, nil
}

// execute runs a slice of ready statements, wrapping the first failure
// with statement text and source line.
func (o *Orchestrator) execute(ctx context.Context, stmts []string, b *batch.Batcher, line, bytesRead int64, stmtCount, rowCount *int64, res *Result) error {
	for _, s := range stmts {
		r, err := o.opts.Exec.Execute(ctx, s)
		if err != nil {
			return apperrors.StatementFailed(s, line, err)
		}
		*stmtCount++
		*rowCount += r.RowsAffected
		res.Statements++
		res.RowsAffected += r.RowsAffected

		o.adapt(b, bytesRead, *rowCount)
	}
	return nil
}

// adapt feeds the tuner after each executed statement and propagates any
// new recommendation to the batcher. Changes take effect on the next
// opened batch.
func (o *Orchestrator) adapt(b *batch.Batcher, bytesRead, rowCount int64) {
	if o.opts.Tuner == nil {
		return
	}
	adj := o.opts.Tuner.AdaptBatchSize(bytesRead, rowCount)
	if adj.Changed && o.opts.BatchRows == 0 {
		b.SetMaxRows(adj.BatchSize)
		o.opts.Log.Debug("batch size adapted",
			"batch_size", adj.BatchSize,
			"rows", rowCount)
	}
}

// haltOnError persists the last safe point and flips to ERROR. The
// failing statement stays ahead of the persisted offset so a retry
// re-enters exactly there. A failed save is logged, not returned: the
// statement error is the one the caller needs.
func (o *Orchestrator) haltOnError(sess *session.Session, res *Result) {
	o.status = StatusError
	res.Status = StatusError
	res.Offset = sess.Offset
	res.TotalLines = sess.Line
	if err := o.opts.Store.Save(sess); err != nil {
		o.opts.Log.Error("could not persist session after failure", "error", err)
	}
}

// FormatProgress renders a human progress line for display surfaces.
func FormatProgress(res *Result, fileSize int64) string {
	if fileSize <= 0 {
		return humanize.Comma(res.TotalLines) + " lines"
	}
	pct := float64(res.Offset) / float64(fileSize) * 100
	return humanize.Comma(res.TotalLines) + " lines, " +
		humanize.Bytes(uint64(res.Offset)) + " of " +
		humanize.Bytes(uint64(fileSize)) + " (" +
		humanize.FtoaWithDigits(pct, 1) + "%)"
}
