// Package batch merges consecutive single-row INSERT statements that
// share a common prefix into multi-row extended INSERTs, cutting network
// round-trips on dumps exported one row per statement.
package batch

import (
	"strings"
)

// Defaults bound the size of a generated extended INSERT.
const (
	DefaultMaxRows  = 500
	DefaultMaxBytes = 1 << 20 // 1 MiB
)

// Config bounds batch assembly. Zero values take the defaults.
type Config struct {
	MaxRows  int
	MaxBytes int
}

// Stats accumulates batching effectiveness over the life of a batcher.
type Stats struct {
	StatementsIn   int64 `json:"statements_in"`
	StatementsOut  int64 `json:"statements_out"`
	RowsBatched    int64 `json:"rows_batched"`
	BytesProcessed int64 `json:"bytes_processed"`
	// Passthrough counts every statement emitted unchanged, including
	// DDL; ExtendedInserts counts the subset that were already
	// multi-row INSERTs.
	Passthrough     int64 `json:"passthrough"`
	ExtendedInserts int64 `json:"extended_inserts"`
}

// ReductionRatio is batched rows over statements emitted; 1.0 means
// every batched row still left as its own statement.
func (s Stats) ReductionRatio() float64 {
	if s.StatementsOut == 0 {
		return 1.0
	}
	return float64(s.RowsBatched) / float64(s.StatementsOut)
}

// Efficiency is the fraction of batched rows saved as separate
// statements: 1 - out/in over the batched subset.
func (s Stats) Efficiency() float64 {
	if s.RowsBatched == 0 {
		return 0
	}
	batchedOut := s.StatementsOut - s.Passthrough
	return 1 - float64(batchedOut)/float64(s.RowsBatched)
}

// Batcher accumulates compatible single-row INSERTs and emits them as
// one extended INSERT. Statements flow through Add; each call returns
// the statements ready for execution, preserving input order: a pending
// batch always flushes before an incompatible statement is emitted.
type Batcher struct {
	maxRows  int
	maxBytes int

	prefix string   // "INSERT [IGNORE] INTO t VALUES" of the open batch
	rows   []string // "(...)" tuples, terminators stripped
	bytes  int      // accumulated tuple bytes

	stats Stats
}

// New creates a batcher with the given bounds.
func New(cfg Config) *Batcher {
	if cfg.MaxRows <= 0 {
		cfg.MaxRows = DefaultMaxRows
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultMaxBytes
	}
	return &Batcher{maxRows: cfg.MaxRows, maxBytes: cfg.MaxBytes}
}

// State is the serializable open-batch snapshot: the canonical prefix
// and the accumulated tuples. It rides in the import session so a
// resumed invocation continues the batch instead of re-reading the
// lines that fed it.
type State struct {
	Prefix string   `json:"prefix"`
	Rows   []string `json:"rows"`
}

// State snapshots the open batch. The returned slice is a copy.
func (b *Batcher) State() State {
	rows := make([]string, len(b.rows))
	copy(rows, b.rows)
	return State{Prefix: b.prefix, Rows: rows}
}

// Restore loads an open batch captured by State, replacing any current
// contents. Statistics are unaffected; restored rows were counted by
// the invocation that first batched them.
func (b *Batcher) Restore(s State) {
	b.prefix = s.Prefix
	b.rows = append(b.rows[:0], s.Rows...)
	b.bytes = 0
	for _, r := range s.Rows {
		b.bytes += len(r)
	}
}

// SetMaxRows changes the row bound for subsequently opened batches. The
// tuner calls this between statements; an open batch keeps the bound it
// started with until it flushes.
func (b *Batcher) SetMaxRows(n int) {
	if n > 0 {
		b.maxRows = n
	}
}

// MaxRows returns the current row bound.
func (b *Batcher) MaxRows() int { return b.maxRows }

// Stats returns a snapshot of accumulated statistics.
func (b *Batcher) Stats() Stats { return b.stats }

// PendingRows reports how many rows sit in the open batch.
func (b *Batcher) PendingRows() int { return len(b.rows) }

// Add feeds one parsed statement. The returned slice holds zero or more
// statements now ready for execution, in original input order.
func (b *Batcher) Add(stmt string) []string {
	b.stats.StatementsIn++
	b.stats.BytesProcessed += int64(len(stmt))

	prefix, tuple, kind := classify(stmt)
	if kind != kindSingleRow {
		// Non-batchable: flush anything pending first so execution
		// order matches dump order.
		out := b.flushPending()
		b.stats.StatementsOut++
		b.stats.Passthrough++
		if kind == kindExtended {
			b.stats.ExtendedInserts++
		}
		return append(out, stmt)
	}

	var out []string
	// Table names can be case-sensitive; prefixes are already
	// keyword-canonical so exact comparison is right.
	if b.prefix != "" && b.prefix != prefix {
		out = b.flushPending()
	}
	// Emit before the tuple that would push the batch past the byte
	// ceiling, so generated statements stay within bounds.
	if len(b.rows) > 0 && b.bytes+len(tuple) > b.maxBytes {
		out = append(out, b.emit())
	}
	if b.prefix == "" {
		b.prefix = prefix
	}

	b.rows = append(b.rows, tuple)
	b.bytes += len(tuple)
	b.stats.RowsBatched++

	if len(b.rows) >= b.maxRows {
		out = append(out, b.emit())
	}
	return out
}

// Flush closes the open batch, returning its extended INSERT if any rows
// are pending. Callers flush before executing DDL, before persisting a
// session, and at end of input.
func (b *Batcher) Flush() []string {
	return b.flushPending()
}

func (b *Batcher) flushPending() []string {
	if len(b.rows) == 0 {
		return nil
	}
	return []string{b.emit()}
}

func (b *Batcher) emit() string {
	var sb strings.Builder
	sb.Grow(len(b.prefix) + b.bytes + 2*len(b.rows) + 1)
	sb.WriteString(b.prefix)
	sb.WriteByte(' ')
	for i, r := range b.rows {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(r)
	}

	b.prefix = ""
	b.rows = b.rows[:0]
	b.bytes = 0
	b.stats.StatementsOut++
	return sb.String()
}

type stmtKind int

const (
	kindOther stmtKind = iota
	kindSingleRow
	kindExtended
)

// classify recognizes `INSERT [IGNORE] INTO <table> VALUES (<tuple>)`.
// A single-row match returns a canonical prefix up to and including
// VALUES plus the parenthesized tuple.
//
// Multi-row detection is the `),(` heuristic (optional whitespace around
// the comma): already-extended INSERTs pass through untouched. The
// heuristic can misread a string literal that itself contains "),(" and
// treat a single-row INSERT as extended; the statement is still executed
// verbatim, so the miss only costs batching opportunity.
func classify(stmt string) (prefix, tuple string, kind stmtKind) {
	s := stmt
	if !hasFoldPrefix(s, "INSERT") {
		return "", "", kindOther
	}
	rest := s[len("INSERT"):]
	rest = skipSpace(rest)
	ignore := false
	if hasFoldPrefix(rest, "IGNORE") {
		ignore = true
		rest = skipSpace(rest[len("IGNORE"):])
	}
	if !hasFoldPrefix(rest, "INTO") {
		return "", "", kindOther
	}
	rest = skipSpace(rest[len("INTO"):])

	// Table name runs to the next whitespace. Column lists
	// (INSERT INTO t (a,b) VALUES ...) are not batched: prefixes with
	// column lists rarely repeat byte-identically and matching them
	// adds parse risk for little gain.
	vi := foldIndex(rest, "VALUES")
	if vi < 0 {
		return "", "", kindOther
	}
	table := strings.TrimSpace(rest[:vi])
	if table == "" || strings.ContainsAny(table, "()") {
		return "", "", kindOther
	}

	after := strings.TrimSpace(rest[vi+len("VALUES"):])
	if len(after) < 2 || after[0] != '(' || after[len(after)-1] != ')' {
		return "", "", kindOther
	}
	if isMultiRow(after) {
		return "", "", kindExtended
	}

	// Canonical prefix: keyword case and spacing normalized so byte
	// comparison works across dumps with uneven formatting.
	if ignore {
		prefix = "INSERT IGNORE INTO " + table + " VALUES"
	} else {
		prefix = "INSERT INTO " + table + " VALUES"
	}
	return prefix, after, kindSingleRow
}

// isMultiRow applies the `),(` heuristic with optional whitespace
// around the separating comma.
func isMultiRow(tuples string) bool {
	for i := 0; i < len(tuples); i++ {
		if tuples[i] != ')' {
			continue
		}
		j := i + 1
		for j < len(tuples) && (tuples[j] == ' ' || tuples[j] == '\t' || tuples[j] == '\n' || tuples[j] == '\r') {
			j++
		}
		if j < len(tuples) && tuples[j] == ',' {
			j++
			for j < len(tuples) && (tuples[j] == ' ' || tuples[j] == '\t' || tuples[j] == '\n' || tuples[j] == '\r') {
				j++
			}
			if j < len(tuples) && tuples[j] == '(' {
				return true
			}
		}
	}
	return false
}

func hasFoldPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}

func skipSpace(s string) string {
	return strings.TrimLeft(s, " \t\r\n")
}

// foldIndex finds the first case-insensitive occurrence of token
// delimited by whitespace or string start.
func foldIndex(s, token string) int {
	upper := strings.ToUpper(s)
	tok := strings.ToUpper(token)
	from := 0
	for {
		i := strings.Index(upper[from:], tok)
		if i < 0 {
			return -1
		}
		i += from
		beforeOK := i == 0 || upper[i-1] == ' ' || upper[i-1] == '\t'
		afterOK := i+len(tok) >= len(upper) || upper[i+len(tok)] == ' ' || upper[i+len(tok)] == '\t' || upper[i+len(tok)] == '('
		if beforeOK && afterOK {
			return i
		}
		from = i + len(tok)
	}
}
