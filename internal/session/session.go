// Package session holds the serializable resume state of an import and
// the stores that persist it between invocations.
package session

import (
	"os"
	"time"

	"github.com/w3spi5/bigdump-sub000/internal/batch"
	"github.com/w3spi5/bigdump-sub000/internal/parser"
)

// Session is the unit of resumable state: everything the orchestrator
// needs to re-enter the dump exactly where the previous invocation
// stopped. All fields are flat primitives so the struct serializes to a
// plain JSON field set.
type Session struct {
	// Dump identification. Size and modification time detect a file
	// swapped underneath a half-done import.
	FilePath string    `json:"file_path"`
	FileSize int64     `json:"file_size"`
	FileMod  time.Time `json:"file_modified"`

	// Position. Offset is uncompressed-stream-relative and only ever
	// advances after the statements up to it executed successfully.
	Line   int64 `json:"line"`
	Offset int64 `json:"offset"`

	// Cumulative work.
	Statements int64 `json:"statements"`
	Rows       int64 `json:"rows"`

	// Parser machine state.
	Delimiter string `json:"delimiter"`
	InString  bool   `json:"in_string"`
	QuoteChar byte   `json:"quote_char"`
	Pending   string `json:"pending"`

	// Open-batch contents. Rows already executed never appear here;
	// rows waiting in a batch are carried forward so a resumed
	// invocation continues the batch rather than re-reading the lines
	// that produced it.
	BatchPrefix string   `json:"batch_prefix,omitempty"`
	BatchRows   []string `json:"batch_rows,omitempty"`

	StartTime  time.Time `json:"start_time"`
	LastUpdate time.Time `json:"last_update"`
}

// New creates a session at the start of the given dump file.
func New(path string) *Session {
	s := &Session{
		FilePath:  path,
		Delimiter: parser.DefaultDelimiter,
		StartTime: time.Now(),
	}
	if st, err := os.Stat(path); err == nil {
		s.FileSize = st.Size()
		s.FileMod = st.ModTime()
	}
	return s
}

// ParserState converts the persisted parser fields back into a machine
// state.
func (s *Session) ParserState() parser.State {
	return parser.State{
		Delimiter: s.Delimiter,
		InString:  s.InString,
		QuoteChar: s.QuoteChar,
		Pending:   s.Pending,
	}
}

// CaptureParser records the parser machine state into the session.
func (s *Session) CaptureParser(st parser.State) {
	s.Delimiter = st.Delimiter
	s.InString = st.InString
	s.QuoteChar = st.QuoteChar
	s.Pending = st.Pending
}

// BatchState converts the persisted open-batch fields back into a
// batcher snapshot.
func (s *Session) BatchState() batch.State {
	return batch.State{Prefix: s.BatchPrefix, Rows: s.BatchRows}
}

// CaptureBatch records the open batch into the session.
func (s *Session) CaptureBatch(st batch.State) {
	s.BatchPrefix = st.Prefix
	s.BatchRows = st.Rows
}

// Stale reports whether the file on disk no longer matches the file the
// session was built against. Resuming a stale session would execute
// statements from the wrong dump.
func (s *Session) Stale() bool {
	st, err := os.Stat(s.FilePath)
	if err != nil {
		return true
	}
	return st.Size() != s.FileSize || !st.ModTime().Equal(s.FileMod)
}
