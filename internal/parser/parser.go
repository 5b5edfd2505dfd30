// Package parser assembles complete SQL statements from a line stream.
//
// The parser is a per-character state machine over two states: NORMAL and
// in-string (remembering the opening quote). Statements may span any
// number of lines and any number of invocation boundaries: the whole
// machine state round-trips through State/Restore so a resumed import
// continues producing identical output.
package parser

import (
	"strings"
)

// DefaultDelimiter is the statement terminator until a DELIMITER
// directive changes it.
const DefaultDelimiter = ";"

// State is the externally representable parser state, persisted in the
// import session between invocations. All fields are primitives.
type State struct {
	Delimiter string `json:"delimiter"`
	InString  bool   `json:"in_string"`
	QuoteChar byte   `json:"quote_char"` // 0 unless InString
	Pending   string `json:"pending"`    // unterminated statement prefix
}

// Result is the outcome of feeding one line to the parser.
type Result struct {
	// Statements holds every statement completed by this line, in
	// order. Usually zero or one; a line carrying several terminators
	// yields several.
	Statements []string
	// DelimiterChanged is true when the line was a DELIMITER directive.
	DelimiterChanged bool
	// Err carries parser-level anomalies (e.g. a DELIMITER directive
	// with no argument). These are reported, not fatal: the line is
	// otherwise ignored and parsing may continue.
	Err string
}

// Parser assembles statements from lines.
type Parser struct {
	delimiter string
	inString  bool
	quoteChar byte
	pending   strings.Builder
}

// New creates a parser with the default delimiter.
func New() *Parser {
	return &Parser{delimiter: DefaultDelimiter}
}

// Restore rebuilds the machine from persisted state.
func Restore(s State) *Parser {
	p := &Parser{
		delimiter: s.Delimiter,
		inString:  s.InString,
		quoteChar: s.QuoteChar,
	}
	if p.delimiter == "" {
		p.delimiter = DefaultDelimiter
	}
	p.pending.WriteString(s.Pending)
	return p
}

// State snapshots the full machine state.
func (p *Parser) State() State {
	return State{
		Delimiter: p.delimiter,
		InString:  p.inString,
		QuoteChar: p.quoteChar,
		Pending:   p.pending.String(),
	}
}

// Delimiter returns the active statement terminator.
func (p *Parser) Delimiter() string {
	return p.delimiter
}

// InString reports whether the last processed character left the parser
// inside a quoted string literal.
func (p *Parser) InString() bool {
	return p.inString
}

// QuoteChar returns the active quote character, 0 when not in a string.
func (p *Parser) QuoteChar() byte {
	return p.quoteChar
}

// Pending returns accumulated but unterminated statement text. Non-empty
// at end of file means the dump is truncated mid-statement. Whitespace
// left over from line terminators does not count as pending text.
func (p *Parser) Pending() string {
	s := p.pending.String()
	if strings.TrimSpace(s) == "" {
		return ""
	}
	return s
}

// midStatement reports whether any non-whitespace text has accumulated.
func (p *Parser) midStatement() bool {
	return strings.TrimSpace(p.pending.String()) != ""
}

// ParseLine feeds one line (with or without terminator) to the machine.
//
// Comment and blank lines short-circuit before any character scanning,
// but only while not inside a string and not mid-statement: a line that
// merely looks like a comment inside a string literal is data.
func (p *Parser) ParseLine(line string) Result {
	if !p.inString {
		trimmed := strings.TrimSpace(line)

		if !p.midStatement() {
			if trimmed == "" || isComment(trimmed) {
				return Result{}
			}
			if rest, ok := delimiterDirective(trimmed); ok {
				if rest == "" {
					return Result{Err: "DELIMITER directive without an argument"}
				}
				p.delimiter = rest
				return Result{DelimiterChanged: true}
			}
		}
	}

	return p.scan(line)
}

// scan applies quote/escape transitions character by character,
// accumulating into the pending buffer and emitting a statement whenever
// the delimiter is crossed in NORMAL state.
func (p *Parser) scan(line string) Result {
	var res Result
	delim := p.delimiter

	i := 0
	for i < len(line) {
		c := line[i]

		if p.inString {
			switch c {
			case '\\':
				// Escape consumes the next character unseen.
				p.pending.WriteByte(c)
				i++
				if i < len(line) {
					p.pending.WriteByte(line[i])
					i++
				}
				continue
			case p.quoteChar:
				p.inString = false
				p.quoteChar = 0
			}
			p.pending.WriteByte(c)
			i++
			continue
		}

		// NORMAL state: delimiter first, then quote openers.
		if c == delim[0] && strings.HasPrefix(line[i:], delim) {
			stmt := strings.TrimSpace(p.pending.String())
			p.pending.Reset()
			if stmt != "" {
				res.Statements = append(res.Statements, stmt)
			}
			i += len(delim)
			continue
		}

		if c == '\'' || c == '"' || c == '`' {
			p.inString = true
			p.quoteChar = c
		}
		p.pending.WriteByte(c)
		i++
	}

	return res
}

// isComment recognizes '#' comments and '--' comments. A bare '--' with
// no trailing content (a decorative rule some dump generators emit) is
// filtered the same as a commented line with content.
func isComment(trimmed string) bool {
	if strings.HasPrefix(trimmed, "#") {
		return true
	}
	if trimmed == "--" {
		return true
	}
	if strings.HasPrefix(trimmed, "--") {
		c := trimmed[2]
		return c == ' ' || c == '\t'
	}
	return false
}

// delimiterDirective matches a case-insensitive DELIMITER token followed
// by whitespace, returning the trimmed remainder.
func delimiterDirective(trimmed string) (string, bool) {
	const token = "DELIMITER"
	if len(trimmed) < len(token) {
		return "", false
	}
	if !strings.EqualFold(trimmed[:len(token)], token) {
		return "", false
	}
	rest := trimmed[len(token):]
	if rest == "" {
		// "DELIMITER" alone: directive with missing argument.
		return "", true
	}
	if rest[0] != ' ' && rest[0] != '\t' {
		return "", false
	}
	return strings.TrimSpace(rest), true
}
