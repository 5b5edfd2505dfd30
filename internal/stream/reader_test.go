package stream

import (
	"bytes"
	"compress/bzip2"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"
	"github.com/ulikunitz/xz"
)

func writeFixture(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)

	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	var w io.WriteCloser
	switch DetectCodec(path) {
	case CodecGzip:
		w = pgzip.NewWriter(f)
	case CodecZstd:
		zw, err := zstd.NewWriter(f)
		if err != nil {
			t.Fatal(err)
		}
		w = zw
	case CodecXz:
		xw, err := xz.NewWriter(f)
		if err != nil {
			t.Fatal(err)
		}
		w = xw
	case CodecBzip2:
		if _, err := f.Write(bzip2Fixture(t, name, content)); err != nil {
			t.Fatal(err)
		}
		return path
	default:
		if _, err := f.WriteString(content); err != nil {
			t.Fatal(err)
		}
		return path
	}
	if _, err := w.Write([]byte(content)); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return path
}

// bzip2Fixture loads a pre-compressed testdata blob; there is no bzip2
// encoder to compress with at test time. The blob is decompressed and
// compared against the content the test builds for the other codecs, so
// a drifted fixture fails loudly instead of silently testing the wrong
// bytes.
func bzip2Fixture(t *testing.T, name, content string) []byte {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("testdata", name))
	if err != nil {
		t.Fatal(err)
	}
	dec, err := io.ReadAll(bzip2.NewReader(bytes.NewReader(data)))
	if err != nil {
		t.Fatal(err)
	}
	if string(dec) != content {
		t.Fatalf("testdata/%s decompresses to %d bytes, want the %d-byte test content", name, len(dec), len(content))
	}
	return data
}

func readAll(t *testing.T, r *Reader) []string {
	t.Helper()
	var lines []string
	for {
		line, err := r.ReadLine()
		if err == io.EOF {
			return lines
		}
		if err != nil {
			t.Fatal(err)
		}
		lines = append(lines, line)
	}
}

func TestDetectCodec(t *testing.T) {
	tests := []struct {
		path string
		want Codec
	}{
		{"dump.sql", CodecNone},
		{"dump.csv", CodecNone},
		{"dump.sql.gz", CodecGzip},
		{"DUMP.SQL.GZ", CodecGzip},
		{"dump.sql.bz2", CodecBzip2},
		{"dump.sql.xz", CodecXz},
		{"dump.sql.zst", CodecZstd},
		{"dump.sql.zstd", CodecZstd},
		{"noextension", CodecNone},
	}
	for _, tt := range tests {
		if got := DetectCodec(tt.path); got != tt.want {
			t.Errorf("DetectCodec(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestReadLinesAcrossCodecs(t *testing.T) {
	content := "SELECT 1;\nSELECT 2;\nSELECT 3;\n"
	for _, name := range []string{"d.sql", "d.sql.gz", "d.sql.bz2", "d.sql.zst", "d.sql.xz"} {
		t.Run(name, func(t *testing.T) {
			path := writeFixture(t, name, content)
			r := NewReader(0)
			if err := r.Open(path); err != nil {
				t.Fatal(err)
			}
			defer r.Close()

			lines := readAll(t, r)
			if len(lines) != 3 {
				t.Fatalf("got %d lines, want 3", len(lines))
			}
			if lines[0] != "SELECT 1;\n" {
				t.Errorf("line 1 = %q (terminator must be included)", lines[0])
			}
			if !r.EOF() {
				t.Error("EOF not reported after sentinel")
			}
			if r.Tell() != int64(len(content)) {
				t.Errorf("Tell = %d, want %d", r.Tell(), len(content))
			}
		})
	}
}

func TestBOMStrippedOnFirstLineOnly(t *testing.T) {
	content := "\ufeffSELECT 1;\n\ufeffSELECT 2;\n"
	path := writeFixture(t, "bom.sql", content)

	r := NewReader(0)
	if err := r.Open(path); err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	lines := readAll(t, r)
	if lines[0] != "SELECT 1;\n" {
		t.Errorf("BOM not stripped from first line: %q", lines[0])
	}
	if !strings.HasPrefix(lines[1], "\ufeff") {
		t.Errorf("BOM wrongly stripped from later line: %q", lines[1])
	}
	// The stripped BOM bytes still count toward the offset.
	if r.Tell() != int64(len(content)) {
		t.Errorf("Tell = %d, want %d", r.Tell(), len(content))
	}
}

func TestFinalLineWithoutTerminator(t *testing.T) {
	path := writeFixture(t, "tail.sql", "SELECT 1;\nSELECT 2;")
	r := NewReader(0)
	if err := r.Open(path); err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	lines := readAll(t, r)
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(lines))
	}
	if lines[1] != "SELECT 2;" {
		t.Errorf("final line = %q", lines[1])
	}
}

func TestOpenMissingFile(t *testing.T) {
	r := NewReader(0)
	if err := r.Open(filepath.Join(t.TempDir(), "absent.sql")); err == nil {
		t.Fatal("expected error opening missing file")
	}
}

func TestOpenUnavailableCodec(t *testing.T) {
	path := writeFixture(t, "d.sql", "SELECT 1;\n")
	gzPath := path + ".bz2"
	if err := os.Rename(path, gzPath); err != nil {
		t.Fatal(err)
	}

	SetCodecAvailable(CodecBzip2, false)
	defer ResetCapabilityProbe()

	r := NewReader(0)
	if err := r.Open(gzPath); err == nil {
		r.Close()
		t.Fatal("expected fast failure for unavailable codec")
	}
}

func TestBufferSizeClamp(t *testing.T) {
	tests := []struct {
		in   int
		want int
	}{
		{0, MinBufferSize},
		{1024, MinBufferSize},
		{128 << 10, 128 << 10},
		{1 << 20, MaxBufferSize},
	}
	for _, tt := range tests {
		r := NewReader(tt.in)
		if r.bufSize != tt.want {
			t.Errorf("NewReader(%d) buffer = %d, want %d", tt.in, r.bufSize, tt.want)
		}
	}
}

// Seek equivalence: reading N lines then seeking back to a recorded
// offset must reproduce the exact remaining line sequence, for plain
// files (native forward discard) and gzip (replay from byte zero).
func TestSeekEquivalence(t *testing.T) {
	var sb strings.Builder
	for i := 0; i < 200; i++ {
		sb.WriteString("INSERT INTO t VALUES (")
		sb.WriteString(strings.Repeat("x", i%17))
		sb.WriteString(");\n")
	}
	content := sb.String()

	for _, name := range []string{"seek.sql", "seek.sql.gz", "seek.sql.bz2", "seek.sql.zst"} {
		t.Run(name, func(t *testing.T) {
			path := writeFixture(t, name, content)

			// Reference: full read, recording offset after line 50.
			ref := NewReader(0)
			if err := ref.Open(path); err != nil {
				t.Fatal(err)
			}
			var offset50 int64
			var rest []string
			for i := 0; ; i++ {
				line, err := ref.ReadLine()
				if err == io.EOF {
					break
				}
				if err != nil {
					t.Fatal(err)
				}
				if i >= 50 {
					rest = append(rest, line)
				}
				if i == 49 {
					offset50 = ref.Tell()
				}
			}
			ref.Close()

			// Fresh reader: seek straight to the recorded offset.
			r := NewReader(0)
			if err := r.Open(path); err != nil {
				t.Fatal(err)
			}
			defer r.Close()
			if err := r.Seek(offset50, nil); err != nil {
				t.Fatal(err)
			}
			if r.Tell() != offset50 {
				t.Fatalf("Tell after seek = %d, want %d", r.Tell(), offset50)
			}

			got := readAll(t, r)
			if len(got) != len(rest) {
				t.Fatalf("got %d lines after seek, want %d", len(got), len(rest))
			}
			for i := range got {
				if got[i] != rest[i] {
					t.Fatalf("line %d after seek = %q, want %q", i, got[i], rest[i])
				}
			}
		})
	}
}

// Backward seeks replay from byte zero, the same path bzip2 resumption
// takes.
func TestBackwardSeekReplays(t *testing.T) {
	content := strings.Repeat("SELECT 1;\n", 100)
	path := writeFixture(t, "replay.sql.gz", content)

	r := NewReader(0)
	if err := r.Open(path); err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	for i := 0; i < 60; i++ {
		if _, err := r.ReadLine(); err != nil {
			t.Fatal(err)
		}
	}
	target := int64(10 * len("SELECT 1;\n"))
	if err := r.Seek(target, nil); err != nil {
		t.Fatal(err)
	}
	if r.Tell() != target {
		t.Fatalf("Tell = %d, want %d", r.Tell(), target)
	}

	line, err := r.ReadLine()
	if err != nil {
		t.Fatal(err)
	}
	if line != "SELECT 1;\n" {
		t.Errorf("line after backward seek = %q", line)
	}
	remaining := readAll(t, r)
	if got := 1 + len(remaining); got != 90 {
		t.Errorf("lines after seek = %d, want 90", got)
	}
}

func TestCloseResetsForReuse(t *testing.T) {
	a := writeFixture(t, "a.sql", "SELECT 1;\n")
	b := writeFixture(t, "b.sql.gz", "SELECT 2;\nSELECT 3;\n")

	r := NewReader(0)
	if err := r.Open(a); err != nil {
		t.Fatal(err)
	}
	readAll(t, r)
	if err := r.Close(); err != nil {
		t.Fatal(err)
	}

	if err := r.Open(b); err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	if r.Tell() != 0 {
		t.Errorf("Tell = %d after reopen, want 0", r.Tell())
	}
	if r.EOF() {
		t.Error("EOF flag survived Close")
	}
	if got := readAll(t, r); len(got) != 2 {
		t.Errorf("got %d lines from second file, want 2", len(got))
	}
}
