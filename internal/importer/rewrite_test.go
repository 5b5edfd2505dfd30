package importer

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/pgzip"
)

func readOutput(t *testing.T, path string) string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := pgzip.NewReader(f)
		if err != nil {
			t.Fatal(err)
		}
		defer gz.Close()
		r = gz
	}
	data, err := io.ReadAll(r)
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

func TestRewriteMergesInserts(t *testing.T) {
	in := writeDump(t, sampleDump)
	out := filepath.Join(t.TempDir(), "batched.sql")

	res, err := Rewrite(context.Background(), RewriteOptions{
		InputPath:  in,
		OutputPath: out,
	})
	if err != nil {
		t.Fatal(err)
	}

	content := readOutput(t, out)
	if !strings.Contains(content, "INSERT INTO a VALUES (1), (2), (3);") {
		t.Errorf("output missing merged INSERT:\n%s", content)
	}
	if !strings.Contains(content, "INSERT INTO b VALUES (10), (20);") {
		t.Errorf("output missing extended passthrough:\n%s", content)
	}
	if res.Statements != 4 {
		t.Errorf("statements = %d, want 4", res.Statements)
	}
	if res.BytesWritten <= 0 {
		t.Error("no bytes reported")
	}
	if got := res.BatchStats.ExtendedInserts; got != 1 {
		t.Errorf("extended insert count = %d, want 1", got)
	}
}

func TestRewriteGzipOutput(t *testing.T) {
	in := writeDump(t, sampleDump)
	out := filepath.Join(t.TempDir(), "batched.sql.gz")

	res, err := Rewrite(context.Background(), RewriteOptions{
		InputPath:  in,
		OutputPath: out,
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.BytesWritten <= 0 {
		t.Error("no compressed bytes written")
	}

	content := readOutput(t, out)
	if !strings.Contains(content, "INSERT INTO a VALUES (1), (2), (3);") {
		t.Errorf("compressed output wrong:\n%s", content)
	}
}

func TestRewriteRespectsRowLimit(t *testing.T) {
	in := writeDump(t, sampleDump)
	out := filepath.Join(t.TempDir(), "limited.sql")

	_, err := Rewrite(context.Background(), RewriteOptions{
		InputPath:  in,
		OutputPath: out,
		BatchRows:  2,
	})
	if err != nil {
		t.Fatal(err)
	}

	content := readOutput(t, out)
	if !strings.Contains(content, "INSERT INTO a VALUES (1), (2);") {
		t.Errorf("row limit not applied:\n%s", content)
	}
	if !strings.Contains(content, "INSERT INTO a VALUES (3);") {
		t.Errorf("leftover row missing:\n%s", content)
	}
}

func TestRewriteTruncatedInputWarns(t *testing.T) {
	in := writeDump(t, "INSERT INTO t VALUES (1);\nINSERT INTO t VALUES (2\n")
	out := filepath.Join(t.TempDir(), "trunc.sql")

	res, err := Rewrite(context.Background(), RewriteOptions{
		InputPath:  in,
		OutputPath: out,
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Warning == nil {
		t.Error("truncated input produced no warning")
	}
}
