package importer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/w3spi5/bigdump-sub000/internal/database"
	apperrors "github.com/w3spi5/bigdump-sub000/internal/errors"
	"github.com/w3spi5/bigdump-sub000/internal/session"
)

// fakeExec records executed statements and can be told to reject one.
type fakeExec struct {
	executed []string
	failOn   string
	failErr  error
}

func (f *fakeExec) Execute(_ context.Context, stmt string) (database.Result, error) {
	if f.failOn != "" && strings.Contains(stmt, f.failOn) {
		return database.Result{}, f.failErr
	}
	f.executed = append(f.executed, stmt)
	return database.Result{RowsAffected: 1}, nil
}

func (f *fakeExec) Ping(context.Context) error { return nil }
func (f *fakeExec) Close() error               { return nil }

func writeDump(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dump.sql")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

const sampleDump = `# exported by test
CREATE TABLE a (id INT);
INSERT INTO a VALUES (1);
INSERT INTO a VALUES (2);
INSERT INTO a VALUES (3);
INSERT INTO b VALUES (10), (20);
INSERT INTO a VALUES (4);
INSERT INTO a VALUES (5);
`

func runToCompletion(t *testing.T, path string, budget Budget, batchRows int, exec *fakeExec) []*Result {
	t.Helper()
	store := session.NewMemStore()
	var results []*Result
	for i := 0; i < 100; i++ {
		orch := New(Options{
			FilePath:  path,
			Budget:    budget,
			BatchRows: batchRows,
			Exec:      exec,
			Store:     store,
		})
		res, err := orch.Run(context.Background())
		if err != nil {
			t.Fatalf("invocation %d: %v", i, err)
		}
		results = append(results, res)
		if res.Done {
			return results
		}
	}
	t.Fatal("import did not finish in 100 invocations")
	return nil
}

func TestSinglePassImport(t *testing.T) {
	path := writeDump(t, sampleDump)
	exec := &fakeExec{}
	results := runToCompletion(t, path, Budget{}, 0, exec)

	if len(results) != 1 {
		t.Fatalf("unbounded run took %d invocations", len(results))
	}
	res := results[0]
	if res.Status != StatusFinished || !res.Done {
		t.Errorf("status = %v done = %v", res.Status, res.Done)
	}

	// Default batch limits merge the runs of single-row INSERTs into
	// extended statements, in dump order.
	want := []string{
		"CREATE TABLE a (id INT)",
		"INSERT INTO a VALUES (1), (2), (3)",
		"INSERT INTO b VALUES (10), (20)",
		"INSERT INTO a VALUES (4), (5)",
	}
	if len(exec.executed) != len(want) {
		t.Fatalf("executed %d statements %q, want %d", len(exec.executed), exec.executed, len(want))
	}
	for i := range want {
		if exec.executed[i] != want[i] {
			t.Errorf("statement %d = %q, want %q", i, exec.executed[i], want[i])
		}
	}
	if res.Bytes != int64(len(sampleDump)) {
		t.Errorf("bytes read = %d, want %d", res.Bytes, len(sampleDump))
	}
}

// Round-trip resumability: staggered invocations must execute the exact
// statement sequence of a single unbounded pass.
func TestStaggeredMatchesSinglePass(t *testing.T) {
	for _, lineBudget := range []int64{1, 2, 3, 5} {
		single := &fakeExec{}
		runToCompletion(t, writeDump(t, sampleDump), Budget{}, 1, single)

		staggered := &fakeExec{}
		results := runToCompletion(t, writeDump(t, sampleDump), Budget{Lines: lineBudget}, 1, staggered)
		if len(results) < 2 {
			t.Fatalf("budget %d: expected multiple invocations, got %d", lineBudget, len(results))
		}

		if len(staggered.executed) != len(single.executed) {
			t.Fatalf("budget %d: staggered executed %d statements, single pass %d\nstaggered: %q\nsingle: %q",
				lineBudget, len(staggered.executed), len(single.executed), staggered.executed, single.executed)
		}
		for i := range single.executed {
			if staggered.executed[i] != single.executed[i] {
				t.Errorf("budget %d: statement %d = %q, want %q",
					lineBudget, i, staggered.executed[i], single.executed[i])
			}
		}
	}
}

// A batch spanning the line budget must not stall or split the import:
// the open batch rides in the session across pauses, so the merged
// statements come out exactly as an unbounded pass would emit them.
func TestBatchLargerThanBudgetStillProgresses(t *testing.T) {
	single := &fakeExec{}
	runToCompletion(t, writeDump(t, sampleDump), Budget{}, 500, single)

	exec := &fakeExec{}
	// Batch of 500 rows, budget of 2 lines per invocation.
	runToCompletion(t, writeDump(t, sampleDump), Budget{Lines: 2}, 500, exec)

	var tuples int
	for _, s := range exec.executed {
		tuples += strings.Count(s, "(")
	}
	// 1 DDL (1 paren) + 5 single rows + 1 extended with 2 tuples.
	if tuples != 8 {
		t.Errorf("executed %q, tuple count %d, want 8", exec.executed, tuples)
	}
	if strings.Join(exec.executed, ";") != strings.Join(single.executed, ";") {
		t.Errorf("staggered sequence %q, single pass %q", exec.executed, single.executed)
	}
}

// A batch flushed mid-invocation by a prefix change must not run again
// after a pause. The rows that executed are behind the persisted safe
// point; only the still-open batch is carried into the next invocation.
func TestMidInvocationFlushNotReexecutedOnResume(t *testing.T) {
	const dump = `CREATE TABLE t (id INT);
INSERT INTO a VALUES (1);
INSERT INTO a VALUES (2);
INSERT INTO b VALUES (3);
INSERT INTO b VALUES (4);
`
	single := &fakeExec{}
	runToCompletion(t, writeDump(t, dump), Budget{}, 500, single)

	want := []string{
		"CREATE TABLE t (id INT)",
		"INSERT INTO a VALUES (1), (2)",
		"INSERT INTO b VALUES (3), (4)",
	}
	if strings.Join(single.executed, ";") != strings.Join(want, ";") {
		t.Fatalf("single pass executed %q, want %q", single.executed, want)
	}

	for _, lineBudget := range []int64{1, 2, 3, 4} {
		staggered := &fakeExec{}
		runToCompletion(t, writeDump(t, dump), Budget{Lines: lineBudget}, 500, staggered)

		if len(staggered.executed) != len(want) {
			t.Fatalf("budget %d: executed %d statements %q, want %q",
				lineBudget, len(staggered.executed), staggered.executed, want)
		}
		for i := range want {
			if staggered.executed[i] != want[i] {
				t.Errorf("budget %d: statement %d = %q, want %q",
					lineBudget, i, staggered.executed[i], want[i])
			}
		}
	}
}

func TestStatementFailureHaltsAndResumes(t *testing.T) {
	path := writeDump(t, sampleDump)
	store := session.NewMemStore()
	boom := errors.New("Error 1050: Table 'a' already exists")

	exec := &fakeExec{failOn: "CREATE TABLE", failErr: boom}
	orch := New(Options{FilePath: path, BatchRows: 1, Exec: exec, Store: store})

	_, err := orch.Run(context.Background())
	if err == nil {
		t.Fatal("expected failure")
	}
	if orch.Status() != StatusError {
		t.Errorf("status = %v, want ERROR", orch.Status())
	}
	if !apperrors.IsTargetExists(err) {
		t.Errorf("error not classified as target-exists: %v", err)
	}
	var ierr *apperrors.ImportError
	if !errors.As(err, &ierr) {
		t.Fatal("not an ImportError")
	}
	if !strings.Contains(ierr.Details, "CREATE TABLE a") {
		t.Errorf("failing statement text missing from %q", ierr.Details)
	}
	if len(exec.executed) != 0 {
		t.Errorf("statements executed before the failure point: %q", exec.executed)
	}

	// After the user drops the table, the same store resumes at the
	// failing statement.
	exec.failOn = ""
	orch = New(Options{FilePath: path, BatchRows: 1, Exec: exec, Store: store})
	res, err := orch.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !res.Done {
		t.Error("resume did not finish")
	}
	if len(exec.executed) == 0 || !strings.HasPrefix(exec.executed[0], "CREATE TABLE") {
		t.Errorf("resume did not re-enter at the failing statement: %q", exec.executed)
	}
	if got := len(exec.executed); got != 7 {
		t.Errorf("executed %d statements after resume, want 7: %q", got, exec.executed)
	}
}

func TestRequestStopPersistsSession(t *testing.T) {
	path := writeDump(t, sampleDump)
	store := session.NewMemStore()
	exec := &fakeExec{}

	orch := New(Options{FilePath: path, BatchRows: 1, Exec: exec, Store: store})
	orch.RequestStop()
	res, err := orch.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != StatusStopped {
		t.Errorf("status = %v, want STOPPED", res.Status)
	}
	if _, err := store.Load(path); err != nil {
		t.Errorf("no session persisted on stop: %v", err)
	}
}

func TestContextCancelStops(t *testing.T) {
	path := writeDump(t, sampleDump)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	orch := New(Options{FilePath: path, Exec: &fakeExec{}, Store: session.NewMemStore()})
	res, err := orch.Run(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != StatusStopped {
		t.Errorf("status = %v, want STOPPED", res.Status)
	}
}

func TestStaleSessionRestarts(t *testing.T) {
	path := writeDump(t, sampleDump)
	store := session.NewMemStore()

	// Simulate an old session against a different file state.
	stale := session.New(path)
	stale.Offset = 10
	stale.Line = 1
	stale.FileSize = 1 // wrong on purpose
	if err := store.Save(stale); err != nil {
		t.Fatal(err)
	}

	exec := &fakeExec{}
	orch := New(Options{FilePath: path, BatchRows: 1, Exec: exec, Store: store})
	res, err := orch.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !res.Done {
		t.Fatal("import did not finish")
	}
	if len(exec.executed) != 7 {
		t.Errorf("executed %d statements, want all 7 from the beginning", len(exec.executed))
	}
}

func TestTruncatedDumpWarns(t *testing.T) {
	path := writeDump(t, "INSERT INTO t VALUES (1);\nINSERT INTO t VALUES (2\n")
	exec := &fakeExec{}
	orch := New(Options{FilePath: path, BatchRows: 1, Exec: exec, Store: session.NewMemStore()})

	res, err := orch.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.Warning == nil {
		t.Fatal("no truncation warning")
	}
	if apperrors.GetCode(res.Warning) != apperrors.ErrCodeTruncatedDump {
		t.Errorf("warning code = %v", apperrors.GetCode(res.Warning))
	}
	if res.Status != StatusFinished {
		t.Errorf("status = %v; truncation is a warning, not a failure", res.Status)
	}
	if len(exec.executed) != 1 {
		t.Errorf("executed %q", exec.executed)
	}
}

func TestBudgetPauseReportsProgress(t *testing.T) {
	path := writeDump(t, sampleDump)
	exec := &fakeExec{}
	orch := New(Options{
		FilePath:  path,
		Budget:    Budget{Lines: 3, Time: time.Minute},
		BatchRows: 1,
		Exec:      exec,
		Store:     session.NewMemStore(),
	})

	res, err := orch.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.Done {
		t.Fatal("finished within a 3-line budget")
	}
	if res.LinesRead != 3 {
		t.Errorf("lines read = %d, want 3", res.LinesRead)
	}
	if res.Offset <= 0 {
		t.Errorf("offset = %d, want progress past the first statements", res.Offset)
	}
}
