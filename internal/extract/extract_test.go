package extract

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/klauspost/compress/gzip"

	"github.com/powertac/powertac-tools/internal/archive"
	"github.com/powertac/powertac-tools/internal/layout"
	"github.com/powertac/powertac-tools/internal/manifest"
	"github.com/powertac/powertac-tools/internal/model"
)

// stubRunner writes a fixed body to the output path (the last argument).
type stubRunner struct {
	mu    sync.Mutex
	calls [][]string
	body  string
	err   error
	// partial writes the body even when err is set.
	partial bool
	// skipOutput returns success without writing anything.
	skipOutput bool
}

func (s *stubRunner) Run(_ context.Context, _ string, argv []string) error {
	s.mu.Lock()
	s.calls = append(s.calls, argv)
	s.mu.Unlock()
	if s.skipOutput {
		return nil
	}
	if s.err == nil || s.partial {
		if err := os.WriteFile(argv[len(argv)-1], []byte(s.body), 0644); err != nil {
			return err
		}
	}
	return s.err
}

func (s *stubRunner) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func fakeArchive(t *testing.T, gameID string) model.GameArchive {
	t.Helper()
	dir := filepath.Join(t.TempDir(), gameID)
	sim := filepath.Join(dir, "log", "powertac-sim-"+gameID+".state")
	boot := filepath.Join(dir, "boot-log", "powertac-boot-"+gameID+".state")
	for _, p := range []string{sim, boot} {
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte("state"), 0644); err != nil {
			t.Fatal(err)
		}
	}
	return model.GameArchive{GameID: gameID, Dir: dir, StateLog: sim, BootLog: boot}
}

func TestExtractCachesOutput(t *testing.T) {
	runner := &stubRunner{body: "1,1,0,2.0,-3.0\n"}
	x := &Extractor{DataDir: t.TempDir(), Runner: runner}
	req := Request{Extractor: "org.x.ProductionConsumption", Prefix: "pc", Options: []string{"--by-broker"}}
	arch := fakeArchive(t, "5")

	df, err := x.Extract(context.Background(), arch, req)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if df.Cached || filepath.Base(df.Path) != "pc5.csv" {
		t.Errorf("first run = %+v", df)
	}
	argv := runner.calls[0]
	if argv[0] != req.Extractor || argv[1] != "--by-broker" || argv[2] != arch.StateLog {
		t.Errorf("argv = %q", argv)
	}

	df, err = x.Extract(context.Background(), arch, req)
	if err != nil || !df.Cached {
		t.Errorf("second run = %+v, %v; want cached", df, err)
	}
	if runner.count() != 1 {
		t.Errorf("runner calls = %d, want 1", runner.count())
	}

	req.Force = true
	if _, err := x.Extract(context.Background(), arch, req); err != nil {
		t.Fatalf("forced Extract: %v", err)
	}
	if runner.count() != 2 {
		t.Errorf("force should rerun the extractor, calls = %d", runner.count())
	}
}

func TestExtractBootSession(t *testing.T) {
	runner := &stubRunner{body: "x"}
	x := &Extractor{DataDir: t.TempDir(), Runner: runner}
	arch := fakeArchive(t, "8")
	df, err := x.Extract(context.Background(), arch, Request{Extractor: "c", Prefix: "pc", LogType: model.LogBoot})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if filepath.Base(df.Path) != "pcboot-8.csv" || df.Prefix != "pcboot-" {
		t.Errorf("boot data file = %+v", df)
	}
	if got := runner.calls[0][1]; got != arch.BootLog {
		t.Errorf("input = %s, want boot log", got)
	}
}

func TestExtractFailureRemovesPartialOutput(t *testing.T) {
	runner := &stubRunner{body: "half a row", err: &ExitError{Code: 2, Stderr: "NullPointerException"}, partial: true}
	x := &Extractor{DataDir: t.TempDir(), Runner: runner}
	arch := fakeArchive(t, "3")
	req := Request{Extractor: "c", Prefix: "pc"}

	_, err := x.Extract(context.Background(), arch, req)
	var ee *ExtractionError
	if !errors.As(err, &ee) {
		t.Fatalf("err = %v, want *ExtractionError", err)
	}
	if ee.ExitCode != 2 || !strings.Contains(ee.Stderr, "NullPointer") {
		t.Errorf("ExtractionError = %+v", ee)
	}
	if _, err := os.Stat(x.OutputPath(req, "3")); !os.IsNotExist(err) {
		t.Error("partial output should have been removed")
	}
}

func TestExtractMissingOutput(t *testing.T) {
	x := &Extractor{DataDir: t.TempDir(), Runner: &stubRunner{skipOutput: true}}
	_, err := x.Extract(context.Background(), fakeArchive(t, "4"), Request{Extractor: "c", Prefix: "pc"})
	var ee *ExtractionError
	if !errors.As(err, &ee) {
		t.Fatalf("err = %v, want *ExtractionError", err)
	}
}

func TestExtractUsesArgvTemplate(t *testing.T) {
	runner := &stubRunner{skipOutput: true}
	x := &Extractor{
		DataDir: t.TempDir(),
		Runner:  runner,
		Argv: func(args []string) []string {
			return []string{"mvn", "exec:exec", "-Dexec.args=" + strings.Join(args, " ")}
		},
	}
	_, _ = x.Extract(context.Background(), fakeArchive(t, "1"), Request{Extractor: "org.x.C", Prefix: "pc"})
	if runner.count() != 1 {
		t.Fatal("runner not called")
	}
	argv := runner.calls[0]
	if argv[0] != "mvn" || !strings.HasPrefix(argv[2], "-Dexec.args=org.x.C ") {
		t.Errorf("argv = %q", argv)
	}
}

func TestExecRunnerExitCode(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	err := ExecRunner{}.Run(context.Background(), t.TempDir(), []string{"sh", "-c", "echo boom >&2; exit 3"})
	var ee *ExitError
	if !errors.As(err, &ee) {
		t.Fatalf("err = %v, want *ExitError", err)
	}
	if ee.Code != 3 || ee.Stderr != "boom" {
		t.Errorf("ExitError = %+v", ee)
	}
	if err := (ExecRunner{}).Run(context.Background(), "", []string{"sh", "-c", "exit 0"}); err != nil {
		t.Errorf("clean exit: %v", err)
	}
}

func TestTail(t *testing.T) {
	if got := tail("  short \n", 10); got != "short" {
		t.Errorf("tail = %q", got)
	}
	if got := tail("0123456789", 4); got != "...6789" {
		t.Errorf("tail = %q", got)
	}
}

// ---- pipeline ----

func gameBundle(t *testing.T, gameID string) []byte {
	t.Helper()
	var tarBuf bytes.Buffer
	tw := tar.NewWriter(&tarBuf)
	for _, name := range []string{
		"log/powertac-sim-" + gameID + ".state",
		"boot-log/powertac-boot-" + gameID + ".state",
	} {
		body := []byte("state")
		if err := tw.WriteHeader(&tar.Header{Name: name, Mode: 0644, Size: int64(len(body)), Typeflag: tar.TypeReg}); err != nil {
			t.Fatal(err)
		}
		if _, err := tw.Write(body); err != nil {
			t.Fatal(err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	var gz bytes.Buffer
	zw := gzip.NewWriter(&gz)
	if _, err := zw.Write(tarBuf.Bytes()); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return gz.Bytes()
}

type tournament struct {
	srv      *httptest.Server
	mu       sync.Mutex
	hits     map[string]int
	manifest string
}

// newTournament serves a manifest listing ids; ids in missing return 404 bundles.
func newTournament(t *testing.T, ids []string, missing map[string]bool) *tournament {
	t.Helper()
	tr := &tournament{hits: map[string]int{}}
	bundles := map[string][]byte{}
	for _, id := range ids {
		bundles["/game-"+id+"-sim-logs.tar.gz"] = gameBundle(t, id)
	}
	tr.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tr.mu.Lock()
		tr.hits[r.URL.Path]++
		tr.mu.Unlock()
		if r.URL.Path == "/games.csv" {
			_, _ = w.Write([]byte(tr.manifest))
			return
		}
		body, ok := bundles[r.URL.Path]
		for id := range missing {
			if r.URL.Path == "/game-"+id+"-sim-logs.tar.gz" {
				ok = false
			}
		}
		if !ok {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write(body)
	}))
	t.Cleanup(tr.srv.Close)
	var sb strings.Builder
	sb.WriteString("gameId,logUrl\n")
	for _, id := range ids {
		fmt.Fprintf(&sb, "%s,%s/game-%s-sim-logs.tar.gz\n", id, tr.srv.URL, id)
	}
	tr.manifest = sb.String()
	return tr
}

func (tr *tournament) bundleHits() int {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	n := 0
	for path, c := range tr.hits {
		if path != "/games.csv" {
			n += c
		}
	}
	return n
}

func newPipeline(t *testing.T, tr *tournament, runner Runner) *Pipeline {
	t.Helper()
	root := t.TempDir()
	store := archive.NewStore(root, layout.MustCompile(layout.Builtin("tournament")), 0)
	store.Client = tr.srv.Client()
	return &Pipeline{
		Resolver:  &manifest.Resolver{Client: tr.srv.Client()},
		Store:     store,
		Extractor: &Extractor{DataDir: filepath.Join(root, "data"), Runner: runner},
	}
}

func TestIterateContinuesPastFailures(t *testing.T) {
	tr := newTournament(t, []string{"1", "2", "3"}, map[string]bool{"2": true})
	runner := &stubRunner{body: "1,1,0,1.0,-1.0\n"}
	p := newPipeline(t, tr, runner)
	var records []model.ExtractionRecord
	p.Record = func(r model.ExtractionRecord) { records = append(records, r) }

	var ok, failed []string
	for df, err := range p.Iterate(context.Background(), tr.srv.URL+"/games.csv", Request{Extractor: "c", Prefix: "pc"}) {
		if err != nil {
			var de *archive.DownloadError
			if !errors.As(err, &de) {
				t.Errorf("unexpected error type %T: %v", err, err)
			}
			failed = append(failed, df.GameID)
			continue
		}
		ok = append(ok, df.GameID)
	}
	if strings.Join(ok, ",") != "1,3" || strings.Join(failed, ",") != "2" {
		t.Errorf("ok=%v failed=%v", ok, failed)
	}
	if len(records) != 3 || records[1].Status != "error" || records[0].Status != "ok" {
		t.Errorf("records = %+v", records)
	}
}

func TestIterateCachedMakesNoCalls(t *testing.T) {
	tr := newTournament(t, []string{"1", "2"}, nil)
	runner := &stubRunner{body: "x"}
	p := newPipeline(t, tr, runner)
	req := Request{Extractor: "c", Prefix: "pc"}
	url := tr.srv.URL + "/games.csv"

	for _, err := range p.Iterate(context.Background(), url, req) {
		if err != nil {
			t.Fatalf("first pass: %v", err)
		}
	}
	hits, calls := tr.bundleHits(), runner.count()
	if hits != 2 || calls != 2 {
		t.Fatalf("first pass hits=%d calls=%d", hits, calls)
	}

	// the sequence is replayable and fully cached the second time
	n := 0
	for df, err := range p.Iterate(context.Background(), url, req) {
		if err != nil || !df.Cached {
			t.Errorf("second pass: %+v %v", df, err)
		}
		n++
	}
	if n != 2 || tr.bundleHits() != hits || runner.count() != calls {
		t.Errorf("second pass n=%d hits=%d calls=%d", n, tr.bundleHits(), runner.count())
	}
}

func TestIterateStopsWhenConsumerBreaks(t *testing.T) {
	tr := newTournament(t, []string{"1", "2", "3"}, nil)
	runner := &stubRunner{body: "x"}
	p := newPipeline(t, tr, runner)
	for range p.Iterate(context.Background(), tr.srv.URL+"/games.csv", Request{Extractor: "c", Prefix: "pc"}) {
		break
	}
	if runner.count() != 1 {
		t.Errorf("lazy iteration ran %d extractions, want 1", runner.count())
	}
}

func TestIterateManifestError(t *testing.T) {
	tr := newTournament(t, nil, nil)
	p := newPipeline(t, tr, &stubRunner{})
	n := 0
	for _, err := range p.Iterate(context.Background(), tr.srv.URL+"/nope.csv", Request{Extractor: "c", Prefix: "pc"}) {
		if err == nil {
			t.Error("expected manifest error")
		}
		n++
	}
	if n != 1 {
		t.Errorf("yielded %d items, want 1", n)
	}
}

func TestPrefetch(t *testing.T) {
	tr := newTournament(t, []string{"1", "2", "3", "4"}, map[string]bool{"3": true})
	p := newPipeline(t, tr, &stubRunner{})
	refs, err := manifest.Parse(strings.NewReader(tr.manifest), "test")
	if err != nil {
		t.Fatal(err)
	}
	archives, err := Prefetch(context.Background(), p.Store, refs, 2)
	if err == nil {
		t.Error("expected joined error for game 3")
	}
	for i, a := range archives {
		if refs[i].GameID == "3" {
			if a.StateLog != "" {
				t.Error("failed game should be zero")
			}
			continue
		}
		if a.GameID != refs[i].GameID || a.StateLog == "" {
			t.Errorf("archive %d = %+v", i, a)
		}
	}
}
