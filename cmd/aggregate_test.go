package cmd

import (
	"archive/tar"
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/klauspost/compress/gzip"

	"github.com/powertac/powertac-tools/internal/aggregator"
	"github.com/powertac/powertac-tools/internal/config"
)

// useTestConfig installs a config with a throwaway database and a logtool
// command that takes its arguments appended.
func useTestConfig(t *testing.T) {
	t.Helper()
	c := config.DefaultConfig()
	c.Database.SQLitePath = filepath.Join(t.TempDir(), "ptlogs.db")
	c.Logtool.Command = []string{"logtool"}
	c.Logtool.Dir = t.TempDir()
	c.Logging.ConsoleEnabled = false
	old := cfg
	cfg = c
	t.Cleanup(func() { cfg = old })
}

func bundle(t *testing.T, gameID string) []byte {
	t.Helper()
	var tarBuf bytes.Buffer
	tw := tar.NewWriter(&tarBuf)
	name := "log/powertac-sim-" + gameID + ".state"
	body := []byte("state")
	if err := tw.WriteHeader(&tar.Header{Name: name, Mode: 0644, Size: int64(len(body)), Typeflag: tar.TypeReg}); err != nil {
		t.Fatal(err)
	}
	if _, err := tw.Write(body); err != nil {
		t.Fatal(err)
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

// serveTournament serves a manifest at /games.csv and one bundle per game.
func serveTournament(t *testing.T, ids []string) (manifestURL string, downloads func() int) {
	t.Helper()
	bundles := map[string][]byte{}
	for _, id := range ids {
		bundles["/game-"+id+"-sim-logs.tar.gz"] = bundle(t, id)
	}
	var mu sync.Mutex
	hits := 0
	var manifest strings.Builder
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/games.csv" {
			_, _ = w.Write([]byte(manifest.String()))
			return
		}
		body, ok := bundles[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		mu.Lock()
		hits++
		mu.Unlock()
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)
	manifest.WriteString("gameId;logUrl\n")
	for _, id := range ids {
		fmt.Fprintf(&manifest, "%s;%s/game-%s-sim-logs.tar.gz\n", id, srv.URL, id)
	}
	return srv.URL + "/games.csv", func() int {
		mu.Lock()
		defer mu.Unlock()
		return hits
	}
}

var stateIDRe = regexp.MustCompile(`powertac-sim-(\d+)\.state$`)

// pcRunner writes 48 ProductionConsumption rows per game. Game g's row i
// has net demand 100*g + i.
type pcRunner struct {
	mu    sync.Mutex
	calls int
}

func (r *pcRunner) Run(_ context.Context, _ string, argv []string) error {
	r.mu.Lock()
	r.calls++
	r.mu.Unlock()
	in, out := argv[len(argv)-2], argv[len(argv)-1]
	m := stateIDRe.FindStringSubmatch(in)
	if m == nil {
		return fmt.Errorf("unexpected input %s", in)
	}
	g, _ := strconv.Atoi(m[1])
	var sb strings.Builder
	for i := 0; i < 48; i++ {
		// consumption is reported negative
		fmt.Fprintf(&sb, "%d, %d, %d, 0.0, %.1f\n", 360+i, 1+i/24, i%24, -float64(100*g+i))
	}
	return os.WriteFile(out, []byte(sb.String()), 0644)
}

func TestCollectEndToEnd(t *testing.T) {
	useTestConfig(t)
	manifestURL, downloads := serveTournament(t, []string{"1", "2", "3"})
	dir := t.TempDir()
	runner := &pcRunner{}
	p, err := newPipeline(dir, nil, runner)
	if err != nil {
		t.Fatalf("newPipeline: %v", err)
	}
	dt, err := lookupType("net-demand")
	if err != nil {
		t.Fatal(err)
	}

	a := aggregator.New(dt, aggregator.Options{})
	if err := collect(context.Background(), p, manifestURL, dt, a, false); err != nil {
		t.Fatalf("collect: %v", err)
	}
	weekly := a.Bin(aggregator.Weekly)
	got := weekly.Bins[0]
	if len(got) != 3 {
		t.Fatalf("Weekly[0] has %d observations, want 3", len(got))
	}
	for i, want := range []float64{100, 200, 300} {
		if got[i] != want {
			t.Errorf("Weekly[0][%d] = %v, want %v", i, got[i], want)
		}
	}
	if n := len(weekly.Bins[47]); n != 3 {
		t.Errorf("Weekly[47] has %d observations, want 3", n)
	}
	if n := len(weekly.Bins[48]); n != 0 {
		t.Errorf("Weekly[48] has %d observations, want 0", n)
	}
	if n := len(a.Bin(aggregator.Weekday).Bins[5]); n != 6 {
		t.Errorf("Weekday[5] has %d observations, want 6 (two days x three games)", n)
	}

	// a second pass is served from the cache
	a2 := aggregator.New(dt, aggregator.Options{})
	if err := collect(context.Background(), p, manifestURL, dt, a2, false); err != nil {
		t.Fatalf("second collect: %v", err)
	}
	if runner.calls != 3 || downloads() != 3 {
		t.Errorf("second pass ran %d extractions and %d downloads, want 3 and 3", runner.calls, downloads())
	}
	if len(a2.Games()) != 3 {
		t.Errorf("second pass ingested %d games", len(a2.Games()))
	}
}

func TestCollectSkipsOutlierGame(t *testing.T) {
	useTestConfig(t)
	cfg.Aggregate.OutlierThreshold = 250
	manifestURL, _ := serveTournament(t, []string{"1", "2", "3"})
	p, err := newPipeline(t.TempDir(), nil, &pcRunner{})
	if err != nil {
		t.Fatal(err)
	}
	dt, _ := lookupType("net-demand")
	a := aggregator.New(dt, aggregator.Options{OutlierThreshold: cfg.Aggregate.OutlierThreshold})
	if err := collect(context.Background(), p, manifestURL, dt, a, false); err != nil {
		t.Fatalf("collect: %v", err)
	}
	// game 2 reaches 247 only, game 3 starts at 300
	if got := a.Games(); len(got) != 2 || got[0] != "1" || got[1] != "2" {
		t.Errorf("games = %v, want [1 2]", got)
	}
	if len(a.Rejected) != 1 || a.Rejected[0] != "3" {
		t.Errorf("rejected = %v", a.Rejected)
	}
}

func TestCollectManifestError(t *testing.T) {
	useTestConfig(t)
	p, err := newPipeline(t.TempDir(), nil, &pcRunner{})
	if err != nil {
		t.Fatal(err)
	}
	dt, _ := lookupType("net-demand")
	a := aggregator.New(dt, aggregator.Options{})
	if err := collect(context.Background(), p, filepath.Join(t.TempDir(), "missing.csv"), dt, a, false); err == nil {
		t.Error("expected manifest error")
	}
}
