package manifest

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseComma(t *testing.T) {
	src := "gameId,logUrl,status\n" +
		"3, http://host/game-3-sim-logs.tar.gz ,done\n" +
		"1,http://host/game-1-sim-logs.tar.gz,done\n"
	refs, err := Parse(strings.NewReader(src), "test")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(refs) != 2 {
		t.Fatalf("got %d refs, want 2", len(refs))
	}
	// file order, not sorted
	if refs[0].GameID != "3" || refs[1].GameID != "1" {
		t.Errorf("order = %s,%s", refs[0].GameID, refs[1].GameID)
	}
	if refs[0].LogURL != "http://host/game-3-sim-logs.tar.gz" {
		t.Errorf("LogURL not trimmed: %q", refs[0].LogURL)
	}
}

func TestParseSemicolon(t *testing.T) {
	src := "logUrl;gameId\nhttp://h/a.tar.gz;7\n"
	refs, err := Parse(strings.NewReader(src), "test")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(refs) != 1 || refs[0].GameID != "7" || refs[0].LogURL != "http://h/a.tar.gz" {
		t.Errorf("refs = %+v", refs)
	}
}

func TestParseSkipsEmptyGameID(t *testing.T) {
	src := "gameId,logUrl\n,http://h/x.tar.gz\n\n4,http://h/4.tar.gz\n"
	refs, err := Parse(strings.NewReader(src), "test")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(refs) != 1 || refs[0].GameID != "4" {
		t.Errorf("refs = %+v", refs)
	}
}

func TestParseMissingColumn(t *testing.T) {
	for _, src := range []string{"id,logUrl\n1,x\n", "gameId,url\n1,x\n", ""} {
		_, err := Parse(strings.NewReader(src), "bad")
		var fe *FormatError
		if !errors.As(err, &fe) {
			t.Errorf("Parse(%q) error = %v, want *FormatError", src, err)
		}
	}
}

func TestResolveFileAndHTTP(t *testing.T) {
	body := "gameId,logUrl\n1,http://h/1.tar.gz\n2,http://h/2.tar.gz\n"
	path := filepath.Join(t.TempDir(), "games.csv")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	for _, loc := range []string{path, "file:" + path} {
		refs, err := Resolve(context.Background(), loc)
		if err != nil {
			t.Fatalf("Resolve(%s): %v", loc, err)
		}
		if len(refs) != 2 {
			t.Errorf("Resolve(%s) = %d refs", loc, len(refs))
		}
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/games.csv" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(body))
	}))
	defer srv.Close()

	r := &Resolver{Client: srv.Client()}
	refs, err := r.Resolve(context.Background(), srv.URL+"/games.csv")
	if err != nil {
		t.Fatalf("Resolve http: %v", err)
	}
	if len(refs) != 2 || refs[1].GameID != "2" {
		t.Errorf("refs = %+v", refs)
	}
	if _, err := r.Resolve(context.Background(), srv.URL+"/missing.csv"); err == nil {
		t.Error("expected error for 404")
	}
}
