// Package manifest reads tournament game lists.
package manifest

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/powertac/powertac-tools/internal/logger"
	"github.com/powertac/powertac-tools/internal/model"
)

// FormatError reports a manifest that cannot be interpreted.
type FormatError struct {
	Source string
	Reason string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("manifest %s: %s", e.Source, e.Reason)
}

// Resolver fetches manifests. The zero value uses a 60s HTTP timeout.
type Resolver struct {
	Client *http.Client
}

var defaultResolver = &Resolver{Client: &http.Client{Timeout: 60 * time.Second}}

// Resolve reads the manifest at location with the default resolver.
func Resolve(ctx context.Context, location string) ([]model.GameRef, error) {
	return defaultResolver.Resolve(ctx, location)
}

// Resolve reads the manifest at location: an http(s) URL, a file: URL or a
// filesystem path. Rows come back in file order.
func (r *Resolver) Resolve(ctx context.Context, location string) ([]model.GameRef, error) {
	rc, err := r.open(ctx, location)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return Parse(rc, location)
}

func (r *Resolver) open(ctx context.Context, location string) (io.ReadCloser, error) {
	u, err := url.Parse(location)
	if err == nil && (u.Scheme == "http" || u.Scheme == "https") {
		client := r.Client
		if client == nil {
			client = defaultResolver.Client
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
		if err != nil {
			return nil, err
		}
		resp, err := client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("GET %s: %w", location, err)
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return nil, fmt.Errorf("GET %s: HTTP %d", location, resp.StatusCode)
		}
		return resp.Body, nil
	}

	path := location
	if strings.HasPrefix(location, "file:") {
		path = strings.TrimPrefix(location, "file:")
		// file:///abs and file:./rel are both accepted
		if strings.HasPrefix(path, "//") {
			path = strings.TrimPrefix(path, "//")
		}
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open manifest: %w", err)
	}
	return f, nil
}

// Parse reads manifest rows from r. The header must name gameId and logUrl;
// the delimiter is "," or ";", whichever the header uses.
func Parse(r io.Reader, source string) ([]model.GameRef, error) {
	br := bufio.NewReader(r)
	head, err := br.Peek(4096)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	if len(strings.TrimSpace(string(head))) == 0 {
		return nil, &FormatError{Source: source, Reason: "empty"}
	}

	cr := csv.NewReader(br)
	cr.Comma = detectDelimiter(string(head))
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, &FormatError{Source: source, Reason: "unreadable header: " + err.Error()}
	}
	idCol, urlCol := -1, -1
	for i, name := range header {
		switch strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")) {
		case "gameId":
			idCol = i
		case "logUrl":
			urlCol = i
		}
	}
	if idCol < 0 || urlCol < 0 {
		return nil, &FormatError{Source: source, Reason: "header must contain gameId and logUrl"}
	}

	var refs []model.GameRef
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, &FormatError{Source: source, Reason: err.Error()}
		}
		if len(rec) == 1 && strings.TrimSpace(rec[0]) == "" {
			continue
		}
		id := cell(rec, idCol)
		if id == "" {
			logger.Warning("manifest row without gameId", "source", source, "line", line)
			continue
		}
		refs = append(refs, model.GameRef{GameID: id, LogURL: cell(rec, urlCol)})
	}
	return refs, nil
}

func cell(rec []string, i int) string {
	if i >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[i])
}

// detectDelimiter looks at the first line only.
func detectDelimiter(head string) rune {
	first, _, _ := strings.Cut(head, "\n")
	if strings.Count(first, ";") > strings.Count(first, ",") {
		return ';'
	}
	return ','
}
