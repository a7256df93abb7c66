// Package trace reconstructs per-timeslot balancing-market data from
// simulation trace logs.
package trace

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/powertac/powertac-tools/internal/logger"
)

var (
	gameRe      = regexp.MustCompile(`powertac-sim-(\d+)\.trace`)
	timeslotRe  = regexp.MustCompile(`Deactivated timeslot (\d+),`)
	pricesRe    = regexp.MustCompile(`balancing prices: pPlus=(-?\d+\.\d+), pMinus=(-?\d+\.\d+)`)
	imbalanceRe = regexp.MustCompile(`totalImbalance=(-?\d+\.\d+)`)
)

// State is the scanner's position within one timeslot's log lines.
type State int

const (
	AwaitTimeslot State = iota
	AwaitPrices
	AwaitImbalance
)

func (s State) String() string {
	switch s {
	case AwaitPrices:
		return "awaiting-balancing-prices"
	case AwaitImbalance:
		return "awaiting-imbalance"
	default:
		return "awaiting-timeslot"
	}
}

// Record is one timeslot's balancing outcome.
type Record struct {
	GameID         string
	Timeslot       int
	PPlus          float64
	PMinus         float64
	TotalImbalance float64
}

// GameID derives "game-<n>" from a trace log path, or "unknown".
func GameID(path string) string {
	if m := gameRe.FindStringSubmatch(path); m != nil {
		return "game-" + m[1]
	}
	return "unknown"
}

// Scanner is the three-state line matcher. Matches seen in an unexpected
// state are logged and applied anyway.
type Scanner struct {
	GameID string
	state  State
	cur    Record
	// OutOfOrder counts matches seen in an unexpected state.
	OutOfOrder int
}

// NewScanner returns a scanner in the awaiting-timeslot state.
func NewScanner(gameID string) *Scanner {
	return &Scanner{GameID: gameID, cur: Record{GameID: gameID}}
}

// State returns the current state.
func (s *Scanner) State() State { return s.state }

// Line feeds one line. It returns a completed record when the line carries
// the total imbalance.
func (s *Scanner) Line(line string) (Record, bool) {
	if m := timeslotRe.FindStringSubmatch(line); m != nil {
		s.expect(AwaitTimeslot, "timeslot "+m[1])
		s.cur.Timeslot, _ = strconv.Atoi(m[1])
		s.state = AwaitPrices
		return Record{}, false
	}
	if m := pricesRe.FindStringSubmatch(line); m != nil {
		s.expect(AwaitPrices, "balancing prices")
		s.cur.PPlus = floatMaybe(m[1])
		s.cur.PMinus = floatMaybe(m[2])
		s.state = AwaitImbalance
		return Record{}, false
	}
	if m := imbalanceRe.FindStringSubmatch(line); m != nil {
		s.expect(AwaitImbalance, "total imbalance")
		s.cur.TotalImbalance = floatMaybe(m[1])
		s.state = AwaitTimeslot
		return s.cur, true
	}
	return Record{}, false
}

func (s *Scanner) expect(want State, what string) {
	if s.state != want {
		s.OutOfOrder++
		logger.Warning("trace match out of order", "game", s.GameID, "match", what, "state", s.state.String())
	}
}

func floatMaybe(v string) float64 {
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0
	}
	return f
}

// Scan reads a whole trace log.
func Scan(r io.Reader, gameID string) ([]Record, error) {
	s := NewScanner(gameID)
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	var out []Record
	for sc.Scan() {
		if rec, ok := s.Line(sc.Text()); ok {
			out = append(out, rec)
		}
	}
	if err := sc.Err(); err != nil {
		return out, fmt.Errorf("scan trace %s: %w", gameID, err)
	}
	return out, nil
}

// WriteCSV writes gameId,timeslot,pPlus,pMinus,totalImbalance lines.
func WriteCSV(w io.Writer, records []Record) error {
	bw := bufio.NewWriter(w)
	for _, r := range records {
		if _, err := fmt.Fprintf(bw, "%s,%d,%.4f,%.4f,%.4f\n",
			r.GameID, r.Timeslot, r.PPlus, r.PMinus, r.TotalImbalance); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// ErrorLine is a trace line reporting an ERROR.
type ErrorLine struct {
	Line int
	Text string
}

// ScanErrors returns every line containing "ERROR".
func ScanErrors(r io.Reader) ([]ErrorLine, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	var out []ErrorLine
	n := 0
	for sc.Scan() {
		n++
		if strings.Contains(sc.Text(), "ERROR") {
			out = append(out, ErrorLine{Line: n, Text: sc.Text()})
		}
	}
	return out, sc.Err()
}
