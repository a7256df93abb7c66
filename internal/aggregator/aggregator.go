// Package aggregator bins per-timeslot observations from extracted game data
// into overlapping windows and reduces them to summary statistics.
package aggregator

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	"github.com/powertac/powertac-tools/internal/datatype"
	"github.com/powertac/powertac-tools/internal/logger"
	"github.com/powertac/powertac-tools/internal/model"
)

// Interval names a window classification.
type Interval int

const (
	Game Interval = iota
	Weekly
	Daily
	Weekday
	Weekend
)

// Intervals lists every window in display order.
var Intervals = []Interval{Game, Weekly, Daily, Weekday, Weekend}

func (iv Interval) String() string {
	switch iv {
	case Weekly:
		return "Weekly"
	case Daily:
		return "Daily"
	case Weekday:
		return "Weekday"
	case Weekend:
		return "Weekend"
	default:
		return "Game"
	}
}

// ParseInterval accepts the String forms, case-insensitively.
func ParseInterval(s string) (Interval, error) {
	for _, iv := range Intervals {
		if strings.EqualFold(s, iv.String()) {
			return iv, nil
		}
	}
	return Game, fmt.Errorf("unknown interval %q (want Game, Weekly, Daily, Weekday or Weekend)", s)
}

const (
	hoursPerWeek = 168
	hoursPerDay  = 24
	// DefaultGameLength bounds the Game window; longer games are truncated there.
	DefaultGameLength = 1680
	// DefaultOutlierThreshold is the magnitude above which a whole game is discarded.
	DefaultOutlierThreshold = 1e9
)

// SeriesBin holds one observation list per bin index.
type SeriesBin struct {
	Interval Interval
	Bins     [][]float64
}

func newSeriesBin(iv Interval, gameLength int) *SeriesBin {
	n := hoursPerDay
	switch iv {
	case Game:
		n = gameLength
	case Weekly:
		n = hoursPerWeek
	}
	return &SeriesBin{Interval: iv, Bins: make([][]float64, n)}
}

// Count returns the total number of observations across all indices.
func (b *SeriesBin) Count() int {
	n := 0
	for _, obs := range b.Bins {
		n += len(obs)
	}
	return n
}

// Slot is the bin placement of one row.
type Slot struct {
	Weekly  int
	Daily   int
	Weekday bool
}

// Classify maps a day-of-week in [1,7] and hour-of-day in [0,23] to bin
// indices. Weekdays are days 1 through 5.
func Classify(dow, hod int) (Slot, error) {
	if dow < 1 || dow > 7 || hod < 0 || hod > 23 {
		return Slot{}, fmt.Errorf("day %d hour %d out of range", dow, hod)
	}
	return Slot{Weekly: (dow-1)*hoursPerDay + hod, Daily: hod, Weekday: dow <= 5}, nil
}

// Options tune an Aggregator. Zero fields take the package defaults.
type Options struct {
	OutlierThreshold float64
	GameLength       int
}

// OutlierRejection reports a game discarded by the sanity gate.
type OutlierRejection struct {
	GameID    string
	Line      int
	Value     float64
	Threshold float64
}

func (e *OutlierRejection) Error() string {
	return fmt.Sprintf("game %s: value %g on line %d exceeds %g; game discarded",
		e.GameID, e.Value, e.Line, e.Threshold)
}

// Aggregator owns the bins and per-game series for one data type. It is not
// safe for concurrent use.
type Aggregator struct {
	dt   datatype.Type
	opts Options

	bins      map[Interval]*SeriesBin
	games     map[string][]model.Observation
	gameOrder []string
	boots     map[string][]float64
	bootOrder []string

	// ParseErrors counts cells recovered as 0.0 since the last Reset.
	ParseErrors int
	// Rejected lists games dropped by the sanity gate since the last Reset.
	Rejected []string
}

// New returns an empty Aggregator for the given data type.
func New(dt datatype.Type, opts Options) *Aggregator {
	if opts.OutlierThreshold <= 0 {
		opts.OutlierThreshold = DefaultOutlierThreshold
	}
	if opts.GameLength <= 0 {
		opts.GameLength = DefaultGameLength
	}
	a := &Aggregator{dt: dt, opts: opts}
	a.Reset()
	return a
}

// Reset discards everything ingested so far.
func (a *Aggregator) Reset() {
	a.bins = make(map[Interval]*SeriesBin, len(Intervals))
	for _, iv := range Intervals {
		a.bins[iv] = newSeriesBin(iv, a.opts.GameLength)
	}
	a.games = make(map[string][]model.Observation)
	a.gameOrder = nil
	a.boots = make(map[string][]float64)
	a.bootOrder = nil
	a.ParseErrors = 0
	a.Rejected = nil
}

// DataType returns the data type this aggregator was built for.
func (a *Aggregator) DataType() datatype.Type { return a.dt }

type staged struct {
	slot  Slot
	value float64
}

// Ingest reads one game's extracted rows. The game is parsed completely
// before any bin is touched; if any value fails the sanity gate an
// *OutlierRejection is returned and nothing is recorded.
func (a *Aggregator) Ingest(gameID string, r io.Reader) error {
	if _, dup := a.games[gameID]; dup {
		return fmt.Errorf("game %s already ingested", gameID)
	}
	rows, err := a.stage(gameID, r)
	if err != nil {
		return err
	}

	series := make([]model.Observation, len(rows))
	game := a.bins[Game]
	for i, row := range rows {
		series[i] = model.Observation{Index: row.slot.Weekly, Value: row.value}
		if i < len(game.Bins) {
			game.Bins[i] = append(game.Bins[i], row.value)
		}
		a.bins[Weekly].Bins[row.slot.Weekly] = append(a.bins[Weekly].Bins[row.slot.Weekly], row.value)
		a.bins[Daily].Bins[row.slot.Daily] = append(a.bins[Daily].Bins[row.slot.Daily], row.value)
		part := a.bins[Weekend]
		if row.slot.Weekday {
			part = a.bins[Weekday]
		}
		part.Bins[row.slot.Daily] = append(part.Bins[row.slot.Daily], row.value)
	}
	a.games[gameID] = series
	a.gameOrder = append(a.gameOrder, gameID)
	return nil
}

// IngestFile is Ingest on a file path.
func (a *Aggregator) IngestFile(gameID, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return a.Ingest(gameID, f)
}

// IngestBoot reads a boot-session data file. Boot series are kept as plain
// values and never binned.
func (a *Aggregator) IngestBoot(gameID string, r io.Reader) error {
	rows, err := a.stage(gameID, r)
	if err != nil {
		return err
	}
	values := make([]float64, len(rows))
	for i, row := range rows {
		values[i] = row.value
	}
	if _, ok := a.boots[gameID]; !ok {
		a.bootOrder = append(a.bootOrder, gameID)
	}
	a.boots[gameID] = values
	return nil
}

// IngestBootFile is IngestBoot on a file path.
func (a *Aggregator) IngestBootFile(gameID, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return a.IngestBoot(gameID, f)
}

func (a *Aggregator) stage(gameID string, r io.Reader) ([]staged, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var (
		p      *rowParser
		rows   []staged
		lineNo int
	)
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if p == nil {
			var isHeader bool
			p, isHeader = newRowParser(a.dt, line)
			if isHeader {
				continue
			}
		}
		cells := p.split(line)
		dow, hod, err := p.calendar(cells)
		if err != nil {
			logger.Warning("row skipped", "game", gameID, "line", lineNo, "err", err)
			continue
		}
		slot, err := Classify(dow, hod)
		if err != nil {
			logger.Warning("row skipped", "game", gameID, "line", lineNo, "err", err)
			continue
		}
		if raw := p.extreme(cells); a.outlier(raw) {
			a.Rejected = append(a.Rejected, gameID)
			return nil, &OutlierRejection{GameID: gameID, Line: lineNo, Value: raw, Threshold: a.opts.OutlierThreshold}
		}
		v, perrs, err := p.value(cells)
		if err != nil {
			return nil, fmt.Errorf("game %s line %d: %w", gameID, lineNo, err)
		}
		for _, pe := range perrs {
			pe.GameID, pe.Line = gameID, lineNo
			logger.Debug("cell recovered as 0", "err", pe)
			a.ParseErrors++
		}
		if a.outlier(v) {
			a.Rejected = append(a.Rejected, gameID)
			return nil, &OutlierRejection{GameID: gameID, Line: lineNo, Value: v, Threshold: a.opts.OutlierThreshold}
		}
		rows = append(rows, staged{slot: slot, value: v})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("game %s: read: %w", gameID, err)
	}
	return rows, nil
}

func (a *Aggregator) outlier(v float64) bool {
	return math.IsNaN(v) || math.Abs(v) > a.opts.OutlierThreshold
}

// Bin returns the series for a window. Callers must not modify it.
func (a *Aggregator) Bin(iv Interval) *SeriesBin {
	return a.bins[iv]
}

// Game returns the ordered observations of one game, tagged with their
// hour-of-week index.
func (a *Aggregator) Game(gameID string) []model.Observation {
	return a.games[gameID]
}

// Boot returns the boot series of one game.
func (a *Aggregator) Boot(gameID string) []float64 {
	return a.boots[gameID]
}

// Games returns the ingested game IDs in ingestion order.
func (a *Aggregator) Games() []string {
	return append([]string(nil), a.gameOrder...)
}

// BootGames returns the game IDs with a boot series.
func (a *Aggregator) BootGames() []string {
	return append([]string(nil), a.bootOrder...)
}

// ImputeBoot replaces every boot series with one sampled from the game data:
// every interval-th game value, len(game)/interval values in all. Used for
// seasons whose boot sessions are not representative of the game.
func (a *Aggregator) ImputeBoot(interval int) {
	if interval < 1 {
		interval = 1
	}
	a.boots = make(map[string][]float64, len(a.games))
	a.bootOrder = nil
	for _, id := range a.gameOrder {
		game := a.games[id]
		sample := make([]float64, 0, len(game)/interval)
		for i := 0; i < len(game)/interval; i++ {
			sample = append(sample, game[i*interval].Value)
		}
		a.boots[id] = sample
		a.bootOrder = append(a.bootOrder, id)
	}
}
