// Package accounting summarises BrokerAccounting extractor output: per-game
// credit and debit totals for every broker, collected across a tournament.
package accounting

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"slices"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/stat"

	"github.com/powertac/powertac-tools/internal/model"
)

const (
	// Extractor is the logtool class that writes the accounting files.
	Extractor = "org.powertac.logtool.example.BrokerAccounting"
	// Prefix is the data-file prefix for accounting output.
	Prefix = "ba"

	// DefaultBroker is the simulator's own broker, hidden from summaries.
	DefaultBroker = "default broker"

	// Totals are normalised to an eight-broker game.
	referenceBrokers = 8.0

	DefaultThreshold = 1e9
)

// Items are the per-broker columns in extractor order.
var Items = []string{
	"ttx-sc", "ttx-sd", "ttx-uc", "ttx-ud",
	"mtx-c", "mtx-d", "btx-c", "btx-d", "dtx-c", "dtx-d",
	"ctx-c", "ctx-d", "bce-c", "bce-d", "bank-c", "bank-d", "cash",
}

// Pairs maps a factor tag to its credit and debit items.
var Pairs = map[string][2]string{
	"ttx-s": {"ttx-sc", "ttx-sd"},
	"ttx-u": {"ttx-uc", "ttx-ud"},
	"mtx":   {"mtx-c", "mtx-d"},
	"btx":   {"btx-c", "btx-d"},
	"dtx":   {"dtx-c", "dtx-d"},
	"ctx":   {"ctx-c", "ctx-d"},
	"bce":   {"bce-c", "bce-d"},
	"bank":  {"bank-c", "bank-d"},
}

// DefaultFactors is the factor set shown when none is requested.
var DefaultFactors = []string{"ttx-s", "ttx-u", "mtx", "ctx", "btx", "bce", "bank"}

// BadFileError reports a game skipped because a value exceeded the threshold.
type BadFileError struct {
	GameID string
	Broker string
	Item   string
	Value  float64
}

func (e *BadFileError) Error() string {
	return fmt.Sprintf("game %s: %s %s = %g out of range; game skipped", e.GameID, e.Broker, e.Item, e.Value)
}

// GameTotals is one game's summed items per broker, already scaled.
type GameTotals struct {
	GameID  string
	Brokers []string
	Sums    map[string]map[string]float64
}

// Rows flattens the totals for the SQL sink.
func (g GameTotals) Rows() []model.AccountingRow {
	var out []model.AccountingRow
	for _, b := range g.Brokers {
		for _, item := range Items {
			v, ok := g.Sums[b][item]
			if !ok {
				continue
			}
			out = append(out, model.AccountingRow{GameID: g.GameID, Broker: b, Item: item, Value: v})
		}
	}
	return out
}

// Summary collects per-game totals across a tournament.
type Summary struct {
	Threshold float64

	brokers []string
	games   []string
	values  map[string]map[string][]float64
	// Skipped lists games dropped as bad files.
	Skipped []string
}

func New() *Summary {
	return &Summary{Threshold: DefaultThreshold, values: make(map[string]map[string][]float64)}
}

// Parse reads one accounting file. Both the wide layout (one line per
// timeslot, "brokerN" column groups) and the --per-broker layout (a
// "broker" column) are accepted.
func Parse(gameID string, r io.Reader, threshold float64) (GameTotals, error) {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	header, err := cr.Read()
	if err != nil {
		return GameTotals{}, fmt.Errorf("game %s: read header: %w", gameID, err)
	}
	groups, err := brokerGroups(header)
	if err != nil {
		return GameTotals{}, fmt.Errorf("game %s: %w", gameID, err)
	}

	totals := GameTotals{GameID: gameID, Sums: make(map[string]map[string]float64)}
	line := 1
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return GameTotals{}, fmt.Errorf("game %s line %d: %w", gameID, line, err)
		}
		for _, g := range groups {
			if g.name >= len(rec) {
				continue
			}
			broker := strings.TrimSpace(rec[g.name])
			sums, ok := totals.Sums[broker]
			if !ok {
				sums = make(map[string]float64, len(g.items))
				totals.Sums[broker] = sums
				totals.Brokers = append(totals.Brokers, broker)
			}
			for item, col := range g.items {
				if col >= len(rec) {
					continue
				}
				v, err := strconv.ParseFloat(strings.TrimSpace(rec[col]), 64)
				if err != nil {
					return GameTotals{}, fmt.Errorf("game %s line %d: %s %s: %w", gameID, line, broker, item, err)
				}
				if math.IsNaN(v) || math.Abs(v) > threshold {
					return GameTotals{}, &BadFileError{GameID: gameID, Broker: broker, Item: item, Value: v}
				}
				sums[item] += v
			}
		}
	}

	scale := float64(len(totals.Brokers)-1) / referenceBrokers
	for _, sums := range totals.Sums {
		for item := range sums {
			sums[item] *= scale
		}
	}
	return totals, nil
}

type group struct {
	name  int
	items map[string]int
}

// brokerGroups locates each broker-name column and the item columns that
// follow it, up to the next broker column.
func brokerGroups(header []string) ([]group, error) {
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}
	isBroker := func(h string) bool {
		if h == "broker" {
			return true
		}
		if !strings.HasPrefix(h, "broker") {
			return false
		}
		_, err := strconv.Atoi(h[len("broker"):])
		return err == nil
	}
	var groups []group
	for i, h := range header {
		if !isBroker(h) {
			continue
		}
		g := group{name: i, items: make(map[string]int)}
		for j := i + 1; j < len(header) && !isBroker(header[j]); j++ {
			g.items[header[j]] = j
		}
		groups = append(groups, g)
	}
	if len(groups) == 0 {
		return nil, fmt.Errorf("no broker columns in header")
	}
	return groups, nil
}

// Add parses one game and folds it into the summary. A bad file is recorded
// in Skipped and its error returned; the summary is left untouched.
func (s *Summary) Add(gameID string, r io.Reader) (GameTotals, error) {
	totals, err := Parse(gameID, r, s.Threshold)
	if err != nil {
		var bad *BadFileError
		if errors.As(err, &bad) {
			s.Skipped = append(s.Skipped, gameID)
		}
		return totals, err
	}
	s.games = append(s.games, gameID)
	for _, b := range totals.Brokers {
		m, ok := s.values[b]
		if !ok {
			m = make(map[string][]float64)
			s.values[b] = m
			s.brokers = append(s.brokers, b)
		}
		for item, v := range totals.Sums[b] {
			m[item] = append(m[item], v)
		}
	}
	return totals, nil
}

// AddFile is Add on a file path.
func (s *Summary) AddFile(gameID, path string) (GameTotals, error) {
	f, err := os.Open(path)
	if err != nil {
		return GameTotals{}, err
	}
	defer f.Close()
	return s.Add(gameID, f)
}

// Games returns the ingested game IDs in order.
func (s *Summary) Games() []string { return s.games }

// Brokers returns brokers in first-seen order, without the default broker.
func (s *Summary) Brokers() []string {
	out := make([]string, 0, len(s.brokers))
	for _, b := range s.brokers {
		if b != DefaultBroker {
			out = append(out, b)
		}
	}
	return out
}

// Factor returns one value per game the broker played. factor is an item
// name or a Pairs tag, in which case credit and debit are summed.
func (s *Summary) Factor(broker, factor string) []float64 {
	m := s.values[broker]
	if m == nil {
		return nil
	}
	pair, ok := Pairs[factor]
	if !ok {
		return slices.Clone(m[factor])
	}
	credit, debit := m[pair[0]], m[pair[1]]
	out := make([]float64, min(len(credit), len(debit)))
	for i := range out {
		out[i] = credit[i] + debit[i]
	}
	return out
}

// Stat is the distribution of one factor for one broker.
type Stat struct {
	N      int
	Mean   float64
	Median float64
	Min    float64
	Max    float64
}

// Describe summarises Factor(broker, factor). Empty input yields a zero Stat.
func (s *Summary) Describe(broker, factor string) Stat {
	xs := s.Factor(broker, factor)
	if len(xs) == 0 {
		return Stat{}
	}
	slices.Sort(xs)
	return Stat{
		N:      len(xs),
		Mean:   stat.Mean(xs, nil),
		Median: stat.Quantile(0.5, stat.Empirical, xs, nil),
		Min:    xs[0],
		Max:    xs[len(xs)-1],
	}
}
