package report

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"

	"github.com/powertac/powertac-tools/internal/accounting"
	"github.com/powertac/powertac-tools/internal/aggregator"
	"github.com/powertac/powertac-tools/internal/model"
	"github.com/powertac/powertac-tools/internal/storage"
)

var (
	cOK    = color.New(color.FgGreen)
	cSkip  = color.New(color.FgYellow)
	cError = color.New(color.FgRed, color.Bold)
	cMuted = color.New(color.Faint)
)

func newTable(w io.Writer) *tablewriter.Table {
	return tablewriter.NewTable(w, tablewriter.WithConfig(tablewriter.Config{
		Row: tw.CellConfig{
			Alignment: tw.CellAlignment{Global: tw.AlignRight},
		},
		Header: tw.CellConfig{
			Alignment: tw.CellAlignment{Global: tw.AlignCenter},
		},
	}))
}

func f4(v float64) string { return strconv.FormatFloat(v, 'f', 4, 64) }

// Column is one reduced series shown next to the bin index.
type Column struct {
	Name   string
	Values []float64
}

// ReduceColumns computes one column per op over b.
func ReduceColumns(b *aggregator.SeriesBin, ops []aggregator.Op) []Column {
	cols := make([]Column, len(ops))
	for i, op := range ops {
		cols[i] = Column{Name: op.String(), Values: aggregator.Reduce(b, op)}
	}
	return cols
}

// PrintBinTable writes one row per bin index: the index, its observation
// count and every column. Trailing empty indices are dropped, which trims the
// Game window to the longest ingested game.
func PrintBinTable(w io.Writer, b *aggregator.SeriesBin, cols []Column) {
	last := len(b.Bins) - 1
	for last >= 0 && len(b.Bins[last]) == 0 {
		last--
	}
	if last < 0 {
		fmt.Fprintf(w, "%s: no observations\n", b.Interval)
		return
	}

	table := newTable(w)
	header := []any{strings.ToUpper(b.Interval.String()), "N"}
	for _, c := range cols {
		header = append(header, strings.ToUpper(c.Name))
	}
	table.Header(header...)
	for i := 0; i <= last; i++ {
		row := []any{strconv.Itoa(i), strconv.Itoa(len(b.Bins[i]))}
		for _, c := range cols {
			row = append(row, f4(c.Values[i]))
		}
		table.Append(row...)
	}
	table.Render()
}

// PrintHistogram writes bucket edges and counts.
func PrintHistogram(w io.Writer, edges, counts []float64) {
	if len(counts) == 0 {
		fmt.Fprintln(w, "(no values)")
		return
	}
	table := newTable(w)
	table.Header("FROM", "TO", "COUNT")
	for i, c := range counts {
		table.Append(f4(edges[i]), f4(edges[i+1]), strconv.Itoa(int(c)))
	}
	table.Render()
}

// AggregateSummary prints how many games made it into the bins.
func AggregateSummary(w io.Writer, a *aggregator.Aggregator) {
	fmt.Fprintf(w, "\nType: %s  |  Games: %d  |  Boot: %d  |  ", a.DataType().Name, len(a.Games()), len(a.BootGames()))
	if n := len(a.Rejected); n > 0 {
		cSkip.Fprintf(w, "Rejected: %d (%s)", n, strings.Join(a.Rejected, ", "))
	} else {
		cMuted.Fprint(w, "Rejected: 0")
	}
	fmt.Fprintf(w, "  |  Parse errors: %d\n\n", a.ParseErrors)
}

// PeakRow is one reported peak with the game it came from.
type PeakRow struct {
	GameID string
	model.Peak
}

// PrintPeaks writes one row per peak.
func PrintPeaks(w io.Writer, peaks []PeakRow) {
	if len(peaks) == 0 {
		fmt.Fprintln(w, "(no peaks)")
		return
	}
	table := newTable(w)
	table.Header("GAME", "INDEX", "THRESHOLD", "EXCESS")
	for _, p := range peaks {
		table.Append(p.GameID, strconv.Itoa(p.Index), f4(p.Threshold), f4(p.Excess))
	}
	table.Render()
}

// PrintExtractions writes the extraction ledger.
func PrintExtractions(w io.Writer, recs []model.ExtractionRecord) {
	table := newTable(w)
	table.Header("AT", "GAME", "PREFIX", "STATUS", "CACHED", "PATH / MESSAGE")
	for _, r := range recs {
		cached := ""
		if r.Cached {
			cached = "yes"
		}
		detail := r.Path
		if r.Message != "" {
			detail = r.Message
		}
		table.Append(r.At, r.GameID, r.Prefix, r.Status, cached, detail)
	}
	table.Render()
}

// PrintGames writes stored games and their brokers.
func PrintGames(w io.Writer, games []storage.GameRow) {
	table := newTable(w)
	table.Header("GAME", "SIZE", "LENGTH", "BROKERS")
	for _, g := range games {
		table.Append(g.GameID, strconv.Itoa(g.Size), strconv.Itoa(g.Length), strings.Join(g.Brokers, ", "))
	}
	table.Render()
}

// PrintAccounting writes the median per-game value of each factor, one row
// per broker.
func PrintAccounting(w io.Writer, s *accounting.Summary, factors []string) {
	brokers := s.Brokers()
	if len(brokers) == 0 {
		fmt.Fprintln(w, "(no brokers)")
		return
	}
	table := newTable(w)
	header := []any{"BROKER", "GAMES"}
	for _, f := range factors {
		header = append(header, strings.ToUpper(f))
	}
	table.Header(header...)
	for _, b := range brokers {
		row := []any{b, ""}
		for i, f := range factors {
			d := s.Describe(b, f)
			if i == 0 {
				row[1] = strconv.Itoa(d.N)
			}
			row = append(row, strconv.FormatFloat(d.Median, 'f', 0, 64))
		}
		table.Append(row...)
	}
	table.Render()
	fmt.Fprintln(w, "(median per game, scaled to 8 brokers)")
}

// PrintQuery renders the result of a raw query. NULLs arrive as "NULL"
// already.
func PrintQuery(w io.Writer, cols []string, rows [][]string) {
	if len(rows) == 0 {
		fmt.Fprintln(w, "(no rows)")
		return
	}
	table := newTable(w)
	table.Header(anys(cols)...)
	for _, row := range rows {
		table.Append(anys(row)...)
	}
	table.Render()
	fmt.Fprintf(w, "\n(%d rows)\n", len(rows))
}

func anys(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

// Status prints a one-line per-game outcome: ok, skip or error.
func Status(w io.Writer, gameID, status, detail string) {
	c := cOK
	switch status {
	case "skip", "cached":
		c = cSkip
	case "error":
		c = cError
	}
	c.Fprintf(w, "[%s]", status)
	fmt.Fprintf(w, " %s %s\n", gameID, detail)
}
