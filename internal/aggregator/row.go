package aggregator

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/powertac/powertac-tools/internal/datatype"
)

// RowParseError records a cell that could not be read as a number. It is
// never returned as a failure; the cell counts as 0.0.
type RowParseError struct {
	GameID string
	Line   int
	Column string
	Cell   string
}

func (e *RowParseError) Error() string {
	return fmt.Sprintf("game %s line %d: column %s: cannot parse %q", e.GameID, e.Line, e.Column, e.Cell)
}

// Fixed columns written by the extractors: ts, dow, hod, then data.
const (
	colDow  = 1
	colHod  = 2
	colProd = 3
	colCons = 4
)

type rowParser struct {
	dt      datatype.Type
	delim   string
	columns map[string]int
}

// newRowParser inspects the first line of a file. It is a header when its
// first cell is not an integer timeslot.
func newRowParser(dt datatype.Type, first string) (*rowParser, bool) {
	p := &rowParser{dt: dt, delim: ","}
	if strings.Count(first, ";") > strings.Count(first, ",") {
		p.delim = ";"
	}
	cells := p.split(first)
	if _, err := strconv.Atoi(cells[0]); err == nil {
		return p, false
	}
	p.columns = make(map[string]int, len(cells))
	for i, name := range cells {
		p.columns[name] = i
	}
	return p, true
}

func (p *rowParser) split(line string) []string {
	cells := strings.Split(line, p.delim)
	for i := range cells {
		cells[i] = strings.TrimSpace(cells[i])
	}
	return cells
}

func (p *rowParser) calendar(cells []string) (dow, hod int, err error) {
	if len(cells) <= colHod {
		return 0, 0, fmt.Errorf("short row (%d cells)", len(cells))
	}
	if dow, err = strconv.Atoi(cells[colDow]); err != nil {
		return 0, 0, fmt.Errorf("day of week: %w", err)
	}
	if hod, err = strconv.Atoi(cells[colHod]); err != nil {
		return 0, 0, fmt.Errorf("hour of day: %w", err)
	}
	return dow, hod, nil
}

// value turns a row into an observation according to the data type's policy.
// An error means the file as a whole cannot be read with this policy.
func (p *rowParser) value(cells []string) (float64, []*RowParseError, error) {
	var perrs []*RowParseError
	num := func(name string, i int) float64 {
		var cell string
		if i < len(cells) {
			cell = cells[i]
		}
		v, ok := floatMaybe(cell)
		if !ok {
			perrs = append(perrs, &RowParseError{Column: name, Cell: cell})
		}
		return v
	}
	named := func(name string) (float64, error) {
		i, ok := p.columns[name]
		if !ok {
			return 0, fmt.Errorf("no %q column in header", name)
		}
		return num(name, i), nil
	}
	scale := p.dt.Scale
	if scale == 0 {
		scale = 1
	}

	switch p.dt.Policy {
	case datatype.PolicyOffset:
		prod := num("production", colProd)
		cons := num("consumption", colCons)
		return net(p.dt.Net, prod, cons), perrs, nil

	case datatype.PolicyColumn:
		v, err := named(p.dt.Column)
		if err != nil {
			return 0, nil, err
		}
		return v / scale, perrs, nil

	case datatype.PolicyResidual:
		imb, err := named("imb")
		if err != nil {
			return 0, nil, err
		}
		var residual float64
		if imb < 0 {
			upa, err := named("upa")
			if err != nil {
				return 0, nil, err
			}
			residual = min(0, imb+upa)
		} else {
			dna, err := named("dna")
			if err != nil {
				return 0, nil, err
			}
			residual = max(0, imb+dna)
		}
		return residual / scale, perrs, nil

	case datatype.PolicyMarket:
		var volume, weighted, weight float64
		for i := colProd; i < len(cells); i++ {
			mwh, price, ok := marketCell(cells[i])
			if !ok {
				perrs = append(perrs, &RowParseError{Column: "trade", Cell: cells[i]})
				continue
			}
			volume += mwh
			w := mwh
			if w < 0 {
				w = -w
			}
			weighted += w * price
			weight += w
		}
		if p.dt.Column == "volume" {
			return volume, perrs, nil
		}
		if weight == 0 {
			return 0, perrs, nil
		}
		return weighted / weight, perrs, nil
	}
	return 0, nil, fmt.Errorf("unsupported policy %v", p.dt.Policy)
}

// extreme returns the raw data value with the largest magnitude in a row,
// before any scaling and whether or not the policy reads it. A NaN cell is
// returned as soon as it is seen. The calendar columns are not data.
func (p *rowParser) extreme(cells []string) float64 {
	var worst float64
	check := func(v float64) bool {
		if math.IsNaN(v) {
			worst = v
			return true
		}
		if math.Abs(v) > math.Abs(worst) {
			worst = v
		}
		return false
	}
	for i := colProd; i < len(cells); i++ {
		if v, ok := floatMaybe(cells[i]); ok {
			if check(v) {
				return worst
			}
			continue
		}
		if mwh, price, ok := marketCell(cells[i]); ok {
			if check(mwh) || check(price) {
				return worst
			}
		}
	}
	return worst
}

// net applies the sign convention: consumption is reported negative, so
// demand is its negation.
func net(mode datatype.Net, prod, cons float64) float64 {
	switch mode {
	case datatype.NetProduction:
		return prod
	case datatype.NetConsumption:
		return -cons
	default:
		return -cons - prod
	}
}

// floatMaybe reads a cell; empty and "-" cells are 0 without complaint.
func floatMaybe(cell string) (float64, bool) {
	if cell == "" || cell == "-" {
		return 0, true
	}
	v, err := strconv.ParseFloat(cell, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// marketCell parses "[mwh price]".
func marketCell(cell string) (mwh, price float64, ok bool) {
	inner, found := strings.CutPrefix(cell, "[")
	if !found {
		return 0, 0, false
	}
	inner, found = strings.CutSuffix(inner, "]")
	if !found {
		return 0, 0, false
	}
	fields := strings.Fields(inner)
	if len(fields) != 2 {
		return 0, 0, false
	}
	var err error
	if mwh, err = strconv.ParseFloat(fields[0], 64); err != nil {
		return 0, 0, false
	}
	if price, err = strconv.ParseFloat(fields[1], 64); err != nil {
		return 0, 0, false
	}
	return mwh, price, true
}
