package aggregator

import (
	"fmt"
	"math"
	"slices"

	"gonum.org/v1/gonum/stat"
)

type opKind int

const (
	opMean opKind = iota
	opStdDev
	opContour
)

// Op is a per-index reduction.
type Op struct {
	kind opKind
	p    float64
}

var (
	// OpMean is the arithmetic mean.
	OpMean = Op{kind: opMean}
	// OpStdDev is the sample standard deviation; 0 for fewer than two values.
	OpStdDev = Op{kind: opStdDev}
)

// OpContour is the nearest-rank order statistic at probability p.
func OpContour(p float64) Op {
	return Op{kind: opContour, p: p}
}

func (o Op) String() string {
	switch o.kind {
	case opStdDev:
		return "std"
	case opContour:
		return fmt.Sprintf("p%g", o.p*100)
	default:
		return "mean"
	}
}

// ParseOp accepts "mean" and "std".
func ParseOp(s string) (Op, error) {
	switch s {
	case "mean":
		return OpMean, nil
	case "std", "stddev":
		return OpStdDev, nil
	}
	return Op{}, fmt.Errorf("unknown statistic %q (want mean or std)", s)
}

// Reduce applies op to every index of b independently. Empty indices yield 0.
func Reduce(b *SeriesBin, op Op) []float64 {
	out := make([]float64, len(b.Bins))
	for i, obs := range b.Bins {
		out[i] = reduceOne(obs, op)
	}
	return out
}

// Contours computes one row per probability, each with one value per index.
func Contours(b *SeriesBin, ps []float64) [][]float64 {
	sorted := make([][]float64, len(b.Bins))
	for i, obs := range b.Bins {
		sorted[i] = slices.Sorted(slices.Values(obs))
	}
	rows := make([][]float64, len(ps))
	for r, p := range ps {
		row := make([]float64, len(sorted))
		for i, s := range sorted {
			row[i] = nearestRank(s, p)
		}
		rows[r] = row
	}
	return rows
}

func reduceOne(obs []float64, op Op) float64 {
	if len(obs) == 0 {
		return 0
	}
	switch op.kind {
	case opStdDev:
		if len(obs) < 2 {
			return 0
		}
		return stat.StdDev(obs, nil)
	case opContour:
		return nearestRank(slices.Sorted(slices.Values(obs)), op.p)
	default:
		return stat.Mean(obs, nil)
	}
}

// nearestRank picks sorted[round((n-0.5)*p)], clamped to the slice. Halves
// round to even.
func nearestRank(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	idx := int(math.RoundToEven((float64(n) - 0.5) * p))
	idx = max(0, min(idx, n-1))
	return sorted[idx]
}

// Histogram counts values into nbins equal-width buckets spanning their
// range. It returns the nbins+1 bucket edges and the counts.
func Histogram(values []float64, nbins int) ([]float64, []float64) {
	if len(values) == 0 || nbins < 1 {
		return nil, nil
	}
	x := slices.Sorted(slices.Values(values))
	lo, hi := x[0], x[len(x)-1]
	if lo == hi {
		hi = lo + 1
	}
	// stat.Histogram wants the last divider strictly above the max
	dividers := make([]float64, nbins+1)
	step := (hi - lo) / float64(nbins)
	for i := range dividers {
		dividers[i] = lo + float64(i)*step
	}
	dividers[nbins] = math.Nextafter(hi, math.Inf(1))
	counts := stat.Histogram(nil, dividers, x, nil)
	return dividers, counts
}

// Flatten returns every observation of b in index order.
func Flatten(b *SeriesBin) []float64 {
	out := make([]float64, 0, b.Count())
	for _, obs := range b.Bins {
		out = append(out, obs...)
	}
	return out
}
