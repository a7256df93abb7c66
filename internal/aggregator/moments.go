package aggregator

import (
	"math"
	"slices"

	"github.com/powertac/powertac-tools/internal/model"
)

// Moments accumulates mean and variance in one pass (Welford).
type Moments struct {
	n    int
	mean float64
	m2   float64
}

// Add folds one value into the running moments.
func (m *Moments) Add(x float64) {
	m.n++
	last := m.mean
	m.mean = last + (x-last)/float64(m.n)
	m.m2 += (x - last) * (x - m.mean)
}

func (m *Moments) Count() int { return m.n }

func (m *Moments) Mean() float64 { return m.mean }

// Variance is the sample variance, M2/(n-1); 0 for fewer than two values.
func (m *Moments) Variance() float64 {
	if m.n < 2 {
		return 0
	}
	return m.m2 / float64(m.n-1)
}

// PopulationVariance is M2/n.
func (m *Moments) PopulationVariance() float64 {
	if m.n < 1 {
		return 0
	}
	return m.m2 / float64(m.n)
}

func (m *Moments) StdDev() float64 {
	return math.Sqrt(m.Variance())
}

// Peaks seeds running moments with the boot series, then walks the game.
// After every intervalDays*24 game observations, the up to nPeaks largest
// values of that interval that exceed mean + threshold*sigma are reported.
// Peak indices count timeslots from the start of the boot session.
func Peaks(boot []float64, game []model.Observation, intervalDays int, threshold float64, nPeaks int) []model.Peak {
	var m Moments
	for _, x := range boot {
		m.Add(x)
	}
	window := intervalDays * 24
	if window < 1 || nPeaks < 1 {
		return nil
	}

	var peaks []model.Peak
	pending := make([]model.Observation, 0, window)
	for _, obs := range game {
		pending = append(pending, model.Observation{Index: m.Count(), Value: obs.Value})
		m.Add(obs.Value)
		if len(pending) < window {
			continue
		}
		thr := m.Mean() + threshold*m.StdDev()
		slices.SortStableFunc(pending, func(a, b model.Observation) int {
			switch {
			case a.Value > b.Value:
				return -1
			case a.Value < b.Value:
				return 1
			}
			return 0
		})
		for _, ev := range pending[:min(nPeaks, len(pending))] {
			if ev.Value > thr {
				peaks = append(peaks, model.Peak{Index: ev.Index, Threshold: thr, Excess: ev.Value - thr})
			}
		}
		pending = pending[:0]
	}
	return peaks
}
