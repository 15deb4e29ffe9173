package app

import (
	"math"
	"slices"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

const (
	// Bandpowers are drawn on 10 log10 |P|. The defaults span six decades
	// around unity, which suits spectra without a beam normalisation.
	defaultMinPower = -30.0
	defaultMaxPower = 30.0

	// Narrowest colour scale, one decade of |P|.
	minimumRange = 10.0

	// Below this count the raw extremes are used instead of percentiles.
	minimumSampleCount = 20

	minBins, maxBins = 8, 512

	lowPercentile, highPercentile = 0.02, 0.98
	marginFraction                = 0.05
)

// PowerBounds is the colour scale of a spectrum in dB of |P|.
type PowerBounds struct {
	Min, Max float64
	Median   float64
	Units    string // units of P
	Samples  int
}

func defaultPowerBounds(units string) PowerBounds {
	return PowerBounds{
		Min:    defaultMinPower,
		Max:    defaultMaxPower,
		Median: (defaultMinPower + defaultMaxPower) / 2,
		Units:  units,
	}
}

type groupKey struct {
	spw, polpair int
}

type powerGroup struct {
	units   string
	samples []float64
}

// PowerTracker collects bandpower levels per spectral window and
// polarisation pair.
type PowerTracker struct {
	groups map[groupKey]*powerGroup
}

func NewPowerTracker() *PowerTracker {
	return &PowerTracker{groups: make(map[groupKey]*powerGroup)}
}

// Add records one level of the group. Missing levels are skipped.
func (t *PowerTracker) Add(spw, polpair int, units string, db *float64) {
	k := groupKey{spw, polpair}
	g, ok := t.groups[k]
	if !ok {
		g = &powerGroup{units: units}
		t.groups[k] = g
	}
	if db != nil {
		g.samples = append(g.samples, *db)
	}
}

// Count returns the number of levels recorded for the group.
func (t *PowerTracker) Count(spw, polpair int) int {
	if g, ok := t.groups[groupKey{spw, polpair}]; ok {
		return len(g.samples)
	}
	return 0
}

// Bounds returns the colour scale of the group. The levels are binned over
// their own dynamic range, the scale runs between the low and high
// percentiles plus a margin and is never narrower than minimumRange.
func (t *PowerTracker) Bounds(spw, polpair int) PowerBounds {
	g, ok := t.groups[groupKey{spw, polpair}]
	if !ok {
		return defaultPowerBounds("")
	}
	if len(g.samples) == 0 {
		return defaultPowerBounds(g.units)
	}

	sorted := slices.Clone(g.samples)
	slices.Sort(sorted)
	lo, hi := sorted[0], sorted[len(sorted)-1]

	b := PowerBounds{Units: g.units, Samples: len(sorted)}
	if len(sorted) < minimumSampleCount || hi == lo {
		b.Min, b.Max = lo, hi
		b.Median = stat.Quantile(0.5, stat.Empirical, sorted, nil)
	} else {
		h := newLevelHistogram(sorted)
		b.Min = h.quantile(lowPercentile)
		b.Max = h.quantile(highPercentile)
		b.Median = h.quantile(0.5)
	}
	return b.widen()
}

func (b PowerBounds) widen() PowerBounds {
	if b.Max-b.Min < minimumRange {
		center := (b.Max + b.Min) / 2
		b.Min, b.Max = center-minimumRange/2, center+minimumRange/2
	}
	margin := (b.Max - b.Min) * marginFraction
	b.Min -= margin
	b.Max += margin
	return b
}

// levelHistogram bins sorted levels into equal bins spanning their range.
type levelHistogram struct {
	dividers []float64
	counts   []float64
	total    float64
}

// newLevelHistogram uses the square root choice for the number of bins.
func newLevelHistogram(sorted []float64) levelHistogram {
	n := int(math.Ceil(math.Sqrt(float64(len(sorted)))))
	n = min(max(n, minBins), maxBins)

	lo, hi := sorted[0], sorted[len(sorted)-1]
	dividers := make([]float64, n+1)
	floats.Span(dividers, lo, hi)
	// the top divider is exclusive
	dividers[n] = math.Nextafter(hi, math.Inf(1))

	return levelHistogram{
		dividers: dividers,
		counts:   stat.Histogram(nil, dividers, sorted, nil),
		total:    float64(len(sorted)),
	}
}

// quantile interpolates linearly within the bin holding the p quantile.
func (h levelHistogram) quantile(p float64) float64 {
	target := p * h.total
	var cum float64
	for i, c := range h.counts {
		if c > 0 && cum+c >= target {
			lo, hi := h.dividers[i], h.dividers[i+1]
			return lo + (target-cum)/c*(hi-lo)
		}
		cum += c
	}
	return h.dividers[len(h.dividers)-1]
}
