package uvdata

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/roman-kulish/radio-pspec/internal/cosmo"
)

// ErrOutOfBand is returned when a requested window lies outside the
// available frequency axis.
var ErrOutOfBand = errors.New("uvdata: range outside available frequencies")

// SpwRange is a half-open channel range [Start, End).
type SpwRange struct {
	Start int `json:"start" yaml:"start"`
	End   int `json:"end" yaml:"end"`
}

// Len returns the number of channels.
func (s SpwRange) Len() int { return s.End - s.Start }

func (s SpwRange) String() string { return fmt.Sprintf("[%d, %d)", s.Start, s.End) }

// FreqRange is a frequency interval in Hz, inclusive of Min and exclusive of Max.
type FreqRange struct {
	Min float64 `json:"min" yaml:"min"`
	Max float64 `json:"max" yaml:"max"`
}

// SpwRangeFromFreqs returns the channel range holding every frequency with
// Min <= f < Max. With boundsError set, bounds outside the axis are errors.
// A window that selects no channel yields an empty range.
func SpwRangeFromFreqs(freqs []float64, ranges []FreqRange, boundsError bool) ([]SpwRange, error) {
	if len(freqs) == 0 {
		return nil, fmt.Errorf("%w: empty frequency axis", ErrOutOfBand)
	}
	lo, hi := freqs[0], freqs[0]
	for _, f := range freqs {
		lo, hi = math.Min(lo, f), math.Max(hi, f)
	}

	out := make([]SpwRange, 0, len(ranges))
	for _, r := range ranges {
		if r.Min > r.Max {
			return nil, fmt.Errorf("uvdata: upper bound %g of spectral window below lower bound %g", r.Max, r.Min)
		}
		if boundsError && r.Min < lo {
			return nil, fmt.Errorf("%w: lower bound %g Hz below %g Hz", ErrOutOfBand, r.Min, lo)
		}
		if boundsError && r.Max > hi {
			return nil, fmt.Errorf("%w: upper bound %g Hz above %g Hz", ErrOutOfBand, r.Max, hi)
		}
		first, last := -1, -1
		for i, f := range freqs {
			if f >= r.Min && f < r.Max {
				if first < 0 {
					first = i
				}
				last = i
			}
		}
		if first < 0 {
			out = append(out, SpwRange{})
			continue
		}
		out = append(out, SpwRange{Start: first, End: last + 1})
	}
	return out, nil
}

// SpwRangeFromRedshifts converts redshift intervals to frequency intervals
// and delegates to SpwRangeFromFreqs. Each pair is (zmin, zmax).
func SpwRangeFromRedshifts(freqs []float64, zranges [][2]float64, boundsError bool) ([]SpwRange, error) {
	fr := make([]FreqRange, len(zranges))
	for i, z := range zranges {
		fr[i] = FreqRange{Min: cosmo.Z2F(z[1]), Max: cosmo.Z2F(z[0])}
	}
	return SpwRangeFromFreqs(freqs, fr, boundsError)
}

// BlpairOptions control ConstructBlpairs.
type BlpairOptions struct {
	// ExcludeAutoBls drops every pair of a baseline with itself.
	ExcludeAutoBls bool
	// ExcludePermutations forms combinations instead of permutations.
	ExcludePermutations bool
}

// ConstructBlpairs crosses a list of baselines with itself. The auto pairs
// are appended after the cross pairs unless excluded.
func ConstructBlpairs(bls []Antpair, opts BlpairOptions) (bls1, bls2 []Antpair) {
	n := len(bls)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if i == j {
				continue
			}
			if opts.ExcludePermutations && j < i {
				continue
			}
			bls1 = append(bls1, bls[i])
			bls2 = append(bls2, bls[j])
		}
	}
	for _, bl := range bls {
		bls1 = append(bls1, bl)
		bls2 = append(bls2, bl)
	}
	if opts.ExcludeAutoBls {
		var f1, f2 []Antpair
		for i := range bls1 {
			if bls1[i] != bls2[i] {
				f1 = append(f1, bls1[i])
				f2 = append(f2, bls2[i])
			}
		}
		bls1, bls2 = f1, f2
	}
	return bls1, bls2
}

// RedGroup is a set of baselines sharing an East-North vector within tolerance.
type RedGroup struct {
	Baselines []Antpair
	// Length is in metres.
	Length float64
	// Angle is in degrees, folded into [0, 180).
	Angle float64
	Tag   string
}

// RedundantGroups groups baselines by their East-North vector. Two vectors
// match when both components agree within tol metres. Groups are ordered by
// their length/angle tag.
func RedundantGroups(vecs map[Antpair][3]float64, tol float64) []RedGroup {
	keys := make([]Antpair, 0, len(vecs))
	for k := range vecs {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Ant1 != keys[j].Ant1 {
			return keys[i].Ant1 < keys[j].Ant1
		}
		return keys[i].Ant2 < keys[j].Ant2
	})

	var groups []RedGroup
	var ref [][2]float64
	for _, k := range keys {
		v := vecs[k]
		en := [2]float64{v[0], v[1]}
		match := -1
		for i, r := range ref {
			if math.Abs(r[0]-en[0]) <= tol && math.Abs(r[1]-en[1]) <= tol {
				match = i
				break
			}
		}
		if match >= 0 {
			groups[match].Baselines = append(groups[match].Baselines, k)
			continue
		}
		length := math.Hypot(en[0], en[1])
		angle := math.Atan2(en[1], en[0]) * 180 / math.Pi
		if angle < 0 {
			angle = math.Mod(angle+180, 360)
		}
		ref = append(ref, en)
		groups = append(groups, RedGroup{
			Baselines: []Antpair{k},
			Length:    length,
			Angle:     angle,
			Tag:       fmt.Sprintf("%03.0f_%03.0f", length, angle),
		})
	}
	sort.SliceStable(groups, func(i, j int) bool { return groups[i].Tag < groups[j].Tag })
	return groups
}
