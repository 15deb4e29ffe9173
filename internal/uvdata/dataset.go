// Package uvdata holds calibrated visibility datasets in memory and the
// baseline, polarisation and spectral window helpers built around them.
package uvdata

import (
	"errors"
	"fmt"
	"maps"
	"math/cmplx"
	"slices"
	"sort"
)

var (
	// ErrKeyNotFound is returned when a dataset does not carry the requested
	// baseline and polarisation.
	ErrKeyNotFound = errors.New("uvdata: key not found")

	// ErrInvalidDataset marks structurally inconsistent datasets.
	ErrInvalidDataset = errors.New("uvdata: invalid dataset")
)

// Antpair is an ordered antenna pair.
type Antpair struct {
	Ant1 int `json:"ant1" yaml:"ant1"`
	Ant2 int `json:"ant2" yaml:"ant2"`
}

// Reverse returns the pair with the antennas swapped.
func (a Antpair) Reverse() Antpair { return Antpair{Ant1: a.Ant2, Ant2: a.Ant1} }

// IsAuto reports whether both antennas are the same.
func (a Antpair) IsAuto() bool { return a.Ant1 == a.Ant2 }

func (a Antpair) String() string { return fmt.Sprintf("(%d, %d)", a.Ant1, a.Ant2) }

// BlPol identifies one visibility stream inside a dataset.
type BlPol struct {
	Antpair
	Pol Pol
}

// Key identifies one visibility stream in a collection of datasets.
type Key struct {
	Dataset int
	Antpair
	Pol Pol
}

func (k Key) String() string {
	return fmt.Sprintf("(%d, %d, %d, %s)", k.Dataset, k.Ant1, k.Ant2, k.Pol)
}

// Waterfall holds one visibility stream, indexed [time][frequency].
type Waterfall struct {
	Data     [][]complex128 `json:"-"`
	Flags    [][]bool       `json:"-"`
	Nsamples [][]float64    `json:"-"`
}

// NewWaterfall allocates an unflagged waterfall with unit nsamples.
func NewWaterfall(ntimes, nfreqs int) *Waterfall {
	w := &Waterfall{
		Data:     make([][]complex128, ntimes),
		Flags:    make([][]bool, ntimes),
		Nsamples: make([][]float64, ntimes),
	}
	for t := 0; t < ntimes; t++ {
		w.Data[t] = make([]complex128, nfreqs)
		w.Flags[t] = make([]bool, nfreqs)
		w.Nsamples[t] = make([]float64, nfreqs)
		for f := range w.Nsamples[t] {
			w.Nsamples[t][f] = 1
		}
	}
	return w
}

// Copy returns a deep copy.
func (w *Waterfall) Copy() *Waterfall {
	out := &Waterfall{
		Data:     make([][]complex128, len(w.Data)),
		Flags:    make([][]bool, len(w.Flags)),
		Nsamples: make([][]float64, len(w.Nsamples)),
	}
	for t := range w.Data {
		out.Data[t] = slices.Clone(w.Data[t])
		out.Flags[t] = slices.Clone(w.Flags[t])
		out.Nsamples[t] = slices.Clone(w.Nsamples[t])
	}
	return out
}

// conjugate returns a copy with the data conjugated, as seen from the
// reversed baseline.
func (w *Waterfall) conjugate() *Waterfall {
	out := w.Copy()
	for t := range out.Data {
		for f, v := range out.Data[t] {
			out.Data[t][f] = cmplx.Conj(v)
		}
	}
	return out
}

// Dataset is a calibrated visibility dataset with a shared time and
// frequency axis for all baselines.
type Dataset struct {
	Label string `json:"label"`

	// Freqs are channel centres in Hz.
	Freqs []float64 `json:"freqs"`
	// Times are Julian dates.
	Times []float64 `json:"times"`
	// LSTs are local sidereal times in radians.
	LSTs []float64 `json:"lsts"`
	// IntegrationTime is the integration time in seconds per time sample.
	IntegrationTime []float64 `json:"integrationTime"`
	// ChannelWidth is in Hz.
	ChannelWidth float64 `json:"channelWidth"`

	VisUnits  string `json:"visUnits"`
	PhaseType string `json:"phaseType"`

	// AntennaPositions are ENU positions in metres.
	AntennaPositions map[int][3]float64 `json:"antennaPositions"`
	// TelescopeLocation is ECEF in metres.
	TelescopeLocation [3]float64 `json:"telescopeLocation"`

	History string            `json:"history"`
	Extra   map[string]string `json:"extra,omitempty"`

	Pols       []Pol                `json:"pols"`
	Waterfalls map[BlPol]*Waterfall `json:"-"`
}

// Ntimes returns the number of time samples.
func (d *Dataset) Ntimes() int { return len(d.Times) }

// Nfreqs returns the number of frequency channels.
func (d *Dataset) Nfreqs() int { return len(d.Freqs) }

// HasPol reports whether the dataset carries polarisation p.
func (d *Dataset) HasPol(p Pol) bool { return slices.Contains(d.Pols, p) }

// Antpairs returns the stored antenna pairs in sorted order.
func (d *Dataset) Antpairs() []Antpair {
	seen := make(map[Antpair]struct{})
	for k := range d.Waterfalls {
		seen[k.Antpair] = struct{}{}
	}
	out := slices.Collect(maps.Keys(seen))
	sort.Slice(out, func(i, j int) bool {
		if out[i].Ant1 != out[j].Ant1 {
			return out[i].Ant1 < out[j].Ant1
		}
		return out[i].Ant2 < out[j].Ant2
	})
	return out
}

// Set stores a waterfall for (ap, p), registering the polarisation.
func (d *Dataset) Set(ap Antpair, p Pol, w *Waterfall) {
	if d.Waterfalls == nil {
		d.Waterfalls = make(map[BlPol]*Waterfall)
	}
	d.Waterfalls[BlPol{Antpair: ap, Pol: p}] = w
	if !d.HasPol(p) {
		d.Pols = append(d.Pols, p)
	}
}

// Waterfall returns the stream for (ap, p). A stream stored under the
// reversed antenna pair is returned conjugated.
func (d *Dataset) Waterfall(ap Antpair, p Pol) (*Waterfall, error) {
	if w, ok := d.Waterfalls[BlPol{Antpair: ap, Pol: p}]; ok {
		return w, nil
	}
	if w, ok := d.Waterfalls[BlPol{Antpair: ap.Reverse(), Pol: p}]; ok {
		return w.conjugate(), nil
	}
	return nil, fmt.Errorf("%w: %s %s in dataset %q", ErrKeyNotFound, ap, p, d.Label)
}

// Has reports whether (ap, p) is available in either orientation.
func (d *Dataset) Has(ap Antpair, p Pol) bool {
	_, ok := d.Waterfalls[BlPol{Antpair: ap, Pol: p}]
	if !ok {
		_, ok = d.Waterfalls[BlPol{Antpair: ap.Reverse(), Pol: p}]
	}
	return ok
}

// BaselineVector returns the ENU vector antenna2 - antenna1 in metres.
func (d *Dataset) BaselineVector(ap Antpair) ([3]float64, error) {
	p1, ok1 := d.AntennaPositions[ap.Ant1]
	p2, ok2 := d.AntennaPositions[ap.Ant2]
	if !ok1 || !ok2 {
		return [3]float64{}, fmt.Errorf("%w: antenna position for %s", ErrKeyNotFound, ap)
	}
	return [3]float64{p2[0] - p1[0], p2[1] - p1[1], p2[2] - p1[2]}, nil
}

// Validate checks that every waterfall matches the time and frequency axes.
func (d *Dataset) Validate() error {
	nt, nf := d.Ntimes(), d.Nfreqs()
	if nt == 0 || nf == 0 {
		return fmt.Errorf("%w: %q has %d times and %d freqs", ErrInvalidDataset, d.Label, nt, nf)
	}
	if len(d.LSTs) != nt {
		return fmt.Errorf("%w: %q has %d lsts for %d times", ErrInvalidDataset, d.Label, len(d.LSTs), nt)
	}
	if len(d.IntegrationTime) != nt {
		return fmt.Errorf("%w: %q has %d integration times for %d times", ErrInvalidDataset, d.Label, len(d.IntegrationTime), nt)
	}
	for k, w := range d.Waterfalls {
		if len(w.Data) != nt || len(w.Flags) != nt || len(w.Nsamples) != nt {
			return fmt.Errorf("%w: %q waterfall %s %s has wrong time axis", ErrInvalidDataset, d.Label, k.Antpair, k.Pol)
		}
		for t := 0; t < nt; t++ {
			if len(w.Data[t]) != nf || len(w.Flags[t]) != nf || len(w.Nsamples[t]) != nf {
				return fmt.Errorf("%w: %q waterfall %s %s has wrong frequency axis at time %d",
					ErrInvalidDataset, d.Label, k.Antpair, k.Pol, t)
			}
		}
		if !d.HasPol(k.Pol) {
			return fmt.Errorf("%w: %q waterfall polarization %s not registered", ErrInvalidDataset, d.Label, k.Pol)
		}
	}
	return nil
}

// Copy returns a deep copy.
func (d *Dataset) Copy() *Dataset {
	out := *d
	out.Freqs = slices.Clone(d.Freqs)
	out.Times = slices.Clone(d.Times)
	out.LSTs = slices.Clone(d.LSTs)
	out.IntegrationTime = slices.Clone(d.IntegrationTime)
	out.Pols = slices.Clone(d.Pols)
	out.AntennaPositions = maps.Clone(d.AntennaPositions)
	out.Extra = maps.Clone(d.Extra)
	out.Waterfalls = make(map[BlPol]*Waterfall, len(d.Waterfalls))
	for k, w := range d.Waterfalls {
		out.Waterfalls[k] = w.Copy()
	}
	return &out
}

// Select returns a copy restricted to the given antenna pairs and
// polarisations. Empty selections keep everything on that axis.
func (d *Dataset) Select(antpairs []Antpair, pols []Pol) *Dataset {
	out := d.Copy()
	keepAp := func(ap Antpair) bool {
		return len(antpairs) == 0 || slices.Contains(antpairs, ap) || slices.Contains(antpairs, ap.Reverse())
	}
	keepPol := func(p Pol) bool { return len(pols) == 0 || slices.Contains(pols, p) }

	for k := range out.Waterfalls {
		if !keepAp(k.Antpair) || !keepPol(k.Pol) {
			delete(out.Waterfalls, k)
		}
	}
	out.Pols = slices.DeleteFunc(out.Pols, func(p Pol) bool { return !keepPol(p) })
	return out
}

// SelectTimes keeps the time samples at the given indices, in place.
func (d *Dataset) SelectTimes(idx []int) error {
	for _, i := range idx {
		if i < 0 || i >= d.Ntimes() {
			return fmt.Errorf("%w: time index %d outside [0, %d)", ErrKeyNotFound, i, d.Ntimes())
		}
	}
	pick := func(v []float64) []float64 {
		out := make([]float64, len(idx))
		for j, i := range idx {
			out[j] = v[i]
		}
		return out
	}
	d.Times = pick(d.Times)
	d.LSTs = pick(d.LSTs)
	d.IntegrationTime = pick(d.IntegrationTime)
	for _, w := range d.Waterfalls {
		data := make([][]complex128, len(idx))
		flags := make([][]bool, len(idx))
		nsamp := make([][]float64, len(idx))
		for j, i := range idx {
			data[j], flags[j], nsamp[j] = w.Data[i], w.Flags[i], w.Nsamples[i]
		}
		w.Data, w.Flags, w.Nsamples = data, flags, nsamp
	}
	return nil
}
