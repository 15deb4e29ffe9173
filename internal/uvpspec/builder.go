package uvpspec

import (
	"cmp"
	"fmt"
	"math"
	"slices"
)

// Record is the estimate of one baseline pair for one spectral window and
// polarisation pair.
type Record struct {
	// Data is indexed [time][dly].
	Data [][]complex128
	// Cov is indexed [time][dly][dly], nil when not stored.
	Cov [][][]complex128
	// Wgts is indexed [time][freq][dataset].
	Wgts         [][][2]float64
	Integrations []float64
	Nsamples     []float64
}

// Blpair carries the time and geometry of one baseline pair.
type Blpair struct {
	Blpair     int64
	Bl1, Bl2   int64
	Vec1, Vec2 [3]float64
	Time1      []float64
	Time2      []float64
	LST1       []float64
	LST2       []float64
}

// Builder assembles a UVPSpec from per baseline pair records.
type Builder struct {
	u       *UVPSpec
	ntimes  int
	blpairs []Blpair
	withCov bool
}

// NewBuilder starts a spectrum over blpairs, each observed at ntimes times.
func NewBuilder(ntimes int, blpairs []Blpair, withCov bool) (*Builder, error) {
	if ntimes <= 0 || len(blpairs) == 0 {
		return nil, fmt.Errorf("%w: %d times and %d baseline pairs", ErrInconsistent, ntimes, len(blpairs))
	}
	for _, b := range blpairs {
		for _, n := range []int{len(b.Time1), len(b.Time2), len(b.LST1), len(b.LST2)} {
			if n != ntimes {
				return nil, fmt.Errorf("%w: blpair %d has %d time samples, expected %d", ErrInconsistent, b.Blpair, n, ntimes)
			}
		}
	}
	return &Builder{
		u:       &UVPSpec{Ntimes: ntimes},
		ntimes:  ntimes,
		blpairs: blpairs,
		withCov: withCov,
	}, nil
}

// Meta returns the spectrum for setting metadata before Build.
func (b *Builder) Meta() *UVPSpec { return b.u }

// AddSpw allocates a spectral window for polpairs and returns its index.
// Every window must carry the same polarisation pairs.
func (b *Builder) AddSpw(spw Spw, polpairs []int, scalars []float64) (int, error) {
	if len(polpairs) != len(scalars) {
		return 0, fmt.Errorf("%w: %d scalars for %d polpairs", ErrInconsistent, len(scalars), len(polpairs))
	}
	if b.u.Nspws() == 0 {
		b.u.Polpairs = slices.Clone(polpairs)
	} else if !slices.Equal(b.u.Polpairs, polpairs) {
		return 0, fmt.Errorf("%w: spectral windows carry different polpairs", ErrInconsistent)
	}

	nblpt := b.ntimes * len(b.blpairs)
	nd, nf, npol := len(spw.Delays), len(spw.Freqs), len(polpairs)
	data := make([][][]complex128, nblpt)
	wgts := make([][][2][]float64, nblpt)
	ints := make([][]float64, nblpt)
	nsmp := make([][]float64, nblpt)
	var cov [][][][]complex128
	if b.withCov {
		cov = make([][][][]complex128, nblpt)
	}
	for i := 0; i < nblpt; i++ {
		data[i] = make([][]complex128, nd)
		for d := range data[i] {
			data[i][d] = make([]complex128, npol)
		}
		wgts[i] = make([][2][]float64, nf)
		for f := range wgts[i] {
			wgts[i][f] = [2][]float64{make([]float64, npol), make([]float64, npol)}
		}
		ints[i] = make([]float64, npol)
		nsmp[i] = make([]float64, npol)
		if b.withCov {
			cov[i] = make([][][]complex128, nd)
			for d := range cov[i] {
				cov[i][d] = make([][]complex128, nd)
				for e := range cov[i][d] {
					cov[i][d][e] = make([]complex128, npol)
				}
			}
		}
	}

	b.u.Spws = append(b.u.Spws, spw)
	b.u.Data = append(b.u.Data, data)
	b.u.Wgts = append(b.u.Wgts, wgts)
	b.u.Integrations = append(b.u.Integrations, ints)
	b.u.Nsamples = append(b.u.Nsamples, nsmp)
	b.u.Scalars = append(b.u.Scalars, slices.Clone(scalars))
	if b.withCov {
		b.u.Cov = append(b.u.Cov, cov)
	}
	return b.u.Nspws() - 1, nil
}

// Set stores the record of baseline pair k for polarisation pair index pol.
func (b *Builder) Set(spw, pol, k int, rec Record) error {
	if spw < 0 || spw >= b.u.Nspws() || pol < 0 || pol >= b.u.Npols() || k < 0 || k >= len(b.blpairs) {
		return fmt.Errorf("%w: spw %d, polpair %d, blpair %d", ErrNotFound, spw, pol, k)
	}
	nd, nf := len(b.u.Spws[spw].Delays), len(b.u.Spws[spw].Freqs)
	if len(rec.Data) != b.ntimes || len(rec.Wgts) != b.ntimes ||
		len(rec.Integrations) != b.ntimes || len(rec.Nsamples) != b.ntimes {
		return fmt.Errorf("%w: record of blpair %d has the wrong time axis", ErrInconsistent, b.blpairs[k].Blpair)
	}
	if b.withCov && len(rec.Cov) != b.ntimes {
		return fmt.Errorf("%w: record of blpair %d has no covariance", ErrInconsistent, b.blpairs[k].Blpair)
	}

	for t := 0; t < b.ntimes; t++ {
		i := k*b.ntimes + t
		if len(rec.Data[t]) != nd || len(rec.Wgts[t]) != nf {
			return fmt.Errorf("%w: record of blpair %d at time %d has the wrong shape", ErrInconsistent, b.blpairs[k].Blpair, t)
		}
		for d, v := range rec.Data[t] {
			b.u.Data[spw][i][d][pol] = v
		}
		for f, w := range rec.Wgts[t] {
			b.u.Wgts[spw][i][f][0][pol] = w[0]
			b.u.Wgts[spw][i][f][1][pol] = w[1]
		}
		b.u.Integrations[spw][i][pol] = rec.Integrations[t]
		b.u.Nsamples[spw][i][pol] = rec.Nsamples[t]
		if b.withCov {
			for d := 0; d < nd; d++ {
				for e := 0; e < nd; e++ {
					b.u.Cov[spw][i][d][e][pol] = rec.Cov[t][d][e]
				}
			}
		}
	}
	return nil
}

// Build fills the time and baseline axes and checks the result.
func (b *Builder) Build() (*UVPSpec, error) {
	u := b.u
	u.Time1, u.Time2, u.LST1, u.LST2, u.Blpairs = nil, nil, nil, nil, nil
	vecs := make(map[int64][3]float64)
	for _, bp := range b.blpairs {
		u.Time1 = append(u.Time1, bp.Time1...)
		u.Time2 = append(u.Time2, bp.Time2...)
		u.LST1 = append(u.LST1, bp.LST1...)
		u.LST2 = append(u.LST2, bp.LST2...)
		for range b.ntimes {
			u.Blpairs = append(u.Blpairs, bp.Blpair)
		}
		vecs[bp.Bl1] = bp.Vec1
		vecs[bp.Bl2] = bp.Vec2
	}

	u.TimeAvg = make([]float64, len(u.Time1))
	for i := range u.TimeAvg {
		u.TimeAvg[i] = (u.Time1[i] + u.Time2[i]) / 2
	}
	l1, l2 := Unwrap(u.LST1), Unwrap(u.LST2)
	u.LSTAvg = make([]float64, len(l1))
	for i := range l1 {
		u.LSTAvg[i] = wrap2Pi((l1[i] + l2[i]) / 2)
	}

	u.Bls = make([]int64, 0, len(vecs))
	for bl := range vecs {
		u.Bls = append(u.Bls, bl)
	}
	slices.SortFunc(u.Bls, cmp.Compare[int64])
	u.BlVecs = make([][3]float64, len(u.Bls))
	for i, bl := range u.Bls {
		u.BlVecs[i] = vecs[bl]
	}

	if err := u.Check(); err != nil {
		return nil, err
	}
	return u, nil
}

// Unwrap removes 2 pi jumps between consecutive phases.
func Unwrap(p []float64) []float64 {
	out := slices.Clone(p)
	var correction float64
	for i := 1; i < len(p); i++ {
		d := p[i] - p[i-1]
		if math.Abs(d) >= math.Pi {
			dm := wrap2Pi(d+math.Pi) - math.Pi
			if dm == -math.Pi && d > 0 {
				dm = math.Pi
			}
			correction += dm - d
		}
		out[i] = p[i] + correction
	}
	return out
}

func wrap2Pi(x float64) float64 {
	x = math.Mod(x, 2*math.Pi)
	if x < 0 {
		x += 2 * math.Pi
	}
	return x
}
