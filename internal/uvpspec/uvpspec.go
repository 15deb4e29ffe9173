// Package uvpspec holds estimated delay power spectra together with the
// metadata needed to interpret them.
package uvpspec

import (
	"errors"
	"fmt"
	"math"
	"slices"

	"gonum.org/v1/gonum/stat"

	"github.com/roman-kulish/radio-pspec/internal/cosmo"
)

var (
	// ErrInconsistent is returned by Check for malformed spectra.
	ErrInconsistent = errors.New("uvpspec: inconsistent power spectrum")

	// ErrNotFound is returned for unknown spectral windows, baseline pairs
	// or polarisation pairs.
	ErrNotFound = errors.New("uvpspec: key not found")
)

// Spw describes one spectral window.
type Spw struct {
	// Delays are the delay bin centres in seconds.
	Delays []float64 `json:"delays"`
	// Freqs are the channel centres in Hz.
	Freqs []float64 `json:"freqs"`
	// Ext is the filter extension below and above the window in channels.
	Ext [2]int `json:"ext"`
}

// UVPSpec is a set of delay power spectra for a list of baseline pairs and
// times, estimated over one or more spectral windows and polarisation
// pairs. The blpair-time axis is blpair major: index = blpair * Ntimes + t.
type UVPSpec struct {
	Spws     []Spw `json:"spws"`
	Polpairs []int `json:"polpairs"`

	// Data is per spw, indexed [blpt][dly][polpair].
	Data [][][][]complex128 `json:"-"`
	// Cov is per spw, indexed [blpt][dly][dly][polpair]. Nil unless stored.
	Cov [][][][][]complex128 `json:"-"`
	// Wgts is per spw, indexed [blpt][freq][2][polpair].
	Wgts [][][][2][]float64 `json:"-"`
	// Integrations is per spw, indexed [blpt][polpair], in seconds.
	Integrations [][][]float64 `json:"-"`
	// Nsamples is per spw, indexed [blpt][polpair].
	Nsamples [][][]float64 `json:"-"`
	// Scalars is per spw, indexed [polpair].
	Scalars [][]float64 `json:"scalars"`

	Ntimes  int       `json:"ntimes"`
	Time1   []float64 `json:"time1"`
	Time2   []float64 `json:"time2"`
	TimeAvg []float64 `json:"timeAvg"`
	LST1    []float64 `json:"lst1"`
	LST2    []float64 `json:"lst2"`
	LSTAvg  []float64 `json:"lstAvg"`
	Blpairs []int64   `json:"blpairs"`

	Bls    []int64      `json:"bls"`
	BlVecs [][3]float64 `json:"blVecs"`

	Labels []string `json:"labels"`
	Label1 int      `json:"label1"`
	Label2 int      `json:"label2"`

	VisUnits  string `json:"visUnits"`
	NormUnits string `json:"normUnits"`
	Weighting string `json:"weighting"`
	Taper     string `json:"taper"`
	Norm      string `json:"norm"`
	CovModel  string `json:"covModel,omitempty"`
	ExactNorm bool   `json:"exactNorm"`
	// RParams is the JSON encoded filter parameters keyed by visibility key.
	RParams string `json:"rParams,omitempty"`

	ChannelWidth      float64    `json:"channelWidth"`
	TelescopeLocation [3]float64 `json:"telescopeLocation"`
	History           string     `json:"history"`

	Cosmo     *cosmo.Params        `json:"cosmo,omitempty"`
	BeamFreqs []float64            `json:"beamFreqs,omitempty"`
	OmegaP    map[string][]float64 `json:"omegaP,omitempty"`
	OmegaPP   map[string][]float64 `json:"omegaPP,omitempty"`
}

// Nspws returns the number of spectral windows.
func (u *UVPSpec) Nspws() int { return len(u.Spws) }

// Npols returns the number of polarisation pairs.
func (u *UVPSpec) Npols() int { return len(u.Polpairs) }

// Nblpairts returns the length of the blpair-time axis.
func (u *UVPSpec) Nblpairts() int { return len(u.Blpairs) }

// Nblpairs returns the number of distinct baseline pairs.
func (u *UVPSpec) Nblpairs() int { return len(u.GetBlpairs()) }

// Nbls returns the number of distinct baselines.
func (u *UVPSpec) Nbls() int { return len(u.Bls) }

// HasCov reports whether covariances were stored.
func (u *UVPSpec) HasCov() bool { return u.Cov != nil }

// Check verifies that every array agrees with the axis lengths.
func (u *UVPSpec) Check() error {
	nblpt, npol, nspw := u.Nblpairts(), u.Npols(), u.Nspws()
	if nspw == 0 || npol == 0 || nblpt == 0 {
		return fmt.Errorf("%w: empty axis (spws %d, polpairs %d, blpair-times %d)", ErrInconsistent, nspw, npol, nblpt)
	}
	for name, n := range map[string]int{
		"time1": len(u.Time1), "time2": len(u.Time2), "timeAvg": len(u.TimeAvg),
		"lst1": len(u.LST1), "lst2": len(u.LST2), "lstAvg": len(u.LSTAvg),
	} {
		if n != nblpt {
			return fmt.Errorf("%w: %s has %d entries for %d blpair-times", ErrInconsistent, name, n, nblpt)
		}
	}
	if len(u.BlVecs) != len(u.Bls) {
		return fmt.Errorf("%w: %d baseline vectors for %d baselines", ErrInconsistent, len(u.BlVecs), len(u.Bls))
	}
	for _, blp := range u.GetBlpairs() {
		b1, b2 := BlpairToBls(blp)
		if !slices.Contains(u.Bls, b1) || !slices.Contains(u.Bls, b2) {
			return fmt.Errorf("%w: baselines of blpair %d missing from the baseline list", ErrInconsistent, blp)
		}
	}
	if len(u.Data) != nspw || len(u.Wgts) != nspw || len(u.Integrations) != nspw ||
		len(u.Nsamples) != nspw || len(u.Scalars) != nspw {
		return fmt.Errorf("%w: per spw arrays do not match %d spectral windows", ErrInconsistent, nspw)
	}
	if u.Cov != nil && len(u.Cov) != nspw {
		return fmt.Errorf("%w: covariance has %d spectral windows, expected %d", ErrInconsistent, len(u.Cov), nspw)
	}
	for s, spw := range u.Spws {
		nd, nf := len(spw.Delays), len(spw.Freqs)
		if len(u.Data[s]) != nblpt || len(u.Wgts[s]) != nblpt || len(u.Integrations[s]) != nblpt || len(u.Nsamples[s]) != nblpt {
			return fmt.Errorf("%w: spw %d arrays do not match %d blpair-times", ErrInconsistent, s, nblpt)
		}
		if len(u.Scalars[s]) != npol {
			return fmt.Errorf("%w: spw %d has %d scalars for %d polpairs", ErrInconsistent, s, len(u.Scalars[s]), npol)
		}
		for i := 0; i < nblpt; i++ {
			if len(u.Data[s][i]) != nd || len(u.Wgts[s][i]) != nf ||
				len(u.Integrations[s][i]) != npol || len(u.Nsamples[s][i]) != npol {
				return fmt.Errorf("%w: spw %d blpair-time %d has wrong shape", ErrInconsistent, s, i)
			}
			for d := 0; d < nd; d++ {
				if len(u.Data[s][i][d]) != npol {
					return fmt.Errorf("%w: spw %d blpair-time %d delay %d has wrong polpair axis", ErrInconsistent, s, i, d)
				}
			}
			if u.Cov != nil && len(u.Cov[s][i]) != nd {
				return fmt.Errorf("%w: spw %d blpair-time %d covariance has wrong shape", ErrInconsistent, s, i)
			}
		}
	}
	return nil
}

// GetBlpairs returns the distinct baseline pairs in order of appearance.
func (u *UVPSpec) GetBlpairs() []int64 {
	var out []int64
	seen := make(map[int64]struct{})
	for _, b := range u.Blpairs {
		if _, ok := seen[b]; !ok {
			seen[b] = struct{}{}
			out = append(out, b)
		}
	}
	return out
}

// BlpairIndices returns the blpair-time indices of blp.
func (u *UVPSpec) BlpairIndices(blp int64) []int {
	var out []int
	for i, b := range u.Blpairs {
		if b == blp {
			out = append(out, i)
		}
	}
	return out
}

func (u *UVPSpec) indices(spw int, blp int64, polpair int) ([]int, int, error) {
	if spw < 0 || spw >= u.Nspws() {
		return nil, 0, fmt.Errorf("%w: spw %d", ErrNotFound, spw)
	}
	p := slices.Index(u.Polpairs, polpair)
	if p < 0 {
		return nil, 0, fmt.Errorf("%w: polpair %d", ErrNotFound, polpair)
	}
	idx := u.BlpairIndices(blp)
	if len(idx) == 0 {
		return nil, 0, fmt.Errorf("%w: blpair %d", ErrNotFound, blp)
	}
	return idx, p, nil
}

// GetData returns the spectra of one baseline pair, indexed [time][dly].
func (u *UVPSpec) GetData(spw int, blp int64, polpair int) ([][]complex128, error) {
	idx, p, err := u.indices(spw, blp, polpair)
	if err != nil {
		return nil, err
	}
	out := make([][]complex128, len(idx))
	for j, i := range idx {
		row := make([]complex128, len(u.Data[spw][i]))
		for d, v := range u.Data[spw][i] {
			row[d] = v[p]
		}
		out[j] = row
	}
	return out, nil
}

// GetCov returns the covariances of one baseline pair, indexed
// [time][dly][dly].
func (u *UVPSpec) GetCov(spw int, blp int64, polpair int) ([][][]complex128, error) {
	if !u.HasCov() {
		return nil, fmt.Errorf("%w: no covariance stored", ErrNotFound)
	}
	idx, p, err := u.indices(spw, blp, polpair)
	if err != nil {
		return nil, err
	}
	out := make([][][]complex128, len(idx))
	for j, i := range idx {
		c := u.Cov[spw][i]
		m := make([][]complex128, len(c))
		for a := range c {
			m[a] = make([]complex128, len(c[a]))
			for b := range c[a] {
				m[a][b] = c[a][b][p]
			}
		}
		out[j] = m
	}
	return out, nil
}

// GetWgts returns the weights of one baseline pair, indexed [time][freq][2].
func (u *UVPSpec) GetWgts(spw int, blp int64, polpair int) ([][][2]float64, error) {
	idx, p, err := u.indices(spw, blp, polpair)
	if err != nil {
		return nil, err
	}
	out := make([][][2]float64, len(idx))
	for j, i := range idx {
		out[j] = make([][2]float64, len(u.Wgts[spw][i]))
		for f, w := range u.Wgts[spw][i] {
			out[j][f] = [2]float64{w[0][p], w[1][p]}
		}
	}
	return out, nil
}

// GetIntegrations returns the integration times of one baseline pair.
func (u *UVPSpec) GetIntegrations(spw int, blp int64, polpair int) ([]float64, error) {
	return u.perTime(u.Integrations, spw, blp, polpair)
}

// GetNsamples returns the sample counts of one baseline pair.
func (u *UVPSpec) GetNsamples(spw int, blp int64, polpair int) ([]float64, error) {
	return u.perTime(u.Nsamples, spw, blp, polpair)
}

func (u *UVPSpec) perTime(arr [][][]float64, spw int, blp int64, polpair int) ([]float64, error) {
	idx, p, err := u.indices(spw, blp, polpair)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(idx))
	for j, i := range idx {
		out[j] = arr[spw][i][p]
	}
	return out, nil
}

// BlpairSeps returns, per blpair-time, the mean length of the two
// baselines in metres.
func (u *UVPSpec) BlpairSeps() ([]float64, error) {
	lengths := make(map[int64]float64, len(u.Bls))
	for i, bl := range u.Bls {
		v := u.BlVecs[i]
		lengths[bl] = math.Sqrt(v[0]*v[0] + v[1]*v[1] + v[2]*v[2])
	}
	out := make([]float64, len(u.Blpairs))
	for i, blp := range u.Blpairs {
		b1, b2 := BlpairToBls(blp)
		l1, ok1 := lengths[b1]
		l2, ok2 := lengths[b2]
		if !ok1 || !ok2 {
			return nil, fmt.Errorf("%w: baseline vector of blpair %d", ErrNotFound, blp)
		}
		out[i] = (l1 + l2) / 2
	}
	return out, nil
}

func (u *UVPSpec) cosmology() (*cosmo.Cosmology, error) {
	if u.Cosmo == nil {
		return cosmo.Default(), nil
	}
	return cosmo.New(*u.Cosmo)
}

func (u *UVPSpec) meanRedshift(spw int) (float64, error) {
	if spw < 0 || spw >= u.Nspws() {
		return 0, fmt.Errorf("%w: spw %d", ErrNotFound, spw)
	}
	return cosmo.F2Z(stat.Mean(u.Spws[spw].Freqs, nil)), nil
}

// Kparas returns the line of sight wavenumbers of the spw delays at the
// band centre redshift, in [h] Mpc^-1.
func (u *UVPSpec) Kparas(spw int, littleH bool) ([]float64, error) {
	z, err := u.meanRedshift(spw)
	if err != nil {
		return nil, err
	}
	c, err := u.cosmology()
	if err != nil {
		return nil, err
	}
	scale := c.TauToKpara(z, littleH)
	out := make([]float64, len(u.Spws[spw].Delays))
	for i, d := range u.Spws[spw].Delays {
		out[i] = d * scale
	}
	return out, nil
}

// Kperps returns the transverse wavenumber of every blpair-time at the
// spw centre redshift.
func (u *UVPSpec) Kperps(spw int, littleH bool) ([]float64, error) {
	z, err := u.meanRedshift(spw)
	if err != nil {
		return nil, err
	}
	c, err := u.cosmology()
	if err != nil {
		return nil, err
	}
	seps, err := u.BlpairSeps()
	if err != nil {
		return nil, err
	}
	scale := c.BlToKperp(z, littleH)
	for i := range seps {
		seps[i] *= scale
	}
	return seps, nil
}

// ConvertToDeltaSq multiplies every spectrum by k^3 / (2 pi^2) in place.
func (u *UVPSpec) ConvertToDeltaSq(littleH bool) error {
	for s := range u.Spws {
		kpara, err := u.Kparas(s, littleH)
		if err != nil {
			return err
		}
		kperp, err := u.Kperps(s, littleH)
		if err != nil {
			return err
		}
		for i := range u.Data[s] {
			for d := range u.Data[s][i] {
				k := math.Hypot(kperp[i], kpara[d])
				f := complex(k*k*k/(2*math.Pi*math.Pi), 0)
				for p := range u.Data[s][i][d] {
					u.Data[s][i][d][p] *= f
				}
			}
		}
	}
	if littleH {
		u.NormUnits += " h^3 k^3 / (2pi^2)"
	} else {
		u.NormUnits += " k^3 / (2pi^2)"
	}
	return nil
}
