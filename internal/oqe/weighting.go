package oqe

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/roman-kulish/radio-pspec/internal/cache"
	"github.com/roman-kulish/radio-pspec/internal/dspec"
	"github.com/roman-kulish/radio-pspec/internal/linalg"
	"github.com/roman-kulish/radio-pspec/internal/taper"
	"github.com/roman-kulish/radio-pspec/internal/uvdata"
)

// R returns the data weighting operator of key, one matrix per time of
// shape (spw Nfreqs, spw Nfreqs + extension). Each is T P K where T is the
// rms normalised taper, P truncates the extension and K is the weighting
// kernel built from the time's flag weights.
func (p *PSpecData) R(key uvdata.Key) ([]*linalg.Matrix, error) {
	var rp RParams
	if p.weighting.NeedsRParams() {
		var ok bool
		if rp, ok = p.RParam(key); !ok {
			return nil, NewConfigError("oqe: r_params not set for %s under %s weighting", key, p.weighting)
		}
		if err := p.checkRParams(rp); err != nil {
			return nil, err
		}
	}

	y, err := p.Y(key)
	if err != nil {
		return nil, err
	}
	k := p.stateKey(key).Float64Grid(y).Key()
	return cache.Get(p.cache, cache.KindR, k, func() ([]*linalg.Matrix, error) {
		return p.computeR(key, y, rp)
	})
}

func (p *PSpecData) checkRParams(rp RParams) error {
	if len(rp.FilterCenters) == 0 || len(rp.FilterHalfWidths) == 0 || len(rp.FilterFactors) == 0 {
		return NewConfigError("oqe: filter centers, half widths and factors must be specified for %s weighting", p.weighting)
	}
	head, tail := p.weighting.family()
	usesDFT := head == "dft" || tail == "dft"
	usesDPSS := head == "dpss" || tail == "dpss"
	if usesDFT && rp.FundamentalPeriod <= 0 {
		return NewConfigError("oqe: fundamental period must be specified for %s weighting", p.weighting)
	}
	if usesDPSS && rp.EigenvalCutoff <= 0 {
		return NewConfigError("oqe: eigenvalue cutoff must be specified for %s weighting", p.weighting)
	}
	return nil
}

func (p *PSpecData) taperVector() ([]float64, error) {
	n := p.spw.Len()
	if p.taper.IsNone() {
		return taper.Generate(taper.WindowNone, n, taper.NormalizationNone)
	}
	t, err := taper.Generate(p.taper, n, taper.NormalizationRMS)
	if err != nil {
		return nil, err
	}
	for i, v := range t {
		if math.IsNaN(v) {
			t[i] = 0
		}
	}
	return t, nil
}

func (p *PSpecData) computeR(key uvdata.Key, y [][]float64, rp RParams) ([]*linalg.Matrix, error) {
	nf, nfext := p.spw.Len(), p.nfext()
	tv, err := p.taperVector()
	if err != nil {
		return nil, err
	}
	lo, hi := p.chanRange(true)
	freqs := p.Freqs()[lo:hi]
	filter := dspec.Filter{
		Centers:    rp.FilterCenters,
		HalfWidths: rp.FilterHalfWidths,
		Factors:    rp.FilterFactors,
	}

	var ic []*linalg.Matrix
	if p.weighting == WeightingIC {
		if ic, err = p.IC(key); err != nil {
			return nil, err
		}
	}

	// design matrix of the fitting modes, shared by all times
	var amat *linalg.Matrix
	var nterms []int
	head, tail := p.weighting.family()
	switch {
	case head == "dft" || tail == "dft":
		amat, nterms, err = dspec.DFTOperator(freqs, filter, rp.FundamentalPeriod)
	case head == "dpss" || tail == "dpss":
		amat, nterms, err = dspec.DPSSOperator(freqs, filter, rp.EigenvalCutoff)
	}
	if err != nil {
		return nil, NewConfigError("oqe: %s weighting for %s: %s", p.weighting, key, err)
	}

	var dayenuCov *linalg.Matrix
	if head == "dayenu" {
		if dayenuCov, err = dspec.DayenuCovariance(freqs, filter); err != nil {
			return nil, NewConfigError("oqe: dayenu weighting for %s: %s", key, err)
		}
	}

	out := make([]*linalg.Matrix, len(y))
	for t, w := range y {
		wsq := linalg.OuterReal(w, w)
		var k *linalg.Matrix

		switch p.weighting {
		case WeightingIdentity:
			d := make([]float64, nfext)
			for i, v := range w {
				d[i] = math.Sqrt(v * v)
			}
			k = linalg.DiagReal(d)

		case WeightingIC:
			k = ic[t]

		case WeightingDayenu, WeightingDayenuDFT, WeightingDayenuDPSS:
			k, err = linalg.PseudoInverse(linalg.Hadamard(dayenuCov, wsq))
			if err != nil {
				return nil, fmt.Errorf("dayenu filter at time %d: %w", t, err)
			}
			if tail != "" {
				afit, err := p.fitOperator(key, t, amat, w)
				if err != nil {
					return nil, err
				}
				// inpaint the fitted model of what the filter removes
				k = linalg.Add(linalg.Mul(afit, linalg.Sub(linalg.Identity(nfext), k)), k)
			}

		case WeightingDFTSubtract, WeightingDPSSSubtract:
			fit, err := p.fitSolution(key, t, amat, w)
			if err != nil {
				return nil, err
			}
			supp := dspec.SuppressionVector(rp.FilterFactors, nterms)
			k = linalg.Hadamard(wsq, linalg.Sub(linalg.Identity(nfext), linalg.Mul(amat, fit.ScaleRows(supp))))

		case WeightingDFTInterp, WeightingDPSSInterp:
			afit, err := p.fitOperator(key, t, amat, w)
			if err != nil {
				return nil, err
			}
			gaps := make([]complex128, nfext)
			for i, v := range w {
				gaps[i] = complex(1-v, 0)
			}
			k = linalg.Add(linalg.Identity(nfext), afit.ScaleRows(gaps))

		default:
			return nil, NewConfigError("oqe: unsupported data weighting %q", p.weighting)
		}

		r := k.Slice(p.ext[0], p.ext[0]+nf, 0, nfext)
		tc := make([]complex128, nf)
		for i, v := range tv {
			tc[i] = complex(v, 0)
		}
		out[t] = r.ScaleRows(tc)
	}
	return out, nil
}

// fitSolution returns the least squares solution operator of amat for the
// squared weights w^2.
func (p *PSpecData) fitSolution(key uvdata.Key, t int, amat *linalg.Matrix, w []float64) (*linalg.Matrix, error) {
	w2 := make([]float64, len(w))
	for i, v := range w {
		w2[i] = v * v
	}
	fit, fallback, err := dspec.FitSolution(amat, w2)
	if err != nil {
		return nil, fmt.Errorf("fit solution for %s at time %d: %w", key, t, err)
	}
	if fallback {
		p.warn(WarnPinvFallback, "singular fit normal matrix, using pseudo-inverse",
			slog.String("key", key.String()), slog.Int("time", t))
	}
	return fit, nil
}

// fitOperator returns amat times its fit solution, mapping data onto the
// fitted model.
func (p *PSpecData) fitOperator(key uvdata.Key, t int, amat *linalg.Matrix, w []float64) (*linalg.Matrix, error) {
	fit, err := p.fitSolution(key, t, amat, w)
	if err != nil {
		return nil, err
	}
	return linalg.Mul(amat, fit), nil
}
