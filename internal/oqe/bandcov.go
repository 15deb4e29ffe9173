package oqe

import (
	"github.com/roman-kulish/radio-pspec/internal/cache"
	"github.com/roman-kulish/radio-pspec/internal/linalg"
	"github.com/roman-kulish/radio-pspec/internal/uvdata"
)

// bandCovariance estimates the covariance of the unnormalised bandpowers of
// a key pair at one time.
type bandCovariance interface {
	unnormedV(p *PSpecData, key1, key2 uvdata.Key, t int, exactNorm bool, pol uvdata.Pol) (*linalg.Matrix, error)
}

// sandwichCovariance propagates a visibility covariance model through the
// E matrices:
//
//	V_ab = tr(E_a C2 E_b^H C1) + tr(E_a P21 conj(E_b) S21)
type sandwichCovariance struct {
	model CovModel
}

func (s sandwichCovariance) unnormedV(p *PSpecData, key1, key2 uvdata.Key, t int, exactNorm bool, pol uvdata.Pol) (*linalg.Matrix, error) {
	e, err := p.GetE(key1, key2, t, exactNorm, pol)
	if err != nil {
		return nil, err
	}
	c1, err := p.C(key1, s.model, t)
	if err != nil {
		return nil, err
	}
	c2, err := p.C(key2, s.model, t)
	if err != nil {
		return nil, err
	}
	p21, err := p.CrossCovar(key2, key1, s.model, false, false)
	if err != nil {
		return nil, err
	}
	s21, err := p.CrossCovar(key2, key1, s.model, true, true)
	if err != nil {
		return nil, err
	}

	n := len(e)
	e12c2 := make([]*linalg.Matrix, n)
	e21c1 := make([]*linalg.Matrix, n)
	e12p21 := make([]*linalg.Matrix, n)
	e12s21 := make([]*linalg.Matrix, n)
	for a, ea := range e {
		e12c2[a] = linalg.Mul(ea, c2)
		e21c1[a] = linalg.Mul(ea.H(), c1)
		e12p21[a] = linalg.Mul(ea, p21)
		e12s21[a] = linalg.Mul(ea.Conj(), s21)
	}

	v := linalg.New(n, n)
	for a := 0; a < n; a++ {
		for b := 0; b < n; b++ {
			v.Set(a, b, linalg.TraceMul(e12c2[a], e21c1[b])+linalg.TraceMul(e12p21[a], e12s21[b]))
		}
	}
	return v, nil
}

// pspecCovariance is the empirical covariance of the unnormalised
// bandpowers over time. It is the same at every time.
type pspecCovariance struct{}

func (pspecCovariance) unnormedV(p *PSpecData, key1, key2 uvdata.Key, _ int, _ bool, pol uvdata.Pol) (*linalg.Matrix, error) {
	q, err := p.QHat([]uvdata.Key{key1}, []uvdata.Key{key2}, false, false, pol)
	if err != nil {
		return nil, err
	}
	nd, nt := q.Dims()
	d := make([][]complex128, nt)
	w := make([][]float64, nt)
	for t := range d {
		d[t] = q.Col(t)
		w[t] = make([]float64, nd)
		for i := range w[t] {
			w[t][i] = 1
		}
	}
	return empiricalCov(d, w, d, w, false, true), nil
}

func covarianceFor(model CovModel) (bandCovariance, error) {
	switch model {
	case CovEmpirical, CovDsets:
		return sandwichCovariance{model: model}, nil
	case CovEmpiricalPSpec:
		return pspecCovariance{}, nil
	default:
		return nil, NewConfigError("oqe: unknown covariance model %q", model)
	}
}

// GetV returns the covariance of the unnormalised bandpowers of key1 and
// key2 at time t under model.
func (p *PSpecData) GetV(key1, key2 uvdata.Key, t int, model CovModel, exactNorm bool, pol uvdata.Pol) (*linalg.Matrix, error) {
	if t < 0 || t >= p.Ntimes() {
		return nil, NewConfigError("oqe: time index %d outside [0, %d)", t, p.Ntimes())
	}
	cov, err := covarianceFor(model)
	if err != nil {
		return nil, err
	}
	k, err := p.responseKey("V/"+string(model), key1, key2, t, exactNorm, pol)
	if err != nil {
		return nil, err
	}
	return cache.Get(p.cache, cache.KindV, k, func() (*linalg.Matrix, error) {
		return cov.unnormedV(p, key1, key2, t, exactNorm, pol)
	})
}

// CovQHat returns the covariance of the unnormalised bandpowers per time.
// Lists of keys are combined as len(keys) / sum(1/V) elementwise. The
// empirical model broadcasts flags over the current window first and
// restores them afterwards, and evaluates V once for all times.
func (p *PSpecData) CovQHat(keys1, keys2 []uvdata.Key, model CovModel, exactNorm bool, pol uvdata.Pol) ([]*linalg.Matrix, error) {
	if len(keys1) == 0 || len(keys1) != len(keys2) {
		return nil, NewConfigError("oqe: key lists must be non-empty and of equal length, got %d and %d", len(keys1), len(keys2))
	}
	nt, nd := p.Ntimes(), p.ndlys
	acc := make([]*linalg.Matrix, nt)
	for t := range acc {
		acc[t] = linalg.New(nd, nd)
	}
	addInverse := func(t int, v *linalg.Matrix) {
		for i := 0; i < nd; i++ {
			for j := 0; j < nd; j++ {
				acc[t].Set(i, j, acc[t].At(i, j)+1/v.At(i, j))
			}
		}
	}

	for i := range keys1 {
		k1, k2 := keys1[i], keys2[i]
		switch model {
		case CovDsets:
			for t := 0; t < nt; t++ {
				v, err := p.GetV(k1, k2, t, model, exactNorm, pol)
				if err != nil {
					return nil, err
				}
				addInverse(t, v)
			}

		case CovEmpirical, CovEmpiricalPSpec:
			var v *linalg.Matrix
			var err error
			if model == CovEmpirical {
				if err = p.BroadcastDsetFlags([]uvdata.SpwRange{p.spw}, defaultTimeThresh, false); err != nil {
					return nil, err
				}
				v, err = p.GetV(k1, k2, 0, model, exactNorm, pol)
				p.RestoreFlags()
			} else {
				v, err = p.GetV(k1, k2, 0, model, exactNorm, pol)
			}
			if err != nil {
				return nil, err
			}
			for t := 0; t < nt; t++ {
				addInverse(t, v)
			}

		default:
			return nil, NewConfigError("oqe: unknown covariance model %q", model)
		}
	}

	n := complex(float64(len(keys1)), 0)
	for t := range acc {
		for i := 0; i < nd; i++ {
			for j := 0; j < nd; j++ {
				acc[t].Set(i, j, n/acc[t].At(i, j))
			}
		}
	}
	return acc, nil
}

// CovPHat propagates the unnormalised bandpower covariance through M,
// returning M cov M^T per time.
func CovPHat(m, qcov []*linalg.Matrix) ([]*linalg.Matrix, error) {
	if len(m) != len(qcov) {
		return nil, NewConfigError("oqe: %d normalization matrices for %d covariances", len(m), len(qcov))
	}
	out := make([]*linalg.Matrix, len(m))
	for t := range m {
		out[t] = linalg.Mul(linalg.Mul(m[t], qcov[t]), m[t].T())
	}
	return out, nil
}
