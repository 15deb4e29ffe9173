package oqe

import (
	"log/slog"
	"math"
	"math/cmplx"
	"slices"

	"github.com/roman-kulish/radio-pspec/internal/cache"
	"github.com/roman-kulish/radio-pspec/internal/linalg"
	"github.com/roman-kulish/radio-pspec/internal/uvdata"
)

// empiricalCov estimates <d1 d2^H> - <d1><d2>^H by weighted averaging over
// time. d and w are indexed [time][freq]. conj1 and conj2 select which copy
// is conjugated; the default pairing is (false, true).
func empiricalCov(d1 [][]complex128, w1 [][]float64, d2 [][]complex128, w2 [][]float64, conj1, conj2 bool) *linalg.Matrix {
	nt := len(d1)
	n1, n2 := len(d1[0]), len(d2[0])

	mean := func(d [][]complex128, w [][]float64, n int, conj bool) []complex128 {
		out := make([]complex128, n)
		for i := 0; i < n; i++ {
			var sum complex128
			var wsum float64
			for t := 0; t < nt; t++ {
				sum += complex(w[t][i], 0) * d[t][i]
				wsum += w[t][i]
			}
			if wsum <= 0 {
				wsum = 1
			}
			out[i] = sum / complex(wsum, 0)
			if conj {
				out[i] = cmplx.Conj(out[i])
			}
		}
		return out
	}
	x1 := mean(d1, w1, n1, conj1)
	x2 := mean(d2, w2, n2, conj2)

	c := linalg.New(n1, n2)
	for i := 0; i < n1; i++ {
		for j := 0; j < n2; j++ {
			var z complex128
			var wsum float64
			for t := 0; t < nt; t++ {
				a := complex(w1[t][i], 0) * d1[t][i]
				b := complex(w2[t][j], 0) * d2[t][j]
				if conj1 {
					a = cmplx.Conj(a)
				}
				if conj2 {
					b = cmplx.Conj(b)
				}
				z += a * b
				wsum += w1[t][i] * w2[t][j]
			}
			if wsum <= 0 {
				wsum = 1
			}
			c.Set(i, j, z/complex(wsum, 0)-x1[i]*x2[j])
		}
	}
	return c
}

// C returns the visibility covariance of key over the extended window. The
// empirical model ignores t; the dsets model is diag(|w dx|^2) at time t.
func (p *PSpecData) C(key uvdata.Key, model CovModel, t int) (*linalg.Matrix, error) {
	switch model {
	case CovEmpirical:
		b := p.stateKey(key).String(string(model))
		for tt := 0; tt < p.Ntimes(); tt++ {
			if _, err := p.fingerprint(b, tt, key); err != nil {
				return nil, err
			}
		}
		return cache.Get(p.cache, cache.KindC, b.Key(), func() (*linalg.Matrix, error) {
			x, err := p.X(key, true)
			if err != nil {
				return nil, err
			}
			w, err := p.Y(key)
			if err != nil {
				return nil, err
			}
			return empiricalCov(x, w, x, w, false, true), nil
		})

	case CovDsets:
		if t < 0 || t >= p.Ntimes() {
			return nil, NewConfigError("oqe: time index %d outside [0, %d)", t, p.Ntimes())
		}
		b, err := p.fingerprint(p.stateKey(key).String(string(model)).Int(t), t, key)
		if err != nil {
			return nil, err
		}
		return cache.Get(p.cache, cache.KindC, b.Key(), func() (*linalg.Matrix, error) {
			dx, err := p.DX(key, true)
			if err != nil {
				return nil, err
			}
			w, err := p.Y(key)
			if err != nil {
				return nil, err
			}
			v := make([]float64, len(dx[t]))
			for i := range v {
				a := cmplx.Abs(complex(w[t][i], 0) * dx[t][i])
				v[i] = a * a
			}
			return linalg.DiagReal(v), nil
		})

	default:
		return nil, NewConfigError("oqe: covariance model %q has no visibility covariance", model)
	}
}

// CrossCovar returns the cross covariance of key1 and key2. The dsets model
// assumes independent noise and returns zeros.
func (p *PSpecData) CrossCovar(key1, key2 uvdata.Key, model CovModel, conj1, conj2 bool) (*linalg.Matrix, error) {
	switch model {
	case CovEmpirical:
		x1, err := p.X(key1, true)
		if err != nil {
			return nil, err
		}
		w1, err := p.Y(key1)
		if err != nil {
			return nil, err
		}
		x2, err := p.X(key2, true)
		if err != nil {
			return nil, err
		}
		w2, err := p.Y(key2)
		if err != nil {
			return nil, err
		}
		return empiricalCov(x1, w1, x2, w2, conj1, conj2), nil
	case CovDsets:
		n := p.nfext()
		return linalg.New(n, n), nil
	default:
		return nil, NewConfigError("oqe: covariance model %q has no cross covariance", model)
	}
}

// I returns the identity over the extended window.
func (p *PSpecData) I() *linalg.Matrix {
	return linalg.Identity(p.nfext())
}

// IC returns, per time, the inverse of the flag weighted empirical
// covariance. Singular matrices fall back to the pseudo-inverse.
func (p *PSpecData) IC(key uvdata.Key) ([]*linalg.Matrix, error) {
	b := p.stateKey(key).String(string(CovEmpirical))
	for t := 0; t < p.Ntimes(); t++ {
		if _, err := p.fingerprint(b, t, key); err != nil {
			return nil, err
		}
	}
	return cache.Get(p.cache, cache.KindIC, b.Key(), func() ([]*linalg.Matrix, error) {
		c, err := p.C(key, CovEmpirical, 0)
		if err != nil {
			return nil, err
		}
		y, err := p.Y(key)
		if err != nil {
			return nil, err
		}
		out := make([]*linalg.Matrix, len(y))
		for t, w := range y {
			wc := linalg.Hadamard(linalg.OuterReal(w, w), c)
			inv, fallback, err := linalg.InverseOrPinv(wc)
			if err != nil {
				return nil, err
			}
			if fallback {
				p.warn(WarnPinvFallback, "singular covariance, using pseudo-inverse",
					slog.String("key", key.String()), slog.Int("time", t))
			}
			out[t] = inv
		}
		return out, nil
	})
}

func median(xs []float64) float64 {
	if len(xs) == 0 {
		return math.NaN()
	}
	s := slices.Clone(xs)
	slices.Sort(s)
	n := len(s)
	if n%2 == 1 {
		return s[n/2]
	}
	return (s[n/2-1] + s[n/2]) / 2
}
