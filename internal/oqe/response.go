package oqe

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"

	"github.com/roman-kulish/radio-pspec/internal/beam"
	"github.com/roman-kulish/radio-pspec/internal/cache"
	"github.com/roman-kulish/radio-pspec/internal/linalg"
	"github.com/roman-kulish/radio-pspec/internal/uvdata"
)

// qAltVec returns the delay mode vector m, so that Q_alt = conj(m) m^T.
// When the number of delays equals the number of channels and allowFFT is
// set the vector is the FFT of a shifted delta function, otherwise it is
// built from the phase ramp directly. Both agree to round-off.
func (p *PSpecData) qAltVec(mode int, allowFFT, includeExt bool) ([]complex128, error) {
	if mode < 0 || mode >= p.ndlys {
		return nil, NewConfigError("oqe: delay mode %d outside [0, %d)", mode, p.ndlys)
	}
	nfreq, phase := p.spw.Len(), 0
	if includeExt {
		nfreq, phase = p.nfext(), p.ext[0]
	}

	if p.ndlys == nfreq && allowFFT {
		delta := make([]complex128, nfreq)
		// ifftshift moves index mode to mode - n/2 (mod n)
		delta[((mode-nfreq/2)%nfreq+nfreq)%nfreq] = 1
		return fourier.NewCmplxFFT(nfreq).Coefficients(nil, delta), nil
	}

	start := -float64(p.ndlys) / 2
	if p.ndlys%2 == 1 {
		start = -float64(p.ndlys-1) / 2
	}
	m := make([]complex128, nfreq)
	for k := range m {
		arg := (start + float64(mode)) * float64(k-phase)
		m[k] = cmplx.Exp(complex(0, -2*math.Pi*arg/float64(p.ndlys)))
	}
	return m, nil
}

// QAlt returns the response of the unnormalised bandpowers to delay mode
// mode, stripped of beam and taper factors.
func (p *PSpecData) QAlt(mode int, allowFFT, includeExt bool) (*linalg.Matrix, error) {
	m, err := p.qAltVec(mode, allowFFT, includeExt)
	if err != nil {
		return nil, err
	}
	conj := make([]complex128, len(m))
	for i, v := range m {
		conj[i] = cmplx.Conj(v)
	}
	return linalg.Outer(conj, m), nil
}

// Q returns the exact delay response exp(-2 pi i tau nu) at the delay of
// mode over the window channels.
func (p *PSpecData) Q(mode int) (*linalg.Matrix, error) {
	if mode < 0 || mode >= p.ndlys {
		return nil, NewConfigError("oqe: delay mode %d outside [0, %d)", mode, p.ndlys)
	}
	dlys, err := p.Delays()
	if err != nil {
		return nil, err
	}
	tau := dlys[mode] * 1e-9
	nu := p.Freqs()[p.spw.Start:p.spw.End]
	eta := make([]complex128, len(nu))
	conj := make([]complex128, len(nu))
	for i, f := range nu {
		eta[i] = cmplx.Exp(complex(0, -2*math.Pi*tau*f))
		conj[i] = cmplx.Conj(eta[i])
	}
	return linalg.Outer(conj, eta), nil
}

// IntegralBeam returns the angular integral of the product of normalised
// beam responses at each pair of channels. Beams that cannot report their
// response yield ones and the spectra are left unnormalised.
func (p *PSpecData) IntegralBeam(pol uvdata.Pol, includeExt bool) (*linalg.Matrix, error) {
	lo, hi := p.chanRange(includeExt)
	nu := p.Freqs()[lo:hi]
	n := len(nu)

	nr, ok := p.beam.(beam.NormalizedResponder)
	if p.beam == nil || !ok {
		p.warn(WarnNoBeamResponse, "the beam response could not be calculated, spectra will not be normalized")
		return linalg.Ones(n, n), nil
	}
	resp, omega, nside, err := nr.BeamNormalizedResponse(pol.String(), nu)
	if err != nil {
		return nil, fmt.Errorf("beam response for %s: %w", pol, err)
	}

	norm := math.Pi / (3 * float64(nside) * float64(nside))
	out := linalg.New(n, n)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			var s float64
			for k := range resp[i] {
				s += resp[i][k] / omega[i] * resp[j][k] / omega[j]
			}
			out.Set(i, j, complex(norm*s, 0))
			out.Set(j, i, complex(norm*s, 0))
		}
	}
	return out, nil
}

// exactNormFactor returns del_tau times the integral beam used by exact
// normalisation.
func (p *PSpecData) exactNormFactor(pol uvdata.Pol, includeExt bool) (*linalg.Matrix, error) {
	dlys, err := p.Delays()
	if err != nil {
		return nil, err
	}
	diffs := make([]float64, len(dlys)-1)
	for i := range diffs {
		diffs[i] = dlys[i+1] - dlys[i]
	}
	delTau := median(diffs) * 1e-9
	ib, err := p.IntegralBeam(pol, includeExt)
	if err != nil {
		return nil, err
	}
	return ib.Scale(complex(delTau, 0)), nil
}

// rx returns R x per time, summed over keys.
func (p *PSpecData) rx(keys []uvdata.Key) ([][]complex128, error) {
	out := make([][]complex128, p.Ntimes())
	for t := range out {
		out[t] = make([]complex128, p.spw.Len())
	}
	for _, k := range keys {
		r, err := p.R(k)
		if err != nil {
			return nil, err
		}
		x, err := p.X(k, true)
		if err != nil {
			return nil, err
		}
		for t := range out {
			for i, v := range r[t].MulVec(x[t]) {
				out[t][i] += v
			}
		}
	}
	return out, nil
}

// QHat returns the unnormalised bandpowers q_a = 1/2 conj(R1 x1) Q_a (R2 x2)
// shaped (Ndlys, Ntimes). Lists of keys are summed after weighting. The FFT
// shortcut is taken when allowed and Ndlys equals the window length.
func (p *PSpecData) QHat(keys1, keys2 []uvdata.Key, allowFFT, exactNorm bool, pol uvdata.Pol) (*linalg.Matrix, error) {
	if len(keys1) == 0 || len(keys1) != len(keys2) {
		return nil, NewConfigError("oqe: key lists must be non-empty and of equal length, got %d and %d", len(keys1), len(keys2))
	}
	if exactNorm && allowFFT {
		return nil, NewConfigError("oqe: exact normalization does not support the FFT shortcut")
	}
	rx1, err := p.rx(keys1)
	if err != nil {
		return nil, err
	}
	rx2, err := p.rx(keys2)
	if err != nil {
		return nil, err
	}
	nt, nf := p.Ntimes(), p.spw.Len()
	q := linalg.New(p.ndlys, nt)

	switch {
	case exactNorm:
		qnorm, err := p.exactNormFactor(pol, false)
		if err != nil {
			return nil, err
		}
		for a := 0; a < p.ndlys; a++ {
			qa, err := p.QAlt(a, true, false)
			if err != nil {
				return nil, err
			}
			qa = linalg.Hadamard(qa, qnorm)
			for t := 0; t < nt; t++ {
				var s complex128
				for i, v := range qa.MulVec(rx2[t]) {
					s += cmplx.Conj(rx1[t][i]) * v
				}
				q.Set(a, t, s/2)
			}
		}

	case allowFFT && p.ndlys == nf:
		fft := fourier.NewCmplxFFT(nf)
		for t := 0; t < nt; t++ {
			f1 := fftshift(fft.Coefficients(nil, rx1[t]))
			f2 := fftshift(fft.Coefficients(nil, rx2[t]))
			for a := 0; a < nf; a++ {
				q.Set(a, t, cmplx.Conj(f1[a])*f2[a]/2)
			}
		}

	default:
		for a := 0; a < p.ndlys; a++ {
			m, err := p.qAltVec(a, true, false)
			if err != nil {
				return nil, err
			}
			for t := 0; t < nt; t++ {
				var s1, s2 complex128
				for i, v := range m {
					s1 += v * rx1[t][i]
					s2 += v * rx2[t][i]
				}
				q.Set(a, t, cmplx.Conj(s1)*s2/2)
			}
		}
	}
	return q, nil
}

func fftshift(v []complex128) []complex128 {
	n := len(v)
	out := make([]complex128, n)
	for k := range out {
		out[k] = v[(k-n/2+n)%n]
	}
	return out
}

// responseKey identifies a time dependent matrix of a key pair.
func (p *PSpecData) responseKey(kind string, key1, key2 uvdata.Key, t int, exactNorm bool, pol uvdata.Pol) (string, error) {
	b := p.stateKey(key1, key2).String(kind).Bool(exactNorm).Int(int(pol), t)
	b, err := p.fingerprint(b, t, key1, key2)
	if err != nil {
		return "", err
	}
	return b.Key(), nil
}

// response computes 1/2 tr(R1^H Q_i R2 Q'_j) for every pair of delays,
// where Q' is taken over the extended window and optionally damped by the
// sinc sampling kernel.
func (p *PSpecData) response(key1, key2 uvdata.Key, t int, exactNorm bool, pol uvdata.Pol, damp bool) (*linalg.Matrix, error) {
	r1s, err := p.R(key1)
	if err != nil {
		return nil, err
	}
	r2s, err := p.R(key2)
	if err != nil {
		return nil, err
	}
	r1h, r2 := r1s[t].H(), r2s[t]

	var qnorm1, qnorm2 *linalg.Matrix
	if exactNorm {
		if qnorm1, err = p.exactNormFactor(pol, false); err != nil {
			return nil, err
		}
		if qnorm2, err = p.exactNormFactor(pol, true); err != nil {
			return nil, err
		}
	}

	var sinc *linalg.Matrix
	if damp {
		n := p.nfext()
		sinc = linalg.New(n, n)
		for i := 0; i < n; i++ {
			for j := 0; j < n; j++ {
				sinc.Set(i, j, complex(npSinc(float64(i-j)/float64(n)), 0))
			}
		}
	}

	left := make([]*linalg.Matrix, p.ndlys)
	right := make([]*linalg.Matrix, p.ndlys)
	for ch := 0; ch < p.ndlys; ch++ {
		q1, err := p.QAlt(ch, true, false)
		if err != nil {
			return nil, err
		}
		q2, err := p.QAlt(ch, true, true)
		if err != nil {
			return nil, err
		}
		if exactNorm {
			q1 = linalg.Hadamard(q1, qnorm1)
			q2 = linalg.Hadamard(q2, qnorm2)
		}
		if damp {
			q2 = linalg.Hadamard(q2, sinc)
		}
		left[ch] = linalg.Mul(r1h, q1)
		right[ch] = linalg.Mul(r2, q2)
	}

	out := linalg.New(p.ndlys, p.ndlys)
	for i := 0; i < p.ndlys; i++ {
		for j := 0; j < p.ndlys; j++ {
			out.Set(i, j, linalg.TraceMul(left[i], right[j])/2)
		}
	}
	return out, nil
}

// npSinc is sin(pi x) / (pi x).
func npSinc(x float64) float64 {
	if x == 0 {
		return 1
	}
	return math.Sin(math.Pi*x) / (math.Pi * x)
}

// GAt returns G at time t.
func (p *PSpecData) GAt(key1, key2 uvdata.Key, t int, exactNorm bool, pol uvdata.Pol) (*linalg.Matrix, error) {
	k, err := p.responseKey("G", key1, key2, t, exactNorm, pol)
	if err != nil {
		return nil, err
	}
	return cache.Get(p.cache, cache.KindG, k, func() (*linalg.Matrix, error) {
		return p.response(key1, key2, t, exactNorm, pol, false)
	})
}

// HAt returns H at time t. Without sampling, the extended side is damped
// by the sinc kernel of integrated delay bins.
func (p *PSpecData) HAt(key1, key2 uvdata.Key, t int, sampling, exactNorm bool, pol uvdata.Pol) (*linalg.Matrix, error) {
	k, err := p.responseKey(fmt.Sprintf("H/%t", sampling), key1, key2, t, exactNorm, pol)
	if err != nil {
		return nil, err
	}
	return cache.Get(p.cache, cache.KindH, k, func() (*linalg.Matrix, error) {
		return p.response(key1, key2, t, exactNorm, pol, !sampling)
	})
}

// GetG returns G_ab = 1/2 tr(R1^H Q_a R2 Q_b) for every time. When every
// time yields an all-zero G, identities are returned instead.
func (p *PSpecData) GetG(key1, key2 uvdata.Key, exactNorm bool, pol uvdata.Pol) ([]*linalg.Matrix, error) {
	out, err := p.perTime(func(t int) (*linalg.Matrix, error) {
		return p.GAt(key1, key2, t, exactNorm, pol)
	})
	if err != nil {
		return nil, err
	}
	return p.identityIfZero(out, WarnIdentityG, key1, key2), nil
}

// GetH returns the response matrix H for every time, with the same
// all-zero substitution as GetG.
func (p *PSpecData) GetH(key1, key2 uvdata.Key, sampling, exactNorm bool, pol uvdata.Pol) ([]*linalg.Matrix, error) {
	out, err := p.perTime(func(t int) (*linalg.Matrix, error) {
		return p.HAt(key1, key2, t, sampling, exactNorm, pol)
	})
	if err != nil {
		return nil, err
	}
	return p.identityIfZero(out, WarnIdentityH, key1, key2), nil
}

func (p *PSpecData) perTime(fn func(t int) (*linalg.Matrix, error)) ([]*linalg.Matrix, error) {
	out := make([]*linalg.Matrix, p.Ntimes())
	for t := range out {
		m, err := fn(t)
		if err != nil {
			return nil, err
		}
		out[t] = m
	}
	return out, nil
}

func (p *PSpecData) identityIfZero(ms []*linalg.Matrix, kind WarningKind, key1, key2 uvdata.Key) []*linalg.Matrix {
	for _, m := range ms {
		if !m.IsZero() {
			return ms
		}
	}
	p.warn(kind, "response matrix is zero at every time, substituting the identity",
		slog.String("key1", key1.String()), slog.String("key2", key2.String()))
	out := make([]*linalg.Matrix, len(ms))
	for i := range out {
		out[i] = linalg.Identity(p.ndlys)
	}
	return out
}

// AverageTimes returns the mean of per-time matrices.
func AverageTimes(ms []*linalg.Matrix) (*linalg.Matrix, error) {
	if len(ms) == 0 {
		return nil, errors.New("oqe: no matrices to average")
	}
	out := ms[0].Copy()
	for _, m := range ms[1:] {
		out = linalg.Add(out, m)
	}
	return out.Scale(complex(1/float64(len(ms)), 0)), nil
}

// GetE returns the unnormalised E matrices 1/2 R1^H Q_a R2 at time t, one
// per delay, each over the extended window.
func (p *PSpecData) GetE(key1, key2 uvdata.Key, t int, exactNorm bool, pol uvdata.Pol) ([]*linalg.Matrix, error) {
	if t < 0 || t >= p.Ntimes() {
		return nil, NewConfigError("oqe: time index %d outside [0, %d)", t, p.Ntimes())
	}
	k, err := p.responseKey("E", key1, key2, t, exactNorm, pol)
	if err != nil {
		return nil, err
	}
	return cache.Get(p.cache, cache.KindE, k, func() ([]*linalg.Matrix, error) {
		r1s, err := p.R(key1)
		if err != nil {
			return nil, err
		}
		r2s, err := p.R(key2)
		if err != nil {
			return nil, err
		}
		var qnorm *linalg.Matrix
		if exactNorm {
			if qnorm, err = p.exactNormFactor(pol, false); err != nil {
				return nil, err
			}
		}
		r1h := r1s[t].H()
		out := make([]*linalg.Matrix, p.ndlys)
		for a := range out {
			q, err := p.QAlt(a, true, false)
			if err != nil {
				return nil, err
			}
			if exactNorm {
				q = linalg.Hadamard(q, qnorm)
			}
			out[a] = linalg.Mul(r1h, linalg.Mul(q, r2s[t])).Scale(0.5)
		}
		return out, nil
	})
}
