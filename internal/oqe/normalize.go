package oqe

import (
	"fmt"
	"log/slog"
	"math"
	"math/cmplx"

	"github.com/roman-kulish/radio-pspec/internal/beam"
	"github.com/roman-kulish/radio-pspec/internal/cache"
	"github.com/roman-kulish/radio-pspec/internal/linalg"
	"github.com/roman-kulish/radio-pspec/internal/taper"
	"github.com/roman-kulish/radio-pspec/internal/uvdata"
)

// NormParams select the normalisation of one key pair.
type NormParams struct {
	Mode      Norm
	Sampling  bool
	ExactNorm bool
	Pol       uvdata.Pol
	// CovModel feeds the V^-1/2 normalisation.
	CovModel CovModel
}

func (o NormParams) validate() error {
	if err := o.Mode.Validate(); err != nil {
		return NewConfigError("%s", err)
	}
	if o.Mode == NormLInv {
		return fmt.Errorf("%w: %s", ErrUnsupportedNorm, o.Mode)
	}
	if o.Mode != NormI && o.ExactNorm {
		return NewConfigError("oqe: exact normalization is supported only for the %s normalization, got %s", NormI, o.Mode)
	}
	return nil
}

func (p *PSpecData) normKey(kind string, key1, key2 uvdata.Key, t int, opts NormParams) (string, error) {
	b := p.stateKey(key1, key2).
		String(kind).String(string(opts.Mode)).String(string(opts.CovModel)).
		Bool(opts.Sampling).Bool(opts.ExactNorm).Int(int(opts.Pol), t)
	b, err := p.fingerprint(b, t, key1, key2)
	if err != nil {
		return "", err
	}
	return b.Key(), nil
}

// MAt returns the normalisation matrix of key1 and key2 at time t.
// Non-finite entries are zeroed.
func (p *PSpecData) MAt(key1, key2 uvdata.Key, t int, opts NormParams) (*linalg.Matrix, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	k, err := p.normKey("M", key1, key2, t, opts)
	if err != nil {
		return nil, err
	}
	return cache.Get(p.cache, cache.KindM, k, func() (*linalg.Matrix, error) {
		var m *linalg.Matrix
		switch opts.Mode {
		case NormI:
			g, err := p.GAt(key1, key2, t, opts.ExactNorm, opts.Pol)
			if err != nil {
				return nil, err
			}
			m = linalg.Diag(reciprocal(g.RowSums()))

		case NormHInv:
			h, err := p.HAt(key1, key2, t, false, opts.ExactNorm, opts.Pol)
			if err != nil {
				return nil, err
			}
			var fallback bool
			if m, fallback, err = linalg.InverseOrPinv(h); err != nil {
				return nil, fmt.Errorf("inverting H at time %d: %w", t, err)
			}
			if fallback {
				p.warn(WarnPinvFallback, "window function matrix is singular, using pseudo-inverse",
					slog.String("key1", key1.String()), slog.String("key2", key2.String()), slog.Int("time", t))
			}

		case NormVInvSq, NormHInvSq:
			h, err := p.HAt(key1, key2, t, opts.Sampling, opts.ExactNorm, opts.Pol)
			if err != nil {
				return nil, err
			}
			x := h
			if opts.Mode == NormVInvSq {
				if x, err = p.GetV(key1, key2, t, opts.CovModel, opts.ExactNorm, opts.Pol); err != nil {
					return nil, err
				}
			}
			if m, err = p.rootInverseNorm(x, h, t,
				slog.String("key1", key1.String()), slog.String("key2", key2.String())); err != nil {
				return nil, err
			}

		default:
			return nil, fmt.Errorf("%w: %s", ErrUnsupportedNorm, opts.Mode)
		}
		m.ZeroNonFinite()
		return m, nil
	})
}

// rootInverseNorm returns diag(1 / rowsum(X^-1/2 H)) X^-1/2.
func (p *PSpecData) rootInverseNorm(x, h *linalg.Matrix, t int, attrs ...any) (*linalg.Matrix, error) {
	xs, eig, err := linalg.HermitianFunc(linalg.HermitianPart(x), linalg.InvSqrt)
	if err != nil {
		return nil, fmt.Errorf("root inverse at time %d: %w", t, err)
	}
	for _, l := range eig {
		if l <= 0 {
			p.warn(WarnNonPositiveEigen, "at least one non-positive eigenvalue in the normalization matrix",
				append(attrs, slog.Int("time", t))...)
			break
		}
	}
	wn := reciprocal(linalg.Mul(xs, h).RowSums())
	return xs.ScaleRows(wn), nil
}

// WAt returns the window function matrix at time t. Its rows sum to one
// for the I and H^-1 normalisations.
func (p *PSpecData) WAt(key1, key2 uvdata.Key, t int, opts NormParams) (*linalg.Matrix, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	k, err := p.normKey("W", key1, key2, t, opts)
	if err != nil {
		return nil, err
	}
	return cache.Get(p.cache, cache.KindW, k, func() (*linalg.Matrix, error) {
		h, err := p.HAt(key1, key2, t, opts.Sampling, opts.ExactNorm, opts.Pol)
		if err != nil {
			return nil, err
		}
		var w *linalg.Matrix
		switch opts.Mode {
		case NormI:
			w = h.ScaleRows(reciprocal(h.RowSums()))
		default:
			m, err := p.MAt(key1, key2, t, opts)
			if err != nil {
				return nil, err
			}
			w = linalg.Mul(m, h)
			if opts.Mode == NormHInv {
				w = w.ScaleRows(reciprocal(w.RowSums()))
			}
		}
		w.ZeroNonFinite()
		return w, nil
	})
}

// GetM returns the normalisation matrices for every time.
func (p *PSpecData) GetM(key1, key2 uvdata.Key, opts NormParams) ([]*linalg.Matrix, error) {
	return p.perTime(func(t int) (*linalg.Matrix, error) {
		return p.MAt(key1, key2, t, opts)
	})
}

// GetW returns the window function matrices for every time.
func (p *PSpecData) GetW(key1, key2 uvdata.Key, opts NormParams) ([]*linalg.Matrix, error) {
	return p.perTime(func(t int) (*linalg.Matrix, error) {
		return p.WAt(key1, key2, t, opts)
	})
}

// GetMW builds M and W from precomputed G and H matrices and, for V^-1/2,
// the bandpower covariance, one entry per time.
func (p *PSpecData) GetMW(g, h []*linalg.Matrix, mode Norm, bandCov []*linalg.Matrix, exactNorm bool) ([]*linalg.Matrix, []*linalg.Matrix, error) {
	if err := (NormParams{Mode: mode, ExactNorm: exactNorm}).validate(); err != nil {
		return nil, nil, err
	}
	if len(g) != len(h) {
		return nil, nil, NewConfigError("oqe: %d G matrices for %d H matrices", len(g), len(h))
	}
	if mode == NormVInvSq && len(bandCov) != len(h) {
		return nil, nil, NewConfigError("oqe: %s normalization needs a covariance per time", mode)
	}

	ms := make([]*linalg.Matrix, len(h))
	ws := make([]*linalg.Matrix, len(h))
	for t := range h {
		var m, w *linalg.Matrix
		var err error
		switch mode {
		case NormI:
			m = linalg.Diag(reciprocal(g[t].RowSums()))
			w = h[t].ScaleRows(reciprocal(h[t].RowSums()))
		case NormHInv:
			var fallback bool
			if m, fallback, err = linalg.InverseOrPinv(h[t]); err != nil {
				return nil, nil, err
			}
			if fallback {
				p.warn(WarnPinvFallback, "window function matrix is singular, using pseudo-inverse", slog.Int("time", t))
			}
			w = linalg.Mul(m, h[t])
			w = w.ScaleRows(reciprocal(w.RowSums()))
		case NormVInvSq, NormHInvSq:
			x := h[t]
			if mode == NormVInvSq {
				x = bandCov[t]
			}
			if m, err = p.rootInverseNorm(x, h[t], t); err != nil {
				return nil, nil, err
			}
			w = linalg.Mul(m, h[t])
		}
		m.ZeroNonFinite()
		w.ZeroNonFinite()
		ms[t], ws[t] = m, w
	}
	return ms, ws, nil
}

// PHat returns the normalised bandpowers M_t q_t, shaped (Ndlys, Ntimes).
func PHat(m []*linalg.Matrix, q *linalg.Matrix) (*linalg.Matrix, error) {
	nd, nt := q.Dims()
	if len(m) != nt {
		return nil, NewConfigError("oqe: %d normalization matrices for %d times", len(m), nt)
	}
	out := linalg.New(nd, nt)
	for t := 0; t < nt; t++ {
		out.SetCol(t, m[t].MulVec(q.Col(t)))
	}
	return out, nil
}

// ScalarDelayAdjustment returns the wide delay bin correction
// Ndlys / (Nfreqs ratio), ratio = rowsum(H) / rowsum(G), per delay. With a
// taper the result is scaled by the mean squared taper.
func (p *PSpecData) ScalarDelayAdjustment(g, h *linalg.Matrix) ([]float64, error) {
	gs, hs := g.RowSums(), h.RowSums()
	out := make([]float64, len(gs))
	for i := range out {
		ratio := real(hs[i]) / real(gs[i])
		if math.IsNaN(ratio) || math.IsInf(ratio, 0) {
			ratio = 1
		}
		out[i] = float64(p.ndlys) / (float64(p.spw.Len()) * ratio)
	}
	if !p.taper.IsNone() {
		tv, err := taper.Generate(p.taper, p.spw.Len(), taper.NormalizationNone)
		if err != nil {
			return nil, err
		}
		var msq float64
		for _, v := range tv {
			msq += v * v
		}
		msq /= float64(len(tv))
		for i := range out {
			out[i] *= msq
		}
	}
	return out, nil
}

// Scalar returns the factor converting the bandpowers of polpair into
// cosmological units over the current window. An empty taperOverride
// keeps the configured taper.
func (p *PSpecData) Scalar(polpair [2]uvdata.Pol, littleH bool, taperOverride taper.Window, exactNorm bool) (float64, error) {
	if p.beam == nil {
		return 0, NewConfigError("oqe: no beam configured, cannot compute the normalization scalar")
	}
	if polpair[0] != polpair[1] {
		return 0, NewConfigError("oqe: beam scalar can only be calculated for matching polarizations, got %s and %s", polpair[0], polpair[1])
	}
	freqs := p.Freqs()[p.spw.Start:p.spw.End]
	dnu := 0.0
	if len(freqs) > 1 {
		diffs := make([]float64, len(freqs)-1)
		for i := range diffs {
			diffs[i] = freqs[i+1] - freqs[i]
		}
		dnu = median(diffs)
	}
	tw := p.taper
	if taperOverride != "" {
		tw = taperOverride
	}
	return p.beam.ComputePSpecScalar(beam.ScalarParams{
		Lower:     freqs[0],
		Upper:     freqs[0] + dnu*float64(len(freqs)),
		NumFreqs:  len(freqs),
		Pol:       polpair[0].String(),
		Taper:     tw,
		LittleH:   littleH,
		ExactNorm: exactNorm,
		NumSteps:  beam.DefaultNumSteps,
	})
}

func reciprocal(v []complex128) []complex128 {
	out := make([]complex128, len(v))
	for i, x := range v {
		out[i] = 1 / x
		if cmplx.IsNaN(out[i]) || cmplx.IsInf(out[i]) {
			out[i] = 0
		}
	}
	return out
}
