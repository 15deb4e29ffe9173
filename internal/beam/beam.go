// Package beam provides primary beam models and the power spectrum
// normalisation scalar derived from their solid angle integrals.
package beam

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"gonum.org/v1/gonum/integrate"
	"gonum.org/v1/gonum/interp"

	"github.com/roman-kulish/radio-pspec/internal/cosmo"
	"github.com/roman-kulish/radio-pspec/internal/taper"
)

// DefaultNumSteps is the number of integration points used for the scalar.
const DefaultNumSteps = 2000

var (
	// ErrUnknownPol is returned for a polarisation the beam does not carry.
	ErrUnknownPol = errors.New("beam: unknown polarization")

	// ErrOutOfBand is returned when frequencies fall outside the beam model.
	ErrOutOfBand = errors.New("beam: frequency outside beam model range")

	allowedPols = map[string]struct{}{
		"I": {}, "Q": {}, "U": {}, "V": {},
		"XX": {}, "YY": {}, "XY": {}, "YX": {},
	}
)

// Provider supplies beam solid angle integrals per polarisation together
// with the derived normalisation quantities.
type Provider interface {
	// BeamFreqs returns the frequencies (Hz) at which the integrals are tabulated.
	BeamFreqs() []float64

	// PowerBeamInt returns Omega_P, the beam integrated over solid angle.
	PowerBeamInt(pol string) ([]float64, error)

	// PowerBeamSqInt returns Omega_PP, the squared beam integrated over solid angle.
	PowerBeamSqInt(pol string) ([]float64, error)

	// ComputePSpecScalar returns the factor converting telescope units into
	// cosmological volume units.
	ComputePSpecScalar(p ScalarParams) (float64, error)

	// JyToMK returns the Jy to mK conversion at each frequency.
	JyToMK(freqs []float64, pol string) ([]float64, error)

	// Cosmology returns the cosmology used by the conversions.
	Cosmology() *cosmo.Cosmology
}

// NormalizedResponder is implemented by beams that can evaluate their sky
// response on an equal-area pixelisation. Exact normalisation uses it to
// build the spectral beam integral.
type NormalizedResponder interface {
	// BeamNormalizedResponse returns the response [Nfreqs][Npix], the beam
	// area per frequency and the resolution parameter nside, with
	// Npix = 12 nside^2.
	BeamNormalizedResponse(pol string, freqs []float64) (resp [][]float64, omega []float64, nside int, err error)
}

// ScalarParams parameterise ComputePSpecScalar.
type ScalarParams struct {
	// Lower and Upper are the band edges in Hz.
	Lower, Upper float64
	// NumFreqs is the number of channels in the band.
	NumFreqs int
	Pol      string
	Taper    taper.Window
	LittleH  bool
	// ExactNorm returns the band averaged X2Y only, as beam and taper are
	// then carried by the estimator itself.
	ExactNorm bool
	// NoiseScalar computes the noise power scalar instead.
	NoiseScalar bool
	NumSteps    int
}

// NormalizePol maps pseudo-Stokes aliases onto the beam polarisation names
// and upper-cases the result.
func NormalizePol(pol string) string {
	p := strings.ToUpper(pol)
	if strings.HasPrefix(p, "P") && len(p) == 2 {
		return p[1:]
	}
	return p
}

func validatePol(pol string) (string, error) {
	p := NormalizePol(pol)
	if _, ok := allowedPols[p]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownPol, pol)
	}
	return p, nil
}

// base carries the shared frequency grid and cosmology.
type base struct {
	freqs []float64
	cosmo *cosmo.Cosmology
}

func (b *base) BeamFreqs() []float64 { return b.freqs }

func (b *base) Cosmology() *cosmo.Cosmology { return b.cosmo }

// computeScalar integrates (taper^2 / Bp^2) (Omega_PP / Omega_P^2) / X2Y
// over the band and returns its inverse.
func computeScalar(p Provider, sp ScalarParams) (float64, error) {
	if sp.NumFreqs < 1 {
		return 0, fmt.Errorf("beam: scalar needs at least one frequency, got %d", sp.NumFreqs)
	}
	if err := sp.Taper.Validate(); err != nil {
		return 0, err
	}
	if sp.NumSteps < 2 {
		sp.NumSteps = DefaultNumSteps
	}

	pspecFreqs := make([]float64, sp.NumFreqs)
	step := (sp.Upper - sp.Lower) / float64(sp.NumFreqs)
	for i := range pspecFreqs {
		pspecFreqs[i] = sp.Lower + float64(i)*step
	}
	df := step
	if sp.NumFreqs > 1 {
		df = pspecFreqs[1] - pspecFreqs[0]
	}

	// integration grid spans [f0, f0 + df*N] inclusive
	span := df * float64(sp.NumFreqs)
	xs := make([]float64, sp.NumSteps)
	for i := range xs {
		xs[i] = pspecFreqs[0] + span*float64(i)/float64(sp.NumSteps-1)
	}

	c := p.Cosmology()
	x2y := make([]float64, len(xs))
	for i, f := range xs {
		x2y[i] = c.X2Y(cosmo.F2Z(f), sp.LittleH)
	}

	if sp.ExactNorm {
		return integrate.Trapezoidal(xs, x2y) / math.Abs(xs[len(xs)-1]-xs[0]), nil
	}

	pol, err := validatePol(sp.Pol)
	if err != nil {
		return 0, err
	}
	op, err := p.PowerBeamInt(pol)
	if err != nil {
		return 0, err
	}
	opp, err := p.PowerBeamSqInt(pol)
	if err != nil {
		return 0, err
	}
	ratio := make([]float64, len(op))
	for i := range op {
		ratio[i] = opp[i] / (op[i] * op[i])
	}

	// interpolation is better conditioned in MHz
	beamMHz := make([]float64, len(p.BeamFreqs()))
	for i, f := range p.BeamFreqs() {
		beamMHz[i] = f / 1e6
	}
	predict, err := fitter(beamMHz, ratio)
	if err != nil {
		return 0, fmt.Errorf("beam: interpolating omega ratio: %w", err)
	}

	bppOverBpSq := make([]float64, len(xs))
	if sp.Taper.IsNone() {
		for i := range bppOverBpSq {
			bppOverBpSq[i] = 1
		}
	} else {
		w, err := taper.Generate(sp.Taper, sp.NumFreqs, taper.NormalizationNone)
		if err != nil {
			return 0, err
		}
		for i, f := range xs {
			j := int(math.Round((f - pspecFreqs[0]) / df))
			j = max(0, min(sp.NumFreqs-1, j))
			bppOverBpSq[i] = w[j] * w[j]
		}
	}
	bw := xs[len(xs)-1] - xs[0]
	for i := range bppOverBpSq {
		if sp.NoiseScalar {
			bppOverBpSq[i] = 1 / bw
		} else {
			bppOverBpSq[i] /= bw * bw
		}
	}

	integrand := make([]float64, len(xs))
	for i, f := range xs {
		integrand[i] = bppOverBpSq[i] * predict(f/1e6) / x2y[i]
	}
	return 1 / integrate.Trapezoidal(xs, integrand), nil
}

// jyToMK returns 1e-20 c^2 / (2 k_B nu^2 Omega_P) in cgs units.
func jyToMK(p Provider, freqs []float64, pol string) ([]float64, error) {
	pol, err := validatePol(pol)
	if err != nil {
		return nil, err
	}
	bf := p.BeamFreqs()
	lo, hi := bf[0], bf[len(bf)-1]
	for _, f := range freqs {
		if f < lo || f > hi {
			return nil, fmt.Errorf("%w: %g Hz not in [%g, %g]", ErrOutOfBand, f, lo, hi)
		}
	}
	op, err := p.PowerBeamInt(pol)
	if err != nil {
		return nil, err
	}
	mhz := make([]float64, len(bf))
	for i, f := range bf {
		mhz[i] = f / 1e6
	}
	predict, err := fitter(mhz, op)
	if err != nil {
		return nil, fmt.Errorf("beam: interpolating beam area: %w", err)
	}
	out := make([]float64, len(freqs))
	for i, f := range freqs {
		out[i] = 1e-20 * cosmo.CCgs * cosmo.CCgs / (2 * cosmo.KBCgs * f * f * predict(f/1e6))
	}
	return out, nil
}

// fitter returns a natural cubic spline through (xs, ys), or a piecewise
// linear one when there are fewer than three knots. A single knot gives a
// constant.
func fitter(xs, ys []float64) (func(float64) float64, error) {
	if len(xs) != len(ys) || len(xs) == 0 {
		return nil, fmt.Errorf("beam: %d knots for %d values", len(xs), len(ys))
	}
	if len(xs) == 1 {
		v := ys[0]
		return func(float64) float64 { return v }, nil
	}
	if !sort.Float64sAreSorted(xs) {
		return nil, errors.New("beam: beam frequencies must be increasing")
	}
	if len(xs) < 3 {
		var pl interp.PiecewiseLinear
		if err := pl.Fit(xs, ys); err != nil {
			return nil, err
		}
		return pl.Predict, nil
	}
	var nc interp.NaturalCubic
	if err := nc.Fit(xs, ys); err != nil {
		return nil, err
	}
	return nc.Predict, nil
}
