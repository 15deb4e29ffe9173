package beam

import (
	"fmt"
	"math"

	"github.com/roman-kulish/radio-pspec/internal/cosmo"
)

// Gaussian is a frequency independent Gaussian beam of full width at half
// maximum FWHM radians.
type Gaussian struct {
	base
	fwhm float64
}

var _ Provider = (*Gaussian)(nil)
var _ NormalizedResponder = (*Gaussian)(nil)

// NewGaussian returns a Gaussian beam defined at freqs. A nil cosmology uses
// the Planck15 default.
func NewGaussian(fwhm float64, freqs []float64, c *cosmo.Cosmology) (*Gaussian, error) {
	if fwhm <= 0 {
		return nil, fmt.Errorf("beam: fwhm must be positive: %g", fwhm)
	}
	if len(freqs) == 0 {
		return nil, fmt.Errorf("beam: no beam frequencies")
	}
	if c == nil {
		c = cosmo.Default()
	}
	return &Gaussian{base: base{freqs: append([]float64(nil), freqs...), cosmo: c}, fwhm: fwhm}, nil
}

// FWHM returns the beam width in radians.
func (g *Gaussian) FWHM() float64 { return g.fwhm }

// PowerBeamInt is 2 pi fwhm^2 / (8 ln 2) at every frequency.
func (g *Gaussian) PowerBeamInt(pol string) ([]float64, error) {
	if _, err := validatePol(pol); err != nil {
		return nil, err
	}
	return g.fill(2 * math.Pi * g.fwhm * g.fwhm / (8 * math.Ln2)), nil
}

// PowerBeamSqInt is pi fwhm^2 / (8 ln 2) at every frequency.
func (g *Gaussian) PowerBeamSqInt(pol string) ([]float64, error) {
	if _, err := validatePol(pol); err != nil {
		return nil, err
	}
	return g.fill(math.Pi * g.fwhm * g.fwhm / (8 * math.Ln2)), nil
}

func (g *Gaussian) fill(v float64) []float64 {
	out := make([]float64, len(g.freqs))
	for i := range out {
		out[i] = v
	}
	return out
}

func (g *Gaussian) ComputePSpecScalar(p ScalarParams) (float64, error) {
	return computeScalar(g, p)
}

func (g *Gaussian) JyToMK(freqs []float64, pol string) ([]float64, error) {
	return jyToMK(g, freqs, pol)
}

// GaussianNside is the pixelisation used for the normalised response.
const GaussianNside = 16

// BeamNormalizedResponse evaluates the power beam on 12 nside^2 equal area
// pixels. The beam is azimuthally symmetric, so pixels are equal-width rings
// in cos(theta). The horizon is masked.
func (g *Gaussian) BeamNormalizedResponse(pol string, freqs []float64) ([][]float64, []float64, int, error) {
	if _, err := validatePol(pol); err != nil {
		return nil, nil, 0, err
	}
	nside := GaussianNside
	npix := 12 * nside * nside
	sigma := g.fwhm / math.Sqrt(8*math.Ln2)
	pixArea := 4 * math.Pi / float64(npix)

	pix := make([]float64, npix)
	var omega float64
	for i := range pix {
		// z = cos(theta) spaced uniformly on (-1, 1)
		z := 1 - (2*float64(i)+1)/float64(npix)
		if z <= 0 {
			continue
		}
		theta := math.Acos(z)
		pix[i] = math.Exp(-theta * theta / (2 * sigma * sigma))
		omega += pix[i] * pixArea
	}

	resp := make([][]float64, len(freqs))
	omegas := make([]float64, len(freqs))
	for f := range freqs {
		resp[f] = pix
		omegas[f] = omega
	}
	return resp, omegas, nside, nil
}
