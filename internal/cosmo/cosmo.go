// Package cosmo converts between instrumental and cosmological coordinates
// for the redshifted 21 cm line.
//
// Defaults are Planck 2015 TT,TE,EE+lowP. Distance measures follow Hogg
// (1999) and Furlanetto et al. (2006).
package cosmo

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/integrate/quad"
)

const (
	// C is the speed of light in m/s.
	C = 2.99792458e8
	// CKm is the speed of light in km/s.
	CKm = C / 1e3
	// KB is the Boltzmann constant in J/K.
	KB = 1.38064852e-23
	// F21 is the rest frequency of the 21 cm transition in Hz.
	F21 = 1.420405751e9
	// W21 is the rest wavelength of the 21 cm transition in m.
	W21 = 0.211061140542

	// CCgs is the speed of light in cm/s.
	CCgs = 2.99792458e10
	// KBCgs is the Boltzmann constant in erg/K.
	KBCgs = 1.38064852e-16

	quadPoints = 256
)

// ErrInvalidParams reports unphysical cosmological parameters.
var ErrInvalidParams = errors.New("cosmo: invalid cosmological parameters")

// Params are the density parameters at z=0 and the Hubble constant in
// km/s/Mpc. OmM and OmK are derived when zero.
type Params struct {
	OmL float64 `yaml:"omL" json:"om_L"`
	OmB float64 `yaml:"omB" json:"om_b"`
	OmC float64 `yaml:"omC" json:"om_c"`
	OmM float64 `yaml:"omM" json:"om_M"`
	OmK float64 `yaml:"omK" json:"om_k"`
	H0  float64 `yaml:"h0" json:"H0"`
}

// Planck15 returns the default parameter set.
func Planck15() Params {
	return Params{OmL: 0.68440, OmB: 0.04911, OmC: 0.26442, H0: 67.27}
}

// Validate reports unphysical parameters.
func (p Params) Validate() error {
	if p.H0 <= 0 {
		return fmt.Errorf("%w: H0 must be positive: %g", ErrInvalidParams, p.H0)
	}
	if p.OmL < 0 || p.OmB < 0 || p.OmC < 0 || p.OmM < 0 {
		return fmt.Errorf("%w: density parameters must not be negative", ErrInvalidParams)
	}
	return nil
}

// Cosmology is an immutable LambdaCDM conversion helper.
type Cosmology struct {
	p Params
	h float64
}

// New builds a Cosmology. When OmM is set and disagrees with OmB + OmC the
// baryon and dark matter fractions are rescaled to it; OmK defaults to the
// value that closes the universe.
func New(p Params) (*Cosmology, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if p.OmM != 0 {
		if math.Abs(p.OmB+p.OmC-p.OmM) > 1e-5 {
			p.OmB = p.OmM * 0.156635
			p.OmC = p.OmM * 0.843364
		}
	} else {
		p.OmM = p.OmB + p.OmC
	}
	if p.OmK == 0 {
		p.OmK = 1 - p.OmL - p.OmM
	}
	return &Cosmology{p: p, h: p.H0 / 100}, nil
}

// Default returns the Planck15 cosmology.
func Default() *Cosmology {
	c, err := New(Planck15())
	if err != nil {
		panic(err)
	}
	return c
}

// Params returns the resolved parameters.
func (c *Cosmology) Params() Params { return c.p }

// LittleH returns H0 / 100.
func (c *Cosmology) LittleH() float64 { return c.h }

func (c *Cosmology) String() string {
	return fmt.Sprintf("Cosmology(Om_L=%.5f, Om_b=%.5f, Om_c=%.5f, Om_M=%.5f, Om_k=%.5f, H0=%.2f)",
		c.p.OmL, c.p.OmB, c.p.OmC, c.p.OmM, c.p.OmK, c.p.H0)
}

// F2Z converts an observed frequency in Hz to 21 cm redshift.
func F2Z(freq float64) float64 { return F21/freq - 1 }

// Z2F converts a 21 cm redshift to observed frequency in Hz.
func Z2F(z float64) float64 { return F21 / (z + 1) }

// E returns H(z) / H0.
func (c *Cosmology) E(z float64) float64 {
	zp := 1 + z
	return math.Sqrt(c.p.OmM*zp*zp*zp + c.p.OmK*zp*zp + c.p.OmL)
}

// hubbleDistance is c / H0 in Mpc, or h^-1 Mpc when littleH is set.
func (c *Cosmology) hubbleDistance(littleH bool) float64 {
	if littleH {
		return CKm / 100
	}
	return CKm / c.p.H0
}

// DC is the line-of-sight comoving distance.
func (c *Cosmology) DC(z float64, littleH bool) float64 {
	if z == 0 {
		return 0
	}
	integral := quad.Fixed(func(x float64) float64 { return 1 / c.E(x) }, 0, z, quadPoints, nil, 0)
	return integral * c.hubbleDistance(littleH)
}

// DM is the transverse comoving distance.
func (c *Cosmology) DM(z float64, littleH bool) float64 {
	dh := c.hubbleDistance(littleH)
	dc := c.DC(z, littleH)
	switch k := c.p.OmK; {
	case k > 0:
		return dh * math.Sinh(math.Sqrt(k)*dc/dh) / math.Sqrt(k)
	case k < 0:
		return dh * math.Sin(math.Sqrt(-k)*dc/dh) / math.Sqrt(-k)
	default:
		return dc
	}
}

// DA is the angular diameter distance.
func (c *Cosmology) DA(z float64, littleH bool) float64 {
	return c.DM(z, littleH) / (1 + z)
}

// DRperpDtheta converts an angle in radians to transverse comoving distance.
func (c *Cosmology) DRperpDtheta(z float64, littleH bool) float64 {
	return c.DM(z, littleH)
}

// DRparaDf converts a frequency interval in Hz to radial comoving distance.
func (c *Cosmology) DRparaDf(z float64, littleH bool) float64 {
	zp := 1 + z
	return zp * zp / c.E(z) * c.hubbleDistance(littleH) / F21
}

// X2Y converts radians^2 Hz to comoving volume.
func (c *Cosmology) X2Y(z float64, littleH bool) float64 {
	dm := c.DRperpDtheta(z, littleH)
	return dm * dm * c.DRparaDf(z, littleH)
}

// BlToKperp converts a baseline length in metres to k_perp per metre at z.
func (c *Cosmology) BlToKperp(z float64, littleH bool) float64 {
	lambda := C / Z2F(z)
	return 2 * math.Pi / (c.DRperpDtheta(z, littleH) * lambda)
}

// TauToKpara converts a delay in seconds to k_parallel per second at z.
func (c *Cosmology) TauToKpara(z float64, littleH bool) float64 {
	return 2 * math.Pi / c.DRparaDf(z, littleH)
}
