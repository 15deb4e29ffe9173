package beam

import (
	"fmt"
	"sort"
	"strings"

	"github.com/roman-kulish/radio-pspec/internal/cosmo"
)

// Tabulated is a beam defined by user supplied Omega_P and Omega_PP arrays
// per polarisation.
type Tabulated struct {
	base
	omegaP  map[string][]float64
	omegaPP map[string][]float64
}

var _ Provider = (*Tabulated)(nil)

// NewTabulated returns an empty tabulated beam over freqs; add
// polarisations with AddPol.
func NewTabulated(freqs []float64, c *cosmo.Cosmology) (*Tabulated, error) {
	if len(freqs) == 0 {
		return nil, fmt.Errorf("beam: no beam frequencies")
	}
	if !sort.Float64sAreSorted(freqs) {
		return nil, fmt.Errorf("beam: beam frequencies must be increasing")
	}
	if c == nil {
		c = cosmo.Default()
	}
	return &Tabulated{
		base:    base{freqs: append([]float64(nil), freqs...), cosmo: c},
		omegaP:  make(map[string][]float64),
		omegaPP: make(map[string][]float64),
	}, nil
}

// AddPol stores the integrals for pol, replacing any existing arrays.
func (t *Tabulated) AddPol(pol string, omegaP, omegaPP []float64) error {
	p, err := validatePol(pol)
	if err != nil {
		return err
	}
	if len(omegaP) != len(t.freqs) || len(omegaPP) != len(t.freqs) {
		return fmt.Errorf("beam: OmegaP (%d) and OmegaPP (%d) must match beam frequencies (%d)",
			len(omegaP), len(omegaPP), len(t.freqs))
	}
	t.omegaP[p] = append([]float64(nil), omegaP...)
	t.omegaPP[p] = append([]float64(nil), omegaPP...)
	return nil
}

// Pols returns the stored polarisations in sorted order.
func (t *Tabulated) Pols() []string {
	out := make([]string, 0, len(t.omegaP))
	for p := range t.omegaP {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func (t *Tabulated) lookup(m map[string][]float64, name, pol string) ([]float64, error) {
	p, err := validatePol(pol)
	if err != nil {
		return nil, err
	}
	v, ok := m[p]
	if !ok {
		return nil, fmt.Errorf("%w: %s not specified for %q, available: %s",
			ErrUnknownPol, name, pol, strings.Join(t.Pols(), ", "))
	}
	return v, nil
}

func (t *Tabulated) PowerBeamInt(pol string) ([]float64, error) {
	return t.lookup(t.omegaP, "OmegaP", pol)
}

func (t *Tabulated) PowerBeamSqInt(pol string) ([]float64, error) {
	return t.lookup(t.omegaPP, "OmegaPP", pol)
}

func (t *Tabulated) ComputePSpecScalar(p ScalarParams) (float64, error) {
	return computeScalar(t, p)
}

func (t *Tabulated) JyToMK(freqs []float64, pol string) ([]float64, error) {
	return jyToMK(t, freqs, pol)
}

func (t *Tabulated) String() string {
	return fmt.Sprintf("Tabulated beam: %.4e - %.4e Hz, pols [%s]",
		t.freqs[0], t.freqs[len(t.freqs)-1], strings.Join(t.Pols(), ", "))
}
