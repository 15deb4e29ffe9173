package oqe

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	WeightingIdentity     Weighting = "identity"
	WeightingIC           Weighting = "iC"
	WeightingDayenu       Weighting = "dayenu"
	WeightingDayenuDFT    Weighting = "dayenu_dft"
	WeightingDayenuDPSS   Weighting = "dayenu_dpss"
	WeightingDFTInterp    Weighting = "dft_interp"
	WeightingDPSSInterp   Weighting = "dpss_interp"
	WeightingDFTSubtract  Weighting = "dft_subtract"
	WeightingDPSSSubtract Weighting = "dpss_subtract"

	NormI      Norm = "I"
	NormHInv   Norm = "H^-1"
	NormVInvSq Norm = "V^-1/2"
	NormHInvSq Norm = "H^-1/2"
	NormLInv   Norm = "L^-1"

	CovEmpirical      CovModel = "empirical"
	CovDsets          CovModel = "dsets"
	CovEmpiricalPSpec CovModel = "empirical_pspec"
)

var (
	validWeightings = map[Weighting]struct{}{
		WeightingIdentity:     {},
		WeightingIC:           {},
		WeightingDayenu:       {},
		WeightingDayenuDFT:    {},
		WeightingDayenuDPSS:   {},
		WeightingDFTInterp:    {},
		WeightingDPSSInterp:   {},
		WeightingDFTSubtract:  {},
		WeightingDPSSSubtract: {},
	}

	validNorms = map[Norm]struct{}{
		NormI:      {},
		NormHInv:   {},
		NormVInvSq: {},
		NormHInvSq: {},
		NormLInv:   {},
	}

	validCovModels = map[CovModel]struct{}{
		CovEmpirical:      {},
		CovDsets:          {},
		CovEmpiricalPSpec: {},
	}
)

// Weighting selects the kernel K of the data weighting matrix R.
type Weighting string

func (w Weighting) String() string {
	return string(w)
}

func (w Weighting) Validate() error {
	if _, ok := validWeightings[w]; !ok {
		return fmt.Errorf("oqe.Weighting: invalid data weighting %q", string(w))
	}
	return nil
}

// NeedsRParams reports whether the mode is configured by per-baseline
// filter parameters.
func (w Weighting) NeedsRParams() bool {
	return w != WeightingIdentity && w != WeightingIC
}

// family returns the leading part of a compound mode, e.g. "dayenu" for
// dayenu_dft, and the trailing part ("dft"), which is empty for plain modes.
func (w Weighting) family() (string, string) {
	head, tail, _ := strings.Cut(string(w), "_")
	return head, tail
}

func (w *Weighting) UnmarshalYAML(value *yaml.Node) error {
	v := Weighting(value.Value)
	if err := v.Validate(); err != nil {
		return err
	}
	*w = v
	return nil
}

// Norm selects the normalisation matrix M.
type Norm string

func (n Norm) String() string {
	return string(n)
}

func (n Norm) Validate() error {
	if _, ok := validNorms[n]; !ok {
		return fmt.Errorf("oqe.Norm: invalid normalization %q", string(n))
	}
	return nil
}

func (n *Norm) UnmarshalYAML(value *yaml.Node) error {
	v := Norm(value.Value)
	if err := v.Validate(); err != nil {
		return err
	}
	*n = v
	return nil
}

// CovModel selects how visibility covariances are estimated.
type CovModel string

func (c CovModel) String() string {
	return string(c)
}

func (c CovModel) Validate() error {
	if _, ok := validCovModels[c]; !ok {
		return fmt.Errorf("oqe.CovModel: invalid covariance model %q", string(c))
	}
	return nil
}

func (c *CovModel) UnmarshalYAML(value *yaml.Node) error {
	v := CovModel(value.Value)
	if err := v.Validate(); err != nil {
		return err
	}
	*c = v
	return nil
}

// RParams configure the filtering weightings of one baseline.
type RParams struct {
	FilterCenters    []float64 `yaml:"filterCenters" json:"filter_centers"`
	FilterHalfWidths []float64 `yaml:"filterHalfWidths" json:"filter_half_widths"`
	FilterFactors    []float64 `yaml:"filterFactors" json:"filter_factors"`
	// FundamentalPeriod is required by the dft modes.
	FundamentalPeriod float64 `yaml:"fundamentalPeriod,omitempty" json:"fundamental_period,omitempty"`
	// EigenvalCutoff is required by the dpss modes.
	EigenvalCutoff float64 `yaml:"eigenvalCutoff,omitempty" json:"eigenval_cutoff,omitempty"`
}
