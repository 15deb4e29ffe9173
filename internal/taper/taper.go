// Package taper generates the apodisation windows applied along the frequency
// axis before the delay transform.
package taper

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
	"gopkg.in/yaml.v3"
)

const (
	// WindowNone is the default window and applies no tapering.
	WindowNone           Window = "none"
	WindowBlackman       Window = "blackman"
	WindowBlackmanHarris Window = "blackman-harris"
	WindowBH7            Window = "bh7"
	WindowHann           Window = "hann"
	WindowHamming        Window = "hamming"
	WindowTukey          Window = "tukey"
	WindowBartlett       Window = "bartlett"

	// NormalizationNone leaves the window as generated.
	NormalizationNone Normalization = "none"
	// NormalizationRMS divides the window by its root mean square.
	NormalizationRMS Normalization = "rms"
	// NormalizationMean divides the window by its mean.
	NormalizationMean Normalization = "mean"

	tukeyAlpha = 0.5
)

var (
	validWindows = map[Window]struct{}{
		WindowNone:           {},
		WindowBlackman:       {},
		WindowBlackmanHarris: {},
		WindowBH7:            {},
		WindowHann:           {},
		WindowHamming:        {},
		WindowTukey:          {},
		WindowBartlett:       {},
	}

	validNormalizations = map[Normalization]struct{}{
		NormalizationNone: {},
		NormalizationRMS:  {},
		NormalizationMean: {},
	}

	// Cosine-sum coefficients, a0 - a1 cos + a2 cos - ...
	blackmanCoeffs       = []float64{0.42, 0.5, 0.08}
	blackmanHarrisCoeffs = []float64{0.35875, 0.48829, 0.14128, 0.01168}
	bh7Coeffs            = []float64{
		0.2712203606, 0.4334446123, 0.21800412, 0.0657853433,
		0.0107618673, 0.0007700127, 0.00001368088,
	}
	hannCoeffs    = []float64{0.5, 0.5}
	hammingCoeffs = []float64{0.54, 0.46}
)

// Window names a tapering function.
type Window string

func (w Window) String() string {
	return string(w)
}

// IsNone reports whether w applies no tapering.
func (w Window) IsNone() bool {
	return w == "" || w == WindowNone
}

// Validate reports an error for an unknown window name.
func (w Window) Validate() error {
	if w == "" {
		return nil
	}
	if _, ok := validWindows[w]; !ok {
		return fmt.Errorf("taper.Window: invalid window: %s", w)
	}
	return nil
}

func (w *Window) UnmarshalYAML(value *yaml.Node) error {
	v := Window(value.Value)
	if err := v.Validate(); err != nil {
		return err
	}
	*w = v
	return nil
}

// Normalization selects how a generated window is rescaled.
type Normalization string

func (n Normalization) String() string {
	return string(n)
}

// Validate reports an error for an unknown normalisation.
func (n Normalization) Validate() error {
	if n == "" {
		return nil
	}
	if _, ok := validNormalizations[n]; !ok {
		return fmt.Errorf("taper.Normalization: invalid normalization: %s", n)
	}
	return nil
}

// Generate returns the n-point symmetric window w rescaled by norm.
func Generate(w Window, n int, norm Normalization) ([]float64, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}
	if err := norm.Validate(); err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, fmt.Errorf("taper: negative window length %d", n)
	}

	var out []float64
	switch w {
	case "", WindowNone:
		out = ones(n)
	case WindowBlackman:
		out = cosineSum(n, blackmanCoeffs)
	case WindowBlackmanHarris:
		out = cosineSum(n, blackmanHarrisCoeffs)
	case WindowBH7:
		out = cosineSum(n, bh7Coeffs)
	case WindowHann:
		out = cosineSum(n, hannCoeffs)
	case WindowHamming:
		out = cosineSum(n, hammingCoeffs)
	case WindowTukey:
		out = tukey(n, tukeyAlpha)
	case WindowBartlett:
		out = bartlett(n)
	}

	switch norm {
	case NormalizationRMS:
		if s := floats.Dot(out, out); s > 0 {
			floats.Scale(1/math.Sqrt(s/float64(n)), out)
		}
	case NormalizationMean:
		if mean := stat.Mean(out, nil); mean != 0 {
			floats.Scale(1/mean, out)
		}
	}
	return out, nil
}

// MustGenerate is Generate for windows already validated by the caller.
func MustGenerate(w Window, n int, norm Normalization) []float64 {
	out, err := Generate(w, n, norm)
	if err != nil {
		panic(err)
	}
	return out
}

func ones(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 1
	}
	return out
}

func cosineSum(n int, coeffs []float64) []float64 {
	if n == 1 {
		return []float64{1}
	}
	out := make([]float64, n)
	for i := range out {
		x := 2 * math.Pi * float64(i) / float64(n-1)
		sign := 1.0
		for k, a := range coeffs {
			out[i] += sign * a * math.Cos(float64(k)*x)
			sign = -sign
		}
	}
	return out
}

func tukey(n int, alpha float64) []float64 {
	if n == 1 {
		return []float64{1}
	}
	out := ones(n)
	width := int(math.Floor(alpha * float64(n-1) / 2))
	for i := 0; i <= width; i++ {
		v := 0.5 * (1 + math.Cos(math.Pi*(-1+2*float64(i)/alpha/float64(n-1))))
		out[i] = v
		out[n-1-i] = v
	}
	return out
}

func bartlett(n int) []float64 {
	if n == 1 {
		return []float64{1}
	}
	out := make([]float64, n)
	half := float64(n-1) / 2
	for i := range out {
		out[i] = 1 - math.Abs((float64(i)-half)/half)
	}
	return out
}
