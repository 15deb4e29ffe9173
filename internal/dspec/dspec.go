// Package dspec builds the delay-domain filtering operators used by the
// dayenu, DFT and DPSS data weightings.
package dspec

import (
	"errors"
	"fmt"
	"math"
	"math/cmplx"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/roman-kulish/radio-pspec/internal/linalg"
)

// ErrFilterParams reports malformed filter windows.
var ErrFilterParams = errors.New("dspec: inconsistent filter parameters")

// Filter describes a set of delay filter windows. Centers, HalfWidths and
// Factors are parallel slices in seconds (or the reciprocal of the x units).
type Filter struct {
	Centers    []float64
	HalfWidths []float64
	Factors    []float64
}

// Validate reports whether the filter windows are consistently sized.
func (f Filter) Validate() error {
	if len(f.Centers) == 0 {
		return fmt.Errorf("%w: no filter centers", ErrFilterParams)
	}
	if len(f.Centers) != len(f.HalfWidths) || len(f.Centers) != len(f.Factors) {
		return fmt.Errorf("%w: %d centers, %d half widths, %d factors",
			ErrFilterParams, len(f.Centers), len(f.HalfWidths), len(f.Factors))
	}
	for _, fw := range f.HalfWidths {
		if fw < 0 {
			return fmt.Errorf("%w: negative half width %g", ErrFilterParams, fw)
		}
	}
	return nil
}

// centre returns x[round(len(x)/2)], the reference point for modulation.
func centre(x []float64) float64 {
	return x[int(math.RoundToEven(float64(len(x))/2))%len(x)]
}

func sinc(x float64) float64 {
	if x == 0 {
		return 1
	}
	return math.Sin(math.Pi*x) / (math.Pi * x)
}

// DayenuCovariance returns the regularised foreground covariance
//
//	I + sum_k sinc(2 (xi - xj) fw_k) exp(-2 pi i (xi - xj) fc_k) / ff_k
//
// whose pseudo-inverse is the dayenu filter. Windows with a zero factor are
// skipped.
func DayenuCovariance(x []float64, f Filter) (*linalg.Matrix, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	n := len(x)
	c := linalg.Identity(n)
	for k, fc := range f.Centers {
		fw, ff := f.HalfWidths[k], f.Factors[k]
		if ff == 0 {
			continue
		}
		for i := 0; i < n; i++ {
			for j := 0; j < n; j++ {
				dx := x[i] - x[j]
				v := complex(sinc(2*dx*fw)/ff, 0) * cmplx.Exp(complex(0, -2*math.Pi*dx*fc))
				c.Set(i, j, c.At(i, j)+v)
			}
		}
	}
	return c, nil
}

// DFTOperator returns the Fourier design matrix with 2*ceil(fw*period)
// columns per window, column k of window w being
// exp(2 pi i (fc + k/period) (x - xc)) for k in [-nterms, nterms).
// A non-positive period defaults to twice the span of x.
func DFTOperator(x []float64, f Filter, period float64) (*linalg.Matrix, []int, error) {
	if err := f.Validate(); err != nil {
		return nil, nil, err
	}
	if len(x) == 0 {
		return nil, nil, fmt.Errorf("%w: empty axis", ErrFilterParams)
	}
	if period <= 0 || math.IsNaN(period) {
		lo, hi := x[0], x[0]
		for _, v := range x {
			lo, hi = math.Min(lo, v), math.Max(hi, v)
		}
		period = 2 * (hi - lo)
	}
	xc := centre(x)

	nterms := make([]int, len(f.Centers))
	var total int
	for k, fw := range f.HalfWidths {
		nterms[k] = 2 * int(math.Ceil(fw*period))
		total += nterms[k]
	}

	a := linalg.New(len(x), total)
	col := 0
	for w, fc := range f.Centers {
		half := nterms[w] / 2
		for k := -half; k < half; k++ {
			freq := fc + float64(k)/period
			for i, xi := range x {
				a.Set(i, col, cmplx.Exp(complex(0, 2*math.Pi*freq*(xi-xc))))
			}
			col++
		}
	}
	return a, nterms, nil
}

// DPSSOperator returns the discrete prolate spheroidal design matrix. For each
// window the Slepian sequences with concentration above cutoff are kept and
// modulated to the window centre. The concentration half bandwidth of window
// k is fw_k * dx where dx is the mean spacing of x.
func DPSSOperator(x []float64, f Filter, cutoff float64) (*linalg.Matrix, []int, error) {
	if err := f.Validate(); err != nil {
		return nil, nil, err
	}
	n := len(x)
	if n < 2 {
		return nil, nil, fmt.Errorf("%w: need at least two samples", ErrFilterParams)
	}
	dx := (x[n-1] - x[0]) / float64(n-1)
	xc := centre(x)

	var cols [][]complex128
	nterms := make([]int, len(f.Centers))
	for w, fc := range f.Centers {
		seqs, err := slepians(n, math.Abs(f.HalfWidths[w]*dx), cutoff)
		if err != nil {
			return nil, nil, err
		}
		nterms[w] = len(seqs)
		for _, s := range seqs {
			c := make([]complex128, n)
			for i := range c {
				c[i] = complex(s[i], 0) * cmplx.Exp(complex(0, 2*math.Pi*fc*(x[i]-xc)))
			}
			cols = append(cols, c)
		}
	}

	a := linalg.New(n, len(cols))
	for j, c := range cols {
		a.SetCol(j, c)
	}
	return a, nterms, nil
}

// slepians returns the unit-norm eigenvectors of the prolate matrix
// sin(2 pi W (i-j)) / (pi (i-j)) whose eigenvalue exceeds cutoff, in
// descending eigenvalue order.
func slepians(n int, halfBandwidth, cutoff float64) ([][]float64, error) {
	k := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		k.SetSym(i, i, 2*halfBandwidth)
		for j := i + 1; j < n; j++ {
			d := float64(i - j)
			k.SetSym(i, j, math.Sin(2*math.Pi*halfBandwidth*d)/(math.Pi*d))
		}
	}

	var es mat.EigenSym
	if ok := es.Factorize(k, true); !ok {
		return nil, fmt.Errorf("dspec: prolate eigen-decomposition failed (n=%d, W=%g)", n, halfBandwidth)
	}
	vals := es.Values(nil)
	var vecs mat.Dense
	es.VectorsTo(&vecs)

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool { return vals[order[a]] > vals[order[b]] })

	var out [][]float64
	for _, idx := range order {
		if vals[idx] < cutoff {
			break
		}
		v := mat.Col(nil, idx, &vecs)
		// sign convention: positive sum, or positive leading lobe when antisymmetric
		var s float64
		for _, e := range v {
			s += e
		}
		if math.Abs(s) < 1e-9 {
			for _, e := range v {
				if math.Abs(e) > 1e-9 {
					s = e
					break
				}
			}
		}
		if s < 0 {
			for i := range v {
				v[i] = -v[i]
			}
		}
		out = append(out, v)
	}
	return out, nil
}

// FitSolution returns the weighted least squares solution operator
// (A^H W A)^-1 A^H W for W = diag(w). The boolean reports whether the normal
// matrix was singular and its pseudo-inverse was used instead.
func FitSolution(a *linalg.Matrix, w []float64) (*linalg.Matrix, bool, error) {
	n, _ := a.Dims()
	if len(w) != n {
		return nil, false, fmt.Errorf("%w: %d weights for %d rows", ErrFilterParams, len(w), n)
	}
	ahw := scaleCols(a.H(), w)
	lhs := linalg.Mul(ahw, a)
	inv, fallback, err := linalg.InverseOrPinv(lhs)
	if err != nil {
		return nil, fallback, fmt.Errorf("dspec: fit normal matrix: %w", err)
	}
	return linalg.Mul(inv, ahw), fallback, nil
}

// scaleCols multiplies column j of m by w[j].
func scaleCols(m *linalg.Matrix, w []float64) *linalg.Matrix {
	rows, cols := m.Dims()
	out := m.Copy()
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			out.Set(i, j, m.At(i, j)*complex(w[j], 0))
		}
	}
	return out
}

// SuppressionVector returns 1 - factor for every fitted mode, repeated
// nterms[k] times for window k.
func SuppressionVector(factors []float64, nterms []int) []complex128 {
	var out []complex128
	for k, nt := range nterms {
		for i := 0; i < nt; i++ {
			out = append(out, complex(1-factors[k], 0))
		}
	}
	return out
}
