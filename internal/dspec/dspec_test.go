package dspec

import (
	"errors"
	"math"
	"math/cmplx"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roman-kulish/radio-pspec/internal/linalg"
)

func freqAxis(n int) []float64 {
	x := make([]float64, n)
	for i := range x {
		x[i] = 150e6 + float64(i)*100e3
	}
	return x
}

func TestFilter_Validate(t *testing.T) {
	tests := []struct {
		name    string
		filter  Filter
		wantErr bool
	}{
		{"ok", Filter{Centers: []float64{0}, HalfWidths: []float64{1e-6}, Factors: []float64{1e-9}}, false},
		{"empty", Filter{}, true},
		{"length mismatch", Filter{Centers: []float64{0, 1}, HalfWidths: []float64{1e-6}, Factors: []float64{1e-9}}, true},
		{"negative width", Filter{Centers: []float64{0}, HalfWidths: []float64{-1}, Factors: []float64{1e-9}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.filter.Validate()
			if tt.wantErr {
				assert.True(t, errors.Is(err, ErrFilterParams))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDayenuCovariance(t *testing.T) {
	x := freqAxis(16)
	f := Filter{Centers: []float64{0}, HalfWidths: []float64{200e-9}, Factors: []float64{1e-9}}

	c, err := DayenuCovariance(x, f)
	require.NoError(t, err)

	assert.InDelta(t, 1+1e9, real(c.At(3, 3)), 1e-3)
	assert.True(t, linalg.EqualApprox(c, c.H(), 1e-12), "covariance must be Hermitian")

	t.Run("zero factor skipped", func(t *testing.T) {
		f := Filter{Centers: []float64{0}, HalfWidths: []float64{200e-9}, Factors: []float64{0}}
		c, err := DayenuCovariance(x, f)
		require.NoError(t, err)
		assert.True(t, linalg.EqualApprox(linalg.Identity(16), c, 0))
	})
}

func TestDFTOperator(t *testing.T) {
	x := freqAxis(20)
	f := Filter{Centers: []float64{0}, HalfWidths: []float64{1e-6}, Factors: []float64{1e-9}}
	period := 2 * (x[len(x)-1] - x[0])

	a, nterms, err := DFTOperator(x, f, period)
	require.NoError(t, err)
	require.Equal(t, []int{2 * int(math.Ceil(1e-6*period))}, nterms)

	r, c := a.Dims()
	assert.Equal(t, 20, r)
	assert.Equal(t, nterms[0], c)

	// column for k = 0 is flat
	k0 := nterms[0] / 2
	for i := 0; i < r; i++ {
		assert.InDelta(t, 0, cmplx.Abs(a.At(i, k0)-1), 1e-12)
	}
}

func TestDPSSOperator(t *testing.T) {
	x := freqAxis(32)
	f := Filter{Centers: []float64{0}, HalfWidths: []float64{500e-9}, Factors: []float64{1e-9}}

	a, nterms, err := DPSSOperator(x, f, 1e-9)
	require.NoError(t, err)
	require.Len(t, nterms, 1)
	require.Greater(t, nterms[0], 0)

	gram := linalg.Mul(a.H(), a)
	assert.True(t, linalg.EqualApprox(linalg.Identity(nterms[0]), gram, 1e-8), "slepians are orthonormal")

	t.Run("first sequence is positive", func(t *testing.T) {
		var s float64
		for i := 0; i < 32; i++ {
			s += real(a.At(i, 0))
		}
		assert.Greater(t, s, 0.0)
	})
}

func TestFitSolution(t *testing.T) {
	x := freqAxis(24)
	f := Filter{Centers: []float64{0}, HalfWidths: []float64{300e-9}, Factors: []float64{1e-9}}
	a, _, err := DPSSOperator(x, f, 1e-9)
	require.NoError(t, err)

	w := make([]float64, 24)
	for i := range w {
		w[i] = 1
	}
	w[5], w[6] = 0, 0

	fit, fallback, err := FitSolution(a, w)
	require.NoError(t, err)
	assert.False(t, fallback)

	// fitting a model that lies in the span of A recovers its coefficients
	_, nt := a.Dims()
	coef := make([]complex128, nt)
	for i := range coef {
		coef[i] = complex(float64(i+1), -float64(i))
	}
	model := a.MulVec(coef)
	got := fit.MulVec(model)
	for i := range coef {
		assert.InDelta(t, 0, cmplx.Abs(got[i]-coef[i]), 1e-6)
	}
}

func TestSuppressionVector(t *testing.T) {
	v := SuppressionVector([]float64{0.25, 1}, []int{2, 1})
	assert.Equal(t, []complex128{0.75, 0.75, 0}, v)
}
