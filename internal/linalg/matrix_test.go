package linalg

import (
	"math/cmplx"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomMatrix(rng *rand.Rand, rows, cols int) *Matrix {
	m := New(rows, cols)
	for i := range m.data {
		m.data[i] = complex(rng.NormFloat64(), rng.NormFloat64())
	}
	return m
}

func TestMatrix_Basics(t *testing.T) {
	a := FromRows([][]complex128{
		{1, 2i},
		{3, 4 - 1i},
	})

	t.Run("dims and access", func(t *testing.T) {
		r, c := a.Dims()
		assert.Equal(t, 2, r)
		assert.Equal(t, 2, c)
		assert.Equal(t, complex(0, 2), a.At(0, 1))
	})

	t.Run("conjugate transpose", func(t *testing.T) {
		h := a.H()
		assert.Equal(t, complex(0, -2), h.At(1, 0))
		assert.Equal(t, complex(4, 1), h.At(1, 1))
	})

	t.Run("trace", func(t *testing.T) {
		assert.Equal(t, complex(5, -1), a.Trace())
	})

	t.Run("identity is neutral", func(t *testing.T) {
		assert.True(t, EqualApprox(a, Mul(a, Identity(2)), 1e-15))
		assert.True(t, EqualApprox(a, Mul(Identity(2), a), 1e-15))
	})

	t.Run("row sums", func(t *testing.T) {
		assert.Equal(t, []complex128{1 + 2i, 7 - 1i}, a.RowSums())
	})
}

func TestTraceMul(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	a := randomMatrix(rng, 4, 6)
	b := randomMatrix(rng, 6, 4)

	want := Mul(a, b).Trace()
	got := TraceMul(a, b)
	assert.InDelta(t, 0, cmplx.Abs(want-got), 1e-12)
}

func TestSlice(t *testing.T) {
	a := FromRows([][]complex128{
		{1, 2, 3},
		{4, 5, 6},
		{7, 8, 9},
	})
	s := a.Slice(1, 3, 0, 2)
	require.Equal(t, FromRows([][]complex128{{4, 5}, {7, 8}}), s)

	assert.Panics(t, func() { a.Slice(0, 4, 0, 1) })
}

func TestZeroNonFinite(t *testing.T) {
	a := FromRows([][]complex128{
		{cmplx.NaN(), 1},
		{cmplx.Inf(), 2},
	})
	assert.Equal(t, 2, a.ZeroNonFinite())
	assert.Equal(t, FromRows([][]complex128{{0, 1}, {0, 2}}), a)
}

func TestShapeMismatchPanics(t *testing.T) {
	assert.Panics(t, func() { Mul(New(2, 3), New(2, 3)) })
	assert.Panics(t, func() { Add(New(2, 3), New(3, 2)) })
	assert.Panics(t, func() { New(2, 2).MulVec([]complex128{1}) })
}
