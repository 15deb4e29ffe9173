// Package linalg provides the dense complex matrix type used by the estimator.
// Storage is row-major complex128; decompositions are delegated to gonum through
// the real embedding of a complex matrix.
package linalg

import (
	"errors"
	"fmt"
	"math"
	"math/cmplx"
)

var (
	// ErrShape indicates mismatched operand dimensions.
	ErrShape = errors.New("linalg: dimension mismatch")

	// ErrSingular indicates a matrix could not be inverted.
	ErrSingular = errors.New("linalg: matrix is singular")
)

// Matrix is a dense complex matrix.
type Matrix struct {
	rows, cols int
	data       []complex128
}

// New returns a zero rows x cols matrix.
func New(rows, cols int) *Matrix {
	if rows < 0 || cols < 0 {
		panic(fmt.Sprintf("linalg: negative dimension %dx%d", rows, cols))
	}
	return &Matrix{rows: rows, cols: cols, data: make([]complex128, rows*cols)}
}

// NewFromData wraps data (row-major) without copying.
func NewFromData(rows, cols int, data []complex128) *Matrix {
	if len(data) != rows*cols {
		panic(fmt.Sprintf("linalg: data length %d does not match %dx%d", len(data), rows, cols))
	}
	return &Matrix{rows: rows, cols: cols, data: data}
}

// FromRows builds a matrix from a slice of equally sized rows.
func FromRows(rows [][]complex128) *Matrix {
	if len(rows) == 0 {
		return New(0, 0)
	}
	m := New(len(rows), len(rows[0]))
	for i, r := range rows {
		if len(r) != m.cols {
			panic(ErrShape)
		}
		copy(m.data[i*m.cols:(i+1)*m.cols], r)
	}
	return m
}

// Identity returns the n x n identity.
func Identity(n int) *Matrix {
	m := New(n, n)
	for i := 0; i < n; i++ {
		m.data[i*n+i] = 1
	}
	return m
}

// Ones returns a rows x cols matrix of ones.
func Ones(rows, cols int) *Matrix {
	m := New(rows, cols)
	for i := range m.data {
		m.data[i] = 1
	}
	return m
}

// Diag returns a square matrix with v on the diagonal.
func Diag(v []complex128) *Matrix {
	m := New(len(v), len(v))
	for i, x := range v {
		m.data[i*len(v)+i] = x
	}
	return m
}

// DiagReal is Diag for real diagonals.
func DiagReal(v []float64) *Matrix {
	m := New(len(v), len(v))
	for i, x := range v {
		m.data[i*len(v)+i] = complex(x, 0)
	}
	return m
}

// Outer returns u v^T (no conjugation).
func Outer(u, v []complex128) *Matrix {
	m := New(len(u), len(v))
	for i, a := range u {
		row := m.data[i*m.cols : (i+1)*m.cols]
		for j, b := range v {
			row[j] = a * b
		}
	}
	return m
}

// OuterReal returns u v^T for real vectors.
func OuterReal(u, v []float64) *Matrix {
	m := New(len(u), len(v))
	for i, a := range u {
		row := m.data[i*m.cols : (i+1)*m.cols]
		for j, b := range v {
			row[j] = complex(a*b, 0)
		}
	}
	return m
}

// Dims returns the matrix dimensions.
func (m *Matrix) Dims() (rows, cols int) { return m.rows, m.cols }

// At returns element (i, j).
func (m *Matrix) At(i, j int) complex128 { return m.data[i*m.cols+j] }

// Set sets element (i, j).
func (m *Matrix) Set(i, j int, v complex128) { m.data[i*m.cols+j] = v }

// RawData exposes the backing slice.
func (m *Matrix) RawData() []complex128 { return m.data }

// Row returns a copy of row i.
func (m *Matrix) Row(i int) []complex128 {
	out := make([]complex128, m.cols)
	copy(out, m.data[i*m.cols:(i+1)*m.cols])
	return out
}

// Col returns a copy of column j.
func (m *Matrix) Col(j int) []complex128 {
	out := make([]complex128, m.rows)
	for i := 0; i < m.rows; i++ {
		out[i] = m.data[i*m.cols+j]
	}
	return out
}

// SetCol overwrites column j.
func (m *Matrix) SetCol(j int, v []complex128) {
	for i := 0; i < m.rows; i++ {
		m.data[i*m.cols+j] = v[i]
	}
}

// Copy returns a deep copy.
func (m *Matrix) Copy() *Matrix {
	out := New(m.rows, m.cols)
	copy(out.data, m.data)
	return out
}

// Slice returns a copy of rows [r0, r1) and columns [c0, c1).
func (m *Matrix) Slice(r0, r1, c0, c1 int) *Matrix {
	if r0 < 0 || r1 > m.rows || c0 < 0 || c1 > m.cols || r0 > r1 || c0 > c1 {
		panic(fmt.Sprintf("linalg: slice [%d:%d, %d:%d] out of range for %dx%d", r0, r1, c0, c1, m.rows, m.cols))
	}
	out := New(r1-r0, c1-c0)
	for i := r0; i < r1; i++ {
		copy(out.data[(i-r0)*out.cols:(i-r0+1)*out.cols], m.data[i*m.cols+c0:i*m.cols+c1])
	}
	return out
}

// T returns the transpose.
func (m *Matrix) T() *Matrix {
	out := New(m.cols, m.rows)
	for i := 0; i < m.rows; i++ {
		for j := 0; j < m.cols; j++ {
			out.data[j*m.rows+i] = m.data[i*m.cols+j]
		}
	}
	return out
}

// H returns the conjugate transpose.
func (m *Matrix) H() *Matrix {
	out := New(m.cols, m.rows)
	for i := 0; i < m.rows; i++ {
		for j := 0; j < m.cols; j++ {
			out.data[j*m.rows+i] = cmplx.Conj(m.data[i*m.cols+j])
		}
	}
	return out
}

// Conj returns the element-wise conjugate.
func (m *Matrix) Conj() *Matrix {
	out := New(m.rows, m.cols)
	for i, v := range m.data {
		out.data[i] = cmplx.Conj(v)
	}
	return out
}

// Mul returns a b.
func Mul(a, b *Matrix) *Matrix {
	if a.cols != b.rows {
		panic(fmt.Errorf("%w: %dx%d * %dx%d", ErrShape, a.rows, a.cols, b.rows, b.cols))
	}
	out := New(a.rows, b.cols)
	for i := 0; i < a.rows; i++ {
		orow := out.data[i*out.cols : (i+1)*out.cols]
		for k := 0; k < a.cols; k++ {
			aik := a.data[i*a.cols+k]
			if aik == 0 {
				continue
			}
			brow := b.data[k*b.cols : (k+1)*b.cols]
			for j, bkj := range brow {
				orow[j] += aik * bkj
			}
		}
	}
	return out
}

// MulVec returns m v.
func (m *Matrix) MulVec(v []complex128) []complex128 {
	if len(v) != m.cols {
		panic(fmt.Errorf("%w: %dx%d * %d", ErrShape, m.rows, m.cols, len(v)))
	}
	out := make([]complex128, m.rows)
	for i := 0; i < m.rows; i++ {
		var s complex128
		row := m.data[i*m.cols : (i+1)*m.cols]
		for j, x := range row {
			s += x * v[j]
		}
		out[i] = s
	}
	return out
}

func sameShape(a, b *Matrix) {
	if a.rows != b.rows || a.cols != b.cols {
		panic(fmt.Errorf("%w: %dx%d vs %dx%d", ErrShape, a.rows, a.cols, b.rows, b.cols))
	}
}

// Add returns a + b.
func Add(a, b *Matrix) *Matrix {
	sameShape(a, b)
	out := New(a.rows, a.cols)
	for i := range a.data {
		out.data[i] = a.data[i] + b.data[i]
	}
	return out
}

// Sub returns a - b.
func Sub(a, b *Matrix) *Matrix {
	sameShape(a, b)
	out := New(a.rows, a.cols)
	for i := range a.data {
		out.data[i] = a.data[i] - b.data[i]
	}
	return out
}

// Hadamard returns the element-wise product.
func Hadamard(a, b *Matrix) *Matrix {
	sameShape(a, b)
	out := New(a.rows, a.cols)
	for i := range a.data {
		out.data[i] = a.data[i] * b.data[i]
	}
	return out
}

// Scale returns c m.
func (m *Matrix) Scale(c complex128) *Matrix {
	out := New(m.rows, m.cols)
	for i, v := range m.data {
		out.data[i] = c * v
	}
	return out
}

// ScaleRows multiplies row i by s[i].
func (m *Matrix) ScaleRows(s []complex128) *Matrix {
	if len(s) != m.rows {
		panic(ErrShape)
	}
	out := New(m.rows, m.cols)
	for i := 0; i < m.rows; i++ {
		for j := 0; j < m.cols; j++ {
			out.data[i*m.cols+j] = s[i] * m.data[i*m.cols+j]
		}
	}
	return out
}

// Trace returns the sum of the diagonal.
func (m *Matrix) Trace() complex128 {
	var s complex128
	n := min(m.rows, m.cols)
	for i := 0; i < n; i++ {
		s += m.data[i*m.cols+i]
	}
	return s
}

// TraceMul returns tr(a b) without forming the product.
func TraceMul(a, b *Matrix) complex128 {
	if a.cols != b.rows || a.rows != b.cols {
		panic(fmt.Errorf("%w: tr(%dx%d * %dx%d)", ErrShape, a.rows, a.cols, b.rows, b.cols))
	}
	var s complex128
	for i := 0; i < a.rows; i++ {
		arow := a.data[i*a.cols : (i+1)*a.cols]
		for j, aij := range arow {
			s += aij * b.data[j*b.cols+i]
		}
	}
	return s
}

// RowSums returns the sum of each row.
func (m *Matrix) RowSums() []complex128 {
	out := make([]complex128, m.rows)
	for i := 0; i < m.rows; i++ {
		var s complex128
		for _, v := range m.data[i*m.cols : (i+1)*m.cols] {
			s += v
		}
		out[i] = s
	}
	return out
}

// Sum returns the sum of all elements.
func (m *Matrix) Sum() complex128 {
	var s complex128
	for _, v := range m.data {
		s += v
	}
	return s
}

// IsZero reports whether every element is exactly zero.
func (m *Matrix) IsZero() bool {
	for _, v := range m.data {
		if v != 0 {
			return false
		}
	}
	return true
}

// ZeroNonFinite replaces NaN and Inf entries with zero in place and reports
// how many entries were replaced.
func (m *Matrix) ZeroNonFinite() int {
	var n int
	for i, v := range m.data {
		if cmplx.IsNaN(v) || cmplx.IsInf(v) || math.IsNaN(real(v)) || math.IsNaN(imag(v)) {
			m.data[i] = 0
			n++
		}
	}
	return n
}

// EqualApprox reports whether a and b agree element-wise to within tol
// relative to the largest magnitude in a.
func EqualApprox(a, b *Matrix, tol float64) bool {
	if a.rows != b.rows || a.cols != b.cols {
		return false
	}
	var scale float64
	for _, v := range a.data {
		scale = math.Max(scale, cmplx.Abs(v))
	}
	if scale == 0 {
		scale = 1
	}
	for i := range a.data {
		if cmplx.Abs(a.data[i]-b.data[i]) > tol*scale {
			return false
		}
	}
	return true
}

// MaxAbs returns the largest element magnitude.
func (m *Matrix) MaxAbs() float64 {
	var s float64
	for _, v := range m.data {
		s = math.Max(s, cmplx.Abs(v))
	}
	return s
}

// String renders small matrices for debugging.
func (m *Matrix) String() string {
	return fmt.Sprintf("Matrix(%dx%d)", m.rows, m.cols)
}
