package linalg

import (
	"fmt"
	"math"
	"math/cmplx"
	"sort"

	"gonum.org/v1/gonum/mat"
)

// pinvRcond matches the default relative singular value cutoff used for
// pseudo-inverses throughout the estimator.
const pinvRcond = 1e-15

// embed maps the complex matrix A = X + iY onto the real block matrix
// [[X, -Y], [Y, X]]. The map preserves products, inverses, pseudo-inverses and
// the Hermitian structure of A.
func embed(a *Matrix) *mat.Dense {
	r, c := a.rows, a.cols
	d := mat.NewDense(2*r, 2*c, nil)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			v := a.data[i*c+j]
			d.Set(i, j, real(v))
			d.Set(i, j+c, -imag(v))
			d.Set(i+r, j, imag(v))
			d.Set(i+r, j+c, real(v))
		}
	}
	return d
}

// unembed reads the complex rows x cols matrix back out of a real embedding.
func unembed(d mat.Matrix, rows, cols int) *Matrix {
	out := New(rows, cols)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			out.data[i*cols+j] = complex(d.At(i, j), d.At(i+rows, j))
		}
	}
	return out
}

// Inverse returns the inverse of a square matrix. It returns ErrSingular when
// the matrix is singular or numerically too ill-conditioned to invert.
func Inverse(a *Matrix) (*Matrix, error) {
	if a.rows != a.cols {
		return nil, fmt.Errorf("%w: inverse of %dx%d", ErrShape, a.rows, a.cols)
	}
	if a.rows == 0 {
		return New(0, 0), nil
	}
	var inv mat.Dense
	if err := inv.Inverse(embed(a)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSingular, err)
	}
	out := unembed(&inv, a.rows, a.cols)
	if out.ZeroNonFinite() > 0 {
		return nil, ErrSingular
	}
	return out, nil
}

// PseudoInverse returns the Moore-Penrose pseudo-inverse of a (any shape).
// Singular values below 1e-15 times the largest are treated as zero.
func PseudoInverse(a *Matrix) (*Matrix, error) {
	if a.rows == 0 || a.cols == 0 {
		return New(a.cols, a.rows), nil
	}

	var svd mat.SVD
	if ok := svd.Factorize(embed(a), mat.SVDThin); !ok {
		return nil, fmt.Errorf("linalg: SVD factorisation failed for %dx%d matrix", a.rows, a.cols)
	}

	s := svd.Values(nil)
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	var smax float64
	for _, x := range s {
		smax = math.Max(smax, x)
	}
	cutoff := pinvRcond * smax

	// pinv = V diag(1/s) U^T
	_, k := u.Dims()
	vs := mat.NewDense(2*a.cols, k, nil)
	for j := 0; j < k; j++ {
		var inv float64
		if s[j] > cutoff {
			inv = 1 / s[j]
		}
		for i := 0; i < 2*a.cols; i++ {
			vs.Set(i, j, v.At(i, j)*inv)
		}
	}
	var p mat.Dense
	p.Mul(vs, u.T())

	return unembed(&p, a.cols, a.rows), nil
}

// InverseOrPinv inverts a and falls back to the pseudo-inverse when a is
// singular. The boolean reports whether the fallback was used.
func InverseOrPinv(a *Matrix) (*Matrix, bool, error) {
	inv, err := Inverse(a)
	if err == nil {
		return inv, false, nil
	}
	p, perr := PseudoInverse(a)
	if perr != nil {
		return nil, true, perr
	}
	return p, true, nil
}

// HermitianPart returns (A + A^H) / 2.
func HermitianPart(a *Matrix) *Matrix {
	if a.rows != a.cols {
		panic(fmt.Errorf("%w: hermitian part of %dx%d", ErrShape, a.rows, a.cols))
	}
	out := New(a.rows, a.cols)
	n := a.rows
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			out.data[i*n+j] = (a.data[i*n+j] + cmplx.Conj(a.data[j*n+i])) / 2
		}
	}
	return out
}

// Eigen holds the eigen-decomposition of a Hermitian matrix. Values are in
// ascending order and column k of Vectors is the eigenvector for Values[k].
type Eigen struct {
	Values  []float64
	Vectors *Matrix
}

// HermitianEigen decomposes the Hermitian part of a. The symmetric real
// embedding carries every eigenvalue twice; one complex eigenvector per pair
// is recovered by complex Gram-Schmidt over the embedded eigenvectors.
func HermitianEigen(a *Matrix) (*Eigen, error) {
	h := HermitianPart(a)
	n := h.rows
	if n == 0 {
		return &Eigen{Vectors: New(0, 0)}, nil
	}

	emb := embed(h)
	sym := mat.NewSymDense(2*n, nil)
	for i := 0; i < 2*n; i++ {
		for j := i; j < 2*n; j++ {
			sym.SetSym(i, j, emb.At(i, j))
		}
	}

	var es mat.EigenSym
	if ok := es.Factorize(sym, true); !ok {
		return nil, fmt.Errorf("linalg: symmetric eigen-decomposition failed for %dx%d matrix", n, n)
	}
	var vecs mat.Dense
	es.VectorsTo(&vecs)

	candidates := make([][]complex128, 2*n)
	for k := 0; k < 2*n; k++ {
		z := make([]complex128, n)
		for i := 0; i < n; i++ {
			z[i] = complex(vecs.At(i, k), vecs.At(i+n, k))
		}
		candidates[k] = z
	}

	accepted := make([][]complex128, 0, n)
	used := make([]bool, 2*n)
	for _, threshold := range []float64{0.5, 1e-8} {
		for k, z := range candidates {
			if len(accepted) == n {
				break
			}
			if used[k] {
				continue
			}
			r := orthogonalise(z, accepted)
			if nrm := vecNorm(r); nrm > threshold {
				for i := range r {
					r[i] /= complex(nrm, 0)
				}
				accepted = append(accepted, r)
				used[k] = true
			}
		}
	}
	if len(accepted) != n {
		return nil, fmt.Errorf("linalg: recovered %d of %d eigenvectors", len(accepted), n)
	}

	type pair struct {
		val float64
		vec []complex128
	}
	pairs := make([]pair, n)
	for k, z := range accepted {
		hz := h.MulVec(z)
		var rq complex128
		for i := range z {
			rq += cmplx.Conj(z[i]) * hz[i]
		}
		pairs[k] = pair{val: real(rq), vec: z}
	}
	sort.SliceStable(pairs, func(i, j int) bool { return pairs[i].val < pairs[j].val })

	out := &Eigen{Values: make([]float64, n), Vectors: New(n, n)}
	for k, p := range pairs {
		out.Values[k] = p.val
		out.Vectors.SetCol(k, p.vec)
	}
	return out, nil
}

// HermitianFunc returns Z diag(f(lambda)) Z^H for the eigen-decomposition of
// the Hermitian part of a, together with the eigenvalues.
func HermitianFunc(a *Matrix, f func(float64) complex128) (*Matrix, []float64, error) {
	e, err := HermitianEigen(a)
	if err != nil {
		return nil, nil, err
	}
	n := len(e.Values)
	fv := make([]complex128, n)
	for k, l := range e.Values {
		fv[k] = f(l)
	}
	zf := New(n, n)
	for i := 0; i < n; i++ {
		for k := 0; k < n; k++ {
			zf.data[i*n+k] = e.Vectors.data[i*n+k] * fv[k]
		}
	}
	return Mul(zf, e.Vectors.H()), e.Values, nil
}

// InvSqrt is the eigenvalue function for an inverse matrix square root.
// Negative eigenvalues yield imaginary roots rather than NaN.
func InvSqrt(l float64) complex128 {
	return 1 / cmplx.Sqrt(complex(l, 0))
}

func orthogonalise(z []complex128, basis [][]complex128) []complex128 {
	r := make([]complex128, len(z))
	copy(r, z)
	for _, b := range basis {
		var dot complex128
		for i := range b {
			dot += cmplx.Conj(b[i]) * r[i]
		}
		for i := range r {
			r[i] -= dot * b[i]
		}
	}
	return r
}

func vecNorm(z []complex128) float64 {
	var s float64
	for _, v := range z {
		s += real(v)*real(v) + imag(v)*imag(v)
	}
	return math.Sqrt(s)
}
