// Package ldu stores sparse finite-volume matrices in lower/diagonal/upper
// form addressed by the mesh faces.
package ldu

import (
	"fmt"

	"github.com/james-bowman/sparse"
	"github.com/notargets/FVFlow/field"
	"github.com/notargets/FVFlow/mesh"
)

// Matrix is A x = Source. For internal face f with owner P and neighbour N,
// A[P][N] = Upper[f] and A[N][P] = Lower[f].
//
// InternalCoeffs and BoundaryCoeffs hold, per boundary face, the part of the
// diagonal and of the source contributed by that face. Both are already
// included in Diag and Source; they are kept for FaceFlux.
type Matrix struct {
	Mesh *mesh.Mesh

	Diag   []float64 // [cell]
	Lower  []float64 // [internal face]
	Upper  []float64 // [internal face]
	Source []float64 // [cell]

	InternalCoeffs []float64 // [boundary face]
	BoundaryCoeffs []float64 // [boundary face]
}

// New returns an all-zero matrix over m.
func New(m *mesh.Mesh) *Matrix {
	return &Matrix{
		Mesh:           m,
		Diag:           make([]float64, m.NCells),
		Lower:          make([]float64, m.NInternalFaces),
		Upper:          make([]float64, m.NInternalFaces),
		Source:         make([]float64, m.NCells),
		InternalCoeffs: make([]float64, m.NBoundaryFaces()),
		BoundaryCoeffs: make([]float64, m.NBoundaryFaces()),
	}
}

// NewLaplacian assembles −∇·(γ∇x) integrated over each cell, using the
// over-relaxed orthogonal part only. gamma holds one value per face. Faces on
// fixed-value patches of x add γ|S|Δ to the diagonal and γ|S|Δ x_b to the
// source; other boundary faces contribute nothing.
func NewLaplacian(m *mesh.Mesh, gamma []float64, x *field.VolScalar) (*Matrix, error) {
	if len(gamma) != m.NFaces() {
		return nil, fmt.Errorf("laplacian: %d coefficients for %d faces: %w", len(gamma), m.NFaces(), field.ErrSize)
	}
	if err := x.Check(m); err != nil {
		return nil, fmt.Errorf("laplacian: %w", err)
	}
	A := New(m)
	for f := 0; f < m.NInternalFaces; f++ {
		coeff := gamma[f] * m.MagSf[f] * m.NonOrthDeltaCoeffs[f]
		A.Upper[f] -= coeff
		A.Lower[f] -= coeff
		A.Diag[m.Owner[f]] += coeff
		A.Diag[m.Neighbour[f]] += coeff
	}
	for pi, p := range m.Patches {
		if x.BCs[pi].Type != field.FixedValue {
			continue
		}
		for f := p.Start; f < p.Start+p.Size; f++ {
			b := f - m.NInternalFaces
			coeff := gamma[f] * m.MagSf[f] * m.NonOrthDeltaCoeffs[f]
			A.InternalCoeffs[b] = coeff
			A.BoundaryCoeffs[b] = coeff * x.Boundary[b]
			A.Diag[m.Owner[f]] += coeff
			A.Source[m.Owner[f]] += A.BoundaryCoeffs[b]
		}
	}
	return A, nil
}

// AddDiag adds d[c]·scale to the diagonal.
func (A *Matrix) AddDiag(d []float64, scale float64) {
	for c := range A.Diag {
		A.Diag[c] += scale * d[c]
	}
}

// AddSource adds s[c]·scale to the source.
func (A *Matrix) AddSource(s []float64, scale float64) {
	for c := range A.Source {
		A.Source[c] += scale * s[c]
	}
}

// SetReference pins cell to value by doubling its diagonal and adding the
// matching source, which makes a pure-Neumann system non-singular while
// leaving a consistent one satisfied.
func (A *Matrix) SetReference(cell int, value float64) error {
	if cell < 0 || cell >= len(A.Diag) {
		return fmt.Errorf("reference cell %d out of range [0,%d)", cell, len(A.Diag))
	}
	A.Source[cell] += A.Diag[cell] * value
	A.Diag[cell] += A.Diag[cell]
	return nil
}

// Symmetric reports whether Lower equals Upper.
func (A *Matrix) Symmetric() bool {
	for f := range A.Upper {
		if A.Upper[f] != A.Lower[f] {
			return false
		}
	}
	return true
}

// MulVec sets y = A x and returns y.
func (A *Matrix) MulVec(x, y []float64) []float64 {
	m := A.Mesh
	for c := range A.Diag {
		y[c] = A.Diag[c] * x[c]
	}
	for f := 0; f < m.NInternalFaces; f++ {
		P, N := m.Owner[f], m.Neighbour[f]
		y[P] += A.Upper[f] * x[N]
		y[N] += A.Lower[f] * x[P]
	}
	return y
}

// SumA returns the row sums of A.
func (A *Matrix) SumA() []float64 {
	m := A.Mesh
	out := append([]float64(nil), A.Diag...)
	for f := 0; f < m.NInternalFaces; f++ {
		out[m.Owner[f]] += A.Upper[f]
		out[m.Neighbour[f]] += A.Lower[f]
	}
	return out
}

// Residual sets r = b − A x and returns r.
func (A *Matrix) Residual(x, b, r []float64) []float64 {
	A.MulVec(x, r)
	for c := range r {
		r[c] = b[c] - r[c]
	}
	return r
}

// FaceFlux returns the implicit face flux of solution x. Summing it over each
// cell's faces, outward positive, gives the off-diagonal and boundary part of
// the row of A x.
func (A *Matrix) FaceFlux(x []float64) []float64 {
	m := A.Mesh
	out := make([]float64, m.NFaces())
	for f := 0; f < m.NInternalFaces; f++ {
		out[f] = A.Upper[f]*x[m.Neighbour[f]] - A.Lower[f]*x[m.Owner[f]]
	}
	for f := m.NInternalFaces; f < m.NFaces(); f++ {
		b := f - m.NInternalFaces
		out[f] = A.InternalCoeffs[b]*x[m.Owner[f]] - A.BoundaryCoeffs[b]
	}
	return out
}

// Clone returns a deep copy.
func (A *Matrix) Clone() *Matrix {
	return &Matrix{
		Mesh:           A.Mesh,
		Diag:           append([]float64(nil), A.Diag...),
		Lower:          append([]float64(nil), A.Lower...),
		Upper:          append([]float64(nil), A.Upper...),
		Source:         append([]float64(nil), A.Source...),
		InternalCoeffs: append([]float64(nil), A.InternalCoeffs...),
		BoundaryCoeffs: append([]float64(nil), A.BoundaryCoeffs...),
	}
}

// ToCSR exports the coefficients as a compressed sparse row matrix.
func (A *Matrix) ToCSR() *sparse.CSR {
	m := A.Mesh
	n := len(A.Diag)
	dok := sparse.NewDOK(n, n)
	for c, d := range A.Diag {
		dok.Set(c, c, d)
	}
	for f := 0; f < m.NInternalFaces; f++ {
		P, N := m.Owner[f], m.Neighbour[f]
		dok.Set(P, N, dok.At(P, N)+A.Upper[f])
		dok.Set(N, P, dok.At(N, P)+A.Lower[f])
	}
	return dok.ToCSR()
}
