package solver

import (
	"fmt"
	"math"
	"strings"

	"github.com/notargets/FVFlow/ldu"
	"gonum.org/v1/gonum/floats"
)

const (
	small  = 1e-20
	vsmall = 1e-300
)

// Solver solves A x = b in place, starting from the values in x.
type Solver interface {
	Solve(A *ldu.Matrix, x, b []float64, ctrl Controls) (Performance, error)
}

// Func adapts a function to Solver.
type Func func(A *ldu.Matrix, x, b []float64, ctrl Controls) (Performance, error)

func (fn Func) Solve(A *ldu.Matrix, x, b []float64, ctrl Controls) (Performance, error) {
	return fn(A, x, b, ctrl)
}

// Default dispatches on Controls.Solver.
var Default Solver = Func(Solve)

// Solve dispatches on ctrl.Solver.
func Solve(A *ldu.Matrix, x, b []float64, ctrl Controls) (Performance, error) {
	if err := ctrl.Validate(); err != nil {
		return Performance{}, err
	}
	n := len(A.Diag)
	if len(x) != n || len(b) != n {
		return Performance{}, fmt.Errorf("system of %d rows with %d unknowns and %d sources", n, len(x), len(b))
	}
	switch strings.ToLower(ctrl.Solver) {
	case "pcg":
		if !A.Symmetric() {
			return Performance{}, fmt.Errorf("PCG needs a symmetric matrix")
		}
		return PCG(A, x, b, ctrl)
	case "pbicgstab":
		return PBiCGStab(A, x, b, ctrl)
	case "gaussseidel":
		return GaussSeidel(A, x, b, ctrl)
	}
	return Performance{}, fmt.Errorf("%q: %w", ctrl.Solver, ErrUnknownSolver)
}

// normFactor is Σ|Ax − A x̄| + |b − A x̄| with x̄ the mean of x.
func normFactor(A *ldu.Matrix, x, b, Ax []float64) float64 {
	xRef := floats.Sum(x) / float64(len(x))
	sumA := A.SumA()
	var nf float64
	for i := range x {
		AxRef := sumA[i] * xRef
		nf += math.Abs(Ax[i]-AxRef) + math.Abs(b[i]-AxRef)
	}
	return nf + small
}

func sumMag(v []float64) float64 {
	var s float64
	for _, x := range v {
		s += math.Abs(x)
	}
	return s
}

func (c Controls) converged(initial, final float64) bool {
	return final < c.Tolerance || (c.RelTol > 0 && final < c.RelTol*initial)
}

func finish(p Performance, ctrl Controls) (Performance, error) {
	if math.IsNaN(p.FinalResidual) || math.IsInf(p.FinalResidual, 0) {
		return p, fmt.Errorf("%s after %d iterations: %w", p.Solver, p.NIterations, ErrDiverged)
	}
	p.Converged = ctrl.converged(p.InitialResidual, p.FinalResidual) && p.NIterations >= ctrl.MinIter
	return p, nil
}

// preconditioner applies w = M⁻¹ r.
type preconditioner func(w, r []float64)

func newPreconditioner(A *ldu.Matrix, name string) preconditioner {
	diag := func() preconditioner {
		rD := make([]float64, len(A.Diag))
		for i, d := range A.Diag {
			rD[i] = 1 / d
		}
		return func(w, r []float64) { floats.MulTo(w, rD, r) }
	}
	switch strings.ToLower(name) {
	case "", "none":
		return func(w, r []float64) { copy(w, r) }
	case "diagonal":
		return diag()
	}

	// Diagonal incomplete Cholesky, which relies on the faces being in
	// upper-triangular order
	m := A.Mesh
	rD := append([]float64(nil), A.Diag...)
	for f := 0; f < m.NInternalFaces; f++ {
		l, u := m.Owner[f], m.Neighbour[f]
		rD[u] -= A.Upper[f] * A.Upper[f] / rD[l]
	}
	for i := range rD {
		if rD[i] <= 0 {
			return diag()
		}
		rD[i] = 1 / rD[i]
	}
	return func(w, r []float64) {
		floats.MulTo(w, rD, r)
		for f := 0; f < m.NInternalFaces; f++ {
			l, u := m.Owner[f], m.Neighbour[f]
			w[u] -= rD[u] * A.Upper[f] * w[l]
		}
		for f := m.NInternalFaces - 1; f >= 0; f-- {
			l, u := m.Owner[f], m.Neighbour[f]
			w[l] -= rD[l] * A.Upper[f] * w[u]
		}
	}
}

// PCG is the preconditioned conjugate gradient method for symmetric
// matrices.
func PCG(A *ldu.Matrix, x, b []float64, ctrl Controls) (Performance, error) {
	n := len(x)
	perf := Performance{Solver: "PCG"}

	wA := make([]float64, n)
	rA := make([]float64, n)
	pA := make([]float64, n)

	A.MulVec(x, wA)
	floats.SubTo(rA, b, wA)
	nf := normFactor(A, x, b, wA)
	perf.InitialResidual = sumMag(rA) / nf
	perf.FinalResidual = perf.InitialResidual

	if ctrl.MinIter == 0 && ctrl.converged(perf.InitialResidual, perf.InitialResidual) {
		return finish(perf, ctrl)
	}
	precondition := newPreconditioner(A, ctrl.Preconditioner)
	wArA := math.MaxFloat64
	for {
		wArAold := wArA
		precondition(wA, rA)
		wArA = floats.Dot(wA, rA)
		if perf.NIterations == 0 {
			copy(pA, wA)
		} else {
			beta := wArA / wArAold
			for i := range pA {
				pA[i] = wA[i] + beta*pA[i]
			}
		}
		A.MulVec(pA, wA)
		wApA := floats.Dot(wA, pA)
		if math.Abs(wApA)/nf < vsmall {
			break
		}
		alpha := wArA / wApA
		floats.AddScaled(x, alpha, pA)
		floats.AddScaled(rA, -alpha, wA)
		perf.FinalResidual = sumMag(rA) / nf
		perf.NIterations++

		if perf.NIterations >= ctrl.MaxIter ||
			(perf.NIterations >= ctrl.MinIter && ctrl.converged(perf.InitialResidual, perf.FinalResidual)) {
			break
		}
	}
	return finish(perf, ctrl)
}

// PBiCGStab is the Jacobi-preconditioned stabilised bi-conjugate gradient
// method on the CSR export of A.
func PBiCGStab(A *ldu.Matrix, x, b []float64, ctrl Controls) (Performance, error) {
	n := len(x)
	perf := Performance{Solver: "PBiCGStab"}
	csr := A.ToCSR()
	mul := func(dst, v []float64) {
		for i := range dst {
			dst[i] = 0
		}
		csr.MulVecTo(dst, false, v)
	}

	Ax := make([]float64, n)
	mul(Ax, x)
	r := make([]float64, n)
	floats.SubTo(r, b, Ax)
	nf := normFactor(A, x, b, Ax)
	perf.InitialResidual = sumMag(r) / nf
	perf.FinalResidual = perf.InitialResidual
	if ctrl.MinIter == 0 && ctrl.converged(perf.InitialResidual, perf.InitialResidual) {
		return finish(perf, ctrl)
	}

	precondition := newPreconditioner(A, "diagonal")
	if strings.EqualFold(ctrl.Preconditioner, "none") {
		precondition = newPreconditioner(A, "none")
	}
	r0 := append([]float64(nil), r...)
	p := make([]float64, n)
	v := make([]float64, n)
	y := make([]float64, n)
	s := make([]float64, n)
	z := make([]float64, n)
	t := make([]float64, n)
	rho, alpha, omega := 1.0, 1.0, 1.0

	for perf.NIterations < ctrl.MaxIter {
		rhoOld := rho
		rho = floats.Dot(r0, r)
		if math.Abs(rho)/nf < vsmall {
			break
		}
		if perf.NIterations == 0 {
			copy(p, r)
		} else {
			beta := (rho / rhoOld) * (alpha / omega)
			for i := range p {
				p[i] = r[i] + beta*(p[i]-omega*v[i])
			}
		}
		precondition(y, p)
		mul(v, y)
		r0v := floats.Dot(r0, v)
		if math.Abs(r0v)/nf < vsmall {
			break
		}
		alpha = rho / r0v
		copy(s, r)
		floats.AddScaled(s, -alpha, v)
		perf.NIterations++

		if res := sumMag(s) / nf; ctrl.converged(perf.InitialResidual, res) && perf.NIterations >= ctrl.MinIter {
			floats.AddScaled(x, alpha, y)
			copy(r, s)
			perf.FinalResidual = res
			break
		}
		precondition(z, s)
		mul(t, z)
		tt := floats.Dot(t, t)
		if tt/nf < vsmall {
			floats.AddScaled(x, alpha, y)
			copy(r, s)
			perf.FinalResidual = sumMag(r) / nf
			break
		}
		omega = floats.Dot(t, s) / tt
		floats.AddScaled(x, alpha, y)
		floats.AddScaled(x, omega, z)
		copy(r, s)
		floats.AddScaled(r, -omega, t)
		perf.FinalResidual = sumMag(r) / nf
		if perf.NIterations >= ctrl.MinIter && ctrl.converged(perf.InitialResidual, perf.FinalResidual) {
			break
		}
	}
	return finish(perf, ctrl)
}

// GaussSeidel sweeps the cells in order, one sweep per iteration.
func GaussSeidel(A *ldu.Matrix, x, b []float64, ctrl Controls) (Performance, error) {
	n := len(x)
	m := A.Mesh
	perf := Performance{Solver: "GaussSeidel"}
	Ax := make([]float64, n)
	r := make([]float64, n)
	A.MulVec(x, Ax)
	floats.SubTo(r, b, Ax)
	nf := normFactor(A, x, b, Ax)
	perf.InitialResidual = sumMag(r) / nf
	perf.FinalResidual = perf.InitialResidual
	if ctrl.MinIter == 0 && ctrl.converged(perf.InitialResidual, perf.InitialResidual) {
		return finish(perf, ctrl)
	}

	for perf.NIterations < ctrl.MaxIter {
		for c := 0; c < n; c++ {
			sum := b[c]
			for _, f := range m.CellFaces[c] {
				if !m.IsInternal(f) {
					continue
				}
				if m.Owner[f] == c {
					sum -= A.Upper[f] * x[m.Neighbour[f]]
				} else {
					sum -= A.Lower[f] * x[m.Owner[f]]
				}
			}
			x[c] = sum / A.Diag[c]
		}
		perf.NIterations++
		A.Residual(x, b, r)
		perf.FinalResidual = sumMag(r) / nf
		if perf.NIterations >= ctrl.MinIter && ctrl.converged(perf.InitialResidual, perf.FinalResidual) {
			break
		}
	}
	return finish(perf, ctrl)
}
