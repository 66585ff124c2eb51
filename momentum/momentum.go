// Package momentum assembles the diagonal and explicit parts of the
// momentum equation, without the pressure gradient, in the A/H form the
// pressure corrector consumes.
package momentum

import (
	"fmt"
	"math"

	"github.com/notargets/FVFlow/field"
	"github.com/notargets/FVFlow/ops"
	"gonum.org/v1/gonum/spatial/r3"
)

// Inputs of one momentum assembly.
type Inputs struct {
	Rho  *field.VolScalar // Current density
	Rho0 *field.VolScalar
	U    *field.VolVector // Latest velocity, old level from U.Old()
	Phi  *field.SurfaceScalar
	Mu   float64 // Dynamic viscosity
	// SU is an explicit momentum source per unit volume, such as the drag
	// of a dispersed phase. Optional.
	SU     []r3.Vec
	DeltaT float64
}

// Equation is A U = H − ∇p per unit volume, with A the diagonal
// coefficient and H everything else.
type Equation struct {
	A []float64
	H []r3.Vec

	a   *ops.Algebra
	u   *field.VolVector
	rAU *field.VolScalar
}

// Assemble builds A and H from an Euler time derivative, upwind convection
// by phi and orthogonal viscous diffusion. Off-diagonal contributions use
// the latest velocity.
func Assemble(a *ops.Algebra, in Inputs) (*Equation, error) {
	m := a.Mesh
	if in.Rho == nil || in.Rho0 == nil || in.U == nil || in.Phi == nil {
		return nil, fmt.Errorf("momentum: missing rho, rho_0, U or phi")
	}
	for _, err := range []error{in.Rho.Check(m), in.Rho0.Check(m), in.U.Check(m),
		in.U.Old().Check(m), in.Phi.Check(m)} {
		if err != nil {
			return nil, fmt.Errorf("momentum: %w", err)
		}
	}
	if in.SU != nil && len(in.SU) != m.NCells {
		return nil, fmt.Errorf("momentum: source of %d cells for a mesh of %d: %w",
			len(in.SU), m.NCells, field.ErrSize)
	}
	if in.DeltaT <= 0 {
		return nil, fmt.Errorf("momentum: invalid time step %g", in.DeltaT)
	}
	if in.Mu < 0 {
		return nil, fmt.Errorf("momentum: negative viscosity %g", in.Mu)
	}

	diag := make([]float64, m.NCells)
	H := make([]r3.Vec, m.NCells)
	U, U0 := in.U, in.U.Old()
	rDeltaT := 1 / in.DeltaT

	a.Schedule.ForEachCell(func(c int) {
		V := m.V[c]
		diag[c] = in.Rho.Internal[c] * V * rDeltaT
		H[c] = r3.Scale(in.Rho0.Internal[c]*V*rDeltaT, U0.Internal[c])
		if in.SU != nil {
			H[c] = r3.Add(H[c], r3.Scale(V, in.SU[c]))
		}
	})

	a.Schedule.ForEachInternalFace(func(f int) {
		P, N := m.Owner[f], m.Neighbour[f]
		F := in.Phi.Values[f]
		d := in.Mu * m.MagSf[f] * m.DeltaCoeffs[f]
		// Owner row: outflow F > 0 is implicit, inflow takes U_N
		diag[P] += math.Max(F, 0) + d
		H[P] = r3.Add(H[P], r3.Scale(math.Max(-F, 0)+d, U.Internal[N]))
		// Neighbour row sees −F
		diag[N] += math.Max(-F, 0) + d
		H[N] = r3.Add(H[N], r3.Scale(math.Max(F, 0)+d, U.Internal[P]))
	})
	for f := m.NInternalFaces; f < m.NFaces(); f++ {
		P := m.Owner[f]
		F := in.Phi.Values[f]
		Ub := U.FaceValue(f)
		diag[P] += math.Max(F, 0)
		H[P] = r3.Add(H[P], r3.Scale(math.Max(-F, 0), Ub))
		if U.BCs[m.PatchOf(f)].Type == field.FixedValue {
			d := in.Mu * m.MagSf[f] * m.DeltaCoeffs[f]
			diag[P] += d
			H[P] = r3.Add(H[P], r3.Scale(d, Ub))
		}
	}

	eq := &Equation{A: diag, H: H, a: a, u: U}
	for c := range eq.A {
		eq.A[c] /= m.V[c]
		eq.H[c] = r3.Scale(1/m.V[c], eq.H[c])
	}
	return eq, nil
}

// RAU returns 1/A with zero-gradient boundaries.
func (e *Equation) RAU() *field.VolScalar {
	if e.rAU != nil {
		return e.rAU
	}
	m := e.a.Mesh
	rAU := field.NewVolScalar("rAU", m, 0, nil)
	for c, A := range e.A {
		rAU.Internal[c] = 1 / A
	}
	rAU.CorrectBoundaryConditions()
	e.rAU = rAU
	return rAU
}

// HbyA returns H/A with the boundary conditions of U.
func (e *Equation) HbyA() *field.VolVector {
	HbyA := e.u.Clone()
	HbyA.Name = "HbyA"
	for c, A := range e.A {
		HbyA.Internal[c] = r3.Scale(1/A, e.H[c])
	}
	HbyA.CorrectBoundaryConditions()
	return HbyA
}
