package pressure

import (
	"errors"
	"fmt"

	"github.com/notargets/FVFlow/field"
	"github.com/notargets/FVFlow/ldu"
	"github.com/notargets/FVFlow/ops"
)

var (
	// ErrFieldSize is returned when an input does not match the mesh.
	ErrFieldSize = errors.New("field size does not match mesh")
	// ErrMissingField is returned when a required input is nil.
	ErrMissingField = errors.New("missing field")
)

// EquationInputs are the terms of the dynamic-pressure equation
//
//	ddt(ψρ)·gh + div(phi) + ddt(ψ p_rgh) − laplacian((ρ rAU)_f, p_rgh) = Σ Srho
//
// Old time levels are taken from PRgh.Old() and Psi.Old(); Rho0 is given
// explicitly since Rho is usually a scratch copy.
type EquationInputs struct {
	PRgh    *field.VolScalar
	Psi     *field.VolScalar
	Rho     *field.VolScalar
	Rho0    *field.VolScalar
	Gh      *field.VolScalar
	Phi     *field.SurfaceScalar // Flux after the hydrostatic correction
	RhorAUf *field.SurfaceScalar
	Sources [][]float64 // Per-cell mass sources, summed
	DeltaT  float64
}

// EquationBuilder assembles the dynamic-pressure equation.
type EquationBuilder struct {
	Ops      *ops.Algebra
	RefCell  int
	RefValue float64
}

// Equation holds the implicit coefficients, which are never modified after
// Build, and the right-hand side, whose explicit non-orthogonal part is
// recomputed by RefreshExplicit.
type Equation struct {
	ops    *ops.Algebra
	matrix *ldu.Matrix

	gammaMagSf []float64 // (ρ rAU)_f |S_f|
	base       []float64 // Source without the non-orthogonal correction
	source     []float64
	corrFlux   []float64 // Explicit non-orthogonal flux of the last refresh

	referenced bool
}

func (eb *EquationBuilder) validate(in *EquationInputs) error {
	a := eb.Ops
	if a == nil || a.Mesh == nil {
		return fmt.Errorf("field algebra: %w", ErrMissingField)
	}
	m := a.Mesh
	vols := []struct {
		name string
		f    *field.VolScalar
	}{
		{"p_rgh", in.PRgh}, {"psi", in.Psi}, {"rho", in.Rho}, {"rho_0", in.Rho0}, {"gh", in.Gh},
	}
	for _, v := range vols {
		if v.f == nil {
			return fmt.Errorf("%s: %w", v.name, ErrMissingField)
		}
		if err := v.f.Check(m); err != nil {
			return fmt.Errorf("%v: %w", err, ErrFieldSize)
		}
	}
	for _, v := range []*field.VolScalar{in.PRgh.Old(), in.Psi.Old()} {
		if err := v.Check(m); err != nil {
			return fmt.Errorf("%v: %w", err, ErrFieldSize)
		}
	}
	surfs := []struct {
		name string
		f    *field.SurfaceScalar
	}{
		{"phi", in.Phi}, {"rhorAUf", in.RhorAUf},
	}
	for _, s := range surfs {
		if s.f == nil {
			return fmt.Errorf("%s: %w", s.name, ErrMissingField)
		}
		if err := s.f.Check(m); err != nil {
			return fmt.Errorf("%v: %w", err, ErrFieldSize)
		}
	}
	for i, s := range in.Sources {
		if s == nil {
			return fmt.Errorf("mass source %d: %w", i, ErrMissingField)
		}
		if len(s) != m.NCells {
			return fmt.Errorf("mass source %d has %d cells for a mesh of %d: %w", i, len(s), m.NCells, ErrFieldSize)
		}
	}
	if in.DeltaT <= 0 {
		return fmt.Errorf("invalid time step %g", in.DeltaT)
	}
	return nil
}

// needsReference reports whether the system is singular without a
// reference level: no fixed-value pressure boundary and ψ ≡ 0.
func needsReference(in *EquationInputs) bool {
	if in.PRgh.HasFixedValue() {
		return false
	}
	psi, psi0 := in.Psi.Internal, in.Psi.Old().Internal
	for c := range psi {
		if psi[c] != 0 || psi0[c] != 0 {
			return false
		}
	}
	return true
}

// Build validates every input and assembles the equation. Nothing passed in
// is modified.
func (eb *EquationBuilder) Build(in *EquationInputs) (*Equation, error) {
	if in == nil {
		return nil, fmt.Errorf("equation inputs: %w", ErrMissingField)
	}
	if err := eb.validate(in); err != nil {
		return nil, err
	}
	a := eb.Ops
	m := a.Mesh
	reference := needsReference(in)
	if reference && (eb.RefCell < 0 || eb.RefCell >= m.NCells) {
		return nil, fmt.Errorf("reference cell %d out of range [0,%d)", eb.RefCell, m.NCells)
	}

	A, err := ldu.NewLaplacian(m, in.RhorAUf.Values, in.PRgh)
	if err != nil {
		return nil, err
	}

	rDeltaT := 1 / in.DeltaT
	psi, psi0 := in.Psi.Internal, in.Psi.Old().Internal
	pRgh0 := in.PRgh.Old().Internal
	rho, rho0 := in.Rho.Internal, in.Rho0.Internal
	gh := in.Gh.Internal
	divPhi := a.SurfaceSum(in.Phi)

	a.Schedule.ForEachCell(func(c int) {
		V := m.V[c]
		A.Diag[c] += rDeltaT * psi[c] * V
		b := rDeltaT * psi0[c] * pRgh0[c] * V
		b -= rDeltaT * (psi[c]*rho[c] - psi0[c]*rho0[c]) * gh[c] * V
		b -= divPhi[c]
		for _, s := range in.Sources {
			b += s[c] * V
		}
		A.Source[c] += b
	})
	if reference {
		if err = A.SetReference(eb.RefCell, eb.RefValue); err != nil {
			return nil, err
		}
	}

	eqn := &Equation{
		ops:        a,
		matrix:     A,
		gammaMagSf: make([]float64, m.NFaces()),
		base:       append([]float64(nil), A.Source...),
		source:     append([]float64(nil), A.Source...),
		corrFlux:   make([]float64, m.NFaces()),
		referenced: reference,
	}
	for f := range eqn.gammaMagSf {
		eqn.gammaMagSf[f] = in.RhorAUf.Values[f] * m.MagSf[f]
	}
	return eqn, nil
}

// Matrix returns the implicit coefficients. Callers must not modify them.
func (e *Equation) Matrix() *ldu.Matrix { return e.matrix }

// Source returns the current right-hand side.
func (e *Equation) Source() []float64 { return e.source }

// Referenced reports whether a reference level was imposed.
func (e *Equation) Referenced() bool { return e.referenced }

// RefreshExplicit recomputes the non-orthogonal correction from x and
// rebuilds the right-hand side from the base source.
func (e *Equation) RefreshExplicit(x *field.VolScalar) {
	a := e.ops
	m := a.Mesh
	kGrad := a.NonOrthCorrection(a.Grad(x))
	copy(e.source, e.base)
	for f := range e.corrFlux {
		e.corrFlux[f] = e.gammaMagSf[f] * kGrad[f]
	}
	a.Schedule.ForEachInternalFace(func(f int) {
		e.source[m.Owner[f]] += e.corrFlux[f]
		e.source[m.Neighbour[f]] -= e.corrFlux[f]
	})
}

// Flux returns the flux of the equation for solution x: the implicit face
// flux minus the explicit non-orthogonal part of the last refresh.
func (e *Equation) Flux(x []float64) []float64 {
	flux := e.matrix.FaceFlux(x)
	for f := range flux {
		flux[f] -= e.corrFlux[f]
	}
	return flux
}
