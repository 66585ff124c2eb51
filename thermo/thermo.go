// Package thermo provides equations of state and the density transport
// used by the pressure corrector.
package thermo

import (
	"errors"
	"fmt"

	"github.com/notargets/FVFlow/field"
)

// ErrInvalidState is returned for a non-physical thermodynamic state.
var ErrInvalidState = errors.New("invalid thermodynamic state")

// ContinuityErrors compares the transported density with the equation of
// state, normalised by the total mass.
type ContinuityErrors struct {
	SumLocal      float64 // ∫|ρ − ρ_thermo| / ∫ρ
	Global        float64 // ∫(ρ − ρ_thermo) / ∫ρ
	Cumulative    float64 // Running sum of Global
	NegativeCells int
}

func (e ContinuityErrors) String() string {
	return fmt.Sprintf("time step continuity errors : sum local = %g, global = %g, cumulative = %g",
		e.SumLocal, e.Global, e.Cumulative)
}

// EOS is an equation of state ρ(p).
type EOS interface {
	// Rho writes ρ(p) into rho, cells and boundary faces.
	Rho(p, rho *field.VolScalar) error
	// Psi writes the compressibility ∂ρ/∂p into psi.
	Psi(p, psi *field.VolScalar) error
}

// PerfectGas is an isothermal perfect gas: ψ = 1/(RT), ρ = ψ p.
type PerfectGas struct {
	R float64 // Specific gas constant, J kg⁻¹ K⁻¹
	T float64 // Temperature, K
}

func (g PerfectGas) psi() (float64, error) {
	if g.R <= 0 || g.T <= 0 {
		return 0, fmt.Errorf("perfect gas R = %g, T = %g: %w", g.R, g.T, ErrInvalidState)
	}
	return 1 / (g.R * g.T), nil
}

func (g PerfectGas) Rho(p, rho *field.VolScalar) error {
	psi, err := g.psi()
	if err != nil {
		return err
	}
	if err = sameShape(p, rho); err != nil {
		return err
	}
	for c, v := range p.Internal {
		rho.Internal[c] = psi * v
	}
	for b, v := range p.Boundary {
		rho.Boundary[b] = psi * v
	}
	return nil
}

func (g PerfectGas) Psi(p, psi *field.VolScalar) error {
	v, err := g.psi()
	if err != nil {
		return err
	}
	if err = sameShape(p, psi); err != nil {
		return err
	}
	fill(psi, v)
	return nil
}

// FrozenDensity is an incompressible state with a fixed, possibly
// stratified, density: ψ = 0 and ρ does not depend on p.
type FrozenDensity struct {
	Internal []float64
	Boundary []float64
}

// Freeze captures the current values of rho.
func Freeze(rho *field.VolScalar) FrozenDensity {
	return FrozenDensity{
		Internal: append([]float64(nil), rho.Internal...),
		Boundary: append([]float64(nil), rho.Boundary...),
	}
}

func (d FrozenDensity) Rho(p, rho *field.VolScalar) error {
	if len(d.Internal) != len(rho.Internal) || len(d.Boundary) != len(rho.Boundary) {
		return fmt.Errorf("frozen density of %d cells for %s of %d: %w",
			len(d.Internal), rho.Name, len(rho.Internal), field.ErrSize)
	}
	copy(rho.Internal, d.Internal)
	copy(rho.Boundary, d.Boundary)
	return nil
}

func (d FrozenDensity) Psi(p, psi *field.VolScalar) error {
	fill(psi, 0)
	return nil
}

func sameShape(a, b *field.VolScalar) error {
	if len(a.Internal) != len(b.Internal) || len(a.Boundary) != len(b.Boundary) {
		return fmt.Errorf("%s and %s differ in size: %w", a.Name, b.Name, field.ErrSize)
	}
	return nil
}

func fill(s *field.VolScalar, v float64) {
	for i := range s.Internal {
		s.Internal[i] = v
	}
	for i := range s.Boundary {
		s.Boundary[i] = v
	}
}
