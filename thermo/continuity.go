package thermo

import (
	"fmt"
	"math"

	"github.com/notargets/FVFlow/field"
	"github.com/notargets/FVFlow/ops"
	"github.com/sirupsen/logrus"
)

// Continuity transports density with the reconciled mass flux and tracks
// the cumulative continuity error.
type Continuity struct {
	Ops *ops.Algebra
	EOS EOS
	Log logrus.FieldLogger

	cumulative float64
}

// NewContinuity returns a Continuity over a with the given equation of state.
func NewContinuity(a *ops.Algebra, eos EOS) *Continuity {
	return &Continuity{Ops: a, EOS: eos, Log: logrus.StandardLogger()}
}

// Cumulative is the running sum of the global continuity errors.
func (t *Continuity) Cumulative() float64 { return t.cumulative }

// SetCumulative resets the running total, e.g. when a step is undone.
func (t *Continuity) SetCumulative(v float64) { t.cumulative = v }

// Accumulate adds the global error of an accepted transport to the running
// total.
func (t *Continuity) Accumulate(errs ContinuityErrors) {
	t.cumulative += errs.Global
}

// ThermoRho writes the equation-of-state density at p into rho.
func (t *Continuity) ThermoRho(p, rho *field.VolScalar) error {
	return t.EOS.Rho(p, rho)
}

// UpdatePsi writes the compressibility at p into psi.
func (t *Continuity) UpdatePsi(p, psi *field.VolScalar) error {
	return t.EOS.Psi(p, psi)
}

// Transport solves ∂ρ/∂t + ∇·φ = Srho explicitly,
//
//	ρ = ρ⁰ + Δt (Srho − ∇·φ),
//
// with boundary values from the equation of state at p, and returns the
// continuity errors of ρ against that state. Negative densities are counted,
// not clipped. The returned Cumulative includes this Global, but the running
// total only moves when Accumulate is called.
func (t *Continuity) Transport(rho, rho0 *field.VolScalar, phi *field.SurfaceScalar, srho []float64,
	p *field.VolScalar, deltaT float64) (ContinuityErrors, error) {
	a := t.Ops
	m := a.Mesh
	if deltaT <= 0 {
		return ContinuityErrors{}, fmt.Errorf("invalid time step %g", deltaT)
	}
	for _, s := range []*field.VolScalar{rho, rho0, p} {
		if err := s.Check(m); err != nil {
			return ContinuityErrors{}, err
		}
	}
	if err := phi.Check(m); err != nil {
		return ContinuityErrors{}, err
	}
	if len(srho) != m.NCells {
		return ContinuityErrors{}, fmt.Errorf("mass source of %d cells for a mesh of %d: %w",
			len(srho), m.NCells, field.ErrSize)
	}

	thermoRho := rho.Clone()
	if err := t.EOS.Rho(p, thermoRho); err != nil {
		return ContinuityErrors{}, err
	}

	div := a.Div(phi)
	a.Schedule.ForEachCell(func(c int) {
		rho.Internal[c] = rho0.Internal[c] + deltaT*(srho[c]-div[c])
	})
	copy(rho.Boundary, thermoRho.Boundary)

	var errs ContinuityErrors
	diff := make([]float64, m.NCells)
	absDiff := make([]float64, m.NCells)
	for c := range diff {
		diff[c] = rho.Internal[c] - thermoRho.Internal[c]
		absDiff[c] = math.Abs(diff[c])
		if rho.Internal[c] < 0 {
			errs.NegativeCells++
		}
	}
	totalMass := a.DomainIntegrate(rho.Internal)
	if totalMass != 0 {
		errs.SumLocal = a.DomainIntegrate(absDiff) / totalMass
		errs.Global = a.DomainIntegrate(diff) / totalMass
	}
	errs.Cumulative = t.cumulative + errs.Global
	if errs.NegativeCells > 0 && t.Log != nil {
		t.Log.WithFields(logrus.Fields{
			"field": rho.Name,
			"cells": errs.NegativeCells,
		}).Debug("negative density after transport")
	}
	return errs, nil
}
