package pressure

import (
	"fmt"

	"github.com/notargets/FVFlow/field"
	"github.com/notargets/FVFlow/thermo"
)

// Policy is the outer controller's view of the non-orthogonal loop.
type Policy interface {
	// CorrectNonOrthogonal advances the loop and reports whether another
	// pass should run.
	CorrectNonOrthogonal() bool
	// FinalNonOrthogonalIter reports whether the current pass is the last.
	FinalNonOrthogonalIter() bool
	// FinalInnerIter selects the final-iteration solver controls.
	FinalInnerIter() bool
}

// CorrectionState is the state of one non-orthogonal pass.
type CorrectionState uint8

const (
	Correcting CorrectionState = iota
	FinalIteration
)

func (s CorrectionState) String() string {
	switch s {
	case Correcting:
		return "correcting"
	case FinalIteration:
		return "final"
	}
	return fmt.Sprintf("CorrectionState(%d)", uint8(s))
}

// Momentum supplies the momentum predictor's reciprocal diagonal and the
// velocity estimate H/A.
type Momentum interface {
	RAU() *field.VolScalar
	HbyA() *field.VolVector
}

// MassSource is a per-cell mass source in kg m⁻³ s⁻¹.
type MassSource interface {
	Srho() []float64
}

// DensityModel is the density/continuity collaborator.
type DensityModel interface {
	// ThermoRho writes the equation-of-state density at pressure p into rho.
	ThermoRho(p, rho *field.VolScalar) error
	// Transport solves the continuity equation for rho from rho0 with the
	// reconciled flux and mass source, and reports the continuity errors
	// against the equation of state at pressure p.
	Transport(rho, rho0 *field.VolScalar, phi *field.SurfaceScalar, srho []float64,
		p *field.VolScalar, deltaT float64) (thermo.ContinuityErrors, error)
	// Accumulate adds the errors of a committed correction to the running
	// cumulative error.
	Accumulate(errs thermo.ContinuityErrors)
}
