// Package pressure solves the dynamic-pressure (p_rgh) equation of a
// compressible buoyant flow and reconciles the mass flux, pressure, density
// and velocity with its solution.
package pressure

import (
	"fmt"

	"github.com/notargets/FVFlow/field"
	"github.com/notargets/FVFlow/mesh"
	"github.com/notargets/FVFlow/ops"
	"github.com/notargets/FVFlow/solver"
	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/spatial/r3"
)

// Fields are the persistent fields one correction reads and updates. Old
// time levels are reached through Old(); store them once per time step
// before the first correction.
type Fields struct {
	P    *field.VolScalar // Static pressure
	PRgh *field.VolScalar // p − ρ gh
	Rho  *field.VolScalar
	Psi  *field.VolScalar // Compressibility ∂ρ/∂p
	K    *field.VolScalar // Optional, ½|U|²
	Dpdt *field.VolScalar // Optional, ∂p/∂t
	Gh   *field.VolScalar
	U    *field.VolVector
	Phi  *field.SurfaceScalar // Mass flux
	Ghf  *field.SurfaceScalar
}

func (f *Fields) validate(m *mesh.Mesh) error {
	if f == nil {
		return fmt.Errorf("fields: %w", ErrMissingField)
	}
	required := []struct {
		name string
		set  bool
	}{
		{"p", f.P != nil}, {"p_rgh", f.PRgh != nil}, {"rho", f.Rho != nil},
		{"psi", f.Psi != nil}, {"gh", f.Gh != nil}, {"U", f.U != nil},
		{"phi", f.Phi != nil}, {"ghf", f.Ghf != nil},
	}
	for _, r := range required {
		if !r.set {
			return fmt.Errorf("%s: %w", r.name, ErrMissingField)
		}
	}
	for _, s := range []*field.VolScalar{f.P, f.P.Old(), f.PRgh, f.PRgh.Old(), f.Rho, f.Rho.Old(),
		f.Psi, f.Psi.Old(), f.K, f.Dpdt, f.Gh} {
		if err := s.Check(m); err != nil {
			return fmt.Errorf("%v: %w", err, ErrFieldSize)
		}
	}
	for _, v := range []*field.VolVector{f.U, f.U.Old()} {
		if err := v.Check(m); err != nil {
			return fmt.Errorf("%v: %w", err, ErrFieldSize)
		}
	}
	for _, s := range []*field.SurfaceScalar{f.Phi, f.Phi.Old(), f.Ghf} {
		if err := s.Check(m); err != nil {
			return fmt.Errorf("%v: %w", err, ErrFieldSize)
		}
	}
	return nil
}

// Options configure a Corrector.
type Options struct {
	FieldName      string // Solver dictionary key, "p_rgh" if empty
	RefCell        int
	RefValue       float64
	NonConvergence NonConvergence
}

// Corrector runs the pressure correction of one corrector iteration.
type Corrector struct {
	Ops      *ops.Algebra
	Solver   solver.Solver
	Controls solver.Dictionary
	Density  DensityModel
	Sources  []MassSource
	Options  Options
	Log      logrus.FieldLogger
}

// NewCorrector returns a Corrector using the default linear solvers.
func NewCorrector(a *ops.Algebra, density DensityModel, controls solver.Dictionary,
	opts Options, sources ...MassSource) *Corrector {
	return &Corrector{
		Ops:      a,
		Solver:   solver.Default,
		Controls: controls,
		Density:  density,
		Sources:  sources,
		Options:  opts,
		Log:      logrus.StandardLogger(),
	}
}

func (c *Corrector) fieldName() string {
	if c.Options.FieldName == "" {
		return "p_rgh"
	}
	return c.Options.FieldName
}

func (c *Corrector) logger() logrus.FieldLogger {
	if c.Log == nil {
		return logrus.StandardLogger()
	}
	return c.Log
}

// sourceTotal sums the mass sources into one per-cell field.
func (c *Corrector) sourceTotal(nCells int) ([]float64, error) {
	total := make([]float64, nCells)
	for i, s := range c.Sources {
		if s == nil {
			return nil, fmt.Errorf("mass source %d: %w", i, ErrMissingField)
		}
		srho := s.Srho()
		if len(srho) != nCells {
			return nil, fmt.Errorf("mass source %d has %d cells for a mesh of %d: %w",
				i, len(srho), nCells, ErrFieldSize)
		}
		for cell, v := range srho {
			total[cell] += v
		}
	}
	return total, nil
}

// Correct assembles and solves the p_rgh equation, with as many
// non-orthogonal passes as pol asks for, then rebuilds phi, p, rho, U, K and
// dpdt. The persistent fields in f are written only after every step has
// succeeded; on error they are left as they were.
func (c *Corrector) Correct(f *Fields, mom Momentum, pol Policy, deltaT float64) (*Report, error) {
	if c.Ops == nil || c.Density == nil {
		return nil, fmt.Errorf("corrector collaborators: %w", ErrMissingField)
	}
	if c.Solver == nil {
		c.Solver = solver.Default
	}
	a := c.Ops
	m := a.Mesh
	log := c.logger()
	name := c.fieldName()

	if err := f.validate(m); err != nil {
		return nil, err
	}
	if mom == nil || pol == nil {
		return nil, fmt.Errorf("momentum or loop policy: %w", ErrMissingField)
	}
	rAU, HbyA := mom.RAU(), mom.HbyA()
	if rAU == nil || HbyA == nil {
		return nil, fmt.Errorf("rAU or HbyA: %w", ErrMissingField)
	}
	if err := rAU.Check(m); err != nil {
		return nil, fmt.Errorf("%v: %w", err, ErrFieldSize)
	}
	if err := HbyA.Check(m); err != nil {
		return nil, fmt.Errorf("%v: %w", err, ErrFieldSize)
	}
	if deltaT <= 0 {
		return nil, fmt.Errorf("invalid time step %g", deltaT)
	}
	if _, err := c.Controls.Select(name, false); err != nil {
		return nil, err
	}
	srho, err := c.sourceTotal(m.NCells)
	if err != nil {
		return nil, err
	}

	rho := f.Rho.Clone()
	if err = c.Density.ThermoRho(f.P, rho); err != nil {
		return nil, fmt.Errorf("equation of state: %w", err)
	}
	rhorAUf := a.Interpolate(field.Product("rhorAU", rho, rAU))
	phiU := PredictFlux(a, rho, rAU, HbyA, f.Rho.Old(), f.U.Old(), f.Phi.Old(), deltaT)
	phiHbyA := HydrostaticCorrection(a, phiU, rhorAUf, f.Ghf, rho, f.PRgh)

	builder := &EquationBuilder{Ops: a, RefCell: c.Options.RefCell, RefValue: c.Options.RefValue}
	eqn, err := builder.Build(&EquationInputs{
		PRgh:    f.PRgh,
		Psi:     f.Psi,
		Rho:     rho,
		Rho0:    f.Rho.Old(),
		Gh:      f.Gh,
		Phi:     phiHbyA,
		RhorAUf: rhorAUf,
		Sources: [][]float64{srho},
		DeltaT:  deltaT,
	})
	if err != nil {
		return nil, err
	}

	report := &Report{}
	pRgh := f.PRgh.Clone()
	var phi *field.SurfaceScalar
	for pol.CorrectNonOrthogonal() {
		report.NonOrthIterations++
		state := Correcting
		if pol.FinalNonOrthogonalIter() {
			state = FinalIteration
		}
		eqn.RefreshExplicit(pRgh)
		ctrl, err := c.Controls.Select(name, pol.FinalInnerIter())
		if err != nil {
			return nil, err
		}
		perf, err := c.Solver.Solve(eqn.Matrix(), pRgh.Internal, eqn.Source(), ctrl)
		if err != nil {
			return nil, fmt.Errorf("solving %s: %w", name, err)
		}
		perf.Field = name
		pRgh.CorrectBoundaryConditions()
		report.Solves = append(report.Solves, perf)
		log.WithFields(logrus.Fields{
			"solver":     perf.Solver,
			"field":      perf.Field,
			"initial":    perf.InitialResidual,
			"final":      perf.FinalResidual,
			"iterations": perf.NIterations,
			"pass":       state,
		}).Info("pressure solve")

		if state == FinalIteration {
			phi = phiHbyA.Clone()
			phi.Name = f.Phi.Name
			flux := eqn.Flux(pRgh.Internal)
			for face := range phi.Values {
				phi.Values[face] += flux[face]
			}
		}
	}
	if phi == nil {
		return nil, fmt.Errorf("non-orthogonal loop ended after %d passes without a final pass",
			report.NonOrthIterations)
	}

	if !report.Converged() {
		switch c.Options.NonConvergence {
		case Fail:
			return report, fmt.Errorf("%s: %w", name, solver.ErrNotConverged)
		case ReportDegraded:
			report.Degraded = true
		}
		last, _ := report.Final()
		log.WithFields(logrus.Fields{
			"field": name,
			"final": last.FinalResidual,
			"tol":   ctrlTolerance(c.Controls, name),
		}).Warn("pressure solve did not converge")
	}

	p := f.P.Clone()
	for cell := range p.Internal {
		p.Internal[cell] = pRgh.Internal[cell] + rho.Internal[cell]*f.Gh.Internal[cell]
	}
	for b := range p.Boundary {
		p.Boundary[b] = pRgh.Boundary[b] + rho.Boundary[b]*f.Gh.Boundary[b]
	}

	rhoNew := f.Rho.Clone()
	cont, err := c.Density.Transport(rhoNew, f.Rho.Old(), phi, srho, p, deltaT)
	if err != nil {
		return nil, fmt.Errorf("density transport: %w", err)
	}
	report.Continuity = cont
	log.WithFields(logrus.Fields{
		"sumLocal":   cont.SumLocal,
		"global":     cont.Global,
		"cumulative": cont.Cumulative,
	}).Info("time step continuity errors")
	if cont.NegativeCells > 0 {
		log.WithField("cells", cont.NegativeCells).Warn("negative density")
	}

	U, err := c.reconstructVelocity(f.U, HbyA, rAU, phi, phiU, rhorAUf)
	if err != nil {
		return nil, err
	}

	var K, dpdt *field.VolScalar
	if f.K != nil {
		K = f.K.Clone()
		for cell, u := range U.Internal {
			K.Internal[cell] = 0.5 * r3.Dot(u, u)
		}
		for b, u := range U.Boundary {
			K.Boundary[b] = 0.5 * r3.Dot(u, u)
		}
	}
	if f.Dpdt != nil {
		dpdt = f.Dpdt.Clone()
		p0 := f.P.Old()
		copy(dpdt.Internal, a.Ddt(p.Internal, p0.Internal, deltaT))
		for b := range dpdt.Boundary {
			dpdt.Boundary[b] = (p.Boundary[b] - p0.Boundary[b]) / deltaT
		}
	}

	// Every field was sized against the mesh above, so the copies cannot fail.
	commit := []error{
		f.PRgh.CopyFrom(pRgh),
		f.Phi.CopyFrom(phi),
		f.P.CopyFrom(p),
		f.Rho.CopyFrom(rhoNew),
		f.U.CopyFrom(U),
	}
	if K != nil {
		commit = append(commit, f.K.CopyFrom(K))
	}
	if dpdt != nil {
		commit = append(commit, f.Dpdt.CopyFrom(dpdt))
	}
	for _, err := range commit {
		if err != nil {
			return nil, err
		}
	}
	c.Density.Accumulate(cont)
	return report, nil
}

// reconstructVelocity returns U = HbyA + rAU reconstruct((phi − phiU)/(ρ rAU)_f)
// with U's boundary conditions applied.
func (c *Corrector) reconstructVelocity(U0, HbyA *field.VolVector, rAU *field.VolScalar,
	phi, phiU, rhorAUf *field.SurfaceScalar) (*field.VolVector, error) {
	a := c.Ops
	dphi := field.NewSurfaceScalar("dphi", a.Mesh, 0)
	for face := range dphi.Values {
		if g := rhorAUf.Values[face]; g != 0 {
			dphi.Values[face] = (phi.Values[face] - phiU.Values[face]) / g
		}
	}
	rec, err := a.Reconstruct(dphi)
	if err != nil {
		return nil, fmt.Errorf("velocity reconstruction: %w", err)
	}
	U := U0.Clone()
	a.Schedule.ForEachCell(func(cell int) {
		U.Internal[cell] = r3.Add(HbyA.Internal[cell], r3.Scale(rAU.Internal[cell], rec[cell]))
	})
	U.CorrectBoundaryConditions()
	return U, nil
}

func ctrlTolerance(d solver.Dictionary, name string) float64 {
	ctrl, err := d.Select(name, true)
	if err != nil {
		return 0
	}
	return ctrl.Tolerance
}
