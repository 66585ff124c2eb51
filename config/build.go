package config

import (
	"fmt"

	"github.com/notargets/FVFlow/control"
	"github.com/notargets/FVFlow/field"
	"github.com/notargets/FVFlow/mesh"
	"github.com/notargets/FVFlow/ops"
	"github.com/notargets/FVFlow/partitions"
	"github.com/notargets/FVFlow/pressure"
	"github.com/notargets/FVFlow/sources"
	"github.com/notargets/FVFlow/thermo"
	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/spatial/r3"
)

// Simulation is a case with its mesh and fields built and ready to step.
type Simulation struct {
	Case    *Case
	Mesh    *mesh.Mesh
	Ops     *ops.Algebra
	Fields  *pressure.Fields
	Stepper *control.Stepper
	Cloud   *sources.Cloud // Nil without parcels
	Film    *sources.Film  // Nil without a film
}

// BuildMesh creates the box or reads the mesh file.
func (c *Case) BuildMesh() (*mesh.Mesh, error) {
	if c.Mesh.Type == "file" {
		return mesh.ReadMeshFile(c.Mesh.File, nil)
	}
	return mesh.NewBox(mesh.BoxSpec{
		NX: c.Mesh.NX, NY: c.Mesh.NY, NZ: c.Mesh.NZ,
		LX: c.Mesh.LX, LY: c.Mesh.LY, LZ: c.Mesh.LZ,
		Skew: c.Mesh.Skew,
	})
}

// BuildSchedule partitions m. A single partition runs serially.
func (c *Case) BuildSchedule(m *mesh.Mesh) (*partitions.Schedule, error) {
	if c.Mesh.Partitions <= 1 {
		return partitions.SerialSchedule(m.NCells, m.Owner, m.Neighbour)
	}
	strategy, err := partitions.ParseStrategy(c.Mesh.PartitionStrategy)
	if err != nil {
		return nil, err
	}
	pb := &partitions.PartitionBuilder{
		Mesh:                &partitions.CellConnectivity{NumCells: m.NCells, Owner: m.Owner, Neighbour: m.Neighbour},
		TargetPartitionSize: partitions.NumPartitionsFor(m.NCells, c.Mesh.Partitions),
		Strategy:            strategy,
	}
	layout, err := pb.BuildPartitions()
	if err != nil {
		return nil, err
	}
	return partitions.NewSchedule(layout, m.Owner, m.Neighbour)
}

// EOS returns the equation of state of the case. A frozen density is
// initialised from rho.
func (c *Case) EOS(m *mesh.Mesh, rho *field.VolScalar) thermo.EOS {
	p := c.Physics
	if p.R > 0 {
		return thermo.PerfectGas{R: p.R, T: p.T}
	}
	for cell := range rho.Internal {
		rho.Internal[cell] = p.RhoRef + p.Stratification*m.C[cell].Z
	}
	for f := m.NInternalFaces; f < m.NFaces(); f++ {
		rho.Boundary[f-m.NInternalFaces] = p.RhoRef + p.Stratification*m.Cf[f].Z
	}
	return thermo.Freeze(rho)
}

func (c *Case) gravity() r3.Vec {
	g := c.Physics.Gravity
	return r3.Vec{X: g[0], Y: g[1], Z: g[2]}
}

// hydrostaticIterations bounds the fixed-point iteration between p and ρ of
// the initial state.
const hydrostaticIterations = 20

// Build creates the mesh, the fields at their hydrostatic initial state,
// the sources and the stepper.
func (c *Case) Build(log logrus.FieldLogger) (*Simulation, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	m, err := c.BuildMesh()
	if err != nil {
		return nil, fmt.Errorf("building mesh: %w", err)
	}
	sched, err := c.BuildSchedule(m)
	if err != nil {
		return nil, fmt.Errorf("partitioning mesh: %w", err)
	}
	a, err := ops.New(m, sched)
	if err != nil {
		return nil, err
	}

	walls := field.BCs{}
	calculated := field.BCs{}
	for _, p := range m.Patches {
		walls[p.Name] = field.BoundaryCondition{Type: field.FixedValue}
		calculated[p.Name] = field.BoundaryCondition{Type: field.Calculated}
	}
	pRghBCs := field.BCs{}
	if c.Mesh.Outlet != "" {
		if m.PatchIndex(c.Mesh.Outlet) < 0 {
			return nil, invalid("Mesh.Outlet %q is not a patch of the mesh", c.Mesh.Outlet)
		}
		delete(walls, c.Mesh.Outlet)
		pRghBCs[c.Mesh.Outlet] = field.BoundaryCondition{Type: field.FixedValue, Value: c.Physics.PRef}
	}

	gh, ghf := pressure.Gravity(m, c.gravity(), 0)
	f := &pressure.Fields{
		P:    field.NewVolScalar("p", m, c.Physics.PRef, calculated),
		PRgh: field.NewVolScalar("p_rgh", m, c.Physics.PRef, pRghBCs),
		Rho:  field.NewVolScalar("rho", m, 0, calculated),
		Psi:  field.NewVolScalar("psi", m, 0, nil),
		K:    field.NewVolScalar("K", m, 0, nil),
		Dpdt: field.NewVolScalar("dpdt", m, 0, nil),
		Gh:   gh,
		Ghf:  ghf,
		U:    field.NewVolVector("U", m, r3.Vec{}, walls),
		Phi:  field.NewSurfaceScalar("phi", m, 0),
	}
	eos := c.EOS(m, f.Rho)
	if err = hydrostatic(f, eos); err != nil {
		return nil, err
	}
	if err = eos.Psi(f.P, f.Psi); err != nil {
		return nil, err
	}

	sim := &Simulation{Case: c, Mesh: m, Ops: a, Fields: f}
	var mass []pressure.MassSource
	if pc := c.Parcels; pc.MassFlow > 0 {
		sim.Cloud = sources.NewCloud(m, sources.Injector{
			Position: r3.Vec{X: pc.Position[0], Y: pc.Position[1], Z: pc.Position[2]},
			U:        r3.Vec{X: pc.Velocity[0], Y: pc.Velocity[1], Z: pc.Velocity[2]},
			MassFlow: pc.MassFlow,
			Lifetime: pc.Lifetime,
			StartAt:  pc.Start,
			StopAt:   pc.Stop,
		})
		sim.Cloud.Log = log
		mass = append(mass, sim.Cloud)
	}
	if fc := c.Film; fc.Patch != "" {
		if sim.Film, err = sources.NewFilm(m, fc.Patch, fc.Rho, fc.Thickness, fc.EvapFlux); err != nil {
			return nil, err
		}
		mass = append(mass, sim.Film)
	}

	density := thermo.NewContinuity(a, eos)
	density.Log = log
	corr := pressure.NewCorrector(a, density, c.Solvers, pressure.Options{
		RefCell:        c.Control.RefCell,
		RefValue:       c.Control.RefValue,
		NonConvergence: c.NonConvergence(),
	}, mass...)
	corr.Log = log
	ctrl, err := control.NewController(c.LoopControls())
	if err != nil {
		return nil, err
	}
	sim.Stepper = &control.Stepper{
		Ops:      a,
		Control:  ctrl,
		Pressure: corr,
		Density:  density,
		Fields:   f,
		Cloud:    sim.Cloud,
		Film:     sim.Film,
		Mu:       c.Physics.Mu,
		DeltaT:   c.Time.DeltaT,
		Log:      log,
	}
	log.WithFields(logrus.Fields{
		"cells":      m.NCells,
		"faces":      m.NFaces(),
		"partitions": sched.NumPartitions(),
	}).Info("case built")
	return sim, nil
}

// hydrostatic sets p = p_rgh + ρ gh with ρ from the equation of state at p.
func hydrostatic(f *pressure.Fields, eos thermo.EOS) error {
	f.PRgh.CorrectBoundaryConditions()
	for it := 0; it < hydrostaticIterations; it++ {
		if err := eos.Rho(f.P, f.Rho); err != nil {
			return err
		}
		for c := range f.P.Internal {
			f.P.Internal[c] = f.PRgh.Internal[c] + f.Rho.Internal[c]*f.Gh.Internal[c]
		}
		for b := range f.P.Boundary {
			f.P.Boundary[b] = f.PRgh.Boundary[b] + f.Rho.Boundary[b]*f.Gh.Boundary[b]
		}
	}
	return eos.Rho(f.P, f.Rho)
}
