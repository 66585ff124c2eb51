package pressure

import (
	"io"
	"testing"

	"github.com/notargets/FVFlow/field"
	"github.com/notargets/FVFlow/ldu"
	"github.com/notargets/FVFlow/mesh"
	"github.com/notargets/FVFlow/ops"
	"github.com/notargets/FVFlow/partitions"
	"github.com/notargets/FVFlow/solver"
	"github.com/notargets/FVFlow/thermo"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"
)

type stubMomentum struct {
	rAU  *field.VolScalar
	hbyA *field.VolVector
}

func (s *stubMomentum) RAU() *field.VolScalar  { return s.rAU }
func (s *stubMomentum) HbyA() *field.VolVector { return s.hbyA }

// fixedPolicy runs passes non-orthogonal passes with the last one final.
type fixedPolicy struct {
	passes int
	pass   int
}

func (p *fixedPolicy) CorrectNonOrthogonal() bool {
	p.pass++
	return p.pass <= p.passes
}
func (p *fixedPolicy) FinalNonOrthogonalIter() bool { return p.pass == p.passes }
func (p *fixedPolicy) FinalInnerIter() bool         { return p.FinalNonOrthogonalIter() }

// neverFinal runs passes without ever flagging one as final.
type neverFinal struct{ pass int }

func (p *neverFinal) CorrectNonOrthogonal() bool   { p.pass++; return p.pass <= 2 }
func (p *neverFinal) FinalNonOrthogonalIter() bool { return false }
func (p *neverFinal) FinalInnerIter() bool         { return false }

// watchSolver checks on every call that the persistent flux and the matrix
// coefficients have not changed since the first call.
type watchSolver struct {
	t      *testing.T
	phi    *field.SurfaceScalar
	phi0   []float64
	matrix *ldu.Matrix
	calls  int
}

func (w *watchSolver) Solve(A *ldu.Matrix, x, b []float64, ctrl solver.Controls) (solver.Performance, error) {
	w.calls++
	assert.Equal(w.t, w.phi0, w.phi.Values, "persistent flux changed before solve %d", w.calls)
	if w.matrix == nil {
		w.matrix = A.Clone()
	} else {
		assert.Equal(w.t, w.matrix.Diag, A.Diag, "solve %d", w.calls)
		assert.Equal(w.t, w.matrix.Upper, A.Upper, "solve %d", w.calls)
		assert.Equal(w.t, w.matrix.Lower, A.Lower, "solve %d", w.calls)
	}
	return solver.Solve(A, x, b, ctrl)
}

type testCase struct {
	a       *ops.Algebra
	f       *Fields
	mom     *stubMomentum
	density *thermo.Continuity
	corr    *Corrector
}

type caseSpec struct {
	box   mesh.BoxSpec
	parts int
	g     r3.Vec
	// rho gives the frozen density at a point; nil selects a perfect gas.
	rho     func(x r3.Vec) float64
	pRgh    float64
	pRghBCs field.BCs
	U       r3.Vec
	uBCs    field.BCs // Walls on every patch if nil
}

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func tightControls() solver.Dictionary {
	ctrl := solver.Controls{Solver: "PCG", Preconditioner: "DIC", Tolerance: 1e-13, MaxIter: 2000}
	return solver.Dictionary{"p_rgh": ctrl, "p_rghFinal": ctrl}
}

func newCase(t *testing.T, cs caseSpec) *testCase {
	t.Helper()
	m, err := mesh.NewBox(cs.box)
	require.NoError(t, err)
	var s *partitions.Schedule
	if cs.parts > 1 {
		pb := &partitions.PartitionBuilder{
			Mesh:                &partitions.CellConnectivity{NumCells: m.NCells, Owner: m.Owner, Neighbour: m.Neighbour},
			TargetPartitionSize: partitions.NumPartitionsFor(m.NCells, cs.parts),
			Strategy:            partitions.GraphPartition,
		}
		layout, err := pb.BuildPartitions()
		require.NoError(t, err)
		s, err = partitions.NewSchedule(layout, m.Owner, m.Neighbour)
		require.NoError(t, err)
	}
	a, err := ops.New(m, s)
	require.NoError(t, err)

	calculated := field.BCs{}
	walls := field.BCs{}
	for _, p := range m.Patches {
		calculated[p.Name] = field.BoundaryCondition{Type: field.Calculated}
		walls[p.Name] = field.BoundaryCondition{Type: field.FixedValue}
	}
	uBCs := cs.uBCs
	if uBCs == nil {
		uBCs = walls
	}

	gh, ghf := Gravity(m, cs.g, 0)
	pRgh := field.NewVolScalar("p_rgh", m, cs.pRgh, cs.pRghBCs)
	rho := field.NewVolScalar("rho", m, 0, nil)
	psi := field.NewVolScalar("psi", m, 0, nil)

	var eos thermo.EOS
	if cs.rho != nil {
		for c := range rho.Internal {
			rho.Internal[c] = cs.rho(m.C[c])
		}
		rho.CorrectBoundaryConditions()
		eos = thermo.Freeze(rho)
	} else {
		gas := thermo.PerfectGas{R: 287, T: 300}
		p := field.NewVolScalar("p", m, cs.pRgh, nil)
		require.NoError(t, gas.Rho(p, rho))
		require.NoError(t, gas.Psi(p, psi))
		eos = gas
	}

	P := field.NewVolScalar("p", m, 0, calculated)
	for c := range P.Internal {
		P.Internal[c] = pRgh.Internal[c] + rho.Internal[c]*gh.Internal[c]
	}
	for b := range P.Boundary {
		P.Boundary[b] = pRgh.Boundary[b] + rho.Boundary[b]*gh.Boundary[b]
	}

	U := field.NewVolVector("U", m, cs.U, uBCs)
	rhoU := U.Clone()
	for c := range rhoU.Internal {
		rhoU.Internal[c] = r3.Scale(rho.Internal[c], U.Internal[c])
	}
	for b := range rhoU.Boundary {
		rhoU.Boundary[b] = r3.Scale(rho.Boundary[b], U.Boundary[b])
	}
	phi := a.FluxOf(rhoU)
	phi.Name = "phi"

	K := field.NewVolScalar("K", m, 0, nil)
	for c, u := range U.Internal {
		K.Internal[c] = 0.5 * r3.Dot(u, u)
	}
	for b, u := range U.Boundary {
		K.Boundary[b] = 0.5 * r3.Dot(u, u)
	}

	f := &Fields{
		P:    P,
		PRgh: pRgh,
		Rho:  rho,
		Psi:  psi,
		K:    K,
		Dpdt: field.NewVolScalar("dpdt", m, 0, nil),
		Gh:   gh,
		Ghf:  ghf,
		U:    U,
		Phi:  phi,
	}
	for _, s := range []*field.VolScalar{f.P, f.PRgh, f.Rho, f.Psi} {
		s.StoreOld()
	}
	f.U.StoreOld()
	f.Phi.StoreOld()

	hbyA := U.Clone()
	hbyA.Name = "HbyA"
	mom := &stubMomentum{rAU: field.NewVolScalar("rAU", m, 0.1, nil), hbyA: hbyA}

	density := thermo.NewContinuity(a, eos)
	density.Log = quietLogger()
	corr := NewCorrector(a, density, tightControls(), Options{})
	corr.Log = quietLogger()
	return &testCase{a: a, f: f, mom: mom, density: density, corr: corr}
}

// snapshot is a deep copy of every persistent field.
type snapshot struct {
	P, PRgh, Rho, K, Dpdt *field.VolScalar
	U                     *field.VolVector
	Phi                   *field.SurfaceScalar
}

func takeSnapshot(f *Fields) snapshot {
	return snapshot{
		P: f.P.Clone(), PRgh: f.PRgh.Clone(), Rho: f.Rho.Clone(), K: f.K.Clone(), Dpdt: f.Dpdt.Clone(),
		U: f.U.Clone(), Phi: f.Phi.Clone(),
	}
}

func (s snapshot) assertUnchanged(t *testing.T, f *Fields) {
	t.Helper()
	assert.Equal(t, s.P.Internal, f.P.Internal)
	assert.Equal(t, s.P.Boundary, f.P.Boundary)
	assert.Equal(t, s.PRgh.Internal, f.PRgh.Internal)
	assert.Equal(t, s.PRgh.Boundary, f.PRgh.Boundary)
	assert.Equal(t, s.Rho.Internal, f.Rho.Internal)
	assert.Equal(t, s.K.Internal, f.K.Internal)
	assert.Equal(t, s.Dpdt.Internal, f.Dpdt.Internal)
	assert.Equal(t, s.U.Internal, f.U.Internal)
	assert.Equal(t, s.U.Boundary, f.U.Boundary)
	assert.Equal(t, s.Phi.Values, f.Phi.Values)
}
