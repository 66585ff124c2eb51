package pressure

import (
	"testing"

	"github.com/notargets/FVFlow/field"
	"github.com/notargets/FVFlow/mesh"
	"github.com/notargets/FVFlow/solver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"
)

func equationInputs(tc *testCase) *EquationInputs {
	a := tc.a
	f := tc.f
	rhorAUf := a.Interpolate(field.Product("rhorAU", f.Rho, tc.mom.rAU))
	return &EquationInputs{
		PRgh:    f.PRgh,
		Psi:     f.Psi,
		Rho:     f.Rho,
		Rho0:    f.Rho.Old(),
		Gh:      f.Gh,
		Phi:     f.Phi,
		RhorAUf: rhorAUf,
		DeltaT:  dt,
	}
}

func TestBuildReference(t *testing.T) {
	tests := []struct {
		name       string
		cs         caseSpec
		referenced bool
	}{
		{"closed incompressible", caseSpec{box: cube, rho: uniformRho}, true},
		{"fixed pressure", caseSpec{box: cube, rho: uniformRho,
			pRghBCs: field.BCs{mesh.XMax: {Type: field.FixedValue, Value: 1}}}, false},
		{"compressible", caseSpec{box: cube, pRgh: 1e5}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tc := newCase(t, tt.cs)
			in := equationInputs(tc)
			eqn, err := (&EquationBuilder{Ops: tc.a, RefCell: 0, RefValue: 3}).Build(in)
			require.NoError(t, err)
			assert.Equal(t, tt.referenced, eqn.Referenced())
			assert.True(t, eqn.Matrix().Symmetric())

			_, err = (&EquationBuilder{Ops: tc.a, RefCell: tc.a.Mesh.NCells}).Build(in)
			if tt.referenced {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestBuildValidates(t *testing.T) {
	tc := newCase(t, caseSpec{box: cube, rho: uniformRho})
	b := &EquationBuilder{Ops: tc.a}

	_, err := b.Build(nil)
	assert.ErrorIs(t, err, ErrMissingField)

	in := equationInputs(tc)
	in.Gh = nil
	_, err = b.Build(in)
	assert.ErrorIs(t, err, ErrMissingField)

	in = equationInputs(tc)
	in.RhorAUf = &field.SurfaceScalar{Name: "rhorAUf", Values: make([]float64, 2)}
	_, err = b.Build(in)
	assert.ErrorIs(t, err, ErrFieldSize)

	in = equationInputs(tc)
	in.Sources = [][]float64{make([]float64, 5)}
	_, err = b.Build(in)
	assert.ErrorIs(t, err, ErrFieldSize)

	in = equationInputs(tc)
	in.DeltaT = -1
	_, err = b.Build(in)
	assert.Error(t, err)

	_, err = (&EquationBuilder{}).Build(equationInputs(tc))
	assert.ErrorIs(t, err, ErrMissingField)
}

func TestRefreshExplicitKeepsCoefficients(t *testing.T) {
	tc := newCase(t, caseSpec{box: skewed, rho: uniformRho,
		pRghBCs: field.BCs{mesh.ZMin: {Type: field.FixedValue}}})
	m := tc.a.Mesh
	in := equationInputs(tc)
	phiBefore := append([]float64(nil), in.Phi.Values...)
	eqn, err := (&EquationBuilder{Ops: tc.a}).Build(in)
	require.NoError(t, err)
	A := eqn.Matrix().Clone()
	base := append([]float64(nil), eqn.Source()...)

	// A linear field has a non-zero correction on a skewed mesh
	x := field.NewVolScalar("p_rgh", m, 0, nil)
	for c := range x.Internal {
		x.Internal[c] = m.C[c].X + 2*m.C[c].Y
	}
	x.CorrectBoundaryConditions()
	eqn.RefreshExplicit(x)
	assert.NotEqual(t, base, eqn.Source())
	assert.Equal(t, A.Diag, eqn.Matrix().Diag)
	assert.Equal(t, A.Upper, eqn.Matrix().Upper)
	assert.Equal(t, phiBefore, in.Phi.Values)

	// The explicit part moves between cells without creating mass
	var sumBase, sumSource float64
	for c := range base {
		sumBase += base[c]
		sumSource += eqn.Source()[c]
	}
	assert.InDelta(t, sumBase, sumSource, 1e-12)

	// Refreshing with a uniform field restores the base source
	eqn.RefreshExplicit(field.NewVolScalar("p_rgh", m, 4, nil))
	assert.InDeltaSlice(t, base, eqn.Source(), 1e-12)
}

func TestFluxOfSolutionBalancesSource(t *testing.T) {
	tc := newCase(t, caseSpec{box: skewed, rho: uniformRho,
		pRghBCs: field.BCs{mesh.ZMin: {Type: field.FixedValue, Value: 1}}})
	m := tc.a.Mesh
	in := equationInputs(tc)
	in.Sources = [][]float64{make([]float64, m.NCells)}
	in.Sources[0][3] = 5
	eqn, err := (&EquationBuilder{Ops: tc.a}).Build(in)
	require.NoError(t, err)

	x := tc.f.PRgh.Clone()
	for pass := 0; pass < 3; pass++ {
		eqn.RefreshExplicit(x)
		ctrl := solver.Controls{Solver: "PCG", Preconditioner: "DIC", Tolerance: 1e-14, MaxIter: 1000}
		_, err = solver.Solve(eqn.Matrix(), x.Internal, eqn.Source(), ctrl)
		require.NoError(t, err)
		x.CorrectBoundaryConditions()
	}
	flux := field.NewSurfaceScalar("flux", m, 0)
	copy(flux.Values, eqn.Flux(x.Internal))
	for c, s := range tc.a.SurfaceSum(flux) {
		want := 0.
		if c == 3 {
			want = 5 * m.V[3]
		}
		assert.InDelta(t, want, s, 1e-10, "cell %d", c)
	}
}

func TestPredictAndHydrostaticFlux(t *testing.T) {
	tc := newCase(t, caseSpec{box: column, rho: func(x r3.Vec) float64 { return 2 - 0.2*x.Z },
		g: r3.Vec{Z: -10}, U: r3.Vec{Z: 0.5}, uBCs: field.BCs{}})
	a, f := tc.a, tc.f
	m := a.Mesh

	phiU := PredictFlux(a, f.Rho, tc.mom.rAU, tc.mom.hbyA, f.Rho.Old(), f.U.Old(), f.Phi.Old(), dt)
	rhof := a.Interpolate(f.Rho)
	for face := range phiU.Values {
		// The old flux is consistent with ρ⁰U⁰, so there is no time coupling
		assert.InDelta(t, rhof.Values[face]*r3.Dot(r3.Vec{Z: 0.5}, m.Sf[face]), phiU.Values[face], 1e-12)
	}

	rhorAUf := a.Interpolate(field.Product("rhorAU", f.Rho, tc.mom.rAU))
	phi := HydrostaticCorrection(a, phiU, rhorAUf, f.Ghf, f.Rho, f.PRgh)
	snGrad := a.SnGrad(f.Rho)
	for face := range phi.Values {
		if !m.IsInternal(face) {
			assert.Equal(t, phiU.Values[face], phi.Values[face])
			continue
		}
		want := phiU.Values[face] - rhorAUf.Values[face]*f.Ghf.Values[face]*snGrad.Values[face]*m.MagSf[face]
		assert.InDelta(t, want, phi.Values[face], 1e-12)
	}

	// A uniform density has no buoyancy flux
	flat := newCase(t, caseSpec{box: column, rho: uniformRho, g: r3.Vec{Z: -10}})
	rhorAUf = flat.a.Interpolate(field.Product("rhorAU", flat.f.Rho, flat.mom.rAU))
	phi = HydrostaticCorrection(flat.a, phiU, rhorAUf, flat.f.Ghf, flat.f.Rho, flat.f.PRgh)
	assert.InDeltaSlice(t, phiU.Values, phi.Values, 1e-12)
}

func TestGravity(t *testing.T) {
	m, err := mesh.NewBox(column)
	require.NoError(t, err)
	g := r3.Vec{Y: 1, Z: -9.81}
	gh, ghf := Gravity(m, g, 2)
	for c := range gh.Internal {
		assert.InDelta(t, r3.Dot(g, m.C[c])-2, gh.Internal[c], 1e-14)
	}
	for f := range ghf.Values {
		assert.InDelta(t, r3.Dot(g, m.Cf[f])-2, ghf.Values[f], 1e-14)
	}
	for f := m.NInternalFaces; f < m.NFaces(); f++ {
		assert.Equal(t, ghf.Values[f], gh.FaceValue(f))
	}
}

func TestNonConvergenceNames(t *testing.T) {
	for _, n := range []NonConvergence{Continue, ReportDegraded, Fail} {
		got, err := ParseNonConvergence(n.String())
		require.NoError(t, err)
		assert.Equal(t, n, got)
	}
	got, err := ParseNonConvergence("")
	require.NoError(t, err)
	assert.Equal(t, Continue, got)
	_, err = ParseNonConvergence("retry")
	assert.Error(t, err)

	assert.Equal(t, "final", FinalIteration.String())
	assert.Equal(t, "correcting", Correcting.String())
}

func TestReport(t *testing.T) {
	r := &Report{}
	assert.True(t, r.Converged())
	_, ok := r.Final()
	assert.False(t, ok)
	assert.Zero(t, r.InitialResidual())

	r.Solves = []solver.Performance{
		{InitialResidual: 0.5, Converged: true},
		{InitialResidual: 0.1, FinalResidual: 1e-3, Converged: false},
	}
	assert.False(t, r.Converged())
	last, ok := r.Final()
	assert.True(t, ok)
	assert.Equal(t, 1e-3, last.FinalResidual)
	assert.Equal(t, 0.5, r.InitialResidual())
}
