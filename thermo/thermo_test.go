package thermo

import (
	"testing"

	"github.com/notargets/FVFlow/field"
	"github.com/notargets/FVFlow/mesh"
	"github.com/notargets/FVFlow/ops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"
)

func newAlgebra(t *testing.T) *ops.Algebra {
	t.Helper()
	m, err := mesh.NewBox(mesh.BoxSpec{NX: 3, NY: 2, NZ: 4, LX: 1, LY: 1, LZ: 2})
	require.NoError(t, err)
	a, err := ops.New(m, nil)
	require.NoError(t, err)
	return a
}

func TestPerfectGas(t *testing.T) {
	a := newAlgebra(t)
	m := a.Mesh
	gas := PerfectGas{R: 287, T: 300}
	p := field.NewVolScalar("p", m, 1e5, nil)
	rho := field.NewVolScalar("rho", m, 0, nil)
	psi := field.NewVolScalar("psi", m, 0, nil)
	require.NoError(t, gas.Rho(p, rho))
	require.NoError(t, gas.Psi(p, psi))
	for c := range rho.Internal {
		assert.InDelta(t, 1e5/(287*300), rho.Internal[c], 1e-12)
		assert.InDelta(t, 1/(287.*300), psi.Internal[c], 1e-18)
	}
	for b := range rho.Boundary {
		assert.InDelta(t, 1e5/(287*300), rho.Boundary[b], 1e-12)
	}

	assert.ErrorIs(t, PerfectGas{R: 287}.Rho(p, rho), ErrInvalidState)
	short := rho.Clone()
	short.Internal = short.Internal[:2]
	assert.ErrorIs(t, gas.Rho(p, short), field.ErrSize)
}

func TestFrozenDensity(t *testing.T) {
	a := newAlgebra(t)
	m := a.Mesh
	rho := field.NewVolScalar("rho", m, 0, nil)
	for c := range rho.Internal {
		rho.Internal[c] = 1 + m.C[c].Z
	}
	rho.CorrectBoundaryConditions()
	frozen := Freeze(rho)

	p := field.NewVolScalar("p", m, 3e5, nil)
	out := field.NewVolScalar("rho", m, 7, nil)
	require.NoError(t, frozen.Rho(p, out))
	assert.Equal(t, rho.Internal, out.Internal)
	assert.Equal(t, rho.Boundary, out.Boundary)

	psi := field.NewVolScalar("psi", m, 1, nil)
	require.NoError(t, frozen.Psi(p, psi))
	for _, v := range psi.Internal {
		assert.Zero(t, v)
	}
	// Later edits of rho do not leak into the frozen state
	rho.Internal[0] = -1
	require.NoError(t, frozen.Rho(p, out))
	assert.NotEqual(t, -1., out.Internal[0])
}

func TestTransportClosedDomain(t *testing.T) {
	a := newAlgebra(t)
	m := a.Mesh
	frozen := FrozenDensity{Internal: make([]float64, m.NCells), Boundary: make([]float64, m.NBoundaryFaces())}
	for c := range frozen.Internal {
		frozen.Internal[c] = 1.2
	}
	for b := range frozen.Boundary {
		frozen.Boundary[b] = 1.2
	}
	cont := NewContinuity(a, frozen)

	rho0 := field.NewVolScalar("rho", m, 1.2, nil)
	rho := rho0.Clone()
	p := field.NewVolScalar("p", m, 0, nil)

	// Flux through internal faces only redistributes mass
	phi := field.NewSurfaceScalar("phi", m, 0)
	for f := 0; f < m.NInternalFaces; f++ {
		phi.Values[f] = 1e-3 * r3.Dot(r3.Vec{X: 1, Z: 0.5}, m.Sf[f])
	}
	srho := make([]float64, m.NCells)
	errs, err := cont.Transport(rho, rho0, phi, srho, p, 0.1)
	require.NoError(t, err)
	assert.InDelta(t, a.DomainIntegrate(rho0.Internal), a.DomainIntegrate(rho.Internal), 1e-14)
	assert.InDelta(t, 0., errs.Global, 1e-14)
	assert.Greater(t, errs.SumLocal, 0.)
	assert.Zero(t, errs.NegativeCells)
}

func TestTransportSourceAndCumulative(t *testing.T) {
	a := newAlgebra(t)
	m := a.Mesh
	frozen := FrozenDensity{Internal: make([]float64, m.NCells), Boundary: make([]float64, m.NBoundaryFaces())}
	for c := range frozen.Internal {
		frozen.Internal[c] = 1
	}
	cont := NewContinuity(a, frozen)
	rho0 := field.NewVolScalar("rho", m, 1, nil)
	p := field.NewVolScalar("p", m, 0, nil)
	phi := field.NewSurfaceScalar("phi", m, 0)

	srho := make([]float64, m.NCells)
	srho[0] = 2
	var last ContinuityErrors
	for step := 1; step <= 3; step++ {
		rho := rho0.Clone()
		errs, err := cont.Transport(rho, rho0, phi, srho, p, 0.5)
		require.NoError(t, err)
		assert.InDelta(t, 2., rho.Internal[0], 1e-14)
		mass := a.DomainIntegrate(rho.Internal)
		assert.InDelta(t, m.V[0]/mass, errs.Global, 1e-14)
		assert.InDelta(t, errs.Global, errs.SumLocal, 1e-14)
		assert.InDelta(t, float64(step)*errs.Global, errs.Cumulative, 1e-14)
		cont.Accumulate(errs)
		last = errs
	}
	assert.Equal(t, last.Cumulative, cont.Cumulative())
	assert.Contains(t, last.String(), "cumulative")

	// A sink larger than the cell mass is reported, not corrected
	srho[0] = -10
	rho := rho0.Clone()
	errs, err := cont.Transport(rho, rho0, phi, srho, p, 0.5)
	require.NoError(t, err)
	assert.Equal(t, 1, errs.NegativeCells)
	assert.Less(t, rho.Internal[0], 0.)
	assert.Equal(t, last.Cumulative, cont.Cumulative(), "not accumulated")
}

func TestTransportErrors(t *testing.T) {
	a := newAlgebra(t)
	m := a.Mesh
	cont := NewContinuity(a, PerfectGas{R: 287, T: 300})
	rho := field.NewVolScalar("rho", m, 1, nil)
	p := field.NewVolScalar("p", m, 1e5, nil)
	phi := field.NewSurfaceScalar("phi", m, 0)

	_, err := cont.Transport(rho, rho, phi, make([]float64, m.NCells), p, 0)
	assert.Error(t, err)
	_, err = cont.Transport(rho, rho, phi, make([]float64, 1), p, 1)
	assert.ErrorIs(t, err, field.ErrSize)
	bad := &field.SurfaceScalar{Name: "phi", Values: make([]float64, 3)}
	_, err = cont.Transport(rho, rho, bad, make([]float64, m.NCells), p, 1)
	assert.ErrorIs(t, err, field.ErrSize)
}
