package pressure

import (
	"github.com/notargets/FVFlow/field"
	"github.com/notargets/FVFlow/mesh"
	"github.com/notargets/FVFlow/ops"
	"gonum.org/v1/gonum/spatial/r3"
)

// PredictFlux returns the provisional mass flux
//
//	phiU = ρ_f (HbyA_f·S_f + ddtCorr)
//
// where ddtCorr couples the face flux to the old-time flux.
func PredictFlux(a *ops.Algebra, rho, rAU *field.VolScalar, HbyA *field.VolVector,
	rho0 *field.VolScalar, U0 *field.VolVector, phi0 *field.SurfaceScalar, deltaT float64) *field.SurfaceScalar {
	rhof := a.Interpolate(rho)
	phiHbyA := a.FluxOf(HbyA)
	ddtCorr := a.DdtFluxCorrection(rAU, rho0, U0, phi0, deltaT)
	out := field.NewSurfaceScalar("phiU", a.Mesh, 0)
	a.Schedule.ForEachFace(func(f int) {
		out.Values[f] = rhof.Values[f] * (phiHbyA.Values[f] + ddtCorr.Values[f])
	})
	return out
}

// HydrostaticCorrection removes the buoyancy flux from phiU:
//
//	phi = phiU − (ρ rAU)_f gh_f snGrad(ρ) |S_f|
//
// Boundary faces where pRgh is not fixed carry the flux of phiU unchanged:
// their pressure gradient balances buoyancy, as a fixed-flux pressure
// condition would.
func HydrostaticCorrection(a *ops.Algebra, phiU, rhorAUf, ghf *field.SurfaceScalar,
	rho, pRgh *field.VolScalar) *field.SurfaceScalar {
	m := a.Mesh
	snGradRho := a.SnGrad(rho)
	out := field.NewSurfaceScalar("phi", m, 0)
	a.Schedule.ForEachFace(func(f int) {
		out.Values[f] = phiU.Values[f]
		if m.IsInternal(f) || pRgh.IsFixed(f) {
			out.Values[f] -= rhorAUf.Values[f] * ghf.Values[f] * snGradRho.Values[f] * m.MagSf[f]
		}
	})
	return out
}

// Gravity returns the hydrostatic potential g·x − ghRef at cell and face
// centres.
func Gravity(m *mesh.Mesh, g r3.Vec, ghRef float64) (*field.VolScalar, *field.SurfaceScalar) {
	bcs := field.BCs{}
	for _, p := range m.Patches {
		bcs[p.Name] = field.BoundaryCondition{Type: field.Calculated}
	}
	gh := field.NewVolScalar("gh", m, 0, bcs)
	for c := range gh.Internal {
		gh.Internal[c] = r3.Dot(g, m.C[c]) - ghRef
	}
	ghf := field.NewSurfaceScalar("ghf", m, 0)
	for f := range ghf.Values {
		ghf.Values[f] = r3.Dot(g, m.Cf[f]) - ghRef
	}
	for f := m.NInternalFaces; f < m.NFaces(); f++ {
		gh.Boundary[f-m.NInternalFaces] = ghf.Values[f]
	}
	return gh, ghf
}
