// Package ops implements explicit finite-volume operators on the fields of
// one mesh. Cell and face loops run on a partition schedule.
package ops

import (
	"fmt"
	"math"

	"github.com/notargets/FVFlow/field"
	"github.com/notargets/FVFlow/mesh"
	"github.com/notargets/FVFlow/partitions"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"
)

// Algebra evaluates operators on one mesh.
type Algebra struct {
	Mesh     *mesh.Mesh
	Schedule *partitions.Schedule
}

// New returns an Algebra over m. A nil schedule runs every loop serially.
func New(m *mesh.Mesh, s *partitions.Schedule) (*Algebra, error) {
	if m == nil {
		return nil, fmt.Errorf("nil mesh")
	}
	if s == nil {
		var err error
		if s, err = partitions.SerialSchedule(m.NCells, m.Owner, m.Neighbour); err != nil {
			return nil, err
		}
	}
	if s.Layout.TotalCells != m.NCells {
		return nil, fmt.Errorf("schedule covers %d cells, mesh has %d", s.Layout.TotalCells, m.NCells)
	}
	return &Algebra{Mesh: m, Schedule: s}, nil
}

// Interpolate returns linear face values of vf, boundary values on the
// boundary.
func (a *Algebra) Interpolate(vf *field.VolScalar) *field.SurfaceScalar {
	m := a.Mesh
	out := field.NewSurfaceScalar(vf.Name+"f", m, 0)
	a.Schedule.ForEachFace(func(f int) {
		if m.IsInternal(f) {
			w := m.Weights[f]
			out.Values[f] = w*vf.Internal[m.Owner[f]] + (1-w)*vf.Internal[m.Neighbour[f]]
			return
		}
		out.Values[f] = vf.FaceValue(f)
	})
	return out
}

// InterpolateVector returns linear face values of a vector field.
func (a *Algebra) InterpolateVector(vf *field.VolVector) []r3.Vec {
	m := a.Mesh
	out := make([]r3.Vec, m.NFaces())
	a.Schedule.ForEachFace(func(f int) {
		if m.IsInternal(f) {
			w := m.Weights[f]
			out[f] = r3.Add(r3.Scale(w, vf.Internal[m.Owner[f]]), r3.Scale(1-w, vf.Internal[m.Neighbour[f]]))
			return
		}
		out[f] = vf.FaceValue(f)
	})
	return out
}

// FluxOf returns the volumetric flux U_f·S_f of a vector field.
func (a *Algebra) FluxOf(vf *field.VolVector) *field.SurfaceScalar {
	m := a.Mesh
	uf := a.InterpolateVector(vf)
	out := field.NewSurfaceScalar("phi("+vf.Name+")", m, 0)
	a.Schedule.ForEachFace(func(f int) {
		out.Values[f] = r3.Dot(uf[f], m.Sf[f])
	})
	return out
}

// SurfaceSum returns the signed sum of face values over each cell's faces,
// outward positive.
func (a *Algebra) SurfaceSum(phi *field.SurfaceScalar) []float64 {
	m := a.Mesh
	out := make([]float64, m.NCells)
	a.Schedule.ForEachFace(func(f int) {
		out[m.Owner[f]] += phi.Values[f]
		if m.IsInternal(f) {
			out[m.Neighbour[f]] -= phi.Values[f]
		}
	})
	return out
}

// Div returns the divergence of a face flux per unit cell volume.
func (a *Algebra) Div(phi *field.SurfaceScalar) []float64 {
	out := a.SurfaceSum(phi)
	a.Schedule.ForEachCell(func(c int) {
		out[c] /= a.Mesh.V[c]
	})
	return out
}

// Grad returns the Gauss linear gradient of vf.
func (a *Algebra) Grad(vf *field.VolScalar) []r3.Vec {
	m := a.Mesh
	vff := a.Interpolate(vf)
	out := make([]r3.Vec, m.NCells)
	a.Schedule.ForEachFace(func(f int) {
		s := r3.Scale(vff.Values[f], m.Sf[f])
		out[m.Owner[f]] = r3.Add(out[m.Owner[f]], s)
		if m.IsInternal(f) {
			out[m.Neighbour[f]] = r3.Sub(out[m.Neighbour[f]], s)
		}
	})
	a.Schedule.ForEachCell(func(c int) {
		out[c] = r3.Scale(1/m.V[c], out[c])
	})
	return out
}

// SnGradOrthogonal returns the face-normal gradient from the two cell values
// only.
func (a *Algebra) SnGradOrthogonal(vf *field.VolScalar) *field.SurfaceScalar {
	m := a.Mesh
	out := field.NewSurfaceScalar("snGrad("+vf.Name+")", m, 0)
	a.Schedule.ForEachFace(func(f int) {
		P := vf.Internal[m.Owner[f]]
		if m.IsInternal(f) {
			out.Values[f] = m.NonOrthDeltaCoeffs[f] * (vf.Internal[m.Neighbour[f]] - P)
			return
		}
		out.Values[f] = m.NonOrthDeltaCoeffs[f] * (vf.FaceValue(f) - P)
	})
	return out
}

// SnGrad returns the corrected face-normal gradient: the orthogonal part plus
// k·(∇vf)_f on internal faces.
func (a *Algebra) SnGrad(vf *field.VolScalar) *field.SurfaceScalar {
	m := a.Mesh
	out := a.SnGradOrthogonal(vf)
	corr := a.NonOrthCorrection(a.Grad(vf))
	for f := 0; f < m.NInternalFaces; f++ {
		out.Values[f] += corr[f]
	}
	return out
}

// NonOrthCorrection returns k_f·(grad)_f per face, zero on the boundary.
func (a *Algebra) NonOrthCorrection(grad []r3.Vec) []float64 {
	m := a.Mesh
	out := make([]float64, m.NFaces())
	a.Schedule.ForEachInternalFace(func(f int) {
		w := m.Weights[f]
		gf := r3.Add(r3.Scale(w, grad[m.Owner[f]]), r3.Scale(1-w, grad[m.Neighbour[f]]))
		out[f] = r3.Dot(m.NonOrthCorrectionVectors[f], gf)
	})
	return out
}

// Reconstruct returns the cell vector whose face projections best match the
// face values per unit area in the least-squares sense:
// (Σ S⊗S/|S|)⁻¹ Σ S/|S| φ.
func (a *Algebra) Reconstruct(phi *field.SurfaceScalar) ([]r3.Vec, error) {
	m := a.Mesh
	tensors := make([][6]float64, m.NCells)
	rhs := make([]r3.Vec, m.NCells)
	a.Schedule.ForEachFace(func(f int) {
		n := r3.Scale(1/m.MagSf[f], m.Sf[f])
		t := [6]float64{
			n.X * m.Sf[f].X, n.X * m.Sf[f].Y, n.X * m.Sf[f].Z,
			n.Y * m.Sf[f].Y, n.Y * m.Sf[f].Z, n.Z * m.Sf[f].Z,
		}
		v := r3.Scale(phi.Values[f], n)
		cells := []int{m.Owner[f]}
		if m.IsInternal(f) {
			cells = append(cells, m.Neighbour[f])
		}
		for _, c := range cells {
			for i := range t {
				tensors[c][i] += t[i]
			}
			rhs[c] = r3.Add(rhs[c], v)
		}
	})

	out := make([]r3.Vec, m.NCells)
	var fail error
	for c := range out {
		t := tensors[c]
		sym := mat.NewSymDense(3, []float64{
			t[0], t[1], t[2],
			t[1], t[3], t[4],
			t[2], t[4], t[5],
		})
		var chol mat.Cholesky
		if ok := chol.Factorize(sym); !ok {
			if fail == nil {
				fail = fmt.Errorf("reconstruct: face tensor of cell %d is not positive definite: %w",
					c, mesh.ErrDegenerateCell)
			}
			continue
		}
		var x mat.VecDense
		b := mat.NewVecDense(3, []float64{rhs[c].X, rhs[c].Y, rhs[c].Z})
		if err := chol.SolveVecTo(&x, b); err != nil && fail == nil {
			fail = fmt.Errorf("reconstruct cell %d: %w", c, err)
			continue
		}
		out[c] = r3.Vec{X: x.AtVec(0), Y: x.AtVec(1), Z: x.AtVec(2)}
	}
	return out, fail
}

// Ddt returns the Euler time derivative (cur − old)/Δt.
func (a *Algebra) Ddt(cur, old []float64, deltaT float64) []float64 {
	out := make([]float64, len(cur))
	rDeltaT := 1 / deltaT
	a.Schedule.ForEachCell(func(c int) {
		out[c] = rDeltaT * (cur[c] - old[c])
	})
	return out
}

// DdtFluxCorrection returns the temporal flux coupling term
//
//	c_f (1/Δt) rAU_f (φ⁰ − (ρ⁰U⁰)_f·S_f),  c_f = 1 − min(|φ⁰ − (ρ⁰U⁰)_f·S_f| / (|φ⁰| + small), 1)
//
// in volumetric-flux units.
func (a *Algebra) DdtFluxCorrection(rAU, rho0 *field.VolScalar, U0 *field.VolVector,
	phi0 *field.SurfaceScalar, deltaT float64) *field.SurfaceScalar {
	m := a.Mesh
	const small = 1e-15
	rhoU0 := U0.Clone()
	for c := range rhoU0.Internal {
		rhoU0.Internal[c] = r3.Scale(rho0.Internal[c], U0.Internal[c])
	}
	for b := range rhoU0.Boundary {
		rhoU0.Boundary[b] = r3.Scale(rho0.Boundary[b], U0.Boundary[b])
	}
	phiRhoU0 := a.FluxOf(rhoU0)
	rAUf := a.Interpolate(rAU)
	out := field.NewSurfaceScalar("ddtCorr", m, 0)
	rDeltaT := 1 / deltaT
	a.Schedule.ForEachFace(func(f int) {
		diff := phi0.Values[f] - phiRhoU0.Values[f]
		coeff := 1 - math.Min(math.Abs(diff)/(math.Abs(phi0.Values[f])+small), 1)
		out.Values[f] = coeff * rDeltaT * rAUf.Values[f] * diff
	})
	return out
}

// DomainIntegrate returns Σ v_c V_c.
func (a *Algebra) DomainIntegrate(v []float64) float64 {
	return floats.Dot(v, a.Mesh.V)
}

// Average returns the volume-weighted mean of v.
func (a *Algebra) Average(v []float64) float64 {
	return a.DomainIntegrate(v) / floats.Sum(a.Mesh.V)
}

// MagSqr returns |v|² per cell.
func (a *Algebra) MagSqr(vf *field.VolVector) []float64 {
	out := make([]float64, len(vf.Internal))
	a.Schedule.ForEachCell(func(c int) {
		out[c] = r3.Dot(vf.Internal[c], vf.Internal[c])
	})
	return out
}
