package sources

import (
	"fmt"
	"math"

	"github.com/notargets/FVFlow/mesh"
)

// Film is a liquid film on one boundary patch that evaporates into the
// cells next to it.
type Film struct {
	Mesh     *mesh.Mesh
	Patch    string
	Rho      float64   // Liquid density, kg m⁻³
	EvapFlux float64   // Evaporated mass per unit area and time, kg m⁻² s⁻¹
	Delta    []float64 // Thickness per patch face, m

	start int
	srho  []float64
}

// NewFilm covers patch with a uniform film of thickness delta.
func NewFilm(m *mesh.Mesh, patch string, rho, delta, evapFlux float64) (*Film, error) {
	pi := m.PatchIndex(patch)
	if pi < 0 {
		return nil, fmt.Errorf("film patch %q not found", patch)
	}
	if rho <= 0 || delta < 0 || evapFlux < 0 {
		return nil, fmt.Errorf("film density %g, thickness %g, evaporation flux %g out of range",
			rho, delta, evapFlux)
	}
	p := m.Patches[pi]
	f := &Film{
		Mesh:     m,
		Patch:    patch,
		Rho:      rho,
		EvapFlux: evapFlux,
		Delta:    make([]float64, p.Size),
		start:    p.Start,
		srho:     make([]float64, m.NCells),
	}
	for i := range f.Delta {
		f.Delta[i] = delta
	}
	return f, nil
}

// Evolve thins the film over deltaT and moves the evaporated mass into the
// owner cells of the patch faces.
func (f *Film) Evolve(deltaT float64) error {
	if deltaT <= 0 {
		return fmt.Errorf("invalid time step %g", deltaT)
	}
	m := f.Mesh
	for c := range f.srho {
		f.srho[c] = 0
	}
	for i := range f.Delta {
		face := f.start + i
		area := m.MagSf[face]
		dm := math.Min(f.Rho*f.Delta[i]*area, f.EvapFlux*area*deltaT)
		f.Delta[i] -= dm / (f.Rho * area)
		if f.Delta[i] < 0 {
			f.Delta[i] = 0
		}
		owner := m.Owner[face]
		f.srho[owner] += dm / (m.V[owner] * deltaT)
	}
	return nil
}

func (f *Film) Srho() []float64 { return f.srho }

// FilmState is a copy of the film thickness and its last source.
type FilmState struct {
	Delta []float64
	srho  []float64
}

func (f *Film) Save() FilmState {
	return FilmState{
		Delta: append([]float64(nil), f.Delta...),
		srho:  append([]float64(nil), f.srho...),
	}
}

func (f *Film) Restore(st FilmState) {
	copy(f.Delta, st.Delta)
	copy(f.srho, st.srho)
}

// Mass is the liquid mass left on the patch.
func (f *Film) Mass() float64 {
	var total float64
	for i, d := range f.Delta {
		total += f.Rho * d * f.Mesh.MagSf[f.start+i]
	}
	return total
}
