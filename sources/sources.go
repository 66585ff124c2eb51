// Package sources provides the mass sources a dispersed phase and a
// surface film feed into the gas.
package sources

import (
	"fmt"

	"github.com/notargets/FVFlow/mesh"
)

// MassSource is a per-cell mass source in kg m⁻³ s⁻¹.
type MassSource interface {
	Srho() []float64
}

// Fixed is a constant source field.
type Fixed []float64

func (f Fixed) Srho() []float64 { return f }

// Point returns a Fixed source of rate kg m⁻³ s⁻¹ in one cell of m.
func Point(m *mesh.Mesh, cell int, rate float64) (Fixed, error) {
	if cell < 0 || cell >= m.NCells {
		return nil, fmt.Errorf("source cell %d out of range [0,%d)", cell, m.NCells)
	}
	f := make(Fixed, m.NCells)
	f[cell] = rate
	return f, nil
}

// Sum adds several sources cell by cell.
type Sum []MassSource

func (s Sum) Srho() []float64 {
	var out []float64
	for _, src := range s {
		v := src.Srho()
		if out == nil {
			out = make([]float64, len(v))
		}
		for c := range v {
			out[c] += v[c]
		}
	}
	return out
}

// Mass returns ∫Srho dV over m, the total rate in kg/s.
func Mass(m *mesh.Mesh, s MassSource) float64 {
	var total float64
	for c, v := range s.Srho() {
		total += v * m.V[c]
	}
	return total
}
