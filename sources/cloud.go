package sources

import (
	"fmt"
	"math"

	"github.com/notargets/FVFlow/mesh"
	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/spatial/r3"
)

// Parcel is a packet of liquid droplets that stays in its cell and
// evaporates at a constant rate until it is gone.
type Parcel struct {
	Cell     int
	Mass     float64 // kg
	EvapRate float64 // kg/s
	U        r3.Vec  // Velocity carried into the gas with the vapour
}

// Injector adds one parcel per time step at a fixed position.
type Injector struct {
	Position r3.Vec
	MassFlow float64 // kg/s of liquid
	// Lifetime sets the evaporation rate of each parcel to its mass over
	// Lifetime seconds.
	Lifetime float64
	U        r3.Vec
	StartAt  float64
	StopAt   float64 // Never stops if zero
}

// Cloud is a set of evaporating parcels.
type Cloud struct {
	Mesh      *mesh.Mesh
	Parcels   []Parcel
	Injectors []Injector
	Log       logrus.FieldLogger

	srho []float64
	su   []r3.Vec
	// Evaporated is the total mass moved into the gas so far.
	Evaporated float64
}

// NewCloud returns an empty cloud over m.
func NewCloud(m *mesh.Mesh, injectors ...Injector) *Cloud {
	return &Cloud{
		Mesh:      m,
		Injectors: injectors,
		Log:       logrus.StandardLogger(),
		srho:      make([]float64, m.NCells),
		su:        make([]r3.Vec, m.NCells),
	}
}

// Inject adds a parcel at position x.
func (cl *Cloud) Inject(x r3.Vec, mass, evapRate float64, U r3.Vec) (int, error) {
	if mass < 0 || evapRate < 0 {
		return -1, fmt.Errorf("parcel mass %g, evaporation rate %g must not be negative", mass, evapRate)
	}
	cell := FindCell(cl.Mesh, x)
	if cell < 0 {
		return -1, fmt.Errorf("no cell found for position %v", x)
	}
	cl.Parcels = append(cl.Parcels, Parcel{Cell: cell, Mass: mass, EvapRate: evapRate, U: U})
	return cell, nil
}

// Evolve runs the injectors active at time t, then evaporates every parcel
// over deltaT. The evaporated mass becomes the source returned by Srho until
// the next call.
func (cl *Cloud) Evolve(t, deltaT float64) error {
	if deltaT <= 0 {
		return fmt.Errorf("invalid time step %g", deltaT)
	}
	m := cl.Mesh
	for i, inj := range cl.Injectors {
		if t < inj.StartAt || (inj.StopAt > 0 && t > inj.StopAt) {
			continue
		}
		mass := inj.MassFlow * deltaT
		rate := 0.
		if inj.Lifetime > 0 {
			rate = mass / inj.Lifetime
		}
		if _, err := cl.Inject(inj.Position, mass, rate, inj.U); err != nil {
			return fmt.Errorf("injector %d: %w", i, err)
		}
	}

	for c := range cl.srho {
		cl.srho[c] = 0
		cl.su[c] = r3.Vec{}
	}
	alive := cl.Parcels[:0]
	var evaporated float64
	for _, p := range cl.Parcels {
		dm := math.Min(p.Mass, p.EvapRate*deltaT)
		p.Mass -= dm
		evaporated += dm
		rV := 1 / (m.V[p.Cell] * deltaT)
		cl.srho[p.Cell] += dm * rV
		cl.su[p.Cell] = r3.Add(cl.su[p.Cell], r3.Scale(dm*rV, p.U))
		if p.Mass > 0 {
			alive = append(alive, p)
		}
	}
	cl.Parcels = alive
	cl.Evaporated += evaporated
	if cl.Log != nil {
		cl.Log.WithFields(logrus.Fields{
			"parcels":    len(cl.Parcels),
			"evaporated": evaporated,
		}).Debug("cloud evolved")
	}
	return nil
}

// CloudState is a copy of everything Evolve changes.
type CloudState struct {
	Parcels    []Parcel
	Evaporated float64
	srho       []float64
	su         []r3.Vec
}

// Save copies the state of the cloud.
func (cl *Cloud) Save() CloudState {
	return CloudState{
		Parcels:    append([]Parcel(nil), cl.Parcels...),
		Evaporated: cl.Evaporated,
		srho:       append([]float64(nil), cl.srho...),
		su:         append([]r3.Vec(nil), cl.su...),
	}
}

// Restore returns the cloud to a saved state.
func (cl *Cloud) Restore(st CloudState) {
	cl.Parcels = append(cl.Parcels[:0], st.Parcels...)
	cl.Evaporated = st.Evaporated
	copy(cl.srho, st.srho)
	copy(cl.su, st.su)
}

// Srho is the vapour mass source of the last Evolve.
func (cl *Cloud) Srho() []float64 { return cl.srho }

// SU is the momentum source of the last Evolve, per unit volume.
func (cl *Cloud) SU() []r3.Vec { return cl.su }

// LiquidMass is the mass still held by the parcels.
func (cl *Cloud) LiquidMass() float64 {
	var total float64
	for _, p := range cl.Parcels {
		total += p.Mass
	}
	return total
}

// FindCell returns the cell whose centre is nearest to x, or -1 if x lies
// outside the bounding box of the mesh points.
func FindCell(m *mesh.Mesh, x r3.Vec) int {
	if len(m.Points) == 0 {
		return -1
	}
	lo, hi := m.Points[0], m.Points[0]
	for _, p := range m.Points[1:] {
		lo = r3.Vec{X: math.Min(lo.X, p.X), Y: math.Min(lo.Y, p.Y), Z: math.Min(lo.Z, p.Z)}
		hi = r3.Vec{X: math.Max(hi.X, p.X), Y: math.Max(hi.Y, p.Y), Z: math.Max(hi.Z, p.Z)}
	}
	if x.X < lo.X || x.Y < lo.Y || x.Z < lo.Z || x.X > hi.X || x.Y > hi.Y || x.Z > hi.Z {
		return -1
	}
	best, bestD := -1, math.Inf(1)
	for c, cc := range m.C {
		if d := r3.Norm2(r3.Sub(cc, x)); d < bestD {
			best, bestD = c, d
		}
	}
	return best
}
