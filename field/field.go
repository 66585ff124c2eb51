// Package field holds cell- and face-centred fields with their boundary
// values and old time levels.
package field

import (
	"errors"
	"fmt"

	"github.com/notargets/FVFlow/mesh"
	"gonum.org/v1/gonum/spatial/r3"
)

// ErrSize is returned when a field does not match its mesh.
var ErrSize = errors.New("field size mismatch")

// BCType selects how the boundary values of a patch are evaluated.
type BCType uint8

const (
	ZeroGradient BCType = iota // Boundary value copies the owner cell
	FixedValue                 // Boundary value is prescribed
	Calculated                 // Boundary value is set by whoever computes the field
)

func (t BCType) String() string {
	switch t {
	case ZeroGradient:
		return "zeroGradient"
	case FixedValue:
		return "fixedValue"
	case Calculated:
		return "calculated"
	}
	return fmt.Sprintf("BCType(%d)", uint8(t))
}

// BoundaryCondition applies to every face of one patch. Value is used by
// scalar fields, Vector by vector fields.
type BoundaryCondition struct {
	Type   BCType
	Value  float64
	Vector r3.Vec
}

// BCs maps patch names to conditions; patches not named are ZeroGradient.
type BCs map[string]BoundaryCondition

func patchConditions(m *mesh.Mesh, bcs BCs) []BoundaryCondition {
	out := make([]BoundaryCondition, len(m.Patches))
	for i, p := range m.Patches {
		if bc, ok := bcs[p.Name]; ok {
			out[i] = bc
		}
	}
	return out
}

// VolScalar is a cell-centred scalar field.
type VolScalar struct {
	Name     string
	Mesh     *mesh.Mesh
	Internal []float64           // [cell]
	Boundary []float64           // [face - NInternalFaces]
	BCs      []BoundaryCondition // [patch]

	old *VolScalar
}

// NewVolScalar creates a uniform field and evaluates its boundary values.
func NewVolScalar(name string, m *mesh.Mesh, value float64, bcs BCs) *VolScalar {
	s := &VolScalar{
		Name:     name,
		Mesh:     m,
		Internal: make([]float64, m.NCells),
		Boundary: make([]float64, m.NBoundaryFaces()),
		BCs:      patchConditions(m, bcs),
	}
	for i := range s.Internal {
		s.Internal[i] = value
	}
	for i := range s.Boundary {
		s.Boundary[i] = value
	}
	s.CorrectBoundaryConditions()
	return s
}

// CorrectBoundaryConditions re-evaluates the boundary values from the
// patch conditions. Calculated patches are left alone.
func (s *VolScalar) CorrectBoundaryConditions() {
	m := s.Mesh
	for pi, p := range m.Patches {
		bc := s.BCs[pi]
		for f := p.Start; f < p.Start+p.Size; f++ {
			b := f - m.NInternalFaces
			switch bc.Type {
			case ZeroGradient:
				s.Boundary[b] = s.Internal[m.Owner[f]]
			case FixedValue:
				s.Boundary[b] = bc.Value
			}
		}
	}
}

// FaceValue returns the boundary value of boundary face f.
func (s *VolScalar) FaceValue(f int) float64 {
	return s.Boundary[f-s.Mesh.NInternalFaces]
}

// HasFixedValue reports whether any patch prescribes the value.
func (s *VolScalar) HasFixedValue() bool {
	for pi, bc := range s.BCs {
		if bc.Type == FixedValue && s.Mesh.Patches[pi].Size > 0 {
			return true
		}
	}
	return false
}

// IsFixed reports whether boundary face f lies on a FixedValue patch.
func (s *VolScalar) IsFixed(f int) bool {
	return s.BCs[s.Mesh.PatchOf(f)].Type == FixedValue
}

// Check verifies the field sizes against m.
func (s *VolScalar) Check(m *mesh.Mesh) error {
	if s == nil {
		return nil
	}
	if len(s.Internal) != m.NCells || len(s.Boundary) != m.NBoundaryFaces() ||
		len(s.BCs) != len(m.Patches) {
		return fmt.Errorf("%s: %d cells, %d boundary faces, %d patches for a mesh of %d, %d, %d: %w",
			s.Name, len(s.Internal), len(s.Boundary), len(s.BCs),
			m.NCells, m.NBoundaryFaces(), len(m.Patches), ErrSize)
	}
	return nil
}

// Clone returns a deep copy without old time levels.
func (s *VolScalar) Clone() *VolScalar {
	return &VolScalar{
		Name:     s.Name,
		Mesh:     s.Mesh,
		Internal: append([]float64(nil), s.Internal...),
		Boundary: append([]float64(nil), s.Boundary...),
		BCs:      append([]BoundaryCondition(nil), s.BCs...),
	}
}

// CopyFrom overwrites the values of s with those of o.
func (s *VolScalar) CopyFrom(o *VolScalar) error {
	if len(o.Internal) != len(s.Internal) || len(o.Boundary) != len(s.Boundary) {
		return fmt.Errorf("copying %s into %s: %w", o.Name, s.Name, ErrSize)
	}
	copy(s.Internal, o.Internal)
	copy(s.Boundary, o.Boundary)
	return nil
}

// StoreOld saves the current values as the old time level.
func (s *VolScalar) StoreOld() {
	old := s.Clone()
	old.Name = s.Name + "_0"
	s.old = old
}

// Old returns the old time level, or the field itself if none was stored.
func (s *VolScalar) Old() *VolScalar {
	if s.old == nil {
		return s
	}
	return s.old
}

// Checkpoint returns a copy of the values of s sharing its old time level,
// for Restore.
func (s *VolScalar) Checkpoint() *VolScalar {
	c := s.Clone()
	c.old = s.old
	return c
}

// Restore sets the values and the old time level of s from a Checkpoint.
func (s *VolScalar) Restore(c *VolScalar) error {
	if err := s.CopyFrom(c); err != nil {
		return err
	}
	s.old = c.old
	return nil
}

// Product returns a×b cell by cell and face by face, with Calculated
// boundaries.
func Product(name string, a, b *VolScalar) *VolScalar {
	out := a.Clone()
	out.Name = name
	for i := range out.Internal {
		out.Internal[i] *= b.Internal[i]
	}
	for i := range out.Boundary {
		out.Boundary[i] *= b.Boundary[i]
	}
	for i := range out.BCs {
		out.BCs[i] = BoundaryCondition{Type: Calculated}
	}
	return out
}

// VolVector is a cell-centred vector field.
type VolVector struct {
	Name     string
	Mesh     *mesh.Mesh
	Internal []r3.Vec
	Boundary []r3.Vec
	BCs      []BoundaryCondition

	old *VolVector
}

// NewVolVector creates a uniform vector field.
func NewVolVector(name string, m *mesh.Mesh, value r3.Vec, bcs BCs) *VolVector {
	v := &VolVector{
		Name:     name,
		Mesh:     m,
		Internal: make([]r3.Vec, m.NCells),
		Boundary: make([]r3.Vec, m.NBoundaryFaces()),
		BCs:      patchConditions(m, bcs),
	}
	for i := range v.Internal {
		v.Internal[i] = value
	}
	for i := range v.Boundary {
		v.Boundary[i] = value
	}
	v.CorrectBoundaryConditions()
	return v
}

// CorrectBoundaryConditions re-evaluates the boundary values.
func (v *VolVector) CorrectBoundaryConditions() {
	m := v.Mesh
	for pi, p := range m.Patches {
		bc := v.BCs[pi]
		for f := p.Start; f < p.Start+p.Size; f++ {
			b := f - m.NInternalFaces
			switch bc.Type {
			case ZeroGradient:
				v.Boundary[b] = v.Internal[m.Owner[f]]
			case FixedValue:
				v.Boundary[b] = bc.Vector
			}
		}
	}
}

// FaceValue returns the boundary value of boundary face f.
func (v *VolVector) FaceValue(f int) r3.Vec {
	return v.Boundary[f-v.Mesh.NInternalFaces]
}

// Check verifies the field sizes against m.
func (v *VolVector) Check(m *mesh.Mesh) error {
	if v == nil {
		return nil
	}
	if len(v.Internal) != m.NCells || len(v.Boundary) != m.NBoundaryFaces() ||
		len(v.BCs) != len(m.Patches) {
		return fmt.Errorf("%s: %d cells, %d boundary faces for a mesh of %d, %d: %w",
			v.Name, len(v.Internal), len(v.Boundary), m.NCells, m.NBoundaryFaces(), ErrSize)
	}
	return nil
}

func (v *VolVector) Clone() *VolVector {
	return &VolVector{
		Name:     v.Name,
		Mesh:     v.Mesh,
		Internal: append([]r3.Vec(nil), v.Internal...),
		Boundary: append([]r3.Vec(nil), v.Boundary...),
		BCs:      append([]BoundaryCondition(nil), v.BCs...),
	}
}

func (v *VolVector) CopyFrom(o *VolVector) error {
	if len(o.Internal) != len(v.Internal) || len(o.Boundary) != len(v.Boundary) {
		return fmt.Errorf("copying %s into %s: %w", o.Name, v.Name, ErrSize)
	}
	copy(v.Internal, o.Internal)
	copy(v.Boundary, o.Boundary)
	return nil
}

func (v *VolVector) StoreOld() {
	old := v.Clone()
	old.Name = v.Name + "_0"
	v.old = old
}

func (v *VolVector) Old() *VolVector {
	if v.old == nil {
		return v
	}
	return v.old
}

func (v *VolVector) Checkpoint() *VolVector {
	c := v.Clone()
	c.old = v.old
	return c
}

func (v *VolVector) Restore(c *VolVector) error {
	if err := v.CopyFrom(c); err != nil {
		return err
	}
	v.old = c.old
	return nil
}

// SurfaceScalar holds one value per face, internal faces first.
type SurfaceScalar struct {
	Name   string
	Mesh   *mesh.Mesh
	Values []float64

	old *SurfaceScalar
}

func NewSurfaceScalar(name string, m *mesh.Mesh, value float64) *SurfaceScalar {
	s := &SurfaceScalar{Name: name, Mesh: m, Values: make([]float64, m.NFaces())}
	for i := range s.Values {
		s.Values[i] = value
	}
	return s
}

func (s *SurfaceScalar) Check(m *mesh.Mesh) error {
	if s == nil {
		return nil
	}
	if len(s.Values) != m.NFaces() {
		return fmt.Errorf("%s: %d faces for a mesh of %d: %w", s.Name, len(s.Values), m.NFaces(), ErrSize)
	}
	return nil
}

func (s *SurfaceScalar) Clone() *SurfaceScalar {
	return &SurfaceScalar{Name: s.Name, Mesh: s.Mesh, Values: append([]float64(nil), s.Values...)}
}

func (s *SurfaceScalar) CopyFrom(o *SurfaceScalar) error {
	if len(o.Values) != len(s.Values) {
		return fmt.Errorf("copying %s into %s: %w", o.Name, s.Name, ErrSize)
	}
	copy(s.Values, o.Values)
	return nil
}

func (s *SurfaceScalar) StoreOld() {
	old := s.Clone()
	old.Name = s.Name + "_0"
	s.old = old
}

func (s *SurfaceScalar) Old() *SurfaceScalar {
	if s.old == nil {
		return s
	}
	return s.old
}

func (s *SurfaceScalar) Checkpoint() *SurfaceScalar {
	c := s.Clone()
	c.old = s.old
	return c
}

func (s *SurfaceScalar) Restore(c *SurfaceScalar) error {
	if err := s.CopyFrom(c); err != nil {
		return err
	}
	s.old = c.old
	return nil
}
