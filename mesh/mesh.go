package mesh

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/spatial/r3"
)

// ErrDegenerateCell is returned when a cell has a non-positive volume or a
// face has zero area.
var ErrDegenerateCell = errors.New("degenerate cell")

// Patch is a contiguous range of boundary faces sharing a name.
type Patch struct {
	Name  string
	Start int // First face index (global numbering)
	Size  int
}

// RawFace is the builder input for one face. Neighbour is -1 on the boundary.
type RawFace struct {
	Points    []int
	Owner     int
	Neighbour int
	Patch     string
}

// Mesh is a face-addressed polyhedral mesh. Internal faces come first and
// satisfy Owner < Neighbour, sorted by (owner, neighbour); boundary faces follow,
// grouped by patch.
type Mesh struct {
	NCells         int
	NInternalFaces int

	Points    []r3.Vec
	Faces     [][]int // Point indices of each face
	Owner     []int   // [face] → owner cell
	Neighbour []int   // [internal face] → neighbour cell
	Patches   []Patch

	// Geometry
	C     []r3.Vec  // Cell centres
	V     []float64 // Cell volumes
	Cf    []r3.Vec  // Face centres
	Sf    []r3.Vec  // Face area vectors, pointing out of the owner
	MagSf []float64

	// Interpolation and gradient coefficients
	Weights                  []float64 // Owner weight for linear interpolation (1 on the boundary)
	DeltaCoeffs              []float64 // 1/|d|
	NonOrthDeltaCoeffs       []float64 // 1/max(n·d, 0.05|d|)
	NonOrthCorrectionVectors []r3.Vec  // n - d·NonOrthDeltaCoeffs, zero on the boundary

	CellFaces [][]int // [cell] → faces

	facePatch []int // [face - NInternalFaces] → patch
}

// NFaces returns the total number of faces, internal and boundary.
func (m *Mesh) NFaces() int { return len(m.Owner) }

// NBoundaryFaces returns the number of boundary faces.
func (m *Mesh) NBoundaryFaces() int { return len(m.Owner) - m.NInternalFaces }

// IsInternal reports whether face f has a neighbour cell.
func (m *Mesh) IsInternal(f int) bool { return f < m.NInternalFaces }

// PatchIndex returns the index of the named patch or -1.
func (m *Mesh) PatchIndex(name string) int {
	for i, p := range m.Patches {
		if p.Name == name {
			return i
		}
	}
	return -1
}

// PatchOf returns the patch index holding boundary face f, or -1 for an
// internal face.
func (m *Mesh) PatchOf(f int) int {
	b := f - m.NInternalFaces
	if b < 0 || b >= len(m.facePatch) {
		return -1
	}
	return m.facePatch[b]
}

// FaceSign is +1 when cell is the owner of face f and -1 when it is the
// neighbour.
func (m *Mesh) FaceSign(cell, f int) float64 {
	if m.Owner[f] == cell {
		return 1
	}
	return -1
}

// TotalVolume sums the cell volumes.
func (m *Mesh) TotalVolume() (v float64) {
	for _, vc := range m.V {
		v += vc
	}
	return
}

// FromFaces builds a mesh from raw face connectivity, renumbering the faces into
// upper-triangular order and computing all geometric quantities. patchOrder
// fixes the patch ordering; patches not listed follow in order of appearance.
func FromFaces(points []r3.Vec, raw []RawFace, nCells int, patchOrder ...string) (*Mesh, error) {
	if nCells <= 0 {
		return nil, fmt.Errorf("invalid cell count %d", nCells)
	}
	var internal, boundary []RawFace
	for i, f := range raw {
		if len(f.Points) < 3 {
			return nil, fmt.Errorf("face %d has %d points", i, len(f.Points))
		}
		if f.Owner < 0 || f.Owner >= nCells || f.Neighbour >= nCells {
			return nil, fmt.Errorf("face %d: cell index out of range (owner %d, neighbour %d)",
				i, f.Owner, f.Neighbour)
		}
		if f.Neighbour < 0 {
			boundary = append(boundary, f)
			continue
		}
		if f.Owner == f.Neighbour {
			return nil, fmt.Errorf("face %d connects cell %d to itself", i, f.Owner)
		}
		if f.Owner > f.Neighbour {
			f.Owner, f.Neighbour = f.Neighbour, f.Owner
		}
		internal = append(internal, f)
	}
	sort.SliceStable(internal, func(i, j int) bool {
		if internal[i].Owner != internal[j].Owner {
			return internal[i].Owner < internal[j].Owner
		}
		return internal[i].Neighbour < internal[j].Neighbour
	})

	// Group boundary faces by patch
	order := append([]string(nil), patchOrder...)
	seen := make(map[string]bool)
	for _, name := range order {
		seen[name] = true
	}
	for _, f := range boundary {
		if !seen[f.Patch] {
			seen[f.Patch] = true
			order = append(order, f.Patch)
		}
	}
	byPatch := make(map[string][]RawFace)
	for _, f := range boundary {
		byPatch[f.Patch] = append(byPatch[f.Patch], f)
	}

	m := &Mesh{
		NCells:         nCells,
		NInternalFaces: len(internal),
		Points:         points,
	}
	for _, f := range internal {
		m.Faces = append(m.Faces, f.Points)
		m.Owner = append(m.Owner, f.Owner)
		m.Neighbour = append(m.Neighbour, f.Neighbour)
	}
	for _, name := range order {
		faces := byPatch[name]
		m.Patches = append(m.Patches, Patch{Name: name, Start: len(m.Owner), Size: len(faces)})
		for _, f := range faces {
			m.Faces = append(m.Faces, f.Points)
			m.Owner = append(m.Owner, f.Owner)
		}
	}

	m.facePatch = make([]int, 0, len(boundary))
	for pi, p := range m.Patches {
		for i := 0; i < p.Size; i++ {
			m.facePatch = append(m.facePatch, pi)
		}
	}
	m.buildCellFaces()
	m.orientFaces()
	if err := m.calcGeometry(); err != nil {
		return nil, err
	}
	m.calcCoefficients()
	return m, nil
}

func (m *Mesh) buildCellFaces() {
	m.CellFaces = make([][]int, m.NCells)
	for f, o := range m.Owner {
		m.CellFaces[o] = append(m.CellFaces[o], f)
		if f < m.NInternalFaces {
			n := m.Neighbour[f]
			m.CellFaces[n] = append(m.CellFaces[n], f)
		}
	}
}

// orientFaces reverses the point order of faces whose normal points into the
// owner cell, using the mean of the owner's points as the reference.
func (m *Mesh) orientFaces() {
	est := make([]r3.Vec, m.NCells)
	for c, faces := range m.CellFaces {
		var sum r3.Vec
		n := 0
		for _, f := range faces {
			for _, p := range m.Faces[f] {
				sum = r3.Add(sum, m.Points[p])
				n++
			}
		}
		if n > 0 {
			est[c] = r3.Scale(1/float64(n), sum)
		}
	}
	for f, pts := range m.Faces {
		cf, sf := faceGeometry(m.Points, pts)
		if r3.Dot(sf, r3.Sub(cf, est[m.Owner[f]])) < 0 {
			rev := make([]int, len(pts))
			for i := range pts {
				rev[i] = pts[len(pts)-1-i]
			}
			m.Faces[f] = rev
		}
	}
}

// faceGeometry returns the centre and area vector of a polygonal face by
// triangulating about the point average.
func faceGeometry(points []r3.Vec, face []int) (centre, area r3.Vec) {
	n := len(face)
	if n == 3 {
		a, b, c := points[face[0]], points[face[1]], points[face[2]]
		centre = r3.Scale(1./3., r3.Add(r3.Add(a, b), c))
		area = r3.Scale(0.5, r3.Cross(r3.Sub(b, a), r3.Sub(c, a)))
		return
	}
	var est r3.Vec
	for _, p := range face {
		est = r3.Add(est, points[p])
	}
	est = r3.Scale(1/float64(n), est)

	var sumA float64
	var sumAc r3.Vec
	var sumN r3.Vec
	for i := 0; i < n; i++ {
		a := points[face[i]]
		b := points[face[(i+1)%n]]
		triN := r3.Scale(0.5, r3.Cross(r3.Sub(a, est), r3.Sub(b, est)))
		triC := r3.Scale(1./3., r3.Add(r3.Add(a, b), est))
		sumN = r3.Add(sumN, triN)
		triA := r3.Norm(triN)
		sumA += triA
		sumAc = r3.Add(sumAc, r3.Scale(triA, triC))
	}
	if sumA < 1e-300 {
		return est, sumN
	}
	return r3.Scale(1/sumA, sumAc), sumN
}

func (m *Mesh) calcGeometry() error {
	nf := len(m.Faces)
	m.Cf = make([]r3.Vec, nf)
	m.Sf = make([]r3.Vec, nf)
	m.MagSf = make([]float64, nf)
	for f, pts := range m.Faces {
		m.Cf[f], m.Sf[f] = faceGeometry(m.Points, pts)
		m.MagSf[f] = r3.Norm(m.Sf[f])
		if m.MagSf[f] <= 0 {
			return fmt.Errorf("face %d has zero area: %w", f, ErrDegenerateCell)
		}
	}

	m.C = make([]r3.Vec, m.NCells)
	m.V = make([]float64, m.NCells)
	for c, faces := range m.CellFaces {
		if len(faces) < 4 {
			return fmt.Errorf("cell %d has %d faces: %w", c, len(faces), ErrDegenerateCell)
		}
		var est r3.Vec
		for _, f := range faces {
			est = r3.Add(est, m.Cf[f])
		}
		est = r3.Scale(1/float64(len(faces)), est)

		var vol float64
		var vc r3.Vec
		for _, f := range faces {
			pyr := r3.Dot(r3.Scale(m.FaceSign(c, f), m.Sf[f]), r3.Sub(m.Cf[f], est)) / 3
			pc := r3.Add(r3.Scale(0.75, m.Cf[f]), r3.Scale(0.25, est))
			vol += pyr
			vc = r3.Add(vc, r3.Scale(pyr, pc))
		}
		if vol <= 0 {
			return fmt.Errorf("cell %d has volume %g: %w", c, vol, ErrDegenerateCell)
		}
		m.V[c] = vol
		m.C[c] = r3.Scale(1/vol, vc)
	}
	return nil
}

func (m *Mesh) calcCoefficients() {
	nf := len(m.Faces)
	m.Weights = make([]float64, nf)
	m.DeltaCoeffs = make([]float64, nf)
	m.NonOrthDeltaCoeffs = make([]float64, nf)
	m.NonOrthCorrectionVectors = make([]r3.Vec, nf)

	for f := 0; f < nf; f++ {
		own := m.C[m.Owner[f]]
		n := r3.Scale(1/m.MagSf[f], m.Sf[f])
		if f < m.NInternalFaces {
			nei := m.C[m.Neighbour[f]]
			sfdOwn := math.Abs(r3.Dot(m.Sf[f], r3.Sub(m.Cf[f], own)))
			sfdNei := math.Abs(r3.Dot(m.Sf[f], r3.Sub(nei, m.Cf[f])))
			m.Weights[f] = sfdNei / (sfdOwn + sfdNei)

			d := r3.Sub(nei, own)
			magD := r3.Norm(d)
			m.DeltaCoeffs[f] = 1 / magD
			m.NonOrthDeltaCoeffs[f] = 1 / math.Max(r3.Dot(n, d), 0.05*magD)
			m.NonOrthCorrectionVectors[f] = r3.Sub(n, r3.Scale(m.NonOrthDeltaCoeffs[f], d))
			continue
		}
		d := r3.Sub(m.Cf[f], own)
		m.Weights[f] = 1
		m.DeltaCoeffs[f] = 1 / r3.Norm(d)
		m.NonOrthDeltaCoeffs[f] = 1 / math.Max(r3.Dot(n, d), 0.05*r3.Norm(d))
	}
}

// NonOrthogonality returns the maximum and average angle in degrees between
// the face normal and the owner–neighbour vector over the internal faces.
func (m *Mesh) NonOrthogonality() (maxAngle, avgAngle float64) {
	if m.NInternalFaces == 0 {
		return
	}
	for f := 0; f < m.NInternalFaces; f++ {
		d := r3.Sub(m.C[m.Neighbour[f]], m.C[m.Owner[f]])
		cos := r3.Dot(d, m.Sf[f]) / (r3.Norm(d) * m.MagSf[f])
		angle := math.Acos(math.Min(1, math.Max(-1, cos))) * 180 / math.Pi
		maxAngle = math.Max(maxAngle, angle)
		avgAngle += angle
	}
	avgAngle /= float64(m.NInternalFaces)
	return
}
