package mesh

import (
	"fmt"
	"sort"

	"github.com/notargets/gocfd/DG3D/mesh/readers"
	"gonum.org/v1/gonum/spatial/r3"
)

// DefaultPatch names the boundary faces of a tet mesh when no classifier is
// given.
const DefaultPatch = "boundary"

// PatchClassifier names the patch of a boundary face from its centre.
type PatchClassifier func(faceCentre r3.Vec) string

// Local vertex triples of the four tetrahedron faces.
var tetFaceVertices = [4][3]int{
	{0, 1, 2},
	{0, 1, 3},
	{1, 2, 3},
	{0, 2, 3},
}

type faceKey [3]int

// FromTets builds a mesh from tetrahedral element-to-vertex connectivity.
// Shared faces are matched through their sorted vertex triple.
func FromTets(verts []r3.Vec, EToV [][]int, classify PatchClassifier) (*Mesh, error) {
	K := len(EToV)
	if K == 0 {
		return nil, fmt.Errorf("no elements")
	}
	type half struct {
		elem int
		pts  []int
	}
	faceMap := make(map[faceKey]half, 2*K)
	var raw []RawFace

	for e, ev := range EToV {
		if len(ev) != 4 {
			return nil, fmt.Errorf("element %d has %d vertices, expected a tetrahedron", e, len(ev))
		}
		for _, fv := range tetFaceVertices {
			pts := []int{ev[fv[0]], ev[fv[1]], ev[fv[2]]}
			for _, p := range pts {
				if p < 0 || p >= len(verts) {
					return nil, fmt.Errorf("element %d references vertex %d of %d", e, p, len(verts))
				}
			}
			s := append([]int(nil), pts...)
			sort.Ints(s)
			key := faceKey{s[0], s[1], s[2]}
			if existing, found := faceMap[key]; found {
				raw = append(raw, RawFace{Points: existing.pts, Owner: existing.elem, Neighbour: e})
				delete(faceMap, key)
				continue
			}
			faceMap[key] = half{elem: e, pts: pts}
		}
	}

	// Remaining unmatched faces are on the boundary; emit them in a
	// deterministic order.
	keys := make([]faceKey, 0, len(faceMap))
	for k := range faceMap {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if a[0] != b[0] {
			return a[0] < b[0]
		}
		if a[1] != b[1] {
			return a[1] < b[1]
		}
		return a[2] < b[2]
	})
	for _, k := range keys {
		h := faceMap[k]
		name := DefaultPatch
		if classify != nil {
			c, _ := faceGeometry(verts, h.pts)
			name = classify(c)
		}
		raw = append(raw, RawFace{Points: h.pts, Owner: h.elem, Neighbour: -1, Patch: name})
	}
	return FromFaces(verts, raw, K)
}

// ReadMeshFile reads a tetrahedral mesh (Gambit neutral or Gmsh) and builds
// the finite-volume mesh from it.
func ReadMeshFile(path string, classify PatchClassifier) (*Mesh, error) {
	msh, err := readers.ReadMeshFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading mesh %s: %w", path, err)
	}
	verts := make([]r3.Vec, len(msh.Vertices))
	for i, v := range msh.Vertices {
		verts[i] = r3.Vec{X: v[0], Y: v[1], Z: v[2]}
	}
	if msh.NumElements != len(msh.EtoV) {
		return nil, fmt.Errorf("mesh %s: %d elements but %d connectivity rows",
			path, msh.NumElements, len(msh.EtoV))
	}
	m, err := FromTets(verts, msh.EtoV, classify)
	if err != nil {
		return nil, fmt.Errorf("mesh %s: %w", path, err)
	}
	return m, nil
}
