package mesh

import (
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"
)

// Box patch names, in the order they are created.
const (
	XMin = "xmin"
	XMax = "xmax"
	YMin = "ymin"
	YMax = "ymax"
	ZMin = "zmin"
	ZMax = "zmax"
)

// BoxSpec describes a structured hexahedral block on [0,LX]×[0,LY]×[0,LZ].
// Skew shears the block, x' = x + Skew·z, which makes the faces normal to x
// non-orthogonal to the cell-centre line.
type BoxSpec struct {
	NX, NY, NZ int
	LX, LY, LZ float64
	Skew       float64
}

// NewBox builds a hexahedral block mesh with six patches.
func NewBox(spec BoxSpec) (*Mesh, error) {
	nx, ny, nz := spec.NX, spec.NY, spec.NZ
	if nx < 1 || ny < 1 || nz < 1 {
		return nil, fmt.Errorf("invalid box dimensions: %d×%d×%d", nx, ny, nz)
	}
	if spec.LX <= 0 || spec.LY <= 0 || spec.LZ <= 0 {
		return nil, fmt.Errorf("invalid box extents: %g×%g×%g", spec.LX, spec.LY, spec.LZ)
	}
	dx, dy, dz := spec.LX/float64(nx), spec.LY/float64(ny), spec.LZ/float64(nz)

	pt := func(i, j, k int) int { return i + (nx+1)*(j+(ny+1)*k) }
	points := make([]r3.Vec, (nx+1)*(ny+1)*(nz+1))
	for k := 0; k <= nz; k++ {
		for j := 0; j <= ny; j++ {
			for i := 0; i <= nx; i++ {
				z := float64(k) * dz
				points[pt(i, j, k)] = r3.Vec{
					X: float64(i)*dx + spec.Skew*z,
					Y: float64(j) * dy,
					Z: z,
				}
			}
		}
	}

	cell := func(i, j, k int) int {
		if i < 0 || i >= nx || j < 0 || j >= ny || k < 0 || k >= nz {
			return -1
		}
		return i + nx*(j+ny*k)
	}

	var raw []RawFace
	addFace := func(pts []int, a, b int, lowPatch, highPatch string) {
		switch {
		case a >= 0 && b >= 0:
			raw = append(raw, RawFace{Points: pts, Owner: a, Neighbour: b})
		case a >= 0:
			raw = append(raw, RawFace{Points: pts, Owner: a, Neighbour: -1, Patch: highPatch})
		case b >= 0:
			raw = append(raw, RawFace{Points: pts, Owner: b, Neighbour: -1, Patch: lowPatch})
		}
	}

	// Faces normal to x
	for k := 0; k < nz; k++ {
		for j := 0; j < ny; j++ {
			for i := 0; i <= nx; i++ {
				pts := []int{pt(i, j, k), pt(i, j+1, k), pt(i, j+1, k+1), pt(i, j, k+1)}
				addFace(pts, cell(i-1, j, k), cell(i, j, k), XMin, XMax)
			}
		}
	}
	// Faces normal to y
	for k := 0; k < nz; k++ {
		for j := 0; j <= ny; j++ {
			for i := 0; i < nx; i++ {
				pts := []int{pt(i, j, k), pt(i, j, k+1), pt(i+1, j, k+1), pt(i+1, j, k)}
				addFace(pts, cell(i, j-1, k), cell(i, j, k), YMin, YMax)
			}
		}
	}
	// Faces normal to z
	for k := 0; k <= nz; k++ {
		for j := 0; j < ny; j++ {
			for i := 0; i < nx; i++ {
				pts := []int{pt(i, j, k), pt(i+1, j, k), pt(i+1, j+1, k), pt(i, j+1, k)}
				addFace(pts, cell(i, j, k-1), cell(i, j, k), ZMin, ZMax)
			}
		}
	}

	return FromFaces(points, raw, nx*ny*nz, XMin, XMax, YMin, YMax, ZMin, ZMax)
}
