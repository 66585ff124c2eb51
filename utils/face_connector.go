package utils

import (
	"fmt"
)

// FaceConnector classifies the faces of a partitioned mesh
type FaceConnector struct {
	NumPartitions  int
	NCells         int // Total cells
	NInternalFaces int
	NFaces         int

	// Input connectivity
	Owner     []int // Face → owner cell
	Neighbour []int // Internal face → neighbour cell
	CToP      []int // Cell → partition mapping

	// Face classes
	InteriorFaces  [][]int // [partition] → internal faces with both cells in the partition
	InterfaceFaces []int   // Internal faces whose cells lie in different partitions
	BoundaryFaces  []int

	// Interface faces grouped by partition pair, symmetric in the two indices
	SharedFaces [][][]int // [partition][otherPartition] → faces
	// InterfaceRounds groups the partition pairs that share faces so that no
	// partition appears twice in a round. The faces of all pairs in a round
	// touch disjoint cells.
	InterfaceRounds [][]PartitionPair
}

// PartitionPair names two partitions that share interface faces, P < Q.
type PartitionPair struct {
	P, Q int
}

// NewFaceConnector creates a face connector from owner/neighbour addressing
func NewFaceConnector(nCells int, owner, neighbour, CToP []int) (*FaceConnector, error) {
	if nCells <= 0 {
		return nil, fmt.Errorf("invalid cell count %d", nCells)
	}
	if len(CToP) != nCells {
		return nil, fmt.Errorf("CToP length %d does not match %d cells", len(CToP), nCells)
	}
	if len(neighbour) > len(owner) {
		return nil, fmt.Errorf("%d neighbours for %d faces", len(neighbour), len(owner))
	}

	numPartitions := 0
	for c, p := range CToP {
		if p < 0 {
			return nil, fmt.Errorf("cell %d has no partition", c)
		}
		if p+1 > numPartitions {
			numPartitions = p + 1
		}
	}

	fc := &FaceConnector{
		NumPartitions:  numPartitions,
		NCells:         nCells,
		NInternalFaces: len(neighbour),
		NFaces:         len(owner),
		Owner:          owner,
		Neighbour:      neighbour,
		CToP:           CToP,
	}

	fc.initializeBuffers()
	if err := fc.BuildIndices(); err != nil {
		return nil, err
	}
	fc.buildRounds()
	return fc, nil
}

func (fc *FaceConnector) initializeBuffers() {
	fc.InteriorFaces = make([][]int, fc.NumPartitions)
	fc.SharedFaces = make([][][]int, fc.NumPartitions)
	for p := range fc.SharedFaces {
		fc.SharedFaces[p] = make([][]int, fc.NumPartitions)
	}
}

// BuildIndices sorts every face into exactly one class
func (fc *FaceConnector) BuildIndices() error {
	for f := 0; f < fc.NFaces; f++ {
		own := fc.Owner[f]
		if own < 0 || own >= fc.NCells {
			return fmt.Errorf("face %d: owner %d out of range", f, own)
		}
		if f >= fc.NInternalFaces {
			fc.BoundaryFaces = append(fc.BoundaryFaces, f)
			continue
		}
		nei := fc.Neighbour[f]
		if nei < 0 || nei >= fc.NCells {
			return fmt.Errorf("face %d: neighbour %d out of range", f, nei)
		}
		p, q := fc.CToP[own], fc.CToP[nei]
		if p == q {
			fc.InteriorFaces[p] = append(fc.InteriorFaces[p], f)
			continue
		}
		fc.InterfaceFaces = append(fc.InterfaceFaces, f)
		fc.SharedFaces[p][q] = append(fc.SharedFaces[p][q], f)
		fc.SharedFaces[q][p] = append(fc.SharedFaces[q][p], f)
	}
	return nil
}

// buildRounds colours the partition adjacency edges greedily, first fit in
// (P, Q) order.
func (fc *FaceConnector) buildRounds() {
	var busy [][]bool // [round][partition]
	fc.InterfaceRounds = nil
	for p := 0; p < fc.NumPartitions; p++ {
		for q := p + 1; q < fc.NumPartitions; q++ {
			if len(fc.SharedFaces[p][q]) == 0 {
				continue
			}
			r := 0
			for r < len(busy) && (busy[r][p] || busy[r][q]) {
				r++
			}
			if r == len(busy) {
				busy = append(busy, make([]bool, fc.NumPartitions))
				fc.InterfaceRounds = append(fc.InterfaceRounds, nil)
			}
			busy[r][p], busy[r][q] = true, true
			fc.InterfaceRounds[r] = append(fc.InterfaceRounds[r], PartitionPair{P: p, Q: q})
		}
	}
}

// GetSharedFaces returns the interface faces between two partitions
func (fc *FaceConnector) GetSharedFaces(partition, other int) []int {
	if partition < 0 || partition >= fc.NumPartitions ||
		other < 0 || other >= fc.NumPartitions {
		return nil
	}
	return fc.SharedFaces[partition][other]
}

// Verify checks index validity and that every face is classified once
func (fc *FaceConnector) Verify() error {
	seen := make([]int, fc.NFaces)
	for p, faces := range fc.InteriorFaces {
		for _, f := range faces {
			if fc.CToP[fc.Owner[f]] != p || fc.CToP[fc.Neighbour[f]] != p {
				return fmt.Errorf("face %d listed as interior to partition %d", f, p)
			}
			seen[f]++
		}
	}
	for _, f := range fc.BoundaryFaces {
		seen[f]++
	}

	// Every interface face sits in exactly one round
	inRounds := 0
	for r, round := range fc.InterfaceRounds {
		used := make(map[int]bool, 2*len(round))
		for _, pq := range round {
			if used[pq.P] || used[pq.Q] {
				return fmt.Errorf("round %d uses partition %d or %d twice", r, pq.P, pq.Q)
			}
			used[pq.P], used[pq.Q] = true, true
			a, b := fc.SharedFaces[pq.P][pq.Q], fc.SharedFaces[pq.Q][pq.P]
			if len(a) != len(b) {
				return fmt.Errorf("length mismatch: shared[%d][%d]=%d, shared[%d][%d]=%d",
					pq.P, pq.Q, len(a), pq.Q, pq.P, len(b))
			}
			for _, f := range a {
				p, q := fc.CToP[fc.Owner[f]], fc.CToP[fc.Neighbour[f]]
				if !(p == pq.P && q == pq.Q) && !(p == pq.Q && q == pq.P) {
					return fmt.Errorf("face %d listed between partitions %d and %d", f, pq.P, pq.Q)
				}
				seen[f]++
			}
			inRounds += len(a)
		}
	}
	if inRounds != len(fc.InterfaceFaces) {
		return fmt.Errorf("%d interface faces but %d scheduled", len(fc.InterfaceFaces), inRounds)
	}
	for f, n := range seen {
		if n != 1 {
			return fmt.Errorf("face %d classified %d times", f, n)
		}
	}
	return nil
}
