package partitions

import (
	"fmt"
	"sync"

	"github.com/notargets/FVFlow/utils"
)

// Schedule runs cell and face loops over a partition layout. Faces whose two
// cells share a partition run concurrently, one goroutine per partition.
// Interface faces follow in rounds of disjoint partition pairs and boundary
// faces run serially last, so a face kernel may scatter into both of its
// cells without locking.
type Schedule struct {
	Layout    *PartitionLayout
	Connector *utils.FaceConnector
}

// NewSchedule builds a schedule for the given layout and face addressing.
func NewSchedule(layout *PartitionLayout, owner, neighbour []int) (*Schedule, error) {
	if layout == nil {
		return nil, fmt.Errorf("nil partition layout")
	}
	fc, err := utils.NewFaceConnector(layout.TotalCells, owner, neighbour, layout.CToP)
	if err != nil {
		return nil, fmt.Errorf("classifying faces: %w", err)
	}
	if err = fc.Verify(); err != nil {
		return nil, fmt.Errorf("classifying faces: %w", err)
	}
	return &Schedule{Layout: layout, Connector: fc}, nil
}

// SerialSchedule returns a single-partition schedule that runs every loop on
// the calling goroutine.
func SerialSchedule(nCells int, owner, neighbour []int) (*Schedule, error) {
	pb := &PartitionBuilder{
		Mesh:                &CellConnectivity{NumCells: nCells, Owner: owner, Neighbour: neighbour},
		TargetPartitionSize: nCells,
		Strategy:            BlockPartition,
	}
	layout, err := pb.BuildPartitions()
	if err != nil {
		return nil, err
	}
	return NewSchedule(layout, owner, neighbour)
}

// NumPartitions returns the number of partitions.
func (s *Schedule) NumPartitions() int { return s.Layout.NumPartitions }

// ForEachCell calls fn once for every cell.
func (s *Schedule) ForEachCell(fn func(cell int)) {
	s.parallel(func(p int) {
		for _, c := range s.Layout.Partitions[p].Cells {
			fn(c)
		}
	})
}

// ForEachFace calls fn once for every face, internal and boundary.
func (s *Schedule) ForEachFace(fn func(face int)) {
	s.ForEachInternalFace(fn)
	for _, f := range s.Connector.BoundaryFaces {
		fn(f)
	}
}

// ForEachInternalFace calls fn once for every internal face. Interface faces
// run after the interior ones, one round at a time, with the partition pairs
// of a round in parallel.
func (s *Schedule) ForEachInternalFace(fn func(face int)) {
	s.parallel(func(p int) {
		for _, f := range s.Connector.InteriorFaces[p] {
			fn(f)
		}
	})
	for _, round := range s.Connector.InterfaceRounds {
		concurrent(len(round), func(i int) {
			for _, f := range s.Connector.GetSharedFaces(round[i].P, round[i].Q) {
				fn(f)
			}
		})
	}
}

func (s *Schedule) parallel(work func(p int)) {
	concurrent(s.Layout.NumPartitions, work)
}

func concurrent(n int, work func(i int)) {
	if n == 1 {
		work(0)
		return
	}
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			work(i)
		}(i)
	}
	wg.Wait()
}
