package partitions

import (
	"fmt"
	"math"
	"strings"
)

// PartitionBuilder constructs partitions from mesh connectivity
type PartitionBuilder struct {
	Mesh *CellConnectivity

	// Partitioning parameters
	TargetPartitionSize int     // Desired cells per partition
	MaxImbalance        float64 // Acceptable load imbalance, 0 disables the check
	Strategy            PartitionStrategy
}

// CellConnectivity provides the mesh topology needed for partitioning
type CellConnectivity struct {
	NumCells  int
	Owner     []int // Face → owner cell
	Neighbour []int // Internal face → neighbour cell
}

// PartitionStrategy defines how cells are grouped
type PartitionStrategy int

const (
	BlockPartition PartitionStrategy = iota // Consecutive cells
	RoundRobin                              // Distribute cyclically
	GraphPartition                          // Breadth-first growth over face adjacency
)

func (s PartitionStrategy) String() string {
	switch s {
	case BlockPartition:
		return "block"
	case RoundRobin:
		return "roundrobin"
	case GraphPartition:
		return "graph"
	}
	return fmt.Sprintf("PartitionStrategy(%d)", int(s))
}

// ParseStrategy maps a configuration name onto a strategy
func ParseStrategy(name string) (PartitionStrategy, error) {
	switch strings.ToLower(name) {
	case "", "block":
		return BlockPartition, nil
	case "roundrobin", "round-robin":
		return RoundRobin, nil
	case "graph", "bfs":
		return GraphPartition, nil
	}
	return BlockPartition, fmt.Errorf("unknown partition strategy %q", name)
}

// NumPartitionsFor returns the target partition size that splits nCells into
// n partitions.
func NumPartitionsFor(nCells, n int) int {
	if n < 1 {
		n = 1
	}
	return int(math.Ceil(float64(nCells) / float64(n)))
}

// BuildPartitions creates a partition layout from mesh connectivity
func (pb *PartitionBuilder) BuildPartitions() (*PartitionLayout, error) {
	if pb.Mesh == nil || pb.Mesh.NumCells <= 0 {
		return nil, fmt.Errorf("no cells to partition")
	}
	if pb.TargetPartitionSize <= 0 {
		return nil, fmt.Errorf("invalid target partition size %d", pb.TargetPartitionSize)
	}
	numPartitions := pb.calculateNumPartitions()

	cToP, err := pb.partitionCells(numPartitions)
	if err != nil {
		return nil, err
	}
	partitions := pb.createPartitions(cToP, numPartitions)
	kpartMax := pb.calculateKpartMax(partitions)
	for i := range partitions {
		partitions[i].MaxCells = kpartMax
	}

	layout := &PartitionLayout{
		Partitions:    partitions,
		KpartMax:      kpartMax,
		TotalCells:    pb.Mesh.NumCells,
		NumPartitions: numPartitions,
		CToP:          cToP,
	}
	if err := layout.ValidateLayout(); err != nil {
		return nil, fmt.Errorf("invalid partition layout: %w", err)
	}
	if pb.MaxImbalance > 0 {
		if st := layout.PartitionStatistics(); st.Imbalance > pb.MaxImbalance {
			return nil, fmt.Errorf("partition imbalance %.3f exceeds %.3f", st.Imbalance, pb.MaxImbalance)
		}
	}
	return layout, nil
}

func (pb *PartitionBuilder) calculateNumPartitions() int {
	numPartitions := int(math.Ceil(float64(pb.Mesh.NumCells) / float64(pb.TargetPartitionSize)))
	if numPartitions < 1 {
		numPartitions = 1
	}
	return numPartitions
}

// partitionCells assigns cells to partitions
func (pb *PartitionBuilder) partitionCells(numPartitions int) ([]int, error) {
	n := pb.Mesh.NumCells
	cToP := make([]int, n)

	switch pb.Strategy {
	case BlockPartition:
		cellsPerPartition := int(math.Ceil(float64(n) / float64(numPartitions)))
		for i := 0; i < n; i++ {
			cToP[i] = i / cellsPerPartition
			if cToP[i] >= numPartitions {
				cToP[i] = numPartitions - 1
			}
		}
	case RoundRobin:
		for i := 0; i < n; i++ {
			cToP[i] = i % numPartitions
		}
	case GraphPartition:
		return pb.growPartitions(numPartitions)
	default:
		return nil, fmt.Errorf("unsupported strategy %v", pb.Strategy)
	}
	return cToP, nil
}

// growPartitions fills partitions one at a time by breadth-first search from
// the lowest unassigned cell, which keeps each partition face-connected where
// the mesh allows it.
func (pb *PartitionBuilder) growPartitions(numPartitions int) ([]int, error) {
	n := pb.Mesh.NumCells
	adj, err := pb.adjacency()
	if err != nil {
		return nil, err
	}
	cToP := make([]int, n)
	for i := range cToP {
		cToP[i] = -1
	}

	assigned := 0
	seed := 0
	for part := 0; part < numPartitions; part++ {
		// Spread the remainder over the leading partitions
		remaining := numPartitions - part
		target := (n - assigned + remaining - 1) / remaining
		count := 0
		queue := make([]int, 0, target)
		for count < target {
			if len(queue) == 0 {
				for seed < n && cToP[seed] >= 0 {
					seed++
				}
				if seed == n {
					break
				}
				cToP[seed] = part
				count++
				queue = append(queue, seed)
				continue
			}
			c := queue[0]
			queue = queue[1:]
			for _, nb := range adj[c] {
				if count == target {
					break
				}
				if cToP[nb] < 0 {
					cToP[nb] = part
					count++
					queue = append(queue, nb)
				}
			}
		}
		assigned += count
	}
	if assigned != n {
		return nil, fmt.Errorf("graph partitioning assigned %d of %d cells", assigned, n)
	}
	return cToP, nil
}

func (pb *PartitionBuilder) adjacency() ([][]int, error) {
	m := pb.Mesh
	adj := make([][]int, m.NumCells)
	for f, nei := range m.Neighbour {
		if f >= len(m.Owner) {
			return nil, fmt.Errorf("face %d has a neighbour but no owner", f)
		}
		own := m.Owner[f]
		if own < 0 || own >= m.NumCells || nei < 0 || nei >= m.NumCells {
			return nil, fmt.Errorf("face %d: cells (%d, %d) out of range", f, own, nei)
		}
		adj[own] = append(adj[own], nei)
		adj[nei] = append(adj[nei], own)
	}
	return adj, nil
}

// createPartitions builds partition structures from cell assignments
func (pb *PartitionBuilder) createPartitions(cToP []int, numPartitions int) []Partition {
	partitions := make([]Partition, numPartitions)
	for i := range partitions {
		partitions[i] = Partition{ID: i, Cells: make([]int, 0)}
	}
	for cell, part := range cToP {
		partitions[part].Cells = append(partitions[part].Cells, cell)
		partitions[part].NumCells++
	}
	return partitions
}

func (pb *PartitionBuilder) calculateKpartMax(partitions []Partition) int {
	kpartMax := 0
	for _, p := range partitions {
		if p.NumCells > kpartMax {
			kpartMax = p.NumCells
		}
	}
	return kpartMax
}
