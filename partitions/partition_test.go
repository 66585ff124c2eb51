package partitions

import (
	"sync/atomic"
	"testing"

	"github.com/notargets/FVFlow/mesh"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBox(t *testing.T) *mesh.Mesh {
	t.Helper()
	m, err := mesh.NewBox(mesh.BoxSpec{NX: 5, NY: 4, NZ: 3, LX: 1, LY: 1, LZ: 1, Skew: 0.2})
	require.NoError(t, err)
	return m
}

func connectivity(m *mesh.Mesh) *CellConnectivity {
	return &CellConnectivity{NumCells: m.NCells, Owner: m.Owner, Neighbour: m.Neighbour}
}

func TestBuildPartitions(t *testing.T) {
	m := testBox(t)
	for _, strategy := range []PartitionStrategy{BlockPartition, RoundRobin, GraphPartition} {
		t.Run(strategy.String(), func(t *testing.T) {
			pb := &PartitionBuilder{
				Mesh:                connectivity(m),
				TargetPartitionSize: NumPartitionsFor(m.NCells, 4),
				MaxImbalance:        1.1,
				Strategy:            strategy,
			}
			layout, err := pb.BuildPartitions()
			require.NoError(t, err)
			require.NoError(t, layout.ValidateLayout())

			assert.Equal(t, 4, layout.NumPartitions)
			assert.Equal(t, m.NCells, layout.TotalCells)
			stats := layout.PartitionStatistics()
			assert.Equal(t, 15, stats.MaxCells)
			assert.Equal(t, 15, stats.MinCells)
			assert.InDelta(t, 1.0, stats.Imbalance, 1e-12)

			seen := make([]bool, m.NCells)
			for _, p := range layout.Partitions {
				for _, c := range p.Cells {
					require.False(t, seen[c], "cell %d in two partitions", c)
					seen[c] = true
				}
			}
		})
	}
}

func TestGraphPartitionIsConnected(t *testing.T) {
	m := testBox(t)
	pb := &PartitionBuilder{
		Mesh:                connectivity(m),
		TargetPartitionSize: 20,
		Strategy:            GraphPartition,
	}
	layout, err := pb.BuildPartitions()
	require.NoError(t, err)

	// Flood fill inside each grown partition reaches all of its cells; the
	// last one takes the leftovers and may be split
	adj, err := pb.adjacency()
	require.NoError(t, err)
	for _, p := range layout.Partitions[:layout.NumPartitions-1] {
		reached := map[int]bool{p.Cells[0]: true}
		queue := []int{p.Cells[0]}
		for len(queue) > 0 {
			c := queue[0]
			queue = queue[1:]
			for _, nb := range adj[c] {
				if layout.CToP[nb] == p.ID && !reached[nb] {
					reached[nb] = true
					queue = append(queue, nb)
				}
			}
		}
		assert.Len(t, reached, p.NumCells, "partition %d is split", p.ID)
	}

	// A grown partition has fewer interface faces than a cyclic one
	graph, err := NewSchedule(layout, m.Owner, m.Neighbour)
	require.NoError(t, err)
	pb.Strategy = RoundRobin
	rr, err := pb.BuildPartitions()
	require.NoError(t, err)
	cyclic, err := NewSchedule(rr, m.Owner, m.Neighbour)
	require.NoError(t, err)
	assert.Less(t, len(graph.Connector.InterfaceFaces), len(cyclic.Connector.InterfaceFaces))
}

func TestBuildPartitionsErrors(t *testing.T) {
	pb := &PartitionBuilder{Mesh: &CellConnectivity{NumCells: 0}, TargetPartitionSize: 1}
	_, err := pb.BuildPartitions()
	assert.Error(t, err)

	pb = &PartitionBuilder{Mesh: &CellConnectivity{NumCells: 4}, TargetPartitionSize: 0}
	_, err = pb.BuildPartitions()
	assert.Error(t, err)

	pb = &PartitionBuilder{
		Mesh:                &CellConnectivity{NumCells: 10},
		TargetPartitionSize: 4,
		MaxImbalance:        1.05,
	}
	_, err = pb.BuildPartitions()
	assert.Error(t, err, "block split 4/4/2 is imbalanced")
}

func TestParseStrategy(t *testing.T) {
	for name, want := range map[string]PartitionStrategy{
		"":           BlockPartition,
		"block":      BlockPartition,
		"RoundRobin": RoundRobin,
		"bfs":        GraphPartition,
		"graph":      GraphPartition,
	} {
		got, err := ParseStrategy(name)
		require.NoError(t, err)
		assert.Equal(t, want, got, name)
	}
	_, err := ParseStrategy("metis")
	assert.Error(t, err)
}

func TestScheduleParallelMatchesSerial(t *testing.T) {
	m := testBox(t)
	serial, err := SerialSchedule(m.NCells, m.Owner, m.Neighbour)
	require.NoError(t, err)
	pb := &PartitionBuilder{
		Mesh:                connectivity(m),
		TargetPartitionSize: 8,
		Strategy:            GraphPartition,
	}
	layout, err := pb.BuildPartitions()
	require.NoError(t, err)
	par, err := NewSchedule(layout, m.Owner, m.Neighbour)
	require.NoError(t, err)
	require.Greater(t, par.NumPartitions(), 1)

	// Scatter face areas into both cells
	scatter := func(s *Schedule) []float64 {
		out := make([]float64, m.NCells)
		s.ForEachFace(func(f int) {
			out[m.Owner[f]] += m.MagSf[f]
			if m.IsInternal(f) {
				out[m.Neighbour[f]] += m.MagSf[f]
			}
		})
		return out
	}
	want, got := scatter(serial), scatter(par)
	assert.InDeltaSlicef(t, want, got, 1e-12, "parallel scatter differs from serial")

	var cells, faces int64
	par.ForEachCell(func(int) { atomic.AddInt64(&cells, 1) })
	par.ForEachFace(func(int) { atomic.AddInt64(&faces, 1) })
	assert.EqualValues(t, m.NCells, cells)
	assert.EqualValues(t, m.NFaces(), faces)

	// Interface faces run once each, in rounds of disjoint partition pairs
	require.NotEmpty(t, par.Connector.InterfaceRounds)
	visits := make([]int64, m.NInternalFaces)
	par.ForEachInternalFace(func(f int) { atomic.AddInt64(&visits[f], 1) })
	for f, n := range visits {
		assert.EqualValues(t, 1, n, "face %d", f)
	}
}
