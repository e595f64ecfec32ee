package oracle_test

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"git.fiblab.net/sim/meetingpoint/oracle"
	"git.fiblab.net/sim/meetingpoint/router/algo"
	"git.fiblab.net/sim/meetingpoint/schedule"
	"git.fiblab.net/sim/meetingpoint/schedule/scheduletest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomSchedule(t *testing.T, seed int64, stops, lines int) *schedule.Schedule {
	s, err := schedule.New(scheduletest.Random(rand.New(rand.NewSource(seed)), stops, lines))
	require.NoError(t, err)
	return s
}

func TestStaticGraph(t *testing.T) {
	s, err := scheduletest.NewBuilder(3).
		Line(scheduletest.Line{Name: "fast", Stops: []int32{0, 1}, Hops: []int32{300}, First: 3600, Last: 3600, Weekdays: 0b0000001}).
		Line(scheduletest.Line{Name: "slow", Stops: []int32{0, 1, 2}, Hops: []int32{600, 120}, Dwell: 30, First: 7200, Last: 7200, Weekdays: 0b0000010}).
		FootPath(2, 0, 900, false).
		Build()
	require.NoError(t, err)

	g := oracle.NewStaticGraph(s, algo.ALL_WEEKDAYS, false)
	d, ok := g.GetEdgeLength(0, 1)
	assert.True(t, ok)
	assert.Equal(t, int32(300), d)
	d, _ = g.GetEdgeLength(1, 2)
	assert.Equal(t, int32(120), d)
	_, ok = g.GetEdgeLength(1, 0)
	assert.False(t, ok)

	// 只有周二运营的慢车
	g = oracle.NewStaticGraph(s, 0b0000010, true)
	d, _ = g.GetEdgeLength(1, 0)
	assert.Equal(t, int32(600), d)
	d, _ = g.GetEdgeLength(0, 2)
	assert.Equal(t, int32(900), d)
}

func TestLandmarksAdmissible(t *testing.T) {
	for seed := int64(1); seed <= 4; seed++ {
		s := randomSchedule(t, seed, 30, 20)
		l, err := oracle.NewLandmarks(context.Background(), s, 4, false, 2)
		require.NoError(t, err)
		assert.Len(t, l.Stops(), 4)
		for w := 0; w < algo.WEEKDAYS; w += 3 {
			g := oracle.NewStaticGraph(s, algo.HorizonWeekdays(w), false)
			h := l.ForWeekday(w)
			for a := int32(0); a < int32(s.StopCount()); a++ {
				dist := g.ShortestPathTree(int(a), algo.FORWARD)
				for b := int32(0); b < int32(s.StopCount()); b++ {
					lb := h.LowerBound(a, b)
					assert.GreaterOrEqual(t, lb, int32(0))
					assert.LessOrEqual(t, lb, dist[b], "seed %d weekday %d %d->%d", seed, w, a, b)
				}
				assert.Equal(t, int32(0), h.LowerBound(a, a))
			}
		}
	}
}

func TestSelectLandmarks(t *testing.T) {
	s := randomSchedule(t, 5, 20, 10)
	g := oracle.NewStaticGraph(s, algo.ALL_WEEKDAYS, true)
	a := oracle.SelectLandmarks(s, g, 5)
	b := oracle.SelectLandmarks(s, g, 5)
	assert.Equal(t, a, b)
	assert.Len(t, a, 5)
	seen := map[int32]bool{}
	for _, stop := range a {
		assert.False(t, seen[stop])
		seen[stop] = true
	}
	assert.Len(t, oracle.SelectLandmarks(s, g, 100), s.StopCount())
}

func buildTree(t *testing.T, s *schedule.Schedule, symmetric bool, fanout, leafSize int) (*oracle.GTree, *oracle.StaticGraph) {
	g := oracle.NewStaticGraph(s, algo.ALL_WEEKDAYS, symmetric)
	tree, err := oracle.BuildGTree(context.Background(), s, g, oracle.GTreeOptions{Fanout: fanout, LeafSize: leafSize, Symmetric: symmetric, Workers: 4})
	require.NoError(t, err)
	return tree, g
}

func TestGTreeExact(t *testing.T) {
	for seed := int64(1); seed <= 4; seed++ {
		s := randomSchedule(t, seed, 40, 30)
		for _, symmetric := range []bool{true, false} {
			tree, g := buildTree(t, s, symmetric, 3, 5)
			for src := int32(0); src < int32(s.StopCount()); src++ {
				want := g.ShortestPathTree(int(src), algo.FORWARD)
				q := tree.Query(src)
				for dst := int32(0); dst < int32(s.StopCount()); dst++ {
					assert.Equal(t, want[dst], q.DurationTo(dst), "seed %d symmetric %v %d->%d", seed, symmetric, src, dst)
				}
			}
			assert.Equal(t, int32(0), tree.MinimalDuration(7, 7))
		}
	}
}

func TestTreeHeuristic(t *testing.T) {
	s := randomSchedule(t, 9, 30, 25)
	for _, symmetric := range []bool{true, false} {
		tree, _ := buildTree(t, s, symmetric, 2, 4)
		h := tree.Heuristic()
		for a := int32(0); a < int32(s.StopCount()); a++ {
			for b := int32(0); b < int32(s.StopCount()); b++ {
				assert.Equal(t, tree.MinimalDuration(a, b), h.LowerBound(a, b))
				// 二次查询命中缓存
				assert.Equal(t, tree.MinimalDuration(a, b), h.LowerBound(a, b))
			}
		}
	}
}

func TestGTreeStructure(t *testing.T) {
	s := randomSchedule(t, 2, 30, 20)
	tree, g := buildTree(t, s, true, 3, 4)
	root := tree.Node(0)
	assert.Equal(t, int32(-1), root.Parent)
	assert.Empty(t, root.Borders)
	assert.Len(t, root.Stops, s.StopCount())
	for id := int32(0); id < int32(tree.NodeCount()); id++ {
		n := tree.Node(id)
		if n.IsLeaf() {
			assert.LessOrEqual(t, len(n.Stops), 4)
			for _, stop := range n.Stops {
				assert.Equal(t, id, tree.LeafOf(stop))
			}
			continue
		}
		assert.LessOrEqual(t, len(n.Children), 3)
		// 边界在节点外有邻居
		for _, b := range n.Borders {
			outside := false
			g.ForEachNeighbor(int(b), algo.FORWARD, func(neighbor int, _ int32) {
				outside = outside || !contains(n.Stops, int32(neighbor))
			})
			g.ForEachNeighbor(int(b), algo.BACKWARD, func(neighbor int, _ int32) {
				outside = outside || !contains(n.Stops, int32(neighbor))
			})
			assert.True(t, outside)
		}
	}
}

func contains(stops []int32, stop int32) bool {
	for _, s := range stops {
		if s == stop {
			return true
		}
	}
	return false
}

// 根节点parent为null的文件
func TestGTreeImportNullParent(t *testing.T) {
	s := randomSchedule(t, 6, 12, 8)
	opts := oracle.GTreeOptions{Fanout: 2, LeafSize: 4, Symmetric: true}
	g := oracle.NewStaticGraph(s, algo.ALL_WEEKDAYS, true)
	tree, err := oracle.BuildGTree(context.Background(), s, g, opts)
	require.NoError(t, err)

	dir := t.TempDir()
	require.NoError(t, tree.ExportFiles(dir, tree.NodeCount()))
	part := filepath.Join(dir, fmt.Sprintf(oracle.GTREE_PART, 0))
	var records []map[string]any
	data, err := os.ReadFile(part)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &records))
	records[0]["parent"] = nil
	data, err = json.Marshal(records)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(part, data, 0o644))

	loaded, err := oracle.ImportFiles(dir, g, opts)
	require.NoError(t, err)
	assert.Equal(t, int32(-1), loaded.Node(0).Parent)
	for a := int32(0); a < int32(s.StopCount()); a++ {
		for b := int32(0); b < int32(s.StopCount()); b++ {
			assert.Equal(t, tree.MinimalDuration(a, b), loaded.MinimalDuration(a, b))
		}
	}

	// 非根节点的parent为null
	records[1]["parent"] = nil
	data, err = json.Marshal(records)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(part, data, 0o644))
	_, err = oracle.ImportFiles(dir, g, opts)
	assert.ErrorIs(t, err, oracle.ErrMalformedTree)
}

// 覆盖导出时清除多余的旧分片
func TestGTreeExportOverwrite(t *testing.T) {
	s := randomSchedule(t, 4, 30, 20)
	g := oracle.NewStaticGraph(s, algo.ALL_WEEKDAYS, true)
	small, err := oracle.BuildGTree(context.Background(), s, g, oracle.GTreeOptions{Fanout: 2, LeafSize: 2, Symmetric: true})
	require.NoError(t, err)
	opts := oracle.GTreeOptions{Fanout: 3, LeafSize: 10, Symmetric: true}
	large, err := oracle.BuildGTree(context.Background(), s, g, opts)
	require.NoError(t, err)
	require.Greater(t, small.NodeCount(), large.NodeCount())

	dir := t.TempDir()
	require.NoError(t, small.ExportFiles(dir, 1))
	require.NoError(t, large.ExportFiles(dir, 1))
	parts, err := filepath.Glob(filepath.Join(dir, "gtree-*.json"))
	require.NoError(t, err)
	assert.Len(t, parts, large.NodeCount())
	loaded, err := oracle.ImportFiles(dir, g, opts)
	require.NoError(t, err)
	assert.Equal(t, large.NodeCount(), loaded.NodeCount())
}

func TestGTreeExportImport(t *testing.T) {
	s := randomSchedule(t, 4, 30, 20)
	opts := oracle.GTreeOptions{Fanout: 3, LeafSize: 5, Symmetric: true}
	g := oracle.NewStaticGraph(s, algo.ALL_WEEKDAYS, true)
	tree, err := oracle.BuildGTree(context.Background(), s, g, opts)
	require.NoError(t, err)
	require.LessOrEqual(t, tree.NodeCount(), 20)

	dir := t.TempDir()
	require.NoError(t, tree.ExportFiles(dir, 4))
	parts, err := filepath.Glob(filepath.Join(dir, "gtree-*.json"))
	require.NoError(t, err)
	assert.Len(t, parts, (tree.NodeCount()+3)/4)

	loaded, err := oracle.ImportFiles(dir, g, opts)
	require.NoError(t, err)
	require.Equal(t, tree.NodeCount(), loaded.NodeCount())
	for id := int32(0); id < int32(tree.NodeCount()); id++ {
		a, b := tree.Node(id), loaded.Node(id)
		assert.Equal(t, a.Parent, b.Parent)
		assert.Equal(t, a.Children, b.Children)
		assert.Equal(t, a.Depth, b.Depth)
		assert.Equal(t, a.Stops, b.Stops)
		assert.Equal(t, a.Borders, b.Borders)
		assert.Equal(t, a.Durations, b.Durations)
	}
	for src := int32(0); src < int32(s.StopCount()); src += 3 {
		for dst := int32(0); dst < int32(s.StopCount()); dst++ {
			assert.Equal(t, tree.MinimalDuration(src, dst), loaded.MinimalDuration(src, dst))
		}
	}

	// 根节点的parent写为null
	var first []map[string]any
	data, err := os.ReadFile(parts[0])
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &first))
	assert.Nil(t, first[0]["parent"])
	assert.EqualValues(t, 0, first[1]["parent"])

	// 参数不一致
	_, err = oracle.ImportFiles(dir, g, oracle.GTreeOptions{Fanout: 4, LeafSize: 5, Symmetric: true})
	assert.ErrorIs(t, err, oracle.ErrParameterMismatch)

	// 未保存过
	_, err = oracle.ImportFiles(t.TempDir(), g, opts)
	assert.ErrorIs(t, err, oracle.ErrTreeNotFound)

	// 分片缺失
	require.NoError(t, os.Remove(parts[0]))
	loaded, err = oracle.ImportFiles(dir, g, opts)
	assert.ErrorIs(t, err, oracle.ErrMalformedTree)
	assert.Nil(t, loaded)

	// 头文件损坏
	require.NoError(t, os.WriteFile(filepath.Join(dir, oracle.GTREE_HEADER), []byte("{"), 0o644))
	_, err = oracle.ImportFiles(dir, g, opts)
	assert.ErrorIs(t, err, oracle.ErrMalformedTree)
}
