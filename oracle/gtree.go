package oracle

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"

	"git.fiblab.net/sim/meetingpoint/router/algo"
	"git.fiblab.net/sim/meetingpoint/schedule"
	"github.com/paulmach/orb"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"
)

var (
	// 错误：树参数与期望不一致
	ErrParameterMismatch = errors.New("gtree parameters mismatch")
	// 错误：树结构不合法
	ErrMalformedTree = errors.New("malformed gtree")
	// 错误：未保存过G-Tree
	ErrTreeNotFound = errors.New("gtree not found")
)

type GTreeOptions struct {
	// 每个非叶节点的子节点数
	Fanout int
	// 叶节点最多包含的站点数
	LeafSize int
	// 静态图是否对称
	Symmetric bool
	// 预计算的并发数，0为不限
	Workers int
}

type StopPair struct {
	From int32
	To   int32
}

type GNode struct {
	ID       int32
	Parent   int32 // 根为-1
	Children []int32
	Depth    int32
	// 所含站点，升序
	Stops []int32
	// 与节点外有边相连的站点，升序
	Borders []int32
	// 叶节点：边界与成员之间的距离；非叶节点：各子节点边界之间的距离
	Durations map[StopPair]int32
}

func (n *GNode) IsLeaf() bool {
	return len(n.Children) == 0
}

func (n *GNode) duration(from, to int32) int32 {
	if from == to {
		return 0
	}
	if d, ok := n.Durations[StopPair{from, to}]; ok {
		return d
	}
	return algo.INF
}

// 按站点坐标递归划分的层次结构，节点保存边界站点之间的静态最短距离，
// 任意两站的距离由沿树路径的边界距离拼接得到
type GTree struct {
	opts   GTreeOptions
	nodes  []GNode
	leafOf []int32
	g      *StaticGraph
}

func BuildGTree(ctx context.Context, s *schedule.Schedule, g *StaticGraph, opts GTreeOptions) (*GTree, error) {
	if opts.Fanout < 2 || opts.LeafSize < 1 {
		return nil, fmt.Errorf("%w: fanout %d, leaf size %d", ErrParameterMismatch, opts.Fanout, opts.LeafSize)
	}
	t := &GTree{
		opts:   opts,
		leafOf: make([]int32, s.StopCount()),
		g:      g,
	}
	all := make([]int32, s.StopCount())
	for i := range all {
		all[i] = int32(i)
	}
	t.partition(s, all, -1, 0)
	t.computeBorders()
	if err := t.computeDurations(ctx); err != nil {
		return nil, err
	}
	log.Infof("gtree: %d nodes, %d leaves, %d borders",
		len(t.nodes), lo.CountBy(t.nodes, func(n GNode) bool { return n.IsLeaf() }),
		lo.SumBy(t.nodes, func(n GNode) int { return len(n.Borders) }))
	return t, nil
}

func (t *GTree) partition(s *schedule.Schedule, stops []int32, parent int32, depth int32) int32 {
	id := int32(len(t.nodes))
	sorted := slices.Clone(stops)
	slices.Sort(sorted)
	t.nodes = append(t.nodes, GNode{ID: id, Parent: parent, Depth: depth, Stops: sorted})
	if len(stops) <= t.opts.LeafSize {
		for _, stop := range stops {
			t.leafOf[stop] = id
		}
		return id
	}
	// 沿较宽的坐标方向排序后均分
	points := lo.Map(stops, func(stop int32, _ int) orb.Point { return s.StopPoint(stop) })
	bound := orb.MultiPoint(points).Bound()
	axis := 0
	if bound.Max[1]-bound.Min[1] > bound.Max[0]-bound.Min[0] {
		axis = 1
	}
	byAxis := slices.Clone(stops)
	slices.SortFunc(byAxis, func(a, b int32) int {
		if c := cmp.Compare(s.StopPoint(a)[axis], s.StopPoint(b)[axis]); c != 0 {
			return c
		}
		return cmp.Compare(a, b)
	})
	size := (len(byAxis) + t.opts.Fanout - 1) / t.opts.Fanout
	for _, chunk := range lo.Chunk(byAxis, size) {
		child := t.partition(s, chunk, id, depth+1)
		t.nodes[id].Children = append(t.nodes[id].Children, child)
	}
	return id
}

// 站点stop是否属于节点id
func (t *GTree) contains(id int32, stop int32) bool {
	depth := t.nodes[id].Depth
	cur := t.leafOf[stop]
	for t.nodes[cur].Depth > depth {
		cur = t.nodes[cur].Parent
	}
	return cur == id
}

func (t *GTree) computeBorders() {
	for id := range t.nodes {
		n := &t.nodes[id]
		if n.Parent < 0 {
			continue
		}
		n.Borders = lo.Filter(n.Stops, func(stop int32, _ int) bool {
			outside := false
			check := func(neighbor int, _ int32) {
				outside = outside || !t.contains(int32(id), int32(neighbor))
			}
			t.g.ForEachNeighbor(int(stop), algo.FORWARD, check)
			t.g.ForEachNeighbor(int(stop), algo.BACKWARD, check)
			return outside
		})
	}
}

// 非叶节点的距离矩阵覆盖的站点：各子节点边界的并
func (t *GTree) childBorders(id int32) []int32 {
	n := &t.nodes[id]
	set := lo.FlatMap(n.Children, func(c int32, _ int) []int32 { return t.nodes[c].Borders })
	slices.Sort(set)
	return slices.Compact(set)
}

// 从每个叶节点边界出发求最短路树，写入需要该边界的节点矩阵
func (t *GTree) computeDurations(ctx context.Context) error {
	matrices := make([]*xsync.MapOf[StopPair, int32], len(t.nodes))
	sets := make([][]int32, len(t.nodes))
	for id := range t.nodes {
		matrices[id] = xsync.NewMapOf[StopPair, int32]()
		if !t.nodes[id].IsLeaf() {
			sets[id] = t.childBorders(int32(id))
		}
	}
	isBorder := make([]map[int32]bool, len(t.nodes))
	for id := range t.nodes {
		isBorder[id] = lo.SliceToMap(t.nodes[id].Borders, func(b int32) (int32, bool) { return b, true })
	}
	sources := lo.FlatMap(t.nodes, func(n GNode, _ int) []int32 {
		if n.IsLeaf() {
			return n.Borders
		}
		return nil
	})
	g, gctx := errgroup.WithContext(ctx)
	if t.opts.Workers > 0 {
		g.SetLimit(t.opts.Workers)
	}
	for _, x := range sources {
		x := x
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			fwd := t.g.ShortestPathTree(int(x), algo.FORWARD)
			bwd := fwd
			if !t.opts.Symmetric {
				bwd = t.g.ShortestPathTree(int(x), algo.BACKWARD)
			}
			store := func(id int32, members []int32) {
				for _, m := range members {
					if fwd[m] < algo.INF {
						matrices[id].Store(StopPair{x, m}, fwd[m])
					}
					if bwd[m] < algo.INF {
						matrices[id].Store(StopPair{m, x}, bwd[m])
					}
				}
			}
			leaf := t.leafOf[x]
			store(leaf, t.nodes[leaf].Stops)
			// 是子节点边界的祖先节点
			for c := leaf; t.nodes[c].Parent >= 0 && isBorder[c][x]; c = t.nodes[c].Parent {
				p := t.nodes[c].Parent
				store(p, sets[p])
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("compute gtree durations: %w", err)
	}
	for id := range t.nodes {
		durations := make(map[StopPair]int32, matrices[id].Size())
		matrices[id].Range(func(k StopPair, v int32) bool {
			durations[k] = v
			return true
		})
		t.nodes[id].Durations = durations
	}
	return nil
}

func (t *GTree) Options() GTreeOptions { return t.opts }
func (t *GTree) NodeCount() int        { return len(t.nodes) }

// 返回值不可修改
func (t *GTree) Node(id int32) *GNode { return &t.nodes[id] }

func (t *GTree) LeafOf(stop int32) int32 { return t.leafOf[stop] }

// src到dst的静态最短距离
func (t *GTree) MinimalDuration(src, dst int32) int32 {
	return t.Query(src).DurationTo(dst)
}

// 从src出发的查询，缓存src到各节点边界的距离，不是并发安全的
func (t *GTree) Query(src int32) *GTreeQuery {
	return &GTreeQuery{
		t:       t,
		src:     src,
		srcLeaf: t.leafOf[src],
		vectors: make(map[int32][]int32),
	}
}

type GTreeQuery struct {
	t       *GTree
	src     int32
	srcLeaf int32
	// 节点 -> src到其各边界的距离
	vectors map[int32][]int32
	// 叶内距离
	local []int32
}

// 祖先id的子节点中包含src的那个
func (q *GTreeQuery) childToward(id int32) int32 {
	c := q.srcLeaf
	for q.t.nodes[c].Parent != id {
		c = q.t.nodes[c].Parent
	}
	return c
}

// 经from中各站点（距离为vec）到达to的最短距离，from与to间的距离取自节点via
func relay(vec []int32, from []int32, via *GNode, to int32) int32 {
	best := int32(algo.INF)
	for i, b := range from {
		best = min(best, algo.AddSat(vec[i], via.duration(b, to)))
	}
	return best
}

func (q *GTreeQuery) vector(id int32) []int32 {
	if v, ok := q.vectors[id]; ok {
		return v
	}
	t := q.t
	n := &t.nodes[id]
	v := make([]int32, len(n.Borders))
	switch {
	case id == q.srcLeaf:
		for i, b := range n.Borders {
			v[i] = n.duration(q.src, b)
		}
	case t.contains(id, q.src):
		// 从包含src的子节点的边界出发
		c := q.childToward(id)
		cv := q.vector(c)
		for i, b := range n.Borders {
			v[i] = relay(cv, t.nodes[c].Borders, n, b)
		}
	default:
		p := &t.nodes[n.Parent]
		from, pv := p.Borders, []int32(nil)
		if t.contains(p.ID, q.src) {
			// 最近公共祖先：从src一侧子节点的边界出发
			c := q.childToward(p.ID)
			from, pv = t.nodes[c].Borders, q.vector(c)
		} else {
			pv = q.vector(p.ID)
		}
		for i, b := range n.Borders {
			v[i] = relay(pv, from, p, b)
		}
	}
	q.vectors[id] = v
	return v
}

func (q *GTreeQuery) DurationTo(dst int32) int32 {
	if dst == q.src {
		return 0
	}
	t := q.t
	id := t.leafOf[dst]
	leaf := &t.nodes[id]
	best := relay(q.vector(id), leaf.Borders, leaf, dst)
	if id == q.srcLeaf {
		// 同一叶节点：叶内路径或经边界离开后返回
		if q.local == nil {
			q.local = t.g.ShortestPathTreeWithin(int(q.src), algo.FORWARD, func(n int) bool { return t.leafOf[n] == id })
		}
		best = min(best, q.local[dst])
	}
	return best
}

// 作为旅行时长下界使用，按查询起点缓存，不是并发安全的
type TreeHeuristic struct {
	t       *GTree
	queries map[int32]*GTreeQuery
}

func (t *GTree) Heuristic() *TreeHeuristic {
	return &TreeHeuristic{t: t, queries: make(map[int32]*GTreeQuery)}
}

func (h *TreeHeuristic) query(src int32) *GTreeQuery {
	q, ok := h.queries[src]
	if !ok {
		q = h.t.Query(src)
		h.queries[src] = q
	}
	return q
}

func (h *TreeHeuristic) LowerBound(from, to int32) int32 {
	if h.t.opts.Symmetric {
		// 对称图中按终点缓存，多次查询同一终点时复用
		return h.query(to).DurationTo(from)
	}
	return h.query(from).DurationTo(to)
}
