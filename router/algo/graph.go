package algo

import (
	"container/heap"
	"log"

	"github.com/paulmach/orb"
	"github.com/samber/lo"
)

type node[T any] struct {
	p    orb.Point
	attr T
}

type edge[T any] struct {
	v    int32
	attr T
}

// 静态图，边权为秒
// 构建完成后只读，可被多个goroutine同时查询
type SearchGraph[NT any, ET any] struct {
	// 邻接表，in node -> out node -> edge
	edges []map[int]edge[ET]
	// 反向邻接表，out node -> in node -> edge
	reverse []map[int]edge[ET]
	nodes   []node[NT]
	// A Star距离预估函数，可为nil
	h IHeuristics[NT]
}

// 到终点旅行时间的下界
type IHeuristics[NT any] interface {
	Heuristic(from NT, to NT) int32
}

func NewSearchGraph[NT any, ET any](h IHeuristics[NT]) *SearchGraph[NT, ET] {
	return &SearchGraph[NT, ET]{
		edges:   make([]map[int]edge[ET], 0),
		reverse: make([]map[int]edge[ET], 0),
		nodes:   make([]node[NT], 0),
		h:       h,
	}
}

func (g *SearchGraph[NT, ET]) InitNode(p orb.Point, attr NT) int {
	g.nodes = append(g.nodes, node[NT]{p: p, attr: attr})
	g.edges = append(g.edges, make(map[int]edge[ET]))
	g.reverse = append(g.reverse, make(map[int]edge[ET]))
	return len(g.nodes) - 1
}

// 加边，重复的边保留较短者
func (g *SearchGraph[NT, ET]) InitEdge(from, to int, length int32, attr ET) {
	if from >= len(g.edges) || to >= len(g.edges) {
		log.Panicf("edge %d->%d out of range, node count %d", from, to, len(g.edges))
	}
	if old, ok := g.edges[from][to]; ok && old.v <= length {
		return
	}
	e := edge[ET]{v: length, attr: attr}
	g.edges[from][to] = e
	g.reverse[to][from] = e
}

func (g *SearchGraph[NT, ET]) NodeCount() int {
	return len(g.nodes)
}

func (g *SearchGraph[NT, ET]) EdgeCount() int {
	return lo.SumBy(g.edges, func(m map[int]edge[ET]) int { return len(m) })
}

func (g *SearchGraph[NT, ET]) Node(i int) (orb.Point, NT) {
	return g.nodes[i].p, g.nodes[i].attr
}

func (g *SearchGraph[NT, ET]) GetEdgeLength(from, to int) (int32, bool) {
	e, ok := g.edges[from][to]
	return e.v, ok
}

func (g *SearchGraph[NT, ET]) GetEdgeLengthAndAttr(from, to int) (int32, ET, bool) {
	e, ok := g.edges[from][to]
	return e.v, e.attr, ok
}

// 遍历邻居，dir为FORWARD时遍历出边，BACKWARD时遍历入边
func (g *SearchGraph[NT, ET]) ForEachNeighbor(n int, dir int, fn func(neighbor int, length int32)) {
	adj := g.edges
	if dir == BACKWARD {
		adj = g.reverse
	}
	for neighbor, e := range adj[n] {
		fn(neighbor, e.v)
	}
}

type PathItem[NT any, ET any] struct {
	NodeAttr NT
	EdgeAttr ET
}

func (g *SearchGraph[NT, ET]) reconstructPath(cameFrom map[int]int, curNode int) []PathItem[NT, ET] {
	pathBeforeReversed := []PathItem[NT, ET]{{NodeAttr: g.nodes[curNode].attr}}
	for {
		from, ok := cameFrom[curNode]
		if !ok {
			break
		}
		attr := g.edges[from][curNode].attr
		curNode = from
		pathBeforeReversed = append(pathBeforeReversed, PathItem[NT, ET]{
			NodeAttr: g.nodes[curNode].attr,
			EdgeAttr: attr,
		})
	}
	return lo.Reverse(pathBeforeReversed)
}

// A Star算法求最短路，不可达时返回nil, INF
func (g *SearchGraph[NT, ET]) ShortestPath(start, end int) ([]PathItem[NT, ET], int32) {
	if start == end {
		return []PathItem[NT, ET]{{NodeAttr: g.nodes[start].attr}}, 0
	}
	estimate := func(n int) int64 {
		if g.h == nil {
			return 0
		}
		return int64(g.h.Heuristic(g.nodes[n].attr, g.nodes[end].attr))
	}
	openSet := make(PriorityQueue, 1)
	openSetMap := make(map[int]*Item, 1) // openSet value -> openSet item
	cameFrom := make(map[int]int)
	gScore := map[int]int32{start: 0}
	closed := make(map[int]bool)
	openSet[0] = &Item{Value: start, Priority: estimate(start), Index: 0}
	openSetMap[start] = openSet[0]
	heap.Init(&openSet)
	for openSet.Len() > 0 {
		cur := heap.Pop(&openSet).(*Item).Value
		delete(openSetMap, cur)
		if cur == end {
			return g.reconstructPath(cameFrom, cur), gScore[cur]
		}
		closed[cur] = true
		for neighbor, e := range g.edges[cur] {
			if closed[neighbor] {
				continue
			}
			tentative := AddSat(gScore[cur], e.v)
			old, ok := gScore[neighbor]
			if ok && tentative >= old {
				continue
			}
			cameFrom[neighbor] = cur
			gScore[neighbor] = tentative
			fScore := int64(tentative) + estimate(neighbor)
			if item, ok := openSetMap[neighbor]; ok {
				// 已在堆中，修改优先级
				item.Priority = fScore
				heap.Fix(&openSet, item.Index)
			} else {
				item := &Item{Value: neighbor, Priority: fScore}
				heap.Push(&openSet, item)
				openSetMap[neighbor] = item
			}
		}
	}
	return nil, INF
}

// Dijkstra求start到所有点（BACKWARD时为所有点到start）的最短距离，不可达为INF
func (g *SearchGraph[NT, ET]) ShortestPathTree(start int, dir int) []int32 {
	return g.ShortestPathTreeWithin(start, dir, nil)
}

// 同ShortestPathTree，但只经过allowed返回true的点
func (g *SearchGraph[NT, ET]) ShortestPathTreeWithin(start int, dir int, allowed func(int) bool) []int32 {
	dist := make([]int32, len(g.nodes))
	for i := range dist {
		dist[i] = INF
	}
	items := make([]*Item, len(g.nodes))
	done := make([]bool, len(g.nodes))
	dist[start] = 0
	openSet := PriorityQueue{{Value: start, Priority: 0}}
	items[start] = openSet[0]
	heap.Init(&openSet)
	for openSet.Len() > 0 {
		cur := heap.Pop(&openSet).(*Item).Value
		done[cur] = true
		g.ForEachNeighbor(cur, dir, func(neighbor int, length int32) {
			if done[neighbor] || (allowed != nil && !allowed(neighbor)) {
				return
			}
			tentative := AddSat(dist[cur], length)
			if tentative >= dist[neighbor] {
				return
			}
			dist[neighbor] = tentative
			if item := items[neighbor]; item != nil {
				item.Priority = int64(tentative)
				heap.Fix(&openSet, item.Index)
			} else {
				items[neighbor] = &Item{Value: neighbor, Priority: int64(tentative)}
				heap.Push(&openSet, items[neighbor])
			}
		})
	}
	return dist
}
