package router

import (
	"container/heap"

	"git.fiblab.net/sim/meetingpoint/router/algo"
	"git.fiblab.net/sim/meetingpoint/schedule"
	"github.com/samber/lo"
)

// 按优先级扩展线路的单出发点搜索
// 线路的优先级为经过它的待扩展站点估计值的最小值，估计值超过共享上界的站点被剪枝
type RaptorPQ struct {
	tt     timetable
	source int32
	time   int32
	labels labelSet

	pr       *pruner
	targets  []int32
	observer func(stop, arrival int32)
	// 入队，单独使用时压入自己的堆，并行时交给协调者
	emit func(route int32, priority int32)
	heap algo.PriorityQueue

	// route -> 当前优先级、估计值下界、最早扫描位置，不在队列中时为INF/INF/INF/-1
	routeBound []int32
	routeSum   []int32
	routeMax   []int32
	routePos   []int32

	// 终点估计可用于提前结束
	targetAdmissible bool

	Pops       int
	RouteScans int
}

func newRaptorPQ(s *schedule.Schedule, weekday int, pr *pruner) *RaptorPQ {
	n := s.RouteCount()
	q := &RaptorPQ{
		tt:         timetable{s: s, weekday: weekday},
		pr:         pr,
		routeBound: make([]int32, n),
		routeSum:   make([]int32, n),
		routeMax:   make([]int32, n),
		routePos:   make([]int32, n),
	}
	for i := 0; i < n; i++ {
		q.routeBound[i], q.routeSum[i], q.routeMax[i], q.routePos[i] = algo.INF, algo.INF, algo.INF, -1
	}
	q.emit = q.push
	return q
}

// est与bounds为nil时不剪枝，按已用时扩展
func NewRaptorPQ(s *schedule.Schedule, source int32, time int32, weekday int, est Estimator, bounds *Bounds, objective Objective) *RaptorPQ {
	q := newRaptorPQ(s, weekday, newPruner(est, bounds, objective))
	q.targetAdmissible = est == nil
	q.start(source, time)
	return q
}

// 接管Raptor的标签，从其待扩展站点继续搜索
func NewRaptorPQFromRaptor(r *Raptor, est Estimator, bounds *Bounds, objective Objective) *RaptorPQ {
	q := newRaptorPQ(r.tt.s, r.tt.weekday, newPruner(est, bounds, objective))
	q.targetAdmissible = est == nil
	q.resume(r)
	return q
}

func (q *RaptorPQ) start(source int32, time int32) {
	q.source, q.time = source, time
	q.labels = newLabelSet(q.tt.s.StopCount())
	q.write(source, time, 0, JourneyPointer{Kind: POINTER_SOURCE, Trip: algo.NO_TRIP, From: source, Departure: time}, -1, -1)
	q.relaxFootPaths(source, time, 0, -1, -1)
}

func (q *RaptorPQ) resume(r *Raptor) {
	q.source, q.time = r.source, r.time
	q.labels = r.labels.clone()
	for _, stop := range r.Marked() {
		q.enqueueStop(stop, -1, -1)
	}
}

func (q *RaptorPQ) SetObserver(fn func(stop, arrival int32)) {
	q.observer = fn
}

func (q *RaptorPQ) Source() int32 { return q.source }
func (q *RaptorPQ) Time() int32   { return q.time }

func (q *RaptorPQ) Arrival(stop int32) int32 { return q.labels.Arrival(stop) }
func (q *RaptorPQ) Legs(stop int32) int      { return q.labels.Legs(stop) }

func (q *RaptorPQ) Journey(stop int32) ([]Leg, error) {
	return q.labels.journey(stop)
}

func (q *RaptorPQ) push(route int32, priority int32) {
	heap.Push(&q.heap, &algo.Item{Value: int(route), Priority: int64(priority)})
}

func (q *RaptorPQ) targetBound() int32 {
	if len(q.targets) == 0 {
		return algo.INF
	}
	return lo.Max(lo.Map(q.targets, func(stop int32, _ int) int32 { return q.labels.arrival[stop] }))
}

func (q *RaptorPQ) useful(t int32) bool {
	return t < q.targetBound() && !q.pr.capped(t-q.time)
}

// 写入标签并把经过该站的线路入队，正在扫描的route中pos之后的位置无需入队
func (q *RaptorPQ) write(stop int32, t int32, legs int, p JourneyPointer, route int32, pos int) bool {
	if t >= q.labels.arrival[stop] || !q.useful(t) {
		return false
	}
	q.labels.set(stop, t, legs, p)
	if q.observer != nil {
		q.observer(stop, t)
	}
	q.enqueueStop(stop, route, pos)
	return true
}

func (q *RaptorPQ) relaxFootPaths(stop int32, t int32, legs int, route int32, pos int) {
	for _, fp := range q.tt.s.FootPaths(stop) {
		q.write(fp.To, algo.AddSat(t, fp.Duration), legs, JourneyPointer{
			Kind:      POINTER_FOOTPATH,
			Trip:      algo.NO_TRIP,
			From:      stop,
			Departure: t,
		}, route, pos)
	}
}

func (q *RaptorPQ) enqueueStop(stop int32, route int32, pos int) {
	sum, max := q.pr.estimate(stop, q.labels.arrival[stop]-q.time)
	if q.pr.prune(sum, max) {
		return
	}
	priority := q.pr.priority(sum, max)
	for _, pair := range q.tt.s.StopRoutes(stop) {
		if pair.Route == route && int(pair.Index) >= pos {
			continue
		}
		r := pair.Route
		if q.routePos[r] < 0 || pair.Index < q.routePos[r] {
			q.routePos[r] = pair.Index
		}
		q.routeSum[r] = min(q.routeSum[r], sum)
		q.routeMax[r] = min(q.routeMax[r], max)
		if priority < q.routeBound[r] {
			q.routeBound[r] = priority
			q.emit(r, priority)
		}
	}
}

// 出队的线路：优先级与记录不一致的为过期项，否则从最早位置扫描
func (q *RaptorPQ) expand(route int32, priority int32) bool {
	if priority != q.routeBound[route] {
		return false
	}
	pos, sum, max := q.routePos[route], q.routeSum[route], q.routeMax[route]
	q.routeBound[route], q.routeSum[route], q.routeMax[route], q.routePos[route] = algo.INF, algo.INF, algo.INF, -1
	if q.pr.prune(sum, max) {
		return false
	}
	q.scanRoute(route, int(pos))
	q.RouteScans++
	return true
}

// 所有终点都不可能再被改进
func (q *RaptorPQ) settled(priority int32) bool {
	if !q.targetAdmissible || len(q.targets) == 0 {
		return false
	}
	bound := q.targetBound()
	return bound < algo.INF && algo.AddSat(q.time, priority) >= bound
}

func (q *RaptorPQ) Run() {
	for q.heap.Len() > 0 {
		item := heap.Pop(&q.heap).(*algo.Item)
		q.Pops++
		priority := int32(item.Priority)
		if q.pr.exhausted(priority) || q.settled(priority) {
			break
		}
		q.expand(int32(item.Value), priority)
	}
	q.heap = q.heap[:0]
}

func (q *RaptorPQ) scanRoute(route int32, start int) {
	stops := q.tt.s.RouteStops(route)
	trip, day := int32(algo.NO_TRIP), 0
	var boardStop, boardDep int32
	var boardLegs int
	for pos := start; pos < len(stops); pos++ {
		stop := stops[pos]
		if trip != algo.NO_TRIP {
			if arr := q.tt.arrival(trip, day, pos); q.useful(arr) && q.labels.improveTrip(stop, arr, boardLegs+1) {
				p := JourneyPointer{Kind: POINTER_TRIP, Trip: trip, Day: int8(day), From: boardStop, Departure: boardDep}
				q.write(stop, arr, boardLegs+1, p, route, pos)
				q.relaxFootPaths(stop, arr, boardLegs+1, route, pos)
			}
		}
		t := q.labels.arrival[stop]
		if t >= algo.INF || (trip != algo.NO_TRIP && t > q.tt.departure(trip, day, pos)) {
			continue
		}
		if q.pr != nil {
			if sum, max := q.pr.estimate(stop, t-q.time); q.pr.prune(sum, max) {
				continue
			}
		}
		cand, d, dep := q.tt.earliestTrip(route, pos, t)
		if cand != algo.NO_TRIP && (trip == algo.NO_TRIP || dep < q.tt.departure(trip, day, pos)) {
			trip, day, boardStop, boardDep, boardLegs = cand, d, stop, dep, q.labels.Legs(stop)
		}
	}
}
