package router

import (
	"git.fiblab.net/sim/meetingpoint/router/algo"
	"git.fiblab.net/sim/meetingpoint/schedule"
	"github.com/samber/lo"
)

// 按轮次扩展的单出发点最早到达搜索
// 第k轮结束后，标签为乘坐不超过k个班次的最早到达时刻
type Raptor struct {
	tt     timetable
	source int32
	time   int32
	labels labelSet
	round  int
	done   bool

	// 上一轮被改进的站点，boardTime为其在本轮开始时的到达时刻
	marked     []bool
	markedList []int32
	boardTime  []int32
	// 本轮被改进的站点
	next     []bool
	nextList []int32
	// 本轮乘车到达时刻被改进的站点
	improved     []bool
	improvedList []int32
	// route -> 最早需要扫描的位置，-1为不在队列中
	queue  []int32
	queued []int32

	targets  []int32
	pr       *pruner
	observer func(stop, arrival int32)

	RouteScans int
}

// source在time（查询日零点起的秒数）出发，targets非空时全部到达后提前结束
func NewRaptor(s *schedule.Schedule, source int32, time int32, weekday int, targets ...int32) *Raptor {
	return newRaptor(s, source, time, weekday, nil, nil, targets)
}

// 带剪枝的Raptor：估计值超过共享上界的站点不再扩展，已用时超过上界的标签不再写入
func NewRaptorBound(s *schedule.Schedule, source int32, time int32, weekday int, est Estimator, bounds *Bounds, objective Objective) *Raptor {
	return newRaptor(s, source, time, weekday, newPruner(est, bounds, objective), nil, nil)
}

func newRaptor(s *schedule.Schedule, source int32, time int32, weekday int, pr *pruner, observer func(int32, int32), targets []int32) *Raptor {
	n := s.StopCount()
	r := &Raptor{
		tt:        timetable{s: s, weekday: weekday},
		source:    source,
		time:      time,
		labels:    newLabelSet(n),
		marked:    make([]bool, n),
		boardTime: make([]int32, n),
		next:      make([]bool, n),
		improved:  make([]bool, n),
		queue:     make([]int32, s.RouteCount()),
		targets:   targets,
		pr:        pr,
		observer:  observer,
	}
	for i := range r.queue {
		r.queue[i] = -1
	}
	// 第0轮：出发点及其步行可达的站点
	r.write(source, time, 0, JourneyPointer{Kind: POINTER_SOURCE, Trip: algo.NO_TRIP, From: source, Departure: time})
	r.relaxFootPaths(source, time, 0)
	r.finishRound()
	return r
}

func (r *Raptor) SetObserver(fn func(stop, arrival int32)) {
	r.observer = fn
}

func (r *Raptor) Source() int32 { return r.source }
func (r *Raptor) Time() int32   { return r.time }
func (r *Raptor) Rounds() int   { return r.round }
func (r *Raptor) Done() bool    { return r.done }

func (r *Raptor) Arrival(stop int32) int32 { return r.labels.Arrival(stop) }
func (r *Raptor) Legs(stop int32) int      { return r.labels.Legs(stop) }

func (r *Raptor) Journey(stop int32) ([]Leg, error) {
	return r.labels.journey(stop)
}

// 待下一轮扩展的站点
func (r *Raptor) Marked() []int32 {
	if r.done {
		return nil
	}
	return append([]int32(nil), r.markedList...)
}

// 待扩展站点的最早到达时刻，搜索结束时为INF
func (r *Raptor) MinMarkedArrival() int32 {
	if r.done {
		return algo.INF
	}
	return lo.Min(lo.Map(r.markedList, func(stop int32, _ int) int32 { return r.labels.arrival[stop] }))
}

// 终点中最晚的到达时刻，不早于它的到达不可能改进任何终点
func (r *Raptor) targetBound() int32 {
	if len(r.targets) == 0 {
		return algo.INF
	}
	return lo.Max(lo.Map(r.targets, func(stop int32, _ int) int32 { return r.labels.arrival[stop] }))
}

// 到达时刻t是否可能改进某个终点或目标值
func (r *Raptor) useful(t int32) bool {
	return t < r.targetBound() && !r.pr.capped(t-r.time)
}

func (r *Raptor) write(stop int32, t int32, legs int, p JourneyPointer) bool {
	if t >= r.labels.arrival[stop] || !r.useful(t) {
		return false
	}
	r.labels.set(stop, t, legs, p)
	if !r.next[stop] {
		r.next[stop] = true
		r.nextList = append(r.nextList, stop)
	}
	if r.observer != nil {
		r.observer(stop, t)
	}
	return true
}

func (r *Raptor) relaxFootPaths(stop int32, t int32, legs int) {
	for _, fp := range r.tt.s.FootPaths(stop) {
		r.write(fp.To, algo.AddSat(t, fp.Duration), legs, JourneyPointer{
			Kind:      POINTER_FOOTPATH,
			Trip:      algo.NO_TRIP,
			From:      stop,
			Departure: t,
		})
	}
}

// 执行一轮，返回是否还需要继续
func (r *Raptor) Round() bool {
	if r.done {
		return false
	}
	r.round++
	r.collectRoutes()
	for _, route := range r.queued {
		r.scanRoute(route, int(r.queue[route]))
		r.RouteScans++
	}
	for _, route := range r.queued {
		r.queue[route] = -1
	}
	r.queued = r.queued[:0]
	// 从本轮乘车到达的站点步行换乘
	for _, stop := range r.improvedList {
		r.improved[stop] = false
		r.relaxFootPaths(stop, r.labels.tripArrival[stop], int(r.labels.tripLegs[stop]))
	}
	r.improvedList = r.improvedList[:0]
	r.finishRound()
	return !r.done
}

// 运行到不动点
func (r *Raptor) Run() {
	for r.Round() {
	}
}

// 收集经过上一轮改进站点的线路，记录每条线路最早的位置
func (r *Raptor) collectRoutes() {
	for _, stop := range r.markedList {
		t := r.labels.arrival[stop]
		r.boardTime[stop] = t
		if r.pr != nil {
			if sum, max := r.pr.estimate(stop, t-r.time); r.pr.prune(sum, max) {
				r.boardTime[stop] = algo.INF
				continue
			}
		}
		for _, pair := range r.tt.s.StopRoutes(stop) {
			cur := r.queue[pair.Route]
			if cur < 0 {
				r.queued = append(r.queued, pair.Route)
			}
			if cur < 0 || pair.Index < cur {
				r.queue[pair.Route] = pair.Index
			}
		}
	}
}

func (r *Raptor) scanRoute(route int32, start int) {
	stops := r.tt.s.RouteStops(route)
	trip, day := int32(algo.NO_TRIP), 0
	var boardStop, boardDep int32
	for pos := start; pos < len(stops); pos++ {
		stop := stops[pos]
		if trip != algo.NO_TRIP {
			if arr := r.tt.arrival(trip, day, pos); r.useful(arr) && r.labels.improveTrip(stop, arr, r.round) {
				r.write(stop, arr, r.round, JourneyPointer{Kind: POINTER_TRIP, Trip: trip, Day: int8(day), From: boardStop, Departure: boardDep})
				if !r.improved[stop] {
					r.improved[stop] = true
					r.improvedList = append(r.improvedList, stop)
				}
			}
		}
		if !r.marked[stop] {
			continue
		}
		// 能否在此站换乘更早的班次
		t := r.boardTime[stop]
		if t >= algo.INF || (trip != algo.NO_TRIP && t > r.tt.departure(trip, day, pos)) {
			continue
		}
		cand, d, dep := r.tt.earliestTrip(route, pos, t)
		if cand != algo.NO_TRIP && (trip == algo.NO_TRIP || dep < r.tt.departure(trip, day, pos)) {
			trip, day, boardStop, boardDep = cand, d, stop, dep
		}
	}
}

func (r *Raptor) finishRound() {
	for _, stop := range r.markedList {
		r.marked[stop] = false
	}
	r.marked, r.next = r.next, r.marked
	r.markedList, r.nextList = r.nextList, r.markedList[:0]
	if len(r.markedList) == 0 || r.round >= algo.MAX_ROUNDS || r.settled() {
		r.done = true
	}
}

func (r *Raptor) settled() bool {
	if len(r.targets) == 0 {
		return false
	}
	bound := r.targetBound()
	return lo.EveryBy(r.markedList, func(stop int32) bool { return r.labels.arrival[stop] >= bound })
}
