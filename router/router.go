package router

import (
	"context"
	"fmt"

	"git.fiblab.net/sim/meetingpoint/oracle"
	"git.fiblab.net/sim/meetingpoint/router/algo"
	"git.fiblab.net/sim/meetingpoint/schedule"
	"github.com/puzpuzpuz/xsync/v3"
)

type Options struct {
	// 地标数量，0为不使用地标下界
	Landmarks int
	// Fanout为0时不构建G-Tree
	GTree oracle.GTreeOptions
	// 预计算的并发数，0为不限
	Workers int
}

// 查询共享的只读上下文：时刻表、静态下界图与下界预计算结果
type Router struct {
	s    *schedule.Schedule
	opts Options

	// 全周对称的静态下界图
	graph *oracle.StaticGraph
	// weekday -> 查询窗口内的有向静态下界图，单终点估计使用
	weekdayGraphs *xsync.MapOf[int, *oracle.StaticGraph]

	landmarks *oracle.Landmarks
	tree      *oracle.GTree
}

// 构建静态下界图与地标，G-Tree需另外调用BuildTree或SetTree
func New(ctx context.Context, s *schedule.Schedule, opts Options) (*Router, error) {
	r := &Router{
		s:             s,
		opts:          opts,
		graph:         oracle.NewStaticGraph(s, algo.ALL_WEEKDAYS, true),
		weekdayGraphs: xsync.NewMapOf[int, *oracle.StaticGraph](),
	}
	if opts.Landmarks > 0 {
		l, err := oracle.NewLandmarks(ctx, s, opts.Landmarks, true, opts.Workers)
		if err != nil {
			return nil, err
		}
		r.landmarks = l
	}
	return r, nil
}

func (r *Router) BuildTree(ctx context.Context) error {
	opts := r.TreeOptions()
	if opts.Fanout == 0 {
		return nil
	}
	t, err := oracle.BuildGTree(ctx, r.s, r.graph, opts)
	if err != nil {
		return fmt.Errorf("build gtree: %w", err)
	}
	r.tree = t
	return nil
}

func (r *Router) SetTree(t *oracle.GTree) {
	r.tree = t
}

// G-Tree参数，树建立在全周对称的静态图上
func (r *Router) TreeOptions() oracle.GTreeOptions {
	opts := r.opts.GTree
	opts.Symmetric = true
	if opts.Workers == 0 {
		opts.Workers = r.opts.Workers
	}
	return opts
}

func (r *Router) Schedule() *schedule.Schedule     { return r.s }
func (r *Router) StaticGraph() *oracle.StaticGraph { return r.graph }
func (r *Router) Landmarks() *oracle.Landmarks     { return r.landmarks }
func (r *Router) Tree() *oracle.GTree              { return r.tree }

// 对称的旅行时长下界，每次调用返回新的实例，供单个搜索实例使用
func (r *Router) Heuristic(weekday int) Heuristic {
	h := MaxHeuristic{}
	if r.landmarks != nil {
		h = append(h, r.landmarks.ForWeekday(weekday))
	}
	if r.tree != nil {
		h = append(h, r.tree.Heuristic())
	}
	return h
}

// 多出发点查询中第self个出发点的团估计
func (r *Router) CliqueEstimator(sources []int32, self int, weekday int) *CliqueEstimator {
	return NewCliqueEstimator(r.Heuristic(weekday), r.s.StopCount(), sources, self)
}

func (r *Router) weekdayGraph(weekday int) *oracle.StaticGraph {
	g, _ := r.weekdayGraphs.LoadOrCompute(weekday, func() *oracle.StaticGraph {
		return oracle.NewStaticGraph(r.s, algo.HorizonWeekdays(weekday), false)
	})
	return g
}

// 各站到target的静态最短距离
func (r *Router) TargetDistances(target int32, weekday int) []int32 {
	return r.weekdayGraph(weekday).ShortestPathTree(int(target), algo.BACKWARD)
}

func (r *Router) TargetEstimator(target int32, weekday int) *TargetEstimator {
	var h Heuristic
	if r.landmarks != nil {
		h = r.landmarks.ForWeekday(weekday)
	}
	return NewTargetEstimator(target, r.TargetDistances(target, weekday), h)
}

// 终点到达时下调上界
func targetObserver(target int32, time int32, bounds *Bounds) func(int32, int32) {
	return func(stop, arrival int32) {
		if stop == target {
			bounds.Update(arrival-time, arrival-time)
		}
	}
}

// 单终点的带剪枝Raptor
func (r *Router) NewRaptorBoundStar(source int32, time int32, weekday int, target int32) *Raptor {
	bounds := NewBounds()
	pr := newPruner(r.TargetEstimator(target, weekday), bounds, OBJECTIVE_MIN_SUM)
	return newRaptor(r.s, source, time, weekday, pr, targetObserver(target, time, bounds), []int32{target})
}

// 单终点的优先队列搜索
func (r *Router) NewRaptorPQStar(source int32, time int32, weekday int, target int32) *RaptorPQ {
	bounds := NewBounds()
	q := newRaptorPQ(r.s, weekday, newPruner(r.TargetEstimator(target, weekday), bounds, OBJECTIVE_MIN_SUM))
	q.targets = []int32{target}
	q.targetAdmissible = true
	q.observer = targetObserver(target, time, bounds)
	q.start(source, time)
	return q
}
