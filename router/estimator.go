package router

import (
	"git.fiblab.net/sim/meetingpoint/router/algo"
)

// 依据估计值与共享上界判断能否剪枝，nil表示不剪枝
type pruner struct {
	est       Estimator
	bounds    *Bounds
	objective Objective
}

func newPruner(est Estimator, bounds *Bounds, objective Objective) *pruner {
	if bounds == nil {
		return nil
	}
	return &pruner{est: est, bounds: bounds, objective: objective}
}

func (p *pruner) estimate(stop int32, elapsed int32) (int32, int32) {
	if p == nil || p.est == nil {
		return elapsed, elapsed
	}
	return p.est.Estimate(stop, elapsed)
}

// 估计值等于当前最优的标签仍需扩展，目标值相同的站点按id决出胜者
func beyond(v, bound int32) bool {
	return v >= algo.INF || v > bound
}

func (p *pruner) prune(sum, max int32) bool {
	if p == nil {
		return false
	}
	switch p.objective {
	case OBJECTIVE_MIN_SUM:
		return beyond(sum, p.bounds.Sum())
	case OBJECTIVE_MIN_MAX:
		return beyond(max, p.bounds.Max())
	default:
		return beyond(sum, p.bounds.Sum()) && beyond(max, p.bounds.Max())
	}
}

// 已用时elapsed的标签不可能改进任何目标值
func (p *pruner) capped(elapsed int32) bool {
	return p.prune(elapsed, elapsed)
}

func (p *pruner) priority(sum, max int32) int32 {
	if p != nil && p.objective == OBJECTIVE_MIN_MAX {
		return max
	}
	return sum
}

// 单目标时，队首优先级大于当前最优即可结束搜索
func (p *pruner) exhausted(priority int32) bool {
	if p == nil {
		return false
	}
	switch p.objective {
	case OBJECTIVE_MIN_SUM:
		return beyond(priority, p.bounds.Sum())
	case OBJECTIVE_MIN_MAX:
		return beyond(priority, p.bounds.Max())
	default:
		return false
	}
}

// 多出发点的团估计：其余各出发点到该站下界的平均值
// Heuristic需在对称图上计算，保证d(stop,m)+d(q,m)不小于下界
type CliqueEstimator struct {
	h      Heuristic
	others []int32
	// stop -> 平均下界，-1为未计算
	cache []int32
}

func NewCliqueEstimator(h Heuristic, stopCount int, sources []int32, self int) *CliqueEstimator {
	e := &CliqueEstimator{h: h, cache: make([]int32, stopCount)}
	for i, q := range sources {
		if i != self {
			e.others = append(e.others, q)
		}
	}
	for i := range e.cache {
		e.cache[i] = -1
	}
	return e
}

func (e *CliqueEstimator) average(stop int32) int32 {
	if c := e.cache[stop]; c >= 0 {
		return c
	}
	var total int64
	c := int32(0)
	for _, q := range e.others {
		lb := e.h.LowerBound(stop, q)
		if lb >= algo.INF {
			// 与某个出发点不连通，不存在汇合点
			c = algo.INF
			break
		}
		total += int64(lb)
	}
	if c == 0 {
		c = int32(total / int64(len(e.others)))
	}
	e.cache[stop] = c
	return c
}

func (e *CliqueEstimator) Estimate(stop int32, elapsed int32) (int32, int32) {
	if len(e.others) == 0 {
		return elapsed, elapsed
	}
	c := e.average(stop)
	if c >= algo.INF {
		return algo.INF, algo.INF
	}
	sum := algo.AddSat(elapsed, c)
	// 任一其他出发点q满足 max >= (elapsed + d(q, stop)) / 2
	return sum, max(elapsed, sum/2)
}

// 单终点估计：到终点的静态最短距离与地标下界取大
type TargetEstimator struct {
	target int32
	// stop -> 到终点的静态最短距离
	dist []int32
	h    Heuristic
}

func NewTargetEstimator(target int32, dist []int32, h Heuristic) *TargetEstimator {
	return &TargetEstimator{target: target, dist: dist, h: h}
}

func (e *TargetEstimator) Estimate(stop int32, elapsed int32) (int32, int32) {
	lb := e.dist[stop]
	if e.h != nil && lb < algo.INF {
		lb = max(lb, e.h.LowerBound(stop, e.target))
	}
	v := algo.AddSat(elapsed, lb)
	return v, v
}

// 多个下界取大
type MaxHeuristic []Heuristic

func (m MaxHeuristic) LowerBound(from, to int32) int32 {
	var lb int32
	for _, h := range m {
		lb = max(lb, h.LowerBound(from, to))
		if lb >= algo.INF {
			break
		}
	}
	return lb
}
