package router

import (
	"container/heap"
	"context"
	"sync"

	"git.fiblab.net/sim/meetingpoint/router/algo"
	"git.fiblab.net/sim/meetingpoint/schedule"
)

type pqEntry struct {
	route    int32
	priority int32
}

type pqLabel struct {
	stop    int32
	arrival int32
}

// 每个出发点一个goroutine，持有自己的标签并扫描线路
type pqSlot struct {
	q       *RaptorPQ
	entries []pqEntry
	labels  []pqLabel
}

type slotJob struct {
	route    int32
	priority int32
}

type slotResult struct {
	source  int
	entries []pqEntry
	labels  []pqLabel
}

func newSlot(q *RaptorPQ) *pqSlot {
	slot := &pqSlot{q: q}
	q.emit = func(route int32, priority int32) {
		slot.entries = append(slot.entries, pqEntry{route, priority})
	}
	q.observer = func(stop, arrival int32) {
		slot.labels = append(slot.labels, pqLabel{stop, arrival})
	}
	return slot
}

func (slot *pqSlot) drain(source int) slotResult {
	res := slotResult{
		source:  source,
		entries: append([]pqEntry(nil), slot.entries...),
		labels:  append([]pqLabel(nil), slot.labels...),
	}
	slot.entries, slot.labels = slot.entries[:0], slot.labels[:0]
	return res
}

// 多出发点共用一个优先队列的并行搜索
// 协调者持有队列与各出发点到达时刻的副本，负责计算当前最优并下调共享上界；
// 同一出发点同时只有一项扩展在进行，该出发点的其余队首项推迟分发
type ParallelPQ struct {
	slots     []*pqSlot
	time      int32
	stops     int
	bounds    *Bounds
	objective Objective
	pr        *pruner

	heap     algo.PriorityQueue
	arrivals [][]int32
	tally    *Tally

	Pops       int
	Expansions int
}

// ests为nil或对应项为nil时不使用估计
func NewParallelPQ(s *schedule.Schedule, sources []int32, time int32, weekday int, ests []Estimator, bounds *Bounds, objective Objective) *ParallelPQ {
	p := newParallelPQ(s, len(sources), time, bounds, objective)
	for i, source := range sources {
		q := newRaptorPQ(s, weekday, newPruner(estimatorAt(ests, i), bounds, objective))
		p.slots[i] = newSlot(q)
		q.start(source, time)
	}
	p.seed()
	return p
}

// 接管各出发点Raptor的标签继续搜索
func NewParallelPQFromRaptors(rs []*Raptor, ests []Estimator, bounds *Bounds, objective Objective) *ParallelPQ {
	s := rs[0].tt.s
	p := newParallelPQ(s, len(rs), rs[0].time, bounds, objective)
	for i, r := range rs {
		q := newRaptorPQ(s, r.tt.weekday, newPruner(estimatorAt(ests, i), bounds, objective))
		p.slots[i] = newSlot(q)
		q.resume(r)
	}
	p.seed()
	return p
}

func estimatorAt(ests []Estimator, i int) Estimator {
	if i < len(ests) {
		return ests[i]
	}
	return nil
}

func newParallelPQ(s *schedule.Schedule, n int, time int32, bounds *Bounds, objective Objective) *ParallelPQ {
	if bounds == nil {
		bounds = NewBounds()
	}
	return &ParallelPQ{
		slots:     make([]*pqSlot, n),
		time:      time,
		stops:     s.StopCount(),
		bounds:    bounds,
		objective: objective,
		pr:        newPruner(nil, bounds, objective),
		arrivals:  make([][]int32, n),
		tally:     NewTally(time),
	}
}

// 复制初始标签并计算初始最优，收集初始队列项
func (p *ParallelPQ) seed() {
	for i, slot := range p.slots {
		p.arrivals[i] = append([]int32(nil), slot.q.labels.arrival...)
	}
	p.tally.Scan(p.stops, len(p.slots), func(i int, stop int32) int32 { return p.arrivals[i][stop] })
	p.bounds.Update(p.tally.Sum, p.tally.Max)
	for i, slot := range p.slots {
		p.apply(slot.drain(i))
	}
}

func (p *ParallelPQ) apply(res slotResult) {
	row := p.arrivals[res.source]
	for _, l := range res.labels {
		row[l.stop] = l.arrival
		stop := l.stop
		if p.tally.Consider(stop, len(p.slots), func(i int) int32 { return p.arrivals[i][stop] }) {
			p.bounds.Update(p.tally.Sum, p.tally.Max)
		}
	}
	for _, e := range res.entries {
		heap.Push(&p.heap, &algo.Item{Value: int(e.route), Tag: res.source, Priority: int64(e.priority)})
	}
}

func (p *ParallelPQ) serve(i int, jobs <-chan slotJob, results chan<- slotResult, wg *sync.WaitGroup) {
	defer wg.Done()
	slot := p.slots[i]
	for job := range jobs {
		slot.q.expand(job.route, job.priority)
		results <- slot.drain(i)
	}
}

func (p *ParallelPQ) Run(ctx context.Context) error {
	n := len(p.slots)
	jobs := make([]chan slotJob, n)
	results := make(chan slotResult, n)
	var wg sync.WaitGroup
	for i := range p.slots {
		jobs[i] = make(chan slotJob, 1)
		wg.Add(1)
		go p.serve(i, jobs[i], results, &wg)
	}
	defer func() {
		for _, ch := range jobs {
			close(ch)
		}
		wg.Wait()
	}()

	busy := make([]bool, n)
	inflight := 0
	var deferred []*algo.Item
	for {
		for inflight < n && p.heap.Len() > 0 {
			item := heap.Pop(&p.heap).(*algo.Item)
			p.Pops++
			if p.pr.exhausted(int32(item.Priority)) {
				// 上界只会下降，该项永远不会有用
				continue
			}
			if busy[item.Tag] {
				deferred = append(deferred, item)
				continue
			}
			busy[item.Tag] = true
			inflight++
			p.Expansions++
			jobs[item.Tag] <- slotJob{route: int32(item.Value), priority: int32(item.Priority)}
		}
		for _, item := range deferred {
			heap.Push(&p.heap, item)
		}
		deferred = deferred[:0]
		if inflight == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case res := <-results:
			inflight--
			busy[res.source] = false
			p.apply(res)
		}
	}
}

func (p *ParallelPQ) Tally() Tally {
	return *p.tally
}

func (p *ParallelPQ) SourceCount() int {
	return len(p.slots)
}

// 第i个出发点的搜索，Run结束后只读
func (p *ParallelPQ) Source(i int) *RaptorPQ {
	return p.slots[i].q
}
