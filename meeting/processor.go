package meeting

import (
	"context"
	"fmt"
	"time"

	"git.fiblab.net/sim/meetingpoint/router"
	"git.fiblab.net/sim/meetingpoint/router/algo"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"
)

type Options struct {
	Objective router.Objective
	// 各出发点并行搜索的并发数，0为不限
	Workers int
}

type search func(ctx context.Context, q Query) (*router.Tally, []router.Labels, error)

// 汇合点查询处理：每个出发点一个搜索实例，合并各出发点的到达时刻求最优站点
type Processor struct {
	r        *router.Router
	opts     Options
	dispatch map[Algorithm]search
}

func NewProcessor(r *router.Router, opts Options) *Processor {
	p := &Processor{r: r, opts: opts}
	p.dispatch = map[Algorithm]search{
		ALGORITHM_RAPTOR:             p.raptor,
		ALGORITHM_RAPTOR_BOUND:       p.raptorBound,
		ALGORITHM_RAPTOR_PQ:          p.raptorPQ,
		ALGORITHM_RAPTOR_PQ_PARALLEL: p.raptorPQParallel,
		ALGORITHM_CSA:                p.csa,
	}
	return p
}

func (p *Processor) Objective() router.Objective {
	return p.opts.Objective
}

func (p *Processor) Validate(q Query) error {
	if len(q.Sources) < 2 {
		return fmt.Errorf("%w: got %d", ErrTooFewSources, len(q.Sources))
	}
	s := p.r.Schedule()
	for _, source := range q.Sources {
		if !s.HasStop(source) {
			return fmt.Errorf("%w: %d", ErrUnknownStop, source)
		}
	}
	if q.Weekday < 0 || q.Weekday >= algo.WEEKDAYS {
		return fmt.Errorf("%w: %d", ErrInvalidWeekday, q.Weekday)
	}
	if q.Time < 0 || q.Time >= algo.DAY {
		return fmt.Errorf("%w: %d", ErrInvalidTime, q.Time)
	}
	return nil
}

// 没有可行汇合点时返回空结果而不是错误
func (p *Processor) Process(ctx context.Context, q Query, alg Algorithm) (*Result, error) {
	start := time.Now()
	if err := p.Validate(q); err != nil {
		return nil, err
	}
	fn, ok := p.dispatch[alg]
	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrUnknownAlgorithm, alg)
	}
	tally, labels, err := fn(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("%v query: %w", alg, err)
	}
	res := &Result{}
	if tally.Feasible() {
		if p.opts.Objective.HasSum() {
			res.MinSum = p.winner(labels, tally.SumStop, tally.Sum)
		}
		if p.opts.Objective.HasMax() {
			res.MinMax = p.winner(labels, tally.MaxStop, tally.Max)
		}
	}
	res.QueryTime = time.Since(start)
	log.Debugf("%v query %v at %s weekday %d: empty=%v in %v",
		alg, q.Sources, algo.FormatClock(q.Time), q.Weekday, res.Empty(), res.QueryTime)
	return res, nil
}

func (p *Processor) winner(labels []router.Labels, stop int32, duration int32) *Winner {
	w := &Winner{
		Stop:     stop,
		StopName: p.r.Schedule().Stop(stop).Name,
		Duration: duration,
	}
	for _, l := range labels {
		w.Arrival = max(w.Arrival, l.Arrival(stop))
		w.Transfers = max(w.Transfers, l.Legs(stop)-1)
	}
	return w
}

func (p *Processor) group(ctx context.Context) (*errgroup.Group, context.Context) {
	g, gctx := errgroup.WithContext(ctx)
	if p.opts.Workers > 0 {
		g.SetLimit(p.opts.Workers)
	}
	return g, gctx
}

func (p *Processor) estimators(q Query) []router.Estimator {
	return lo.Times(len(q.Sources), func(i int) router.Estimator {
		return p.r.CliqueEstimator(q.Sources, i, q.Weekday)
	})
}

func toLabels[T router.Labels](xs []T) []router.Labels {
	return lo.Map(xs, func(x T, _ int) router.Labels { return x })
}

func scan(stops int, labels []router.Labels, tally *router.Tally) {
	tally.Scan(stops, len(labels), func(i int, stop int32) int32 { return labels[i].Arrival(stop) })
}

// 所有出发点同步推进一轮
func (p *Processor) round(ctx context.Context, rs []*router.Raptor) error {
	g, _ := p.group(ctx)
	for _, r := range rs {
		r := r
		g.Go(func() error {
			r.Round()
			return nil
		})
	}
	return g.Wait()
}

// 逐轮推进直到结果不会再改进，untilFeasible为true时在出现第一个可行结果时返回
func (p *Processor) rounds(ctx context.Context, q Query, rs []*router.Raptor, bounds *router.Bounds, untilFeasible bool) (*router.Tally, bool, error) {
	stops := p.r.Schedule().StopCount()
	labels := toLabels(rs)
	tally := router.NewTally(q.Time)
	for {
		scan(stops, labels, tally)
		if bounds != nil {
			bounds.Update(tally.Sum, tally.Max)
		}
		if p.settled(q, rs, tally) {
			return tally, true, nil
		}
		if untilFeasible && tally.Feasible() {
			return tally, false, nil
		}
		if err := ctx.Err(); err != nil {
			return nil, false, err
		}
		if err := p.round(ctx, rs); err != nil {
			return nil, false, err
		}
	}
}

// 之后的到达时刻不早于各出发点当前标记站点的最早到达时刻，
// 据此判断任一站点都不会胜过当前最优（目标值相同时比较站点id）
func (p *Processor) settled(q Query, rs []*router.Raptor, tally *router.Tally) bool {
	marked := lo.Map(rs, func(r *router.Raptor, _ int) int32 { return r.MinMarkedArrival() })
	if lo.EveryBy(marked, func(t int32) bool { return t >= algo.INF }) {
		return true
	}
	if !tally.Feasible() {
		return false
	}
	obj := p.opts.Objective
	stops := int32(p.r.Schedule().StopCount())
next:
	for stop := int32(0); stop < stops; stop++ {
		var sum int64
		var worst int32
		for i, r := range rs {
			a := min(r.Arrival(stop), marked[i])
			if a >= algo.INF {
				continue next
			}
			sum += int64(a - q.Time)
			worst = max(worst, a-q.Time)
		}
		if obj.HasSum() && (sum < int64(tally.Sum) || sum == int64(tally.Sum) && stop < tally.SumStop) {
			return false
		}
		if obj.HasMax() && (worst < tally.Max || worst == tally.Max && stop < tally.MaxStop) {
			return false
		}
	}
	return true
}

func (p *Processor) raptors(q Query) []*router.Raptor {
	s := p.r.Schedule()
	return lo.Map(q.Sources, func(source int32, _ int) *router.Raptor {
		return router.NewRaptor(s, source, q.Time, q.Weekday)
	})
}

func (p *Processor) raptor(ctx context.Context, q Query) (*router.Tally, []router.Labels, error) {
	rs := p.raptors(q)
	tally, _, err := p.rounds(ctx, q, rs, nil, false)
	if err != nil {
		return nil, nil, err
	}
	return tally, toLabels(rs), nil
}

func (p *Processor) raptorBound(ctx context.Context, q Query) (*router.Tally, []router.Labels, error) {
	s := p.r.Schedule()
	bounds := router.NewBounds()
	ests := p.estimators(q)
	rs := lo.Map(q.Sources, func(source int32, i int) *router.Raptor {
		return router.NewRaptorBound(s, source, q.Time, q.Weekday, ests[i], bounds, p.opts.Objective)
	})
	tally, _, err := p.rounds(ctx, q, rs, bounds, false)
	if err != nil {
		return nil, nil, err
	}
	return tally, toLabels(rs), nil
}

// Raptor推进到第一个可行结果后，各出发点依次改用优先队列搜索完成
func (p *Processor) raptorPQ(ctx context.Context, q Query) (*router.Tally, []router.Labels, error) {
	rs := p.raptors(q)
	bounds := router.NewBounds()
	tally, done, err := p.rounds(ctx, q, rs, bounds, true)
	if err != nil || done {
		return tally, toLabels(rs), err
	}
	n := len(rs)
	labels := toLabels(rs)
	ests := p.estimators(q)
	for i, r := range rs {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		pq := router.NewRaptorPQFromRaptor(r, ests[i], bounds, p.opts.Objective)
		labels[i] = pq
		pq.SetObserver(func(stop, arrival int32) {
			current := func(j int) int32 {
				if j == i {
					return arrival
				}
				return labels[j].Arrival(stop)
			}
			if tally.Consider(stop, n, current) {
				bounds.Update(tally.Sum, tally.Max)
			}
		})
		pq.Run()
		log.Debugf("source %d: %d pops, %d route scans", r.Source(), pq.Pops, pq.RouteScans)
	}
	scan(p.r.Schedule().StopCount(), labels, tally)
	return tally, labels, nil
}

func (p *Processor) raptorPQParallel(ctx context.Context, q Query) (*router.Tally, []router.Labels, error) {
	rs := p.raptors(q)
	bounds := router.NewBounds()
	tally, done, err := p.rounds(ctx, q, rs, bounds, true)
	if err != nil || done {
		return tally, toLabels(rs), err
	}
	pp := router.NewParallelPQFromRaptors(rs, p.estimators(q), bounds, p.opts.Objective)
	if err := pp.Run(ctx); err != nil {
		return nil, nil, err
	}
	labels := lo.Times(pp.SourceCount(), func(i int) router.Labels { return pp.Source(i) })
	final := pp.Tally()
	scan(p.r.Schedule().StopCount(), labels, &final)
	log.Debugf("parallel pq: %d pops, %d expansions", pp.Pops, pp.Expansions)
	return &final, labels, nil
}

func (p *Processor) csa(ctx context.Context, q Query) (*router.Tally, []router.Labels, error) {
	s := p.r.Schedule()
	cs := lo.Map(q.Sources, func(source int32, _ int) *router.CSA {
		return router.NewCSA(s, source, q.Time, q.Weekday)
	})
	g, gctx := p.group(ctx)
	for _, c := range cs {
		c := c
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			c.Run()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	labels := toLabels(cs)
	tally := router.NewTally(q.Time)
	scan(s.StopCount(), labels, tally)
	return tally, labels, nil
}
