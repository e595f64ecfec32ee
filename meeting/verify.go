package meeting

import (
	"context"
	"fmt"

	"git.fiblab.net/sim/meetingpoint/router"
	"git.fiblab.net/sim/meetingpoint/router/algo"
	"github.com/samber/lo"
)

// 用单终点搜索与CSA重新计算各出发点到汇合点的到达时刻，检查结果中的目标值
func (p *Processor) Verify(ctx context.Context, q Query, res *Result) error {
	if err := p.Validate(q); err != nil {
		return err
	}
	check := func(w *Winner, aggregate func(durations []int32) int32) error {
		if w == nil {
			return nil
		}
		arrivals, err := p.arrivalsAt(ctx, q, w.Stop)
		if err != nil {
			return err
		}
		durations := lo.Map(arrivals, func(a int32, _ int) int32 { return a - q.Time })
		if lo.Max(arrivals) >= algo.INF {
			return fmt.Errorf("%w: stop %d unreachable from some source", ErrVerifyFailed, w.Stop)
		}
		if got := aggregate(durations); got != w.Duration {
			return fmt.Errorf("%w: stop %d has duration %d, result says %d", ErrVerifyFailed, w.Stop, got, w.Duration)
		}
		if got := lo.Max(arrivals); got != w.Arrival {
			return fmt.Errorf("%w: stop %d has arrival %s, result says %s",
				ErrVerifyFailed, w.Stop, algo.FormatClock(got), algo.FormatClock(w.Arrival))
		}
		return nil
	}
	if err := check(res.MinSum, lo.Sum[int32]); err != nil {
		return err
	}
	return check(res.MinMax, lo.Max[int32])
}

func (p *Processor) arrivalsAt(ctx context.Context, q Query, stop int32) ([]int32, error) {
	s := p.r.Schedule()
	arrivals := make([]int32, len(q.Sources))
	g, gctx := p.group(ctx)
	for i, source := range q.Sources {
		i, source := i, source
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			pq := p.r.NewRaptorPQStar(source, q.Time, q.Weekday, stop)
			pq.Run()
			bound := p.r.NewRaptorBoundStar(source, q.Time, q.Weekday, stop)
			bound.Run()
			c := router.NewCSA(s, source, q.Time, q.Weekday, stop)
			c.Run()
			if pq.Arrival(stop) != c.Arrival(stop) || bound.Arrival(stop) != c.Arrival(stop) {
				return fmt.Errorf("%w: source %d to stop %d: pq %s, bound %s, csa %s", ErrVerifyFailed, source, stop,
					algo.FormatClock(pq.Arrival(stop)), algo.FormatClock(bound.Arrival(stop)), algo.FormatClock(c.Arrival(stop)))
			}
			arrivals[i] = c.Arrival(stop)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return arrivals, nil
}
