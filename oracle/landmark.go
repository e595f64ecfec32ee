package oracle

import (
	"context"
	"fmt"

	"git.fiblab.net/sim/meetingpoint/router/algo"
	"git.fiblab.net/sim/meetingpoint/schedule"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"golang.org/x/sync/errgroup"
)

// 地标下界：预计算少数地标站点与所有站点之间的静态最短距离，由三角不等式得到任意两站旅行时长的下界
type Landmarks struct {
	stops []int32
	// [weekday][landmark][stop]
	from [algo.WEEKDAYS][][]int32 // 地标 -> 站点
	to   [algo.WEEKDAYS][][]int32 // 站点 -> 地标
}

// 选取地标：第一个为离站点中心最远的站点，之后每次选取到已选地标静态距离最远的站点
func SelectLandmarks(s *schedule.Schedule, g *StaticGraph, count int) []int32 {
	n := s.StopCount()
	count = min(count, n)
	if count <= 0 {
		return nil
	}
	points := make(orb.MultiPoint, n)
	for i := range points {
		points[i] = s.StopPoint(int32(i))
	}
	center := points.Bound().Center()
	first, farthest := int32(0), -1.0
	for i, p := range points {
		if d := geo.Distance(p, center); d > farthest {
			first, farthest = int32(i), d
		}
	}
	landmarks := []int32{first}
	chosen := make([]bool, n)
	chosen[first] = true
	minDist := g.ShortestPathTree(int(first), algo.FORWARD)
	for len(landmarks) < count {
		next, best := int32(-1), int32(-1)
		for i, d := range minDist {
			if !chosen[i] && d > best {
				next, best = int32(i), d
			}
		}
		if next < 0 {
			break
		}
		landmarks = append(landmarks, next)
		chosen[next] = true
		for i, d := range g.ShortestPathTree(int(next), algo.FORWARD) {
			minDist[i] = min(minDist[i], d)
		}
	}
	return landmarks
}

// 为每个星期构建下界图并预计算地标距离，各(星期, 地标)并行计算
func NewLandmarks(ctx context.Context, s *schedule.Schedule, count int, symmetric bool, workers int) (*Landmarks, error) {
	l := &Landmarks{
		stops: SelectLandmarks(s, NewStaticGraph(s, algo.ALL_WEEKDAYS, true), count),
	}
	log.Infof("landmarks: %v", l.stops)
	var graphs [algo.WEEKDAYS]*StaticGraph
	g, gctx := errgroup.WithContext(ctx)
	if workers > 0 {
		g.SetLimit(workers)
	}
	for w := 0; w < algo.WEEKDAYS; w++ {
		w := w
		g.Go(func() error {
			graphs[w] = NewStaticGraph(s, algo.HorizonWeekdays(w), symmetric)
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("build weekday graphs: %w", err)
	}
	g, gctx = errgroup.WithContext(ctx)
	if workers > 0 {
		g.SetLimit(workers)
	}
	for w := 0; w < algo.WEEKDAYS; w++ {
		l.from[w] = make([][]int32, len(l.stops))
		l.to[w] = make([][]int32, len(l.stops))
		for i, stop := range l.stops {
			w, i, stop := w, i, stop
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				l.from[w][i] = graphs[w].ShortestPathTree(int(stop), algo.FORWARD)
				if symmetric {
					l.to[w][i] = l.from[w][i]
				} else {
					l.to[w][i] = graphs[w].ShortestPathTree(int(stop), algo.BACKWARD)
				}
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("precompute landmarks: %w", err)
	}
	return l, nil
}

func (l *Landmarks) Stops() []int32 {
	return l.stops
}

// a到b旅行时长的下界，b从a不可达时为INF
func (l *Landmarks) LowerBound(a, b int32, weekday int) int32 {
	var lb int32
	for i := range l.stops {
		// d(a,b) >= d(L,b) - d(L,a)
		fa, fb := l.from[weekday][i][a], l.from[weekday][i][b]
		if fa < algo.INF {
			if fb >= algo.INF {
				return algo.INF
			}
			lb = max(lb, fb-fa)
		}
		// d(a,b) >= d(a,L) - d(b,L)
		ta, tb := l.to[weekday][i][a], l.to[weekday][i][b]
		if tb < algo.INF {
			if ta >= algo.INF {
				return algo.INF
			}
			lb = max(lb, ta-tb)
		}
	}
	return lb
}

// 固定星期的下界
type WeekdayLandmarks struct {
	l       *Landmarks
	weekday int
}

func (l *Landmarks) ForWeekday(weekday int) WeekdayLandmarks {
	return WeekdayLandmarks{l: l, weekday: weekday}
}

func (w WeekdayLandmarks) LowerBound(a, b int32) int32 {
	return w.l.LowerBound(a, b, w.weekday)
}
