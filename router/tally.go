package router

import "git.fiblab.net/sim/meetingpoint/router/algo"

// 汇合点的当前最优：各出发点都到达的站点中目标值最小者，相同时取站点id最小者
type Tally struct {
	time    int32
	Sum     int32
	SumStop int32
	Max     int32
	MaxStop int32
}

func NewTally(time int32) *Tally {
	return &Tally{time: time, Sum: algo.INF, SumStop: -1, Max: algo.INF, MaxStop: -1}
}

func (t *Tally) Feasible() bool {
	return t.SumStop >= 0
}

// 用stop处各出发点的到达时刻更新最优，返回是否改进
func (t *Tally) Consider(stop int32, sources int, arrival func(source int) int32) bool {
	var sum int64
	var max int32
	for i := 0; i < sources; i++ {
		a := arrival(i)
		if a >= algo.INF {
			return false
		}
		d := a - t.time
		sum += int64(d)
		if d > max {
			max = d
		}
	}
	s := int32(algo.INF)
	if sum < algo.INF {
		s = int32(sum)
	}
	improved := false
	if s < t.Sum || (s == t.Sum && stop < t.SumStop) {
		t.Sum, t.SumStop = s, stop
		improved = true
	}
	if max < t.Max || (max == t.Max && stop < t.MaxStop) {
		t.Max, t.MaxStop = max, stop
		improved = true
	}
	return improved
}

// 遍历所有站点
func (t *Tally) Scan(stops int, sources int, arrival func(source int, stop int32) int32) {
	for stop := int32(0); stop < int32(stops); stop++ {
		t.Consider(stop, sources, func(i int) int32 { return arrival(i, stop) })
	}
}
