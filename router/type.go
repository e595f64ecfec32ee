package router

import (
	"errors"
	"fmt"
	"sync/atomic"

	"git.fiblab.net/sim/meetingpoint/router/algo"
)

var (
	// 错误：站点未到达
	ErrUnreached = errors.New("stop not reached")
	// 错误：回溯行程时出现环
	ErrBrokenJourney = errors.New("journey pointers form a cycle")
)

// 两站之间旅行时长的下界
// 实现不要求并发安全，每个搜索实例持有自己的Heuristic
type Heuristic interface {
	LowerBound(from, to int32) int32
}

// 搜索实例的站点标签，搜索结束后只读
type Labels interface {
	// 最早到达时刻，未到达为INF
	Arrival(stop int32) int32
	// 到达该站乘坐的班次数
	Legs(stop int32) int
}

// 汇合点的优化目标
type Objective int

const (
	// 同时优化总时长与最大时长
	OBJECTIVE_BOTH Objective = iota
	// 各出发点旅行时长之和最小
	OBJECTIVE_MIN_SUM
	// 各出发点旅行时长的最大值最小
	OBJECTIVE_MIN_MAX
)

func (o Objective) String() string {
	switch o {
	case OBJECTIVE_MIN_SUM:
		return "min-sum"
	case OBJECTIVE_MIN_MAX:
		return "min-max"
	default:
		return "both"
	}
}

func ParseObjective(name string) (Objective, error) {
	for _, o := range []Objective{OBJECTIVE_BOTH, OBJECTIVE_MIN_SUM, OBJECTIVE_MIN_MAX} {
		if o.String() == name {
			return o, nil
		}
	}
	return OBJECTIVE_BOTH, fmt.Errorf("unknown objective %q", name)
}

func (o Objective) HasSum() bool { return o != OBJECTIVE_MIN_MAX }
func (o Objective) HasMax() bool { return o != OBJECTIVE_MIN_SUM }

// 当前已知的最优目标值，多个搜索实例共享，只会下降
type Bounds struct {
	sum atomic.Int32
	max atomic.Int32
}

func NewBounds() *Bounds {
	b := &Bounds{}
	b.sum.Store(algo.INF)
	b.max.Store(algo.INF)
	return b
}

func (b *Bounds) Sum() int32 { return b.sum.Load() }
func (b *Bounds) Max() int32 { return b.max.Load() }

// 下调上界，返回是否有任一上界被改变
func (b *Bounds) Update(sum, max int32) bool {
	s := lower(&b.sum, sum)
	m := lower(&b.max, max)
	return s || m
}

func lower(v *atomic.Int32, x int32) bool {
	for {
		cur := v.Load()
		if x >= cur {
			return false
		}
		if v.CompareAndSwap(cur, x) {
			return true
		}
	}
}

// 从stop出发（已用时elapsed）能达到的目标值下界
type Estimator interface {
	Estimate(stop int32, elapsed int32) (sum, max int32)
}

type PointerKind uint8

const (
	POINTER_NONE PointerKind = iota
	POINTER_SOURCE
	POINTER_TRIP
	POINTER_FOOTPATH
)

func (k PointerKind) String() string {
	switch k {
	case POINTER_SOURCE:
		return "source"
	case POINTER_TRIP:
		return "trip"
	case POINTER_FOOTPATH:
		return "footpath"
	default:
		return "none"
	}
}

// 到达某站的最后一段行程
type JourneyPointer struct {
	Kind PointerKind
	// 乘坐的班次及其服务日
	Trip int32
	Day  int8
	// 上车站或步行起点
	From int32
	// 上车或出发的时刻
	Departure int32
}

type Leg struct {
	Kind      PointerKind
	From      int32
	To        int32
	Trip      int32
	Day       int
	Departure int32
	Arrival   int32
}
