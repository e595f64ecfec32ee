package router

import (
	"git.fiblab.net/sim/meetingpoint/router/algo"
	"github.com/samber/lo"
)

// 到达标签与乘车到达标签
// 步行换乘只能接在乘车之后，因此从乘车到达时刻而非到达标签出发
type labelSet struct {
	arrival []int32
	legs    []uint8
	ptr     []JourneyPointer

	tripArrival []int32
	tripLegs    []uint8
}

func newLabelSet(n int) labelSet {
	l := labelSet{
		arrival: make([]int32, n),
		legs:    make([]uint8, n),
		ptr:     make([]JourneyPointer, n),

		tripArrival: make([]int32, n),
		tripLegs:    make([]uint8, n),
	}
	for i := range l.arrival {
		l.arrival[i] = algo.INF
		l.tripArrival[i] = algo.INF
	}
	return l
}

func (l *labelSet) clone() labelSet {
	return labelSet{
		arrival: append([]int32(nil), l.arrival...),
		legs:    append([]uint8(nil), l.legs...),
		ptr:     append([]JourneyPointer(nil), l.ptr...),

		tripArrival: append([]int32(nil), l.tripArrival...),
		tripLegs:    append([]uint8(nil), l.tripLegs...),
	}
}

func (l *labelSet) set(stop int32, t int32, legs int, p JourneyPointer) {
	l.arrival[stop] = t
	l.legs[stop] = uint8(min(legs, 255))
	l.ptr[stop] = p
}

// 乘车到达时刻是否改进，改进时同时记录
func (l *labelSet) improveTrip(stop int32, t int32, legs int) bool {
	if t >= l.tripArrival[stop] {
		return false
	}
	l.tripArrival[stop] = t
	l.tripLegs[stop] = uint8(min(legs, 255))
	return true
}

func (l *labelSet) Arrival(stop int32) int32 { return l.arrival[stop] }
func (l *labelSet) Legs(stop int32) int      { return int(l.legs[stop]) }

// 沿指针回溯出发点到stop的行程
func (l *labelSet) journey(stop int32) ([]Leg, error) {
	legs := make([]Leg, 0)
	cur := stop
	for steps := 0; steps <= len(l.arrival); steps++ {
		p := l.ptr[cur]
		switch p.Kind {
		case POINTER_SOURCE:
			return lo.Reverse(legs), nil
		case POINTER_TRIP, POINTER_FOOTPATH:
			leg := Leg{Kind: p.Kind, From: p.From, To: cur, Trip: algo.NO_TRIP, Departure: p.Departure, Arrival: l.arrival[cur]}
			if p.Kind == POINTER_TRIP {
				leg.Trip, leg.Day = p.Trip, int(p.Day)
			}
			legs = append(legs, leg)
			cur = p.From
		default:
			return nil, ErrUnreached
		}
	}
	return nil, ErrBrokenJourney
}
