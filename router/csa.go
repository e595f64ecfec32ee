package router

import (
	"git.fiblab.net/sim/meetingpoint/router/algo"
	"git.fiblab.net/sim/meetingpoint/schedule"
	"github.com/samber/lo"
)

// 连接扫描算法：把各服务日平移后的连接序列归并，按出发时刻依次扫描
type CSA struct {
	tt     timetable
	source int32
	time   int32
	labels labelSet

	// (服务日, 班次) -> 上车站、上车时刻与上车后的班次数，未上车为NO_TRIP
	boardStop []int32
	boardDep  []int32
	boardLegs []uint8

	targets []int32

	Scanned int
}

func NewCSA(s *schedule.Schedule, source int32, time int32, weekday int, targets ...int32) *CSA {
	n := algo.SERVICE_DAYS * s.TripCount()
	c := &CSA{
		tt:        timetable{s: s, weekday: weekday},
		source:    source,
		time:      time,
		labels:    newLabelSet(s.StopCount()),
		boardStop: make([]int32, n),
		boardDep:  make([]int32, n),
		boardLegs: make([]uint8, n),
		targets:   targets,
	}
	for i := range c.boardStop {
		c.boardStop[i] = algo.NO_TRIP
	}
	return c
}

func (c *CSA) Source() int32 { return c.source }

func (c *CSA) Arrival(stop int32) int32 { return c.labels.Arrival(stop) }
func (c *CSA) Legs(stop int32) int      { return c.labels.Legs(stop) }

func (c *CSA) Journey(stop int32) ([]Leg, error) {
	return c.labels.journey(stop)
}

func (c *CSA) improve(stop int32, t int32, legs int, p JourneyPointer) bool {
	if t >= c.labels.arrival[stop] {
		return false
	}
	c.labels.set(stop, t, legs, p)
	return true
}

func (c *CSA) relaxFootPaths(stop int32, t int32, legs int) {
	for _, fp := range c.tt.s.FootPaths(stop) {
		c.improve(fp.To, algo.AddSat(t, fp.Duration), legs, JourneyPointer{
			Kind:      POINTER_FOOTPATH,
			Trip:      algo.NO_TRIP,
			From:      stop,
			Departure: t,
		})
	}
}

// 所有终点的到达时刻都不晚于t
func (c *CSA) settled(t int32) bool {
	return len(c.targets) > 0 && lo.EveryBy(c.targets, func(stop int32) bool { return c.labels.arrival[stop] <= t })
}

func (c *CSA) Run() {
	c.labels.set(c.source, c.time, 0, JourneyPointer{Kind: POINTER_SOURCE, Trip: algo.NO_TRIP, From: c.source, Departure: c.time})
	c.relaxFootPaths(c.source, c.time, 0)

	s := c.tt.s
	conns := s.Connections()
	trips := s.TripCount()
	// 每个服务日一个游标
	var cursors [algo.SERVICE_DAYS]int
	for k := range cursors {
		cursors[k] = s.FirstConnectionAfter(c.time - dayOffset(k+algo.FIRST_SERVICE_DAY))
	}
	for {
		best, bestDep := -1, int32(algo.INF)
		for k, i := range cursors {
			if i < len(conns) {
				if dep := conns[i].Departure + dayOffset(k+algo.FIRST_SERVICE_DAY); dep < bestDep {
					best, bestDep = k, dep
				}
			}
		}
		if best < 0 || c.settled(bestDep) {
			return
		}
		conn := conns[cursors[best]]
		cursors[best]++
		c.Scanned++
		day := best + algo.FIRST_SERVICE_DAY
		if !c.tt.runs(conn.Trip, day) {
			continue
		}
		idx := best*trips + int(conn.Trip)
		if c.boardStop[idx] == algo.NO_TRIP {
			if c.labels.arrival[conn.From] > bestDep {
				continue
			}
			c.boardStop[idx] = conn.From
			c.boardDep[idx] = bestDep
			c.boardLegs[idx] = uint8(min(c.labels.Legs(conn.From)+1, 255))
		}
		arr := conn.Arrival + dayOffset(day)
		legs := int(c.boardLegs[idx])
		p := JourneyPointer{Kind: POINTER_TRIP, Trip: conn.Trip, Day: int8(day), From: c.boardStop[idx], Departure: c.boardDep[idx]}
		if c.labels.improveTrip(conn.To, arr, legs) {
			c.improve(conn.To, arr, legs, p)
			c.relaxFootPaths(conn.To, arr, legs)
		}
	}
}
