package oracle

import (
	"git.fiblab.net/sim/meetingpoint/router/algo"
	"git.fiblab.net/sim/meetingpoint/schedule"
)

const (
	EDGE_RIDE     = 1
	EDGE_FOOTPATH = 2
)

type StopNodeAttr struct {
	ID int32
}

type EdgeAttr struct {
	Kind  int
	Route int32
}

// 静态下界图：点为站点，边权为任一运营班次在相邻两站间的最短行驶时间或步行时长
type StaticGraph = algo.SearchGraph[StopNodeAttr, EdgeAttr]

// 只考虑在weekdays掩码内运营的班次，symmetric时每条边同时加入反向边
func NewStaticGraph(s *schedule.Schedule, weekdays uint8, symmetric bool) *StaticGraph {
	g := algo.NewSearchGraph[StopNodeAttr, EdgeAttr](nil)
	for i := 0; i < s.StopCount(); i++ {
		g.InitNode(s.StopPoint(int32(i)), StopNodeAttr{ID: int32(i)})
	}
	add := func(from, to int32, length int32, attr EdgeAttr) {
		g.InitEdge(int(from), int(to), length, attr)
		if symmetric {
			g.InitEdge(int(to), int(from), length, attr)
		}
	}
	for id := 0; id < s.TripCount(); id++ {
		trip := s.Trip(int32(id))
		if trip.Weekdays&weekdays == 0 {
			continue
		}
		sts := s.TripStopTimes(trip.ID)
		for i := 0; i+1 < len(sts); i++ {
			add(sts[i].Stop, sts[i+1].Stop, sts[i+1].Arrival-sts[i].Departure, EdgeAttr{Kind: EDGE_RIDE, Route: trip.Route})
		}
	}
	for stop := int32(0); stop < int32(s.StopCount()); stop++ {
		for _, fp := range s.FootPaths(stop) {
			add(fp.From, fp.To, fp.Duration, EdgeAttr{Kind: EDGE_FOOTPATH, Route: -1})
		}
	}
	log.Debugf("static graph for weekdays %07b: %d nodes, %d edges", weekdays, g.NodeCount(), g.EdgeCount())
	return g
}
