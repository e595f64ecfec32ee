package schedule

import (
	"sort"

	"github.com/paulmach/orb"
)

// 预处理后的时刻表，构建后只读，可被多个查询共享
type Schedule struct {
	stops  []Stop
	routes []Route
	trips  []Trip

	// 按班次、站序排列的到离站时刻，tripOffsets[t]:tripOffsets[t+1]
	stopTimes   []StopTime
	tripOffsets []int32

	// 线路的站点序列与按首站发车时刻排序的班次
	routeStops [][]int32
	routeTrips [][]int32
	// 站点 -> 经过的线路及位置
	stopRoutes [][]RouteSequencePair

	// 按出发时刻排序的连接
	connections []Connection

	// 按起点排序的步行换乘，footOffsets[s]:footOffsets[s+1]
	footPaths   []FootPath
	footOffsets []int32

	nameIndex map[string]int32
}

func (s *Schedule) StopCount() int  { return len(s.stops) }
func (s *Schedule) RouteCount() int { return len(s.routes) }
func (s *Schedule) TripCount() int  { return len(s.trips) }

func (s *Schedule) Stop(id int32) Stop   { return s.stops[id] }
func (s *Schedule) Route(id int32) Route { return s.routes[id] }
func (s *Schedule) Trip(id int32) Trip   { return s.trips[id] }

func (s *Schedule) HasStop(id int32) bool {
	return id >= 0 && int(id) < len(s.stops)
}

// 按名称查找站点，同名时返回id最小者
func (s *Schedule) FindStop(name string) (int32, bool) {
	id, ok := s.nameIndex[name]
	return id, ok
}

func (s *Schedule) StopPoint(id int32) orb.Point {
	return s.stops[id].Point()
}

// 返回值不可修改
func (s *Schedule) RouteStops(route int32) []int32 { return s.routeStops[route] }

// 返回值不可修改
func (s *Schedule) RouteTrips(route int32) []int32 { return s.routeTrips[route] }

// 返回值不可修改
func (s *Schedule) StopRoutes(stop int32) []RouteSequencePair { return s.stopRoutes[stop] }

// 班次第pos站的到离站时刻
func (s *Schedule) StopTime(trip int32, pos int) StopTime {
	return s.stopTimes[int(s.tripOffsets[trip])+pos]
}

// 返回值不可修改
func (s *Schedule) TripStopTimes(trip int32) []StopTime {
	return s.stopTimes[s.tripOffsets[trip]:s.tripOffsets[trip+1]]
}

func (s *Schedule) TripLength(trip int32) int {
	return int(s.tripOffsets[trip+1] - s.tripOffsets[trip])
}

// 返回值不可修改
func (s *Schedule) Connections() []Connection { return s.connections }

// 第一个出发时刻不早于t的连接下标
func (s *Schedule) FirstConnectionAfter(t int32) int {
	return sort.Search(len(s.connections), func(i int) bool {
		return s.connections[i].Departure >= t
	})
}

// 返回值不可修改
func (s *Schedule) FootPaths(stop int32) []FootPath {
	return s.footPaths[s.footOffsets[stop]:s.footOffsets[stop+1]]
}

func (s *Schedule) FootPathCount() int { return len(s.footPaths) }
