package router

import (
	"sort"

	"git.fiblab.net/sim/meetingpoint/router/algo"
	"git.fiblab.net/sim/meetingpoint/schedule"
)

// 以查询日零点为原点的时刻表视图
type timetable struct {
	s       *schedule.Schedule
	weekday int
}

func dayOffset(day int) int32 {
	return int32(day) * algo.DAY
}

// 班次在服务日day是否运营
func (tt timetable) runs(trip int32, day int) bool {
	return tt.s.Trip(trip).RunsOn(algo.WeekdayAt(tt.weekday, day))
}

func (tt timetable) departure(trip int32, day int, pos int) int32 {
	return dayOffset(day) + tt.s.StopTime(trip, pos).Departure
}

func (tt timetable) arrival(trip int32, day int, pos int) int32 {
	return dayOffset(day) + tt.s.StopTime(trip, pos).Arrival
}

// 在线路route的第pos站，找出发时刻不早于t的最早运营班次
// 各服务日分别二分查找，取出发最早者；出发相同时取到达终点较早者
func (tt timetable) earliestTrip(route int32, pos int, t int32) (trip int32, day int, dep int32) {
	trip, day, dep = algo.NO_TRIP, 0, algo.INF
	trips := tt.s.RouteTrips(route)
	last := len(tt.s.RouteStops(route)) - 1
	for d := algo.FIRST_SERVICE_DAY; d < algo.MAX_DAYS; d++ {
		offset := dayOffset(d)
		i := sort.Search(len(trips), func(i int) bool {
			return tt.s.StopTime(trips[i], pos).Departure+offset >= t
		})
		for ; i < len(trips); i++ {
			cand := tt.s.StopTime(trips[i], pos).Departure + offset
			if cand > dep {
				break
			}
			if !tt.runs(trips[i], d) {
				continue
			}
			if cand < dep || tt.arrival(trips[i], d, last) < tt.arrival(trip, day, last) {
				trip, day, dep = trips[i], d, cand
			}
			break
		}
	}
	return
}
