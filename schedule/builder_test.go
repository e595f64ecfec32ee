package schedule_test

import (
	"math/rand"
	"path/filepath"
	"testing"

	"git.fiblab.net/sim/meetingpoint/router/algo"
	"git.fiblab.net/sim/meetingpoint/schedule"
	"git.fiblab.net/sim/meetingpoint/schedule/scheduletest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSchedule(t *testing.T) {
	s, err := scheduletest.NewBuilder(3).
		Line(scheduletest.Line{Name: "A-B-C", Stops: []int32{0, 1, 2}, Hops: []int32{300, 300}, First: 6 * 3600, Last: 7 * 3600, Headway: 600}).
		FootPath(2, 0, 120, true).
		FootPath(2, 0, 60, false).
		FootPath(1, 1, 10, false).
		Build()
	require.NoError(t, err)

	assert.Equal(t, 3, s.StopCount())
	assert.Equal(t, 1, s.RouteCount())
	assert.Equal(t, 7, s.TripCount())
	assert.Equal(t, []int32{0, 1, 2}, s.RouteStops(0))
	assert.Len(t, s.RouteTrips(0), 7)
	assert.Equal(t, []schedule.RouteSequencePair{{Route: 0, Index: 1}}, s.StopRoutes(1))

	// 连接按出发时刻排序
	conns := s.Connections()
	assert.Len(t, conns, 14)
	for i := 1; i < len(conns); i++ {
		assert.LessOrEqual(t, conns[i-1].Departure, conns[i].Departure)
	}
	assert.Equal(t, 0, s.FirstConnectionAfter(0))
	assert.Equal(t, len(conns), s.FirstConnectionAfter(algo.DAY))

	// 重复的步行换乘保留最短者，自环被丢弃
	assert.Equal(t, []schedule.FootPath{{From: 2, To: 0, Duration: 60}}, s.FootPaths(2))
	assert.Equal(t, []schedule.FootPath{{From: 0, To: 2, Duration: 120}}, s.FootPaths(0))
	assert.Empty(t, s.FootPaths(1))

	id, ok := s.FindStop("S1")
	assert.True(t, ok)
	assert.Equal(t, int32(1), id)
}

func TestMidnightWrap(t *testing.T) {
	// 23:50发车，次日00:10到达，导入时时刻回绕
	s, err := scheduletest.NewBuilder(3).
		Trip("night", 0, []int32{0, 1, 2}, [][2]int32{{23*3600 + 50*60, 23*3600 + 50*60}, {23*3600 + 59*60, 60}, {10 * 60, 10 * 60}}).
		Build()
	require.NoError(t, err)
	sts := s.TripStopTimes(0)
	assert.Equal(t, int32(23*3600+59*60), sts[1].Arrival)
	assert.Equal(t, int32(algo.DAY+60), sts[1].Departure)
	assert.Equal(t, int32(algo.DAY+600), sts[2].Arrival)
	assert.Equal(t, sts[2], s.StopTime(0, 2))
	assert.Equal(t, 3, s.TripLength(0))
}

func TestOvertakingLanes(t *testing.T) {
	stops := []int32{0, 1, 2}
	b := scheduletest.NewBuilder(3).
		Trip("line", 0, stops, [][2]int32{{1000, 1000}, {2000, 2000}, {3000, 3000}})
	// 稍晚发车但更早到达的快车
	b.TripOn(0, 0, stops, [][2]int32{{1100, 1100}, {1500, 1500}, {1900, 1900}})
	// 与第一个班次不冲突
	b.TripOn(0, 0, stops, [][2]int32{{1200, 1200}, {2200, 2200}, {3200, 3200}})
	s, err := b.Build()
	require.NoError(t, err)

	require.Equal(t, 2, s.RouteCount())
	assert.Equal(t, []int32{0, 2}, s.RouteTrips(0))
	assert.Equal(t, []int32{1}, s.RouteTrips(1))
	assert.Equal(t, int32(0), s.Route(1).Source)
	assert.Equal(t, int32(1), s.Trip(1).Route)
	assert.Len(t, s.StopRoutes(0), 2)
}

func TestLanesAreFIFO(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 10; i++ {
		s, err := schedule.New(scheduletest.Random(rng, 20, 15))
		require.NoError(t, err)
		for r := int32(0); r < int32(s.RouteCount()); r++ {
			trips := s.RouteTrips(r)
			for pos := range s.RouteStops(r) {
				for j := 1; j < len(trips); j++ {
					assert.LessOrEqual(t, s.StopTime(trips[j-1], pos).Departure, s.StopTime(trips[j], pos).Departure)
					assert.LessOrEqual(t, s.StopTime(trips[j-1], pos).Arrival, s.StopTime(trips[j], pos).Arrival)
				}
			}
		}
	}
}

func TestInvalidTables(t *testing.T) {
	valid := func() schedule.Tables {
		return scheduletest.NewBuilder(3).
			Trip("line", 0, []int32{0, 1}, [][2]int32{{0, 0}, {60, 60}}).
			Tables()
	}
	cases := map[string]func(*schedule.Tables){
		"stop id":        func(t *schedule.Tables) { t.Stops[1].ID = 5 },
		"trip route":     func(t *schedule.Tables) { t.Trips[0].Route = 3 },
		"weekday mask":   func(t *schedule.Tables) { t.Trips[0].Weekdays = 0xff },
		"unknown stop":   func(t *schedule.Tables) { t.StopTimes[1].Stop = 9 },
		"single stop":    func(t *schedule.Tables) { t.StopTimes = t.StopTimes[:1] },
		"duplicate seq":  func(t *schedule.Tables) { t.StopTimes[1].Seq = t.StopTimes[0].Seq },
		"footpath stop":  func(t *schedule.Tables) { t.FootPaths = []schedule.FootPath{{From: 0, To: 7}} },
		"footpath value": func(t *schedule.Tables) { t.FootPaths = []schedule.FootPath{{From: 0, To: 1, Duration: -1}} },
		"stop sequence": func(t *schedule.Tables) {
			t.Trips = append(t.Trips, schedule.Trip{ID: 1, Route: 0, Weekdays: algo.ALL_WEEKDAYS})
			t.StopTimes = append(t.StopTimes,
				schedule.StopTime{Trip: 1, Stop: 0, Seq: 1, Arrival: 100, Departure: 100},
				schedule.StopTime{Trip: 1, Stop: 2, Seq: 2, Arrival: 200, Departure: 200})
		},
	}
	_, err := schedule.New(valid())
	require.NoError(t, err)
	for name, mutate := range cases {
		tables := valid()
		mutate(&tables)
		_, err := schedule.New(tables)
		assert.ErrorIs(t, err, schedule.ErrInvalidTables, name)
	}
}

func TestLoadFile(t *testing.T) {
	tables := scheduletest.Random(rand.New(rand.NewSource(1)), 10, 4)
	path := filepath.Join(t.TempDir(), "schedule.json")
	require.NoError(t, schedule.SaveFile(path, tables))
	loaded, err := schedule.LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, tables, loaded)

	_, err = schedule.LoadFile(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}
