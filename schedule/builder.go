package schedule

import (
	"cmp"
	"fmt"
	"slices"

	"git.fiblab.net/sim/meetingpoint/router/algo"
	"github.com/samber/lo"
)

// 校验导入的表并构建只读的时刻表
func New(t Tables) (*Schedule, error) {
	if err := validateIDs(t); err != nil {
		return nil, err
	}
	s := &Schedule{
		stops:     slices.Clone(t.Stops),
		nameIndex: make(map[string]int32, len(t.Stops)),
	}
	for _, stop := range s.stops {
		if _, ok := s.nameIndex[stop.Name]; !ok {
			s.nameIndex[stop.Name] = stop.ID
		}
	}
	trips, err := s.buildStopTimes(t)
	if err != nil {
		return nil, err
	}
	if err := s.buildRoutes(t, trips); err != nil {
		return nil, err
	}
	s.buildConnections()
	if err := s.buildFootPaths(t.FootPaths); err != nil {
		return nil, err
	}
	log.Infof("schedule: %d stops, %d routes (%d imported), %d trips, %d connections, %d footpaths",
		len(s.stops), len(s.routes), len(t.Routes), len(s.trips), len(s.connections), len(s.footPaths))
	return s, nil
}

func validateIDs(t Tables) error {
	for i, stop := range t.Stops {
		if stop.ID != int32(i) {
			return fmt.Errorf("%w: stop id %d at index %d", ErrInvalidTables, stop.ID, i)
		}
	}
	for i, route := range t.Routes {
		if route.ID != int32(i) {
			return fmt.Errorf("%w: route id %d at index %d", ErrInvalidTables, route.ID, i)
		}
	}
	for i, trip := range t.Trips {
		if trip.ID != int32(i) {
			return fmt.Errorf("%w: trip id %d at index %d", ErrInvalidTables, trip.ID, i)
		}
		if trip.Route < 0 || int(trip.Route) >= len(t.Routes) {
			return fmt.Errorf("%w: trip %d refers to unknown route %d", ErrInvalidTables, trip.ID, trip.Route)
		}
		if trip.Weekdays&^algo.ALL_WEEKDAYS != 0 {
			return fmt.Errorf("%w: trip %d has weekday mask %#x", ErrInvalidTables, trip.ID, trip.Weekdays)
		}
	}
	return nil
}

// 按班次分组并规范化时刻：跨越午夜后回绕的时刻加上一天，使每个班次的时刻单调不减
func (s *Schedule) buildStopTimes(t Tables) ([][]StopTime, error) {
	trips := make([][]StopTime, len(t.Trips))
	for _, st := range t.StopTimes {
		if st.Trip < 0 || int(st.Trip) >= len(t.Trips) {
			return nil, fmt.Errorf("%w: stop time refers to unknown trip %d", ErrInvalidTables, st.Trip)
		}
		if !s.HasStop(st.Stop) {
			return nil, fmt.Errorf("%w: trip %d refers to unknown stop %d", ErrInvalidTables, st.Trip, st.Stop)
		}
		if st.Arrival < 0 || st.Departure < 0 {
			return nil, fmt.Errorf("%w: trip %d has negative time at seq %d", ErrInvalidTables, st.Trip, st.Seq)
		}
		trips[st.Trip] = append(trips[st.Trip], st)
	}
	for id, sts := range trips {
		if len(sts) < 2 {
			return nil, fmt.Errorf("%w: trip %d has %d stop times", ErrInvalidTables, id, len(sts))
		}
		slices.SortStableFunc(sts, func(a, b StopTime) int { return cmp.Compare(a.Seq, b.Seq) })
		var shift, prev int32
		for i := range sts {
			if i > 0 && sts[i].Seq == sts[i-1].Seq {
				return nil, fmt.Errorf("%w: trip %d has duplicate seq %d", ErrInvalidTables, id, sts[i].Seq)
			}
			sts[i].Arrival += shift
			for sts[i].Arrival < prev {
				shift += algo.DAY
				sts[i].Arrival += algo.DAY
			}
			sts[i].Departure += shift
			for sts[i].Departure < sts[i].Arrival {
				shift += algo.DAY
				sts[i].Departure += algo.DAY
			}
			prev = sts[i].Departure
		}
	}
	return trips, nil
}

// 超车关系：两个班次（含前后一天的实例）在某些位置先后次序相反
func overtakes(a, b []StopTime) bool {
	for _, shift := range []int32{-algo.DAY, 0, algo.DAY} {
		earlier, later := false, false
		for i := range a {
			for _, d := range [2]int32{a[i].Arrival - b[i].Arrival - shift, a[i].Departure - b[i].Departure - shift} {
				earlier = earlier || d < 0
				later = later || d > 0
			}
		}
		if earlier && later {
			return true
		}
	}
	return false
}

func sameStops(a, b []StopTime) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Stop != b[i].Stop {
			return false
		}
	}
	return true
}

// 把每条导入线路拆分为若干内部线路，同一内部线路中的班次互不超车
func (s *Schedule) buildRoutes(t Tables, trips [][]StopTime) error {
	byRoute := make([][]int32, len(t.Routes))
	for _, trip := range t.Trips {
		byRoute[trip.Route] = append(byRoute[trip.Route], trip.ID)
	}
	s.trips = slices.Clone(t.Trips)
	s.tripOffsets = make([]int32, len(t.Trips)+1)
	s.stopRoutes = make([][]RouteSequencePair, len(s.stops))
	for _, imported := range t.Routes {
		ids := byRoute[imported.ID]
		if len(ids) == 0 {
			log.Debugf("route %d (%s) has no trips", imported.ID, imported.Name)
			continue
		}
		for _, id := range ids[1:] {
			if !sameStops(trips[ids[0]], trips[id]) {
				return fmt.Errorf("%w: trip %d of route %d has a different stop sequence", ErrInvalidTables, id, imported.ID)
			}
		}
		// 优先按首站发车，再按时刻总和排序，保证同一内部线路中被支配的班次排在后面
		total := lo.SliceToMap(ids, func(id int32) (int32, int64) {
			return id, lo.SumBy(trips[id], func(st StopTime) int64 { return int64(st.Arrival) + int64(st.Departure) })
		})
		slices.SortFunc(ids, func(a, b int32) int {
			if c := cmp.Compare(trips[a][0].Departure, trips[b][0].Departure); c != 0 {
				return c
			}
			if c := cmp.Compare(total[a], total[b]); c != 0 {
				return c
			}
			return cmp.Compare(a, b)
		})
		lanes := [][]int32{}
		for _, id := range ids {
			placed := false
			for i, lane := range lanes {
				if !lo.SomeBy(lane, func(other int32) bool { return overtakes(trips[other], trips[id]) }) {
					lanes[i] = append(lane, id)
					placed = true
					break
				}
			}
			if !placed {
				lanes = append(lanes, []int32{id})
			}
		}
		if len(lanes) > 1 {
			log.Debugf("route %d (%s) split into %d lanes", imported.ID, imported.Name, len(lanes))
		}
		stops := lo.Map(trips[ids[0]], func(st StopTime, _ int) int32 { return st.Stop })
		for _, lane := range lanes {
			route := int32(len(s.routes))
			s.routes = append(s.routes, Route{ID: route, Name: imported.Name, Source: imported.ID})
			s.routeStops = append(s.routeStops, stops)
			s.routeTrips = append(s.routeTrips, lane)
			for _, id := range lane {
				s.trips[id].Route = route
			}
			for i, stop := range stops {
				s.stopRoutes[stop] = append(s.stopRoutes[stop], RouteSequencePair{Route: route, Index: int32(i)})
			}
		}
	}
	for id := range s.trips {
		s.tripOffsets[id] = int32(len(s.stopTimes))
		s.stopTimes = append(s.stopTimes, trips[id]...)
	}
	s.tripOffsets[len(s.trips)] = int32(len(s.stopTimes))
	return nil
}

func (s *Schedule) buildConnections() {
	s.connections = make([]Connection, 0, len(s.stopTimes)-len(s.trips))
	for id := range s.trips {
		sts := s.TripStopTimes(int32(id))
		for i := 0; i+1 < len(sts); i++ {
			s.connections = append(s.connections, Connection{
				Trip:      int32(id),
				From:      sts[i].Stop,
				To:        sts[i+1].Stop,
				Departure: sts[i].Departure,
				Arrival:   sts[i+1].Arrival,
			})
		}
	}
	slices.SortStableFunc(s.connections, func(a, b Connection) int {
		if c := cmp.Compare(a.Departure, b.Departure); c != 0 {
			return c
		}
		return cmp.Compare(a.Arrival, b.Arrival)
	})
}

func (s *Schedule) buildFootPaths(fps []FootPath) error {
	paths := make([]FootPath, 0, len(fps))
	for _, fp := range fps {
		if !s.HasStop(fp.From) || !s.HasStop(fp.To) {
			return fmt.Errorf("%w: footpath %d->%d refers to unknown stop", ErrInvalidTables, fp.From, fp.To)
		}
		if fp.Duration < 0 {
			return fmt.Errorf("%w: footpath %d->%d has negative duration", ErrInvalidTables, fp.From, fp.To)
		}
		if fp.From == fp.To {
			continue
		}
		paths = append(paths, fp)
	}
	slices.SortFunc(paths, func(a, b FootPath) int {
		if c := cmp.Compare(a.From, b.From); c != 0 {
			return c
		}
		if c := cmp.Compare(a.To, b.To); c != 0 {
			return c
		}
		return cmp.Compare(a.Duration, b.Duration)
	})
	// 重复的步行换乘保留最短者
	s.footPaths = lo.Filter(paths, func(fp FootPath, i int) bool {
		return i == 0 || paths[i-1].From != fp.From || paths[i-1].To != fp.To
	})
	s.footOffsets = make([]int32, len(s.stops)+1)
	for _, fp := range s.footPaths {
		s.footOffsets[fp.From+1]++
	}
	for i := 1; i < len(s.footOffsets); i++ {
		s.footOffsets[i] += s.footOffsets[i-1]
	}
	return nil
}
