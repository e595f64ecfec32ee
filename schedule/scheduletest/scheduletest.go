// Package scheduletest 构造测试用的时刻表
package scheduletest

import (
	"fmt"
	"math/rand"

	"git.fiblab.net/sim/meetingpoint/router/algo"
	"git.fiblab.net/sim/meetingpoint/schedule"
)

// 按固定间隔发车的线路
type Line struct {
	Name  string
	Stops []int32
	// 相邻两站的行驶时间
	Hops []int32
	// 每站停留时间
	Dwell int32
	// 首末班的首站发车时刻及发车间隔
	First, Last, Headway int32
	// 为0时全周运营
	Weekdays uint8
}

type Builder struct {
	t schedule.Tables
}

// 创建n个站点，站点位于网格上，名称为S0、S1...
func NewBuilder(n int) *Builder {
	b := &Builder{}
	for i := 0; i < n; i++ {
		b.t.Stops = append(b.t.Stops, schedule.Stop{
			ID:   int32(i),
			Name: fmt.Sprintf("S%d", i),
			Lat:  39.9 + float64(i/10)*0.01,
			Lon:  116.3 + float64(i%10)*0.01,
		})
	}
	return b
}

func (b *Builder) Rename(stop int32, name string) *Builder {
	b.t.Stops[stop].Name = name
	return b
}

func (b *Builder) route(name string) int32 {
	id := int32(len(b.t.Routes))
	b.t.Routes = append(b.t.Routes, schedule.Route{ID: id, Name: name, Source: id})
	return id
}

// 加入一个班次，times为各站的(到站, 离站)时刻
func (b *Builder) trip(route int32, weekdays uint8, stops []int32, times [][2]int32) {
	id := int32(len(b.t.Trips))
	if weekdays == 0 {
		weekdays = algo.ALL_WEEKDAYS
	}
	b.t.Trips = append(b.t.Trips, schedule.Trip{ID: id, Route: route, Weekdays: weekdays})
	for i, stop := range stops {
		b.t.StopTimes = append(b.t.StopTimes, schedule.StopTime{
			Trip:      id,
			Stop:      stop,
			Seq:       int32(i + 1),
			Arrival:   times[i][0],
			Departure: times[i][1],
		})
	}
}

func (b *Builder) Line(l Line) *Builder {
	route := b.route(l.Name)
	for dep := l.First; dep <= l.Last; dep += l.Headway {
		times := make([][2]int32, len(l.Stops))
		t := dep
		for i := range l.Stops {
			if i > 0 {
				t += l.Hops[i-1]
				times[i][0] = t
				t += l.Dwell
			} else {
				times[i][0] = t
			}
			times[i][1] = t
		}
		b.trip(route, l.Weekdays, l.Stops, times)
		if l.Headway <= 0 {
			break
		}
	}
	return b
}

// 加入一条只有一个班次的线路，times为各站的(到站, 离站)时刻
func (b *Builder) Trip(name string, weekdays uint8, stops []int32, times [][2]int32) *Builder {
	b.trip(b.route(name), weekdays, stops, times)
	return b
}

// 在已有线路上追加一个班次
func (b *Builder) TripOn(route int32, weekdays uint8, stops []int32, times [][2]int32) *Builder {
	b.trip(route, weekdays, stops, times)
	return b
}

func (b *Builder) FootPath(from, to, duration int32, bidirectional bool) *Builder {
	b.t.FootPaths = append(b.t.FootPaths, schedule.FootPath{From: from, To: to, Duration: duration})
	if bidirectional {
		b.t.FootPaths = append(b.t.FootPaths, schedule.FootPath{From: to, To: from, Duration: duration})
	}
	return b
}

func (b *Builder) Tables() schedule.Tables {
	return b.t
}

func (b *Builder) Build() (*schedule.Schedule, error) {
	return schedule.New(b.t)
}

// 随机时刻表：部分线路有快车超车、跨午夜的班次，部分站点有步行换乘
func Random(rng *rand.Rand, stops, lines int) schedule.Tables {
	b := NewBuilder(stops)
	for i := 0; i < lines; i++ {
		n := 2 + rng.Intn(4)
		if n > stops {
			n = stops
		}
		seq := make([]int32, 0, n)
		for _, p := range rng.Perm(stops)[:n] {
			seq = append(seq, int32(p))
		}
		hops := make([]int32, n-1)
		for j := range hops {
			hops[j] = 60 + int32(rng.Intn(900))
		}
		first := int32(rng.Intn(algo.DAY))
		l := Line{
			Name:     fmt.Sprintf("L%d", i),
			Stops:    seq,
			Hops:     hops,
			Dwell:    int32(rng.Intn(3)) * 30,
			First:    first,
			Last:     first + int32(rng.Intn(6*3600)),
			Headway:  300 + int32(rng.Intn(1800)),
			Weekdays: uint8(1 + rng.Intn(int(algo.ALL_WEEKDAYS))),
		}
		b.Line(l)
		if rng.Intn(3) == 0 {
			// 快车：在同一线路上超过前一个班次
			route := int32(len(b.t.Routes) - 1)
			times := make([][2]int32, n)
			t := first + l.Headway/2
			for j := range seq {
				if j > 0 {
					t += hops[j-1] / 3
				}
				times[j] = [2]int32{t, t}
			}
			b.TripOn(route, l.Weekdays, seq, times)
		}
	}
	for i := 0; i < stops/3; i++ {
		from, to := int32(rng.Intn(stops)), int32(rng.Intn(stops))
		b.FootPath(from, to, 60+int32(rng.Intn(600)), rng.Intn(2) == 0)
	}
	return b.Tables()
}
