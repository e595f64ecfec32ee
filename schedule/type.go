package schedule

import (
	"errors"

	"github.com/paulmach/orb"
)

var (
	// 错误：输入表不合法
	ErrInvalidTables = errors.New("invalid timetable")
	// 错误：站点不存在
	ErrUnknownStop = errors.New("unknown stop")
)

type Stop struct {
	ID   int32   `json:"id" bson:"id"`
	Name string  `json:"name" bson:"name"`
	Lat  float64 `json:"lat" bson:"lat"`
	Lon  float64 `json:"lon" bson:"lon"`
}

func (s Stop) Point() orb.Point {
	return orb.Point{s.Lon, s.Lat}
}

type Route struct {
	ID   int32  `json:"id" bson:"id"`
	Name string `json:"name" bson:"name"`
	// 导入时的线路id，超车班次被拆分到多条内部线路
	Source int32 `json:"source" bson:"source"`
}

type Trip struct {
	ID    int32 `json:"id" bson:"id"`
	Route int32 `json:"route" bson:"route"`
	// 运营星期掩码，bit0为周一
	Weekdays uint8 `json:"weekdays" bson:"weekdays"`
}

func (t Trip) RunsOn(weekday int) bool {
	return t.Weekdays&(1<<weekday) != 0
}

// 时刻为相对服务日零点的秒数，可以超过一天
type StopTime struct {
	Trip      int32 `json:"trip" bson:"trip"`
	Stop      int32 `json:"stop" bson:"stop"`
	Seq       int32 `json:"seq" bson:"seq"`
	Arrival   int32 `json:"arrival" bson:"arrival"`
	Departure int32 `json:"departure" bson:"departure"`
}

// 班次在相邻两站之间的一段
type Connection struct {
	Trip      int32
	From      int32
	To        int32
	Departure int32
	Arrival   int32
}

type FootPath struct {
	From     int32 `json:"from" bson:"from"`
	To       int32 `json:"to" bson:"to"`
	Duration int32 `json:"duration" bson:"duration"`
}

// 站点在线路中的位置
type RouteSequencePair struct {
	Route int32
	Index int32
}

// 导入的原始表，各表id需与下标一致
type Tables struct {
	Stops     []Stop     `json:"stops"`
	Routes    []Route    `json:"routes"`
	Trips     []Trip     `json:"trips"`
	StopTimes []StopTime `json:"stop_times"`
	FootPaths []FootPath `json:"footpaths"`
}
