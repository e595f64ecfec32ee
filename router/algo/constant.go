package algo

import (
	"errors"
	"math"
)

const (
	// 不可达
	INF = math.MaxInt32
	// 没有可乘坐的班次
	NO_TRIP = -1

	// 一天的秒数
	DAY = 86400
	// 一周的天数
	WEEKDAYS = 7
	// 全周运营的掩码
	ALL_WEEKDAYS uint8 = 1<<WEEKDAYS - 1

	// 查询时刻之后搜索的天数
	MAX_DAYS = 2
	// 最早的服务日，前一天发出的班次可能跨过午夜
	FIRST_SERVICE_DAY = -1
	// 服务日数量
	SERVICE_DAYS = MAX_DAYS - FIRST_SERVICE_DAY

	// RAPTOR轮数上限
	MAX_ROUNDS = 32

	// 搜索方向
	FORWARD  = 1
	BACKWARD = 2
)

var (
	// 错误：时刻格式错误
	ErrInvalidClock = errors.New("invalid clock, expect HH:MM or HH:MM:SS")
	// 错误：星期取值错误
	ErrInvalidWeekday = errors.New("invalid weekday, expect 0 (monday) to 6 (sunday)")
)
