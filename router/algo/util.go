package algo

import (
	"fmt"
	"strconv"
	"strings"
)

var weekdayNames = []string{"monday", "tuesday", "wednesday", "thursday", "friday", "saturday", "sunday"}

// 查询日之后第day天对应的星期
func WeekdayAt(weekday, day int) int {
	return ((weekday+day)%WEEKDAYS + WEEKDAYS) % WEEKDAYS
}

// 查询窗口内可能运营的星期掩码：前一天到第MAX_DAYS-1天
func HorizonWeekdays(weekday int) uint8 {
	var mask uint8
	for d := FIRST_SERVICE_DAY; d < MAX_DAYS; d++ {
		mask |= 1 << WeekdayAt(weekday, d)
	}
	return mask
}

// 解析"HH:MM"或"HH:MM:SS"，小时允许超过24
func ParseClock(s string) (int32, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidClock, s)
	}
	var total int64
	for i, p := range parts {
		v, err := strconv.ParseInt(p, 10, 32)
		if err != nil || v < 0 || (i > 0 && v >= 60) {
			return 0, fmt.Errorf("%w: %q", ErrInvalidClock, s)
		}
		total = total*60 + v
	}
	if len(parts) == 2 {
		total *= 60
	}
	if total >= INF {
		return 0, fmt.Errorf("%w: %q", ErrInvalidClock, s)
	}
	return int32(total), nil
}

// 格式化为"HH:MM:SS"，跨天的时刻追加"+N"
func FormatClock(t int32) string {
	if t >= INF {
		return "--:--:--"
	}
	day := t / DAY
	if t < 0 {
		day = (t - DAY + 1) / DAY
	}
	rest := t - day*DAY
	s := fmt.Sprintf("%02d:%02d:%02d", rest/3600, rest/60%60, rest%60)
	if day != 0 {
		s += fmt.Sprintf("%+d", day)
	}
	return s
}

// 解析星期：0-6或英文名称（不区分大小写，可用前三个字母）
func ParseWeekday(s string) (int, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if v, err := strconv.Atoi(s); err == nil {
		if v < 0 || v >= WEEKDAYS {
			return 0, fmt.Errorf("%w: %d", ErrInvalidWeekday, v)
		}
		return v, nil
	}
	if len(s) >= 3 {
		for i, name := range weekdayNames {
			if strings.HasPrefix(name, s) {
				return i, nil
			}
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidWeekday, s)
}

func WeekdayName(w int) string {
	if w < 0 || w >= WEEKDAYS {
		return "unknown"
	}
	return weekdayNames[w]
}

// 饱和加法，结果不超过INF
func AddSat(a, b int32) int32 {
	if a >= INF || b >= INF {
		return INF
	}
	s := int64(a) + int64(b)
	if s >= INF {
		return INF
	}
	return int32(s)
}
