package algo_test

import (
	"testing"

	"git.fiblab.net/sim/meetingpoint/router/algo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClock(t *testing.T) {
	v, err := algo.ParseClock("08:00")
	require.NoError(t, err)
	assert.Equal(t, int32(8*3600), v)

	v, err = algo.ParseClock("25:10:05")
	require.NoError(t, err)
	assert.Equal(t, int32(25*3600+10*60+5), v)
	assert.Equal(t, "01:10:05+1", algo.FormatClock(v))
	assert.Equal(t, "23:00:00-1", algo.FormatClock(-3600))

	for _, s := range []string{"", "8", "08:61", "a:b:c", "1:2:3:4"} {
		_, err := algo.ParseClock(s)
		assert.ErrorIs(t, err, algo.ErrInvalidClock, s)
	}
}

func TestWeekday(t *testing.T) {
	assert.Equal(t, 6, algo.WeekdayAt(0, -1))
	assert.Equal(t, 1, algo.WeekdayAt(6, 2))

	// 周一查询：周日、周一、周二
	assert.Equal(t, uint8(0b1000011), algo.HorizonWeekdays(0))

	w, err := algo.ParseWeekday("Sat")
	require.NoError(t, err)
	assert.Equal(t, 5, w)
	w, err = algo.ParseWeekday("3")
	require.NoError(t, err)
	assert.Equal(t, 3, w)
	_, err = algo.ParseWeekday("7")
	assert.ErrorIs(t, err, algo.ErrInvalidWeekday)
	assert.Equal(t, "thursday", algo.WeekdayName(3))
}
