package meeting_test

import (
	"context"
	"math/rand"
	"testing"

	"git.fiblab.net/sim/meetingpoint/meeting"
	"git.fiblab.net/sim/meetingpoint/oracle"
	"git.fiblab.net/sim/meetingpoint/router"
	"git.fiblab.net/sim/meetingpoint/schedule"
	"git.fiblab.net/sim/meetingpoint/schedule/scheduletest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	HOUR   = 3600
	MINUTE = 60
)

// A->B->C每10分钟一班，D->E只在周日运营
func lineSchedule(t testing.TB) *schedule.Schedule {
	s, err := scheduletest.NewBuilder(5).
		Rename(0, "A").Rename(1, "B").Rename(2, "C").Rename(3, "D").Rename(4, "E").
		Line(scheduletest.Line{Name: "A-B-C", Stops: []int32{0, 1, 2}, Hops: []int32{5 * MINUTE, 5 * MINUTE}, First: 6 * HOUR, Last: 22 * HOUR, Headway: 10 * MINUTE}).
		Line(scheduletest.Line{Name: "D-E", Stops: []int32{3, 4}, Hops: []int32{10 * MINUTE}, First: 12 * HOUR, Last: 13 * HOUR, Headway: 30 * MINUTE, Weekdays: 0b1000000}).
		Build()
	require.NoError(t, err)
	return s
}

func newProcessor(t testing.TB, s *schedule.Schedule, objective router.Objective) *meeting.Processor {
	r, err := router.New(context.Background(), s, router.Options{
		Landmarks: 3,
		GTree:     oracle.GTreeOptions{Fanout: 2, LeafSize: 4},
		Workers:   2,
	})
	require.NoError(t, err)
	require.NoError(t, r.BuildTree(context.Background()))
	return meeting.NewProcessor(r, meeting.Options{Objective: objective})
}

func TestMeetingOnLine(t *testing.T) {
	p := newProcessor(t, lineSchedule(t), router.OBJECTIVE_BOTH)
	q := meeting.Query{Sources: []int32{0, 1, 2}, Time: 8 * HOUR, Weekday: 0}
	for _, alg := range meeting.ALGORITHMS {
		res, err := p.Process(context.Background(), q, alg)
		require.NoError(t, err, alg)
		require.False(t, res.Empty(), alg)
		for _, w := range []*meeting.Winner{res.MinSum, res.MinMax} {
			require.NotNil(t, w)
			assert.Equal(t, int32(2), w.Stop, alg)
			assert.Equal(t, "C", w.StopName)
			assert.Equal(t, int32(8*HOUR+10*MINUTE), w.Arrival)
			assert.Equal(t, 0, w.Transfers)
		}
		assert.Equal(t, int32(20*MINUTE), res.MinSum.Duration, alg)
		assert.Equal(t, int32(10*MINUTE), res.MinMax.Duration, alg)
		assert.NoError(t, p.Verify(context.Background(), q, res))
	}
}

func TestMeetingEmpty(t *testing.T) {
	p := newProcessor(t, lineSchedule(t), router.OBJECTIVE_BOTH)
	// D在周一没有车次
	q := meeting.Query{Sources: []int32{0, 3}, Time: 8 * HOUR, Weekday: 0}
	for _, alg := range meeting.ALGORITHMS {
		res, err := p.Process(context.Background(), q, alg)
		require.NoError(t, err, alg)
		assert.True(t, res.Empty(), alg)
		assert.NoError(t, p.Verify(context.Background(), q, res))
	}
	// 周日12:00可以从D到E，仍然与A-B-C不连通
	q = meeting.Query{Sources: []int32{3, 4}, Time: 8 * HOUR, Weekday: 6}
	res, err := p.Process(context.Background(), q, meeting.ALGORITHM_RAPTOR)
	require.NoError(t, err)
	require.NotNil(t, res.MinSum)
	assert.Equal(t, int32(4), res.MinSum.Stop)
	assert.Equal(t, int32(4*HOUR+10*MINUTE), res.MinSum.Duration)
}

func TestInvalidQuery(t *testing.T) {
	p := newProcessor(t, lineSchedule(t), router.OBJECTIVE_BOTH)
	ctx := context.Background()
	_, err := p.Process(ctx, meeting.Query{Sources: []int32{0}, Time: 0}, meeting.ALGORITHM_RAPTOR)
	assert.ErrorIs(t, err, meeting.ErrTooFewSources)
	_, err = p.Process(ctx, meeting.Query{Sources: []int32{0, 9}, Time: 0}, meeting.ALGORITHM_RAPTOR)
	assert.ErrorIs(t, err, meeting.ErrUnknownStop)
	_, err = p.Process(ctx, meeting.Query{Sources: []int32{0, 1}, Weekday: 7}, meeting.ALGORITHM_RAPTOR)
	assert.ErrorIs(t, err, meeting.ErrInvalidWeekday)
	_, err = p.Process(ctx, meeting.Query{Sources: []int32{0, 1}, Time: 24 * HOUR}, meeting.ALGORITHM_RAPTOR)
	assert.ErrorIs(t, err, meeting.ErrInvalidTime)
	_, err = p.Process(ctx, meeting.Query{Sources: []int32{0, 1}}, meeting.Algorithm(42))
	assert.ErrorIs(t, err, meeting.ErrUnknownAlgorithm)
}

func TestParseAlgorithm(t *testing.T) {
	for _, alg := range meeting.ALGORITHMS {
		got, err := meeting.ParseAlgorithm(alg.String())
		require.NoError(t, err)
		assert.Equal(t, alg, got)
	}
	got, err := meeting.ParseAlgorithm(" RAPTOR_PQ_PARALLEL ")
	require.NoError(t, err)
	assert.Equal(t, meeting.ALGORITHM_RAPTOR_PQ_PARALLEL, got)
	_, err = meeting.ParseAlgorithm("dijkstra")
	assert.ErrorIs(t, err, meeting.ErrUnknownAlgorithm)
	assert.Equal(t, "algorithm(42)", meeting.Algorithm(42).String())
}

func randomQuery(rng *rand.Rand, s *schedule.Schedule) meeting.Query {
	n := 2 + rng.Intn(3)
	q := meeting.Query{Time: int32(5*HOUR + rng.Intn(16*HOUR)), Weekday: rng.Intn(7)}
	for i := 0; i < n; i++ {
		q.Sources = append(q.Sources, int32(rng.Intn(s.StopCount())))
	}
	return q
}

func durations(res *meeting.Result) [2]int32 {
	out := [2]int32{-1, -1}
	if res.MinSum != nil {
		out[0] = res.MinSum.Duration
	}
	if res.MinMax != nil {
		out[1] = res.MinMax.Duration
	}
	return out
}

func winners(res *meeting.Result) [2]int32 {
	out := [2]int32{-1, -1}
	if res.MinSum != nil {
		out[0] = res.MinSum.Stop
	}
	if res.MinMax != nil {
		out[1] = res.MinMax.Stop
	}
	return out
}

// 各算法的目标值及汇合站点与CSA一致
func checkAgree(t *testing.T, seed int64, objective router.Objective) {
	rng := rand.New(rand.NewSource(seed))
	s, err := schedule.New(scheduletest.Random(rng, 25, 20))
	require.NoError(t, err)
	p := newProcessor(t, s, objective)
	ctx := context.Background()
	for k := 0; k < 5; k++ {
		q := randomQuery(rng, s)
		want, err := p.Process(ctx, q, meeting.ALGORITHM_CSA)
		require.NoError(t, err)
		require.NoError(t, p.Verify(ctx, q, want))
		for _, alg := range meeting.ALGORITHMS {
			res, err := p.Process(ctx, q, alg)
			require.NoError(t, err)
			assert.Equal(t, durations(want), durations(res), "seed %d query %+v %v", seed, q, alg)
			assert.Equal(t, winners(want), winners(res), "seed %d query %+v %v", seed, q, alg)
			assert.NoError(t, p.Verify(ctx, q, res), "seed %d query %+v %v", seed, q, alg)
		}
	}
}

func TestAlgorithmsAgree(t *testing.T) {
	for seed := int64(1); seed <= 4; seed++ {
		checkAgree(t, seed, router.OBJECTIVE_BOTH)
	}
}

func TestSingleObjective(t *testing.T) {
	for seed := int64(11); seed <= 12; seed++ {
		checkAgree(t, seed, router.OBJECTIVE_MIN_SUM)
		checkAgree(t, seed, router.OBJECTIVE_MIN_MAX)
	}
	p := newProcessor(t, lineSchedule(t), router.OBJECTIVE_MIN_SUM)
	res, err := p.Process(context.Background(), meeting.Query{Sources: []int32{0, 1}, Time: 8 * HOUR}, meeting.ALGORITHM_RAPTOR_PQ)
	require.NoError(t, err)
	assert.NotNil(t, res.MinSum)
	assert.Nil(t, res.MinMax)
}

// A、B分别乘车10分钟到达X或Y，两站目标值相同时取id较小的X
func TestTieLowestStop(t *testing.T) {
	s, err := scheduletest.NewBuilder(4).
		Rename(0, "A").Rename(1, "B").Rename(2, "X").Rename(3, "Y").
		Line(scheduletest.Line{Name: "A-Y", Stops: []int32{0, 3}, Hops: []int32{10 * MINUTE}, First: 6 * HOUR, Last: 22 * HOUR, Headway: 15 * MINUTE}).
		Line(scheduletest.Line{Name: "B-Y", Stops: []int32{1, 3}, Hops: []int32{10 * MINUTE}, First: 6 * HOUR, Last: 22 * HOUR, Headway: 15 * MINUTE}).
		Line(scheduletest.Line{Name: "A-X", Stops: []int32{0, 2}, Hops: []int32{10 * MINUTE}, First: 6 * HOUR, Last: 22 * HOUR, Headway: 15 * MINUTE}).
		Line(scheduletest.Line{Name: "B-X", Stops: []int32{1, 2}, Hops: []int32{10 * MINUTE}, First: 6 * HOUR, Last: 22 * HOUR, Headway: 15 * MINUTE}).
		Build()
	require.NoError(t, err)
	q := meeting.Query{Sources: []int32{0, 1}, Time: 8 * HOUR}
	for _, objective := range []router.Objective{router.OBJECTIVE_BOTH, router.OBJECTIVE_MIN_SUM, router.OBJECTIVE_MIN_MAX} {
		p := newProcessor(t, s, objective)
		for _, alg := range meeting.ALGORITHMS {
			res, err := p.Process(context.Background(), q, alg)
			require.NoError(t, err)
			for _, w := range []*meeting.Winner{res.MinSum, res.MinMax} {
				if w == nil {
					continue
				}
				assert.Equal(t, int32(2), w.Stop, "%v %v", objective, alg)
				assert.Equal(t, "X", w.StopName)
			}
			if objective.HasSum() {
				require.NotNil(t, res.MinSum)
				assert.Equal(t, int32(20*MINUTE), res.MinSum.Duration)
			}
			if objective.HasMax() {
				require.NotNil(t, res.MinMax)
				assert.Equal(t, int32(10*MINUTE), res.MinMax.Duration)
			}
		}
	}
}

func TestCanceled(t *testing.T) {
	p := newProcessor(t, lineSchedule(t), router.OBJECTIVE_BOTH)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.Process(ctx, meeting.Query{Sources: []int32{0, 1}, Time: 8 * HOUR}, meeting.ALGORITHM_CSA)
	assert.ErrorIs(t, err, context.Canceled)
}

// 剪枝下界可采纳时，带剪枝的算法与CSA给出相同的目标值
func FuzzPruningAdmissible(f *testing.F) {
	f.Add(int64(1), uint8(2))
	f.Add(int64(7), uint8(3))
	f.Add(int64(42), uint8(4))
	f.Fuzz(func(t *testing.T, seed int64, sources uint8) {
		rng := rand.New(rand.NewSource(seed))
		s, err := schedule.New(scheduletest.Random(rng, 12, 8))
		require.NoError(t, err)
		p := newProcessor(t, s, router.OBJECTIVE_BOTH)
		q := meeting.Query{Time: int32(rng.Intn(20 * HOUR)), Weekday: rng.Intn(7)}
		for i := 0; i < 2+int(sources%4); i++ {
			q.Sources = append(q.Sources, int32(rng.Intn(s.StopCount())))
		}
		ctx := context.Background()
		want, err := p.Process(ctx, q, meeting.ALGORITHM_CSA)
		require.NoError(t, err)
		for _, alg := range []meeting.Algorithm{meeting.ALGORITHM_RAPTOR_BOUND, meeting.ALGORITHM_RAPTOR_PQ, meeting.ALGORITHM_RAPTOR_PQ_PARALLEL} {
			res, err := p.Process(ctx, q, alg)
			require.NoError(t, err)
			assert.Equal(t, durations(want), durations(res), alg)
		}
	})
}
