package main

import (
	"context"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"connectrpc.com/connect"
	"git.fiblab.net/sim/meetingpoint/config"
	"git.fiblab.net/sim/meetingpoint/meeting"
	"git.fiblab.net/sim/meetingpoint/metrics"
	"git.fiblab.net/sim/meetingpoint/oracle"
	"git.fiblab.net/sim/meetingpoint/router"
	"git.fiblab.net/sim/meetingpoint/schedule"
	"git.fiblab.net/sim/meetingpoint/schedule/scheduletest"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/structpb"
)

// A->B->C每10分钟一班，D->E只在周日运营
func testTables() schedule.Tables {
	return scheduletest.NewBuilder(5).
		Rename(0, "A").Rename(1, "B").Rename(2, "C").Rename(3, "D").Rename(4, "E").
		Line(scheduletest.Line{Name: "A-B-C", Stops: []int32{0, 1, 2}, Hops: []int32{300, 300}, First: 6 * 3600, Last: 22 * 3600, Headway: 600}).
		Line(scheduletest.Line{Name: "D-E", Stops: []int32{3, 4}, Hops: []int32{600}, First: 12 * 3600, Last: 13 * 3600, Headway: 1800, Weekdays: 0b1000000}).
		Tables()
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Landmarks = 2
	cfg.GTree = config.GTreeConfig{Fanout: 2, LeafSize: 2, NodesPerFile: 2}
	cfg.Server.Verify = true
	return cfg
}

func newTestServer(t testing.TB, treeDir string) *MeetingPointServer {
	return newTestServerWith(t, treeDir, testConfig())
}

func newTestServerWith(t testing.TB, treeDir string, cfg config.Config) *MeetingPointServer {
	dir := t.TempDir()
	file := filepath.Join(dir, "schedule.json")
	require.NoError(t, schedule.SaveFile(file, testTables()))
	schedulePath, err := NewPath(file)
	require.NoError(t, err)
	require.True(t, schedulePath.IsFile())
	treePath, err := NewOutputPath(treeDir)
	require.NoError(t, err)
	return NewMeetingPointServer("", schedulePath, treePath, cfg, metrics.NewCollector())
}

func TestNewPath(t *testing.T) {
	file := filepath.Join(t.TempDir(), "schedule.json")
	require.NoError(t, os.WriteFile(file, []byte("{}"), 0o644))
	p, err := NewPath(file)
	require.NoError(t, err)
	assert.Equal(t, file, p.File)

	p, err = NewPath("transit.schedule")
	require.NoError(t, err)
	assert.Equal(t, "transit", p.DB)
	assert.Equal(t, "schedule", p.Coll)
	assert.Equal(t, "transit.schedule", p.String())

	p, err = NewPath("")
	assert.NoError(t, err)
	assert.Nil(t, p)
	_, err = NewPath("a.b.c")
	assert.Error(t, err)
	_, err = NewPath("missing-file")
	assert.Error(t, err)

	p, err = NewOutputPath("cache")
	require.NoError(t, err)
	assert.True(t, p.IsFile())
	p, err = NewOutputPath(filepath.Join("data", "gtree.v1"))
	require.NoError(t, err)
	assert.True(t, p.IsFile())
	p, err = NewOutputPath("transit.gtree")
	require.NoError(t, err)
	assert.False(t, p.IsFile())
}

func TestTreeCache(t *testing.T) {
	treeDir := filepath.Join(t.TempDir(), "gtree")
	built := newTestServer(t, treeDir)
	_, err := os.Stat(filepath.Join(treeDir, "gtree.json"))
	require.NoError(t, err)
	loaded := newTestServer(t, treeDir)
	assert.Equal(t, built.router.Tree().NodeCount(), loaded.router.Tree().NodeCount())
	for a := int32(0); a < 5; a++ {
		for b := int32(0); b < 5; b++ {
			assert.Equal(t, built.router.Tree().MinimalDuration(a, b), loaded.router.Tree().MinimalDuration(a, b))
		}
	}
	assert.Equal(t, 5.0, testutil.ToFloat64(loaded.metrics.Stops))
}

// 已保存的G-Tree参数不一致或不完整时启动失败，不覆盖已保存的数据
func TestTreeCacheMismatch(t *testing.T) {
	treeDir := filepath.Join(t.TempDir(), "gtree")
	newTestServer(t, treeDir)
	header, err := os.ReadFile(filepath.Join(treeDir, oracle.GTREE_HEADER))
	require.NoError(t, err)
	parts, err := filepath.Glob(filepath.Join(treeDir, "gtree-*.json"))
	require.NoError(t, err)

	cfg := testConfig()
	cfg.GTree.Fanout = 3
	assert.Panics(t, func() { newTestServerWith(t, treeDir, cfg) })

	s, err := schedule.New(testTables())
	require.NoError(t, err)
	r, err := router.New(context.Background(), s, cfg.RouterOptions())
	require.NoError(t, err)
	treePath, err := NewOutputPath(treeDir)
	require.NoError(t, err)
	err = loadTree(context.Background(), r, treePath, cfg.GTree.NodesPerFile, nil)
	assert.ErrorIs(t, err, oracle.ErrParameterMismatch)
	assert.Nil(t, r.Tree())

	after, err := os.ReadFile(filepath.Join(treeDir, oracle.GTREE_HEADER))
	require.NoError(t, err)
	assert.Equal(t, header, after)
	afterParts, err := filepath.Glob(filepath.Join(treeDir, "gtree-*.json"))
	require.NoError(t, err)
	assert.Equal(t, parts, afterParts)

	// 分片缺失
	require.NoError(t, os.Remove(parts[len(parts)-1]))
	r, err = router.New(context.Background(), s, testConfig().RouterOptions())
	require.NoError(t, err)
	err = loadTree(context.Background(), r, treePath, 2, nil)
	assert.ErrorIs(t, err, oracle.ErrMalformedTree)
	assert.Nil(t, r.Tree())
}

func query(t *testing.T, client *connect.Client[structpb.Struct, structpb.Struct], in map[string]any) (*structpb.Struct, error) {
	msg, err := structpb.NewStruct(in)
	require.NoError(t, err)
	res, err := client.CallUnary(context.Background(), connect.NewRequest(msg))
	if err != nil {
		return nil, err
	}
	return res.Msg, nil
}

func TestQuery(t *testing.T) {
	server := newTestServer(t, "")
	mux := http.NewServeMux()
	mux.Handle(server.Handler())
	srv := httptest.NewServer(mux)
	defer srv.Close()
	client := connect.NewClient[structpb.Struct, structpb.Struct](srv.Client(), srv.URL+QUERY_PROCEDURE)

	for _, alg := range meeting.ALGORITHMS {
		out, err := query(t, client, map[string]any{
			"sources":   []any{"A", "B", 2},
			"time":      "08:00",
			"weekday":   "mon",
			"algorithm": alg.String(),
		})
		require.NoError(t, err, alg)
		minSum := out.Fields["min_sum"].GetStructValue()
		require.NotNil(t, minSum, alg)
		assert.Equal(t, "C", minSum.Fields["stop_name"].GetStringValue())
		assert.Equal(t, 1200.0, minSum.Fields["duration"].GetNumberValue())
		assert.Equal(t, "08:10:00", minSum.Fields["arrival"].GetStringValue())
		minMax := out.Fields["min_max"].GetStructValue()
		require.NotNil(t, minMax)
		assert.Equal(t, 600.0, minMax.Fields["duration"].GetNumberValue())
	}

	// 没有可行汇合点
	out, err := query(t, client, map[string]any{"sources": []any{"A", "D"}, "time": 8 * 3600, "weekday": 0})
	require.NoError(t, err)
	assert.NotContains(t, out.Fields, "min_sum")
	assert.NotContains(t, out.Fields, "min_max")
	assert.Contains(t, out.Fields, "query_time_ms")

	for _, in := range []map[string]any{
		{"sources": []any{"A"}, "time": "08:00"},
		{"sources": []any{"A", "Z"}, "time": "08:00"},
		{"sources": []any{"A", 1.5}, "time": "08:00"},
		{"sources": "A", "time": "08:00"},
		{"sources": []any{"A", "B"}},
		{"sources": []any{"A", "B"}, "time": "8h"},
		{"sources": []any{"A", "B"}, "time": "24:00"},
		{"sources": []any{"A", "B"}, "time": "08:00", "weekday": 9},
		{"sources": []any{"A", "B"}, "time": "08:00", "weekday": 2.7},
		{"sources": []any{"A", "B"}, "time": "08:00", "weekday": -1},
		{"sources": []any{"A", "B"}, "time": 3600.5},
		{"sources": []any{"A", "B"}, "time": "08:00", "weekday": "someday"},
		{"sources": []any{"A", "B"}, "time": "08:00", "algorithm": "dijkstra"},
	} {
		_, err := query(t, client, in)
		require.Error(t, err, in)
		assert.Equal(t, connect.CodeInvalidArgument, connect.CodeOf(err), in)
	}
	assert.Equal(t, 1.0, testutil.ToFloat64(server.metrics.Queries.WithLabelValues("raptor-pq", metrics.OUTCOME_EMPTY)))
}

func TestQueryNaN(t *testing.T) {
	server := newTestServer(t, "")
	for _, in := range []map[string]any{
		{"sources": []any{"A", "B"}, "time": math.NaN()},
		{"sources": []any{"A", "B"}, "time": "08:00", "weekday": math.NaN()},
		{"sources": []any{"A", "B"}, "time": math.Inf(1)},
	} {
		msg, err := structpb.NewStruct(in)
		require.NoError(t, err)
		_, err = server.Query(context.Background(), connect.NewRequest(msg))
		require.Error(t, err, in)
		assert.Equal(t, connect.CodeInvalidArgument, connect.CodeOf(err), in)
	}
}

func TestSuspendResume(t *testing.T) {
	server := newTestServer(t, "")
	msg, err := structpb.NewStruct(map[string]any{"sources": []any{0, 1}, "time": "08:00"})
	require.NoError(t, err)
	server.Suspend()
	done := make(chan error)
	go func() {
		_, err := server.Query(context.Background(), connect.NewRequest(msg))
		done <- err
	}()
	server.Resume()
	assert.NoError(t, <-done)
}

func FuzzServer(f *testing.F) {
	server := newTestServer(f, "")
	f.Add(uint8(0), uint8(1), uint32(8*3600), uint8(0), uint8(0))
	f.Add(uint8(3), uint8(4), uint32(11*3600), uint8(6), uint8(4))

	// 构造随机请求
	f.Fuzz(func(t *testing.T, a uint8, b uint8, tm uint32, weekday uint8, alg uint8) {
		msg, err := structpb.NewStruct(map[string]any{
			"sources":   []any{int(a % 6), int(b % 6)},
			"time":      int(tm % 90000),
			"weekday":   int(weekday % 8),
			"algorithm": meeting.Algorithm(int(alg) % len(meeting.ALGORITHMS)).String(),
		})
		require.NoError(t, err)
		res, err := server.Query(context.Background(), connect.NewRequest(msg))
		// 有且只有一个是nil
		assert.True(t, (res == nil) != (err == nil))
		if err != nil {
			assert.Equal(t, connect.CodeInvalidArgument, connect.CodeOf(err))
		}
	})
}
