package main

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"connectrpc.com/connect"
	"git.fiblab.net/sim/meetingpoint/config"
	"git.fiblab.net/sim/meetingpoint/meeting"
	"git.fiblab.net/sim/meetingpoint/metrics"
	"git.fiblab.net/sim/meetingpoint/oracle"
	"git.fiblab.net/sim/meetingpoint/router"
	"git.fiblab.net/sim/meetingpoint/router/algo"
	"git.fiblab.net/sim/meetingpoint/schedule"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"google.golang.org/protobuf/types/known/structpb"
)

const QUERY_PROCEDURE = "/meeting.v1.MeetingPointService/Query"

type MeetingPointServer struct {
	router    *router.Router
	processor *meeting.Processor
	metrics   *metrics.Collector
	cfg       config.Config

	// 限制同时处理的查询数
	sem chan struct{}
	// 接口开启true或关闭false
	ok bool
	// 条件变量
	cond *sync.Cond
}

func NewMeetingPointServer(
	mongoURI string,
	schedulePath, treePath *Path,
	cfg config.Config,
	m *metrics.Collector,
) *MeetingPointServer {
	ctx := context.Background()
	var client *mongo.Client
	lazyClient := func() *mongo.Client {
		if client == nil {
			var err error
			client, err = mongo.Connect(ctx, options.Client().ApplyURI(mongoURI))
			if err != nil {
				log.Panicf("failed to connect to mongo %s: %v", mongoURI, err)
			}
		}
		return client
	}
	defer func() {
		if client != nil {
			client.Disconnect(context.Background())
		}
	}()

	start := time.Now()
	var tables schedule.Tables
	var err error
	if schedulePath.IsFile() {
		tables, err = schedule.LoadFile(schedulePath.File)
	} else {
		tables, err = schedule.LoadMongo(ctx, schedulePath.Collection(lazyClient()))
	}
	if err != nil {
		log.Panicf("failed to load schedule from %s: %v", schedulePath, err)
	}
	s, err := schedule.New(tables)
	if err != nil {
		log.Panicf("invalid schedule from %s: %v", schedulePath, err)
	}
	m.BuildTime.WithLabelValues("schedule").Set(time.Since(start).Seconds())
	m.SetSchedule(s)

	start = time.Now()
	r, err := router.New(ctx, s, cfg.RouterOptions())
	if err != nil {
		log.Panicf("failed to build router: %v", err)
	}
	m.BuildTime.WithLabelValues("landmarks").Set(time.Since(start).Seconds())

	if cfg.GTree.Fanout > 0 {
		start = time.Now()
		if err := loadTree(ctx, r, treePath, cfg.GTree.NodesPerFile, lazyClient); err != nil {
			log.Panicf("failed to prepare gtree: %v", err)
		}
		m.BuildTime.WithLabelValues("gtree").Set(time.Since(start).Seconds())
		m.TreeNodes.Set(float64(r.Tree().NodeCount()))
	}
	return newMeetingPointServer(r, cfg, m)
}

// 读取已保存的G-Tree，未保存过时构建并保存；参数不一致或数据损坏时返回错误，不自动重建
func loadTree(ctx context.Context, r *router.Router, treePath *Path, nodesPerFile int, lazyClient func() *mongo.Client) error {
	opts := r.TreeOptions()
	if treePath != nil {
		var t *oracle.GTree
		var err error
		if treePath.IsFile() {
			t, err = oracle.ImportFiles(treePath.File, r.StaticGraph(), opts)
		} else {
			t, err = oracle.LoadMongo(ctx, treePath.Collection(lazyClient()), r.StaticGraph(), opts)
		}
		switch {
		case err == nil:
			r.SetTree(t)
			return nil
		case !errors.Is(err, oracle.ErrTreeNotFound):
			return fmt.Errorf("load gtree from %s: %w", treePath, err)
		}
		log.Infof("no gtree in %s, build it", treePath)
	}
	if err := r.BuildTree(ctx); err != nil {
		return err
	}
	if treePath == nil {
		return nil
	}
	var err error
	if treePath.IsFile() {
		err = r.Tree().ExportFiles(treePath.File, nodesPerFile)
	} else {
		err = r.Tree().StoreMongo(ctx, treePath.Collection(lazyClient()))
	}
	if err != nil {
		log.Errorf("failed to save gtree to %s: %v", treePath, err)
	}
	return nil
}

func newMeetingPointServer(r *router.Router, cfg config.Config, m *metrics.Collector) *MeetingPointServer {
	return &MeetingPointServer{
		router:    r,
		processor: meeting.NewProcessor(r, cfg.ProcessorOptions()),
		metrics:   m,
		cfg:       cfg,
		sem:       make(chan struct{}, max(cfg.Server.MaxInflight, 1)),
		ok:        true, cond: sync.NewCond(&sync.Mutex{})}
}

func (s *MeetingPointServer) Handler() (string, *connect.Handler) {
	return QUERY_PROCEDURE, connect.NewUnaryHandler(QUERY_PROCEDURE, s.Query)
}

func invalidArgument(format string, args ...any) error {
	return connect.NewError(connect.CodeInvalidArgument, fmt.Errorf(format, args...))
}

// v为[0, limit)内的整数，NaN不满足
func integral(v float64, limit float64) bool {
	return v == math.Trunc(v) && v >= 0 && v < limit
}

// 站点可用id或名称
func (s *MeetingPointServer) parseStop(v *structpb.Value) (int32, error) {
	sch := s.router.Schedule()
	switch x := v.GetKind().(type) {
	case *structpb.Value_NumberValue:
		if x.NumberValue != math.Trunc(x.NumberValue) || math.Abs(x.NumberValue) > math.MaxInt32 || !sch.HasStop(int32(x.NumberValue)) {
			return 0, invalidArgument("%w: %v", meeting.ErrUnknownStop, x.NumberValue)
		}
		return int32(x.NumberValue), nil
	case *structpb.Value_StringValue:
		if id, ok := sch.FindStop(x.StringValue); ok {
			return id, nil
		}
		return 0, invalidArgument("%w: %q", meeting.ErrUnknownStop, x.StringValue)
	default:
		return 0, invalidArgument("stop must be an id or a name")
	}
}

// 请求格式：{sources: [..], time: "08:00:00"或秒数, weekday: 0-6或名称, algorithm: "raptor-pq"}
func (s *MeetingPointServer) parseQuery(in *structpb.Struct) (meeting.Query, meeting.Algorithm, error) {
	var q meeting.Query
	fields := in.GetFields()
	sources := fields["sources"].GetListValue()
	if sources == nil {
		return q, 0, invalidArgument("sources must be a list")
	}
	for _, v := range sources.GetValues() {
		stop, err := s.parseStop(v)
		if err != nil {
			return q, 0, err
		}
		q.Sources = append(q.Sources, stop)
	}
	switch x := fields["time"].GetKind().(type) {
	case *structpb.Value_StringValue:
		t, err := algo.ParseClock(x.StringValue)
		if err != nil {
			return q, 0, invalidArgument("%w: %v", meeting.ErrInvalidTime, err)
		}
		q.Time = t
	case *structpb.Value_NumberValue:
		if !integral(x.NumberValue, algo.DAY) {
			return q, 0, invalidArgument("%w: %v", meeting.ErrInvalidTime, x.NumberValue)
		}
		q.Time = int32(x.NumberValue)
	default:
		return q, 0, invalidArgument("%w: time is required", meeting.ErrInvalidTime)
	}
	switch x := fields["weekday"].GetKind().(type) {
	case *structpb.Value_StringValue:
		w, err := algo.ParseWeekday(x.StringValue)
		if err != nil {
			return q, 0, invalidArgument("%w: %v", meeting.ErrInvalidWeekday, err)
		}
		q.Weekday = w
	case *structpb.Value_NumberValue:
		if !integral(x.NumberValue, algo.WEEKDAYS) {
			return q, 0, invalidArgument("%w: %v", meeting.ErrInvalidWeekday, x.NumberValue)
		}
		q.Weekday = int(x.NumberValue)
	case nil:
		// 默认周一
	default:
		return q, 0, invalidArgument("%w: weekday must be a number or a name", meeting.ErrInvalidWeekday)
	}
	alg := s.cfg.DefaultAlgorithm()
	if name := fields["algorithm"].GetStringValue(); name != "" {
		a, err := meeting.ParseAlgorithm(name)
		if err != nil {
			return q, 0, connect.NewError(connect.CodeInvalidArgument, err)
		}
		alg = a
	}
	return q, alg, nil
}

func formatWinner(w *meeting.Winner) map[string]any {
	return map[string]any{
		"stop":      w.Stop,
		"stop_name": w.StopName,
		"arrival":   algo.FormatClock(w.Arrival),
		"duration":  w.Duration,
		"transfers": w.Transfers,
	}
}

// 没有可行汇合点时不包含min_sum与min_max
func formatResult(res *meeting.Result) (*structpb.Struct, error) {
	out := map[string]any{
		"query_time_ms": float64(res.QueryTime.Microseconds()) / 1000,
	}
	if res.MinSum != nil {
		out["min_sum"] = formatWinner(res.MinSum)
	}
	if res.MinMax != nil {
		out["min_max"] = formatWinner(res.MinMax)
	}
	return structpb.NewStruct(out)
}

func (s *MeetingPointServer) Query(
	ctx context.Context,
	req *connect.Request[structpb.Struct],
) (*connect.Response[structpb.Struct], error) {
	// 暂停-恢复机制
	s.cond.L.Lock()
	for !s.ok {
		// 暂停中
		s.cond.Wait()
	}
	s.cond.L.Unlock()

	q, alg, err := s.parseQuery(req.Msg)
	if err != nil {
		s.metrics.Queries.WithLabelValues("unknown", metrics.OUTCOME_INVALID).Inc()
		return nil, err
	}
	select {
	case s.sem <- struct{}{}:
		defer func() { <-s.sem }()
	case <-ctx.Done():
		return nil, connect.NewError(connect.CodeResourceExhausted, ctx.Err())
	}
	if s.cfg.Server.TimeoutMS > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(s.cfg.Server.TimeoutMS)*time.Millisecond)
		defer cancel()
	}
	log.Debugf("search meeting point of %v at %s %s with %v",
		q.Sources, algo.FormatClock(q.Time), algo.WeekdayName(q.Weekday), alg)
	res, err := s.metrics.Process(ctx, s.processor, q, alg)
	if err != nil {
		if metrics.Outcome(res, err) == metrics.OUTCOME_INVALID {
			return nil, connect.NewError(connect.CodeInvalidArgument, err)
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, connect.NewError(connect.CodeDeadlineExceeded, err)
		}
		if errors.Is(err, context.Canceled) {
			return nil, connect.NewError(connect.CodeCanceled, err)
		}
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	if s.cfg.Server.Verify {
		if err := s.processor.Verify(ctx, q, res); err != nil {
			log.Errorf("verify %v query %v: %v", alg, q.Sources, err)
			return nil, connect.NewError(connect.CodeInternal, err)
		}
	}
	out, err := formatResult(res)
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return connect.NewResponse(out), nil
}

// 暂停查询服务
func (s *MeetingPointServer) Suspend() {
	s.cond.L.Lock()
	defer s.cond.L.Unlock()
	s.ok = false
}

// 恢复查询服务
func (s *MeetingPointServer) Resume() {
	s.cond.L.Lock()
	defer s.cond.L.Unlock()
	s.ok = true
	s.cond.Broadcast()
}
