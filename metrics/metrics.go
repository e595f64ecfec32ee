package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"git.fiblab.net/sim/meetingpoint/meeting"
	"git.fiblab.net/sim/meetingpoint/schedule"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	OUTCOME_FOUND   = "found"
	OUTCOME_EMPTY   = "empty"
	OUTCOME_INVALID = "invalid"
	OUTCOME_ERROR   = "error"
)

type Collector struct {
	reg *prometheus.Registry

	Queries       *prometheus.CounterVec // algorithm, outcome
	QueryDuration *prometheus.HistogramVec
	Inflight      prometheus.Gauge

	Stops      prometheus.Gauge
	Routes     prometheus.Gauge
	Trips      prometheus.Gauge
	TreeNodes  prometheus.Gauge
	BuildTime  *prometheus.GaugeVec // stage: schedule|landmarks|gtree
	SourcesPer prometheus.Histogram
}

func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	c := &Collector{
		reg: reg,
		Queries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "meetingpoint_queries_total",
			Help: "Meeting point queries by algorithm and outcome.",
		}, []string{"algorithm", "outcome"}),
		QueryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "meetingpoint_query_duration_seconds",
			Help:    "Wall-clock time of meeting point queries.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 16),
		}, []string{"algorithm"}),
		Inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "meetingpoint_queries_inflight",
			Help: "Queries currently being processed.",
		}),
		Stops: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "meetingpoint_schedule_stops",
			Help: "Number of stops in the loaded schedule.",
		}),
		Routes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "meetingpoint_schedule_routes",
			Help: "Number of FIFO routes in the loaded schedule.",
		}),
		Trips: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "meetingpoint_schedule_trips",
			Help: "Number of trips in the loaded schedule.",
		}),
		TreeNodes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "meetingpoint_gtree_nodes",
			Help: "Number of G-Tree nodes, 0 if no tree is used.",
		}),
		BuildTime: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "meetingpoint_build_seconds",
			Help: "Time spent on each startup stage.",
		}, []string{"stage"}),
		SourcesPer: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "meetingpoint_query_sources",
			Help:    "Number of sources per query.",
			Buckets: prometheus.LinearBuckets(2, 1, 9),
		}),
	}
	reg.MustRegister(
		c.Queries, c.QueryDuration, c.Inflight,
		c.Stops, c.Routes, c.Trips, c.TreeNodes, c.BuildTime, c.SourcesPer,
	)
	return c
}

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{})
}

func (c *Collector) SetSchedule(s *schedule.Schedule) {
	c.Stops.Set(float64(s.StopCount()))
	c.Routes.Set(float64(s.RouteCount()))
	c.Trips.Set(float64(s.TripCount()))
}

func (c *Collector) Registry() *prometheus.Registry { return c.reg }

func Outcome(res *meeting.Result, err error) string {
	switch {
	case err == nil && res != nil && !res.Empty():
		return OUTCOME_FOUND
	case err == nil:
		return OUTCOME_EMPTY
	case errors.Is(err, meeting.ErrTooFewSources), errors.Is(err, meeting.ErrUnknownStop),
		errors.Is(err, meeting.ErrInvalidWeekday), errors.Is(err, meeting.ErrInvalidTime),
		errors.Is(err, meeting.ErrUnknownAlgorithm):
		return OUTCOME_INVALID
	default:
		return OUTCOME_ERROR
	}
}

// 记录一次查询
func (c *Collector) Observe(alg meeting.Algorithm, q meeting.Query, res *meeting.Result, err error, elapsed time.Duration) {
	outcome := Outcome(res, err)
	c.Queries.WithLabelValues(alg.String(), outcome).Inc()
	if outcome == OUTCOME_INVALID {
		return
	}
	c.QueryDuration.WithLabelValues(alg.String()).Observe(elapsed.Seconds())
	c.SourcesPer.Observe(float64(len(q.Sources)))
}

// 包装查询处理，记录并发数、耗时与结果
func (c *Collector) Process(ctx context.Context, p *meeting.Processor, q meeting.Query, alg meeting.Algorithm) (*meeting.Result, error) {
	c.Inflight.Inc()
	defer c.Inflight.Dec()
	start := time.Now()
	res, err := p.Process(ctx, q, alg)
	c.Observe(alg, q, res, err, time.Since(start))
	return res, err
}
