package main

import (
	"net/http"
	"net/http/pprof"

	"git.fiblab.net/sim/meetingpoint/metrics"
)

// 访问/debug/pprof/进入pprof实时分析页面，/metrics为prometheus指标
func startHTTPDebugger(addr string, m *metrics.Collector) {
	pprofHandler := http.NewServeMux()
	pprofHandler.Handle("/debug/pprof/", http.HandlerFunc(pprof.Index))
	pprofHandler.Handle("/debug/pprof/profile", http.HandlerFunc(pprof.Profile))
	pprofHandler.Handle("/metrics", m.Handler())
	server := &http.Server{Addr: addr, Handler: pprofHandler}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf("debug server error: %v", err)
		}
	}()
	log.Infof("pprof and metrics listening at %s", addr)
}
