package main

import (
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"git.fiblab.net/sim/meetingpoint/config"
	"git.fiblab.net/sim/meetingpoint/metrics"
	"github.com/sirupsen/logrus"
	easy "github.com/t-tomalak/logrus-easy-formatter"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

var (
	// 配置信息
	mongoURI        = flag.String("mongo_uri", "", "mongo db uri")
	schedulePathStr = flag.String("schedule", "", "schedule file or database and collection [format: {fspath} or {db}.{col}]")
	gtreePathStr    = flag.String("gtree", "", "gtree cache dir or database and collection, empty means no persistence [format: {dir} or {db}.{col}]")
	configPath      = flag.String("config", "", "engine config yaml (empty means default)")
	grpcEndpoint    = flag.String("listen", "localhost:52101", "connect listening address")
	logLevel        = flag.String("log-level", "info", "log level [debug, info, warn, error, fatal, panic]")

	// 性能测试
	benchmark = flag.Bool("benchmark", false, "benchmark mode")
	pprofAddr = flag.String("pprof", "localhost:52102", "pprof and metrics listening address")

	LOG_LEVELS = map[string]logrus.Level{
		"debug": logrus.DebugLevel,
		"info":  logrus.InfoLevel,
		"warn":  logrus.WarnLevel,
		"error": logrus.ErrorLevel,
		"fatal": logrus.FatalLevel,
		"panic": logrus.PanicLevel,
	}
)

func main() {
	logrus.SetFormatter(&easy.Formatter{
		TimestampFormat: "2006-01-02 15:04:05.0000",
		LogFormat:       "[%module%] [%time%] [%lvl%] %msg%\n",
	})
	flag.Parse()
	if level, ok := LOG_LEVELS[*logLevel]; ok {
		logrus.SetLevel(level)
	} else {
		logrus.Fatalf("invalid log level: %s", *logLevel)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.Fatalf("invalid config: %s", err)
	}
	schedulePath, err := NewPath(*schedulePathStr)
	if err != nil {
		logrus.Fatalf("invalid schedule path: %s", err)
	}
	if schedulePath == nil {
		logrus.Fatalf("schedule path is required")
	}
	gtreePath, err := NewOutputPath(*gtreePathStr)
	if err != nil {
		logrus.Fatalf("invalid gtree path: %s", err)
	}
	collector := metrics.NewCollector()
	// 启动汇合点查询服务
	server := NewMeetingPointServer(
		*mongoURI,
		schedulePath, gtreePath,
		cfg, collector,
	)

	if *pprofAddr != "" {
		// 启动pprof与metrics
		startHTTPDebugger(*pprofAddr, collector)
	}

	if *benchmark {
		// 性能测试
		runBenchmark(server)
		return
	}

	// 启动tcp监听和初始化connect服务端
	mux := http.NewServeMux()
	mux.Handle(server.Handler())

	addr := *grpcEndpoint
	// 使用HTTP/2 w.o. TLS
	s := &http.Server{
		Addr:    addr,
		Handler: h2c.NewHandler(mux, &http2.Server{}),
	}

	// 优雅退出
	// 创建监听退出chan
	signalCh := make(chan os.Signal, 1)
	//监听指定信号 ctrl+c kill
	signal.Notify(signalCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-signalCh
		log.Info("stopping...")
		go func() {
			<-signalCh
			os.Exit(1) // 强制结束
		}()
		// 暂停新的查询后退出connect-go
		server.Suspend()
		s.Close()
		os.Exit(0)
	}()

	log.Infof("server listening at %v", s.Addr)
	if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("failed to serve: %v", err)
	}
	time.Sleep(1 * time.Second) // 延迟等待"优雅退出"
	log.Info("meeting point service closes")
}
