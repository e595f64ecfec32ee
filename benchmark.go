package main

import (
	"context"
	"flag"
	"math/rand"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"connectrpc.com/connect"
	"git.fiblab.net/sim/meetingpoint/meeting"
	"git.fiblab.net/sim/meetingpoint/router/algo"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
	"google.golang.org/protobuf/types/known/structpb"
)

var (
	benchmarkCount      = flag.Int("benchmark.count", 1000, "the random query count for benchmark")
	benchmarkSources    = flag.Int("benchmark.sources", 3, "the source stop count of each query")
	benchmarkAlgorithms = flag.String("benchmark.algorithms", "all", "comma separated algorithms for benchmark, or all")
	benchmarkSeed       = flag.Int64("benchmark.seed", 0, "the seed for benchmark")
	benchmarkCPU        = flag.Int("benchmark.cpu", 1, "the cpu count for benchmark")
)

func benchmarkRequests(stops int, count int, sources int, seed int64) []*connect.Request[structpb.Struct] {
	e := rand.New(rand.NewSource(seed))
	reqs := make([]*connect.Request[structpb.Struct], count)
	for i := range reqs {
		ids := lo.Times(sources, func(int) any { return e.Intn(stops) })
		msg, err := structpb.NewStruct(map[string]any{
			"sources": ids,
			"time":    algo.FormatClock(int32(6*3600 + e.Intn(14*3600))),
			"weekday": e.Intn(algo.WEEKDAYS),
		})
		if err != nil {
			log.Panicf("failed to build benchmark request: %v", err)
		}
		reqs[i] = connect.NewRequest(msg)
	}
	return reqs
}

func benchmarkAlgorithmList(s string) []meeting.Algorithm {
	if s == "all" {
		return meeting.ALGORITHMS
	}
	var out []meeting.Algorithm
	for _, name := range strings.Split(s, ",") {
		a, err := meeting.ParseAlgorithm(name)
		if err != nil {
			log.Fatalf("invalid benchmark algorithm: %v", err)
		}
		out = append(out, a)
	}
	return out
}

// 各算法依次处理同一组随机请求，记录耗时并比较目标值
func runBenchmark(server *MeetingPointServer) {
	log.Logger.SetLevel(logrus.WarnLevel)
	reqs := benchmarkRequests(server.router.Schedule().StopCount(), *benchmarkCount, *benchmarkSources, *benchmarkSeed)
	runtime.GOMAXPROCS(max(*benchmarkCPU, 1))

	var reference []*structpb.Struct
	for _, alg := range benchmarkAlgorithmList(*benchmarkAlgorithms) {
		for _, req := range reqs {
			req.Msg.Fields["algorithm"] = structpb.NewStringValue(alg.String())
		}
		results := make([]*structpb.Struct, len(reqs))
		var success atomic.Int32
		run := func(i int) {
			res, err := server.Query(context.Background(), reqs[i])
			if err != nil {
				log.Error("benchmark failed, err:", err)
				return
			}
			results[i] = res.Msg
			if _, ok := res.Msg.Fields["min_sum"]; ok {
				success.Add(1)
			}
		}
		start := time.Now()
		if *benchmarkCPU <= 1 {
			for i := range reqs {
				run(i)
			}
		} else {
			var wg sync.WaitGroup
			jobs := make(chan int)
			for c := 0; c < *benchmarkCPU; c++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					for i := range jobs {
						run(i)
					}
				}()
			}
			for i := range reqs {
				jobs <- i
			}
			close(jobs)
			wg.Wait()
		}
		timeCost := time.Since(start) * time.Duration(max(*benchmarkCPU, 1))
		mismatch := 0
		if reference == nil {
			reference = results
		} else {
			for i := range results {
				if durationOf(results[i], "min_sum") != durationOf(reference[i], "min_sum") ||
					durationOf(results[i], "min_max") != durationOf(reference[i], "min_max") {
					mismatch++
				}
			}
		}
		log.Warn(
			"benchmark finished", "\n",
			"algorithm:", alg, "\n",
			"count:", len(reqs), "\n",
			"time:", timeCost, "\n",
			"avg:", timeCost/time.Duration(max(len(reqs), 1)), "\n",
			"success:", success.Load(), "\n",
			"mismatch:", mismatch, "\n",
		)
	}
}

func durationOf(res *structpb.Struct, objective string) float64 {
	if res == nil {
		return -1
	}
	w := res.Fields[objective].GetStructValue()
	if w == nil {
		return -1
	}
	return w.Fields["duration"].GetNumberValue()
}
