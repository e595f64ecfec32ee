package meeting

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrTooFewSources    = errors.New("meeting point query needs at least 2 sources")
	ErrUnknownStop      = errors.New("unknown stop")
	ErrInvalidWeekday   = errors.New("weekday out of range")
	ErrInvalidTime      = errors.New("source time out of range")
	ErrUnknownAlgorithm = errors.New("unknown algorithm")
	ErrVerifyFailed     = errors.New("meeting point verification failed")
)

// 多出发点汇合查询
type Query struct {
	Sources []int32
	// 出发时刻，当天0点起的秒数
	Time    int32
	Weekday int
}

// 某一目标下的最优汇合点
type Winner struct {
	Stop     int32
	StopName string
	// 最后一个出发点到达的时刻
	Arrival int32
	// 目标值：总时长或最长时长
	Duration int32
	// 各出发点中最多的换乘次数
	Transfers int
}

type Result struct {
	// 为nil表示没有可行的汇合点或未计算该目标
	MinSum    *Winner
	MinMax    *Winner
	QueryTime time.Duration
}

func (r *Result) Empty() bool {
	return r.MinSum == nil && r.MinMax == nil
}

type Algorithm int

const (
	ALGORITHM_RAPTOR Algorithm = iota
	ALGORITHM_RAPTOR_BOUND
	ALGORITHM_RAPTOR_PQ
	ALGORITHM_RAPTOR_PQ_PARALLEL
	ALGORITHM_CSA
)

var algorithmNames = map[Algorithm]string{
	ALGORITHM_RAPTOR:             "raptor",
	ALGORITHM_RAPTOR_BOUND:       "raptor-bound",
	ALGORITHM_RAPTOR_PQ:          "raptor-pq",
	ALGORITHM_RAPTOR_PQ_PARALLEL: "raptor-pq-parallel",
	ALGORITHM_CSA:                "csa",
}

var ALGORITHMS = []Algorithm{
	ALGORITHM_RAPTOR,
	ALGORITHM_RAPTOR_BOUND,
	ALGORITHM_RAPTOR_PQ,
	ALGORITHM_RAPTOR_PQ_PARALLEL,
	ALGORITHM_CSA,
}

func (a Algorithm) String() string {
	if name, ok := algorithmNames[a]; ok {
		return name
	}
	return fmt.Sprintf("algorithm(%d)", int(a))
}

// 不区分大小写，"_"与"-"等价
func ParseAlgorithm(name string) (Algorithm, error) {
	name = strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), "_", "-")
	for a, n := range algorithmNames {
		if n == name {
			return a, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, name)
}
