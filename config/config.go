package config

import (
	"fmt"
	"os"

	"git.fiblab.net/sim/meetingpoint/meeting"
	"git.fiblab.net/sim/meetingpoint/oracle"
	"git.fiblab.net/sim/meetingpoint/router"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type GTreeConfig struct {
	// 0为不构建G-Tree
	Fanout   int `yaml:"fanout" validate:"omitempty,gte=2"`
	LeafSize int `yaml:"leaf_size" validate:"gte=0"`
	// 导出文件时每个分片的节点数
	NodesPerFile int `yaml:"nodes_per_file" validate:"gte=0"`
}

type ServerConfig struct {
	// 同时处理的查询数
	MaxInflight int `yaml:"max_inflight" validate:"gte=1"`
	// 每个查询的超时，毫秒，0为不限
	TimeoutMS int `yaml:"timeout_ms" validate:"gte=0"`
	// 返回结果前用单终点搜索复核
	Verify bool `yaml:"verify"`
}

// 查询引擎配置
type Config struct {
	Landmarks int         `yaml:"landmarks" validate:"gte=0,lte=64"`
	GTree     GTreeConfig `yaml:"gtree"`
	// 预计算与查询的并发数，0为不限
	Workers   int          `yaml:"workers" validate:"gte=0"`
	Objective string       `yaml:"objective" validate:"oneof=both min-sum min-max"`
	Algorithm string       `yaml:"algorithm" validate:"required"`
	Server    ServerConfig `yaml:"server"`
}

func Default() Config {
	return Config{
		Landmarks: 8,
		GTree:     GTreeConfig{Fanout: 4, LeafSize: 64, NodesPerFile: oracle.DEFAULT_PER_FILE},
		Objective: router.OBJECTIVE_BOTH.String(),
		Algorithm: meeting.ALGORITHM_RAPTOR_PQ.String(),
		Server:    ServerConfig{MaxInflight: 16, TimeoutMS: 30000},
	}
}

// 读取YAML配置，未出现的字段取默认值；path为空时返回默认配置
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.GTree.Fanout > 0 && c.GTree.LeafSize < 1 {
		return fmt.Errorf("invalid config: gtree leaf_size must be positive, got %d", c.GTree.LeafSize)
	}
	if _, err := meeting.ParseAlgorithm(c.Algorithm); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func (c Config) RouterOptions() router.Options {
	return router.Options{
		Landmarks: c.Landmarks,
		GTree:     oracle.GTreeOptions{Fanout: c.GTree.Fanout, LeafSize: c.GTree.LeafSize},
		Workers:   c.Workers,
	}
}

func (c Config) ProcessorOptions() meeting.Options {
	o, _ := router.ParseObjective(c.Objective)
	return meeting.Options{Objective: o, Workers: c.Workers}
}

func (c Config) DefaultAlgorithm() meeting.Algorithm {
	a, _ := meeting.ParseAlgorithm(c.Algorithm)
	return a
}
