// Package config 提供环境变量配置装载
package config

import (
	"time"

	"github.com/caarlos0/env/v11"

	"esrun/errors"
)

// Runtime 运行时配置
//
// 覆盖订阅消费、投影写入与快照存储三个面的可调参数，
// 全部带可直接起跑的默认值。
type Runtime struct {
	// Redis 连接
	RedisAddrs    []string `env:"ESRUN_REDIS_ADDRS" envDefault:"localhost:6379"`
	RedisPassword string   `env:"ESRUN_REDIS_PASSWORD"`
	RedisDB       int      `env:"ESRUN_REDIS_DB" envDefault:"0"`

	// 订阅消费
	CheckpointBatchSize int           `env:"ESRUN_CHECKPOINT_BATCH_SIZE" envDefault:"10"`
	MaxRetries          int           `env:"ESRUN_MAX_RETRIES" envDefault:"5"`
	RetryInitialDelay   time.Duration `env:"ESRUN_RETRY_INITIAL_DELAY" envDefault:"100ms"`
	RetryMaxDelay       time.Duration `env:"ESRUN_RETRY_MAX_DELAY" envDefault:"30s"`

	// 投影写入
	KeyPrefix    string        `env:"ESRUN_KEY_PREFIX"`
	DedupTTL     time.Duration `env:"ESRUN_DEDUP_TTL" envDefault:"48h"`
	HintTTL      time.Duration `env:"ESRUN_HINT_TTL" envDefault:"168h"`
	DeleteExpiry time.Duration `env:"ESRUN_DELETE_EXPIRY" envDefault:"720h"`

	// 快照
	SnapshotEveryEvents int           `env:"ESRUN_SNAPSHOT_EVERY_EVENTS" envDefault:"200"`
	SnapshotMaxAge      time.Duration `env:"ESRUN_SNAPSHOT_MAX_AGE" envDefault:"5m"`
	SnapshotDSN         string        `env:"ESRUN_SNAPSHOT_DSN" envDefault:"file:esrun.db"`

	// 死信
	NATSURL   string `env:"ESRUN_NATS_URL"`
	DLQStream string `env:"ESRUN_DLQ_STREAM" envDefault:"ESRUN_DLQ"`
}

// ParseEnv 从环境变量装载配置
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return errors.Wrap(errors.KindDomain, "parse env config", err)
	}
	return nil
}

// LoadRuntime 装载运行时配置
func LoadRuntime() (Runtime, error) {
	var cfg Runtime
	if err := ParseEnv(&cfg); err != nil {
		return Runtime{}, err
	}
	return cfg, nil
}
