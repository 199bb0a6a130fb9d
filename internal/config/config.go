package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"collabhub/pkg/config"
)

const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

type EscalationConfig struct {
	TickInterval      time.Duration `yaml:"tick_interval"`
	DispatchTimeout   time.Duration `yaml:"dispatch_timeout"`
	Concurrency       int           `yaml:"concurrency"`
	StalePendingAfter time.Duration `yaml:"stale_pending_after"`
	// LockTTL 为 Redis tick 锁的过期时间
	LockTTL       time.Duration `yaml:"lock_ttl"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

type ReportConfig struct {
	TokenTTL            time.Duration `yaml:"token_ttl"`
	FrontendBase        string        `yaml:"frontend_base"`
	PurgeGrace          time.Duration `yaml:"purge_grace"`
	AllowReviewRevision bool          `yaml:"allow_review_revision"`
}

type OutboxConfig struct {
	Interval   time.Duration `yaml:"interval"`
	BatchSize  int           `yaml:"batch_size"`
	MaxRetries int           `yaml:"max_retries"`
}

type Config struct {
	Store      string              `yaml:"store"`
	Debug      bool                `yaml:"debug"`
	DB         config.DBConfig     `yaml:"db"`
	MQ         config.MQConfig     `yaml:"mq"`
	Redis      config.RedisConfig  `yaml:"redis"`
	JWT        config.JWTConfig    `yaml:"jwt"`
	Server     config.ServerConfig `yaml:"server"`
	Escalation EscalationConfig    `yaml:"escalation"`
	Report     ReportConfig        `yaml:"report"`
	Outbox     OutboxConfig        `yaml:"outbox"`
}

// Load 使用统一配置中心：base.yaml -> <CONFIG_ENV>.yaml -> secrets.env -> 环境变量
func Load() (*Config, error) {
	env := config.GetConfigEnv()
	dir := config.GetEnv("CONFIG_DIR", "config")

	cfgMap, err := config.LoadConfig(env, dir)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if err := config.Decode(cfgMap, cfg); err != nil {
		return nil, err
	}

	// 环境变量覆盖（优先级最高）
	config.OverrideDBFromEnv(&cfg.DB)
	config.OverrideMQFromEnv(&cfg.MQ)
	config.OverrideRedisFromEnv(&cfg.Redis)
	config.OverrideJWTFromEnv(&cfg.JWT)
	config.OverrideServerFromEnv(&cfg.Server)
	overrideAppFromEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the values used when a key is absent from every file.
func Default() *Config {
	return &Config{
		Store:  StorePostgres,
		Server: config.ServerConfig{Port: "8080"},
		Escalation: EscalationConfig{
			TickInterval:      time.Minute,
			DispatchTimeout:   10 * time.Second,
			Concurrency:       8,
			StalePendingAfter: 15 * time.Minute,
			LockTTL:           5 * time.Minute,
			SweepInterval:     10 * time.Minute,
		},
		Report: ReportConfig{
			TokenTTL:     24 * time.Hour,
			FrontendBase: "http://localhost:3000",
		},
		Outbox: OutboxConfig{
			Interval:   2 * time.Second,
			BatchSize:  50,
			MaxRetries: 5,
		},
	}
}

func overrideAppFromEnv(cfg *Config) {
	if store := os.Getenv("STORE"); store != "" {
		cfg.Store = store
	}
	if debug, err := strconv.ParseBool(os.Getenv("DEBUG")); err == nil {
		cfg.Debug = debug
	}
	if base := os.Getenv("FRONTEND_BASE"); base != "" {
		cfg.Report.FrontendBase = base
	}
	if ttl, err := time.ParseDuration(os.Getenv("REPORT_TOKEN_TTL")); err == nil {
		cfg.Report.TokenTTL = ttl
	}
}

func (c *Config) Validate() error {
	switch {
	case c.Store != StorePostgres && c.Store != StoreMemory:
		return fmt.Errorf("store must be %q or %q, got %q", StorePostgres, StoreMemory, c.Store)
	case c.JWT.Secret == "":
		return fmt.Errorf("jwt.secret is required")
	case c.Escalation.TickInterval <= 0:
		return fmt.Errorf("escalation.tick_interval must be positive")
	case c.Report.TokenTTL <= 0:
		return fmt.Errorf("report.token_ttl must be positive")
	}
	return nil
}
