package config

import (
	"fmt"

	"baydigital/pkg/config"
)

// WorkerConfig 后台任务参数
type WorkerConfig struct {
	PublishSpec           string `yaml:"publish_spec"`
	OutboxIntervalSeconds int    `yaml:"outbox_interval_seconds"`
	OutboxBatchSize       int    `yaml:"outbox_batch_size"`
	OutboxMaxRetries      int    `yaml:"outbox_max_retries"`
	DedupTTLHours         int    `yaml:"dedup_ttl_hours"`
}

// Config api、worker、dashboardctl 共用一份配置
type Config struct {
	Server   config.ServerConfig   `yaml:"server"`
	DB       config.DBConfig       `yaml:"db"`
	MQ       config.MQConfig       `yaml:"mq"`
	Redis    config.RedisConfig    `yaml:"redis"`
	JWT      config.JWTConfig      `yaml:"jwt"`
	Stripe   config.StripeConfig   `yaml:"stripe"`
	LLM      config.LLMConfig      `yaml:"llm"`
	Unsplash config.UnsplashConfig `yaml:"unsplash"`
	Storage  config.StorageConfig  `yaml:"storage"`
	Search   config.SearchConfig   `yaml:"search"`
	Telegram config.TelegramConfig `yaml:"telegram"`
	SMTP     config.SMTPConfig     `yaml:"smtp"`
	Tracing  config.TracingConfig  `yaml:"tracing"`
	Worker   WorkerConfig          `yaml:"worker"`
}

// Load 读取 base.yaml + <env>.yaml + secrets.env，再用环境变量覆盖
func Load() (*Config, error) {
	var cfg Config
	if err := config.Load(&cfg); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	// 环境变量覆盖（优先级最高）
	config.OverrideServerFromEnv(&cfg.Server)
	config.OverrideDBFromEnv(&cfg.DB)
	config.OverrideMQFromEnv(&cfg.MQ)
	config.OverrideRedisFromEnv(&cfg.Redis)
	config.OverrideJWTFromEnv(&cfg.JWT)
	config.OverrideStripeFromEnv(&cfg.Stripe)
	config.OverrideLLMFromEnv(&cfg.LLM)
	config.OverrideUnsplashFromEnv(&cfg.Unsplash)
	config.OverrideStorageFromEnv(&cfg.Storage)
	config.OverrideSearchFromEnv(&cfg.Search)
	config.OverrideTelegramFromEnv(&cfg.Telegram)
	config.OverrideSMTPFromEnv(&cfg.SMTP)
	config.OverrideTracingFromEnv(&cfg.Tracing)

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = ":8080"
	}
	if c.JWT.TTLHours <= 0 {
		c.JWT.TTLHours = 24
	}
	if c.Worker.PublishSpec == "" {
		c.Worker.PublishSpec = "@every 1m"
	}
	if c.Worker.OutboxIntervalSeconds <= 0 {
		c.Worker.OutboxIntervalSeconds = 2
	}
	if c.Worker.OutboxBatchSize <= 0 {
		c.Worker.OutboxBatchSize = 100
	}
	if c.Worker.OutboxMaxRetries <= 0 {
		c.Worker.OutboxMaxRetries = 5
	}
	if c.Worker.DedupTTLHours <= 0 {
		c.Worker.DedupTTLHours = 72
	}
}

// Validate 只检查启动必需项；外部服务缺配置时对应功能降级
func (c *Config) Validate() error {
	if len(c.JWT.Secret) < 32 {
		return fmt.Errorf("jwt.secret must be at least 32 characters")
	}
	if c.DB.Host == "" || c.DB.Name == "" {
		return fmt.Errorf("db.host and db.name are required")
	}
	if c.MQ.URL == "" {
		return fmt.Errorf("mq.url is required")
	}
	if c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required")
	}
	return nil
}
