package config

import (
	"fmt"
	"os"

	"github.com/goccy/go-yaml"
)

// Config 应用配置
type Config struct {
	Server ServerConfig `yaml:"server"`
	Queue  QueueConfig  `yaml:"queue"`
	Store  StoreConfig  `yaml:"store"`
	Engine EngineConfig `yaml:"engine"`
	Worker WorkerConfig `yaml:"worker"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Port          int    `yaml:"port"`
	MaxUploadSize int64  `yaml:"max_upload_size"`
	UploadDir     string `yaml:"upload_dir"`
}

// QueueConfig 队列配置
type QueueConfig struct {
	Type       string         `yaml:"type"`        // memory / rabbitmq
	MaxPending int            `yaml:"max_pending"` // 待处理任务上限（背压）
	RabbitMQ   RabbitMQConfig `yaml:"rabbitmq"`
}

// RabbitMQConfig RabbitMQ 配置
type RabbitMQConfig struct {
	URL           string `yaml:"url"`
	QueueName     string `yaml:"queue_name"`
	PrefetchCount int    `yaml:"prefetch_count"`
}

// StoreConfig 存储配置
type StoreConfig struct {
	Type     string         `yaml:"type"` // memory / redis / postgres / hybrid
	Redis    RedisConfig    `yaml:"redis"`
	Postgres PostgresConfig `yaml:"postgres"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	TTLHours int    `yaml:"ttl_hours"`
}

// PostgresConfig PostgreSQL 配置
type PostgresConfig struct {
	ConnStr string `yaml:"conn_str"`
}

// EngineConfig 推理引擎配置
type EngineConfig struct {
	Type          string `yaml:"type"`           // mock / sidecar / whisper
	SidecarScript string `yaml:"sidecar_script"` // sidecar worker 脚本路径
	Python        string `yaml:"python"`         // python 可执行文件，默认 python3
	APIKey        string `yaml:"api_key"`        // whisper 引擎用
	MaxRetries    int    `yaml:"max_retries"`
}

// WorkerConfig Worker 池配置
type WorkerConfig struct {
	PoolSize          int `yaml:"pool_size"`           // 同时 running 的任务上限 N
	JobTimeoutSeconds int `yaml:"job_timeout_seconds"` // 单任务超时
	CancelPollMillis  int `yaml:"cancel_poll_millis"`  // 取消标记轮询间隔
}

// LoadConfig 加载配置文件
func LoadConfig(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %v", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %v", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("配置验证失败: %v", err)
	}

	return &config, nil
}

// Validate 验证配置并填充默认值
func (c *Config) Validate() error {
	if c.Server.Port <= 0 {
		c.Server.Port = 8080
	}
	if c.Server.MaxUploadSize <= 0 {
		c.Server.MaxUploadSize = 200 * 1024 * 1024 // 默认 200 MB
	}
	if c.Server.UploadDir == "" {
		c.Server.UploadDir = "uploads"
	}

	if c.Queue.Type == "" {
		c.Queue.Type = "memory"
	}
	if c.Queue.MaxPending <= 0 {
		c.Queue.MaxPending = 100
	}
	if c.Queue.Type == "rabbitmq" {
		if c.Queue.RabbitMQ.URL == "" {
			return fmt.Errorf("rabbitmq 队列需要设置 url")
		}
		if c.Queue.RabbitMQ.QueueName == "" {
			c.Queue.RabbitMQ.QueueName = "voicetrace.jobs"
		}
		if c.Queue.RabbitMQ.PrefetchCount <= 0 {
			c.Queue.RabbitMQ.PrefetchCount = 3
		}
	}

	if c.Store.Type == "" {
		c.Store.Type = "memory"
	}
	if c.Store.Redis.TTLHours <= 0 {
		c.Store.Redis.TTLHours = 72
	}

	if c.Engine.Type == "" {
		c.Engine.Type = "mock"
	}
	if c.Engine.Type == "whisper" && c.Engine.APIKey == "" {
		return fmt.Errorf("whisper 引擎需要设置有效的 API Key")
	}
	if c.Engine.Type == "sidecar" && c.Engine.SidecarScript == "" {
		return fmt.Errorf("sidecar 引擎需要设置 worker 脚本路径")
	}
	if c.Engine.Python == "" {
		c.Engine.Python = "python3"
	}
	if c.Engine.MaxRetries <= 0 {
		c.Engine.MaxRetries = 3
	}

	if c.Worker.PoolSize <= 0 {
		c.Worker.PoolSize = 2
	}
	if c.Worker.JobTimeoutSeconds <= 0 {
		c.Worker.JobTimeoutSeconds = 1800 // 默认 30 分钟
	}
	if c.Worker.CancelPollMillis <= 0 {
		c.Worker.CancelPollMillis = 500
	}

	return nil
}
