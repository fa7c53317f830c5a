package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"AgentCanvas/pkg/logger"
)

// Config 描述了 canvasd 在启动阶段需要加载的核心配置。
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Logging     logger.Config     `yaml:"logging"`
	Editor      EditorConfig      `yaml:"editor"`
	Catalog     CatalogConfig     `yaml:"catalog"`
	Reconciler  ReconcilerConfig  `yaml:"reconciler"`
	OutputStore OutputStoreConfig `yaml:"output_store"`
	Archive     ArchiveConfig     `yaml:"archive"`
	Feed        FeedConfig        `yaml:"feed"`
}

// ServerConfig 控制 API 服务的监听地址。
type ServerConfig struct {
	Address string `yaml:"address"`
}

// EditorConfig 控制画布布局常量与容器自动适配的轮询周期。
type EditorConfig struct {
	AutoFitIntervalMS int     `yaml:"autofit_interval_ms"`
	ContainerPadding  float64 `yaml:"container_padding"`
	GridColumns       int     `yaml:"grid_columns"`
	NodeWidth         float64 `yaml:"node_width"`
	ColumnGap         float64 `yaml:"column_gap"`
	RowHeight         float64 `yaml:"row_height"`
	RowGap            float64 `yaml:"row_gap"`
	GridPadding       float64 `yaml:"grid_padding"`
	NotificationLimit int     `yaml:"notification_limit"`
}

// AutoFitInterval 返回自动适配的轮询周期。
func (c EditorConfig) AutoFitInterval() time.Duration {
	return time.Duration(c.AutoFitIntervalMS) * time.Millisecond
}

// CatalogConfig 描述工具与智能体详情的获取方式。
type CatalogConfig struct {
	Driver     string `yaml:"driver"`
	BaseURL    string `yaml:"base_url"`
	TimeoutMS  int    `yaml:"timeout_ms"`
	StaticPath string `yaml:"static_path"`
}

// Timeout 返回详情请求的超时时间。
func (c CatalogConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

// ReconcilerConfig 控制事件归一化的名称过滤与可链接输出的白名单。
type ReconcilerConfig struct {
	Sentinels []string `yaml:"sentinels"`
	Chainable []string `yaml:"chainable"`
}

// OutputStoreConfig 描述可链接输出的存储位置。
type OutputStoreConfig struct {
	Driver     string      `yaml:"driver"`
	Redis      RedisConfig `yaml:"redis"`
	Prefix     string      `yaml:"prefix"`
	TTLSeconds int         `yaml:"ttl_seconds"`
}

// RedisConfig 是 Redis 连接参数。
type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// ArchiveConfig 描述运行结束后快照的归档位置。
type ArchiveConfig struct {
	Driver                 string `yaml:"driver"`
	DSN                    string `yaml:"dsn"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeSeconds int    `yaml:"conn_max_lifetime_seconds"`
}

// FeedConfig 描述执行事件的投递队列。
type FeedConfig struct {
	Driver   string         `yaml:"driver"`
	Workers  int            `yaml:"workers"`
	Buffer   int            `yaml:"buffer"`
	Redis    RedisFeed      `yaml:"redis"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
}

// RedisFeed 是基于 Redis list 的事件队列配置。
type RedisFeed struct {
	RedisConfig      `yaml:",inline"`
	Queue            string `yaml:"queue"`
	BlockWaitSeconds int    `yaml:"block_wait_seconds"`
}

// RabbitMQConfig 是基于 RabbitMQ 的事件队列配置。
type RabbitMQConfig struct {
	URL        string `yaml:"url"`
	Queue      string `yaml:"queue"`
	Prefetch   int    `yaml:"prefetch"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
}

// Load 负责解析指定路径的 YAML 配置文件。
func Load(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("配置文件路径为空")
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	cfg, err := Parse(content)
	if err != nil {
		return nil, err
	}
	cfg.resolvePaths(filepath.Dir(path))
	return cfg, nil
}

// Parse 解析 YAML 内容并填充默认值，不做路径解析。
func Parse(content []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// Default 返回一份全部使用默认值的配置。
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults() {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}

	e := &c.Editor
	if e.AutoFitIntervalMS <= 0 {
		e.AutoFitIntervalMS = 500
	}
	if e.ContainerPadding <= 0 {
		e.ContainerPadding = 80
	}
	if e.GridColumns <= 0 {
		e.GridColumns = 2
	}
	if e.NodeWidth <= 0 {
		e.NodeWidth = 250
	}
	if e.ColumnGap <= 0 {
		e.ColumnGap = 50
	}
	if e.RowHeight <= 0 {
		e.RowHeight = 150
	}
	if e.RowGap <= 0 {
		e.RowGap = 50
	}
	if e.GridPadding <= 0 {
		e.GridPadding = 80
	}
	if e.NotificationLimit <= 0 {
		e.NotificationLimit = 100
	}

	if c.Catalog.Driver == "" {
		c.Catalog.Driver = "http"
	}
	if c.Catalog.TimeoutMS <= 0 {
		c.Catalog.TimeoutMS = 10000
	}

	if len(c.Reconciler.Sentinels) == 0 {
		c.Reconciler.Sentinels = []string{"Unknown Subnet"}
	}
	if len(c.Reconciler.Chainable) == 0 {
		c.Reconciler.Chainable = []string{"text generation", "llm", "gpt", "summar", "translat", "chat", "writer"}
	}

	if c.OutputStore.Driver == "" {
		c.OutputStore.Driver = "memory"
	}
	if c.OutputStore.Prefix == "" {
		c.OutputStore.Prefix = "canvas:outputs"
	}

	if c.Archive.Driver == "" {
		c.Archive.Driver = "memory"
	}

	if c.Feed.Driver == "" {
		c.Feed.Driver = "memory"
	}
	if c.Feed.Workers <= 0 {
		c.Feed.Workers = 4
	}
	if c.Feed.Buffer <= 0 {
		c.Feed.Buffer = 1024
	}
	if c.Feed.Redis.Queue == "" {
		c.Feed.Redis.Queue = "canvas:events"
	}
	if c.Feed.RabbitMQ.Queue == "" {
		c.Feed.RabbitMQ.Queue = "canvas.events"
	}
}

// resolvePaths 将相对路径解析为相对于配置文件所在目录的绝对路径。
func (c *Config) resolvePaths(baseDir string) {
	if p := c.Catalog.StaticPath; p != "" && !filepath.IsAbs(p) {
		c.Catalog.StaticPath = filepath.Join(baseDir, p)
	}
	if p := c.Logging.Audit.Path; p != "" && !filepath.IsAbs(p) {
		c.Logging.Audit.Path = filepath.Join(baseDir, p)
	}
	for i, out := range c.Logging.OutputPaths {
		switch strings.ToLower(out) {
		case "stdout", "stderr":
			continue
		}
		if !filepath.IsAbs(out) {
			c.Logging.OutputPaths[i] = filepath.Join(baseDir, out)
		}
	}
}
