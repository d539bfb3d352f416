package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 对应 config.yaml 的根结构
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Session SessionConfig `yaml:"session"`
	Stream  StreamConfig  `yaml:"stream"`
	Speed   SpeedConfig   `yaml:"speed"`
	System  SystemConfig  `yaml:"system"`
}

// ServerConfig 后端服务地址
type ServerConfig struct {
	APIURL  string `yaml:"api_url"`
	WSURL   string `yaml:"ws_url"`
	Timeout string `yaml:"timeout"`

	TimeoutDuration time.Duration `yaml:"-"`
}

// SessionConfig 当前选中的账号和会话
type SessionConfig struct {
	Account string `yaml:"account"`
	Chat    string `yaml:"chat"`
}

// StreamConfig 长连接重连策略
type StreamConfig struct {
	ReconnectAttempts int    `yaml:"reconnect_attempts"`
	ReconnectInterval string `yaml:"reconnect_interval"`

	ReconnectIntervalDuration time.Duration `yaml:"-"`
}

// SpeedConfig 速率估算相关配置
type SpeedConfig struct {
	DecayInterval   string `yaml:"decay_interval"`
	DebounceWait    string `yaml:"debounce_wait"`
	DebounceMaxWait string `yaml:"debounce_max_wait"`

	DecayIntervalDuration   time.Duration `yaml:"-"`
	DebounceWaitDuration    time.Duration `yaml:"-"`
	DebounceMaxWaitDuration time.Duration `yaml:"-"`
}

// SystemConfig 系统配置
type SystemConfig struct {
	DBPath    string `yaml:"db_path"`
	LogLevel  string `yaml:"log_level"`
	LogFile   string `yaml:"log_file"`
	LogFormat string `yaml:"log_format"`
}

// Default 返回全部字段都已填充默认值的配置
func Default() *Config {
	cfg := &Config{}
	if err := cfg.normalize(); err != nil {
		// 默认值本身不会出错
		panic(err)
	}
	return cfg
}

// LoadConfig 读取并解析配置文件
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("解析 YAML 格式错误: %w", err)
	}

	if err := cfg.normalize(); err != nil {
		return nil, err
	}

	// 确保数据库目录存在
	if err := os.MkdirAll(filepath.Dir(cfg.System.DBPath), 0755); err != nil {
		return nil, fmt.Errorf("无法创建数据目录: %w", err)
	}

	return &cfg, nil
}

// normalize 填充默认值并解析时长字段
func (c *Config) normalize() error {
	if c.Server.APIURL == "" {
		c.Server.APIURL = "http://localhost:8080"
	}
	c.Server.APIURL = strings.TrimRight(c.Server.APIURL, "/")
	if c.Server.WSURL == "" {
		c.Server.WSURL = "ws://localhost:8080/ws"
	}
	if !strings.HasPrefix(c.Server.WSURL, "ws://") && !strings.HasPrefix(c.Server.WSURL, "wss://") {
		return fmt.Errorf("无效的 websocket 地址 (server.ws_url): %s", c.Server.WSURL)
	}

	if c.Stream.ReconnectAttempts < 0 {
		return fmt.Errorf("stream.reconnect_attempts 不能为负数: %d", c.Stream.ReconnectAttempts)
	}
	if c.Stream.ReconnectAttempts == 0 {
		c.Stream.ReconnectAttempts = 3
	}

	if c.System.DBPath == "" {
		c.System.DBPath = "./data/state.db"
	}
	if c.System.LogLevel == "" {
		c.System.LogLevel = "info"
	}
	if c.System.LogFormat == "" {
		c.System.LogFormat = "text"
	}

	durations := []struct {
		name string
		raw  *string
		def  string
		out  *time.Duration
	}{
		{"server.timeout", &c.Server.Timeout, "30s", &c.Server.TimeoutDuration},
		{"stream.reconnect_interval", &c.Stream.ReconnectInterval, "3s", &c.Stream.ReconnectIntervalDuration},
		{"speed.decay_interval", &c.Speed.DecayInterval, "2s", &c.Speed.DecayIntervalDuration},
		{"speed.debounce_wait", &c.Speed.DebounceWait, "1s", &c.Speed.DebounceWaitDuration},
		{"speed.debounce_max_wait", &c.Speed.DebounceMaxWait, "2s", &c.Speed.DebounceMaxWaitDuration},
	}
	for _, d := range durations {
		if *d.raw == "" {
			*d.raw = d.def
		}
		v, err := time.ParseDuration(*d.raw)
		if err != nil {
			return fmt.Errorf("无效的时间间隔格式 (%s): %v", d.name, err)
		}
		if v <= 0 {
			return fmt.Errorf("时间间隔必须大于 0 (%s): %s", d.name, *d.raw)
		}
		*d.out = v
	}

	if c.Speed.DebounceMaxWaitDuration < c.Speed.DebounceWaitDuration {
		return fmt.Errorf("speed.debounce_max_wait (%s) 不能小于 speed.debounce_wait (%s)",
			c.Speed.DebounceMaxWait, c.Speed.DebounceWait)
	}

	return nil
}
