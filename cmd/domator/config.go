package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	MQTT struct {
		Broker      string `yaml:"broker"`
		ClientID    string `yaml:"client_id"`
		Username    string `yaml:"username"`
		Password    string `yaml:"password"`
		TopicPrefix string `yaml:"topic_prefix"`
		QoS         byte   `yaml:"qos"`
		Timeout     string `yaml:"connect_timeout"`
	} `yaml:"mqtt"`
	Web struct {
		Listen         string   `yaml:"listen"`
		APIKey         string   `yaml:"api_key"`
		AllowedOrigins []string `yaml:"allowed_origins"`
		QueueSize      int      `yaml:"queue_size"`
	} `yaml:"web"`
	Store struct {
		Path string `yaml:"path"`
	} `yaml:"store"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	Liveness struct {
		Timeout       string `yaml:"timeout"`
		SweepInterval string `yaml:"sweep_interval"`
		PingInterval  string `yaml:"ping_interval"`
	} `yaml:"liveness"`
	Metrics struct {
		Enabled bool              `yaml:"enabled"`
		URL     string            `yaml:"url"`
		Token   string            `yaml:"token"`
		Org     string            `yaml:"org"`
		Bucket  string            `yaml:"bucket"`
		Labels  map[string]string `yaml:"labels"`
	} `yaml:"metrics"`
	Firmware struct {
		Path string `yaml:"path"`
	} `yaml:"firmware"`
	Automation struct {
		ScriptsDir    string   `yaml:"scripts_dir"`
		ExecAllowlist []string `yaml:"exec_allowlist"`
		ExecTimeout   string   `yaml:"exec_timeout"`
	} `yaml:"automation"`
	Naming struct {
		Seed uint64 `yaml:"seed"` // 0 picks a random seed
	} `yaml:"naming"`
}

func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.MQTT.Broker == "" {
		c.MQTT.Broker = "tcp://127.0.0.1:1883"
	}
	if c.MQTT.Timeout == "" {
		c.MQTT.Timeout = "10s"
	}
	if c.Web.Listen == "" {
		c.Web.Listen = "127.0.0.1:8080"
	}
	if c.Web.QueueSize == 0 {
		c.Web.QueueSize = 256
	}
	if c.Store.Path == "" {
		c.Store.Path = "domator.db"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.Liveness.Timeout == "" {
		c.Liveness.Timeout = "30s"
	}
	if c.Liveness.SweepInterval == "" {
		c.Liveness.SweepInterval = "15s"
	}
	if c.Liveness.PingInterval == "" {
		c.Liveness.PingInterval = "0s"
	}
	if c.Firmware.Path == "" {
		c.Firmware.Path = "firmware.yaml"
	}
	if c.Automation.ScriptsDir == "" {
		c.Automation.ScriptsDir = "scripts"
	}
	if c.Automation.ExecTimeout == "" {
		c.Automation.ExecTimeout = "10s"
	}
}

func (c *Config) validate() error {
	if c.MQTT.QoS > 2 {
		return fmt.Errorf("mqtt.qos must be 0-2, got %d", c.MQTT.QoS)
	}
	if c.Web.QueueSize < 0 {
		return fmt.Errorf("web.queue_size must not be negative")
	}
	for name, v := range map[string]string{
		"mqtt.connect_timeout":    c.MQTT.Timeout,
		"liveness.timeout":        c.Liveness.Timeout,
		"liveness.sweep_interval": c.Liveness.SweepInterval,
		"liveness.ping_interval":  c.Liveness.PingInterval,
		"automation.exec_timeout": c.Automation.ExecTimeout,
	} {
		if _, err := time.ParseDuration(v); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	if c.Metrics.Enabled && (c.Metrics.URL == "" || c.Metrics.Bucket == "") {
		return fmt.Errorf("metrics.url and metrics.bucket are required when metrics are enabled")
	}
	return nil
}

// duration parses a value validate has already checked.
func duration(v string) time.Duration {
	d, _ := time.ParseDuration(v)
	return d
}

func newLogger(cfg *Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch strings.ToLower(cfg.Log.Format) {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}
