package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"cdpintercept/internal/logger"
	"cdpintercept/pkg/model"
)

// Config 配置文件结构体
type Config struct {
	Version string `yaml:"version" validate:"required"`

	DevTools struct {
		URL string `yaml:"url" validate:"required,url"`
	} `yaml:"devtools"`

	Intercept struct {
		Concurrency      int  `yaml:"concurrency" validate:"gte=0"`
		PendingCapacity  int  `yaml:"pendingCapacity" validate:"gte=0"`
		CommandTimeoutMS int  `yaml:"commandTimeoutMS" validate:"gte=0"`
		DisableCache     bool `yaml:"disableCache"`
	} `yaml:"intercept"`

	// Rules 规则文件路径，为空时不加载规则
	Rules string `yaml:"rules"`

	Log struct {
		Level  string   `yaml:"level" validate:"oneof=debug info warn error"`
		Writer []string `yaml:"writer" validate:"dive,oneof=console file"`
		File   string   `yaml:"file"`
	} `yaml:"log"`

	Metrics struct {
		Addr string `yaml:"addr" validate:"omitempty,hostname_port"`
	} `yaml:"metrics"`
}

// NewConfig 创建默认配置
func NewConfig() *Config {
	c := &Config{Version: "1.0.0"}
	c.DevTools.URL = "http://127.0.0.1:9222"
	c.Intercept.CommandTimeoutMS = 3000
	c.Intercept.DisableCache = true
	c.Log.Level = "info"
	c.Log.Writer = []string{"console"}
	c.Log.File = "logs/cdpintercept.log"
	return c
}

// Load 读取 YAML 配置并覆盖默认值
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse 解析 YAML 内容
func Parse(data []byte) (*Config, error) {
	c := NewConfig()
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate 校验字段取值
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("config: invalid: %w", err)
	}
	return nil
}

// SessionConfig 转换为会话配置
func (c *Config) SessionConfig() model.SessionConfig {
	return model.SessionConfig{
		DevToolsURL:      c.DevTools.URL,
		Concurrency:      c.Intercept.Concurrency,
		PendingCapacity:  c.Intercept.PendingCapacity,
		CommandTimeoutMS: c.Intercept.CommandTimeoutMS,
		DisableCache:     c.Intercept.DisableCache,
	}
}

// LoggerOptions 转换为日志配置
func (c *Config) LoggerOptions() logger.Options {
	return logger.Options{
		Level:   c.Log.Level,
		Writers: c.Log.Writer,
		File:    c.Log.File,
	}
}

// CommandTimeout 协议命令超时
func (c *Config) CommandTimeout() time.Duration {
	return time.Duration(c.Intercept.CommandTimeoutMS) * time.Millisecond
}
