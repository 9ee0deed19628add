// Copyright 2026 fanjia1024
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 应用配置结构体。加载后视为进程生命周期内的不可变快照。
type Config struct {
	Service    string           `mapstructure:"service"`
	Tracing    TracingConfig    `mapstructure:"tracing"`
	Instrument InstrumentConfig `mapstructure:"instrument"`
	Log        LogConfig        `mapstructure:"log"`
	Prometheus PrometheusConfig `mapstructure:"prometheus"`
}

// TracingConfig 链路追踪配置（OpenTelemetry OTLP 导出）
type TracingConfig struct {
	Enable         bool    `mapstructure:"enable"`
	ServiceName    string  `mapstructure:"service_name"`
	ExportEndpoint string  `mapstructure:"export_endpoint"`
	Protocol       string  `mapstructure:"protocol"` // http | grpc
	Insecure       bool    `mapstructure:"insecure"`
	SampleRatio    float64 `mapstructure:"sample_ratio"` // 0..1，默认 1
}

// InstrumentConfig 出站调用插桩配置
type InstrumentConfig struct {
	RedactQuery *bool  `mapstructure:"redact_query"` // 默认 true；显式 false 才关闭脱敏
	EvictAfter  string `mapstructure:"evict_after"`  // 空闲调用回收时长，如 "5m"；空则不回收
}

// LogConfig 日志配置
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

// PrometheusConfig 诊断指标暴露配置
type PrometheusConfig struct {
	Enable bool `mapstructure:"enable"`
	Port   int  `mapstructure:"port"`
}

// RedactEnabled 是否开启 query 脱敏（未配置时默认开启）
func (c InstrumentConfig) RedactEnabled() bool {
	return c.RedactQuery == nil || *c.RedactQuery
}

// EvictAfterDuration 解析空闲回收时长；未配置或非法返回 0（不回收）
func (c InstrumentConfig) EvictAfterDuration() time.Duration {
	if c.EvictAfter == "" {
		return 0
	}
	d, err := time.ParseDuration(c.EvictAfter)
	if err != nil || d < 0 {
		return 0
	}
	return d
}

// LoadConfig 加载配置文件
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetEnvPrefix("SPANBRIDGE")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("无法读取配置文件: %w", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("无法解析配置文件: %w", err)
	}
	applyDefaults(&config)
	return &config, nil
}

// Default 返回不依赖配置文件的默认配置
func Default() *Config {
	cfg := &Config{Service: "spanbridge"}
	applyDefaults(cfg)
	return cfg
}

// applyDefaults 填充缺省字段
func applyDefaults(cfg *Config) {
	if cfg.Service == "" {
		cfg.Service = "spanbridge"
	}
	if cfg.Tracing.ServiceName == "" {
		cfg.Tracing.ServiceName = cfg.Service
	}
	if cfg.Tracing.Protocol == "" {
		cfg.Tracing.Protocol = "http"
	}
	if cfg.Tracing.SampleRatio <= 0 || cfg.Tracing.SampleRatio > 1 {
		cfg.Tracing.SampleRatio = 1
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
}
