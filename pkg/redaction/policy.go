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

package redaction

// Policy URL 脱敏策略：span 属性落盘前对 query string 的处理方式
type Policy struct {
	Mode Mode
}

// Mode 脱敏模式
type Mode string

const (
	ModeStripValues Mode = "strip_values" // 保留 query key，去掉 value（默认）
	ModeDropQuery   Mode = "drop_query"   // 整个 query string 移除
	ModeNone        Mode = "none"         // 不脱敏（显式关闭时使用）
)

// DefaultPolicy 默认策略：保留 key、去掉 value
func DefaultPolicy() *Policy {
	return &Policy{Mode: ModeStripValues}
}

// PolicyConfig 脱敏策略配置（YAML）
type PolicyConfig struct {
	Enable bool   `yaml:"enable" mapstructure:"enable"`
	Mode   string `yaml:"mode" mapstructure:"mode"`
}

// LoadPolicyFromConfig 从配置加载脱敏策略；Enable 为 false 返回 ModeNone
func LoadPolicyFromConfig(config PolicyConfig) *Policy {
	if !config.Enable {
		return &Policy{Mode: ModeNone}
	}
	switch Mode(config.Mode) {
	case ModeDropQuery:
		return &Policy{Mode: ModeDropQuery}
	case ModeNone:
		return &Policy{Mode: ModeNone}
	default:
		return DefaultPolicy()
	}
}
