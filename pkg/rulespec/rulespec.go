// Package rulespec 声明式拦截规则的 YAML 格式。
package rulespec

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"cdpintercept/pkg/model"
)

// RuleSet 规则文件
type RuleSet struct {
	Version string `yaml:"version"`
	Rules   []Rule `yaml:"rules" validate:"dive"`
}

// Rule 单条规则。Priority 越大越先匹配，同优先级按文件顺序
type Rule struct {
	ID       model.RuleID `yaml:"id" validate:"required"`
	Name     string       `yaml:"name"`
	Priority int          `yaml:"priority"`
	Disabled bool         `yaml:"disabled"`
	Match    Match        `yaml:"match"`
	Action   Action       `yaml:"action"`
}

// Match 条件组合，三组同时满足才算命中；全部为空时匹配一切
type Match struct {
	AllOf  []Condition `yaml:"allOf" validate:"dive"`
	AnyOf  []Condition `yaml:"anyOf" validate:"dive"`
	NoneOf []Condition `yaml:"noneOf" validate:"dive"`
}

// Condition 单个匹配条件
type Condition struct {
	Type    string   `yaml:"type" validate:"required,oneof=url method header query cookie text json"`
	Mode    string   `yaml:"mode" validate:"omitempty,oneof=glob prefix regex exact"` // url
	Pattern string   `yaml:"pattern"`                                                 // url
	Values  []string `yaml:"values"`                                                  // method
	Key     string   `yaml:"key"`                                                     // header/query/cookie
	Path    string   `yaml:"path"`                                                    // json，gjson 路径
	Op      string   `yaml:"op" validate:"omitempty,oneof=exists equals contains regex"`
	Value   string   `yaml:"value"`
}

// Action 命中后的动作
type Action struct {
	Type    string   `yaml:"type" validate:"required,oneof=respond fail proceed rewrite"`
	DelayMS int      `yaml:"delayMS" validate:"gte=0"`
	Respond *Respond `yaml:"respond" validate:"required_if=Type respond"`
	Rewrite *Rewrite `yaml:"rewrite" validate:"required_if=Type rewrite"`
}

// Respond 直接应答
type Respond struct {
	Status  int               `yaml:"status" validate:"omitempty,min=100,max=599"`
	Headers map[string]string `yaml:"headers"`
	Body    string            `yaml:"body"`
	Base64  bool              `yaml:"base64"`
}

// Rewrite 改写请求后交给真实网络，再改写真实响应
type Rewrite struct {
	URL            string            `yaml:"url"`
	Method         string            `yaml:"method"`
	RequestHeaders map[string]string `yaml:"requestHeaders"`

	Status        int               `yaml:"status" validate:"omitempty,min=100,max=599"`
	Headers       map[string]string `yaml:"headers"`
	RemoveHeaders []string          `yaml:"removeHeaders"`
	Replace       []Replace         `yaml:"replace" validate:"dive"`
	PatchJSON     []Patch           `yaml:"patchJSON" validate:"dive"`
}

// Replace 响应文本正则替换
type Replace struct {
	Pattern string `yaml:"pattern" validate:"required"`
	With    string `yaml:"with"`
}

// Patch 响应 JSON 修改，Delete 为真时删除 Path
type Patch struct {
	Path   string `yaml:"path" validate:"required"`
	Value  any    `yaml:"value"`
	Delete bool   `yaml:"delete"`
}

// Load 读取规则文件
func Load(path string) (*RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("rulespec: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse 解析并校验规则
func Parse(data []byte) (*RuleSet, error) {
	var rs RuleSet
	if err := yaml.Unmarshal(data, &rs); err != nil {
		return nil, fmt.Errorf("rulespec: decode: %w", err)
	}
	if err := rs.Validate(); err != nil {
		return nil, err
	}
	return &rs, nil
}

// Validate 字段校验与 ID 唯一性检查
func (rs *RuleSet) Validate() error {
	if err := validator.New().Struct(rs); err != nil {
		return fmt.Errorf("rulespec: invalid: %w", err)
	}
	seen := make(map[model.RuleID]struct{}, len(rs.Rules))
	for _, r := range rs.Rules {
		if _, dup := seen[r.ID]; dup {
			return fmt.Errorf("rulespec: duplicate id %q", r.ID)
		}
		seen[r.ID] = struct{}{}
	}
	return nil
}
