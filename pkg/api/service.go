package api

import (
	"cdpintercept/internal/logger"
	"cdpintercept/internal/service"
	"cdpintercept/pkg/model"
	"cdpintercept/pkg/rulespec"
	"cdpintercept/pkg/traffic"
)

// Service 服务接口
type Service interface {
	// StartSession 启动会话
	StartSession(cfg model.SessionConfig) (model.SessionID, error)

	// StopSession 停止会话
	StopSession(id model.SessionID) error

	// AttachTarget 附加目标，target 为空时附加第一个页面
	AttachTarget(id model.SessionID, target model.TargetID) (model.TargetID, error)

	// DetachTarget 分离目标
	DetachTarget(id model.SessionID, target model.TargetID) error

	// ListTargets 列出目标
	ListTargets(id model.SessionID) ([]model.TargetInfo, error)

	// EnableInterception 启用拦截，filter 为 nil 时使用已加载的规则
	EnableInterception(id model.SessionID, target model.TargetID, filter traffic.Filter) error

	// DisableInterception 禁用拦截
	DisableInterception(id model.SessionID, target model.TargetID) error

	// InterceptionDone 拦截结束信号，主动关闭或浏览器断开时关闭
	InterceptionDone(id model.SessionID, target model.TargetID) (<-chan struct{}, error)

	// LoadRules 加载规则配置
	LoadRules(id model.SessionID, rs *rulespec.RuleSet) error

	// GetRuleStats 获取规则统计信息
	GetRuleStats(id model.SessionID) (model.EngineStats, error)

	// GetStats 获取拦截计数
	GetStats(id model.SessionID) (model.Stats, error)

	// SubscribeEvents 订阅事件
	SubscribeEvents(id model.SessionID) (<-chan model.Event, error)

	// Close 停止全部会话
	Close() error
}

// NewService 创建并返回服务接口实现
func NewService(l logger.Logger) Service {
	return service.New(l)
}
