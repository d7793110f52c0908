package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"cdpintercept/internal/cdp"
	"cdpintercept/internal/logger"
	"cdpintercept/internal/rules"
	"cdpintercept/internal/session"
	"cdpintercept/pkg/model"
	"cdpintercept/pkg/rulespec"
	"cdpintercept/pkg/traffic"
)

var (
	ErrSessionNotFound = errors.New("service: session not found")
	ErrNoFilter        = errors.New("service: no filter and no rules loaded")
)

const discoveryTimeout = 10 * time.Second

// dialer 目标发现与附加，测试中可替换
type dialer interface {
	ListTargets(ctx context.Context) ([]model.TargetInfo, error)
	Attach(ctx context.Context, id model.TargetID) (session.Conn, model.TargetInfo, error)
}

type cdpDialer struct{ m *cdp.Manager }

func (d cdpDialer) ListTargets(ctx context.Context) ([]model.TargetInfo, error) {
	return d.m.ListTargets(ctx)
}

func (d cdpDialer) Attach(ctx context.Context, id model.TargetID) (session.Conn, model.TargetInfo, error) {
	conn, info, err := d.m.Attach(ctx, id)
	if err != nil {
		return nil, info, err
	}
	return conn, info, nil
}

// Service 会话、目标与拦截的统一入口
type Service struct {
	log      logger.Logger
	sessions *session.Manager
	dial     func(devtoolsURL string) dialer

	mu      sync.Mutex
	dialers map[model.SessionID]dialer
	engines map[model.SessionID]*rules.Engine
}

// New 创建服务
func New(l logger.Logger) *Service {
	if l == nil {
		l = logger.NewNop()
	}
	return &Service{
		log:      l,
		sessions: session.NewManager(l),
		dial: func(url string) dialer {
			return cdpDialer{m: cdp.New(url, l)}
		},
		dialers: make(map[model.SessionID]dialer),
		engines: make(map[model.SessionID]*rules.Engine),
	}
}

// StartSession 启动会话
func (s *Service) StartSession(cfg model.SessionConfig) (model.SessionID, error) {
	if cfg.DevToolsURL == "" {
		return "", fmt.Errorf("service: devtools url required")
	}
	sess := s.sessions.Create(cfg)
	s.mu.Lock()
	s.dialers[sess.ID] = s.dial(cfg.DevToolsURL)
	s.mu.Unlock()
	return sess.ID, nil
}

// StopSession 停止会话，断开全部目标
func (s *Service) StopSession(id model.SessionID) error {
	sess, ok := s.sessions.Delete(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	s.mu.Lock()
	delete(s.dialers, id)
	delete(s.engines, id)
	s.mu.Unlock()
	return sess.Close()
}

// ListTargets 列出会话端点上的页面目标
func (s *Service) ListTargets(id model.SessionID) ([]model.TargetInfo, error) {
	_, d, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), discoveryTimeout)
	defer cancel()
	return d.ListTargets(ctx)
}

// AttachTarget 附加目标，target 为空时取第一个页面，返回实际附加的目标ID
func (s *Service) AttachTarget(id model.SessionID, target model.TargetID) (model.TargetID, error) {
	sess, d, err := s.lookup(id)
	if err != nil {
		return "", err
	}
	ctx, cancel := context.WithTimeout(context.Background(), discoveryTimeout)
	defer cancel()
	conn, info, err := d.Attach(ctx, target)
	if err != nil {
		return "", err
	}
	if err := sess.Attach(info, conn); err != nil {
		_ = conn.Close()
		return "", err
	}
	return info.ID, nil
}

// DetachTarget 分离目标
func (s *Service) DetachTarget(id model.SessionID, target model.TargetID) error {
	sess, _, err := s.lookup(id)
	if err != nil {
		return err
	}
	return sess.Detach(target)
}

// LoadRules 编译规则集，之后 EnableInterception 未指定 filter 时使用
func (s *Service) LoadRules(id model.SessionID, rs *rulespec.RuleSet) error {
	if _, _, err := s.lookup(id); err != nil {
		return err
	}
	engine, err := rules.New(rs, s.log.With("sessionID", string(id)))
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.engines[id] = engine
	s.mu.Unlock()
	s.log.Info("规则已加载", "sessionID", string(id), "rules", engine.Len())
	return nil
}

// GetRuleStats 规则命中统计
func (s *Service) GetRuleStats(id model.SessionID) (model.EngineStats, error) {
	if _, _, err := s.lookup(id); err != nil {
		return model.EngineStats{}, err
	}
	s.mu.Lock()
	engine := s.engines[id]
	s.mu.Unlock()
	if engine == nil {
		return model.EngineStats{ByRule: map[model.RuleID]int64{}}, nil
	}
	return engine.Stats(), nil
}

// EnableInterception 在目标上启用拦截；filter 为 nil 时使用已加载的规则
func (s *Service) EnableInterception(id model.SessionID, target model.TargetID, filter traffic.Filter) error {
	sess, _, err := s.lookup(id)
	if err != nil {
		return err
	}
	if filter == nil {
		s.mu.Lock()
		engine := s.engines[id]
		s.mu.Unlock()
		if engine == nil {
			return ErrNoFilter
		}
		filter = engine.Filter()
	}
	return sess.Intercept(context.Background(), target, filter)
}

// DisableInterception 关闭目标上的拦截
func (s *Service) DisableInterception(id model.SessionID, target model.TargetID) error {
	sess, _, err := s.lookup(id)
	if err != nil {
		return err
	}
	return sess.StopIntercept(target)
}

// InterceptionDone 目标拦截结束信号
func (s *Service) InterceptionDone(id model.SessionID, target model.TargetID) (<-chan struct{}, error) {
	sess, _, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	return sess.Done(target)
}

// GetStats 会话内拦截计数
func (s *Service) GetStats(id model.SessionID) (model.Stats, error) {
	sess, _, err := s.lookup(id)
	if err != nil {
		return model.Stats{}, err
	}
	return sess.Stats(), nil
}

// SubscribeEvents 订阅事件
func (s *Service) SubscribeEvents(id model.SessionID) (<-chan model.Event, error) {
	sess, _, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	return sess.Events(), nil
}

// Close 停止全部会话
func (s *Service) Close() error {
	var errs []error
	for _, sess := range s.sessions.List() {
		errs = append(errs, s.StopSession(sess.ID))
	}
	return errors.Join(errs...)
}

func (s *Service) lookup(id model.SessionID) (*session.Session, dialer, error) {
	sess, ok := s.sessions.Get(id)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	s.mu.Lock()
	d := s.dialers[id]
	s.mu.Unlock()
	return sess, d, nil
}
