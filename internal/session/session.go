package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"cdpintercept/internal/logger"
	"cdpintercept/pkg/interceptor"
	"cdpintercept/pkg/model"
	"cdpintercept/pkg/traffic"
)

var (
	ErrTargetAttached     = errors.New("session: target already attached")
	ErrTargetNotAttached  = errors.New("session: target not attached")
	ErrAlreadyIntercepted = errors.New("session: target already intercepted")
	ErrNotIntercepted     = errors.New("session: target not intercepted")
)

// Conn 已附加目标的调试连接
type Conn interface {
	Fetch() interceptor.Channel
	Network() interceptor.NetworkDomain
	Close() error
}

// Target 会话内的一个附加目标
type Target struct {
	Info        model.TargetInfo
	conn        Conn
	interceptor *interceptor.Interceptor
}

// Session 一个 DevTools 端点上的业务会话
type Session struct {
	ID     model.SessionID
	Config model.SessionConfig

	mu      sync.Mutex
	targets map[model.TargetID]*Target
	events  chan model.Event
	log     logger.Logger
}

// New 创建会话
func New(id model.SessionID, cfg model.SessionConfig, l logger.Logger) *Session {
	if l == nil {
		l = logger.NewNop()
	}
	return &Session{
		ID:      id,
		Config:  cfg,
		targets: make(map[model.TargetID]*Target),
		events:  make(chan model.Event, 256),
		log:     l.With("sessionID", string(id)),
	}
}

// Events 会话内所有拦截器共享的事件通道，消费过慢时事件被丢弃
func (s *Session) Events() <-chan model.Event { return s.events }

// Attach 登记一个已建立的连接
func (s *Session) Attach(info model.TargetInfo, conn Conn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.targets[info.ID]; ok {
		return fmt.Errorf("%w: %s", ErrTargetAttached, info.ID)
	}
	s.targets[info.ID] = &Target{Info: info, conn: conn}
	s.log.Info("附加目标", "target", string(info.ID), "url", info.URL)
	return nil
}

// Detach 停止拦截并断开目标
func (s *Session) Detach(id model.TargetID) error {
	s.mu.Lock()
	t, ok := s.targets[id]
	delete(s.targets, id)
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrTargetNotAttached, id)
	}
	return s.closeTarget(t)
}

// Targets 已附加目标列表
func (s *Session) Targets() []model.TargetInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.TargetInfo, 0, len(s.targets))
	for _, t := range s.targets {
		out = append(out, t.Info)
	}
	return out
}

// Intercept 在目标上启用拦截。一个目标同时只允许一个拦截器
func (s *Session) Intercept(ctx context.Context, id model.TargetID, filter traffic.Filter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.targets[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTargetNotAttached, id)
	}
	if t.interceptor != nil && t.interceptor.State() == interceptor.StateOpen {
		return fmt.Errorf("%w: %s", ErrAlreadyIntercepted, id)
	}

	it, err := interceptor.New(ctx, t.conn.Fetch(), filter, s.interceptorOptions(t)...)
	if err != nil {
		return err
	}
	t.interceptor = it
	return nil
}

func (s *Session) interceptorOptions(t *Target) []interceptor.Option {
	cfg := s.Config
	opts := []interceptor.Option{
		interceptor.WithLogger(s.log),
		interceptor.WithEvents(s.events),
		interceptor.WithTarget(s.ID, t.Info.ID),
	}
	if cfg.Concurrency > 0 {
		opts = append(opts, interceptor.WithConcurrency(cfg.Concurrency, cfg.PendingCapacity))
	}
	if cfg.CommandTimeoutMS > 0 {
		opts = append(opts, interceptor.WithCommandTimeout(time.Duration(cfg.CommandTimeoutMS)*time.Millisecond))
	}
	if cfg.DisableCache {
		if n := t.conn.Network(); n != nil {
			opts = append(opts, interceptor.WithCacheDisabled(n))
		}
	}
	return opts
}

// StopIntercept 关闭目标上的拦截器，未决请求原样放行
func (s *Session) StopIntercept(id model.TargetID) error {
	s.mu.Lock()
	t, ok := s.targets[id]
	var it *interceptor.Interceptor
	if ok {
		it, t.interceptor = t.interceptor, nil
	}
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrTargetNotAttached, id)
	}
	if it == nil {
		return fmt.Errorf("%w: %s", ErrNotIntercepted, id)
	}
	return it.Close()
}

// Done 返回目标上拦截器的结束信号，浏览器断开导致的隐式关闭同样会触发
func (s *Session) Done(id model.TargetID) (<-chan struct{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.targets[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTargetNotAttached, id)
	}
	if t.interceptor == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotIntercepted, id)
	}
	return t.interceptor.Done(), nil
}

// Stats 汇总所有拦截器的计数
func (s *Session) Stats() model.Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total model.Stats
	for _, t := range s.targets {
		if t.interceptor == nil {
			continue
		}
		st := t.interceptor.Stats()
		total.Intercepted += st.Intercepted
		total.Forwarded += st.Forwarded
		total.Proceeded += st.Proceeded
		total.Fulfilled += st.Fulfilled
		total.Failed += st.Failed
		total.Degraded += st.Degraded
		total.Pending += st.Pending
	}
	return total
}

// PendingByTarget 各目标当前未决事务数
func (s *Session) PendingByTarget() map[model.TargetID]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[model.TargetID]int, len(s.targets))
	for id, t := range s.targets {
		if t.interceptor != nil {
			out[id] = t.interceptor.Stats().Pending
		}
	}
	return out
}

// Close 断开全部目标
func (s *Session) Close() error {
	s.mu.Lock()
	targets := s.targets
	s.targets = make(map[model.TargetID]*Target)
	s.mu.Unlock()

	var errs []error
	for _, t := range targets {
		errs = append(errs, s.closeTarget(t))
	}
	return errors.Join(errs...)
}

func (s *Session) closeTarget(t *Target) error {
	var errs []error
	if t.interceptor != nil {
		errs = append(errs, t.interceptor.Close())
	}
	if err := t.conn.Close(); err != nil {
		errs = append(errs, fmt.Errorf("session: close target %s: %w", t.Info.ID, err))
	}
	s.log.Info("分离目标", "target", string(t.Info.ID))
	return errors.Join(errs...)
}
