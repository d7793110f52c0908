// Package interceptor 把 CDP Fetch 域的暂停事件转换为同步的 Handler 调用。
//
// 每个请求暂停事件都会交给一个由 Filter 组合出的 Handler；Handler 的结果再转换回
// continueRequest / fulfillRequest / failRequest 命令。Filter 的 next 指向真实网络：
// 调用它会放行请求并等待同一事务在响应阶段的暂停，然后把真实响应的副本返回给 Filter。
//
// 同一个调试通道上同时挂两个 Interceptor 的行为未定义。
package interceptor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/mafredri/cdp/protocol/fetch"
	"github.com/mafredri/cdp/protocol/network"

	"cdpintercept/pkg/model"
	"cdpintercept/pkg/traffic"
)

// State 拦截器状态
type State int32

const (
	StateOpen State = iota
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

type counters struct {
	intercepted atomic.Int64
	forwarded   atomic.Int64
	proceeded   atomic.Int64
	fulfilled   atomic.Int64
	failed      atomic.Int64
	degraded    atomic.Int64
}

// Interceptor 调试通道上的网络拦截器
type Interceptor struct {
	id     string
	ch     Channel
	filter traffic.Filter
	opts   options
	pool   *pool

	ctx      context.Context // 拦截生命周期，Close 或通道断开时取消
	cancel   context.CancelFunc
	cmdBase  context.Context // 协议命令使用，不随 ctx 取消
	stream   fetch.RequestPausedClient
	loopDone chan struct{}
	closing  chan struct{}

	closingOnce sync.Once
	mu          sync.Mutex
	state       State
	dropped     bool
	pending     map[fetch.RequestID]*exchange

	stats counters
}

// New 创建并立即启用拦截器。filter 的 next 为真实网络。
func New(ctx context.Context, ch Channel, filter traffic.Filter, opts ...Option) (*Interceptor, error) {
	if ch == nil {
		return nil, fmt.Errorf("interceptor: nil channel")
	}
	if filter == nil {
		return nil, fmt.Errorf("interceptor: nil filter")
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	it := &Interceptor{
		id:       uuid.NewString(),
		ch:       ch,
		filter:   filter,
		opts:     o,
		cmdBase:  context.WithoutCancel(ctx),
		loopDone: make(chan struct{}),
		closing:  make(chan struct{}),
		pending:  make(map[fetch.RequestID]*exchange),
	}
	it.opts.log = o.log.With("interceptor", it.id, "target", string(o.target))
	it.ctx, it.cancel = context.WithCancel(ctx)

	if err := it.open(); err != nil {
		it.cancel()
		return nil, err
	}
	if o.workers > 0 {
		it.pool = newPool(o.workers, o.capacity)
	}
	go it.consume()
	it.opts.log.Info("拦截器已启用", "patterns", o.patterns, "workers", o.workers)
	return it, nil
}

// NewWithHandler 用不关心真实网络的 Handler（例如 route.Router）创建拦截器。
// Handler 返回 route.ErrNoRoute 时请求原样放行。
func NewWithHandler(ctx context.Context, ch Channel, h traffic.Handler, opts ...Option) (*Interceptor, error) {
	if h == nil {
		return nil, fmt.Errorf("interceptor: nil handler")
	}
	return New(ctx, ch, func(traffic.Handler) traffic.Handler { return h }, opts...)
}

// open 先订阅事件流再启用 Fetch，避免丢失启用后立即到达的事件
func (it *Interceptor) open() error {
	if it.opts.network != nil {
		ctx, cancel := it.commandContext()
		err := it.opts.network.SetCacheDisabled(ctx, &network.SetCacheDisabledArgs{CacheDisabled: true})
		cancel()
		if err != nil {
			return fmt.Errorf("interceptor: disable cache: %w", err)
		}
	}

	stream, err := it.ch.RequestPaused(it.ctx)
	if err != nil {
		return fmt.Errorf("interceptor: subscribe requestPaused: %w", err)
	}

	patterns := make([]fetch.RequestPattern, 0, len(it.opts.patterns)*2)
	for _, p := range it.opts.patterns {
		p := p
		patterns = append(patterns,
			fetch.RequestPattern{URLPattern: &p, RequestStage: fetch.RequestStageRequest},
			fetch.RequestPattern{URLPattern: &p, RequestStage: fetch.RequestStageResponse},
		)
	}
	ctx, cancel := it.commandContext()
	defer cancel()
	if err := it.ch.Enable(ctx, &fetch.EnableArgs{Patterns: patterns}); err != nil {
		_ = stream.Close()
		return fmt.Errorf("interceptor: enable fetch: %w", err)
	}
	it.stream = stream
	return nil
}

// Close 停止拦截。未决事务全部原样放行，重复调用无副作用。
func (it *Interceptor) Close() error {
	it.mu.Lock()
	if it.state != StateOpen {
		it.mu.Unlock()
		return nil
	}
	it.state = StateClosing
	leftovers := it.drainLocked()
	it.signalClosingLocked()
	it.mu.Unlock()

	for _, ex := range leftovers {
		it.release(ex)
	}

	ctx, cancel := it.commandContext()
	err := it.ch.Disable(ctx)
	cancel()
	if err != nil {
		it.opts.log.Err(err, "禁用 Fetch 失败")
	}

	it.cancel()
	_ = it.stream.Close()
	<-it.loopDone
	if it.pool != nil {
		it.pool.stop()
	}

	it.mu.Lock()
	it.state = StateClosed
	it.mu.Unlock()
	it.opts.log.Info("拦截器已关闭", "released", len(leftovers))
	if err != nil {
		return fmt.Errorf("interceptor: disable fetch: %w", err)
	}
	return nil
}

// State 当前状态
func (it *Interceptor) State() State {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.state
}

// ID 拦截器实例ID
func (it *Interceptor) ID() string { return it.id }

// Done 在拦截器开始关闭或通道断开时关闭
func (it *Interceptor) Done() <-chan struct{} { return it.closing }

// Stats 返回计数快照
func (it *Interceptor) Stats() model.Stats {
	it.mu.Lock()
	pending := len(it.pending)
	it.mu.Unlock()
	return model.Stats{
		Intercepted: it.stats.intercepted.Load(),
		Forwarded:   it.stats.forwarded.Load(),
		Proceeded:   it.stats.proceeded.Load(),
		Fulfilled:   it.stats.fulfilled.Load(),
		Failed:      it.stats.failed.Load(),
		Degraded:    it.stats.degraded.Load(),
		Pending:     pending,
	}
}

// drainLocked 取出全部未决事务并标记为已解决
func (it *Interceptor) drainLocked() []*exchange {
	out := make([]*exchange, 0, len(it.pending))
	for id, ex := range it.pending {
		if !ex.resolved {
			ex.resolved = true
			out = append(out, ex)
		}
		delete(it.pending, id)
	}
	return out
}

func (it *Interceptor) signalClosingLocked() {
	it.closingOnce.Do(func() { close(it.closing) })
}

func (it *Interceptor) commandContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(it.cmdBase, it.opts.commandTimeout)
}

// sendEvent 安全发送事件到通道，自动添加时间戳
func (it *Interceptor) sendEvent(evt model.Event) {
	if it.opts.events == nil {
		return
	}
	evt.Session = it.opts.session
	evt.Target = it.opts.target
	evt.Timestamp = time.Now().UnixMilli()
	select {
	case it.opts.events <- evt:
	default:
	}
}

func eventFor(t model.EventType, ex *exchange) model.Event {
	return model.Event{
		Type:      t,
		RequestID: string(ex.id),
		URL:       ex.request.URL,
		Method:    ex.request.Method,
	}
}
