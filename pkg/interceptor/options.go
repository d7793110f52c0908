package interceptor

import (
	"time"

	"cdpintercept/internal/logger"
	"cdpintercept/pkg/model"
)

const defaultCommandTimeout = 3 * time.Second

type options struct {
	log            logger.Logger
	events         chan<- model.Event
	target         model.TargetID
	session        model.SessionID
	workers        int
	capacity       int
	commandTimeout time.Duration
	network        NetworkDomain
	patterns       []string
}

func defaultOptions() options {
	return options{
		log:            logger.NewNop(),
		commandTimeout: defaultCommandTimeout,
		patterns:       []string{"*"},
	}
}

// Option 拦截器配置项
type Option func(*options)

// WithLogger 设置日志器
func WithLogger(l logger.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

// WithEvents 设置事件通道，通道满时事件被丢弃
func WithEvents(ch chan<- model.Event) Option {
	return func(o *options) { o.events = ch }
}

// WithTarget 标记事件所属的会话与目标
func WithTarget(session model.SessionID, target model.TargetID) Option {
	return func(o *options) {
		o.session = session
		o.target = target
	}
}

// WithConcurrency 使用固定大小的工作池处理拦截事件；workers <= 0 时每个事件一个 goroutine
func WithConcurrency(workers, capacity int) Option {
	return func(o *options) {
		o.workers = workers
		o.capacity = capacity
	}
}

// WithCommandTimeout 设置单条协议命令的超时
func WithCommandTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.commandTimeout = d
		}
	}
}

// WithCacheDisabled 拦截期间禁用浏览器缓存，避免缓存命中绕过拦截
func WithCacheDisabled(n NetworkDomain) Option {
	return func(o *options) { o.network = n }
}

// WithURLPatterns 限定拦截的 URL 通配模式，默认 "*"
func WithURLPatterns(patterns ...string) Option {
	return func(o *options) {
		if len(patterns) > 0 {
			o.patterns = patterns
		}
	}
}
