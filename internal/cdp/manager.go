package cdp

import (
	"context"
	"errors"
	"fmt"

	"github.com/mafredri/cdp"
	"github.com/mafredri/cdp/devtool"
	"github.com/mafredri/cdp/rpcc"

	"cdpintercept/internal/logger"
	"cdpintercept/pkg/interceptor"
	"cdpintercept/pkg/model"
)

// ErrNoTarget DevTools 端点上没有可附加的页面
var ErrNoTarget = errors.New("cdp: no matching target")

// Manager DevTools 端点上的目标发现与附加
type Manager struct {
	devtoolsURL string
	log         logger.Logger
}

// New 创建管理器
func New(devtoolsURL string, l logger.Logger) *Manager {
	if l == nil {
		l = logger.NewNop()
	}
	return &Manager{devtoolsURL: devtoolsURL, log: l}
}

// ListTargets 列出可附加的页面
func (m *Manager) ListTargets(ctx context.Context) ([]model.TargetInfo, error) {
	targets, err := m.pages(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]model.TargetInfo, 0, len(targets))
	for _, t := range targets {
		out = append(out, toInfo(t))
	}
	return out, nil
}

func (m *Manager) pages(ctx context.Context) ([]*devtool.Target, error) {
	all, err := devtool.New(m.devtoolsURL).List(ctx)
	if err != nil {
		return nil, fmt.Errorf("cdp: list targets: %w", err)
	}
	pages := make([]*devtool.Target, 0, len(all))
	for _, t := range all {
		if t.Type == devtool.Page {
			pages = append(pages, t)
		}
	}
	return pages, nil
}

// Resolve 查找目标，id 为空时取第一个页面
func (m *Manager) Resolve(ctx context.Context, id model.TargetID) (*devtool.Target, error) {
	pages, err := m.pages(ctx)
	if err != nil {
		return nil, err
	}
	for _, t := range pages {
		if id == "" || model.TargetID(t.ID) == id {
			return t, nil
		}
	}
	if id == "" {
		return nil, ErrNoTarget
	}
	return nil, fmt.Errorf("%w: %s", ErrNoTarget, id)
}

// Attach 连接目标的调试 WebSocket 并启用 Network 域
func (m *Manager) Attach(ctx context.Context, id model.TargetID) (*Conn, model.TargetInfo, error) {
	t, err := m.Resolve(ctx, id)
	if err != nil {
		return nil, model.TargetInfo{}, err
	}
	rc, err := rpcc.DialContext(ctx, t.WebSocketDebuggerURL)
	if err != nil {
		return nil, model.TargetInfo{}, fmt.Errorf("cdp: dial %s: %w", t.ID, err)
	}
	client := cdp.NewClient(rc)
	if err := client.Network.Enable(ctx, nil); err != nil {
		_ = rc.Close()
		return nil, model.TargetInfo{}, fmt.Errorf("cdp: enable network: %w", err)
	}
	info := toInfo(t)
	info.IsCurrent = true
	m.log.Info("已连接调试目标", "target", t.ID, "url", t.URL)
	return &Conn{rc: rc, client: client}, info, nil
}

func toInfo(t *devtool.Target) model.TargetInfo {
	return model.TargetInfo{
		ID:    model.TargetID(t.ID),
		Type:  string(t.Type),
		URL:   t.URL,
		Title: t.Title,
	}
}

// Conn 单个目标的调试连接
type Conn struct {
	rc     *rpcc.Conn
	client *cdp.Client
}

// Fetch 拦截使用的 Fetch 域
func (c *Conn) Fetch() interceptor.Channel { return c.client.Fetch }

// Network 用于禁用缓存
func (c *Conn) Network() interceptor.NetworkDomain { return c.client.Network }

// Close 断开连接
func (c *Conn) Close() error { return c.rc.Close() }
