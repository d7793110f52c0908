// Package route 按谓词把请求分派给 Handler。
//
// 路由按注册顺序匹配，第一个命中的生效。
package route

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"cdpintercept/pkg/traffic"
)

// ErrNoRoute 没有任何路由命中
var ErrNoRoute = errors.New("route: no route matched")

// Predicate 请求谓词
type Predicate func(req *traffic.Request) bool

// Factory 每次命中时创建一个新的 Handler
type Factory func() traffic.Handler

// Route 谓词与 Handler 工厂的组合
type Route struct {
	name    string
	match   Predicate
	factory Factory
}

// Builder 尚未绑定 Handler 的路由
type Builder struct {
	name  string
	match Predicate
}

// Matching 以任意谓词开始一条路由
func Matching(p Predicate) *Builder {
	return &Builder{name: "matching", match: p}
}

// Get 匹配指定路径的 GET 请求
func Get(path string) *Builder {
	return methodAndPath(http.MethodGet, path)
}

// Post 匹配指定路径的 POST 请求
func Post(path string) *Builder {
	return methodAndPath(http.MethodPost, path)
}

// Delete 匹配指定路径的 DELETE 请求
func Delete(path string) *Builder {
	return methodAndPath(http.MethodDelete, path)
}

// Prefix 匹配路径前缀
func Prefix(prefix string) *Builder {
	return &Builder{
		name: "prefix " + prefix,
		match: func(req *traffic.Request) bool {
			return strings.HasPrefix(pathOf(req.URL), prefix)
		},
	}
}

func methodAndPath(method, path string) *Builder {
	return &Builder{
		name: method + " " + path,
		match: func(req *traffic.Request) bool {
			return strings.EqualFold(req.Method, method) && pathOf(req.URL) == path
		},
	}
}

// pathOf 解析失败时返回空串
func pathOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	if u.Path == "" {
		return "/"
	}
	return u.Path
}

// Named 设置路由名称，用于错误信息
func (b *Builder) Named(name string) *Builder {
	b.name = name
	return b
}

// To 绑定 Handler 工厂
func (b *Builder) To(f Factory) Route {
	return Route{name: b.name, match: b.match, factory: f}
}

// ToHandler 绑定固定 Handler，每次命中复用同一个实例
func (b *Builder) ToHandler(h traffic.Handler) Route {
	return b.To(func() traffic.Handler { return h })
}

// Name 路由名称
func (r Route) Name() string { return r.name }

// PredicateError 谓词执行时 panic
type PredicateError struct {
	Route string
	Value any
}

func (e *PredicateError) Error() string {
	return fmt.Sprintf("route %q: predicate panicked: %v", e.Route, e.Value)
}

// Router 有序路由集合
type Router struct {
	routes    []Route
	otherwise traffic.Handler
	onError   func(error)
}

// Combine 按给定顺序组合多条路由
func Combine(routes ...Route) *Router {
	rs := make([]Route, 0, len(routes))
	for _, r := range routes {
		if r.match == nil || r.factory == nil {
			continue
		}
		rs = append(rs, r)
	}
	return &Router{routes: rs}
}

// Otherwise 设置无路由命中时执行的 Handler
func (r *Router) Otherwise(h traffic.Handler) *Router {
	r.otherwise = h
	return r
}

// OnError 设置谓词错误回调
func (r *Router) OnError(fn func(error)) *Router {
	r.onError = fn
	return r
}

// Len 路由数量
func (r *Router) Len() int { return len(r.routes) }

// Match 返回第一个命中的路由；谓词 panic 视为未命中并记录错误
func (r *Router) Match(req *traffic.Request) (Route, bool, error) {
	var errs []error
	for _, rt := range r.routes {
		ok, err := r.test(rt, req)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			return rt, true, errors.Join(errs...)
		}
	}
	return Route{}, false, errors.Join(errs...)
}

func (r *Router) test(rt Route, req *traffic.Request) (ok bool, err error) {
	defer func() {
		if v := recover(); v != nil {
			ok = false
			err = &PredicateError{Route: rt.name, Value: v}
		}
	}()
	return rt.match(req), nil
}

// Execute 实现 traffic.Handler
func (r *Router) Execute(ctx context.Context, req *traffic.Request) (*traffic.Response, error) {
	return r.dispatch(ctx, req, r.otherwise)
}

func (r *Router) dispatch(ctx context.Context, req *traffic.Request, fallback traffic.Handler) (*traffic.Response, error) {
	rt, ok, err := r.Match(req)
	if err != nil {
		r.report(ctx, err)
	}
	if ok {
		h := rt.factory()
		if h == nil {
			return nil, fmt.Errorf("route %q: factory returned nil handler", rt.name)
		}
		return h.Execute(ctx, req)
	}
	if err != nil {
		return nil, err
	}
	if fallback != nil {
		return fallback.Execute(ctx, req)
	}
	return nil, ErrNoRoute
}

// report 优先交给 OnError，未设置时交给 ctx 中的 ErrorReporter
func (r *Router) report(ctx context.Context, err error) {
	if r.onError != nil {
		r.onError(err)
		return
	}
	if fn, ok := ctx.Value(reporterKey{}).(func(error)); ok && fn != nil {
		fn(err)
	}
}

type reporterKey struct{}

// WithErrorReporter 返回携带谓词错误回调的 ctx，供未设置 OnError 的路由器使用
func WithErrorReporter(ctx context.Context, fn func(error)) context.Context {
	return context.WithValue(ctx, reporterKey{}, fn)
}

// AsFilter 把路由器转成 Filter：无路由命中时交给 next
func (r *Router) AsFilter() traffic.Filter {
	return func(next traffic.Handler) traffic.Handler {
		return traffic.HandlerFunc(func(ctx context.Context, req *traffic.Request) (*traffic.Response, error) {
			fallback := r.otherwise
			if fallback == nil {
				fallback = next
			}
			return r.dispatch(ctx, req, fallback)
		})
	}
}
