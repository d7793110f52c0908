package traffic

import "context"

// Handler 拦截逻辑的基本单元：输入请求，产出响应
type Handler interface {
	Execute(ctx context.Context, req *Request) (*Response, error)
}

// HandlerFunc 函数形式的 Handler
type HandlerFunc func(ctx context.Context, req *Request) (*Response, error)

// Execute 实现 Handler
func (f HandlerFunc) Execute(ctx context.Context, req *Request) (*Response, error) {
	return f(ctx, req)
}

// Filter 包装一个 Handler 得到新的 Handler。
//
// next 就是没有这个 Filter 时本应执行的 Handler。Filter 可以不调用 next 直接返回，
// 也可以调用 next 后改写其响应，或者用修改过的请求调用 next。
type Filter func(next Handler) Handler

// AndThen 组合两个 Filter，f 在外层
func (f Filter) AndThen(inner Filter) Filter {
	return func(next Handler) Handler {
		return f(inner(next))
	}
}

// AndFinally 以 h 作为终点生成 Handler
func (f Filter) AndFinally(h Handler) Handler {
	return f(h)
}

// Compose 按顺序组合多个 Filter，第一个位于最外层：Compose(f1, f2)(h) == f1(f2(h))
func Compose(filters ...Filter) Filter {
	return func(next Handler) Handler {
		h := next
		for i := len(filters) - 1; i >= 0; i-- {
			if filters[i] == nil {
				continue
			}
			h = filters[i](h)
		}
		return h
	}
}

// Chain 把 filters 依次包在 h 外层
func Chain(h Handler, filters ...Filter) Handler {
	return Compose(filters...)(h)
}

// Static 总是返回 resp 副本的 Handler；resp 为 ProceedWithRequest 时原样返回
func Static(resp *Response) Handler {
	return HandlerFunc(func(context.Context, *Request) (*Response, error) {
		if IsProceed(resp) {
			return resp, nil
		}
		return resp.Clone(), nil
	})
}

// Proceed 总是放行的 Handler
func Proceed() Handler {
	return HandlerFunc(func(context.Context, *Request) (*Response, error) {
		return proceed, nil
	})
}
