package interceptor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"runtime/debug"

	"github.com/mafredri/cdp/protocol/fetch"
	"github.com/mafredri/cdp/protocol/network"

	adapter "cdpintercept/internal/adapter/cdp"
	"cdpintercept/pkg/model"
	"cdpintercept/pkg/route"
	"cdpintercept/pkg/traffic"
)

// consume 持续接收暂停事件并分发，Handler 不在此协程内执行
func (it *Interceptor) consume() {
	defer close(it.loopDone)
	for {
		ev, err := it.stream.Recv()
		if err != nil {
			it.handleStreamClosed(err)
			return
		}
		if adapter.IsResponseStage(ev) {
			it.onResponsePaused(ev)
		} else {
			it.onRequestPaused(ev)
		}
	}
}

// handleStreamClosed 事件流意外终止时视为隐式关闭：不再发送任何命令
func (it *Interceptor) handleStreamClosed(err error) {
	it.mu.Lock()
	if it.state != StateOpen {
		it.mu.Unlock()
		return
	}
	it.state = StateClosed
	it.dropped = true
	dropped := it.drainLocked()
	it.signalClosingLocked()
	it.mu.Unlock()

	it.cancel()
	if it.pool != nil {
		it.pool.stop()
	}
	it.opts.log.Warn("拦截事件流中断，拦截器已关闭", "error", err, "dropped", len(dropped))
}

func (it *Interceptor) onRequestPaused(ev *fetch.RequestPausedReply) {
	it.stats.intercepted.Add(1)
	ex := newExchange(ev.RequestID, adapter.ToRequest(ev), it.opts.log)

	it.mu.Lock()
	if it.state != StateOpen {
		it.mu.Unlock()
		it.continuePaused(ev)
		return
	}
	it.pending[ev.RequestID] = ex
	it.mu.Unlock()

	it.sendEvent(eventFor(model.EventIntercepted, ex))
	ex.log.Debug("开始处理请求拦截", "method", ex.request.Method, "url", ex.request.URL)
	it.dispatch(ex)
}

// dispatch 根据并发配置调度单次拦截事件处理
func (it *Interceptor) dispatch(ex *exchange) {
	if it.pool == nil {
		go it.run(ex)
		return
	}
	if !it.pool.submit(func() { it.run(ex) }) {
		it.degrade(ex, "并发队列已满")
	}
}

// onResponsePaused 把真实响应交给等待中的 next；没有等待者时直接放行
func (it *Interceptor) onResponsePaused(ev *fetch.RequestPausedReply) {
	failed := ev.ResponseErrorReason != nil

	it.mu.Lock()
	ex, ok := it.pending[ev.RequestID]
	waiting := ok && !ex.resolved && ex.phase == phaseForwarded
	if waiting {
		if failed {
			ex.resolved = true
			delete(it.pending, ev.RequestID)
		} else {
			ex.phase = phaseResponse
		}
	}
	it.mu.Unlock()

	if !waiting || failed {
		it.continuePaused(ev)
	}
	if waiting {
		ex.response <- ev
	}
}

// continuePaused 原样放行一个未被跟踪的暂停事件
func (it *Interceptor) continuePaused(ev *fetch.RequestPausedReply) {
	ctx, cancel := it.commandContext()
	defer cancel()
	var err error
	if adapter.IsResponseStage(ev) && ev.ResponseErrorReason == nil {
		err = it.ch.ContinueResponse(ctx, &fetch.ContinueResponseArgs{RequestID: ev.RequestID})
	} else {
		err = it.ch.ContinueRequest(ctx, &fetch.ContinueRequestArgs{RequestID: ev.RequestID})
	}
	if err != nil {
		it.opts.log.Err(err, "放行暂停事件失败", "requestID", string(ev.RequestID))
	}
}

// run 执行 Handler 并把结果转换为协议命令
func (it *Interceptor) run(ex *exchange) {
	it.mu.Lock()
	skip := ex.resolved
	it.mu.Unlock()
	if skip {
		return
	}

	res, err := it.invoke(ex)
	switch {
	case errors.Is(err, route.ErrNoRoute):
		it.proceed(ex)
	case err != nil:
		it.fail(ex, err)
	case traffic.IsProceed(res):
		it.proceed(ex)
	case res == nil:
		it.fail(ex, errNilResponse)
	default:
		it.fulfill(ex, res)
	}
}

func (it *Interceptor) invoke(ex *exchange) (res *traffic.Response, err error) {
	defer func() {
		if v := recover(); v != nil {
			res, err = nil, &PanicError{Value: v, Stack: debug.Stack()}
		}
	}()
	h := it.filter(it.networkFor(ex))
	if h == nil {
		return nil, fmt.Errorf("interceptor: filter returned nil handler")
	}
	ctx := route.WithErrorReporter(it.ctx, func(err error) {
		ex.log.Err(err, "路由谓词执行异常", "url", ex.request.URL)
	})
	return h.Execute(ctx, ex.request.Clone())
}

// networkFor 返回绑定到该事务的真实网络 Handler
func (it *Interceptor) networkFor(ex *exchange) traffic.Handler {
	return traffic.HandlerFunc(func(ctx context.Context, req *traffic.Request) (*traffic.Response, error) {
		return it.forward(ctx, ex, req)
	})
}

// forward 放行请求（携带 req 相对原始请求的改动），等待响应阶段暂停并返回真实响应副本
func (it *Interceptor) forward(ctx context.Context, ex *exchange, req *traffic.Request) (*traffic.Response, error) {
	if req == nil {
		req = ex.request
	}
	it.mu.Lock()
	switch {
	case ex.resolved:
		it.mu.Unlock()
		return nil, it.closedErr()
	case ex.forwarded:
		it.mu.Unlock()
		return nil, ErrAlreadyForwarded
	}
	ex.forwarded = true
	ex.phase = phaseForwarded
	it.mu.Unlock()

	args := adapter.ToContinueArgs(ex.id, ex.request, req)
	cctx, cancel := it.commandContext()
	err := it.ch.ContinueRequest(cctx, args)
	cancel()
	if err != nil {
		it.mu.Lock()
		if !ex.resolved {
			ex.phase = phaseRequest
		}
		it.mu.Unlock()
		return nil, fmt.Errorf("interceptor: continue request: %w", err)
	}
	it.stats.forwarded.Add(1)
	it.sendEvent(eventFor(model.EventForwarded, ex))
	ex.log.Debug("请求已交给真实网络", "modified", args.URL != nil || args.Method != nil || args.Headers != nil || args.PostData != nil)

	select {
	case ev := <-ex.response:
		if ev.ResponseErrorReason != nil {
			return nil, fmt.Errorf("%w: %s", ErrResponseFailed, *ev.ResponseErrorReason)
		}
		res := adapter.ToResponse(ev, it.fetchBody(ex, ev))
		it.mu.Lock()
		ex.upstream = res.Clone()
		it.mu.Unlock()
		return res, nil
	case <-it.closing:
		return nil, it.closedErr()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// fetchBody 获取响应体，重定向或获取失败时返回空
func (it *Interceptor) fetchBody(ex *exchange, ev *fetch.RequestPausedReply) []byte {
	if code := ev.ResponseStatusCode; code != nil && *code >= 300 && *code < 400 {
		return nil
	}
	ctx, cancel := it.commandContext()
	defer cancel()
	rb, err := it.ch.GetResponseBody(ctx, &fetch.GetResponseBodyArgs{RequestID: ev.RequestID})
	if err != nil {
		ex.log.Debug("获取响应体失败", "error", err)
		return nil
	}
	body, err := adapter.DecodeBody(rb)
	if err != nil {
		ex.log.Debug("解码响应体失败", "error", err)
		return nil
	}
	return body
}

func (it *Interceptor) closedErr() error {
	it.mu.Lock()
	defer it.mu.Unlock()
	if it.dropped {
		return ErrChannelClosed
	}
	return ErrClosed
}

// claim 标记事务已解决并返回其所处阶段；已解决过的返回 false
func (it *Interceptor) claim(ex *exchange) (phase, bool) {
	it.mu.Lock()
	defer it.mu.Unlock()
	if ex.resolved {
		return 0, false
	}
	ex.resolved = true
	delete(it.pending, ex.id)
	return ex.phase, true
}

func (it *Interceptor) proceed(ex *exchange) {
	p, ok := it.claim(ex)
	if !ok {
		return
	}
	it.continueAt(ex, p)
	it.stats.proceeded.Add(1)
	it.sendEvent(eventFor(model.EventProceeded, ex))
	ex.log.Debug("请求原样放行")
}

func (it *Interceptor) fulfill(ex *exchange, res *traffic.Response) {
	it.mu.Lock()
	upstream := ex.upstream
	it.mu.Unlock()
	if upstream != nil && bytes.Equal(res.Body, upstream.Body) {
		it.passThrough(ex, upstream, res)
		return
	}
	if upstream != nil {
		res = adapter.StripBodyHeaders(res)
	}
	args, err := adapter.ToFulfillArgs(ex.id, res)
	if err != nil {
		it.fail(ex, err)
		return
	}
	p, ok := it.claim(ex)
	if !ok {
		return
	}
	if p == phaseForwarded {
		ex.log.Warn("响应尚未到达，无法应答", "status", res.StatusCode)
		return
	}
	it.send(ex, "fulfillRequest", func(ctx context.Context) error {
		return it.ch.FulfillRequest(ctx, args)
	})
	it.answered(ex, res.StatusCode)
}

// passThrough 响应体未被改动时沿用浏览器持有的原始（可能已压缩的）响应体，
// 只覆盖变化了的状态码与头部
func (it *Interceptor) passThrough(ex *exchange, upstream, res *traffic.Response) {
	args, err := adapter.ToContinueResponseArgs(ex.id, upstream, res)
	if err != nil {
		it.fail(ex, err)
		return
	}
	p, ok := it.claim(ex)
	if !ok {
		return
	}
	if p != phaseResponse {
		ex.log.Warn("事务不在响应阶段，无法沿用原始响应", "status", res.StatusCode)
		return
	}
	it.send(ex, "continueResponse", func(ctx context.Context) error {
		return it.ch.ContinueResponse(ctx, args)
	})
	it.answered(ex, res.StatusCode)
}

func (it *Interceptor) answered(ex *exchange, status int) {
	it.stats.fulfilled.Add(1)
	evt := eventFor(model.EventFulfilled, ex)
	evt.StatusCode = status
	it.sendEvent(evt)
	ex.log.Debug("使用 Handler 响应应答", "status", status)
}

func (it *Interceptor) fail(ex *exchange, cause error) {
	p, ok := it.claim(ex)
	if !ok {
		ex.log.Debug("事务已解决，忽略 Handler 错误", "error", cause)
		return
	}
	ex.log.Err(cause, "Handler 执行失败，以网络错误结束请求", "url", ex.request.URL)
	if p != phaseForwarded {
		it.send(ex, "failRequest", func(ctx context.Context) error {
			return it.ch.FailRequest(ctx, &fetch.FailRequestArgs{RequestID: ex.id, ErrorReason: network.ErrorReasonFailed})
		})
	}
	it.stats.failed.Add(1)
	evt := eventFor(model.EventFailed, ex)
	evt.Error = cause.Error()
	it.sendEvent(evt)
}

// degrade 统一的降级处理：直接放行请求
func (it *Interceptor) degrade(ex *exchange, reason string) {
	p, ok := it.claim(ex)
	if !ok {
		return
	}
	ex.log.Warn("执行降级策略：直接放行", "reason", reason)
	it.continueAt(ex, p)
	it.stats.degraded.Add(1)
	it.sendEvent(eventFor(model.EventDegraded, ex))
}

// release 关闭时放行已被 drain 标记的事务
func (it *Interceptor) release(ex *exchange) {
	it.continueAt(ex, ex.phase)
	it.stats.degraded.Add(1)
	it.sendEvent(eventFor(model.EventDegraded, ex))
}

func (it *Interceptor) continueAt(ex *exchange, p phase) {
	switch p {
	case phaseRequest:
		it.send(ex, "continueRequest", func(ctx context.Context) error {
			return it.ch.ContinueRequest(ctx, &fetch.ContinueRequestArgs{RequestID: ex.id})
		})
	case phaseResponse:
		it.send(ex, "continueResponse", func(ctx context.Context) error {
			return it.ch.ContinueResponse(ctx, &fetch.ContinueResponseArgs{RequestID: ex.id})
		})
	}
}

func (it *Interceptor) send(ex *exchange, name string, fn func(context.Context) error) {
	ctx, cancel := it.commandContext()
	defer cancel()
	if err := fn(ctx); err != nil {
		ex.log.Err(err, "发送协议命令失败", "command", name)
	}
}
