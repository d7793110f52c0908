package cdp

import (
	"encoding/base64"
	"fmt"
	"strings"

	"cdpintercept/pkg/traffic"

	"github.com/mafredri/cdp/protocol/fetch"
	"github.com/mafredri/cdp/protocol/network"
	"github.com/tidwall/gjson"
)

// IsResponseStage 判断暂停事件是否处于响应阶段
func IsResponseStage(ev *fetch.RequestPausedReply) bool {
	return ev.ResponseStatusCode != nil || ev.ResponseErrorReason != nil
}

// ToRequest 将 CDP 暂停事件转换为中立 Request 模型，格式异常的字段置空
func ToRequest(ev *fetch.RequestPausedReply) *traffic.Request {
	req := &traffic.Request{
		ID:           string(ev.RequestID),
		URL:          ev.Request.URL,
		Method:       ev.Request.Method,
		ResourceType: string(ev.ResourceType),
		Header:       DecodeHeaders(ev.Request.Headers),
	}
	if ev.Request.PostData != nil {
		req.Body = []byte(*ev.Request.PostData)
	}
	return req
}

// DecodeHeaders 按线上顺序解析 network.Headers；同名多值以换行分隔
func DecodeHeaders(raw network.Headers) traffic.Header {
	var h traffic.Header
	if len(raw) == 0 {
		return h
	}
	res := gjson.ParseBytes(raw)
	if !res.IsObject() {
		return h
	}
	res.ForEach(func(k, v gjson.Result) bool {
		for _, val := range strings.Split(v.String(), "\n") {
			h.Add(k.String(), val)
		}
		return true
	})
	return h
}

// ToResponse 将响应阶段事件与响应体转换为中立 Response 模型
func ToResponse(ev *fetch.RequestPausedReply, body []byte) *traffic.Response {
	res := &traffic.Response{Body: body}
	if ev.ResponseStatusCode != nil {
		res.StatusCode = *ev.ResponseStatusCode
	}
	for _, e := range ev.ResponseHeaders {
		for _, val := range strings.Split(e.Value, "\n") {
			res.Header.Add(e.Name, val)
		}
	}
	return res
}

// DecodeBody 解码 Fetch.getResponseBody 的返回
func DecodeBody(rb *fetch.GetResponseBodyReply) ([]byte, error) {
	if rb == nil {
		return nil, nil
	}
	if !rb.Base64Encoded {
		return []byte(rb.Body), nil
	}
	b, err := base64.StdEncoding.DecodeString(rb.Body)
	if err != nil {
		return nil, fmt.Errorf("base64 decode failed: %w", err)
	}
	return b, nil
}

// ToHeaderEntries 将中立 Header 转换为 CDP Header 条目，同名多值保持为多条
func ToHeaderEntries(h traffic.Header) []fetch.HeaderEntry {
	fields := h.Fields()
	entries := make([]fetch.HeaderEntry, 0, len(fields))
	for _, f := range fields {
		entries = append(entries, fetch.HeaderEntry{Name: f.Name, Value: f.Value})
	}
	return entries
}

// bodyBoundHeaders 描述原始线上响应体的头部。getResponseBody 返回的是解码后的内容，
// 用它应答时这些头部不再成立
var bodyBoundHeaders = []string{"Content-Encoding", "Content-Length", "Content-MD5", "ETag"}

// StripBodyHeaders 返回去掉 bodyBoundHeaders 的响应副本
func StripBodyHeaders(res *traffic.Response) *traffic.Response {
	out := res.Clone()
	for _, name := range bodyBoundHeaders {
		out.Header.Del(name)
	}
	return out
}

// ToContinueResponseArgs 构造 Fetch.continueResponse 参数。状态码与头部相对 orig
// 未变化时不携带覆盖；任一变化时两者同时提供
func ToContinueResponseArgs(id fetch.RequestID, orig, res *traffic.Response) (*fetch.ContinueResponseArgs, error) {
	args := &fetch.ContinueResponseArgs{RequestID: id}
	if res == nil || orig == nil {
		return args, nil
	}
	if res.StatusCode == orig.StatusCode && res.Header.Equal(orig.Header) {
		return args, nil
	}
	if !traffic.ValidStatus(res.StatusCode) {
		return nil, fmt.Errorf("invalid status code %d", res.StatusCode)
	}
	code := res.StatusCode
	args.ResponseCode = &code
	args.ResponseHeaders = ToHeaderEntries(res.Header)
	return args, nil
}

// ToFulfillArgs 构造 Fetch.fulfillRequest 参数
func ToFulfillArgs(id fetch.RequestID, res *traffic.Response) (*fetch.FulfillRequestArgs, error) {
	if res == nil {
		return nil, fmt.Errorf("nil response")
	}
	if !traffic.ValidStatus(res.StatusCode) {
		return nil, fmt.Errorf("invalid status code %d", res.StatusCode)
	}
	args := &fetch.FulfillRequestArgs{
		RequestID:       id,
		ResponseCode:    res.StatusCode,
		ResponseHeaders: ToHeaderEntries(res.Header),
	}
	if len(res.Body) > 0 {
		args.Body = res.Body
	}
	return args, nil
}

// ToContinueArgs 构造 Fetch.continueRequest 参数，只携带相对 orig 发生变化的部分
func ToContinueArgs(id fetch.RequestID, orig, req *traffic.Request) *fetch.ContinueRequestArgs {
	args := &fetch.ContinueRequestArgs{RequestID: id}
	if req == nil || orig == nil {
		return args
	}
	if req.URL != orig.URL {
		u := req.URL
		args.URL = &u
	}
	if req.Method != orig.Method {
		m := req.Method
		args.Method = &m
	}
	if !req.Header.Equal(orig.Header) {
		args.Headers = ToHeaderEntries(req.Header)
	}
	if string(req.Body) != string(orig.Body) {
		args.PostData = req.Body
	}
	return args
}
