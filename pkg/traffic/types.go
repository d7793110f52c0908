package traffic

import (
	"bytes"
	"io"
	"mime"
	"net/http"
	"unicode/utf8"

	"golang.org/x/net/html/charset"
)

// Request 中立的请求模型
//
// 交给 Handler 的 Request 视为只读；需要改写下游请求时使用 With* 系列方法得到副本。
type Request struct {
	ID           string // 拦截事务ID
	URL          string // 完整URL
	Method       string // HTTP方法
	Header       Header // 请求头
	Body         []byte // 请求体原始数据
	ResourceType string // 资源类型 (如 Document, XHR)
}

// Response 中立的响应模型
type Response struct {
	StatusCode int    // 状态码
	Header     Header // 响应头
	Body       []byte // 响应体数据
}

var proceed = &Response{}

// ProceedWithRequest 特殊响应：放弃本次决定，让原始请求照常发出。
//
// 只按指针身份识别，字段值与之相同的其他 Response 不会被当作放行信号。
// 所有 Handler 共享同一个值：不要重新赋值，也不要直接改写其字段。
// 对它调用 SetStatus、SetHeader 等构造方法会返回一个新的 Response，它本身不变。
var ProceedWithRequest = proceed

// IsProceed 判断 r 是否为放行信号本身
func IsProceed(r *Response) bool {
	return r != nil && r == proceed
}

// writable 构造方法的写入目标；放行信号写时复制为普通响应
func (r *Response) writable() *Response {
	if IsProceed(r) {
		return NewResponse()
	}
	return r
}

// NewRequest 创建初始化请求对象
func NewRequest(method, url string) *Request {
	if method == "" {
		method = http.MethodGet
	}
	return &Request{Method: method, URL: url}
}

// NewResponse 创建初始化响应对象
func NewResponse() *Response {
	return &Response{StatusCode: http.StatusOK}
}

// Clone 深拷贝请求
func (r *Request) Clone() *Request {
	if r == nil {
		return nil
	}
	c := *r
	c.Header = r.Header.Clone()
	if r.Body != nil {
		c.Body = append([]byte(nil), r.Body...)
	}
	return &c
}

// WithURL 返回修改了 URL 的副本
func (r *Request) WithURL(url string) *Request {
	c := r.Clone()
	c.URL = url
	return c
}

// WithMethod 返回修改了方法的副本
func (r *Request) WithMethod(method string) *Request {
	c := r.Clone()
	c.Method = method
	return c
}

// WithHeader 返回设置了指定头部的副本
func (r *Request) WithHeader(name, value string) *Request {
	c := r.Clone()
	c.Header.Set(name, value)
	return c
}

// WithBody 返回替换了请求体的副本
func (r *Request) WithBody(body []byte) *Request {
	c := r.Clone()
	c.Body = append([]byte(nil), body...)
	return c
}

// Equal 比较两个请求在网络语义上是否相同（忽略 ID 与 ResourceType）
func (r *Request) Equal(o *Request) bool {
	if r == nil || o == nil {
		return r == o
	}
	return r.Method == o.Method && r.URL == o.URL &&
		r.Header.Equal(o.Header) && bytes.Equal(r.Body, o.Body)
}

// Clone 深拷贝响应
func (r *Response) Clone() *Response {
	if r == nil {
		return nil
	}
	c := *r
	c.Header = r.Header.Clone()
	if r.Body != nil {
		c.Body = append([]byte(nil), r.Body...)
	}
	return &c
}

// SetStatus 设置状态码
func (r *Response) SetStatus(code int) *Response {
	r = r.writable()
	r.StatusCode = code
	return r
}

// AddHeader 追加响应头
func (r *Response) AddHeader(name, value string) *Response {
	r = r.writable()
	r.Header.Add(name, value)
	return r
}

// SetHeader 替换响应头
func (r *Response) SetHeader(name, value string) *Response {
	r = r.writable()
	r.Header.Set(name, value)
	return r
}

// RemoveHeader 删除响应头
func (r *Response) RemoveHeader(name string) *Response {
	r = r.writable()
	r.Header.Del(name)
	return r
}

// SetBody 设置原始响应体
func (r *Response) SetBody(b []byte) *Response {
	r = r.writable()
	r.Body = b
	return r
}

// SetText 以 UTF-8 设置文本响应体
func (r *Response) SetText(s string) *Response {
	r = r.writable()
	r.Body = []byte(s)
	return r
}

// Text 按 Content-Type 声明的字符集解码响应体，未声明或无法识别时按 UTF-8 处理
func (r *Response) Text() string {
	return decodeText(r.Header.Get("Content-Type"), r.Body)
}

// Text 按 Content-Type 声明的字符集解码请求体
func (r *Request) Text() string {
	return decodeText(r.Header.Get("Content-Type"), r.Body)
}

// ValidStatus 判断状态码是否为常规三位 HTTP 状态码
func ValidStatus(code int) bool {
	return code >= 100 && code <= 599
}

func decodeText(contentType string, body []byte) string {
	if len(body) == 0 {
		return ""
	}
	label := ""
	if contentType != "" {
		if _, params, err := mime.ParseMediaType(contentType); err == nil {
			label = params["charset"]
		}
	}
	if label == "" {
		return string(body)
	}
	rd, err := charset.NewReaderLabel(label, bytes.NewReader(body))
	if err != nil {
		return string(body)
	}
	out, err := io.ReadAll(rd)
	if err != nil || !utf8.Valid(out) {
		return string(body)
	}
	return string(out)
}
