package interceptor

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/mafredri/cdp/protocol/fetch"
	"github.com/mafredri/cdp/protocol/network"
)

// backendResponse 模拟后端对某个路径的响应
type backendResponse struct {
	status  int
	headers []fetch.HeaderEntry
	body    string
	decoded string // getResponseBody 返回的解码内容，为空时同 body
	netErr  bool   // 以网络错误结束
	hang    bool // 响应迟迟不到达
}

// outcome 浏览器最终看到的结果
type outcome struct {
	url     string
	status  int
	headers []fetch.HeaderEntry
	body    string
	failed  bool
}

func (o outcome) header(name string) string {
	for _, h := range o.headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

type fakeLoad struct {
	id       fetch.RequestID
	url      string
	method   string
	headers  map[string]string
	postData *string
	stage    string
	resp     backendResponse
	done     chan outcome
}

// fakeBrowser 实现 Channel，模拟浏览器的 Fetch 域与一个简单后端
type fakeBrowser struct {
	mu        sync.Mutex
	backend   map[string]backendResponse
	hits      map[string]int
	enabled   bool
	patterns  []fetch.RequestPattern
	loads     map[fetch.RequestID]*fakeLoad
	seq       int
	commands  []string
	continued []*fetch.ContinueRequestArgs

	events    chan *fetch.RequestPausedReply
	dead      chan struct{}
	deadOnce  sync.Once
	enableErr error
	disables  int
}

func newFakeBrowser() *fakeBrowser {
	html := []fetch.HeaderEntry{{Name: "Content-Type", Value: "text/html; charset=utf-8"}}
	return &fakeBrowser{
		backend: map[string]backendResponse{
			"/cheese":        {status: 200, headers: html, body: "<html><head><title>Hello, World!</title></head><body/></html>"},
			"/other":         {status: 200, headers: html, body: "other page"},
			"/redirect":      {status: 302, headers: []fetch.HeaderEntry{{Name: "Location", Value: "/cheese"}}, body: "Delicious"},
			"/network-error": {netErr: true},
			"/hang":          {status: 200, body: "late"},
		"/gz": {
			status: 200,
			headers: []fetch.HeaderEntry{
				{Name: "Content-Type", Value: "text/html; charset=utf-8"},
				{Name: "Content-Encoding", Value: "gzip"},
				{Name: "Content-Length", Value: "6"},
				{Name: "ETag", Value: `"v1"`},
			},
			body:    "\x1f\x8bGZIP",
			decoded: "<html>decoded plain text</html>",
		},
		},
		hits:   make(map[string]int),
		loads:  make(map[fetch.RequestID]*fakeLoad),
		events: make(chan *fetch.RequestPausedReply, 128),
		dead:   make(chan struct{}),
	}
}

func (b *fakeBrowser) serve(raw string) backendResponse {
	u, err := url.Parse(raw)
	if err != nil {
		return backendResponse{status: 400}
	}
	b.hits[u.Path]++
	if u.Path == "/hang" {
		r := b.backend[u.Path]
		r.hang = true
		return r
	}
	if r, ok := b.backend[u.Path]; ok {
		return r
	}
	return backendResponse{status: 404, body: "not found"}
}

func (b *fakeBrowser) Hits(path string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.hits[path]
}

func (b *fakeBrowser) Commands() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.commands...)
}

func (b *fakeBrowser) Continued() []*fetch.ContinueRequestArgs {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*fetch.ContinueRequestArgs(nil), b.continued...)
}

func (b *fakeBrowser) Disables() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.disables
}

// Start 发起一次不跟随重定向的加载
func (b *fakeBrowser) Start(raw string) <-chan outcome {
	b.mu.Lock()
	done := make(chan outcome, 1)
	if !b.enabled {
		resp := b.serve(raw)
		b.mu.Unlock()
		done <- toOutcome(raw, resp)
		return done
	}
	b.seq++
	l := &fakeLoad{
		id:      fetch.RequestID(fmt.Sprintf("interception-job-%d.0", b.seq)),
		url:     raw,
		method:  "GET",
		headers: map[string]string{"Accept": "text/html", "User-Agent": "fake"},
		stage:   "request",
		done:    done,
	}
	b.loads[l.id] = l
	b.mu.Unlock()

	b.emit(l.requestPaused())
	return done
}

// Load 加载并跟随重定向，超时返回失败
func (b *fakeBrowser) Load(raw string) outcome {
	for i := 0; i < 5; i++ {
		var out outcome
		select {
		case out = <-b.Start(raw):
		case <-time.After(5 * time.Second):
			return outcome{url: raw, failed: true, body: "timeout"}
		}
		if loc := out.header("Location"); out.status >= 300 && out.status < 400 && loc != "" {
			base, _ := url.Parse(raw)
			next, err := base.Parse(loc)
			if err != nil {
				return out
			}
			raw = next.String()
			continue
		}
		return out
	}
	return outcome{url: raw, failed: true, body: "too many redirects"}
}

// Disconnect 模拟浏览器断开
func (b *fakeBrowser) Disconnect() {
	b.deadOnce.Do(func() { close(b.dead) })
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, l := range b.loads {
		l.done <- outcome{url: l.url, failed: true, body: "disconnected"}
		delete(b.loads, id)
	}
}

func (b *fakeBrowser) emit(ev *fetch.RequestPausedReply) {
	select {
	case b.events <- ev:
	case <-b.dead:
	}
}

func (l *fakeLoad) requestPaused() *fetch.RequestPausedReply {
	h, _ := json.Marshal(l.headers)
	return &fetch.RequestPausedReply{
		RequestID:    l.id,
		ResourceType: network.ResourceTypeDocument,
		Request: network.Request{
			URL:      l.url,
			Method:   l.method,
			Headers:  network.Headers(h),
			PostData: l.postData,
		},
	}
}

func (l *fakeLoad) responsePaused() *fetch.RequestPausedReply {
	ev := l.requestPaused()
	if l.resp.netErr {
		reason := network.ErrorReasonConnectionRefused
		ev.ResponseErrorReason = &reason
		return ev
	}
	status := l.resp.status
	ev.ResponseStatusCode = &status
	ev.ResponseHeaders = l.resp.headers
	return ev
}

func toOutcome(raw string, r backendResponse) outcome {
	if r.netErr {
		return outcome{url: raw, failed: true}
	}
	return outcome{url: raw, status: r.status, headers: r.headers, body: r.body}
}

func (b *fakeBrowser) finish(l *fakeLoad, out outcome) {
	delete(b.loads, l.id)
	l.done <- out
}

func (b *fakeBrowser) lookup(id fetch.RequestID, command string) (*fakeLoad, error) {
	select {
	case <-b.dead:
		return nil, errors.New("rpcc: the connection is closing")
	default:
	}
	b.commands = append(b.commands, command)
	l, ok := b.loads[id]
	if !ok {
		return nil, fmt.Errorf("Invalid InterceptionId: %s", id)
	}
	return l, nil
}

func (b *fakeBrowser) Enable(_ context.Context, args *fetch.EnableArgs) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.enableErr != nil {
		return b.enableErr
	}
	b.commands = append(b.commands, "enable")
	b.enabled = true
	b.patterns = args.Patterns
	return nil
}

func (b *fakeBrowser) Disable(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.commands = append(b.commands, "disable")
	b.disables++
	b.enabled = false
	for _, l := range b.loads {
		if l.stage == "request" {
			l.resp = b.serve(l.url)
		}
		b.finish(l, toOutcome(l.url, l.resp))
	}
	return nil
}

func (b *fakeBrowser) RequestPaused(ctx context.Context) (fetch.RequestPausedClient, error) {
	return &fakeStream{b: b, ctx: ctx, closed: make(chan struct{})}, nil
}

func (b *fakeBrowser) ContinueRequest(_ context.Context, args *fetch.ContinueRequestArgs) error {
	b.mu.Lock()
	l, err := b.lookup(args.RequestID, "continueRequest")
	if err != nil {
		b.mu.Unlock()
		return err
	}
	b.continued = append(b.continued, args)
	if l.stage == "response" {
		b.finish(l, toOutcome(l.url, l.resp))
		b.mu.Unlock()
		return nil
	}
	if args.URL != nil {
		l.url = *args.URL
	}
	if args.Method != nil {
		l.method = *args.Method
	}
	if args.PostData != nil {
		s := string(args.PostData)
		l.postData = &s
	}
	l.stage = "response"
	l.resp = b.serve(l.url)
	hang := l.resp.hang
	ev := l.responsePaused()
	b.mu.Unlock()

	if !hang {
		b.emit(ev)
	}
	return nil
}

func (b *fakeBrowser) ContinueResponse(_ context.Context, args *fetch.ContinueResponseArgs) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	l, err := b.lookup(args.RequestID, "continueResponse")
	if err != nil {
		return err
	}
	if l.stage != "response" {
		return errors.New("Can only use continueResponse at the response stage")
	}
	if (args.ResponseCode == nil) != (args.ResponseHeaders == nil) {
		return errors.New("Response code and headers must be overridden together")
	}
	out := toOutcome(l.url, l.resp)
	if args.ResponseCode != nil {
		out.status = *args.ResponseCode
		out.headers = args.ResponseHeaders
	}
	b.finish(l, out)
	return nil
}

func (b *fakeBrowser) FulfillRequest(_ context.Context, args *fetch.FulfillRequestArgs) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	l, err := b.lookup(args.RequestID, "fulfillRequest")
	if err != nil {
		return err
	}
	b.finish(l, outcome{url: l.url, status: args.ResponseCode, headers: args.ResponseHeaders, body: string(args.Body)})
	return nil
}

func (b *fakeBrowser) FailRequest(_ context.Context, args *fetch.FailRequestArgs) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	l, err := b.lookup(args.RequestID, "failRequest")
	if err != nil {
		return err
	}
	b.finish(l, outcome{url: l.url, failed: true, body: string(args.ErrorReason)})
	return nil
}

func (b *fakeBrowser) GetResponseBody(_ context.Context, args *fetch.GetResponseBodyArgs) (*fetch.GetResponseBodyReply, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	l, err := b.lookup(args.RequestID, "getResponseBody")
	if err != nil {
		return nil, err
	}
	if l.stage != "response" {
		return nil, errors.New("Can only get response body on requests captured after headers received")
	}
	body := l.resp.body
	if l.resp.decoded != "" {
		body = l.resp.decoded
	}
	return &fetch.GetResponseBodyReply{
		Body:          base64.StdEncoding.EncodeToString([]byte(body)),
		Base64Encoded: true,
	}, nil
}

// fakeStream 实现 fetch.RequestPausedClient
type fakeStream struct {
	b      *fakeBrowser
	ctx    context.Context
	once   sync.Once
	closed chan struct{}
}

func (s *fakeStream) Ready() <-chan struct{} {
	ch := make(chan struct{}, 1)
	ch <- struct{}{}
	return ch
}

func (s *fakeStream) RecvMsg(m interface{}) error {
	ev, err := s.Recv()
	if err != nil {
		return err
	}
	if p, ok := m.(*fetch.RequestPausedReply); ok {
		*p = *ev
	}
	return nil
}

func (s *fakeStream) Recv() (*fetch.RequestPausedReply, error) {
	select {
	case ev := <-s.b.events:
		return ev, nil
	case <-s.closed:
		return nil, errors.New("rpcc: the stream is closing")
	case <-s.b.dead:
		return nil, errors.New("rpcc: the connection is closing")
	case <-s.ctx.Done():
		return nil, s.ctx.Err()
	}
}

func (s *fakeStream) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

// fakeNetwork 记录 Network 域调用
type fakeNetwork struct {
	mu       sync.Mutex
	disabled bool
}

func (n *fakeNetwork) SetCacheDisabled(_ context.Context, args *network.SetCacheDisabledArgs) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.disabled = args.CacheDisabled
	return nil
}
