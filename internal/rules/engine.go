package rules

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"mime"
	"regexp"
	"sort"
	"sync/atomic"
	"time"

	"github.com/tidwall/sjson"

	"cdpintercept/internal/logger"
	"cdpintercept/pkg/model"
	"cdpintercept/pkg/route"
	"cdpintercept/pkg/rulespec"
	"cdpintercept/pkg/traffic"
)

// ErrFailed 请求被 fail 规则终止
var ErrFailed = errors.New("rules: request failed by rule")

// 响应体被改写后不再可信的响应头
var staleHeaders = []string{"Content-Length", "Content-Encoding", "Content-MD5", "ETag"}

// Engine 编译后的规则集，可并发使用
type Engine struct {
	rules   []*compiled
	log     logger.Logger
	total   atomic.Int64
	matched atomic.Int64
}

type compiled struct {
	rule    rulespec.Rule
	match   route.Predicate
	body    []byte
	replace []*regexp.Regexp
	hits    atomic.Int64
}

// New 编译规则集。禁用的规则被跳过，其余按优先级降序排列
func New(rs *rulespec.RuleSet, l logger.Logger) (*Engine, error) {
	if l == nil {
		l = logger.NewNop()
	}
	e := &Engine{log: l}
	if rs == nil {
		return e, nil
	}
	for _, r := range rs.Rules {
		if r.Disabled {
			continue
		}
		c, err := compileRule(r)
		if err != nil {
			return nil, fmt.Errorf("rules: rule %q: %w", r.ID, err)
		}
		e.rules = append(e.rules, c)
	}
	sort.SliceStable(e.rules, func(i, j int) bool {
		return e.rules[i].rule.Priority > e.rules[j].rule.Priority
	})
	return e, nil
}

func compileRule(r rulespec.Rule) (*compiled, error) {
	m, err := compileMatch(r.Match)
	if err != nil {
		return nil, err
	}
	c := &compiled{rule: r, match: m}
	switch r.Action.Type {
	case "respond":
		if r.Action.Respond == nil {
			return nil, fmt.Errorf("respond action without respond block")
		}
		c.body = []byte(r.Action.Respond.Body)
		if r.Action.Respond.Base64 {
			if c.body, err = base64.StdEncoding.DecodeString(r.Action.Respond.Body); err != nil {
				return nil, fmt.Errorf("respond body: %w", err)
			}
		}
	case "rewrite":
		if r.Action.Rewrite == nil {
			return nil, fmt.Errorf("rewrite action without rewrite block")
		}
		for _, rp := range r.Action.Rewrite.Replace {
			re, err := regexp.Compile(rp.Pattern)
			if err != nil {
				return nil, fmt.Errorf("replace: %w", err)
			}
			c.replace = append(c.replace, re)
		}
	}
	return c, nil
}

// Len 生效规则数
func (e *Engine) Len() int { return len(e.rules) }

// Filter 把规则集转换为 Filter：按优先级第一个命中的规则生效，未命中交给 next
func (e *Engine) Filter() traffic.Filter {
	return func(next traffic.Handler) traffic.Handler {
		routes := make([]route.Route, 0, len(e.rules))
		for _, c := range e.rules {
			c := c
			routes = append(routes, route.Matching(c.match).Named(string(c.rule.ID)).To(func() traffic.Handler {
				return e.handler(c, next)
			}))
		}
		router := route.Combine(routes...).Otherwise(next).OnError(func(err error) {
			e.log.Err(err, "规则条件执行异常")
		})
		return traffic.HandlerFunc(func(ctx context.Context, req *traffic.Request) (*traffic.Response, error) {
			e.total.Add(1)
			return router.Execute(ctx, req)
		})
	}
}

// Stats 命中统计快照
func (e *Engine) Stats() model.EngineStats {
	by := make(map[model.RuleID]int64, len(e.rules))
	for _, c := range e.rules {
		by[c.rule.ID] = c.hits.Load()
	}
	return model.EngineStats{Total: e.total.Load(), Matched: e.matched.Load(), ByRule: by}
}

func (e *Engine) handler(c *compiled, next traffic.Handler) traffic.Handler {
	return traffic.HandlerFunc(func(ctx context.Context, req *traffic.Request) (*traffic.Response, error) {
		c.hits.Add(1)
		e.matched.Add(1)
		e.log.Debug("规则命中", "rule", string(c.rule.ID), "action", c.rule.Action.Type, "url", req.URL)

		if d := c.rule.Action.DelayMS; d > 0 {
			t := time.NewTimer(time.Duration(d) * time.Millisecond)
			select {
			case <-t.C:
			case <-ctx.Done():
				t.Stop()
				return nil, ctx.Err()
			}
		}

		switch c.rule.Action.Type {
		case "respond":
			return c.respond(), nil
		case "fail":
			return nil, fmt.Errorf("%w: %s", ErrFailed, c.rule.ID)
		case "proceed":
			return traffic.ProceedWithRequest, nil
		case "rewrite":
			return c.rewrite(ctx, req, next)
		default:
			return nil, fmt.Errorf("rules: unknown action %q", c.rule.Action.Type)
		}
	})
}

func (c *compiled) respond() *traffic.Response {
	r := c.rule.Action.Respond
	res := traffic.NewResponse()
	if r.Status != 0 {
		res.SetStatus(r.Status)
	}
	for _, k := range sortedKeys(r.Headers) {
		res.AddHeader(k, r.Headers[k])
	}
	return res.SetBody(append([]byte(nil), c.body...))
}

func (c *compiled) rewrite(ctx context.Context, req *traffic.Request, next traffic.Handler) (*traffic.Response, error) {
	rw := c.rule.Action.Rewrite
	out := req
	if rw.URL != "" {
		out = out.WithURL(rw.URL)
	}
	if rw.Method != "" {
		out = out.WithMethod(rw.Method)
	}
	for _, k := range sortedKeys(rw.RequestHeaders) {
		out = out.WithHeader(k, rw.RequestHeaders[k])
	}

	res, err := next.Execute(ctx, out)
	if err != nil || traffic.IsProceed(res) || res == nil {
		return res, err
	}

	if rw.Status != 0 {
		res.SetStatus(rw.Status)
	}
	for _, k := range sortedKeys(rw.Headers) {
		res.SetHeader(k, rw.Headers[k])
	}
	for _, h := range rw.RemoveHeaders {
		res.RemoveHeader(h)
	}
	if len(c.replace) == 0 && len(rw.PatchJSON) == 0 {
		return res, nil
	}

	body := res.Body
	if len(c.replace) > 0 {
		text := res.Text()
		for i, re := range c.replace {
			text = re.ReplaceAllString(text, rw.Replace[i].With)
		}
		body = []byte(text)
		if ct := res.Header.Get("Content-Type"); ct != "" {
			res.SetHeader("Content-Type", utf8ContentType(ct))
		}
	}
	for _, p := range rw.PatchJSON {
		if p.Delete {
			body, err = sjson.DeleteBytes(body, p.Path)
		} else {
			body, err = sjson.SetBytes(body, p.Path, p.Value)
		}
		if err != nil {
			return nil, fmt.Errorf("rules: patch %s: %w", p.Path, err)
		}
	}
	res.SetBody(body)
	for _, h := range staleHeaders {
		res.RemoveHeader(h)
	}
	return res, nil
}

// utf8ContentType 文本已按 UTF-8 重写时修正 charset 参数
func utf8ContentType(ct string) string {
	mt, params, err := mime.ParseMediaType(ct)
	if err != nil {
		return ct
	}
	if _, ok := params["charset"]; !ok {
		return ct
	}
	params["charset"] = "utf-8"
	return mime.FormatMediaType(mt, params)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
