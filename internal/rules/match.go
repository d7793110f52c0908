package rules

import (
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/gobwas/glob"
	"github.com/tidwall/gjson"

	"cdpintercept/pkg/route"
	"cdpintercept/pkg/rulespec"
	"cdpintercept/pkg/traffic"
)

type matcher func(req *traffic.Request) bool

func compileMatch(m rulespec.Match) (route.Predicate, error) {
	all, err := compileConditions(m.AllOf)
	if err != nil {
		return nil, err
	}
	anyOf, err := compileConditions(m.AnyOf)
	if err != nil {
		return nil, err
	}
	none, err := compileConditions(m.NoneOf)
	if err != nil {
		return nil, err
	}
	return func(req *traffic.Request) bool {
		for _, f := range all {
			if !f(req) {
				return false
			}
		}
		if len(anyOf) > 0 && !matchAny(anyOf, req) {
			return false
		}
		return !matchAny(none, req)
	}, nil
}

func matchAny(ms []matcher, req *traffic.Request) bool {
	for _, f := range ms {
		if f(req) {
			return true
		}
	}
	return false
}

func compileConditions(cs []rulespec.Condition) ([]matcher, error) {
	out := make([]matcher, 0, len(cs))
	for i, c := range cs {
		m, err := compileCondition(c)
		if err != nil {
			return nil, fmt.Errorf("condition %d (%s): %w", i, c.Type, err)
		}
		out = append(out, m)
	}
	return out, nil
}

func compileCondition(c rulespec.Condition) (matcher, error) {
	if c.Type == "url" {
		return compileURL(c)
	}
	if c.Type == "method" {
		values := c.Values
		if len(values) == 0 && c.Value != "" {
			values = []string{c.Value}
		}
		if len(values) == 0 {
			return nil, fmt.Errorf("method condition without values")
		}
		return func(req *traffic.Request) bool {
			for _, v := range values {
				if strings.EqualFold(req.Method, v) {
					return true
				}
			}
			return false
		}, nil
	}

	test, err := compileOp(c.Op, c.Value)
	if err != nil {
		return nil, err
	}
	switch c.Type {
	case "header":
		if c.Key == "" {
			return nil, fmt.Errorf("header condition without key")
		}
		return func(req *traffic.Request) bool {
			return req.Header.Has(c.Key) && test(req.Header.Get(c.Key))
		}, nil
	case "query":
		if c.Key == "" {
			return nil, fmt.Errorf("query condition without key")
		}
		return func(req *traffic.Request) bool {
			u, err := url.Parse(req.URL)
			if err != nil {
				return false
			}
			q := u.Query()
			return q.Has(c.Key) && test(q.Get(c.Key))
		}, nil
	case "cookie":
		if c.Key == "" {
			return nil, fmt.Errorf("cookie condition without key")
		}
		return func(req *traffic.Request) bool {
			hr := &http.Request{Header: http.Header{"Cookie": req.Header.Values("Cookie")}}
			ck, err := hr.Cookie(c.Key)
			return err == nil && test(ck.Value)
		}, nil
	case "text":
		return func(req *traffic.Request) bool {
			text := req.Text()
			return text != "" && test(text)
		}, nil
	case "json":
		if c.Path == "" {
			return nil, fmt.Errorf("json condition without path")
		}
		return func(req *traffic.Request) bool {
			if !gjson.ValidBytes(req.Body) {
				return false
			}
			v := gjson.GetBytes(req.Body, c.Path)
			return v.Exists() && test(v.String())
		}, nil
	default:
		return nil, fmt.Errorf("unknown condition type %q", c.Type)
	}
}

func compileURL(c rulespec.Condition) (matcher, error) {
	if c.Pattern == "" {
		return nil, fmt.Errorf("url condition without pattern")
	}
	switch c.Mode {
	case "prefix":
		return func(req *traffic.Request) bool { return strings.HasPrefix(req.URL, c.Pattern) }, nil
	case "exact":
		return func(req *traffic.Request) bool { return req.URL == c.Pattern }, nil
	case "regex":
		re, err := regexp.Compile(c.Pattern)
		if err != nil {
			return nil, err
		}
		return func(req *traffic.Request) bool { return re.MatchString(req.URL) }, nil
	default:
		g, err := glob.Compile(c.Pattern)
		if err != nil {
			return nil, err
		}
		return func(req *traffic.Request) bool { return g.Match(req.URL) }, nil
	}
}

// compileOp 空操作符等价于 exists
func compileOp(op, value string) (func(string) bool, error) {
	switch op {
	case "", "exists":
		return func(string) bool { return true }, nil
	case "equals":
		return func(s string) bool { return s == value }, nil
	case "contains":
		return func(s string) bool { return strings.Contains(s, value) }, nil
	case "regex":
		re, err := regexp.Compile(value)
		if err != nil {
			return nil, err
		}
		return re.MatchString, nil
	default:
		return nil, fmt.Errorf("unknown op %q", op)
	}
}
