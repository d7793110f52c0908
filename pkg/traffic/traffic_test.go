package traffic

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeaderCaseInsensitiveAndOrdered(t *testing.T) {
	var h Header
	h.Add("Set-Cookie", "a=1")
	h.Add("Content-Type", "text/html")
	h.Add("set-cookie", "b=2")

	assert.Equal(t, "a=1", h.Get("SET-COOKIE"))
	assert.Equal(t, []string{"a=1", "b=2"}, h.Values("Set-Cookie"))
	assert.Equal(t, []string{"Set-Cookie", "Content-Type"}, h.Names())
	assert.True(t, h.Has("content-type"))
	assert.Equal(t, "", h.Get("missing"))
}

func TestHeaderSetReplacesInPlace(t *testing.T) {
	h := NewHeader("A", "1", "B", "2", "a", "3")
	h.Set("a", "x")

	assert.Equal(t, []Field{{Name: "a", Value: "x"}, {Name: "B", Value: "2"}}, h.Fields())

	h.Set("C", "4")
	assert.Equal(t, 3, h.Len())
	assert.Equal(t, "4", h.Get("c"))

	h.Del("B")
	assert.False(t, h.Has("b"))
}

func TestHeaderCloneIsDetached(t *testing.T) {
	h := NewHeader("X", "1")
	c := h.Clone()
	c.Set("X", "2")
	c.Add("Y", "3")

	assert.Equal(t, "1", h.Get("x"))
	assert.Equal(t, 1, h.Len())
}

func TestSentinelComparedByIdentity(t *testing.T) {
	assert.True(t, IsProceed(ProceedWithRequest))
	assert.False(t, IsProceed(&Response{}))
	assert.False(t, IsProceed(ProceedWithRequest.Clone()))
	assert.False(t, IsProceed(nil))
}

func TestSentinelBuildersCopyOnWrite(t *testing.T) {
	res := ProceedWithRequest.SetText("hijacked").SetStatus(201).AddHeader("X-A", "1")

	assert.False(t, IsProceed(res))
	assert.Equal(t, 201, res.StatusCode)
	assert.Equal(t, "hijacked", string(res.Body))
	assert.Equal(t, &Response{}, ProceedWithRequest)
	assert.Zero(t, ProceedWithRequest.Header.Len())

	p, _ := Static(ProceedWithRequest).Execute(context.Background(), nil)
	assert.True(t, IsProceed(p))
	assert.Nil(t, p.Body)
}

func TestRequestWithReturnsCopies(t *testing.T) {
	req := NewRequest("", "http://example.com/a")
	req.Header.Add("Accept", "*/*")

	mod := req.WithURL("http://example.com/b").WithHeader("Accept", "text/html").WithBody([]byte("x"))

	assert.Equal(t, http.MethodGet, req.Method)
	assert.Equal(t, "http://example.com/a", req.URL)
	assert.Equal(t, "*/*", req.Header.Get("accept"))
	assert.Nil(t, req.Body)
	assert.Equal(t, "text/html", mod.Header.Get("accept"))
	assert.False(t, req.Equal(mod))
	assert.True(t, req.Equal(req.Clone()))
}

func TestResponseTextHonoursCharset(t *testing.T) {
	res := NewResponse().
		SetHeader("Content-Type", "text/plain; charset=iso-8859-1").
		SetBody([]byte{'c', 'a', 'f', 0xe9})
	assert.Equal(t, "café", res.Text())

	plain := NewResponse().SetText("héllo")
	assert.Equal(t, "héllo", plain.Text())
}

func TestValidStatus(t *testing.T) {
	assert.True(t, ValidStatus(200))
	assert.True(t, ValidStatus(302))
	assert.False(t, ValidStatus(0))
	assert.False(t, ValidStatus(1000))
}

func recordingFilter(name string, trace *[]string) Filter {
	return func(next Handler) Handler {
		return HandlerFunc(func(ctx context.Context, req *Request) (*Response, error) {
			*trace = append(*trace, name+":pre")
			res, err := next.Execute(ctx, req)
			*trace = append(*trace, name+":post")
			return res, err
		})
	}
}

func TestComposeOrdersOutermostFirst(t *testing.T) {
	var trace []string
	terminal := HandlerFunc(func(context.Context, *Request) (*Response, error) {
		trace = append(trace, "handler")
		return NewResponse(), nil
	})

	h := Compose(recordingFilter("f1", &trace), recordingFilter("f2", &trace))(terminal)
	_, err := h.Execute(context.Background(), NewRequest("GET", "http://x/"))
	require.NoError(t, err)

	assert.Equal(t, []string{"f1:pre", "f2:pre", "handler", "f2:post", "f1:post"}, trace)

	trace = nil
	h = recordingFilter("f1", &trace).AndThen(recordingFilter("f2", &trace)).AndFinally(terminal)
	_, err = h.Execute(context.Background(), NewRequest("GET", "http://x/"))
	require.NoError(t, err)
	assert.Equal(t, []string{"f1:pre", "f2:pre", "handler", "f2:post", "f1:post"}, trace)
}

func TestFilterCanShortCircuitAndRewriteRequest(t *testing.T) {
	var seen string
	terminal := HandlerFunc(func(_ context.Context, req *Request) (*Response, error) {
		seen = req.URL
		return NewResponse().SetText("backend"), nil
	})

	rewrite := Filter(func(next Handler) Handler {
		return HandlerFunc(func(ctx context.Context, req *Request) (*Response, error) {
			return next.Execute(ctx, req.WithURL("http://x/other"))
		})
	})
	block := Filter(func(Handler) Handler {
		return HandlerFunc(func(context.Context, *Request) (*Response, error) {
			return nil, errors.New("blocked")
		})
	})

	res, err := Chain(terminal, rewrite).Execute(context.Background(), NewRequest("GET", "http://x/"))
	require.NoError(t, err)
	assert.Equal(t, "backend", string(res.Body))
	assert.Equal(t, "http://x/other", seen)

	seen = ""
	_, err = Chain(terminal, block, rewrite).Execute(context.Background(), NewRequest("GET", "http://x/"))
	assert.EqualError(t, err, "blocked")
	assert.Empty(t, seen)
}

func TestStaticReturnsFreshCopies(t *testing.T) {
	h := Static(NewResponse().SetText("a"))
	r1, _ := h.Execute(context.Background(), nil)
	r1.SetText("mutated")
	r2, _ := h.Execute(context.Background(), nil)
	assert.Equal(t, "a", string(r2.Body))

	p, _ := Proceed().Execute(context.Background(), nil)
	assert.True(t, IsProceed(p))
}
