package route

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cdpintercept/pkg/traffic"
)

func text(s string) traffic.Handler {
	return traffic.Static(traffic.NewResponse().SetText(s))
}

func TestCombineFirstMatchWins(t *testing.T) {
	r := Combine(
		Get("/redirect").ToHandler(text("redirect")),
		Matching(func(*traffic.Request) bool { return true }).ToHandler(text("catch-all")),
		Get("/cheese").ToHandler(text("never")),
	)

	res, err := r.Execute(context.Background(), traffic.NewRequest("GET", "http://localhost/redirect"))
	require.NoError(t, err)
	assert.Equal(t, "redirect", string(res.Body))

	res, err = r.Execute(context.Background(), traffic.NewRequest("GET", "http://localhost/cheese"))
	require.NoError(t, err)
	assert.Equal(t, "catch-all", string(res.Body))
}

func TestEmptyRouterMatchesNothing(t *testing.T) {
	_, err := Combine().Execute(context.Background(), traffic.NewRequest("GET", "http://x/"))
	assert.ErrorIs(t, err, ErrNoRoute)
}

func TestNoMatchUsesOtherwise(t *testing.T) {
	r := Combine(Matching(func(*traffic.Request) bool { return false }).ToHandler(text("no"))).
		Otherwise(traffic.Proceed())

	res, err := r.Execute(context.Background(), traffic.NewRequest("GET", "http://x/"))
	require.NoError(t, err)
	assert.True(t, traffic.IsProceed(res))
}

func TestFactoryInvokedPerDispatch(t *testing.T) {
	calls := 0
	r := Combine(Matching(func(*traffic.Request) bool { return true }).To(func() traffic.Handler {
		calls++
		ran := false
		return traffic.HandlerFunc(func(context.Context, *traffic.Request) (*traffic.Response, error) {
			assert.False(t, ran)
			ran = true
			return traffic.ProceedWithRequest, nil
		})
	}))

	for i := 0; i < 3; i++ {
		_, err := r.Execute(context.Background(), traffic.NewRequest("GET", "http://x/"))
		require.NoError(t, err)
	}
	assert.Equal(t, 3, calls)
}

func TestPanickingPredicateIsNonMatch(t *testing.T) {
	var reported []error
	boom := Matching(func(*traffic.Request) bool { panic("boom") }).Named("boom").ToHandler(text("boom"))

	r := Combine(boom, Prefix("/ok").ToHandler(text("ok"))).
		OnError(func(err error) { reported = append(reported, err) })

	res, err := r.Execute(context.Background(), traffic.NewRequest("GET", "http://x/ok/1"))
	require.NoError(t, err)
	assert.Equal(t, "ok", string(res.Body))
	require.Len(t, reported, 1)

	_, err = r.Execute(context.Background(), traffic.NewRequest("GET", "http://x/other"))
	var pe *PredicateError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "boom", pe.Route)
	assert.Len(t, reported, 2)
}

func TestPredicateErrorsGoToContextReporter(t *testing.T) {
	var fromCtx []error
	ctx := WithErrorReporter(context.Background(), func(err error) { fromCtx = append(fromCtx, err) })
	boom := Matching(func(*traffic.Request) bool { panic("boom") }).Named("boom").ToHandler(text("boom"))

	r := Combine(boom, Prefix("/ok").ToHandler(text("ok")))
	res, err := r.Execute(ctx, traffic.NewRequest("GET", "http://x/ok"))
	require.NoError(t, err)
	assert.Equal(t, "ok", string(res.Body))
	require.Len(t, fromCtx, 1)
	assert.ErrorContains(t, fromCtx[0], "predicate panicked")

	var own int
	r.OnError(func(error) { own++ })
	_, err = r.Execute(ctx, traffic.NewRequest("GET", "http://x/ok"))
	require.NoError(t, err)
	assert.Equal(t, 1, own)
	assert.Len(t, fromCtx, 1)
}

func TestMethodMatchers(t *testing.T) {
	r := Combine(
		Post("/form").ToHandler(text("post")),
		Delete("/form").ToHandler(text("delete")),
	)

	res, err := r.Execute(context.Background(), traffic.NewRequest("POST", "http://x/form?a=1"))
	require.NoError(t, err)
	assert.Equal(t, "post", string(res.Body))

	res, err = r.Execute(context.Background(), traffic.NewRequest("DELETE", "http://x/form"))
	require.NoError(t, err)
	assert.Equal(t, "delete", string(res.Body))

	_, err = r.Execute(context.Background(), traffic.NewRequest("GET", "http://x/form"))
	assert.ErrorIs(t, err, ErrNoRoute)
}

func TestAsFilterFallsThroughToNext(t *testing.T) {
	network := text("network")
	h := Combine(Get("/mock").ToHandler(text("mock"))).AsFilter()(network)

	res, err := h.Execute(context.Background(), traffic.NewRequest("GET", "http://x/mock"))
	require.NoError(t, err)
	assert.Equal(t, "mock", string(res.Body))

	res, err = h.Execute(context.Background(), traffic.NewRequest("GET", "http://x/real"))
	require.NoError(t, err)
	assert.Equal(t, "network", string(res.Body))
}
