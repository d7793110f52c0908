package interceptor

import (
	"context"

	"github.com/mafredri/cdp/protocol/fetch"
	"github.com/mafredri/cdp/protocol/network"
)

// Channel 调试通道上拦截所需的 Fetch 域命令与事件。
//
// (*cdp.Client).Fetch 满足该接口。
type Channel interface {
	Enable(context.Context, *fetch.EnableArgs) error
	Disable(context.Context) error
	RequestPaused(context.Context) (fetch.RequestPausedClient, error)
	ContinueRequest(context.Context, *fetch.ContinueRequestArgs) error
	ContinueResponse(context.Context, *fetch.ContinueResponseArgs) error
	FulfillRequest(context.Context, *fetch.FulfillRequestArgs) error
	FailRequest(context.Context, *fetch.FailRequestArgs) error
	GetResponseBody(context.Context, *fetch.GetResponseBodyArgs) (*fetch.GetResponseBodyReply, error)
}

// NetworkDomain 可选的 Network 域能力，(*cdp.Client).Network 满足该接口
type NetworkDomain interface {
	SetCacheDisabled(context.Context, *network.SetCacheDisabledArgs) error
}
