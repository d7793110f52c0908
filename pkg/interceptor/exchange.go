package interceptor

import (
	"github.com/google/uuid"
	"github.com/mafredri/cdp/protocol/fetch"

	"cdpintercept/internal/logger"
	"cdpintercept/pkg/traffic"
)

// phase 暂停事务当前在浏览器侧的位置
type phase int

const (
	phaseRequest   phase = iota // 暂停在请求阶段
	phaseForwarded              // 已放行请求，等待响应阶段暂停
	phaseResponse               // 暂停在响应阶段
)

// exchange 一次未决的暂停事务。除 response 外的字段由 Interceptor.mu 保护
type exchange struct {
	id        fetch.RequestID
	traceID   string
	request   *traffic.Request
	log       logger.Logger
	phase     phase
	forwarded bool
	resolved  bool
	upstream  *traffic.Response // next 拿到的真实响应，响应体已由浏览器解码
	response  chan *fetch.RequestPausedReply
}

func newExchange(id fetch.RequestID, req *traffic.Request, l logger.Logger) *exchange {
	traceID := uuid.NewString()
	return &exchange{
		id:       id,
		traceID:  traceID,
		request:  req,
		log:      l.With("requestID", string(id), "traceId", traceID),
		response: make(chan *fetch.RequestPausedReply, 1),
	}
}
