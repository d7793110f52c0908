package model

type SessionID string
type TargetID string
type RuleID string

// EventType 拦截事件类型
type EventType string

const (
	EventIntercepted EventType = "intercepted" // 收到请求暂停事件
	EventForwarded   EventType = "forwarded"   // Handler 把请求交给真实网络
	EventProceeded   EventType = "proceeded"   // 原样放行
	EventFulfilled   EventType = "fulfilled"   // 用 Handler 的响应应答
	EventFailed      EventType = "failed"      // 以网络错误结束
	EventDegraded    EventType = "degraded"    // 队列已满或关闭时的降级放行
)

type SessionConfig struct {
	DevToolsURL      string `json:"devToolsURL"`
	Concurrency      int    `json:"concurrency"`
	PendingCapacity  int    `json:"pendingCapacity"`
	CommandTimeoutMS int    `json:"commandTimeoutMS"`
	DisableCache     bool   `json:"disableCache"`
}

type Stats struct {
	Intercepted int64 `json:"intercepted"`
	Forwarded   int64 `json:"forwarded"`
	Proceeded   int64 `json:"proceeded"`
	Fulfilled   int64 `json:"fulfilled"`
	Failed      int64 `json:"failed"`
	Degraded    int64 `json:"degraded"`
	Pending     int   `json:"pending"`
}

type Event struct {
	Type       EventType `json:"type"`
	Session    SessionID `json:"session"`
	Target     TargetID  `json:"target"`
	RequestID  string    `json:"requestID"`
	URL        string    `json:"url"`
	Method     string    `json:"method"`
	StatusCode int       `json:"statusCode"`
	Error      string    `json:"error,omitempty"`
	Timestamp  int64     `json:"timestamp"`
}

type TargetInfo struct {
	ID        TargetID `json:"id"`
	Type      string   `json:"type"`
	URL       string   `json:"url"`
	Title     string   `json:"title"`
	IsCurrent bool     `json:"isCurrent"`
}

// EngineStats 规则命中统计
type EngineStats struct {
	Total   int64            `json:"total"`
	Matched int64            `json:"matched"`
	ByRule  map[RuleID]int64 `json:"byRule"`
}
