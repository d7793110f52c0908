package interceptor

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed 拦截器已关闭
	ErrClosed = errors.New("interceptor: closed")
	// ErrChannelClosed 调试通道已断开
	ErrChannelClosed = errors.New("interceptor: debug channel closed")
	// ErrResponseFailed 真实网络请求以网络错误结束
	ErrResponseFailed = errors.New("interceptor: response failed")
	// ErrAlreadyForwarded 同一事务内重复调用 next
	ErrAlreadyForwarded = errors.New("interceptor: request already forwarded")

	errNilResponse = errors.New("interceptor: handler returned nil response")
)

// PanicError Handler 执行时 panic
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("interceptor: handler panicked: %v", e.Value)
}
