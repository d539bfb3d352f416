package api

import (
	"fmt"
)

// TransportError 请求没有拿到任何响应 (连接被拒绝、超时、读取中断)
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error (%s): %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// RequestError 后端返回了非 2xx 状态码，或 JSON 中带有 error 字段
type RequestError struct {
	StatusCode int
	Message    string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("api error (%d): %s", e.StatusCode, e.Message)
}

// MalformedResponseError 响应体无法解析为 JSON
// Body 保留原始文本，调用方可以自行决定是否直接展示
type MalformedResponseError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *MalformedResponseError) Error() string {
	body := e.Body
	if len(body) > 120 {
		body = body[:120] + "..."
	}
	return fmt.Sprintf("malformed response (%d): %q", e.StatusCode, body)
}

func (e *MalformedResponseError) Unwrap() error { return e.Err }
