package transport

import (
	"encoding/json"
	"net/http"
	"strings"
)

// Request 一次交换的输入
type Request struct {
	Method string
	URL    string
	Header http.Header
	// Body 为 nil 时不发送请求体；[]byte 原样发送；其他值编码为 JSON
	Body any
}

// Response 一次交换拿到的完整响应
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Success 状态码是否在 [200, 300)
func (r *Response) Success() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// JSON 将响应体解码到 v
func (r *Response) JSON(v any) error {
	return json.Unmarshal(r.Body, v)
}

// Message 返回错误响应体中的 "message" 字段，没有时返回空串
func (r *Response) Message() string {
	if len(r.Body) == 0 {
		return ""
	}
	var payload struct {
		Message any `json:"message"`
	}
	if err := json.Unmarshal(r.Body, &payload); err != nil {
		return ""
	}
	switch m := payload.Message.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(m)
	default:
		b, _ := json.Marshal(m)
		return string(b)
	}
}
