// Package response writes the JSON envelope every endpoint answers with.
package response

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Envelope is the wire shape of every response. Data is set on success and
// Error on failure; Meta carries paging cursors and similar hints.
type Envelope[T any] struct {
	Status    int       `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id"`
	Success   bool      `json:"success"`
	Message   string    `json:"message"`
	Data      T         `json:"data,omitempty"`
	Meta      any       `json:"meta,omitempty"`
	Error     any       `json:"error,omitempty"`
}

// ErrorBody is the error payload for classified failures. Clients retry on
// Retryable and stay quiet on Suppressed.
type ErrorBody struct {
	Category   string `json:"category"`
	Code       string `json:"code,omitempty"`
	Retryable  bool   `json:"retryable"`
	Suppressed bool   `json:"suppressed"`
	Details    any    `json:"details,omitempty"`
}

func envelope[T any](c *gin.Context, status int, ok bool, msg string) Envelope[T] {
	return Envelope[T]{
		Status:    status,
		Timestamp: time.Now().UTC(),
		RequestID: c.GetString("request_id"),
		Success:   ok,
		Message:   msg,
	}
}

// Success writes data with status (200 when zero).
func Success[T any](c *gin.Context, status int, data T, message string, meta any) Envelope[T] {
	if status == 0 {
		status = http.StatusOK
	}
	resp := envelope[T](c, status, true, message)
	resp.Data, resp.Meta = data, meta
	c.JSON(status, resp)
	return resp
}

// Error writes a failure with status (400 when zero). detail is usually an
// ErrorBody.
func Error(c *gin.Context, status int, message string, detail any) Envelope[any] {
	if status == 0 {
		status = http.StatusBadRequest
	}
	resp := envelope[any](c, status, false, message)
	resp.Error = detail
	c.JSON(status, resp)
	return resp
}

// Abort is Error for middleware: it also stops the handler chain.
func Abort(c *gin.Context, status int, message string, detail any) {
	Error(c, status, message, detail)
	c.Abort()
}
