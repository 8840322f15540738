// Package transport defines the request and response envelopes that flow
// through the optimizer and the executors that carry them to the vendor API.
package transport

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Request is an outbound API call. Rules may mutate it in place before it is
// dispatched; it is consumed exactly once by an Executor.
type Request struct {
	ID       string                 `json:"id"`
	Method   string                 `json:"method"`
	Endpoint string                 `json:"endpoint"`
	Params   map[string]interface{} `json:"params,omitempty"`
	Body     interface{}            `json:"body,omitempty"`
	Priority int                    `json:"priority"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// NewRequest creates a request with a generated ID
func NewRequest(method, endpoint string, params map[string]interface{}) *Request {
	return &Request{
		ID:       uuid.New().String(),
		Method:   strings.ToUpper(method),
		Endpoint: endpoint,
		Params:   params,
		Metadata: make(map[string]interface{}),
	}
}

// Key groups requests that can share a batch.
func (r *Request) Key() string {
	return r.Method + ":" + r.Endpoint
}

// SetMetadata sets a metadata value, allocating the map on first use
func (r *Request) SetMetadata(key string, value interface{}) {
	if r.Metadata == nil {
		r.Metadata = make(map[string]interface{})
	}
	r.Metadata[key] = value
}

// Response is the result of executing a Request.
type Response struct {
	ID           string            `json:"id"`
	StatusCode   int               `json:"status_code"`
	Headers      map[string]string `json:"headers,omitempty"`
	Data         interface{}       `json:"data,omitempty"`
	Encoding     string            `json:"encoding,omitempty"`
	ResponseTime time.Duration     `json:"response_time"`
	Success      bool              `json:"success"`
}

// Clone returns a copy that can be handed to another caller. Data is shared;
// the optimizer only ever replaces it, never mutates it.
func (r *Response) Clone() *Response {
	if r == nil {
		return nil
	}
	c := *r
	if r.Headers != nil {
		c.Headers = make(map[string]string, len(r.Headers))
		for k, v := range r.Headers {
			c.Headers[k] = v
		}
	}
	return &c
}

// HasPayload reports whether the response carries a body worth compressing
func (r *Response) HasPayload() bool {
	if r == nil || r.Data == nil {
		return false
	}
	switch d := r.Data.(type) {
	case []byte:
		return len(d) > 0
	case string:
		return d != ""
	}
	return true
}

// Executor carries a request to the remote API.
type Executor interface {
	Execute(ctx context.Context, req *Request) (*Response, error)
}

// ExecutorFunc adapts a function to the Executor interface
type ExecutorFunc func(ctx context.Context, req *Request) (*Response, error)

// Execute calls f(ctx, req)
func (f ExecutorFunc) Execute(ctx context.Context, req *Request) (*Response, error) {
	return f(ctx, req)
}
