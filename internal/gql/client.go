package gql

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/driftwatch/driftwatch/internal/logx"
	"github.com/driftwatch/driftwatch/internal/netutil"
	"github.com/driftwatch/driftwatch/internal/ratelimit"
	"github.com/driftwatch/driftwatch/internal/retry"
)

// The gateway blocks accounts that exceed roughly five requests per second.
// These are protocol constants, not tunables.
const (
	limiterCapacity = 5
	limiterWindow   = time.Second
)

// Authorizer supplies a valid login and the authenticated header set. The
// auth state machine implements it.
type Authorizer interface {
	Validate(ctx context.Context) error
	Headers(gql bool) http.Header
}

// Response is one operation's result. Data stays a raw map so the retry
// matrix can null out error paths and so campaign payloads can be merged
// before a typed decode.
type Response struct {
	Data       map[string]any   `json:"data"`
	Extensions map[string]any   `json:"extensions"`
	Errors     []map[string]any `json:"errors"`
	Err        string           `json:"error"`
	Message    string           `json:"message"`
}

// OperationName returns the operation name the gateway echoed back, if any.
func (r *Response) OperationName() string {
	if r.Extensions != nil {
		if name, ok := r.Extensions["operationName"].(string); ok {
			return name
		}
	}
	return ""
}

// Decode unmarshals Data into a typed value by way of a JSON round trip.
func (r *Response) Decode(v any) error {
	raw, err := json.Marshal(r.Data)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}

// ClientConfig configures a Client. Session and Auth are required.
type ClientConfig struct {
	Session *netutil.Session
	Auth    Authorizer

	// URL overrides the gateway endpoint; tests point it at a fake.
	URL string
	// Sleep waits between retries; injectable for tests.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Client executes persisted-query operations against the GraphQL gateway.
// Safe for concurrent use; every request passes the shared rate limiter.
type Client struct {
	cfg     ClientConfig
	limiter *ratelimit.Limiter
}

func NewClient(cfg ClientConfig) *Client {
	if cfg.URL == "" {
		cfg.URL = Endpoint
	}
	if cfg.Sleep == nil {
		cfg.Sleep = retry.Sleep
	}
	return &Client{
		cfg:     cfg,
		limiter: ratelimit.New(limiterCapacity, limiterWindow),
	}
}

// Request executes a single operation.
func (c *Client) Request(ctx context.Context, op Operation) (*Response, error) {
	payload, err := json.Marshal(op)
	if err != nil {
		return nil, err
	}
	responses, err := c.do(ctx, payload, false, []string{op.Name})
	if err != nil {
		return nil, err
	}
	return responses[0], nil
}

// RequestBatch executes several operations in one round trip. The response
// slice mirrors the request order.
func (c *Client) RequestBatch(ctx context.Context, ops []Operation) ([]*Response, error) {
	payload, err := json.Marshal(ops)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(ops))
	for i, op := range ops {
		names[i] = op.Name
	}
	return c.do(ctx, payload, true, names)
}

// do runs the retry loop. Per sub-response, the error classes are:
//
//	service error, PersistedQueryNotFound  retry once, delay at least 5s
//	service timeout, service unavailable,
//	context deadline exceeded              retry with backoff
//	server error (with a path)             null out the path, keep the result
//	anything else in errors[]              fail with *Error
//	top-level error + message              fail with *Error
func (c *Client) do(ctx context.Context, payload []byte, batch bool, names []string) ([]*Response, error) {
	logx.Callf("gql", "request: %s", strings.Join(names, ", "))
	logx.Debugf("gql", "request payload: %s", payload)

	bo := retry.NewBackoff(retry.BackoffConfig{Max: 60 * time.Second})
	singleRetry := true
	for {
		delay := bo.Next()

		responses, err := c.post(ctx, payload, batch)
		if err != nil {
			return nil, err
		}

		forceRetry := false
		for i, sub := range responses {
			name := names[min(i, len(names)-1)]
			if echoed := sub.OperationName(); echoed != "" {
				name = echoed
			}
			if len(sub.Errors) > 0 {
				handled := false
				for _, errDict := range sub.Errors {
					msg, _ := errDict["message"].(string)
					if msg == "" {
						continue
					}
					if singleRetry && (msg == "service error" || msg == "PersistedQueryNotFound") {
						logx.Errorf("gql", "retrying a %q for %s", msg, name)
						singleRetry = false
						if delay < 5*time.Second {
							delay = 5 * time.Second
						}
						forceRetry = true
						handled = true
						break
					}
					if msg == "server error" {
						// Null out the value the error path points to and
						// keep the rest of the result usable.
						if path, ok := errDict["path"].([]any); ok {
							nullOutPath(sub.Data, path)
						}
						handled = true
						break
					}
					if msg == "service timeout" || msg == "service unavailable" ||
						msg == "context deadline exceeded" {
						forceRetry = true
						handled = true
						break
					}
				}
				if !handled {
					return nil, &Error{Op: name, Errors: sub.Errors}
				}
			} else if sub.Err != "" {
				return nil, &Error{Op: name, Message: fmt.Sprintf("%s: %s", sub.Err, sub.Message)}
			}
			if forceRetry {
				break
			}
		}
		if !forceRetry {
			return responses, nil
		}
		if err := c.cfg.Sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
}

func (c *Client) post(ctx context.Context, payload []byte, batch bool) ([]*Response, error) {
	if err := c.limiter.Acquire(ctx); err != nil {
		return nil, err
	}
	defer c.limiter.Release()

	if err := c.cfg.Auth.Validate(ctx); err != nil {
		return nil, err
	}
	resp, err := c.cfg.Session.Request(ctx, http.MethodPost, c.cfg.URL, netutil.RequestOptions{
		Headers:     c.cfg.Auth.Headers(true),
		Body:        payload,
		ContentType: "application/json",
	})
	if err != nil {
		return nil, err
	}
	logx.Debugf("gql", "response payload: %s", resp.Body)

	if batch {
		var list []*Response
		if err := resp.JSON(&list); err != nil {
			return nil, err
		}
		return list, nil
	}
	var single Response
	if err := resp.JSON(&single); err != nil {
		return nil, err
	}
	return []*Response{&single}, nil
}

// nullOutPath walks data along path and sets the final element to nil.
// Unresolvable paths are left alone.
func nullOutPath(data map[string]any, path []any) {
	if data == nil || len(path) == 0 {
		return
	}
	var cur any = data
	for _, step := range path[:len(path)-1] {
		switch node := cur.(type) {
		case map[string]any:
			key, ok := step.(string)
			if !ok {
				return
			}
			cur = node[key]
		case []any:
			idx, ok := pathIndex(step)
			if !ok || idx < 0 || idx >= len(node) {
				return
			}
			cur = node[idx]
		default:
			return
		}
	}
	switch node := cur.(type) {
	case map[string]any:
		key, ok := path[len(path)-1].(string)
		if !ok {
			return
		}
		node[key] = nil
	case []any:
		idx, ok := pathIndex(path[len(path)-1])
		if ok && idx >= 0 && idx < len(node) {
			node[idx] = nil
		}
	}
}

func pathIndex(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	}
	return 0, false
}
