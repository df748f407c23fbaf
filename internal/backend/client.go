// Package backend talks to the direct-call JSON-RPC service behind the bridge.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Bigsy/thunderbird-bridge/internal/jsonrpc"
	"github.com/Bigsy/thunderbird-bridge/internal/logx"
	"github.com/Bigsy/thunderbird-bridge/internal/metrics"
	"github.com/Bigsy/thunderbird-bridge/internal/sanitize"
)

const (
	// DefaultURL is the Thunderbird API extension endpoint.
	DefaultURL = "http://localhost:8766/"
	// DefaultTimeout bounds a whole call, connect through body read.
	DefaultTimeout = 30 * time.Second

	// MethodListTools is the back-end method that enumerates tools.
	MethodListTools = "listTools"
)

// Call outcomes reported to metrics.
const (
	OutcomeOK             = "ok"
	OutcomeRPCError       = "rpc_error"
	OutcomeSerializeError = "serialize_error"
	OutcomeTransportError = "transport_error"
	OutcomeReadError      = "read_error"
	OutcomeInvalidJSON    = "invalid_json"
)

// callToolID is the placeholder id used by value-level calls.
var callToolID = json.RawMessage("1")

// Options configures a Client.
type Options struct {
	URL     string
	Timeout time.Duration

	// HTTPClient is used as a template; its Timeout is replaced when unset.
	HTTPClient *http.Client

	Metrics *metrics.Recorder
}

// Client sends single JSON-RPC requests to the back end over HTTP POST.
// It holds no per-request state and is safe to reuse.
type Client struct {
	url        string
	httpClient *http.Client
	metrics    *metrics.Recorder
}

// NewClient creates a back-end client.
func NewClient(opts Options) *Client {
	url := opts.URL
	if url == "" {
		url = DefaultURL
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	var httpClient http.Client
	if opts.HTTPClient != nil {
		httpClient = *opts.HTTPClient
	}
	if httpClient.Timeout == 0 {
		httpClient.Timeout = timeout
	}

	return &Client{
		url:        url,
		httpClient: &httpClient,
		metrics:    opts.Metrics,
	}
}

// URL returns the back-end endpoint.
func (c *Client) URL() string {
	return c.url
}

// Send posts req and returns the back end's response. It never fails outward:
// every failure becomes an error response carrying req's id. HTTP status codes
// are ignored; the body is always read and parsed.
func (c *Client) Send(ctx context.Context, req *jsonrpc.Request) *jsonrpc.Response {
	start := time.Now()
	resp, outcome := c.send(ctx, req)
	c.metrics.ObserveBackendCall(outcome, time.Since(start))

	logx.Log.Debug().
		Str("method", req.Method).
		Str("outcome", outcome).
		Dur("elapsed", time.Since(start)).
		Msg("backend call")
	return resp
}

func (c *Client) send(ctx context.Context, req *jsonrpc.Request) (*jsonrpc.Response, string) {
	body, err := json.Marshal(req)
	if err != nil {
		return jsonrpc.NewErrorResponse(req.ID,
			jsonrpc.Errorf(jsonrpc.CodeParseError, "Failed to serialize request: %v", err)), OutcomeSerializeError
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return connectionFailed(req.ID, err), OutcomeTransportError
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return connectionFailed(req.ID, err), OutcomeTransportError
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return jsonrpc.NewErrorResponse(req.ID,
			jsonrpc.Errorf(jsonrpc.CodeInternalError, "Failed to read response body: %v", err)), OutcomeReadError
	}

	resp, sanitized, err := decode(data)
	if err != nil {
		logx.Log.Warn().Err(err).Int("status", httpResp.StatusCode).Msg("invalid JSON from backend")
		return jsonrpc.NewErrorResponse(req.ID,
			jsonrpc.Errorf(jsonrpc.CodeParseError, "Invalid JSON from Thunderbird: %v", err)), OutcomeInvalidJSON
	}
	if sanitized {
		c.metrics.ObserveSanitized()
		logx.Log.Debug().Str("method", req.Method).Msg("backend response recovered by sanitizer")
	}
	if resp.Error != nil {
		return resp, OutcomeRPCError
	}
	return resp, OutcomeOK
}

// decode parses a response body as-is, then once more after sanitizing. The
// error returned is the one from the sanitized attempt.
func decode(data []byte) (*jsonrpc.Response, bool, error) {
	if resp, err := jsonrpc.DecodeResponse(data); err == nil {
		return resp, false, nil
	}
	resp, err := jsonrpc.DecodeResponse([]byte(sanitize.JSON(string(data))))
	if err != nil {
		return nil, false, err
	}
	return resp, true, nil
}

func connectionFailed(id json.RawMessage, err error) *jsonrpc.Response {
	return jsonrpc.NewErrorResponse(id, jsonrpc.Errorf(jsonrpc.CodeInternalError,
		"Connection failed: %v. Is Thunderbird running with the API extension?", err))
}

// CallTool invokes a back-end method directly and returns its bare result.
// A back-end error is returned as a *jsonrpc.Error whose message is the back
// end's own. A nil args value is sent as an empty object.
func (c *Client) CallTool(ctx context.Context, name string, args any) (json.RawMessage, error) {
	if args == nil {
		args = struct{}{}
	}
	params, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("marshal arguments: %w", err)
	}
	return c.call(ctx, name, params)
}

// ListTools returns the tools advertised by the back end.
func (c *Client) ListTools(ctx context.Context) ([]Tool, error) {
	raw, err := c.call(ctx, MethodListTools, nil)
	if err != nil {
		return nil, err
	}
	var result struct {
		Tools []Tool `json:"tools"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("decode %s result: %w", MethodListTools, err)
	}
	return result.Tools, nil
}

func (c *Client) call(ctx context.Context, method string, params json.RawMessage) (json.RawMessage, error) {
	resp := c.Send(ctx, &jsonrpc.Request{
		JSONRPC: jsonrpc.Version,
		ID:      callToolID,
		Method:  method,
		Params:  params,
	})
	if resp.Error != nil {
		return nil, resp.Error
	}
	if !resp.HasResult() {
		return nil, errors.New("no result in response")
	}
	return resp.Result, nil
}

// Tool is a tool definition as advertised by listTools.
type Tool struct {
	Name        string          `json:"name"`
	Title       string          `json:"title,omitempty"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}
