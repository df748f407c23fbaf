package jsonrpc

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/tidwall/gjson"
)

// Version is the protocol tag stamped on every message the bridge originates.
const Version = mcp.JSONRPC_VERSION

var (
	errMissingMethod = errors.New("missing field `method`")
	errNotObject     = errors.New("expected a JSON object")
)

// Request is a JSON-RPC request or notification. ID and Params are kept as raw
// JSON so they survive translation byte for byte.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// IsNotification reports whether the request carries no id.
func (r *Request) IsNotification() bool {
	return isNull(r.ID)
}

// ParseRequest decodes a single request. Anything that is not a JSON object
// with a string method is rejected.
func ParseRequest(data []byte) (*Request, error) {
	var wire struct {
		JSONRPC string          `json:"jsonrpc"`
		ID      json.RawMessage `json:"id"`
		Method  *string         `json:"method"`
		Params  json.RawMessage `json:"params"`
	}
	if !json.Valid(data) {
		// Unmarshal reports the syntax error without decoding anything.
		return nil, json.Unmarshal(data, &wire)
	}
	if trimmed := bytes.TrimSpace(data); len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, errNotObject
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return nil, fmt.Errorf("invalid type for field `%s`: expected %s", typeErr.Field, typeErr.Type)
		}
		return nil, err
	}
	if wire.Method == nil {
		return nil, errMissingMethod
	}

	req := &Request{
		JSONRPC: wire.JSONRPC,
		ID:      wire.ID,
		Method:  *wire.Method,
		Params:  wire.Params,
	}
	if isNull(req.ID) {
		req.ID = nil
	}
	if isNull(req.Params) {
		req.Params = nil
	}
	return req, nil
}

// SalvageID extracts the "id" member from raw input without requiring the rest
// of the document to be well formed. It returns nil when nothing usable is found.
func SalvageID(data []byte) json.RawMessage {
	res := gjson.GetBytes(data, "id")
	if !res.Exists() || res.Type == gjson.Null {
		return nil
	}
	raw := []byte(res.Raw)
	if !json.Valid(raw) {
		return nil
	}
	return raw
}

// Response is a JSON-RPC response. Exactly one of Result and Error is written
// on the wire; Error wins if both are set.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

type resultWire struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result"`
}

type errorWire struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Error   *Error          `json:"error"`
}

// MarshalJSON enforces the result/error exclusivity and always writes an id,
// using null when the request had none.
func (r Response) MarshalJSON() ([]byte, error) {
	tag := r.JSONRPC
	if tag == "" {
		tag = Version
	}
	id := r.ID
	if len(id) == 0 {
		id = nil
	}
	if r.Error != nil {
		return marshal(errorWire{JSONRPC: tag, ID: id, Error: r.Error})
	}
	result := r.Result
	if len(result) == 0 {
		result = nil
	}
	return marshal(resultWire{JSONRPC: tag, ID: id, Result: result})
}

// HasResult reports whether the response carries a non-null result.
func (r *Response) HasResult() bool {
	return r.Error == nil && !isNull(r.Result)
}

// WithID returns a copy of the response correlated to id.
func (r *Response) WithID(id json.RawMessage) *Response {
	out := *r
	out.ID = id
	return &out
}

// NewResult creates a success response. A result that cannot be encoded turns
// into an internal error.
func NewResult(id json.RawMessage, result any) *Response {
	data, err := marshal(result)
	if err != nil {
		return NewErrorResponse(id, ErrInternalError(err.Error()))
	}
	return &Response{JSONRPC: Version, ID: id, Result: data}
}

// NewErrorResponse creates an error response.
func NewErrorResponse(id json.RawMessage, rpcErr *Error) *Response {
	return &Response{JSONRPC: Version, ID: id, Error: rpcErr}
}

// DecodeResponse parses a response body.
func DecodeResponse(data []byte) (*Response, error) {
	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// WriteLine writes v as a single line of JSON.
func WriteLine(w io.Writer, v any) error {
	data, err := marshal(v)
	if err != nil {
		return err
	}
	data = append(data, '\n')
	_, err = w.Write(data)
	return err
}

// marshal encodes without HTML escaping so forwarded payloads keep their text.
func marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}
