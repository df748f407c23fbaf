package bridge

import (
	"bytes"
	"encoding/json"

	"github.com/Bigsy/thunderbird-bridge/internal/backend"
	"github.com/Bigsy/thunderbird-bridge/internal/jsonrpc"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/tidwall/gjson"
)

var emptyArguments = json.RawMessage(`{}`)

// initializeHandler returns the fixed capability descriptor. Client params
// are ignored.
func initializeHandler(opts Options) func(*jsonrpc.Request) *jsonrpc.Response {
	result := mcp.InitializeResult{
		ProtocolVersion: opts.ProtocolVersion,
		Capabilities: mcp.ServerCapabilities{
			Tools: &struct {
				ListChanged bool `json:"listChanged,omitempty"`
			}{},
		},
		ServerInfo: mcp.Implementation{
			Name:    opts.ServerName,
			Version: opts.ServerVersion,
		},
	}
	return func(req *jsonrpc.Request) *jsonrpc.Response {
		return jsonrpc.NewResult(req.ID, result)
	}
}

func handleResourcesList(req *jsonrpc.Request) *jsonrpc.Response {
	return jsonrpc.NewResult(req.ID, mcp.ListResourcesResult{Resources: []mcp.Resource{}})
}

func handlePromptsList(req *jsonrpc.Request) *jsonrpc.Response {
	return jsonrpc.NewResult(req.ID, mcp.ListPromptsResult{Prompts: []mcp.Prompt{}})
}

// buildListTools maps tools/list onto the back end's listTools.
func buildListTools(req *jsonrpc.Request) *jsonrpc.Request {
	return &jsonrpc.Request{
		JSONRPC: jsonrpc.Version,
		ID:      req.ID,
		Method:  backend.MethodListTools,
	}
}

// buildToolCall turns tools/call {name, arguments} into a direct call of
// method name with arguments as params.
func buildToolCall(req *jsonrpc.Request) *jsonrpc.Request {
	name, args := toolCallParams(req.Params)
	return &jsonrpc.Request{
		JSONRPC: jsonrpc.Version,
		ID:      req.ID,
		Method:  name,
		Params:  args,
	}
}

// toolCallParams extracts name and arguments, substituting "" and {} when
// either is missing or has the wrong type.
func toolCallParams(params json.RawMessage) (string, json.RawMessage) {
	name, args := "", emptyArguments
	if len(params) == 0 {
		return name, args
	}

	p := gjson.ParseBytes(params)
	if !p.IsObject() {
		return name, args
	}
	if n := p.Get("name"); n.Type == gjson.String {
		name = n.String()
	}
	if a := p.Get("arguments"); a.IsObject() {
		args = json.RawMessage(a.Raw)
	}
	return name, args
}

// wrapToolResult presents a successful back-end result as a single MCP text
// content block. Errors and empty results pass through unchanged.
func wrapToolResult(resp *jsonrpc.Response) *jsonrpc.Response {
	if !resp.HasResult() {
		return resp
	}
	result := mcp.CallToolResult{
		Content: []mcp.Content{mcp.NewTextContent(resultText(resp.Result))},
	}
	return jsonrpc.NewResult(resp.ID, result)
}

// resultText renders a back-end result as compact JSON text. Key order and
// number literals are kept; strings are re-encoded without HTML escaping so
// escapes like \u003c come out as the characters they stand for.
func resultText(raw json.RawMessage) string {
	var buf bytes.Buffer
	writeValue(&buf, gjson.ParseBytes(raw))
	return buf.String()
}

func writeValue(buf *bytes.Buffer, v gjson.Result) {
	switch {
	case v.IsObject():
		buf.WriteByte('{')
		first := true
		v.ForEach(func(key, value gjson.Result) bool {
			if !first {
				buf.WriteByte(',')
			}
			first = false
			writeString(buf, key.String())
			buf.WriteByte(':')
			writeValue(buf, value)
			return true
		})
		buf.WriteByte('}')
	case v.IsArray():
		buf.WriteByte('[')
		first := true
		v.ForEach(func(_, value gjson.Result) bool {
			if !first {
				buf.WriteByte(',')
			}
			first = false
			writeValue(buf, value)
			return true
		})
		buf.WriteByte(']')
	case v.Type == gjson.String:
		writeString(buf, v.String())
	default:
		buf.WriteString(v.Raw)
	}
}

func writeString(buf *bytes.Buffer, s string) {
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(s)
	buf.Truncate(buf.Len() - 1) // Encode appends a newline
}
