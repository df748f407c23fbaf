// Package bridge routes MCP requests: answered locally, translated into the
// back end's direct-call dialect, or forwarded verbatim.
package bridge

import (
	"context"
	"strings"

	"github.com/Bigsy/thunderbird-bridge/internal/jsonrpc"
	"github.com/Bigsy/thunderbird-bridge/internal/logx"
	"github.com/Bigsy/thunderbird-bridge/internal/metrics"
	"github.com/mark3labs/mcp-go/mcp"
)

const (
	// DefaultServerName is the identity reported from initialize.
	DefaultServerName = "thunderbird-bridge"
	// DefaultServerVersion is the version reported from initialize.
	DefaultServerVersion = "0.4.0"
	// DefaultProtocolVersion is the MCP protocol version reported from initialize.
	DefaultProtocolVersion = "2024-11-05"

	notificationPrefix = "notifications/"
)

// Kind is the dispatch outcome for a method.
type Kind int

const (
	// KindLocal answers without contacting the back end.
	KindLocal Kind = iota
	// KindTranslated forwards a reshaped request and reshapes the result.
	KindTranslated
	// KindVerbatim forwards the request unchanged.
	KindVerbatim
)

func (k Kind) String() string {
	switch k {
	case KindLocal:
		return "local"
	case KindTranslated:
		return "translated"
	case KindVerbatim:
		return "verbatim"
	default:
		return "unknown"
	}
}

// Route is one entry of the dispatch table. Local is set for KindLocal; Build
// and Reshape for KindTranslated. A nil Reshape returns the back-end response
// unchanged.
type Route struct {
	Kind    Kind
	Local   func(req *jsonrpc.Request) *jsonrpc.Response
	Build   func(req *jsonrpc.Request) *jsonrpc.Request
	Reshape func(resp *jsonrpc.Response) *jsonrpc.Response
}

// Sender delivers one request to the back end. It must always return a
// response, converting failures into error responses.
type Sender interface {
	Send(ctx context.Context, req *jsonrpc.Request) *jsonrpc.Response
}

// Options configures a Router.
type Options struct {
	ServerName      string
	ServerVersion   string
	ProtocolVersion string
	Metrics         *metrics.Recorder
}

// Router decides, once per request, how it is answered.
type Router struct {
	backend  Sender
	metrics  *metrics.Recorder
	routes   map[string]Route
	prefixes map[string]Route
}

// NewRouter creates a router forwarding to backend.
func NewRouter(backend Sender, opts Options) *Router {
	if opts.ServerName == "" {
		opts.ServerName = DefaultServerName
	}
	if opts.ServerVersion == "" {
		opts.ServerVersion = DefaultServerVersion
	}
	if opts.ProtocolVersion == "" {
		opts.ProtocolVersion = DefaultProtocolVersion
	}

	return &Router{
		backend: backend,
		metrics: opts.Metrics,
		routes: map[string]Route{
			string(mcp.MethodInitialize):    {Kind: KindLocal, Local: initializeHandler(opts)},
			string(mcp.MethodResourcesList): {Kind: KindLocal, Local: handleResourcesList},
			string(mcp.MethodPromptsList):   {Kind: KindLocal, Local: handlePromptsList},
			string(mcp.MethodToolsList):     {Kind: KindTranslated, Build: buildListTools},
			string(mcp.MethodToolsCall):     {Kind: KindTranslated, Build: buildToolCall, Reshape: wrapToolResult},
		},
		prefixes: map[string]Route{
			notificationPrefix: {Kind: KindLocal, Local: noResponse},
		},
	}
}

// Resolve returns the route for method. Exact matches win over prefixes;
// anything unmatched is forwarded verbatim.
func (r *Router) Resolve(method string) Route {
	if route, ok := r.routes[method]; ok {
		return route
	}
	for prefix, route := range r.prefixes {
		if strings.HasPrefix(method, prefix) {
			return route
		}
	}
	return Route{Kind: KindVerbatim}
}

// Handle produces the response for req, or nil when nothing must be written.
// Responses are always correlated to req's id.
func (r *Router) Handle(ctx context.Context, req *jsonrpc.Request) *jsonrpc.Response {
	route := r.Resolve(req.Method)
	r.metrics.ObserveRequest(route.Kind.String())

	logx.Log.Debug().
		Str("method", req.Method).
		Str("route", route.Kind.String()).
		Bool("notification", req.IsNotification()).
		Msg("dispatch")

	var resp *jsonrpc.Response
	switch route.Kind {
	case KindLocal:
		resp = route.Local(req)
	case KindTranslated:
		resp = r.backend.Send(ctx, route.Build(req))
		if route.Reshape != nil {
			resp = route.Reshape(resp)
		}
	default:
		resp = r.backend.Send(ctx, req)
	}

	if resp == nil || req.IsNotification() {
		return nil
	}
	return resp.WithID(req.ID)
}

func noResponse(*jsonrpc.Request) *jsonrpc.Response {
	return nil
}
