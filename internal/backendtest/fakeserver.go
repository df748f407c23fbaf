// Package backendtest provides a fake direct-call back end for tests.
package backendtest

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

// Config controls the fake back end's behavior.
type Config struct {
	// Tools returned from listTools
	Tools []Tool

	// Per-method results
	Results map[string]any

	// Per-method forced errors (JSON-RPC error responses)
	Errors map[string]JSONRPCError

	// Per-method literal bodies, written as-is (for malformed JSON)
	RawBodies map[string]string

	// Per-method delays
	Delays map[string]time.Duration

	// HTTP status for every response (0 = 200)
	Status int

	// EchoUnknown returns {"method":..., "params":...} for methods with no
	// configured result instead of an "Unknown tool" error.
	EchoUnknown bool
}

// Tool is a tool definition as returned by listTools.
type Tool struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	InputSchema any    `json:"inputSchema,omitempty"`
}

// JSONRPCError represents a JSON-RPC 2.0 error.
type JSONRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Request is a request as received by the fake back end.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`

	// HasParams distinguishes an absent params member from an empty one.
	HasParams   bool   `json:"-"`
	ContentType string `json:"-"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *JSONRPCError   `json:"error,omitempty"`
}

// Server is a running fake back end.
type Server struct {
	*httptest.Server

	cfg      Config
	mu       sync.Mutex
	requests []Request
}

// Start launches a fake back end and registers its shutdown with t.Cleanup.
func Start(t testing.TB, cfg Config) *Server {
	t.Helper()

	s := &Server{cfg: cfg}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.Close)
	return s
}

// Requests returns a copy of every request received so far.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

// LastRequest returns the most recent request, or nil if none arrived.
func (s *Server) LastRequest() *Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.requests) == 0 {
		return nil
	}
	req := s.requests[len(s.requests)-1]
	return &req
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST only", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "read error", http.StatusBadRequest)
		return
	}

	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	var members map[string]json.RawMessage
	if json.Unmarshal(body, &members) == nil {
		_, req.HasParams = members["params"]
	}
	req.ContentType = r.Header.Get("Content-Type")

	s.mu.Lock()
	s.requests = append(s.requests, req)
	s.mu.Unlock()

	if delay, ok := s.cfg.Delays[req.Method]; ok {
		time.Sleep(delay)
	}

	status := s.cfg.Status
	if status == 0 {
		status = http.StatusOK
	}

	if raw, ok := s.cfg.RawBodies[req.Method]; ok {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, raw)
		return
	}

	resp := rpcResponse{JSONRPC: "2.0", ID: req.ID}
	if rpcErr, ok := s.cfg.Errors[req.Method]; ok {
		resp.Error = &rpcErr
	} else if result, ok := s.cfg.Results[req.Method]; ok {
		resp.Result = result
	} else if req.Method == "listTools" {
		tools := s.cfg.Tools
		if tools == nil {
			tools = []Tool{}
		}
		resp.Result = map[string]any{"tools": tools}
	} else if s.cfg.EchoUnknown {
		resp.Result = map[string]any{"method": req.Method, "params": req.Params}
	} else {
		resp.Error = &JSONRPCError{Code: -32000, Message: "Error: Unknown tool: " + req.Method}
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}
