package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/Bigsy/thunderbird-bridge/internal/backend"
	"github.com/Bigsy/thunderbird-bridge/internal/backendtest"
	"github.com/Bigsy/thunderbird-bridge/internal/bridge"
	"github.com/Bigsy/thunderbird-bridge/internal/jsonrpc"
	"github.com/Bigsy/thunderbird-bridge/internal/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

type wireResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *jsonrpc.Error  `json:"error"`
}

// runLines feeds input through a bridge backed by fake and returns the output lines.
func runLines(t *testing.T, fake *backendtest.Server, input string) []string {
	t.Helper()

	url := "http://127.0.0.1:1/"
	if fake != nil {
		url = fake.URL
	}
	router := bridge.NewRouter(backend.NewClient(backend.Options{URL: url, Timeout: 2 * time.Second}), bridge.Options{})

	var stdout bytes.Buffer
	srv, err := New(Options{
		Handler: router,
		Stdin:   strings.NewReader(input),
		Stdout:  &stdout,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	out := strings.TrimSuffix(stdout.String(), "\n")
	if out == "" {
		return nil
	}
	return strings.Split(out, "\n")
}

func decode(t *testing.T, line string) wireResponse {
	t.Helper()
	var resp wireResponse
	if err := json.Unmarshal([]byte(line), &resp); err != nil {
		t.Fatalf("Unmarshal response: %v\nOutput: %s", err, line)
	}
	return resp
}

func TestServer_Initialize(t *testing.T) {
	lines := runLines(t, nil, `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2024-11-05","clientInfo":{"name":"test","version":"1.0"}}}
`)
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1: %q", len(lines), lines)
	}

	var resp struct {
		ID     int `json:"id"`
		Result struct {
			ProtocolVersion string `json:"protocolVersion"`
			ServerInfo      struct {
				Name    string `json:"name"`
				Version string `json:"version"`
			} `json:"serverInfo"`
			Capabilities struct {
				Tools *struct{} `json:"tools"`
			} `json:"capabilities"`
		} `json:"result"`
		Error *jsonrpc.Error `json:"error"`
	}
	if err := json.Unmarshal([]byte(lines[0]), &resp); err != nil {
		t.Fatalf("Unmarshal response: %v", err)
	}
	if resp.Error != nil {
		t.Fatalf("Unexpected error: %v", resp.Error)
	}
	if resp.ID != 1 {
		t.Errorf("ID = %d, want 1", resp.ID)
	}
	if resp.Result.ServerInfo.Name != bridge.DefaultServerName {
		t.Errorf("ServerInfo.Name = %q, want %q", resp.Result.ServerInfo.Name, bridge.DefaultServerName)
	}
	if resp.Result.ServerInfo.Version != bridge.DefaultServerVersion {
		t.Errorf("ServerInfo.Version = %q, want %q", resp.Result.ServerInfo.Version, bridge.DefaultServerVersion)
	}
	if resp.Result.ProtocolVersion != bridge.DefaultProtocolVersion {
		t.Errorf("ProtocolVersion = %q, want %q", resp.Result.ProtocolVersion, bridge.DefaultProtocolVersion)
	}
	if resp.Result.Capabilities.Tools == nil {
		t.Error("Capabilities.Tools should be present")
	}
}

func TestServer_MalformedLine(t *testing.T) {
	lines := runLines(t, nil, "{not json\n")
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1", len(lines))
	}
	resp := decode(t, lines[0])
	if resp.Error == nil || resp.Error.Code != -32700 {
		t.Fatalf("Error = %+v, want code -32700", resp.Error)
	}
	if string(resp.ID) != "null" {
		t.Errorf("ID = %s, want null", resp.ID)
	}
	if !strings.HasPrefix(resp.Error.Message, "Parse error: ") {
		t.Errorf("Message = %q, want Parse error prefix", resp.Error.Message)
	}
	if !strings.Contains(lines[0], `"id":null`) {
		t.Errorf("output must carry an explicit null id: %s", lines[0])
	}
	if strings.Contains(lines[0], `"result"`) {
		t.Errorf("error response must not carry a result: %s", lines[0])
	}
}

func TestServer_ParseErrorsKeepSalvagedID(t *testing.T) {
	tests := []struct {
		name   string
		line   string
		wantID string
	}{
		{"missing method", `{"jsonrpc":"2.0","id":4}`, "4"},
		{"method wrong type", `{"jsonrpc":"2.0","id":"q","method":7}`, `"q"`},
		{"bare scalar", `42`, "null"},
		{"method array", `{"jsonrpc":"2.0","id":5,"method":["x"]}`, "5"},
		{"bare string", `"hello"`, "null"},
		{"array", `[{"jsonrpc":"2.0","id":1,"method":"initialize"}]`, "null"},
		{"no id", `{"jsonrpc":"2.0"}`, "null"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lines := runLines(t, nil, tt.line+"\n")
			if len(lines) != 1 {
				t.Fatalf("got %d lines, want 1", len(lines))
			}
			resp := decode(t, lines[0])
			if resp.Error == nil || resp.Error.Code != jsonrpc.CodeParseError {
				t.Fatalf("Error = %+v, want parse error", resp.Error)
			}
			if string(resp.ID) != tt.wantID {
				t.Errorf("ID = %s, want %s", resp.ID, tt.wantID)
			}
			if strings.Contains(resp.Error.Message, "Go value") || strings.Contains(resp.Error.Message, "struct {") {
				t.Errorf("Message leaks decoder internals: %q", resp.Error.Message)
			}
		})
	}
}

func TestServer_NotificationsProduceNoOutput(t *testing.T) {
	fake := backendtest.Start(t, backendtest.Config{EchoUnknown: true})
	input := strings.Join([]string{
		`{"jsonrpc":"2.0","method":"notifications/initialized"}`,
		`{"jsonrpc":"2.0","id":9,"method":"notifications/cancelled","params":{"requestId":1}}`,
		`{"jsonrpc":"2.0","method":"tools/list"}`,
		`{"jsonrpc":"2.0","method":"searchMessages","params":{"query":"x"}}`,
		"",
	}, "\n")

	lines := runLines(t, fake, input)
	if len(lines) != 0 {
		t.Fatalf("expected no output, got %q", lines)
	}
	if got := len(fake.Requests()); got != 2 {
		t.Errorf("back end saw %d requests, want 2", got)
	}
}

func TestServer_SkipsBlankLines(t *testing.T) {
	input := "\n   \n\t\n" + `{"jsonrpc":"2.0","id":1,"method":"prompts/list"}` + "\n\n"
	lines := runLines(t, nil, input)
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1: %q", len(lines), lines)
	}
}

func TestServer_FinalLineWithoutNewline(t *testing.T) {
	lines := runLines(t, nil, `{"jsonrpc":"2.0","id":1,"method":"resources/list"}`)
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1", len(lines))
	}
}

func TestServer_PreservesIDs(t *testing.T) {
	ids := []string{`1`, `"1"`, `"007"`, `1.50`, `-3`, `"a\"b"`, `{"k":1}`}

	var input strings.Builder
	for _, id := range ids {
		input.WriteString(`{"jsonrpc":"2.0","id":` + id + `,"method":"resources/list"}` + "\n")
	}

	lines := runLines(t, nil, input.String())
	if len(lines) != len(ids) {
		t.Fatalf("got %d lines, want %d", len(lines), len(ids))
	}
	for i, line := range lines {
		resp := decode(t, line)
		if string(resp.ID) != ids[i] {
			t.Errorf("line %d: ID = %s, want %s", i, resp.ID, ids[i])
		}
	}
}

func TestServer_InOrderResponses(t *testing.T) {
	fake := backendtest.Start(t, backendtest.Config{
		Results: map[string]any{"listAccounts": []string{"a"}},
		Delays:  map[string]time.Duration{"listAccounts": 50 * time.Millisecond},
	})
	input := strings.Join([]string{
		`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"listAccounts"}}`,
		`{"jsonrpc":"2.0","id":2,"method":"resources/list"}`,
		`{"jsonrpc":"2.0","id":3,"method":"listAccounts"}`,
		"",
	}, "\n")

	lines := runLines(t, fake, input)
	if len(lines) != 3 {
		t.Fatalf("got %d lines, want 3", len(lines))
	}
	for i, want := range []string{"1", "2", "3"} {
		if got := string(decode(t, lines[i]).ID); got != want {
			t.Errorf("line %d: ID = %s, want %s", i, got, want)
		}
	}

	call := decode(t, lines[0])
	var result struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	}
	if err := json.Unmarshal(call.Result, &result); err != nil {
		t.Fatalf("Unmarshal result: %v", err)
	}
	if len(result.Content) != 1 || result.Content[0].Type != "text" || result.Content[0].Text != `["a"]` {
		t.Errorf("Content = %+v", result.Content)
	}

	if got := string(decode(t, lines[2]).Result); got != `["a"]` {
		t.Errorf("verbatim result = %s, want [\"a\"]", got)
	}
}

func TestServer_UnreachableBackendKeepsRunning(t *testing.T) {
	input := strings.Join([]string{
		`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`,
		`{"jsonrpc":"2.0","id":2,"method":"initialize"}`,
		"",
	}, "\n")

	lines := runLines(t, nil, input)
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(lines))
	}
	first := decode(t, lines[0])
	if first.Error == nil || first.Error.Code != jsonrpc.CodeInternalError {
		t.Fatalf("Error = %+v, want internal error", first.Error)
	}
	if string(first.ID) != "1" {
		t.Errorf("ID = %s, want 1", first.ID)
	}
	if second := decode(t, lines[1]); second.Error != nil {
		t.Errorf("initialize after failure returned error: %v", second.Error)
	}
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("broken pipe") }

func TestServer_WriteFailureIsNotFatal(t *testing.T) {
	rec := metrics.New()
	router := bridge.NewRouter(backend.NewClient(backend.Options{}), bridge.Options{})
	srv, err := New(Options{
		Handler: router,
		Stdin:   strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"resources/list"}` + "\n" + `{"jsonrpc":"2.0","id":2,"method":"prompts/list"}` + "\n"),
		Stdout:  failingWriter{},
		Metrics: rec,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := srv.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	expected := `
# HELP tbbridge_write_errors_total Responses that could not be written to stdout
# TYPE tbbridge_write_errors_total counter
tbbridge_write_errors_total 2
`
	if err := testutil.GatherAndCompare(rec.Registry(), strings.NewReader(expected), "tbbridge_write_errors_total"); err != nil {
		t.Error(err)
	}
}

// flakyWriter fails its first Write and passes the rest through.
type flakyWriter struct {
	buf    bytes.Buffer
	writes int
}

func (w *flakyWriter) Write(p []byte) (int, error) {
	w.writes++
	if w.writes == 1 {
		return 0, errors.New("resource temporarily unavailable")
	}
	return w.buf.Write(p)
}

func TestServer_RecoversAfterWriteFailure(t *testing.T) {
	fake := backendtest.Start(t, backendtest.Config{
		Results: map[string]any{"sendMail": map[string]bool{"sent": true}},
	})
	rec := metrics.New()
	out := &flakyWriter{}

	srv, err := New(Options{
		Handler: bridge.NewRouter(backend.NewClient(backend.Options{URL: fake.URL}), bridge.Options{}),
		Stdin: strings.NewReader(strings.Join([]string{
			`{"jsonrpc":"2.0","id":1,"method":"resources/list"}`,
			`{"jsonrpc":"2.0","id":2,"method":"sendMail","params":{"to":"a@example.com"}}`,
			`{"jsonrpc":"2.0","id":3,"method":"prompts/list"}`,
			"",
		}, "\n")),
		Stdout:  out,
		Metrics: rec,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := srv.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if out.writes != 3 {
		t.Errorf("underlying writes = %d, want 3", out.writes)
	}
	if got := len(fake.Requests()); got != 1 {
		t.Errorf("back end saw %d requests, want 1", got)
	}

	lines := strings.Split(strings.TrimSuffix(out.buf.String(), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2: %q", len(lines), out.buf.String())
	}
	for i, want := range []string{"2", "3"} {
		resp := decode(t, lines[i])
		if string(resp.ID) != want {
			t.Errorf("line %d: ID = %s, want %s", i, resp.ID, want)
		}
		if resp.Error != nil {
			t.Errorf("line %d: unexpected error %v", i, resp.Error)
		}
	}
	if !strings.Contains(lines[0], `"sent":true`) {
		t.Errorf("sendMail result missing: %s", lines[0])
	}

	expected := `
# HELP tbbridge_write_errors_total Responses that could not be written to stdout
# TYPE tbbridge_write_errors_total counter
tbbridge_write_errors_total 1
`
	if err := testutil.GatherAndCompare(rec.Registry(), strings.NewReader(expected), "tbbridge_write_errors_total"); err != nil {
		t.Error(err)
	}
}

type errReader struct{}

func (errReader) Read([]byte) (int, error) { return 0, errors.New("device gone") }

func TestServer_ReadErrorStopsRun(t *testing.T) {
	srv, err := New(Options{
		Handler: bridge.NewRouter(backend.NewClient(backend.Options{}), bridge.Options{}),
		Stdin:   errReader{},
		Stdout:  io.Discard,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	err = srv.Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "device gone") {
		t.Fatalf("Run error = %v, want read error", err)
	}
}

func TestServer_ContextCancel(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()

	srv, err := New(Options{
		Handler: bridge.NewRouter(backend.NewClient(backend.Options{}), bridge.Options{}),
		Stdin:   pr,
		Stdout:  io.Discard,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run error = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestNew_RequiresHandler(t *testing.T) {
	if _, err := New(Options{Stdin: strings.NewReader(""), Stdout: io.Discard}); err == nil {
		t.Error("expected error without handler")
	}
}
