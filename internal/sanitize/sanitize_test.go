package sanitize

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSON(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "valid document unchanged",
			input: `{"a":"b","n":[1,2]}`,
			want:  `{"a":"b","n":[1,2]}`,
		},
		{
			name:  "raw newline in string",
			input: "{\"body\":\"line1\nline2\"}",
			want:  `{"body":"line1\nline2"}`,
		},
		{
			name:  "tab and carriage return",
			input: "{\"s\":\"a\tb\rc\"}",
			want:  `{"s":"a\tb\rc"}`,
		},
		{
			name:  "backspace and form feed",
			input: "{\"s\":\"\b\f\"}",
			want:  `{"s":"\b\f"}`,
		},
		{
			name:  "other control bytes use unicode escape",
			input: "{\"s\":\"\x00\x01\x1f\"}",
			want:  `{"s":"\u0000\u0001\u001f"}`,
		},
		{
			name:  "whitespace outside strings preserved",
			input: "{\n\t\"a\": \"x\"\r\n}",
			want:  "{\n\t\"a\": \"x\"\r\n}",
		},
		{
			name:  "escaped quote does not end string",
			input: "{\"s\":\"say \\\"hi\\\"\nnext\"}",
			want:  `{"s":"say \"hi\"\nnext"}`,
		},
		{
			name:  "escaped backslash before closing quote",
			input: "{\"s\":\"dir\\\\\",\n\"t\":\"x\ty\"}",
			want:  "{\"s\":\"dir\\\\\",\n\"t\":\"x\\ty\"}",
		},
		{
			name:  "multibyte text untouched",
			input: "{\"s\":\"café \U0001F600\n\"}",
			want:  "{\"s\":\"café \U0001F600\\n\"}",
		},
		{
			name:  "empty",
			input: "",
			want:  "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, JSON(tt.input))
		})
	}
}

func TestJSON_RoundTripPreservesNewline(t *testing.T) {
	raw := "{\"jsonrpc\":\"2.0\",\"id\":1,\"result\":{\"body\":\"Hello\nWorld\"}}"

	var v map[string]any
	require.Error(t, json.Unmarshal([]byte(raw), &v), "raw control characters must not parse")

	require.NoError(t, json.Unmarshal([]byte(JSON(raw)), &v))
	result := v["result"].(map[string]any)
	assert.Equal(t, "Hello\nWorld", result["body"])
}

func TestJSON_Idempotent(t *testing.T) {
	raw := "{\"s\":\"a\nb\x02\"}"
	once := JSON(raw)
	assert.Equal(t, once, JSON(once))
}
