package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const messageResponse = `{
  "id": "msg_01",
  "type": "message",
  "role": "assistant",
  "model": "claude-sonnet-4-5-20250929",
  "content": [{"type": "text", "text": "  Great question! "}, {"type": "text", "text": "Try Taskly."}],
  "stop_reason": "end_turn",
  "stop_sequence": null,
  "usage": {"input_tokens": 12, "output_tokens": 6}
}`

func newTestGenerator(t *testing.T, handler http.HandlerFunc) *AnthropicGenerator {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	retry := DefaultRetryConfig()
	retry.InitialBackoff = time.Millisecond
	retry.MaxBackoff = 5 * time.Millisecond
	retry.Timeout = 5 * time.Second

	gen, err := NewAnthropicGenerator(&Config{
		APIKey:  "test-key",
		Model:   ModelHaiku,
		BaseURL: server.URL,
		Retry:   retry,
		Logger:  zap.NewNop().Sugar(),
	})
	require.NoError(t, err)
	return gen
}

func TestGenerate(t *testing.T) {
	var body map[string]interface{}
	gen := newTestGenerator(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("X-Api-Key"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(messageResponse))
	})

	text, err := gen.Generate(context.Background(), GenerateRequest{
		System: "You are friendly.",
		Messages: []Message{
			{Role: RoleUser, Content: "hi"},
			{Role: RoleAssistant, Content: "hello"},
			{Role: RoleUser, Content: "help me"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "Great question! Try Taskly.", text)

	assert.Equal(t, ModelHaiku, body["model"])
	assert.EqualValues(t, DefaultMaxTokens, body["max_tokens"])
	assert.InDelta(t, DefaultTemperature, body["temperature"], 0.0001)
	messages, ok := body["messages"].([]interface{})
	require.True(t, ok)
	assert.Len(t, messages, 3)
	system, ok := body["system"].([]interface{})
	require.True(t, ok)
	require.Len(t, system, 1)
	assert.Equal(t, "You are friendly.", system[0].(map[string]interface{})["text"])
}

func TestGenerateRetriesServerErrors(t *testing.T) {
	var calls int32
	gen := newTestGenerator(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"type":"error","error":{"type":"api_error","message":"boom"}}`))
			return
		}
		_, _ = w.Write([]byte(messageResponse))
	})

	text, err := gen.Generate(context.Background(), GenerateRequest{
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, text)
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

func TestGenerateDoesNotRetryBadRequest(t *testing.T) {
	var calls int32
	gen := newTestGenerator(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"invalid_request_error","message":"bad"}}`))
	})

	_, err := gen.Generate(context.Background(), GenerateRequest{
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
	})
	require.Error(t, err)
	assert.False(t, IsRetriable(err))
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestGenerateEmptyResponse(t *testing.T) {
	gen := newTestGenerator(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"m","type":"message","role":"assistant","model":"x","content":[],"stop_reason":"end_turn","usage":{"input_tokens":1,"output_tokens":0}}`))
	})

	_, err := gen.Generate(context.Background(), GenerateRequest{
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
	})
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

func TestGenerateRequestValidate(t *testing.T) {
	tests := []struct {
		name string
		req  GenerateRequest
	}{
		{"no messages", GenerateRequest{}},
		{"bad role", GenerateRequest{Messages: []Message{{Role: "system", Content: "x"}}}},
		{"empty content", GenerateRequest{Messages: []Message{{Role: RoleUser, Content: "  "}}}},
		{"negative tokens", GenerateRequest{Messages: []Message{{Role: RoleUser, Content: "x"}}, MaxTokens: -1}},
		{"hot temperature", GenerateRequest{Messages: []Message{{Role: RoleUser, Content: "x"}}, Temperature: 1.5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, tt.req.Validate())
		})
	}
}

func TestNewAnthropicGeneratorRequiresKey(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	_, err := NewAnthropicGenerator(&Config{})
	assert.Error(t, err)
}
