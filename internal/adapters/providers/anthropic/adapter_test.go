package anthropic_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/omniquery/fanout-api/internal/adapters/providers"
	"github.com/omniquery/fanout-api/internal/adapters/providers/anthropic"
	"github.com/omniquery/fanout-api/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComplete(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		assert.Equal(t, "2023-06-01", r.Header.Get("anthropic-version"))

		var body map[string]interface{}
		_ = json.NewDecoder(r.Body).Decode(&body)
		// max_tokens is mandatory for this upstream.
		assert.NotZero(t, body["max_tokens"])

		_, _ = w.Write([]byte(`{
			"id": "msg_123",
			"model": "claude-sonnet-4",
			"content": [{"type": "text", "text": "Hi from Claude"}],
			"stop_reason": "end_turn",
			"usage": {"input_tokens": 10, "output_tokens": 5}
		}`))
	}))
	defer server.Close()

	adapter, err := anthropic.NewAdapter(providers.Config{
		ID:      "anthropic-main",
		APIKey:  "test-key",
		BaseURL: server.URL + "/v1",
	})
	require.NoError(t, err)

	resp, err := adapter.Complete(context.Background(), &domain.CompletionRequest{
		Prompt: "Hi",
		Model:  "claude-sonnet-4",
	})

	assert.NoError(t, err)
	assert.Equal(t, "Hi from Claude", resp.Content)
	assert.Equal(t, "end_turn", resp.FinishReason)
}

func TestComplete_OverloadedStatusIsRetryable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(529)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"overloaded_error","message":"Overloaded"}}`))
	}))
	defer server.Close()

	adapter, _ := anthropic.NewAdapter(providers.Config{ID: "anthropic-main", BaseURL: server.URL})

	_, err := adapter.Complete(context.Background(), &domain.CompletionRequest{Prompt: "Hi", Model: "m"})

	var rec *domain.ErrorRecord
	require.ErrorAs(t, err, &rec)
	assert.Equal(t, domain.KindServerError, rec.Kind)
	assert.True(t, rec.Retryable)
	assert.Equal(t, 529, rec.StatusCode)
}

func TestStreamComplete(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte(
			"event: message_start\n" +
				"data: {\"type\":\"message_start\"}\n\n" +
				"event: content_block_delta\n" +
				"data: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":\"Hel\"}}\n\n" +
				"event: content_block_delta\n" +
				"data: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":\"lo\"}}\n\n" +
				"event: message_delta\n" +
				"data: {\"type\":\"message_delta\",\"delta\":{\"stop_reason\":\"end_turn\"}}\n\n" +
				"event: message_stop\n" +
				"data: {\"type\":\"message_stop\"}\n\n"))
	}))
	defer server.Close()

	adapter, _ := anthropic.NewAdapter(providers.Config{ID: "anthropic-main", BaseURL: server.URL})

	ch, err := adapter.StreamComplete(context.Background(), &domain.CompletionRequest{Prompt: "Hi", Model: "m"})
	require.NoError(t, err)

	var events []domain.StreamEvent
	for ev := range ch {
		events = append(events, ev)
	}

	require.Len(t, events, 3)
	assert.Equal(t, domain.ChunkEvent("Hel", 0), events[0])
	assert.Equal(t, domain.ChunkEvent("lo", 1), events[1])
	assert.Equal(t, domain.FinishEvent("end_turn"), events[2])
}
