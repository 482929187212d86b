package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"esp-gateway/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := &config.AIConfig{
		Token:   "test-token",
		BaseURL: srv.URL,
		Model:   "deepseek-chat",
	}
	return NewClient(cfg, zap.NewNop())
}

func TestCompleteReturnsTrimmedText(t *testing.T) {
	var gotAuth, gotPath string
	var gotReq chatRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotReq)

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"  отчёт готов\n"}}]}`))
	})

	text, err := c.Complete(context.Background(), "система", "проанализируй данные")
	require.NoError(t, err)

	assert.Equal(t, "Bearer test-token", gotAuth)
	assert.Equal(t, "/chat/completions", gotPath)
	assert.Equal(t, "deepseek-chat", gotReq.Model)
	require.Len(t, gotReq.Messages, 2)
	assert.Equal(t, "system", gotReq.Messages[0].Role)
	assert.Equal(t, "проанализируй данные", gotReq.Messages[1].Content)

	assert.Equal(t, "отчёт готов", text, "content is trimmed")
}

func TestCompleteAPIError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := c.Complete(context.Background(), "s", "u")
	assert.ErrorContains(t, err, "429")
}

func TestCompleteEmptyChoices(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[]}`))
	})

	_, err := c.Complete(context.Background(), "s", "u")
	assert.ErrorContains(t, err, "no choices")
}
