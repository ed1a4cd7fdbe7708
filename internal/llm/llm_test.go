package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chatServer(t *testing.T, status int, reply string, seen *[]map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)

		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if seen != nil {
			*seen = append(*seen, body)
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if status != http.StatusOK {
			_, _ = w.Write([]byte(`{"error":{"message":"boom","type":"server_error"}}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": 1,
			"model":   "local",
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": reply},
			}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestClientComplete(t *testing.T) {
	var seen []map[string]any
	srv := chatServer(t, http.StatusOK, "  hi there  ", &seen)

	c := NewClient(Config{BaseURL: srv.URL, Model: "local", Temperature: 0.2, MaxTokens: 500})
	out, err := c.Complete(context.Background(), []Message{
		{Role: RoleSystem, Content: "be nice"},
		{Role: RoleUser, Content: "hello"},
	})
	require.NoError(t, err)
	assert.Equal(t, "  hi there  ", out)

	require.Len(t, seen, 1)
	assert.Equal(t, "local", seen[0]["model"])
	msgs := seen[0]["messages"].([]any)
	require.Len(t, msgs, 2)
	assert.Equal(t, "system", msgs[0].(map[string]any)["role"])
}

func TestClientServerErrorIsUnavailable(t *testing.T) {
	srv := chatServer(t, http.StatusServiceUnavailable, "", nil)

	c := NewClient(Config{BaseURL: srv.URL, Model: "local"})
	_, err := c.Complete(context.Background(), []Message{{Role: RoleUser, Content: "x"}})
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestClientBadRequestIsNotRetryable(t *testing.T) {
	srv := chatServer(t, http.StatusBadRequest, "", nil)

	c := NewClient(Config{BaseURL: srv.URL, Model: "local"})
	_, err := c.Complete(context.Background(), []Message{{Role: RoleUser, Content: "x"}})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnavailable)
}

func TestClientConnectionRefusedIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := NewClient(Config{BaseURL: url, Model: "local"})
	_, err := c.Complete(context.Background(), []Message{{Role: RoleUser, Content: "x"}})
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestScripted(t *testing.T) {
	s := NewScripted().Reply("one").Fail(ErrUnavailable)

	out, err := s.Complete(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "one", out)

	_, err = s.Complete(context.Background(), nil)
	assert.ErrorIs(t, err, ErrUnavailable)

	_, err = s.Complete(context.Background(), nil)
	assert.Error(t, err)
	assert.Equal(t, 3, s.Calls())
}
