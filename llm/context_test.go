package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newFakeAPI поднимает OpenAI-совместимую заглушку, отвечающую reply
func newFakeAPI(t *testing.T, reply string, gotRequest *ChatCompletionRequest) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/chat/completions", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(gotRequest))
		json.NewEncoder(w).Encode(ChatCompletionResponse{
			Choices: []ChatCompletionChoice{{Message: Message{Role: "assistant", Content: reply}}},
		})
	}))
}

func TestClient_Complete(t *testing.T) {
	var got ChatCompletionRequest
	server := newFakeAPI(t, "ответ модели", &got)
	defer server.Close()

	client := NewClient(server.URL+"/v1", "test-model", time.Second)
	response, err := client.Complete(context.Background(), []Message{
		{Role: "user", Content: "вопрос"},
	})
	require.NoError(t, err)
	assert.Equal(t, "ответ модели", response)
	assert.Equal(t, "test-model", got.Model)
	require.Len(t, got.Messages, 1)
}

func TestClient_Complete_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := NewClient(server.URL+"/v1", "test-model", time.Second)
	_, err := client.Complete(context.Background(), nil)
	assert.Error(t, err)
}

func TestContexter_SuggestContext(t *testing.T) {
	t.Run("briefing is one line", func(t *testing.T) {
		var got ChatCompletionRequest
		server := newFakeAPI(t, "Клиент хочет возврат.\nВторая строка отбрасывается", &got)
		defer server.Close()

		contexter := NewContexter(NewClient(server.URL+"/v1", "test-model", time.Second))
		text, err := contexter.SuggestContext(context.Background(), "как оформить возврат", "Question: ...\nКлиент: ...")
		require.NoError(t, err)
		assert.Equal(t, "Клиент хочет возврат.", text)

		// Вопрос и прошлые ответы попадают в промпт
		require.Len(t, got.Messages, 2)
		assert.Contains(t, got.Messages[1].Content, "как оформить возврат")
		assert.Contains(t, got.Messages[1].Content, "Similar past conversations")
	})

	t.Run("rejected suggestion is silently dropped", func(t *testing.T) {
		var got ChatCompletionRequest
		server := newFakeAPI(t, "As an AI assistant I suggest...", &got)
		defer server.Close()

		contexter := NewContexter(NewClient(server.URL+"/v1", "test-model", time.Second))
		text, err := contexter.SuggestContext(context.Background(), "вопрос", "")
		require.NoError(t, err)
		assert.Empty(t, text)
	})
}
