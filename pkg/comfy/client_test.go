package comfy

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient() *Client {
	return NewClient(slog.Default())
}

func TestSubmitPrompt_Success(t *testing.T) {
	node := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/prompt", r.URL.Path)

		var body PromptRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "task-1", body.ClientID)

		_ = json.NewEncoder(w).Encode(map[string]string{"prompt_id": "p-123"})
	}))
	defer node.Close()

	result, err := testClient().SubmitPrompt(context.Background(), node.URL, PromptRequest{
		ClientID: "task-1",
		Prompt:   map[string]any{"3": map[string]any{"inputs": map[string]any{}}},
	})
	require.NoError(t, err)
	assert.True(t, result.OK())
	assert.Equal(t, "p-123", result.PromptID)
}

func TestSubmitPrompt_EngineRejection(t *testing.T) {
	node := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid prompt"}`))
	}))
	defer node.Close()

	result, err := testClient().SubmitPrompt(context.Background(), node.URL, PromptRequest{ClientID: "task-1"})
	require.NoError(t, err)
	assert.False(t, result.OK())
	assert.Empty(t, result.PromptID)
	assert.Contains(t, result.Body, "invalid prompt")
}

func TestHistory_EmptyMeansStillRunning(t *testing.T) {
	node := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/history/p-123", r.URL.Path)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer node.Close()

	history, err := testClient().History(context.Background(), node.URL, "p-123")
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestHistory_Completion(t *testing.T) {
	node := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"p-123":{"outputs":{"9":{"images":[{"filename":"out.png","type":"output"}]}}}}`))
	}))
	defer node.Close()

	history, err := testClient().History(context.Background(), node.URL, "p-123")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Contains(t, history, "p-123")
}

func TestView_ReturnsBinary(t *testing.T) {
	node := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/view", r.URL.Path)
		assert.Equal(t, "out.png", r.URL.Query().Get("filename"))
		assert.Equal(t, "output", r.URL.Query().Get("type"))

		_, _ = w.Write([]byte{0x89, 0x50, 0x4e, 0x47})
	}))
	defer node.Close()

	body, err := testClient().View(context.Background(), node.URL, "output", "out.png")
	require.NoError(t, err)
	assert.Equal(t, []byte{0x89, 0x50, 0x4e, 0x47}, body)
}

func TestUploadImage_RetriesUntilSuccess(t *testing.T) {
	source := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte{0x89, 0x50})
	}))
	defer source.Close()

	var attempts atomic.Int32

	node := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/upload/image", r.URL.Path)

		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)

			return
		}

		require.NoError(t, r.ParseMultipartForm(1<<20))

		_, header, err := r.FormFile("image")
		require.NoError(t, err)
		assert.Contains(t, header.Filename, "source.png")

		_ = json.NewEncoder(w).Encode(map[string]string{"name": "staged_source.png"})
	}))
	defer node.Close()

	name, err := testClient().UploadImage(context.Background(), node.URL, source.URL+"/source.png")
	require.NoError(t, err)
	assert.Equal(t, "staged_source.png", name)
	assert.Equal(t, int32(3), attempts.Load())
}

func TestUploadImage_ExhaustsAttempts(t *testing.T) {
	source := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte{0x89})
	}))
	defer source.Close()

	var attempts atomic.Int32

	node := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer node.Close()

	_, err := testClient().UploadImage(context.Background(), node.URL, source.URL+"/source.png")
	require.Error(t, err)
	assert.Equal(t, int32(3), attempts.Load())
}
