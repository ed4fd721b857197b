package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOpenAIGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/completions", r.URL.Path)
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		var req openAIChatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "gpt-test", req.Model)
		require.Len(t, req.Messages, 1)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{"content": "  the answer  "}},
			},
		})
	}))
	defer srv.Close()

	p := &openAIProvider{apiKey: "test-key", baseURL: srv.URL}
	got, err := p.Generate(context.Background(), "gpt-test", "question")
	require.NoError(t, err)
	require.Equal(t, "the answer", got)
}

func TestOpenAIGenerateUnavailableWithoutKey(t *testing.T) {
	p := &openAIProvider{baseURL: "http://unused"}
	_, err := p.Generate(context.Background(), "gpt-test", "question")
	require.ErrorIs(t, err, ErrUnavailable)
}

func TestOpenAIEmbedBatchSingleRequest(t *testing.T) {
	requests := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		require.Equal(t, "/embeddings", r.URL.Path)
		var req openAIEmbedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, []string{"one", "two", "three"}, req.Input)
		// Out-of-order response items must land at their declared index.
		json.NewEncoder(w).Encode(map[string]interface{}{
			"data": []map[string]interface{}{
				{"index": 2, "embedding": []float32{3}},
				{"index": 0, "embedding": []float32{1}},
				{"index": 1, "embedding": []float32{2}},
			},
		})
	}))
	defer srv.Close()

	p := &openAIEmbedProvider{apiKey: "test-key", baseURL: srv.URL}
	vecs, err := p.EmbedBatch(context.Background(), "embed-test", []string{"one", "two", "three"}, TaskRetrievalDocument)
	require.NoError(t, err)
	require.Equal(t, 1, requests)
	require.Equal(t, [][]float32{{1}, {2}, {3}}, vecs)
}

func TestOpenAIEmbedBatchCountMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"data": []map[string]interface{}{
				{"index": 0, "embedding": []float32{1}},
			},
		})
	}))
	defer srv.Close()

	p := &openAIEmbedProvider{apiKey: "test-key", baseURL: srv.URL}
	_, err := p.EmbedBatch(context.Background(), "embed-test", []string{"one", "two"}, TaskRetrievalDocument)
	require.Error(t, err)
}

func TestOpenAIErrorStatusSurfaced(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"rate limited"}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	p := &openAIProvider{apiKey: "test-key", baseURL: srv.URL}
	_, err := p.Generate(context.Background(), "gpt-test", "question")
	require.ErrorContains(t, err, "429")
}
