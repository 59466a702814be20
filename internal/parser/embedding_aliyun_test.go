package parser

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

	"hr-agent-go/internal/config"
)

// newTestEmbedder 指向本地httptest服务的嵌入客户端
func newTestEmbedder(t *testing.T, serverURL string, opts ...AliyunEmbedderOption) *AliyunEmbedder {
	t.Helper()
	embedder, err := NewAliyunEmbedder("test-key", config.EmbeddingConfig{
		Model:      "text-embedding-v3",
		Dimensions: 4,
		BaseURL:    serverURL,
	}, opts...)
	require.NoError(t, err)
	return embedder
}

// embeddingResponseFor 构造与输入数量一致的响应，向量首个分量编码输入序号
func embeddingResponseFor(count int, reversed bool) aliyunEmbeddingResponse {
	resp := aliyunEmbeddingResponse{Object: "list"}
	for i := 0; i < count; i++ {
		idx := i
		if reversed {
			idx = count - 1 - i
		}
		resp.Data = append(resp.Data, aliyunEmbeddingEntry{
			Object:    "embedding",
			Index:     idx,
			Embedding: []float64{float64(idx), 0, 0, 1},
		})
	}
	return resp
}

func TestEmbedStringsEmptyInput(t *testing.T) {
	embedder := newTestEmbedder(t, "http://localhost:1")

	vectors, err := embedder.EmbedStrings(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, vectors, "空输入应当直接返回空结果且不发请求")
}

func TestEmbedStringsPreservesOrder(t *testing.T) {
	// 服务端故意乱序返回，客户端必须按Index还原输入顺序
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req aliyunEmbeddingRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		input, ok := req.Input.([]interface{})
		require.True(t, ok)
		json.NewEncoder(w).Encode(embeddingResponseFor(len(input), true))
	}))
	defer server.Close()

	embedder := newTestEmbedder(t, server.URL)
	vectors, err := embedder.EmbedStrings(context.Background(), []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Len(t, vectors, 3)

	for i, vec := range vectors {
		assert.Equal(t, float64(i), vec[0], "第%d个向量的顺序错误", i)
	}
}

func TestEmbedStringsRetryThenSucceed(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// 前两次返回503，第三次成功
		if atomic.AddInt32(&calls, 1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(embeddingResponseFor(1, false))
	}))
	defer server.Close()

	embedder := newTestEmbedder(t, server.URL,
		WithEmbedRetryPolicy(3, 10*time.Millisecond))

	vectors, err := embedder.EmbedStrings(context.Background(), []string{"hello"})
	require.NoError(t, err)
	require.Len(t, vectors, 1)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls), "应当在第3次调用时成功")
}

func TestEmbedStringsExhaustsRetries(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	embedder := newTestEmbedder(t, server.URL,
		WithEmbedRetryPolicy(2, 5*time.Millisecond))

	_, err := embedder.EmbedStrings(context.Background(), []string{"hello"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "重试后仍然失败")
	// 首次调用 + 2次重试
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestEmbedStringsNonRetryableFailsFast(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"message": "invalid input", "type": "invalid_request_error"})
	}))
	defer server.Close()

	embedder := newTestEmbedder(t, server.URL,
		WithEmbedRetryPolicy(3, 5*time.Millisecond))

	_, err := embedder.EmbedStrings(context.Background(), []string{"hello"})
	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "不可重试错误不应触发重试")
}

func TestEmbedStringsCountMismatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// 请求2条却只返回1条
		json.NewEncoder(w).Encode(embeddingResponseFor(1, false))
	}))
	defer server.Close()

	embedder := newTestEmbedder(t, server.URL, WithEmbedRetryPolicy(0, time.Millisecond))

	_, err := embedder.EmbedStrings(context.Background(), []string{"a", "b"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "不匹配")
}
