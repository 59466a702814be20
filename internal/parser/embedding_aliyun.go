package parser

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/embedding"
	"github.com/rs/zerolog"

	"hr-agent-go/internal/config"
	"hr-agent-go/internal/logger"
	"hr-agent-go/pkg/ratelimit"
)

// AliyunEmbedder 通过阿里云OpenAI兼容端点生成文本向量，
// 实现 cloudwego/eino 的 embedding.Embedder 接口。
// 同一文本输入始终得到同一向量（由服务端模型保证），
// 批量调用保持输入顺序，可重试错误按指数退避有限重试。
type AliyunEmbedder struct {
	apiKey     string
	model      string
	dimensions int
	httpClient *http.Client
	baseURL    string
	maxRetries int
	retryWait  time.Duration
	timeout    time.Duration
	limiter    *ratelimit.TokenBucket
	logger     zerolog.Logger
}

// AliyunEmbedderOption 嵌入客户端构造选项
type AliyunEmbedderOption func(*AliyunEmbedder)

// WithEmbedRetryPolicy 设置重试次数与初始等待时间
func WithEmbedRetryPolicy(maxRetries int, retryWait time.Duration) AliyunEmbedderOption {
	return func(a *AliyunEmbedder) {
		a.maxRetries = maxRetries
		a.retryWait = retryWait
	}
}

// WithEmbedTimeout 设置单次API调用的超时
func WithEmbedTimeout(timeout time.Duration) AliyunEmbedderOption {
	return func(a *AliyunEmbedder) {
		a.timeout = timeout
	}
}

// WithEmbedRateLimiter 设置QPM限流器
func WithEmbedRateLimiter(limiter *ratelimit.TokenBucket) AliyunEmbedderOption {
	return func(a *AliyunEmbedder) {
		a.limiter = limiter
	}
}

// NewAliyunEmbedder 创建阿里云Embedder（OpenAI兼容端点）
func NewAliyunEmbedder(apiKey string, embeddingCfg config.EmbeddingConfig, opts ...AliyunEmbedderOption) (*AliyunEmbedder, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("API密钥不能为空")
	}

	model := embeddingCfg.Model
	if model == "" {
		model = "text-embedding-v3"
	}
	baseURL := embeddingCfg.BaseURL
	if baseURL == "" {
		baseURL = "https://dashscope.aliyuncs.com/compatible-mode/v1/embeddings"
	}

	embedder := &AliyunEmbedder{
		apiKey:     apiKey,
		model:      model,
		dimensions: embeddingCfg.Dimensions,
		httpClient: &http.Client{},
		baseURL:    baseURL,
		maxRetries: 3,
		retryWait:  time.Second,
		timeout:    30 * time.Second,
		logger:     logger.Logger.With().Str("component", "aliyun_embedder").Logger(),
	}

	for _, opt := range opts {
		opt(embedder)
	}

	return embedder, nil
}

// GetDimensions 返回嵌入器配置的向量维度
func (a *AliyunEmbedder) GetDimensions() int {
	return a.dimensions
}

// aliyunEmbeddingRequest 请求结构 (OpenAI兼容)
type aliyunEmbeddingRequest struct {
	Input          interface{} `json:"input"` // string 或 []string
	Model          string      `json:"model"`
	Dimensions     int         `json:"dimensions,omitempty"`
	EncodingFormat string      `json:"encoding_format,omitempty"`
}

// aliyunEmbeddingResponse 响应结构 (OpenAI兼容)
type aliyunEmbeddingResponse struct {
	Object string                 `json:"object"`
	Data   []aliyunEmbeddingEntry `json:"data"`
	Model  string                 `json:"model"`
	Usage  aliyunEmbeddingUsage   `json:"usage"`
	ID     string                 `json:"id,omitempty"`
	Error  *aliyunAPIError        `json:"error,omitempty"`
}

type aliyunEmbeddingEntry struct {
	Object    string    `json:"object"`
	Embedding []float64 `json:"embedding"`
	Index     int       `json:"index"`
}

type aliyunEmbeddingUsage struct {
	PromptTokens int `json:"prompt_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// aliyunAPIError API在200响应中携带的错误
type aliyunAPIError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Param   string `json:"param"`
	Code    string `json:"code"`
}

// EmbedStrings 将一批文本转换为向量，实现 embedding.Embedder 接口。
// 返回向量与输入文本一一对应且顺序一致。所有重试耗尽后返回最后一次错误。
func (a *AliyunEmbedder) EmbedStrings(ctx context.Context, texts []string, opts ...embedding.Option) ([][]float64, error) {
	options := &embedding.Options{}
	embedding.GetCommonOptions(options, opts...)

	effectiveModel := a.model
	if options.Model != nil && *options.Model != "" {
		effectiveModel = *options.Model
	}

	if len(texts) == 0 {
		return [][]float64{}, nil
	}

	var result [][]float64
	var lastErr error

	wait := a.retryWait
	for attempt := 0; attempt <= a.maxRetries; attempt++ {
		if attempt > 0 {
			a.logger.Warn().
				Int("attempt", attempt).
				Dur("backoff", wait).
				Err(lastErr).
				Msg("embedding call retrying")
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
			}
			wait *= 2
		}

		if a.limiter != nil {
			if err := a.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}

		result, lastErr = a.embedOnce(ctx, texts, effectiveModel)
		if lastErr == nil {
			return result, nil
		}
		if !isRetryableError(lastErr) {
			return nil, lastErr
		}
	}

	return nil, fmt.Errorf("嵌入请求在%d次重试后仍然失败: %w", a.maxRetries, lastErr)
}

// embedOnce 发起单次嵌入请求
func (a *AliyunEmbedder) embedOnce(ctx context.Context, texts []string, model string) ([][]float64, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	var inputBody interface{}
	if len(texts) == 1 {
		inputBody = texts[0]
	} else {
		inputBody = texts
	}

	reqBody := aliyunEmbeddingRequest{
		Input: inputBody,
		Model: model,
	}
	if a.dimensions > 0 {
		reqBody.Dimensions = a.dimensions
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("序列化请求失败: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("创建HTTP请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.apiKey)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("发送HTTP请求失败: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("读取响应体失败: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiError aliyunAPIError
		if json.Unmarshal(body, &apiError) == nil && apiError.Message != "" {
			return nil, fmt.Errorf("API调用失败, 状态码: %d, 类型: %s, 错误: %s, Code: %s",
				resp.StatusCode, apiError.Type, apiError.Message, apiError.Code)
		}
		return nil, fmt.Errorf("API调用失败, 状态码: %d, 响应: %s", resp.StatusCode, string(body))
	}

	var parsedResp aliyunEmbeddingResponse
	if err := json.Unmarshal(body, &parsedResp); err != nil {
		return nil, fmt.Errorf("解析响应JSON失败: %w", err)
	}

	if parsedResp.Error != nil && parsedResp.Error.Message != "" {
		return nil, fmt.Errorf("API返回错误: 类型=%s, 消息='%s', Code=%s",
			parsedResp.Error.Type, parsedResp.Error.Message, parsedResp.Error.Code)
	}

	if len(parsedResp.Data) != len(texts) {
		return nil, fmt.Errorf("返回向量数(%d)与输入文本数(%d)不匹配", len(parsedResp.Data), len(texts))
	}

	// 按Index排序，保证输出顺序与输入文本对齐
	sort.Slice(parsedResp.Data, func(i, j int) bool {
		return parsedResp.Data[i].Index < parsedResp.Data[j].Index
	})

	outputEmbeddings := make([][]float64, len(parsedResp.Data))
	for i, entry := range parsedResp.Data {
		outputEmbeddings[i] = entry.Embedding
	}

	a.logger.Debug().
		Int("texts", len(texts)).
		Int("dimensions", firstEmbeddingDim(outputEmbeddings)).
		Int("prompt_tokens", parsedResp.Usage.PromptTokens).
		Msg("embedding call succeeded")

	return outputEmbeddings, nil
}

// firstEmbeddingDim 取第一个向量的维度用于日志
func firstEmbeddingDim(embeddings [][]float64) int {
	if len(embeddings) > 0 {
		return len(embeddings[0])
	}
	return 0
}

// isRetryableError 根据错误消息判断是否可重试
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}

	errStr := err.Error()
	retryable := []string{
		"timeout",
		"deadline exceeded",
		"connection reset",
		"EOF",
		"connection refused",
		"no such host",
		"429",
		"rate limit",
		"状态码: 500",
		"状态码: 502",
		"状态码: 503",
		"服务器繁忙",
	}
	for _, substr := range retryable {
		if strings.Contains(errStr, substr) {
			return true
		}
	}
	return false
}

var _ embedding.Embedder = (*AliyunEmbedder)(nil)
