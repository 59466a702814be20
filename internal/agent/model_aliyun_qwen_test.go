package agent

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func completionJSON(content string) string {
	resp := OpenAICompletionResponse{
		Id:     "chatcmpl-test",
		Object: "chat.completion",
		Choices: []OpenAIChatChoice{
			{Message: OpenAIMessage{Role: "assistant", Content: &content}},
		},
	}
	data, _ := json.Marshal(resp)
	return string(data)
}

func TestNewAliyunQwenChatModelRequiresAPIKey(t *testing.T) {
	_, err := NewAliyunQwenChatModel("  ", "", "")
	assert.Error(t, err)
}

func TestQwenGenerate(t *testing.T) {
	var gotAuth string
	var gotReq OpenAIChatCompletionRequest

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(completionJSON("每年15天。")))
	}))
	defer server.Close()

	chatModel, err := NewAliyunQwenChatModel("test-key", "qwen-plus", server.URL)
	require.NoError(t, err)

	resp, err := chatModel.Generate(context.Background(), []*schema.Message{
		schema.SystemMessage("你是HR助手"),
		schema.UserMessage("年假有几天?"),
	})
	require.NoError(t, err)

	assert.Equal(t, "Bearer test-key", gotAuth)
	assert.Equal(t, "qwen-plus", gotReq.Model)
	assert.Len(t, gotReq.Messages, 2)
	assert.Equal(t, schema.Assistant, resp.Role)
	assert.Equal(t, "每年15天。", resp.Content)
}

func TestQwenGenerateEmptyMessages(t *testing.T) {
	chatModel, err := NewAliyunQwenChatModel("test-key", "", "http://unused")
	require.NoError(t, err)

	_, err = chatModel.Generate(context.Background(), nil)
	assert.Error(t, err)
}

func TestQwenGenerateOptionOverrides(t *testing.T) {
	var gotReq OpenAIChatCompletionRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		_, _ = w.Write([]byte(completionJSON("ok")))
	}))
	defer server.Close()

	chatModel, err := NewAliyunQwenChatModel("test-key", "qwen-plus", server.URL, WithTemperature(0.2))
	require.NoError(t, err)

	_, err = chatModel.Generate(context.Background(),
		[]*schema.Message{schema.UserMessage("hi")},
		model.WithModel("qwen-max"), model.WithTemperature(0.9))
	require.NoError(t, err)

	// 调用级选项覆盖实例默认值
	assert.Equal(t, "qwen-max", gotReq.Model)
	require.NotNil(t, gotReq.Temperature)
	assert.InDelta(t, 0.9, float64(*gotReq.Temperature), 1e-6)
}

func TestQwenGenerateAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"This model's maximum context length is 8192 tokens","type":"invalid_request_error","code":"context_length_exceeded"}}`))
	}))
	defer server.Close()

	chatModel, err := NewAliyunQwenChatModel("test-key", "", server.URL)
	require.NoError(t, err)

	_, err = chatModel.Generate(context.Background(), []*schema.Message{schema.UserMessage("hi")})
	require.Error(t, err)
	// 结构化错误信息原样保留，上层据此识别上下文超长
	assert.Contains(t, err.Error(), "maximum context length")
}

func TestQwenGenerateEmptyChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"x","object":"chat.completion","choices":[]}`))
	}))
	defer server.Close()

	chatModel, err := NewAliyunQwenChatModel("test-key", "", server.URL)
	require.NoError(t, err)

	_, err = chatModel.Generate(context.Background(), []*schema.Message{schema.UserMessage("hi")})
	assert.Error(t, err)
}

func TestQwenGenerateToolCalls(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"x","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":null,"tool_calls":[{"id":"call-1","type":"function","function":{"name":"lookup_policy","arguments":"{\"topic\":\"vacation\"}"}}]},"finish_reason":"tool_calls"}]}`))
	}))
	defer server.Close()

	chatModel, err := NewAliyunQwenChatModel("test-key", "", server.URL)
	require.NoError(t, err)

	resp, err := chatModel.Generate(context.Background(), []*schema.Message{schema.UserMessage("hi")})
	require.NoError(t, err)

	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "call-1", resp.ToolCalls[0].ID)
	assert.Equal(t, "lookup_policy", resp.ToolCalls[0].Function.Name)
	assert.Empty(t, resp.Content)
}

func TestQwenBindToolsIncludedInRequest(t *testing.T) {
	var gotReq OpenAIChatCompletionRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		_, _ = w.Write([]byte(completionJSON("ok")))
	}))
	defer server.Close()

	chatModel, err := NewAliyunQwenChatModel("test-key", "", server.URL)
	require.NoError(t, err)

	chatModel.BindOpenAITools([]OpenAITool{{
		Type: "function",
		Function: OpenAIFunction{
			Name:        "lookup_policy",
			Description: "查询公司制度",
			Parameters: OpenAIToolFunctionParams{
				Type: "object",
				Properties: map[string]OpenAIToolFunctionParamsProperty{
					"topic": {Type: "string", Description: "制度主题"},
				},
				Required: []string{"topic"},
			},
		},
	}})

	_, err = chatModel.Generate(context.Background(), []*schema.Message{schema.UserMessage("hi")})
	require.NoError(t, err)

	require.Len(t, gotReq.Tools, 1)
	assert.Equal(t, "lookup_policy", gotReq.Tools[0].Function.Name)
}
