package processor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"hr-agent-go/internal/agent"
	"hr-agent-go/internal/constants"
	"hr-agent-go/internal/logger"
	"hr-agent-go/internal/tracing"
	"hr-agent-go/internal/types"
)

var composeTracer = otel.Tracer("hr-agent-go/processor/composer")

// hrSystemPrompt HR助手的角色设定
const hrSystemPrompt = `你是一名专业的人力资源助手，负责回答员工关于公司制度、福利、假期等方面的问题。
回答要求：
1. 提供了公司文档摘录时，回答必须以摘录内容为依据，并在结尾注明引用的来源片段编号。
2. 摘录中找不到答案时，明确说明文档中没有相关信息，不要编造。
3. 回答使用提问者的语言，简洁准确。`

// groundedPromptTemplate 有检索结果时的用户消息模板
const groundedPromptTemplate = `请依据以下公司文档摘录回答问题。

文档摘录：
%s

问题：%s`

// ungroundedPromptTemplate 没有检索结果时的用户消息模板
const ungroundedPromptTemplate = `公司文档中没有检索到与该问题相关的内容，请基于通用的人力资源常识谨慎回答，并明确告知对方这不是依据公司文档的回答。

问题：%s`

// interviewQuestionsPrompt 面试问题生成的用户消息模板
const interviewQuestionsPrompt = `你是一名资深面试官。请针对"%s"职位生成%d个面试问题，逐行输出，每行一个问题，不要编号以外的额外说明。
%s`

// Answer 一次问答的结果
type Answer struct {
	// Text 回答正文
	Text string
	// UsedSections 进入提示词的片段，与引用标注一致
	UsedSections []types.CitedSection
	// Grounded 回答是否以公司文档为依据
	Grounded bool
}

// Composer 负责把组装好的上下文交给大模型生成回答
type Composer struct {
	chatModel  model.BaseChatModel
	maxRetries int
	retryWait  time.Duration
	timeout    time.Duration
}

// ComposerOption Composer 的配置选项
type ComposerOption func(*Composer)

// WithGenerateRetryPolicy 设置生成请求的重试次数和初始等待时间
func WithGenerateRetryPolicy(maxRetries int, retryWait time.Duration) ComposerOption {
	return func(c *Composer) {
		if maxRetries >= 0 {
			c.maxRetries = maxRetries
		}
		if retryWait > 0 {
			c.retryWait = retryWait
		}
	}
}

// WithComposeTimeout 设置单次生成请求的超时
func WithComposeTimeout(timeout time.Duration) ComposerOption {
	return func(c *Composer) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

// NewComposer 创建回答生成器
func NewComposer(chatModel model.BaseChatModel, opts ...ComposerOption) (*Composer, error) {
	if chatModel == nil {
		return nil, fmt.Errorf("聊天模型不能为空")
	}

	c := &Composer{
		chatModel:  chatModel,
		maxRetries: constants.DefaultGenerateMaxRetries,
		retryWait:  time.Second,
		timeout:    time.Duration(constants.DefaultGenerateTimeoutSeconds) * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Compose 生成回答。有片段时走文档依据模式，UsedSections只记录最终
// 真正进入提示词的片段：上下文超长重试把摘录截掉一半时，被截掉的片段
// 同步从引用中剔除。没有片段时明确走无依据模式。生成失败时重试，
// 耗尽后返回ErrGenerationFailed。
func (c *Composer) Compose(ctx context.Context, question string, assembled *AssembledContext) (*Answer, error) {
	if question == "" {
		return nil, ErrEmptyQuestion
	}
	if assembled == nil {
		assembled = &AssembledContext{}
	}

	ctx, span := composeTracer.Start(ctx, "Composer.Compose")
	defer span.End()

	grounded := len(assembled.Sections) > 0
	span.SetAttributes(
		attribute.Bool("compose.grounded", grounded),
		attribute.Int("compose.section_count", len(assembled.Sections)),
	)

	// 拷贝一份文本块，重试截断时不回写调用方的上下文。
	// 手工构造的上下文可能只有拼好的ContextText，当作单个块处理。
	blocks := append([]string(nil), assembled.Blocks...)
	sections := assembled.Sections
	if grounded && len(blocks) != len(sections) {
		blocks = []string{assembled.ContextText}
	}

	text, used, err := c.generateWithRetry(ctx, question, blocks, sections, assembled.History, grounded)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeLLM)
		return nil, NewGenerationError(err.Error())
	}

	answer := &Answer{
		Text:     text,
		Grounded: grounded,
	}
	if grounded {
		answer.UsedSections = used
	} else {
		answer.UsedSections = []types.CitedSection{}
	}

	span.SetStatus(codes.Ok, "")
	return answer, nil
}

// generateWithRetry 带退避地调用模型。命中上下文超长错误时按块边界
// 把文档摘录截掉一半再试，而不是原样重发；只剩一个块时截它的正文。
// 返回的片段集合与最终发出的提示词保持一致。
func (c *Composer) generateWithRetry(ctx context.Context, question string, blocks []string, sections []types.CitedSection, history []*agent.Turn, grounded bool) (string, []types.CitedSection, error) {
	wait := c.retryWait
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", nil, ctx.Err()
			case <-time.After(wait):
			}
			wait *= 2
		}

		contextText := strings.Join(blocks, "\n\n")
		messages := c.buildMessages(question, contextText, history, grounded)

		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		resp, err := c.chatModel.Generate(callCtx, messages)
		cancel()

		if err == nil {
			if resp == nil || strings.TrimSpace(resp.Content) == "" {
				lastErr = fmt.Errorf("模型返回了空回答")
				continue
			}
			return resp.Content, sections, nil
		}
		lastErr = err

		if isContextLengthError(err) && grounded && len(blocks) > 0 && blocks[0] != "" {
			if len(blocks) > 1 {
				blocks = blocks[:len(blocks)/2]
				if len(sections) > len(blocks) {
					sections = sections[:len(blocks)]
				}
			} else {
				blocks[0] = halveText(blocks[0])
			}
			logger.Warn().
				Int("attempt", attempt+1).
				Int("remaining_blocks", len(blocks)).
				Msg("context length exceeded, retrying with halved excerpts")
			continue
		}

		logger.Warn().Err(err).Int("attempt", attempt+1).Msg("answer generation failed, retrying")
	}

	return "", nil, fmt.Errorf("生成回答在%d次重试后仍然失败: %w", c.maxRetries, lastErr)
}

// buildMessages 构造发给模型的消息列表，历史轮次按原始角色还原
func (c *Composer) buildMessages(question, contextText string, history []*agent.Turn, grounded bool) []*schema.Message {
	messages := make([]*schema.Message, 0, len(history)+2)
	messages = append(messages, schema.SystemMessage(hrSystemPrompt))

	for _, turn := range history {
		switch turn.Role {
		case "assistant":
			messages = append(messages, schema.AssistantMessage(turn.Content, nil))
		default:
			messages = append(messages, schema.UserMessage(turn.Content))
		}
	}

	if grounded {
		messages = append(messages, schema.UserMessage(fmt.Sprintf(groundedPromptTemplate, contextText, question)))
	} else {
		messages = append(messages, schema.UserMessage(fmt.Sprintf(ungroundedPromptTemplate, question)))
	}
	return messages
}

// GenerateInterviewQuestions 针对职位生成面试问题，resumeContext可为空
func (c *Composer) GenerateInterviewQuestions(ctx context.Context, position string, resumeContext string, count int) ([]string, error) {
	if strings.TrimSpace(position) == "" {
		return nil, fmt.Errorf("职位名称不能为空")
	}
	if count <= 0 {
		count = 5
	}

	ctx, span := composeTracer.Start(ctx, "Composer.GenerateInterviewQuestions")
	defer span.End()
	span.SetAttributes(
		attribute.String("interview.position", position),
		attribute.Int("interview.question_count", count),
	)

	extra := ""
	if strings.TrimSpace(resumeContext) != "" {
		extra = fmt.Sprintf("候选人简历要点：\n%s", resumeContext)
	}

	messages := []*schema.Message{
		schema.SystemMessage(hrSystemPrompt),
		schema.UserMessage(fmt.Sprintf(interviewQuestionsPrompt, position, count, extra)),
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	resp, err := c.chatModel.Generate(callCtx, messages)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeLLM)
		return nil, NewGenerationError(err.Error())
	}

	questions := parseQuestionLines(resp.Content)
	if len(questions) == 0 {
		return nil, NewGenerationError("模型未返回任何面试问题")
	}
	if len(questions) > count {
		questions = questions[:count]
	}

	span.SetStatus(codes.Ok, "")
	return questions, nil
}

// parseQuestionLines 从模型输出中逐行提取问题，剥掉序号前缀
func parseQuestionLines(content string) []string {
	var questions []string
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		// 剥离 "1." "1、" "-" 等列表前缀
		line = strings.TrimLeft(line, "0123456789")
		line = strings.TrimLeft(line, ".、-) ")
		line = strings.TrimSpace(line)
		if line != "" {
			questions = append(questions, line)
		}
	}
	return questions
}

// isContextLengthError 判断错误是否由提示词超过模型上下文窗口引起
func isContextLengthError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "maximum context length") ||
		strings.Contains(msg, "context_length_exceeded") ||
		strings.Contains(msg, "input length") ||
		strings.Contains(msg, "range of input length")
}

// halveText 按rune数保留文本的前一半
func halveText(text string) string {
	runes := []rune(text)
	return string(runes[:len(runes)/2])
}
