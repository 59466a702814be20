package processor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"hr-agent-go/internal/agent"
	"hr-agent-go/internal/constants"
	"hr-agent-go/internal/logger"
	"hr-agent-go/internal/storage"
	"hr-agent-go/internal/tracing"
	"hr-agent-go/internal/types"
)

var serviceTracer = otel.Tracer("hr-agent-go/processor/service")

// Assistant HR问答服务的统一入口，串起摄取、检索、组装和生成
type Assistant struct {
	ingestor      *Ingestor
	retriever     *Retriever
	assembler     *Assembler
	composer      *Composer
	analyzer      *Analyzer
	memory        agent.ConversationMemory
	historyWindow int
}

// AssistantOption Assistant 的配置选项
type AssistantOption func(*Assistant)

// WithConversationMemory 设置会话历史存储，未设置时使用内存实现
func WithConversationMemory(memory agent.ConversationMemory) AssistantOption {
	return func(s *Assistant) {
		if memory != nil {
			s.memory = memory
		}
	}
}

// WithServiceHistoryWindow 设置每次问答读取的最近轮数
func WithServiceHistoryWindow(window int) AssistantOption {
	return func(s *Assistant) {
		if window > 0 {
			s.historyWindow = window
		}
	}
}

// NewAssistant 创建HR问答服务
func NewAssistant(ingestor *Ingestor, retriever *Retriever, assembler *Assembler, composer *Composer, analyzer *Analyzer, opts ...AssistantOption) (*Assistant, error) {
	if ingestor == nil {
		return nil, fmt.Errorf("摄取器不能为空")
	}
	if retriever == nil {
		return nil, fmt.Errorf("检索器不能为空")
	}
	if assembler == nil {
		return nil, fmt.Errorf("组装器不能为空")
	}
	if composer == nil {
		return nil, fmt.Errorf("生成器不能为空")
	}
	if analyzer == nil {
		return nil, fmt.Errorf("分析器不能为空")
	}

	s := &Assistant{
		ingestor:      ingestor,
		retriever:     retriever,
		assembler:     assembler,
		composer:      composer,
		analyzer:      analyzer,
		memory:        agent.NewInMemoryConversationMemory(),
		historyWindow: constants.DefaultHistoryWindow,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Ask 回答一个问题。检索链路（嵌入或索引）故障时降级为无文档依据的回答
// 而不是直接失败；生成失败则原样返回错误且不写入会话历史。
func (s *Assistant) Ask(ctx context.Context, conversationID, question string) (*Answer, error) {
	if question == "" {
		return nil, ErrEmptyQuestion
	}

	ctx, span := serviceTracer.Start(ctx, "Assistant.Ask")
	defer span.End()
	span.SetAttributes(attribute.String("conversation.id", conversationID))

	history, err := s.memory.GetRecent(ctx, conversationID, s.historyWindow)
	if err != nil {
		// 历史读不到不阻塞问答
		logger.Warn().Err(err).Str("conversation_id", conversationID).Msg("failed to load conversation history")
		history = []*agent.Turn{}
	}

	results, err := s.retriever.Retrieve(ctx, question, nil)
	if err != nil {
		if errors.Is(err, ErrEmbeddingUnavailable) || errors.Is(err, ErrIndexUnavailable) {
			logger.Warn().Err(err).Msg("retrieval unavailable, answering without document excerpts")
			results = nil
		} else {
			tracing.RecordError(span, err, tracing.ErrorTypeInternal)
			return nil, err
		}
	}

	assembled := s.assembler.Assemble(results, history)
	answer, err := s.composer.Compose(ctx, question, assembled)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeLLM)
		return nil, err
	}

	now := time.Now()
	usedIDs := make([]string, 0, len(answer.UsedSections))
	for _, section := range answer.UsedSections {
		usedIDs = append(usedIDs, section.SectionID)
	}
	turns := []*agent.Turn{
		{Role: "user", Content: question, CreatedAt: now},
		{Role: "assistant", Content: answer.Text, UsedSectionIDs: usedIDs, CreatedAt: now},
	}
	if err := s.memory.AppendTurns(ctx, conversationID, turns); err != nil {
		// 历史写失败不影响已生成的回答
		logger.Warn().Err(err).Str("conversation_id", conversationID).Msg("failed to append conversation turns")
	}

	span.SetAttributes(
		attribute.Bool("answer.grounded", answer.Grounded),
		attribute.Int("answer.used_sections", len(answer.UsedSections)),
	)
	span.SetStatus(codes.Ok, "")
	return answer, nil
}

// ClearConversation 清除一个会话的历史
func (s *Assistant) ClearConversation(ctx context.Context, conversationID string) error {
	return s.memory.Clear(ctx, conversationID)
}

// IngestFile 摄取本地文件
func (s *Assistant) IngestFile(ctx context.Context, doc *types.Document, filePath string) (*IngestResult, error) {
	return s.ingestor.IngestFile(ctx, doc, filePath)
}

// IngestText 摄取已提取好的纯文本
func (s *Assistant) IngestText(ctx context.Context, doc *types.Document, text string) (*IngestResult, error) {
	return s.ingestor.IngestText(ctx, doc, text)
}

// DeleteDocument 删除文档的向量点和元数据
func (s *Assistant) DeleteDocument(ctx context.Context, documentID string) error {
	return s.ingestor.DeleteDocument(ctx, documentID)
}

// HandleIngestTask 处理队列里的摄取任务，供消费端worker调用
func (s *Assistant) HandleIngestTask(ctx context.Context, task *storage.IngestTask) error {
	if task == nil || task.DocumentID == "" {
		return fmt.Errorf("摄取任务不合法")
	}

	doc := &types.Document{
		ID:       task.DocumentID,
		Title:    task.Title,
		Category: task.Category,
		OwnerID:  task.OwnerID,
	}
	result, err := s.ingestor.IngestFile(ctx, doc, task.URI)
	if err != nil {
		return err
	}

	logger.Info().
		Str("document_id", result.DocumentID).
		Int("section_count", result.SectionCount).
		Msg("queued ingest task completed")
	return nil
}

// AnalyzeResume 分析简历文本，position可为空
func (s *Assistant) AnalyzeResume(ctx context.Context, resumeText, position string) (*types.ResumeAnalysis, error) {
	return s.analyzer.Analyze(ctx, resumeText, position)
}

// GenerateInterviewQuestions 针对职位生成面试问题
func (s *Assistant) GenerateInterviewQuestions(ctx context.Context, position, resumeContext string, count int) ([]string, error) {
	return s.composer.GenerateInterviewQuestions(ctx, position, resumeContext, count)
}
