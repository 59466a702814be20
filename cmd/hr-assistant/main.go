package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"

	"hr-agent-go/internal/agent"
	"hr-agent-go/internal/config"
	"hr-agent-go/internal/logger"
	"hr-agent-go/internal/parser"
	"hr-agent-go/internal/processor"
	"hr-agent-go/internal/storage"
	"hr-agent-go/internal/tracing"
	"hr-agent-go/pkg/ratelimit"
)

// 命令行参数定义
var (
	configPath = pflag.StringP("config", "c", "", "配置文件路径")
	command    = pflag.String("cmd", "ask", "执行的命令: ask=问答, ingest=摄取文档, delete=删除文档, analyze=分析简历, interview=生成面试问题, worker=启动摄取消费者")
)

// app 命令共享的运行时依赖
type app struct {
	cfg       *config.Config
	storage   *storage.Storage
	assistant *processor.Assistant
	extractor processor.TextExtractor
}

func main() {
	pflag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}

	logger.Init(logger.Config{
		Level:        cfg.Logger.Level,
		Format:       cfg.Logger.Format,
		TimeFormat:   cfg.Logger.TimeFormat,
		ReportCaller: cfg.Logger.ReportCaller,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracer, err := tracing.InitTracerProvider(ctx, tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		Endpoint:    cfg.Tracing.Endpoint,
		ServiceName: cfg.Tracing.ServiceName,
		SampleRatio: cfg.Tracing.SampleRatio,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to init tracer provider")
	}
	defer func() {
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancelShutdown()
		if err := shutdownTracer(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("tracer shutdown failed")
		}
	}()

	application, err := buildApp(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build application")
	}
	defer application.storage.Close()

	switch *command {
	case "ask":
		runAsk(ctx, application)
	case "ingest":
		runIngest(ctx, application)
	case "delete":
		runDelete(ctx, application)
	case "analyze":
		runAnalyze(ctx, application)
	case "interview":
		runInterview(ctx, application)
	case "worker":
		runWorker(ctx, application)
	default:
		fmt.Fprintf(os.Stderr, "错误: 未知命令 '%s'。支持的命令: ask, ingest, delete, analyze, interview, worker\n", *command)
		pflag.Usage()
		os.Exit(1)
	}
}

// buildApp 按配置装配整条问答流水线
func buildApp(ctx context.Context, cfg *config.Config) (*app, error) {
	storageManager, err := storage.NewStorage(cfg)
	if err != nil {
		return nil, fmt.Errorf("初始化存储失败: %w", err)
	}
	index := storageManager.Index()

	tokenCounter := parser.NewTokenCounter(cfg.RAG.TokenizerModel)

	chunker, err := parser.NewSemanticChunker(cfg.RAG.MaxSectionTokens, cfg.RAG.OverlapTokens,
		parser.WithChunkTokenCounter(tokenCounter))
	if err != nil {
		return nil, fmt.Errorf("初始化分块器失败: %w", err)
	}

	extractor, err := parser.NewTextExtractor(ctx)
	if err != nil {
		return nil, fmt.Errorf("初始化文本提取器失败: %w", err)
	}

	embedOpts := []parser.AliyunEmbedderOption{
		parser.WithEmbedRetryPolicy(cfg.RAG.EmbedMaxRetries, time.Duration(cfg.RAG.EmbedRetryWaitSeconds)*time.Second),
		parser.WithEmbedTimeout(time.Duration(cfg.RAG.EmbedTimeoutSeconds) * time.Second),
	}
	if qpm := cfg.GetQPMForModel(cfg.Aliyun.Embedding.Model); qpm > 0 {
		embedOpts = append(embedOpts, parser.WithEmbedRateLimiter(ratelimit.NewTokenBucket(qpm, 0)))
	}
	embedder, err := parser.NewAliyunEmbedder(cfg.Aliyun.APIKey, cfg.Aliyun.Embedding, embedOpts...)
	if err != nil {
		return nil, fmt.Errorf("初始化嵌入器失败: %w", err)
	}

	chatModel, err := agent.NewAliyunQwenChatModel(cfg.Aliyun.APIKey, cfg.Aliyun.Model, cfg.Aliyun.APIURL,
		agent.WithGenerateTimeout(time.Duration(cfg.RAG.GenerateTimeoutSeconds)*time.Second))
	if err != nil {
		return nil, fmt.Errorf("初始化聊天模型失败: %w", err)
	}

	var meta processor.MetadataStore
	if storageManager.MySQL != nil {
		meta = storageManager.MySQL
	}

	ingestor, err := processor.NewIngestor(extractor, chunker, embedder, index, meta,
		processor.WithEmbedBatchSize(cfg.Aliyun.Embedding.BatchSize))
	if err != nil {
		return nil, err
	}

	retriever, err := processor.NewRetriever(embedder, index,
		processor.WithTopK(cfg.RAG.TopK),
		processor.WithMinScore(float32(cfg.RAG.MinScore)))
	if err != nil {
		return nil, err
	}

	assembler, err := processor.NewAssembler(tokenCounter,
		processor.WithContextBudget(cfg.RAG.ContextTokenBudget),
		processor.WithHistoryFraction(cfg.RAG.HistoryBudgetFraction),
		processor.WithHistoryWindow(cfg.RAG.HistoryWindow))
	if err != nil {
		return nil, err
	}

	composer, err := processor.NewComposer(chatModel,
		processor.WithGenerateRetryPolicy(cfg.RAG.GenerateMaxRetries, time.Second),
		processor.WithComposeTimeout(time.Duration(cfg.RAG.GenerateTimeoutSeconds)*time.Second))
	if err != nil {
		return nil, err
	}

	analyzer, err := processor.NewAnalyzer(chunker, tokenCounter,
		processor.WithFullAnalysisLimit(cfg.RAG.FullAnalysisTokenLimit),
		processor.WithMatchEmbedder(embedder))
	if err != nil {
		return nil, err
	}

	var memory agent.ConversationMemory
	if storageManager.Redis != nil {
		memory, err = agent.NewRedisConversationMemory(storageManager.Redis.Client(), storageManager.Redis.HistoryTTL())
		if err != nil {
			return nil, fmt.Errorf("初始化会话存储失败: %w", err)
		}
	} else {
		memory = agent.NewInMemoryConversationMemory()
	}

	assistant, err := processor.NewAssistant(ingestor, retriever, assembler, composer, analyzer,
		processor.WithConversationMemory(memory),
		processor.WithServiceHistoryWindow(cfg.RAG.HistoryWindow))
	if err != nil {
		return nil, err
	}

	return &app{cfg: cfg, storage: storageManager, assistant: assistant, extractor: extractor}, nil
}
