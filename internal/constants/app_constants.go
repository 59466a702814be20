package constants

// 检索与上下文组装的产品默认值，config.yaml 未指定时使用
const (
	// DefaultMaxSectionTokens 单个文档片段的目标token数
	DefaultMaxSectionTokens = 1000
	// DefaultOverlapTokens 相邻片段之间的重叠token数
	DefaultOverlapTokens = 200
	// DefaultTopK 检索返回的片段数量
	DefaultTopK = 3
	// DefaultMinScore 低于此相似度分数的片段会被过滤
	DefaultMinScore = 0.2
	// DefaultContextTokenBudget 组装上下文的硬性token预算
	DefaultContextTokenBudget = 3000
	// DefaultHistoryBudgetFraction 预算中为对话历史保留的比例
	DefaultHistoryBudgetFraction = 0.25
	// DefaultHistoryWindow 组装时读取的最近对话轮数上限
	DefaultHistoryWindow = 10
	// DefaultFullAnalysisTokenLimit 简历整体分析的token上限，超过则分块分析
	DefaultFullAnalysisTokenLimit = 12000
)

// 外部服务调用的默认重试与超时参数
const (
	// DefaultEmbedBatchSize 单次嵌入请求携带的文本数上限
	DefaultEmbedBatchSize         = 10
	DefaultEmbedMaxRetries        = 3
	DefaultEmbedRetryWaitSeconds  = 1
	DefaultEmbedTimeoutSeconds    = 30
	DefaultGenerateMaxRetries     = 2
	DefaultGenerateTimeoutSeconds = 60
)

// DefaultEmbeddingDimensions 阿里云 text-embedding-v3 的默认输出维度
const DefaultEmbeddingDimensions = 1024

// DefaultTokenizerModel tiktoken 词表对应的模型名
const DefaultTokenizerModel = "gpt-3.5-turbo"
