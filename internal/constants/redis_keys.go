package constants

// Redis键格式: app:{模块}:{实体}:{标识}
const (
	// ConversationHistoryKeyFmt 会话历史列表, %s为会话ID
	ConversationHistoryKeyFmt = "hragent:chat:history:%s"
	// DocumentIngestLockKeyFmt 文档摄取分布式锁, %s为文档ID
	DocumentIngestLockKeyFmt = "hragent:ingest:lock:%s"
	// DocumentDigestKeyFmt 已摄取文档内容摘要, %s为文档ID
	DocumentDigestKeyFmt = "hragent:ingest:digest:%s"
)

// ConversationHistoryKeyPrefix 会话历史键前缀，用于Redis记忆实现
const ConversationHistoryKeyPrefix = "hragent:chat:history:"
