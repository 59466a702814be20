package storage

import (
	"fmt"
	"log"
	"strings"

	"hr-agent-go/internal/config"
)

// Storage 所有后端存储的聚合
type Storage struct {
	// 关系型数据库，文档与片段元数据
	MySQL *MySQL

	// 向量数据库
	Qdrant *Qdrant

	// 键值存储，会话历史
	Redis *Redis

	// 摄取任务队列
	RabbitMQ *RabbitMQ

	memoryIndex *MemoryIndex
}

// Index 返回检索使用的向量索引。
// Qdrant未配置时退回到同一个内存索引，便于本地运行和测试。
func (s *Storage) Index() VectorIndex {
	if s.Qdrant != nil {
		return s.Qdrant
	}
	if s.memoryIndex == nil {
		s.memoryIndex = NewMemoryIndex(0)
	}
	return s.memoryIndex
}

// NewStorage 创建存储管理器。
// 未配置的组件跳过初始化；一个组件都没配置是合法的本地模式，
// 向量检索通过Index()退回到内存索引。配置了的组件全部失败时返回错误。
func NewStorage(cfg *config.Config) (*Storage, error) {
	if cfg == nil {
		return nil, fmt.Errorf("配置不能为空")
	}

	storage := &Storage{}
	var err error
	var initErrors []string

	// 初始化MySQL（如果配置了）
	if cfg.MySQL.Host != "" {
		log.Printf("初始化MySQL...")
		storage.MySQL, err = NewMySQL(&cfg.MySQL)
		if err != nil {
			log.Printf("警告: 初始化MySQL失败: %v", err)
			initErrors = append(initErrors, fmt.Sprintf("MySQL: %v", err))
		}
	}

	// 初始化Qdrant（如果配置了）
	if cfg.Qdrant.Endpoint != "" {
		log.Printf("初始化Qdrant...")
		storage.Qdrant, err = NewQdrant(&cfg.Qdrant)
		if err != nil {
			log.Printf("警告: 初始化Qdrant失败: %v", err)
			initErrors = append(initErrors, fmt.Sprintf("Qdrant: %v", err))
		}
	}

	// 初始化Redis（如果配置了）
	if cfg.Redis.Address != "" {
		log.Printf("初始化Redis at %s...", cfg.Redis.Address)
		storage.Redis, err = NewRedis(&cfg.Redis)
		if err != nil {
			log.Printf("警告: 初始化Redis失败: %v", err)
			initErrors = append(initErrors, fmt.Sprintf("Redis: %v", err))
		}
	}

	// 初始化RabbitMQ（如果配置了）
	if cfg.RabbitMQ.URL != "" {
		log.Printf("初始化RabbitMQ...")
		storage.RabbitMQ, err = NewRabbitMQ(&cfg.RabbitMQ)
		if err != nil {
			log.Printf("警告: 初始化RabbitMQ失败: %v", err)
			initErrors = append(initErrors, fmt.Sprintf("RabbitMQ: %v", err))
		}
	}

	allNil := storage.MySQL == nil && storage.Qdrant == nil && storage.Redis == nil && storage.RabbitMQ == nil

	if len(initErrors) > 0 {
		if allNil {
			return nil, fmt.Errorf("所有存储组件初始化失败: %s", strings.Join(initErrors, "; "))
		}
		log.Printf("警告: 以下存储组件初始化失败: %s", strings.Join(initErrors, "; "))
	} else if allNil {
		log.Printf("警告: 未配置任何存储组件，向量检索使用内存索引")
	}

	return storage, nil
}

// Close 关闭所有连接
func (s *Storage) Close() {
	if s.RabbitMQ != nil {
		if err := s.RabbitMQ.Close(); err != nil {
			log.Printf("关闭RabbitMQ连接失败: %v", err)
		}
	}

	if s.MySQL != nil {
		if err := s.MySQL.Close(); err != nil {
			log.Printf("关闭MySQL连接失败: %v", err)
		}
	}

	if s.Redis != nil {
		if err := s.Redis.Close(); err != nil {
			log.Printf("关闭Redis连接失败: %v", err)
		}
	}
	// Qdrant走HTTP，无需显式关闭
}
