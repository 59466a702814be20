package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/pflag"

	"hr-agent-go/internal/storage"
	"hr-agent-go/internal/types"
)

// 摄取与删除命令的命令行参数
var (
	ingestFile     = pflag.String("file", "", "要摄取的文档路径 (必填)")
	ingestTitle    = pflag.String("title", "", "文档标题，不填则使用文件名")
	ingestCategory = pflag.String("category", "", "文档分类，例如 policy, benefits")
	ingestOwner    = pflag.String("owner", "", "文档负责人ID")
	ingestDocID    = pflag.String("doc-id", "", "文档ID，重新摄取已有文档时指定")
	ingestQueued   = pflag.Bool("queued", false, "发布到摄取队列而不是立即处理")

	deleteDocID = pflag.String("delete-doc-id", "", "要删除的文档ID (delete命令必填)")
)

// runIngest 摄取一份文档：直接处理，或发布到RabbitMQ队列由worker处理
func runIngest(ctx context.Context, application *app) {
	if *ingestFile == "" {
		fmt.Println("错误: 必须通过 --file 提供文档路径。")
		pflag.Usage()
		os.Exit(1)
	}

	absPath, err := filepath.Abs(*ingestFile)
	if err != nil {
		fmt.Printf("无法获取文件的绝对路径: %v\n", err)
		os.Exit(1)
	}
	if _, err := os.Stat(absPath); err != nil {
		fmt.Printf("无法访问文件 %s: %v\n", absPath, err)
		os.Exit(1)
	}

	title := *ingestTitle
	if title == "" {
		title = strings.TrimSuffix(filepath.Base(absPath), filepath.Ext(absPath))
	}
	documentID := *ingestDocID
	if documentID == "" {
		documentID = uuid.NewString()
	}

	if *ingestQueued {
		if application.storage.RabbitMQ == nil {
			fmt.Println("错误: 未配置RabbitMQ，无法发布摄取任务。")
			os.Exit(1)
		}
		task := &storage.IngestTask{
			DocumentID: documentID,
			Title:      title,
			Category:   *ingestCategory,
			OwnerID:    *ingestOwner,
			URI:        absPath,
		}
		if err := application.storage.RabbitMQ.PublishIngestTask(ctx, task); err != nil {
			fmt.Printf("发布摄取任务失败: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("摄取任务已发布，文档ID: %s\n", documentID)
		return
	}

	doc := &types.Document{
		ID:       documentID,
		Title:    title,
		Category: *ingestCategory,
		OwnerID:  *ingestOwner,
	}

	startTime := time.Now()
	result, err := application.assistant.IngestFile(ctx, doc, absPath)
	if err != nil {
		fmt.Printf("摄取文档失败: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("摄取完成! 耗时: %v\n", time.Since(startTime))
	fmt.Printf("文档ID: %s\n片段数: %d\n文本长度: %d 字符\n", result.DocumentID, result.SectionCount, result.TextLength)
}

// runDelete 删除一份文档的向量点和元数据
func runDelete(ctx context.Context, application *app) {
	if *deleteDocID == "" {
		fmt.Println("错误: 必须通过 --delete-doc-id 提供文档ID。")
		pflag.Usage()
		os.Exit(1)
	}

	if err := application.assistant.DeleteDocument(ctx, *deleteDocID); err != nil {
		fmt.Printf("删除文档失败: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("文档 %s 已删除。\n", *deleteDocID)
}
