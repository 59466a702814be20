package main

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/pflag"
)

// 问答命令的命令行参数
var (
	askQuestion     = pflag.String("question", "", "要提问的问题 (必填)")
	askConversation = pflag.String("conversation", "", "会话ID，不填则新开一个会话")
)

// runAsk 单轮问答，输出回答和引用的文档片段
func runAsk(ctx context.Context, application *app) {
	if *askQuestion == "" {
		fmt.Println("错误: 必须通过 --question 提供问题。")
		pflag.Usage()
		os.Exit(1)
	}

	conversationID := *askConversation
	if conversationID == "" {
		conversationID = uuid.NewString()
	}

	answer, err := application.assistant.Ask(ctx, conversationID, *askQuestion)
	if err != nil {
		fmt.Printf("问答失败: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("会话: %s\n\n%s\n", conversationID, answer.Text)

	if answer.Grounded {
		fmt.Println("\n===== 引用的文档片段 =====")
		for i, section := range answer.UsedSections {
			title := section.DocumentTitle
			if title == "" {
				title = section.DocumentID
			}
			fmt.Printf("  [%d] 《%s》第%d节 (片段ID: %s)\n", i+1, title, section.SectionIndex+1, section.SectionID)
		}
	} else {
		fmt.Println("\n(本回答未依据公司文档)")
	}
}
