package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/pflag"
)

// 简历分析与面试问题命令的命令行参数
var (
	analyzeFile     = pflag.String("resume", "", "简历文件路径 (analyze/interview命令必填)")
	analyzePosition = pflag.String("position", "", "目标职位，填写后输出匹配分数")

	interviewCount = pflag.Int("count", 5, "生成的面试问题数量")
)

// runAnalyze 分析一份简历并打印结构化结果
func runAnalyze(ctx context.Context, application *app) {
	resumeText := loadResumeText(ctx, application)

	analysis, err := application.assistant.AnalyzeResume(ctx, resumeText, *analyzePosition)
	if err != nil {
		fmt.Printf("分析简历失败: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("===== 简历分析结果 =====")
	if analysis.Chunked {
		fmt.Println("(简历过长，已分块分析后合并)")
	}
	fmt.Printf("技能 (%d项): %s\n", len(analysis.Skills), strings.Join(analysis.Skills, ", "))
	fmt.Printf("工作年限: %.1f 年\n", analysis.ExperienceYears)
	if analysis.Education != "" {
		fmt.Printf("教育经历:\n%s\n", analysis.Education)
	}
	if analysis.Summary != "" {
		fmt.Printf("个人简介:\n%s\n", analysis.Summary)
	}
	if analysis.MatchScore != nil {
		fmt.Printf("与职位 \"%s\" 的匹配分数: %d/100\n", *analyzePosition, *analysis.MatchScore)
	}
}

// runInterview 针对职位生成面试问题，可选结合简历内容
func runInterview(ctx context.Context, application *app) {
	if *analyzePosition == "" {
		fmt.Println("错误: 必须通过 --position 提供目标职位。")
		pflag.Usage()
		os.Exit(1)
	}

	resumeContext := ""
	if *analyzeFile != "" {
		resumeText := loadResumeText(ctx, application)
		analysis, err := application.assistant.AnalyzeResume(ctx, resumeText, "")
		if err != nil {
			fmt.Printf("分析简历失败: %v\n", err)
			os.Exit(1)
		}
		resumeContext = fmt.Sprintf("技能: %s\n工作年限: %.1f年", strings.Join(analysis.Skills, ", "), analysis.ExperienceYears)
	}

	questions, err := application.assistant.GenerateInterviewQuestions(ctx, *analyzePosition, resumeContext, *interviewCount)
	if err != nil {
		fmt.Printf("生成面试问题失败: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("===== \"%s\" 面试问题 =====\n", *analyzePosition)
	for i, question := range questions {
		fmt.Printf("%d. %s\n", i+1, question)
	}
}

// loadResumeText 读取并提取简历文本，提取器负责识别格式
func loadResumeText(ctx context.Context, application *app) string {
	if *analyzeFile == "" {
		fmt.Println("错误: 必须通过 --resume 提供简历文件路径。")
		pflag.Usage()
		os.Exit(1)
	}

	data, err := os.ReadFile(*analyzeFile)
	if err != nil {
		fmt.Printf("读取简历文件失败: %v\n", err)
		os.Exit(1)
	}

	text, _, err := application.extractor.ExtractFromBytes(ctx, data, *analyzeFile)
	if err != nil {
		fmt.Printf("提取简历文本失败: %v\n", err)
		os.Exit(1)
	}
	return text
}
