package processor

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"hr-agent-go/internal/constants"
	"hr-agent-go/internal/logger"
	"hr-agent-go/internal/parser"
	"hr-agent-go/internal/tracing"
	"hr-agent-go/internal/types"
)

var analyzeTracer = otel.Tracer("hr-agent-go/processor/analyzer")

// 工作年限的表述形式："5 years"、"3+ yrs"、"8年"
var experienceYearsRe = regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s*\+?\s*(?:years?|yrs?|年)`)

// 任职时间段："2015-2020"、"2018 – 至今"、"2019/03 - present"
var dateRangeRe = regexp.MustCompile(`((?:19|20)\d{2})\s*(?:[./年]\s*\d{1,2}\s*月?)?\s*[-–~至到]+\s*((?:19|20)\d{2}|至今|现在|present|now|current)`)

// 技能列表常见的分隔符
var skillSeparatorRe = regexp.MustCompile(`[,，;；、|/\n·•]+`)

// Analyzer 负责从简历文本中提取结构化信息
type Analyzer struct {
	chunker   Chunker
	counter   parser.TokenCounter
	embedder  Embedder
	fullLimit int
}

// AnalyzerOption Analyzer 的配置选项
type AnalyzerOption func(*Analyzer)

// WithFullAnalysisLimit 设置整体分析的token上限，超过则分块分析
func WithFullAnalysisLimit(limit int) AnalyzerOption {
	return func(a *Analyzer) {
		if limit > 0 {
			a.fullLimit = limit
		}
	}
}

// WithMatchEmbedder 设置计算职位匹配分数时使用的嵌入器。
// 未设置时匹配分数退化为关键词重合度。
func WithMatchEmbedder(embedder Embedder) AnalyzerOption {
	return func(a *Analyzer) {
		a.embedder = embedder
	}
}

// NewAnalyzer 创建简历分析器
func NewAnalyzer(chunker Chunker, counter parser.TokenCounter, opts ...AnalyzerOption) (*Analyzer, error) {
	if chunker == nil {
		return nil, fmt.Errorf("分块器不能为空")
	}
	if counter == nil {
		return nil, fmt.Errorf("token计数器不能为空")
	}

	a := &Analyzer{
		chunker:   chunker,
		counter:   counter,
		fullLimit: constants.DefaultFullAnalysisTokenLimit,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Analyze 分析简历文本。短简历整体分析，超长简历分块分析后合并：
// 技能取并集，工作年限取最大值，教育经历拼接。
// position非空时额外计算0-100的职位匹配分数，为空时不给出分数。
func (a *Analyzer) Analyze(ctx context.Context, resumeText string, position string) (*types.ResumeAnalysis, error) {
	if strings.TrimSpace(resumeText) == "" {
		return nil, fmt.Errorf("简历文本不能为空")
	}

	ctx, span := analyzeTracer.Start(ctx, "Analyzer.Analyze")
	defer span.End()
	span.SetAttributes(attribute.Int("resume.text_length", len(resumeText)))

	var analysis *types.ResumeAnalysis
	if a.counter.CountTokens(resumeText) <= a.fullLimit {
		analysis = analyzeSegment(resumeText)
	} else {
		chunks, err := a.chunker.ChunkText(ctx, resumeText)
		if err != nil {
			tracing.RecordError(span, err, tracing.ErrorTypeInternal)
			return nil, fmt.Errorf("简历分块失败: %w", err)
		}
		parts := make([]*types.ResumeAnalysis, 0, len(chunks))
		for _, chunk := range chunks {
			parts = append(parts, analyzeSegment(chunk.Text))
		}
		analysis = mergeAnalyses(parts)
		analysis.Chunked = true
	}

	if strings.TrimSpace(position) != "" {
		score := a.matchScore(ctx, analysis, resumeText, position)
		analysis.MatchScore = &score
		span.SetAttributes(attribute.Int("resume.match_score", score))
	}

	span.SetAttributes(
		attribute.Int("resume.skill_count", len(analysis.Skills)),
		attribute.Bool("resume.chunked", analysis.Chunked),
	)
	span.SetStatus(codes.Ok, "")
	return analysis, nil
}

// analyzeSegment 对一段简历文本做规则化提取
func analyzeSegment(text string) *types.ResumeAnalysis {
	analysis := &types.ResumeAnalysis{}
	sections := parser.DetectSections(text)

	var educationParts []string
	for _, section := range sections {
		switch section.Label {
		case types.LabelSkills:
			analysis.Skills = append(analysis.Skills, splitSkills(section.Content)...)
		case types.LabelEducation:
			if content := strings.TrimSpace(section.Content); content != "" {
				educationParts = append(educationParts, content)
			}
		case types.LabelSummary:
			if analysis.Summary == "" {
				analysis.Summary = strings.TrimSpace(section.Content)
			}
		}
	}

	analysis.Skills = dedupeSkills(analysis.Skills)
	analysis.Education = strings.Join(educationParts, "\n")
	analysis.ExperienceYears = extractExperienceYears(text)
	return analysis
}

// splitSkills 把技能段落切成独立条目
func splitSkills(content string) []string {
	var skills []string
	for _, part := range skillSeparatorRe.Split(content, -1) {
		skill := strings.TrimSpace(part)
		// 过长的条目多半是描述性句子而不是技能名
		if skill == "" || len([]rune(skill)) > 40 {
			continue
		}
		skills = append(skills, skill)
	}
	return skills
}

// dedupeSkills 大小写不敏感去重，保留首次出现的写法
func dedupeSkills(skills []string) []string {
	seen := make(map[string]struct{}, len(skills))
	result := make([]string, 0, len(skills))
	for _, skill := range skills {
		key := strings.ToLower(skill)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		result = append(result, skill)
	}
	return result
}

// extractExperienceYears 取文本中声明年限和任职时间段的最大值
func extractExperienceYears(text string) float64 {
	var maxYears float64

	for _, match := range experienceYearsRe.FindAllStringSubmatch(text, -1) {
		if years, err := strconv.ParseFloat(match[1], 64); err == nil && years < 60 && years > maxYears {
			maxYears = years
		}
	}

	currentYear := float64(time.Now().Year())
	for _, match := range dateRangeRe.FindAllStringSubmatch(text, -1) {
		start, err := strconv.ParseFloat(match[1], 64)
		if err != nil {
			continue
		}
		var end float64
		if y, err := strconv.ParseFloat(match[2], 64); err == nil {
			end = y
		} else {
			end = currentYear
		}
		if years := end - start; years > 0 && years < 60 && years > maxYears {
			maxYears = years
		}
	}

	return maxYears
}

// mergeAnalyses 合并分块分析的结果
func mergeAnalyses(parts []*types.ResumeAnalysis) *types.ResumeAnalysis {
	merged := &types.ResumeAnalysis{}
	var educationParts []string

	for _, part := range parts {
		merged.Skills = append(merged.Skills, part.Skills...)
		if part.ExperienceYears > merged.ExperienceYears {
			merged.ExperienceYears = part.ExperienceYears
		}
		if part.Education != "" {
			educationParts = append(educationParts, part.Education)
		}
		if merged.Summary == "" && part.Summary != "" {
			merged.Summary = part.Summary
		}
	}

	merged.Skills = dedupeSkills(merged.Skills)
	merged.Education = strings.Join(educationParts, "\n")
	return merged
}

// matchScore 计算简历与职位的匹配分数，[0,100]。
// 优先用嵌入向量的余弦相似度，嵌入不可用时退化为关键词重合度。
func (a *Analyzer) matchScore(ctx context.Context, analysis *types.ResumeAnalysis, resumeText, position string) int {
	profile := strings.Join(analysis.Skills, " ")
	if analysis.Summary != "" {
		profile = profile + " " + analysis.Summary
	}
	if strings.TrimSpace(profile) == "" {
		profile = resumeText
	}

	if a.embedder != nil {
		vectors, err := a.embedder.EmbedStrings(ctx, []string{profile, position})
		if err == nil && len(vectors) == 2 {
			score := cosine(vectors[0], vectors[1]) * 100
			return clampScore(int(math.Round(score)))
		}
		logger.Warn().Err(err).Msg("embedding unavailable for match score, falling back to keyword overlap")
	}

	return keywordOverlapScore(analysis.Skills, position)
}

// keywordOverlapScore 职位描述词与技能集合的重合比例
func keywordOverlapScore(skills []string, position string) int {
	if len(skills) == 0 {
		// 没有可比对的技能时给中间值，避免误导性的极端分数
		return 50
	}

	skillSet := make(map[string]struct{}, len(skills))
	for _, skill := range skills {
		skillSet[strings.ToLower(skill)] = struct{}{}
	}

	words := strings.FieldsFunc(strings.ToLower(position), func(r rune) bool {
		return r == ' ' || r == ',' || r == '，' || r == '/' || r == '、'
	})
	if len(words) == 0 {
		return 50
	}

	matched := 0
	for _, word := range words {
		if _, ok := skillSet[word]; ok {
			matched++
			continue
		}
		for skill := range skillSet {
			if strings.Contains(skill, word) || strings.Contains(word, skill) {
				matched++
				break
			}
		}
	}

	return clampScore(matched * 100 / len(words))
}

func clampScore(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

// cosine 余弦相似度，零向量返回0
func cosine(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
