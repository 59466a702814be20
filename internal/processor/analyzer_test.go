package processor

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hr-agent-go/internal/types"
)

// stubChunker 返回预设分块
type stubChunker struct {
	chunks []types.Chunk
}

func (s *stubChunker) ChunkText(ctx context.Context, text string) ([]types.Chunk, error) {
	return s.chunks, nil
}

const analyzerResume = `Jane Doe

Summary
Backend engineer with 5 years of experience in distributed systems.

Work Experience
Senior Engineer at Acme Corp, 2016 - 2020
Built the payments pipeline.

Education
B.S. Computer Science, State University, 2014

Skills
Go, MySQL, Redis, Kubernetes, go
`

func newTestAnalyzer(t *testing.T, opts ...AnalyzerOption) *Analyzer {
	t.Helper()
	analyzer, err := NewAnalyzer(&stubChunker{}, wordCounter{}, opts...)
	require.NoError(t, err)
	return analyzer
}

func TestAnalyzeEmptyText(t *testing.T) {
	analyzer := newTestAnalyzer(t)

	_, err := analyzer.Analyze(context.Background(), "   ", "")
	assert.Error(t, err)
}

func TestAnalyzeFullResume(t *testing.T) {
	analyzer := newTestAnalyzer(t)

	analysis, err := analyzer.Analyze(context.Background(), analyzerResume, "")
	require.NoError(t, err)

	// 技能大小写不敏感去重，"go"与"Go"只保留首次出现的写法
	sorted := append([]string(nil), analysis.Skills...)
	sort.Strings(sorted)
	assert.Equal(t, []string{"Go", "Kubernetes", "MySQL", "Redis"}, sorted)

	// 声明的5年比任职区间2016-2020的4年更长，取最大值
	assert.InDelta(t, 5.0, analysis.ExperienceYears, 1e-9)
	assert.Contains(t, analysis.Education, "State University")
	assert.Contains(t, analysis.Summary, "distributed systems")
	assert.Nil(t, analysis.MatchScore, "未给定职位时不给出匹配分数")
	assert.False(t, analysis.Chunked)
}

func TestAnalyzeKeywordMatchScore(t *testing.T) {
	analyzer := newTestAnalyzer(t)

	analysis, err := analyzer.Analyze(context.Background(), analyzerResume, "Go Backend Engineer")
	require.NoError(t, err)

	// 没有嵌入器时退化为关键词重合度：3个职位词中只有go命中
	require.NotNil(t, analysis.MatchScore)
	assert.Equal(t, 33, *analysis.MatchScore)
}

func TestAnalyzeEmbeddingMatchScore(t *testing.T) {
	analyzer := newTestAnalyzer(t,
		WithMatchEmbedder(newVocabEmbedder("kubernetes", "mysql")))

	analysis, err := analyzer.Analyze(context.Background(), analyzerResume, "Kubernetes MySQL platform engineer")
	require.NoError(t, err)

	require.NotNil(t, analysis.MatchScore)
	assert.Greater(t, *analysis.MatchScore, 0)
	assert.LessOrEqual(t, *analysis.MatchScore, 100)
}

func TestAnalyzeMatchScoreWithoutSkills(t *testing.T) {
	analyzer := newTestAnalyzer(t)

	text := "I worked at BigCo from 2015 - 2020 and was responsible for payments."
	analysis, err := analyzer.Analyze(context.Background(), text, "数据分析师")
	require.NoError(t, err)

	// 提取不到技能时给中间值，避免误导性的极端分数
	require.NotNil(t, analysis.MatchScore)
	assert.Equal(t, 50, *analysis.MatchScore)
}

func TestAnalyzeChunkedResume(t *testing.T) {
	chunker := &stubChunker{chunks: []types.Chunk{
		{Text: "Skills\nGo, MySQL\n\nSummary\n10 years building services."},
		{Text: "Skills\nMySQL, Redis\n\nEducation\nTech University, 2010"},
	}}
	analyzer, err := NewAnalyzer(chunker, wordCounter{}, WithFullAnalysisLimit(3))
	require.NoError(t, err)

	analysis, err := analyzer.Analyze(context.Background(), analyzerResume, "")
	require.NoError(t, err)

	assert.True(t, analysis.Chunked)

	// 分块结果合并：技能取并集，年限取最大，教育经历拼接
	sorted := append([]string(nil), analysis.Skills...)
	sort.Strings(sorted)
	assert.Equal(t, []string{"Go", "MySQL", "Redis"}, sorted)
	assert.InDelta(t, 10.0, analysis.ExperienceYears, 1e-9)
	assert.Contains(t, analysis.Education, "Tech University")
	assert.Contains(t, analysis.Summary, "10 years")
}

func TestExtractExperienceYears(t *testing.T) {
	assert.InDelta(t, 3.5, extractExperienceYears("3.5 years of Go development"), 1e-9)
	assert.InDelta(t, 8.0, extractExperienceYears("拥有8年后端开发经验"), 1e-9)

	// 任职到"至今"的区间按当前年份折算
	sinceStart := extractExperienceYears("2019 - 至今 在某公司任职")
	expected := float64(time.Now().Year()) - 2019
	assert.InDelta(t, expected, sinceStart, 1e-9)

	// 明显不合理的年限被忽略
	assert.Zero(t, extractExperienceYears("70 years of experience"))
	assert.Zero(t, extractExperienceYears("no numbers here"))
}

func TestSplitSkillsFiltersLongEntries(t *testing.T) {
	skills := splitSkills("Go、Redis; responsible for designing and operating the entire multi-region payment platform")
	assert.Equal(t, []string{"Go", "Redis"}, skills)
}
