package processor

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hr-agent-go/internal/agent"
	"hr-agent-go/internal/types"
)

// wordsResult 构造正文恰好有n个单词的检索结果。
// wordCounter下格式化后的文本块消耗 n+2 个token(标注头占2个)。
func wordsResult(id string, rank, n int) types.RetrievalResult {
	words := make([]string, n)
	for i := range words {
		words[i] = fmt.Sprintf("w%d", i)
	}
	return types.RetrievalResult{
		SectionID:     id,
		DocumentID:    "doc-a",
		DocumentTitle: "员工手册",
		SectionIndex:  rank - 1,
		Text:          strings.Join(words, " "),
		Rank:          rank,
	}
}

func newTestAssembler(t *testing.T, opts ...AssemblerOption) *Assembler {
	t.Helper()
	assembler, err := NewAssembler(wordCounter{}, opts...)
	require.NoError(t, err)
	return assembler
}

func TestAssembleEmptyInput(t *testing.T) {
	assembler := newTestAssembler(t, WithContextBudget(100))

	assembled := assembler.Assemble(nil, nil)
	assert.Empty(t, assembled.ContextText)
	assert.Empty(t, assembled.Sections)
	assert.Empty(t, assembled.History)
	assert.Zero(t, assembled.TokenCount)
	assert.False(t, assembled.Truncated)
	assert.Equal(t, 100, assembled.Budget)
}

func TestAssembleWithinBudget(t *testing.T) {
	assembler := newTestAssembler(t, WithContextBudget(30), WithHistoryFraction(0))

	results := []types.RetrievalResult{wordsResult("s1", 1, 8), wordsResult("s2", 2, 8)}
	assembled := assembler.Assemble(results, nil)

	require.Len(t, assembled.Sections, 2)
	assert.Equal(t, "s1", assembled.Sections[0].SectionID)
	assert.Equal(t, "s2", assembled.Sections[1].SectionID)
	assert.Len(t, assembled.Blocks, 2)
	assert.Equal(t, 20, assembled.TokenCount)
	assert.False(t, assembled.Truncated)
	assert.Contains(t, assembled.ContextText, "[片段1] 来源:《员工手册》第1节")
	assert.Contains(t, assembled.ContextText, "[片段2]")
}

func TestAssembleDropsOverflowingSection(t *testing.T) {
	assembler := newTestAssembler(t, WithContextBudget(20), WithHistoryFraction(0))

	// 第一个片段占12个token，第二个需要12个但只剩8个
	results := []types.RetrievalResult{wordsResult("s1", 1, 10), wordsResult("s2", 2, 10)}
	assembled := assembler.Assemble(results, nil)

	require.Len(t, assembled.Sections, 1)
	assert.Equal(t, "s1", assembled.Sections[0].SectionID)
	assert.True(t, assembled.Truncated)
	assert.LessOrEqual(t, assembled.TokenCount, assembled.Budget)
	assert.NotContains(t, assembled.ContextText, "[片段2]")
}

func TestAssembleStopsAtFirstOverflow(t *testing.T) {
	assembler := newTestAssembler(t, WithContextBudget(20), WithHistoryFraction(0))

	// 第二个片段放不下时组装停止，名次更低的第三个片段即使放得下也不进入
	results := []types.RetrievalResult{
		wordsResult("s1", 1, 5),
		wordsResult("s2", 2, 100),
		wordsResult("s3", 3, 5),
	}
	assembled := assembler.Assemble(results, nil)

	require.Len(t, assembled.Sections, 1)
	assert.Equal(t, "s1", assembled.Sections[0].SectionID)
	assert.True(t, assembled.Truncated)
	assert.NotContains(t, assembled.ContextText, "[片段3]")
	assert.Len(t, assembled.Blocks, len(assembled.Sections))
}

func TestAssembleTruncatesHeadSection(t *testing.T) {
	assembler := newTestAssembler(t, WithContextBudget(10), WithHistoryFraction(0))

	// 最相关的片段超出预算时从尾部截断，而不是整段丢弃
	results := []types.RetrievalResult{wordsResult("s1", 1, 30)}
	assembled := assembler.Assemble(results, nil)

	require.Len(t, assembled.Sections, 1)
	assert.True(t, assembled.Truncated)
	assert.LessOrEqual(t, assembled.TokenCount, 10)
	assert.Positive(t, assembled.TokenCount)
	assert.Contains(t, assembled.ContextText, "[片段1]")
	// 截断发生在尾部，开头的单词保留
	assert.Contains(t, assembled.ContextText, "w0")
	assert.NotContains(t, assembled.ContextText, "w29")
}

func TestAssembleHistoryKeepsRecentTurns(t *testing.T) {
	assembler := newTestAssembler(t,
		WithContextBudget(40), WithHistoryFraction(0.5), WithHistoryWindow(10))

	history := make([]*agent.Turn, 0, 5)
	for i := 0; i < 5; i++ {
		history = append(history, &agent.Turn{
			Role:    "user",
			Content: fmt.Sprintf("h%d one two three four five", i),
		})
	}

	// 历史份额为20个token，每轮6个，只放得下最近3轮
	assembled := assembler.Assemble(nil, history)
	require.Len(t, assembled.History, 3)
	assert.True(t, strings.HasPrefix(assembled.History[0].Content, "h2"), "保留的历史应当按时间先后排序")
	assert.True(t, strings.HasPrefix(assembled.History[2].Content, "h4"))
	assert.Equal(t, 18, assembled.TokenCount)
}

func TestAssembleHistoryWindowCap(t *testing.T) {
	assembler := newTestAssembler(t,
		WithContextBudget(1000), WithHistoryFraction(0.5), WithHistoryWindow(2))

	history := []*agent.Turn{
		{Role: "user", Content: "first"},
		{Role: "assistant", Content: "second"},
		{Role: "user", Content: "third"},
		{Role: "assistant", Content: "fourth"},
	}

	assembled := assembler.Assemble(nil, history)
	require.Len(t, assembled.History, 2)
	assert.Equal(t, "third", assembled.History[0].Content)
	assert.Equal(t, "fourth", assembled.History[1].Content)
}

func TestAssembleHistoryLeavesRoomForSections(t *testing.T) {
	assembler := newTestAssembler(t,
		WithContextBudget(40), WithHistoryFraction(0.25), WithHistoryWindow(10))

	history := []*agent.Turn{{Role: "user", Content: strings.Repeat("word ", 50)}}
	results := []types.RetrievalResult{wordsResult("s1", 1, 20)}

	// 历史超出自己的份额被整体丢弃，片段仍然有至少75%的预算可用
	assembled := assembler.Assemble(results, history)
	assert.Empty(t, assembled.History)
	require.Len(t, assembled.Sections, 1)
	assert.Equal(t, 22, assembled.TokenCount)
	assert.LessOrEqual(t, assembled.TokenCount, assembled.Budget)
}

func TestAssembleSectionTitleFallsBackToDocumentID(t *testing.T) {
	assembler := newTestAssembler(t, WithContextBudget(100), WithHistoryFraction(0))

	result := wordsResult("s1", 1, 3)
	result.DocumentTitle = ""
	assembled := assembler.Assemble([]types.RetrievalResult{result}, nil)

	assert.Contains(t, assembled.ContextText, "《doc-a》")
}
