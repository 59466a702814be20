package processor

import (
	"fmt"
	"strings"

	"hr-agent-go/internal/agent"
	"hr-agent-go/internal/constants"
	"hr-agent-go/internal/logger"
	"hr-agent-go/internal/parser"
	"hr-agent-go/internal/types"
)

// AssembledContext 组装后的提示词上下文
type AssembledContext struct {
	// ContextText 拼接好的片段正文，带引用标注
	ContextText string
	// Blocks 格式化后的片段文本块，与Sections一一对应，ContextText由其拼接而成
	Blocks []string
	// Sections 进入上下文的片段，与ContextText一一对应
	Sections []types.CitedSection
	// History 进入上下文的对话轮次，按时间先后排序
	History []*agent.Turn
	// TokenCount 片段与历史合计消耗的token数
	TokenCount int
	// Budget 本次组装的token预算
	Budget int
	// Truncated 有片段被截断或整段丢弃时为true
	Truncated bool
}

// Assembler 在硬性token预算内组装检索片段和对话历史
type Assembler struct {
	counter         parser.TokenCounter
	budget          int
	historyFraction float64
	historyWindow   int
}

// AssemblerOption Assembler 的配置选项
type AssemblerOption func(*Assembler)

// WithContextBudget 设置上下文token预算
func WithContextBudget(budget int) AssemblerOption {
	return func(a *Assembler) {
		if budget > 0 {
			a.budget = budget
		}
	}
}

// WithHistoryFraction 设置预算中为对话历史保留的比例，[0,1)
func WithHistoryFraction(fraction float64) AssemblerOption {
	return func(a *Assembler) {
		if fraction >= 0 && fraction < 1 {
			a.historyFraction = fraction
		}
	}
}

// WithHistoryWindow 设置参与组装的最近对话轮数上限
func WithHistoryWindow(window int) AssemblerOption {
	return func(a *Assembler) {
		if window >= 0 {
			a.historyWindow = window
		}
	}
}

// NewAssembler 创建上下文组装器
func NewAssembler(counter parser.TokenCounter, opts ...AssemblerOption) (*Assembler, error) {
	if counter == nil {
		return nil, fmt.Errorf("token计数器不能为空")
	}

	a := &Assembler{
		counter:         counter,
		budget:          constants.DefaultContextTokenBudget,
		historyFraction: constants.DefaultHistoryBudgetFraction,
		historyWindow:   constants.DefaultHistoryWindow,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Assemble 组装上下文。进入上下文的片段是按名次排列的前缀：某个片段
// 放不下时组装立即停止，不会跳过它去接纳名次更低的片段。第一个片段
// 超出剩余预算时从尾部截断而不是丢弃；历史只占预算中保留的份额，
// 最近的轮次优先。片段和历史的合计token数不会超过预算。
func (a *Assembler) Assemble(results []types.RetrievalResult, history []*agent.Turn) *AssembledContext {
	assembled := &AssembledContext{
		Budget:   a.budget,
		Sections: make([]types.CitedSection, 0, len(results)),
	}

	historyBudget := int(float64(a.budget) * a.historyFraction)
	keptHistory, historyTokens := a.fitHistory(history, historyBudget)
	assembled.History = keptHistory

	remaining := a.budget - historyTokens

	var blocks []string
	for i, result := range results {
		block := formatSectionBlock(result)
		blockTokens := a.counter.CountTokens(block)

		if blockTokens > remaining {
			if i == 0 {
				// 最相关的片段不整段丢弃，从尾部截断到预算内
				truncated, truncatedTokens := a.truncateToFit(result, remaining)
				if truncated != "" {
					blocks = append(blocks, truncated)
					remaining -= truncatedTokens
					assembled.Sections = append(assembled.Sections, citedSection(result))
					logger.Warn().
						Str("section_id", result.SectionID).
						Int("budget", a.budget).
						Msg("head section truncated to fit context budget")
				}
			}
			assembled.Truncated = true
			break
		}

		blocks = append(blocks, block)
		remaining -= blockTokens
		assembled.Sections = append(assembled.Sections, citedSection(result))
	}

	assembled.Blocks = blocks
	assembled.ContextText = strings.Join(blocks, "\n\n")
	assembled.TokenCount = a.budget - remaining
	return assembled
}

// fitHistory 在历史份额内保留最近的轮次，输出仍按时间先后排序
func (a *Assembler) fitHistory(history []*agent.Turn, budget int) ([]*agent.Turn, int) {
	if len(history) == 0 || budget <= 0 {
		return []*agent.Turn{}, 0
	}

	if a.historyWindow > 0 && len(history) > a.historyWindow {
		history = history[len(history)-a.historyWindow:]
	}

	// 从最新的轮次往回填，放不下时丢弃更早的
	kept := make([]*agent.Turn, 0, len(history))
	used := 0
	for i := len(history) - 1; i >= 0; i-- {
		tokens := a.counter.CountTokens(history[i].Content)
		if used+tokens > budget {
			break
		}
		kept = append(kept, history[i])
		used += tokens
	}

	// 反转回时间先后顺序
	for i, j := 0, len(kept)-1; i < j; i, j = i+1, j-1 {
		kept[i], kept[j] = kept[j], kept[i]
	}
	return kept, used
}

// truncateToFit 把片段内容从尾部截断到tokens预算内，返回格式化后的文本块。
// 预算连标注头都放不下时返回空串。
func (a *Assembler) truncateToFit(result types.RetrievalResult, budget int) (string, int) {
	if budget <= 0 {
		return "", 0
	}

	runes := []rune(result.Text)
	lo, hi := 0, len(runes)
	best := ""
	bestTokens := 0

	// 二分查找能放进预算的最长前缀
	for lo <= hi {
		mid := (lo + hi) / 2
		candidate := result
		candidate.Text = string(runes[:mid])
		block := formatSectionBlock(candidate)
		tokens := a.counter.CountTokens(block)
		if tokens <= budget {
			if mid > 0 {
				best = block
				bestTokens = tokens
			}
			lo = mid + 1
		} else {
			hi = mid - 1
		}
	}
	return best, bestTokens
}

// formatSectionBlock 格式化单个片段，标注来源供回答引用
func formatSectionBlock(result types.RetrievalResult) string {
	title := result.DocumentTitle
	if title == "" {
		title = result.DocumentID
	}
	return fmt.Sprintf("[片段%d] 来源:《%s》第%d节\n%s", result.Rank, title, result.SectionIndex+1, result.Text)
}

// citedSection 提取片段的引用元数据
func citedSection(result types.RetrievalResult) types.CitedSection {
	return types.CitedSection{
		SectionID:     result.SectionID,
		DocumentID:    result.DocumentID,
		DocumentTitle: result.DocumentTitle,
		SectionIndex:  result.SectionIndex,
		Text:          result.Text,
	}
}
