package parser

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"hr-agent-go/internal/types"
)

// SemanticChunker 将长文本切分为带重叠的片段。
// 优先在段落边界切分，段落过长时回退到句子边界，
// 单个句子仍超限时按固定宽度硬切。
type SemanticChunker struct {
	maxTokens     int
	overlapTokens int
	counter       TokenCounter
}

// SemanticChunkerOption 切分器构造选项
type SemanticChunkerOption func(*SemanticChunker)

// WithChunkTokenCounter 替换默认的token计数器
func WithChunkTokenCounter(counter TokenCounter) SemanticChunkerOption {
	return func(c *SemanticChunker) {
		c.counter = counter
	}
}

// NewSemanticChunker 创建切分器。maxTokens为片段目标大小，overlapTokens为相邻片段重叠量。
func NewSemanticChunker(maxTokens, overlapTokens int, opts ...SemanticChunkerOption) (*SemanticChunker, error) {
	if maxTokens <= 0 {
		return nil, fmt.Errorf("片段大小必须为正数, 得到 %d", maxTokens)
	}
	if overlapTokens < 0 || overlapTokens >= maxTokens {
		return nil, fmt.Errorf("重叠量必须在 [0, %d) 范围内, 得到 %d", maxTokens, overlapTokens)
	}

	c := &SemanticChunker{
		maxTokens:     maxTokens,
		overlapTokens: overlapTokens,
		counter:       HeuristicTokenCounter{},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// textSpan 原始文本中的一个半开区间 [start, end)
type textSpan struct {
	start  int
	end    int
	tokens int
}

var paragraphBreakRe = regexp.MustCompile(`\n[ \t]*\n+`)

// ChunkText 切分文本。
// 空文本返回零个片段；文本总量不超过重叠量时返回恰好一个片段。
// 片段的偏移区间相邻重叠，区间并集覆盖全文。
func (c *SemanticChunker) ChunkText(ctx context.Context, text string) ([]types.Chunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	totalTokens := c.counter.CountTokens(text)
	if totalTokens <= c.maxTokens || totalTokens <= c.overlapTokens {
		return []types.Chunk{{
			Text:        text,
			StartOffset: 0,
			EndOffset:   len(text),
			TokenCount:  totalTokens,
		}}, nil
	}

	units := c.splitUnits(text)
	if len(units) == 0 {
		return nil, nil
	}

	chunks := make([]types.Chunk, 0, totalTokens/c.maxTokens+1)
	i := 0
	for i < len(units) {
		j := i
		tok := 0
		// 贪心累积单元，至少包含一个单元以保证推进
		for j < len(units) && (j == i || tok+units[j].tokens <= c.maxTokens) {
			tok += units[j].tokens
			j++
		}

		start := units[i].start
		end := units[j-1].end
		chunkText := text[start:end]
		chunks = append(chunks, types.Chunk{
			Text:        chunkText,
			StartOffset: start,
			EndOffset:   end,
			TokenCount:  c.counter.CountTokens(chunkText),
		})

		if j >= len(units) {
			break
		}

		// 从块尾向前回退，使下一个块以约overlapTokens的重叠开始
		k := j
		overlap := 0
		for k > i+1 && overlap < c.overlapTokens {
			k--
			overlap += units[k].tokens
		}
		if k <= i {
			k = i + 1
		}
		i = k
	}

	return chunks, nil
}

// splitUnits 将文本拆为段落单元；过长段落继续按句子拆分，
// 过长句子按固定宽度拆分。单元区间首尾相接，覆盖全文。
func (c *SemanticChunker) splitUnits(text string) []textSpan {
	paragraphs := splitBySeparator(text, paragraphBreakRe)

	units := make([]textSpan, 0, len(paragraphs))
	for _, p := range paragraphs {
		ptok := c.counter.CountTokens(text[p.start:p.end])
		if ptok <= c.maxTokens {
			p.tokens = ptok
			units = append(units, p)
			continue
		}

		for _, s := range c.splitSentences(text, p) {
			stok := c.counter.CountTokens(text[s.start:s.end])
			if stok <= c.maxTokens {
				s.tokens = stok
				units = append(units, s)
				continue
			}
			units = append(units, c.splitFixedWidth(text, s)...)
		}
	}
	return units
}

// splitBySeparator 按分隔符正则拆分，分隔符归入前一个区间，保证区间覆盖连续
func splitBySeparator(text string, re *regexp.Regexp) []textSpan {
	matches := re.FindAllStringIndex(text, -1)
	spans := make([]textSpan, 0, len(matches)+1)

	prev := 0
	for _, m := range matches {
		if m[1] > prev {
			spans = append(spans, textSpan{start: prev, end: m[1]})
			prev = m[1]
		}
	}
	if prev < len(text) {
		spans = append(spans, textSpan{start: prev, end: len(text)})
	}
	return spans
}

// splitSentences 在句末标点或换行后切分段落
func (c *SemanticChunker) splitSentences(text string, p textSpan) []textSpan {
	segment := text[p.start:p.end]
	spans := make([]textSpan, 0, 8)

	prev := 0
	for i, r := range segment {
		if r != '.' && r != '!' && r != '?' && r != '\n' && r != '。' && r != '！' && r != '？' {
			continue
		}
		end := i + utf8.RuneLen(r)
		// 标点后跟随的空白一并归入当前句子
		for end < len(segment) {
			nr, size := utf8.DecodeRuneInString(segment[end:])
			if nr != ' ' && nr != '\t' && nr != '\n' && nr != '\r' {
				break
			}
			end += size
		}
		if end > prev {
			spans = append(spans, textSpan{start: p.start + prev, end: p.start + end})
			prev = end
		}
	}
	if prev < len(segment) {
		spans = append(spans, textSpan{start: p.start + prev, end: p.end})
	}
	return spans
}

// splitFixedWidth 将超长句子按约maxTokens等价的字符宽度硬切，不破坏UTF-8边界
func (c *SemanticChunker) splitFixedWidth(text string, s textSpan) []textSpan {
	// 近似: 1 token ~= 4 字符
	width := c.maxTokens * 4
	if width <= 0 {
		width = 1
	}

	spans := make([]textSpan, 0, (s.end-s.start)/width+1)
	start := s.start
	for start < s.end {
		end := start + width
		if end >= s.end {
			end = s.end
		} else {
			for end > start && !utf8.RuneStart(text[end]) {
				end--
			}
			if end == start {
				end = s.end
			}
		}
		piece := textSpan{start: start, end: end}
		piece.tokens = c.counter.CountTokens(text[start:end])
		spans = append(spans, piece)
		start = end
	}
	return spans
}
