package parser

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"hr-agent-go/internal/types"
)

// sectionHeaderPatterns 简历区块标题的识别规则，按优先级排列
var sectionHeaderPatterns = []struct {
	label types.SectionLabel
	re    *regexp.Regexp
}{
	{types.LabelExperience, regexp.MustCompile(`(?i)^\s*(work\s+experience|professional\s+experience|employment(\s+history)?|work\s+history|experience)\s*:?\s*$`)},
	{types.LabelEducation, regexp.MustCompile(`(?i)^\s*(education(al\s+background)?|academic\s+background|qualifications|degrees)\s*:?\s*$`)},
	{types.LabelSkills, regexp.MustCompile(`(?i)^\s*(technical\s+skills|core\s+competencies|skills?|technologies|expertise|proficiencies)\s*:?\s*$`)},
	{types.LabelSummary, regexp.MustCompile(`(?i)^\s*(professional\s+summary|summary|objective|profile|about\s*(me)?)\s*:?\s*$`)},
	{types.LabelProjects, regexp.MustCompile(`(?i)^\s*(projects?|personal\s+projects|portfolio)\s*:?\s*$`)},
	{types.LabelCertifications, regexp.MustCompile(`(?i)^\s*(certifications?|licenses?|certificates|courses)\s*:?\s*$`)},
}

// contentCuePatterns 区块正文的内容线索，标题缺失时用于分类
var contentCuePatterns = []struct {
	label types.SectionLabel
	re    *regexp.Regexp
}{
	{types.LabelEducation, regexp.MustCompile(`(?i)\b(university|college|bachelor|master|ph\.?d|b\.s\.|m\.s\.|degree|gpa)\b`)},
	{types.LabelExperience, regexp.MustCompile(`(?i)\b(years?\s+of\s+experience|worked\s+(at|as)|responsible\s+for|managed|led\s+a\s+team|\b(19|20)\d{2}\s*[-–]\s*((19|20)\d{2}|present))\b`)},
	{types.LabelSkills, regexp.MustCompile(`(?i)\b(proficient\s+in|familiar\s+with|technologies:|stack:)\b`)},
	{types.LabelCertifications, regexp.MustCompile(`(?i)\b(certified|certification|certificate)\b`)},
}

// DetectSections 按标题行启发式将简历文本切为带标签的区块。
// 第一个标题之前的内容归入 "Header" 区块；整篇没有可识别标题时
// 退化为按空行分块。
func DetectSections(text string) []types.LabeledSection {
	lines := strings.Split(text, "\n")

	sections := make([]types.LabeledSection, 0, 8)
	current := types.LabeledSection{Label: types.LabelOther, Title: "Header"}
	var buf []string

	flush := func() {
		content := strings.TrimSpace(strings.Join(buf, "\n"))
		if content != "" {
			current.Content = content
			sections = append(sections, current)
		}
		buf = buf[:0]
	}

	for _, line := range lines {
		if label, title, ok := matchHeader(line); ok {
			flush()
			current = types.LabeledSection{Label: label, Title: title}
			continue
		}
		buf = append(buf, line)
	}
	flush()

	// 没有识别到任何标题时按空行分块
	if len(sections) <= 1 {
		parts := paragraphBreakRe.Split(text, -1)
		if len(parts) > 1 {
			sections = sections[:0]
			for i, part := range parts {
				part = strings.TrimSpace(part)
				if part == "" {
					continue
				}
				sections = append(sections, types.LabeledSection{
					Label:   classifyByContent(part),
					Title:   sectionTitleFallback(i),
					Content: part,
				})
			}
		}
	}

	return sections
}

// LabelText 为一段文本选择最可能的区块标签
func LabelText(text string) types.SectionLabel {
	for _, line := range strings.Split(text, "\n") {
		if label, _, ok := matchHeader(line); ok {
			return label
		}
	}
	return classifyByContent(text)
}

// matchHeader 判断单行是否为区块标题。
// 标题需要足够短，且匹配已知关键词、全大写或以冒号结尾。
func matchHeader(line string) (types.SectionLabel, string, bool) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" || len(trimmed) > 60 {
		return types.LabelOther, "", false
	}

	for _, p := range sectionHeaderPatterns {
		if p.re.MatchString(trimmed) {
			return p.label, strings.TrimRight(trimmed, ": "), true
		}
	}

	// 短的全大写行也视为标题，但无法确定标签
	if len(strings.Fields(trimmed)) <= 4 && isAllUpper(trimmed) {
		return types.LabelOther, strings.TrimRight(trimmed, ": "), true
	}

	return types.LabelOther, "", false
}

// classifyByContent 依据正文线索打分分类
func classifyByContent(text string) types.SectionLabel {
	best := types.LabelOther
	bestHits := 0
	for _, p := range contentCuePatterns {
		hits := len(p.re.FindAllStringIndex(text, -1))
		if hits > bestHits {
			bestHits = hits
			best = p.label
		}
	}
	return best
}

func sectionTitleFallback(index int) string {
	if index == 0 {
		return "Header"
	}
	return "Section " + strconv.Itoa(index)
}

func isAllUpper(s string) bool {
	hasLetter := false
	for _, r := range s {
		if unicode.IsLetter(r) {
			hasLetter = true
			if !unicode.IsUpper(r) {
				return false
			}
		}
	}
	return hasLetter
}
