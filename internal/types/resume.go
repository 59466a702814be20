package types

// SectionLabel 简历片段的启发式分类标签
type SectionLabel string

const (
	LabelSummary        SectionLabel = "summary"
	LabelExperience     SectionLabel = "experience"
	LabelEducation      SectionLabel = "education"
	LabelSkills         SectionLabel = "skills"
	LabelProjects       SectionLabel = "projects"
	LabelCertifications SectionLabel = "certifications"
	LabelOther          SectionLabel = "other"
)

// LabeledSection 简历中被识别出的一个带标签的区块
type LabeledSection struct {
	Label   SectionLabel `json:"label"`
	Title   string       `json:"title"`
	Content string       `json:"content"`
}

// ResumeAnalysis 简历分析的合并结果。
// MatchScore 仅在提供了职位描述时才有值，范围0-100。
type ResumeAnalysis struct {
	Skills          []string `json:"skills"`
	ExperienceYears float64  `json:"experience_years"`
	Education       string   `json:"education"`
	Summary         string   `json:"summary"`
	MatchScore      *int     `json:"match_score,omitempty"`
	Chunked         bool     `json:"chunked"`
}
