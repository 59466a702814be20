package models

import (
	"time"

	"gorm.io/datatypes"
)

// Document 已入库文档的元数据
type Document struct {
	DocumentID string         `gorm:"column:document_id;type:varchar(36);primaryKey"`
	Title      string         `gorm:"column:title;type:varchar(255);not null"`
	Category   string         `gorm:"column:category;type:varchar(64);index"`
	OwnerID    string         `gorm:"column:owner_id;type:varchar(36);index"`
	TextLength int            `gorm:"column:text_length;not null;default:0"`
	Metadata   datatypes.JSON `gorm:"column:metadata;type:json"`
	IngestedAt time.Time      `gorm:"column:ingested_at;not null;index"`
	CreatedAt  time.Time      `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time      `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName 指定表名
func (Document) TableName() string {
	return "documents"
}

// DocumentSection 文档片段，主键与向量索引中的点ID一致
type DocumentSection struct {
	SectionID    string    `gorm:"column:section_id;type:varchar(36);primaryKey"`
	DocumentID   string    `gorm:"column:document_id;type:varchar(36);not null;uniqueIndex:idx_doc_section,priority:1"`
	SectionIndex int       `gorm:"column:section_index;not null;uniqueIndex:idx_doc_section,priority:2"`
	Content      string    `gorm:"column:content;type:mediumtext"`
	TokenCount   int       `gorm:"column:token_count;not null;default:0"`
	StartOffset  int       `gorm:"column:start_offset;not null;default:0"`
	EndOffset    int       `gorm:"column:end_offset;not null;default:0"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName 指定表名
func (DocumentSection) TableName() string {
	return "document_sections"
}
