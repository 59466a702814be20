package processor

import (
	"errors"
	"fmt"
)

// 定义基础错误类型
var (
	ErrExtractionFailed     = errors.New("提取文档文本失败")
	ErrUnsupportedFormat    = errors.New("不支持的文档格式")
	ErrEmbeddingUnavailable = errors.New("嵌入服务不可用")
	ErrIndexUnavailable     = errors.New("向量索引不可用")
	ErrMetadataFailed       = errors.New("文档元数据操作失败")
	ErrGenerationFailed     = errors.New("生成回答失败")
	ErrEmptyQuestion        = errors.New("问题不能为空")
)

// ProcessError 包含详细错误信息的自定义错误
type ProcessError struct {
	DocumentID string
	Op         string
	BaseErr    error
	Detail     string
}

func (e *ProcessError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s (操作:%s, 文档:%s): %s", e.BaseErr, e.Op, e.DocumentID, e.Detail)
	}
	return fmt.Sprintf("%s (操作:%s, 文档:%s)", e.BaseErr, e.Op, e.DocumentID)
}

func (e *ProcessError) Unwrap() error {
	return e.BaseErr
}

// Is 实现 errors.Is 接口以支持错误比较
func (e *ProcessError) Is(target error) bool {
	return errors.Is(e.BaseErr, target)
}

// 错误构造函数
func NewExtractionError(documentID, detail string) error {
	return &ProcessError{
		DocumentID: documentID,
		Op:         "extract",
		BaseErr:    ErrExtractionFailed,
		Detail:     detail,
	}
}

func NewEmbeddingError(documentID, detail string) error {
	return &ProcessError{
		DocumentID: documentID,
		Op:         "embed",
		BaseErr:    ErrEmbeddingUnavailable,
		Detail:     detail,
	}
}

func NewIndexError(documentID, detail string) error {
	return &ProcessError{
		DocumentID: documentID,
		Op:         "index",
		BaseErr:    ErrIndexUnavailable,
		Detail:     detail,
	}
}

func NewMetadataError(documentID, detail string) error {
	return &ProcessError{
		DocumentID: documentID,
		Op:         "metadata",
		BaseErr:    ErrMetadataFailed,
		Detail:     detail,
	}
}

func NewGenerationError(detail string) error {
	return &ProcessError{
		Op:      "generate",
		BaseErr: ErrGenerationFailed,
		Detail:  detail,
	}
}
