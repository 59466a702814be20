package parser

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/cloudwego/eino-ext/components/document/parser/pdf"
	einoParser "github.com/cloudwego/eino/components/document/parser"
)

// DefaultTextExtractor 从PDF/DOCX/TXT文件中提取纯文本。
// PDF走Eino解析器，DOCX读OOXML正文，TXT直接读取。
// 旧版二进制.doc无法解析，返回明确的不支持错误。
type DefaultTextExtractor struct {
	pdfParser *pdf.PDFParser
	logger    *log.Logger
}

// TextExtractorOption 提取器构造选项
type TextExtractorOption func(*DefaultTextExtractor)

// WithExtractorLogger 配置自定义日志记录器
func WithExtractorLogger(logger *log.Logger) TextExtractorOption {
	return func(e *DefaultTextExtractor) {
		e.logger = logger
	}
}

// NewTextExtractor 初始化文本提取器。
// PDF解析配置为不按页分割，以获取整个文档的连续文本。
func NewTextExtractor(ctx context.Context, options ...TextExtractorOption) (*DefaultTextExtractor, error) {
	p, err := pdf.NewPDFParser(ctx, &pdf.Config{
		ToPages: false,
	})
	if err != nil {
		return nil, fmt.Errorf("创建PDF解析器失败: %w", err)
	}

	extractor := &DefaultTextExtractor{
		pdfParser: p,
		logger:    log.New(os.Stderr, "[文本提取器] ", log.LstdFlags),
	}

	for _, option := range options {
		option(extractor)
	}

	return extractor, nil
}

// ExtractFromFile 从文件路径提取文本，按扩展名选择解析方式。
// 返回: 提取的文本 (string), 解析元数据 (map[string]interface{}), 错误 (error)
func (e *DefaultTextExtractor) ExtractFromFile(ctx context.Context, filePath string) (string, map[string]interface{}, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return "", nil, fmt.Errorf("读取文件 %s 失败: %w", filePath, err)
	}
	return e.ExtractFromBytes(ctx, data, filePath)
}

// ExtractFromBytes 从字节内容提取文本，uri用于确定格式和日志记录
func (e *DefaultTextExtractor) ExtractFromBytes(ctx context.Context, data []byte, uri string) (string, map[string]interface{}, error) {
	startTime := time.Now()
	ext := strings.ToLower(filepath.Ext(uri))

	metadata := map[string]interface{}{
		"source_uri":  uri,
		"source_ext":  ext,
		"source_size": len(data),
	}

	var text string
	var err error

	switch ext {
	case ".pdf":
		text, err = e.extractPDF(ctx, data, uri, metadata)
	case ".docx":
		text, err = extractDOCX(data)
	case ".txt", ".md", ".text":
		text, err = extractPlainText(data)
	case ".doc":
		err = fmt.Errorf("不支持旧版二进制.doc格式, 请转换为.docx或PDF: %s", uri)
	default:
		err = fmt.Errorf("不支持的文件格式 %q: %s", ext, uri)
	}

	duration := time.Since(startTime)
	if err != nil {
		e.logger.Printf("文本提取失败: %s (用时 %.2f秒)", err, duration.Seconds())
		return "", metadata, err
	}

	metadata["text_length"] = len(text)
	metadata["processing_duration_ms"] = duration.Milliseconds()

	e.logger.Printf("文本提取完成: %s, 提取了 %d 个字符 (用时 %.2f秒)", uri, len(text), duration.Seconds())
	return text, metadata, nil
}

// extractPDF 通过Eino解析器提取PDF全文
func (e *DefaultTextExtractor) extractPDF(ctx context.Context, data []byte, uri string, metadata map[string]interface{}) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	docs, err := e.pdfParser.Parse(ctx, bytes.NewReader(data),
		einoParser.WithURI(uri),
		einoParser.WithExtraMeta(metadata),
	)
	if err != nil {
		return "", fmt.Errorf("PDF解析失败 (URI %s): %w", uri, err)
	}
	if len(docs) == 0 {
		return "", fmt.Errorf("PDF解析无结果 (URI %s)", uri)
	}

	// 合并所有文档的内容（以防返回了多个）
	var sb strings.Builder
	for i, doc := range docs {
		sb.WriteString(doc.Content)
		if i < len(docs)-1 {
			sb.WriteString("\n\n")
		}
	}

	if docs[0].MetaData != nil {
		for k, v := range docs[0].MetaData {
			metadata[k] = v
		}
	}
	metadata["document_count"] = len(docs)

	return sb.String(), nil
}

// extractPlainText 验证UTF-8后原样返回
func extractPlainText(data []byte) (string, error) {
	if !utf8.Valid(data) {
		return "", fmt.Errorf("文本文件不是有效的UTF-8编码")
	}
	return string(data), nil
}

// extractDOCX 读取OOXML包中的word/document.xml，
// 按段落拼接<w:t>文本。不还原表格和样式。
func extractDOCX(data []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("解压DOCX失败: %w", err)
	}

	var docFile *zip.File
	for _, f := range zr.File {
		if f.Name == "word/document.xml" {
			docFile = f
			break
		}
	}
	if docFile == nil {
		return "", fmt.Errorf("DOCX包中缺少word/document.xml")
	}

	rc, err := docFile.Open()
	if err != nil {
		return "", fmt.Errorf("打开document.xml失败: %w", err)
	}
	defer rc.Close()

	decoder := xml.NewDecoder(rc)
	var sb strings.Builder
	inText := false

	for {
		tok, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("解析document.xml失败: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inText = true
			case "tab":
				sb.WriteByte('\t')
			case "br":
				sb.WriteByte('\n')
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				sb.WriteByte('\n')
			}
		case xml.CharData:
			if inText {
				sb.Write(t)
			}
		}
	}

	return sb.String(), nil
}
