package parser

import (
	"archive/zip"
	"bytes"
	"context"
	"io"
	"log"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestExtractor(t *testing.T) *DefaultTextExtractor {
	t.Helper()
	extractor, err := NewTextExtractor(context.Background(),
		WithExtractorLogger(log.New(io.Discard, "", 0)))
	require.NoError(t, err)
	return extractor
}

func TestExtractPlainText(t *testing.T) {
	extractor := newTestExtractor(t)

	text, metadata, err := extractor.ExtractFromBytes(context.Background(), []byte("员工手册\n第一章 总则"), "handbook.txt")
	require.NoError(t, err)
	assert.Equal(t, "员工手册\n第一章 总则", text)
	assert.Equal(t, ".txt", metadata["source_ext"])
	assert.Equal(t, len(text), metadata["text_length"])
}

func TestExtractPlainTextInvalidUTF8(t *testing.T) {
	extractor := newTestExtractor(t)

	_, _, err := extractor.ExtractFromBytes(context.Background(), []byte{0xff, 0xfe, 0x00}, "bad.txt")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "UTF-8")
}

func TestExtractLegacyDocRejected(t *testing.T) {
	extractor := newTestExtractor(t)

	// 旧版二进制.doc明确拒绝，而不是含糊的解析失败
	_, _, err := extractor.ExtractFromBytes(context.Background(), []byte("anything"), "resume.doc")
	require.Error(t, err)
	assert.Contains(t, err.Error(), ".doc")
	assert.Contains(t, err.Error(), "不支持")
}

func TestExtractUnknownFormatRejected(t *testing.T) {
	extractor := newTestExtractor(t)

	_, _, err := extractor.ExtractFromBytes(context.Background(), []byte("data"), "image.png")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "不支持的文件格式")
}

// buildDOCX 构造一个最小的OOXML包
func buildDOCX(t *testing.T, documentXML string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("word/document.xml")
	require.NoError(t, err)
	_, err = w.Write([]byte(documentXML))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestExtractDOCX(t *testing.T) {
	extractor := newTestExtractor(t)

	docXML := `<?xml version="1.0"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">
  <w:body>
    <w:p><w:r><w:t>年假制度</w:t></w:r></w:p>
    <w:p><w:r><w:t>每年15天</w:t></w:r><w:r><w:br/><w:t>可以结转5天</w:t></w:r></w:p>
  </w:body>
</w:document>`

	text, _, err := extractor.ExtractFromBytes(context.Background(), buildDOCX(t, docXML), "policy.docx")
	require.NoError(t, err)
	assert.Contains(t, text, "年假制度")
	assert.Contains(t, text, "每年15天")
	assert.Contains(t, text, "可以结转5天")
	// 段落结束转换为换行
	assert.Contains(t, text, "年假制度\n")
}

func TestExtractDOCXMissingDocumentXML(t *testing.T) {
	extractor := newTestExtractor(t)

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("word/other.xml")
	require.NoError(t, err)
	_, err = w.Write([]byte("<x/>"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	_, _, err = extractor.ExtractFromBytes(context.Background(), buf.Bytes(), "broken.docx")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "word/document.xml")
}

func TestExtractDOCXNotAZip(t *testing.T) {
	extractor := newTestExtractor(t)

	_, _, err := extractor.ExtractFromBytes(context.Background(), []byte("not a zip archive"), "fake.docx")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "解压DOCX失败")
}
