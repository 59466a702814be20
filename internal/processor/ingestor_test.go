package processor

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hr-agent-go/internal/parser"
	"hr-agent-go/internal/storage"
	"hr-agent-go/internal/types"
)

func newTestIngestor(t *testing.T, index storage.VectorIndex, meta MetadataStore, embedder Embedder) *Ingestor {
	t.Helper()
	chunker, err := parser.NewSemanticChunker(12, 4, parser.WithChunkTokenCounter(wordCounter{}))
	require.NoError(t, err)

	ingestor, err := NewIngestor(passthroughExtractor{}, chunker, embedder, index, meta)
	require.NoError(t, err)
	return ingestor
}

// sentenceText 生成n个句子，每句5个单词，保证会被切成多个片段
func sentenceText(n int) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		b.WriteString("the policy covers paid leave. ")
	}
	return strings.TrimSpace(b.String())
}

func TestIngestTextWritesIndexAndMetadata(t *testing.T) {
	embedder := newVocabEmbedder("leave", "expense")
	index := storage.NewMemoryIndex(embedder.GetDimensions())
	meta := newFakeMetaStore()
	ingestor := newTestIngestor(t, index, meta, embedder)
	ctx := context.Background()

	doc := &types.Document{ID: "doc-a", Title: "员工手册"}
	result, err := ingestor.IngestText(ctx, doc, sentenceText(10))
	require.NoError(t, err)

	assert.Equal(t, "doc-a", result.DocumentID)
	assert.Greater(t, result.SectionCount, 1, "长文本应当切成多个片段")
	assert.Equal(t, result.SectionCount, index.Len())

	ids, err := meta.ListSectionIDs(ctx, "doc-a")
	require.NoError(t, err)
	assert.Len(t, ids, result.SectionCount)

	// 片段ID可以由文档ID和序号重新推导
	assert.Equal(t, storage.SectionPointID("doc-a", 0), ids[0])
}

func TestIngestTextReplacesStaleSections(t *testing.T) {
	embedder := newVocabEmbedder("leave", "expense")
	index := storage.NewMemoryIndex(embedder.GetDimensions())
	meta := newFakeMetaStore()
	ingestor := newTestIngestor(t, index, meta, embedder)
	ctx := context.Background()

	doc := &types.Document{ID: "doc-a", Title: "员工手册"}
	first, err := ingestor.IngestText(ctx, doc, sentenceText(12))
	require.NoError(t, err)

	// 重新摄取更短的版本，多出来的陈旧向量点被清理
	second, err := ingestor.IngestText(ctx, doc, "the policy covers paid leave.")
	require.NoError(t, err)

	assert.Greater(t, first.SectionCount, second.SectionCount)
	assert.Equal(t, second.SectionCount, index.Len(), "索引里不应残留旧版本的向量点")

	ids, err := meta.ListSectionIDs(ctx, "doc-a")
	require.NoError(t, err)
	assert.Len(t, ids, second.SectionCount)
}

func TestIngestTextReplacesStaleSectionsWithoutMetadataStore(t *testing.T) {
	embedder := newVocabEmbedder("leave", "expense")
	index := storage.NewMemoryIndex(embedder.GetDimensions())
	ingestor := newTestIngestor(t, index, nil, embedder)
	ctx := context.Background()

	doc := &types.Document{ID: "doc-a", Title: "员工手册"}
	first, err := ingestor.IngestText(ctx, doc, sentenceText(12))
	require.NoError(t, err)
	require.Greater(t, first.SectionCount, 1)

	// 未配置元数据存储时，陈旧向量点同样要被清理掉
	second, err := ingestor.IngestText(ctx, doc, "the policy covers paid leave.")
	require.NoError(t, err)

	assert.Equal(t, 1, second.SectionCount)
	assert.Equal(t, 1, index.Len(), "索引里不应残留旧版本的向量点")
}

func TestIngestEmptyTextClearsDocument(t *testing.T) {
	embedder := newVocabEmbedder("leave")
	index := storage.NewMemoryIndex(embedder.GetDimensions())
	meta := newFakeMetaStore()
	ingestor := newTestIngestor(t, index, meta, embedder)
	ctx := context.Background()

	doc := &types.Document{ID: "doc-a", Title: "员工手册"}
	_, err := ingestor.IngestText(ctx, doc, "the policy covers paid leave.")
	require.NoError(t, err)
	require.Equal(t, 1, index.Len())

	// 空文本是合法输入：0个片段，已有向量点被清理
	result, err := ingestor.IngestText(ctx, doc, "   \n\n  ")
	require.NoError(t, err)
	assert.Zero(t, result.SectionCount)
	assert.Zero(t, index.Len())
}

func TestIngestMissingDocumentID(t *testing.T) {
	embedder := newVocabEmbedder("leave")
	ingestor := newTestIngestor(t, storage.NewMemoryIndex(1), nil, embedder)

	_, err := ingestor.IngestText(context.Background(), &types.Document{}, "text")
	assert.Error(t, err)
}

func TestIngestEmbeddingFailure(t *testing.T) {
	embedder := newVocabEmbedder("leave")
	embedder.err = assert.AnError
	index := storage.NewMemoryIndex(embedder.GetDimensions())
	ingestor := newTestIngestor(t, index, nil, embedder)

	doc := &types.Document{ID: "doc-a"}
	_, err := ingestor.IngestText(context.Background(), doc, "the policy covers paid leave.")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEmbeddingUnavailable)
	assert.Zero(t, index.Len(), "嵌入失败时不应写入任何向量点")
}

func TestIngestBytesMergesExtractorMetadata(t *testing.T) {
	embedder := newVocabEmbedder("leave")
	index := storage.NewMemoryIndex(embedder.GetDimensions())
	meta := newFakeMetaStore()
	ingestor := newTestIngestor(t, index, meta, embedder)
	ctx := context.Background()

	doc := &types.Document{ID: "doc-a", Title: "请假制度"}
	_, err := ingestor.IngestBytes(ctx, doc, []byte("the policy covers paid leave."), "policy.txt")
	require.NoError(t, err)

	stored, err := meta.GetDocument(ctx, "doc-a")
	require.NoError(t, err)
	assert.Equal(t, "policy.txt", stored.Metadata["source_uri"])
}

func TestDeleteDocument(t *testing.T) {
	embedder := newVocabEmbedder("leave")
	index := storage.NewMemoryIndex(embedder.GetDimensions())
	meta := newFakeMetaStore()
	ingestor := newTestIngestor(t, index, meta, embedder)
	ctx := context.Background()

	doc := &types.Document{ID: "doc-a"}
	_, err := ingestor.IngestText(ctx, doc, "the policy covers paid leave.")
	require.NoError(t, err)

	require.NoError(t, ingestor.DeleteDocument(ctx, "doc-a"))
	assert.Zero(t, index.Len())

	_, err = meta.GetDocument(ctx, "doc-a")
	assert.Error(t, err)
}
