package storage

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hr-agent-go/internal/types"
)

func docPoint(id, documentID string, vector []float64) types.VectorPoint {
	return types.VectorPoint{
		ID:     id,
		Vector: vector,
		Payload: map[string]interface{}{
			PayloadDocumentID:  documentID,
			PayloadContentText: "content of " + id,
		},
	}
}

func TestMemoryIndexUpsertAndSearch(t *testing.T) {
	index := NewMemoryIndex(3)
	ctx := context.Background()

	err := index.Upsert(ctx, []types.VectorPoint{
		docPoint("p1", "doc-a", []float64{1, 0, 0}),
		docPoint("p2", "doc-a", []float64{0, 1, 0}),
		docPoint("p3", "doc-b", []float64{0.9, 0.1, 0}),
	})
	require.NoError(t, err)
	assert.Equal(t, 3, index.Len())

	hits, err := index.Search(ctx, []float64{1, 0, 0}, 2, nil)
	require.NoError(t, err)
	require.Len(t, hits, 2)

	// 与查询向量同向的点应当排在最前
	assert.Equal(t, "p1", hits[0].ID)
	assert.Equal(t, "p3", hits[1].ID)
	assert.Greater(t, hits[0].Score, hits[1].Score)
}

func TestMemoryIndexUpsertOverwrites(t *testing.T) {
	index := NewMemoryIndex(2)
	ctx := context.Background()

	require.NoError(t, index.Upsert(ctx, []types.VectorPoint{docPoint("p1", "doc-a", []float64{1, 0})}))
	require.NoError(t, index.Upsert(ctx, []types.VectorPoint{docPoint("p1", "doc-a", []float64{0, 1})}))
	assert.Equal(t, 1, index.Len(), "同一ID重复写入应当覆盖而不是累加")

	hits, err := index.Search(ctx, []float64{0, 1}, 1, nil)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.InDelta(t, 1.0, float64(hits[0].Score), 1e-6)
}

func TestMemoryIndexDimensionMismatch(t *testing.T) {
	index := NewMemoryIndex(3)

	err := index.Upsert(context.Background(), []types.VectorPoint{docPoint("p1", "doc-a", []float64{1, 0})})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "维度")

	_, err = index.Search(context.Background(), []float64{1, 0}, 1, nil)
	require.Error(t, err)
}

func TestMemoryIndexDelete(t *testing.T) {
	index := NewMemoryIndex(2)
	ctx := context.Background()

	require.NoError(t, index.Upsert(ctx, []types.VectorPoint{
		docPoint("p1", "doc-a", []float64{1, 0}),
		docPoint("p2", "doc-a", []float64{0, 1}),
	}))

	// 删除不存在的ID应当静默成功
	require.NoError(t, index.Delete(ctx, []string{"p1", "missing"}))
	assert.Equal(t, 1, index.Len())
}

func TestMemoryIndexDeleteByDocument(t *testing.T) {
	index := NewMemoryIndex(2)
	ctx := context.Background()

	require.NoError(t, index.Upsert(ctx, []types.VectorPoint{
		docPoint("p1", "doc-a", []float64{1, 0}),
		docPoint("p2", "doc-a", []float64{0, 1}),
		docPoint("p3", "doc-b", []float64{1, 1}),
	}))

	require.NoError(t, index.DeleteByDocument(ctx, "doc-a"))
	assert.Equal(t, 1, index.Len())

	hits, err := index.Search(ctx, []float64{1, 0}, 10, nil)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "p3", hits[0].ID)
}

func TestMemoryIndexDeleteByDocumentExcept(t *testing.T) {
	index := NewMemoryIndex(2)
	ctx := context.Background()

	require.NoError(t, index.Upsert(ctx, []types.VectorPoint{
		docPoint("p1", "doc-a", []float64{1, 0}),
		docPoint("p2", "doc-a", []float64{0, 1}),
		docPoint("p3", "doc-a", []float64{1, 1}),
		docPoint("q1", "doc-b", []float64{1, 0}),
	}))

	// doc-a只保留p1，其余文档不受影响
	require.NoError(t, index.DeleteByDocumentExcept(ctx, "doc-a", []string{"p1"}))
	assert.Equal(t, 2, index.Len())

	hits, err := index.Search(ctx, []float64{1, 0}, 10, map[string]interface{}{PayloadDocumentID: "doc-a"})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "p1", hits[0].ID)

	// 空的保留集合等价于删除整个文档
	require.NoError(t, index.DeleteByDocumentExcept(ctx, "doc-b", nil))
	assert.Equal(t, 1, index.Len())
}

func TestMemoryIndexSearchWithFilter(t *testing.T) {
	index := NewMemoryIndex(2)
	ctx := context.Background()

	require.NoError(t, index.Upsert(ctx, []types.VectorPoint{
		docPoint("p1", "doc-a", []float64{1, 0}),
		docPoint("p2", "doc-b", []float64{1, 0}),
	}))

	hits, err := index.Search(ctx, []float64{1, 0}, 10, map[string]interface{}{PayloadDocumentID: "doc-b"})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "p2", hits[0].ID)
}

func TestMemoryIndexDeterministicTieBreak(t *testing.T) {
	index := NewMemoryIndex(2)
	ctx := context.Background()

	// 两个点与查询的相似度完全相同，结果按ID稳定排序
	require.NoError(t, index.Upsert(ctx, []types.VectorPoint{
		docPoint("pb", "doc-a", []float64{1, 0}),
		docPoint("pa", "doc-a", []float64{1, 0}),
	}))

	for i := 0; i < 5; i++ {
		hits, err := index.Search(ctx, []float64{1, 0}, 2, nil)
		require.NoError(t, err)
		require.Len(t, hits, 2)
		assert.Equal(t, "pa", hits[0].ID)
		assert.Equal(t, "pb", hits[1].ID)
	}
}

func TestMemoryIndexConcurrentAccess(t *testing.T) {
	index := NewMemoryIndex(2)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func(n int) {
			defer wg.Done()
			id := fmt.Sprintf("p%d", n)
			_ = index.Upsert(ctx, []types.VectorPoint{docPoint(id, "doc-a", []float64{1, float64(n)})})
		}(i)
		go func() {
			defer wg.Done()
			_, _ = index.Search(ctx, []float64{1, 0}, 5, nil)
		}()
	}
	wg.Wait()

	assert.Equal(t, 20, index.Len())
}

func TestSectionPointIDDeterministic(t *testing.T) {
	id1 := SectionPointID("doc-a", 0)
	id2 := SectionPointID("doc-a", 0)
	id3 := SectionPointID("doc-a", 1)
	id4 := SectionPointID("doc-b", 0)

	// 同一文档同一序号永远得到同一个点ID，重复摄取才能原地覆盖
	assert.Equal(t, id1, id2)
	assert.NotEqual(t, id1, id3)
	assert.NotEqual(t, id1, id4)
	assert.Len(t, id1, 36, "点ID应当是UUID格式")
}
