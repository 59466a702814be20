package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hr-agent-go/internal/config"
)

func TestNewStorageNilConfig(t *testing.T) {
	_, err := NewStorage(nil)
	assert.Error(t, err)
}

func TestNewStorageWithoutBackendsIsLocalMode(t *testing.T) {
	// 一个后端都没配置是合法的纯本地模式，不应当报错
	storage, err := NewStorage(&config.Config{})
	require.NoError(t, err)
	require.NotNil(t, storage)

	assert.Nil(t, storage.MySQL)
	assert.Nil(t, storage.Qdrant)
	assert.Nil(t, storage.Redis)
	assert.Nil(t, storage.RabbitMQ)

	index := storage.Index()
	require.NotNil(t, index, "Qdrant未配置时检索退回到内存索引")

	// 多次取用得到同一个内存索引，写入和检索才能看到彼此
	assert.Same(t, index, storage.Index())
}
