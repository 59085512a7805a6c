package repository

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFileSchema_IsTenantIsolatedAndKeyedByPath(t *testing.T) {
	assert.Equal(t, "files", FileSchema.Table)
	assert.Equal(t, "path", FileSchema.KeyField)
	assert.True(t, FileSchema.TenantIsolated)
}

func TestChunkSchema_EmbedsContentViaDefaultProvider(t *testing.T) {
	assert.Equal(t, "chunks", ChunkSchema.Table)
	assert.True(t, ChunkSchema.TenantIsolated)
	if assert.Len(t, ChunkSchema.EmbeddingFields, 1) {
		assert.Equal(t, "content", ChunkSchema.EmbeddingFields[0].Name)
		assert.Equal(t, "default", ChunkSchema.EmbeddingFields[0].Provider)
	}
}

func TestNewWorkerRepository_WrapsRepository(t *testing.T) {
	repo := New(nil, PostgresDialect{}, nil, nil, nil)
	wr := NewWorkerRepository(repo)
	assert.NotNil(t, wr)
}
