package repository

import (
	"context"

	"p8fs-storage/internal/worker"
)

// FileSchema describes the primary-table layout a storage worker upserts
// file rows into.
var FileSchema = Schema{
	Table:           "files",
	KeyField:        "path",
	NameField:       "path",
	TenantIsolated:  true,
	EmbeddingFields: nil,
}

// ChunkSchema describes the primary-table layout a storage worker
// batch-upserts chunk rows into.
var ChunkSchema = Schema{
	Table:          "chunks",
	KeyField:       "",
	TenantIsolated: true,
	GraphEdges:     true,
	EmbeddingFields: []EmbeddingField{
		{Name: "content", Provider: "default"},
	},
}

// WorkerRepository adapts Repository's generic Schema/Entity API to
// worker.Repository's narrow FileRecord/ChunkRecord contract, so C4 can
// depend on C5 without importing its heavier dialect/embedder/KV surface.
type WorkerRepository struct {
	repo *Repository
}

// NewWorkerRepository wraps a system (tenant-unscoped) Repository. Each call
// scopes itself to the record's own TenantID via ForTenant, since one
// storage worker process serves events across many tenants.
func NewWorkerRepository(repo *Repository) *WorkerRepository {
	return &WorkerRepository{repo: repo}
}

func (wr *WorkerRepository) UpsertFile(ctx context.Context, file worker.FileRecord) error {
	e := Entity{
		ID:       file.ID.String(),
		TenantID: file.TenantID,
		Fields: map[string]any{
			"path":              file.Path,
			"size":              file.Size,
			"content_type":      file.ContentType,
			"extraction_method": file.ExtractionMethod,
			"word_count":        file.WordCount,
			"confidence":        file.Confidence,
			"title":             file.Title,
		},
	}
	_, err := wr.repo.ForTenant(file.TenantID).Upsert(ctx, FileSchema, e)
	return err
}

func (wr *WorkerRepository) UpsertChunks(ctx context.Context, chunks []worker.ChunkRecord) error {
	if len(chunks) == 0 {
		return nil
	}
	tenant := chunks[0].TenantID
	entities := make([]Entity, len(chunks))
	for i, c := range chunks {
		entities[i] = Entity{
			ID:       c.ID.String(),
			TenantID: c.TenantID,
			Fields: map[string]any{
				"file_id":  c.FileID.String(),
				"ordinal":  c.Ordinal,
				"content":  c.Content,
				"category": c.Category,
			},
		}
	}
	_, err := wr.repo.ForTenant(tenant).UpsertBatch(ctx, ChunkSchema, entities)
	return err
}
