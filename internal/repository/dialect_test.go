package repository

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresDialect_UpsertRowSQL_UsesOnConflictOnID(t *testing.T) {
	sql, args := PostgresDialect{}.UpsertRowSQL("files", map[string]any{
		"id":        "abc",
		"tenant_id": "t1",
		"path":      "/buckets/t1/a",
	})
	assert.Contains(t, sql, "INSERT INTO files")
	assert.Contains(t, sql, "ON CONFLICT (id) DO UPDATE SET")
	assert.NotContains(t, sql, "id=EXCLUDED.id")
	assert.Len(t, args, 3)
}

func TestPostgresDialect_BatchUpsertRowSQL_BuildsOneStatementForAllRows(t *testing.T) {
	sql, args := PostgresDialect{}.BatchUpsertRowSQL("chunks", []map[string]any{
		{"id": "c1", "file_id": "f1", "ordinal": 0, "content": "a"},
		{"id": "c2", "file_id": "f1", "ordinal": 1, "content": "b"},
	})
	assert.Contains(t, sql, "INSERT INTO chunks")
	assert.Contains(t, sql, "ON CONFLICT (id) DO UPDATE SET")
	assert.NotContains(t, sql, "id=EXCLUDED.id")
	require.Len(t, args, 8)
	assert.Equal(t, 1, strings.Count(sql, "VALUES"))
}

func TestPostgresDialect_BatchUpsertRowSQL_EmptyRowsReturnsEmptySQL(t *testing.T) {
	sql, args := PostgresDialect{}.BatchUpsertRowSQL("chunks", nil)
	assert.Empty(t, sql)
	assert.Nil(t, args)
}

func TestPostgresDialect_SelectSQL_BuildsFilterOperators(t *testing.T) {
	sql, args := PostgresDialect{}.SelectSQL("chunks", map[string]any{
		"tenant_id":     "t1",
		"ordinal__gte":  0,
		"content__like": "%fox%",
	}, nil, "-ordinal", 10, 5)

	assert.Contains(t, sql, "SELECT * FROM chunks")
	assert.Contains(t, sql, "ordinal >=")
	assert.Contains(t, sql, "content ILIKE")
	assert.Contains(t, sql, "ORDER BY ordinal DESC")
	assert.Contains(t, sql, "LIMIT 10")
	assert.Contains(t, sql, "OFFSET 5")
	assert.Len(t, args, 3)
}

func TestPostgresDialect_SelectSQL_InOperator(t *testing.T) {
	sql, args := PostgresDialect{}.SelectSQL("files", map[string]any{
		"id__in": []any{"a", "b", "c"},
	}, nil, "", 0, 0)
	assert.Contains(t, sql, "id IN ($1, $2, $3)")
	require.Len(t, args, 3)
}

func TestPostgresDialect_DeleteSQL_ScopesByFilters(t *testing.T) {
	sql, args := PostgresDialect{}.DeleteSQL("files", map[string]any{"id": "abc", "tenant_id": "t1"})
	assert.Contains(t, sql, "DELETE FROM files WHERE")
	assert.Contains(t, sql, "id = $")
	assert.Contains(t, sql, "tenant_id = $")
	assert.Len(t, args, 2)
}

func TestPostgresDialect_UpsertEmbeddingSQL_TargetsPerTableEmbeddingsTable(t *testing.T) {
	sql, args := PostgresDialect{}.UpsertEmbeddingSQL("files", "file-1", "content", "openai", []float32{0.1, 0.2}, 2, "t1")
	assert.Contains(t, sql, "embeddings.files_embeddings")
	assert.Contains(t, sql, "ON CONFLICT (entity_id, field_name, tenant_id)")
	require.Len(t, args, 7)
	assert.Equal(t, "[0.1,0.2]", args[4])
}

func TestPostgresDialect_SemanticSearchSQL_PicksOperatorByMetric(t *testing.T) {
	sql, _ := PostgresDialect{}.SemanticSearchSQL("files", "content", []float32{0.1}, "l2", 5, 0, "t1")
	assert.Contains(t, sql, "<->")

	sql, _ = PostgresDialect{}.SemanticSearchSQL("files", "content", []float32{0.1}, "cosine", 5, 0, "t1")
	assert.Contains(t, sql, "<=>")

	sql, _ = PostgresDialect{}.SemanticSearchSQL("files", "content", []float32{0.1}, "inner_product", 5, 0, "t1")
	assert.Contains(t, sql, "<#>")
}

func TestPostgresDialect_SemanticSearchSQL_FiltersByThreshold(t *testing.T) {
	sql, args := PostgresDialect{}.SemanticSearchSQL("files", "content", []float32{0.1}, "cosine", 5, 0.75, "t1")
	assert.Contains(t, sql, "WHERE similarity_score >= $5")
	require.Len(t, args, 5)
	assert.Equal(t, 0.75, args[4])
}

func TestSplitFilterKey(t *testing.T) {
	field, op := splitFilterKey("ordinal__gte")
	assert.Equal(t, "ordinal", field)
	assert.Equal(t, "gte", op)

	field, op = splitFilterKey("tenant_id")
	assert.Equal(t, "tenant_id", field)
	assert.Equal(t, "", op)
}
