package repository

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveID_DerivesUUIDv5FromKeyField(t *testing.T) {
	r := &Repository{}
	schema := Schema{Table: "files", KeyField: "path"}
	e := Entity{TenantID: "t1", Fields: map[string]any{"path": "/buckets/t1/a"}}

	id := r.resolveID(schema, e)
	want := uuid.NewSHA1(uuid.NameSpaceDNS, []byte("t1:/buckets/t1/a")).String()
	assert.Equal(t, want, id)

	// deterministic: same inputs, same id
	assert.Equal(t, id, r.resolveID(schema, e))
}

func TestResolveID_UsesCallerSuppliedID(t *testing.T) {
	r := &Repository{}
	schema := Schema{Table: "files", KeyField: "path"}
	e := Entity{ID: "explicit-id", Fields: map[string]any{"path": "/a"}}
	assert.Equal(t, "explicit-id", r.resolveID(schema, e))
}

func TestResolveID_RandomWhenNoKeyField(t *testing.T) {
	r := &Repository{}
	schema := Schema{Table: "files"}
	id1 := r.resolveID(schema, Entity{})
	id2 := r.resolveID(schema, Entity{})
	require.NotEqual(t, id1, id2)
	_, err := uuid.Parse(id1)
	require.NoError(t, err)
}

func TestPrepareRow_InjectsTenantIDWhenIsolated(t *testing.T) {
	r := &Repository{}
	schema := Schema{Table: "files", TenantIsolated: true}
	e := Entity{TenantID: "t1", Fields: map[string]any{"path": "/a"}}

	row := r.prepareRow(schema, e, "file-1")
	assert.Equal(t, "file-1", row["id"])
	assert.Equal(t, "t1", row["tenant_id"])
	assert.Equal(t, "/a", row["path"])
}

func TestPrepareRow_OmitsTenantIDWhenSystemSchema(t *testing.T) {
	r := &Repository{}
	schema := Schema{Table: "system_settings"}
	row := r.prepareRow(schema, Entity{Fields: map[string]any{"k": "v"}}, "id-1")
	_, hasTenant := row["tenant_id"]
	assert.False(t, hasTenant)
}

func TestForTenant_ScopesFiltersEvenForUnisolatedSchema(t *testing.T) {
	r := New(nil, PostgresDialect{}, nil, nil, nil)
	tenantRepo := r.ForTenant("t1")

	filters := tenantRepo.scopeFilters(Schema{Table: "files"}, map[string]any{"id": "x"})
	assert.Equal(t, "t1", filters["tenant_id"])
	assert.Equal(t, "x", filters["id"])
}

func TestScopeFilters_SystemRepositoryLeavesFiltersUnscoped(t *testing.T) {
	r := New(nil, PostgresDialect{}, nil, nil, nil)
	filters := r.scopeFilters(Schema{Table: "system_settings"}, map[string]any{"id": "x"})
	_, hasTenant := filters["tenant_id"]
	assert.False(t, hasTenant)
}

func TestUpsertBatch_EmptyEntitiesIsNoOp(t *testing.T) {
	r := New(nil, PostgresDialect{}, nil, nil, nil)
	ids, err := r.UpsertBatch(context.Background(), Schema{Table: "chunks"}, nil)
	require.NoError(t, err)
	assert.Nil(t, ids)
}
