// Package repository implements the dual-indexing repository layer (C5):
// every upsert durably performs a SQL row upsert, then best-effort
// embedding generation, then best-effort KV entity-key/graph-edge index
// population, in that order.
package repository

import "time"

// Schema describes one entity type: its primary table, how to derive a
// deterministic ID when the caller omits one, which fields are
// embedding-eligible, and which field (if any) feeds the KV entity-key
// index under "{tenant}/{name}/{table}".
type Schema struct {
	Table string

	// KeyField names the field used to derive a UUIDv5 ID when the caller
	// does not supply one. Empty means always assign a random UUIDv4.
	KeyField string

	// NameField names the field written into the KV entity-key index. Empty
	// disables entity-key indexing for this schema.
	NameField string

	// EmbeddingFields lists which fields are embedding-eligible, along with
	// the provider they should be batched under.
	EmbeddingFields []EmbeddingField

	// TenantIsolated reports whether rows of this schema carry tenant_id.
	// SystemRepository schemas set this false.
	TenantIsolated bool

	// GraphEdges reports whether this schema's rows carry a graph_paths
	// column holding the entity's InlineEdges. Upsert/UpsertBatch read the
	// existing column, merge-dedup with e.InlineEdges, and write the
	// merged result back; schemas that leave this false never touch the
	// column.
	GraphEdges bool
}

// EmbeddingField names one embedding-eligible field and the provider that
// should generate its vector. Fields sharing a provider are batched
// together into a single embedding call.
type EmbeddingField struct {
	Name     string
	Provider string
}

// InlineEdge is one graph_paths entry carried by an upserted entity,
// contributing to the KV reverse index keyed by the edge's destination.
// Edges on a single entity are unique on (Dst, Rel); on a duplicate insert
// the edge with the higher Weight wins.
type InlineEdge struct {
	Dst           string
	DstEntityType string
	Rel           string

	// Weight is the edge strength in [0.0, 1.0].
	Weight float64

	// Properties is the edge's free-form property map. dst_entity_type is
	// folded into it when the merged record is written.
	Properties map[string]any

	// CreatedAt is when the edge was first observed. Zero means "now" at
	// merge time.
	CreatedAt time.Time
}

// Entity is one row to upsert: its field values, plus any inline edges
// discovered by the caller (e.g. a worker's entity/link extractors).
type Entity struct {
	// ID is the primary key. Zero value means "derive per Schema.KeyField,
	// or assign a random UUIDv4 if KeyField is empty or absent from Fields".
	ID string

	TenantID    string
	Fields      map[string]any
	InlineEdges []InlineEdge
}
