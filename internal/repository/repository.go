package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"p8fs-storage/internal/observability"
	"p8fs-storage/internal/rag/embedder"
	"p8fs-storage/internal/storageerr"
)

var tracer = otel.Tracer("p8fs-storage/repository")

// Repository is the dual-indexing entry point: every Upsert performs a SQL
// row upsert, then best-effort embedding generation, then best-effort KV
// entity-key/graph-edge index population, in that order. A zero tenantID
// with tenantIsolated=false makes this a SystemRepository; otherwise it is
// a TenantRepository automatically scoping every filter and every prepared
// row to tenantID.
type Repository struct {
	pool     *pgxpool.Pool
	dialect  Dialect
	kv       KVStore
	embedder map[string]embedder.Embedder // keyed by provider name
	log      *logrus.Entry

	tenantID       string
	tenantIsolated bool
}

// New constructs the System (tenant-unscoped) repository.
func New(pool *pgxpool.Pool, dialect Dialect, kv KVStore, embedders map[string]embedder.Embedder, log *logrus.Entry) *Repository {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Repository{pool: pool, dialect: dialect, kv: kv, embedder: embedders, log: log}
}

// ForTenant returns a copy of r scoped to tenantID: every filter and every
// prepared row automatically carries tenant_id. Grounded on
// TenantRepository's "no other difference" contract.
func (r *Repository) ForTenant(tenantID string) *Repository {
	clone := *r
	clone.tenantID = tenantID
	clone.tenantIsolated = true
	return &clone
}

// Upsert performs the three-stage dual-indexing write described in
// spec.md §4.5. Stage 1 failure aborts the whole operation; stages 2 and 3
// are best-effort and only logged on failure.
func (r *Repository) Upsert(ctx context.Context, schema Schema, e Entity) (string, error) {
	ctx, span := tracer.Start(ctx, "repository.upsert")
	defer span.End()
	span.SetAttributes(attribute.String("repository.table", schema.Table))

	id := r.resolveID(schema, e)
	row := r.prepareRow(schema, e, id)

	if schema.GraphEdges {
		merged, err := r.resolveGraphPaths(ctx, schema, id, e)
		if err != nil {
			return "", err
		}
		row["graph_paths"] = merged
	}

	sql, args := r.dialect.UpsertRowSQL(schema.Table, row)
	if _, err := r.pool.Exec(ctx, sql, args...); err != nil {
		return "", storageerr.Wrap(storageerr.KindTransient, fmt.Sprintf("upsert row into %s", schema.Table), err)
	}

	r.generateEmbeddings(ctx, schema, id, e)
	r.populateKVIndex(ctx, schema, id, e)

	return id, nil
}

// UpsertBatch performs stage 1 (the row upsert) for every entity in a
// single INSERT, then stages 2-3 per entity, best-effort as in Upsert.
// Grounded on spec.md §4.4 step 7's requirement that a file's chunks batch
// upsert through a single call rather than one round trip per chunk.
func (r *Repository) UpsertBatch(ctx context.Context, schema Schema, entities []Entity) ([]string, error) {
	if len(entities) == 0 {
		return nil, nil
	}

	ctx, span := tracer.Start(ctx, "repository.upsert_batch")
	defer span.End()
	span.SetAttributes(attribute.String("repository.table", schema.Table), attribute.Int("repository.batch_size", len(entities)))

	ids := make([]string, len(entities))
	rows := make([]map[string]any, len(entities))
	for i, e := range entities {
		ids[i] = r.resolveID(schema, e)
		rows[i] = r.prepareRow(schema, e, ids[i])
		if schema.GraphEdges {
			merged, err := r.resolveGraphPaths(ctx, schema, ids[i], e)
			if err != nil {
				return nil, err
			}
			rows[i]["graph_paths"] = merged
		}
	}

	sql, args := r.dialect.BatchUpsertRowSQL(schema.Table, rows)
	if _, err := r.pool.Exec(ctx, sql, args...); err != nil {
		return nil, storageerr.Wrap(storageerr.KindTransient, fmt.Sprintf("batch upsert rows into %s", schema.Table), err)
	}

	for i, e := range entities {
		r.generateEmbeddings(ctx, schema, ids[i], e)
		r.populateKVIndex(ctx, schema, ids[i], e)
	}

	return ids, nil
}

func (r *Repository) resolveID(schema Schema, e Entity) string {
	if e.ID != "" {
		return e.ID
	}
	if schema.KeyField != "" {
		if v, ok := e.Fields[schema.KeyField]; ok {
			if s, ok := v.(string); ok && s != "" {
				return uuid.NewSHA1(uuid.NameSpaceDNS, []byte(e.TenantID+":"+s)).String()
			}
		}
	}
	return uuid.NewString()
}

func (r *Repository) prepareRow(schema Schema, e Entity, id string) map[string]any {
	row := make(map[string]any, len(e.Fields)+2)
	for k, v := range e.Fields {
		row[k] = v
	}
	row["id"] = id
	if schema.TenantIsolated || r.tenantIsolated {
		row["tenant_id"] = r.effectiveTenant(e)
	}
	return row
}

func (r *Repository) effectiveTenant(e Entity) string {
	if r.tenantID != "" {
		return r.tenantID
	}
	return e.TenantID
}

// generateEmbeddings batches embedding-eligible fields by provider and
// writes each vector under (entity_id, field_name, tenant_id). Failures are
// logged, never returned: embedding providers may fail independently of the
// primary write.
func (r *Repository) generateEmbeddings(ctx context.Context, schema Schema, id string, e Entity) {
	if len(schema.EmbeddingFields) == 0 {
		return
	}
	tenant := r.effectiveTenant(e)

	byProvider := map[string][]EmbeddingField{}
	for _, ef := range schema.EmbeddingFields {
		if _, ok := e.Fields[ef.Name]; ok {
			byProvider[ef.Provider] = append(byProvider[ef.Provider], ef)
		}
	}

	for provider, fields := range byProvider {
		emb, ok := r.embedder[provider]
		if !ok {
			r.log.WithField("provider", provider).Warn("no embedder configured for provider, skipping embedding generation")
			observability.LoggerWithTrace(ctx).Warn().Str("provider", provider).Msg("no embedder configured, skipping embedding generation")
			continue
		}
		texts := make([]string, 0, len(fields))
		for _, f := range fields {
			texts = append(texts, fmt.Sprintf("%v", e.Fields[f.Name]))
		}
		vectors, err := emb.EmbedBatch(ctx, texts)
		if err != nil {
			r.log.WithError(err).WithField("provider", provider).Warn("embedding generation failed, continuing without it")
			observability.LoggerWithTrace(ctx).Warn().Err(err).Str("provider", provider).Msg("embedding generation failed, continuing without it")
			continue
		}
		for i, f := range fields {
			sql, args := r.dialect.UpsertEmbeddingSQL(schema.Table, id, f.Name, provider, vectors[i], emb.Dimension(), tenant)
			if _, err := r.pool.Exec(ctx, sql, args...); err != nil {
				r.log.WithError(err).WithField("field", f.Name).Warn("embedding write failed, continuing")
				observability.LoggerWithTrace(ctx).Warn().Err(err).Str("field", f.Name).Msg("embedding write failed, continuing")
			}
		}
	}
}

// populateKVIndex writes/appends the entity-key mapping for the entity's
// name field, then one mapping per inline edge keyed by its destination.
// Grounded on the source platform's _populate_entity_key_index: both
// mappings list-accumulate rather than overwrite.
func (r *Repository) populateKVIndex(ctx context.Context, schema Schema, id string, e Entity) {
	if r.kv == nil {
		return
	}
	tenant := r.effectiveTenant(e)

	if schema.NameField != "" {
		if v, ok := e.Fields[schema.NameField]; ok {
			name := fmt.Sprintf("%v", v)
			key := fmt.Sprintf("%s/%s/%s", tenant, name, schema.Table)
			if err := appendEntityID(ctx, r.kv, key, id, schema.Table, schema.Table); err != nil {
				r.log.WithError(err).WithField("kv_key", key).Warn("entity-key index population failed, continuing")
				observability.LoggerWithTrace(ctx).Warn().Err(err).Str("kv_key", key).Msg("entity-key index population failed, continuing")
			}
		}
	}

	for _, edge := range e.InlineEdges {
		key := fmt.Sprintf("%s/%s/resource", tenant, edge.Dst)
		if err := appendEntityID(ctx, r.kv, key, id, schema.Table, edge.DstEntityType); err != nil {
			r.log.WithError(err).WithField("kv_key", key).Warn("graph-edge index population failed, continuing")
			observability.LoggerWithTrace(ctx).Warn().Err(err).Str("kv_key", key).Msg("graph-edge index population failed, continuing")
		}
	}
}

// Get performs a tenant-scoped primary-key lookup.
func (r *Repository) Get(ctx context.Context, schema Schema, id string) (map[string]any, bool, error) {
	filters := map[string]any{"id": id}
	if schema.TenantIsolated || r.tenantIsolated {
		filters["tenant_id"] = r.tenantID
	}
	rows, err := r.Select(ctx, schema, filters, nil, "", 1, 0)
	if err != nil {
		return nil, false, err
	}
	if len(rows) == 0 {
		return nil, false, nil
	}
	return rows[0], true, nil
}

// Select is the general-purpose WHERE builder described in spec.md §4.5.
func (r *Repository) Select(ctx context.Context, schema Schema, filters map[string]any, fields []string, orderBy string, limit, offset int) ([]map[string]any, error) {
	scoped := r.scopeFilters(schema, filters)
	sql, args := r.dialect.SelectSQL(schema.Table, scoped, fields, orderBy, limit, offset)
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, storageerr.Wrap(storageerr.KindTransient, fmt.Sprintf("select from %s", schema.Table), err)
	}
	defer rows.Close()

	fieldDescs := rows.FieldDescriptions()
	var out []map[string]any
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, storageerr.Wrap(storageerr.KindParse, "scan select row", err)
		}
		rec := make(map[string]any, len(vals))
		for i, fd := range fieldDescs {
			rec[string(fd.Name)] = vals[i]
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *Repository) scopeFilters(schema Schema, filters map[string]any) map[string]any {
	if !schema.TenantIsolated && !r.tenantIsolated {
		return filters
	}
	scoped := make(map[string]any, len(filters)+1)
	for k, v := range filters {
		scoped[k] = v
	}
	scoped["tenant_id"] = r.tenantID
	return scoped
}

// SemanticSearch generates a query embedding via provider, then issues a
// dialect-appropriate nearest-neighbour query. Results are tenant-scoped.
func (r *Repository) SemanticSearch(ctx context.Context, schema Schema, queryText string, fieldName, provider string, limit int, threshold float64, metric string) ([]map[string]any, error) {
	emb, ok := r.embedder[provider]
	if !ok {
		return nil, storageerr.New(storageerr.KindValidation, fmt.Sprintf("no embedder configured for provider %q", provider))
	}
	vectors, err := emb.EmbedBatch(ctx, []string{queryText})
	if err != nil {
		return nil, storageerr.Wrap(storageerr.KindTransient, "generate query embedding", err)
	}

	sql, args := r.dialect.SemanticSearchSQL(schema.Table, fieldName, vectors[0], metric, limit, threshold, r.tenantID)
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, storageerr.Wrap(storageerr.KindTransient, "semantic search query", err)
	}
	defer rows.Close()

	fieldDescs := rows.FieldDescriptions()
	var out []map[string]any
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, storageerr.Wrap(storageerr.KindParse, "scan semantic search row", err)
		}
		rec := make(map[string]any, len(vals))
		for i, fd := range fieldDescs {
			rec[string(fd.Name)] = vals[i]
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// QueryHint selects the dispatch strategy for Query.
type QueryHint string

const (
	HintSemantic QueryHint = "semantic"
	HintSQL      QueryHint = "sql"
	HintGraph    QueryHint = "graph"
	HintHybrid   QueryHint = "hybrid"
)

// Query dispatches by hint. graph and hybrid are out of scope for v1.
func (r *Repository) Query(ctx context.Context, schema Schema, text string, hint QueryHint, opts map[string]any) ([]map[string]any, error) {
	switch hint {
	case HintSemantic:
		field, _ := opts["field_name"].(string)
		provider, _ := opts["provider"].(string)
		limit, _ := opts["limit"].(int)
		threshold, _ := opts["threshold"].(float64)
		metric, _ := opts["metric"].(string)
		return r.SemanticSearch(ctx, schema, text, field, provider, limit, threshold, metric)
	case HintSQL:
		filters, _ := opts["filters"].(map[string]any)
		fields, _ := opts["fields"].([]string)
		orderBy, _ := opts["order_by"].(string)
		limit, _ := opts["limit"].(int)
		offset, _ := opts["offset"].(int)
		return r.Select(ctx, schema, filters, fields, orderBy, limit, offset)
	case HintGraph, HintHybrid:
		return nil, storageerr.New(storageerr.KindValidation, fmt.Sprintf("query hint %q not implemented", hint))
	default:
		return nil, storageerr.New(storageerr.KindValidation, fmt.Sprintf("unknown query hint %q", hint))
	}
}

// Delete removes the row identified by id, tenant-scoped.
func (r *Repository) Delete(ctx context.Context, schema Schema, id string) error {
	scoped := r.scopeFilters(schema, map[string]any{"id": id})
	sql, args := r.dialect.DeleteSQL(schema.Table, scoped)
	if _, err := r.pool.Exec(ctx, sql, args...); err != nil {
		return storageerr.Wrap(storageerr.KindTransient, fmt.Sprintf("delete from %s", schema.Table), err)
	}
	return nil
}

// Execute runs a raw SQL statement with parameters, for callers that need
// an escape hatch beyond Select/Upsert.
func (r *Repository) Execute(ctx context.Context, sql string, params ...any) error {
	_, err := r.pool.Exec(ctx, sql, params...)
	if err != nil {
		return storageerr.Wrap(storageerr.KindTransient, "execute raw sql", err)
	}
	return nil
}
