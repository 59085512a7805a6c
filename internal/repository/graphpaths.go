package repository

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"p8fs-storage/internal/storageerr"
)

// graphEdgeRecord is the JSON shape persisted in a row's graph_paths
// column, mirroring InlineEdge but with dst_entity_type folded into
// Properties the way the source platform's graph_paths list does.
type graphEdgeRecord struct {
	Dst        string         `json:"dst"`
	RelType    string         `json:"rel_type"`
	Weight     float64        `json:"weight"`
	Properties map[string]any `json:"properties,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// mergeGraphEdges dedups existing against incoming by (dst, rel_type),
// keeping the higher-weight edge on a collision, per spec.md invariant 7
// and the edge-merge E2E scenario. Pure and DB-free so it can be unit
// tested directly.
func mergeGraphEdges(existing []graphEdgeRecord, incoming []InlineEdge, now time.Time) []graphEdgeRecord {
	type edgeKey struct {
		dst string
		rel string
	}
	merged := make(map[edgeKey]graphEdgeRecord, len(existing)+len(incoming))
	for _, rec := range existing {
		merged[edgeKey{rec.Dst, rec.RelType}] = rec
	}

	for _, edge := range incoming {
		props := make(map[string]any, len(edge.Properties)+1)
		for k, v := range edge.Properties {
			props[k] = v
		}
		if edge.DstEntityType != "" {
			props["dst_entity_type"] = edge.DstEntityType
		}
		createdAt := edge.CreatedAt
		if createdAt.IsZero() {
			createdAt = now
		}
		candidate := graphEdgeRecord{
			Dst:        edge.Dst,
			RelType:    edge.Rel,
			Weight:     edge.Weight,
			Properties: props,
			CreatedAt:  createdAt,
		}

		k := edgeKey{edge.Dst, edge.Rel}
		if cur, ok := merged[k]; !ok || candidate.Weight > cur.Weight {
			merged[k] = candidate
		}
	}

	out := make([]graphEdgeRecord, 0, len(merged))
	for _, rec := range merged {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Dst != out[j].Dst {
			return out[i].Dst < out[j].Dst
		}
		return out[i].RelType < out[j].RelType
	})
	return out
}

// loadGraphPaths reads the existing graph_paths column for id, if any.
func (r *Repository) loadGraphPaths(ctx context.Context, schema Schema, id string) ([]graphEdgeRecord, error) {
	filters := map[string]any{"id": id}
	if schema.TenantIsolated || r.tenantIsolated {
		filters["tenant_id"] = r.tenantID
	}
	sql, args := r.dialect.SelectSQL(schema.Table, filters, []string{"graph_paths"}, "", 1, 0)
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, storageerr.Wrap(storageerr.KindTransient, "load existing graph_paths", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	var raw []byte
	if err := rows.Scan(&raw); err != nil {
		return nil, storageerr.Wrap(storageerr.KindParse, "scan graph_paths", err)
	}
	if len(raw) == 0 {
		return nil, nil
	}
	var existing []graphEdgeRecord
	if err := json.Unmarshal(raw, &existing); err != nil {
		return nil, storageerr.Wrap(storageerr.KindParse, "parse existing graph_paths", err)
	}
	return existing, nil
}

// resolveGraphPaths reads the row's current graph_paths, merge-dedups it
// against e.InlineEdges, and returns the JSON value to write back. Called
// before the row upsert so the merged result lands in the same statement
// as every other column, keeping the dedup invariant durable rather than
// best-effort.
func (r *Repository) resolveGraphPaths(ctx context.Context, schema Schema, id string, e Entity) ([]byte, error) {
	existing, err := r.loadGraphPaths(ctx, schema, id)
	if err != nil {
		return nil, err
	}
	merged := mergeGraphEdges(existing, e.InlineEdges, time.Now().UTC())
	return json.Marshal(merged)
}
