package repository

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Dialect encapsulates the per-database differences the repository needs:
// upsert semantics, a vector column type with a distance function, and JSON
// column support. Grounded on the existing pgvector-backed VectorStore's
// SQL generation, generalized to arbitrary entity tables.
type Dialect interface {
	// UpsertRowSQL builds an INSERT ... ON CONFLICT DO UPDATE statement for
	// one row, keyed by "id".
	UpsertRowSQL(table string, row map[string]any) (string, []any)

	// SelectSQL builds a SELECT over table honoring the filter/order/limit
	// contract described in spec.md's Select operation.
	SelectSQL(table string, filters map[string]any, fields []string, orderBy string, limit, offset int) (string, []any)

	// DeleteSQL builds a DELETE over table honoring the same filter
	// predicates as SelectSQL.
	DeleteSQL(table string, filters map[string]any) (string, []any)

	// BatchUpsertRowSQL builds a single multi-row INSERT ... ON CONFLICT
	// statement covering every row, so callers can batch-upsert (e.g. a
	// file's chunks) in one round trip. Every row must share the same set
	// of columns.
	BatchUpsertRowSQL(table string, rows []map[string]any) (string, []any)

	// UpsertEmbeddingSQL writes one vector into "embeddings.<table>_embeddings"
	// keyed by (entity_id, field_name, tenant_id).
	UpsertEmbeddingSQL(table, entityID, fieldName, provider string, vector []float32, dimension int, tenantID string) (string, []any)

	// SemanticSearchSQL builds a nearest-neighbour query joined back to the
	// primary table, tenant-scoped.
	SemanticSearchSQL(table, fieldName string, vector []float32, metric string, limit int, threshold float64, tenantID string) (string, []any)
}

// PostgresDialect targets Postgres + pgvector: array-literal vector
// encoding and ON CONFLICT DO UPDATE upserts, generalized to an arbitrary
// entity table rather than one fixed schema.
type PostgresDialect struct{}

func (PostgresDialect) UpsertRowSQL(table string, row map[string]any) (string, []any) {
	cols := sortedKeys(row)
	placeholders := make([]string, len(cols))
	args := make([]any, len(cols))
	updates := make([]string, 0, len(cols))
	for i, c := range cols {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = row[c]
		if c != "id" {
			updates = append(updates, fmt.Sprintf("%s=EXCLUDED.%s", c, c))
		}
	}
	sql := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (id) DO UPDATE SET %s",
		table, strings.Join(cols, ", "), strings.Join(placeholders, ", "), strings.Join(updates, ", "),
	)
	return sql, args
}

func (PostgresDialect) BatchUpsertRowSQL(table string, rows []map[string]any) (string, []any) {
	if len(rows) == 0 {
		return "", nil
	}
	cols := sortedKeys(rows[0])
	updates := make([]string, 0, len(cols))
	for _, c := range cols {
		if c != "id" {
			updates = append(updates, fmt.Sprintf("%s=EXCLUDED.%s", c, c))
		}
	}

	valueGroups := make([]string, len(rows))
	args := make([]any, 0, len(rows)*len(cols))
	argN := 1
	for i, row := range rows {
		placeholders := make([]string, len(cols))
		for j, c := range cols {
			placeholders[j] = fmt.Sprintf("$%d", argN)
			args = append(args, row[c])
			argN++
		}
		valueGroups[i] = "(" + strings.Join(placeholders, ", ") + ")"
	}

	sql := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES %s ON CONFLICT (id) DO UPDATE SET %s",
		table, strings.Join(cols, ", "), strings.Join(valueGroups, ", "), strings.Join(updates, ", "),
	)
	return sql, args
}

// SelectSQL supports equality, __in, __like, __contains (JSON containment),
// __gt/__gte/__lt/__lte, and a leading "-" on an order_by field for
// descending order.
func (PostgresDialect) SelectSQL(table string, filters map[string]any, fields []string, orderBy string, limit, offset int) (string, []any) {
	cols := "*"
	if len(fields) > 0 {
		cols = strings.Join(fields, ", ")
	}

	where, args := whereClause(filters, 1)
	sql := fmt.Sprintf("SELECT %s FROM %s", cols, table)
	if where != "" {
		sql += " WHERE " + where
	}
	if orderBy != "" {
		dir := "ASC"
		field := orderBy
		if strings.HasPrefix(orderBy, "-") {
			dir = "DESC"
			field = orderBy[1:]
		}
		sql += fmt.Sprintf(" ORDER BY %s %s", field, dir)
	}
	if limit > 0 {
		sql += " LIMIT " + strconv.Itoa(limit)
	}
	if offset > 0 {
		sql += " OFFSET " + strconv.Itoa(offset)
	}
	return sql, args
}

func (PostgresDialect) DeleteSQL(table string, filters map[string]any) (string, []any) {
	where, args := whereClause(filters, 1)
	sql := fmt.Sprintf("DELETE FROM %s", table)
	if where != "" {
		sql += " WHERE " + where
	}
	return sql, args
}

// whereClause builds an AND-joined WHERE predicate (without the "WHERE"
// keyword) supporting equality, __in, __like, __contains (JSON
// containment), and __gt/__gte/__lt/__lte, starting parameter numbering at
// startArg.
func whereClause(filters map[string]any, startArg int) (string, []any) {
	var where []string
	var args []any
	argN := startArg
	for _, key := range sortedKeys(filters) {
		val := filters[key]
		field, op := splitFilterKey(key)
		switch op {
		case "in":
			vals, _ := val.([]any)
			placeholders := make([]string, len(vals))
			for i, v := range vals {
				placeholders[i] = fmt.Sprintf("$%d", argN)
				args = append(args, v)
				argN++
			}
			where = append(where, fmt.Sprintf("%s IN (%s)", field, strings.Join(placeholders, ", ")))
		case "like":
			where = append(where, fmt.Sprintf("%s ILIKE $%d", field, argN))
			args = append(args, val)
			argN++
		case "contains":
			where = append(where, fmt.Sprintf("%s @> $%d", field, argN))
			args = append(args, val)
			argN++
		case "gt":
			where = append(where, fmt.Sprintf("%s > $%d", field, argN))
			args = append(args, val)
			argN++
		case "gte":
			where = append(where, fmt.Sprintf("%s >= $%d", field, argN))
			args = append(args, val)
			argN++
		case "lt":
			where = append(where, fmt.Sprintf("%s < $%d", field, argN))
			args = append(args, val)
			argN++
		case "lte":
			where = append(where, fmt.Sprintf("%s <= $%d", field, argN))
			args = append(args, val)
			argN++
		default:
			where = append(where, fmt.Sprintf("%s = $%d", field, argN))
			args = append(args, val)
			argN++
		}
	}
	return strings.Join(where, " AND "), args
}

func (PostgresDialect) UpsertEmbeddingSQL(table, entityID, fieldName, provider string, vector []float32, dimension int, tenantID string) (string, []any) {
	embTable := fmt.Sprintf("embeddings.%s_embeddings", table)
	sql := fmt.Sprintf(`
INSERT INTO %s (id, entity_id, field_name, embedding_provider, embedding_vector, vector_dimension, tenant_id, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5::vector, $6, $7, now(), now())
ON CONFLICT (entity_id, field_name, tenant_id) DO UPDATE SET
  embedding_provider = EXCLUDED.embedding_provider,
  embedding_vector = EXCLUDED.embedding_vector,
  vector_dimension = EXCLUDED.vector_dimension,
  updated_at = now()
`, embTable)
	id := entityID + ":" + fieldName + ":" + tenantID
	args := []any{id, entityID, fieldName, provider, toVectorLiteral(vector), dimension, tenantID}
	return sql, args
}

func (PostgresDialect) SemanticSearchSQL(table, fieldName string, vector []float32, metric string, limit int, threshold float64, tenantID string) (string, []any) {
	embTable := fmt.Sprintf("embeddings.%s_embeddings", table)
	op, scoreExpr := distanceOperator(metric)
	vecLit := toVectorLiteral(vector)

	sql := fmt.Sprintf(`
SELECT * FROM (
  SELECT p.*, %s AS similarity_score
  FROM %s e
  JOIN %s p ON p.id = e.entity_id
  WHERE e.field_name = $1 AND e.tenant_id = $2
  ORDER BY e.embedding_vector %s $3::vector
  LIMIT $4
) scored
WHERE similarity_score >= $5
ORDER BY similarity_score DESC
`, scoreExpr, embTable, table, op)
	return sql, []any{fieldName, tenantID, vecLit, limit, threshold}
}

func distanceOperator(metric string) (op, scoreExpr string) {
	switch strings.ToLower(metric) {
	case "l2", "euclidean":
		return "<->", "-(e.embedding_vector <-> $3::vector)"
	case "inner_product", "ip", "dot":
		return "<#>", "-(e.embedding_vector <#> $3::vector)"
	default: // cosine
		return "<=>", "1 - (e.embedding_vector <=> $3::vector)"
	}
}

func toVectorLiteral(v []float32) string {
	if len(v) == 0 {
		return "[]"
	}
	var b strings.Builder
	b.WriteByte('[')
	for i, x := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(fmt.Sprintf("%g", x))
	}
	b.WriteByte(']')
	return b.String()
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// splitFilterKey splits a Django-style filter key ("field__op") into its
// field and operator ("" for equality).
func splitFilterKey(key string) (field, op string) {
	if i := strings.LastIndex(key, "__"); i >= 0 {
		return key[:i], key[i+2:]
	}
	return key, ""
}
