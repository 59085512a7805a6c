package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// KVStore is the key-value sub-interface C5 uses for the entity-key and
// graph-edge reverse indices. Grounded on spec.md §6's KV sub-interface
// (get/put/scan/delete), backed here by Redis (previously unwired in the
// retrieved codebase: no component exercised go-redis before this layer).
type KVStore interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, value []byte) error
	Scan(ctx context.Context, prefix string, limit int) ([]string, error)
	Delete(ctx context.Context, key string) error
}

// RedisKV implements KVStore over a single Redis connection.
type RedisKV struct {
	client *redis.Client
}

// NewRedisKV constructs a RedisKV from a redis:// connection URL.
func NewRedisKV(url string) (*RedisKV, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return &RedisKV{client: redis.NewClient(opts)}, nil
}

func (r *RedisKV) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := r.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

func (r *RedisKV) Put(ctx context.Context, key string, value []byte) error {
	return r.client.Set(ctx, key, value, 0).Err()
}

func (r *RedisKV) Scan(ctx context.Context, prefix string, limit int) ([]string, error) {
	var keys []string
	iter := r.client.Scan(ctx, 0, prefix+"*", int64(limit)).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
		if limit > 0 && len(keys) >= limit {
			break
		}
	}
	return keys, iter.Err()
}

func (r *RedisKV) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}

func (r *RedisKV) Close() error {
	return r.client.Close()
}

// entityKeyMapping is the JSON value stored at a KV reverse-index key, per
// spec.md §3's Key-Value Mapping entity: entity_ids accumulates
// append-only-with-dedup across upserts.
type entityKeyMapping struct {
	EntityIDs  []string `json:"entity_ids"`
	TableName  string   `json:"table_name"`
	EntityType string   `json:"entity_type"`
}

// appendEntityID loads the mapping at key (if any), appends id with
// deduplication, and writes it back. tableName/entityType are only used
// when the mapping does not already exist.
func appendEntityID(ctx context.Context, kv KVStore, key, id, tableName, entityType string) error {
	mapping := entityKeyMapping{TableName: tableName, EntityType: entityType}
	raw, ok, err := kv.Get(ctx, key)
	if err != nil {
		return err
	}
	if ok {
		if err := json.Unmarshal(raw, &mapping); err != nil {
			return fmt.Errorf("decode existing kv mapping at %q: %w", key, err)
		}
	}

	for _, existing := range mapping.EntityIDs {
		if existing == id {
			return nil // already present, nothing to write
		}
	}
	mapping.EntityIDs = append(mapping.EntityIDs, id)

	encoded, err := json.Marshal(mapping)
	if err != nil {
		return err
	}
	return kv.Put(ctx, key, encoded)
}
