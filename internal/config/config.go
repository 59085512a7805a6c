// Package config loads runtime configuration for the storage event pipeline
// from environment variables (optionally via a local .env file).
package config

import "time"

// S3Config configures the blob store client (C1).
type S3Config struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
	// PathStyle forces path-style addressing (bucket in path, not host),
	// required by most non-AWS S3-compatible backends.
	PathStyle bool
	UseTLS    bool
	// MultipartThreshold is the object size (bytes) above which uploads use
	// the multipart protocol instead of a single PUT.
	MultipartThreshold int64
	// PartSize is the size (bytes) of each part in a multipart upload.
	PartSize int64
	// ContentMD5 toggles sending a Content-MD5 header on single-PUT uploads,
	// required by some SeaweedFS-compatible backends and harmful on others.
	ContentMD5 bool
}

// BrokerConfig configures the message broker layer (C2).
type BrokerConfig struct {
	// Backend selects the broker implementation: "nats" (default) or "kafka".
	Backend string

	NATSURL         string
	NATSMaxReconnect int
	NATSReconnectWait time.Duration
	NATSConnectTimeout time.Duration

	KafkaBrokers []string

	// StreamPrefix namespaces streams/topics, e.g. "p8fs" -> p8fs.storage.events.
	StreamPrefix string
}

// SearchConfig configures the full-text search backend.
type SearchConfig struct {
	Backend string // "memory" | "auto" | "postgres" | "none"
	DSN     string
}

// VectorConfig configures the vector store backend.
type VectorConfig struct {
	Backend    string // "memory" | "auto" | "postgres" | "qdrant" | "none"
	DSN        string
	Dimensions int
	Metric     string // "cosine" | "l2" | "ip"
	// QdrantCollection names the collection when Backend == "qdrant".
	QdrantCollection string
}

// GraphConfig configures the graph backend.
type GraphConfig struct {
	Backend string // "memory" | "auto" | "postgres" | "none"
	DSN     string
}

// DBConfig configures C5's persistence backends. Search, Vector and Graph
// are loaded from the environment, but no component in this module reads
// them: the repository always talks to Postgres through PostgresDialect.
type DBConfig struct {
	DefaultDSN string
	Search     SearchConfig
	Vector     VectorConfig
	Graph      GraphConfig
	// RedisURL backs the key-value entity/edge mapping index.
	RedisURL string
}

// EmbeddingConfig configures the embedding provider client.
type EmbeddingConfig struct {
	BaseURL   string
	Path      string
	Model     string
	Dimension int
	APIKey    string
	APIHeader string // "Authorization" or a custom header name
	Timeout   int    // seconds
	// Headers are extra request headers; an entry overrides the header set
	// from APIHeader/APIKey when both name the same header.
	Headers map[string]string
}

// WorkerConfig configures a storage worker process (C4).
type WorkerConfig struct {
	Tier        string // "small" | "medium" | "large"
	Concurrency int
	BlobPrefix  string
}

// ObsConfig configures ambient logging/tracing.
type ObsConfig struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	LogLevel       string
	LogPath        string
	OTLP           string
}

// Config aggregates every configuration surface this module needs.
type Config struct {
	S3        S3Config
	Broker    BrokerConfig
	DB        DBConfig
	Embedding EmbeddingConfig
	Worker    WorkerConfig
	Obs       ObsConfig
}
