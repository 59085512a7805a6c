package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Load reads configuration from environment variables, with a local .env
// file (if present) taking precedence over inherited process environment —
// this lets a repository-local .env deterministically drive development
// runs. Because godotenv.Overload is used, a .env value replaces the same
// variable even when a deployment has set it.
func Load() (Config, error) {
	_ = godotenv.Overload()

	cfg := Config{}

	cfg.S3.Endpoint = strings.TrimSpace(os.Getenv("S3_ENDPOINT"))
	cfg.S3.Region = firstNonEmpty(os.Getenv("S3_REGION"), "us-east-1")
	cfg.S3.AccessKey = os.Getenv("S3_ACCESS_KEY")
	cfg.S3.SecretKey = os.Getenv("S3_SECRET_KEY")
	cfg.S3.Bucket = os.Getenv("S3_BUCKET")
	cfg.S3.PathStyle = parseBool(os.Getenv("S3_PATH_STYLE"), true)
	cfg.S3.UseTLS = parseBool(os.Getenv("S3_USE_TLS"), true)
	cfg.S3.MultipartThreshold = parseInt64(os.Getenv("S3_MULTIPART_THRESHOLD"), 8<<20)
	cfg.S3.PartSize = parseInt64(os.Getenv("S3_PART_SIZE"), 8<<20)
	cfg.S3.ContentMD5 = parseBool(os.Getenv("S3_CONTENT_MD5"), false)

	cfg.Broker.Backend = firstNonEmpty(os.Getenv("BROKER_BACKEND"), "nats")
	cfg.Broker.NATSURL = firstNonEmpty(os.Getenv("NATS_URL"), "nats://127.0.0.1:4222")
	cfg.Broker.NATSMaxReconnect = int(parseInt64(os.Getenv("NATS_MAX_RECONNECT"), 10))
	cfg.Broker.NATSReconnectWait = parseDuration(os.Getenv("NATS_RECONNECT_WAIT"), 2*time.Second)
	cfg.Broker.NATSConnectTimeout = parseDuration(os.Getenv("NATS_CONNECT_TIMEOUT"), 10*time.Second)
	cfg.Broker.KafkaBrokers = parseCommaSeparatedList(os.Getenv("KAFKA_BROKERS"))
	cfg.Broker.StreamPrefix = firstNonEmpty(os.Getenv("BROKER_STREAM_PREFIX"), "p8fs")

	cfg.DB.DefaultDSN = os.Getenv("DATABASE_URL")
	cfg.DB.Search.Backend = firstNonEmpty(os.Getenv("SEARCH_BACKEND"), "auto")
	cfg.DB.Search.DSN = os.Getenv("SEARCH_DSN")
	cfg.DB.Vector.Backend = firstNonEmpty(os.Getenv("VECTOR_BACKEND"), "auto")
	cfg.DB.Vector.DSN = os.Getenv("VECTOR_DSN")
	cfg.DB.Vector.Dimensions = int(parseInt64(os.Getenv("VECTOR_DIMENSIONS"), 768))
	cfg.DB.Vector.Metric = firstNonEmpty(os.Getenv("VECTOR_METRIC"), "cosine")
	cfg.DB.Vector.QdrantCollection = firstNonEmpty(os.Getenv("QDRANT_COLLECTION"), "embeddings")
	cfg.DB.Graph.Backend = firstNonEmpty(os.Getenv("GRAPH_BACKEND"), "auto")
	cfg.DB.Graph.DSN = os.Getenv("GRAPH_DSN")
	cfg.DB.RedisURL = firstNonEmpty(os.Getenv("REDIS_URL"), "redis://127.0.0.1:6379/0")

	cfg.Embedding.BaseURL = os.Getenv("EMBEDDING_BASE_URL")
	cfg.Embedding.Path = firstNonEmpty(os.Getenv("EMBEDDING_PATH"), "/v1/embeddings")
	cfg.Embedding.Model = firstNonEmpty(os.Getenv("EMBEDDING_MODEL"), "text-embedding-3-small")
	cfg.Embedding.Dimension = int(parseInt64(os.Getenv("EMBEDDING_DIMENSION"), 768))
	cfg.Embedding.APIKey = os.Getenv("EMBEDDING_API_KEY")
	cfg.Embedding.APIHeader = firstNonEmpty(os.Getenv("EMBEDDING_API_HEADER"), "Authorization")
	cfg.Embedding.Timeout = int(parseInt64(os.Getenv("EMBEDDING_TIMEOUT_SECONDS"), 30))

	cfg.Worker.Tier = os.Getenv("WORKER_TIER")
	cfg.Worker.Concurrency = int(parseInt64(os.Getenv("WORKER_CONCURRENCY"), 4))
	cfg.Worker.BlobPrefix = os.Getenv("WORKER_BLOB_PREFIX")

	cfg.Obs.ServiceName = firstNonEmpty(os.Getenv("OTEL_SERVICE_NAME"), "p8fs-storage")
	cfg.Obs.ServiceVersion = firstNonEmpty(os.Getenv("OTEL_SERVICE_VERSION"), "dev")
	cfg.Obs.Environment = firstNonEmpty(os.Getenv("APP_ENV"), "development")
	cfg.Obs.LogLevel = firstNonEmpty(os.Getenv("LOG_LEVEL"), "info")
	cfg.Obs.LogPath = os.Getenv("LOG_PATH")
	cfg.Obs.OTLP = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")

	return cfg, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		v = strings.TrimSpace(v)
		if v != "" {
			return v
		}
	}
	return ""
}

func parseInt64(s string, def int64) int64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return def
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func parseBool(s string, def bool) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return def
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return def
	}
	return b
}

func parseDuration(s string, def time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}

func parseCommaSeparatedList(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
