package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	for _, k := range []string{
		"S3_ENDPOINT", "S3_BUCKET", "BROKER_BACKEND", "NATS_URL",
		"VECTOR_DIMENSIONS", "EMBEDDING_MODEL", "WORKER_TIER",
	} {
		t.Setenv(k, "")
	}
	os.Unsetenv("WORKER_TIER")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "nats", cfg.Broker.Backend)
	require.Equal(t, "nats://127.0.0.1:4222", cfg.Broker.NATSURL)
	require.Equal(t, int64(8<<20), cfg.S3.MultipartThreshold)
	require.True(t, cfg.S3.PathStyle)
	require.Equal(t, 768, cfg.DB.Vector.Dimensions)
	require.Equal(t, "cosine", cfg.DB.Vector.Metric)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("BROKER_BACKEND", "kafka")
	t.Setenv("KAFKA_BROKERS", "broker-a:9092, broker-b:9092")
	t.Setenv("S3_CONTENT_MD5", "true")
	t.Setenv("WORKER_TIER", "large")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "kafka", cfg.Broker.Backend)
	require.Equal(t, []string{"broker-a:9092", "broker-b:9092"}, cfg.Broker.KafkaBrokers)
	require.True(t, cfg.S3.ContentMD5)
	require.Equal(t, "large", cfg.Worker.Tier)
}
