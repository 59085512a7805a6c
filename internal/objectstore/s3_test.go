package objectstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/xml"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"p8fs-storage/internal/config"
)

func newTestStore(t *testing.T, srv *httptest.Server, cfg config.S3Config) *S3Store {
	t.Helper()
	cfg.Endpoint = srv.URL
	cfg.Bucket = "test-bucket"
	cfg.AccessKey = "AKIAEXAMPLE"
	cfg.SecretKey = "secretexample"
	cfg.PathStyle = true
	cfg.UseTLS = false
	store, err := NewS3Store(cfg)
	require.NoError(t, err)
	return store
}

func TestS3Store_SinglePut_SignsRequestAndSendsContentMD5(t *testing.T) {
	var gotAuth, gotMD5 string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotMD5 = r.Header.Get("Content-MD5")
		w.Header().Set("ETag", `"abc123"`)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	store := newTestStore(t, srv, config.S3Config{ContentMD5: true, MultipartThreshold: 1 << 30})
	etag, err := store.Put(context.Background(), "hello.txt", bytes.NewReader([]byte("hello world")), PutOptions{ContentType: "text/plain"})
	require.NoError(t, err)
	require.Equal(t, "abc123", etag)
	require.Contains(t, gotAuth, "AWS4-HMAC-SHA256")
	require.NotEmpty(t, gotMD5)
}

func TestS3Store_Put_UsesMultipartAboveThreshold(t *testing.T) {
	var mu sync.Mutex
	var initiated, parts, completed int

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		q := r.URL.Query()
		switch {
		case r.Method == http.MethodPost && q.Has("uploads"):
			initiated++
			w.Header().Set("Content-Type", "application/xml")
			xml.NewEncoder(w).Encode(initiateMultipartResult{UploadID: "upload-1"})
		case r.Method == http.MethodPut && q.Get("uploadId") != "":
			parts++
			w.Header().Set("ETag", `"part-`+strconv.Itoa(parts)+`"`)
			w.WriteHeader(http.StatusOK)
		case r.Method == http.MethodPost && q.Get("uploadId") != "":
			completed++
			body, _ := io.ReadAll(r.Body)
			var req completeMultipartUpload
			_ = xml.Unmarshal(body, &req)
			if len(req.Parts) < 2 {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	store := newTestStore(t, srv, config.S3Config{MultipartThreshold: 10, PartSize: 10})
	data := bytes.Repeat([]byte("x"), 25)
	_, err := store.Put(context.Background(), "big.bin", bytes.NewReader(data), PutOptions{})
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 1, initiated)
	require.Equal(t, 3, parts) // 25 bytes / 10-byte parts = 3 parts
	require.Equal(t, 1, completed)
}

func TestS3Store_MultipartUpload_AbortsOnPartFailure(t *testing.T) {
	var aborted bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		switch {
		case r.Method == http.MethodPost && q.Has("uploads"):
			xml.NewEncoder(w).Encode(initiateMultipartResult{UploadID: "upload-1"})
		case r.Method == http.MethodPut && q.Get("uploadId") != "":
			w.WriteHeader(http.StatusInternalServerError)
		case r.Method == http.MethodDelete && q.Get("uploadId") != "":
			aborted = true
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	store := newTestStore(t, srv, config.S3Config{MultipartThreshold: 5, PartSize: 5})
	_, err := store.Put(context.Background(), "fails.bin", bytes.NewReader(bytes.Repeat([]byte("y"), 20)), PutOptions{})
	require.Error(t, err)
	require.True(t, aborted, "expected abort to be called after a part failure")
}

func TestS3Store_Get_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	store := newTestStore(t, srv, config.S3Config{})
	_, _, err := store.Get(context.Background(), "missing.txt")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestS3Store_Delete_IsIdempotent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	store := newTestStore(t, srv, config.S3Config{})
	err := store.Delete(context.Background(), "already-gone.txt")
	require.NoError(t, err)
}

func TestNormalizeKey_StripsBucketPrefixes(t *testing.T) {
	require.Equal(t, "a/b.txt", NormalizeKey("tenant1", "buckets/tenant1/a/b.txt"))
	require.Equal(t, "a/b.txt", NormalizeKey("tenant1", "/buckets/tenant1/a/b.txt"))
	require.Equal(t, "a/b.txt", NormalizeKey("tenant1", "a/b.txt"))
}

func TestS3Store_Upload_ComputesWholeFileSHA256ForMultipart(t *testing.T) {
	var mu sync.Mutex
	var completed int

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		q := r.URL.Query()
		switch {
		case r.Method == http.MethodPost && q.Has("uploads"):
			w.Header().Set("Content-Type", "application/xml")
			xml.NewEncoder(w).Encode(initiateMultipartResult{UploadID: "upload-1"})
		case r.Method == http.MethodPut && q.Get("uploadId") != "":
			w.Header().Set("ETag", `"part"`)
			w.WriteHeader(http.StatusOK)
		case r.Method == http.MethodPost && q.Get("uploadId") != "":
			completed++
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	data := bytes.Repeat([]byte("z"), 25)
	sum := sha256.Sum256(data)
	want := hex.EncodeToString(sum[:])

	dir := t.TempDir()
	localPath := filepath.Join(dir, "report.pdf")
	require.NoError(t, os.WriteFile(localPath, data, 0o600))

	store := newTestStore(t, srv, config.S3Config{MultipartThreshold: 10, PartSize: 10})
	res, err := store.Upload(context.Background(), localPath, "report.pdf", "tenant1", "application/pdf", PutOptions{})
	require.NoError(t, err)

	require.Equal(t, want, res.SHA256)
	require.Empty(t, res.MD5)
	require.Equal(t, int64(len(data)), res.Size)
	require.Equal(t, "tenant1", res.Tenant)
	require.Equal(t, "application/pdf", res.ContentType)
	require.Contains(t, res.FinalPath, "/buckets/tenant1/uploads/")
	require.Contains(t, res.FinalPath, "report.pdf")

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 1, completed)
}

func TestUploadPath_IsDatePartitioned(t *testing.T) {
	tm, err := time.Parse(time.RFC3339, "2026-07-30T00:00:00Z")
	require.NoError(t, err)
	p := UploadPath(tm, "report.pdf")
	require.Equal(t, "uploads/2026/07/30/report.pdf", p)
}
