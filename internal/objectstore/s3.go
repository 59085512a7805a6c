package objectstore

import (
	"bytes"
	"context"
	"crypto/md5"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/credentials"

	"p8fs-storage/internal/config"
)

// S3Store implements ObjectStore against an S3-compatible endpoint using a
// hand-built HTTP client and the AWS SDK's standalone SigV4 signer. A
// high-level SDK client hides the exact canonical-request and multipart XML
// shape this component is required to control (Content-MD5 toggle,
// abort-on-failure, date-partitioned upload paths), so requests are built
// and signed directly instead.
type S3Store struct {
	httpClient *http.Client
	signer     *v4.Signer
	creds      awssdk.Credentials
	region     string
	endpoint   string // scheme://host[:port], no trailing slash
	bucket     string
	pathStyle  bool
	contentMD5 bool

	multipartThreshold int64
	partSize           int64
}

// NewS3Store creates an S3Store from configuration.
func NewS3Store(cfg config.S3Config, opts ...func(*http.Client)) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3 bucket is required")
	}
	if cfg.Endpoint == "" {
		return nil, errors.New("s3 endpoint is required")
	}

	httpClient := &http.Client{Timeout: 60 * time.Second}
	for _, o := range opts {
		o(httpClient)
	}

	credsProvider := credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")
	creds, err := credsProvider.Retrieve(context.Background())
	if err != nil {
		return nil, fmt.Errorf("resolve credentials: %w", err)
	}

	endpoint := cfg.Endpoint
	if !strings.Contains(endpoint, "://") {
		scheme := "https"
		if !cfg.UseTLS {
			scheme = "http"
		}
		endpoint = scheme + "://" + endpoint
	}
	endpoint = strings.TrimSuffix(endpoint, "/")

	threshold := cfg.MultipartThreshold
	if threshold <= 0 {
		threshold = 8 << 20
	}
	partSize := cfg.PartSize
	if partSize <= 0 {
		partSize = 8 << 20
	}

	return &S3Store{
		httpClient:          httpClient,
		signer:              v4.NewSigner(),
		creds:               creds,
		region:              firstNonEmpty(cfg.Region, "us-east-1"),
		endpoint:            endpoint,
		bucket:              cfg.Bucket,
		pathStyle:           cfg.PathStyle,
		contentMD5:          cfg.ContentMD5,
		multipartThreshold:  threshold,
		partSize:            partSize,
	}, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// UploadPath returns the date-partitioned path used for newly ingested
// objects: uploads/YYYY/MM/DD/<filename>.
func UploadPath(now time.Time, filename string) string {
	return fmt.Sprintf("uploads/%04d/%02d/%02d/%s", now.Year(), now.Month(), now.Day(), filename)
}

// objectURL builds the request URL for a key, honoring path-style vs
// virtual-hosted-style addressing.
func (s *S3Store) objectURL(key string) (*url.URL, error) {
	key = strings.TrimPrefix(key, "/")
	raw := s.endpoint
	if s.pathStyle {
		raw += "/" + s.bucket + "/" + key
	} else {
		u, err := url.Parse(s.endpoint)
		if err != nil {
			return nil, err
		}
		u.Host = s.bucket + "." + u.Host
		raw = u.String() + "/" + key
	}
	return url.Parse(raw)
}

func (s *S3Store) bucketURL() (*url.URL, error) {
	if s.pathStyle {
		return url.Parse(s.endpoint + "/" + s.bucket)
	}
	u, err := url.Parse(s.endpoint)
	if err != nil {
		return nil, err
	}
	u.Host = s.bucket + "." + u.Host
	return u, nil
}

// sign computes the SigV4 signature for req and attaches the Authorization
// header. body is hashed for the payload signature; pass nil for an empty
// body (GET/DELETE/HEAD).
func (s *S3Store) sign(ctx context.Context, req *http.Request, body []byte) error {
	h := sha256.Sum256(body)
	payloadHash := hex.EncodeToString(h[:])
	return s.signer.SignHTTP(ctx, s.creds, req, payloadHash, "s3", s.region, time.Now())
}

func (s *S3Store) do(ctx context.Context, method string, u *url.URL, body []byte, extraHeaders map[string]string) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), bodyReader)
	if err != nil {
		return nil, err
	}
	for k, v := range extraHeaders {
		req.Header.Set(k, v)
	}
	if body != nil {
		req.ContentLength = int64(len(body))
	}
	if err := s.sign(ctx, req, body); err != nil {
		return nil, fmt.Errorf("sign request: %w", err)
	}
	return s.httpClient.Do(req)
}

// Get retrieves an object by key.
func (s *S3Store) Get(ctx context.Context, key string) (io.ReadCloser, ObjectAttrs, error) {
	u, err := s.objectURL(key)
	if err != nil {
		return nil, ObjectAttrs{}, err
	}
	resp, err := s.do(ctx, http.MethodGet, u, nil, nil)
	if err != nil {
		return nil, ObjectAttrs{}, fmt.Errorf("s3 get: %w", err)
	}
	if resp.StatusCode == http.StatusNotFound {
		resp.Body.Close()
		return nil, ObjectAttrs{}, ErrNotFound
	}
	if resp.StatusCode == http.StatusForbidden {
		resp.Body.Close()
		return nil, ObjectAttrs{}, ErrAccessDenied
	}
	if resp.StatusCode/100 != 2 {
		defer resp.Body.Close()
		b, _ := io.ReadAll(resp.Body)
		return nil, ObjectAttrs{}, fmt.Errorf("s3 get: unexpected status %s: %s", resp.Status, string(b))
	}
	return resp.Body, attrsFromHeader(key, resp.Header), nil
}

// Put stores an object with the given key, dispatching to a single PUT or
// a multipart upload depending on size relative to MultipartThreshold.
func (s *S3Store) Put(ctx context.Context, key string, r io.Reader, opts PutOptions) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("read content: %w", err)
	}
	if int64(len(data)) >= s.multipartThreshold {
		return s.multipartUpload(ctx, key, data, opts)
	}
	return s.singlePut(ctx, key, data, opts)
}

// Upload reads localPath from disk, derives a date-partitioned remote key
// from the filename component of remotePath, and stores it at that bare
// uploads/YYYY/MM/DD/ key in the configured bucket; the tenant appears only
// in the result's FinalPath. SHA-256 is computed over the whole file
// for multipart uploads; MD5 is computed over the whole file for single-PUT
// uploads when the store has Content-MD5 interoperability enabled.
func (s *S3Store) Upload(ctx context.Context, localPath, remotePath, tenant, contentType string, opts PutOptions) (UploadResult, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return UploadResult{}, fmt.Errorf("open local file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return UploadResult{}, fmt.Errorf("stat local file: %w", err)
	}

	bareKey := UploadPath(time.Now().UTC(), filepath.Base(remotePath))
	opts.ContentType = contentType

	result := UploadResult{
		FinalPath:   "/buckets/" + tenant + "/" + bareKey,
		Size:        info.Size(),
		ContentType: contentType,
		Tenant:      tenant,
	}

	if info.Size() >= s.multipartThreshold {
		h := sha256.New()
		if _, err := io.Copy(h, f); err != nil {
			return UploadResult{}, fmt.Errorf("hash local file: %w", err)
		}
		result.SHA256 = hex.EncodeToString(h.Sum(nil))
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return UploadResult{}, fmt.Errorf("seek local file: %w", err)
		}
	} else if s.contentMD5 {
		h := md5.New()
		if _, err := io.Copy(h, f); err != nil {
			return UploadResult{}, fmt.Errorf("hash local file: %w", err)
		}
		result.MD5 = hex.EncodeToString(h.Sum(nil))
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return UploadResult{}, fmt.Errorf("seek local file: %w", err)
		}
	}

	if _, err := s.Put(ctx, bareKey, f, opts); err != nil {
		return UploadResult{}, fmt.Errorf("upload %s: %w", bareKey, err)
	}
	result.UploadedAt = time.Now().UTC()
	return result, nil
}

func (s *S3Store) singlePut(ctx context.Context, key string, data []byte, opts PutOptions) (string, error) {
	u, err := s.objectURL(key)
	if err != nil {
		return "", err
	}
	headers := map[string]string{}
	if opts.ContentType != "" {
		headers["Content-Type"] = opts.ContentType
	}
	for k, v := range opts.Metadata {
		headers["X-Amz-Meta-"+k] = v
	}
	if s.contentMD5 {
		sum := md5.Sum(data)
		headers["Content-MD5"] = base64.StdEncoding.EncodeToString(sum[:])
	}
	resp, err := s.do(ctx, http.MethodPut, u, data, headers)
	if err != nil {
		return "", fmt.Errorf("s3 put: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusForbidden {
		return "", ErrAccessDenied
	}
	if resp.StatusCode/100 != 2 {
		b, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("s3 put: unexpected status %s: %s", resp.Status, string(b))
	}
	return strings.Trim(resp.Header.Get("ETag"), `"`), nil
}

type completeMultipartPart struct {
	XMLName    xml.Name `xml:"Part"`
	PartNumber int      `xml:"PartNumber"`
	ETag       string   `xml:"ETag"`
}

type completeMultipartUpload struct {
	XMLName xml.Name                 `xml:"CompleteMultipartUpload"`
	Parts   []completeMultipartPart `xml:"Part"`
}

type initiateMultipartResult struct {
	XMLName  xml.Name `xml:"InitiateMultipartUploadResult"`
	UploadID string   `xml:"UploadId"`
}

// multipartUpload uploads data in parts, aborting the upload server-side on
// any failure so no orphaned parts accrue storage charges.
func (s *S3Store) multipartUpload(ctx context.Context, key string, data []byte, opts PutOptions) (string, error) {
	uploadID, err := s.initiateMultipart(ctx, key, opts)
	if err != nil {
		return "", fmt.Errorf("initiate multipart upload: %w", err)
	}

	var parts []completeMultipartPart
	partNum := 1
	for offset := 0; offset < len(data); offset += int(s.partSize) {
		end := offset + int(s.partSize)
		if end > len(data) {
			end = len(data)
		}
		etag, err := s.uploadPart(ctx, key, uploadID, partNum, data[offset:end])
		if err != nil {
			_ = s.abortMultipart(ctx, key, uploadID)
			return "", fmt.Errorf("upload part %d: %w", partNum, err)
		}
		parts = append(parts, completeMultipartPart{PartNumber: partNum, ETag: etag})
		partNum++
	}

	return s.completeMultipart(ctx, key, uploadID, parts)
}

func (s *S3Store) initiateMultipart(ctx context.Context, key string, opts PutOptions) (string, error) {
	u, err := s.objectURL(key)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("uploads", "")
	u.RawQuery = q.Encode()

	headers := map[string]string{}
	if opts.ContentType != "" {
		headers["Content-Type"] = opts.ContentType
	}
	for k, v := range opts.Metadata {
		headers["X-Amz-Meta-"+k] = v
	}

	resp, err := s.do(ctx, http.MethodPost, u, []byte{}, headers)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		b, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("unexpected status %s: %s", resp.Status, string(b))
	}
	var result initiateMultipartResult
	if err := xml.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("parse initiate response: %w", err)
	}
	return result.UploadID, nil
}

func (s *S3Store) uploadPart(ctx context.Context, key, uploadID string, partNumber int, data []byte) (string, error) {
	u, err := s.objectURL(key)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("partNumber", strconv.Itoa(partNumber))
	q.Set("uploadId", uploadID)
	u.RawQuery = q.Encode()

	headers := map[string]string{}
	if s.contentMD5 {
		sum := md5.Sum(data)
		headers["Content-MD5"] = base64.StdEncoding.EncodeToString(sum[:])
	}

	resp, err := s.do(ctx, http.MethodPut, u, data, headers)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		b, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("unexpected status %s: %s", resp.Status, string(b))
	}
	return strings.Trim(resp.Header.Get("ETag"), `"`), nil
}

func (s *S3Store) completeMultipart(ctx context.Context, key, uploadID string, parts []completeMultipartPart) (string, error) {
	u, err := s.objectURL(key)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("uploadId", uploadID)
	u.RawQuery = q.Encode()

	body, err := xml.Marshal(completeMultipartUpload{Parts: parts})
	if err != nil {
		return "", err
	}

	resp, err := s.do(ctx, http.MethodPost, u, body, map[string]string{"Content-Type": "application/xml"})
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		b, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("complete multipart: unexpected status %s: %s", resp.Status, string(b))
	}
	var result struct {
		ETag string `xml:"ETag"`
	}
	_ = xml.NewDecoder(resp.Body).Decode(&result)
	return strings.Trim(result.ETag, `"`), nil
}

func (s *S3Store) abortMultipart(ctx context.Context, key, uploadID string) error {
	u, err := s.objectURL(key)
	if err != nil {
		return err
	}
	q := u.Query()
	q.Set("uploadId", uploadID)
	u.RawQuery = q.Encode()

	resp, err := s.do(ctx, http.MethodDelete, u, nil, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return nil
}

// Delete removes an object by key. Idempotent: a missing object is not an error.
func (s *S3Store) Delete(ctx context.Context, key string) error {
	u, err := s.objectURL(key)
	if err != nil {
		return err
	}
	resp, err := s.do(ctx, http.MethodDelete, u, nil, nil)
	if err != nil {
		return fmt.Errorf("s3 delete: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusForbidden {
		return ErrAccessDenied
	}
	if resp.StatusCode/100 != 2 && resp.StatusCode != http.StatusNotFound {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("s3 delete: unexpected status %s: %s", resp.Status, string(b))
	}
	return nil
}

type listBucketResult struct {
	XMLName               xml.Name        `xml:"ListBucketResult"`
	Contents              []listObject    `xml:"Contents"`
	CommonPrefixes        []commonPrefix  `xml:"CommonPrefixes"`
	IsTruncated           bool            `xml:"IsTruncated"`
	NextContinuationToken string          `xml:"NextContinuationToken"`
}

type listObject struct {
	Key          string    `xml:"Key"`
	Size         int64     `xml:"Size"`
	ETag         string    `xml:"ETag"`
	LastModified time.Time `xml:"LastModified"`
}

type commonPrefix struct {
	Prefix string `xml:"Prefix"`
}

// List returns objects matching the given options.
func (s *S3Store) List(ctx context.Context, opts ListOptions) (ListResult, error) {
	u, err := s.bucketURL()
	if err != nil {
		return ListResult{}, err
	}
	q := u.Query()
	q.Set("list-type", "2")
	if opts.Prefix != "" {
		q.Set("prefix", opts.Prefix)
	}
	if opts.Delimiter != "" {
		q.Set("delimiter", opts.Delimiter)
	}
	if opts.MaxKeys > 0 {
		q.Set("max-keys", strconv.Itoa(opts.MaxKeys))
	}
	if opts.ContinuationToken != "" {
		q.Set("continuation-token", opts.ContinuationToken)
	}
	u.RawQuery = q.Encode()

	resp, err := s.do(ctx, http.MethodGet, u, nil, nil)
	if err != nil {
		return ListResult{}, fmt.Errorf("s3 list: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusForbidden {
		return ListResult{}, ErrAccessDenied
	}
	if resp.StatusCode/100 != 2 {
		b, _ := io.ReadAll(resp.Body)
		return ListResult{}, fmt.Errorf("s3 list: unexpected status %s: %s", resp.Status, string(b))
	}

	var parsed listBucketResult
	if err := xml.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return ListResult{}, fmt.Errorf("parse list response: %w", err)
	}

	objects := make([]ObjectAttrs, 0, len(parsed.Contents))
	for _, o := range parsed.Contents {
		objects = append(objects, ObjectAttrs{
			Key:          o.Key,
			Size:         o.Size,
			ETag:         strings.Trim(o.ETag, `"`),
			LastModified: o.LastModified,
		})
	}
	prefixes := make([]string, 0, len(parsed.CommonPrefixes))
	for _, p := range parsed.CommonPrefixes {
		prefixes = append(prefixes, p.Prefix)
	}

	return ListResult{
		Objects:               objects,
		CommonPrefixes:        prefixes,
		IsTruncated:           parsed.IsTruncated,
		NextContinuationToken: parsed.NextContinuationToken,
	}, nil
}

// Head returns object metadata without downloading content.
func (s *S3Store) Head(ctx context.Context, key string) (ObjectAttrs, error) {
	u, err := s.objectURL(key)
	if err != nil {
		return ObjectAttrs{}, err
	}
	resp, err := s.do(ctx, http.MethodHead, u, nil, nil)
	if err != nil {
		return ObjectAttrs{}, fmt.Errorf("s3 head: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return ObjectAttrs{}, ErrNotFound
	}
	if resp.StatusCode == http.StatusForbidden {
		return ObjectAttrs{}, ErrAccessDenied
	}
	if resp.StatusCode/100 != 2 {
		return ObjectAttrs{}, fmt.Errorf("s3 head: unexpected status %s", resp.Status)
	}
	return attrsFromHeader(key, resp.Header), nil
}

// Copy duplicates an object to a new key within the same bucket.
func (s *S3Store) Copy(ctx context.Context, srcKey, dstKey string) error {
	u, err := s.objectURL(dstKey)
	if err != nil {
		return err
	}
	headers := map[string]string{
		"X-Amz-Copy-Source": "/" + s.bucket + "/" + strings.TrimPrefix(srcKey, "/"),
	}
	resp, err := s.do(ctx, http.MethodPut, u, []byte{}, headers)
	if err != nil {
		return fmt.Errorf("s3 copy: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode == http.StatusForbidden {
		return ErrAccessDenied
	}
	if resp.StatusCode/100 != 2 {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("s3 copy: unexpected status %s: %s", resp.Status, string(b))
	}
	return nil
}

// Exists checks if an object exists at the given key.
func (s *S3Store) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.Head(ctx, key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Ping verifies connectivity to the configured bucket.
func (s *S3Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	u, err := s.bucketURL()
	if err != nil {
		return err
	}
	resp, err := s.do(ctx, http.MethodHead, u, nil, nil)
	if err != nil {
		return fmt.Errorf("s3 ping: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return ErrBucketMissing
	}
	if resp.StatusCode == http.StatusForbidden {
		return ErrAccessDenied
	}
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("s3 ping: unexpected status %s", resp.Status)
	}
	return nil
}

// NormalizeKey strips the common "/buckets/{tenant}/" or "buckets/{tenant}/"
// path prefixes historically used to address objects, leaving a bare key.
func NormalizeKey(tenant, key string) string {
	key = strings.TrimPrefix(key, "/")
	for _, p := range []string{"buckets/" + tenant + "/", "/buckets/" + tenant + "/"} {
		if strings.HasPrefix(key, p) {
			return strings.TrimPrefix(key, p)
		}
	}
	return key
}

func attrsFromHeader(key string, h http.Header) ObjectAttrs {
	attrs := ObjectAttrs{
		Key:         key,
		ETag:        strings.Trim(h.Get("ETag"), `"`),
		ContentType: h.Get("Content-Type"),
	}
	if n, err := strconv.ParseInt(h.Get("Content-Length"), 10, 64); err == nil {
		attrs.Size = n
	}
	if t, err := time.Parse(http.TimeFormat, h.Get("Last-Modified")); err == nil {
		attrs.LastModified = t
	}
	return attrs
}
