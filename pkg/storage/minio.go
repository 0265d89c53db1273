package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinIOClient is the subset of the MinIO API used by MinIOStorage.
// OpenObject stands in for GetObject so the body can be any reader.
type MinIOClient interface {
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	StatObject(ctx context.Context, bucketName, objectName string, opts minio.StatObjectOptions) (minio.ObjectInfo, error)
	RemoveObject(ctx context.Context, bucketName, objectName string, opts minio.RemoveObjectOptions) error
	CopyObject(ctx context.Context, dst minio.CopyDestOptions, src minio.CopySrcOptions) (minio.UploadInfo, error)
	PresignedGetObject(ctx context.Context, bucketName, objectName string, expires time.Duration, reqParams url.Values) (*url.URL, error)
	PresignedPutObject(ctx context.Context, bucketName, objectName string, expires time.Duration) (*url.URL, error)
	OpenObject(ctx context.Context, bucketName, objectName string) (io.ReadCloser, error)
}

// minioClient adapts *minio.Client to MinIOClient.
type minioClient struct {
	*minio.Client
}

func (c minioClient) OpenObject(ctx context.Context, bucketName, objectName string) (io.ReadCloser, error) {
	return c.GetObject(ctx, bucketName, objectName, minio.GetObjectOptions{})
}

// MinIOConfig contains configuration for a MinIO deployment.
type MinIOConfig struct {
	Endpoint       string `env:"ENDPOINT"` // host:port, no scheme
	Bucket         string `env:"BUCKET"`
	AccessKey      string `env:"ACCESS_KEY"`
	SecretKey      string `env:"SECRET_KEY"`
	Region         string `env:"REGION"`
	UseSSL         bool   `env:"USE_SSL" envDefault:"true"`
	ForcePathStyle bool   `env:"FORCE_PATH_STYLE"`
}

// MinIOStorage implements Storage on top of minio-go. Like S3Storage it
// only issues signed URLs.
type MinIOStorage struct {
	client    MinIOClient
	bucket    string
	urlExpiry time.Duration
	logger    *slog.Logger
}

// MinIOOption configures MinIOStorage.
type MinIOOption func(*minioOptions)

type minioOptions struct {
	client    MinIOClient
	transport http.RoundTripper
	urlExpiry time.Duration
	logger    *slog.Logger
}

// WithMinIOClient sets a pre-configured client. Useful for testing with mocks.
func WithMinIOClient(c MinIOClient) MinIOOption {
	return func(o *minioOptions) { o.client = c }
}

// WithMinIOTransport sets the HTTP transport used by the MinIO client.
func WithMinIOTransport(rt http.RoundTripper) MinIOOption {
	return func(o *minioOptions) { o.transport = rt }
}

// WithMinIOURLExpiry sets the default lifetime of signed URLs.
func WithMinIOURLExpiry(d time.Duration) MinIOOption {
	return func(o *minioOptions) {
		if d > 0 {
			o.urlExpiry = d
		}
	}
}

// WithMinIOLogger sets the logger for diagnostics.
func WithMinIOLogger(l *slog.Logger) MinIOOption {
	return func(o *minioOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// NewMinIOStorage creates a MinIO-backed storage. Endpoint, bucket and both
// keys are required. The bucket is not created.
func NewMinIOStorage(cfg MinIOConfig, opts ...MinIOOption) (*MinIOStorage, error) {
	switch {
	case cfg.Endpoint == "":
		return nil, fmt.Errorf("%w: minio endpoint is required", ErrInvalidConfig)
	case cfg.Bucket == "":
		return nil, fmt.Errorf("%w: minio bucket is required", ErrInvalidConfig)
	case cfg.AccessKey == "" || cfg.SecretKey == "":
		return nil, fmt.Errorf("%w: minio credentials are required", ErrInvalidConfig)
	}

	o := &minioOptions{
		urlExpiry: DefaultURLExpiry,
		logger:    discardLogger(),
	}
	for _, opt := range opts {
		opt(o)
	}

	client := o.client
	if client == nil {
		lookup := minio.BucketLookupAuto
		if cfg.ForcePathStyle {
			lookup = minio.BucketLookupPath
		}
		mc, err := minio.New(cfg.Endpoint, &minio.Options{
			Creds:        credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
			Secure:       cfg.UseSSL,
			Region:       cfg.Region,
			BucketLookup: lookup,
			Transport:    o.transport,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: failed to create minio client: %v", ErrInvalidConfig, err)
		}
		client = minioClient{mc}
	}

	return &MinIOStorage{
		client:    client,
		bucket:    cfg.Bucket,
		urlExpiry: o.urlExpiry,
		logger:    o.logger,
	}, nil
}

// classifyMinIOError converts minio-go errors to the package's sentinel errors.
func classifyMinIOError(err error, operation string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return contextError(err, operation)
	}

	var resp minio.ErrorResponse
	if !errors.As(err, &resp) {
		return fmt.Errorf("%w: %s operation: %v", ErrOperationFailed, operation, err)
	}

	switch resp.Code {
	case "NoSuchKey", "NoSuchObject", "NotFound":
		return fmt.Errorf("%w: %s", ErrNotFound, resp.Message)
	case "NoSuchBucket":
		return fmt.Errorf("%w: bucket not found: %s operation", ErrInvalidConfig, operation)
	case "AccessDenied":
		return fmt.Errorf("%w: %s operation", ErrAccessDenied, operation)
	case "InvalidAccessKeyId", "SignatureDoesNotMatch":
		return fmt.Errorf("%w: %s operation (code: %s)", ErrUnauthorized, operation, resp.Code)
	case "RequestTimeout", "SlowDown", "ServiceUnavailable", "InternalError":
		return fmt.Errorf("%w: %s operation (code: %s)", ErrTransient, operation, resp.Code)
	}
	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s", ErrNotFound, resp.Message)
	}
	return fmt.Errorf("%w: %s operation (code: %s): %v", ErrOperationFailed, operation, resp.Code, err)
}

// Upload puts the object and returns a signed GET URL for it.
func (s *MinIOStorage) Upload(ctx context.Context, key string, data []byte, contentType string, metadata map[string]string) (*UploadResult, error) {
	key, err := cleanObjectKey(key)
	if err != nil {
		return nil, err
	}
	contentType = contentTypeOrDefault(contentType)

	info, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType:  contentType,
		UserMetadata: metadata,
	})
	if err != nil {
		return nil, classifyMinIOError(err, "upload")
	}

	signed, err := s.GetURL(ctx, key, 0)
	if err != nil {
		s.logger.Warn("uploaded object but failed to sign its url", slog.String("key", key), slog.Any("error", err))
	}

	return &UploadResult{
		Key:         key,
		URL:         signed,
		Size:        int64(len(data)),
		ETag:        info.ETag,
		ContentType: contentType,
	}, nil
}

// Download stats the object first so a missing key surfaces as ErrNotFound
// before any body is read.
func (s *MinIOStorage) Download(ctx context.Context, key string) (*DownloadResult, error) {
	meta, err := s.GetMetadata(ctx, key)
	if err != nil {
		return nil, err
	}

	body, err := s.client.OpenObject(ctx, s.bucket, meta.Key)
	if err != nil {
		return nil, classifyMinIOError(err, "download")
	}
	defer func() { _ = body.Close() }()

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, classifyMinIOError(err, "download")
	}

	return &DownloadResult{
		Key:          meta.Key,
		Data:         data,
		ContentType:  meta.ContentType,
		Size:         int64(len(data)),
		ETag:         meta.ETag,
		LastModified: meta.LastModified,
		Metadata:     meta.Metadata,
	}, nil
}

// Delete removes the object. A missing object is not an error.
func (s *MinIOStorage) Delete(ctx context.Context, key string) error {
	key, err := cleanObjectKey(key)
	if err != nil {
		return err
	}
	err = classifyMinIOError(s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}), "delete")
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	return nil
}

// Exists stats the object and reports false on ErrNotFound.
func (s *MinIOStorage) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.GetMetadata(ctx, key)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}

// GetURL always returns a signed GET URL.
func (s *MinIOStorage) GetURL(ctx context.Context, key string, expiresIn time.Duration) (string, error) {
	return s.GeneratePresignedURL(ctx, key, OperationGet, expiresIn)
}

// GetMetadata returns object info from a stat request.
func (s *MinIOStorage) GetMetadata(ctx context.Context, key string) (*FileMetadata, error) {
	key, err := cleanObjectKey(key)
	if err != nil {
		return nil, err
	}

	info, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return nil, classifyMinIOError(err, "get metadata")
	}

	return &FileMetadata{
		Key:          key,
		Size:         info.Size,
		ContentType:  contentTypeOrDefault(info.ContentType),
		ETag:         info.ETag,
		LastModified: info.LastModified,
		Metadata:     nonNilMap(info.UserMetadata),
	}, nil
}

// Copy performs a server-side copy within the bucket.
func (s *MinIOStorage) Copy(ctx context.Context, source, destination string) error {
	source, err := cleanObjectKey(source)
	if err != nil {
		return err
	}
	destination, err = cleanObjectKey(destination)
	if err != nil {
		return err
	}

	_, err = s.client.CopyObject(ctx,
		minio.CopyDestOptions{Bucket: s.bucket, Object: destination},
		minio.CopySrcOptions{Bucket: s.bucket, Object: source},
	)
	return classifyMinIOError(err, "copy")
}

// GeneratePresignedURL signs a GET or PUT request for key.
func (s *MinIOStorage) GeneratePresignedURL(ctx context.Context, key string, op Operation, expiresIn time.Duration) (string, error) {
	key, err := cleanObjectKey(key)
	if err != nil {
		return "", err
	}
	if expiresIn <= 0 {
		expiresIn = s.urlExpiry
	}

	var u *url.URL
	switch op {
	case OperationGet:
		u, err = s.client.PresignedGetObject(ctx, s.bucket, key, expiresIn, nil)
	case OperationPut:
		u, err = s.client.PresignedPutObject(ctx, s.bucket, key, expiresIn)
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidOperation, op)
	}
	if err != nil {
		return "", classifyMinIOError(err, "presign "+string(op))
	}
	return u.String(), nil
}
