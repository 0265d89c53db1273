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
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// DefaultURLExpiry is the signed URL lifetime used when none is configured.
const DefaultURLExpiry = time.Hour

// S3Client defines the S3 operations used by S3Storage.
type S3Client interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	CopyObject(ctx context.Context, params *s3.CopyObjectInput, optFns ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
}

// S3Presigner defines the URL signing operations used by S3Storage.
type S3Presigner interface {
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
	PresignPutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// S3Storage implements Storage for Amazon S3 and S3-compatible services.
// Every operation is a single signed request; URLs are always signed.
// It is safe for concurrent use.
type S3Storage struct {
	client        S3Client
	presigner     S3Presigner
	bucket        string
	urlExpiry     time.Duration
	uploadTimeout time.Duration
	logger        *slog.Logger
}

// S3Config contains configuration for S3 storage.
type S3Config struct {
	Bucket         string `env:"BUCKET"`
	Region         string `env:"REGION" envDefault:"us-east-1"`
	AccessKeyID    string `env:"ACCESS_KEY_ID"`
	SecretKey      string `env:"SECRET_ACCESS_KEY"`
	Endpoint       string `env:"ENDPOINT"`         // Optional: for S3-compatible services
	ForcePathStyle bool   `env:"FORCE_PATH_STYLE"` // For S3-compatible services like MinIO
}

// S3Option defines a function that configures S3Storage.
type S3Option func(*s3Options)

type s3Options struct {
	httpClient      *http.Client
	s3Client        S3Client
	presigner       S3Presigner
	s3ConfigOptions []func(*config.LoadOptions) error
	s3ClientOptions []func(*s3.Options)
	urlExpiry       time.Duration
	uploadTimeout   time.Duration
	logger          *slog.Logger
}

// WithS3Client sets a custom pre-configured S3 client.
// Useful for testing with mocks.
func WithS3Client(client S3Client) S3Option {
	return func(o *s3Options) {
		o.s3Client = client
	}
}

// WithS3Presigner sets a custom URL signer. Required together with a mock
// client, since a presign client can only be derived from *s3.Client.
func WithS3Presigner(p S3Presigner) S3Option {
	return func(o *s3Options) {
		o.presigner = p
	}
}

// WithHTTPClient sets a custom HTTP client for S3 requests.
func WithHTTPClient(client *http.Client) S3Option {
	return func(o *s3Options) {
		o.httpClient = client
	}
}

// WithS3ConfigOption adds a custom AWS config option.
func WithS3ConfigOption(option func(*config.LoadOptions) error) S3Option {
	return func(o *s3Options) {
		o.s3ConfigOptions = append(o.s3ConfigOptions, option)
	}
}

// WithS3ClientOption adds a custom S3 client option.
func WithS3ClientOption(option func(*s3.Options)) S3Option {
	return func(o *s3Options) {
		o.s3ClientOptions = append(o.s3ClientOptions, option)
	}
}

// WithS3URLExpiry sets the default lifetime of signed URLs.
func WithS3URLExpiry(d time.Duration) S3Option {
	return func(o *s3Options) {
		if d > 0 {
			o.urlExpiry = d
		}
	}
}

// WithS3UploadTimeout sets the timeout for upload operations.
// If not set, no timeout is applied (context deadline from caller is used).
func WithS3UploadTimeout(timeout time.Duration) S3Option {
	return func(o *s3Options) {
		o.uploadTimeout = timeout
	}
}

// WithS3Logger sets the logger for diagnostics.
func WithS3Logger(l *slog.Logger) S3Option {
	return func(o *s3Options) {
		if l != nil {
			o.logger = l
		}
	}
}

// NewS3Storage creates a new S3 storage instance.
// Bucket, region and both credential halves are required.
func NewS3Storage(ctx context.Context, cfg S3Config, opts ...S3Option) (*S3Storage, error) {
	switch {
	case cfg.Bucket == "":
		return nil, fmt.Errorf("%w: s3 bucket is required", ErrInvalidConfig)
	case cfg.Region == "":
		return nil, fmt.Errorf("%w: s3 region is required", ErrInvalidConfig)
	case cfg.AccessKeyID == "" || cfg.SecretKey == "":
		return nil, fmt.Errorf("%w: s3 credentials are required", ErrInvalidConfig)
	}

	options := &s3Options{
		urlExpiry: DefaultURLExpiry,
		logger:    discardLogger(),
	}
	for _, opt := range opts {
		opt(options)
	}

	client := options.s3Client
	presigner := options.presigner
	if client == nil {
		awsOptions := []func(*config.LoadOptions) error{
			config.WithRegion(cfg.Region),
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
				cfg.AccessKeyID,
				cfg.SecretKey,
				"",
			)),
		}

		if options.httpClient != nil {
			awsOptions = append(awsOptions, config.WithHTTPClient(options.httpClient))
		}

		awsOptions = append(awsOptions, options.s3ConfigOptions...)

		awsConfig, err := config.LoadDefaultConfig(ctx, awsOptions...)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to load AWS config: %v", ErrInvalidConfig, err)
		}

		s3Client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
			if cfg.Endpoint != "" {
				o.BaseEndpoint = aws.String(cfg.Endpoint)
			}
			o.UsePathStyle = cfg.ForcePathStyle

			for _, opt := range options.s3ClientOptions {
				opt(o)
			}
		})
		client = s3Client
		if presigner == nil {
			presigner = s3.NewPresignClient(s3Client)
		}
	}

	if presigner == nil {
		if c, ok := client.(*s3.Client); ok {
			presigner = s3.NewPresignClient(c)
		}
	}

	return &S3Storage{
		client:        client,
		presigner:     presigner,
		bucket:        cfg.Bucket,
		urlExpiry:     options.urlExpiry,
		uploadTimeout: options.uploadTimeout,
		logger:        options.logger,
	}, nil
}

// classifyS3Error converts S3 errors to the package's sentinel errors.
func classifyS3Error(err error, operation string) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return contextError(err, operation)
	}

	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return fmt.Errorf("%w: %s", ErrNotFound, err)
	}
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return fmt.Errorf("%w: %s", ErrNotFound, err)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		switch code {
		case "NoSuchKey", "NotFound":
			return fmt.Errorf("%w: %s", ErrNotFound, err)
		case "NoSuchBucket":
			return fmt.Errorf("%w: bucket not found: %s operation", ErrInvalidConfig, operation)
		case "AccessDenied", "Forbidden":
			return fmt.Errorf("%w: %s operation", ErrAccessDenied, operation)
		case "InvalidAccessKeyId", "SignatureDoesNotMatch", "ExpiredToken":
			return fmt.Errorf("%w: %s operation (code: %s)", ErrUnauthorized, operation, code)
		case "RequestTimeout", "SlowDown", "ServiceUnavailable", "InternalError":
			return fmt.Errorf("%w: %s operation (code: %s)", ErrTransient, operation, code)
		default:
			// Include error code in message for debugging
			return fmt.Errorf("%w: %s operation (code: %s): %v", ErrOperationFailed, operation, code, err)
		}
	}

	return fmt.Errorf("%w: %s operation: %v", ErrOperationFailed, operation, err)
}

// Upload stores data with a single PutObject and returns a signed URL.
func (s *S3Storage) Upload(ctx context.Context, key string, data []byte, contentType string, metadata map[string]string) (*UploadResult, error) {
	if s.uploadTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.uploadTimeout)
		defer cancel()
	}

	key, err := cleanObjectKey(key)
	if err != nil {
		return nil, err
	}
	contentType = contentTypeOrDefault(contentType)

	out, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String(contentType),
		Metadata:      metadata,
	})
	if err != nil {
		return nil, classifyS3Error(err, "upload")
	}

	signed, err := s.presignGet(ctx, key, s.urlExpiry)
	if err != nil {
		s.logger.Warn("uploaded object but failed to sign its url", slog.String("key", key), slog.Any("error", err))
	}

	return &UploadResult{
		Key:         key,
		URL:         signed,
		Size:        int64(len(data)),
		ETag:        trimETag(out.ETag),
		ContentType: contentType,
	}, nil
}

// Download reads the whole object into memory.
func (s *S3Storage) Download(ctx context.Context, key string) (*DownloadResult, error) {
	key, err := cleanObjectKey(key)
	if err != nil {
		return nil, err
	}

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, classifyS3Error(err, "download")
	}
	defer func() { _ = out.Body.Close() }()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read object body: %v", ErrOperationFailed, err)
	}

	return &DownloadResult{
		Key:          key,
		Data:         data,
		ContentType:  contentTypeOrDefault(aws.ToString(out.ContentType)),
		Size:         int64(len(data)),
		ETag:         trimETag(out.ETag),
		LastModified: aws.ToTime(out.LastModified),
		Metadata:     nonNilMap(out.Metadata),
	}, nil
}

// Delete removes the object. S3 deletes are idempotent.
func (s *S3Storage) Delete(ctx context.Context, key string) error {
	key, err := cleanObjectKey(key)
	if err != nil {
		return err
	}

	_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err = classifyS3Error(err, "delete"); err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	return nil
}

// Exists issues a HeadObject and treats a not-found status as false.
func (s *S3Storage) Exists(ctx context.Context, key string) (bool, error) {
	key, err := cleanObjectKey(key)
	if err != nil {
		return false, err
	}

	_, err = s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		return true, nil
	}
	if err = classifyS3Error(err, "exists"); errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return false, err
}

// GetURL always signs; a zero expiresIn uses the configured default.
func (s *S3Storage) GetURL(ctx context.Context, key string, expiresIn time.Duration) (string, error) {
	return s.GeneratePresignedURL(ctx, key, OperationGet, expiresIn)
}

// GetMetadata issues a HeadObject.
func (s *S3Storage) GetMetadata(ctx context.Context, key string) (*FileMetadata, error) {
	key, err := cleanObjectKey(key)
	if err != nil {
		return nil, err
	}

	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, classifyS3Error(err, "get metadata")
	}

	return &FileMetadata{
		Key:          key,
		Size:         aws.ToInt64(out.ContentLength),
		ContentType:  contentTypeOrDefault(aws.ToString(out.ContentType)),
		ETag:         trimETag(out.ETag),
		LastModified: aws.ToTime(out.LastModified),
		Metadata:     nonNilMap(out.Metadata),
	}, nil
}

// Copy performs a server-side CopyObject within the bucket.
func (s *S3Storage) Copy(ctx context.Context, source, destination string) error {
	source, err := cleanObjectKey(source)
	if err != nil {
		return err
	}
	destination, err = cleanObjectKey(destination)
	if err != nil {
		return err
	}

	_, err = s.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(s.bucket),
		Key:        aws.String(destination),
		CopySource: aws.String(copySource(s.bucket, source)),
	})
	return classifyS3Error(err, "copy")
}

// GeneratePresignedURL signs a GetObject or PutObject request for key.
func (s *S3Storage) GeneratePresignedURL(ctx context.Context, key string, op Operation, expiresIn time.Duration) (string, error) {
	key, err := cleanObjectKey(key)
	if err != nil {
		return "", err
	}
	if expiresIn <= 0 {
		expiresIn = s.urlExpiry
	}

	switch op {
	case OperationGet:
		return s.presignGet(ctx, key, expiresIn)
	case OperationPut:
		if s.presigner == nil {
			return "", fmt.Errorf("%w: no presigner configured", ErrInvalidConfig)
		}
		req, err := s.presigner.PresignPutObject(ctx, &s3.PutObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
		}, s3.WithPresignExpires(expiresIn))
		if err != nil {
			return "", classifyS3Error(err, "presign put")
		}
		return req.URL, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidOperation, op)
	}
}

func (s *S3Storage) presignGet(ctx context.Context, key string, expiresIn time.Duration) (string, error) {
	if s.presigner == nil {
		return "", fmt.Errorf("%w: no presigner configured", ErrInvalidConfig)
	}
	req, err := s.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(expiresIn))
	if err != nil {
		return "", classifyS3Error(err, "presign get")
	}
	return req.URL, nil
}

// cleanObjectKey strips a leading slash and rejects empty or traversing keys.
func cleanObjectKey(key string) (string, error) {
	key = strings.TrimPrefix(key, "/")
	if key == "" {
		return "", fmt.Errorf("%w: empty key", ErrInvalidKey)
	}
	for _, segment := range strings.Split(key, "/") {
		if segment == ".." {
			return "", fmt.Errorf("%w: %s", ErrInvalidKey, key)
		}
	}
	return key, nil
}

// copySource URL-encodes bucket/key segment by segment.
func copySource(bucket, key string) string {
	segments := strings.Split(key, "/")
	for i, segment := range segments {
		segments[i] = url.PathEscape(segment)
	}
	return bucket + "/" + strings.Join(segments, "/")
}

func trimETag(etag *string) string {
	return strings.Trim(aws.ToString(etag), `"`)
}

func nonNilMap(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
