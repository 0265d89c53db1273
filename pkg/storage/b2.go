package storage

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
	"unicode"

	"golang.org/x/sync/singleflight"

	"github.com/dmitrymomot/storagekit/pkg/b2"
)

const (
	// AccountSessionTTL is how long an account authorization is reused before
	// the provider re-authorizes.
	AccountSessionTTL = 23 * time.Hour

	// DefaultB2PresignExpiry is the lifetime of a download authorization when
	// the caller does not pass one.
	DefaultB2PresignExpiry = 900 * time.Second

	// sessionRefreshTimeout bounds a shared session refresh, retries included.
	sessionRefreshTimeout = 5 * time.Minute

	maxFileInfoLength = 100
)

// B2Config contains configuration for a Backblaze B2 bucket.
type B2Config struct {
	KeyID          string        `env:"APPLICATION_KEY_ID"`
	ApplicationKey string        `env:"APPLICATION_KEY"`
	BucketID       string        `env:"BUCKET_ID"` // Optional for keys restricted to BucketName
	BucketName     string        `env:"BUCKET_NAME"`
	APIURL         string        `env:"API_URL" envDefault:"https://api.backblazeb2.com"`
	MaxRetries     int           `env:"MAX_RETRIES" envDefault:"3"`
	RetryDelay     time.Duration `env:"RETRY_DELAY" envDefault:"1s"`
	KeyPrefix      string        `env:"KEY_PREFIX"` // Tenant prefix, never visible to callers
	HTTPTimeout    time.Duration `env:"HTTP_TIMEOUT" envDefault:"60s"`
}

// accountSession is a cached account authorization plus the bucket it resolved to.
type accountSession struct {
	auth       *b2.Authorization
	bucketID   string
	acquiredAt time.Time
}

func (a *accountSession) valid(now time.Time) bool {
	return a != nil && now.Sub(a.acquiredAt) < AccountSessionTTL
}

// B2Storage implements Storage on the Backblaze B2 native API.
//
// It owns two cached credentials. The account session expires after
// AccountSessionTTL and is refreshed transparently. The upload session is kept
// until an upload fails, then replaced. Concurrent refreshes of either session
// are coalesced into one network call.
type B2Storage struct {
	client     *b2.Client
	keyID      string
	appKey     string
	bucketID   string
	bucketName string
	prefix     TenantPrefix
	now        func() time.Time
	logger     *slog.Logger

	mu      sync.RWMutex
	account *accountSession
	upload  *b2.UploadURL
	flight  singleflight.Group
}

// B2Option configures B2Storage.
type B2Option func(*b2Options)

type b2Options struct {
	client     *b2.Client
	httpClient *http.Client
	now        func() time.Time
	logger     *slog.Logger
}

// WithB2Client replaces the API client built from the config.
func WithB2Client(c *b2.Client) B2Option {
	return func(o *b2Options) { o.client = c }
}

// WithB2HTTPClient sets the HTTP client used by the API client built from the config.
func WithB2HTTPClient(c *http.Client) B2Option {
	return func(o *b2Options) { o.httpClient = c }
}

// WithB2Clock sets the time source used for account session expiry.
func WithB2Clock(now func() time.Time) B2Option {
	return func(o *b2Options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithB2Logger sets the logger for diagnostics.
func WithB2Logger(l *slog.Logger) B2Option {
	return func(o *b2Options) {
		if l != nil {
			o.logger = l
		}
	}
}

// NewB2Storage creates a B2-backed storage. Nothing is requested from B2
// until the first operation.
func NewB2Storage(cfg B2Config, opts ...B2Option) (*B2Storage, error) {
	switch {
	case cfg.KeyID == "" || cfg.ApplicationKey == "":
		return nil, fmt.Errorf("%w: b2 application key id and key are required", ErrInvalidConfig)
	case cfg.BucketName == "":
		return nil, fmt.Errorf("%w: b2 bucket name is required", ErrInvalidConfig)
	}

	o := &b2Options{
		now:    time.Now,
		logger: discardLogger(),
	}
	for _, opt := range opts {
		opt(o)
	}

	client := o.client
	if client == nil {
		policy := b2.DefaultRetryPolicy()
		if cfg.MaxRetries > 0 {
			policy.MaxRetries = cfg.MaxRetries
		}
		if cfg.RetryDelay > 0 {
			policy.Delay = cfg.RetryDelay
		}
		clientOpts := []b2.Option{
			b2.WithAPIURL(cfg.APIURL),
			b2.WithRetryPolicy(policy),
			b2.WithTimeout(cfg.HTTPTimeout),
			b2.WithLogger(o.logger),
		}
		if o.httpClient != nil {
			clientOpts = append(clientOpts, b2.WithHTTPClient(o.httpClient))
		}
		client = b2.NewClient(clientOpts...)
	}

	return &B2Storage{
		client:     client,
		keyID:      cfg.KeyID,
		appKey:     cfg.ApplicationKey,
		bucketID:   cfg.BucketID,
		bucketName: cfg.BucketName,
		prefix:     TenantPrefix(cfg.KeyPrefix),
		now:        o.now,
		logger:     o.logger,
	}, nil
}

// ensureAccount returns the cached account session, re-authorizing when it is
// missing or older than AccountSessionTTL.
func (s *B2Storage) ensureAccount(ctx context.Context) (*accountSession, error) {
	s.mu.RLock()
	acc := s.account
	s.mu.RUnlock()
	if acc.valid(s.now()) {
		return acc, nil
	}

	v, err := s.shared(ctx, "account", "authorize", func(ctx context.Context) (any, error) {
		s.mu.RLock()
		acc := s.account
		s.mu.RUnlock()
		if acc.valid(s.now()) {
			return acc, nil
		}
		return s.authorize(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.(*accountSession), nil
}

// shared runs fn once for all concurrent callers of key. fn gets a context
// that outlives any single caller, bounded by sessionRefreshTimeout, and each
// caller stops waiting when its own ctx is done.
func (s *B2Storage) shared(ctx context.Context, key, operation string, fn func(context.Context) (any, error)) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, contextError(err, operation)
	}
	ch := s.flight.DoChan(key, func() (any, error) {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sessionRefreshTimeout)
		defer cancel()
		return fn(rctx)
	})

	select {
	case <-ctx.Done():
		return nil, contextError(ctx.Err(), operation)
	case res := <-ch:
		return res.Val, res.Err
	}
}

func (s *B2Storage) authorize(ctx context.Context) (*accountSession, error) {
	auth, err := s.client.AuthorizeAccount(ctx, s.keyID, s.appKey)
	if err != nil {
		s.logger.Error("b2 account authorization failed",
			slog.String("kind", string(b2.Classify(err))),
			slog.Any("error", err),
		)
		return nil, classifyB2Error(err, "authorize")
	}

	bucketID := s.bucketID
	if bucketID == "" {
		if auth.Allowed.BucketID == "" || auth.Allowed.BucketName != s.bucketName {
			return nil, fmt.Errorf("%w: b2 bucket id is required unless the key is restricted to bucket %q", ErrInvalidConfig, s.bucketName)
		}
		bucketID = auth.Allowed.BucketID
	}

	acc := &accountSession{auth: auth, bucketID: bucketID, acquiredAt: s.now()}

	s.mu.Lock()
	s.account = acc
	s.mu.Unlock()

	s.logger.Debug("b2 account authorized",
		slog.String("api_url", auth.APIURL),
		slog.String("bucket_id", bucketID),
		slog.String("token", tokenPrefix(auth.AuthorizationToken)),
	)
	return acc, nil
}

// ensureUploadSession returns the cached upload session or fetches the first one.
// A cached session is trusted until an upload fails with it.
func (s *B2Storage) ensureUploadSession(ctx context.Context, acc *accountSession) (*b2.UploadURL, error) {
	s.mu.RLock()
	up := s.upload
	s.mu.RUnlock()
	if up != nil {
		return up, nil
	}
	return s.refreshUploadSession(ctx, acc)
}

// refreshUploadSession unconditionally replaces the cached upload session.
func (s *B2Storage) refreshUploadSession(ctx context.Context, acc *accountSession) (*b2.UploadURL, error) {
	v, err := s.shared(ctx, "upload", "get upload url", func(ctx context.Context) (any, error) {
		up, err := s.client.GetUploadURL(ctx, acc.auth, acc.bucketID)
		if err != nil {
			return nil, classifyB2Error(err, "get upload url")
		}

		s.mu.Lock()
		s.upload = up
		s.mu.Unlock()

		s.logger.Debug("b2 upload url acquired",
			slog.String("bucket_id", acc.bucketID),
			slog.String("token", tokenPrefix(up.AuthorizationToken)),
		)
		return up, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*b2.UploadURL), nil
}

// Upload sends data in one request. If that request fails for any reason the
// provider fetches a new upload URL and sends the file once more without the
// file info headers, since caller metadata is a common cause of rejections.
func (s *B2Storage) Upload(ctx context.Context, key string, data []byte, contentType string, metadata map[string]string) (*UploadResult, error) {
	logical, err := cleanObjectKey(key)
	if err != nil {
		return nil, err
	}
	physical := s.prefix.Physical(LogicalKey(logical))
	contentType = contentTypeOrDefault(contentType)

	acc, err := s.ensureAccount(ctx)
	if err != nil {
		return nil, err
	}
	up, err := s.ensureUploadSession(ctx, acc)
	if err != nil {
		return nil, err
	}

	sum := sha1.Sum(data)
	req := &b2.UploadRequest{
		FileName:    string(physical),
		ContentType: contentType,
		ContentSHA1: hex.EncodeToString(sum[:]),
		Data:        data,
		Info:        SanitizeFileInfo(metadata),
	}

	file, err := s.client.UploadFile(ctx, up, req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, contextError(ctx.Err(), "upload")
		}
		s.logger.Warn("b2 upload failed, retrying without file info",
			slog.String("key", logical),
			slog.String("kind", string(b2.Classify(err))),
			slog.Any("error", err),
		)

		up, err = s.refreshUploadSession(ctx, acc)
		if err != nil {
			return nil, err
		}
		req.Info = nil
		file, err = s.client.UploadFile(ctx, up, req)
		if err != nil {
			s.logger.Error("b2 upload failed",
				slog.String("key", logical),
				slog.String("kind", string(b2.Classify(err))),
				slog.Any("error", err),
			)
			return nil, classifyB2Error(err, "upload")
		}
	}

	etag := file.ContentSHA1
	if etag == "" {
		etag = req.ContentSHA1
	}

	return &UploadResult{
		Key:         string(s.prefix.Logical(physical)),
		URL:         b2.DownloadURL(acc.auth.DownloadURL, s.bucketName, string(physical)),
		Size:        int64(len(data)),
		ETag:        etag,
		ContentType: contentType,
	}, nil
}

// Download fetches the object by name with the account token.
func (s *B2Storage) Download(ctx context.Context, key string) (*DownloadResult, error) {
	logical, err := cleanObjectKey(key)
	if err != nil {
		return nil, err
	}
	acc, err := s.ensureAccount(ctx)
	if err != nil {
		return nil, err
	}

	dl, err := s.client.DownloadFileByName(ctx, acc.auth, s.bucketName, string(s.prefix.Physical(LogicalKey(logical))))
	if err != nil {
		return nil, classifyB2Error(err, "download")
	}

	return &DownloadResult{
		Key:          string(s.prefix.Logical(PhysicalKey(dl.FileName))),
		Data:         dl.Data,
		ContentType:  contentTypeOrDefault(dl.ContentType),
		Size:         dl.ContentLength,
		ETag:         dl.ContentSHA1,
		LastModified: dl.UploadedAt,
		Metadata:     nonNilMap(dl.Info),
	}, nil
}

// Delete removes the newest version of key. A key that cannot be found is
// logged and treated as already deleted.
func (s *B2Storage) Delete(ctx context.Context, key string) error {
	logical, err := cleanObjectKey(key)
	if err != nil {
		return err
	}
	acc, err := s.ensureAccount(ctx)
	if err != nil {
		return err
	}

	file, err := s.lookup(ctx, acc, s.prefix.Physical(LogicalKey(logical)))
	if err != nil {
		return err
	}
	if file == nil {
		s.logger.Warn("b2 delete skipped, file not found", slog.String("key", logical))
		return nil
	}

	err = s.client.DeleteFileVersion(ctx, acc.auth, file.FileName, file.FileID)
	if err != nil && !b2.IsNotFound(err) {
		return classifyB2Error(err, "delete")
	}
	return nil
}

// Exists reports false when the lookup itself fails. Account authorization
// errors are still returned.
func (s *B2Storage) Exists(ctx context.Context, key string) (bool, error) {
	logical, err := cleanObjectKey(key)
	if err != nil {
		return false, err
	}
	acc, err := s.ensureAccount(ctx)
	if err != nil {
		return false, err
	}

	file, err := s.lookup(ctx, acc, s.prefix.Physical(LogicalKey(logical)))
	if err != nil {
		s.logger.Warn("b2 lookup failed, reporting file as missing",
			slog.String("key", logical),
			slog.String("kind", string(b2.Classify(err))),
			slog.Any("error", err),
		)
		return false, nil
	}
	return file != nil, nil
}

// GetURL returns the plain download URL when expiresIn is zero. That URL only
// works for public buckets. Any positive expiresIn yields an authorized URL.
func (s *B2Storage) GetURL(ctx context.Context, key string, expiresIn time.Duration) (string, error) {
	if expiresIn > 0 {
		return s.GeneratePresignedURL(ctx, key, OperationGet, expiresIn)
	}

	logical, err := cleanObjectKey(key)
	if err != nil {
		return "", err
	}
	acc, err := s.ensureAccount(ctx)
	if err != nil {
		return "", err
	}
	return b2.DownloadURL(acc.auth.DownloadURL, s.bucketName, string(s.prefix.Physical(LogicalKey(logical)))), nil
}

// GetMetadata reads size, type, hash and file info from the lookup result.
func (s *B2Storage) GetMetadata(ctx context.Context, key string) (*FileMetadata, error) {
	logical, err := cleanObjectKey(key)
	if err != nil {
		return nil, err
	}
	acc, err := s.ensureAccount(ctx)
	if err != nil {
		return nil, err
	}

	file, err := s.lookup(ctx, acc, s.prefix.Physical(LogicalKey(logical)))
	if err != nil {
		return nil, err
	}
	if file == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, logical)
	}

	return &FileMetadata{
		Key:          string(s.prefix.Logical(PhysicalKey(file.FileName))),
		Size:         file.ContentLength,
		ContentType:  contentTypeOrDefault(file.ContentType),
		ETag:         file.ContentSHA1,
		LastModified: file.UploadedAt(),
		Metadata:     nonNilMap(file.FileInfo),
	}, nil
}

// Copy resolves the source file id and asks B2 for a server-side copy.
func (s *B2Storage) Copy(ctx context.Context, source, destination string) error {
	source, err := cleanObjectKey(source)
	if err != nil {
		return err
	}
	destination, err = cleanObjectKey(destination)
	if err != nil {
		return err
	}
	acc, err := s.ensureAccount(ctx)
	if err != nil {
		return err
	}

	file, err := s.lookup(ctx, acc, s.prefix.Physical(LogicalKey(source)))
	if err != nil {
		return err
	}
	if file == nil {
		return fmt.Errorf("%w: copy source %s", ErrNotFound, source)
	}

	_, err = s.client.CopyFile(ctx, acc.auth, b2.CopyFileRequest{
		SourceFileID:        file.FileID,
		DestinationBucketID: acc.bucketID,
		FileName:            string(s.prefix.Physical(LogicalKey(destination))),
	})
	return classifyB2Error(err, "copy")
}

// GeneratePresignedURL issues a download URL carrying a download authorization
// scoped to the key for OperationGet.
//
// For OperationPut it returns the bucket's current upload URL. That URL is not
// bound to key and needs the upload token, which is not part of the result.
func (s *B2Storage) GeneratePresignedURL(ctx context.Context, key string, op Operation, expiresIn time.Duration) (string, error) {
	logical, err := cleanObjectKey(key)
	if err != nil {
		return "", err
	}
	acc, err := s.ensureAccount(ctx)
	if err != nil {
		return "", err
	}
	physical := s.prefix.Physical(LogicalKey(logical))

	switch op {
	case OperationGet:
		file, err := s.lookup(ctx, acc, physical)
		if err != nil {
			return "", err
		}
		if file == nil {
			return "", fmt.Errorf("%w: %s", ErrNotFound, logical)
		}

		if expiresIn <= 0 {
			expiresIn = DefaultB2PresignExpiry
		}
		grant, err := s.client.GetDownloadAuthorization(ctx, acc.auth, b2.DownloadAuthorizationRequest{
			BucketID:               acc.bucketID,
			FileNamePrefix:         file.FileName,
			ValidDurationInSeconds: int64(math.Max(1, math.Ceil(expiresIn.Seconds()))),
		})
		if err != nil {
			return "", classifyB2Error(err, "presign get")
		}
		return b2.AuthorizedDownloadURL(acc.auth.DownloadURL, s.bucketName, file.FileName, grant.AuthorizationToken), nil

	case OperationPut:
		up, err := s.ensureUploadSession(ctx, acc)
		if err != nil {
			return "", err
		}
		return up.UploadURL, nil

	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidOperation, op)
	}
}

// lookup resolves a file name to its newest version. It returns nil, nil when
// no file has exactly that name.
func (s *B2Storage) lookup(ctx context.Context, acc *accountSession, name PhysicalKey) (*b2.File, error) {
	resp, err := s.client.ListFileNames(ctx, acc.auth, b2.ListFileNamesRequest{
		BucketID:      acc.bucketID,
		StartFileName: string(name),
		Prefix:        string(name),
		MaxFileCount:  1,
	})
	if err != nil {
		return nil, classifyB2Error(err, "lookup")
	}
	if len(resp.Files) == 0 || resp.Files[0].FileName != string(name) {
		return nil, nil
	}
	return &resp.Files[0], nil
}

// SanitizeFileInfo turns caller metadata into values B2 accepts as
// X-Bz-Info-* headers. Keys and values keep only letters, digits, '_' and '-';
// whitespace runs become '_' and values are cut to 100 characters. Entries
// whose key or value ends up empty are dropped.
//
//	SanitizeFileInfo(map[string]string{"title": "héllo world!"})
//	// map[title:hllo_world]
func SanitizeFileInfo(metadata map[string]string) map[string]string {
	if len(metadata) == 0 {
		return nil
	}
	out := make(map[string]string, len(metadata))
	for k, v := range metadata {
		name := sanitizeInfoValue(k)
		value := sanitizeInfoValue(v)
		if name == "" || value == "" {
			continue
		}
		out[name] = value
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func sanitizeInfoValue(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)), r == '_', r == '-':
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteByte(' ')
		}
	}

	cleaned := strings.Join(strings.Fields(b.String()), "_")
	if len(cleaned) > maxFileInfoLength {
		cleaned = cleaned[:maxFileInfoLength]
	}
	return cleaned
}

// classifyB2Error converts API client errors to the package's sentinel errors.
func classifyB2Error(err error, operation string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return contextError(err, operation)
	}
	if errors.Is(err, b2.ErrMissingCredentials) {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	var apiErr *b2.APIError
	if errors.As(err, &apiErr) {
		switch {
		case b2.IsNotFound(err):
			return fmt.Errorf("%w: %s", ErrNotFound, apiErr.Message)
		case b2.IsUnauthorized(err):
			return fmt.Errorf("%w: %s operation: %s", ErrUnauthorized, operation, apiErr.Message)
		case apiErr.Status == http.StatusForbidden:
			return fmt.Errorf("%w: %s operation: %s", ErrAccessDenied, operation, apiErr.Message)
		case apiErr.Status == http.StatusRequestTimeout,
			apiErr.Status == http.StatusTooManyRequests,
			apiErr.Status >= http.StatusInternalServerError:
			return fmt.Errorf("%w: %s operation: %s", ErrTransient, operation, apiErr.Message)
		}
		return fmt.Errorf("%w: %s operation (code: %s): %s", ErrOperationFailed, operation, apiErr.Code, apiErr.Message)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %s operation: %v", ErrTransient, operation, err)
	}
	return fmt.Errorf("%w: %s operation: %v", ErrOperationFailed, operation, err)
}

// tokenPrefix keeps enough of a bearer token to correlate log lines.
func tokenPrefix(token string) string {
	if len(token) <= 6 {
		return "***"
	}
	return token[:6] + "..."
}
