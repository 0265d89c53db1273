package storage

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

// ProviderKind names a storage backend.
type ProviderKind string

const (
	ProviderLocal ProviderKind = "local"
	ProviderS3    ProviderKind = "s3"
	ProviderMinIO ProviderKind = "minio"
	ProviderB2    ProviderKind = "backblaze-b2"
)

// ParseProviderKind maps a configuration value to a ProviderKind. Matching
// ignores case and surrounding space; "b2" and "backblaze" mean ProviderB2.
// Unrecognized values, including "", return ProviderLocal and false.
func ParseProviderKind(s string) (ProviderKind, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "local":
		return ProviderLocal, true
	case "s3":
		return ProviderS3, true
	case "minio":
		return ProviderMinIO, true
	case "backblaze-b2", "b2", "backblaze":
		return ProviderB2, true
	default:
		return ProviderLocal, false
	}
}

// Option configures New.
type Option func(*selectorOptions)

type selectorOptions struct {
	logger       *slog.Logger
	registerer   prometheus.Registerer
	localOptions []LocalOption
	s3Options    []S3Option
	minioOptions []MinIOOption
	b2Options    []B2Option
}

// WithLogger sets the logger handed to the selected provider.
func WithLogger(l *slog.Logger) Option {
	return func(o *selectorOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMetrics wraps the selected provider with Instrument.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(o *selectorOptions) { o.registerer = reg }
}

// WithLocalOptions passes extra options to NewLocalStorage.
func WithLocalOptions(opts ...LocalOption) Option {
	return func(o *selectorOptions) { o.localOptions = append(o.localOptions, opts...) }
}

// WithS3Options passes extra options to NewS3Storage.
func WithS3Options(opts ...S3Option) Option {
	return func(o *selectorOptions) { o.s3Options = append(o.s3Options, opts...) }
}

// WithMinIOOptions passes extra options to NewMinIOStorage.
func WithMinIOOptions(opts ...MinIOOption) Option {
	return func(o *selectorOptions) { o.minioOptions = append(o.minioOptions, opts...) }
}

// WithB2Options passes extra options to NewB2Storage.
func WithB2Options(opts ...B2Option) Option {
	return func(o *selectorOptions) { o.b2Options = append(o.b2Options, opts...) }
}

// New builds the provider named by cfg.Provider. An unrecognized or empty
// provider is not an error: it is logged and local storage is used instead.
// Missing credentials for a recognized cloud provider fail with ErrInvalidConfig.
func New(ctx context.Context, cfg Config, opts ...Option) (Storage, error) {
	o := &selectorOptions{logger: discardLogger()}
	for _, opt := range opts {
		opt(o)
	}

	kind, ok := ParseProviderKind(cfg.Provider)
	if !ok {
		o.logger.Warn("unknown storage provider, falling back to local storage",
			slog.String("provider", cfg.Provider),
			slog.String("path", cfg.LocalPath),
		)
	}

	var (
		s   Storage
		err error
	)
	switch kind {
	case ProviderS3:
		s, err = NewS3Storage(ctx, cfg.S3, append([]S3Option{
			WithS3URLExpiry(cfg.URLExpiry),
			WithS3Logger(o.logger),
		}, o.s3Options...)...)
	case ProviderMinIO:
		s, err = NewMinIOStorage(cfg.MinIO, append([]MinIOOption{
			WithMinIOURLExpiry(cfg.URLExpiry),
			WithMinIOLogger(o.logger),
		}, o.minioOptions...)...)
	case ProviderB2:
		s, err = NewB2Storage(cfg.B2, append([]B2Option{
			WithB2Logger(o.logger),
		}, o.b2Options...)...)
	case ProviderLocal:
		s, err = NewLocalStorage(cfg.LocalPath, cfg.LocalURL, append([]LocalOption{
			WithLocalLogger(o.logger),
		}, o.localOptions...)...)
	}
	if err != nil {
		return nil, fmt.Errorf("storage provider %s: %w", kind, err)
	}

	o.logger.Debug("storage provider selected", slog.String("provider", string(kind)))

	if o.registerer != nil {
		s = Instrument(s, o.registerer, string(kind))
	}
	return s, nil
}

// MustNew is like New but panics on error. Use it where a misconfigured store
// should stop the process at startup.
func MustNew(ctx context.Context, cfg Config, opts ...Option) Storage {
	s, err := New(ctx, cfg, opts...)
	if err != nil {
		panic(fmt.Sprintf("failed to create storage: %v", err))
	}
	return s
}
