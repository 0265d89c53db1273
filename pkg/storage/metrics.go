package storage

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metric label values for the status and direction labels.
const (
	statusSuccess  = "success"
	statusNotFound = "not_found"
	statusError    = "error"

	directionUpload   = "upload"
	directionDownload = "download"
)

type storageMetrics struct {
	operations  *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	transferred *prometheus.CounterVec
}

func newStorageMetrics(reg prometheus.Registerer) *storageMetrics {
	m := &storageMetrics{
		operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "storage_operations_total",
				Help: "Total number of storage operations by provider, operation and status.",
			},
			[]string{"provider", "operation", "status"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "storage_operation_duration_seconds",
				Help:    "Storage operation duration in seconds.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"provider", "operation"},
		),
		transferred: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "storage_transferred_bytes_total",
				Help: "Total payload bytes moved through storage by direction.",
			},
			[]string{"provider", "direction"},
		),
	}

	m.operations = registerOrExisting(reg, m.operations)
	m.duration = registerOrExisting(reg, m.duration)
	m.transferred = registerOrExisting(reg, m.transferred)
	return m
}

// registerOrExisting registers c, or returns the collector already registered
// under the same descriptor so several instrumented stores can share a registry.
func registerOrExisting[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

// Instrument wraps s so every operation is counted and timed under the given
// provider label. A nil registerer means prometheus.DefaultRegisterer.
//
//	store = storage.Instrument(store, prometheus.DefaultRegisterer, "s3")
func Instrument(s Storage, reg prometheus.Registerer, provider string) Storage {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	return &instrumented{
		next:     s,
		provider: provider,
		metrics:  newStorageMetrics(reg),
	}
}

type instrumented struct {
	next     Storage
	provider string
	metrics  *storageMetrics
}

func (i *instrumented) observe(operation string, start time.Time, err error) {
	status := statusSuccess
	switch {
	case errors.Is(err, ErrNotFound):
		status = statusNotFound
	case err != nil:
		status = statusError
	}
	i.metrics.operations.WithLabelValues(i.provider, operation, status).Inc()
	i.metrics.duration.WithLabelValues(i.provider, operation).Observe(time.Since(start).Seconds())
}

func (i *instrumented) Upload(ctx context.Context, key string, data []byte, contentType string, metadata map[string]string) (*UploadResult, error) {
	start := time.Now()
	res, err := i.next.Upload(ctx, key, data, contentType, metadata)
	i.observe("upload", start, err)
	if err == nil {
		i.metrics.transferred.WithLabelValues(i.provider, directionUpload).Add(float64(len(data)))
	}
	return res, err
}

func (i *instrumented) Download(ctx context.Context, key string) (*DownloadResult, error) {
	start := time.Now()
	res, err := i.next.Download(ctx, key)
	i.observe("download", start, err)
	if err == nil {
		i.metrics.transferred.WithLabelValues(i.provider, directionDownload).Add(float64(len(res.Data)))
	}
	return res, err
}

func (i *instrumented) Delete(ctx context.Context, key string) error {
	start := time.Now()
	err := i.next.Delete(ctx, key)
	i.observe("delete", start, err)
	return err
}

func (i *instrumented) Exists(ctx context.Context, key string) (bool, error) {
	start := time.Now()
	ok, err := i.next.Exists(ctx, key)
	i.observe("exists", start, err)
	return ok, err
}

func (i *instrumented) GetURL(ctx context.Context, key string, expiresIn time.Duration) (string, error) {
	start := time.Now()
	u, err := i.next.GetURL(ctx, key, expiresIn)
	i.observe("get_url", start, err)
	return u, err
}

func (i *instrumented) GetMetadata(ctx context.Context, key string) (*FileMetadata, error) {
	start := time.Now()
	meta, err := i.next.GetMetadata(ctx, key)
	i.observe("get_metadata", start, err)
	return meta, err
}

func (i *instrumented) Copy(ctx context.Context, source, destination string) error {
	start := time.Now()
	err := i.next.Copy(ctx, source, destination)
	i.observe("copy", start, err)
	return err
}

func (i *instrumented) GeneratePresignedURL(ctx context.Context, key string, op Operation, expiresIn time.Duration) (string, error) {
	start := time.Now()
	u, err := i.next.GeneratePresignedURL(ctx, key, op, expiresIn)
	i.observe("presign_"+string(op), start, err)
	return u, err
}
