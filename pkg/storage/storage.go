package storage

import (
	"context"
	"io"
	"log/slog"
	"time"
)

// DefaultContentType is used whenever a caller does not supply one.
const DefaultContentType = "application/octet-stream"

// Operation selects what a presigned URL grants.
type Operation string

const (
	OperationGet Operation = "get"
	OperationPut Operation = "put"
)

// Valid reports whether op is get or put.
func (op Operation) Valid() bool {
	return op == OperationGet || op == OperationPut
}

// UploadResult describes a stored object. Key is always the caller's key.
type UploadResult struct {
	Key         string
	URL         string
	Size        int64
	ETag        string
	ContentType string
}

// DownloadResult is a fully buffered object.
type DownloadResult struct {
	Key          string
	Data         []byte
	ContentType  string
	Size         int64
	ETag         string
	LastModified time.Time
	Metadata     map[string]string
}

// FileMetadata describes an object without its payload.
type FileMetadata struct {
	Key          string
	Size         int64
	ContentType  string
	ETag         string
	LastModified time.Time
	Metadata     map[string]string
}

// Storage is the provider-agnostic file persistence contract.
// Implementations are long-lived and safe for concurrent use.
type Storage interface {
	// Upload writes data under key. An empty contentType means DefaultContentType.
	Upload(ctx context.Context, key string, data []byte, contentType string, metadata map[string]string) (*UploadResult, error)
	// Download returns the object or ErrNotFound.
	Download(ctx context.Context, key string) (*DownloadResult, error)
	// Delete removes the object. Deleting a missing object is not an error.
	Delete(ctx context.Context, key string) error
	// Exists reports whether the object is present.
	Exists(ctx context.Context, key string) (bool, error)
	// GetURL returns a URL for key. A zero expiresIn asks for the provider's
	// default URL shape, which may or may not be signed.
	GetURL(ctx context.Context, key string, expiresIn time.Duration) (string, error)
	// GetMetadata returns object metadata or ErrNotFound.
	GetMetadata(ctx context.Context, key string) (*FileMetadata, error)
	// Copy duplicates source to destination, server-side where possible.
	// A missing source yields ErrNotFound and no destination object.
	Copy(ctx context.Context, source, destination string) error
	// GeneratePresignedURL issues a URL for op on key. A zero expiresIn uses
	// the provider default.
	GeneratePresignedURL(ctx context.Context, key string, op Operation, expiresIn time.Duration) (string, error)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
