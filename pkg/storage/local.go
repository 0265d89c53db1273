package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// sidecarSuffix names the JSON document stored next to a payload.
const sidecarSuffix = ".meta"

// sidecar is the on-disk metadata document for a locally stored object.
type sidecar struct {
	ContentType string            `json:"contentType"`
	Metadata    map[string]string `json:"metadata"`
	UploadedAt  time.Time         `json:"uploadedAt"`
}

// LocalStorage implements Storage on the local filesystem.
// Payloads live at baseDir/key and metadata in baseDir/key.meta.
// All operations are confined to baseDir to prevent path traversal.
type LocalStorage struct {
	baseDir string // Absolute path - all files stored within this directory
	baseURL string // URL prefix for serving files (e.g., "/uploads/")
	logger  *slog.Logger
}

// LocalOption defines a function that configures LocalStorage.
type LocalOption func(*LocalStorage)

// WithLocalLogger sets the logger for diagnostics.
func WithLocalLogger(l *slog.Logger) LocalOption {
	return func(s *LocalStorage) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewLocalStorage creates a new local filesystem storage.
// baseDir is resolved to an absolute path and created if it doesn't exist.
// baseURL is concatenated with keys to build URLs; nothing is ever signed.
func NewLocalStorage(baseDir, baseURL string, opts ...LocalOption) (*LocalStorage, error) {
	if baseDir == "" {
		return nil, fmt.Errorf("%w: local base path is empty", ErrInvalidConfig)
	}

	absBaseDir, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to resolve base directory: %v", ErrInvalidConfig, err)
	}

	if err := os.MkdirAll(absBaseDir, 0755); err != nil {
		return nil, fmt.Errorf("%w: failed to create base directory: %v", ErrOperationFailed, err)
	}

	if baseURL != "" && !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}

	s := &LocalStorage{
		baseDir: absBaseDir,
		baseURL: baseURL,
		logger:  discardLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

// Upload writes the payload and, when a content type or metadata is given,
// the sidecar document. A stale sidecar from a previous upload is removed.
func (s *LocalStorage) Upload(ctx context.Context, key string, data []byte, contentType string, metadata map[string]string) (*UploadResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, contextError(err, "upload")
	}

	absPath, err := s.resolvePath(key)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(absPath), 0755); err != nil {
		return nil, fmt.Errorf("%w: create directory: %v", ErrOperationFailed, err)
	}

	if err := os.WriteFile(absPath, data, 0644); err != nil {
		return nil, fmt.Errorf("%w: write file: %v", ErrOperationFailed, err)
	}

	if contentType != "" || len(metadata) > 0 {
		if err := s.writeSidecar(absPath, sidecar{
			ContentType: contentTypeOrDefault(contentType),
			Metadata:    metadata,
			UploadedAt:  time.Now().UTC(),
		}); err != nil {
			_ = os.Remove(absPath)
			return nil, err
		}
	} else if err := removeIfExists(absPath + sidecarSuffix); err != nil {
		return nil, fmt.Errorf("%w: remove stale metadata: %v", ErrOperationFailed, err)
	}

	return &UploadResult{
		Key:         key,
		URL:         s.URL(key),
		Size:        int64(len(data)),
		ContentType: contentTypeOrDefault(contentType),
	}, nil
}

// Download reads the payload and its sidecar, if any.
func (s *LocalStorage) Download(ctx context.Context, key string) (*DownloadResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, contextError(err, "download")
	}

	absPath, err := s.resolvePath(key)
	if err != nil {
		return nil, err
	}

	info, err := s.statFile(absPath, key)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, translateFSError(err, key)
	}

	meta := s.readSidecar(absPath)
	return &DownloadResult{
		Key:          key,
		Data:         data,
		ContentType:  meta.ContentType,
		Size:         int64(len(data)),
		LastModified: info.ModTime().UTC(),
		Metadata:     meta.Metadata,
	}, nil
}

// Delete removes the payload and the sidecar. Missing files are ignored.
func (s *LocalStorage) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return contextError(err, "delete")
	}

	absPath, err := s.resolvePath(key)
	if err != nil {
		return err
	}

	info, err := os.Stat(absPath)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return fmt.Errorf("%w: stat: %v", ErrOperationFailed, err)
	case info.IsDir():
		// Safety check - prevent accidental directory deletion
		return fmt.Errorf("%w: %s is a directory", ErrInvalidKey, key)
	default:
		if err := removeIfExists(absPath); err != nil {
			return fmt.Errorf("%w: delete file: %v", ErrOperationFailed, err)
		}
	}

	if err := removeIfExists(absPath + sidecarSuffix); err != nil {
		return fmt.Errorf("%w: delete metadata: %v", ErrOperationFailed, err)
	}
	return nil
}

// Exists reports whether a regular file is stored under key.
func (s *LocalStorage) Exists(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, contextError(err, "exists")
	}

	absPath, err := s.resolvePath(key)
	if err != nil {
		return false, err
	}

	info, err := os.Stat(absPath)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: stat: %v", ErrOperationFailed, err)
	}
	return !info.IsDir(), nil
}

// GetURL returns baseURL + key. expiresIn is accepted and ignored.
func (s *LocalStorage) GetURL(_ context.Context, key string, _ time.Duration) (string, error) {
	if _, err := s.resolvePath(key); err != nil {
		return "", err
	}
	return s.URL(key), nil
}

// GetMetadata combines file info with the sidecar. Without a sidecar the
// content type is DefaultContentType and the metadata map is empty.
func (s *LocalStorage) GetMetadata(ctx context.Context, key string) (*FileMetadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, contextError(err, "get metadata")
	}

	absPath, err := s.resolvePath(key)
	if err != nil {
		return nil, err
	}

	info, err := s.statFile(absPath, key)
	if err != nil {
		return nil, err
	}

	meta := s.readSidecar(absPath)
	return &FileMetadata{
		Key:          key,
		Size:         info.Size(),
		ContentType:  meta.ContentType,
		LastModified: info.ModTime().UTC(),
		Metadata:     meta.Metadata,
	}, nil
}

// Copy duplicates the payload and the sidecar, if present.
func (s *LocalStorage) Copy(ctx context.Context, source, destination string) error {
	if err := ctx.Err(); err != nil {
		return contextError(err, "copy")
	}

	srcPath, err := s.resolvePath(source)
	if err != nil {
		return err
	}
	dstPath, err := s.resolvePath(destination)
	if err != nil {
		return err
	}

	if _, err := s.statFile(srcPath, source); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(dstPath), 0755); err != nil {
		return fmt.Errorf("%w: create directory: %v", ErrOperationFailed, err)
	}

	if err := copyFile(srcPath, dstPath); err != nil {
		return translateFSError(err, source)
	}

	err = copyFile(srcPath+sidecarSuffix, dstPath+sidecarSuffix)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		// No sidecar on the source; drop any stale one on the destination.
		if err := removeIfExists(dstPath + sidecarSuffix); err != nil {
			return fmt.Errorf("%w: remove stale metadata: %v", ErrOperationFailed, err)
		}
	case err != nil:
		return fmt.Errorf("%w: copy metadata: %v", ErrOperationFailed, err)
	}

	return nil
}

// GeneratePresignedURL returns the static URL for both operations;
// the local provider has nothing to sign.
func (s *LocalStorage) GeneratePresignedURL(ctx context.Context, key string, op Operation, expiresIn time.Duration) (string, error) {
	if !op.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidOperation, op)
	}
	return s.GetURL(ctx, key, expiresIn)
}

// URL returns the public URL for a key.
func (s *LocalStorage) URL(key string) string {
	key = filepath.ToSlash(filepath.Clean(key))
	return s.baseURL + strings.TrimPrefix(key, "/")
}

// resolvePath validates and resolves a key within the base directory.
// Ensures every resolved path stays within baseDir bounds.
func (s *LocalStorage) resolvePath(key string) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", fmt.Errorf("%w: empty key", ErrInvalidKey)
	}

	absPath, err := filepath.Abs(filepath.Join(s.baseDir, filepath.Clean(key)))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}

	if !strings.HasPrefix(absPath, s.baseDir+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrInvalidKey, key)
	}

	return absPath, nil
}

func (s *LocalStorage) statFile(absPath, key string) (fs.FileInfo, error) {
	info, err := os.Stat(absPath)
	if err != nil {
		return nil, translateFSError(err, key)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return info, nil
}

func (s *LocalStorage) writeSidecar(absPath string, meta sidecar) error {
	if meta.Metadata == nil {
		meta.Metadata = map[string]string{}
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("%w: encode metadata: %v", ErrOperationFailed, err)
	}
	if err := os.WriteFile(absPath+sidecarSuffix, raw, 0644); err != nil {
		return fmt.Errorf("%w: write metadata: %v", ErrOperationFailed, err)
	}
	return nil
}

// readSidecar never fails: a missing or unreadable sidecar yields defaults.
func (s *LocalStorage) readSidecar(absPath string) sidecar {
	meta := sidecar{ContentType: DefaultContentType, Metadata: map[string]string{}}

	raw, err := os.ReadFile(absPath + sidecarSuffix)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn("failed to read metadata sidecar", slog.String("path", absPath), slog.Any("error", err))
		}
		return meta
	}

	var stored sidecar
	if err := json.Unmarshal(raw, &stored); err != nil {
		s.logger.Warn("malformed metadata sidecar", slog.String("path", absPath), slog.Any("error", err))
		return meta
	}
	if stored.ContentType != "" {
		meta.ContentType = stored.ContentType
	}
	if stored.Metadata != nil {
		meta.Metadata = stored.Metadata
	}
	return meta
}

func translateFSError(err error, key string) error {
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return fmt.Errorf("%w: %v", ErrOperationFailed, err)
}

func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		_ = os.Remove(dst) // Clean up partial file
		return err
	}
	return out.Close()
}
