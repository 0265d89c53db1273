package storage_test

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/storagekit/pkg/storage"
)

type MockMinIOClient struct {
	mock.Mock
}

func (m *MockMinIOClient) PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	args := m.Called(ctx, bucketName, objectName, reader, objectSize, opts)
	return args.Get(0).(minio.UploadInfo), args.Error(1)
}

func (m *MockMinIOClient) StatObject(ctx context.Context, bucketName, objectName string, opts minio.StatObjectOptions) (minio.ObjectInfo, error) {
	args := m.Called(ctx, bucketName, objectName, opts)
	return args.Get(0).(minio.ObjectInfo), args.Error(1)
}

func (m *MockMinIOClient) RemoveObject(ctx context.Context, bucketName, objectName string, opts minio.RemoveObjectOptions) error {
	return m.Called(ctx, bucketName, objectName, opts).Error(0)
}

func (m *MockMinIOClient) CopyObject(ctx context.Context, dst minio.CopyDestOptions, src minio.CopySrcOptions) (minio.UploadInfo, error) {
	args := m.Called(ctx, dst, src)
	return args.Get(0).(minio.UploadInfo), args.Error(1)
}

func (m *MockMinIOClient) PresignedGetObject(ctx context.Context, bucketName, objectName string, expires time.Duration, reqParams url.Values) (*url.URL, error) {
	args := m.Called(ctx, bucketName, objectName, expires)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*url.URL), args.Error(1)
}

func (m *MockMinIOClient) PresignedPutObject(ctx context.Context, bucketName, objectName string, expires time.Duration) (*url.URL, error) {
	args := m.Called(ctx, bucketName, objectName, expires)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*url.URL), args.Error(1)
}

func (m *MockMinIOClient) OpenObject(ctx context.Context, bucketName, objectName string) (io.ReadCloser, error) {
	args := m.Called(ctx, bucketName, objectName)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(io.ReadCloser), args.Error(1)
}

var validMinIOConfig = storage.MinIOConfig{
	Endpoint:  "localhost:9000",
	Bucket:    "media",
	AccessKey: "minio",
	SecretKey: "minio123",
	UseSSL:    false,
}

var minioNoSuchKey = minio.ErrorResponse{Code: "NoSuchKey", StatusCode: http.StatusNotFound, Message: "The specified key does not exist."}

func newMockMinIO(t *testing.T) (*storage.MinIOStorage, *MockMinIOClient) {
	t.Helper()
	client := &MockMinIOClient{}
	s, err := storage.NewMinIOStorage(validMinIOConfig,
		storage.WithMinIOClient(client),
		storage.WithMinIOURLExpiry(30*time.Minute),
	)
	require.NoError(t, err)
	t.Cleanup(func() { client.AssertExpectations(t) })
	return s, client
}

func TestNewMinIOStorage(t *testing.T) {
	t.Parallel()

	t.Run("real client from config", func(t *testing.T) {
		t.Parallel()
		s, err := storage.NewMinIOStorage(validMinIOConfig)
		require.NoError(t, err)
		require.NotNil(t, s)
	})

	t.Run("missing endpoint", func(t *testing.T) {
		t.Parallel()
		cfg := validMinIOConfig
		cfg.Endpoint = ""
		_, err := storage.NewMinIOStorage(cfg)
		require.ErrorIs(t, err, storage.ErrInvalidConfig)
	})

	t.Run("missing credentials", func(t *testing.T) {
		t.Parallel()
		cfg := validMinIOConfig
		cfg.SecretKey = ""
		_, err := storage.NewMinIOStorage(cfg)
		require.ErrorIs(t, err, storage.ErrInvalidConfig)
	})
}

func TestMinIOStorage_UploadAndDownload(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, client := newMockMinIO(t)
	signed, _ := url.Parse("http://localhost:9000/media/a.txt?X-Amz-Signature=abc")

	client.On("PutObject", mock.Anything, "media", "a.txt", mock.Anything, int64(5), mock.MatchedBy(func(o minio.PutObjectOptions) bool {
		return o.ContentType == "text/plain" && o.UserMetadata["owner"] == "alice"
	})).Return(minio.UploadInfo{ETag: "etag-1", Size: 5}, nil)
	client.On("PresignedGetObject", mock.Anything, "media", "a.txt", 30*time.Minute).Return(signed, nil)

	res, err := s.Upload(ctx, "a.txt", []byte("hello"), "text/plain", map[string]string{"owner": "alice"})
	require.NoError(t, err)
	assert.Equal(t, "a.txt", res.Key)
	assert.Equal(t, "etag-1", res.ETag)
	assert.Equal(t, signed.String(), res.URL)

	client.On("StatObject", mock.Anything, "media", "a.txt", mock.Anything).Return(minio.ObjectInfo{
		Key:          "a.txt",
		Size:         5,
		ETag:         "etag-1",
		ContentType:  "text/plain",
		UserMetadata: minio.StringMap{"Owner": "alice"},
	}, nil)
	client.On("OpenObject", mock.Anything, "media", "a.txt").
		Return(io.NopCloser(bytes.NewReader([]byte("hello"))), nil)

	dl, err := s.Download(ctx, "a.txt")
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), dl.Data)
	assert.Equal(t, "text/plain", dl.ContentType)
	assert.Equal(t, "alice", dl.Metadata["Owner"])
}

func TestMinIOStorage_NotFound(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, client := newMockMinIO(t)

	client.On("StatObject", mock.Anything, "media", "missing", mock.Anything).
		Return(minio.ObjectInfo{}, minioNoSuchKey)
	client.On("RemoveObject", mock.Anything, "media", "missing", mock.Anything).
		Return(minioNoSuchKey)
	client.On("CopyObject", mock.Anything, mock.Anything, mock.MatchedBy(func(src minio.CopySrcOptions) bool {
		return src.Object == "missing"
	})).Return(minio.UploadInfo{}, minioNoSuchKey)

	_, err := s.Download(ctx, "missing")
	require.ErrorIs(t, err, storage.ErrNotFound)

	ok, err := s.Exists(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Delete(ctx, "missing"))
	require.ErrorIs(t, s.Copy(ctx, "missing", "dest"), storage.ErrNotFound)
}

func TestMinIOStorage_ErrorMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		code string
		want error
	}{
		{"AccessDenied", storage.ErrAccessDenied},
		{"SignatureDoesNotMatch", storage.ErrUnauthorized},
		{"SlowDown", storage.ErrTransient},
		{"NoSuchBucket", storage.ErrInvalidConfig},
		{"MalformedXML", storage.ErrOperationFailed},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			t.Parallel()
			s, client := newMockMinIO(t)
			client.On("StatObject", mock.Anything, "media", "k", mock.Anything).
				Return(minio.ObjectInfo{}, minio.ErrorResponse{Code: tt.code, StatusCode: http.StatusBadRequest})

			_, err := s.Exists(context.Background(), "k")
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestMinIOStorage_PresignedURLs(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, client := newMockMinIO(t)
	putURL, _ := url.Parse("http://localhost:9000/media/up.bin?X-Amz-Signature=put")

	client.On("PresignedPutObject", mock.Anything, "media", "up.bin", 5*time.Minute).Return(putURL, nil)

	u, err := s.GeneratePresignedURL(ctx, "up.bin", storage.OperationPut, 5*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, putURL.String(), u)

	_, err = s.GeneratePresignedURL(ctx, "up.bin", storage.Operation("head"), 0)
	require.ErrorIs(t, err, storage.ErrInvalidOperation)
}
