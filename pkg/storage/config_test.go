package storage_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/storagekit/pkg/storage"
)

func writeEnvFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

// Config tests mutate the process environment and cannot run in parallel.

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("STORAGE_PROVIDER", "")
	t.Setenv("STORAGE_LOCAL_PATH", "")

	path := writeEnvFile(t, "# nothing\n")
	cfg, err := storage.LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, time.Hour, cfg.URLExpiry)
	assert.Equal(t, "/uploads", cfg.LocalURL)
	assert.Equal(t, "us-east-1", cfg.S3.Region)
	assert.True(t, cfg.MinIO.UseSSL)
	assert.Equal(t, "https://api.backblazeb2.com", cfg.B2.APIURL)
	assert.Equal(t, 3, cfg.B2.MaxRetries)
	assert.Equal(t, time.Second, cfg.B2.RetryDelay)
	assert.Equal(t, 60*time.Second, cfg.B2.HTTPTimeout)
}

func TestLoadConfig_FromFile(t *testing.T) {
	for _, key := range []string{
		"STORAGE_PROVIDER", "B2_APPLICATION_KEY_ID", "B2_APPLICATION_KEY", "B2_BUCKET_ID",
		"B2_BUCKET_NAME", "B2_MAX_RETRIES", "B2_RETRY_DELAY", "B2_KEY_PREFIX", "S3_FORCE_PATH_STYLE",
	} {
		t.Setenv(key, "")
		require.NoError(t, os.Unsetenv(key))
	}

	path := writeEnvFile(t, `STORAGE_PROVIDER=backblaze-b2
B2_APPLICATION_KEY_ID=key-id
B2_APPLICATION_KEY=secret
B2_BUCKET_ID=bucket-1
B2_BUCKET_NAME=media
B2_MAX_RETRIES=5
B2_RETRY_DELAY=250ms
B2_KEY_PREFIX=tenant-a
S3_FORCE_PATH_STYLE=true
`)

	cfg, err := storage.LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "backblaze-b2", cfg.Provider)
	assert.Equal(t, "key-id", cfg.B2.KeyID)
	assert.Equal(t, "secret", cfg.B2.ApplicationKey)
	assert.Equal(t, "bucket-1", cfg.B2.BucketID)
	assert.Equal(t, "media", cfg.B2.BucketName)
	assert.Equal(t, 5, cfg.B2.MaxRetries)
	assert.Equal(t, 250*time.Millisecond, cfg.B2.RetryDelay)
	assert.Equal(t, "tenant-a", cfg.B2.KeyPrefix)
	assert.True(t, cfg.S3.ForcePathStyle)
}

func TestLoadConfig_EnvironmentWins(t *testing.T) {
	t.Setenv("STORAGE_LOCAL_PATH", "/srv/files")

	path := writeEnvFile(t, "STORAGE_LOCAL_PATH=/tmp/ignored\n")
	cfg, err := storage.LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "/srv/files", cfg.LocalPath)
}

func TestLoadConfig_Errors(t *testing.T) {
	t.Run("missing env file", func(t *testing.T) {
		_, err := storage.LoadConfig(filepath.Join(t.TempDir(), "nope.env"))
		require.ErrorIs(t, err, storage.ErrInvalidConfig)
	})

	t.Run("malformed duration", func(t *testing.T) {
		t.Setenv("STORAGE_URL_EXPIRY", "soon")
		_, err := storage.LoadConfig(writeEnvFile(t, ""))
		require.ErrorIs(t, err, storage.ErrInvalidConfig)
	})
}
