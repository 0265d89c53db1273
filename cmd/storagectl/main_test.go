package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/storagekit/pkg/storage"
)

// localEnv points the CLI at a fresh local store. Tests using it change the
// process environment and must not run in parallel.
func localEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("STORAGE_PROVIDER", "local")
	t.Setenv("STORAGE_LOCAL_PATH", dir)
	t.Setenv("STORAGE_LOCAL_URL", "/files")
	return dir
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestStoragectl_Lifecycle(t *testing.T) {
	localEnv(t)

	src := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(src, []byte("hello storage"), 0600))

	out, err := run(t, "upload", "docs/notes.txt", src, "--meta", "owner=alice")
	require.NoError(t, err)

	var res storage.UploadResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, "docs/notes.txt", res.Key)
	assert.Equal(t, int64(13), res.Size)
	assert.True(t, strings.HasPrefix(res.ContentType, "text/plain"))

	out, err = run(t, "exists", "docs/notes.txt")
	require.NoError(t, err)
	assert.Equal(t, "true\n", out)

	out, err = run(t, "download", "docs/notes.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello storage", out)

	out, err = run(t, "meta", "docs/notes.txt")
	require.NoError(t, err)
	var md storage.FileMetadata
	require.NoError(t, json.Unmarshal([]byte(out), &md))
	assert.Equal(t, "alice", md.Metadata["owner"])

	_, err = run(t, "copy", "docs/notes.txt", "docs/copy.txt")
	require.NoError(t, err)

	dst := filepath.Join(t.TempDir(), "copy.txt")
	_, err = run(t, "download", "docs/copy.txt", "-o", dst)
	require.NoError(t, err)
	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "hello storage", string(data))

	out, err = run(t, "url", "docs/notes.txt")
	require.NoError(t, err)
	assert.Equal(t, "/files/docs/notes.txt\n", out)

	_, err = run(t, "delete", "docs/notes.txt")
	require.NoError(t, err)
	_, err = run(t, "delete", "docs/notes.txt")
	require.NoError(t, err)

	out, err = run(t, "exists", "docs/notes.txt")
	require.NoError(t, err)
	assert.Equal(t, "false\n", out)
}

func TestStoragectl_Errors(t *testing.T) {
	localEnv(t)

	_, err := run(t, "download", "missing.txt")
	require.ErrorIs(t, err, storage.ErrNotFound)

	_, err = run(t, "presign", "a.txt", "--op", "head")
	require.ErrorIs(t, err, storage.ErrInvalidOperation)

	_, err = run(t, "exists", "a.txt", "--log-format", "xml")
	require.Error(t, err)

	_, err = run(t, "exists", "a.txt", "--env-file", filepath.Join(t.TempDir(), "none.env"))
	require.ErrorIs(t, err, storage.ErrInvalidConfig)

	_, err = run(t, "copy", "only-one-arg")
	require.Error(t, err)
}

func TestStoragectl_MissingCloudCredentials(t *testing.T) {
	localEnv(t)
	t.Setenv("STORAGE_PROVIDER", "s3")
	t.Setenv("S3_BUCKET", "")
	t.Setenv("S3_ACCESS_KEY_ID", "")

	_, err := run(t, "exists", "a.txt")
	require.ErrorIs(t, err, storage.ErrInvalidConfig)
}

func TestStoragectl_Key(t *testing.T) {
	out, err := run(t, "key", "My Photo.JPG", "--folder", "avatars", "--prefix", "user-42")
	require.NoError(t, err)
	assert.Regexp(t, `^avatars/user-42/\d+-[0-9a-f]{8}-My_Photo\.JPG\n$`, out)
}
