package storage_test

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/storagekit/pkg/storage"
)

func TestInstrument(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	local, _ := newLocal(t)
	reg := prometheus.NewRegistry()
	s := storage.Instrument(local, reg, "local")

	_, err := s.Upload(ctx, "a.txt", []byte("hello"), "text/plain", nil)
	require.NoError(t, err)
	_, err = s.Download(ctx, "a.txt")
	require.NoError(t, err)
	_, err = s.Download(ctx, "missing.txt")
	require.ErrorIs(t, err, storage.ErrNotFound)
	_, err = s.GetURL(ctx, "../escape", 0)
	require.ErrorIs(t, err, storage.ErrInvalidKey)

	count, err := testutil.GatherAndCount(reg, "storage_operations_total")
	require.NoError(t, err)
	assert.Equal(t, 4, count, "upload ok, download ok, download not_found, get_url error")

	n, err := testutil.GatherAndCount(reg, "storage_operation_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = testutil.GatherAndCount(reg, "storage_transferred_bytes_total")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestInstrument_SharedRegistry(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	a, _ := newLocal(t)
	b, _ := newLocal(t)

	require.NotPanics(t, func() {
		storage.Instrument(a, reg, "first")
		storage.Instrument(b, reg, "second")
	})
}
