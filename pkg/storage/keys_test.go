package storage_test

import (
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/storagekit/pkg/storage"
)

func TestGenerateKey(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		folder   string
		fileName string
		prefix   string
		pattern  string
	}{
		{
			name:     "folder only",
			folder:   "avatars",
			fileName: "photo.png",
			pattern:  `^avatars/\d+-[0-9a-f]{8}-photo\.png$`,
		},
		{
			name:     "folder and prefix",
			folder:   "avatars",
			fileName: "photo.png",
			prefix:   "user-42",
			pattern:  `^avatars/user-42/\d+-[0-9a-f]{8}-photo\.png$`,
		},
		{
			name:     "slashes are trimmed",
			folder:   "/docs/",
			fileName: "a.pdf",
			prefix:   "/tenant/",
			pattern:  `^docs/tenant/\d+-[0-9a-f]{8}-a\.pdf$`,
		},
		{
			name:     "unsafe file name",
			folder:   "uploads",
			fileName: "My Photo (1).JPG",
			pattern:  `^uploads/\d+-[0-9a-f]{8}-My_Photo__1_\.JPG$`,
		},
		{
			name:     "path in file name",
			folder:   "uploads",
			fileName: "../../etc/passwd",
			pattern:  `^uploads/\d+-[0-9a-f]{8}-\.\._\.\._etc_passwd$`,
		},
		{
			name:     "empty folder",
			fileName: "x.txt",
			pattern:  `^\d+-[0-9a-f]{8}-x\.txt$`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			key := storage.GenerateKey(tt.folder, tt.fileName, tt.prefix)
			assert.Regexp(t, regexp.MustCompile(tt.pattern), key)
		})
	}
}

func TestGenerateKey_Unique(t *testing.T) {
	t.Parallel()

	seen := make(map[string]struct{}, 1000)
	for range 1000 {
		key := storage.GenerateKey("f", "same.txt", "")
		_, dup := seen[key]
		require.False(t, dup, "duplicate key %s", key)
		seen[key] = struct{}{}
	}
}

func TestSanitizeFileName(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"simple.txt":         "simple.txt",
		"with space.txt":     "with_space.txt",
		"ünïcödé.png":        "_n_c_d_.png",
		"a/b\\c.txt":         "a_b_c.txt",
		"keep-dash.tar.gz":   "keep-dash.tar.gz",
		"under_score.md":     "under_score.md",
		"":                   "",
		"semi;colon&amp.csv": "semi_colon_amp.csv",
	}

	for in, want := range tests {
		got := storage.SanitizeFileName(in)
		assert.Equal(t, want, got, "input %q", in)
		assert.Regexp(t, `^[A-Za-z0-9._-]*$`, got)
	}
}

func TestFileExtension(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"photo.JPG":       "jpg",
		"archive.tar.gz":  "gz",
		"noext":           "",
		"trailing.":       "",
		".gitignore":      "gitignore",
		"":                "",
		"UPPER.PDF":       "pdf",
		"multi.dots.Webp": "webp",
	}

	for in, want := range tests {
		assert.Equal(t, want, storage.FileExtension(in), "input %q", in)
	}
}

func TestTenantPrefix(t *testing.T) {
	t.Parallel()

	t.Run("zero value is identity", func(t *testing.T) {
		t.Parallel()
		var p storage.TenantPrefix
		assert.Equal(t, storage.PhysicalKey("a/b.txt"), p.Physical("a/b.txt"))
		assert.Equal(t, storage.LogicalKey("a/b.txt"), p.Logical("a/b.txt"))
	})

	t.Run("round trip", func(t *testing.T) {
		t.Parallel()
		p := storage.TenantPrefix("/acme/")
		physical := p.Physical("docs/report.pdf")
		assert.Equal(t, storage.PhysicalKey("acme/docs/report.pdf"), physical)
		assert.Equal(t, storage.LogicalKey("docs/report.pdf"), p.Logical(physical))
	})

	t.Run("leading slash on key", func(t *testing.T) {
		t.Parallel()
		p := storage.TenantPrefix("acme")
		assert.Equal(t, storage.PhysicalKey("acme/x"), p.Physical("/x"))
	})

	t.Run("foreign names are unchanged", func(t *testing.T) {
		t.Parallel()
		p := storage.TenantPrefix("acme")
		assert.Equal(t, storage.LogicalKey("other/x"), p.Logical("other/x"))
		assert.False(t, strings.HasPrefix(string(p.Logical("acme/x")), "acme"))
	})
}
