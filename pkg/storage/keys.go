package storage

import (
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// GenerateKey builds an object key of the form
// folder[/prefix]/{unixMillis}-{token}-{sanitizedFileName}.
// The token is eight random hex characters, so two calls in the same
// millisecond still produce different keys.
//
// Example:
//
//	key := storage.GenerateKey("avatars", "My Photo.JPG", "user-42")
//	// avatars/user-42/1718000000000-9f86d081-My_Photo.JPG
func GenerateKey(folder, fileName, prefix string) string {
	token := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	name := strconv.FormatInt(time.Now().UnixMilli(), 10) + "-" + token + "-" + SanitizeFileName(fileName)

	parts := make([]string, 0, 3)
	if folder = strings.Trim(folder, "/"); folder != "" {
		parts = append(parts, folder)
	}
	if prefix = strings.Trim(prefix, "/"); prefix != "" {
		parts = append(parts, prefix)
	}
	return path.Join(append(parts, name)...)
}

// SanitizeFileName replaces every character outside [A-Za-z0-9.-] with '_'.
// Path separators are replaced too, so the result is always a single segment.
func SanitizeFileName(fileName string) string {
	var b strings.Builder
	b.Grow(len(fileName))
	for _, r := range fileName {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

// FileExtension returns the lowercase suffix after the last '.', without the dot.
// Names without a dot, or ending in one, have no extension.
func FileExtension(fileName string) string {
	i := strings.LastIndexByte(fileName, '.')
	if i < 0 || i == len(fileName)-1 {
		return ""
	}
	return strings.ToLower(fileName[i+1:])
}

// LogicalKey is the key callers see and pass around.
type LogicalKey string

// PhysicalKey is the name an object actually has inside a shared bucket.
type PhysicalKey string

// TenantPrefix namespaces several deployments inside one bucket.
// The zero value maps keys unchanged.
type TenantPrefix string

// Physical maps a caller key to the stored name.
func (p TenantPrefix) Physical(key LogicalKey) PhysicalKey {
	prefix := strings.Trim(string(p), "/")
	if prefix == "" {
		return PhysicalKey(key)
	}
	return PhysicalKey(prefix + "/" + strings.TrimPrefix(string(key), "/"))
}

// Logical strips the tenant prefix from a stored name. Names outside the
// prefix are returned unchanged.
func (p TenantPrefix) Logical(key PhysicalKey) LogicalKey {
	prefix := strings.Trim(string(p), "/")
	if prefix == "" {
		return LogicalKey(key)
	}
	return LogicalKey(strings.TrimPrefix(string(key), prefix+"/"))
}
