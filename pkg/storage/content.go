package storage

import (
	"fmt"
	"mime"
	"net/http"
	"slices"
	"strings"
)

var (
	imageContentTypes = map[string]bool{
		"image/jpeg":    true,
		"image/png":     true,
		"image/gif":     true,
		"image/webp":    true,
		"image/svg+xml": true,
		"image/bmp":     true,
		"image/tiff":    true,
		"image/heic":    true,
		"image/heif":    true,
		"image/avif":    true,
	}

	videoContentTypes = map[string]bool{
		"video/mp4":        true,
		"video/mpeg":       true,
		"video/ogg":        true,
		"video/webm":       true,
		"video/quicktime":  true,
		"video/x-msvideo":  true,
		"video/x-matroska": true,
	}

	audioContentTypes = map[string]bool{
		"audio/mpeg":  true,
		"audio/ogg":   true,
		"audio/wav":   true,
		"audio/wave":  true,
		"audio/webm":  true,
		"audio/aac":   true,
		"audio/mp4":   true,
		"audio/x-m4a": true,
		"audio/flac":  true,
	}
)

// DetectContentType sniffs the payload and falls back to the file extension
// when sniffing only finds generic binary data.
func DetectContentType(data []byte, fileName string) string {
	detected := http.DetectContentType(data)
	if detected != DefaultContentType {
		return detected
	}
	if ext := FileExtension(fileName); ext != "" {
		if byExt := mime.TypeByExtension("." + ext); byExt != "" {
			return byExt
		}
	}
	return DefaultContentType
}

// baseType strips parameters such as charset and lowercases the type.
func baseType(contentType string) string {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(contentType))
	}
	return mediaType
}

// IsImage reports whether contentType is a supported image type.
func IsImage(contentType string) bool { return imageContentTypes[baseType(contentType)] }

// IsVideo reports whether contentType is a supported video type.
func IsVideo(contentType string) bool { return videoContentTypes[baseType(contentType)] }

// IsAudio reports whether contentType is a supported audio type.
func IsAudio(contentType string) bool { return audioContentTypes[baseType(contentType)] }

// IsPDF reports whether contentType is application/pdf.
func IsPDF(contentType string) bool { return baseType(contentType) == "application/pdf" }

// ValidateSize checks the payload against maxBytes.
//
// Example:
//
//	if err := storage.ValidateSize(data, 5<<20); err != nil { // 5MB limit
//	    return err
//	}
func ValidateSize(data []byte, maxBytes int64) error {
	if int64(len(data)) > maxBytes {
		return fmt.Errorf("file size %d bytes exceeds %d bytes limit: %w", len(data), maxBytes, ErrFileTooLarge)
	}
	return nil
}

// ValidateContentType checks contentType against an allow list, ignoring parameters.
// Pass no types to allow everything.
func ValidateContentType(contentType string, allowedTypes ...string) error {
	if len(allowedTypes) == 0 {
		return nil
	}
	if slices.Contains(allowedTypes, baseType(contentType)) {
		return nil
	}
	return fmt.Errorf("content type %s not in allowed types %v: %w", contentType, allowedTypes, ErrContentTypeNotAllowed)
}

func contentTypeOrDefault(contentType string) string {
	if contentType == "" {
		return DefaultContentType
	}
	return contentType
}
