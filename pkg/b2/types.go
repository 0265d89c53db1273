package b2

import "time"

// Authorization is the result of b2_authorize_account.
type Authorization struct {
	AccountID           string  `json:"accountId"`
	AuthorizationToken  string  `json:"authorizationToken"`
	APIURL              string  `json:"apiUrl"`
	DownloadURL         string  `json:"downloadUrl"`
	RecommendedPartSize int64   `json:"recommendedPartSize"`
	Allowed             Allowed `json:"allowed"`
}

// Allowed describes the restrictions attached to an application key.
// BucketID is empty for keys that are not bucket-restricted.
type Allowed struct {
	BucketID     string   `json:"bucketId"`
	BucketName   string   `json:"bucketName"`
	Capabilities []string `json:"capabilities"`
	NamePrefix   string   `json:"namePrefix"`
}

// UploadURL is the result of b2_get_upload_url. The token is only valid for UploadURL.
type UploadURL struct {
	BucketID           string `json:"bucketId"`
	UploadURL          string `json:"uploadUrl"`
	AuthorizationToken string `json:"authorizationToken"`
}

// File is a file version as reported by upload, list and copy calls.
type File struct {
	AccountID       string            `json:"accountId"`
	Action          string            `json:"action"`
	BucketID        string            `json:"bucketId"`
	ContentLength   int64             `json:"contentLength"`
	ContentSHA1     string            `json:"contentSha1"`
	ContentType     string            `json:"contentType"`
	FileID          string            `json:"fileId"`
	FileInfo        map[string]string `json:"fileInfo"`
	FileName        string            `json:"fileName"`
	UploadTimestamp int64             `json:"uploadTimestamp"`
}

// UploadedAt converts the millisecond upload timestamp.
func (f File) UploadedAt() time.Time {
	if f.UploadTimestamp == 0 {
		return time.Time{}
	}
	return time.UnixMilli(f.UploadTimestamp).UTC()
}

// UploadRequest describes a single-request upload.
// Info entries are sent verbatim as X-Bz-Info-* headers; callers sanitize them.
type UploadRequest struct {
	FileName    string
	ContentType string
	ContentSHA1 string
	Data        []byte
	Info        map[string]string
}

// ListFileNamesRequest is the body of b2_list_file_names.
type ListFileNamesRequest struct {
	BucketID      string `json:"bucketId"`
	StartFileName string `json:"startFileName,omitempty"`
	MaxFileCount  int    `json:"maxFileCount,omitempty"`
	Prefix        string `json:"prefix,omitempty"`
	Delimiter     string `json:"delimiter,omitempty"`
}

// ListFileNamesResponse is one page of file names. NextFileName is nil on the last page.
type ListFileNamesResponse struct {
	Files        []File  `json:"files"`
	NextFileName *string `json:"nextFileName"`
}

// CopyFileRequest is the body of b2_copy_file.
type CopyFileRequest struct {
	SourceFileID        string `json:"sourceFileId"`
	DestinationBucketID string `json:"destinationBucketId,omitempty"`
	FileName            string `json:"fileName"`
	MetadataDirective   string `json:"metadataDirective,omitempty"`
}

// DownloadAuthorizationRequest is the body of b2_get_download_authorization.
type DownloadAuthorizationRequest struct {
	BucketID               string `json:"bucketId"`
	FileNamePrefix         string `json:"fileNamePrefix"`
	ValidDurationInSeconds int64  `json:"validDurationInSeconds"`
}

// DownloadAuthorization is a token usable as the Authorization query parameter of download URLs.
type DownloadAuthorization struct {
	BucketID           string `json:"bucketId"`
	FileNamePrefix     string `json:"fileNamePrefix"`
	AuthorizationToken string `json:"authorizationToken"`
}

// Download is a fully buffered file body plus the headers describing it.
type Download struct {
	FileID        string
	FileName      string
	ContentType   string
	ContentLength int64
	ContentSHA1   string
	UploadedAt    time.Time
	Info          map[string]string
	Data          []byte
}

type deleteFileVersionRequest struct {
	FileName string `json:"fileName"`
	FileID   string `json:"fileId"`
}

type getUploadURLRequest struct {
	BucketID string `json:"bucketId"`
}
