package b2

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

const (
	// DefaultAPIURL is the public entry point used for account authorization.
	DefaultAPIURL = "https://api.backblazeb2.com"
	// DefaultTimeout bounds a single HTTP attempt, connect through response body.
	DefaultTimeout = 60 * time.Second

	apiPrefix = "/b2api/v2/"

	headerFileName    = "X-Bz-File-Name"
	headerFileID      = "X-Bz-File-Id"
	headerContentSHA1 = "X-Bz-Content-Sha1"
	headerUploadTime  = "X-Bz-Upload-Timestamp"
	headerInfoPrefix  = "X-Bz-Info-"

	maxErrorBody = 64 << 10
)

// Client talks to the B2 native API. It is safe for concurrent use.
type Client struct {
	http   *retryablehttp.Client
	apiURL string
}

// Option configures Client.
type Option func(*clientOptions)

type clientOptions struct {
	apiURL     string
	policy     RetryPolicy
	httpClient *http.Client
	timeout    time.Duration
	logger     *slog.Logger
}

// WithAPIURL overrides the authorization endpoint base. Useful for tests.
func WithAPIURL(u string) Option {
	return func(o *clientOptions) {
		if u != "" {
			o.apiURL = strings.TrimRight(u, "/")
		}
	}
}

// WithRetryPolicy sets the retry policy shared by every call.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(o *clientOptions) {
		o.policy = p
	}
}

// WithHTTPClient sets the underlying HTTP client. Its Timeout is replaced only
// when WithTimeout is also given.
func WithHTTPClient(c *http.Client) Option {
	return func(o *clientOptions) {
		if c != nil {
			o.httpClient = c
		}
	}
}

// WithTimeout sets the per-attempt HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *clientOptions) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithLogger sets the logger used for request and retry diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(o *clientOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// NewClient builds a Client with DefaultAPIURL, DefaultRetryPolicy and DefaultTimeout
// unless overridden.
func NewClient(opts ...Option) *Client {
	o := &clientOptions{
		apiURL: DefaultAPIURL,
		policy: DefaultRetryPolicy(),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(o)
	}

	httpClient := &http.Client{Timeout: DefaultTimeout}
	if o.httpClient != nil {
		// Copy so a client shared with other code keeps its own Timeout.
		c := *o.httpClient
		httpClient = &c
	}
	if o.timeout > 0 {
		httpClient.Timeout = o.timeout
	}

	rc := retryablehttp.NewClient()
	rc.HTTPClient = httpClient
	rc.Logger = o.logger
	o.policy.apply(rc)

	return &Client{
		http:   rc,
		apiURL: o.apiURL,
	}
}

// AuthorizeAccount exchanges the key pair for an account token and the API and
// download base URLs.
func (c *Client) AuthorizeAccount(ctx context.Context, keyID, applicationKey string) (*Authorization, error) {
	if keyID == "" || applicationKey == "" {
		return nil, ErrMissingCredentials
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, c.apiURL+apiPrefix+"b2_authorize_account", nil)
	if err != nil {
		return nil, err
	}
	basic := base64.StdEncoding.EncodeToString([]byte(keyID + ":" + applicationKey))
	req.Header.Set("Authorization", "Basic "+basic)

	var auth Authorization
	if err := c.doJSON(req, &auth); err != nil {
		return nil, err
	}
	if auth.AuthorizationToken == "" || auth.APIURL == "" {
		return nil, fmt.Errorf("%w: authorization without token or api url", ErrInvalidResponse)
	}
	return &auth, nil
}

// GetUploadURL returns an upload URL and its own short-lived token for bucketID.
func (c *Client) GetUploadURL(ctx context.Context, auth *Authorization, bucketID string) (*UploadURL, error) {
	var up UploadURL
	if err := c.call(ctx, auth, "b2_get_upload_url", getUploadURLRequest{BucketID: bucketID}, &up); err != nil {
		return nil, err
	}
	if up.UploadURL == "" {
		return nil, fmt.Errorf("%w: empty upload url", ErrInvalidResponse)
	}
	return &up, nil
}

// UploadFile posts the whole payload to the upload URL in one request.
func (c *Client) UploadFile(ctx context.Context, up *UploadURL, in *UploadRequest) (*File, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, up.UploadURL, in.Data)
	if err != nil {
		return nil, err
	}
	req.ContentLength = int64(len(in.Data))
	req.Header.Set("Authorization", up.AuthorizationToken)
	req.Header.Set(headerFileName, EncodeFileName(in.FileName))
	req.Header.Set("Content-Type", in.ContentType)
	req.Header.Set(headerContentSHA1, in.ContentSHA1)
	for name, value := range in.Info {
		req.Header.Set(headerInfoPrefix+name, value)
	}

	var file File
	if err := c.doJSON(req, &file); err != nil {
		return nil, err
	}
	return &file, nil
}

// ListFileNames lists file names in a bucket in alphabetical order.
func (c *Client) ListFileNames(ctx context.Context, auth *Authorization, in ListFileNamesRequest) (*ListFileNamesResponse, error) {
	var out ListFileNamesResponse
	if err := c.call(ctx, auth, "b2_list_file_names", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteFileVersion deletes one version; B2 needs both the name and the id.
func (c *Client) DeleteFileVersion(ctx context.Context, auth *Authorization, fileName, fileID string) error {
	return c.call(ctx, auth, "b2_delete_file_version", deleteFileVersionRequest{FileName: fileName, FileID: fileID}, nil)
}

// CopyFile performs a server-side copy of the source file id to a new name.
func (c *Client) CopyFile(ctx context.Context, auth *Authorization, in CopyFileRequest) (*File, error) {
	var file File
	if err := c.call(ctx, auth, "b2_copy_file", in, &file); err != nil {
		return nil, err
	}
	return &file, nil
}

// GetDownloadAuthorization issues a token that grants downloads of names
// starting with FileNamePrefix for ValidDurationInSeconds.
func (c *Client) GetDownloadAuthorization(ctx context.Context, auth *Authorization, in DownloadAuthorizationRequest) (*DownloadAuthorization, error) {
	var out DownloadAuthorization
	if err := c.call(ctx, auth, "b2_get_download_authorization", in, &out); err != nil {
		return nil, err
	}
	if out.AuthorizationToken == "" {
		return nil, fmt.Errorf("%w: empty download authorization", ErrInvalidResponse)
	}
	return &out, nil
}

// DownloadFileByName fetches the file body with the account token.
func (c *Client) DownloadFileByName(ctx context.Context, auth *Authorization, bucketName, fileName string) (*Download, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, DownloadURL(auth.DownloadURL, bucketName, fileName), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", auth.AuthorizationToken)

	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("b2: read download body: %w", err)
	}

	dl := &Download{
		FileID:        resp.Header.Get(headerFileID),
		FileName:      fileName,
		ContentType:   resp.Header.Get("Content-Type"),
		ContentLength: int64(len(data)),
		ContentSHA1:   resp.Header.Get(headerContentSHA1),
		Info:          make(map[string]string),
		Data:          data,
	}
	if n, err := strconv.ParseInt(resp.Header.Get("Content-Length"), 10, 64); err == nil {
		dl.ContentLength = n
	}
	if ms, err := strconv.ParseInt(resp.Header.Get(headerUploadTime), 10, 64); err == nil {
		dl.UploadedAt = time.UnixMilli(ms).UTC()
	}
	for name, values := range resp.Header {
		if !strings.HasPrefix(name, headerInfoPrefix) || len(values) == 0 {
			continue
		}
		key := strings.ToLower(strings.TrimPrefix(name, headerInfoPrefix))
		value, err := url.PathUnescape(values[0])
		if err != nil {
			value = values[0]
		}
		dl.Info[key] = value
	}

	return dl, nil
}

// call POSTs a JSON body to an account-authorized API operation.
func (c *Client) call(ctx context.Context, auth *Authorization, operation string, in, out any) error {
	if auth == nil {
		return ErrMissingCredentials
	}
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("b2: encode %s request: %w", operation, err)
	}

	endpoint := strings.TrimRight(auth.APIURL, "/") + apiPrefix + operation
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", auth.AuthorizationToken)
	req.Header.Set("Content-Type", "application/json")

	return c.doJSON(req, out)
}

func (c *Client) doJSON(req *retryablehttp.Request, out any) error {
	resp, err := c.do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	return nil
}

// do runs the request through the retry policy and turns a final non-2xx
// response into *APIError.
func (c *Client) do(req *retryablehttp.Request) (*http.Response, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		if resp != nil {
			_ = resp.Body.Close()
		}
		return nil, err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		defer func() { _ = resp.Body.Close() }()
		return nil, decodeAPIError(resp)
	}
	return resp, nil
}

func decodeAPIError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	apiErr := &APIError{}
	if err := json.Unmarshal(raw, apiErr); err != nil || apiErr.Code == "" {
		apiErr.Code = strings.ReplaceAll(strings.ToLower(http.StatusText(resp.StatusCode)), " ", "_")
		apiErr.Message = strings.TrimSpace(string(raw))
	}
	if apiErr.Status == 0 {
		apiErr.Status = resp.StatusCode
	}
	return apiErr
}

// EncodeFileName percent-encodes a file name for the X-Bz-File-Name header
// and download paths, keeping '/' separators.
func EncodeFileName(name string) string {
	segments := strings.Split(name, "/")
	for i, s := range segments {
		segments[i] = strings.ReplaceAll(url.PathEscape(s), "+", "%2B")
	}
	return strings.Join(segments, "/")
}

// DownloadURL builds the download-by-name URL for a file.
func DownloadURL(downloadBase, bucketName, fileName string) string {
	return strings.TrimRight(downloadBase, "/") + "/file/" + url.PathEscape(bucketName) + "/" + EncodeFileName(fileName)
}

// AuthorizedDownloadURL appends a download authorization token to the download URL.
func AuthorizedDownloadURL(downloadBase, bucketName, fileName, token string) string {
	return DownloadURL(downloadBase, bucketName, fileName) + "?Authorization=" + url.QueryEscape(token)
}
