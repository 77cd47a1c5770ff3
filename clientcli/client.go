package clientcli

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
)

const (
	// DefaultTimeout is the default HTTP client timeout.
	DefaultTimeout = 30 * time.Second

	// DefaultPresignTTL is the default pre-signed URL lifetime.
	DefaultPresignTTL = 15 * time.Minute

	// DefaultChunkSize is the default multipart chunk size (8 MiB).
	DefaultChunkSize = 8 << 20
)

// Client performs operations against a carton server.
type Client struct {
	config     *Config
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// New creates a new Client with the given config and options.
func New(cfg *Config, opts ...Option) (*Client, error) {
	if cfg == nil {
		return nil, ErrConfigRequired
	}

	cfg = cfg.WithDefaults()

	c := &Client{
		config: &Config{
			Endpoint: strings.TrimSuffix(cfg.Endpoint, "/"),
			OwnerID:  cfg.OwnerID,
		},
		httpClient: &http.Client{Timeout: DefaultTimeout},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// Upload uploads a local file. The whole file is hashed up front so the
// server can verify the bytes it commits.
func (c *Client) Upload(ctx context.Context, opts UploadOptions) (UploadResult, error) {
	if opts.LocalPath == "" {
		return UploadResult{}, fmt.Errorf("upload: %w", ErrEmptyPath)
	}
	if opts.Key == "" {
		opts.Key = filepath.Base(opts.LocalPath)
	}
	if opts.ContentType == "" {
		opts.ContentType = detectContentType(opts.LocalPath)
	}
	if opts.Checksum == "" {
		sum, err := hashFile(opts.LocalPath)
		if err != nil {
			return UploadResult{}, fmt.Errorf("hash local file: %w", err)
		}
		opts.Checksum = sum
	}

	if opts.Multipart {
		return c.uploadMultipart(ctx, opts)
	}

	f, err := os.Open(filepath.Clean(opts.LocalPath))
	if err != nil {
		return UploadResult{}, fmt.Errorf("open local file: %w", err)
	}
	defer func() { _ = f.Close() }()

	uploadURL := c.objectURL(opts.Bucket, opts.Key, "")
	if opts.Presigned {
		uploadURL, err = c.presign(ctx, opts.Bucket, opts.Key, "", "upload")
		if err != nil {
			return UploadResult{}, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, uploadURL, f)
	if err != nil {
		return UploadResult{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", opts.ContentType)
	req.Header.Set("X-Expected-Checksum", opts.Checksum)
	if c.config.OwnerID != "" {
		req.Header.Set("X-Owner-Id", c.config.OwnerID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return UploadResult{}, fmt.Errorf("upload request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return UploadResult{}, decodeError(resp)
	}

	var obj serverObject
	if err := json.NewDecoder(resp.Body).Decode(&obj); err != nil {
		return UploadResult{}, fmt.Errorf("decode response: %w", err)
	}

	return uploadResultFrom(opts.LocalPath, obj), nil
}

// uploadMultipart streams the file through a multipart session chunk by
// chunk, then completes the session.
func (c *Client) uploadMultipart(ctx context.Context, opts UploadOptions) (UploadResult, error) {
	chunkSize := opts.ChunkSize
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	f, err := os.Open(filepath.Clean(opts.LocalPath))
	if err != nil {
		return UploadResult{}, fmt.Errorf("open local file: %w", err)
	}
	defer func() { _ = f.Close() }()

	initBody, err := json.Marshal(map[string]string{
		"bucket":         opts.Bucket,
		"key":            opts.Key,
		"content_type":   opts.ContentType,
		"final_checksum": opts.Checksum,
	})
	if err != nil {
		return UploadResult{}, fmt.Errorf("marshal initiate request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.Endpoint+"/mpu", bytes.NewReader(initBody))
	if err != nil {
		return UploadResult{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.config.OwnerID != "" {
		req.Header.Set("X-Owner-Id", c.config.OwnerID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return UploadResult{}, fmt.Errorf("initiate request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusCreated {
		return UploadResult{}, decodeError(resp)
	}

	var upload serverUpload
	if err := json.NewDecoder(resp.Body).Decode(&upload); err != nil {
		return UploadResult{}, fmt.Errorf("decode initiate response: %w", err)
	}

	buf := make([]byte, chunkSize)
	for index := 0; ; index++ {
		n, readErr := io.ReadFull(f, buf)
		if readErr == io.EOF {
			// An empty file still needs chunk 0 so completion has
			// something to assemble.
			if index > 0 {
				break
			}
		} else if readErr != nil && readErr != io.ErrUnexpectedEOF {
			return UploadResult{}, fmt.Errorf("read chunk %d: %w", index, readErr)
		}

		if err := c.putChunk(ctx, upload.ID, index, buf[:n]); err != nil {
			c.abortQuietly(ctx, upload.ID)
			return UploadResult{}, err
		}

		if readErr == io.EOF || readErr == io.ErrUnexpectedEOF {
			break
		}
	}

	obj, err := c.completeUpload(ctx, upload.ID)
	if err != nil {
		return UploadResult{}, err
	}

	return uploadResultFrom(opts.LocalPath, obj), nil
}

func (c *Client) putChunk(ctx context.Context, uploadID string, index int, data []byte) error {
	sum := sha256.Sum256(data)

	chunkURL := fmt.Sprintf("%s/mpu/%s/%d", c.config.Endpoint, url.PathEscape(uploadID), index)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, chunkURL, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("X-Chunk-Checksum", hex.EncodeToString(sum[:]))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("chunk %d request: %w", index, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return decodeError(resp)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func (c *Client) completeUpload(ctx context.Context, uploadID string) (serverObject, error) {
	completeURL := fmt.Sprintf("%s/mpu/%s/complete", c.config.Endpoint, url.PathEscape(uploadID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, completeURL, http.NoBody)
	if err != nil {
		return serverObject{}, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return serverObject{}, fmt.Errorf("complete request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return serverObject{}, decodeError(resp)
	}

	var obj serverObject
	if err := json.NewDecoder(resp.Body).Decode(&obj); err != nil {
		return serverObject{}, fmt.Errorf("decode complete response: %w", err)
	}
	return obj, nil
}

func (c *Client) abortQuietly(ctx context.Context, uploadID string) {
	abortURL := fmt.Sprintf("%s/mpu/%s", c.config.Endpoint, url.PathEscape(uploadID))
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, abortURL, http.NoBody)
	if err != nil {
		return
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return
	}
	_ = resp.Body.Close()
}

// Download retrieves an object and verifies the reported checksum against
// the bytes it received.
func (c *Client) Download(ctx context.Context, opts DownloadOptions) (DownloadResult, error) {
	if opts.Key == "" {
		return DownloadResult{}, fmt.Errorf("download: %w", ErrEmptyPath)
	}

	downloadURL := c.objectURL(opts.Bucket, opts.Key, opts.Version)
	if opts.Presigned {
		var err error
		downloadURL, err = c.presign(ctx, opts.Bucket, opts.Key, opts.Version, "download")
		if err != nil {
			return DownloadResult{}, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, downloadURL, http.NoBody)
	if err != nil {
		return DownloadResult{}, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return DownloadResult{}, fmt.Errorf("download request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return DownloadResult{}, decodeError(resp)
	}

	localPath := opts.LocalPath
	if localPath == "" {
		localPath = path.Base(opts.Key)
	}

	var out io.Writer
	var outFile *os.File
	if localPath == "-" {
		out = os.Stdout
	} else {
		outFile, err = os.Create(filepath.Clean(localPath))
		if err != nil {
			return DownloadResult{}, fmt.Errorf("create local file: %w", err)
		}
		defer func() { _ = outFile.Close() }()
		out = outFile
	}

	hasher := sha256.New()
	size, err := io.Copy(io.MultiWriter(out, hasher), resp.Body)
	if err != nil {
		return DownloadResult{}, fmt.Errorf("write local file: %w", err)
	}

	checksum := hex.EncodeToString(hasher.Sum(nil))
	if reported := resp.Header.Get("X-Checksum"); reported != "" && reported != checksum {
		return DownloadResult{}, fmt.Errorf("checksum mismatch: server reported %s, received %s", reported, checksum)
	}

	return DownloadResult{
		Bucket:      opts.Bucket,
		Key:         opts.Key,
		LocalPath:   localPath,
		Checksum:    checksum,
		ContentType: resp.Header.Get("Content-Type"),
		Size:        size,
	}, nil
}

// Delete removes objects from the server.
func (c *Client) Delete(ctx context.Context, opts DeleteOptions) ([]DeleteResult, error) {
	if len(opts.Keys) == 0 {
		return nil, fmt.Errorf("delete: %w", ErrNoKeys)
	}

	results := make([]DeleteResult, 0, len(opts.Keys))
	for _, key := range opts.Keys {
		err := c.deleteOne(ctx, opts.Bucket, key, opts.Version, opts.Presigned)
		results = append(results, DeleteResult{
			Bucket:  opts.Bucket,
			Key:     key,
			Deleted: err == nil,
			Err:     err,
		})
	}
	return results, nil
}

func (c *Client) deleteOne(ctx context.Context, bucket, key, version string, presigned bool) error {
	deleteURL := c.objectURL(bucket, key, version)
	if presigned {
		var err error
		deleteURL, err = c.presign(ctx, bucket, key, version, "delete")
		if err != nil {
			return err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, deleteURL, http.NoBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("delete request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusNoContent {
		return decodeError(resp)
	}
	return nil
}

// List returns the objects registered in a bucket.
func (c *Client) List(ctx context.Context, bucket string) (*ListResult, error) {
	listURL := c.config.Endpoint + "/b/" + url.PathEscape(bucket)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, listURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, decodeError(resp)
	}

	var listed serverListResult
	if err := json.NewDecoder(resp.Body).Decode(&listed); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	result := &ListResult{Bucket: bucket, Items: make([]ObjectInfo, len(listed.Items))}
	for i, rec := range listed.Items {
		result.Items[i] = ObjectInfo{
			Bucket:      rec.Bucket,
			Key:         rec.Key,
			Version:     rec.Version,
			Checksum:    rec.Checksum,
			Size:        rec.SizeBytes,
			ContentType: rec.ContentType,
			CommittedAt: rec.CommittedAt,
		}
	}
	return result, nil
}

// Presign asks the server for a pre-signed URL.
func (c *Client) Presign(ctx context.Context, bucket, key, version, operation string, ttl time.Duration) (string, time.Time, error) {
	if ttl <= 0 {
		ttl = DefaultPresignTTL
	}

	body, err := json.Marshal(map[string]any{
		"bucket":      bucket,
		"key":         key,
		"version":     version,
		"operation":   operation,
		"ttl_seconds": int64(ttl / time.Second),
	})
	if err != nil {
		return "", time.Time{}, fmt.Errorf("marshal presign request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.Endpoint+"/presign", bytes.NewReader(body))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("presign request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", time.Time{}, decodeError(resp)
	}

	var signed serverPresign
	if err := json.NewDecoder(resp.Body).Decode(&signed); err != nil {
		return "", time.Time{}, fmt.Errorf("decode response: %w", err)
	}
	return signed.URL, signed.ExpiresAt, nil
}

func (c *Client) presign(ctx context.Context, bucket, key, version, operation string) (string, error) {
	signed, _, err := c.Presign(ctx, bucket, key, version, operation, DefaultPresignTTL)
	return signed, err
}

// objectURL builds the direct object URL for a bucket/key pair.
func (c *Client) objectURL(bucket, key, version string) string {
	segments := strings.Split(key, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}

	u := c.config.Endpoint + "/o/" + url.PathEscape(bucket) + "/" + strings.Join(segments, "/")
	if version != "" {
		u += "?version=" + url.QueryEscape(version)
	}
	return u
}

// hashFile returns the hex SHA-256 of a local file.
func hashFile(localPath string) (string, error) {
	f, err := os.Open(filepath.Clean(localPath))
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// detectContentType guesses the content type from the file extension.
func detectContentType(localPath string) string {
	if ct := mime.TypeByExtension(filepath.Ext(localPath)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

// decodeError converts an error response body into an error.
func decodeError(resp *http.Response) error {
	var se serverError
	if err := json.NewDecoder(resp.Body).Decode(&se); err == nil && se.Message != "" {
		return fmt.Errorf("server error (%d %s): %s", resp.StatusCode, se.Error, se.Message)
	}
	return fmt.Errorf("server error: %s", resp.Status)
}

func uploadResultFrom(localPath string, obj serverObject) UploadResult {
	return UploadResult{
		LocalPath:   localPath,
		Bucket:      obj.Bucket,
		Key:         obj.Key,
		Version:     obj.Version,
		Checksum:    obj.Checksum,
		ContentType: obj.ContentType,
		Size:        obj.SizeBytes,
		CommittedAt: obj.LastModified,
	}
}
