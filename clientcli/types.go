package clientcli

import "time"

// UploadOptions configures an upload operation.
type UploadOptions struct {
	LocalPath   string
	Bucket      string
	Key         string // optional, derived from the local file name if empty
	ContentType string // optional, auto-detect if empty
	Checksum    string // optional hex SHA-256 the server must verify
	Presigned   bool   // route the upload through a pre-signed URL
	Multipart   bool   // upload in chunks through a multipart session
	ChunkSize   int64  // chunk size for multipart uploads
}

// UploadResult represents the result of uploading a single file.
type UploadResult struct {
	LocalPath   string    `json:"local_path"`
	Bucket      string    `json:"bucket"`
	Key         string    `json:"key"`
	Version     string    `json:"version"`
	Checksum    string    `json:"checksum"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size_bytes"`
	CommittedAt time.Time `json:"committed_at"`
	Err         error     `json:"-"` // nil on success
}

// DownloadOptions configures a download operation.
type DownloadOptions struct {
	Bucket    string
	Key       string
	Version   string // empty = latest
	LocalPath string // empty = derive from key, "-" = stdout
	Presigned bool   // route the download through a pre-signed URL
}

// DownloadResult represents the result of downloading a file.
type DownloadResult struct {
	Bucket      string `json:"bucket"`
	Key         string `json:"key"`
	LocalPath   string `json:"local_path"`
	Checksum    string `json:"checksum"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size_bytes"`
}

// DeleteOptions configures a delete operation.
type DeleteOptions struct {
	Bucket    string
	Keys      []string
	Version   string // empty = latest
	Presigned bool   // route the deletes through pre-signed URLs
}

// DeleteResult represents the result of deleting a single object.
type DeleteResult struct {
	Bucket  string `json:"bucket"`
	Key     string `json:"key"`
	Deleted bool   `json:"deleted"`
	Err     error  `json:"-"` // nil on success
}

// ObjectInfo represents registry metadata for a single object.
type ObjectInfo struct {
	Bucket      string    `json:"bucket"`
	Key         string    `json:"key"`
	Version     string    `json:"version"`
	Checksum    string    `json:"checksum"`
	Size        int64     `json:"size_bytes"`
	ContentType string    `json:"content_type"`
	CommittedAt time.Time `json:"committed_at"`
}

// ListResult contains the objects registered in a bucket.
type ListResult struct {
	Bucket string       `json:"bucket"`
	Items  []ObjectInfo `json:"items"`
}

// TotalSize returns the combined size of all listed objects.
func (r *ListResult) TotalSize() int64 {
	var total int64
	for i := range r.Items {
		total += r.Items[i].Size
	}
	return total
}

// serverObject mirrors the committed-object JSON response from the server.
type serverObject struct {
	Bucket       string    `json:"bucket"`
	Key          string    `json:"key"`
	Version      string    `json:"version"`
	Checksum     string    `json:"checksum"`
	SizeBytes    int64     `json:"size_bytes"`
	ContentType  string    `json:"content_type"`
	LastModified time.Time `json:"last_modified"`
}

// serverRecord mirrors the registry-record JSON response from the server.
type serverRecord struct {
	Bucket      string    `json:"bucket"`
	Key         string    `json:"key"`
	Version     string    `json:"version"`
	Checksum    string    `json:"checksum"`
	SizeBytes   int64     `json:"size_bytes"`
	ContentType string    `json:"content_type"`
	CommittedAt time.Time `json:"committed_at"`
}

// serverListResult mirrors the JSON response from the server for list operations.
type serverListResult struct {
	Items []serverRecord `json:"items"`
}

// serverPresign mirrors the pre-signed URL JSON response from the server.
type serverPresign struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

// serverUpload mirrors the multipart-upload JSON response from the server.
type serverUpload struct {
	ID string `json:"id"`
}

// serverError mirrors the error JSON response from the server.
type serverError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}
