package carton

import (
	"fmt"
	"io"
	"time"
)

// ObjectRef identifies one object version. It is constructed per request and
// never persisted; the resolved filesystem path is its storage. An empty
// Version resolves to the "latest" alias. Checksum, when set, is a hex
// SHA-256 expectation enforced at commit time.
type ObjectRef struct {
	Bucket   string
	Key      string
	Version  string
	Checksum string
}

// Validate checks that the reference names a bucket and a key.
func (r ObjectRef) Validate() error {
	if r.Bucket == "" {
		return fmt.Errorf("%w: bucket cannot be empty", ErrInvalidArgument)
	}
	if r.Key == "" {
		return fmt.Errorf("%w: key cannot be empty", ErrInvalidArgument)
	}
	return nil
}

// CommittedObject is the durable result of a successful store. It is created
// only by an atomic rename and is immutable until explicitly deleted.
type CommittedObject struct {
	Bucket       string    `json:"bucket"`
	Key          string    `json:"key"`
	Version      string    `json:"version"`
	Checksum     string    `json:"checksum"`
	SizeBytes    int64     `json:"size_bytes"`
	ContentType  string    `json:"content_type"`
	LastModified time.Time `json:"last_modified"`
}

// ObjectStream carries object bytes alongside the metadata a caller needs to
// self-verify integrity on the wire. For range reads, Length is the number of
// bytes the stream yields and TotalBytes the full object size.
//
// The caller owns Content and must close it; Close releases the underlying
// file handle on every path, including early abandonment.
type ObjectStream struct {
	Content      io.ReadCloser
	ContentType  string
	Checksum     string
	Length       int64
	TotalBytes   int64
	LastModified time.Time
}

// UploadStatus is the lifecycle state of a multipart upload. The machine is
// strict: IN_PROGRESS may move to exactly one of the terminal states, and
// terminal uploads accept no further operations.
type UploadStatus string

const (
	UploadInProgress UploadStatus = "IN_PROGRESS"
	UploadCompleted  UploadStatus = "COMPLETED"
	UploadAborted    UploadStatus = "ABORTED"
	UploadExpired    UploadStatus = "EXPIRED"
)

// Terminal reports whether the status admits no further transitions.
func (s UploadStatus) Terminal() bool {
	switch s {
	case UploadCompleted, UploadAborted, UploadExpired:
		return true
	default:
		return false
	}
}

// MultipartUpload is the persisted record of one staged upload.
type MultipartUpload struct {
	ID            string       `json:"id"`
	OwnerID       string       `json:"owner_id"`
	Bucket        string       `json:"bucket"`
	Key           string       `json:"key"`
	ContentType   string       `json:"content_type"`
	FinalChecksum string       `json:"final_checksum,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
	LastActivity  time.Time    `json:"last_activity"`
	ExpiresAt     time.Time    `json:"expires_at"`
	Status        UploadStatus `json:"status"`
}

// ChunkRecord describes one received chunk of a multipart upload. The set of
// records for an upload must form the contiguous range [0..N-1] at assembly.
type ChunkRecord struct {
	Index    int    `json:"index"`
	Size     int64  `json:"size"`
	Checksum string `json:"checksum"`
}

// ObjectRecord is the registration sent to the metadata registry after a
// storage commit. Registration is idempotent on (bucket, key, version) so
// retries are safe.
type ObjectRecord struct {
	Bucket      string    `json:"bucket"`
	Key         string    `json:"key"`
	Version     string    `json:"version"`
	Checksum    string    `json:"checksum"`
	SizeBytes   int64     `json:"size_bytes"`
	ContentType string    `json:"content_type"`
	CommittedAt time.Time `json:"committed_at"`
}

// Operation names the access a pre-signed URL grants.
type Operation string

const (
	OpDownload Operation = "download"
	OpUpload   Operation = "upload"
	OpDelete   Operation = "delete"
)

func (o Operation) IsValid() bool {
	switch o {
	case OpDownload, OpUpload, OpDelete:
		return true
	default:
		return false
	}
}

func ParseOperation(s string) (Operation, error) {
	op := Operation(s)
	if !op.IsValid() {
		return "", fmt.Errorf("%w: invalid operation: %s (valid operations: download, upload, delete)", ErrInvalidArgument, s)
	}
	return op, nil
}
