package carton

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
)

// DefaultContentType is assumed when a caller supplies none.
const DefaultContentType = "application/octet-stream"

// BlobStore is the physical storage the engine commits objects to.
//
// Store must write atomically: stream to a temp file on the destination
// volume, verify ref.Checksum when set, then rename into place. No reader may
// ever observe a partially written object at the final path.
type BlobStore interface {
	Store(ctx context.Context, ref ObjectRef, content io.Reader, contentType string) (CommittedObject, error)

	// PromoteLatest republishes the referenced version under the "latest"
	// alias, atomically replacing whatever the alias pointed at before.
	PromoteLatest(ctx context.Context, ref ObjectRef) error

	// Open returns the full object stream with its metadata, or ErrNotFound.
	Open(ctx context.Context, ref ObjectRef) (ObjectStream, error)

	// OpenRange returns a bounded stream of [start, end]. end past the last
	// byte is clamped; a start outside the object is ErrInvalidArgument.
	OpenRange(ctx context.Context, ref ObjectRef, start, end int64) (ObjectStream, error)

	// Delete removes the object bytes, sidecar, and any emptied ancestor
	// directories below the storage root.
	Delete(ctx context.Context, ref ObjectRef) error
}

// Uploader is the multipart upload coordinator.
type Uploader interface {
	Initiate(ctx context.Context, bucket, key, ownerID, contentType, finalChecksum string) (MultipartUpload, error)
	PutChunk(ctx context.Context, uploadID string, index int, data io.Reader, checksum string) (ChunkRecord, error)
	Complete(ctx context.Context, uploadID string) (CommittedObject, error)
	Abort(ctx context.Context, uploadID string) error
	ReclaimStale(ctx context.Context, olderThan time.Duration) (int, error)
}

// MetadataRegistry is the external bookkeeping collaborator objects are
// registered with after a storage commit. Register must be idempotent on
// (bucket, key, version); a failure here never rolls back the commit.
type MetadataRegistry interface {
	Register(ctx context.Context, rec ObjectRecord) error
	Get(ctx context.Context, bucket, key, version string) (ObjectRecord, error)
	List(ctx context.Context, bucket string) ([]ObjectRecord, error)
	Delete(ctx context.Context, bucket, key, version string) error
}

// Service ties the storage engine together: single-shot and multipart
// writes, streamed reads, deletes, and pre-signed capability URLs.
type Service struct {
	store           BlobStore
	uploads         Uploader
	registry        MetadataRegistry
	signer          *Signer
	registerRetries uint64
}

// ServiceConfig holds orchestration options.
type ServiceConfig struct {
	// RegisterRetries bounds the local retry budget for metadata
	// registration (default 3 attempts after the first).
	RegisterRetries uint64
}

// NewService creates a Service. registry may be nil, in which case the engine
// runs storage-only and skips registration.
func NewService(store BlobStore, uploads Uploader, registry MetadataRegistry, signer *Signer, cfg ServiceConfig) (*Service, error) {
	if store == nil {
		return nil, errors.New("new service: blob store is required")
	}
	if uploads == nil {
		return nil, errors.New("new service: uploader is required")
	}
	if signer == nil {
		return nil, errors.New("new service: signer is required")
	}
	retries := cfg.RegisterRetries
	if retries == 0 {
		retries = 3
	}
	return &Service{
		store:           store,
		uploads:         uploads,
		registry:        registry,
		signer:          signer,
		registerRetries: retries,
	}, nil
}

// StoreFile stores a complete object in one shot. A fresh version is
// assigned, the bytes are committed atomically, and the version becomes the
// new "latest".
//
// If expectedChecksum is non-empty and does not match the streamed bytes,
// the store fails with ErrChecksumMismatch and leaves no trace at the
// destination.
//
// A failure to register the commit with the metadata registry is retried
// locally with bounded backoff; if registration still fails, the committed
// object is returned together with ErrMetadataUnavailable. The file stays
// durable and retrievable by direct reference either way, and appears in
// listings once the caller's retry policy succeeds.
func (s *Service) StoreFile(ctx context.Context, ownerID, bucket, key string, content io.Reader, contentType, expectedChecksum string) (CommittedObject, error) {
	if err := ctx.Err(); err != nil {
		return CommittedObject{}, fmt.Errorf("store file: %w", err)
	}

	ref := ObjectRef{
		Bucket:   bucket,
		Key:      key,
		Version:  uuid.New().String(),
		Checksum: expectedChecksum,
	}
	if err := ref.Validate(); err != nil {
		return CommittedObject{}, fmt.Errorf("store file: %w", err)
	}
	if contentType == "" {
		contentType = DefaultContentType
	}

	committed, err := s.store.Store(ctx, ref, content, contentType)
	if err != nil {
		return CommittedObject{}, fmt.Errorf("store file %s/%s: %w", bucket, key, err)
	}

	if err := s.store.PromoteLatest(ctx, ref); err != nil {
		return CommittedObject{}, fmt.Errorf("store file %s/%s: promote latest: %w", bucket, key, err)
	}

	slog.Debug("object committed", "owner", ownerID, "bucket", bucket, "key", key,
		"version", committed.Version, "size", committed.SizeBytes)

	if err := s.register(ctx, committed); err != nil {
		return committed, err
	}

	return committed, nil
}

// RetrieveFileStream opens the object for reading. An empty version resolves
// to "latest". The caller must close the returned stream.
func (s *Service) RetrieveFileStream(ctx context.Context, bucket, key, version string) (ObjectStream, error) {
	if err := ctx.Err(); err != nil {
		return ObjectStream{}, fmt.Errorf("retrieve file: %w", err)
	}

	ref := ObjectRef{Bucket: bucket, Key: key, Version: version}
	if err := ref.Validate(); err != nil {
		return ObjectStream{}, fmt.Errorf("retrieve file: %w", err)
	}

	stream, err := s.store.Open(ctx, ref)
	if err != nil {
		return ObjectStream{}, fmt.Errorf("retrieve file %s/%s: %w", bucket, key, err)
	}
	return stream, nil
}

// RetrieveRange opens a bounded byte range [start, end] of the object. end
// past the last byte is clamped to it.
func (s *Service) RetrieveRange(ctx context.Context, bucket, key, version string, start, end int64) (ObjectStream, error) {
	if err := ctx.Err(); err != nil {
		return ObjectStream{}, fmt.Errorf("retrieve range: %w", err)
	}

	ref := ObjectRef{Bucket: bucket, Key: key, Version: version}
	if err := ref.Validate(); err != nil {
		return ObjectStream{}, fmt.Errorf("retrieve range: %w", err)
	}

	stream, err := s.store.OpenRange(ctx, ref, start, end)
	if err != nil {
		return ObjectStream{}, fmt.Errorf("retrieve range %s/%s: %w", bucket, key, err)
	}
	return stream, nil
}

// DeleteFile removes the object version (or the "latest" alias when version
// is empty) from storage, then drops its registry record. A registry failure
// after a successful storage delete is logged, not surfaced: the bytes are
// gone and re-running the delete would only find nothing.
func (s *Service) DeleteFile(ctx context.Context, bucket, key, version string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("delete file: %w", err)
	}

	ref := ObjectRef{Bucket: bucket, Key: key, Version: version}
	if err := ref.Validate(); err != nil {
		return fmt.Errorf("delete file: %w", err)
	}

	if err := s.store.Delete(ctx, ref); err != nil {
		return fmt.Errorf("delete file %s/%s: %w", bucket, key, err)
	}

	if s.registry != nil {
		resolved := version
		if resolved == "" {
			resolved = LatestVersion
		}
		if err := s.registry.Delete(ctx, bucket, key, resolved); err != nil && !errors.Is(err, ErrNotFound) {
			slog.Warn("failed to drop metadata record after delete",
				"bucket", bucket, "key", key, "version", resolved, "err", err)
		}
	}

	return nil
}

// ListObjects returns the registry records for a bucket. Listing is a
// registry concern; without one configured it fails with
// ErrMetadataUnavailable.
func (s *Service) ListObjects(ctx context.Context, bucket string) ([]ObjectRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("list objects: %w", err)
	}
	if bucket == "" {
		return nil, fmt.Errorf("list objects: %w: bucket cannot be empty", ErrInvalidArgument)
	}
	if s.registry == nil {
		return nil, fmt.Errorf("list objects: %w: no metadata registry configured", ErrMetadataUnavailable)
	}

	recs, err := s.registry.List(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("list objects %s: %w", bucket, err)
	}
	return recs, nil
}

// InitiateMultipartUpload opens a staged upload and returns its record.
// finalChecksum optionally declares the hex SHA-256 the assembled object
// must hash to at completion.
func (s *Service) InitiateMultipartUpload(ctx context.Context, bucket, key, ownerID, contentType, finalChecksum string) (MultipartUpload, error) {
	if err := ctx.Err(); err != nil {
		return MultipartUpload{}, fmt.Errorf("initiate multipart upload: %w", err)
	}

	ref := ObjectRef{Bucket: bucket, Key: key}
	if err := ref.Validate(); err != nil {
		return MultipartUpload{}, fmt.Errorf("initiate multipart upload: %w", err)
	}
	if contentType == "" {
		contentType = DefaultContentType
	}

	upload, err := s.uploads.Initiate(ctx, bucket, key, ownerID, contentType, finalChecksum)
	if err != nil {
		return MultipartUpload{}, fmt.Errorf("initiate multipart upload %s/%s: %w", bucket, key, err)
	}
	return upload, nil
}

// UploadChunk admits one chunk of an in-progress upload. Chunks may arrive in
// any order; completeness is checked at assembly time.
func (s *Service) UploadChunk(ctx context.Context, uploadID string, index int, data io.Reader, checksum string) (ChunkRecord, error) {
	if err := ctx.Err(); err != nil {
		return ChunkRecord{}, fmt.Errorf("upload chunk: %w", err)
	}

	rec, err := s.uploads.PutChunk(ctx, uploadID, index, data, checksum)
	if err != nil {
		return ChunkRecord{}, fmt.Errorf("upload chunk %s[%d]: %w", uploadID, index, err)
	}
	return rec, nil
}

// CompleteMultipartUpload assembles the received chunks in index order,
// commits the result atomically, promotes it to "latest", and registers it.
// Metadata registration failures behave as in StoreFile.
func (s *Service) CompleteMultipartUpload(ctx context.Context, uploadID string) (CommittedObject, error) {
	if err := ctx.Err(); err != nil {
		return CommittedObject{}, fmt.Errorf("complete multipart upload: %w", err)
	}

	committed, err := s.uploads.Complete(ctx, uploadID)
	if err != nil {
		return CommittedObject{}, fmt.Errorf("complete multipart upload %s: %w", uploadID, err)
	}

	ref := ObjectRef{Bucket: committed.Bucket, Key: committed.Key, Version: committed.Version}
	if err := s.store.PromoteLatest(ctx, ref); err != nil {
		return CommittedObject{}, fmt.Errorf("complete multipart upload %s: promote latest: %w", uploadID, err)
	}

	if err := s.register(ctx, committed); err != nil {
		return committed, err
	}

	return committed, nil
}

// AbortMultipartUpload discards the upload and everything it staged.
func (s *Service) AbortMultipartUpload(ctx context.Context, uploadID string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("abort multipart upload: %w", err)
	}

	if err := s.uploads.Abort(ctx, uploadID); err != nil {
		return fmt.Errorf("abort multipart upload %s: %w", uploadID, err)
	}
	return nil
}

// GeneratePreSignedURL issues a time-boxed capability URL for the object.
func (s *Service) GeneratePreSignedURL(bucket, key, version string, op Operation, ttl time.Duration) (PreSignedURL, error) {
	return s.signer.Generate(ObjectRef{Bucket: bucket, Key: key, Version: version}, op, ttl)
}

// ValidatePreSignedURL checks a capability URL against the caller-supplied
// bucket and key and returns its claims.
func (s *Service) ValidatePreSignedURL(rawURL, bucket, key string) (TokenClaims, error) {
	return s.signer.Validate(rawURL, bucket, key)
}

// ValidatePreSignedToken checks a bare capability token.
func (s *Service) ValidatePreSignedToken(token, bucket, key string) (TokenClaims, error) {
	return s.signer.ValidateToken(token, bucket, key)
}

// register records the commit with the metadata registry, retrying
// transiently with exponential backoff up to the configured budget. The
// commit itself is never rolled back on failure.
func (s *Service) register(ctx context.Context, obj CommittedObject) error {
	if s.registry == nil {
		return nil
	}

	rec := ObjectRecord{
		Bucket:      obj.Bucket,
		Key:         obj.Key,
		Version:     obj.Version,
		Checksum:    obj.Checksum,
		SizeBytes:   obj.SizeBytes,
		ContentType: obj.ContentType,
		CommittedAt: obj.LastModified,
	}

	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), s.registerRetries), ctx)
	err := backoff.Retry(func() error {
		return s.registry.Register(ctx, rec)
	}, bo)
	if err != nil {
		slog.Warn("metadata registration failed after retries",
			"bucket", obj.Bucket, "key", obj.Key, "version", obj.Version, "err", err)
		return fmt.Errorf("register object %s/%s@%s: %w: %v", obj.Bucket, obj.Key, obj.Version, ErrMetadataUnavailable, err)
	}
	return nil
}
