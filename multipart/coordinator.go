// Package multipart implements the chunked upload state machine: initiate,
// chunk admission in arbitrary arrival order, gap-free assembly into an
// atomic commit, abort, and reclamation of abandoned uploads.
//
// Each upload stages its chunks in an isolated directory under the staging
// root: <uploadId>/<index>.chunk plus a metadata.json ledger holding the
// upload record and the accepted chunk records. The ledger is the single
// source of truth at assembly time; it is updated under a per-upload
// exclusive lock so concurrent chunks of one upload never lose updates,
// while distinct uploads proceed fully independently.
package multipart

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"time"

	"github.com/google/uuid"
	"github.com/mbrennan/carton"
)

// Committer is the atomic-commit primitive assembled uploads are written
// through. filesystem.Store satisfies it.
type Committer interface {
	Store(ctx context.Context, ref carton.ObjectRef, content io.Reader, contentType string) (carton.CommittedObject, error)
}

// Coordinator drives multipart uploads through their lifecycle.
type Coordinator struct {
	staging   *os.Root
	committer Committer
	ttl       time.Duration
	locks     *lockTable
}

// DefaultTTL is how long an upload may sit without activity before the
// janitor reclaims it.
const DefaultTTL = 24 * time.Hour

// NewCoordinator creates a Coordinator staging uploads under staging and
// committing completed objects through committer. ttl <= 0 selects
// DefaultTTL.
func NewCoordinator(staging *os.Root, committer Committer, ttl time.Duration) *Coordinator {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Coordinator{
		staging:   staging,
		committer: committer,
		ttl:       ttl,
		locks:     newLockTable(),
	}
}

// Initiate opens a new upload: a globally unique id, an isolated staging
// directory, and a persisted IN_PROGRESS record. finalChecksum, when
// non-empty, declares the hex SHA-256 the assembled object must hash to.
func (c *Coordinator) Initiate(ctx context.Context, bucket, key, ownerID, contentType, finalChecksum string) (carton.MultipartUpload, error) {
	if err := ctx.Err(); err != nil {
		return carton.MultipartUpload{}, err
	}

	id := uuid.New().String()
	dir := carton.Sanitize(id)

	if err := c.staging.Mkdir(dir, 0o755); err != nil {
		return carton.MultipartUpload{}, fmt.Errorf("could not create upload directory: %w", err)
	}

	now := time.Now().UTC()
	upload := carton.MultipartUpload{
		ID:            id,
		OwnerID:       ownerID,
		Bucket:        bucket,
		Key:           key,
		ContentType:   contentType,
		FinalChecksum: finalChecksum,
		CreatedAt:     now,
		LastActivity:  now,
		ExpiresAt:     now.Add(c.ttl),
		Status:        carton.UploadInProgress,
	}

	if err := c.writeLedger(dir, ledger{Upload: upload}); err != nil {
		_ = c.staging.RemoveAll(dir)
		return carton.MultipartUpload{}, err
	}

	slog.Info("multipart upload initiated", "upload", id, "bucket", bucket, "key", key, "owner", ownerID)
	return upload, nil
}

// PutChunk admits one chunk. The payload is streamed to a per-chunk temp
// file, digest-verified when a checksum was supplied, and renamed to its
// final chunk path; only then is the ledger updated under the upload's lock.
// Chunks for the same index may be retried; the last accepted write wins.
func (c *Coordinator) PutChunk(ctx context.Context, uploadID string, index int, data io.Reader, checksum string) (carton.ChunkRecord, error) {
	if err := ctx.Err(); err != nil {
		return carton.ChunkRecord{}, err
	}
	if index < 0 {
		return carton.ChunkRecord{}, fmt.Errorf("%w: chunk index must not be negative", carton.ErrInvalidArgument)
	}

	dir := carton.Sanitize(uploadID)

	// Cheap admission check before accepting the payload. The authoritative
	// check repeats under the lock below.
	l, err := c.readLedger(dir)
	if err != nil {
		return carton.ChunkRecord{}, err
	}
	if l.Upload.Status != carton.UploadInProgress {
		return carton.ChunkRecord{}, carton.ErrNotFound
	}

	tmp := path.Join(dir, fmt.Sprintf(".t%s", uuid.New().String()))
	f, err := c.staging.Create(tmp)
	if err != nil {
		return carton.ChunkRecord{}, fmt.Errorf("could not create chunk temp: %w", err)
	}

	success := false
	defer func() {
		if !success {
			_ = f.Close()
			_ = c.staging.Remove(tmp)
		}
	}()

	h := sha256.New()
	size, err := io.Copy(io.MultiWriter(h, f), data)
	if err != nil {
		return carton.ChunkRecord{}, fmt.Errorf("could not write chunk: %w", err)
	}
	if err = f.Sync(); err != nil {
		return carton.ChunkRecord{}, fmt.Errorf("could not sync chunk: %w", err)
	}
	if err = f.Close(); err != nil {
		return carton.ChunkRecord{}, fmt.Errorf("could not close chunk: %w", err)
	}

	digest := hex.EncodeToString(h.Sum(nil))
	if !carton.MatchesChecksum(digest, checksum) {
		_ = c.staging.Remove(tmp)
		success = true // temp already gone
		return carton.ChunkRecord{}, fmt.Errorf("chunk %d: expected %s, got %s: %w", index, checksum, digest, carton.ErrChecksumMismatch)
	}

	if err = c.staging.Rename(tmp, path.Join(dir, chunkFileName(index))); err != nil {
		return carton.ChunkRecord{}, fmt.Errorf("could not persist chunk: %w", err)
	}
	success = true

	rec := carton.ChunkRecord{Index: index, Size: size, Checksum: digest}

	mu := c.locks.get(uploadID)
	mu.Lock()
	defer mu.Unlock()

	// Re-read: the upload may have been completed, aborted, or reclaimed
	// while the payload was streaming in.
	l, err = c.readLedger(dir)
	if err != nil {
		return carton.ChunkRecord{}, err
	}
	if l.Upload.Status != carton.UploadInProgress {
		return carton.ChunkRecord{}, carton.ErrNotFound
	}

	l.upsertChunk(rec)
	l.Upload.LastActivity = time.Now().UTC()
	if err = c.writeLedger(dir, l); err != nil {
		return carton.ChunkRecord{}, err
	}

	return rec, nil
}

// Complete assembles the upload. The persisted ledger must describe a
// contiguous chunk range [0..N-1]; the chunks are stream-concatenated in
// index order through the commit primitive, each chunk re-verified against
// its recorded digest and the whole object against the declared final
// checksum. Nothing is materialized in memory and nothing partial ever
// appears at the final path. On success the staging directory is reclaimed.
func (c *Coordinator) Complete(ctx context.Context, uploadID string) (carton.CommittedObject, error) {
	if err := ctx.Err(); err != nil {
		return carton.CommittedObject{}, err
	}

	dir := carton.Sanitize(uploadID)

	mu := c.locks.get(uploadID)
	mu.Lock()
	defer mu.Unlock()

	l, err := c.readLedger(dir)
	if err != nil {
		return carton.CommittedObject{}, err
	}
	if l.Upload.Status != carton.UploadInProgress {
		return carton.CommittedObject{}, carton.ErrNotFound
	}

	if err = l.verifyContiguous(); err != nil {
		return carton.CommittedObject{}, err
	}

	readers := make([]io.Reader, 0, len(l.Chunks))
	closers := make([]io.Closer, 0, len(l.Chunks))
	defer func() {
		for _, cl := range closers {
			_ = cl.Close()
		}
	}()

	for _, rec := range l.Chunks {
		f, openErr := c.staging.Open(path.Join(dir, chunkFileName(rec.Index)))
		if openErr != nil {
			return carton.CommittedObject{}, fmt.Errorf("could not open chunk %d: %w", rec.Index, openErr)
		}
		closers = append(closers, f)
		readers = append(readers, newChunkVerifyReader(f, rec))
	}

	ref := carton.ObjectRef{
		Bucket:   l.Upload.Bucket,
		Key:      l.Upload.Key,
		Version:  uuid.New().String(),
		Checksum: l.Upload.FinalChecksum,
	}

	committed, err := c.committer.Store(ctx, ref, io.MultiReader(readers...), l.Upload.ContentType)
	if err != nil {
		return carton.CommittedObject{}, err
	}

	if err = c.staging.RemoveAll(dir); err != nil {
		slog.Warn("failed to remove completed upload staging", "upload", uploadID, "err", err)
	}
	c.locks.forget(uploadID)

	slog.Info("multipart upload completed", "upload", uploadID,
		"bucket", committed.Bucket, "key", committed.Key,
		"version", committed.Version, "size", committed.SizeBytes, "chunks", len(l.Chunks))
	return committed, nil
}

// Abort discards the upload and every chunk it staged, regardless of how
// many were received.
func (c *Coordinator) Abort(ctx context.Context, uploadID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	dir := carton.Sanitize(uploadID)

	mu := c.locks.get(uploadID)
	mu.Lock()
	defer mu.Unlock()

	if _, err := c.readLedger(dir); err != nil {
		return err
	}

	if err := c.staging.RemoveAll(dir); err != nil {
		return fmt.Errorf("could not remove upload staging: %w", err)
	}
	c.locks.forget(uploadID)

	slog.Info("multipart upload aborted", "upload", uploadID)
	return nil
}

// ReclaimStale sweeps the staging root and reclaims every in-progress upload
// whose last chunk activity predates the cutoff, transitioning it to EXPIRED
// and cleaning up exactly as Abort does. Staging directories with an
// unreadable ledger are reclaimed by directory mtime, so a crash mid-initiate
// cannot leak space forever. Returns the number of uploads reclaimed.
func (c *Coordinator) ReclaimStale(ctx context.Context, olderThan time.Duration) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	entries, err := fs.ReadDir(c.staging.FS(), ".")
	if err != nil {
		return 0, fmt.Errorf("could not scan staging root: %w", err)
	}

	cutoff := time.Now().Add(-olderThan)
	reclaimed := 0

	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return reclaimed, err
		}
		if !e.IsDir() {
			continue
		}

		if !c.staleUpload(e, cutoff) {
			continue
		}

		id := e.Name()
		mu := c.locks.get(id)
		mu.Lock()
		// A chunk may have been admitted between the scan and taking the
		// lock; only the ledger state seen under the lock decides.
		if !c.staleUpload(e, cutoff) {
			mu.Unlock()
			continue
		}
		if rmErr := c.staging.RemoveAll(id); rmErr != nil {
			slog.Warn("failed to reclaim stale upload", "upload", id, "err", rmErr)
			mu.Unlock()
			continue
		}
		c.locks.forget(id)
		mu.Unlock()

		reclaimed++
		slog.Info("reclaimed stale upload", "upload", id, "status", carton.UploadExpired)
	}

	return reclaimed, nil
}

// staleUpload reports whether the staging directory e holds an in-progress
// upload whose last activity predates cutoff. Directories with an unreadable
// ledger fall back to the directory mtime, so a crash mid-initiate cannot
// leak space forever.
func (c *Coordinator) staleUpload(e fs.DirEntry, cutoff time.Time) bool {
	l, err := c.readLedger(e.Name())
	if err != nil {
		info, infoErr := e.Info()
		return infoErr == nil && info.ModTime().Before(cutoff)
	}
	if l.Upload.Status != carton.UploadInProgress {
		return false
	}
	lastActivity := l.Upload.LastActivity
	if lastActivity.IsZero() {
		lastActivity = l.Upload.CreatedAt
	}
	return lastActivity.Before(cutoff)
}

// RunReclaimer sweeps on every interval until ctx is cancelled, with an
// immediate first pass to flush uploads left over from a previous run.
func (c *Coordinator) RunReclaimer(ctx context.Context, interval, olderThan time.Duration) {
	go func() {
		if _, err := c.ReclaimStale(ctx, olderThan); err != nil && !errors.Is(err, context.Canceled) {
			slog.Warn("upload reclamation failed", "err", err)
		}

		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if _, err := c.ReclaimStale(ctx, olderThan); err != nil && !errors.Is(err, context.Canceled) {
					slog.Warn("upload reclamation failed", "err", err)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

func chunkFileName(index int) string {
	return fmt.Sprintf("%d.chunk", index)
}

// chunkVerifyReader hashes a chunk as it streams through assembly and fails
// the read at EOF if the bytes no longer match the digest recorded at
// admission. This catches on-disk corruption between PutChunk and Complete
// in the same single pass that assembles the object.
type chunkVerifyReader struct {
	r   io.Reader
	h   hash.Hash
	rec carton.ChunkRecord
}

func newChunkVerifyReader(r io.Reader, rec carton.ChunkRecord) *chunkVerifyReader {
	return &chunkVerifyReader{r: r, h: sha256.New(), rec: rec}
}

func (c *chunkVerifyReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if n > 0 {
		c.h.Write(p[:n])
	}
	if errors.Is(err, io.EOF) {
		digest := hex.EncodeToString(c.h.Sum(nil))
		if digest != c.rec.Checksum {
			return n, fmt.Errorf("chunk %d: recorded %s, read %s: %w", c.rec.Index, c.rec.Checksum, digest, carton.ErrChecksumMismatch)
		}
	}
	return n, err
}
