// Package filesystem is the physical storage backend: one directory per
// object version holding the object bytes in a "data" file and the content
// type in a "content-type" sidecar. All writes go through a temp file and an
// atomic rename, so a final path is either fully absent or fully populated.
package filesystem

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"time"

	"github.com/google/uuid"
	"github.com/mbrennan/carton"
)

const (
	dataFile    = "data"
	sidecarFile = "content-type"
)

// Store provides sandboxed object storage rooted at an os.Root. The sandbox
// is belt and braces: paths handed to it are already sanitized, and os.Root
// refuses any escape a bug might let through.
type Store struct {
	root *os.Root
}

// New creates a Store rooted at root.
func New(root *os.Root) *Store {
	return &Store{root: root}
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (r *ctxReader) Read(p []byte) (n int, err error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}
	return r.r.Read(p)
}

// Store streams content into a temp file on the storage volume, verifies
// ref.Checksum when set, and atomically renames the temp file to the
// resolved final path. On a checksum mismatch nothing is left at the
// destination. The sidecar recording contentType is staged before the data
// rename, so once the rename lands the commit cannot fail.
func (s *Store) Store(ctx context.Context, ref carton.ObjectRef, content io.Reader, contentType string) (carton.CommittedObject, error) {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return carton.CommittedObject{}, ctxErr
	}
	if err := ref.Validate(); err != nil {
		return carton.CommittedObject{}, err
	}

	tmpFile := tmpFileName()
	t, createErr := s.root.Create(tmpFile)
	if createErr != nil {
		return carton.CommittedObject{}, fmt.Errorf("could not open temp file: %w", createErr)
	}

	success := false
	defer func() {
		if closeErr := t.Close(); closeErr != nil && !errors.Is(closeErr, os.ErrClosed) {
			slog.Warn("failed to close tmp file", "err", closeErr)
		}
		if !success {
			if rmErr := s.root.Remove(tmpFile); rmErr != nil {
				slog.Warn("failed to remove tmp file", "err", rmErr)
			}
		}
	}()

	h := sha256.New()
	w := io.MultiWriter(h, t)

	sizeBytes, err := io.Copy(w, &ctxReader{ctx: ctx, r: content})
	if err != nil {
		return carton.CommittedObject{}, fmt.Errorf("could not copy file contents: %w", err)
	}

	checksum := hex.EncodeToString(h.Sum(nil))
	if !carton.MatchesChecksum(checksum, ref.Checksum) {
		return carton.CommittedObject{}, fmt.Errorf("expected %s, got %s: %w", ref.Checksum, checksum, carton.ErrChecksumMismatch)
	}

	if err = t.Sync(); err != nil {
		return carton.CommittedObject{}, fmt.Errorf("could not sync written file: %w", err)
	}

	dir := ref.StoragePath()
	if err = s.root.MkdirAll(dir, 0o755); err != nil {
		return carton.CommittedObject{}, fmt.Errorf("could not create object directory: %w", err)
	}

	if err = s.writeSidecar(dir, contentType); err != nil {
		return carton.CommittedObject{}, err
	}

	if renameErr := s.root.Rename(tmpFile, path.Join(dir, dataFile)); renameErr != nil {
		return carton.CommittedObject{}, fmt.Errorf("failed to commit file: %w", renameErr)
	}
	success = true

	version := ref.Version
	if version == "" {
		version = carton.LatestVersion
	}

	return carton.CommittedObject{
		Bucket:       ref.Bucket,
		Key:          ref.Key,
		Version:      version,
		Checksum:     checksum,
		SizeBytes:    sizeBytes,
		ContentType:  contentType,
		LastModified: time.Now().UTC(),
	}, nil
}

// PromoteLatest republishes the referenced version under the "latest" alias.
// The data file is hardlinked (copied when the filesystem refuses links) into
// a temp name and renamed over the alias, so readers of "latest" see either
// the previous version or the new one, never a partial file.
func (s *Store) PromoteLatest(ctx context.Context, ref carton.ObjectRef) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if ref.Version == "" || ref.Version == carton.LatestVersion {
		return fmt.Errorf("%w: promote latest requires an explicit version", carton.ErrInvalidArgument)
	}

	srcDir := ref.StoragePath()
	latestDir := carton.ObjectRef{Bucket: ref.Bucket, Key: ref.Key}.StoragePath()

	if _, err := s.root.Stat(path.Join(srcDir, dataFile)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return carton.ErrNotFound
		}
		return fmt.Errorf("stat source version: %w", err)
	}

	if err := s.root.MkdirAll(latestDir, 0o755); err != nil {
		return fmt.Errorf("could not create latest directory: %w", err)
	}

	tmpFile := tmpFileName()
	if err := s.root.Link(path.Join(srcDir, dataFile), tmpFile); err != nil {
		// Some filesystems disallow hardlinks; fall back to a copy.
		if copyErr := s.copyWithin(path.Join(srcDir, dataFile), tmpFile); copyErr != nil {
			return fmt.Errorf("could not stage latest data: %w", copyErr)
		}
	}
	contentType, err := s.readSidecar(srcDir)
	if err != nil {
		_ = s.root.Remove(tmpFile)
		return err
	}
	if err := s.writeSidecar(latestDir, contentType); err != nil {
		_ = s.root.Remove(tmpFile)
		return err
	}

	if err := s.root.Rename(tmpFile, path.Join(latestDir, dataFile)); err != nil {
		_ = s.root.Remove(tmpFile)
		return fmt.Errorf("failed to publish latest: %w", err)
	}
	return nil
}

// Open opens the referenced object for reading and returns the stream with
// its full metadata. The checksum is computed over the committed bytes so
// callers can self-verify on the wire.
func (s *Store) Open(ctx context.Context, ref carton.ObjectRef) (carton.ObjectStream, error) {
	if err := ctx.Err(); err != nil {
		return carton.ObjectStream{}, err
	}

	dir := ref.StoragePath()
	f, err := s.root.Open(path.Join(dir, dataFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return carton.ObjectStream{}, carton.ErrNotFound
		}
		return carton.ObjectStream{}, fmt.Errorf("failed to open file: %w", err)
	}

	success := false
	defer func() {
		if !success {
			_ = f.Close()
		}
	}()

	info, err := f.Stat()
	if err != nil {
		return carton.ObjectStream{}, fmt.Errorf("failed to stat file: %w", err)
	}

	h := sha256.New()
	if _, err = io.Copy(h, &ctxReader{ctx: ctx, r: f}); err != nil {
		return carton.ObjectStream{}, fmt.Errorf("failed to hash file: %w", err)
	}
	if _, err = f.Seek(0, io.SeekStart); err != nil {
		return carton.ObjectStream{}, fmt.Errorf("failed to rewind file: %w", err)
	}

	contentType, err := s.readSidecar(dir)
	if err != nil {
		return carton.ObjectStream{}, err
	}

	success = true
	return carton.ObjectStream{
		Content:      f,
		ContentType:  contentType,
		Checksum:     hex.EncodeToString(h.Sum(nil)),
		Length:       info.Size(),
		TotalBytes:   info.Size(),
		LastModified: info.ModTime(),
	}, nil
}

// Delete removes the object's data file and sidecar, then prunes any
// now-empty ancestor directories up to (but not including) the storage root.
func (s *Store) Delete(ctx context.Context, ref carton.ObjectRef) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	dir := ref.StoragePath()
	if err := s.root.Remove(path.Join(dir, dataFile)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return carton.ErrNotFound
		}
		return fmt.Errorf("could not delete file: %w", err)
	}

	if err := s.root.Remove(path.Join(dir, sidecarFile)); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("failed to remove sidecar", "path", dir, "err", err)
	}

	// Remove refuses non-empty directories, so pruning stops at the first
	// ancestor that still holds other versions or keys.
	for d := dir; d != "." && d != "/"; d = path.Dir(d) {
		if err := s.root.Remove(d); err != nil {
			break
		}
	}

	return nil
}

func (s *Store) writeSidecar(dir, contentType string) error {
	if contentType == "" {
		contentType = carton.DefaultContentType
	}

	tmpFile := tmpFileName()
	t, err := s.root.Create(tmpFile)
	if err != nil {
		return fmt.Errorf("could not create sidecar temp: %w", err)
	}
	if _, err = t.WriteString(contentType); err != nil {
		_ = t.Close()
		_ = s.root.Remove(tmpFile)
		return fmt.Errorf("could not write sidecar: %w", err)
	}
	if err = t.Close(); err != nil {
		_ = s.root.Remove(tmpFile)
		return fmt.Errorf("could not close sidecar temp: %w", err)
	}
	if err = s.root.Rename(tmpFile, path.Join(dir, sidecarFile)); err != nil {
		_ = s.root.Remove(tmpFile)
		return fmt.Errorf("could not commit sidecar: %w", err)
	}
	return nil
}

func (s *Store) readSidecar(dir string) (string, error) {
	b, err := s.root.ReadFile(path.Join(dir, sidecarFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return carton.DefaultContentType, nil
		}
		return "", fmt.Errorf("could not read sidecar: %w", err)
	}
	return string(b), nil
}

func (s *Store) copyWithin(src, dst string) error {
	in, err := s.root.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	out, err := s.root.Create(dst)
	if err != nil {
		return err
	}
	if _, err = io.Copy(out, in); err != nil {
		_ = out.Close()
		_ = s.root.Remove(dst)
		return err
	}
	if err = out.Sync(); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

func tmpFileName() string {
	return fmt.Sprintf(".t%s", uuid.New().String())
}
