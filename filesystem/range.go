package filesystem

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"

	"github.com/mbrennan/carton"
)

// OpenRange opens a bounded stream over bytes [start, end] of the referenced
// object. start must lie inside the object; an end past the last byte is
// clamped to it; a start greater than the clamped end is invalid. The reader
// seeks straight to start, so none of the skipped prefix is read, and yields
// exactly end-start+1 bytes.
//
// Closing the returned stream releases the file handle regardless of how
// much of it was consumed.
func (s *Store) OpenRange(ctx context.Context, ref carton.ObjectRef, start, end int64) (carton.ObjectStream, error) {
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
	size := info.Size()

	if start < 0 || start >= size {
		return carton.ObjectStream{}, fmt.Errorf("%w: range start %d outside object of %d bytes", carton.ErrInvalidArgument, start, size)
	}
	if end >= size {
		end = size - 1
	}
	if start > end {
		return carton.ObjectStream{}, fmt.Errorf("%w: range start %d after end %d", carton.ErrInvalidArgument, start, end)
	}

	if _, err = f.Seek(start, io.SeekStart); err != nil {
		return carton.ObjectStream{}, fmt.Errorf("failed to seek to range start: %w", err)
	}

	contentType, err := s.readSidecar(dir)
	if err != nil {
		return carton.ObjectStream{}, err
	}

	length := end - start + 1
	success = true
	return carton.ObjectStream{
		Content:      &rangeReader{r: io.LimitReader(&ctxReader{ctx: ctx, r: f}, length), f: f},
		ContentType:  contentType,
		Length:       length,
		TotalBytes:   size,
		LastModified: info.ModTime(),
	}, nil
}

// rangeReader bounds reads to the requested window and ties the file
// handle's lifetime to the stream.
type rangeReader struct {
	r io.Reader
	f *os.File
}

func (r *rangeReader) Read(p []byte) (int, error) {
	return r.r.Read(p)
}

func (r *rangeReader) Close() error {
	return r.f.Close()
}
