package carton_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/mbrennan/carton"
)

// memStore is an in-memory BlobStore for orchestration tests.
type memStore struct {
	mu      sync.Mutex
	objects map[string][]byte // storage path -> bytes
	types   map[string]string
}

func newMemStore() *memStore {
	return &memStore{objects: make(map[string][]byte), types: make(map[string]string)}
}

func (m *memStore) Store(ctx context.Context, ref carton.ObjectRef, content io.Reader, contentType string) (carton.CommittedObject, error) {
	data, err := io.ReadAll(content)
	if err != nil {
		return carton.CommittedObject{}, err
	}

	sum := carton.HashBytes(data)
	if !carton.MatchesChecksum(sum, ref.Checksum) {
		return carton.CommittedObject{}, carton.ErrChecksumMismatch
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[ref.StoragePath()] = data
	m.types[ref.StoragePath()] = contentType

	return carton.CommittedObject{
		Bucket:       ref.Bucket,
		Key:          ref.Key,
		Version:      ref.Version,
		Checksum:     sum,
		SizeBytes:    int64(len(data)),
		ContentType:  contentType,
		LastModified: time.Now(),
	}, nil
}

func (m *memStore) PromoteLatest(ctx context.Context, ref carton.ObjectRef) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, ok := m.objects[ref.StoragePath()]
	if !ok {
		return carton.ErrNotFound
	}
	latest := carton.ObjectRef{Bucket: ref.Bucket, Key: ref.Key}
	m.objects[latest.StoragePath()] = data
	m.types[latest.StoragePath()] = m.types[ref.StoragePath()]
	return nil
}

func (m *memStore) Open(ctx context.Context, ref carton.ObjectRef) (carton.ObjectStream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, ok := m.objects[ref.StoragePath()]
	if !ok {
		return carton.ObjectStream{}, carton.ErrNotFound
	}
	return carton.ObjectStream{
		Content:     io.NopCloser(bytes.NewReader(data)),
		ContentType: m.types[ref.StoragePath()],
		Checksum:    carton.HashBytes(data),
		Length:      int64(len(data)),
		TotalBytes:  int64(len(data)),
	}, nil
}

func (m *memStore) OpenRange(ctx context.Context, ref carton.ObjectRef, start, end int64) (carton.ObjectStream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, ok := m.objects[ref.StoragePath()]
	if !ok {
		return carton.ObjectStream{}, carton.ErrNotFound
	}
	size := int64(len(data))
	if start < 0 || start >= size || start > end {
		return carton.ObjectStream{}, carton.ErrInvalidArgument
	}
	if end >= size {
		end = size - 1
	}
	return carton.ObjectStream{
		Content:    io.NopCloser(bytes.NewReader(data[start : end+1])),
		Length:     end - start + 1,
		TotalBytes: size,
	}, nil
}

func (m *memStore) Delete(ctx context.Context, ref carton.ObjectRef) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.objects[ref.StoragePath()]; !ok {
		return carton.ErrNotFound
	}
	delete(m.objects, ref.StoragePath())
	delete(m.types, ref.StoragePath())
	return nil
}

// memUploader satisfies Uploader; orchestration tests only exercise pass-through.
type memUploader struct {
	store *memStore
}

func (u *memUploader) Initiate(ctx context.Context, bucket, key, ownerID, contentType, finalChecksum string) (carton.MultipartUpload, error) {
	return carton.MultipartUpload{
		ID: "upload-1", Bucket: bucket, Key: key, OwnerID: ownerID,
		ContentType: contentType, FinalChecksum: finalChecksum,
		Status: carton.UploadInProgress,
	}, nil
}

func (u *memUploader) PutChunk(ctx context.Context, uploadID string, index int, data io.Reader, checksum string) (carton.ChunkRecord, error) {
	b, err := io.ReadAll(data)
	if err != nil {
		return carton.ChunkRecord{}, err
	}
	return carton.ChunkRecord{Index: index, Size: int64(len(b)), Checksum: carton.HashBytes(b)}, nil
}

func (u *memUploader) Complete(ctx context.Context, uploadID string) (carton.CommittedObject, error) {
	return u.store.Store(ctx, carton.ObjectRef{Bucket: "b", Key: "k", Version: "mpu-v"}, strings.NewReader("assembled"), "text/plain")
}

func (u *memUploader) Abort(ctx context.Context, uploadID string) error { return nil }

func (u *memUploader) ReclaimStale(ctx context.Context, olderThan time.Duration) (int, error) {
	return 0, nil
}

// memRegistry is an in-memory MetadataRegistry with a switchable failure mode.
type memRegistry struct {
	mu      sync.Mutex
	records map[string]carton.ObjectRecord
	fail    bool
}

func newMemRegistry() *memRegistry {
	return &memRegistry{records: make(map[string]carton.ObjectRecord)}
}

func (r *memRegistry) key(bucket, key, version string) string {
	return bucket + "\x00" + key + "\x00" + version
}

func (r *memRegistry) Register(ctx context.Context, rec carton.ObjectRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return errors.New("registry down")
	}
	r.records[r.key(rec.Bucket, rec.Key, rec.Version)] = rec
	return nil
}

func (r *memRegistry) Get(ctx context.Context, bucket, key, version string) (carton.ObjectRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[r.key(bucket, key, version)]
	if !ok {
		return carton.ObjectRecord{}, carton.ErrNotFound
	}
	return rec, nil
}

func (r *memRegistry) List(ctx context.Context, bucket string) ([]carton.ObjectRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return nil, errors.New("registry down")
	}
	var out []carton.ObjectRecord
	for _, rec := range r.records {
		if rec.Bucket == bucket {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (r *memRegistry) Delete(ctx context.Context, bucket, key, version string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.records[r.key(bucket, key, version)]; !ok {
		return carton.ErrNotFound
	}
	delete(r.records, r.key(bucket, key, version))
	return nil
}

func newTestService(t *testing.T, registry carton.MetadataRegistry) (*carton.Service, *memStore) {
	t.Helper()
	store := newMemStore()
	svc, err := carton.NewService(store, &memUploader{store: store}, registry,
		carton.NewSigner([]byte("test-secret-0123456789"), "http://localhost:5710"),
		carton.ServiceConfig{RegisterRetries: 1})
	assert.NoError(t, err)
	return svc, store
}

func TestService_StoreAndRetrieve(t *testing.T) {
	registry := newMemRegistry()
	svc, _ := newTestService(t, registry)
	ctx := context.Background()

	obj, err := svc.StoreFile(ctx, "owner-1", "media", "hello.txt", strings.NewReader("hello world"), "text/plain", "")
	assert.NoError(t, err)
	assert.Equal(t, int64(11), obj.SizeBytes)
	assert.NotEmpty(t, obj.Version)
	assert.Equal(t, helloWorldSum, obj.Checksum)

	// Latest resolves to the stored version
	stream, err := svc.RetrieveFileStream(ctx, "media", "hello.txt", "")
	assert.NoError(t, err)
	data, err := io.ReadAll(stream.Content)
	assert.NoError(t, err)
	assert.Equal(t, "hello world", string(data))
	assert.NoError(t, stream.Content.Close())

	// And so does the explicit version
	stream, err = svc.RetrieveFileStream(ctx, "media", "hello.txt", obj.Version)
	assert.NoError(t, err)
	assert.NoError(t, stream.Content.Close())

	// Registration happened
	rec, err := registry.Get(ctx, "media", "hello.txt", obj.Version)
	assert.NoError(t, err)
	assert.Equal(t, obj.Checksum, rec.Checksum)
}

func TestService_StoreChecksumMismatch(t *testing.T) {
	svc, store := newTestService(t, newMemRegistry())

	_, err := svc.StoreFile(context.Background(), "o", "b", "k", strings.NewReader("content"), "", "deadbeef")
	assert.ErrorIs(t, err, carton.ErrChecksumMismatch)
	assert.Empty(t, store.objects)
}

func TestService_StoreRegistryDown(t *testing.T) {
	registry := newMemRegistry()
	registry.fail = true
	svc, _ := newTestService(t, registry)
	ctx := context.Background()

	obj, err := svc.StoreFile(ctx, "o", "media", "k.bin", strings.NewReader("data"), "", "")
	assert.ErrorIs(t, err, carton.ErrMetadataUnavailable)
	// The commit itself survives and the object is returned
	assert.NotEmpty(t, obj.Version)

	stream, retrieveErr := svc.RetrieveFileStream(ctx, "media", "k.bin", obj.Version)
	assert.NoError(t, retrieveErr)
	assert.NoError(t, stream.Content.Close())
}

func TestService_RetrieveMissing(t *testing.T) {
	svc, _ := newTestService(t, newMemRegistry())

	_, err := svc.RetrieveFileStream(context.Background(), "media", "nope", "")
	assert.ErrorIs(t, err, carton.ErrNotFound)
}

func TestService_RetrieveRange(t *testing.T) {
	svc, _ := newTestService(t, newMemRegistry())
	ctx := context.Background()

	_, err := svc.StoreFile(ctx, "o", "b", "k", strings.NewReader("0123456789"), "", "")
	assert.NoError(t, err)

	stream, err := svc.RetrieveRange(ctx, "b", "k", "", 2, 5)
	assert.NoError(t, err)
	data, err := io.ReadAll(stream.Content)
	assert.NoError(t, err)
	assert.Equal(t, "2345", string(data))
	assert.Equal(t, int64(4), stream.Length)
	assert.Equal(t, int64(10), stream.TotalBytes)
	assert.NoError(t, stream.Content.Close())
}

func TestService_DeleteThenRetrieve(t *testing.T) {
	registry := newMemRegistry()
	svc, _ := newTestService(t, registry)
	ctx := context.Background()

	obj, err := svc.StoreFile(ctx, "o", "b", "k", strings.NewReader("data"), "", "")
	assert.NoError(t, err)

	err = svc.DeleteFile(ctx, "b", "k", obj.Version)
	assert.NoError(t, err)

	_, err = svc.RetrieveFileStream(ctx, "b", "k", obj.Version)
	assert.ErrorIs(t, err, carton.ErrNotFound)

	_, err = registry.Get(ctx, "b", "k", obj.Version)
	assert.ErrorIs(t, err, carton.ErrNotFound)
}

func TestService_DeleteMissing(t *testing.T) {
	svc, _ := newTestService(t, newMemRegistry())

	err := svc.DeleteFile(context.Background(), "b", "nope", "")
	assert.ErrorIs(t, err, carton.ErrNotFound)
}

func TestService_ListObjects(t *testing.T) {
	registry := newMemRegistry()
	svc, _ := newTestService(t, registry)
	ctx := context.Background()

	_, err := svc.StoreFile(ctx, "o", "media", "a.txt", strings.NewReader("a"), "", "")
	assert.NoError(t, err)
	_, err = svc.StoreFile(ctx, "o", "media", "b.txt", strings.NewReader("b"), "", "")
	assert.NoError(t, err)
	_, err = svc.StoreFile(ctx, "o", "other", "c.txt", strings.NewReader("c"), "", "")
	assert.NoError(t, err)

	recs, err := svc.ListObjects(ctx, "media")
	assert.NoError(t, err)
	assert.Len(t, recs, 2)
}

func TestService_ListObjectsNoRegistry(t *testing.T) {
	svc, _ := newTestService(t, nil)

	_, err := svc.ListObjects(context.Background(), "media")
	assert.ErrorIs(t, err, carton.ErrMetadataUnavailable)
}

func TestService_NilRegistrySkipsRegistration(t *testing.T) {
	svc, _ := newTestService(t, nil)

	obj, err := svc.StoreFile(context.Background(), "o", "b", "k", strings.NewReader("data"), "", "")
	assert.NoError(t, err)
	assert.NotEmpty(t, obj.Version)
}

func TestService_CancelledContext(t *testing.T) {
	svc, _ := newTestService(t, newMemRegistry())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.StoreFile(ctx, "o", "b", "k", strings.NewReader("data"), "", "")
	assert.ErrorIs(t, err, context.Canceled)
}
