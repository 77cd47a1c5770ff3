package multipart

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/mbrennan/carton"
)

const ledgerFile = "metadata.json"

// ledger is the persisted state of one upload: the upload record plus every
// chunk accepted so far. It is rewritten (temp file + rename) on every
// mutation so a crash never leaves a half-written ledger behind.
type ledger struct {
	Upload carton.MultipartUpload `json:"upload"`
	Chunks []carton.ChunkRecord   `json:"chunks"`
}

// upsertChunk replaces the record at rec.Index or appends it, keeping the
// slice sorted by index.
func (l *ledger) upsertChunk(rec carton.ChunkRecord) {
	for i, c := range l.Chunks {
		if c.Index == rec.Index {
			l.Chunks[i] = rec
			return
		}
	}
	l.Chunks = append(l.Chunks, rec)
	sort.Slice(l.Chunks, func(i, j int) bool { return l.Chunks[i].Index < l.Chunks[j].Index })
}

// verifyContiguous checks that the chunk set forms exactly [0..N-1] with no
// gaps and no duplicates.
func (l *ledger) verifyContiguous() error {
	if len(l.Chunks) == 0 {
		return fmt.Errorf("%w: no chunks received", carton.ErrIncompleteUpload)
	}
	for i, c := range l.Chunks {
		if c.Index != i {
			return fmt.Errorf("%w: missing chunk %d", carton.ErrIncompleteUpload, i)
		}
	}
	return nil
}

func (c *Coordinator) ledgerPath(dir string) string {
	return path.Join(dir, ledgerFile)
}

// readLedger loads the ledger of an upload directory. A missing directory or
// ledger reports carton.ErrNotFound: internally that covers uploads that
// never existed and uploads already reclaimed, which callers cannot and need
// not distinguish.
func (c *Coordinator) readLedger(dir string) (ledger, error) {
	b, err := c.staging.ReadFile(c.ledgerPath(dir))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ledger{}, carton.ErrNotFound
		}
		return ledger{}, fmt.Errorf("read ledger: %w", err)
	}

	var l ledger
	if err := json.Unmarshal(b, &l); err != nil {
		return ledger{}, fmt.Errorf("read ledger: corrupt metadata: %w", err)
	}
	return l, nil
}

// writeLedger persists the ledger atomically inside the upload directory.
func (c *Coordinator) writeLedger(dir string, l ledger) error {
	b, err := json.MarshalIndent(l, "", "  ")
	if err != nil {
		return fmt.Errorf("write ledger: %w", err)
	}

	tmp := path.Join(dir, fmt.Sprintf(".t%s", uuid.New().String()))
	f, err := c.staging.Create(tmp)
	if err != nil {
		return fmt.Errorf("write ledger: %w", err)
	}
	if _, err = f.Write(b); err != nil {
		_ = f.Close()
		_ = c.staging.Remove(tmp)
		return fmt.Errorf("write ledger: %w", err)
	}
	if err = f.Close(); err != nil {
		_ = c.staging.Remove(tmp)
		return fmt.Errorf("write ledger: %w", err)
	}
	if err = c.staging.Rename(tmp, c.ledgerPath(dir)); err != nil {
		_ = c.staging.Remove(tmp)
		return fmt.Errorf("write ledger: %w", err)
	}
	return nil
}

// lockTable hands out one mutex per upload id so ledger read-modify-write
// cycles for the same upload serialize while distinct uploads never contend.
type lockTable struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newLockTable() *lockTable {
	return &lockTable{locks: make(map[string]*sync.Mutex)}
}

func (t *lockTable) get(id string) *sync.Mutex {
	t.mu.Lock()
	defer t.mu.Unlock()
	l, ok := t.locks[id]
	if !ok {
		l = &sync.Mutex{}
		t.locks[id] = l
	}
	return l
}

// forget drops the entry for a terminal upload. The caller must hold the
// upload's mutex; late callers holding the stale mutex only ever observe the
// reclaimed directory and fail with not found.
func (t *lockTable) forget(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.locks, id)
}
