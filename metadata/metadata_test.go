package metadata_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/mbrennan/carton"
	"github.com/mbrennan/carton/metadata"
)

func TestIsValidTableName(t *testing.T) {
	valid := []string{"carton_objects", "_private", "t", "objects_2", "a_b_c"}
	for _, name := range valid {
		assert.True(t, metadata.IsValidTableName(name), "expected %q to be valid", name)
	}

	invalid := []string{
		"",
		"Objects",
		"2objects",
		"carton-objects",
		"objects; drop table users",
		"objects objects",
		"objectsobjectsobjectsobjectsobjectsobjectsobjectsobjectsobjectsx", // 64 chars
	}
	for _, name := range invalid {
		assert.False(t, metadata.IsValidTableName(name), "expected %q to be invalid", name)
	}
}

func TestConnect_SQLite(t *testing.T) {
	ctx := context.Background()
	cfg := metadata.Config{
		Type:  "sqlite",
		DSN:   "file:" + filepath.Join(t.TempDir(), "carton.db"),
		Table: "carton_objects",
	}

	reg, cleanup, err := metadata.Connect(ctx, cfg)
	assert.NoError(t, err)
	assert.NotNil(t, reg)
	defer cleanup()

	// The connection should be usable immediately after Connect.
	rec := carton.ObjectRecord{
		Bucket:      "media",
		Key:         "cat_jpg",
		Version:     "v1",
		Checksum:    "deadbeef",
		SizeBytes:   42,
		ContentType: "image/jpeg",
		CommittedAt: time.Now().UTC(),
	}
	assert.NoError(t, reg.Register(ctx, rec))

	got, err := reg.Get(ctx, "media", "cat_jpg", "v1")
	assert.NoError(t, err)
	assert.Equal(t, "deadbeef", got.Checksum)
}

func TestConnect_InvalidTableName(t *testing.T) {
	_, _, err := metadata.Connect(context.Background(), metadata.Config{
		Type:  "sqlite",
		DSN:   "file:" + filepath.Join(t.TempDir(), "carton.db"),
		Table: "carton-objects",
	})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "invalid metadata table name")
}

func TestConnect_EmptyTableName(t *testing.T) {
	_, _, err := metadata.Connect(context.Background(), metadata.Config{
		Type: "sqlite",
		DSN:  "file:" + filepath.Join(t.TempDir(), "carton.db"),
	})
	assert.Error(t, err)
}

func TestConnect_UnsupportedType(t *testing.T) {
	_, _, err := metadata.Connect(context.Background(), metadata.Config{
		Type:  "mysql",
		DSN:   "root@/carton",
		Table: "carton_objects",
	})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported metadata backend type")
}
