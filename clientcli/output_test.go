package clientcli_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbrennan/carton/clientcli"
)

func TestNewFormatter(t *testing.T) {
	t.Run("json formatter", func(t *testing.T) {
		formatter := clientcli.NewFormatter(true, false)
		_, ok := formatter.(*clientcli.JSONFormatter)
		assert.True(t, ok)
	})

	t.Run("human formatter", func(t *testing.T) {
		formatter := clientcli.NewFormatter(false, false)
		_, ok := formatter.(*clientcli.HumanFormatter)
		assert.True(t, ok)
	})

	t.Run("human formatter quiet", func(t *testing.T) {
		formatter := clientcli.NewFormatter(false, true)
		hf, ok := formatter.(*clientcli.HumanFormatter)
		require.True(t, ok)
		assert.True(t, hf.Quiet)
	})
}

func TestHumanFormatter_FormatUpload(t *testing.T) {
	result := &clientcli.UploadResult{
		LocalPath: "notes.txt",
		Bucket:    "media",
		Key:       "notes_txt",
		Version:   "v1",
		Checksum:  "deadbeef",
		Size:      2048,
	}

	t.Run("normal", func(t *testing.T) {
		var buf bytes.Buffer
		err := (&clientcli.HumanFormatter{}).FormatUpload(&buf, result)
		require.NoError(t, err)

		out := buf.String()
		assert.Contains(t, out, "media/notes_txt")
		assert.Contains(t, out, "2.0 KB")
		assert.Contains(t, out, "v1")
		assert.Contains(t, out, "deadbeef")
	})

	t.Run("quiet", func(t *testing.T) {
		var buf bytes.Buffer
		err := (&clientcli.HumanFormatter{Quiet: true}).FormatUpload(&buf, result)
		require.NoError(t, err)
		assert.Empty(t, buf.String())
	})
}

func TestHumanFormatter_FormatDelete(t *testing.T) {
	results := []clientcli.DeleteResult{
		{Bucket: "media", Key: "a.txt", Deleted: true},
		{Bucket: "media", Key: "gone.txt", Err: errors.New("not found")},
	}

	t.Run("normal", func(t *testing.T) {
		var buf bytes.Buffer
		err := (&clientcli.HumanFormatter{}).FormatDelete(&buf, results)
		require.NoError(t, err)

		out := buf.String()
		assert.Contains(t, out, "Deleted: media/a.txt")
		assert.Contains(t, out, "Error: media/gone.txt")
	})

	t.Run("quiet still reports errors", func(t *testing.T) {
		var buf bytes.Buffer
		err := (&clientcli.HumanFormatter{Quiet: true}).FormatDelete(&buf, results)
		require.NoError(t, err)

		out := buf.String()
		assert.NotContains(t, out, "Deleted:")
		assert.Contains(t, out, "Error: media/gone.txt")
	})
}

func TestHumanFormatter_FormatList(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		var buf bytes.Buffer
		err := (&clientcli.HumanFormatter{}).FormatList(&buf, &clientcli.ListResult{Bucket: "media"})
		require.NoError(t, err)
		assert.Contains(t, buf.String(), "No objects found")
	})

	t.Run("with items", func(t *testing.T) {
		result := &clientcli.ListResult{
			Bucket: "media",
			Items: []clientcli.ObjectInfo{
				{Key: "cat_jpg", Version: "v1", Size: 1024, CommittedAt: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)},
				{Key: "dog_png", Version: "v2", Size: 2048, CommittedAt: time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)},
			},
		}

		var buf bytes.Buffer
		err := (&clientcli.HumanFormatter{}).FormatList(&buf, result)
		require.NoError(t, err)

		out := buf.String()
		assert.Contains(t, out, "KEY")
		assert.Contains(t, out, "cat_jpg")
		assert.Contains(t, out, "dog_png")
		assert.Contains(t, out, "2 object(s)")
		assert.Contains(t, out, "3.0 KB total")
	})
}

func TestHumanFormatter_FormatProfileList(t *testing.T) {
	profiles := []clientcli.Profile{
		{Name: "local", Endpoint: "http://localhost:5710"},
		{Name: "prod", Endpoint: "https://storage.example.com", OwnerID: "svc-media"},
	}

	var buf bytes.Buffer
	err := (&clientcli.HumanFormatter{}).FormatProfileList(&buf, profiles, "prod")
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "* prod")
	assert.Contains(t, out, "  local")
	assert.Contains(t, out, "(not set)")
	assert.Contains(t, out, "svc-media")
}

func TestJSONFormatter_FormatUpload(t *testing.T) {
	result := &clientcli.UploadResult{
		Bucket:   "media",
		Key:      "notes_txt",
		Version:  "v1",
		Checksum: "deadbeef",
		Size:     11,
	}

	var buf bytes.Buffer
	err := (&clientcli.JSONFormatter{}).FormatUpload(&buf, result)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "v1", decoded["version"])
	assert.Equal(t, float64(11), decoded["size_bytes"])
}

func TestJSONFormatter_FormatDelete(t *testing.T) {
	results := []clientcli.DeleteResult{
		{Bucket: "media", Key: "a.txt", Deleted: true},
		{Bucket: "media", Key: "gone.txt", Err: errors.New("not found")},
	}

	var buf bytes.Buffer
	err := (&clientcli.JSONFormatter{}).FormatDelete(&buf, results)
	require.NoError(t, err)

	var decoded struct {
		Results []struct {
			Key     string `json:"key"`
			Deleted bool   `json:"deleted"`
			Error   string `json:"error"`
		} `json:"results"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	require.Len(t, decoded.Results, 2)
	assert.True(t, decoded.Results[0].Deleted)
	assert.Equal(t, "not found", decoded.Results[1].Error)
}

func TestJSONFormatter_FormatError(t *testing.T) {
	var buf bytes.Buffer
	err := (&clientcli.JSONFormatter{}).FormatError(&buf, errors.New("boom"))
	require.NoError(t, err)

	var decoded map[string]string
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "boom", decoded["error"])
}
