package itemlog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var completedFields = []string{"id", "timestamp", "title", "uri", "status"}

// TestNewCreatesHeader tests that a fresh log starts with the header row
func TestNewCreatesHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "completed.log.csv")
	log, err := New(path, completedFields, "id")
	require.NoError(t, err)
	defer log.Close()

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "id,timestamp,title,uri,status\n", string(content))
	assert.Equal(t, 0, log.Len())
}

// TestAppendAndContains tests record appends and key lookups
func TestAppendAndContains(t *testing.T) {
	path := filepath.Join(t.TempDir(), "completed.log.csv")
	log, err := New(path, completedFields, "id")
	require.NoError(t, err)
	defer log.Close()

	require.NoError(t, log.Append(map[string]string{
		"id":        "item-1",
		"timestamp": "2025-01-18T10:30:00Z",
		"title":     "First Item",
		"uri":       "http://example.com/obj/1",
		"status":    "CREATED",
	}))
	require.NoError(t, log.Append(map[string]string{
		"id":     "item-2",
		"title":  "Second, with comma",
		"status": "MODIFIED",
	}))

	assert.Equal(t, 2, log.Len())
	assert.True(t, log.Contains("item-1"))
	assert.True(t, log.Contains("item-2"))
	assert.False(t, log.Contains("item-3"))

	rows, err := log.Rows()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "First Item", rows[0]["title"])
	assert.Equal(t, "Second, with comma", rows[1]["title"])
	assert.Equal(t, "", rows[1]["uri"])

	row, err := log.Get(1)
	require.NoError(t, err)
	assert.Equal(t, "item-2", row["id"])

	_, err = log.Get(2)
	assert.Error(t, err)
}

// TestReopenRebuildsIndex tests resuming against an existing log
func TestReopenRebuildsIndex(t *testing.T) {
	path := filepath.Join(t.TempDir(), "completed.log.csv")

	log, err := New(path, completedFields, "id")
	require.NoError(t, err)
	require.NoError(t, log.Append(map[string]string{"id": "item-1", "status": "CREATED"}))
	require.NoError(t, log.Append(map[string]string{"id": "item-2", "status": "CREATED"}))
	require.NoError(t, log.Close())

	reopened, err := New(path, completedFields, "id")
	require.NoError(t, err)
	defer reopened.Close()

	assert.Equal(t, 2, reopened.Len())
	assert.True(t, reopened.Contains("item-1"))
	assert.True(t, reopened.Contains("item-2"))

	// Appends continue after the existing records.
	require.NoError(t, reopened.Append(map[string]string{"id": "item-3", "status": "CREATED"}))
	assert.Equal(t, 3, reopened.Len())

	rows, err := reopened.Rows()
	require.NoError(t, err)
	assert.Len(t, rows, 3)
}

// TestMismatchedHeaderDegradesGracefully tests the degraded-indexing path
func TestMismatchedHeaderDegradesGracefully(t *testing.T) {
	path := filepath.Join(t.TempDir(), "old.log.csv")
	require.NoError(t, os.WriteFile(path, []byte("identifier,outcome\nitem-1,CREATED\n"), 0o644))

	log, err := New(path, completedFields, "id")
	require.NoError(t, err)
	defer log.Close()

	// The existing record is counted but cannot be indexed by key.
	assert.Equal(t, 1, log.Len())
	assert.False(t, log.Contains("item-1"))
}

// TestMismatchedHeaderWithKeyColumn tests lookups surviving a partial match
func TestMismatchedHeaderWithKeyColumn(t *testing.T) {
	path := filepath.Join(t.TempDir(), "partial.log.csv")
	require.NoError(t, os.WriteFile(path, []byte("id,outcome\nitem-1,CREATED\n"), 0o644))

	log, err := New(path, completedFields, "id")
	require.NoError(t, err)
	defer log.Close()

	assert.Equal(t, 1, log.Len())
	assert.True(t, log.Contains("item-1"))
}

// TestBadKeyField tests constructor validation
func TestBadKeyField(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.csv")
	_, err := New(path, completedFields, "nope")
	assert.Error(t, err)

	_, err = New(path, nil, "id")
	assert.Error(t, err)
}

// TestDurableAfterAppend tests that records hit the file without Close
func TestDurableAfterAppend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "completed.log.csv")
	log, err := New(path, completedFields, "id")
	require.NoError(t, err)
	defer log.Close()

	require.NoError(t, log.Append(map[string]string{"id": "item-1", "status": "CREATED"}))

	// Read the file while the log is still open.
	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(content), "item-1")
}
