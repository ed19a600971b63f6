package cache

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiskSetAndGet(t *testing.T) {
	tempDir := t.TempDir()
	cache := NewDisk(tempDir)
	ctx := context.Background()

	// Test data
	cachePath := filepath.Join("test", "cache.bin")
	testData := []byte("test response data")

	require.NoError(t, cache.Set(ctx, cachePath, testData))

	// Verify file exists at the correct location
	expectedPath := filepath.Join(tempDir, cachePath)
	if _, err := os.Stat(expectedPath); os.IsNotExist(err) {
		t.Fatalf("Cache file was not created at %s", expectedPath)
	}

	data, err := cache.Get(ctx, cachePath)
	require.NoError(t, err)
	assert.Equal(t, testData, data)
}

func TestDiskOverwrite(t *testing.T) {
	cache := NewDisk(t.TempDir())
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "a/b.bin", []byte("X")))
	require.NoError(t, cache.Set(ctx, "a/b.bin", []byte("Y")))

	data, err := cache.Get(ctx, "a/b.bin")
	require.NoError(t, err)
	assert.Equal(t, []byte("Y"), data)

	// no temp files are left behind
	entries, err := os.ReadDir(filepath.Join(cache.cacheDir, "a"))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestDiskGetMiss(t *testing.T) {
	cache := NewDisk(t.TempDir())

	data, err := cache.Get(context.Background(), "missing.bin")
	assert.NoError(t, err)
	assert.Nil(t, data)
}

func TestDiskRejectsEscapingKeys(t *testing.T) {
	cache := NewDisk(t.TempDir())
	ctx := context.Background()

	assert.Error(t, cache.Set(ctx, "../outside.bin", []byte("x")))
	_, err := cache.Get(ctx, "")
	assert.Error(t, err)
}

func TestDiskInit(t *testing.T) {
	tempDir := t.TempDir()
	cacheDir := filepath.Join(tempDir, "new", "cache", "dir")

	cache := NewDisk(cacheDir)

	require.NoError(t, cache.Init(context.Background()))

	// Verify directory was created
	if _, err := os.Stat(cacheDir); os.IsNotExist(err) {
		t.Fatalf("Cache directory was not created")
	}
}
