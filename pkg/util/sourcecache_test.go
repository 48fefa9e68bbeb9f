package util

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSource(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestSourceCache_SliceByteRange(t *testing.T) {
	path := writeSource(t, "live.ex", "def handle_event(\"save\", params, socket) do\nend\n")
	sc := NewSourceCache(0, nil)
	defer sc.Close()

	text, err := sc.Slice(path, 4, 16)
	require.NoError(t, err)
	assert.Equal(t, "handle_event", text)
}

func TestSourceCache_SliceWholeFile(t *testing.T) {
	content := "defmodule A do\nend\n"
	path := writeSource(t, "a.ex", content)
	sc := NewSourceCache(0, nil)
	defer sc.Close()

	text, err := sc.Slice(path, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, content, text)
}

func TestSourceCache_SliceInvalidRange(t *testing.T) {
	path := writeSource(t, "a.ex", "short")
	sc := NewSourceCache(0, nil)
	defer sc.Close()

	_, err := sc.Slice(path, 3, 2)
	assert.Error(t, err)

	_, err = sc.Slice(path, 0, 100)
	assert.Error(t, err)
}

func TestSourceCache_EmptyFile(t *testing.T) {
	path := writeSource(t, "empty.ex", "")
	sc := NewSourceCache(0, nil)
	defer sc.Close()

	text, err := sc.Slice(path, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, text)
}

func TestSourceCache_Line(t *testing.T) {
	path := writeSource(t, "handlers.ex", "one\ntwo\nthree\nfour\n")
	sc := NewSourceCache(0, nil)
	defer sc.Close()

	text, err := sc.Line(path, 2, 2)
	require.NoError(t, err)
	assert.Equal(t, "two\nthree", text)

	_, err = sc.Line(path, 99, 1)
	assert.Error(t, err)
}

func TestSourceCache_CountsHitsAndMisses(t *testing.T) {
	path := writeSource(t, "a.ex", "content here")
	sc := NewSourceCache(0, nil)
	defer sc.Close()

	_, err := sc.Slice(path, 0, 0)
	require.NoError(t, err)
	_, err = sc.Slice(path, 0, 4)
	require.NoError(t, err)

	stats := sc.Stats()
	assert.Equal(t, 1, stats.Mapped)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, int64(1), stats.Hits)
}

func TestSourceCache_InvalidateRereadsFreshContent(t *testing.T) {
	path := writeSource(t, "a.ex", "before")
	sc := NewSourceCache(0, nil)
	defer sc.Close()

	text, err := sc.Slice(path, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, "before", text)

	require.NoError(t, os.WriteFile(path, []byte("after!"), 0o644))
	sc.Invalidate(path)

	text, err = sc.Slice(path, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, "after!", text)
}

func TestSourceCache_MaxFilesServesUncached(t *testing.T) {
	a := writeSource(t, "a.ex", "aaa")
	b := writeSource(t, "b.ex", "bbb")
	sc := NewSourceCache(1, nil)
	defer sc.Close()

	_, err := sc.Slice(a, 0, 0)
	require.NoError(t, err)

	// Over the limit: still served, just not cached.
	text, err := sc.Slice(b, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, "bbb", text)
	assert.Equal(t, 1, sc.Stats().Mapped)
}

func TestSourceCache_MissingFile(t *testing.T) {
	sc := NewSourceCache(0, nil)
	defer sc.Close()

	_, err := sc.Slice(filepath.Join(t.TempDir(), "missing.ex"), 0, 0)
	assert.Error(t, err)
}

func TestGetOptimalPoolSizeWithOverride(t *testing.T) {
	assert.Equal(t, 7, GetOptimalPoolSizeWithOverride(7))

	size := GetOptimalPoolSizeWithOverride(0)
	assert.GreaterOrEqual(t, size, 4)
	assert.LessOrEqual(t, size, 32)
}
