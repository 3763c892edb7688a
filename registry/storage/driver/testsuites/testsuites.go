// Package testsuites holds the storage-driver conformance suite, run
// against every backend so ingestion, listing, and GC semantics stay
// identical across them (spec.md §1 "the abstraction must keep ...
// semantics identical across backends").
package testsuites

import (
	"context"
	"io"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	driver "github.com/ocistore/registry/registry/storage/driver"
)

// Run executes the conformance suite against d.
func Run(t *testing.T, d driver.StorageDriver) {
	t.Run("PutGetContent", func(t *testing.T) { testPutGetContent(t, d) })
	t.Run("GetAbsent", func(t *testing.T) { testGetAbsent(t, d) })
	t.Run("Overwrite", func(t *testing.T) { testOverwrite(t, d) })
	t.Run("ReaderOffset", func(t *testing.T) { testReaderOffset(t, d) })
	t.Run("WriterAppend", func(t *testing.T) { testWriterAppend(t, d) })
	t.Run("WriterCancel", func(t *testing.T) { testWriterCancel(t, d) })
	t.Run("Stat", func(t *testing.T) { testStat(t, d) })
	t.Run("ListOrdered", func(t *testing.T) { testListOrdered(t, d) })
	t.Run("Move", func(t *testing.T) { testMove(t, d) })
	t.Run("DeleteRecursive", func(t *testing.T) { testDeleteRecursive(t, d) })
	t.Run("DeleteAbsent", func(t *testing.T) { testDeleteAbsent(t, d) })
	t.Run("InvalidPath", func(t *testing.T) { testInvalidPath(t, d) })
}

func testPutGetContent(t *testing.T, d driver.StorageDriver) {
	ctx := context.Background()
	content := []byte("conformance content")
	require.NoError(t, d.PutContent(ctx, "/conf/putget", content))

	got, err := d.GetContent(ctx, "/conf/putget")
	require.NoError(t, err)
	assert.Equal(t, content, got)
}

func testGetAbsent(t *testing.T, d driver.StorageDriver) {
	_, err := d.GetContent(context.Background(), "/conf/never-written")
	var pnf driver.PathNotFoundError
	assert.ErrorAs(t, err, &pnf)
}

func testOverwrite(t *testing.T, d driver.StorageDriver) {
	ctx := context.Background()
	require.NoError(t, d.PutContent(ctx, "/conf/overwrite", []byte("first")))
	require.NoError(t, d.PutContent(ctx, "/conf/overwrite", []byte("second")))

	got, err := d.GetContent(ctx, "/conf/overwrite")
	require.NoError(t, err)
	assert.Equal(t, []byte("second"), got)
}

func testReaderOffset(t *testing.T, d driver.StorageDriver) {
	ctx := context.Background()
	require.NoError(t, d.PutContent(ctx, "/conf/reader", []byte("0123456789")))

	rc, err := d.Reader(ctx, "/conf/reader", 4)
	require.NoError(t, err)
	defer rc.Close()

	rest, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, []byte("456789"), rest)

	_, err = d.Reader(ctx, "/conf/reader", -1)
	assert.Error(t, err)
}

func testWriterAppend(t *testing.T, d driver.StorageDriver) {
	ctx := context.Background()

	w, err := d.Writer(ctx, "/conf/writer", false)
	require.NoError(t, err)
	_, err = w.Write([]byte("part one "))
	require.NoError(t, err)
	require.NoError(t, w.Commit(ctx))
	require.NoError(t, w.Close())

	w, err = d.Writer(ctx, "/conf/writer", true)
	require.NoError(t, err)
	assert.Equal(t, int64(len("part one ")), w.Size())
	_, err = w.Write([]byte("part two"))
	require.NoError(t, err)
	require.NoError(t, w.Commit(ctx))
	require.NoError(t, w.Close())

	got, err := d.GetContent(ctx, "/conf/writer")
	require.NoError(t, err)
	assert.Equal(t, []byte("part one part two"), got)
}

func testWriterCancel(t *testing.T, d driver.StorageDriver) {
	ctx := context.Background()

	w, err := d.Writer(ctx, "/conf/cancelled", false)
	require.NoError(t, err)
	_, err = w.Write([]byte("discard me"))
	require.NoError(t, err)
	require.NoError(t, w.Cancel(ctx))

	_, err = d.GetContent(ctx, "/conf/cancelled")
	var pnf driver.PathNotFoundError
	assert.ErrorAs(t, err, &pnf)
}

func testStat(t *testing.T, d driver.StorageDriver) {
	ctx := context.Background()
	content := []byte("stat me")
	require.NoError(t, d.PutContent(ctx, "/conf/statdir/file", content))

	fi, err := d.Stat(ctx, "/conf/statdir/file")
	require.NoError(t, err)
	assert.Equal(t, int64(len(content)), fi.Size())
	assert.False(t, fi.IsDir())
	assert.WithinDuration(t, time.Now(), fi.ModTime(), time.Minute)

	dir, err := d.Stat(ctx, "/conf/statdir")
	require.NoError(t, err)
	assert.True(t, dir.IsDir())

	_, err = d.Stat(ctx, "/conf/statdir/absent")
	var pnf driver.PathNotFoundError
	assert.ErrorAs(t, err, &pnf)
}

func testListOrdered(t *testing.T, d driver.StorageDriver) {
	ctx := context.Background()
	for _, name := range []string{"delta", "alpha", "charlie", "bravo"} {
		require.NoError(t, d.PutContent(ctx, "/conf/list/"+name, []byte(name)))
	}

	entries, err := d.List(ctx, "/conf/list")
	require.NoError(t, err)
	require.Len(t, entries, 4)
	assert.True(t, sort.StringsAreSorted(entries), "entries not in lexicographic order: %v", entries)
	assert.Equal(t, "/conf/list/alpha", entries[0])

	_, err = d.List(ctx, "/conf/list-absent")
	var pnf driver.PathNotFoundError
	assert.ErrorAs(t, err, &pnf)
}

func testMove(t *testing.T, d driver.StorageDriver) {
	ctx := context.Background()
	content := []byte("movable")
	require.NoError(t, d.PutContent(ctx, "/conf/move/src", content))

	require.NoError(t, d.Move(ctx, "/conf/move/src", "/conf/move/deep/dst"))

	got, err := d.GetContent(ctx, "/conf/move/deep/dst")
	require.NoError(t, err)
	assert.Equal(t, content, got)

	_, err = d.GetContent(ctx, "/conf/move/src")
	var pnf driver.PathNotFoundError
	assert.ErrorAs(t, err, &pnf)

	err = d.Move(ctx, "/conf/move/never-existed", "/conf/move/elsewhere")
	assert.ErrorAs(t, err, &pnf)
}

func testDeleteRecursive(t *testing.T, d driver.StorageDriver) {
	ctx := context.Background()
	require.NoError(t, d.PutContent(ctx, "/conf/tree/a/one", []byte("1")))
	require.NoError(t, d.PutContent(ctx, "/conf/tree/a/two", []byte("2")))
	require.NoError(t, d.PutContent(ctx, "/conf/tree/keep", []byte("3")))

	require.NoError(t, d.Delete(ctx, "/conf/tree/a"))

	_, err := d.GetContent(ctx, "/conf/tree/a/one")
	var pnf driver.PathNotFoundError
	assert.ErrorAs(t, err, &pnf)

	got, err := d.GetContent(ctx, "/conf/tree/keep")
	require.NoError(t, err)
	assert.Equal(t, []byte("3"), got)
}

func testDeleteAbsent(t *testing.T, d driver.StorageDriver) {
	assert.NoError(t, d.Delete(context.Background(), "/conf/absent-tree"))
}

func testInvalidPath(t *testing.T, d driver.StorageDriver) {
	ctx := context.Background()
	var inv driver.InvalidPathError
	for _, p := range []string{"", "relative/path", "/with space", "/trailing/"} {
		err := d.PutContent(ctx, p, []byte("x"))
		assert.ErrorAs(t, err, &inv, "path %q", p)
	}
}
