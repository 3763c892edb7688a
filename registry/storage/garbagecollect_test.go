package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocistore/registry/digest"
)

const ociManifestType = "application/vnd.oci.image.manifest.v1+json"

func putBlob(t *testing.T, reg *Registry, content []byte) digest.Digest {
	t.Helper()
	dgst := digest.FromBytes(content)
	require.NoError(t, reg.Blobs().Put(context.Background(), dgst, content))
	return dgst
}

func putImageManifest(t *testing.T, reg *Registry, repo, tag string, config digest.Digest, layers ...digest.Digest) digest.Digest {
	t.Helper()
	doc := map[string]any{
		"schemaVersion": 2,
		"mediaType":     ociManifestType,
		"config":        map[string]any{"digest": config.String()},
	}
	layerList := make([]map[string]any, 0, len(layers))
	for _, l := range layers {
		layerList = append(layerList, map[string]any{"digest": l.String()})
	}
	doc["layers"] = layerList
	body, err := json.Marshal(doc)
	require.NoError(t, err)

	dgst, err := reg.Manifests().Put(context.Background(), repo, tag, ociManifestType, body)
	require.NoError(t, err)
	return dgst
}

func TestGCKeepsReferencedBlobs(t *testing.T) {
	ctx := context.Background()
	reg := testRegistry(t)

	config := putBlob(t, reg, []byte("config bytes"))
	layer := putBlob(t, reg, []byte("layer bytes"))
	orphan := putBlob(t, reg, []byte("orphan bytes"))
	putImageManifest(t, reg, "lib/app", "v1", config, layer)

	gc := NewGarbageCollector(reg)
	gc.GracePeriod = 0

	stats, err := gc.Run(ctx, false)
	require.NoError(t, err)

	assert.Equal(t, 1, stats.OrphanedBlobsFound)
	assert.Equal(t, 1, stats.BlobsDeleted)
	assert.Equal(t, int64(len("orphan bytes")), stats.BytesFreed)

	for _, dgst := range []digest.Digest{config, layer} {
		exists, err := reg.Blobs().Exists(ctx, dgst)
		require.NoError(t, err)
		assert.True(t, exists, dgst)
	}
	exists, err := reg.Blobs().Exists(ctx, orphan)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestGCGracePeriodShieldsRecentBlobs(t *testing.T) {
	ctx := context.Background()
	reg := testRegistry(t)

	orphan := putBlob(t, reg, []byte("just uploaded"))

	gc := NewGarbageCollector(reg)
	gc.GracePeriod = 24 * time.Hour

	stats, err := gc.Run(ctx, false)
	require.NoError(t, err)

	assert.Equal(t, 1, stats.OrphanedBlobsFound)
	assert.Zero(t, stats.BlobsDeleted)

	exists, err := reg.Blobs().Exists(ctx, orphan)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestGCDryRunDeletesNothing(t *testing.T) {
	ctx := context.Background()
	reg := testRegistry(t)

	orphan := putBlob(t, reg, []byte("orphan bytes"))

	gc := NewGarbageCollector(reg)
	gc.GracePeriod = 0

	stats, err := gc.Run(ctx, true)
	require.NoError(t, err)

	assert.Equal(t, 1, stats.OrphanedBlobsFound)
	assert.Zero(t, stats.BlobsDeleted)
	assert.Equal(t, int64(len("orphan bytes")), stats.BytesFreed)
	assert.True(t, stats.DryRun)

	exists, err := reg.Blobs().Exists(ctx, orphan)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestGCMaxBlobsPerRun(t *testing.T) {
	ctx := context.Background()
	reg := testRegistry(t)

	for i := 0; i < 5; i++ {
		putBlob(t, reg, []byte(fmt.Sprintf("orphan %d", i)))
	}

	gc := NewGarbageCollector(reg)
	gc.GracePeriod = 0
	gc.MaxBlobsPerRun = 2

	stats, err := gc.Run(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 5, stats.OrphanedBlobsFound)
	assert.Equal(t, 2, stats.BlobsDeleted)

	all, err := reg.ListAllBlobs(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestGCIndexManifestReferences(t *testing.T) {
	ctx := context.Background()
	reg := testRegistry(t)

	config := putBlob(t, reg, []byte("platform config"))
	layer := putBlob(t, reg, []byte("platform layer"))
	child := putImageManifest(t, reg, "lib/multi", "amd64-only", config, layer)

	index := map[string]any{
		"schemaVersion": 2,
		"mediaType":     "application/vnd.oci.image.index.v1+json",
		"manifests":     []map[string]any{{"digest": child.String()}},
	}
	body, err := json.Marshal(index)
	require.NoError(t, err)
	_, err = reg.Manifests().Put(ctx, "lib/multi", "latest", "application/vnd.oci.image.index.v1+json", body)
	require.NoError(t, err)

	// Drop the direct tag so the child manifest is only reachable
	// through the index.
	require.NoError(t, reg.Manifests().Delete(ctx, "lib/multi", "amd64-only"))

	gc := NewGarbageCollector(reg)
	gc.GracePeriod = 0

	stats, err := gc.Run(ctx, false)
	require.NoError(t, err)
	assert.Zero(t, stats.BlobsDeleted)
	assert.Zero(t, stats.ManifestsDeleted)

	for _, dgst := range []digest.Digest{config, layer} {
		exists, err := reg.Blobs().Exists(ctx, dgst)
		require.NoError(t, err)
		assert.True(t, exists, dgst)
	}
}

func TestGCSweepsOrphanManifests(t *testing.T) {
	ctx := context.Background()
	reg := testRegistry(t)

	config := putBlob(t, reg, []byte("kept config"))
	kept := putImageManifest(t, reg, "lib/app", "v1", config)

	// Stored by digest only, reachable from no tag.
	orphanBody := []byte(`{"schemaVersion":2,"layers":[]}`)
	orphanDigest, err := reg.Manifests().Put(ctx, "lib/app", digest.FromBytes(orphanBody).String(), ociManifestType, orphanBody)
	require.NoError(t, err)

	gc := NewGarbageCollector(reg)
	gc.GracePeriod = 0

	stats, err := gc.Run(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.OrphanedManifestsFound)
	assert.Equal(t, 1, stats.ManifestsDeleted)

	_, err = reg.Manifests().Get(ctx, "lib/app", orphanDigest.String())
	assert.ErrorIs(t, err, ErrManifestUnknown)

	_, err = reg.Manifests().Get(ctx, "lib/app", kept.String())
	assert.NoError(t, err)
}

func TestGCDanglingTagIsNotAReference(t *testing.T) {
	ctx := context.Background()
	reg := testRegistry(t)

	layer := putBlob(t, reg, []byte("dangling layer"))
	dgst := putImageManifest(t, reg, "lib/app", "v1", layer)

	// Deleting the manifest entity leaves the v1 tag dangling.
	require.NoError(t, reg.Manifests().Delete(ctx, "lib/app", dgst.String()))

	gc := NewGarbageCollector(reg)
	gc.GracePeriod = 0

	stats, err := gc.Run(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.OrphanedBlobsFound)
	assert.Equal(t, 1, stats.BlobsDeleted)
}

func TestGCSweepCompleteHook(t *testing.T) {
	ctx := context.Background()
	reg := testRegistry(t)

	putBlob(t, reg, []byte("orphan bytes"))

	gc := NewGarbageCollector(reg)
	gc.GracePeriod = 0
	var purges int
	gc.OnSweepComplete = func() { purges++ }

	// Dry runs delete nothing and must not fire the hook.
	_, err := gc.Run(ctx, true)
	require.NoError(t, err)
	assert.Zero(t, purges)

	stats, err := gc.Run(ctx, false)
	require.NoError(t, err)
	require.Equal(t, 1, stats.BlobsDeleted)
	assert.Equal(t, 1, purges)

	// A run with nothing to sweep leaves the hook alone.
	_, err = gc.Run(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 1, purges)
}

func TestGCSingleFlight(t *testing.T) {
	reg := testRegistry(t)
	gc := NewGarbageCollector(reg)

	// Hold the single-flight guard as a concurrent run would.
	require.True(t, atomic.CompareAndSwapInt32(&gc.running, 0, 1))
	_, err := gc.Run(context.Background(), false)
	assert.True(t, IsAlreadyRunning(err))
	atomic.StoreInt32(&gc.running, 0)

	_, err = gc.Run(context.Background(), false)
	assert.NoError(t, err)
}
