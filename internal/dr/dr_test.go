package dr

import (
	"bytes"
	"context"
	"os"
	"testing"
	"time"

	"github.com/ipfs/go-cid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arke-institute/arke-archive/internal/blockstoretest"
	"github.com/arke-institute/arke-archive/internal/eventchain"
	"github.com/arke-institute/arke-archive/internal/indexptr"
	"github.com/arke-institute/arke-archive/internal/lock"
	"github.com/arke-institute/arke-archive/internal/snapshotbuilder"
	"github.com/arke-institute/arke-archive/internal/tip"
)

func TestExportImportRoundTrip(t *testing.T) {
	store := blockstoretest.New()
	idx := indexptr.New(store)
	chain := eventchain.New(store, idx)
	tm := tip.New(store, chain)
	ctx := context.Background()

	comp, err := store.AddBytes(ctx, bytes.NewReader([]byte("component data")), false)
	require.NoError(t, err)
	a1, err := tm.Create(ctx, tip.CreateInput{PI: "pi-a", Components: map[string]cid.Cid{"data": comp}})
	require.NoError(t, err)
	a2, err := tm.Update(ctx, tip.UpdateInput{PI: "pi-a", ExpectTip: a1.CID})
	require.NoError(t, err)
	a3, err := tm.Update(ctx, tip.UpdateInput{PI: "pi-a", ExpectTip: a2.CID})
	require.NoError(t, err)

	fl := lock.New(t.TempDir()+"/snap.lock", 10*time.Minute)
	builder := snapshotbuilder.New(store, idx, fl, t.TempDir(), false)
	buildRes, err := builder.Build(ctx, snapshotbuilder.TriggerManual)
	require.NoError(t, err)
	require.False(t, buildRes.Skipped)

	outDir := t.TempDir()
	exporter := NewExporter(store, idx)
	exportRes, err := exporter.Export(ctx, outDir)
	require.NoError(t, err)
	assert.Equal(t, 1, exportRes.Metadata.EntryCount)

	dstStore := blockstoretest.New()
	dstIdx := indexptr.New(dstStore)
	importer := NewImporter(dstStore, dstIdx)

	f, err := os.Open(exportRes.ArchivePath)
	require.NoError(t, err)
	defer f.Close()

	importRes, err := importer.Import(ctx, f, buildRes.CID)
	require.NoError(t, err)
	assert.Equal(t, 1, importRes.EntryCount)

	dstTip := tip.New(dstStore, nil)
	resolved, err := dstTip.Resolve(ctx, "pi-a")
	require.NoError(t, err)
	assert.Equal(t, a3.CID, resolved)

	man, _, err := dstTip.GetLatest(ctx, "pi-a")
	require.NoError(t, err)
	assert.Equal(t, 3, man.Ver)
	assert.Len(t, man.Components, 1)

	p, err := dstIdx.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, buildRes.Snapshot.Seq, p.SnapshotSeq)
	require.NotNil(t, p.LatestSnapshot)
	assert.Equal(t, buildRes.CID, *p.LatestSnapshot)
}
