package snapshotbuilder

import (
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
	"github.com/arke-institute/arke-archive/internal/model"
	"github.com/arke-institute/arke-archive/internal/tip"
)

func newTestRig(t *testing.T) (*blockstoretest.Fake, *tip.Manager, *indexptr.Pointer, *Builder) {
	t.Helper()
	store := blockstoretest.New()
	idx := indexptr.New(store)
	chain := eventchain.New(store, idx)
	tm := tip.New(store, chain)
	fl := lock.New(t.TempDir()+"/snapshot.lock", 10*time.Minute)
	b := New(store, idx, fl, t.TempDir(), false)
	return store, tm, idx, b
}

func TestBuilder_FullModeFoldsDistinctPIs(t *testing.T) {
	_, tm, _, b := newTestRig(t)
	ctx := context.Background()

	comp, _ := cid.Parse("bafybeigdyrzt5sfp7udm7hu76uh7y26nf3efuylqabf3oclgtqy55fbzdi")

	a1, err := tm.Create(ctx, tip.CreateInput{PI: "pi-a", Components: map[string]cid.Cid{"data": comp}})
	require.NoError(t, err)
	_, err = tm.Update(ctx, tip.UpdateInput{PI: "pi-a", ExpectTip: a1.CID})
	require.NoError(t, err)
	_, err = tm.Create(ctx, tip.CreateInput{PI: "pi-b"})
	require.NoError(t, err)

	res, err := b.Build(ctx, TriggerManual)
	require.NoError(t, err)
	require.False(t, res.Skipped)
	require.Len(t, res.Snapshot.Entries, 2)
	assert.Equal(t, "pi-a", res.Snapshot.Entries[0].PI)
	assert.Equal(t, 2, res.Snapshot.Entries[0].Ver)
	assert.Equal(t, "pi-b", res.Snapshot.Entries[1].PI)
	assert.NotEmpty(t, res.Snapshot.MerkleRoot)
	assert.True(t, res.Snapshot.Consistency.IsAppendOnly)
	assert.Equal(t, 1, res.Snapshot.Seq)
}

func TestBuilder_SkipsWhenNoNewEvents(t *testing.T) {
	_, tm, _, b := newTestRig(t)
	ctx := context.Background()

	_, err := tm.Create(ctx, tip.CreateInput{PI: "pi-a"})
	require.NoError(t, err)

	res1, err := b.Build(ctx, TriggerManual)
	require.NoError(t, err)
	require.False(t, res1.Skipped)

	res2, err := b.Build(ctx, TriggerManual)
	require.NoError(t, err)
	assert.True(t, res2.Skipped)
}

func TestBuilder_IncrementalModeOnlyAddsChangedPIs(t *testing.T) {
	_, tm, _, b := newTestRig(t)
	ctx := context.Background()

	_, err := tm.Create(ctx, tip.CreateInput{PI: "pi-a"})
	require.NoError(t, err)
	res1, err := b.Build(ctx, TriggerScheduled)
	require.NoError(t, err)
	require.False(t, res1.Skipped)

	created, err := tm.Create(ctx, tip.CreateInput{PI: "pi-b"})
	require.NoError(t, err)
	require.NotNil(t, created)

	res2, err := b.Build(ctx, TriggerScheduled)
	require.NoError(t, err)
	require.False(t, res2.Skipped)
	require.Len(t, res2.Snapshot.Entries, 2)
	assert.Equal(t, 2, res2.Snapshot.Seq)
	assert.True(t, res2.Snapshot.CIDCount >= res1.Snapshot.CIDCount)
}

func TestBuilder_NoEventsYieldsSkip(t *testing.T) {
	_, _, _, b := newTestRig(t)
	res, err := b.Build(context.Background(), TriggerScheduled)
	require.NoError(t, err)
	assert.True(t, res.Skipped)
}

// TestBuilder_KillMidFoldResumesFromCheckpoint reproduces a builder
// killed partway through a fold: the checkpoint file it left behind
// records one entry and a cursor pointing at the next event to visit.
// A fresh Build call must rediscover that checkpoint by its
// deterministic path and finish the walk from the recorded cursor,
// producing the same entry set an uninterrupted run would (spec B4).
func TestBuilder_KillMidFoldResumesFromCheckpoint(t *testing.T) {
	store, tm, idx, b := newTestRig(t)
	ctx := context.Background()

	comp, _ := cid.Parse("bafybeigdyrzt5sfp7udm7hu76uh7y26nf3efuylqabf3oclgtqy55fbzdi")
	a1, err := tm.Create(ctx, tip.CreateInput{PI: "pi-a", Components: map[string]cid.Cid{"data": comp}})
	require.NoError(t, err)
	_, err = tm.Update(ctx, tip.UpdateInput{PI: "pi-a", ExpectTip: a1.CID})
	require.NoError(t, err)
	_, err = tm.Create(ctx, tip.CreateInput{PI: "pi-b"})
	require.NoError(t, err)
	_, err = tm.Create(ctx, tip.CreateInput{PI: "pi-c"})
	require.NoError(t, err)

	p, err := idx.Get(ctx)
	require.NoError(t, err)
	require.NotNil(t, p.EventHead)

	var head model.Event
	require.NoError(t, store.GetDAG(ctx, *p.EventHead, &head))

	cpPath := checkpointPath(b.CheckpointDir, TriggerManual, *p.EventHead)
	cp, err := OpenCheckpoint(cpPath)
	require.NoError(t, err)
	require.NoError(t, cp.Put(model.SnapshotEntry{
		PI: head.PI, Ver: head.Ver, TipCID: head.TipCID, ChainCID: *p.EventHead, TS: head.TS,
	}))
	require.NoError(t, cp.MarkSeenThisRun(head.PI))
	var resumeFrom cid.Cid
	if head.Prev != nil {
		resumeFrom = *head.Prev
	}
	require.NoError(t, cp.SetCursor(resumeFrom))
	require.NoError(t, cp.Close())

	res, err := b.Build(ctx, TriggerManual)
	require.NoError(t, err)
	require.False(t, res.Skipped)
	require.Len(t, res.Snapshot.Entries, 3)
	assert.Equal(t, "pi-a", res.Snapshot.Entries[0].PI)
	assert.Equal(t, 2, res.Snapshot.Entries[0].Ver)
	assert.Equal(t, "pi-b", res.Snapshot.Entries[1].PI)
	assert.Equal(t, "pi-c", res.Snapshot.Entries[2].PI)

	_, err = os.Stat(cpPath)
	assert.True(t, os.IsNotExist(err), "resumed build should remove the completed checkpoint")
}
