package eventchain

import (
	"context"
	"testing"

	"github.com/ipfs/go-cid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arke-institute/arke-archive/internal/blockstoretest"
	"github.com/arke-institute/arke-archive/internal/indexptr"
	"github.com/arke-institute/arke-archive/internal/model"
)

func sampleTip(t *testing.T, store *blockstoretest.Fake, pi string) cid.Cid {
	t.Helper()
	c, err := store.PutDAG(context.Background(), model.Manifest{
		Schema: model.SchemaManifest, PI: pi, Ver: 1, TS: model.Now(),
		Components: map[string]cid.Cid{},
	}, model.Typed, true, false)
	require.NoError(t, err)
	return c
}

func TestChain_AppendAdvancesIndexPointer(t *testing.T) {
	store := blockstoretest.New()
	idx := indexptr.New(store)
	chain := New(store, idx)
	ctx := context.Background()

	tip1 := sampleTip(t, store, "pi-a")
	ecid1, err := chain.Append(ctx, model.EventCreate, "pi-a", 1, tip1)
	require.NoError(t, err)

	p, err := idx.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, p.EventCount)
	assert.Equal(t, 1, p.TotalPIs)
	require.NotNil(t, p.EventHead)
	assert.Equal(t, ecid1, *p.EventHead)

	tip2 := sampleTip(t, store, "pi-b")
	ecid2, err := chain.Append(ctx, model.EventCreate, "pi-b", 1, tip2)
	require.NoError(t, err)

	p2, err := idx.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, p2.EventCount)
	assert.Equal(t, 2, p2.TotalPIs)
	assert.Equal(t, ecid2, *p2.EventHead)

	var ev model.Event
	require.NoError(t, store.GetDAG(ctx, ecid2, &ev))
	require.NotNil(t, ev.Prev)
	assert.Equal(t, ecid1, *ev.Prev)
}

func TestChain_ListEventsPaginates(t *testing.T) {
	store := blockstoretest.New()
	idx := indexptr.New(store)
	chain := New(store, idx)
	ctx := context.Background()

	for i, pi := range []string{"pi-1", "pi-2", "pi-3"} {
		tip := sampleTip(t, store, pi)
		evtType := model.EventCreate
		if i > 0 {
			evtType = model.EventUpdate
		}
		_, err := chain.Append(ctx, evtType, pi, 1, tip)
		require.NoError(t, err)
	}

	items, next, head, err := chain.ListEvents(ctx, 2, cid.Undef)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "pi-3", items[0].PI)
	assert.Equal(t, "pi-2", items[1].PI)
	assert.True(t, next.Defined())
	assert.True(t, head.Defined())

	rest, next2, _, err := chain.ListEvents(ctx, 5, next)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, "pi-1", rest[0].PI)
	assert.False(t, next2.Defined())
}
