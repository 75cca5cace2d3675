package tip

import (
	"context"
	"testing"

	"github.com/ipfs/go-cid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arke-institute/arke-archive/internal/arkeerr"
	"github.com/arke-institute/arke-archive/internal/blockstoretest"
	"github.com/arke-institute/arke-archive/internal/model"
)

// fakeEvents records appended events without enforcing the real
// index-pointer mutex semantics; sufficient for exercising the tip
// manager's own contract in isolation.
type fakeEvents struct {
	appended []struct {
		Type model.EventType
		PI   string
		Ver  int
		Tip  cid.Cid
	}
}

func (f *fakeEvents) Append(ctx context.Context, evtType model.EventType, pi string, ver int, tipCID cid.Cid) (cid.Cid, error) {
	f.appended = append(f.appended, struct {
		Type model.EventType
		PI   string
		Ver  int
		Tip  cid.Cid
	}{evtType, pi, ver, tipCID})
	return tipCID, nil
}

func newTestManager() (*Manager, *blockstoretest.Fake, *fakeEvents) {
	store := blockstoretest.New()
	events := &fakeEvents{}
	return New(store, events), store, events
}

func TestManager_CreateThenAlreadyExists(t *testing.T) {
	m, _, events := newTestManager()
	ctx := context.Background()

	res, err := m.Create(ctx, CreateInput{
		PI:         "pi-0001",
		Components: map[string]cid.Cid{},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Ver)
	require.Len(t, events.appended, 1)
	assert.Equal(t, model.EventCreate, events.appended[0].Type)

	_, err = m.Create(ctx, CreateInput{PI: "pi-0001"})
	kind, ok := arkeerr.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, arkeerr.AlreadyExists, kind)
}

func TestManager_UpdateCAS(t *testing.T) {
	m, _, _ := newTestManager()
	ctx := context.Background()

	comp, _ := cid.Parse("bafybeigdyrzt5sfp7udm7hu76uh7y26nf3efuylqabf3oclgtqy55fbzdi")
	created, err := m.Create(ctx, CreateInput{PI: "pi-0002", Components: map[string]cid.Cid{"data": comp}})
	require.NoError(t, err)

	updated, err := m.Update(ctx, UpdateInput{
		PI:        "pi-0002",
		ExpectTip: created.CID,
		ComponentsPatch: map[string]cid.Cid{
			"meta": comp,
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, updated.Ver)

	man, tip, err := m.GetLatest(ctx, "pi-0002")
	require.NoError(t, err)
	assert.Equal(t, updated.CID, tip)
	assert.Equal(t, 2, man.Ver)
	assert.Len(t, man.Components, 2)

	// A second update racing against the stale first tip must conflict.
	_, err = m.Update(ctx, UpdateInput{PI: "pi-0002", ExpectTip: created.CID})
	kind, ok := arkeerr.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, arkeerr.Conflict, kind)

	var arkErr *arkeerr.Error
	require.True(t, arkeerr.As(err, &arkErr))
	assert.Equal(t, updated.CID.String(), arkErr.Observed)
}

func TestManager_ListVersions(t *testing.T) {
	m, _, _ := newTestManager()
	ctx := context.Background()

	created, err := m.Create(ctx, CreateInput{PI: "pi-0003"})
	require.NoError(t, err)
	v2, err := m.Update(ctx, UpdateInput{PI: "pi-0003", ExpectTip: created.CID})
	require.NoError(t, err)
	v3, err := m.Update(ctx, UpdateInput{PI: "pi-0003", ExpectTip: v2.CID})
	require.NoError(t, err)

	items, next, err := m.ListVersions(ctx, "pi-0003", 2, cid.Undef)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, 3, items[0].Ver)
	assert.Equal(t, 2, items[1].Ver)
	assert.True(t, next.Defined())

	rest, next2, err := m.ListVersions(ctx, "pi-0003", 5, next)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, 1, rest[0].Ver)
	assert.False(t, next2.Defined())
	assert.NotEqual(t, v3.CID, created.CID)
}

func TestShardPath(t *testing.T) {
	assert.Equal(t, "/arke/index/01/AR/01ARZ3NDEKTSV4RRFFQ69G5FAV.tip", shardPath("01ARZ3NDEKTSV4RRFFQ69G5FAV"))
}
