package blockstoretest

import (
	"bytes"
	"context"
	"testing"

	"github.com/ipfs/go-cid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arke-institute/arke-archive/internal/arkeerr"
	"github.com/arke-institute/arke-archive/internal/model"
)

type linkHolder struct {
	Schema string  `json:"schema"`
	Child  cid.Cid `json:"child"`
}

func TestFake_TypedLinksAreTraversable(t *testing.T) {
	f := New()
	ctx := context.Background()

	childCID, err := f.PutDAG(ctx, map[string]string{"leaf": "data"}, model.Plain, false, false)
	require.NoError(t, err)

	parent := linkHolder{Schema: "test/parent@v1", Child: childCID}
	parentCID, err := f.PutDAG(ctx, parent, model.Typed, true, false)
	require.NoError(t, err)

	links, err := f.Links(ctx, parentCID)
	require.NoError(t, err)
	assert.Len(t, links, 1)
	assert.Equal(t, childCID, links[0])
}

func TestFake_PlainCodecHasNoLinks(t *testing.T) {
	f := New()
	ctx := context.Background()

	childCID, err := f.PutDAG(ctx, map[string]string{"leaf": "data"}, model.Plain, false, false)
	require.NoError(t, err)

	parent := linkHolder{Schema: "test/parent@v1", Child: childCID}
	parentCID, err := f.PutDAG(ctx, parent, model.Plain, false, false)
	require.NoError(t, err)

	links, err := f.Links(ctx, parentCID)
	require.NoError(t, err)
	assert.Empty(t, links, "a plain-codec block must not expose links even though its shape has a cid field")
}

func TestFake_ExportImportRoundTrip(t *testing.T) {
	f := New()
	ctx := context.Background()

	childCID, err := f.PutDAG(ctx, map[string]string{"leaf": "data"}, model.Typed, false, false)
	require.NoError(t, err)
	parent := linkHolder{Schema: "test/parent@v1", Child: childCID}
	parentCID, err := f.PutDAG(ctx, parent, model.Typed, true, false)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, f.DAGExport(ctx, parentCID, &buf))

	dst := New()
	stats, err := dst.DAGImport(ctx, &buf)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.BlocksImported)
	require.Len(t, stats.RootCIDs, 1)
	assert.Equal(t, parentCID, stats.RootCIDs[0])

	var out linkHolder
	require.NoError(t, dst.GetDAG(ctx, parentCID, &out))
	assert.Equal(t, childCID, out.Child)
}

func TestFake_Unavailable(t *testing.T) {
	f := New()
	f.Unavailable = true
	_, err := f.PutDAG(context.Background(), map[string]string{}, model.Typed, false, false)
	kind, ok := arkeerr.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, arkeerr.StoreUnavailable, kind)
}
