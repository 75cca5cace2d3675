package indexptr

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arke-institute/arke-archive/internal/blockstoretest"
	"github.com/arke-institute/arke-archive/internal/model"
)

func TestPointer_GetBeforeAnyWriteIsEmpty(t *testing.T) {
	store := blockstoretest.New()
	p := New(store)

	ptr, err := p.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.SchemaIndexPointer, ptr.Schema)
	assert.Equal(t, 0, ptr.EventCount)
	assert.Nil(t, ptr.EventHead)
}

func TestPointer_MutateRoundTrips(t *testing.T) {
	store := blockstoretest.New()
	p := New(store)
	ctx := context.Background()

	_, err := p.Mutate(ctx, func(cur *model.IndexPointer) (*model.IndexPointer, error) {
		next := *cur
		next.EventCount = 5
		next.TotalPIs = 3
		return &next, nil
	})
	require.NoError(t, err)

	ptr, err := p.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, ptr.EventCount)
	assert.Equal(t, 3, ptr.TotalPIs)
}
