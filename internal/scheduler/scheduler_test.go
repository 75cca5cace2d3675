package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arke-institute/arke-archive/internal/blockstoretest"
	"github.com/arke-institute/arke-archive/internal/dr"
	"github.com/arke-institute/arke-archive/internal/eventchain"
	"github.com/arke-institute/arke-archive/internal/indexptr"
	"github.com/arke-institute/arke-archive/internal/lock"
	"github.com/arke-institute/arke-archive/internal/snapshotbuilder"
	"github.com/arke-institute/arke-archive/internal/tip"
)

func newTestScheduler(t *testing.T) (*Scheduler, *tip.Manager) {
	t.Helper()
	store := blockstoretest.New()
	idx := indexptr.New(store)
	chain := eventchain.New(store, idx)
	tm := tip.New(store, chain)
	fl := lock.New(t.TempDir()+"/snap.lock", 10*time.Minute)
	builder := snapshotbuilder.New(store, idx, fl, t.TempDir(), false)
	exporter := dr.NewExporter(store, idx)
	s := New(builder, exporter, time.Hour, time.Hour, t.TempDir())
	return s, tm
}

func TestScheduler_RunSnapshotBuildsWhenEventsExist(t *testing.T) {
	s, tm := newTestScheduler(t)
	ctx := context.Background()

	_, err := tm.Create(ctx, tip.CreateInput{PI: "pi-a"})
	require.NoError(t, err)

	s.RunSnapshot(ctx)

	p, err := s.Builder.Index.Get(ctx)
	require.NoError(t, err)
	require.NotNil(t, p.LatestSnapshot)
}

func TestScheduler_RunSnapshotSkipsWithNoEvents(t *testing.T) {
	s, _ := newTestScheduler(t)
	// must not panic or error with an empty chain
	s.RunSnapshot(context.Background())
}

func TestScheduler_RunExportSkipsWithoutSnapshot(t *testing.T) {
	s, _ := newTestScheduler(t)
	// no snapshot has been built yet; export should no-op, not panic
	s.RunExport(context.Background())
}

func TestScheduler_RunExportAfterSnapshot(t *testing.T) {
	s, tm := newTestScheduler(t)
	ctx := context.Background()

	_, err := tm.Create(ctx, tip.CreateInput{PI: "pi-a"})
	require.NoError(t, err)
	s.RunSnapshot(ctx)
	s.RunExport(ctx)
}

func TestScheduler_StartStop(t *testing.T) {
	s, _ := newTestScheduler(t)
	s.SnapshotInterval = 10 * time.Millisecond
	s.ExportInterval = 0
	s.Start()
	time.Sleep(25 * time.Millisecond)
	s.Stop()
}
