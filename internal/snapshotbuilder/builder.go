// Package snapshotbuilder folds the event chain into a deduplicated,
// point-in-time snapshot and computes its append-only Merkle proof
// (spec §4.5).
package snapshotbuilder

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/ipfs/go-cid"

	"github.com/arke-institute/arke-archive/internal/arkeerr"
	"github.com/arke-institute/arke-archive/internal/blockstore"
	"github.com/arke-institute/arke-archive/internal/indexptr"
	"github.com/arke-institute/arke-archive/internal/lock"
	"github.com/arke-institute/arke-archive/internal/merkle"
	"github.com/arke-institute/arke-archive/internal/metrics"
	"github.com/arke-institute/arke-archive/internal/model"
)

// Builder is the C5 snapshot builder.
type Builder struct {
	Store         blockstore.Client
	Index         *indexptr.Pointer
	Lock          *lock.FileLock
	CheckpointDir string
	AllowBigBlock bool
}

// New builds a Builder. checkpointDir holds the bbolt-backed fold
// checkpoints; it may be os.TempDir() in production.
func New(store blockstore.Client, index *indexptr.Pointer, snapLock *lock.FileLock, checkpointDir string, allowBigBlock bool) *Builder {
	return &Builder{Store: store, Index: index, Lock: snapLock, CheckpointDir: checkpointDir, AllowBigBlock: allowBigBlock}
}

// Trigger is how a Build run was initiated, recorded on the index
// pointer (spec §3 last_snapshot_trigger).
type Trigger string

const (
	TriggerScheduled Trigger = "scheduled"
	TriggerManual    Trigger = "manual"
	TriggerForced    Trigger = "forced" // operator rebuild; always runs full mode
)

// Result describes what Build did.
type Result struct {
	Skipped  bool
	Snapshot *model.Snapshot
	CID      cid.Cid
}

// Build runs one snapshot cycle: acquire the lock, fold the event
// chain, compute the append-only proof, store the snapshot, and
// read-modify-write the index pointer (spec §4.5).
func (b *Builder) Build(ctx context.Context, trigger Trigger) (*Result, error) {
	release, err := b.Lock.Acquire()
	if err != nil {
		return nil, err
	}
	defer release()

	p, err := b.Index.Get(ctx)
	if err != nil {
		return nil, err
	}

	var prevSnapshot *model.Snapshot
	var prevCID cid.Cid
	if p.LatestSnapshot != nil && trigger != TriggerForced {
		prevCID = *p.LatestSnapshot
		var snap model.Snapshot
		if err := b.Store.GetDAG(ctx, prevCID, &snap); err != nil {
			return nil, err
		}
		prevSnapshot = &snap
	}

	if p.EventHead == nil {
		return &Result{Skipped: true}, nil
	}
	if prevSnapshot != nil && prevSnapshot.EventCID.Equals(*p.EventHead) {
		return &Result{Skipped: true}, nil
	}

	entries, err := b.fold(ctx, trigger, p, prevSnapshot)
	if err != nil {
		return nil, err
	}

	allCIDs, err := b.closure(ctx, entries, prevSnapshot)
	if err != nil {
		return nil, err
	}
	sort.Strings(allCIDs)

	consistency := &model.Consistency{
		CurrCIDCount: len(allCIDs),
	}
	if prevSnapshot != nil {
		consistency.PrevCIDCount = prevSnapshot.CIDCount
		added, deleted := diffCounts(prevSnapshot.AllCIDs, allCIDs)
		consistency.AddedCount = added
		consistency.DeletedCount = deleted
		consistency.IsAppendOnly = deleted == 0
	} else {
		consistency.AddedCount = len(allCIDs)
		consistency.IsAppendOnly = true
	}

	seq := 1
	var prevSnapPtr *cid.Cid
	if prevSnapshot != nil {
		seq = prevSnapshot.Seq + 1
		pc := prevCID
		prevSnapPtr = &pc
	}

	snapshot := model.Snapshot{
		Schema:       model.SchemaSnapshot,
		Seq:          seq,
		TS:           model.Now(),
		EventCID:     *p.EventHead,
		TotalCount:   len(entries),
		PrevSnapshot: prevSnapPtr,
		Entries:      entries,
		MerkleRoot:   merkle.Root(allCIDs),
		CIDCount:     len(allCIDs),
		AllCIDs:      allCIDs,
		Consistency:  consistency,
	}

	scid, err := b.Store.PutDAG(ctx, snapshot, model.Typed, true, b.AllowBigBlock)
	if err != nil {
		return nil, err
	}

	updated, err := b.Index.Mutate(ctx, func(cur *model.IndexPointer) (*model.IndexPointer, error) {
		next := *cur
		c := scid
		next.LatestSnapshot = &c
		next.SnapshotSeq = seq
		next.SnapshotTS = snapshot.TS
		next.LastSnapshotTrigger = string(trigger)
		next.LastUpdated = model.Now()
		return &next, nil
	})
	if err != nil {
		// The snapshot block exists but is unreachable from the pointer
		// until the next successful run overwrites it (spec §4.5
		// failure semantics) -- harmless, so we surface the error but
		// do not attempt to unwind the PutDAG above.
		return nil, err
	}
	metrics.EventCount.Set(float64(updated.EventCount))

	return &Result{Snapshot: &snapshot, CID: scid}, nil
}

// checkpointPath derives the fold checkpoint's name from the inputs
// that determine its contents -- trigger and the event head it is
// walking toward genesis from -- rather than a timestamp, so a killed
// build's checkpoint can be rediscovered and resumed by the next
// invocation instead of becoming an orphaned file (spec B4).
func checkpointPath(dir string, trigger Trigger, eventHead cid.Cid) string {
	return filepath.Join(dir, fmt.Sprintf("fold-%s-%s.bolt", trigger, eventHead.String()))
}

// fold produces the sorted, deduplicated entry list for the snapshot,
// full or incremental depending on whether prevSnapshot is nil (spec
// §4.5 Fold algorithm). If a checkpoint already exists for this exact
// (trigger, eventHead) pair -- left behind by a prior invocation that
// was killed mid-walk -- fold resumes from its recorded cursor instead
// of re-seeding and walking from the event head again (spec B4).
func (b *Builder) fold(ctx context.Context, trigger Trigger, p *model.IndexPointer, prevSnapshot *model.Snapshot) ([]model.SnapshotEntry, error) {
	cpPath := checkpointPath(b.CheckpointDir, trigger, *p.EventHead)
	cp, err := OpenCheckpoint(cpPath)
	if err != nil {
		return nil, arkeerr.Wrap(arkeerr.Invariant, "open fold checkpoint", err)
	}
	defer cp.Close()

	started, err := cp.Started()
	if err != nil {
		return nil, arkeerr.Wrap(arkeerr.Invariant, "read checkpoint state", err)
	}

	stopAt := cid.Undef
	if prevSnapshot != nil {
		stopAt = prevSnapshot.EventCID
	}

	var cur cid.Cid
	if started {
		cur, err = cp.Cursor()
		if err != nil {
			return nil, arkeerr.Wrap(arkeerr.Invariant, "read checkpoint cursor", err)
		}
	} else {
		if prevSnapshot != nil {
			for _, e := range prevSnapshot.Entries {
				if err := cp.Put(e); err != nil {
					return nil, arkeerr.Wrap(arkeerr.Invariant, "seed checkpoint", err)
				}
			}
		}
		cur = *p.EventHead
		if err := cp.SetCursor(cur); err != nil {
			return nil, arkeerr.Wrap(arkeerr.Invariant, "init checkpoint cursor", err)
		}
	}

	for cur.Defined() {
		if stopAt.Defined() && cur.Equals(stopAt) {
			break
		}
		var ev model.Event
		if err := b.Store.GetDAG(ctx, cur, &ev); err != nil {
			return nil, err
		}
		seenThisRun, err := cp.SeenThisRun(ev.PI)
		if err != nil {
			return nil, arkeerr.Wrap(arkeerr.Invariant, "check checkpoint run-state", err)
		}
		if !seenThisRun {
			if err := cp.Put(model.SnapshotEntry{
				PI: ev.PI, Ver: ev.Ver, TipCID: ev.TipCID, ChainCID: cur, TS: ev.TS,
			}); err != nil {
				return nil, arkeerr.Wrap(arkeerr.Invariant, "write checkpoint entry", err)
			}
			if err := cp.MarkSeenThisRun(ev.PI); err != nil {
				return nil, arkeerr.Wrap(arkeerr.Invariant, "mark checkpoint run-state", err)
			}
		}

		next := cid.Undef
		if ev.Prev != nil {
			next = *ev.Prev
		}
		if err := cp.SetCursor(next); err != nil {
			return nil, arkeerr.Wrap(arkeerr.Invariant, "advance checkpoint cursor", err)
		}
		cur = next
	}

	entries, err := cp.All()
	if err != nil {
		return nil, err
	}
	if err := os.Remove(cpPath); err != nil && !os.IsNotExist(err) {
		return nil, arkeerr.Wrap(arkeerr.Invariant, "remove completed checkpoint", err)
	}
	return entries, nil
}

// closure computes the CID set reachable from the snapshot's entries:
// every manifest CID back to ver=1, every component CID, and every
// event CID back to the oldest event (spec §4.5 Append-only proof,
// §4.6 Export). Incremental mode reuses prevSnapshot.AllCIDs and only
// walks the newly touched entries.
func (b *Builder) closure(ctx context.Context, entries []model.SnapshotEntry, prevSnapshot *model.Snapshot) ([]string, error) {
	set := map[string]bool{}
	if prevSnapshot != nil {
		for _, c := range prevSnapshot.AllCIDs {
			set[c] = true
		}
	}

	for _, e := range entries {
		if err := b.walkManifestChain(ctx, e.TipCID, set); err != nil {
			return nil, err
		}
		if err := b.walkEventChain(ctx, e.ChainCID, set); err != nil {
			return nil, err
		}
	}

	out := make([]string, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	return out, nil
}

func (b *Builder) walkManifestChain(ctx context.Context, tip cid.Cid, set map[string]bool) error {
	cur := tip
	for cur.Defined() {
		key := cur.String()
		if set[key] {
			return nil
		}
		var man model.Manifest
		if err := b.Store.GetDAG(ctx, cur, &man); err != nil {
			return err
		}
		set[key] = true
		for _, c := range man.Components {
			set[c.String()] = true
		}
		if man.Prev == nil {
			return nil
		}
		cur = *man.Prev
	}
	return nil
}

func (b *Builder) walkEventChain(ctx context.Context, head cid.Cid, set map[string]bool) error {
	cur := head
	for cur.Defined() {
		key := cur.String()
		if set[key] {
			return nil
		}
		var ev model.Event
		if err := b.Store.GetDAG(ctx, cur, &ev); err != nil {
			return err
		}
		set[key] = true
		if ev.Prev == nil {
			return nil
		}
		cur = *ev.Prev
	}
	return nil
}

func diffCounts(prev, curr []string) (added, deleted int) {
	prevSet := make(map[string]bool, len(prev))
	for _, c := range prev {
		prevSet[c] = true
	}
	currSet := make(map[string]bool, len(curr))
	for _, c := range curr {
		currSet[c] = true
	}
	for c := range currSet {
		if !prevSet[c] {
			added++
		}
	}
	for c := range prevSet {
		if !currSet[c] {
			deleted++
		}
	}
	return added, deleted
}
