// Package tip builds, stores, and chains manifests, and maintains one
// tip pointer per entity in the block store's mutable namespace (spec
// §4.2). It owns the compare-and-swap update protocol; the sharded tip
// path convention is shared with internal/dr, which keeps its own copy
// of shardPath for rebuilding tips on import.
package tip

import (
	"context"
	"fmt"
	"path"

	"github.com/ipfs/go-cid"
	"github.com/oklog/ulid/v2"

	"github.com/arke-institute/arke-archive/internal/arkeerr"
	"github.com/arke-institute/arke-archive/internal/blockstore"
	"github.com/arke-institute/arke-archive/internal/model"
)

// EventAppender is the slice of the event chain manager (C3) that the
// tip manager needs: emitting the create/update event that follows a
// successful tip write. Declared here, not imported from
// internal/eventchain, so the two packages wire together only at
// construction time in cmd/arke.
type EventAppender interface {
	Append(ctx context.Context, evtType model.EventType, pi string, ver int, tipCID cid.Cid) (cid.Cid, error)
}

// Manager is the C2 manifest & tip manager.
type Manager struct {
	Store  blockstore.Client
	Events EventAppender
}

// New builds a Manager over store, emitting events through events.
func New(store blockstore.Client, events EventAppender) *Manager {
	return &Manager{Store: store, Events: events}
}

// shardPath returns the mutable-namespace path of pi's tip file,
// sharded by the first four characters of pi (spec §4.2).
func shardPath(pi string) string {
	if len(pi) < 4 {
		// PIs this short never occur in practice (ULIDs are 26 chars),
		// but fall back to an unsharded path rather than index-panic on one.
		return "/arke/index/" + pi + ".tip"
	}
	return "/arke/index/" + pi[0:2] + "/" + pi[2:4] + "/" + pi + ".tip"
}

func shardDir(p string) string {
	return path.Dir(p)
}

func newPI() string {
	return ulid.Make().String()
}

// CreateInput is the Create request body (spec §4.2).
type CreateInput struct {
	PI         string
	Components map[string]cid.Cid
	ChildrenPI []string
	Note       string
}

// CreateResult is what Create returns on success.
type CreateResult struct {
	PI  string
	Ver int
	CID cid.Cid
}

// Create writes version 1 of a new entity and emits its create event.
// Fails with AlreadyExists if pi already has a live tip (spec §4.2).
func (m *Manager) Create(ctx context.Context, in CreateInput) (*CreateResult, error) {
	pi := in.PI
	if pi == "" {
		pi = newPI()
	}
	sp := shardPath(pi)

	if existing, err := m.Store.MFSRead(ctx, sp); err == nil && len(existing) > 0 {
		return nil, arkeerr.New(arkeerr.AlreadyExists, pi)
	} else if err != nil {
		if kind, ok := arkeerr.KindOf(err); !ok || kind != arkeerr.NotFound {
			return nil, err
		}
	}

	manifest := model.Manifest{
		Schema:     model.SchemaManifest,
		PI:         pi,
		Ver:        1,
		TS:         model.Now(),
		Prev:       nil,
		Components: copyComponents(in.Components),
		ChildrenPI: append([]string(nil), in.ChildrenPI...),
		Note:       in.Note,
	}

	manifestCID, err := m.Store.PutDAG(ctx, manifest, model.Typed, true, false)
	if err != nil {
		return nil, err
	}

	if err := m.Store.MFSMkdir(ctx, shardDir(sp), true); err != nil {
		return nil, err
	}
	if err := m.Store.MFSWrite(ctx, sp, []byte(manifestCID.String()), true, true); err != nil {
		return nil, err
	}

	if _, err := m.Events.Append(ctx, model.EventCreate, pi, 1, manifestCID); err != nil {
		return nil, err
	}

	return &CreateResult{PI: pi, Ver: 1, CID: manifestCID}, nil
}

// UpdateInput is the Update (new version) request body (spec §4.2).
type UpdateInput struct {
	PI              string
	ExpectTip       cid.Cid
	ComponentsPatch map[string]cid.Cid
	ChildrenAdd     []string
	ChildrenRemove  []string
	Note            string
}

// UpdateResult is what Update returns on success.
type UpdateResult struct {
	Ver int
	CID cid.Cid
}

// Update appends a new version to pi's manifest chain under a
// compare-and-swap guard on the tip file (spec §4.2, property P3).
func (m *Manager) Update(ctx context.Context, in UpdateInput) (*UpdateResult, error) {
	sp := shardPath(in.PI)

	curRaw, err := m.Store.MFSRead(ctx, sp)
	if err != nil {
		return nil, err
	}
	cur, err := cid.Parse(string(curRaw))
	if err != nil {
		return nil, arkeerr.Wrap(arkeerr.Invariant, "tip file holds an invalid cid", err)
	}

	if !cur.Equals(in.ExpectTip) {
		return nil, arkeerr.ConflictWith(cur.String())
	}

	var old model.Manifest
	if err := m.Store.GetDAG(ctx, cur, &old); err != nil {
		return nil, err
	}

	newManifest := model.Manifest{
		Schema:     model.SchemaManifest,
		PI:         in.PI,
		Ver:        old.Ver + 1,
		TS:         model.Now(),
		Prev:       &cur,
		Components: mergeComponents(old.Components, in.ComponentsPatch),
		ChildrenPI: applyChildrenPatch(old.ChildrenPI, in.ChildrenRemove, in.ChildrenAdd),
		Note:       in.Note,
	}

	newCID, err := m.Store.PutDAG(ctx, newManifest, model.Typed, true, false)
	if err != nil {
		return nil, err
	}

	// The CAS window is between the read above and this write: a
	// concurrent updater that wrote first will have changed sp's
	// contents, but this manager never re-checks here -- spec §4.2
	// step 6 writes unconditionally once step 2's compare has passed,
	// and it is the *next* caller's step 1 read that will observe the
	// race and lose by comparing against a stale expect_tip.
	if err := m.Store.MFSWrite(ctx, sp, []byte(newCID.String()), false, true); err != nil {
		return nil, err
	}

	if err := m.Store.PinUpdate(ctx, cur, newCID); err != nil {
		return nil, err
	}

	if _, err := m.Events.Append(ctx, model.EventUpdate, in.PI, newManifest.Ver, newCID); err != nil {
		return nil, err
	}

	return &UpdateResult{Ver: newManifest.Ver, CID: newCID}, nil
}

// Resolve returns pi's current tip CID with a single MFS read.
func (m *Manager) Resolve(ctx context.Context, pi string) (cid.Cid, error) {
	raw, err := m.Store.MFSRead(ctx, shardPath(pi))
	if err != nil {
		return cid.Undef, err
	}
	c, err := cid.Parse(string(raw))
	if err != nil {
		return cid.Undef, arkeerr.Wrap(arkeerr.Invariant, "tip file holds an invalid cid", err)
	}
	return c, nil
}

// GetLatest resolves pi's tip and fetches its manifest.
func (m *Manager) GetLatest(ctx context.Context, pi string) (*model.Manifest, cid.Cid, error) {
	c, err := m.Resolve(ctx, pi)
	if err != nil {
		return nil, cid.Undef, err
	}
	var man model.Manifest
	if err := m.Store.GetDAG(ctx, c, &man); err != nil {
		return nil, cid.Undef, err
	}
	return &man, c, nil
}

// VersionEntry is one row of a ListVersions page.
type VersionEntry struct {
	CID  cid.Cid
	Ver  int
	TS   string
	Note string
}

// ListVersions walks pi's manifest chain newest-first, starting at
// cursor (or the current tip if cursor is the zero value), for at
// most limit entries (spec §4.2).
func (m *Manager) ListVersions(ctx context.Context, pi string, limit int, cursor cid.Cid) (items []VersionEntry, next cid.Cid, err error) {
	start := cursor
	if !start.Defined() {
		start, err = m.Resolve(ctx, pi)
		if err != nil {
			return nil, cid.Undef, err
		}
	}

	cur := start
	for len(items) < limit && cur.Defined() {
		var man model.Manifest
		if err := m.Store.GetDAG(ctx, cur, &man); err != nil {
			return nil, cid.Undef, err
		}
		items = append(items, VersionEntry{CID: cur, Ver: man.Ver, TS: man.TS, Note: man.Note})
		if man.Prev == nil {
			return items, cid.Undef, nil
		}
		cur = *man.Prev
	}
	return items, cur, nil
}

// GetVersion fetches a specific manifest, either directly by CID or
// by walking the chain from the tip looking for ver (spec §4.2).
func (m *Manager) GetVersion(ctx context.Context, pi string, ver int, byCID *cid.Cid) (*model.Manifest, cid.Cid, error) {
	if byCID != nil {
		var man model.Manifest
		if err := m.Store.GetDAG(ctx, *byCID, &man); err != nil {
			return nil, cid.Undef, err
		}
		return &man, *byCID, nil
	}

	cur, err := m.Resolve(ctx, pi)
	if err != nil {
		return nil, cid.Undef, err
	}
	for cur.Defined() {
		var man model.Manifest
		if err := m.Store.GetDAG(ctx, cur, &man); err != nil {
			return nil, cid.Undef, err
		}
		if man.Ver == ver {
			return &man, cur, nil
		}
		if man.Prev == nil {
			break
		}
		cur = *man.Prev
	}
	return nil, cid.Undef, arkeerr.New(arkeerr.NotFound, fmt.Sprintf("%s ver %d", pi, ver))
}

func copyComponents(in map[string]cid.Cid) map[string]cid.Cid {
	out := make(map[string]cid.Cid, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// mergeComponents applies a partial patch over the prior components
// map. Patch entries overwrite; no key is ever removed, per the
// core's merge-only patch semantics (spec §4.2 step 4).
func mergeComponents(old, patch map[string]cid.Cid) map[string]cid.Cid {
	out := copyComponents(old)
	for k, v := range patch {
		out[k] = v
	}
	return out
}

// applyChildrenPatch removes children_remove then appends
// children_add, preserving the prior order otherwise (spec §4.2 step 4).
func applyChildrenPatch(old []string, remove, add []string) []string {
	removeSet := make(map[string]bool, len(remove))
	for _, r := range remove {
		removeSet[r] = true
	}
	out := make([]string, 0, len(old)+len(add))
	for _, pi := range old {
		if !removeSet[pi] {
			out = append(out, pi)
		}
	}
	out = append(out, add...)
	return out
}
