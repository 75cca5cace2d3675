// Package dr implements disaster recovery export/import: archiving a
// snapshot's transitive closure to a portable file, and rebuilding the
// live tip set and index pointer from that file after catastrophic
// loss (spec §4.6).
package dr

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/ipfs/go-cid"

	"github.com/arke-institute/arke-archive/internal/arkeerr"
	"github.com/arke-institute/arke-archive/internal/blockstore"
	"github.com/arke-institute/arke-archive/internal/indexptr"
	"github.com/arke-institute/arke-archive/internal/model"
)

const shardIndexPrefix = "/arke/index/"

func shardPath(pi string) string {
	if len(pi) < 4 {
		return shardIndexPrefix + pi + ".tip"
	}
	return shardIndexPrefix + pi[0:2] + "/" + pi[2:4] + "/" + pi + ".tip"
}

// Metadata is the sidecar record written alongside every archive
// (spec §4.6 step 5).
type Metadata struct {
	Seq         int    `json:"seq"`
	TS          string `json:"ts"`
	SnapshotCID string `json:"snapshot_cid"`
	CIDCount    int    `json:"cid_count"`
	EntryCount  int    `json:"entry_count"`
}

// Exporter is the C6 export side.
type Exporter struct {
	Store blockstore.Client
	Index *indexptr.Pointer
}

// NewExporter builds an Exporter.
func NewExporter(store blockstore.Client, index *indexptr.Pointer) *Exporter {
	return &Exporter{Store: store, Index: index}
}

// ExportResult names the two files Export produced.
type ExportResult struct {
	ArchivePath string
	SidecarPath string
	Metadata    Metadata
}

// Export writes the latest snapshot's transitive closure to outputDir
// as a CAR archive plus a JSON sidecar (spec §4.6 Export).
func (e *Exporter) Export(ctx context.Context, outputDir string) (*ExportResult, error) {
	p, err := e.Index.Get(ctx)
	if err != nil {
		return nil, err
	}
	if p.LatestSnapshot == nil {
		return nil, arkeerr.New(arkeerr.NotFound, "no snapshot to export")
	}
	scid := *p.LatestSnapshot

	var snap model.Snapshot
	if err := e.Store.GetDAG(ctx, scid, &snap); err != nil {
		return nil, err
	}

	closure, err := e.closure(ctx, &snap)
	if err != nil {
		return nil, err
	}

	for _, c := range closure {
		if err := e.Store.PinAdd(ctx, c); err != nil {
			return nil, err
		}
	}

	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, arkeerr.Wrap(arkeerr.Invariant, "create export output dir", err)
	}
	archivePath := filepath.Join(outputDir, fmt.Sprintf("arke-snapshot-%d.car", snap.Seq))
	f, err := os.Create(archivePath)
	if err != nil {
		return nil, arkeerr.Wrap(arkeerr.Invariant, "create archive file", err)
	}
	defer f.Close()

	if err := e.Store.DAGExport(ctx, scid, f); err != nil {
		return nil, err
	}

	meta := Metadata{
		Seq:         snap.Seq,
		TS:          snap.TS,
		SnapshotCID: scid.String(),
		CIDCount:    len(closure),
		EntryCount:  len(snap.Entries),
	}
	sidecarPath := filepath.Join(outputDir, fmt.Sprintf("arke-snapshot-%d.json", snap.Seq))
	raw, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return nil, arkeerr.Wrap(arkeerr.Invariant, "encode sidecar metadata", err)
	}
	if err := os.WriteFile(sidecarPath, raw, 0o644); err != nil {
		return nil, arkeerr.Wrap(arkeerr.Invariant, "write sidecar metadata", err)
	}

	return &ExportResult{ArchivePath: archivePath, SidecarPath: sidecarPath, Metadata: meta}, nil
}

// closure rebuilds the snapshot's transitive CID set explicitly,
// rather than trusting snap.AllCIDs, per spec §4.6 step 2.
func (e *Exporter) closure(ctx context.Context, snap *model.Snapshot) ([]cid.Cid, error) {
	set := map[cid.Cid]bool{}

	for _, entry := range snap.Entries {
		if err := walkManifest(ctx, e.Store, entry.TipCID, set); err != nil {
			return nil, err
		}
		if err := walkEvents(ctx, e.Store, entry.ChainCID, set); err != nil {
			return nil, err
		}
	}

	out := make([]cid.Cid, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	return out, nil
}

func walkManifest(ctx context.Context, store blockstore.Client, tip cid.Cid, set map[cid.Cid]bool) error {
	cur := tip
	for cur.Defined() {
		if set[cur] {
			return nil
		}
		var man model.Manifest
		if err := store.GetDAG(ctx, cur, &man); err != nil {
			return err
		}
		set[cur] = true
		for _, c := range man.Components {
			set[c] = true
		}
		if man.Prev == nil {
			return nil
		}
		cur = *man.Prev
	}
	return nil
}

func walkEvents(ctx context.Context, store blockstore.Client, head cid.Cid, set map[cid.Cid]bool) error {
	cur := head
	for cur.Defined() {
		if set[cur] {
			return nil
		}
		var ev model.Event
		if err := store.GetDAG(ctx, cur, &ev); err != nil {
			return err
		}
		set[cur] = true
		if ev.Prev == nil {
			return nil
		}
		cur = *ev.Prev
	}
	return nil
}

// Importer is the C6 import side.
type Importer struct {
	Store blockstore.Client
	Index *indexptr.Pointer
}

// NewImporter builds an Importer.
func NewImporter(store blockstore.Client, index *indexptr.Pointer) *Importer {
	return &Importer{Store: store, Index: index}
}

// ImportResult summarizes a completed Import.
type ImportResult struct {
	SnapshotCID cid.Cid
	EntryCount  int
	BlockCount  int
}

// Import ingests archive, reconstructs tips and the index pointer, and
// verifies every tip round-trips (spec §4.6 Import). snapshotCID lets
// an operator override the archive's CAR root; pass cid.Undef to use
// the CAR root. The export sidecar file is not read.
func (im *Importer) Import(ctx context.Context, archive io.Reader, snapshotCID cid.Cid) (*ImportResult, error) {
	stats, err := im.Store.DAGImport(ctx, archive)
	if err != nil {
		return nil, err
	}

	scid := snapshotCID
	if !scid.Defined() {
		if len(stats.RootCIDs) == 0 {
			return nil, arkeerr.New(arkeerr.Malformed, "archive carries no root and none was supplied")
		}
		scid = stats.RootCIDs[0]
	}

	var snap model.Snapshot
	if err := im.Store.GetDAG(ctx, scid, &snap); err != nil {
		return nil, err
	}

	for _, entry := range snap.Entries {
		sp := shardPath(entry.PI)
		if err := im.Store.MFSMkdir(ctx, filepath.Dir(sp), true); err != nil {
			return nil, err
		}
		if err := im.Store.MFSWrite(ctx, sp, []byte(entry.TipCID.String()), true, true); err != nil {
			return nil, err
		}
		if err := pinManifestChain(ctx, im.Store, entry.TipCID); err != nil {
			return nil, err
		}
	}

	eventCount, err := countEvents(ctx, im.Store, snap.EventCID)
	if err != nil {
		return nil, err
	}

	_, err = im.Index.Mutate(ctx, func(cur *model.IndexPointer) (*model.IndexPointer, error) {
		ec := snap.EventCID
		sc := scid
		return &model.IndexPointer{
			Schema:         model.SchemaIndexPointer,
			EventHead:      &ec,
			EventCount:     eventCount,
			TotalPIs:       len(snap.Entries),
			LatestSnapshot: &sc,
			SnapshotSeq:    snap.Seq,
			SnapshotTS:     snap.TS,
			LastUpdated:    model.Now(),
		}, nil
	})
	if err != nil {
		return nil, err
	}

	for _, entry := range snap.Entries {
		raw, err := im.Store.MFSRead(ctx, shardPath(entry.PI))
		if err != nil {
			return nil, err
		}
		if string(raw) != entry.TipCID.String() {
			return nil, arkeerr.New(arkeerr.Invariant, "tip verification failed for "+entry.PI)
		}
	}

	return &ImportResult{SnapshotCID: scid, EntryCount: len(snap.Entries), BlockCount: stats.BlocksImported}, nil
}

func pinManifestChain(ctx context.Context, store blockstore.Client, tip cid.Cid) error {
	cur := tip
	for cur.Defined() {
		if err := store.PinAdd(ctx, cur); err != nil {
			return err
		}
		var man model.Manifest
		if err := store.GetDAG(ctx, cur, &man); err != nil {
			return err
		}
		if man.Prev == nil {
			return nil
		}
		cur = *man.Prev
	}
	return nil
}

func countEvents(ctx context.Context, store blockstore.Client, head cid.Cid) (int, error) {
	count := 0
	cur := head
	for cur.Defined() {
		var ev model.Event
		if err := store.GetDAG(ctx, cur, &ev); err != nil {
			return 0, err
		}
		count++
		if ev.Prev == nil {
			break
		}
		cur = *ev.Prev
	}
	return count, nil
}
