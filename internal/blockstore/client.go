// Package blockstore is the thin façade the core (C2-C7) talks to
// instead of the content-addressed block store directly (spec §4.1,
// §6). It is the only package that knows the store's HTTP surface.
package blockstore

import (
	"context"
	"io"

	"github.com/ipfs/go-cid"

	"github.com/arke-institute/arke-archive/internal/model"
)

// Stat describes a single mutable-namespace (MFS) path.
type Stat struct {
	Size     int64
	IsDir    bool
	CIDStr   string
}

// ImportStats summarizes a completed DAGImport.
type ImportStats struct {
	BlocksImported int
	RootCIDs       []cid.Cid
}

// Client is the contract the rest of the core depends on. HTTPClient
// (client_http.go) is the production implementation; blockstoretest.Fake
// (internal/blockstoretest/fake.go) is the in-memory test double.
type Client interface {
	// PutDAG stores a typed DAG node. The core always passes model.Typed
	// for codec, per spec §4.9 -- model.Plain exists only for the
	// Codec.TypedLinkRequired regression test.
	PutDAG(ctx context.Context, node interface{}, codec model.InputCodec, pin bool, allowBig bool) (cid.Cid, error)
	// GetDAG fetches and decodes a DAG node into out.
	GetDAG(ctx context.Context, c cid.Cid, out interface{}) error
	// RawBlock returns a stored node's canonical encoded bytes, used by
	// the codec conformance check (spec §4.9, property P9).
	RawBlock(ctx context.Context, c cid.Cid) ([]byte, error)
	// Links returns the typed links reachable directly from c. Only
	// links registered via the typed codec are returned.
	Links(ctx context.Context, c cid.Cid) ([]cid.Cid, error)

	AddBytes(ctx context.Context, r io.Reader, pin bool) (cid.Cid, error)

	PinAdd(ctx context.Context, c cid.Cid) error
	PinRm(ctx context.Context, c cid.Cid) error
	PinUpdate(ctx context.Context, old, new cid.Cid) error

	MFSRead(ctx context.Context, path string) ([]byte, error)
	MFSWrite(ctx context.Context, path string, data []byte, create, truncate bool) error
	MFSMkdir(ctx context.Context, path string, parents bool) error
	MFSRemove(ctx context.Context, path string) error
	MFSStat(ctx context.Context, path string) (Stat, error)

	// DAGExport streams the transitive closure of root as a CAR-framed
	// archive (spec §4.6, §6).
	DAGExport(ctx context.Context, root cid.Cid, w io.Writer) error
	// DAGImport ingests an archive produced by DAGExport.
	DAGImport(ctx context.Context, r io.Reader) (ImportStats, error)
}
