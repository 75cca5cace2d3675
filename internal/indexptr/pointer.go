// Package indexptr manages the single mutable index-pointer record
// (spec §3, §4.4): the root of the archive, read-modify-written under
// a process-global mutex since the service is single-writer.
package indexptr

import (
	"context"
	"sync"

	"github.com/arke-institute/arke-archive/internal/arkeerr"
	"github.com/arke-institute/arke-archive/internal/blockstore"
	"github.com/arke-institute/arke-archive/internal/model"
)

// Path is the fixed mutable-namespace location of the index pointer.
const Path = "/arke/index-pointer"

// Pointer serializes every read-modify-write of the index pointer
// through mu, matching the "process-global mutex" design of spec §5 --
// cross-process concurrency is explicitly out of scope.
type Pointer struct {
	mu    sync.Mutex
	Store blockstore.Client
}

// New builds a Pointer manager over store.
func New(store blockstore.Client) *Pointer {
	return &Pointer{Store: store}
}

// Get reads the current pointer record, returning a fresh empty one
// if none has been written yet.
func (p *Pointer) Get(ctx context.Context) (*model.IndexPointer, error) {
	raw, err := p.Store.MFSRead(ctx, Path)
	if err != nil {
		if kind, ok := arkeerr.KindOf(err); ok && kind == arkeerr.NotFound {
			return model.NewIndexPointer(), nil
		}
		return nil, err
	}
	var ptr model.IndexPointer
	if err := model.DecodeTyped(raw, &ptr); err != nil {
		return nil, arkeerr.Wrap(arkeerr.Invariant, "decode index pointer", err)
	}
	return &ptr, nil
}

// Mutate runs fn against the current pointer under mu, persisting
// whatever fn returns. fn must not perform its own locking; it is
// always called with a pointer freshly read from the store (spec
// §4.3 step 1, §4.4, §4.5 step 2).
func (p *Pointer) Mutate(ctx context.Context, fn func(cur *model.IndexPointer) (*model.IndexPointer, error)) (*model.IndexPointer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	cur, err := p.Get(ctx)
	if err != nil {
		return nil, err
	}
	next, err := fn(cur)
	if err != nil {
		return nil, err
	}

	raw, _, err := model.EncodeTyped(next)
	if err != nil {
		return nil, arkeerr.Wrap(arkeerr.Malformed, "encode index pointer", err)
	}
	if err := p.Store.MFSWrite(ctx, Path, raw, true, true); err != nil {
		return nil, err
	}
	return next, nil
}
