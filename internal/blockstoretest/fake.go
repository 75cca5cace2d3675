// Package blockstoretest provides an in-memory blockstore.Client double
// so the rest of the core (C2-C7) can be unit tested without a real
// content-addressed store on the network (spec §8).
package blockstoretest

import (
	"context"
	"io"
	"sort"
	"sync"

	"github.com/ipfs/go-cid"
	car "github.com/ipld/go-car"
	carutil "github.com/ipld/go-car/util"
	mh "github.com/multiformats/go-multihash"

	"github.com/arke-institute/arke-archive/internal/arkeerr"
	"github.com/arke-institute/arke-archive/internal/blockstore"
	"github.com/arke-institute/arke-archive/internal/model"
)

// Fake is an in-memory blockstore.Client. It models the one behavior
// the core depends on for correctness: a block stored with
// model.Plain never exposes links, even if its JSON shape happens to
// contain {"/":"cid"} strings (spec §4.9, property P9, scenario S6).
type Fake struct {
	mu sync.Mutex

	blocks map[cid.Cid][]byte
	codecs map[cid.Cid]model.InputCodec
	pins   map[cid.Cid]bool

	files map[string][]byte
	dirs  map[string]bool

	// Unavailable, when true, makes every Client call return a
	// StoreUnavailable error, for exercising how callers handle a store
	// outage. The fake does not retry; HTTPClient's retry policy is not
	// involved.
	Unavailable bool
}

// New returns an empty Fake.
func New() *Fake {
	return &Fake{
		blocks: make(map[cid.Cid][]byte),
		codecs: make(map[cid.Cid]model.InputCodec),
		pins:   make(map[cid.Cid]bool),
		files:  make(map[string][]byte),
		dirs:   map[string]bool{"/": true},
	}
}

var _ blockstore.Client = (*Fake)(nil)

func (f *Fake) unavailable() error {
	if f.Unavailable {
		return arkeerr.New(arkeerr.StoreUnavailable, "fake store unavailable")
	}
	return nil
}

func (f *Fake) PutDAG(ctx context.Context, node interface{}, codec model.InputCodec, pin bool, allowBig bool) (cid.Cid, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.unavailable(); err != nil {
		return cid.Undef, err
	}

	var raw []byte
	var root cid.Cid
	var err error
	switch codec {
	case model.Typed:
		raw, root, err = model.EncodeTyped(node)
	case model.Plain:
		raw, err = model.EncodePlain(node)
		if err == nil {
			root, err = plainCid(raw)
		}
	default:
		return cid.Undef, arkeerr.New(arkeerr.Malformed, "unknown input codec")
	}
	if err != nil {
		return cid.Undef, arkeerr.Wrap(arkeerr.Malformed, "encode dag node", err)
	}

	f.blocks[root] = raw
	f.codecs[root] = codec
	if pin {
		f.pins[root] = true
	}
	return root, nil
}

// plainCid derives a stable identity for a plain-JSON-encoded block.
// Real stores would multihash the bytes under the requested hash
// function; the fake only needs determinism, so it reuses go-cid's
// v1 raw-codec constructor over the same bytes a real dag-json block
// would carry.
func plainCid(raw []byte) (cid.Cid, error) {
	pfx := cid.Prefix{Version: 1, Codec: cid.Raw, MhType: mh.SHA2_256, MhLength: -1}
	return pfx.Sum(raw)
}

func (f *Fake) GetDAG(ctx context.Context, c cid.Cid, out interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.unavailable(); err != nil {
		return err
	}
	raw, ok := f.blocks[c]
	if !ok {
		return arkeerr.New(arkeerr.NotFound, c.String())
	}
	switch f.codecs[c] {
	case model.Plain:
		return model.DecodePlain(raw, out)
	default:
		return model.DecodeTyped(raw, out)
	}
}

func (f *Fake) RawBlock(ctx context.Context, c cid.Cid) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.unavailable(); err != nil {
		return nil, err
	}
	raw, ok := f.blocks[c]
	if !ok {
		return nil, arkeerr.New(arkeerr.NotFound, c.String())
	}
	return raw, nil
}

func (f *Fake) Links(ctx context.Context, c cid.Cid) ([]cid.Cid, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.unavailable(); err != nil {
		return nil, err
	}
	raw, ok := f.blocks[c]
	if !ok {
		return nil, arkeerr.New(arkeerr.NotFound, c.String())
	}
	if f.codecs[c] != model.Typed {
		// A plain-codec block never registers links, even if its bytes
		// look identical to a typed one.
		return nil, nil
	}
	return model.LinksFromTypedCBOR(raw)
}

func (f *Fake) AddBytes(ctx context.Context, r io.Reader, pin bool) (cid.Cid, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return cid.Undef, arkeerr.Wrap(arkeerr.Malformed, "read bytes", err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.unavailable(); err != nil {
		return cid.Undef, err
	}
	root, err := plainCid(data)
	if err != nil {
		return cid.Undef, arkeerr.Wrap(arkeerr.Malformed, "hash bytes", err)
	}
	f.blocks[root] = data
	f.codecs[root] = model.Plain
	if pin {
		f.pins[root] = true
	}
	return root, nil
}

func (f *Fake) PinAdd(ctx context.Context, c cid.Cid) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.unavailable(); err != nil {
		return err
	}
	if _, ok := f.blocks[c]; !ok {
		return arkeerr.New(arkeerr.NotFound, c.String())
	}
	f.pins[c] = true
	return nil
}

func (f *Fake) PinRm(ctx context.Context, c cid.Cid) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.unavailable(); err != nil {
		return err
	}
	delete(f.pins, c)
	return nil
}

func (f *Fake) PinUpdate(ctx context.Context, old, new cid.Cid) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.unavailable(); err != nil {
		return err
	}
	if _, ok := f.blocks[new]; !ok {
		return arkeerr.New(arkeerr.NotFound, new.String())
	}
	delete(f.pins, old)
	f.pins[new] = true
	return nil
}

func (f *Fake) MFSRead(ctx context.Context, path string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.unavailable(); err != nil {
		return nil, err
	}
	data, ok := f.files[path]
	if !ok {
		return nil, arkeerr.New(arkeerr.NotFound, path)
	}
	return data, nil
}

func (f *Fake) MFSWrite(ctx context.Context, path string, data []byte, create, truncate bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.unavailable(); err != nil {
		return err
	}
	_, exists := f.files[path]
	if !exists && !create {
		return arkeerr.New(arkeerr.NotFound, path)
	}
	if exists && !truncate {
		f.files[path] = append(f.files[path], data...)
		return nil
	}
	f.files[path] = append([]byte(nil), data...)
	return nil
}

func (f *Fake) MFSMkdir(ctx context.Context, path string, parents bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.unavailable(); err != nil {
		return err
	}
	f.dirs[path] = true
	return nil
}

func (f *Fake) MFSRemove(ctx context.Context, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.unavailable(); err != nil {
		return err
	}
	delete(f.files, path)
	delete(f.dirs, path)
	return nil
}

func (f *Fake) MFSStat(ctx context.Context, path string) (blockstore.Stat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.unavailable(); err != nil {
		return blockstore.Stat{}, err
	}
	if f.dirs[path] {
		return blockstore.Stat{IsDir: true}, nil
	}
	data, ok := f.files[path]
	if !ok {
		return blockstore.Stat{}, arkeerr.New(arkeerr.NotFound, path)
	}
	return blockstore.Stat{Size: int64(len(data))}, nil
}

// DAGExport writes every block in root's transitive closure (following
// typed links only) as a CAR v1 archive, the same "archive file"
// format the real store's own /dag/export emits (spec §4.6, §6). The
// core treats this format as a black box it never reframes -- the
// fake reproduces it so tests exercise the real contract (closure
// completeness) against real framing code, not a bespoke stand-in.
func (f *Fake) DAGExport(ctx context.Context, root cid.Cid, w io.Writer) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.unavailable(); err != nil {
		return err
	}

	closure, err := f.closureLocked(root)
	if err != nil {
		return err
	}

	header := &car.CarHeader{Roots: []cid.Cid{root}, Version: 1}
	if err := car.WriteHeader(header, w); err != nil {
		return arkeerr.Wrap(arkeerr.Invariant, "write car header", err)
	}
	for _, c := range closure {
		if err := carutil.LdWrite(w, c.Bytes(), f.blocks[c]); err != nil {
			return arkeerr.Wrap(arkeerr.Invariant, "write car block", err)
		}
	}
	return nil
}

func (f *Fake) closureLocked(root cid.Cid) ([]cid.Cid, error) {
	seen := map[cid.Cid]bool{}
	var order []cid.Cid
	var walk func(c cid.Cid) error
	walk = func(c cid.Cid) error {
		if seen[c] {
			return nil
		}
		raw, ok := f.blocks[c]
		if !ok {
			return arkeerr.New(arkeerr.NotFound, c.String())
		}
		seen[c] = true
		order = append(order, c)
		if f.codecs[c] != model.Typed {
			return nil
		}
		links, err := model.LinksFromTypedCBOR(raw)
		if err != nil {
			return err
		}
		sort.Slice(links, func(i, j int) bool { return links[i].String() < links[j].String() })
		for _, l := range links {
			if err := walk(l); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(root); err != nil {
		return nil, err
	}
	return order, nil
}

// DAGImport is DAGExport's inverse: it reads a CAR v1 archive and
// ingests every block, pinless (spec §4.6 step 1 -- pins are applied
// explicitly afterwards by the importer, not here).
func (f *Fake) DAGImport(ctx context.Context, r io.Reader) (blockstore.ImportStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.unavailable(); err != nil {
		return blockstore.ImportStats{}, err
	}

	cr, err := car.NewCarReader(r)
	if err != nil {
		return blockstore.ImportStats{}, arkeerr.Wrap(arkeerr.Malformed, "read car header", err)
	}

	count := 0
	for {
		blk, err := cr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return blockstore.ImportStats{}, arkeerr.Wrap(arkeerr.Malformed, "read car block", err)
		}
		f.blocks[blk.Cid()] = blk.RawData()
		f.codecs[blk.Cid()] = model.Typed
		count++
	}
	return blockstore.ImportStats{BlocksImported: count, RootCIDs: cr.Header.Roots}, nil
}

// Pinned reports whether c is currently pinned, for assertions in tests.
func (f *Fake) Pinned(c cid.Cid) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pins[c]
}

// Codec reports which codec a stored block was written with, for
// assertions in tests that check the S6 plain-codec regression.
func (f *Fake) Codec(c cid.Cid) (model.InputCodec, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	codec, ok := f.codecs[c]
	return codec, ok
}

