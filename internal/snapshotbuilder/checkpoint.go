package snapshotbuilder

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/ipfs/go-cid"
	bolt "go.etcd.io/bbolt"

	"github.com/arke-institute/arke-archive/internal/model"
)

var (
	bucketEntries = []byte("entries")
	// bucketSeen tracks which PIs the in-progress walk has already
	// recorded an entry for, distinct from bucketEntries so a PI seeded
	// from the previous snapshot can still be overwritten by a newer
	// occurrence found later in the same walk (spec §4.5 incremental
	// fold: newest occurrence per PI wins).
	bucketSeen = []byte("seen_this_run")
	bucketMeta = []byte("meta")
	keyCursor  = []byte("cursor")
)

// checkpointCursor is the meta bucket's JSON value: the next event CID
// to process, or an empty Cursor once the walk has run to completion.
type checkpointCursor struct {
	Cursor string `json:"cursor"`
}

// Checkpoint streams fold entries to a bbolt-backed file keyed by PI,
// bounding the fold's resident memory to roughly one page of bbolt's
// B+tree rather than the full entry set (spec §4.5: "streams entries
// to a checkpoint file on disk keyed by PI-seen hashset").
type Checkpoint struct {
	db *bolt.DB
}

// OpenCheckpoint opens (creating if absent) a checkpoint file at path.
func OpenCheckpoint(path string) (*Checkpoint, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("snapshotbuilder: open checkpoint: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketEntries, bucketSeen, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("snapshotbuilder: init checkpoint bucket: %w", err)
	}
	return &Checkpoint{db: db}, nil
}

// Close closes the underlying bbolt file.
func (c *Checkpoint) Close() error {
	return c.db.Close()
}

// SeenThisRun reports whether pi already has an entry recorded by the
// walk itself (as opposed to one only present because it was seeded
// from the previous snapshot).
func (c *Checkpoint) SeenThisRun(pi string) (bool, error) {
	var found bool
	err := c.db.View(func(tx *bolt.Tx) error {
		found = tx.Bucket(bucketSeen).Get([]byte(pi)) != nil
		return nil
	})
	return found, err
}

// MarkSeenThisRun records that the walk has written pi's entry.
func (c *Checkpoint) MarkSeenThisRun(pi string) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSeen).Put([]byte(pi), []byte{1})
	})
}

// Started reports whether a prior invocation recorded a cursor for
// this checkpoint, meaning it began (and possibly was killed partway
// through) the walk this file corresponds to.
func (c *Checkpoint) Started() (bool, error) {
	var started bool
	err := c.db.View(func(tx *bolt.Tx) error {
		started = tx.Bucket(bucketMeta).Get(keyCursor) != nil
		return nil
	})
	return started, err
}

// Cursor returns the next event CID the walk should fetch, or
// cid.Undef if the walk had already reached the end of the chain.
func (c *Checkpoint) Cursor() (cid.Cid, error) {
	var raw []byte
	err := c.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketMeta).Get(keyCursor)
		if v != nil {
			raw = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return cid.Undef, err
	}
	if raw == nil {
		return cid.Undef, nil
	}
	var cc checkpointCursor
	if err := json.Unmarshal(raw, &cc); err != nil {
		return cid.Undef, fmt.Errorf("snapshotbuilder: decode checkpoint cursor: %w", err)
	}
	if cc.Cursor == "" {
		return cid.Undef, nil
	}
	return cid.Parse(cc.Cursor)
}

// SetCursor records the next event CID to resume from (cid.Undef once
// the walk has finished), so a restart can discover and continue an
// in-progress fold instead of starting the walk over (spec B4).
func (c *Checkpoint) SetCursor(next cid.Cid) error {
	cc := checkpointCursor{}
	if next.Defined() {
		cc.Cursor = next.String()
	}
	raw, err := json.Marshal(cc)
	if err != nil {
		return fmt.Errorf("snapshotbuilder: encode checkpoint cursor: %w", err)
	}
	return c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMeta).Put(keyCursor, raw)
	})
}

// Put records (or overwrites, for incremental mode) pi's entry.
func (c *Checkpoint) Put(entry model.SnapshotEntry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("snapshotbuilder: encode checkpoint entry: %w", err)
	}
	return c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketEntries).Put([]byte(entry.PI), raw)
	})
}

// All returns every checkpointed entry, sorted ascending by PI (spec
// §4.5 step 4).
func (c *Checkpoint) All() ([]model.SnapshotEntry, error) {
	var out []model.SnapshotEntry
	err := c.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEntries)
		return b.ForEach(func(k, v []byte) error {
			var entry model.SnapshotEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				return err
			}
			out = append(out, entry)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	// bbolt's ForEach already walks keys in byte order, and PI strings
	// (ULIDs) sort consistently with their byte order, but re-sort
	// explicitly so the guarantee doesn't depend on that being true of
	// every PI format the core ever accepts.
	sort.Slice(out, func(i, j int) bool { return out[i].PI < out[j].PI })
	return out, nil
}
