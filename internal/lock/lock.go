// Package lock implements the file-based snapshot build lock (spec
// §4.5, §7): a small JSON record naming the holder's pid and
// acquisition time, reclaimed once it grows older than a configurable
// staleness threshold.
package lock

import (
	"encoding/json"
	"os"
	"time"

	"github.com/arke-institute/arke-archive/internal/arkeerr"
)

// Record is the lock file's contents.
type Record struct {
	PID       int       `json:"pid"`
	StartedAt time.Time `json:"started_at"`
}

// FileLock guards the snapshot builder against overlapping runs,
// whether triggered by the scheduler or an operator endpoint.
type FileLock struct {
	Path  string
	Stale time.Duration
}

// New builds a FileLock at path with the given staleness threshold.
func New(path string, stale time.Duration) *FileLock {
	return &FileLock{Path: path, Stale: stale}
}

// Acquire takes the lock, reclaiming it first if the existing holder's
// record is older than Stale. Returns arkeerr.LockHeld if a live
// holder is still within the staleness window.
func (l *FileLock) Acquire() (release func() error, err error) {
	if existing, readErr := readRecord(l.Path); readErr == nil {
		if time.Since(existing.StartedAt) < l.Stale {
			return nil, arkeerr.New(arkeerr.LockHeld, l.Path)
		}
		// Stale: reclaim by removing before the exclusive create below.
		if rmErr := os.Remove(l.Path); rmErr != nil && !os.IsNotExist(rmErr) {
			return nil, arkeerr.Wrap(arkeerr.Invariant, "reclaim stale lock", rmErr)
		}
	}

	rec := Record{PID: os.Getpid(), StartedAt: time.Now()}
	raw, err := json.Marshal(rec)
	if err != nil {
		return nil, arkeerr.Wrap(arkeerr.Invariant, "encode lock record", err)
	}
	f, err := os.OpenFile(l.Path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			// Lost a race with another reclaimer, or a live holder just
			// wrote after our staleness check. Treat either as held.
			return nil, arkeerr.New(arkeerr.LockHeld, l.Path)
		}
		return nil, arkeerr.Wrap(arkeerr.Invariant, "create lock file", err)
	}
	defer f.Close()
	if _, err := f.Write(raw); err != nil {
		return nil, arkeerr.Wrap(arkeerr.Invariant, "write lock file", err)
	}

	return func() error {
		if rmErr := os.Remove(l.Path); rmErr != nil && !os.IsNotExist(rmErr) {
			return arkeerr.Wrap(arkeerr.Invariant, "release lock file", rmErr)
		}
		return nil
	}, nil
}

func readRecord(path string) (*Record, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}
