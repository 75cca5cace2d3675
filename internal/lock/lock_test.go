package lock

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arke-institute/arke-archive/internal/arkeerr"
)

func TestFileLock_AcquireReleaseRoundTrip(t *testing.T) {
	p := filepath.Join(t.TempDir(), "snapshot.lock")
	l := New(p, 10*time.Minute)

	release, err := l.Acquire()
	require.NoError(t, err)

	_, err = l.Acquire()
	kind, ok := arkeerr.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, arkeerr.LockHeld, kind)

	require.NoError(t, release())

	release2, err := l.Acquire()
	require.NoError(t, err)
	require.NoError(t, release2())
}

func TestFileLock_ReclaimsStale(t *testing.T) {
	p := filepath.Join(t.TempDir(), "snapshot.lock")
	l := New(p, 1*time.Millisecond)

	release, err := l.Acquire()
	require.NoError(t, err)
	_ = release

	time.Sleep(5 * time.Millisecond)

	release2, err := l.Acquire()
	require.NoError(t, err)
	require.NoError(t, release2())
}
