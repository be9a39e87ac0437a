package state

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kurobon/imagepro/internal/history"
)

// exists reports whether path is present on fs.
func exists(fs billy.Basic, path string) (bool, error) {
	_, err := fs.Stat(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

func upload(name string) Upload {
	return Upload{Filename: name, ContentType: "image/png", Data: []byte("data:" + name)}
}

func TestSessionManager(t *testing.T) {
	sm := NewSessionManager(history.DefaultCapacity, time.Hour)

	// 1. Create session
	s, err := sm.CreateSession("session-1", "alice")
	require.NoError(t, err)
	assert.Equal(t, "session-1", s.ID)
	assert.Equal(t, "alice", s.UserID)
	assert.Equal(t, -1, s.History.Cursor())

	// 2. Get session
	s2, ok := sm.GetSession("session-1")
	require.True(t, ok)
	assert.Same(t, s, s2)

	// 3. Create existing (idempotent for the owner)
	s3, err := sm.CreateSession("session-1", "alice")
	require.NoError(t, err)
	assert.Same(t, s, s3)

	_, err = sm.CreateSession("session-1", "mallory")
	assert.ErrorIs(t, err, ErrForbidden)

	// 4. Ownership checks
	_, err = sm.SessionFor("session-1", "mallory")
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = sm.SessionFor("ghost", "alice")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	// 5. Delete
	assert.True(t, sm.DeleteSession("session-1"))
	assert.False(t, sm.DeleteSession("session-1"))
	assert.Equal(t, 0, sm.Count())
}

func TestSessionStartStoresOriginal(t *testing.T) {
	sm := NewSessionManager(history.DefaultCapacity, time.Hour)
	s, _ := sm.CreateSession("s", "alice")

	entry, err := s.Start(upload("../../cat.png"), "preview")
	require.NoError(t, err)
	assert.Equal(t, "upload", entry.Tool)
	assert.Equal(t, "Original", entry.ToolName)

	orig, data, err := s.Original()
	require.NoError(t, err)
	assert.Equal(t, "original/cat.png", orig.Path)
	assert.Equal(t, []byte("data:../../cat.png"), data)

	snap := s.Snapshot()
	assert.Equal(t, 0, snap.Cursor)
	require.NotNil(t, snap.Current)
	assert.Equal(t, entry.ID, snap.Current.ID)
}

func TestSessionRestartReleasesPreviousOriginal(t *testing.T) {
	sm := NewSessionManager(history.DefaultCapacity, time.Hour)
	s, _ := sm.CreateSession("s", "alice")

	_, err := s.Start(upload("first.png"), "")
	require.NoError(t, err)
	base, gen, err := s.Base()
	require.NoError(t, err)
	_, err = s.Apply(gen, history.NewEntry("grayscale", []byte("gray"), "image/png", "", history.Filter{Name: "grayscale"}))
	require.NoError(t, err)

	_, err = s.Start(upload("second.png"), "")
	require.NoError(t, err)

	_, err = s.Filesystem.Stat("original/first.png")
	assert.Error(t, err, "old original must be released")
	ok, _ := exists(s.Filesystem, "original/second.png")
	assert.True(t, ok)

	assert.Equal(t, 1, s.History.Len())
	cur, err := s.Current()
	require.NoError(t, err)
	assert.NotEqual(t, base.ID, cur.ID)
}

func TestSessionResetAndStaleApply(t *testing.T) {
	sm := NewSessionManager(history.DefaultCapacity, time.Hour)
	s, _ := sm.CreateSession("s", "alice")

	_, _, err := s.Base()
	assert.ErrorIs(t, err, ErrNoImage)

	_, err = s.Start(upload("cat.png"), "")
	require.NoError(t, err)
	_, gen, err := s.Base()
	require.NoError(t, err)

	s.Reset()
	assert.Equal(t, 0, s.History.Len())
	_, err = s.Current()
	assert.ErrorIs(t, err, ErrNoImage)
	_, _, err = s.Original()
	assert.ErrorIs(t, err, ErrNoImage)

	_, err = s.Apply(gen, history.NewEntry("invert", []byte("x"), "image/png", "", nil))
	assert.ErrorIs(t, err, ErrStale)
	assert.Equal(t, 0, s.History.Len(), "stale results never reach the history")
}

func TestSessionUndoRedo(t *testing.T) {
	sm := NewSessionManager(history.DefaultCapacity, time.Hour)
	s, _ := sm.CreateSession("s", "alice")
	_, err := s.Start(upload("cat.png"), "")
	require.NoError(t, err)

	_, moved := s.Undo()
	assert.False(t, moved)

	_, gen, _ := s.Base()
	_, err = s.Apply(gen, history.NewEntry("invert", []byte("x"), "image/png", "", nil))
	require.NoError(t, err)

	snap, moved := s.Undo()
	assert.True(t, moved)
	assert.Equal(t, 0, snap.Cursor)
	assert.True(t, snap.CanRedo)

	snap, moved = s.Redo()
	assert.True(t, moved)
	assert.Equal(t, 1, snap.Cursor)

	e, ok := s.Entry(0)
	require.True(t, ok)
	assert.Equal(t, "upload", e.Tool)
	e, ok = s.Entry(-1)
	require.True(t, ok)
	assert.Equal(t, "invert", e.Tool)
	_, ok = s.Entry(7)
	assert.False(t, ok)
}

func TestSessionCapacityFromManager(t *testing.T) {
	sm := NewSessionManager(3, time.Hour)
	s, _ := sm.CreateSession("s", "alice")
	_, err := s.Start(upload("cat.png"), "")
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, gen, _ := s.Base()
		_, err := s.Apply(gen, history.NewEntry(fmt.Sprintf("t%d", i), []byte{byte(i)}, "image/png", "", nil))
		require.NoError(t, err)
	}
	assert.Equal(t, 3, s.History.Len())

	// The original survives eviction of the upload snapshot.
	_, _, err = s.Original()
	assert.NoError(t, err)
}

func TestListAndSweep(t *testing.T) {
	sm := NewSessionManager(history.DefaultCapacity, time.Hour)
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	sm.now = func() time.Time { return now }

	old, _ := sm.CreateSession("old", "alice")
	_, err := old.Start(upload("a.png"), "")
	require.NoError(t, err)

	now = now.Add(30 * time.Minute)
	_, _ = sm.CreateSession("recent", "alice")
	_, _ = sm.CreateSession("other", "bob")

	infos := sm.ListSessions("alice")
	require.Len(t, infos, 2)
	assert.Equal(t, "recent", infos[0].ID)
	assert.Equal(t, "a.png", infos[1].Original)

	now = now.Add(45 * time.Minute)
	assert.Equal(t, 1, sm.Sweep())
	_, ok := sm.GetSession("old")
	assert.False(t, ok)
	assert.Equal(t, 2, sm.Count())

	ok, _ = exists(old.Filesystem, "original/a.png")
	assert.False(t, ok, "sweeping releases the original")
}

func TestRunStopsWithContext(t *testing.T) {
	sm := NewSessionManager(history.DefaultCapacity, time.Nanosecond)
	_, _ = sm.CreateSession("s", "alice")

	ctx, cancel := context.WithCancel(context.Background())
	swept := make(chan int, 16)
	done := make(chan struct{})
	go func() {
		sm.Run(ctx, time.Millisecond, func(n int) {
			select {
			case swept <- n:
			default:
			}
		})
		close(done)
	}()

	assert.Eventually(t, func() bool { return sm.Count() == 0 }, time.Second, time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
