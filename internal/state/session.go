package state

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"

	"github.com/kurobon/imagepro/internal/history"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrForbidden       = errors.New("session belongs to another user")
	ErrNoImage         = errors.New("no image uploaded in this session")
	ErrStale           = errors.New("session was restarted while the edit was running")
)

// originalDir is where the uploaded source file lives in the session filesystem.
const originalDir = "original"

// Session holds the editing state of one user's image
type Session struct {
	ID         string
	UserID     string
	Filesystem billy.Filesystem // holds the original upload
	History    *history.Manager
	CreatedAt  time.Time
	UpdatedAt  time.Time
	Manager    *SessionManager
	generation uint64 // bumped by Start and Reset
	mu         sync.RWMutex
}

// SessionManager handles concurrent access to sessions
type SessionManager struct {
	sessions map[string]*Session
	capacity int
	idleTTL  time.Duration
	now      func() time.Time
	mu       sync.RWMutex
}

// Upload is a source image handed to Start.
type Upload struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Info summarizes a session for listings.
type Info struct {
	ID        string    `json:"id"`
	Original  string    `json:"original,omitempty"`
	Entries   int       `json:"entries"`
	Cursor    int       `json:"cursor"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// NewSessionManager creates a session manager whose sessions keep at most
// capacity snapshots and expire after idleTTL without activity.
func NewSessionManager(capacity int, idleTTL time.Duration) *SessionManager {
	return &SessionManager{
		sessions: make(map[string]*Session),
		capacity: capacity,
		idleTTL:  idleTTL,
		now:      time.Now,
	}
}

// CreateSession initializes a new session. An existing session with the
// same id and owner is returned as is.
func (sm *SessionManager) CreateSession(id, userID string) (*Session, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if s, exists := sm.sessions[id]; exists {
		if s.UserID != userID {
			return nil, ErrForbidden
		}
		return s, nil
	}

	now := sm.now()
	s := &Session{
		ID:         id,
		UserID:     userID,
		Filesystem: memfs.New(),
		History:    history.NewManager(sm.capacity),
		CreatedAt:  now,
		UpdatedAt:  now,
		Manager:    sm,
	}
	s.History.OnRelease(s.releaseOriginal)
	sm.sessions[id] = s
	return s, nil
}

// GetSession retrieves a session by ID
func (sm *SessionManager) GetSession(id string) (*Session, bool) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	s, ok := sm.sessions[id]
	return s, ok
}

// SessionFor retrieves a session and checks that userID owns it.
func (sm *SessionManager) SessionFor(id, userID string) (*Session, error) {
	s, ok := sm.GetSession(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if s.UserID != userID {
		return nil, ErrForbidden
	}
	return s, nil
}

// DeleteSession drops a session and releases its resources.
func (sm *SessionManager) DeleteSession(id string) bool {
	sm.mu.Lock()
	s, ok := sm.sessions[id]
	delete(sm.sessions, id)
	sm.mu.Unlock()

	if ok {
		s.Reset()
	}
	return ok
}

// ListSessions returns the sessions of userID, most recently used first.
func (sm *SessionManager) ListSessions(userID string) []Info {
	sm.mu.RLock()
	var owned []*Session
	for _, s := range sm.sessions {
		if s.UserID == userID {
			owned = append(owned, s)
		}
	}
	sm.mu.RUnlock()

	out := make([]Info, 0, len(owned))
	for _, s := range owned {
		out = append(out, s.Info())
	}
	sortInfos(out)
	return out
}

// Count returns the number of live sessions.
func (sm *SessionManager) Count() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.sessions)
}

// Sweep removes sessions idle for longer than the TTL and returns how many
// were removed.
func (sm *SessionManager) Sweep() int {
	if sm.idleTTL <= 0 {
		return 0
	}
	cutoff := sm.now().Add(-sm.idleTTL)

	sm.mu.RLock()
	var expired []string
	for id, s := range sm.sessions {
		s.RLock()
		idle := s.UpdatedAt.Before(cutoff)
		s.RUnlock()
		if idle {
			expired = append(expired, id)
		}
	}
	sm.mu.RUnlock()

	for _, id := range expired {
		sm.DeleteSession(id)
	}
	return len(expired)
}

// Run sweeps idle sessions every interval until ctx is done. onSweep, if
// set, is called after each pass with the number of sessions removed.
func (sm *SessionManager) Run(ctx context.Context, interval time.Duration, onSweep func(removed int)) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n := sm.Sweep()
			if onSweep != nil {
				onSweep(n)
			}
		}
	}
}

// Lock locks the session for writing
func (s *Session) Lock() {
	s.mu.Lock()
}

// Unlock unlocks the session
func (s *Session) Unlock() {
	s.mu.Unlock()
}

// RLock locks the session for reading
func (s *Session) RLock() {
	s.mu.RLock()
}

// RUnlock unlocks the session for reading
func (s *Session) RUnlock() {
	s.mu.RUnlock()
}

func (s *Session) touch() {
	if s.Manager != nil {
		s.UpdatedAt = s.Manager.now()
		return
	}
	s.UpdatedAt = time.Now()
}

// Start begins a new edit sequence from an uploaded file. The previous
// history and original are dropped, the upload is stored and becomes the
// first snapshot.
func (s *Session) Start(up Upload, preview string) (history.Entry, error) {
	s.Lock()
	defer s.Unlock()

	s.History.Reset()
	s.generation++

	p := path.Join(originalDir, sanitizeFilename(up.Filename))
	if err := util.WriteFile(s.Filesystem, p, up.Data, 0o644); err != nil {
		return history.Entry{}, fmt.Errorf("failed to store upload: %w", err)
	}
	s.History.SetOriginal(history.Original{
		Name:        up.Filename,
		Path:        p,
		ContentType: up.ContentType,
		Size:        int64(len(up.Data)),
	})

	entry := history.NewEntry("upload", up.Data, up.ContentType, preview,
		history.Upload{Filename: up.Filename, Size: int64(len(up.Data))})
	entry.ToolName = "Original"
	s.History.Append(entry)
	s.touch()
	return entry, nil
}

// Reset clears the history and removes the stored original.
func (s *Session) Reset() {
	s.Lock()
	defer s.Unlock()
	s.History.Reset()
	s.generation++
	s.touch()
}

func (s *Session) releaseOriginal(orig history.Original) {
	_ = s.Filesystem.Remove(orig.Path)
}

// Current returns the active snapshot or ErrNoImage.
func (s *Session) Current() (history.Entry, error) {
	s.RLock()
	defer s.RUnlock()
	e, ok := s.History.Current()
	if !ok {
		return history.Entry{}, ErrNoImage
	}
	return e, nil
}

// Base returns the active snapshot together with the session generation.
// Tools work from it and hand the generation back to Apply.
func (s *Session) Base() (history.Entry, uint64, error) {
	s.RLock()
	defer s.RUnlock()
	e, ok := s.History.Current()
	if !ok {
		return history.Entry{}, 0, ErrNoImage
	}
	return e, s.generation, nil
}

// Apply appends a snapshot produced by a tool. It fails with ErrStale if
// the session was restarted or reset since Base returned generation.
func (s *Session) Apply(generation uint64, e history.Entry) (history.Snapshot, error) {
	s.Lock()
	defer s.Unlock()
	if generation != s.generation {
		return history.Snapshot{}, ErrStale
	}
	s.History.Append(e)
	s.touch()
	return s.History.Snapshot(), nil
}

// Undo steps back one snapshot. moved is false at the earliest snapshot.
func (s *Session) Undo() (snap history.Snapshot, moved bool) {
	s.Lock()
	defer s.Unlock()
	_, moved = s.History.Undo()
	s.touch()
	return s.History.Snapshot(), moved
}

// Redo steps forward one snapshot. moved is false at the latest snapshot.
func (s *Session) Redo() (snap history.Snapshot, moved bool) {
	s.Lock()
	defer s.Unlock()
	_, moved = s.History.Redo()
	s.touch()
	return s.History.Snapshot(), moved
}

// Snapshot returns the history view.
func (s *Session) Snapshot() history.Snapshot {
	s.RLock()
	defer s.RUnlock()
	return s.History.Snapshot()
}

// Entry returns the snapshot at index i; a negative index means current.
func (s *Session) Entry(i int) (history.Entry, bool) {
	s.RLock()
	defer s.RUnlock()
	if i < 0 {
		return s.History.Current()
	}
	return s.History.At(i)
}

// Original returns the uploaded file and its bytes.
func (s *Session) Original() (history.Original, []byte, error) {
	s.RLock()
	defer s.RUnlock()

	orig, ok := s.History.Original()
	if !ok {
		return history.Original{}, nil, ErrNoImage
	}
	data, err := util.ReadFile(s.Filesystem, orig.Path)
	if err != nil {
		return history.Original{}, nil, fmt.Errorf("failed to read original: %w", err)
	}
	return orig, data, nil
}

// Info summarizes the session.
func (s *Session) Info() Info {
	s.RLock()
	defer s.RUnlock()
	info := Info{
		ID:        s.ID,
		Entries:   s.History.Len(),
		Cursor:    s.History.Cursor(),
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
	}
	if orig, ok := s.History.Original(); ok {
		info.Original = orig.Name
	}
	return info
}

// sanitizeFilename keeps the base name and drops characters that do not
// belong in a path.
func sanitizeFilename(name string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	name = strings.Map(func(r rune) rune {
		if r < 0x20 {
			return -1
		}
		return r
	}, name)
	if name == "" || name == "." || name == ".." {
		return "upload"
	}
	return name
}
