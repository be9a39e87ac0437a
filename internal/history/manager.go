package history

// DefaultCapacity is the number of snapshots retained when no capacity is
// configured.
const DefaultCapacity = 30

// Original references the uploaded source file of a session. It is kept
// outside the snapshot sequence and only released by Reset.
type Original struct {
	Name        string
	Path        string
	ContentType string
	Size        int64
}

// Manager holds the snapshot sequence and the cursor.
type Manager struct {
	entries  []Entry
	cursor   int
	capacity int

	original  *Original
	onRelease func(Original)
}

// NewManager creates an empty history bounded to capacity entries.
func NewManager(capacity int) *Manager {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Manager{
		cursor:   -1,
		capacity: capacity,
	}
}

// OnRelease registers fn to be called with the original upload reference
// when Reset drops it.
func (m *Manager) OnRelease(fn func(Original)) {
	m.onRelease = fn
}

// Append makes entry the current snapshot. Entries after the cursor are
// discarded first, and the oldest entries are evicted if the history is
// over capacity.
func (m *Manager) Append(entry Entry) {
	if m.cursor+1 < len(m.entries) {
		clear(m.entries[m.cursor+1:])
		m.entries = m.entries[:m.cursor+1]
	}
	m.entries = append(m.entries, entry)

	if excess := len(m.entries) - m.capacity; excess > 0 {
		clear(m.entries[:excess])
		m.entries = m.entries[excess:]
	}
	m.cursor = len(m.entries) - 1
}

// Undo moves the cursor back one step and returns the new current entry.
// It reports false and leaves the history untouched at the earliest entry.
func (m *Manager) Undo() (Entry, bool) {
	if m.cursor <= 0 {
		return Entry{}, false
	}
	m.cursor--
	return m.entries[m.cursor], true
}

// Redo moves the cursor forward one step and returns the new current entry.
// It reports false at the latest entry.
func (m *Manager) Redo() (Entry, bool) {
	if m.cursor >= len(m.entries)-1 {
		return Entry{}, false
	}
	m.cursor++
	return m.entries[m.cursor], true
}

// Reset empties the history and releases the original upload.
func (m *Manager) Reset() {
	clear(m.entries)
	m.entries = nil
	m.cursor = -1

	if m.original != nil {
		orig := *m.original
		m.original = nil
		if m.onRelease != nil {
			m.onRelease(orig)
		}
	}
}

// Current returns the entry at the cursor.
func (m *Manager) Current() (Entry, bool) {
	if m.cursor < 0 {
		return Entry{}, false
	}
	return m.entries[m.cursor], true
}

// At returns the entry at index i.
func (m *Manager) At(i int) (Entry, bool) {
	if i < 0 || i >= len(m.entries) {
		return Entry{}, false
	}
	return m.entries[i], true
}

// CanUndo reports whether Undo would move the cursor.
func (m *Manager) CanUndo() bool {
	return m.cursor > 0
}

// CanRedo reports whether Redo would move the cursor.
func (m *Manager) CanRedo() bool {
	return m.cursor < len(m.entries)-1
}

// Cursor returns the index of the current entry, or -1 when empty.
func (m *Manager) Cursor() int {
	return m.cursor
}

// Len returns the number of retained entries.
func (m *Manager) Len() int {
	return len(m.entries)
}

// Capacity returns the maximum number of retained entries.
func (m *Manager) Capacity() int {
	return m.capacity
}

// Entries returns a copy of the snapshot sequence, oldest first.
func (m *Manager) Entries() []Entry {
	out := make([]Entry, len(m.entries))
	copy(out, m.entries)
	return out
}

// SetOriginal records the uploaded source file. A previously recorded
// original is replaced without being released; call Reset first when
// starting a new session.
func (m *Manager) SetOriginal(orig Original) {
	m.original = &orig
}

// Original returns the uploaded source reference, if any.
func (m *Manager) Original() (Original, bool) {
	if m.original == nil {
		return Original{}, false
	}
	return *m.original, true
}

// Snapshot is a read-only view of the history for rendering.
type Snapshot struct {
	Entries  []Entry `json:"entries"`
	Cursor   int     `json:"cursor"`
	Capacity int     `json:"capacity"`
	CanUndo  bool    `json:"canUndo"`
	CanRedo  bool    `json:"canRedo"`
	Current  *Entry  `json:"current,omitempty"`
}

// Snapshot captures the current state of the history.
func (m *Manager) Snapshot() Snapshot {
	s := Snapshot{
		Entries:  m.Entries(),
		Cursor:   m.cursor,
		Capacity: m.capacity,
		CanUndo:  m.CanUndo(),
		CanRedo:  m.CanRedo(),
	}
	if cur, ok := m.Current(); ok {
		s.Current = &cur
	}
	return s
}
