// Package stats tracks per-user usage and exports it as prometheus metrics.
package stats

import (
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// UserStats is the usage summary shown on a user's dashboard.
type UserStats struct {
	UserID         string         `json:"userId"`
	Uploads        int            `json:"uploads"`
	Edits          int            `json:"edits"`
	Failures       int            `json:"failures"`
	TextExtracted  int            `json:"textExtracted"`
	BytesProcessed int64          `json:"bytesProcessed"`
	CreditsUsed    int            `json:"creditsUsed"`
	ToolUsage      map[string]int `json:"toolUsage"`
	LastActive     time.Time      `json:"lastActive"`
}

// ToolCount is one row of the most-used tools ranking.
type ToolCount struct {
	Tool  string `json:"tool"`
	Count int    `json:"count"`
}

// Tracker accumulates usage. It is safe for concurrent use.
type Tracker struct {
	mu    sync.RWMutex
	users map[string]*UserStats
	now   func() time.Time

	uploads  prometheus.Counter
	edits    *prometheus.CounterVec
	duration *prometheus.HistogramVec
	bytes    prometheus.Counter
	sessions prometheus.Gauge
}

// NewTracker creates a tracker and registers its metrics on reg.
func NewTracker(reg prometheus.Registerer) *Tracker {
	t := &Tracker{
		users: make(map[string]*UserStats),
		now:   time.Now,
		uploads: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "imagepro_uploads_total",
			Help: "Total number of images uploaded",
		}),
		edits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "imagepro_edits_total",
			Help: "Total number of tool invocations by tool and outcome",
		}, []string{"tool", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "imagepro_edit_duration_seconds",
			Help:    "Duration of tool invocations",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"tool"}),
		bytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "imagepro_bytes_processed_total",
			Help: "Total bytes of image data produced by tools",
		}),
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "imagepro_active_sessions",
			Help: "Number of live editing sessions",
		}),
	}
	if reg != nil {
		reg.MustRegister(t.uploads, t.edits, t.duration, t.bytes, t.sessions)
	}
	return t
}

func (t *Tracker) user(id string) *UserStats {
	u, ok := t.users[id]
	if !ok {
		u = &UserStats{UserID: id, ToolUsage: make(map[string]int)}
		t.users[id] = u
	}
	u.LastActive = t.now()
	return u
}

// RecordUpload counts a new source image.
func (t *Tracker) RecordUpload(userID string, size int64) {
	t.uploads.Inc()
	t.bytes.Add(float64(size))

	t.mu.Lock()
	defer t.mu.Unlock()
	u := t.user(userID)
	u.Uploads++
	u.BytesProcessed += size
}

// RecordEdit counts a successful tool run. size is the produced payload
// length; zero for tools that return text.
func (t *Tracker) RecordEdit(userID, tool string, credits int, size int64, elapsed time.Duration) {
	t.edits.WithLabelValues(tool, "success").Inc()
	t.duration.WithLabelValues(tool).Observe(elapsed.Seconds())
	t.bytes.Add(float64(size))

	t.mu.Lock()
	defer t.mu.Unlock()
	u := t.user(userID)
	u.ToolUsage[tool]++
	u.CreditsUsed += credits
	u.BytesProcessed += size
	if size > 0 {
		u.Edits++
	} else {
		u.TextExtracted++
	}
}

// RecordFailure counts a tool run that returned an error.
func (t *Tracker) RecordFailure(userID, tool string, elapsed time.Duration) {
	t.edits.WithLabelValues(tool, "failure").Inc()
	t.duration.WithLabelValues(tool).Observe(elapsed.Seconds())

	t.mu.Lock()
	defer t.mu.Unlock()
	t.user(userID).Failures++
}

// SetActiveSessions updates the live session gauge.
func (t *Tracker) SetActiveSessions(n int) {
	t.sessions.Set(float64(n))
}

// User returns a copy of the stats of userID. Unknown users get zero stats.
func (t *Tracker) User(userID string) UserStats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	u, ok := t.users[userID]
	if !ok {
		return UserStats{UserID: userID, ToolUsage: map[string]int{}}
	}
	out := *u
	out.ToolUsage = make(map[string]int, len(u.ToolUsage))
	for k, v := range u.ToolUsage {
		out.ToolUsage[k] = v
	}
	return out
}

// TopTools ranks the tools of userID by use, most used first.
func (t *Tracker) TopTools(userID string, limit int) []ToolCount {
	u := t.User(userID)
	out := make([]ToolCount, 0, len(u.ToolUsage))
	for tool, n := range u.ToolUsage {
		out = append(out, ToolCount{Tool: tool, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Tool < out[j].Tool
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Reset forgets the stats of userID.
func (t *Tracker) Reset(userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.users, userID)
}
