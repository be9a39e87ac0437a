package server

import (
	"net/http"
	"strings"

	"github.com/kurobon/imagepro/internal/state"
	"github.com/kurobon/imagepro/internal/stats"
)

type StatsResponse struct {
	Usage    stats.UserStats   `json:"usage"`
	TopTools []stats.ToolCount `json:"topTools"`
	Sessions []state.Info      `json:"sessions"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.Stats == nil {
		http.Error(w, "statistics are disabled", http.StatusNotFound)
		return
	}
	user := currentUser(r)
	writeJSON(w, http.StatusOK, StatsResponse{
		Usage:    s.Stats.User(user.ID),
		TopTools: s.Stats.TopTools(user.ID, 5),
		Sessions: s.SessionManager.ListSessions(user.ID),
	})
}

// preferredLanguage returns the primary subtag of the first Accept-Language
// entry, "en" when there is none.
func preferredLanguage(r *http.Request) string {
	accept := r.Header.Get("Accept-Language")
	first, _, _ := strings.Cut(accept, ",")
	first, _, _ = strings.Cut(first, ";")
	lang, _, _ := strings.Cut(strings.TrimSpace(first), "-")
	lang = strings.ToLower(lang)
	if lang == "" || lang == "*" {
		return "en"
	}
	return lang
}
