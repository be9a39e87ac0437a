package server

import (
	"net/http"
	"strconv"

	"github.com/kurobon/imagepro/internal/archive"
	"github.com/kurobon/imagepro/internal/history"
	"github.com/kurobon/imagepro/internal/pipeline"
)

type EditRequest struct {
	SessionID string         `json:"sessionId"`
	Tool      string         `json:"tool"`
	Settings  map[string]any `json:"settings"`
}

type MoveResponse struct {
	Moved   bool             `json:"moved"`
	History history.Snapshot `json:"history"`
}

func (s *Server) handleEdit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req EditRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Tool == "" {
		http.Error(w, "tool is required", http.StatusBadRequest)
		return
	}
	sess, ok := s.session(w, r, req.SessionID)
	if !ok {
		return
	}

	res, err := s.Engine.Run(r.Context(), sess, req.Tool, req.Settings)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	sess, ok := s.session(w, r, r.URL.Query().Get("sessionId"))
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sess.Snapshot())
}

func (s *Server) handleUndo(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.decodeSessionRequest(w, r)
	if !ok {
		return
	}
	snap, moved := sess.Undo()
	writeJSON(w, http.StatusOK, MoveResponse{Moved: moved, History: snap})
}

func (s *Server) handleRedo(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.decodeSessionRequest(w, r)
	if !ok {
		return
	}
	snap, moved := sess.Redo()
	writeJSON(w, http.StatusOK, MoveResponse{Moved: moved, History: snap})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.decodeSessionRequest(w, r)
	if !ok {
		return
	}
	sess.Reset()
	s.Logger.Info("history reset", "session", sess.ID, "user", sess.UserID)
	writeJSON(w, http.StatusOK, sess.Snapshot())
}

// handleSnapshot serves the image bytes of one history entry. Without an
// index the current entry is served.
func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	sess, ok := s.session(w, r, q.Get("sessionId"))
	if !ok {
		return
	}

	index := -1
	if v := q.Get("index"); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil || i < 0 {
			http.Error(w, "index must be a non-negative integer", http.StatusBadRequest)
			return
		}
		index = i
	}

	entry, found := sess.Entry(index)
	if !found || entry.Payload == nil {
		http.Error(w, "snapshot not found", http.StatusNotFound)
		return
	}

	etag := entry.ETag()
	w.Header().Set("ETag", etag)
	w.Header().Set("Cache-Control", "private, max-age=0, must-revalidate")
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("Content-Type", entry.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(entry.Size()))
	w.Write(entry.Payload)
}

func (s *Server) handleOriginal(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	sess, ok := s.session(w, r, r.URL.Query().Get("sessionId"))
	if !ok {
		return
	}
	orig, data, err := sess.Original()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", orig.ContentType)
	w.Header().Set("Content-Disposition", "inline; filename="+strconv.Quote(orig.Name))
	w.Write(data)
}

func (s *Server) handleArchive(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	sess, ok := s.session(w, r, r.URL.Query().Get("sessionId"))
	if !ok {
		return
	}
	user := currentUser(r)

	a, err := archive.Export(sess.Snapshot(), archive.Author{Name: user.Name, Email: user.Email})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) handleListTools(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	tools := s.Engine.Catalog.List(preferredLanguage(r))

	// Only advertise tools this binary can run.
	registered := make(map[string]bool)
	for _, id := range pipeline.Tools() {
		registered[id] = true
	}
	out := tools[:0]
	for _, t := range tools {
		if registered[t.ID] {
			out = append(out, t)
		}
	}
	writeJSON(w, http.StatusOK, out)
}
