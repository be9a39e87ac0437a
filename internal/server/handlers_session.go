package server

import (
	"errors"
	"io"
	"net/http"

	"github.com/google/uuid"

	"github.com/kurobon/imagepro/internal/history"
	"github.com/kurobon/imagepro/internal/state"
)

type SessionResponse struct {
	SessionID string            `json:"sessionId"`
	History   *history.Snapshot `json:"history,omitempty"`
}

func (s *Server) handleInitSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	user := currentUser(r)

	sess, err := s.SessionManager.CreateSession(uuid.NewString(), user.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.updateSessionGauge()
	s.Logger.Info("session created", "session", sess.ID, "user", user.ID)

	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "session created",
		"sessionId": sess.ID,
	})
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	sess, ok := s.session(w, r, r.URL.Query().Get("sessionId"))
	if !ok {
		return
	}
	s.SessionManager.DeleteSession(sess.ID)
	s.updateSessionGauge()
	s.Logger.Info("session deleted", "session", sess.ID, "user", sess.UserID)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, s.SessionManager.ListSessions(currentUser(r).ID))
}

// handleUpload accepts a multipart "file" and starts a new edit sequence.
// Without a sessionId field a new session is created.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	user := currentUser(r)

	if r.ContentLength > s.Uploads.MaxBytes {
		http.Error(w, "upload too large", http.StatusRequestEntityTooLarge)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.Uploads.MaxBytes)
	if err := r.ParseMultipartForm(s.Uploads.MaxBytes); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			s.writeError(w, r, err)
			return
		}
		http.Error(w, "Invalid multipart form", http.StatusBadRequest)
		return
	}

	file, hdr, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "file is required", http.StatusBadRequest)
		return
	}
	defer file.Close()

	if !s.Uploads.Accepts(hdr.Filename) {
		http.Error(w, "file type not allowed: "+hdr.Filename, http.StatusUnsupportedMediaType)
		return
	}
	data, err := io.ReadAll(file)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	var (
		sess    *state.Session
		created bool
	)
	if id := r.FormValue("sessionId"); id != "" {
		var ok bool
		if sess, ok = s.session(w, r, id); !ok {
			return
		}
	} else {
		if sess, err = s.SessionManager.CreateSession(uuid.NewString(), user.ID); err != nil {
			s.writeError(w, r, err)
			return
		}
		created = true
	}

	snap, err := s.Engine.Upload(sess, hdr.Filename, data)
	if err != nil {
		if created {
			s.SessionManager.DeleteSession(sess.ID)
		}
		s.writeError(w, r, err)
		return
	}
	if created {
		s.updateSessionGauge()
		s.Logger.Info("session created", "session", sess.ID, "user", user.ID)
	}
	writeJSON(w, http.StatusOK, SessionResponse{SessionID: sess.ID, History: &snap})
}

// decodeSessionRequest reads {"sessionId": ...} from a POST body.
func (s *Server) decodeSessionRequest(w http.ResponseWriter, r *http.Request) (*state.Session, bool) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return nil, false
	}
	var req struct {
		SessionID string `json:"sessionId"`
	}
	if !decodeJSON(w, r, &req) {
		return nil, false
	}
	return s.session(w, r, req.SessionID)
}
