package transport

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/roach88/storesync/internal/engine"
	"github.com/roach88/storesync/internal/wire"
)

// Server serves the sync protocol over HTTP for a central site's Hub.
type Server struct {
	peer   engine.Peer
	auth   *Authenticator
	logger *slog.Logger
	mux    *http.ServeMux
}

// NewServer creates a Server answering with peer, usually an engine.Hub.
func NewServer(peer engine.Peer, auth *Authenticator, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		peer:   peer,
		auth:   auth,
		logger: logger.With("component", "server"),
		mux:    http.NewServeMux(),
	}
	s.mux.HandleFunc("POST "+PullPath, s.handlePull)
	s.mux.HandleFunc("POST "+PushPath, s.handlePush)
	s.mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) handlePull(w http.ResponseWriter, r *http.Request) {
	var req wire.PullRequest
	if !s.decode(w, r, &req) || !s.authorize(w, r, req.SiteID) {
		return
	}
	resp, err := s.peer.Pull(r.Context(), req)
	if err != nil {
		s.logger.Error("pull failed", "site", req.SiteID, "error", err)
		http.Error(w, "pull failed", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, resp)
}

func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	var req wire.PushRequest
	if !s.decode(w, r, &req) || !s.authorize(w, r, req.SiteID) {
		return
	}
	resp, err := s.peer.Push(r.Context(), req)
	if err != nil {
		s.logger.Error("push failed", "site", req.SiteID, "records", len(req.Records), "error", err)
		http.Error(w, "push failed", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, resp)
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
			return false
		}
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

// authorize requires a valid bearer token issued to the site named in the body.
func (s *Server) authorize(w http.ResponseWriter, r *http.Request, siteID string) bool {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || token == "" {
		http.Error(w, "missing bearer token", http.StatusUnauthorized)
		return false
	}
	subject, err := s.auth.Verify(token)
	if err != nil {
		s.logger.Warn("rejected token", "remote", r.RemoteAddr, "error", err)
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return false
	}
	if siteID == "" || subject != siteID {
		s.logger.Warn("site mismatch", "token_site", subject, "request_site", siteID)
		http.Error(w, "token does not match site_id", http.StatusForbidden)
		return false
	}
	return true
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("write response", "error", err)
	}
}
