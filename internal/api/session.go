package api

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"courier/internal/bus"
	"courier/internal/rest"
	"courier/internal/status"
)

type statusResponse struct {
	State     status.State `json:"state"`
	LoggedIn  bool         `json:"loggedIn"`
	UserID    string       `json:"userId,omitempty"`
	Username  string       `json:"username,omitempty"`
	Connected bool         `json:"connected"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{
		State:     s.machine.Current(),
		LoggedIn:  s.auth.LoggedIn(),
		UserID:    s.auth.SelfID(),
		Username:  s.auth.Username(),
		Connected: s.rt.Connected(),
	})
}

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var creds credentials
	if err := decodeBody(r, &creds); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	pair, err := s.rest.Login(r.Context(), creds.Username, creds.Password)
	if err != nil {
		code := http.StatusBadGateway
		if errors.Is(err, rest.ErrUnauthorized) {
			code = http.StatusUnauthorized
		}
		writeError(w, code, err)
		return
	}
	s.finishAuth(w, pair)
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var creds credentials
	if err := decodeBody(r, &creds); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	pair, err := s.rest.Register(r.Context(), creds.Username, creds.Password)
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	s.finishAuth(w, pair)
}

func (s *Server) finishAuth(w http.ResponseWriter, pair rest.TokenPair) {
	if err := s.auth.SetTokens(pair.Access, pair.Refresh); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.log.Info("logged in", zap.String("username", s.auth.Username()))
	s.bus.Publish(bus.Event{Kind: "session.login"})

	writeJSON(w, http.StatusOK, map[string]string{
		"userId":   s.auth.SelfID(),
		"username": s.auth.Username(),
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, _ *http.Request) {
	if err := s.auth.Clear(); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.proj.Reset()
	s.bus.Publish(bus.Event{Kind: "session.logout"})
	s.log.Info("logged out")
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	if err := s.puller.SyncAll(r.Context()); err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	if err := s.flusher.Flush(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
