package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"courier/internal/store"
)

func (s *Server) handleListChats(w http.ResponseWriter, _ *http.Request) {
	chats := s.proj.Chats()
	if chats == nil {
		chats = []store.Chat{}
	}
	writeJSON(w, http.StatusOK, chats)
}

func (s *Server) handleDirectChat(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Username string `json:"username"`
	}
	if err := decodeBody(r, &body); err != nil || body.Username == "" {
		writeError(w, http.StatusBadRequest, errBadRequest(err, "username required"))
		return
	}

	wc, err := s.rest.CreateDirectChat(r.Context(), body.Username)
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	c, err := wc.Normalize()
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}

	// Re-creating a chat the user deleted-for-me revives it.
	if err := s.db.RemoveChatTombstone(c.ID); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if err := s.engine.ApplyChat(c); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// handleDeleteChat is "delete for me": a purely local operation. The durable
// rows are removed and a tombstone keeps the chat from resurfacing on sync.
func (s *Server) handleDeleteChat(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "chatID")

	if err := s.db.AddChatTombstone(chatID); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if err := s.db.DeleteChat(chatID); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.proj.RemoveChat(chatID)
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleReviveChat(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "chatID")
	if err := s.db.RemoveChatTombstone(chatID); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	// The next sync cycle re-hydrates the chat and its history.
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handlePresence(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "chatID")
	online := s.presence.Online()
	if online == nil {
		online = []string{}
	}
	typing := s.presence.TypingIn(chatID)
	if typing == nil {
		typing = []string{}
	}
	writeJSON(w, http.StatusOK, map[string][]string{"online": online, "typing": typing})
}

func (s *Server) handleTyping(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "chatID")
	var body struct {
		Typing bool `json:"typing"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.rt.Typing(r.Context(), chatID, body.Typing); err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func parseIntQuery(r *http.Request, key string, fallback int64) int64 {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fallback
	}
	return v
}
