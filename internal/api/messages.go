package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"courier/internal/store"
	"courier/internal/wire"
)

func errBadRequest(err error, fallback string) error {
	if err != nil {
		return err
	}
	return errors.New(fallback)
}

// handleListMessages pages a chat's timeline from the durable store, newest
// window first, returned ascending.
func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "chatID")
	before := parseIntQuery(r, "before", 0)
	limit := int(parseIntQuery(r, "limit", 50))

	msgs, err := s.db.ListMessages(chatID, before, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if msgs == nil {
		msgs = []store.Message{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

// handleSendMessage creates the optimistic record. Transmission is the
// flusher's job; it is triggered by the message.queued event this publishes.
func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "chatID")
	var body struct {
		Text    string `json:"text"`
		Type    string `json:"type"`
		ReplyTo string `json:"replyTo"`
	}
	if err := decodeBody(r, &body); err != nil || body.Text == "" {
		writeError(w, http.StatusBadRequest, errBadRequest(err, "text required"))
		return
	}

	m, err := s.engine.AddLocal(chatID, body.Text, body.Type, body.ReplyTo)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusAccepted, m)
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "chatID")
	var body struct {
		MessageIDs []string `json:"messageIds"`
	}
	if err := decodeBody(r, &body); err != nil || len(body.MessageIDs) == 0 {
		writeError(w, http.StatusBadRequest, errBadRequest(err, "messageIds required"))
		return
	}
	if err := s.rt.MarkRead(r.Context(), chatID, body.MessageIDs); err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// handleEditMessage edits on the server first, then merges the authoritative
// record locally. Offline edits are deliberately not supported.
func (s *Server) handleEditMessage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "messageID")
	var body struct {
		Text string `json:"text"`
	}
	if err := decodeBody(r, &body); err != nil || body.Text == "" {
		writeError(w, http.StatusBadRequest, errBadRequest(err, "text required"))
		return
	}

	wm, err := s.rest.EditMessage(r.Context(), id, body.Text)
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	m, err := wm.Normalize()
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	if err := s.engine.Ingest(m); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handlePinMessage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "messageID")
	var body struct {
		Pinned bool `json:"pinned"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	wm, err := s.rest.PinMessage(r.Context(), id, body.Pinned)
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	m, err := wm.Normalize()
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	if err := s.engine.Ingest(m); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// handleDeleteForMe removes rows locally after telling the server, so other
// devices of this account converge. Never broadcast to other participants.
func (s *Server) handleDeleteForMe(w http.ResponseWriter, r *http.Request) {
	var body struct {
		MessageIDs []string `json:"messageIds"`
	}
	if err := decodeBody(r, &body); err != nil || len(body.MessageIDs) == 0 {
		writeError(w, http.StatusBadRequest, errBadRequest(err, "messageIds required"))
		return
	}

	if err := s.rest.DeleteForMe(r.Context(), body.MessageIDs); err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	for _, id := range body.MessageIDs {
		m, err := s.db.GetMessage(id)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		if m == nil {
			continue
		}
		if err := s.db.DeleteMessageRow(id); err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		s.proj.Remove(m.ChatID, id)
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleDeleteForEveryone(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ChatID     string   `json:"chatId"`
		MessageIDs []string `json:"messageIds"`
	}
	if err := decodeBody(r, &body); err != nil || len(body.MessageIDs) == 0 {
		writeError(w, http.StatusBadRequest, errBadRequest(err, "messageIds required"))
		return
	}

	if err := s.rest.DeleteForEveryone(r.Context(), body.ChatID, body.MessageIDs); err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	// Tombstone locally right away; the broadcast echo merges idempotently.
	if err := s.engine.ApplyDelete(wire.DeleteEvent{ChatID: body.ChatID, MessageIDs: body.MessageIDs}); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
