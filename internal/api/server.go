// Package api exposes the daemon's control surface over the profile's Unix
// socket. The CLI is the only intended client; everything is JSON over HTTP.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"courier/internal/auth"
	"courier/internal/bus"
	"courier/internal/outbox"
	"courier/internal/presence"
	"courier/internal/projection"
	"courier/internal/rest"
	"courier/internal/rt"
	"courier/internal/status"
	"courier/internal/store"
	"courier/internal/sync"
)

type Server struct {
	db       *store.DB
	proj     *projection.Store
	engine   *sync.Engine
	puller   *sync.Puller
	flusher  *outbox.Flusher
	rest     *rest.Client
	auth     *auth.Manager
	presence *presence.Tracker
	machine  *status.Machine
	rt       *rt.Adapter
	bus      *bus.Bus
	log      *zap.Logger
}

// Deps collects everything the API needs. The daemon module fills it in.
type Deps struct {
	DB         *store.DB
	Projection *projection.Store
	Engine     *sync.Engine
	Puller     *sync.Puller
	Flusher    *outbox.Flusher
	Rest       *rest.Client
	Auth       *auth.Manager
	Presence   *presence.Tracker
	Machine    *status.Machine
	RT         *rt.Adapter
	Bus        *bus.Bus
	Log        *zap.Logger
}

func NewServer(d Deps) *Server {
	return &Server{
		db:       d.DB,
		proj:     d.Projection,
		engine:   d.Engine,
		puller:   d.Puller,
		flusher:  d.Flusher,
		rest:     d.Rest,
		auth:     d.Auth,
		presence: d.Presence,
		machine:  d.Machine,
		rt:       d.RT,
		bus:      d.Bus,
		log:      d.Log.Named("api"),
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/v1/status", s.handleStatus)
	r.Post("/v1/login", s.handleLogin)
	r.Post("/v1/register", s.handleRegister)
	r.Post("/v1/logout", s.handleLogout)

	r.Get("/v1/chats", s.handleListChats)
	r.Post("/v1/chats/direct", s.handleDirectChat)
	r.Delete("/v1/chats/{chatID}", s.handleDeleteChat)
	r.Post("/v1/chats/{chatID}/revive", s.handleReviveChat)
	r.Get("/v1/chats/{chatID}/messages", s.handleListMessages)
	r.Post("/v1/chats/{chatID}/messages", s.handleSendMessage)
	r.Post("/v1/chats/{chatID}/read", s.handleMarkRead)
	r.Post("/v1/chats/{chatID}/typing", s.handleTyping)
	r.Get("/v1/chats/{chatID}/presence", s.handlePresence)

	r.Patch("/v1/messages/{messageID}", s.handleEditMessage)
	r.Patch("/v1/messages/{messageID}/pin", s.handlePinMessage)
	r.Post("/v1/messages/delete-for-me", s.handleDeleteForMe)
	r.Post("/v1/messages/delete-for-everyone", s.handleDeleteForEveryone)

	r.Post("/v1/sync", s.handleSync)
	r.Get("/v1/events", s.handleEvents)

	return r
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func decodeBody(r *http.Request, v any) error {
	defer func() { _ = r.Body.Close() }()
	return json.NewDecoder(r.Body).Decode(v)
}
