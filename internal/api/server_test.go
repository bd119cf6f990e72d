package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
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

// fakeRemote imitates the chat server's REST surface.
func fakeRemote(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()

	mux.HandleFunc("/api/auth/login", func(w http.ResponseWriter, r *http.Request) {
		claims := jwt.MapClaims{"sub": "u-self", "username": "alice", "exp": time.Now().Add(time.Hour).Unix()}
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
		if err != nil {
			t.Fatal(err)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"accessToken": token, "refreshToken": "r1"})
	})
	mux.HandleFunc("/api/chats", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[{"id":"c1","participants":[{"id":"u-self","username":"alice"},{"id":"u2","username":"bob"}],
			"lastMessage":{"id":"m1","chatId":"c1","senderId":"u2","text":"hello","createdAt":1000},"updatedAt":1000}]`))
	})
	mux.HandleFunc("/api/messages", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[{"id":"m2","chatId":"c1","senderId":"u2","text":"pulled","createdAt":2000}]`))
	})
	mux.HandleFunc("/api/sync/cursor", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]int64{"lastSyncedAt": 0})
	})
	mux.HandleFunc("/api/messages/delete-for-everyone", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]bool{"ok": true})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func testServer(t *testing.T) (http.Handler, *store.DB, *sync.Engine) {
	t.Helper()
	remote := fakeRemote(t)

	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	log := zap.NewNop()
	b := bus.New()
	proj := projection.New()
	manager := auth.NewManager(db, nil, log)
	client := rest.NewClient(remote.URL, manager, log)
	manager.SetRefresher(client)

	engine := sync.NewEngine(db, proj, b, manager, log)
	cursors := sync.NewCursorManager(db, client, log)
	adapter := rt.New(remote.URL, manager, b, time.Second, log)
	puller := sync.NewPuller(db, engine, cursors, client, adapter, b, time.Minute, log)
	flusher := outbox.New(db, engine, adapter, b, log)

	srv := NewServer(Deps{
		DB:         db,
		Projection: proj,
		Engine:     engine,
		Puller:     puller,
		Flusher:    flusher,
		Rest:       client,
		Auth:       manager,
		Presence:   presence.NewTracker(b),
		Machine:    status.NewMachine(b, log),
		RT:         adapter,
		Bus:        b,
		Log:        log,
	})
	return srv.Router(), db, engine
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestLoginAndStatus(t *testing.T) {
	h, _, _ := testServer(t)

	rec := doJSON(t, h, http.MethodPost, "/v1/login", map[string]string{"username": "alice", "password": "pw"})
	if rec.Code != http.StatusOK {
		t.Fatalf("login code = %d body = %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, h, http.MethodGet, "/v1/status", nil)
	var st statusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		t.Fatal(err)
	}
	if !st.LoggedIn || st.UserID != "u-self" || st.Username != "alice" {
		t.Errorf("status = %+v", st)
	}
}

func TestSendMessageQueuesOptimistically(t *testing.T) {
	h, db, _ := testServer(t)
	mustLogin(t, h)

	rec := doJSON(t, h, http.MethodPost, "/v1/chats/c1/messages", map[string]string{"text": "hi there"})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("code = %d body = %s", rec.Code, rec.Body.String())
	}

	var m store.Message
	if err := json.Unmarshal(rec.Body.Bytes(), &m); err != nil {
		t.Fatal(err)
	}
	if m.Status != store.StatusQueued || m.ClientID == "" || m.ID != m.ClientID {
		t.Errorf("optimistic message = %+v", m)
	}

	queue, _ := db.QueuedMessages()
	if len(queue) != 1 {
		t.Errorf("queue = %d, want 1", len(queue))
	}
}

func TestSyncPullsFromRemote(t *testing.T) {
	h, db, _ := testServer(t)
	mustLogin(t, h)

	rec := doJSON(t, h, http.MethodPost, "/v1/sync", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d body = %s", rec.Code, rec.Body.String())
	}

	if c, _ := db.GetChat("c1"); c == nil {
		t.Error("chat not hydrated")
	}
	if m, _ := db.GetMessage("m2"); m == nil {
		t.Error("message not pulled")
	}
}

func TestDeleteChatForMe(t *testing.T) {
	h, db, _ := testServer(t)
	mustLogin(t, h)
	doJSON(t, h, http.MethodPost, "/v1/sync", nil)

	rec := doJSON(t, h, http.MethodDelete, "/v1/chats/c1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}

	if c, _ := db.GetChat("c1"); c != nil {
		t.Error("chat row should be gone")
	}
	ok, _ := db.IsChatTombstoned("c1")
	if !ok {
		t.Error("tombstone missing")
	}

	// A sync must not resurrect the chat.
	doJSON(t, h, http.MethodPost, "/v1/sync", nil)
	if c, _ := db.GetChat("c1"); c != nil {
		t.Error("tombstoned chat resurrected by sync")
	}

	// Revive, then sync brings it back.
	doJSON(t, h, http.MethodPost, "/v1/chats/c1/revive", nil)
	doJSON(t, h, http.MethodPost, "/v1/sync", nil)
	if c, _ := db.GetChat("c1"); c == nil {
		t.Error("revived chat should hydrate again")
	}
}

func TestDeleteForEveryoneTombstonesLocally(t *testing.T) {
	h, db, _ := testServer(t)
	mustLogin(t, h)
	doJSON(t, h, http.MethodPost, "/v1/sync", nil)

	rec := doJSON(t, h, http.MethodPost, "/v1/messages/delete-for-everyone",
		map[string]any{"chatId": "c1", "messageIds": []string{"m2"}})
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d body = %s", rec.Code, rec.Body.String())
	}

	m, _ := db.GetMessage("m2")
	if m == nil || !m.Deleted || m.Text != "" {
		t.Errorf("got %+v, want local tombstone", m)
	}
}

func TestLogoutResetsProjection(t *testing.T) {
	h, _, _ := testServer(t)
	mustLogin(t, h)
	doJSON(t, h, http.MethodPost, "/v1/sync", nil)

	rec := doJSON(t, h, http.MethodPost, "/v1/logout", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}

	rec = doJSON(t, h, http.MethodGet, "/v1/chats", nil)
	var chats []store.Chat
	if err := json.Unmarshal(rec.Body.Bytes(), &chats); err != nil {
		t.Fatal(err)
	}
	if len(chats) != 0 {
		t.Errorf("chats = %+v, want empty after logout", chats)
	}

	rec = doJSON(t, h, http.MethodGet, "/v1/status", nil)
	var st statusResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &st)
	if st.LoggedIn {
		t.Error("still logged in after logout")
	}
}

func TestSendMessageValidation(t *testing.T) {
	h, _, _ := testServer(t)
	rec := doJSON(t, h, http.MethodPost, "/v1/chats/c1/messages", map[string]string{})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("code = %d, want 400 for empty text", rec.Code)
	}
}

func mustLogin(t *testing.T, h http.Handler) {
	t.Helper()
	rec := doJSON(t, h, http.MethodPost, "/v1/login", map[string]string{"username": "alice", "password": "pw"})
	if rec.Code != http.StatusOK {
		t.Fatalf("login failed: %d %s", rec.Code, rec.Body.String())
	}
}
