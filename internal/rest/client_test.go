package rest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"
)

type staticTokens struct {
	token      string
	refreshed  int
	refreshErr error
}

func (s *staticTokens) Token(_ context.Context) (string, error) { return s.token, nil }

func (s *staticTokens) Refresh(_ context.Context) error {
	s.refreshed++
	if s.refreshErr != nil {
		return s.refreshErr
	}
	s.token = s.token + "-refreshed"
	return nil
}

func TestMessagesSince(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/messages" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("auth header = %q", got)
		}
		if r.URL.Query().Get("chatId") != "c1" || r.URL.Query().Get("since") != "1000" {
			t.Errorf("query = %s", r.URL.RawQuery)
		}
		_, _ = w.Write([]byte(`[{"id":"m1","chatId":"c1","senderId":"u1","text":"hi","createdAt":2000}]`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, &staticTokens{token: "tok"}, zap.NewNop())
	msgs, err := c.MessagesSince(context.Background(), "c1", 1000)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || msgs[0].ID != "m1" {
		t.Errorf("got %+v", msgs)
	}
}

func TestUnauthorizedRefreshRetry(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if r.Header.Get("Authorization") == "Bearer tok-refreshed" {
			_, _ = w.Write([]byte(`[]`))
			return
		}
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	tokens := &staticTokens{token: "tok"}
	c := NewClient(srv.URL, tokens, zap.NewNop())
	if _, err := c.Chats(context.Background()); err != nil {
		t.Fatal(err)
	}
	if tokens.refreshed != 1 {
		t.Errorf("refreshes = %d, want 1", tokens.refreshed)
	}
	if calls != 2 {
		t.Errorf("server calls = %d, want 2 (original + retry)", calls)
	}
}

func TestUnauthorizedAfterRefresh(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, &staticTokens{token: "tok"}, zap.NewNop())
	_, err := c.Chats(context.Background())
	if !errors.Is(err, ErrUnauthorized) {
		t.Errorf("err = %v, want ErrUnauthorized", err)
	}
}

func TestServerErrorMessageSurfaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "chat already exists"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, &staticTokens{token: "tok"}, zap.NewNop())
	_, err := c.CreateDirectChat(context.Background(), "bob")
	if err == nil || !strings.Contains(err.Error(), "chat already exists") {
		t.Errorf("err = %v, want server detail in message", err)
	}
}

func TestRefreshTokenBypassesAuth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "" {
			t.Error("refresh must not send a bearer token")
		}
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["refreshToken"] != "r1" {
			t.Errorf("body = %v", body)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"accessToken": "a2", "refreshToken": "r2"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, &staticTokens{token: "tok"}, zap.NewNop())
	access, refresh, err := c.RefreshToken(context.Background(), "r1")
	if err != nil {
		t.Fatal(err)
	}
	if access != "a2" || refresh != "r2" {
		t.Errorf("got %s/%s", access, refresh)
	}
}
