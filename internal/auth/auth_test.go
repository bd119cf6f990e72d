package auth

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"courier/internal/store"
)

type fakeRefresher struct {
	access  string
	refresh string
	err     error
	calls   int
}

func (f *fakeRefresher) RefreshToken(_ context.Context, _ string) (string, string, error) {
	f.calls++
	return f.access, f.refresh, f.err
}

func testManager(t *testing.T, r Refresher) *Manager {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewManager(db, r, zap.NewNop())
}

func signedToken(t *testing.T, userID, username string, exp time.Time) string {
	t.Helper()
	claims := jwt.MapClaims{
		"sub":      userID,
		"username": username,
		"exp":      exp.Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatal(err)
	}
	return token
}

func TestTokenReturnsFreshToken(t *testing.T) {
	refresher := &fakeRefresher{}
	m := testManager(t, refresher)

	access := signedToken(t, "u1", "alice", time.Now().Add(time.Hour))
	if err := m.SetTokens(access, "refresh-1"); err != nil {
		t.Fatal(err)
	}

	got, err := m.Token(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if got != access {
		t.Error("fresh token should be returned unchanged")
	}
	if refresher.calls != 0 {
		t.Error("fresh token must not trigger a refresh")
	}
	if m.SelfID() != "u1" || m.Username() != "alice" {
		t.Errorf("identity = %s/%s, want u1/alice", m.SelfID(), m.Username())
	}
}

func TestTokenRefreshesExpired(t *testing.T) {
	newAccess := signedToken(t, "u1", "alice", time.Now().Add(time.Hour))
	refresher := &fakeRefresher{access: newAccess, refresh: "refresh-2"}
	m := testManager(t, refresher)

	expired := signedToken(t, "u1", "alice", time.Now().Add(-time.Minute))
	if err := m.SetTokens(expired, "refresh-1"); err != nil {
		t.Fatal(err)
	}

	got, err := m.Token(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if got != newAccess {
		t.Error("expired token should be replaced via refresh")
	}
	if refresher.calls != 1 {
		t.Errorf("refresh calls = %d, want 1", refresher.calls)
	}
}

func TestTokenLoggedOut(t *testing.T) {
	m := testManager(t, &fakeRefresher{})
	if _, err := m.Token(context.Background()); !errors.Is(err, ErrLoggedOut) {
		t.Errorf("err = %v, want ErrLoggedOut", err)
	}
}

func TestClear(t *testing.T) {
	m := testManager(t, &fakeRefresher{})
	access := signedToken(t, "u1", "alice", time.Now().Add(time.Hour))
	if err := m.SetTokens(access, "refresh-1"); err != nil {
		t.Fatal(err)
	}
	if err := m.Clear(); err != nil {
		t.Fatal(err)
	}
	if m.LoggedIn() || m.SelfID() != "" {
		t.Error("clear should remove all session material")
	}
}

func TestRefreshFailure(t *testing.T) {
	refresher := &fakeRefresher{err: errors.New("server says no")}
	m := testManager(t, refresher)

	expired := signedToken(t, "u1", "alice", time.Now().Add(-time.Minute))
	if err := m.SetTokens(expired, "refresh-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Token(context.Background()); err == nil {
		t.Error("expected refresh failure to surface")
	}
}
