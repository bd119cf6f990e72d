// Package auth keeps the session's token pair in the durable store and hands
// out a valid access token, refreshing it when it nears expiry.
package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"courier/internal/store"
)

// Meta keys for persisted session material.
const (
	keyAccessToken  = "auth_access_token"
	keyRefreshToken = "auth_refresh_token"
	keyUserID       = "auth_user_id"
	keyUsername     = "auth_username"
)

// ErrLoggedOut is returned when no session material exists.
var ErrLoggedOut = errors.New("not logged in")

// Refresher exchanges a refresh token for a new token pair.
type Refresher interface {
	RefreshToken(ctx context.Context, refreshToken string) (access, refresh string, err error)
}

// Manager owns the persisted token pair. Token() is the only way the rest of
// the daemon obtains an access token.
type Manager struct {
	mu        sync.Mutex
	db        *store.DB
	refresher Refresher
	log       *zap.Logger
}

func NewManager(db *store.DB, refresher Refresher, log *zap.Logger) *Manager {
	return &Manager{db: db, refresher: refresher, log: log.Named("auth")}
}

// SetRefresher installs the refresher after construction. The REST client
// needs the manager as its token source and the manager needs the client for
// refreshes, so one of the two is wired late.
func (m *Manager) SetRefresher(r Refresher) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refresher = r
}

// SetTokens stores a new token pair and the identity claims carried by the
// access token. Called after login and after every refresh.
func (m *Manager) SetTokens(access, refresh string) error {
	userID, username, _, err := parseClaims(access)
	if err != nil {
		return fmt.Errorf("parse access token: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for key, value := range map[string]string{
		keyAccessToken:  access,
		keyRefreshToken: refresh,
		keyUserID:       userID,
		keyUsername:     username,
	} {
		if err := m.db.SetMeta(key, value); err != nil {
			return err
		}
	}
	return nil
}

// Token returns a usable access token, refreshing first if the stored one is
// expired or about to expire.
func (m *Manager) Token(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	access, ok, err := m.db.GetMeta(keyAccessToken)
	if err != nil {
		return "", err
	}
	if !ok || access == "" {
		return "", ErrLoggedOut
	}

	_, _, exp, err := parseClaims(access)
	if err == nil && (exp.IsZero() || time.Until(exp) > 30*time.Second) {
		return access, nil
	}
	return m.refreshLocked(ctx)
}

// Refresh forces a token refresh. The rest client calls this after a 401
// before retrying the request once.
func (m *Manager) Refresh(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, err := m.refreshLocked(ctx)
	return err
}

func (m *Manager) refreshLocked(ctx context.Context) (string, error) {
	refresh, ok, err := m.db.GetMeta(keyRefreshToken)
	if err != nil {
		return "", err
	}
	if !ok || refresh == "" {
		return "", ErrLoggedOut
	}

	access, newRefresh, err := m.refresher.RefreshToken(ctx, refresh)
	if err != nil {
		m.log.Warn("token refresh failed", zap.Error(err))
		return "", fmt.Errorf("refresh token: %w", err)
	}

	userID, username, _, err := parseClaims(access)
	if err != nil {
		return "", fmt.Errorf("parse refreshed token: %w", err)
	}
	for key, value := range map[string]string{
		keyAccessToken:  access,
		keyRefreshToken: newRefresh,
		keyUserID:       userID,
		keyUsername:     username,
	} {
		if err := m.db.SetMeta(key, value); err != nil {
			return "", err
		}
	}
	m.log.Debug("access token refreshed", zap.String("user_id", userID))
	return access, nil
}

// SelfID returns the logged-in user's server id, or "" when logged out.
func (m *Manager) SelfID() string {
	id, _, _ := m.db.GetMeta(keyUserID)
	return id
}

// Username returns the logged-in user's name, or "" when logged out.
func (m *Manager) Username() string {
	name, _, _ := m.db.GetMeta(keyUsername)
	return name
}

// LoggedIn reports whether session material is present.
func (m *Manager) LoggedIn() bool {
	_, ok, _ := m.db.GetMeta(keyAccessToken)
	return ok
}

// Clear removes all session material. Called on logout and on a refresh
// failure that cannot be recovered.
func (m *Manager) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range []string{keyAccessToken, keyRefreshToken, keyUserID, keyUsername} {
		if err := m.db.DeleteMeta(key); err != nil {
			return err
		}
	}
	return nil
}

// parseClaims reads identity and expiry from a token without verifying the
// signature. Verification is the server's job; the client only needs the
// claims.
func parseClaims(token string) (userID, username string, exp time.Time, err error) {
	claims := jwt.MapClaims{}
	if _, _, err = jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return "", "", time.Time{}, err
	}
	if sub, serr := claims.GetSubject(); serr == nil {
		userID = sub
	}
	if name, ok := claims["username"].(string); ok {
		username = name
	}
	if t, terr := claims.GetExpirationTime(); terr == nil && t != nil {
		exp = t.Time
	}
	return userID, username, exp, nil
}
