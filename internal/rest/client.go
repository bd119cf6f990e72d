// Package rest is the HTTP client for the server's pull and command
// endpoints. The realtime channel handles push; everything else goes
// through here.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"courier/internal/wire"
)

// ErrUnauthorized means the session is invalid and a refresh did not fix it.
// Callers treat this as "log in again", not as a transient failure.
var ErrUnauthorized = errors.New("unauthorized")

// TokenSource supplies the bearer token and can force a refresh after a 401.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
	Refresh(ctx context.Context) error
}

// TokenPair is the server's auth response.
type TokenPair struct {
	Access  string `json:"accessToken"`
	Refresh string `json:"refreshToken"`
}

type Client struct {
	base   string
	httpc  *http.Client
	tokens TokenSource
	log    *zap.Logger
}

func NewClient(baseURL string, tokens TokenSource, log *zap.Logger) *Client {
	return &Client{
		base:   baseURL,
		httpc:  &http.Client{Timeout: 15 * time.Second},
		tokens: tokens,
		log:    log.Named("rest"),
	}
}

// Login exchanges credentials for a token pair.
func (c *Client) Login(ctx context.Context, username, password string) (TokenPair, error) {
	var pair TokenPair
	err := c.doNoAuth(ctx, http.MethodPost, "/api/auth/login",
		map[string]string{"username": username, "password": password}, &pair)
	return pair, err
}

// Register creates an account and returns the initial token pair.
func (c *Client) Register(ctx context.Context, username, password string) (TokenPair, error) {
	var pair TokenPair
	err := c.doNoAuth(ctx, http.MethodPost, "/api/auth/register",
		map[string]string{"username": username, "password": password}, &pair)
	return pair, err
}

// RefreshToken exchanges a refresh token for a new pair. This is the
// auth manager's refresher; it deliberately bypasses the bearer/retry path.
func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (string, string, error) {
	var pair TokenPair
	err := c.doNoAuth(ctx, http.MethodPost, "/api/auth/refresh",
		map[string]string{"refreshToken": refreshToken}, &pair)
	if err != nil {
		return "", "", err
	}
	return pair.Access, pair.Refresh, nil
}

// Chats fetches the full chat list for hydration.
func (c *Client) Chats(ctx context.Context) ([]wire.Chat, error) {
	var chats []wire.Chat
	err := c.do(ctx, http.MethodGet, "/api/chats", nil, nil, &chats)
	return chats, err
}

// MessagesSince pulls messages for a chat with createdAt or updatedAt after
// the given timestamp. This is the sync cycle's pull.
func (c *Client) MessagesSince(ctx context.Context, chatID string, since int64) ([]wire.Message, error) {
	q := url.Values{}
	q.Set("chatId", chatID)
	q.Set("since", strconv.FormatInt(since, 10))
	var msgs []wire.Message
	err := c.do(ctx, http.MethodGet, "/api/messages", q, nil, &msgs)
	return msgs, err
}

// ServerCursor fetches the server-side per-chat sync cursor, the fallback
// when no local cursor exists for a chat with local history.
func (c *Client) ServerCursor(ctx context.Context, chatID string) (int64, error) {
	q := url.Values{}
	q.Set("chatId", chatID)
	var out struct {
		LastSyncedAt int64 `json:"lastSyncedAt"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/sync/cursor", q, nil, &out); err != nil {
		return 0, err
	}
	return out.LastSyncedAt, nil
}

// CreateDirectChat opens (or returns the existing) direct chat with a user.
// Idempotent on the server side.
func (c *Client) CreateDirectChat(ctx context.Context, username string) (wire.Chat, error) {
	var chat wire.Chat
	err := c.do(ctx, http.MethodPost, "/api/chats/direct", nil,
		map[string]string{"username": username}, &chat)
	return chat, err
}

// EditMessage rewrites a message's text and returns the updated record.
func (c *Client) EditMessage(ctx context.Context, id, text string) (wire.Message, error) {
	var msg wire.Message
	err := c.do(ctx, http.MethodPatch, "/api/messages/"+url.PathEscape(id)+"/edit", nil,
		map[string]string{"text": text}, &msg)
	return msg, err
}

// PinMessage pins or unpins a message and returns the updated record.
func (c *Client) PinMessage(ctx context.Context, id string, pinned bool) (wire.Message, error) {
	var msg wire.Message
	err := c.do(ctx, http.MethodPatch, "/api/messages/"+url.PathEscape(id)+"/pin", nil,
		map[string]bool{"pinned": pinned}, &msg)
	return msg, err
}

// DeleteForMe hides messages for this account only.
func (c *Client) DeleteForMe(ctx context.Context, messageIDs []string) error {
	return c.do(ctx, http.MethodPost, "/api/messages/delete-for-me", nil,
		map[string][]string{"messageIds": messageIDs}, nil)
}

// DeleteForEveryone tombstones messages for all participants.
func (c *Client) DeleteForEveryone(ctx context.Context, chatID string, messageIDs []string) error {
	return c.do(ctx, http.MethodPost, "/api/messages/delete-for-everyone", nil,
		map[string]any{"chatId": chatID, "messageIds": messageIDs}, nil)
}

// do performs an authenticated request. A 401 triggers one token refresh and
// one retry; a second 401 surfaces as ErrUnauthorized.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}

	status, err := c.roundTrip(ctx, method, path, query, body, out, token)
	if err != nil {
		return err
	}
	if status != http.StatusUnauthorized {
		return nil
	}

	c.log.Debug("request unauthorized, refreshing token", zap.String("path", path))
	if err := c.tokens.Refresh(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	token, err = c.tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	status, err = c.roundTrip(ctx, method, path, query, body, out, token)
	if err != nil {
		return err
	}
	if status == http.StatusUnauthorized {
		return ErrUnauthorized
	}
	return nil
}

func (c *Client) doNoAuth(ctx context.Context, method, path string, body, out any) error {
	status, err := c.roundTrip(ctx, method, path, nil, body, out, "")
	if err != nil {
		return err
	}
	if status == http.StatusUnauthorized {
		return ErrUnauthorized
	}
	return nil
}

// roundTrip executes one request. A 401 is reported via the status return so
// the caller can decide about retrying; other non-2xx codes become errors.
func (c *Client) roundTrip(ctx context.Context, method, path string, query url.Values, body, out any, token string) (int, error) {
	u := c.base + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusUnauthorized {
		_, _ = io.Copy(io.Discard, resp.Body)
		return resp.StatusCode, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, apiError(method, path, resp)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode %s %s response: %w", method, path, err)
		}
	}
	return resp.StatusCode, nil
}

func apiError(method, path string, resp *http.Response) error {
	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	_ = json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&body)
	detail := body.Error
	if detail == "" {
		detail = body.Message
	}
	if detail == "" {
		detail = http.StatusText(resp.StatusCode)
	}
	return fmt.Errorf("%s %s: %s (status %d)", method, path, detail, resp.StatusCode)
}
