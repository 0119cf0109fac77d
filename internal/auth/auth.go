// Package auth manages the InkShelf cloud session: registration, login,
// logout, and transparent refresh of the bearer credential.
//
// Tokens and the user profile persist in the store's metadata table so a
// session survives restarts. The manager implements cloud.TokenSource; the
// sync engine never touches credentials directly.
package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/tanghoong/browser-extension-inkshelf/internal/events"
	"github.com/tanghoong/browser-extension-inkshelf/internal/store"
)

// Metadata keys for persisted session state.
const (
	keyAccessToken  = "auth.access_token"
	keyRefreshToken = "auth.refresh_token"
	keyUser         = "auth.user"
)

// ErrNotLoggedIn is returned when an operation requires a session.
var ErrNotLoggedIn = errors.New("not logged in")

// ErrSessionExpired is returned when the refresh flow fails and the session
// had to be cleared.
var ErrSessionExpired = errors.New("session expired, please login again")

// User is the remote account profile.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

// Manager holds the session state for one replica.
type Manager struct {
	baseURL string
	db      *store.DB
	http    *http.Client
	bus     *events.Bus
	logger  *log.Logger

	mu           sync.Mutex
	user         *User
	accessToken  string
	refreshToken string
}

// NewManager creates a session manager. Persisted state is restored lazily
// via Init.
func NewManager(baseURL string, db *store.DB, bus *events.Bus, logger *log.Logger) *Manager {
	if logger == nil {
		logger = log.New(os.Stderr, "[auth] ", log.LstdFlags)
	}
	return &Manager{
		baseURL: baseURL,
		db:      db,
		http:    &http.Client{Timeout: 15 * time.Second},
		bus:     bus,
		logger:  logger,
	}
}

// Init restores persisted session state. A stored token that no longer
// passes the local expiry check triggers one refresh attempt; if that fails
// the session is cleared rather than left half-valid.
func (m *Manager) Init(ctx context.Context) error {
	m.mu.Lock()
	userJSON, errUser := m.db.GetMeta(ctx, keyUser)
	access, errAccess := m.db.GetMeta(ctx, keyAccessToken)
	refresh, _ := m.db.GetMeta(ctx, keyRefreshToken)

	if errors.Is(errUser, store.ErrNotFound) || errors.Is(errAccess, store.ErrNotFound) {
		m.mu.Unlock()
		return nil
	}
	if errUser != nil {
		m.mu.Unlock()
		return errUser
	}
	if errAccess != nil {
		m.mu.Unlock()
		return errAccess
	}

	var user User
	if err := json.Unmarshal([]byte(userJSON), &user); err != nil {
		m.mu.Unlock()
		return fmt.Errorf("failed to decode stored user: %w", err)
	}

	m.user = &user
	m.accessToken = access
	m.refreshToken = refresh
	expired := tokenExpired(access)
	m.mu.Unlock()

	if expired {
		if err := m.Refresh(ctx); err != nil {
			m.logger.Printf("stored session no longer valid: %v", err)
			return m.clear(ctx)
		}
	}
	return nil
}

// IsLoggedIn reports whether a session with an unexpired access token exists.
func (m *Manager) IsLoggedIn() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.user != nil && m.accessToken != "" && !tokenExpired(m.accessToken)
}

// CurrentUser returns the logged-in user, or nil.
func (m *Manager) CurrentUser() *User {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.user == nil {
		return nil
	}
	u := *m.user
	return &u
}

// Token implements cloud.TokenSource.
func (m *Manager) Token(ctx context.Context) (string, error) {
	m.mu.Lock()
	token := m.accessToken
	m.mu.Unlock()

	if token == "" {
		return "", ErrNotLoggedIn
	}
	if tokenExpired(token) {
		if err := m.Refresh(ctx); err != nil {
			return "", err
		}
		m.mu.Lock()
		token = m.accessToken
		m.mu.Unlock()
	}
	return token, nil
}

// Refresh implements cloud.TokenSource: rotate both tokens using the stored
// refresh token. On failure the session is cleared.
func (m *Manager) Refresh(ctx context.Context) error {
	m.mu.Lock()
	refresh := m.refreshToken
	m.mu.Unlock()

	if refresh == "" {
		return ErrNotLoggedIn
	}

	var result struct {
		AccessToken  string `json:"accessToken"`
		RefreshToken string `json:"refreshToken"`
	}
	err := m.post(ctx, "/api/auth/refresh", map[string]string{"refreshToken": refresh}, &result)
	if err != nil {
		if clearErr := m.clear(ctx); clearErr != nil {
			m.logger.Printf("failed to clear session after refresh failure: %v", clearErr)
		}
		return fmt.Errorf("%w: %v", ErrSessionExpired, err)
	}

	m.mu.Lock()
	m.accessToken = result.AccessToken
	m.refreshToken = result.RefreshToken
	m.mu.Unlock()

	if err := m.db.SetMeta(ctx, keyAccessToken, result.AccessToken); err != nil {
		return err
	}
	return m.db.SetMeta(ctx, keyRefreshToken, result.RefreshToken)
}

// Me fetches the account profile from the server and refreshes the stored
// user record.
func (m *Manager) Me(ctx context.Context) (*User, error) {
	token, err := m.Token(ctx)
	if err != nil {
		return nil, err
	}

	var user User
	if err := m.get(ctx, "/api/auth/me", token, &user); err != nil {
		return nil, fmt.Errorf("failed to fetch profile: %w", err)
	}

	m.mu.Lock()
	m.user = &user
	m.mu.Unlock()

	if err := m.db.SetMeta(ctx, keyUser, string(mustJSON(user))); err != nil {
		return nil, err
	}
	return &user, nil
}

// Register creates a new remote account and starts a session.
func (m *Manager) Register(ctx context.Context, email, password, name string) (*User, error) {
	return m.authenticate(ctx, "/api/auth/register",
		map[string]string{"email": email, "password": password, "name": name})
}

// Login starts a session with an existing account.
func (m *Manager) Login(ctx context.Context, email, password string) (*User, error) {
	return m.authenticate(ctx, "/api/auth/login",
		map[string]string{"email": email, "password": password})
}

// Logout revokes the refresh token remotely (best effort) and clears local
// session state. Queue state is retained for the next login.
func (m *Manager) Logout(ctx context.Context) error {
	m.mu.Lock()
	access, refresh := m.accessToken, m.refreshToken
	m.mu.Unlock()

	if access != "" && refresh != "" {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			m.baseURL+"/api/auth/logout",
			bytes.NewReader(mustJSON(map[string]string{"refreshToken": refresh})))
		if err == nil {
			req.Header.Set("Authorization", "Bearer "+access)
			req.Header.Set("Content-Type", "application/json")
			if resp, err := m.http.Do(req); err != nil {
				m.logger.Printf("remote logout failed: %v", err)
			} else {
				_ = resp.Body.Close()
			}
		}
	}

	return m.clear(ctx)
}

func (m *Manager) authenticate(ctx context.Context, path string, body map[string]string) (*User, error) {
	var result struct {
		User         User   `json:"user"`
		AccessToken  string `json:"accessToken"`
		RefreshToken string `json:"refreshToken"`
	}
	if err := m.post(ctx, path, body, &result); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.user = &result.User
	m.accessToken = result.AccessToken
	m.refreshToken = result.RefreshToken
	m.mu.Unlock()

	userJSON, err := json.Marshal(result.User)
	if err != nil {
		return nil, fmt.Errorf("failed to encode user: %w", err)
	}
	if err := m.db.SetMeta(ctx, keyUser, string(userJSON)); err != nil {
		return nil, err
	}
	if err := m.db.SetMeta(ctx, keyAccessToken, result.AccessToken); err != nil {
		return nil, err
	}
	if err := m.db.SetMeta(ctx, keyRefreshToken, result.RefreshToken); err != nil {
		return nil, err
	}

	if m.bus != nil {
		m.bus.Publish(events.Event{Type: events.TypeAuthChanged, LoggedIn: true})
	}
	return &result.User, nil
}

func (m *Manager) clear(ctx context.Context) error {
	m.mu.Lock()
	m.user = nil
	m.accessToken = ""
	m.refreshToken = ""
	m.mu.Unlock()

	for _, key := range []string{keyUser, keyAccessToken, keyRefreshToken} {
		if err := m.db.DeleteMeta(ctx, key); err != nil {
			return err
		}
	}

	if m.bus != nil {
		m.bus.Publish(events.Event{Type: events.TypeAuthChanged, LoggedIn: false})
	}
	return nil
}

func (m *Manager) post(ctx context.Context, path string, body any, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		m.baseURL+path, bytes.NewReader(mustJSON(body)))
	if err != nil {
		return fmt.Errorf("failed to build auth request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return m.do(req, out)
}

func (m *Manager) get(ctx context.Context, path, token string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to build auth request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return m.do(req, out)
}

func (m *Manager) do(req *http.Request, out any) error {
	resp, err := m.http.Do(req)
	if err != nil {
		return fmt.Errorf("auth request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read auth response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var envelope struct {
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		_ = json.Unmarshal(raw, &envelope)
		if envelope.Error.Message != "" {
			return fmt.Errorf("auth rejected: %s", envelope.Error.Message)
		}
		return fmt.Errorf("auth rejected with status %d", resp.StatusCode)
	}

	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return fmt.Errorf("failed to decode auth response: %w", err)
	}
	inner := envelope.Data
	if len(inner) == 0 {
		inner = raw
	}
	if err := json.Unmarshal(inner, out); err != nil {
		return fmt.Errorf("failed to decode auth payload: %w", err)
	}
	return nil
}

// tokenExpired inspects the JWT exp claim locally, without verifying the
// signature (the server remains the authority; this only avoids sending
// requests with a credential that is already known to be stale).
func tokenExpired(token string) bool {
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		// Opaque tokens are passed through; the server will reject them
		// with a 401 if invalid.
		return false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return time.Until(exp.Time) < 30*time.Second
}

func mustJSON(v any) []byte {
	raw, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("failed to marshal %T: %v", v, err))
	}
	return raw
}
