package auth

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/tanghoong/browser-extension-inkshelf/internal/events"
	"github.com/tanghoong/browser-extension-inkshelf/internal/store"
)

func openTestStore(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.InitSchema(); err != nil {
		t.Fatalf("failed to init schema: %v", err)
	}
	return db
}

func newManager(t *testing.T, baseURL string, db *store.DB, bus *events.Bus) *Manager {
	t.Helper()
	return NewManager(baseURL, db, bus, log.New(io.Discard, "", 0))
}

// unsignedJWT builds a syntactically valid JWT with the given expiry.
func unsignedJWT(t *testing.T, exp time.Time) string {
	t.Helper()
	encode := func(v any) string {
		raw, err := json.Marshal(v)
		if err != nil {
			t.Fatal(err)
		}
		return base64.RawURLEncoding.EncodeToString(raw)
	}
	header := encode(map[string]string{"alg": "none", "typ": "JWT"})
	claims := encode(map[string]any{"sub": "u-1", "exp": exp.Unix()})
	return header + "." + claims + "."
}

func authServer(t *testing.T) (*httptest.Server, *int) {
	t.Helper()
	refreshes := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/auth/login", "/api/auth/register":
			var body map[string]string
			_ = json.NewDecoder(r.Body).Decode(&body)
			if body["password"] == "wrong" {
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error":{"message":"invalid credentials"}}`))
				return
			}
			fmt.Fprintf(w, `{"data":{
				"user":{"id":"u-1","email":%q,"name":"Tester"},
				"accessToken":%q,
				"refreshToken":"refresh-1"
			}}`, body["email"], unsignedJWT(t, time.Now().Add(time.Hour)))
		case "/api/auth/refresh":
			refreshes++
			fmt.Fprintf(w, `{"data":{"accessToken":%q,"refreshToken":"refresh-2"}}`,
				unsignedJWT(t, time.Now().Add(time.Hour)))
		case "/api/auth/logout":
			w.WriteHeader(http.StatusNoContent)
		case "/api/auth/me":
			if r.Header.Get("Authorization") == "" {
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error":{"message":"missing token"}}`))
				return
			}
			_, _ = w.Write([]byte(`{"data":{"id":"u-1","email":"fresh@example.com","name":"Fresh Name"}}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &refreshes
}

func TestLoginPersistsSession(t *testing.T) {
	srv, _ := authServer(t)
	db := openTestStore(t)
	bus := events.NewBus()
	defer bus.Close()
	sub := bus.Subscribe()
	defer sub.Cancel()

	m := newManager(t, srv.URL, db, bus)
	ctx := context.Background()

	user, err := m.Login(ctx, "tester@example.com", "secret")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if user.Email != "tester@example.com" {
		t.Errorf("user = %+v", user)
	}
	if !m.IsLoggedIn() {
		t.Error("IsLoggedIn = false after login")
	}

	select {
	case ev := <-sub.Events():
		if ev.Type != events.TypeAuthChanged || !ev.LoggedIn {
			t.Errorf("event = %+v", ev)
		}
	case <-time.After(time.Second):
		t.Error("auth_changed not published")
	}

	// A fresh manager over the same store restores the session.
	restored := newManager(t, srv.URL, db, nil)
	if err := restored.Init(ctx); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if !restored.IsLoggedIn() {
		t.Error("restored manager not logged in")
	}
	if got := restored.CurrentUser(); got == nil || got.Email != "tester@example.com" {
		t.Errorf("restored user = %+v", got)
	}
}

func TestLoginRejected(t *testing.T) {
	srv, _ := authServer(t)
	db := openTestStore(t)
	m := newManager(t, srv.URL, db, nil)

	if _, err := m.Login(context.Background(), "tester@example.com", "wrong"); err == nil {
		t.Error("login with bad password succeeded")
	}
	if m.IsLoggedIn() {
		t.Error("IsLoggedIn = true after rejected login")
	}
}

func TestInitRefreshesExpiredToken(t *testing.T) {
	srv, refreshes := authServer(t)
	db := openTestStore(t)
	ctx := context.Background()

	// Seed a session whose access token is already expired.
	if err := db.SetMeta(ctx, "auth.user", `{"id":"u-1","email":"t@example.com","name":"T"}`); err != nil {
		t.Fatal(err)
	}
	if err := db.SetMeta(ctx, "auth.access_token", unsignedJWT(t, time.Now().Add(-time.Hour))); err != nil {
		t.Fatal(err)
	}
	if err := db.SetMeta(ctx, "auth.refresh_token", "refresh-1"); err != nil {
		t.Fatal(err)
	}

	m := newManager(t, srv.URL, db, nil)
	if err := m.Init(ctx); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if *refreshes != 1 {
		t.Errorf("refresh called %d times, want 1", *refreshes)
	}
	if !m.IsLoggedIn() {
		t.Error("session not valid after refresh")
	}

	// The rotated refresh token is durable.
	stored, err := db.GetMeta(ctx, "auth.refresh_token")
	if err != nil {
		t.Fatalf("GetMeta failed: %v", err)
	}
	if stored != "refresh-2" {
		t.Errorf("refresh token = %q, want refresh-2", stored)
	}
}

func TestRefreshFailureClearsSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"refresh token revoked"}}`))
	}))
	defer srv.Close()

	db := openTestStore(t)
	ctx := context.Background()

	m := newManager(t, srv.URL, db, nil)
	m.user = &User{ID: "u-1"}
	m.accessToken = unsignedJWT(t, time.Now().Add(-time.Hour))
	m.refreshToken = "refresh-1"

	err := m.Refresh(ctx)
	if !errors.Is(err, ErrSessionExpired) {
		t.Errorf("expected ErrSessionExpired, got %v", err)
	}
	if m.IsLoggedIn() {
		t.Error("session survived failed refresh")
	}
}

func TestTokenNotLoggedIn(t *testing.T) {
	db := openTestStore(t)
	m := newManager(t, "http://unused", db, nil)

	if _, err := m.Token(context.Background()); !errors.Is(err, ErrNotLoggedIn) {
		t.Errorf("expected ErrNotLoggedIn, got %v", err)
	}
}

func TestLogoutClearsState(t *testing.T) {
	srv, _ := authServer(t)
	db := openTestStore(t)
	bus := events.NewBus()
	defer bus.Close()

	m := newManager(t, srv.URL, db, bus)
	ctx := context.Background()

	if _, err := m.Login(ctx, "t@example.com", "secret"); err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	sub := bus.Subscribe()
	defer sub.Cancel()

	if err := m.Logout(ctx); err != nil {
		t.Fatalf("Logout failed: %v", err)
	}
	if m.IsLoggedIn() {
		t.Error("still logged in after logout")
	}
	if _, err := db.GetMeta(ctx, "auth.access_token"); !errors.Is(err, store.ErrNotFound) {
		t.Error("access token survived logout")
	}

	select {
	case ev := <-sub.Events():
		if ev.Type != events.TypeAuthChanged || ev.LoggedIn {
			t.Errorf("event = %+v", ev)
		}
	case <-time.After(time.Second):
		t.Error("auth_changed not published on logout")
	}
}

func TestMeRefreshesProfile(t *testing.T) {
	srv, _ := authServer(t)
	db := openTestStore(t)
	m := newManager(t, srv.URL, db, nil)
	ctx := context.Background()

	if _, err := m.Login(ctx, "stale@example.com", "secret"); err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	user, err := m.Me(ctx)
	if err != nil {
		t.Fatalf("Me failed: %v", err)
	}
	if user.Email != "fresh@example.com" || user.Name != "Fresh Name" {
		t.Errorf("user = %+v", user)
	}
	if got := m.CurrentUser(); got == nil || got.Email != "fresh@example.com" {
		t.Errorf("cached user = %+v", got)
	}

	// The refreshed profile is durable.
	stored, err := db.GetMeta(ctx, "auth.user")
	if err != nil {
		t.Fatalf("GetMeta failed: %v", err)
	}
	var persisted User
	if err := json.Unmarshal([]byte(stored), &persisted); err != nil {
		t.Fatalf("failed to decode stored user: %v", err)
	}
	if persisted.Name != "Fresh Name" {
		t.Errorf("persisted user = %+v", persisted)
	}
}

func TestTokenExpired(t *testing.T) {
	if tokenExpired(unsignedJWT(t, time.Now().Add(time.Hour))) {
		t.Error("fresh token reported expired")
	}
	if !tokenExpired(unsignedJWT(t, time.Now().Add(-time.Minute))) {
		t.Error("expired token reported fresh")
	}
	// Tokens inside the expiry skew are treated as expired.
	if !tokenExpired(unsignedJWT(t, time.Now().Add(10*time.Second))) {
		t.Error("nearly-expired token reported fresh")
	}
	// Opaque tokens pass local inspection; the server decides.
	if tokenExpired("opaque-session-token") {
		t.Error("opaque token reported expired")
	}
}
