package oauth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"

	"appdock/internal/storage"
)

func testManager(t *testing.T, cfg Config) *Manager {
	t.Helper()

	db, err := storage.OpenMemory()
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	return NewManager(db, cfg, zerolog.Nop())
}

func TestStoreAndTokens(t *testing.T) {
	m := testManager(t, Config{})

	if _, err := m.Tokens("helpdesk"); !errors.Is(err, ErrNoTokens) {
		t.Errorf("err = %v, want ErrNoTokens", err)
	}

	pair := Tokens{AccessToken: "at-1", RefreshToken: "rt-1"}
	if err := m.Store("helpdesk", pair); err != nil {
		t.Fatalf("store: %v", err)
	}

	got, err := m.Tokens("helpdesk")
	if err != nil {
		t.Fatalf("tokens: %v", err)
	}
	if got != pair {
		t.Errorf("tokens = %+v, want %+v", got, pair)
	}

	// Products keep separate pairs.
	if _, err := m.Tokens("crm"); !errors.Is(err, ErrNoTokens) {
		t.Errorf("crm err = %v, want ErrNoTokens", err)
	}
}

func TestRefreshSwapsTokens(t *testing.T) {
	var gotGrant, gotRefresh string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		gotGrant = r.PostFormValue("grant_type")
		gotRefresh = r.PostFormValue("refresh_token")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"at-2","refresh_token":"rt-2"}`))
	}))
	defer srv.Close()

	m := testManager(t, Config{TokenURL: srv.URL, ClientID: "cid", ClientSecret: "secret"})
	_ = m.Store("helpdesk", Tokens{AccessToken: "at-1", RefreshToken: "rt-1"})

	token, err := m.Refresh(context.Background(), "helpdesk")
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if token != "at-2" {
		t.Errorf("token = %q, want at-2", token)
	}
	if gotGrant != "refresh_token" || gotRefresh != "rt-1" {
		t.Errorf("request grant=%q refresh=%q", gotGrant, gotRefresh)
	}

	stored, err := m.Tokens("helpdesk")
	if err != nil {
		t.Fatalf("tokens: %v", err)
	}
	if stored.AccessToken != "at-2" || stored.RefreshToken != "rt-2" {
		t.Errorf("stored = %+v", stored)
	}
}

func TestRefreshKeepsOldRefreshToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"at-2"}`))
	}))
	defer srv.Close()

	m := testManager(t, Config{TokenURL: srv.URL})
	_ = m.Store("helpdesk", Tokens{AccessToken: "at-1", RefreshToken: "rt-1"})

	if _, err := m.Refresh(context.Background(), "helpdesk"); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	stored, _ := m.Tokens("helpdesk")
	if stored.RefreshToken != "rt-1" {
		t.Errorf("refresh token = %q, want rt-1 preserved", stored.RefreshToken)
	}
}

func TestRefreshRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	m := testManager(t, Config{TokenURL: srv.URL})
	_ = m.Store("helpdesk", Tokens{AccessToken: "at-1", RefreshToken: "rt-1"})

	if _, err := m.Refresh(context.Background(), "helpdesk"); err == nil {
		t.Error("expected error on rejected refresh")
	}
	// The stored pair is untouched on failure.
	stored, _ := m.Tokens("helpdesk")
	if stored.AccessToken != "at-1" {
		t.Errorf("stored = %+v", stored)
	}
}

func TestRefreshWithoutEndpoint(t *testing.T) {
	m := testManager(t, Config{})
	_ = m.Store("helpdesk", Tokens{AccessToken: "a", RefreshToken: "r"})

	if _, err := m.Refresh(context.Background(), "helpdesk"); err == nil {
		t.Error("expected error with no token endpoint configured")
	}
}
