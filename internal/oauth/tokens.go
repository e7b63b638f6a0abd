// Package oauth emulates the platform's OAuth token service for locally
// tested apps: it persists the current token pair and performs the single
// refresh-and-replay flow the request capability relies on.
package oauth

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"appdock/internal/storage"
)

// ErrNoTokens indicates no token pair is stored for the product.
var ErrNoTokens = errors.New("oauth: no tokens stored")

// Tokens is the persisted token pair.
type Tokens struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// Config points at the token endpoint used for refresh.
type Config struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
}

// Manager stores tokens and refreshes them on demand. Refresh is
// serialized so concurrent 401s trigger a single round trip.
type Manager struct {
	db     *storage.DB
	cfg    Config
	client *http.Client
	logger zerolog.Logger

	mu sync.Mutex
}

// NewManager creates a token manager.
func NewManager(db *storage.DB, cfg Config, logger zerolog.Logger) *Manager {
	return &Manager{
		db:     db,
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger,
	}
}

// Tokens returns the stored token pair for the product.
func (m *Manager) Tokens(product string) (Tokens, error) {
	var t Tokens
	err := m.db.QueryRow(
		"SELECT access_token, refresh_token FROM oauth_tokens WHERE product = ?",
		product,
	).Scan(&t.AccessToken, &t.RefreshToken)
	if errors.Is(err, sql.ErrNoRows) {
		return Tokens{}, ErrNoTokens
	}
	if err != nil {
		return Tokens{}, err
	}
	return t, nil
}

// Store persists the token pair for the product.
func (m *Manager) Store(product string, t Tokens) error {
	_, err := m.db.Exec(
		"INSERT OR REPLACE INTO oauth_tokens (product, access_token, refresh_token, updated_at) VALUES (?, ?, ?, ?)",
		product, t.AccessToken, t.RefreshToken, time.Now(),
	)
	return err
}

// Refresh exchanges the stored refresh token for a fresh pair and persists
// it. It returns the new access token.
func (m *Manager) Refresh(ctx context.Context, product string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cfg.TokenURL == "" {
		return "", errors.New("oauth: token endpoint not configured")
	}

	current, err := m.Tokens(product)
	if err != nil {
		return "", err
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", current.RefreshToken)
	form.Set("client_id", m.cfg.ClientID)
	form.Set("client_secret", m.cfg.ClientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("oauth: create refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := m.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("oauth: refresh request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("oauth: refresh rejected with status %d", resp.StatusCode)
	}

	var body struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("oauth: decode refresh response: %w", err)
	}

	next := Tokens{AccessToken: body.AccessToken, RefreshToken: body.RefreshToken}
	if next.RefreshToken == "" {
		next.RefreshToken = current.RefreshToken
	}
	if err := m.Store(product, next); err != nil {
		return "", fmt.Errorf("oauth: persist tokens: %w", err)
	}

	m.logger.Debug().Str("product", product).Msg("refreshed oauth tokens")
	return next.AccessToken, nil
}
