// Package debrid keeps the Real-Debrid access token fresh and pushes
// renewals into the availability session.
package debrid

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/mjfcit/SeerrBridge/internal/config"
	"github.com/mjfcit/SeerrBridge/internal/session"
)

const (
	tokenEndpoint = "https://api.real-debrid.com/oauth/v2/token"
	deviceGrant   = "http://oauth.net/grant_type/device/1.0"
)

// ErrNoRefreshCredentials means the client id/secret/refresh token needed to
// renew are not configured; the static access token is used as-is.
var ErrNoRefreshCredentials = errors.New("debrid: refresh credentials not configured")

// storedToken is the persisted token shape: the value plus its expiry in
// Unix milliseconds.
type storedToken struct {
	Value  string `json:"value"`
	Expiry int64  `json:"expiry"`
}

// TokenManager renews the access token before it expires. CheckAndRefresh is
// registered as a periodic job; the renewal margin equals the check interval
// so a token can never lapse between checks.
type TokenManager struct {
	cfg        config.DebridConfig
	sess       session.Session
	httpClient *http.Client
	endpoint   string
	logger     zerolog.Logger

	mu     sync.Mutex
	token  string
	expiry time.Time
}

// NewTokenManager creates a manager seeded from config and, when present,
// the persisted token file.
func NewTokenManager(cfg config.DebridConfig, sess session.Session, logger zerolog.Logger) *TokenManager {
	m := &TokenManager{
		cfg:        cfg,
		sess:       sess,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		endpoint:   tokenEndpoint,
		logger:     logger.With().Str("component", "debrid").Logger(),
		token:      cfg.AccessToken,
	}
	m.loadPersisted()
	return m
}

// Token returns the current access token.
func (m *TokenManager) Token() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token
}

// CheckAndRefresh renews the token if it expires within the check interval
// and pushes the new value into the session.
func (m *TokenManager) CheckAndRefresh(ctx context.Context) error {
	m.mu.Lock()
	margin := time.Duration(m.cfg.RefreshCheckMinutes) * time.Minute
	if margin <= 0 {
		margin = 10 * time.Minute
	}
	needsRefresh := m.expiry.IsZero() || time.Until(m.expiry) < margin
	m.mu.Unlock()

	if !needsRefresh {
		return nil
	}
	if m.cfg.ClientID == "" || m.cfg.ClientSecret == "" || m.cfg.RefreshToken == "" {
		return ErrNoRefreshCredentials
	}

	token, expiresIn, err := m.requestToken(ctx)
	if err != nil {
		return err
	}

	expiry := time.Now().Add(time.Duration(expiresIn) * time.Second)
	m.mu.Lock()
	m.token = token
	m.expiry = expiry
	m.mu.Unlock()

	if err := m.persist(token, expiry); err != nil {
		m.logger.Warn().Err(err).Msg("Failed to persist refreshed token")
	}
	if err := m.sess.RefreshCredentials(ctx, token); err != nil {
		return fmt.Errorf("failed to install refreshed token into session: %w", err)
	}

	m.logger.Info().Time("expiry", expiry).Msg("Access token refreshed")
	return nil
}

func (m *TokenManager) requestToken(ctx context.Context) (string, int64, error) {
	form := url.Values{}
	form.Set("client_id", m.cfg.ClientID)
	form.Set("client_secret", m.cfg.ClientSecret)
	form.Set("code", m.cfg.RefreshToken)
	form.Set("grant_type", deviceGrant)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", 0, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", 0, fmt.Errorf("token endpoint returned status %d", resp.StatusCode)
	}

	var payload struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", 0, fmt.Errorf("failed to decode token response: %w", err)
	}
	if payload.AccessToken == "" {
		return "", 0, errors.New("token response missing access_token")
	}
	return payload.AccessToken, payload.ExpiresIn, nil
}

func (m *TokenManager) loadPersisted() {
	if m.cfg.TokenFile == "" {
		return
	}
	data, err := os.ReadFile(m.cfg.TokenFile)
	if err != nil {
		return
	}
	var stored storedToken
	if err := json.Unmarshal(data, &stored); err != nil {
		m.logger.Warn().Err(err).Msg("Ignoring unreadable token file")
		return
	}
	if stored.Value == "" {
		return
	}
	m.token = stored.Value
	m.expiry = time.UnixMilli(stored.Expiry)
}

func (m *TokenManager) persist(token string, expiry time.Time) error {
	if m.cfg.TokenFile == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(m.cfg.TokenFile), 0o755); err != nil {
		return err
	}
	data, err := json.Marshal(storedToken{Value: token, Expiry: expiry.UnixMilli()})
	if err != nil {
		return err
	}
	return os.WriteFile(m.cfg.TokenFile, data, 0o600)
}
