// Package session issues opaque bearer tokens and resolves them to users.
package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/botdash/internal/domain"
	"github.com/ashureev/botdash/internal/store"
)

const tokenBytes = 24

// Manager owns the token → user mapping.
type Manager struct {
	repo store.Repository
	ttl  time.Duration
	now  func() time.Time
}

// NewManager creates a session manager. A non-positive ttl disables expiry.
func NewManager(repo store.Repository, ttl time.Duration) *Manager {
	return &Manager{repo: repo, ttl: ttl, now: time.Now}
}

// TTL returns the configured session lifetime.
func (m *Manager) TTL() time.Duration {
	return m.ttl
}

func generateToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate session token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// Create issues a new token for userID.
func (m *Manager) Create(ctx context.Context, userID string) (string, error) {
	token, err := generateToken()
	if err != nil {
		return "", err
	}
	s := &domain.Session{Token: token, UserID: userID, CreatedAt: m.now()}
	if err := m.repo.CreateSession(ctx, s); err != nil {
		return "", fmt.Errorf("store session: %w", err)
	}
	return token, nil
}

// Resolve returns the user behind token, or nil when the token is unknown,
// expired, or points at a user that no longer exists.
func (m *Manager) Resolve(ctx context.Context, token string) (*domain.User, error) {
	if token == "" {
		return nil, nil
	}
	s, err := m.repo.GetSession(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if s == nil || s.Expired(m.ttl, m.now()) {
		return nil, nil
	}
	user, err := m.repo.GetUser(ctx, s.UserID)
	if err != nil {
		return nil, fmt.Errorf("load session user: %w", err)
	}
	return user, nil
}

// Destroy removes token. Unknown tokens are ignored.
func (m *Manager) Destroy(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	if err := m.repo.DeleteSession(ctx, token); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// Sweep deletes expired sessions and returns how many were removed.
func (m *Manager) Sweep(ctx context.Context) (int64, error) {
	if m.ttl <= 0 {
		return 0, nil
	}
	return m.repo.DeleteSessionsBefore(ctx, m.now().Add(-m.ttl))
}

// StartSweeper runs a background goroutine that periodically deletes expired
// sessions until ctx is cancelled.
func (m *Manager) StartSweeper(ctx context.Context, interval time.Duration) {
	if m.ttl <= 0 || interval <= 0 {
		slog.Info("Session sweeper disabled", "ttl", m.ttl, "interval", interval)
		return
	}

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		slog.Info("Session sweeper started", "interval", interval, "ttl", m.ttl)

		for {
			select {
			case <-ticker.C:
				deleted, err := m.Sweep(ctx)
				if err != nil {
					slog.Error("Session sweeper failed", "error", err)
					continue
				}
				if deleted > 0 {
					slog.Info("Session sweeper removed expired sessions", "count", deleted)
				}
			case <-ctx.Done():
				slog.Info("Session sweeper shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}
