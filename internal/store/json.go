package store

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/ashureev/botdash/internal/domain"
	"github.com/ashureev/botdash/internal/jsonstore"
)

const (
	usersDoc    = "users"
	sessionsDoc = "sessions"
	botsDoc     = "bots"
)

// sessionRecord is the on-disk shape of a session entry; created is unix milliseconds.
type sessionRecord struct {
	UserID  string `json:"userId"`
	Created int64  `json:"created"`
}

// JSONStore implements Repository with three JSON documents in a data directory.
type JSONStore struct {
	docs *jsonstore.Store
}

// NewJSON creates a JSON-file-backed repository in dataDir.
func NewJSON(dataDir string) *JSONStore {
	return &JSONStore{docs: jsonstore.New(dataDir)}
}

func (s *JSONStore) users() ([]*domain.User, error) {
	return jsonstore.Load(s.docs, usersDoc, []*domain.User{})
}

// GetUser retrieves a user by id.
func (s *JSONStore) GetUser(_ context.Context, userID string) (*domain.User, error) {
	users, err := s.users()
	if err != nil {
		return nil, err
	}
	for _, u := range users {
		if u.ID == userID {
			return u, nil
		}
	}
	return nil, nil
}

// GetUserByUsername retrieves a user by exact username.
func (s *JSONStore) GetUserByUsername(_ context.Context, username string) (*domain.User, error) {
	users, err := s.users()
	if err != nil {
		return nil, err
	}
	for _, u := range users {
		if u.Username == username {
			return u, nil
		}
	}
	return nil, nil
}

// CreateUser appends a user, rejecting duplicate usernames.
func (s *JSONStore) CreateUser(_ context.Context, user *domain.User) error {
	return jsonstore.Update(s.docs, usersDoc, []*domain.User{}, func(users []*domain.User) ([]*domain.User, error) {
		for _, u := range users {
			if u.Username == user.Username {
				return nil, fmt.Errorf("%w: username %q", domain.ErrConflict, user.Username)
			}
		}
		c := *user
		return append(users, &c), nil
	})
}

// CreateSession stores a session keyed by its token.
func (s *JSONStore) CreateSession(_ context.Context, session *domain.Session) error {
	return jsonstore.Update(s.docs, sessionsDoc, map[string]sessionRecord{}, func(m map[string]sessionRecord) (map[string]sessionRecord, error) {
		if m == nil {
			m = map[string]sessionRecord{}
		}
		m[session.Token] = sessionRecord{UserID: session.UserID, Created: session.CreatedAt.UnixMilli()}
		return m, nil
	})
}

// GetSession retrieves a session by token.
func (s *JSONStore) GetSession(_ context.Context, token string) (*domain.Session, error) {
	m, err := jsonstore.Load(s.docs, sessionsDoc, map[string]sessionRecord{})
	if err != nil {
		return nil, err
	}
	rec, ok := m[token]
	if !ok {
		return nil, nil
	}
	return &domain.Session{Token: token, UserID: rec.UserID, CreatedAt: time.UnixMilli(rec.Created)}, nil
}

// DeleteSession removes a session if present.
func (s *JSONStore) DeleteSession(_ context.Context, token string) error {
	return jsonstore.Update(s.docs, sessionsDoc, map[string]sessionRecord{}, func(m map[string]sessionRecord) (map[string]sessionRecord, error) {
		delete(m, token)
		return m, nil
	})
}

// DeleteSessionsBefore removes sessions created before cutoff.
func (s *JSONStore) DeleteSessionsBefore(_ context.Context, cutoff time.Time) (int64, error) {
	var deleted int64
	err := jsonstore.Update(s.docs, sessionsDoc, map[string]sessionRecord{}, func(m map[string]sessionRecord) (map[string]sessionRecord, error) {
		limit := cutoff.UnixMilli()
		for token, rec := range m {
			if rec.Created < limit {
				delete(m, token)
				deleted++
			}
		}
		return m, nil
	})
	return deleted, err
}

// ListBots returns all bots in creation order.
func (s *JSONStore) ListBots(_ context.Context) ([]*domain.Bot, error) {
	return jsonstore.Load(s.docs, botsDoc, []*domain.Bot{})
}

// GetBot retrieves a bot by id.
func (s *JSONStore) GetBot(ctx context.Context, botID string) (*domain.Bot, error) {
	bots, err := s.ListBots(ctx)
	if err != nil {
		return nil, err
	}
	for _, b := range bots {
		if b.ID == botID {
			return b, nil
		}
	}
	return nil, nil
}

// CreateBot appends a bot.
func (s *JSONStore) CreateBot(_ context.Context, bot *domain.Bot) error {
	return jsonstore.Update(s.docs, botsDoc, []*domain.Bot{}, func(bots []*domain.Bot) ([]*domain.Bot, error) {
		return append(bots, bot.Clone()), nil
	})
}

// UpdateBot applies fn to the stored bot under the document lock.
func (s *JSONStore) UpdateBot(_ context.Context, botID string, fn func(*domain.Bot) error) (*domain.Bot, error) {
	var updated *domain.Bot
	err := jsonstore.Update(s.docs, botsDoc, []*domain.Bot{}, func(bots []*domain.Bot) ([]*domain.Bot, error) {
		for _, b := range bots {
			if b.ID != botID {
				continue
			}
			if err := fn(b); err != nil {
				return nil, err
			}
			b.ID = botID
			updated = b.Clone()
			return bots, nil
		}
		return nil, fmt.Errorf("%w: bot %s", domain.ErrNotFound, botID)
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// DeleteBot removes a bot.
func (s *JSONStore) DeleteBot(_ context.Context, botID string) error {
	return jsonstore.Update(s.docs, botsDoc, []*domain.Bot{}, func(bots []*domain.Bot) ([]*domain.Bot, error) {
		for i, b := range bots {
			if b.ID == botID {
				return append(bots[:i], bots[i+1:]...), nil
			}
		}
		return nil, fmt.Errorf("%w: bot %s", domain.ErrNotFound, botID)
	})
}

// Ping verifies the data directory is usable.
func (s *JSONStore) Ping(_ context.Context) error {
	if err := os.MkdirAll(s.docs.Dir(), 0o755); err != nil {
		return fmt.Errorf("data directory: %w", err)
	}
	return nil
}

// Close is a no-op; every operation opens and closes its own files.
func (s *JSONStore) Close() error {
	return nil
}

var _ Repository = (*JSONStore)(nil)
