// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/ashureev/botdash/internal/domain"
)

// Repository defines the interface for persisting users, sessions and bots.
//
// Lookups return (nil, nil) when the record does not exist.
type Repository interface {
	// GetUser retrieves a user by id.
	GetUser(ctx context.Context, userID string) (*domain.User, error)

	// GetUserByUsername retrieves a user by exact username.
	GetUserByUsername(ctx context.Context, username string) (*domain.User, error)

	// CreateUser inserts a user. Returns domain.ErrConflict if the username is taken.
	CreateUser(ctx context.Context, user *domain.User) error

	// CreateSession stores a session keyed by its token.
	CreateSession(ctx context.Context, session *domain.Session) error

	// GetSession retrieves a session by token.
	GetSession(ctx context.Context, token string) (*domain.Session, error)

	// DeleteSession removes a session. Deleting a missing session is not an error.
	DeleteSession(ctx context.Context, token string) error

	// DeleteSessionsBefore removes sessions created before cutoff.
	DeleteSessionsBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// ListBots returns all bots in creation order.
	ListBots(ctx context.Context) ([]*domain.Bot, error)

	// GetBot retrieves a bot by id.
	GetBot(ctx context.Context, botID string) (*domain.Bot, error)

	// CreateBot appends a bot.
	CreateBot(ctx context.Context, bot *domain.Bot) error

	// UpdateBot applies fn to the stored bot and persists the result atomically.
	// Returns domain.ErrNotFound if the bot does not exist.
	UpdateBot(ctx context.Context, botID string, fn func(*domain.Bot) error) (*domain.Bot, error)

	// DeleteBot removes a bot. Returns domain.ErrNotFound if it does not exist.
	DeleteBot(ctx context.Context, botID string) error

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}

// Driver names accepted by Open.
const (
	DriverJSON   = "json"
	DriverSQLite = "sqlite"
)
