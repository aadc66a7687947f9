package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ashureev/botdash/internal/domain"
	"github.com/ashureev/botdash/internal/shared"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db    *sql.DB
	retry shared.RetryPolicy
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// WAL for concurrent readers; immediate transactions so UpdateBot never upgrades a read lock.
	dsn := "file:" + dbPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_txlock=immediate"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db, retry: shared.DefaultRetryPolicy}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		username TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		account_type TEXT NOT NULL,
		email TEXT
	);

	CREATE TABLE IF NOT EXISTS sessions (
		token TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_created ON sessions(created_at);

	CREATE TABLE IF NOT EXISTS bots (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		token TEXT NOT NULL,
		user_tag TEXT,
		online INTEGER NOT NULL DEFAULT 0,
		owner_id TEXT
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

func (s *SQLiteStore) exec(ctx context.Context, name, query string, args ...any) (sql.Result, error) {
	var res sql.Result
	err := shared.RetryOnConflict(ctx, s.retry, name, func() error {
		var err error
		res, err = s.db.ExecContext(ctx, query, args...)
		return err
	})
	return res, err
}

const userColumns = `id, username, password_hash, account_type, email`

func scanUser(row *sql.Row) (*domain.User, error) {
	var user domain.User
	var email sql.NullString
	err := row.Scan(&user.ID, &user.Username, &user.PasswordHash, &user.AccountType, &email)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan user row: %w", err)
	}
	user.Email = email.String
	return &user, nil
}

// GetUser retrieves a user by id.
func (s *SQLiteStore) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, userID))
}

// GetUserByUsername retrieves a user by exact username.
func (s *SQLiteStore) GetUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE username = ?`, username))
}

// CreateUser inserts a user; the UNIQUE index enforces username uniqueness.
func (s *SQLiteStore) CreateUser(ctx context.Context, user *domain.User) error {
	var email any
	if user.Email != "" {
		email = user.Email
	}
	_, err := s.exec(ctx, "create_user",
		`INSERT INTO users (`+userColumns+`) VALUES (?, ?, ?, ?, ?)`,
		user.ID, user.Username, user.PasswordHash, user.AccountType, email)
	if shared.IsSQLiteUniqueError(err) {
		return fmt.Errorf("%w: username %q", domain.ErrConflict, user.Username)
	}
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// CreateSession stores a session keyed by its token.
func (s *SQLiteStore) CreateSession(ctx context.Context, session *domain.Session) error {
	_, err := s.exec(ctx, "create_session",
		`INSERT OR REPLACE INTO sessions (token, user_id, created_at) VALUES (?, ?, ?)`,
		session.Token, session.UserID, session.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// GetSession retrieves a session by token.
func (s *SQLiteStore) GetSession(ctx context.Context, token string) (*domain.Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT token, user_id, created_at FROM sessions WHERE token = ?`, token)

	var session domain.Session
	var created int64
	err := row.Scan(&session.Token, &session.UserID, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session row: %w", err)
	}
	session.CreatedAt = time.UnixMilli(created)
	return &session, nil
}

// DeleteSession removes a session if present.
func (s *SQLiteStore) DeleteSession(ctx context.Context, token string) error {
	if _, err := s.exec(ctx, "delete_session", `DELETE FROM sessions WHERE token = ?`, token); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// DeleteSessionsBefore removes sessions created before cutoff.
func (s *SQLiteStore) DeleteSessionsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.exec(ctx, "delete_sessions_before", `DELETE FROM sessions WHERE created_at < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}
	return res.RowsAffected()
}

const botColumns = `id, name, token, user_tag, online, owner_id`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBot(row rowScanner) (*domain.Bot, error) {
	var bot domain.Bot
	var userTag, ownerID sql.NullString
	if err := row.Scan(&bot.ID, &bot.Name, &bot.Token, &userTag, &bot.Online, &ownerID); err != nil {
		return nil, err
	}
	bot.UserTag = userTag.String
	bot.OwnerID = ownerID.String
	return &bot, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// ListBots returns all bots in insertion order.
func (s *SQLiteStore) ListBots(ctx context.Context) ([]*domain.Bot, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+botColumns+` FROM bots ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("query bots: %w", err)
	}
	defer func() { _ = rows.Close() }()

	bots := []*domain.Bot{}
	for rows.Next() {
		bot, err := scanBot(rows)
		if err != nil {
			return nil, fmt.Errorf("scan bot row: %w", err)
		}
		bots = append(bots, bot)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate bots: %w", err)
	}
	return bots, nil
}

// GetBot retrieves a bot by id.
func (s *SQLiteStore) GetBot(ctx context.Context, botID string) (*domain.Bot, error) {
	bot, err := scanBot(s.db.QueryRowContext(ctx, `SELECT `+botColumns+` FROM bots WHERE id = ?`, botID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan bot row: %w", err)
	}
	return bot, nil
}

// CreateBot inserts a bot.
func (s *SQLiteStore) CreateBot(ctx context.Context, bot *domain.Bot) error {
	_, err := s.exec(ctx, "create_bot",
		`INSERT INTO bots (`+botColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
		bot.ID, bot.Name, bot.Token, nullString(bot.UserTag), bot.Online, nullString(bot.OwnerID))
	if err != nil {
		return fmt.Errorf("insert bot: %w", err)
	}
	return nil
}

// UpdateBot reads, mutates and writes a bot inside one transaction.
func (s *SQLiteStore) UpdateBot(ctx context.Context, botID string, fn func(*domain.Bot) error) (*domain.Bot, error) {
	var updated *domain.Bot
	err := shared.RetryOnConflict(ctx, s.retry, "update_bot", func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		bot, err := scanBot(tx.QueryRowContext(ctx, `SELECT `+botColumns+` FROM bots WHERE id = ?`, botID))
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: bot %s", domain.ErrNotFound, botID)
		}
		if err != nil {
			return fmt.Errorf("scan bot row: %w", err)
		}
		if err := fn(bot); err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE bots SET name = ?, token = ?, user_tag = ?, online = ?, owner_id = ? WHERE id = ?`,
			bot.Name, bot.Token, nullString(bot.UserTag), bot.Online, nullString(bot.OwnerID), botID)
		if err != nil {
			return fmt.Errorf("update bot: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit: %w", err)
		}
		bot.ID = botID
		updated = bot
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// DeleteBot removes a bot.
func (s *SQLiteStore) DeleteBot(ctx context.Context, botID string) error {
	res, err := s.exec(ctx, "delete_bot", `DELETE FROM bots WHERE id = ?`, botID)
	if err != nil {
		return fmt.Errorf("delete bot: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: bot %s", domain.ErrNotFound, botID)
	}
	return nil
}

var _ Repository = (*SQLiteStore)(nil)
