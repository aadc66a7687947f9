package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/botdash/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func backends(t *testing.T) map[string]func(t *testing.T) Repository {
	t.Helper()
	return map[string]func(t *testing.T) Repository{
		DriverJSON: func(t *testing.T) Repository {
			return NewJSON(t.TempDir())
		},
		DriverSQLite: func(t *testing.T) Repository {
			s, err := NewSQLite(filepath.Join(t.TempDir(), "db", "test.db"))
			require.NoError(t, err)
			t.Cleanup(func() { _ = s.Close() })
			return s
		},
	}
}

func TestRepositoryUsers(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			repo := open(t)

			alice := &domain.User{ID: "u1", Username: "alice", PasswordHash: "s$h", AccountType: domain.AccountTypeNoEmail}
			require.NoError(t, repo.CreateUser(ctx, alice))

			dup := &domain.User{ID: "u2", Username: "alice", PasswordHash: "other", AccountType: domain.AccountTypeNoEmail}
			assert.ErrorIs(t, repo.CreateUser(ctx, dup), domain.ErrConflict)

			got, err := repo.GetUserByUsername(ctx, "alice")
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, "u1", got.ID)
			assert.Equal(t, "s$h", got.PasswordHash, "duplicate must not overwrite")

			byID, err := repo.GetUser(ctx, "u1")
			require.NoError(t, err)
			assert.Equal(t, "alice", byID.Username)

			missing, err := repo.GetUser(ctx, "nope")
			require.NoError(t, err)
			assert.Nil(t, missing)

			caseDiffers, err := repo.GetUserByUsername(ctx, "Alice")
			require.NoError(t, err)
			assert.Nil(t, caseDiffers)
		})
	}
}

func TestRepositorySessions(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			repo := open(t)
			now := time.Now()

			require.NoError(t, repo.CreateSession(ctx, &domain.Session{Token: "old", UserID: "u1", CreatedAt: now.Add(-48 * time.Hour)}))
			require.NoError(t, repo.CreateSession(ctx, &domain.Session{Token: "new", UserID: "u1", CreatedAt: now}))

			s, err := repo.GetSession(ctx, "new")
			require.NoError(t, err)
			require.NotNil(t, s)
			assert.Equal(t, "u1", s.UserID)
			assert.WithinDuration(t, now, s.CreatedAt, time.Millisecond)

			deleted, err := repo.DeleteSessionsBefore(ctx, now.Add(-24*time.Hour))
			require.NoError(t, err)
			assert.Equal(t, int64(1), deleted)

			old, err := repo.GetSession(ctx, "old")
			require.NoError(t, err)
			assert.Nil(t, old)

			require.NoError(t, repo.DeleteSession(ctx, "new"))
			require.NoError(t, repo.DeleteSession(ctx, "new"), "delete is idempotent")
			gone, err := repo.GetSession(ctx, "new")
			require.NoError(t, err)
			assert.Nil(t, gone)
		})
	}
}

func TestRepositoryBots(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			repo := open(t)

			require.NoError(t, repo.CreateBot(ctx, &domain.Bot{ID: "b1", Name: "one", Token: "t1", OwnerID: "u1"}))
			require.NoError(t, repo.CreateBot(ctx, &domain.Bot{ID: "b2", Name: "two", Token: "t2"}))

			bots, err := repo.ListBots(ctx)
			require.NoError(t, err)
			require.Len(t, bots, 2)
			assert.Equal(t, "b1", bots[0].ID)
			assert.Equal(t, "", bots[1].OwnerID)

			updated, err := repo.UpdateBot(ctx, "b1", func(b *domain.Bot) error {
				b.Online = true
				b.UserTag = "helper#0001"
				return nil
			})
			require.NoError(t, err)
			assert.True(t, updated.Online)

			got, err := repo.GetBot(ctx, "b1")
			require.NoError(t, err)
			assert.True(t, got.Online)
			assert.Equal(t, "helper#0001", got.UserTag)
			assert.Equal(t, "t1", got.Token)

			_, err = repo.UpdateBot(ctx, "missing", func(*domain.Bot) error { return nil })
			assert.ErrorIs(t, err, domain.ErrNotFound)

			require.NoError(t, repo.DeleteBot(ctx, "b1"))
			assert.ErrorIs(t, repo.DeleteBot(ctx, "b1"), domain.ErrNotFound)

			none, err := repo.GetBot(ctx, "b1")
			require.NoError(t, err)
			assert.Nil(t, none)
		})
	}
}

func TestRepositoryConcurrentBotCreation(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			repo := open(t)

			var wg sync.WaitGroup
			for _, id := range []string{"a", "b", "c", "d"} {
				wg.Add(1)
				go func(id string) {
					defer wg.Done()
					assert.NoError(t, repo.CreateBot(ctx, &domain.Bot{ID: id, Name: id, Token: "t"}))
				}(id)
			}
			wg.Wait()

			bots, err := repo.ListBots(ctx)
			require.NoError(t, err)
			assert.Len(t, bots, 4)
		})
	}
}

func TestJSONStoreReadsLegacyDocuments(t *testing.T) {
	dir := t.TempDir()
	bots := `[{"id":"b1","name":"MigratedBot","userTag":null,"token":"x.y.z","online":false,"ownerId":null}]`
	sessions := `{"abc":{"userId":"u1","created":1700000000000}}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bots.json"), []byte(bots), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sessions.json"), []byte(sessions), 0o644))

	repo := NewJSON(dir)
	ctx := context.Background()

	got, err := repo.GetBot(ctx, "b1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Empty(t, got.OwnerID)
	assert.Empty(t, got.UserTag)

	s, err := repo.GetSession(ctx, "abc")
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Equal(t, int64(1700000000000), s.CreatedAt.UnixMilli())

	require.NoError(t, repo.CreateSession(ctx, &domain.Session{Token: "def", UserID: "u2", CreatedAt: time.UnixMilli(1700000001000)}))
	raw, err := os.ReadFile(filepath.Join(dir, "sessions.json"))
	require.NoError(t, err)
	var doc map[string]map[string]any
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.Equal(t, "u2", doc["def"]["userId"])
	assert.Contains(t, doc, "abc")
}

func TestOpen(t *testing.T) {
	repo, err := Open(DriverJSON, t.TempDir(), "")
	require.NoError(t, err)
	assert.NoError(t, repo.Ping(context.Background()))

	_, err = Open("postgres", "", "")
	assert.Error(t, err)
}

func TestNewSQLiteRejectsUnusableFiles(t *testing.T) {
	dir := t.TempDir()

	_, err := NewSQLite(dir)
	assert.Error(t, err, "a directory is not a database")

	garbage := filepath.Join(dir, "garbage.db")
	require.NoError(t, os.WriteFile(garbage, []byte("this is not an sqlite database, just text padding it past the header size of one hundred bytes......"), 0o600))
	_, err = NewSQLite(garbage)
	assert.Error(t, err)

	// The failed open must not hold the file.
	require.NoError(t, os.Remove(garbage))
}
