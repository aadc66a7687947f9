package bots

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ashureev/botdash/internal/connection"
	"github.com/ashureev/botdash/internal/connection/connectiontest"
	"github.com/ashureev/botdash/internal/domain"
	"github.com/ashureev/botdash/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const otherToken = "OTg3NjU0MzIxMDk4NzY1NDMyMQ.HxYzWv.zyxwvutsrqponmlkjihgfedcba9876543210ZY"

var (
	alice = &domain.User{ID: "alice-id", Username: "alice"}
	bob   = &domain.User{ID: "bob-id", Username: "bob"}
)

type fixture struct {
	repo  store.Repository
	fake  *connectiontest.Connector
	conns *connection.Manager
	reg   *Registry
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()

	repo := store.NewJSON(t.TempDir())
	fake := connectiontest.New(map[string]string{
		goodToken:  "Helper#0001",
		otherToken: "Other#0002",
	})
	conns := connection.NewManager(fake)
	reg := NewRegistry(repo, conns, opts)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		reg.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		reg.Close()
		conns.Close()
	})

	return &fixture{repo: repo, fake: fake, conns: conns, reg: reg}
}

func (f *fixture) seed(t *testing.T, bot *domain.Bot) {
	t.Helper()
	require.NoError(t, f.repo.CreateBot(context.Background(), bot))
}

func (f *fixture) stored(t *testing.T, id string) *domain.Bot {
	t.Helper()
	bot, err := f.repo.GetBot(context.Background(), id)
	require.NoError(t, err)
	return bot
}

func TestCreate(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	bot, err := f.reg.Create(ctx, alice, "  "+goodToken+"  ", "")
	require.NoError(t, err)
	require.NotNil(t, bot)

	assert.Equal(t, "Helper#0001", bot.Name, "name defaults to tag")
	require.NotNil(t, bot.OwnerID)
	assert.Equal(t, alice.ID, *bot.OwnerID)
	assert.False(t, bot.Online)

	stored := f.stored(t, bot.ID)
	require.NotNil(t, stored)
	assert.Equal(t, goodToken, stored.Token)
	assert.Equal(t, "Helper#0001", stored.UserTag)

	require.Eventually(t, func() bool {
		b := f.stored(t, bot.ID)
		return b != nil && b.Online
	}, 2*time.Second, 10*time.Millisecond, "background connect should mark bot online")
	assert.True(t, f.conns.IsConnected(bot.ID))
}

func TestCreateKeepsGivenName(t *testing.T) {
	f := newFixture(t, Options{})

	bot, err := f.reg.Create(context.Background(), alice, goodToken, "  Helper  ")
	require.NoError(t, err)
	assert.Equal(t, "Helper", bot.Name)
}

func TestCreateErrors(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	_, err := f.reg.Create(ctx, nil, goodToken, "")
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	_, err = f.reg.Create(ctx, alice, "short", "")
	assert.ErrorIs(t, err, domain.ErrValidation)

	rejected := "UmVqZWN0ZWRUb2tlbkZvclRlc3Q.AbCdEf.0000000000000000000000000000000000000"
	_, err = f.reg.Create(ctx, alice, rejected, "")
	assert.ErrorIs(t, err, domain.ErrInvalidCredential)
	assert.Contains(t, err.Error(), "token validation failed")

	bots, err := f.repo.ListBots(ctx)
	require.NoError(t, err)
	assert.Empty(t, bots, "failed creates must not persist anything")
}

func TestCreateTimesOut(t *testing.T) {
	f := newFixture(t, Options{TrialTimeout: 50 * time.Millisecond})
	f.fake.Block = make(chan struct{})

	_, err := f.reg.Create(context.Background(), alice, goodToken, "")
	assert.ErrorIs(t, err, domain.ErrTimeout)

	bots, err := f.repo.ListBots(context.Background())
	require.NoError(t, err)
	assert.Empty(t, bots)
}

func TestOwnershipChecks(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	f.seed(t, &domain.Bot{ID: "b1", Name: "Helper", Token: goodToken, OwnerID: alice.ID})
	f.seed(t, &domain.Bot{ID: "legacy", Name: LegacyBotName, Token: otherToken})

	ops := map[string]func(id string, caller *domain.User) error{
		"start": func(id string, caller *domain.User) error {
			_, err := f.reg.Start(ctx, id, caller)
			return err
		},
		"stop":   func(id string, caller *domain.User) error { return f.reg.Stop(ctx, id, caller) },
		"delete": func(id string, caller *domain.User) error { return f.reg.Delete(ctx, id, caller) },
	}

	for name, op := range ops {
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, op("missing", alice), domain.ErrNotFound)
			assert.ErrorIs(t, op("missing", nil), domain.ErrNotFound, "existence is checked first")
			assert.ErrorIs(t, op("b1", nil), domain.ErrUnauthorized)
			assert.ErrorIs(t, op("b1", bob), domain.ErrForbidden)
			assert.ErrorIs(t, op("legacy", alice), domain.ErrForbidden, "unowned bots belong to nobody")
		})
	}

	assert.NotNil(t, f.stored(t, "b1"), "rejected delete must keep the bot")
	assert.Zero(t, f.fake.Calls(), "rejected operations must not connect")
}

func TestStartAndStop(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	f.seed(t, &domain.Bot{ID: "b1", Name: "Helper", Token: goodToken, OwnerID: alice.ID})

	online, err := f.reg.Start(ctx, "b1", alice)
	require.NoError(t, err)
	assert.True(t, online)
	assert.True(t, f.conns.IsConnected("b1"))

	stored := f.stored(t, "b1")
	assert.True(t, stored.Online)
	assert.Equal(t, "Helper#0001", stored.UserTag)

	online, err = f.reg.Start(ctx, "b1", alice)
	require.NoError(t, err)
	assert.True(t, online)
	assert.Equal(t, 1, f.fake.Calls(), "starting an online bot must not log in again")

	require.NoError(t, f.reg.Stop(ctx, "b1", alice))
	assert.False(t, f.conns.IsConnected("b1"))
	assert.False(t, f.stored(t, "b1").Online)
	require.Len(t, f.fake.Conns(), 1)
	assert.True(t, f.fake.Conns()[0].Closed())

	require.NoError(t, f.reg.Stop(ctx, "b1", alice), "stopping an offline bot is not an error")
}

func TestStartFailureReportsOffline(t *testing.T) {
	f := newFixture(t, Options{})
	f.seed(t, &domain.Bot{ID: "b1", Name: "Broken", Token: "revoked", OwnerID: alice.ID, Online: true})

	online, err := f.reg.Start(context.Background(), "b1", alice)
	require.NoError(t, err)
	assert.False(t, online)
	assert.False(t, f.stored(t, "b1").Online)
}

func TestDelete(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	f.seed(t, &domain.Bot{ID: "b1", Name: "Helper", Token: goodToken, OwnerID: alice.ID})

	_, err := f.reg.Start(ctx, "b1", alice)
	require.NoError(t, err)

	require.NoError(t, f.reg.Delete(ctx, "b1", alice))
	assert.Nil(t, f.stored(t, "b1"))
	assert.False(t, f.conns.IsConnected("b1"))

	assert.ErrorIs(t, f.reg.Delete(ctx, "b1", alice), domain.ErrNotFound)
}

func TestRemoteDropMarksOffline(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	f.seed(t, &domain.Bot{ID: "b1", Name: "Helper", Token: goodToken, OwnerID: alice.ID})

	online, err := f.reg.Start(ctx, "b1", alice)
	require.NoError(t, err)
	require.True(t, online)

	conns := f.fake.Conns()
	require.Len(t, conns, 1)
	conns[0].Drop(errors.New("gateway went away"))

	require.Eventually(t, func() bool {
		return !f.stored(t, "b1").Online
	}, 2*time.Second, 10*time.Millisecond)
}

func TestListAndStatus(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	st, err := f.reg.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, Status{}, st)

	f.seed(t, &domain.Bot{ID: "b1", Name: "One", Token: goodToken, OwnerID: alice.ID, Online: true})
	f.seed(t, &domain.Bot{ID: "b2", Name: "Two", Token: otherToken})

	st, err = f.reg.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, Status{HasToken: true, OnlineCount: 1}, st)

	list, err := f.reg.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "b1", list[0].ID)
	assert.Equal(t, "b2", list[1].ID)
	assert.Nil(t, list[1].OwnerID)
}

func TestRestore(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	f.seed(t, &domain.Bot{ID: "b1", Name: "One", Token: goodToken, OwnerID: alice.ID, Online: true})
	f.seed(t, &domain.Bot{ID: "b2", Name: "Revoked", Token: "revoked", Online: true})
	f.seed(t, &domain.Bot{ID: "b3", Name: "Empty", Online: true})

	started, err := f.reg.Restore(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, started)

	assert.False(t, f.stored(t, "b3").Online, "bots without a token stay offline")

	require.Eventually(t, func() bool {
		return f.stored(t, "b1").Online
	}, 2*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		return f.fake.Calls() == 2
	}, 2*time.Second, 10*time.Millisecond)
	assert.False(t, f.stored(t, "b2").Online)
}

func TestMigrateLegacyToken(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	added, err := f.reg.MigrateLegacyToken(ctx, "   ")
	require.NoError(t, err)
	assert.False(t, added)

	added, err = f.reg.MigrateLegacyToken(ctx, goodToken)
	require.NoError(t, err)
	assert.True(t, added)

	bots, err := f.repo.ListBots(ctx)
	require.NoError(t, err)
	require.Len(t, bots, 1)
	assert.Equal(t, LegacyBotName, bots[0].Name)
	assert.Empty(t, bots[0].OwnerID)

	require.Eventually(t, func() bool {
		return f.conns.IsConnected(bots[0].ID)
	}, 2*time.Second, 10*time.Millisecond)

	added, err = f.reg.MigrateLegacyToken(ctx, goodToken)
	require.NoError(t, err)
	assert.False(t, added, "same token is a no-op")
}

func TestMigrateLegacyTokenSkipsOwnedRegistry(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	f.seed(t, &domain.Bot{ID: "b1", Name: "Helper", Token: goodToken, OwnerID: alice.ID})

	added, err := f.reg.MigrateLegacyToken(ctx, otherToken)
	require.NoError(t, err)
	assert.False(t, added)

	bots, err := f.repo.ListBots(ctx)
	require.NoError(t, err)
	assert.Len(t, bots, 1)
}

func TestSaveLegacyTokenReplacesToken(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	f.seed(t, &domain.Bot{ID: "b1", Name: "Helper", Token: goodToken, OwnerID: alice.ID})

	token, tag, err := f.reg.CheckToken(ctx, goodToken)
	require.NoError(t, err)
	require.NoError(t, f.reg.SaveLegacyToken(ctx, token, tag))

	bots, err := f.repo.ListBots(ctx)
	require.NoError(t, err)
	require.Len(t, bots, 2, "explicit save adds a legacy bot next to owned ones")
	legacy := bots[1]
	assert.Equal(t, LegacyBotName, legacy.Name)
	assert.Equal(t, "Helper#0001", legacy.UserTag)

	require.Eventually(t, func() bool {
		return f.conns.IsConnected(legacy.ID)
	}, 2*time.Second, 10*time.Millisecond)
	first := f.fake.Conns()
	require.NotEmpty(t, first)

	token, tag, err = f.reg.CheckToken(ctx, otherToken)
	require.NoError(t, err)
	require.NoError(t, f.reg.SaveLegacyToken(ctx, token, tag))

	stored := f.stored(t, legacy.ID)
	assert.Equal(t, otherToken, stored.Token)
	assert.Equal(t, "Other#0002", stored.UserTag)

	require.Eventually(t, func() bool {
		b := f.stored(t, legacy.ID)
		return f.conns.IsConnected(legacy.ID) && b.Online
	}, 2*time.Second, 10*time.Millisecond, "legacy bot reconnects with the new token")

	for _, c := range f.fake.Conns() {
		if c.Tag() == "Helper#0001" {
			assert.True(t, c.Closed(), "old legacy connection must be closed")
		}
	}

	bots, err = f.repo.ListBots(ctx)
	require.NoError(t, err)
	assert.Len(t, bots, 2, "replacing never duplicates the legacy bot")
}

func TestCheckTokenRejectsBadLogin(t *testing.T) {
	f := newFixture(t, Options{})

	rejected := "UmVqZWN0ZWRUb2tlbkZvclRlc3Q.AbCdEf.0000000000000000000000000000000000000"
	_, _, err := f.reg.CheckToken(context.Background(), rejected)
	assert.ErrorIs(t, err, domain.ErrInvalidCredential)

	_, _, err = f.reg.CheckToken(context.Background(), "short")
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestStopCancelsBackgroundConnect(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	f.seed(t, &domain.Bot{ID: "b1", Name: "Helper", Token: goodToken, OwnerID: alice.ID})

	f.fake.Block = make(chan struct{})
	f.fake.IgnoreCancel = true

	_, err := f.reg.Restore(ctx)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return f.fake.Calls() == 1
	}, 2*time.Second, 5*time.Millisecond, "background connect should be in flight")

	require.NoError(t, f.reg.Stop(ctx, "b1", alice))
	close(f.fake.Block)

	assert.Never(t, func() bool {
		return f.conns.IsConnected("b1") || f.stored(t, "b1").Online
	}, 200*time.Millisecond, 10*time.Millisecond, "stopped bot must stay offline")

	require.Len(t, f.fake.Conns(), 1)
	assert.True(t, f.fake.Conns()[0].Closed())
}

func TestRestoreKeepsLiveConnectionsOnline(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	added, err := f.reg.MigrateLegacyToken(ctx, goodToken)
	require.NoError(t, err)
	require.True(t, added)

	bots, err := f.repo.ListBots(ctx)
	require.NoError(t, err)
	id := bots[0].ID
	require.Eventually(t, func() bool {
		return f.stored(t, id).Online
	}, 2*time.Second, 10*time.Millisecond)

	_, err = f.reg.Restore(ctx)
	require.NoError(t, err)

	assert.True(t, f.stored(t, id).Online, "restore must not mark a live bot offline")
	assert.Never(t, func() bool {
		return !f.stored(t, id).Online
	}, 100*time.Millisecond, 10*time.Millisecond)
}
