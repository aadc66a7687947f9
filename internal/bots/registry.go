// Package bots manages the bot registry: records, ownership, and the link
// between persisted online flags and live connections.
package bots

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/botdash/internal/connection"
	"github.com/ashureev/botdash/internal/domain"
	"github.com/ashureev/botdash/internal/store"
	"github.com/google/uuid"
)

// LegacyBotName names the unowned bot created from a legacy single token.
const LegacyBotName = "MigratedBot"

const defaultTimeout = 10 * time.Second

// Options tunes a Registry.
type Options struct {
	// TrialTimeout bounds the login performed when a bot is created or started.
	TrialTimeout time.Duration
	// ConnectTimeout bounds background logins.
	ConnectTimeout time.Duration
}

// Status is the aggregate shown on the dashboard.
type Status struct {
	HasToken    bool `json:"has_token"`
	OnlineCount int  `json:"online_count"`
}

// Registry implements bot CRUD on top of a repository and a connection manager.
type Registry struct {
	repo  store.Repository
	conns *connection.Manager
	opts  Options

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRegistry creates a registry. Call Run to apply connection events and
// Close to stop background logins.
func NewRegistry(repo store.Repository, conns *connection.Manager, opts Options) *Registry {
	if opts.TrialTimeout <= 0 {
		opts.TrialTimeout = defaultTimeout
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = opts.TrialTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{repo: repo, conns: conns, opts: opts, ctx: ctx, cancel: cancel}
}

// List returns every bot without its token.
func (r *Registry) List(ctx context.Context) ([]*domain.PublicBot, error) {
	bots, err := r.repo.ListBots(ctx)
	if err != nil {
		return nil, fmt.Errorf("list bots: %w", err)
	}
	out := make([]*domain.PublicBot, 0, len(bots))
	for _, b := range bots {
		out = append(out, b.Public())
	}
	return out, nil
}

// Status reports whether any bot is registered and how many are online.
func (r *Registry) Status(ctx context.Context) (Status, error) {
	bots, err := r.repo.ListBots(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("list bots: %w", err)
	}
	st := Status{HasToken: len(bots) > 0}
	for _, b := range bots {
		if b.Online {
			st.OnlineCount++
		}
	}
	return st, nil
}

// CheckToken validates the shape of rawToken and logs in with it once,
// bounded by the trial timeout. It returns the trimmed token and account tag.
func (r *Registry) CheckToken(ctx context.Context, rawToken string) (string, string, error) {
	token, err := ValidateToken(rawToken)
	if err != nil {
		return "", "", err
	}

	trialCtx, cancel := context.WithTimeout(ctx, r.opts.TrialTimeout)
	defer cancel()

	tag, err := r.conns.Trial(trialCtx, token)
	if err != nil {
		if errors.Is(trialCtx.Err(), context.DeadlineExceeded) {
			return "", "", fmt.Errorf("%w: token validation took longer than %s", domain.ErrTimeout, r.opts.TrialTimeout)
		}
		return "", "", fmt.Errorf("%w: token validation failed: %v", domain.ErrInvalidCredential, err)
	}
	return token, tag, nil
}

// Create validates token with a trial login and registers a bot owned by owner.
// The persistent connection is started in the background.
func (r *Registry) Create(ctx context.Context, owner *domain.User, rawToken, name string) (*domain.PublicBot, error) {
	if owner == nil {
		return nil, fmt.Errorf("%w: login required", domain.ErrUnauthorized)
	}
	token, tag, err := r.CheckToken(ctx, rawToken)
	if err != nil {
		return nil, err
	}

	bot := &domain.Bot{
		ID:      uuid.NewString(),
		Name:    strings.TrimSpace(name),
		Token:   token,
		UserTag: tag,
		OwnerID: owner.ID,
	}
	if bot.Name == "" {
		bot.Name = tag
	}
	if err := r.repo.CreateBot(ctx, bot); err != nil {
		return nil, fmt.Errorf("store bot: %w", err)
	}

	slog.Info("Bot registered", "bot_id", bot.ID, "user_id", owner.ID, "tag", tag)
	r.connectAsync(bot.ID, bot.Token)
	return bot.Public(), nil
}

// authorize loads botID and checks caller owns it.
func (r *Registry) authorize(ctx context.Context, botID string, caller *domain.User) (*domain.Bot, error) {
	bot, err := r.repo.GetBot(ctx, botID)
	if err != nil {
		return nil, fmt.Errorf("load bot: %w", err)
	}
	if bot == nil {
		return nil, fmt.Errorf("%w: bot %s", domain.ErrNotFound, botID)
	}
	if caller == nil {
		return nil, fmt.Errorf("%w: login required", domain.ErrUnauthorized)
	}
	if !bot.OwnedBy(caller.ID) {
		return nil, fmt.Errorf("%w: not owner", domain.ErrForbidden)
	}
	return bot, nil
}

// Start connects an owned bot and returns whether it is online. A failed
// login is logged and reported as offline rather than as an error.
func (r *Registry) Start(ctx context.Context, botID string, caller *domain.User) (bool, error) {
	bot, err := r.authorize(ctx, botID, caller)
	if err != nil {
		return false, err
	}

	connectCtx, cancel := context.WithTimeout(ctx, r.opts.TrialTimeout)
	defer cancel()

	tag, err := r.conns.EnsureConnected(connectCtx, bot.ID, bot.Token)
	if err != nil {
		slog.Warn("Failed to start bot", "bot_id", bot.ID, "error", err)
	}

	updated, err := r.repo.UpdateBot(ctx, bot.ID, func(b *domain.Bot) error {
		b.Online = r.conns.IsConnected(b.ID)
		if tag != "" {
			b.UserTag = tag
		}
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("store bot state: %w", err)
	}
	return updated.Online, nil
}

// Stop disconnects an owned bot and marks it offline.
func (r *Registry) Stop(ctx context.Context, botID string, caller *domain.User) error {
	bot, err := r.authorize(ctx, botID, caller)
	if err != nil {
		return err
	}

	r.conns.Disconnect(bot.ID)
	if _, err := r.repo.UpdateBot(ctx, bot.ID, func(b *domain.Bot) error {
		b.Online = false
		return nil
	}); err != nil {
		return fmt.Errorf("store bot state: %w", err)
	}
	return nil
}

// Delete disconnects and removes an owned bot.
func (r *Registry) Delete(ctx context.Context, botID string, caller *domain.User) error {
	bot, err := r.authorize(ctx, botID, caller)
	if err != nil {
		return err
	}

	r.conns.Disconnect(bot.ID)
	if err := r.repo.DeleteBot(ctx, bot.ID); err != nil {
		return fmt.Errorf("delete bot: %w", err)
	}
	slog.Info("Bot deleted", "bot_id", bot.ID, "user_id", caller.ID)
	return nil
}

// connectAsync starts a persistent connection without waiting for it.
// The outcome reaches the store through Run.
func (r *Registry) connectAsync(botID, token string) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ctx, cancel := context.WithTimeout(r.ctx, r.opts.ConnectTimeout)
		defer cancel()
		_, err := r.conns.EnsureConnected(ctx, botID, token)
		switch {
		case errors.Is(err, connection.ErrCanceled):
			slog.Info("Background bot connect canceled", "bot_id", botID)
		case err != nil:
			slog.Warn("Background bot connect failed", "bot_id", botID, "error", err)
		}
	}()
}

// Run applies connection events to the store until ctx is cancelled. It is
// the only writer driven by asynchronous connection changes; the online flag
// it writes is always read back from the connection manager.
func (r *Registry) Run(ctx context.Context) {
	slog.Info("Bot event reconciler started")
	for {
		select {
		case ev := <-r.conns.Events():
			r.apply(ctx, ev)
		case <-ctx.Done():
			slog.Info("Bot event reconciler shutting down", "reason", ctx.Err())
			return
		}
	}
}

func (r *Registry) apply(ctx context.Context, ev connection.Event) {
	_, err := r.repo.UpdateBot(ctx, ev.BotID, func(b *domain.Bot) error {
		b.Online = r.conns.IsConnected(b.ID)
		if ev.Tag != "" {
			b.UserTag = ev.Tag
		}
		return nil
	})
	if errors.Is(err, domain.ErrNotFound) {
		// Deleted while the login was in flight.
		r.conns.Disconnect(ev.BotID)
		return
	}
	if err != nil {
		slog.Error("Failed to apply bot event", "bot_id", ev.BotID, "event", ev.Kind.String(), "error", err)
	}
}

// Restore replays persisted bots after a restart: every bot without a live
// connection is marked offline and each one with a token is reconnected in
// the background.
func (r *Registry) Restore(ctx context.Context) (int, error) {
	bots, err := r.repo.ListBots(ctx)
	if err != nil {
		return 0, fmt.Errorf("list bots: %w", err)
	}

	started := 0
	for _, b := range bots {
		if b.Online {
			if _, err := r.repo.UpdateBot(ctx, b.ID, func(b *domain.Bot) error {
				b.Online = r.conns.IsConnected(b.ID)
				return nil
			}); err != nil {
				slog.Warn("Failed to reset bot state", "bot_id", b.ID, "error", err)
			}
		}
		if b.Token == "" {
			continue
		}
		r.connectAsync(b.ID, b.Token)
		started++
	}
	return started, nil
}

// MigrateLegacyToken applies the token from the environment at startup. An
// existing legacy bot takes the token over; otherwise a new unowned bot is
// registered when no bots exist yet. It reports whether the registry changed.
func (r *Registry) MigrateLegacyToken(ctx context.Context, token string) (bool, error) {
	return r.applyLegacyToken(ctx, strings.TrimSpace(token), "", false)
}

// SaveLegacyToken points the legacy bot at token, creating it when missing,
// and reconnects it. token must already have passed CheckToken.
func (r *Registry) SaveLegacyToken(ctx context.Context, token, tag string) error {
	_, err := r.applyLegacyToken(ctx, token, tag, true)
	return err
}

func (r *Registry) applyLegacyToken(ctx context.Context, token, tag string, create bool) (bool, error) {
	if token == "" {
		return false, nil
	}
	bots, err := r.repo.ListBots(ctx)
	if err != nil {
		return false, fmt.Errorf("list bots: %w", err)
	}

	for _, b := range bots {
		if b.OwnerID != "" || b.Name != LegacyBotName {
			continue
		}
		if b.Token == token {
			return false, nil
		}
		// Drop the old login, including one still in flight.
		r.conns.Disconnect(b.ID)
		if _, err := r.repo.UpdateBot(ctx, b.ID, func(b *domain.Bot) error {
			b.Token = token
			b.Online = false
			if tag != "" {
				b.UserTag = tag
			}
			return nil
		}); err != nil {
			return false, fmt.Errorf("store legacy bot: %w", err)
		}
		slog.Info("Legacy bot token replaced", "bot_id", b.ID)
		r.connectAsync(b.ID, token)
		return true, nil
	}

	if len(bots) > 0 && !create {
		return false, nil
	}

	bot := &domain.Bot{ID: uuid.NewString(), Name: LegacyBotName, Token: token, UserTag: tag}
	if err := r.repo.CreateBot(ctx, bot); err != nil {
		return false, fmt.Errorf("store legacy bot: %w", err)
	}
	slog.Info("Legacy bot token migrated", "bot_id", bot.ID)
	r.connectAsync(bot.ID, bot.Token)
	return true, nil
}

// Close cancels background logins and waits for them to return.
func (r *Registry) Close() {
	r.cancel()
	r.wg.Wait()
}
