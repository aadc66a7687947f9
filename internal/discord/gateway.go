// Package discord is a minimal Discord gateway client: it logs a bot in,
// keeps the connection alive with heartbeats and reports when it drops.
//
// It implements only what the dashboard needs. Events other than READY are
// read and discarded.
package discord

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

const (
	// DefaultGatewayURL is the v10 JSON gateway endpoint.
	DefaultGatewayURL = "wss://gateway.discord.gg/?v=10&encoding=json"

	// DefaultIntents requests GUILDS | GUILD_MESSAGES.
	DefaultIntents = 1<<0 | 1<<9

	// READY can carry every guild the bot is in.
	readLimit = 16 << 20

	closeAuthenticationFailed websocket.StatusCode = 4004
)

// Gateway opcodes.
const (
	opDispatch       = 0
	opHeartbeat      = 1
	opIdentify       = 2
	opReconnect      = 7
	opInvalidSession = 9
	opHello          = 10
	opHeartbeatAck   = 11
)

var (
	// ErrAuthenticationFailed is returned when the gateway rejects the token.
	ErrAuthenticationFailed = errors.New("authentication failed")
	// ErrInvalidSession is returned when the gateway invalidates the session.
	ErrInvalidSession = errors.New("invalid session")
	// ErrReconnectRequested ends a session when the gateway asks the client to reconnect.
	ErrReconnectRequested = errors.New("gateway requested reconnect")
)

type payload struct {
	Op int             `json:"op"`
	D  json.RawMessage `json:"d,omitempty"`
	S  *int64          `json:"s,omitempty"`
	T  string          `json:"t,omitempty"`
}

type helloData struct {
	HeartbeatInterval int64 `json:"heartbeat_interval"`
}

type identifyData struct {
	Token      string             `json:"token"`
	Intents    int                `json:"intents"`
	Properties identifyProperties `json:"properties"`
}

type identifyProperties struct {
	OS      string `json:"os"`
	Browser string `json:"browser"`
	Device  string `json:"device"`
}

type readyData struct {
	SessionID string `json:"session_id"`
	User      struct {
		ID            string `json:"id"`
		Username      string `json:"username"`
		Discriminator string `json:"discriminator"`
	} `json:"user"`
}

// Tag formats a Discord account name. Accounts migrated to unique usernames
// have discriminator "0" and are shown without one.
func Tag(username, discriminator string) string {
	if discriminator == "" || discriminator == "0" {
		return username
	}
	return username + "#" + discriminator
}

// Client dials the gateway. The zero value uses DefaultGatewayURL and DefaultIntents.
type Client struct {
	GatewayURL string
	Intents    int
	// Identity is reported as browser and device in IDENTIFY.
	Identity string
}

func (c *Client) url() string {
	if c.GatewayURL != "" {
		return c.GatewayURL
	}
	return DefaultGatewayURL
}

func (c *Client) intents() int {
	if c.Intents != 0 {
		return c.Intents
	}
	return DefaultIntents
}

func (c *Client) identity() string {
	if c.Identity != "" {
		return c.Identity
	}
	return "botdash"
}

// Connect logs in with token and returns once the gateway has sent READY.
// ctx bounds the handshake only; the returned session lives until Close or
// until the gateway drops it.
func (c *Client) Connect(ctx context.Context, token string) (*Session, error) {
	conn, _, err := websocket.Dial(ctx, c.url(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial gateway: %w", err)
	}
	conn.SetReadLimit(readLimit)

	s, err := c.handshake(ctx, conn, token)
	if err != nil {
		_ = conn.CloseNow()
		return nil, err
	}
	s.start()
	return s, nil
}

func (c *Client) handshake(ctx context.Context, conn *websocket.Conn, token string) (*Session, error) {
	var hello payload
	if err := wsjson.Read(ctx, conn, &hello); err != nil {
		return nil, readError("read hello", err)
	}
	if hello.Op != opHello {
		return nil, fmt.Errorf("expected hello, got op %d", hello.Op)
	}
	var h helloData
	if err := json.Unmarshal(hello.D, &h); err != nil || h.HeartbeatInterval <= 0 {
		return nil, fmt.Errorf("malformed hello")
	}

	identify := identifyData{
		Token:   token,
		Intents: c.intents(),
		Properties: identifyProperties{
			OS:      runtime.GOOS,
			Browser: c.identity(),
			Device:  c.identity(),
		},
	}
	if err := writePayload(ctx, conn, opIdentify, identify); err != nil {
		return nil, fmt.Errorf("send identify: %w", err)
	}

	s := &Session{
		conn:     conn,
		interval: time.Duration(h.HeartbeatInterval) * time.Millisecond,
		done:     make(chan struct{}),
	}

	for {
		var p payload
		if err := wsjson.Read(ctx, conn, &p); err != nil {
			return nil, readError("await ready", err)
		}
		if p.S != nil {
			s.seq.Store(*p.S)
		}

		switch p.Op {
		case opDispatch:
			if p.T != "READY" {
				continue
			}
			var r readyData
			if err := json.Unmarshal(p.D, &r); err != nil {
				return nil, fmt.Errorf("decode ready: %w", err)
			}
			s.userID = r.User.ID
			s.tag = Tag(r.User.Username, r.User.Discriminator)
			return s, nil
		case opHeartbeat:
			if err := s.heartbeat(ctx); err != nil {
				return nil, fmt.Errorf("send heartbeat: %w", err)
			}
		case opInvalidSession:
			return nil, ErrAuthenticationFailed
		case opReconnect:
			return nil, ErrReconnectRequested
		}
	}
}

func readError(stage string, err error) error {
	if websocket.CloseStatus(err) == closeAuthenticationFailed {
		return ErrAuthenticationFailed
	}
	return fmt.Errorf("%s: %w", stage, err)
}

func writePayload(ctx context.Context, conn *websocket.Conn, op int, d any) error {
	raw, err := json.Marshal(d)
	if err != nil {
		return err
	}
	return wsjson.Write(ctx, conn, payload{Op: op, D: raw})
}
