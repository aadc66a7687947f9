package discord

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

const writeTimeout = 10 * time.Second

// Session is a logged-in gateway connection.
type Session struct {
	conn     *websocket.Conn
	tag      string
	userID   string
	interval time.Duration
	seq      atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc

	once sync.Once
	mu   sync.Mutex
	err  error
	done chan struct{}
}

// Tag returns the bot account's display tag.
func (s *Session) Tag() string { return s.tag }

// UserID returns the bot account's user id.
func (s *Session) UserID() string { return s.userID }

// Done is closed when the session ends.
func (s *Session) Done() <-chan struct{} { return s.done }

// Err returns why the session ended. It is nil while running and after Close.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close ends the session with a normal closure.
func (s *Session) Close() error {
	s.finish(nil)
	return nil
}

func (s *Session) start() {
	s.ctx, s.cancel = context.WithCancel(context.Background())
	go s.readLoop()
	go s.heartbeatLoop()
}

func (s *Session) finish(err error) {
	s.once.Do(func() {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()

		if err == nil {
			_ = s.conn.Close(websocket.StatusNormalClosure, "")
		} else {
			_ = s.conn.CloseNow()
		}
		if s.cancel != nil {
			s.cancel()
		}
		close(s.done)
	})
}

func (s *Session) heartbeat(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	var d any
	if seq := s.seq.Load(); seq > 0 {
		d = seq
	}
	return writePayload(ctx, s.conn, opHeartbeat, d)
}

func (s *Session) heartbeatLoop() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := s.heartbeat(s.ctx); err != nil {
				s.finish(fmt.Errorf("heartbeat: %w", err))
				return
			}
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Session) readLoop() {
	for {
		var p payload
		if err := wsjson.Read(s.ctx, s.conn, &p); err != nil {
			s.finish(readError("read", err))
			return
		}
		if p.S != nil {
			s.seq.Store(*p.S)
		}

		switch p.Op {
		case opHeartbeat:
			if err := s.heartbeat(s.ctx); err != nil {
				s.finish(fmt.Errorf("heartbeat: %w", err))
				return
			}
		case opReconnect:
			s.finish(ErrReconnectRequested)
			return
		case opInvalidSession:
			s.finish(ErrInvalidSession)
			return
		case opDispatch, opHeartbeatAck:
		default:
			slog.Debug("Ignoring gateway opcode", "op", p.Op, "tag", s.tag)
		}
	}
}
