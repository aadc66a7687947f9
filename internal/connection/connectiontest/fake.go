// Package connectiontest provides an in-memory Connector for tests.
package connectiontest

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/ashureev/botdash/internal/connection"
)

// ErrRejected is returned for tokens the fake does not accept.
var ErrRejected = errors.New("authentication failed")

// Connector accepts tokens listed in Tags and rejects everything else.
type Connector struct {
	mu    sync.Mutex
	Tags  map[string]string
	conns []*Conn

	// Block, when set, makes Connect wait until it is closed or ctx ends.
	Block chan struct{}
	// IgnoreCancel makes a blocked Connect wait for Block even after ctx ends.
	IgnoreCancel bool

	calls atomic.Int32
}

// New returns a connector that accepts token → tag pairs.
func New(tags map[string]string) *Connector {
	return &Connector{Tags: tags}
}

// Calls returns how many times Connect ran.
func (c *Connector) Calls() int {
	return int(c.calls.Load())
}

// Accept adds a token the connector will log in with.
func (c *Connector) Accept(token, tag string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Tags == nil {
		c.Tags = map[string]string{}
	}
	c.Tags[token] = tag
}

// Conns returns every connection handed out so far.
func (c *Connector) Conns() []*Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*Conn(nil), c.conns...)
}

// Connect implements connection.Connector.
func (c *Connector) Connect(ctx context.Context, token string) (connection.Conn, error) {
	c.calls.Add(1)
	if c.Block != nil && c.IgnoreCancel {
		<-c.Block
	} else if c.Block != nil {
		select {
		case <-c.Block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	tag, ok := c.Tags[token]
	if !ok {
		return nil, ErrRejected
	}
	conn := &Conn{tag: tag, done: make(chan struct{})}
	c.conns = append(c.conns, conn)
	return conn, nil
}

// Conn is a fake live connection.
type Conn struct {
	tag    string
	once   sync.Once
	mu     sync.Mutex
	err    error
	done   chan struct{}
	closed atomic.Bool
}

// Tag implements connection.Conn.
func (c *Conn) Tag() string { return c.tag }

// Done implements connection.Conn.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Err implements connection.Conn.
func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close implements connection.Conn.
func (c *Conn) Close() error {
	c.closed.Store(true)
	c.end(nil)
	return nil
}

// Closed reports whether Close was called.
func (c *Conn) Closed() bool {
	return c.closed.Load()
}

// Drop simulates the remote side ending the connection.
func (c *Conn) Drop(err error) {
	c.end(err)
}

func (c *Conn) end(err error) {
	c.once.Do(func() {
		c.mu.Lock()
		c.err = err
		c.mu.Unlock()
		close(c.done)
	})
}
