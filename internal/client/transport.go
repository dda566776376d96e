// Package client holds the role state machines and the connection plumbing
// they run on. The state machines are pure folds over envelope streams; the
// transport is an interface so tests drive them without a network.
package client

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/resq-relay/internal/protocol"
)

// Transport is the connection a state machine runner speaks through.
type Transport interface {
	Send(m protocol.Message) error
	Messages() <-chan protocol.Message
	Close() error
}

var ErrNotConnected = errors.New("transport not connected")

// WSTransport maintains a WebSocket connection to one relay role endpoint,
// reconnecting with exponential backoff. After every (re)connection it emits
// a sync_request so the state machine can recover missed broadcasts.
type WSTransport struct {
	URL    string
	Dialer *websocket.Dialer
	Logger *slog.Logger

	mu   sync.Mutex
	conn *websocket.Conn

	out     chan protocol.Message
	started sync.Once
	cancel  context.CancelFunc
}

func NewWSTransport(url string, logger *slog.Logger) *WSTransport {
	return &WSTransport{
		URL:    url,
		Dialer: websocket.DefaultDialer,
		Logger: logger,
		out:    make(chan protocol.Message, 64),
	}
}

// Run dials and keeps the connection alive until ctx is done. It owns the
// read loop; decoded envelopes arrive on Messages.
func (t *WSTransport) Run(ctx context.Context) {
	t.started.Do(func() {
		ctx, t.cancel = context.WithCancel(ctx)
		go t.loop(ctx)
	})
}

func (t *WSTransport) loop(ctx context.Context) {
	defer close(t.out)
	backoff := NewBackoff()
	for {
		if ctx.Err() != nil {
			return
		}
		conn, _, err := t.Dialer.DialContext(ctx, t.URL, nil)
		if err != nil {
			delay := backoff.Next()
			t.Logger.Warn("relay dial failed", "url", t.URL, "error", err, "retry_in", delay)
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			continue
		}
		backoff.Reset()
		t.setConn(conn)
		t.Logger.Info("relay connected", "url", t.URL)

		// Recover anything missed while disconnected.
		if err := t.Send(&protocol.SyncRequest{}); err != nil {
			t.Logger.Warn("sync request failed", "error", err)
		}

		t.readAll(ctx, conn)
		t.setConn(nil)
		_ = conn.Close()
	}
}

func (t *WSTransport) readAll(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				t.Logger.Warn("relay connection lost", "error", err)
			}
			return
		}
		msg, err := protocol.Decode(data)
		if err != nil {
			t.Logger.Warn("undecodable envelope from relay", "error", err)
			continue
		}
		select {
		case t.out <- msg:
		case <-ctx.Done():
			return
		}
	}
}

func (t *WSTransport) setConn(conn *websocket.Conn) {
	t.mu.Lock()
	t.conn = conn
	t.mu.Unlock()
}

func (t *WSTransport) Send(m protocol.Message) error {
	data, err := protocol.Encode(m)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return ErrNotConnected
	}
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

func (t *WSTransport) Messages() <-chan protocol.Message { return t.out }

func (t *WSTransport) Close() error {
	if t.cancel != nil {
		t.cancel()
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn != nil {
		return t.conn.Close()
	}
	return nil
}
