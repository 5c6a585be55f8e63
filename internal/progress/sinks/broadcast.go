package sinks

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/JakeFAU/jobhearted-crawler/internal/progress"
)

const defaultWriteWait = 5 * time.Second

// BroadcastSink pushes every fleet event batch to connected websocket
// clients. It also serves as the HTTP handler that accepts those clients.
type BroadcastSink struct {
	logger    *zap.Logger
	upgrader  websocket.Upgrader
	writeWait time.Duration

	mu      sync.RWMutex
	clients map[*websocket.Conn]struct{}
	closed  bool
}

// NewBroadcastSink returns a sink without clients.
func NewBroadcastSink(logger *zap.Logger) *BroadcastSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BroadcastSink{
		logger:    logger,
		writeWait: defaultWriteWait,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		clients: make(map[*websocket.Conn]struct{}),
	}
}

// ServeHTTP upgrades the request and keeps the client registered until it
// disconnects. Client messages are read and discarded.
func (s *BroadcastSink) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	if !s.add(conn) {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(s.writeWait))
		_ = conn.Close()
		return
	}
	s.logger.Debug("stream client connected", zap.String("remote", r.RemoteAddr))
	defer s.remove(conn)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// Clients reports how many clients are connected.
func (s *BroadcastSink) Clients() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// Consume writes each event as one JSON text message. Clients whose write
// fails are dropped.
func (s *BroadcastSink) Consume(ctx context.Context, batch []progress.Event) error {
	conns := s.snapshot()
	if len(conns) == 0 {
		return nil
	}
	msgs := make([][]byte, 0, len(batch))
	for _, evt := range batch {
		data, err := json.Marshal(evt)
		if err != nil {
			return fmt.Errorf("encode event: %w", err)
		}
		msgs = append(msgs, data)
	}
	deadline := time.Now().Add(s.writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	for _, conn := range conns {
		if err := writeAll(conn, msgs, deadline); err != nil {
			s.logger.Debug("dropping stream client", zap.Error(err))
			s.remove(conn)
		}
	}
	return nil
}

// Close disconnects every client and rejects new ones.
func (s *BroadcastSink) Close(context.Context) error {
	s.mu.Lock()
	s.closed = true
	conns := make([]*websocket.Conn, 0, len(s.clients))
	for conn := range s.clients {
		conns = append(conns, conn)
	}
	s.clients = make(map[*websocket.Conn]struct{})
	s.mu.Unlock()

	for _, conn := range conns {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(s.writeWait))
		_ = conn.Close()
	}
	return nil
}

func writeAll(conn *websocket.Conn, msgs [][]byte, deadline time.Time) error {
	if err := conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	for _, msg := range msgs {
		if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return err
		}
	}
	return nil
}

func (s *BroadcastSink) add(conn *websocket.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.clients[conn] = struct{}{}
	return true
}

func (s *BroadcastSink) remove(conn *websocket.Conn) {
	s.mu.Lock()
	_, ok := s.clients[conn]
	delete(s.clients, conn)
	s.mu.Unlock()
	if ok {
		_ = conn.Close()
	}
}

func (s *BroadcastSink) snapshot() []*websocket.Conn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*websocket.Conn, 0, len(s.clients))
	for conn := range s.clients {
		out = append(out, conn)
	}
	return out
}
