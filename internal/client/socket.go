// Package client implements the connecting side of the signaling protocol:
// the event socket plus, in subpackages, the call session state machine and
// the multi-party room manager.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"voxlink/internal/domain"
	"voxlink/pkg/constants"
)

// Handler consumes the payload of one named server event
type Handler func(data json.RawMessage)

// Socket is a persistent event connection to the signaling gateway. Handlers
// run sequentially on the read goroutine, preserving server delivery order.
type Socket struct {
	conn *websocket.Conn
	log  *zap.Logger

	writeMu sync.Mutex

	handlerMu sync.RWMutex
	handlers  map[string]Handler

	closeOnce sync.Once
	done      chan struct{}
}

// Dial connects to the gateway and authenticates with the given token
func Dial(ctx context.Context, url, token string, log *zap.Logger) (*Socket, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	s := &Socket{
		conn:     conn,
		log:      log,
		handlers: make(map[string]Handler),
		done:     make(chan struct{}),
	}

	go s.readLoop()
	go s.pingLoop()

	return s, nil
}

// On registers the handler for a named event, replacing any previous one
func (s *Socket) On(event string, h Handler) {
	s.handlerMu.Lock()
	s.handlers[event] = h
	s.handlerMu.Unlock()
}

// Emit sends a named event with its payload to the gateway
func (s *Socket) Emit(event string, payload any) error {
	b, err := domain.EncodeFrame(event, payload)
	if err != nil {
		return fmt.Errorf("encode %s: %w", event, err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(constants.WebSocketWriteTimeout))
	if err := s.conn.WriteMessage(websocket.TextMessage, b); err != nil {
		return fmt.Errorf("write %s: %w", event, err)
	}
	return nil
}

// Close tears down the connection. Safe to call multiple times.
func (s *Socket) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		s.writeMu.Lock()
		s.conn.SetWriteDeadline(time.Now().Add(constants.WebSocketWriteTimeout))
		s.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		s.writeMu.Unlock()
		err = s.conn.Close()
	})
	return err
}

// Done is closed when the connection has terminated
func (s *Socket) Done() <-chan struct{} {
	return s.done
}

func (s *Socket) readLoop() {
	defer s.Close()

	for {
		_, message, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Debug("socket closed", zap.Error(err))
			}
			return
		}

		var f domain.Frame
		if err := json.Unmarshal(message, &f); err != nil {
			s.log.Warn("invalid frame from server", zap.Error(err))
			continue
		}

		s.handlerMu.RLock()
		h := s.handlers[f.Event]
		s.handlerMu.RUnlock()
		if h == nil {
			s.log.Debug("unhandled event", zap.String("event", f.Event))
			continue
		}
		h(f.Data)
	}
}

func (s *Socket) pingLoop() {
	ticker := time.NewTicker(constants.WebSocketPingInterval / 2)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.writeMu.Lock()
			s.conn.SetWriteDeadline(time.Now().Add(constants.WebSocketWriteTimeout))
			err := s.conn.WriteMessage(websocket.PingMessage, nil)
			s.writeMu.Unlock()
			if err != nil {
				s.Close()
				return
			}
		}
	}
}
