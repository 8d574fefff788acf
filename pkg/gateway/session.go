package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/fasthttp/websocket"
	"golang.org/x/time/rate"

	"github.com/iam-i-j-k/backend/pkg/models"
	"github.com/iam-i-j-k/backend/pkg/state/logger"
	"github.com/iam-i-j-k/backend/pkg/store/keys"
)

var (
	ErrSessionClosed = errors.New("gateway: session closed")
	ErrSlowConsumer  = errors.New("gateway: outbound queue full")
)

const rateLimitMessage = "rate limit exceeded"

// close reasons
const (
	reasonClientGone   = "client_gone"
	reasonSlowConsumer = "slow_consumer"
	reasonShutdown     = "shutdown"
	reasonWriteFailed  = "write_failed"
)

// Session is one websocket connection. Its reader handles inbound events in
// order; its writer drains a bounded outbound queue.
type Session struct {
	id   string
	conn *websocket.Conn
	opts Options

	send    chan []byte
	limiter *rate.Limiter

	// expectedUser is the identity proven at the handshake, if any.
	expectedUser string

	mu     sync.RWMutex
	userID string

	closeOnce sync.Once
	closed    chan struct{}
	reason    string
}

func newSession(conn *websocket.Conn, opts Options, expectedUser string) *Session {
	s := &Session{
		id:           keys.GenID(),
		conn:         conn,
		opts:         opts,
		send:         make(chan []byte, opts.SendBuffer),
		expectedUser: expectedUser,
		closed:       make(chan struct{}),
	}
	if opts.EventRPS > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(opts.EventRPS), opts.EventBurst)
	}
	return s
}

func (s *Session) ID() string { return s.id }

// UserID returns the joined identity or "".
func (s *Session) UserID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userID
}

func (s *Session) setUser(id string) {
	s.mu.Lock()
	s.userID = id
	s.mu.Unlock()
}

// Send queues evt for the writer. A full queue closes the session.
func (s *Session) Send(evt models.Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	select {
	case <-s.closed:
		return ErrSessionClosed
	default:
	}
	select {
	case s.send <- data:
		return nil
	default:
		logger.Warn("session_slow_consumer", "session", s.id, "user", s.UserID(), "event", evt.Name)
		s.Close(reasonSlowConsumer)
		return ErrSlowConsumer
	}
}

// Close marks the session closed. The first reason wins.
func (s *Session) Close(reason string) {
	s.closeOnce.Do(func() {
		s.reason = reason
		close(s.closed)
		if s.conn != nil {
			// unblock the reader
			_ = s.conn.SetReadDeadline(time.Now())
		}
	})
}

// Done is closed once the session is closed.
func (s *Session) Done() <-chan struct{} {
	return s.closed
}

func (s *Session) allow() bool {
	return s.limiter == nil || s.limiter.Allow()
}

// readPump handles inbound frames until the connection fails or the session
// is closed.
func (s *Session) readPump(ctx context.Context, d *Dispatcher) {
	defer s.Close(reasonClientGone)
	s.conn.SetReadLimit(s.opts.MaxFrameSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(s.opts.PongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(s.opts.PongWait))
	})
	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				logger.Debug("session_read_failed", "session", s.id, "error", err)
			}
			return
		}
		if !s.allow() {
			inboundEvents.WithLabelValues("rate_limited").Inc()
			_ = s.Send(models.Event{Name: models.EventError, Data: models.ErrorPayload{Message: rateLimitMessage}})
			continue
		}
		if err := d.Dispatch(ctx, s, raw); err != nil {
			inboundEvents.WithLabelValues("error").Inc()
			continue
		}
		inboundEvents.WithLabelValues("ok").Inc()
	}
}

// writePump drains the outbound queue and keeps the connection alive with
// pings.
func (s *Session) writePump() {
	ticker := time.NewTicker(s.opts.pingPeriod())
	defer ticker.Stop()
	for {
		select {
		case data := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(s.opts.WriteWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				logger.Debug("session_write_failed", "session", s.id, "error", err)
				s.Close(reasonWriteFailed)
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(s.opts.WriteWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.Close(reasonWriteFailed)
				return
			}
		case <-s.closed:
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			if s.reason == reasonSlowConsumer {
				msg = websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reasonSlowConsumer)
			} else {
				s.flush()
			}
			_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(s.opts.WriteWait))
			return
		}
	}
}

// flush writes whatever is still queued, bounded by one write deadline.
func (s *Session) flush() {
	_ = s.conn.SetWriteDeadline(time.Now().Add(s.opts.WriteWait))
	for {
		select {
		case data := <-s.send:
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		default:
			return
		}
	}
}
