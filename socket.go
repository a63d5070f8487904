package lavago

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Socket maintains one persistent bidirectional WebSocket connection to a
// worker node, generalizing the teacher's socket to the reconnect,
// framing and concurrency contract in spec.md §4.3/§5: a single sender
// goroutine serializes outbound frames, a single reader goroutine
// dispatches inbound ones in arrival order, and reconnects wait
// ReconnectDelay times the attempt number, capped at 30s (the teacher's
// linear growth had no cap).
type Socket struct {
	cfg    *Config
	logger zerolog.Logger
	url    string
	dialer *websocket.Dialer

	mu                 sync.RWMutex
	conn               *websocket.Conn
	connected          bool
	closed             bool
	reconnectAttempts  int
	lastHeaders        http.Header

	sendCh chan wsSend

	// DataReceived is invoked (on the reader goroutine) for every inbound
	// text frame.
	DataReceived func([]byte)
	// ErrorReceived is invoked for transport-level read errors.
	ErrorReceived func(error)
	// Disconnected is invoked for any close not initiated by Close, before
	// a reconnect attempt is scheduled (only abnormal closes schedule one).
	Disconnected func(code int, reason string)
	// Reconnected is invoked after a reconnect attempt successfully
	// reopens the connection.
	Reconnected func()
}

type wsSend struct {
	data    []byte
	errChan chan error
}

const maxReconnectBackoff = 30 * time.Second

// NewSocket builds a Socket bound to cfg's endpoint; it does not dial
// until Connect is called.
func NewSocket(cfg *Config, logger zerolog.Logger) *Socket {
	return &Socket{
		cfg: cfg,
		logger: logger.With().
			Str("component", "socket").
			Str("node", cfg.identifier()).
			Logger(),
		url: cfg.socketEndpoint(),
		dialer: &websocket.Dialer{
			ReadBufferSize:   cfg.BufferSize,
			WriteBufferSize:  cfg.BufferSize,
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 45 * time.Second,
		},
		DataReceived:  func([]byte) {},
		ErrorReceived: func(error) {},
		Disconnected:  func(int, string) {},
		Reconnected:   func() {},
	}
}

// Connect dials once, synchronously. Subsequent drops are handled by the
// internal reconnect loop, not by calling Connect again.
func (s *Socket) Connect(headers http.Header) error {
	s.mu.Lock()
	if s.conn != nil {
		s.mu.Unlock()
		return errors.New("lavago: socket already open")
	}
	s.lastHeaders = headers
	s.closed = false
	s.mu.Unlock()

	conn, _, err := s.dialer.Dial(s.url, headers)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.conn = conn
	s.connected = true
	s.reconnectAttempts = 0
	s.sendCh = make(chan wsSend)
	s.mu.Unlock()

	go s.sendLoop()
	go s.readLoop()
	return nil
}

func (s *Socket) sendLoop() {
	s.mu.RLock()
	ch := s.sendCh
	s.mu.RUnlock()
	for req := range ch {
		s.mu.RLock()
		conn := s.conn
		s.mu.RUnlock()
		if conn == nil {
			req.errChan <- errors.New("lavago: socket closed")
			continue
		}
		req.errChan <- conn.WriteMessage(websocket.TextMessage, req.data)
	}
}

func (s *Socket) readLoop() {
	for {
		s.mu.RLock()
		conn := s.conn
		s.mu.RUnlock()
		if conn == nil {
			return
		}
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			s.handleClose(err)
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		s.DataReceived(data)
	}
}

func (s *Socket) handleClose(err error) {
	code := websocket.CloseAbnormalClosure
	reason := err.Error()
	if ce, ok := err.(*websocket.CloseError); ok {
		code = ce.Code
		reason = ce.Text
	}

	s.mu.Lock()
	wasClosedByUs := s.closed
	if s.conn != nil {
		s.conn.Close()
	}
	s.conn = nil
	s.connected = false
	if s.sendCh != nil {
		close(s.sendCh)
		s.sendCh = nil
	}
	s.mu.Unlock()

	s.ErrorReceived(err)
	if wasClosedByUs {
		return
	}

	s.Disconnected(code, reason)
	if code != websocket.CloseNormalClosure && code != websocket.CloseGoingAway {
		go s.reconnectLoop()
	}
}

func (s *Socket) reconnectLoop() {
	s.mu.Lock()
	s.reconnectAttempts++
	attempts := s.reconnectAttempts
	headers := s.lastHeaders
	s.mu.Unlock()

	if s.cfg.ReconnectAttempts > 0 && attempts > s.cfg.ReconnectAttempts {
		s.logger.Error().Int("attempts", attempts).Msg("giving up reconnecting to node")
		return
	}

	delay := s.cfg.ReconnectDelay * time.Duration(attempts)
	if delay > maxReconnectBackoff {
		delay = maxReconnectBackoff
	}
	s.logger.Warn().Dur("delay", delay).Int("attempt", attempts).Msg("scheduling node reconnect")
	time.Sleep(delay)

	conn, _, err := s.dialer.Dial(s.url, headers)
	if err != nil {
		s.logger.Warn().Err(err).Msg("node reconnect attempt failed")
		go s.reconnectLoop()
		return
	}

	s.mu.Lock()
	s.conn = conn
	s.connected = true
	s.reconnectAttempts = 0
	s.sendCh = make(chan wsSend)
	s.mu.Unlock()

	go s.sendLoop()
	go s.readLoop()
	s.Reconnected()
}

// Send writes a raw frame, failing fast if the socket is not connected.
func (s *Socket) Send(data []byte) (sendErr error) {
	s.mu.RLock()
	ch := s.sendCh
	connected := s.connected
	s.mu.RUnlock()
	if !connected || ch == nil {
		return errors.New("lavago: can't send, no connection open")
	}
	if len(data) == 0 {
		return errors.New("lavago: can't send empty frame")
	}
	errChan := make(chan error, 1)
	defer func() {
		// The channel may have been closed by a concurrent disconnect
		// between the check above and this send; treat that the same
		// as "no connection open" rather than letting the panic escape.
		if r := recover(); r != nil {
			sendErr = errors.New("lavago: can't send, no connection open")
		}
	}()
	ch <- wsSend{data, errChan}
	return <-errChan
}

// SendJSON marshals value and writes it as a single text frame.
func (s *Socket) SendJSON(value interface{}) error {
	if value == nil {
		return errors.New("lavago: can't send nil value")
	}
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return s.Send(data)
}

// Connected reports whether the socket currently has an open connection.
func (s *Socket) Connected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

// Close shuts the socket down deliberately; no reconnect is scheduled.
func (s *Socket) Close() error {
	s.mu.Lock()
	s.closed = true
	s.connected = false
	conn := s.conn
	s.conn = nil
	if s.sendCh != nil {
		close(s.sendCh)
		s.sendCh = nil
	}
	s.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}
