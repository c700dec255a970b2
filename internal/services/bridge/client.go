package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/pactum/internal/common"
	"github.com/ternarybob/pactum/internal/interfaces"
)

var _ interfaces.BridgeClient = (*Client)(nil)

type outcome struct {
	frame Frame
	err   error
}

// session is one live stream connection with its pending-command table
type session struct {
	conn     *websocket.Conn
	clientID string
	logger   arbor.ILogger

	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[string]chan outcome
	closed    bool
	reason    error

	lastBeat atomic.Int64 // unix nanoseconds of the last heartbeat
	done     chan struct{}
}

// Client multiplexes correlated commands over one long-lived websocket stream.
// A heartbeat watchdog runs independently of command traffic; a lost stream fails every
// pending command with ErrTransport and Do re-sends its command once on a new connection.
type Client struct {
	config common.BridgeConfig
	logger arbor.ILogger
	dialer *websocket.Dialer

	mu      sync.Mutex
	session *session
	closed  bool

	connects atomic.Int32
}

// NewClient creates a bridge client. Nothing is dialled until Connect or the first Do.
func NewClient(config common.BridgeConfig, logger arbor.ILogger) *Client {
	if config.HeartbeatGrace <= 0 {
		config.HeartbeatGrace = config.HeartbeatInterval * 2
	}
	if config.ClientID == "" {
		config.ClientID = "pactum"
	}
	return &Client{
		config: config,
		logger: logger,
		dialer: &websocket.Dialer{
			HandshakeTimeout: config.DialTimeout.Std(),
			ReadBufferSize:   4096,
			WriteBufferSize:  4096,
		},
	}
}

// Connects returns how many connections were established, reconnects included
func (c *Client) Connects() int {
	return int(c.connects.Load())
}

// Connect establishes the stream if it is not already live
func (c *Client) Connect(ctx context.Context) error {
	_, err := c.live(ctx)
	return err
}

// Do sends one command and waits for its correlated response. A transport failure tears the
// stream down; the command is then re-sent exactly once on a fresh connection.
func (c *Client) Do(ctx context.Context, command string, params interface{}) (json.RawMessage, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshal %s params: %w", command, err)
	}

	if timeout := c.config.CommandTimeout.Std(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var lastErr error
	for attempt := 1; attempt <= 2; attempt++ {
		sess, err := c.live(ctx)
		if err != nil {
			return nil, err
		}

		result, err := c.send(ctx, sess, command, raw)
		if err == nil {
			return result, nil
		}
		if !errors.Is(err, ErrTransport) {
			return nil, err
		}

		lastErr = err
		c.logger.Warn().
			Err(err).
			Str("command", command).
			Int("attempt", attempt).
			Msg("Bridge transport failed during command")
	}
	return nil, lastErr
}

// Close tears down the stream; later calls fail with ErrClosed
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if c.session != nil {
		c.session.writeMu.Lock()
		_ = c.session.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		c.session.writeMu.Unlock()
		c.session.teardown(ErrClosed)
		c.session = nil
	}
	return nil
}

// live returns the current session, dialling a new one when there is none or it died
func (c *Client) live(ctx context.Context) (*session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClosed
	}
	if c.session != nil && !c.session.isClosed() {
		return c.session, nil
	}
	if c.config.URL == "" {
		return nil, ErrNotConfigured
	}

	sess, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	c.session = sess
	return sess, nil
}

func (c *Client) dial(ctx context.Context) (*session, error) {
	u, err := url.Parse(c.config.URL)
	if err != nil {
		return nil, fmt.Errorf("parse bridge url: %w", err)
	}
	q := u.Query()
	q.Set("client_id", c.config.ClientID)
	u.RawQuery = q.Encode()

	header := http.Header{}
	if c.config.Token != "" {
		header.Set("Authorization", "Bearer "+c.config.Token)
	}

	dialCtx := ctx
	if timeout := c.config.DialTimeout.Std(); timeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	conn, _, err := c.dialer.DialContext(dialCtx, u.String(), header)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", ErrConnectionLost, c.config.URL, err)
	}

	// the server greets with its connected frame before anything else
	if deadline, ok := dialCtx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
	}
	var hello Frame
	if err := conn.ReadJSON(&hello); err != nil || hello.Type != FrameConnected {
		conn.Close()
		if err == nil {
			err = fmt.Errorf("unexpected first frame %q", hello.Type)
		}
		return nil, fmt.Errorf("%w: handshake: %v", ErrConnectionLost, err)
	}
	_ = conn.SetReadDeadline(time.Time{})

	sess := &session{
		conn:     conn,
		clientID: c.config.ClientID,
		logger:   c.logger,
		pending:  make(map[string]chan outcome),
		done:     make(chan struct{}),
	}
	sess.lastBeat.Store(time.Now().UnixNano())

	common.SafeGo(c.logger, "bridge.readLoop", sess.readLoop)
	common.SafeGo(c.logger, "bridge.watchdog", func() {
		sess.watchdog(c.config.HeartbeatGrace.Std())
	})

	n := c.connects.Add(1)
	c.logger.Info().
		Str("url", c.config.URL).
		Str("client_id", c.config.ClientID).
		Int("connection", int(n)).
		Msg("Bridge connected")
	return sess, nil
}

// send writes one command frame and waits for the response with the same correlation ID
func (c *Client) send(ctx context.Context, sess *session, command string, params json.RawMessage) (json.RawMessage, error) {
	id := common.NewCorrelationID()
	ch := make(chan outcome, 1)
	if err := sess.register(id, ch); err != nil {
		return nil, err
	}

	frame := Frame{Type: FrameCommand, ID: id, Command: command, Params: params}
	if err := sess.write(frame); err != nil {
		sess.teardown(fmt.Errorf("%w: write: %v", ErrConnectionLost, err))
		sess.unregister(id)
		return nil, fmt.Errorf("%w: write: %v", ErrConnectionLost, err)
	}
	c.logger.Debug().Str("command", command).Str("correlation_id", id).Msg("Bridge command sent")

	select {
	case out := <-ch:
		if out.err != nil {
			return nil, out.err
		}
		if out.frame.Status != StatusSuccess {
			msg := out.frame.Error
			if msg == "" {
				msg = "status " + out.frame.Status
			}
			return nil, &CommandError{Command: command, Message: msg}
		}
		return out.frame.Result, nil
	case <-ctx.Done():
		sess.unregister(id)
		return nil, fmt.Errorf("command %s: %w", command, ctx.Err())
	}
}

func (s *session) register(id string, ch chan outcome) error {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	if s.closed {
		return s.reason
	}
	s.pending[id] = ch
	return nil
}

func (s *session) unregister(id string) {
	s.pendingMu.Lock()
	delete(s.pending, id)
	s.pendingMu.Unlock()
}

func (s *session) deliver(frame Frame) {
	s.pendingMu.Lock()
	ch, ok := s.pending[frame.ID]
	delete(s.pending, frame.ID)
	s.pendingMu.Unlock()

	if !ok {
		s.logger.Debug().Str("correlation_id", frame.ID).Msg("Dropping response with no pending command")
		return
	}
	ch <- outcome{frame: frame}
}

func (s *session) write(frame Frame) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return s.conn.WriteJSON(frame)
}

func (s *session) isClosed() bool {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	return s.closed
}

// teardown closes the connection once and fails every pending command with reason
func (s *session) teardown(reason error) {
	s.pendingMu.Lock()
	if s.closed {
		s.pendingMu.Unlock()
		return
	}
	s.closed = true
	s.reason = reason
	pending := s.pending
	s.pending = map[string]chan outcome{}
	s.pendingMu.Unlock()

	close(s.done)
	s.conn.Close()

	for _, ch := range pending {
		ch <- outcome{err: reason}
	}
	if !errors.Is(reason, ErrClosed) {
		s.logger.Warn().Err(reason).Int("pending", len(pending)).Msg("Bridge stream torn down")
	}
}

func (s *session) readLoop() {
	for {
		var frame Frame
		if err := s.conn.ReadJSON(&frame); err != nil {
			s.teardown(fmt.Errorf("%w: read: %v", ErrConnectionLost, err))
			return
		}

		switch frame.Type {
		case FrameHeartbeat:
			s.lastBeat.Store(time.Now().UnixNano())
		case FrameResponse:
			s.deliver(frame)
		case FrameConnected:
		default:
			s.logger.Debug().Str("type", frame.Type).Msg("Ignoring unknown bridge frame")
		}
	}
}

// watchdog tears the session down when heartbeats stop for longer than grace
func (s *session) watchdog(grace time.Duration) {
	if grace <= 0 {
		return
	}
	tick := grace / 4
	if tick < 5*time.Millisecond {
		tick = 5 * time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case now := <-ticker.C:
			last := time.Unix(0, s.lastBeat.Load())
			if now.Sub(last) > grace {
				s.teardown(fmt.Errorf("%w: none for %s", ErrHeartbeatLost, now.Sub(last).Round(time.Millisecond)))
				return
			}
		}
	}
}
