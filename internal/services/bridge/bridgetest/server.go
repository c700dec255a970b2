// Package bridgetest is an in-memory line-of-business system speaking the bridge protocol,
// for tests and the lob-sim command.
package bridgetest

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/pactum/internal/services/bridge"
)

// Attachment records one attach_file call
type Attachment struct {
	EntityType string
	UUID       string
	FileName   string
	Size       int
}

// Options configure a Server
type Options struct {
	HeartbeatInterval time.Duration
	Token             string // when set, connections must send "Authorization: Bearer <token>"
}

type clientConn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
	stalled atomic.Bool // no heartbeats and no responses
	done    chan struct{}
	once    sync.Once
}

func (c *clientConn) write(frame bridge.Frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return c.ws.WriteJSON(frame)
}

func (c *clientConn) close() {
	c.once.Do(func() {
		close(c.done)
		c.ws.Close()
	})
}

// Server implements http.Handler for the bridge stream
type Server struct {
	options    Options
	logger     arbor.ILogger
	upgrader   websocket.Upgrader
	instanceID string

	mu             sync.Mutex
	conns          map[*clientConn]bool
	connections    int
	stallNew       bool
	counterparties map[string]bridge.Counterparty // by uuid
	byINN          map[string]string
	agreements     map[string]bridge.Agreement
	attachments    []Attachment
	received       []string // every command frame, executed or not
	executed       []string // commands answered
}

// NewServer creates a Server with an empty entity store
func NewServer(options Options, logger arbor.ILogger) *Server {
	if options.HeartbeatInterval <= 0 {
		options.HeartbeatInterval = 30 * time.Second
	}
	s := &Server{
		options: options,
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		instanceID:     uuid.New().String(),
		conns:          make(map[*clientConn]bool),
		counterparties: make(map[string]bridge.Counterparty),
		byINN:          make(map[string]string),
		agreements:     make(map[string]bridge.Agreement),
	}
	logger.Info().Str("server_instance_id", s.instanceID).Dur("heartbeat", options.HeartbeatInterval).Msg("Line-of-business simulator initialized")
	return s
}

// WebSocketURL converts an http:// test server URL to ws://
func WebSocketURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http")
}

// ServeHTTP upgrades the request and serves one client stream
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.options.Token != "" && r.Header.Get("Authorization") != "Bearer "+s.options.Token {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to upgrade bridge connection")
		return
	}
	conn := &clientConn{ws: ws, done: make(chan struct{})}
	clientID := r.URL.Query().Get("client_id")

	s.mu.Lock()
	s.conns[conn] = true
	s.connections++
	conn.stalled.Store(s.stallNew)
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		conn.close()
		s.logger.Debug().Str("client_id", clientID).Msg("Bridge client disconnected")
	}()

	if err := conn.write(bridge.Frame{Type: bridge.FrameConnected, ClientID: clientID}); err != nil {
		return
	}
	go s.heartbeats(conn)

	for {
		var frame bridge.Frame
		if err := ws.ReadJSON(&frame); err != nil {
			return
		}
		if frame.Type != bridge.FrameCommand {
			continue
		}

		s.mu.Lock()
		s.received = append(s.received, frame.Command)
		s.mu.Unlock()
		if conn.stalled.Load() {
			continue
		}

		resp := s.execute(frame)
		if err := conn.write(resp); err != nil {
			return
		}
	}
}

func (s *Server) heartbeats(conn *clientConn) {
	ticker := time.NewTicker(s.options.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-conn.done:
			return
		case now := <-ticker.C:
			if conn.stalled.Load() {
				continue
			}
			if err := conn.write(bridge.Frame{Type: bridge.FrameHeartbeat, TS: now.UnixMilli()}); err != nil {
				return
			}
		}
	}
}

// DropHeartbeats stalls every open connection: heartbeats stop and commands go unanswered.
// Connections opened later behave normally unless StallNewConnections is set.
func (s *Server) DropHeartbeats() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.conns {
		conn.stalled.Store(true)
	}
}

// StallNewConnections makes connections opened from now on start stalled
func (s *Server) StallNewConnections(stall bool) {
	s.mu.Lock()
	s.stallNew = stall
	s.mu.Unlock()
}

// Close drops every client connection
func (s *Server) Close() {
	s.mu.Lock()
	conns := make([]*clientConn, 0, len(s.conns))
	for conn := range s.conns {
		conns = append(conns, conn)
	}
	s.mu.Unlock()
	for _, conn := range conns {
		conn.close()
	}
}

// AddCounterparty seeds the store and returns the new entity's UUID
func (s *Server) AddCounterparty(cp bridge.Counterparty) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp.UUID = uuid.New().String()
	s.counterparties[cp.UUID] = cp
	s.byINN[cp.INN] = cp.UUID
	return cp.UUID
}

// Counterparty returns a stored counterparty by UUID
func (s *Server) Counterparty(id string) (bridge.Counterparty, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp, ok := s.counterparties[id]
	return cp, ok
}

// Agreement returns a stored agreement by UUID
func (s *Server) Agreement(id string) (bridge.Agreement, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.agreements[id]
	return a, ok
}

// Commands returns the names of the commands answered, in order
func (s *Server) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.executed...)
}

// Received returns the names of every command frame received, including unanswered ones
func (s *Server) Received() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.received...)
}

// Attachments returns the attach_file calls, in order
func (s *Server) Attachments() []Attachment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Attachment(nil), s.attachments...)
}

// Connections returns how many streams were accepted
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connections
}

func (s *Server) execute(frame bridge.Frame) bridge.Frame {
	resp := bridge.Frame{Type: bridge.FrameResponse, ID: frame.ID}

	s.mu.Lock()
	result, err := s.dispatch(frame.Command, frame.Params)
	s.executed = append(s.executed, frame.Command)
	s.mu.Unlock()

	if err != nil {
		resp.Status = bridge.StatusError
		resp.Error = err.Error()
		s.logger.Debug().Str("command", frame.Command).Err(err).Msg("Simulated command failed")
		return resp
	}
	raw, err := json.Marshal(result)
	if err != nil {
		resp.Status = bridge.StatusError
		resp.Error = err.Error()
		return resp
	}
	resp.Status = bridge.StatusSuccess
	resp.Result = raw
	return resp
}

// dispatch runs one command against the store; s.mu is held
func (s *Server) dispatch(command string, params json.RawMessage) (interface{}, error) {
	switch command {
	case bridge.CommandCheckCounterparty:
		var p struct {
			INN string `json:"inn"`
		}
		if err := json.Unmarshal(params, &p); err != nil || p.INN == "" {
			return nil, fmt.Errorf("inn is required")
		}
		id, ok := s.byINN[p.INN]
		if !ok {
			return map[string]interface{}{"found": false}, nil
		}
		return map[string]interface{}{"found": true, "counterparty": s.counterparties[id]}, nil

	case bridge.CommandCreateCounterparty:
		var cp bridge.Counterparty
		if err := json.Unmarshal(params, &cp); err != nil || cp.INN == "" {
			return nil, fmt.Errorf("inn is required")
		}
		if _, exists := s.byINN[cp.INN]; exists {
			return nil, fmt.Errorf("counterparty with inn %s already exists", cp.INN)
		}
		cp.UUID = uuid.New().String()
		s.counterparties[cp.UUID] = cp
		s.byINN[cp.INN] = cp.UUID
		return map[string]string{"uuid": cp.UUID}, nil

	case bridge.CommandUpdateCounterparty:
		var cp bridge.Counterparty
		if err := json.Unmarshal(params, &cp); err != nil {
			return nil, err
		}
		old, ok := s.counterparties[cp.UUID]
		if !ok {
			return nil, fmt.Errorf("counterparty %s not found", cp.UUID)
		}
		cp.INN = old.INN
		s.counterparties[cp.UUID] = cp
		return map[string]string{"uuid": cp.UUID}, nil

	case bridge.CommandCreateAgreement:
		var a bridge.Agreement
		if err := json.Unmarshal(params, &a); err != nil {
			return nil, err
		}
		if _, ok := s.counterparties[a.CounterpartyUUID]; !ok {
			return nil, fmt.Errorf("counterparty %s not found", a.CounterpartyUUID)
		}
		id := uuid.New().String()
		s.agreements[id] = a
		return map[string]string{"uuid": id}, nil

	case bridge.CommandAttachFile:
		var f bridge.FileAttachment
		if err := json.Unmarshal(params, &f); err != nil {
			return nil, err
		}
		data, err := base64.StdEncoding.DecodeString(f.FileData)
		if err != nil {
			return nil, fmt.Errorf("file_data is not base64: %w", err)
		}
		switch f.EntityType {
		case bridge.EntityCounterparty:
			if _, ok := s.counterparties[f.UUID]; !ok {
				return nil, fmt.Errorf("counterparty %s not found", f.UUID)
			}
		case bridge.EntityAgreement:
			if _, ok := s.agreements[f.UUID]; !ok {
				return nil, fmt.Errorf("agreement %s not found", f.UUID)
			}
		default:
			return nil, fmt.Errorf("unknown entity type %q", f.EntityType)
		}
		s.attachments = append(s.attachments, Attachment{EntityType: f.EntityType, UUID: f.UUID, FileName: f.FileName, Size: len(data)})
		return map[string]bool{"attached": true}, nil
	}
	return nil, fmt.Errorf("unknown command: %s", command)
}
