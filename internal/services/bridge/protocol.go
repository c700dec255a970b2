package bridge

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Frame types on the stream
const (
	FrameConnected = "connected"
	FrameHeartbeat = "heartbeat"
	FrameCommand   = "command"
	FrameResponse  = "response"
)

// Response statuses
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Command names understood by the line-of-business system
const (
	CommandCheckCounterparty  = "check_counterparty"
	CommandCreateCounterparty = "create_counterparty"
	CommandUpdateCounterparty = "update_counterparty"
	CommandCreateAgreement    = "create_agreement"
	CommandAttachFile         = "attach_file"
)

// Frame is one JSON message on the stream in either direction
type Frame struct {
	Type     string          `json:"type"`
	ID       string          `json:"id,omitempty"` // correlation ID of a command and its response
	ClientID string          `json:"client_id,omitempty"`
	Command  string          `json:"command,omitempty"`
	Params   json.RawMessage `json:"params,omitempty"`
	Status   string          `json:"status,omitempty"`
	Result   json.RawMessage `json:"result,omitempty"`
	Error    string          `json:"error,omitempty"`
	TS       int64           `json:"ts,omitempty"` // heartbeat send time, unix milliseconds
}

var (
	// ErrTransport classifies stream failures; commands failing with it may be re-sent
	ErrTransport = errors.New("bridge transport failure")
	// ErrHeartbeatLost is raised when no heartbeat arrived within the grace period
	ErrHeartbeatLost = fmt.Errorf("%w: heartbeat lost", ErrTransport)
	// ErrConnectionLost is raised when reading or writing the stream fails
	ErrConnectionLost = fmt.Errorf("%w: connection lost", ErrTransport)
	// ErrClosed is returned after Close
	ErrClosed = errors.New("bridge client closed")
	// ErrNotConfigured is returned when no bridge URL is set
	ErrNotConfigured = errors.New("bridge url not configured")
)

// CommandError is a protocol-level failure reported by the remote system; it is not retried
type CommandError struct {
	Command string
	Message string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("command %s failed: %s", e.Command, e.Message)
}
