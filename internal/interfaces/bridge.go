package interfaces

import (
	"context"
	"encoding/json"
)

// BridgeClient issues correlated commands to the external line-of-business system
type BridgeClient interface {
	// Do sends one command and waits for the response carrying the same correlation ID
	Do(ctx context.Context, command string, params interface{}) (json.RawMessage, error)
	Close() error
}
