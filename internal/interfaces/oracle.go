package interfaces

import (
	"context"
	"fmt"
	"time"
)

// OracleRequest is the provider-agnostic envelope of one extraction oracle call
type OracleRequest struct {
	System      string
	Prompt      string
	Temperature float32
	MaxTokens   int
	Model       string                 // Empty uses the provider default
	Schema      map[string]interface{} // JSON schema of the expected reply, when the provider can enforce it
}

// OracleResponse is the raw reply text of the oracle, expected to hold JSON
type OracleResponse struct {
	Text     string
	Provider string
	Model    string
}

// Oracle is the text-extraction service: text in, structured JSON text out, fallible
type Oracle interface {
	Call(ctx context.Context, request *OracleRequest) (*OracleResponse, error)
}

// StatusError carries the HTTP-like status of a failed oracle or bridge call so callers can classify it
type StatusError struct {
	StatusCode int
	Message    string
	RetryAfter time.Duration // Server-suggested delay, 0 when absent
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("status %d: %s", e.StatusCode, e.Message)
}

// Retryable reports whether the status denotes a transient server-side condition
func (e *StatusError) Retryable() bool {
	return e.StatusCode == 429 || e.StatusCode == 408 || e.StatusCode >= 500
}
