package interfaces

import (
	"context"
	"errors"
	"time"
)

// ErrKeyNotFound is returned when a key is not found in the key/value store
var ErrKeyNotFound = errors.New("key not found")

// KeyValuePair represents a single key/value pair with metadata
type KeyValuePair struct {
	Key         string    `json:"key"`
	Value       string    `json:"value"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// KeyValueStorage holds secrets and settings referenced from config as {key-name}
type KeyValueStorage interface {
	// Get retrieves a value by key, returns ErrKeyNotFound if missing
	Get(ctx context.Context, key string) (string, error)

	// Set inserts or updates a key/value pair with optional description
	Set(ctx context.Context, key string, value string, description string) error

	// Delete removes a key/value pair, returns ErrKeyNotFound if missing
	Delete(ctx context.Context, key string) error

	// List returns all key/value pairs ordered by key
	List(ctx context.Context) ([]KeyValuePair, error)

	// GetAll returns all key/value pairs as a map
	GetAll(ctx context.Context) (map[string]string, error)
}
