package badger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/pactum/internal/interfaces"
	"github.com/timshannon/badgerhold/v4"
)

// KVStorage implements the KeyValueStorage interface for Badger
type KVStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewKVStorage creates a new KVStorage instance
func NewKVStorage(db *BadgerDB, logger arbor.ILogger) interfaces.KeyValueStorage {
	return &KVStorage{
		db:     db,
		logger: logger,
	}
}

// normalizeKey converts a key to lowercase for case-insensitive storage
func (s *KVStorage) normalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

// Get retrieves a value by key (case-insensitive)
func (s *KVStorage) Get(ctx context.Context, key string) (string, error) {
	var pair interfaces.KeyValuePair
	err := s.db.Store().Get(s.normalizeKey(key), &pair)
	if errors.Is(err, badgerhold.ErrNotFound) {
		return "", interfaces.ErrKeyNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get key: %w", err)
	}
	return pair.Value, nil
}

// Set inserts or updates a key/value pair, preserving CreatedAt of an existing key
func (s *KVStorage) Set(ctx context.Context, key string, value string, description string) error {
	normalizedKey := s.normalizeKey(key)
	now := time.Now()

	pair := interfaces.KeyValuePair{
		Key:         normalizedKey,
		Value:       value,
		Description: description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	var existing interfaces.KeyValuePair
	if err := s.db.Store().Get(normalizedKey, &existing); err == nil {
		pair.CreatedAt = existing.CreatedAt
	} else if !errors.Is(err, badgerhold.ErrNotFound) {
		return fmt.Errorf("failed to check key existence: %w", err)
	}

	if err := s.db.Store().Upsert(normalizedKey, &pair); err != nil {
		return fmt.Errorf("failed to set key/value: %w", err)
	}

	s.logger.Debug().Str("key", normalizedKey).Msg("Stored key/value pair")
	return nil
}

// Delete removes a key/value pair (case-insensitive)
func (s *KVStorage) Delete(ctx context.Context, key string) error {
	err := s.db.Store().Delete(s.normalizeKey(key), &interfaces.KeyValuePair{})
	if errors.Is(err, badgerhold.ErrNotFound) {
		return interfaces.ErrKeyNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to delete key: %w", err)
	}
	return nil
}

// List returns all key/value pairs ordered by key
func (s *KVStorage) List(ctx context.Context) ([]interfaces.KeyValuePair, error) {
	var pairs []interfaces.KeyValuePair
	if err := s.db.Store().Find(&pairs, nil); err != nil {
		return nil, fmt.Errorf("failed to list key/value pairs: %w", err)
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].Key < pairs[j].Key })
	return pairs, nil
}

// GetAll returns all key/value pairs as a map
func (s *KVStorage) GetAll(ctx context.Context) (map[string]string, error) {
	pairs, err := s.List(ctx)
	if err != nil {
		return nil, err
	}

	kvMap := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		kvMap[pair.Key] = pair.Value
	}
	return kvMap, nil
}
