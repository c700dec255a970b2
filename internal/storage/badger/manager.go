package badger

import (
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/pactum/internal/common"
	"github.com/ternarybob/pactum/internal/interfaces"
)

// Manager owns the Badger connection and the storages built on it
type Manager struct {
	db     *BadgerDB
	runs   *RunStorage
	links  interfaces.LinkStorage
	kv     interfaces.KeyValueStorage
	logger arbor.ILogger
}

// NewManager creates a new Badger storage manager
func NewManager(logger arbor.ILogger, config *common.BadgerConfig) (*Manager, error) {
	db, err := NewBadgerDB(logger, config)
	if err != nil {
		return nil, err
	}

	manager := &Manager{
		db:     db,
		runs:   NewRunStorage(db, logger),
		links:  NewLinkStorage(db, logger),
		kv:     NewKVStorage(db, logger),
		logger: logger,
	}

	logger.Debug().Str("path", config.Path).Msg("Badger storage manager initialized")

	return manager, nil
}

// RunStorage returns the run storage interface
func (m *Manager) RunStorage() interfaces.RunStorage {
	return m.runs
}

// HistoryStorage returns the history storage interface
func (m *Manager) HistoryStorage() interfaces.HistoryStorage {
	return m.runs
}

// LinkStorage returns the external record link storage interface
func (m *Manager) LinkStorage() interfaces.LinkStorage {
	return m.links
}

// KeyValueStorage returns the key/value storage interface
func (m *Manager) KeyValueStorage() interfaces.KeyValueStorage {
	return m.kv
}

// Close closes the database connection
func (m *Manager) Close() error {
	return m.db.Close()
}
