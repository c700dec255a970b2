package badger

import (
	"context"
	"errors"
	"fmt"
	"sort"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/pactum/internal/interfaces"
	"github.com/ternarybob/pactum/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// RunStorage persists run state and its processing history
type RunStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewRunStorage creates a new RunStorage instance
func NewRunStorage(db *BadgerDB, logger arbor.ILogger) *RunStorage {
	return &RunStorage{
		db:     db,
		logger: logger,
	}
}

// SaveRun upserts the run and appends entry (if any) in a single badger transaction,
// so a reader never sees a state without the history entry that produced it
func (s *RunStorage) SaveRun(ctx context.Context, run *models.RunState, entry *models.HistoryEntry) error {
	if run == nil || run.ID == "" {
		return errors.New("run ID is required")
	}

	store := s.db.Store()
	err := store.Badger().Update(func(txn *badgerdb.Txn) error {
		if err := store.TxUpsert(txn, run.ID, run); err != nil {
			return fmt.Errorf("failed to save run: %w", err)
		}
		if entry == nil {
			return nil
		}
		entry.RunID = run.ID
		if err := store.TxInsert(txn, entry.ID, entry); err != nil {
			return fmt.Errorf("failed to append history entry: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Debug().
		Str("run_id", run.ID).
		Str("state", string(run.State)).
		Msg("Run state saved")
	return nil
}

// GetRun loads a run by ID
func (s *RunStorage) GetRun(ctx context.Context, id string) (*models.RunState, error) {
	var run models.RunState
	err := s.db.Store().Get(id, &run)
	if errors.Is(err, badgerhold.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", interfaces.ErrRunNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return &run, nil
}

// ListRuns returns runs newest first, optionally filtered by state (empty state = all)
func (s *RunStorage) ListRuns(ctx context.Context, state models.ProcessingState) ([]*models.RunState, error) {
	var runs []models.RunState
	var query *badgerhold.Query
	if state != "" {
		query = badgerhold.Where("State").Eq(state)
	}

	if err := s.db.Store().Find(&runs, query); err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}

	sort.Slice(runs, func(i, j int) bool { return runs[i].CreatedAt.After(runs[j].CreatedAt) })

	result := make([]*models.RunState, len(runs))
	for i := range runs {
		result[i] = &runs[i]
	}
	return result, nil
}

// DeleteRun removes a run with its history and link
func (s *RunStorage) DeleteRun(ctx context.Context, id string) error {
	store := s.db.Store()
	err := store.Badger().Update(func(txn *badgerdb.Txn) error {
		if err := store.TxDelete(txn, id, &models.RunState{}); err != nil {
			if errors.Is(err, badgerhold.ErrNotFound) {
				return fmt.Errorf("%w: %s", interfaces.ErrRunNotFound, id)
			}
			return fmt.Errorf("failed to delete run: %w", err)
		}
		if err := store.TxDeleteMatching(txn, &models.HistoryEntry{}, badgerhold.Where("RunID").Eq(id)); err != nil {
			return fmt.Errorf("failed to delete history: %w", err)
		}
		if err := store.TxDelete(txn, id, &models.ExternalRecordLink{}); err != nil && !errors.Is(err, badgerhold.ErrNotFound) {
			return fmt.Errorf("failed to delete link: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Debug().Str("run_id", id).Msg("Run deleted")
	return nil
}

// ListHistory returns a run's history entries in append order
func (s *RunStorage) ListHistory(ctx context.Context, runID string) ([]models.HistoryEntry, error) {
	var entries []models.HistoryEntry
	query := badgerhold.Where("RunID").Eq(runID).SortBy("Sequence")
	if err := s.db.Store().Find(&entries, query); err != nil {
		return nil, fmt.Errorf("failed to list history: %w", err)
	}
	return entries, nil
}
