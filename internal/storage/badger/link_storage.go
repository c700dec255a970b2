package badger

import (
	"context"
	"errors"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/pactum/internal/interfaces"
	"github.com/ternarybob/pactum/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// LinkStorage persists external record links keyed by run ID. Links are write-once.
type LinkStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewLinkStorage creates a new LinkStorage instance
func NewLinkStorage(db *BadgerDB, logger arbor.ILogger) interfaces.LinkStorage {
	return &LinkStorage{
		db:     db,
		logger: logger,
	}
}

// SaveLink writes the link for its run, failing with ErrLinkExists if one was already written
func (s *LinkStorage) SaveLink(ctx context.Context, link *models.ExternalRecordLink) error {
	if link == nil || link.RunID == "" {
		return errors.New("link run ID is required")
	}

	err := s.db.Store().Insert(link.RunID, link)
	if errors.Is(err, badgerhold.ErrKeyExists) {
		return fmt.Errorf("%w: run %s", interfaces.ErrLinkExists, link.RunID)
	}
	if err != nil {
		return fmt.Errorf("failed to save link: %w", err)
	}

	s.logger.Debug().
		Str("run_id", link.RunID).
		Str("external_uuid", link.ExternalUUID).
		Bool("found_existing", link.FoundExisting).
		Msg("External record link saved")
	return nil
}

// GetLink loads the link for a run
func (s *LinkStorage) GetLink(ctx context.Context, runID string) (*models.ExternalRecordLink, error) {
	var link models.ExternalRecordLink
	err := s.db.Store().Get(runID, &link)
	if errors.Is(err, badgerhold.ErrNotFound) {
		return nil, fmt.Errorf("%w: run %s", interfaces.ErrLinkNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get link: %w", err)
	}
	return &link, nil
}
