package interfaces

import (
	"context"
	"errors"

	"github.com/ternarybob/pactum/internal/models"
)

var (
	// ErrRunNotFound is returned when no run state exists for an ID
	ErrRunNotFound = errors.New("run not found")
	// ErrLinkNotFound is returned when a run has no external record link
	ErrLinkNotFound = errors.New("external record link not found")
	// ErrLinkExists is returned when a run's external record link is written twice
	ErrLinkExists = errors.New("external record link already written")
)

// RunStorage persists pipeline run state
type RunStorage interface {
	// SaveRun upserts the run state and appends the history entry in one transaction. entry may be nil.
	SaveRun(ctx context.Context, run *models.RunState, entry *models.HistoryEntry) error
	GetRun(ctx context.Context, id string) (*models.RunState, error)
	ListRuns(ctx context.Context, state models.ProcessingState) ([]*models.RunState, error)
	DeleteRun(ctx context.Context, id string) error
}

// HistoryStorage reads the append-only processing history of runs
type HistoryStorage interface {
	ListHistory(ctx context.Context, runID string) ([]models.HistoryEntry, error)
}

// LinkStorage persists the write-once reconciliation outcome of a run
type LinkStorage interface {
	SaveLink(ctx context.Context, link *models.ExternalRecordLink) error
	GetLink(ctx context.Context, runID string) (*models.ExternalRecordLink, error)
}
