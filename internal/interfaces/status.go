package interfaces

import (
	"context"

	"github.com/ternarybob/pactum/internal/models"
)

// StatusReporter is the read side of the pipeline exposed to the CLI
type StatusReporter interface {
	Status(ctx context.Context, runID string) (*models.RunState, error)
	History(ctx context.Context, runID string) ([]models.HistoryEntry, error)
}
