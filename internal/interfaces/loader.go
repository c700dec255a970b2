package interfaces

import (
	"context"

	"github.com/ternarybob/pactum/internal/models"
)

// DocumentLoader turns a source file into ordered document elements
type DocumentLoader interface {
	Load(ctx context.Context, path string) (*models.Document, error)
}
