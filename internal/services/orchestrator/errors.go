package orchestrator

import (
	"errors"
	"fmt"

	"github.com/ternarybob/pactum/internal/models"
)

var (
	// ErrAllChunksFailed is returned when no chunk of the main-fields pass produced a payload
	ErrAllChunksFailed = errors.New("all chunks failed extraction")
	// ErrInsufficientCoverage is returned when fewer main-fields chunks succeeded than the success threshold
	ErrInsufficientCoverage = errors.New("insufficient extraction coverage")
	// ErrEmptyDocument is returned when chunking yields nothing to extract
	ErrEmptyDocument = errors.New("document produced no chunks")
	// ErrRunExists is returned by Process for an ID that already has a run; use Rerun
	ErrRunExists = errors.New("run already exists")
	// ErrRunActive is returned by Rerun for a run that is neither completed nor failed
	ErrRunActive = errors.New("run is still in progress")
)

// StageError is the unrecoverable failure of one stage
type StageError struct {
	Stage models.ProcessingState
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}
