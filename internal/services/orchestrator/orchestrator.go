package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/pactum/internal/common"
	"github.com/ternarybob/pactum/internal/interfaces"
	"github.com/ternarybob/pactum/internal/models"
	"github.com/ternarybob/pactum/internal/services/aggregator"
	"github.com/ternarybob/pactum/internal/services/bridge"
	"github.com/ternarybob/pactum/internal/services/chunker"
	"github.com/ternarybob/pactum/internal/services/extraction"
	"github.com/ternarybob/pactum/internal/services/scheduler"
	"github.com/ternarybob/pactum/internal/services/validation"
)

// Reconciler matches the aggregated record against the line-of-business system
type Reconciler interface {
	Reconcile(ctx context.Context, record *models.ContractRecord, file bridge.File) (models.ExternalRecordLink, error)
}

// Dependencies are the collaborators of the pipeline. Reconciler and Events may be nil.
type Dependencies struct {
	Runs       interfaces.RunStorage
	History    interfaces.HistoryStorage
	Links      interfaces.LinkStorage
	Loader     interfaces.DocumentLoader
	Chunker    *chunker.Chunker
	Extractor  *extraction.Client
	Scheduler  *scheduler.Scheduler
	Aggregator *aggregator.Aggregator
	Validator  *validation.Service
	Reconciler Reconciler
	Events     interfaces.EventService
}

// Orchestrator runs documents through the fixed stage sequence, persisting every transition
type Orchestrator struct {
	deps         Dependencies
	config       common.PipelineConfig
	contextChars int
	logger       arbor.ILogger
}

// Compile-time interface assertion
var _ interfaces.StatusReporter = (*Orchestrator)(nil)

// New creates an Orchestrator. contextChars is how much of the previous chunk is carried into a prompt.
func New(deps Dependencies, config common.PipelineConfig, contextChars int, logger arbor.ILogger) *Orchestrator {
	return &Orchestrator{deps: deps, config: config, contextChars: contextChars, logger: logger}
}

// Process loads the document at path and runs it under runID (generated when empty)
func (o *Orchestrator) Process(ctx context.Context, runID, path string) (*models.RunState, error) {
	if o.deps.Loader == nil {
		return nil, fmt.Errorf("no document loader configured")
	}
	doc, err := o.deps.Loader.Load(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("load document: %w", err)
	}
	return o.ProcessDocument(ctx, runID, doc)
}

// ProcessDocument runs an already loaded document as a new run
func (o *Orchestrator) ProcessDocument(ctx context.Context, runID string, doc *models.Document) (*models.RunState, error) {
	if runID == "" {
		runID = common.NewRunID()
	}
	if _, err := o.deps.Runs.GetRun(ctx, runID); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrRunExists, runID)
	} else if !errors.Is(err, interfaces.ErrRunNotFound) {
		return nil, fmt.Errorf("check run %s: %w", runID, err)
	}

	now := time.Now()
	run := &models.RunState{
		ID:           runID,
		DocumentName: doc.Name,
		DocumentPath: doc.Path,
		Attempt:      1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	return o.execute(ctx, run, doc, 0)
}

// Rerun re-enters a completed or failed run at uploaded, reloading its document. A run stuck
// in an earlier stage longer than stale_after, as left by a crashed process, is re-run too.
func (o *Orchestrator) Rerun(ctx context.Context, runID string) (*models.RunState, error) {
	prev, err := o.deps.Runs.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !prev.State.IsTerminal() {
		if !o.isStale(prev) {
			return nil, fmt.Errorf("%w: %s is %s", ErrRunActive, runID, prev.State)
		}
		o.logger.Warn().
			Str("run_id", runID).
			Str("state", string(prev.State)).
			Str("updated_at", prev.UpdatedAt.Format(time.RFC3339)).
			Msg("Re-running stale run")
	}
	if o.deps.Loader == nil {
		return nil, fmt.Errorf("no document loader configured")
	}
	doc, err := o.deps.Loader.Load(ctx, prev.DocumentPath)
	if err != nil {
		return nil, fmt.Errorf("reload document: %w", err)
	}

	seq := 0
	if o.deps.History != nil {
		entries, err := o.deps.History.ListHistory(ctx, runID)
		if err != nil {
			return nil, fmt.Errorf("list history: %w", err)
		}
		seq = len(entries)
	}

	run := &models.RunState{
		ID:           prev.ID,
		DocumentName: doc.Name,
		DocumentPath: prev.DocumentPath,
		Attempt:      prev.Attempt + 1,
		CreatedAt:    prev.CreatedAt,
		UpdatedAt:    time.Now(),
	}
	o.logger.Info().
		Str("run_id", runID).
		Str("previous_state", string(prev.State)).
		Int("attempt", run.Attempt).
		Msg("Re-running pipeline")
	return o.execute(ctx, run, doc, seq)
}

func (o *Orchestrator) isStale(run *models.RunState) bool {
	staleAfter := o.config.StaleAfter.Std()
	return staleAfter > 0 && time.Since(run.UpdatedAt) > staleAfter
}

// Status returns the last persisted state of a run
func (o *Orchestrator) Status(ctx context.Context, runID string) (*models.RunState, error) {
	return o.deps.Runs.GetRun(ctx, runID)
}

// History returns the processing history of a run
func (o *Orchestrator) History(ctx context.Context, runID string) ([]models.HistoryEntry, error) {
	if o.deps.History == nil {
		return nil, nil
	}
	return o.deps.History.ListHistory(ctx, runID)
}

func (o *Orchestrator) execute(ctx context.Context, run *models.RunState, doc *models.Document, seq int) (*models.RunState, error) {
	p := &pipeline{
		o:        o,
		run:      run,
		doc:      doc,
		sequence: seq,
		logger:   o.logger.WithCorrelationId(run.ID),
	}
	return p.execute(ctx)
}
