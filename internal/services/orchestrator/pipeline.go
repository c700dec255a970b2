package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/pactum/internal/interfaces"
	"github.com/ternarybob/pactum/internal/models"
	"github.com/ternarybob/pactum/internal/services/aggregator"
	"github.com/ternarybob/pactum/internal/services/bridge"
	"github.com/ternarybob/pactum/internal/services/extraction"
	"github.com/ternarybob/pactum/internal/services/scheduler"
)

// previousFragmentHeading introduces the tail of the previous chunk in a prompt context
const previousFragmentHeading = "ПРЕДЫДУЩИЙ ФРАГМЕНТ"

// pipeline is the state of one execution of a run. mu guards run, which the
// scheduler's progress hook and the oracle recorder touch from worker goroutines.
// saveMu orders snapshot writes so a stored run never goes back to an older snapshot.
type pipeline struct {
	o        *Orchestrator
	run      *models.RunState
	doc      *models.Document
	sequence int
	logger   arbor.ILogger

	saveMu      sync.Mutex
	mu          sync.Mutex
	chunks      []models.Chunk
	accumulated map[string]interface{}
	mainResults []models.ExtractionResult
	itemResults []models.ExtractionResult
}

func (p *pipeline) execute(ctx context.Context) (*models.RunState, error) {
	stages := []struct {
		state models.ProcessingState
		fn    func(context.Context) error
	}{
		{models.StateUploaded, p.upload},
		{models.StateExtractingMain, p.extractMain},
		{models.StateExtractingItems, p.extractItems},
		{models.StateAggregating, p.aggregate},
		{models.StateValidating, p.validate},
		{models.StateReconcilingExternal, p.reconcile},
	}

	p.logger.Info().
		Str("run_id", p.run.ID).
		Str("document", p.doc.Name).
		Int("attempt", p.run.Attempt).
		Msg("Pipeline started")

	for _, stage := range stages {
		if err := ctx.Err(); err != nil {
			return p.fail(ctx, stage.state, err)
		}
		if err := p.enter(ctx, stage.state); err != nil {
			return p.run, err
		}
		if err := stage.fn(ctx); err != nil {
			return p.fail(ctx, stage.state, err)
		}
	}
	return p.complete(ctx)
}

// enter moves the run into state and persists the transition
func (p *pipeline) enter(ctx context.Context, state models.ProcessingState) error {
	p.mu.Lock()
	p.run.State = state
	p.run.Progress = newProgress(state, 0, "", 0, 0)
	p.run.UpdatedAt = time.Now()
	p.mu.Unlock()

	msg := StageNames[state]
	if state == models.StateUploaded {
		msg = fmt.Sprintf("%s: %s", msg, p.doc.Name)
	}
	return p.persist(ctx, models.HistorySuccess, msg, nil, interfaces.EventRunProgress)
}

func (p *pipeline) upload(ctx context.Context) error {
	chunks := p.o.deps.Chunker.Plan(p.doc.Elements)
	if len(chunks) == 0 {
		return ErrEmptyDocument
	}
	p.chunks = chunks

	tables := 0
	for _, c := range chunks {
		if c.Kind() == models.ElementTable {
			tables++
		}
	}
	p.logger.Info().
		Int("elements", len(p.doc.Elements)).
		Int("chunks", len(chunks)).
		Int("table_chunks", tables).
		Int("text_length", p.doc.TextLength()).
		Msg("Document chunked")

	return p.progress(ctx, 100, fmt.Sprintf("Документ разбит на %d чанков", len(chunks)), 0, 0)
}

func (p *pipeline) extractMain(ctx context.Context) error {
	p.accumulated = map[string]interface{}{}
	fn := func(ctx context.Context, chunk models.Chunk) (models.ExtractionResult, error) {
		return p.extractor().Extract(ctx, extraction.Request{
			Chunk:   chunk,
			Pass:    models.PassMainFields,
			Context: p.chunkContext(chunk),
		})
	}
	hooks := scheduler.Hooks{
		OnProgress: p.chunkProgress(ctx, models.StateExtractingMain),
		OnBatch:    p.foldBatch,
	}

	report, err := p.o.deps.Scheduler.Run(ctx, models.PassMainFields, p.chunks, fn, hooks)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	summary := report.Summary()
	p.mu.Lock()
	p.run.MainPass = summary
	p.mainResults = report.Results
	p.mu.Unlock()

	p.logger.Info().
		Int("total", summary.Total).
		Int("succeeded", summary.Succeeded).
		Int("failed", summary.Failed).
		Int("timed_out", summary.TimedOut).
		Msg("Main fields pass finished")

	if summary.Succeeded == 0 {
		return fmt.Errorf("%w: %d of %d", ErrAllChunksFailed, summary.Total-summary.Succeeded, summary.Total)
	}
	ratio := summary.SuccessRatio()
	if ratio < p.o.config.SuccessThreshold {
		return fmt.Errorf("%w: %d of %d chunks succeeded, need %.0f%%",
			ErrInsufficientCoverage, summary.Succeeded, summary.Total, p.o.config.SuccessThreshold*100)
	}
	if ratio < 1 {
		p.warn(fmt.Sprintf("Основные поля: обработано %d из %d чанков", summary.Succeeded, summary.Total))
	}
	return p.progress(ctx, 100, "", summary.Total, summary.Total)
}

func (p *pipeline) extractItems(ctx context.Context) error {
	if !p.o.config.RunItemsPass {
		return p.progress(ctx, 100, "Извлечение услуг отключено", 0, 0)
	}

	fn := func(ctx context.Context, chunk models.Chunk) (models.ExtractionResult, error) {
		return p.extractor().Extract(ctx, extraction.Request{Chunk: chunk, Pass: models.PassLineItems})
	}
	hooks := scheduler.Hooks{OnProgress: p.chunkProgress(ctx, models.StateExtractingItems)}

	report, err := p.o.deps.Scheduler.Run(ctx, models.PassLineItems, p.chunks, fn, hooks)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	summary := report.Summary()
	p.mu.Lock()
	p.run.ItemsPass = summary
	p.itemResults = report.Results
	p.mu.Unlock()

	p.logger.Info().
		Int("total", summary.Total).
		Int("succeeded", summary.Succeeded).
		Int("failed", summary.Failed).
		Int("timed_out", summary.TimedOut).
		Msg("Line items pass finished")

	switch {
	case summary.Succeeded == 0:
		p.warn("Услуги не извлечены: все чанки завершились ошибкой")
	case summary.Succeeded < summary.Total:
		p.warn(fmt.Sprintf("Услуги: обработано %d из %d чанков", summary.Succeeded, summary.Total))
	}
	return p.progress(ctx, 100, "", summary.Total, summary.Total)
}

func (p *pipeline) aggregate(ctx context.Context) error {
	summary := BuildChunkContext(aggregator.DecodeRecord(p.accumulated))
	start := time.Now()
	outcome, err := p.o.deps.Aggregator.MergeChunks(ctx, p.mainResults, summary)
	if err != nil {
		return err
	}

	record := outcome.Record
	record.LineItems = aggregator.MergeLineItems(p.itemResults)

	p.mu.Lock()
	p.run.Record = record
	p.run.MergeStrategy = outcome.Strategy
	p.run.Conflicts = outcome.Conflicts
	if outcome.Attempts > 0 {
		status := models.ResultSuccess
		if outcome.Strategy != aggregator.StrategyOracle {
			status = models.ResultError
		}
		p.run.OracleRequests = append(p.run.OracleRequests, models.OracleRequestLog{
			Pass:       models.PassMainFields,
			ChunkIndex: -1,
			Attempt:    outcome.Attempts,
			Status:     status,
			Duration:   time.Since(start),
			Timestamp:  start,
		})
	}
	p.mu.Unlock()

	if outcome.Strategy == aggregator.StrategyFallback && outcome.Attempts > 0 {
		p.warn("Объединение выполнено локально: сервис объединения недоступен")
	}

	p.logger.Info().
		Str("strategy", outcome.Strategy).
		Int("conflicts", len(outcome.Conflicts)).
		Int("line_items", len(record.LineItems)).
		Msg("Results aggregated")

	return p.progress(ctx, 100, fmt.Sprintf("Объединено: %s, услуг: %d", outcome.Strategy, len(record.LineItems)), 0, 0)
}

func (p *pipeline) validate(ctx context.Context) error {
	report := p.o.deps.Validator.Validate(p.run.Record)

	p.mu.Lock()
	p.run.ValidationErrors = report.Errors
	p.run.ValidationWarnings = report.Warnings
	if report.Valid {
		p.run.Record = report.Record
	}
	p.mu.Unlock()

	if !report.Valid {
		return report.Err()
	}
	for _, w := range report.Warnings {
		p.warn("Валидация: " + w)
	}
	return p.progress(ctx, 100, fmt.Sprintf("Исправлено полей: %d", len(report.Corrections)), 0, 0)
}

func (p *pipeline) reconcile(ctx context.Context) error {
	if p.o.deps.Reconciler == nil {
		p.warn("Синхронизация пропущена: учётная система не настроена")
		return p.progress(ctx, 100, "Учётная система не настроена", 0, 0)
	}

	if p.o.deps.Links != nil {
		existing, err := p.o.deps.Links.GetLink(ctx, p.run.ID)
		if err == nil {
			p.mu.Lock()
			p.run.Link = existing
			p.mu.Unlock()
			p.logger.Info().
				Str("external_uuid", existing.ExternalUUID).
				Msg("Reusing external record link from a previous attempt")
			return p.progress(ctx, 100, "Связь с учётной системой уже установлена", 0, 0)
		}
		if !errors.Is(err, interfaces.ErrLinkNotFound) {
			return fmt.Errorf("get link: %w", err)
		}
	}

	link, err := p.o.deps.Reconciler.Reconcile(ctx, p.run.Record, bridge.File{Name: p.doc.Name, Content: p.doc.Raw})
	if err != nil {
		return err
	}
	link.RunID = p.run.ID
	if p.o.deps.Links != nil {
		if err := p.o.deps.Links.SaveLink(ctx, &link); err != nil {
			return fmt.Errorf("save link: %w", err)
		}
	}

	p.mu.Lock()
	p.run.Link = &link
	p.mu.Unlock()

	msg := "Контрагент создан"
	if link.FoundExisting {
		msg = "Контрагент найден"
	}
	return p.progress(ctx, 100, msg, 0, 0)
}

func (p *pipeline) complete(ctx context.Context) (*models.RunState, error) {
	now := time.Now()
	p.mu.Lock()
	p.run.State = models.StateCompleted
	p.run.Progress = newProgress(models.StateCompleted, 100, "", 0, 0)
	p.run.CompletedAt = &now
	p.run.UpdatedAt = now
	warnings := len(p.run.Warnings)
	p.mu.Unlock()

	status := models.HistorySuccess
	msg := "Обработка завершена"
	if warnings > 0 {
		status = models.HistoryWarning
		msg = fmt.Sprintf("Обработка завершена с предупреждениями: %d", warnings)
	}
	if err := p.persist(ctx, status, msg, nil, interfaces.EventRunCompleted); err != nil {
		return p.run, err
	}

	p.logger.Info().
		Str("run_id", p.run.ID).
		Int("warnings", warnings).
		Str("merge_strategy", p.run.MergeStrategy).
		Msg("Pipeline completed")
	return p.run, nil
}

// fail records the failure of stage. Persisting uses a fresh context so a cancelled
// run still lands in the failed state.
func (p *pipeline) fail(ctx context.Context, stage models.ProcessingState, cause error) (*models.RunState, error) {
	p.mu.Lock()
	p.run.State = models.StateFailed
	p.run.FailedStage = stage
	p.run.ErrorMessage = cause.Error()
	p.run.Progress = newProgress(models.StateFailed, 0, cause.Error(), 0, 0)
	p.run.Progress.OverallProgress = OverallProgress(stage, 0)
	p.run.UpdatedAt = time.Now()
	p.mu.Unlock()

	p.logger.Error().
		Str("run_id", p.run.ID).
		Str("stage", string(stage)).
		Err(cause).
		Msg("Pipeline failed")

	persistCtx := context.WithoutCancel(ctx)
	details := map[string]string{"failed_stage": string(stage)}
	if err := p.persist(persistCtx, models.HistoryError, cause.Error(), details, interfaces.EventRunFailed); err != nil {
		p.logger.Warn().Err(err).Msg("Failed to persist failed run state")
	}
	return p.run, &StageError{Stage: stage, Err: cause}
}

// progress updates the progress within the current stage, persisting without a history entry
func (p *pipeline) progress(ctx context.Context, stageProgress int, message string, processed, total int) error {
	p.mu.Lock()
	p.run.Progress = newProgress(p.run.State, stageProgress, message, processed, total)
	p.run.UpdatedAt = time.Now()
	p.mu.Unlock()
	return p.save(ctx, nil, interfaces.EventRunProgress)
}

func (p *pipeline) chunkProgress(ctx context.Context, state models.ProcessingState) func(done, total int) {
	return func(done, total int) {
		p.mu.Lock()
		if p.run.Progress.Stage == state && p.run.Progress.ChunksTotal == total && done < p.run.Progress.ChunksProcessed {
			p.mu.Unlock()
			return
		}
		p.run.Progress = newProgress(state, 0, "", done, total)
		p.run.UpdatedAt = time.Now()
		p.mu.Unlock()
		if err := p.save(ctx, nil, interfaces.EventRunProgress); err != nil {
			p.logger.Warn().Err(err).Int("done", done).Msg("Failed to persist chunk progress")
		}
	}
}

// foldBatch merges a finished batch into the accumulated main fields that later prompts see
func (p *pipeline) foldBatch(batch int, results []models.ExtractionResult) {
	p.mu.Lock()
	defer p.mu.Unlock()

	merged := []models.ExtractionResult{{ChunkIndex: -1, Status: models.ResultSuccess, Payload: p.accumulated}}
	for _, r := range results {
		if r.OK() {
			merged = append(merged, r)
		}
	}
	if len(merged) == 1 {
		return
	}
	p.accumulated, _ = aggregator.Fallback(merged, false)
	p.logger.Debug().
		Int("batch", batch).
		Int("fields", len(p.accumulated)).
		Msg("Accumulated context updated")
}

func (p *pipeline) chunkContext(chunk models.Chunk) string {
	p.mu.Lock()
	summary := BuildChunkContext(aggregator.DecodeRecord(p.accumulated))
	p.mu.Unlock()

	pos := chunk.Index
	if pos < 0 || pos >= len(p.chunks) {
		pos = 0
	}
	if prev := previousFragment(p.chunks, pos, p.o.contextChars); prev != "" {
		if summary != "" {
			summary += "\n\n"
		}
		summary += previousFragmentHeading + ":\n" + prev
	}
	return summary
}

func (p *pipeline) extractor() *extraction.Client {
	return p.o.deps.Extractor.WithRecorder(func(entry models.OracleRequestLog) {
		p.mu.Lock()
		p.run.OracleRequests = append(p.run.OracleRequests, entry)
		p.mu.Unlock()
	})
}

func (p *pipeline) warn(msg string) {
	p.mu.Lock()
	p.run.Warnings = append(p.run.Warnings, msg)
	p.mu.Unlock()
	p.logger.Warn().Str("run_id", p.run.ID).Msg(msg)
}

// persist saves the run with a history entry
func (p *pipeline) persist(ctx context.Context, status models.HistoryStatus, message string, details map[string]string, event interfaces.EventType) error {
	p.mu.Lock()
	p.sequence++
	entry := &models.HistoryEntry{
		ID:        uuid.New().String(),
		RunID:     p.run.ID,
		Sequence:  p.sequence,
		Stage:     p.run.State,
		Status:    status,
		Message:   message,
		Details:   details,
		Timestamp: time.Now(),
	}
	p.mu.Unlock()
	return p.save(ctx, entry, event)
}

// save writes a snapshot of the run and publishes the matching event
func (p *pipeline) save(ctx context.Context, entry *models.HistoryEntry, event interfaces.EventType) error {
	p.saveMu.Lock()
	defer p.saveMu.Unlock()

	p.mu.Lock()
	snapshot := *p.run
	snapshot.Warnings = append([]string(nil), p.run.Warnings...)
	snapshot.OracleRequests = append([]models.OracleRequestLog(nil), p.run.OracleRequests...)
	if entry != nil {
		if entry.Details == nil {
			entry.Details = map[string]string{}
		}
		entry.Details["overall_progress"] = strconv.Itoa(snapshot.Progress.OverallProgress)
	}
	p.mu.Unlock()

	if err := p.o.deps.Runs.SaveRun(ctx, &snapshot, entry); err != nil {
		return fmt.Errorf("save run %s: %w", snapshot.ID, err)
	}
	p.publish(ctx, event, &snapshot)
	return nil
}

func (p *pipeline) publish(ctx context.Context, eventType interfaces.EventType, run *models.RunState) {
	if p.o.deps.Events == nil {
		return
	}
	payload := map[string]interface{}{
		"run_id":           run.ID,
		"state":            string(run.State),
		"stage_name":       run.Progress.StageName,
		"message":          run.Progress.Message,
		"overall_progress": run.Progress.OverallProgress,
		"stage_progress":   run.Progress.StageProgress,
		"chunks_processed": run.Progress.ChunksProcessed,
		"chunks_total":     run.Progress.ChunksTotal,
	}
	if run.State == models.StateFailed {
		payload["error"] = run.ErrorMessage
		payload["failed_stage"] = string(run.FailedStage)
	}
	if run.State == models.StateCompleted {
		payload["warnings"] = len(run.Warnings)
	}
	if err := p.o.deps.Events.PublishSync(ctx, interfaces.Event{Type: eventType, Payload: payload}); err != nil {
		p.logger.Warn().Err(err).Str("event", string(eventType)).Msg("Event handlers failed")
	}
}
