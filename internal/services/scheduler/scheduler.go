package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/pactum/internal/common"
	"github.com/ternarybob/pactum/internal/models"
	"golang.org/x/sync/semaphore"
)

// ExtractFunc extracts one chunk. A non-nil error is fatal and stops the run.
type ExtractFunc func(ctx context.Context, chunk models.Chunk) (models.ExtractionResult, error)

// Hooks are optional callbacks of one run
type Hooks struct {
	// OnProgress is called after every finished chunk with the running count
	OnProgress func(done, total int)
	// OnBatch is called after a batch completes and before the next one starts
	OnBatch func(batch int, results []models.ExtractionResult)
}

// Report is the outcome of one pass, Results aligned index-for-index with the input chunks
type Report struct {
	Results   []models.ExtractionResult
	Succeeded int
	Failed    int
	TimedOut  int
}

// FailureRatio returns (failed + timed out) / total, 0 for an empty pass
func (r Report) FailureRatio() float64 {
	if len(r.Results) == 0 {
		return 0
	}
	return float64(r.Failed+r.TimedOut) / float64(len(r.Results))
}

// Summary converts the counts into the persisted pass summary
func (r Report) Summary() models.PassSummary {
	return models.PassSummary{
		Total:     len(r.Results),
		Succeeded: r.Succeeded,
		Failed:    r.Failed,
		TimedOut:  r.TimedOut,
	}
}

// Successful returns the successful results in chunk order
func (r Report) Successful() []models.ExtractionResult {
	out := make([]models.ExtractionResult, 0, r.Succeeded)
	for _, result := range r.Results {
		if result.OK() {
			out = append(out, result)
		}
	}
	return out
}

// Scheduler runs chunk extractions in fixed-size batches under a concurrency bound
type Scheduler struct {
	config common.SchedulerConfig
	logger arbor.ILogger
}

// New creates a Scheduler. Non-positive limits fall back to 1.
func New(config common.SchedulerConfig, logger arbor.ILogger) *Scheduler {
	if config.BatchSize <= 0 {
		config.BatchSize = 1
	}
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = 1
	}
	return &Scheduler{config: config, logger: logger}
}

// run is the mutable state of one Run call
type run struct {
	mu      sync.Mutex
	results []models.ExtractionResult
	filled  []bool
	done    int
	sealed  bool // set once the stage deadline passes; late results are dropped
	fatal   error
}

func (r *run) store(i int, result models.ExtractionResult) (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed || r.fatal != nil {
		return r.done, false
	}
	r.results[i] = result
	r.filled[i] = true
	r.done++
	return r.done, true
}

func (r *run) fail(err error, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fatal == nil && !r.sealed {
		r.fatal = err
		cancel()
	}
}

// Run extracts every chunk and returns results aligned with chunks. Chunk failures are
// recorded, never returned; the stage timeout keeps completed results and fills the rest with
// timeout errors. Only a fatal error from fn is returned, after the in-flight batch drains.
func (s *Scheduler) Run(ctx context.Context, pass models.PassKind, chunks []models.Chunk, fn ExtractFunc, hooks Hooks) (Report, error) {
	total := len(chunks)
	if total == 0 {
		return Report{}, nil
	}

	var (
		runCtx context.Context
		cancel context.CancelFunc
	)
	if timeout := s.config.StageTimeout.Std(); timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, timeout)
	} else {
		runCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	state := &run{
		results: make([]models.ExtractionResult, total),
		filled:  make([]bool, total),
	}
	// scoped to this run, never shared across documents
	sem := semaphore.NewWeighted(int64(s.config.MaxConcurrency))
	start := time.Now()

	batch := 0
	for first := 0; first < total && runCtx.Err() == nil; first += s.config.BatchSize {
		last := first + s.config.BatchSize
		if last > total {
			last = total
		}

		var wg sync.WaitGroup
		for i := first; i < last; i++ {
			if err := sem.Acquire(runCtx, 1); err != nil {
				break
			}
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				defer sem.Release(1)
				defer func() {
					if r := recover(); r != nil {
						s.logger.Error().
							Str("pass", string(pass)).
							Int("chunk", chunks[i].Index).
							Str("panic", fmt.Sprintf("%v", r)).
							Str("stack", common.GetStackTrace()).
							Msg("Recovered from panic in chunk extraction")
						state.fail(fmt.Errorf("chunk %d: panic: %v", chunks[i].Index, r), cancel)
					}
				}()

				result, err := fn(runCtx, chunks[i])
				if err != nil {
					state.fail(err, cancel)
					return
				}
				result.ChunkIndex = chunks[i].Index
				result.Pass = pass
				if done, ok := state.store(i, result); ok && hooks.OnProgress != nil {
					hooks.OnProgress(done, total)
				}
			}(i)
		}

		if !s.wait(runCtx, &wg, state) {
			break
		}

		state.mu.Lock()
		fatal := state.fatal
		batchResults := append([]models.ExtractionResult(nil), state.results[first:last]...)
		state.mu.Unlock()
		if fatal != nil {
			break
		}

		if hooks.OnBatch != nil {
			hooks.OnBatch(batch, batchResults)
		}
		batch++
	}

	state.mu.Lock()
	if state.fatal != nil {
		err := state.fatal
		state.mu.Unlock()
		s.logger.Error().Str("pass", string(pass)).Err(err).Msg("Extraction pass aborted")
		return Report{}, err
	}
	state.sealed = true
	results := append([]models.ExtractionResult(nil), state.results...)
	filled := append([]bool(nil), state.filled...)
	state.mu.Unlock()

	report := Report{Results: results}
	cause := "stage cancelled"
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		cause = "stage timeout"
	}
	for i := range report.Results {
		if !filled[i] {
			report.Results[i] = models.ExtractionResult{
				ChunkIndex: chunks[i].Index,
				Pass:       pass,
				Status:     models.ResultError,
				ErrorKind:  models.ErrorKindTimeout,
				Error:      cause,
			}
		}
		switch {
		case report.Results[i].OK():
			report.Succeeded++
		case report.Results[i].ErrorKind == models.ErrorKindTimeout:
			report.TimedOut++
		default:
			report.Failed++
		}
	}

	event := s.logger.Info()
	if report.FailureRatio() > s.config.WarnFailureRatio {
		event = s.logger.Warn()
	}
	event.
		Str("pass", string(pass)).
		Int("chunks", total).
		Int("succeeded", report.Succeeded).
		Int("failed", report.Failed).
		Int("timed_out", report.TimedOut).
		Int("batches", batch).
		Dur("duration", time.Since(start)).
		Msg("Extraction pass finished")

	return report, nil
}

// wait blocks until the batch finishes or the run context ends. On deadline the run is
// sealed and in-flight calls are abandoned; it reports whether the next batch may start.
func (s *Scheduler) wait(runCtx context.Context, wg *sync.WaitGroup, state *run) bool {
	finished := make(chan struct{})
	go func() {
		wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		return runCtx.Err() == nil
	case <-runCtx.Done():
	}

	state.mu.Lock()
	fatal := state.fatal != nil
	if !fatal {
		state.sealed = true
	}
	state.mu.Unlock()

	// a fatal error cancelled the run: let in-flight calls drain before returning it
	if fatal {
		<-finished
	}
	return false
}
