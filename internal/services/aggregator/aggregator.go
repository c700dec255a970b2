package aggregator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/pactum/internal/common"
	"github.com/ternarybob/pactum/internal/interfaces"
	"github.com/ternarybob/pactum/internal/models"
	"github.com/ternarybob/pactum/internal/services/extraction"
)

// Merge strategies reported on MergeOutcome
const (
	StrategyNone     = "none"
	StrategySingle   = "single"
	StrategyOracle   = "oracle"
	StrategyFallback = "fallback"
)

// MergeOutcome is the document-level record produced from per-chunk main-field results
type MergeOutcome struct {
	Record    *models.ContractRecord
	Payload   map[string]interface{} // merged payload before decoding
	Strategy  string
	Conflicts []models.FieldConflict
	Attempts  int // oracle merge attempts, 0 when no merge call was made
}

// Aggregator merges extraction results into one record
type Aggregator struct {
	oracle interfaces.Oracle
	config common.AggregationConfig
	logger arbor.ILogger
}

// New creates an Aggregator. oracle may be nil, in which case merges always use the fallback.
func New(oracle interfaces.Oracle, config common.AggregationConfig, logger arbor.ILogger) *Aggregator {
	if config.MergeRetryMax <= 0 {
		config.MergeRetryMax = 1
	}
	return &Aggregator{oracle: oracle, config: config, logger: logger}
}

// MergeChunks merges the successful main-field results. Several results go to the oracle with
// a merge instruction; when every attempt fails or returns an unusable shape the local fallback
// is used. It never returns an error for oracle failures.
func (a *Aggregator) MergeChunks(ctx context.Context, results []models.ExtractionResult, accumulatedContext string) (MergeOutcome, error) {
	var ok []models.ExtractionResult
	for _, result := range results {
		if result.OK() {
			ok = append(ok, result)
		}
	}

	switch len(ok) {
	case 0:
		return MergeOutcome{Record: &models.ContractRecord{}, Payload: map[string]interface{}{}, Strategy: StrategyNone}, nil
	case 1:
		return MergeOutcome{Record: DecodeRecord(ok[0].Payload), Payload: ok[0].Payload, Strategy: StrategySingle}, nil
	}

	attempts := 0
	if a.oracle != nil {
		payload, n, err := a.oracleMerge(ctx, ok, accumulatedContext)
		if err == nil {
			a.logger.Info().
				Int("chunks", len(ok)).
				Int("attempts", n).
				Msg("Merged chunk results with oracle")
			return MergeOutcome{Record: DecodeRecord(payload), Payload: payload, Strategy: StrategyOracle, Attempts: n}, nil
		}
		attempts = n
		a.logger.Warn().
			Err(err).
			Int("chunks", len(ok)).
			Int("attempts", n).
			Msg("Oracle merge failed, using fallback merge")
	}

	merged, conflicts := Fallback(ok, a.config.ReportConflicts)
	a.logConflicts(conflicts)
	return MergeOutcome{
		Record:    DecodeRecord(merged),
		Payload:   merged,
		Strategy:  StrategyFallback,
		Conflicts: conflicts,
		Attempts:  attempts,
	}, nil
}

func (a *Aggregator) oracleMerge(ctx context.Context, results []models.ExtractionResult, accumulatedContext string) (map[string]interface{}, int, error) {
	prompt, err := buildMergePrompt(results, accumulatedContext)
	if err != nil {
		return nil, 0, err
	}

	var lastErr error
	for attempt := 0; attempt < a.config.MergeRetryMax; attempt++ {
		if attempt > 0 {
			delay := a.config.MergeBackoffBase.Std() * time.Duration(1<<uint(attempt-1))
			select {
			case <-ctx.Done():
				return nil, attempt, ctx.Err()
			case <-time.After(delay):
			}
		}

		payload, err := a.mergeOnce(ctx, prompt)
		if err == nil {
			return payload, attempt + 1, nil
		}
		lastErr = err
		a.logger.Debug().Err(err).Int("attempt", attempt+1).Msg("Oracle merge attempt failed")
	}
	return nil, a.config.MergeRetryMax, lastErr
}

func (a *Aggregator) mergeOnce(ctx context.Context, prompt string) (map[string]interface{}, error) {
	callCtx := ctx
	if timeout := a.config.MergeTimeout.Std(); timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	resp, err := a.oracle.Call(callCtx, &interfaces.OracleRequest{
		System:      extraction.MergeSystemPrompt,
		Prompt:      prompt,
		Temperature: a.config.Temperature,
		MaxTokens:   a.config.MaxTokens,
		Schema:      extraction.MainFieldsSchema(),
	})
	if err != nil {
		return nil, err
	}

	payload, err := extraction.ParsePayload(models.PassMainFields, resp.Text)
	if err != nil {
		return nil, err
	}
	if isEmpty(payload) {
		return nil, errors.New("oracle merge returned an empty record")
	}
	return payload, nil
}

func buildMergePrompt(results []models.ExtractionResult, accumulatedContext string) (string, error) {
	var b strings.Builder
	if strings.TrimSpace(accumulatedContext) != "" {
		fmt.Fprintf(&b, "%s:\n%s\n\n", extraction.ContextMarker, accumulatedContext)
	}
	fmt.Fprintf(&b, "Merge the data extracted from %d fragments of one contract.\n", len(results))
	for _, result := range results {
		data, err := json.MarshalIndent(result.Payload, "", "  ")
		if err != nil {
			return "", fmt.Errorf("marshal chunk %d payload: %w", result.ChunkIndex, err)
		}
		fmt.Fprintf(&b, "\nFRAGMENT %d:\n%s\n", result.ChunkIndex+1, data)
	}
	return b.String(), nil
}

func (a *Aggregator) logConflicts(conflicts []models.FieldConflict) {
	for _, c := range conflicts {
		a.logger.Debug().
			Str("field", c.Field).
			Str("kept", fmt.Sprintf("%v", c.Kept)).
			Str("discarded", fmt.Sprintf("%v", c.Discarded)).
			Int("chunk", c.ChunkIndex).
			Msg("Fallback merge conflict")
	}
	if len(conflicts) > 0 {
		a.logger.Info().Int("conflicts", len(conflicts)).Msg("Fallback merge resolved field conflicts")
	}
}
