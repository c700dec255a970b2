package extraction

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/pactum/internal/common"
	"github.com/ternarybob/pactum/internal/interfaces"
	"github.com/ternarybob/pactum/internal/models"
	"golang.org/x/time/rate"
)

// Recorder receives one entry per oracle round trip
type Recorder func(entry models.OracleRequestLog)

// Client calls the extraction oracle for one chunk, retrying transport failures and
// unusable payloads within separate budgets
type Client struct {
	oracle   interfaces.Oracle
	config   common.ExtractionConfig
	backoff  Backoff
	limiter  *rate.Limiter
	recorder Recorder
	logger   arbor.ILogger
}

// NewClient creates an extraction client. A positive rate_limit spaces oracle calls by at least that interval.
func NewClient(oracle interfaces.Oracle, config common.ExtractionConfig, logger arbor.ILogger) *Client {
	if config.ConnectionRetryMax <= 0 {
		config.ConnectionRetryMax = 1
	}
	if config.SemanticRetryMax <= 0 {
		config.SemanticRetryMax = 1
	}

	c := &Client{
		oracle: oracle,
		config: config,
		backoff: Backoff{
			Base:   config.BackoffBase.Std(),
			Max:    config.BackoffMax.Std(),
			Jitter: config.BackoffJitter.Std(),
		},
		logger: logger,
	}
	if config.RateLimit > 0 {
		c.limiter = rate.NewLimiter(rate.Every(config.RateLimit.Std()), 1)
	}
	return c
}

// WithRecorder returns a copy of the client that reports every oracle round trip to r.
// The copy shares the rate limiter with the original.
func (c *Client) WithRecorder(r Recorder) *Client {
	clone := *c
	clone.recorder = r
	return &clone
}

// WithBackoff returns a copy of the client using b for retry delays
func (c *Client) WithBackoff(b Backoff) *Client {
	clone := *c
	clone.backoff = b
	return &clone
}

// attemptTimeout bounds one oracle call: a short connect allowance plus a long read allowance
func (c *Client) attemptTimeout() time.Duration {
	return c.config.ConnectTimeout.Std() + c.config.ReadTimeout.Std()
}

// Extract runs one chunk through the oracle. Connection and semantic failures end as an
// ERROR result once their budget is spent; the returned error is reserved for failures of
// neither kind, which the caller treats as fatal.
func (c *Client) Extract(ctx context.Context, req Request) (models.ExtractionResult, error) {
	start := time.Now()
	result := models.ExtractionResult{
		ChunkIndex: req.Chunk.Index,
		Pass:       req.Pass,
	}

	oracleReq := &interfaces.OracleRequest{
		System:      SystemPrompt(req.Pass),
		Prompt:      BuildPrompt(req),
		Temperature: c.config.Temperature,
		MaxTokens:   c.config.MaxTokens,
		Model:       c.config.Model,
		Schema:      SchemaFor(req.Pass),
	}

	connectionFailures, semanticFailures := 0, 0
	for {
		if err := ctx.Err(); err != nil {
			return c.abandon(result, start, err), nil
		}
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return c.abandon(result, start, err), nil
			}
		}

		result.AttemptCount++
		payload, err := c.attempt(ctx, req, oracleReq, result.AttemptCount)
		if err == nil {
			result.Status = models.ResultSuccess
			result.Payload = payload
			result.Duration = time.Since(start)
			c.logger.Debug().
				Str("pass", string(req.Pass)).
				Int("chunk", req.Chunk.Index).
				Int("attempts", result.AttemptCount).
				Dur("duration", result.Duration).
				Msg("Chunk extracted")
			return result, nil
		}

		// The stage deadline, not the oracle, ended this attempt
		if ctx.Err() != nil {
			return c.abandon(result, start, ctx.Err()), nil
		}

		kind, ok := Classify(err)
		if !ok {
			result.Duration = time.Since(start)
			return result, fmt.Errorf("chunk %d %s extraction: %w", req.Chunk.Index, req.Pass, err)
		}

		exhausted := false
		switch kind {
		case models.ErrorKindConnection:
			connectionFailures++
			exhausted = connectionFailures >= c.config.ConnectionRetryMax
		case models.ErrorKindSemantic:
			semanticFailures++
			exhausted = semanticFailures >= c.config.SemanticRetryMax
		}

		if exhausted {
			result.Status = models.ResultError
			result.ErrorKind = kind
			result.Error = err.Error()
			result.Duration = time.Since(start)
			c.logger.Warn().
				Str("pass", string(req.Pass)).
				Int("chunk", req.Chunk.Index).
				Int("attempts", result.AttemptCount).
				Str("error_kind", string(kind)).
				Err(err).
				Msg("Chunk extraction failed, retry budget exhausted")
			return result, nil
		}

		delay := c.backoff.Delay(connectionFailures + semanticFailures - 1)
		if suggested := retryAfter(err); suggested > delay {
			delay = suggested
			if c.backoff.Max > 0 && delay > c.backoff.Max {
				delay = c.backoff.Max
			}
		}

		c.logger.Warn().
			Str("pass", string(req.Pass)).
			Int("chunk", req.Chunk.Index).
			Int("attempt", result.AttemptCount).
			Str("error_kind", string(kind)).
			Dur("backoff", delay).
			Err(err).
			Msg("Retrying oracle call")

		if !sleep(ctx.Done(), delay) {
			return c.abandon(result, start, ctx.Err()), nil
		}
	}
}

func (c *Client) attempt(ctx context.Context, req Request, oracleReq *interfaces.OracleRequest, attempt int) (map[string]interface{}, error) {
	attemptCtx := ctx
	if timeout := c.attemptTimeout(); timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	callStart := time.Now()
	resp, err := c.oracle.Call(attemptCtx, oracleReq)

	var payload map[string]interface{}
	if err == nil {
		if resp == nil {
			err = fmt.Errorf("%w: empty reply", ErrSemantic)
		} else {
			payload, err = ParsePayload(req.Pass, resp.Text)
		}
	}

	if c.recorder != nil {
		entry := models.OracleRequestLog{
			Pass:       req.Pass,
			ChunkIndex: req.Chunk.Index,
			Attempt:    attempt,
			Status:     models.ResultSuccess,
			Duration:   time.Since(callStart),
			Timestamp:  callStart,
		}
		if resp != nil {
			entry.Provider = resp.Provider
			entry.Model = resp.Model
		}
		if err != nil {
			entry.Status = models.ResultError
			entry.ErrorKind, _ = Classify(err)
		}
		c.recorder(entry)
	}

	return payload, err
}

// abandon records a chunk whose pass was cancelled or timed out before it finished
func (c *Client) abandon(result models.ExtractionResult, start time.Time, cause error) models.ExtractionResult {
	if cause == nil {
		cause = context.Canceled
	}
	result.Status = models.ResultError
	result.ErrorKind = models.ErrorKindTimeout
	result.Error = cause.Error()
	result.Duration = time.Since(start)
	if errors.Is(cause, context.DeadlineExceeded) {
		result.Error = "stage timeout: " + cause.Error()
	}
	return result
}
