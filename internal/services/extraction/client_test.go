package extraction

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/pactum/internal/common"
	"github.com/ternarybob/pactum/internal/interfaces"
	"github.com/ternarybob/pactum/internal/models"
)

// scriptedOracle replays a fixed sequence of replies, repeating the last one
type scriptedOracle struct {
	mu      sync.Mutex
	steps   []step
	calls   int
	prompts []string
}

type step struct {
	text string
	err  error
}

func (o *scriptedOracle) Call(ctx context.Context, req *interfaces.OracleRequest) (*interfaces.OracleResponse, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.prompts = append(o.prompts, req.Prompt)
	s := o.steps[len(o.steps)-1]
	if o.calls < len(o.steps) {
		s = o.steps[o.calls]
	}
	o.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &interfaces.OracleResponse{Text: s.text, Provider: "scripted", Model: "test"}, nil
}

func testConfig() common.ExtractionConfig {
	return common.ExtractionConfig{
		ConnectionRetryMax: 5,
		SemanticRetryMax:   2,
		ConnectTimeout:     common.Duration(time.Second),
		ReadTimeout:        common.Duration(5 * time.Second),
	}
}

func testChunk(i int) models.Chunk {
	return models.Chunk{Index: i, Elements: []models.DocumentElement{{Kind: models.ElementText, Content: fmt.Sprintf("Договор № %d", i)}}}
}

var unavailable = &interfaces.StatusError{StatusCode: 503, Message: "unavailable"}

func TestExtract_TransportFailuresThenSuccess(t *testing.T) {
	oracle := &scriptedOracle{steps: []step{
		{err: unavailable},
		{err: unavailable},
		{text: `{"inn": "7701234567", "contract_number": "15"}`},
	}}
	client := NewClient(oracle, testConfig(), arbor.NewLogger())

	result, err := client.Extract(context.Background(), Request{Chunk: testChunk(1), Pass: models.PassMainFields})

	require.NoError(t, err)
	assert.Equal(t, models.ResultSuccess, result.Status)
	assert.Equal(t, 3, result.AttemptCount)
	assert.Equal(t, 1, result.ChunkIndex)
	assert.Equal(t, "7701234567", result.Payload["inn"])
	assert.Equal(t, models.ErrorKindNone, result.ErrorKind)
}

func TestExtract_RetryBudgets(t *testing.T) {
	tests := []struct {
		name         string
		steps        []step
		wantAttempts int
		wantKind     models.ErrorKind
	}{
		{"connection budget", []step{{err: unavailable}}, 5, models.ErrorKindConnection},
		{"semantic budget", []step{{text: "I could not find anything"}}, 2, models.ErrorKindSemantic},
		{"schema mismatch is semantic", []step{{text: `{"services": [{"quantity": 1}]}`}}, 2, models.ErrorKindSemantic},
		{"budgets are separate", []step{{err: unavailable}, {text: "nope"}, {err: unavailable}, {text: "nope"}}, 4, models.ErrorKindSemantic},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			oracle := &scriptedOracle{steps: tt.steps}
			client := NewClient(oracle, testConfig(), arbor.NewLogger())

			result, err := client.Extract(context.Background(), Request{Chunk: testChunk(0), Pass: models.PassLineItems})

			require.NoError(t, err)
			assert.Equal(t, models.ResultError, result.Status)
			assert.Equal(t, tt.wantKind, result.ErrorKind)
			assert.Equal(t, tt.wantAttempts, result.AttemptCount)
			assert.Equal(t, tt.wantAttempts, oracle.calls)
			assert.Nil(t, result.Payload)
		})
	}
}

func TestExtract_UnclassifiedErrorPropagates(t *testing.T) {
	oracle := &scriptedOracle{steps: []step{{err: &interfaces.StatusError{StatusCode: 401, Message: "bad key"}}}}
	client := NewClient(oracle, testConfig(), arbor.NewLogger())

	_, err := client.Extract(context.Background(), Request{Chunk: testChunk(0), Pass: models.PassMainFields})

	require.Error(t, err)
	assert.Equal(t, 1, oracle.calls)
}

func TestExtract_CancelledContextIsTimeout(t *testing.T) {
	oracle := &scriptedOracle{steps: []step{{err: unavailable}}}
	cfg := testConfig()
	cfg.BackoffBase = common.Duration(time.Hour)
	client := NewClient(oracle, cfg, arbor.NewLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	result, err := client.Extract(ctx, Request{Chunk: testChunk(0), Pass: models.PassMainFields})

	require.NoError(t, err)
	assert.Equal(t, models.ResultError, result.Status)
	assert.Equal(t, models.ErrorKindTimeout, result.ErrorKind)
	assert.Equal(t, 1, result.AttemptCount)
}

func TestExtract_RecorderSeesEveryAttempt(t *testing.T) {
	oracle := &scriptedOracle{steps: []step{{err: unavailable}, {text: `{"services": []}`}}}
	var entries []models.OracleRequestLog
	client := NewClient(oracle, testConfig(), arbor.NewLogger()).WithRecorder(func(e models.OracleRequestLog) {
		entries = append(entries, e)
	})

	_, err := client.Extract(context.Background(), Request{Chunk: testChunk(2), Pass: models.PassLineItems})
	require.NoError(t, err)

	require.Len(t, entries, 2)
	assert.Equal(t, models.ResultError, entries[0].Status)
	assert.Equal(t, models.ErrorKindConnection, entries[0].ErrorKind)
	assert.Equal(t, models.ResultSuccess, entries[1].Status)
	assert.Equal(t, 2, entries[1].Attempt)
	assert.Equal(t, 2, entries[1].ChunkIndex)
	assert.Equal(t, "scripted", entries[1].Provider)
}

func TestExtract_PromptCarriesContext(t *testing.T) {
	oracle := &scriptedOracle{steps: []step{{text: `{}`}}}
	client := NewClient(oracle, testConfig(), arbor.NewLogger())

	_, err := client.Extract(context.Background(), Request{Chunk: testChunk(3), Pass: models.PassMainFields, Context: "ИНН 7701234567"})
	require.NoError(t, err)

	require.Len(t, oracle.prompts, 1)
	assert.Contains(t, oracle.prompts[0], ContextMarker)
	assert.Contains(t, oracle.prompts[0], "ИНН 7701234567")
	assert.Contains(t, oracle.prompts[0], "Договор № 3")
}

func TestBackoff_Delay(t *testing.T) {
	maxRand := func(n int64) int64 { return n - 1 }
	zeroRand := func(n int64) int64 { return 0 }

	b := Backoff{Base: time.Second, Max: 30 * time.Second, Jitter: 500 * time.Millisecond, Rand: zeroRand}
	assert.Equal(t, time.Second, b.Delay(0))
	assert.Equal(t, 2*time.Second, b.Delay(1))
	assert.Equal(t, 16*time.Second, b.Delay(4))
	assert.Equal(t, 30*time.Second, b.Delay(5))
	assert.Equal(t, 30*time.Second, b.Delay(60))

	// non-decreasing even when jitter is large and random values alternate
	b = Backoff{Base: 100 * time.Millisecond, Max: 10 * time.Second, Jitter: 5 * time.Second}
	prev := time.Duration(0)
	for attempt := 0; attempt < 12; attempt++ {
		b.Rand = maxRand
		if attempt%2 == 1 {
			b.Rand = zeroRand
		}
		d := b.Delay(attempt)
		assert.GreaterOrEqual(t, d, prev, "attempt %d", attempt)
		assert.LessOrEqual(t, d, 10*time.Second)
		prev = d
	}

	assert.Zero(t, Backoff{}.Delay(3))
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		kind   models.ErrorKind
		wantOK bool
	}{
		{"semantic", fmt.Errorf("%w: bad", ErrSemantic), models.ErrorKindSemantic, true},
		{"5xx", &interfaces.StatusError{StatusCode: 502}, models.ErrorKindConnection, true},
		{"429", &interfaces.StatusError{StatusCode: 429}, models.ErrorKindConnection, true},
		{"400", &interfaces.StatusError{StatusCode: 400}, models.ErrorKindNone, false},
		{"deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), models.ErrorKindConnection, true},
		{"reset text", errors.New("read tcp: connection reset by peer"), models.ErrorKindConnection, true},
		{"programming", errors.New("nil map"), models.ErrorKindNone, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kind, ok := Classify(tt.err)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.kind, kind)
		})
	}
}

func TestParsePayload(t *testing.T) {
	payload, err := ParsePayload(models.PassLineItems, "```json\n{\"services\": [{\"name\": \"Заправка\", \"total_price\": \"1 079,00\"}]}\n```")
	require.NoError(t, err)
	services := payload["services"].([]interface{})
	require.Len(t, services, 1)

	_, err = ParsePayload(models.PassMainFields, `Here you go: {"contract_price": 100.5, "customer": null} thanks`)
	require.NoError(t, err)

	_, err = ParsePayload(models.PassMainFields, `{"is_buyer": "yes"}`)
	assert.ErrorIs(t, err, ErrSemantic)

	_, err = ParsePayload(models.PassMainFields, `{"inn": `)
	assert.ErrorIs(t, err, ErrSemantic)

	_, err = ParsePayload(models.PassLineItems, ``)
	assert.ErrorIs(t, err, ErrSemantic)
}
