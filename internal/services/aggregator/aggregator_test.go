package aggregator

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/pactum/internal/common"
	"github.com/ternarybob/pactum/internal/interfaces"
	"github.com/ternarybob/pactum/internal/models"
	"github.com/ternarybob/pactum/internal/services/extraction"
)

type mergeReply struct {
	text string
	err  error
}

// mergeOracle replays replies in order, repeating the last one
type mergeOracle struct {
	mu      sync.Mutex
	replies []mergeReply
	calls   int
	last    *interfaces.OracleRequest
}

func (o *mergeOracle) Call(ctx context.Context, req *interfaces.OracleRequest) (*interfaces.OracleResponse, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.last = req
	r := o.replies[len(o.replies)-1]
	if o.calls < len(o.replies) {
		r = o.replies[o.calls]
	}
	o.calls++
	if r.err != nil {
		return nil, r.err
	}
	return &interfaces.OracleResponse{Text: r.text}, nil
}

func testAggregationConfig() common.AggregationConfig {
	return common.AggregationConfig{
		MergeRetryMax:    3,
		MergeBackoffBase: common.Duration(time.Millisecond),
		ReportConflicts:  true,
	}
}

func ok(chunk int, payload map[string]interface{}) models.ExtractionResult {
	return models.ExtractionResult{ChunkIndex: chunk, Status: models.ResultSuccess, Payload: payload}
}

func twoChunks() []models.ExtractionResult {
	return []models.ExtractionResult{
		ok(0, map[string]interface{}{"inn": "7701234567", "contract_number": "15"}),
		{ChunkIndex: 1, Status: models.ResultError, ErrorKind: models.ErrorKindSemantic},
		ok(2, map[string]interface{}{"contract_date": "2024-03-01"}),
	}
}

func TestMergeChunks_NoResults(t *testing.T) {
	agg := New(nil, testAggregationConfig(), arbor.NewLogger())

	outcome, err := agg.MergeChunks(context.Background(), []models.ExtractionResult{
		{ChunkIndex: 0, Status: models.ResultError},
	}, "")

	require.NoError(t, err)
	assert.Equal(t, StrategyNone, outcome.Strategy)
	assert.Equal(t, &models.ContractRecord{}, outcome.Record)
}

func TestMergeChunks_SingleResultPassesThrough(t *testing.T) {
	oracle := &mergeOracle{replies: []mergeReply{{text: "{}"}}}
	agg := New(oracle, testAggregationConfig(), arbor.NewLogger())

	outcome, err := agg.MergeChunks(context.Background(), []models.ExtractionResult{
		ok(0, map[string]interface{}{"inn": "7701234567", "contract_price": "7 702,40"}),
	}, "")

	require.NoError(t, err)
	assert.Equal(t, StrategySingle, outcome.Strategy)
	assert.Equal(t, "7701234567", outcome.Record.INN)
	require.NotNil(t, outcome.Record.ContractPrice)
	assert.Equal(t, 7702.40, *outcome.Record.ContractPrice)
	assert.Zero(t, oracle.calls)
}

func TestMergeChunks_OracleMerge(t *testing.T) {
	oracle := &mergeOracle{replies: []mergeReply{
		{text: "not json"},
		{text: "```json\n{\"inn\": \"7701234567\", \"contract_number\": \"15\", \"contract_date\": \"2024-03-01\"}\n```"},
	}}
	agg := New(oracle, testAggregationConfig(), arbor.NewLogger())

	outcome, err := agg.MergeChunks(context.Background(), twoChunks(), "- Номер договора: 15")

	require.NoError(t, err)
	assert.Equal(t, StrategyOracle, outcome.Strategy)
	assert.Equal(t, 2, outcome.Attempts)
	assert.Equal(t, "2024-03-01", outcome.Record.ContractDate)
	assert.Empty(t, outcome.Conflicts)

	assert.Equal(t, extraction.MergeSystemPrompt, oracle.last.System)
	assert.Contains(t, oracle.last.Prompt, extraction.ContextMarker)
	assert.Contains(t, oracle.last.Prompt, "FRAGMENT 1:")
	assert.Contains(t, oracle.last.Prompt, "FRAGMENT 3:")
	assert.NotContains(t, oracle.last.Prompt, "FRAGMENT 2:")
}

func TestMergeChunks_FallbackWhenOracleUnavailable(t *testing.T) {
	oracle := &mergeOracle{replies: []mergeReply{{err: &interfaces.StatusError{StatusCode: 503, Message: "unavailable"}}}}
	agg := New(oracle, testAggregationConfig(), arbor.NewLogger())

	outcome, err := agg.MergeChunks(context.Background(), twoChunks(), "")

	require.NoError(t, err)
	assert.Equal(t, StrategyFallback, outcome.Strategy)
	assert.Equal(t, 3, oracle.calls)
	assert.Equal(t, 3, outcome.Attempts)
	assert.Equal(t, "7701234567", outcome.Record.INN)
	assert.Equal(t, "15", outcome.Record.ContractNumber)
	assert.Equal(t, "2024-03-01", outcome.Record.ContractDate)
}

func TestMergeChunks_FallbackOnUnusableMerge(t *testing.T) {
	for name, reply := range map[string]string{
		"empty object":    "{}",
		"schema mismatch": `{"inn": {"value": "7701"}}`,
	} {
		t.Run(name, func(t *testing.T) {
			oracle := &mergeOracle{replies: []mergeReply{{text: reply}}}
			agg := New(oracle, testAggregationConfig(), arbor.NewLogger())

			outcome, err := agg.MergeChunks(context.Background(), twoChunks(), "")

			require.NoError(t, err)
			assert.Equal(t, StrategyFallback, outcome.Strategy)
			assert.Equal(t, "15", outcome.Record.ContractNumber)
		})
	}
}

func TestMergeChunks_CancelledContextStillMerges(t *testing.T) {
	oracle := &mergeOracle{replies: []mergeReply{{err: context.Canceled}}}
	agg := New(oracle, testAggregationConfig(), arbor.NewLogger())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	outcome, err := agg.MergeChunks(ctx, twoChunks(), "")

	require.NoError(t, err)
	assert.Equal(t, StrategyFallback, outcome.Strategy)
	assert.Equal(t, "7701234567", outcome.Record.INN)
}

func TestFallback(t *testing.T) {
	results := []models.ExtractionResult{
		ok(0, map[string]interface{}{
			"inn":            "7701234567",
			"full_name":      "ООО «Ромашка»",
			"contract_price": "1 200 000,50",
			"payment_terms":  "30 дней",
			"responsible_persons": []interface{}{
				map[string]interface{}{"name": "Иванов И.И.", "phone": "+7 495 000"},
			},
			"customer": map[string]interface{}{"inn": "7701234567"},
		}),
		{ChunkIndex: 1, Status: models.ResultError},
		ok(2, map[string]interface{}{
			"inn":             "7709999999",
			"full_name":       nil,
			"contract_number": "15-A",
			"contract_price":  1200000.5,
			"payment_terms":   "Оплата в течение 30 дней",
			"responsible_persons": []interface{}{
				map[string]interface{}{"name": "иванов  и.и.", "phone": "+7 495 000", "email": nil},
				map[string]interface{}{"name": "Петров П.П."},
			},
			"customer":  map[string]interface{}{"inn": "7701234567", "kpp": "770101001"},
			"locations": []interface{}{"Москва"},
		}),
	}

	merged, conflicts := Fallback(results, true)

	assert.Equal(t, "7701234567", merged["inn"])
	assert.Equal(t, "ООО «Ромашка»", merged["full_name"])
	assert.Equal(t, "15-A", merged["contract_number"])
	assert.Equal(t, "Оплата в течение 30 дней", merged["payment_terms"])
	assert.Len(t, merged["responsible_persons"], 2)
	assert.Equal(t, map[string]interface{}{"inn": "7701234567", "kpp": "770101001"}, merged["customer"])

	assert.ElementsMatch(t, []models.FieldConflict{
		{Field: "inn", Kept: "7701234567", Discarded: "7709999999", ChunkIndex: 2},
		{Field: "payment_terms", Kept: "Оплата в течение 30 дней", Discarded: "30 дней", ChunkIndex: 0},
	}, conflicts)

	record := DecodeRecord(merged)
	require.NotNil(t, record.ContractPrice)
	assert.Equal(t, 1200000.50, *record.ContractPrice)
	assert.Equal(t, []models.Location{{Address: "Москва"}}, record.Locations)
	assert.Equal(t, "Иванов И.И.", record.ResponsiblePersons[0].Name)
	assert.Equal(t, "Петров П.П.", record.ResponsiblePersons[1].Name)
	assert.Equal(t, "770101001", record.Customer.KPP)
}

func TestFallback_ListItemsDedupByIdentity(t *testing.T) {
	first := map[string]interface{}{"name": "Иванов Иван Иванович", "phone": "+7 495 123-45-67"}
	results := []models.ExtractionResult{
		ok(0, map[string]interface{}{
			"responsible_persons": []interface{}{first},
			"service_locations":   []interface{}{"г. Москва, ул. Ленина, д. 1"},
		}),
		ok(1, map[string]interface{}{
			"responsible_persons": []interface{}{
				map[string]interface{}{"name": "ИВАНОВ  Иван Иванович", "position": "менеджер"},
			},
			"service_locations": []interface{}{
				map[string]interface{}{"address": "г. Москва, ул. Ленина, д. 1", "description": "офис"},
				map[string]interface{}{"address_full": "г. Тула, пр. Мира, 5"},
			},
		}),
	}

	merged, _ := Fallback(results, true)

	persons := merged["responsible_persons"].([]interface{})
	require.Len(t, persons, 1)
	assert.Equal(t, map[string]interface{}{
		"name":     "Иванов Иван Иванович",
		"phone":    "+7 495 123-45-67",
		"position": "менеджер",
	}, persons[0])
	assert.NotContains(t, first, "position", "chunk payloads stay untouched")

	locations := merged["service_locations"].([]interface{})
	require.Len(t, locations, 2)
	assert.Equal(t, map[string]interface{}{"address": "г. Москва, ул. Ленина, д. 1", "description": "офис"}, locations[0])

	record := DecodeRecord(merged)
	require.Len(t, record.ResponsiblePersons, 1)
	assert.Equal(t, "менеджер", record.ResponsiblePersons[0].Position)
}

func TestFallback_PartyConflictsAndReporting(t *testing.T) {
	results := []models.ExtractionResult{
		ok(0, map[string]interface{}{"contractor": map[string]interface{}{"inn": "7801234567"}}),
		ok(1, map[string]interface{}{"contractor": map[string]interface{}{"inn": "7809999999", "short_name": "ООО Вектор"}}),
	}

	merged, conflicts := Fallback(results, true)
	assert.Equal(t, map[string]interface{}{"inn": "7801234567", "short_name": "ООО Вектор"}, merged["contractor"])
	assert.Equal(t, []models.FieldConflict{
		{Field: "contractor.inn", Kept: "7801234567", Discarded: "7809999999", ChunkIndex: 1},
	}, conflicts)

	_, conflicts = Fallback(results, false)
	assert.Empty(t, conflicts)
}

func TestDecodeRecord_Coercion(t *testing.T) {
	record := DecodeRecord(map[string]interface{}{
		"inn":         7701234567.0,
		"is_supplier": "да",
		"is_buyer":    false,
		"vat_percent": "20%",
		"customer":    map[string]interface{}{"inn": nil, "kpp": ""},
		"responsible_persons": []interface{}{
			map[string]interface{}{"name": "Иванов", "email": []interface{}{"a@x.ru", "b@x.ru"}},
			map[string]interface{}{},
			"not an object",
		},
		"service_locations": []interface{}{map[string]interface{}{"address": " г. Москва ", "description": "склад"}},
	})

	assert.Equal(t, "7701234567", record.INN)
	require.NotNil(t, record.IsSupplier)
	assert.True(t, *record.IsSupplier)
	require.NotNil(t, record.IsBuyer)
	assert.False(t, *record.IsBuyer)
	require.NotNil(t, record.VATPercent)
	assert.Equal(t, 20.0, *record.VATPercent)
	assert.Nil(t, record.Customer)
	assert.Equal(t, []models.ResponsiblePerson{{Name: "Иванов", Email: "a@x.ru, b@x.ru"}}, record.ResponsiblePersons)
	assert.Equal(t, []models.Location{{Address: "г. Москва", Description: "склад"}}, record.ServiceLocations)
}

func TestParseLocaleNumber(t *testing.T) {
	tests := []struct {
		in   string
		want float64
		ok   bool
	}{
		{"7 702,40", 7702.40, true},
		{"7\u00a0702,40", 7702.40, true},
		{"1.234,5", 1234.5, true},
		{"1,234.50", 1234.50, true},
		{"1 200 000", 1200000, true},
		{"1.234.567", 1234567, true},
		{"0,5", 0.5, true},
		{"-5,5", -5.5, true},
		{"12 шт", 12, true},
		{"руб. 100", 100, true},
		{"", 0, false},
		{"нет данных", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseLocaleNumber(tt.in)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.InDelta(t, tt.want, got, 1e-9)
			}
		})
	}

	assert.Equal(t, "7702.40", FormatDecimal(7702.4))
	assert.Equal(t, "0.00", FormatDecimal(0))
}

func TestMergeLineItems(t *testing.T) {
	results := []models.ExtractionResult{
		ok(0, map[string]interface{}{"services": []interface{}{
			map[string]interface{}{"name": "Наименование", "quantity": "Кол-во"},
			map[string]interface{}{"name": "Картридж HP 12A", "quantity": "2", "unit": "шт", "unit_price": "7 702,40"},
			map[string]interface{}{"name": "  "},
			map[string]interface{}{"name": "Бумага А4", "total_price": 300.0},
		}}),
		{ChunkIndex: 1, Status: models.ResultError, ErrorKind: models.ErrorKindConnection},
		ok(2, map[string]interface{}{"services": []interface{}{
			map[string]interface{}{"name": "картридж  HP 12A.", "quantity": 2.0, "unit": "шт", "unit_price": "7 702,40", "total_price": "15 404,80"},
			map[string]interface{}{"name": "Бумага А4", "total_price": 400.0},
			map[string]interface{}{"name": "Тонер", "unit_price": "1 000"},
		}}),
	}

	items := MergeLineItems(results)

	require.Len(t, items, 3)
	assert.Equal(t, "картридж HP 12A.", items[0].Name)
	require.NotNil(t, items[0].TotalPrice)
	assert.Equal(t, 15404.80, *items[0].TotalPrice)
	assert.Equal(t, 7702.40, *items[0].UnitPrice)
	assert.Equal(t, 2.0, *items[0].Quantity)

	assert.Equal(t, "Бумага А4", items[1].Name)
	assert.Equal(t, 300.0, *items[1].TotalPrice, "ties keep the first instance")

	assert.Equal(t, "Тонер", items[2].Name)
	assert.Equal(t, 1000.0, *items[2].UnitPrice)
}

func TestNormalizeItemName(t *testing.T) {
	assert.Equal(t, "картридж hp 12a", NormalizeItemName("  «Картридж   HP 12A». "))
	assert.Equal(t, "", NormalizeItemName(" - "))
	assert.True(t, headerLabels[NormalizeItemName("Наименование товара (работы, услуги)")])
	assert.False(t, strings.Contains(NormalizeItemName("A\tB"), "\t"))
}
