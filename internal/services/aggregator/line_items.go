package aggregator

import (
	"strings"
	"unicode"

	"github.com/ternarybob/pactum/internal/models"
)

// headerLabels are column titles the oracle sometimes returns as a line item
var headerLabels = func() map[string]bool {
	labels := map[string]bool{}
	for _, label := range []string{
		"name",
		"наименование",
		"наименование товара",
		"наименование услуги",
		"наименование услуг",
		"наименование работ",
		"наименование товаров, работ, услуг",
		"наименование товара (работы, услуги)",
		"№",
		"№ п/п",
		"итого",
		"всего",
	} {
		labels[NormalizeItemName(label)] = true
	}
	return labels
}()

// MergeLineItems collects the services of every successful line-items result, drops header
// echoes and deduplicates by normalised name. A duplicate replaces the kept item only when it
// has strictly more populated fields; first-seen order is preserved.
func MergeLineItems(results []models.ExtractionResult) []models.LineItem {
	var items []models.LineItem
	index := map[string]int{}

	for _, result := range results {
		if !result.OK() {
			continue
		}
		services, _ := result.Payload["services"].([]interface{})
		for _, raw := range services {
			m, ok := raw.(map[string]interface{})
			if !ok {
				continue
			}
			item := decodeLineItem(m)
			key := NormalizeItemName(item.Name)
			if key == "" || headerLabels[key] {
				continue
			}

			if i, dup := index[key]; dup {
				if item.Completeness() > items[i].Completeness() {
					items[i] = item
				}
				continue
			}
			index[key] = len(items)
			items = append(items, item)
		}
	}
	return items
}

func decodeLineItem(m map[string]interface{}) models.LineItem {
	return models.LineItem{
		Name:        strings.Join(strings.Fields(text(m["name"])), " "),
		Quantity:    numberValue(m["quantity"]),
		Unit:        text(m["unit"]),
		UnitPrice:   numberValue(m["unit_price"]),
		TotalPrice:  numberValue(m["total_price"]),
		Description: text(m["description"]),
	}
}

// NormalizeItemName is the deduplication key of a line item: lower case, collapsed
// whitespace, surrounding punctuation trimmed
func NormalizeItemName(name string) string {
	name = strings.TrimFunc(normalizeText(name), func(r rune) bool {
		return unicode.IsPunct(r) || unicode.IsSpace(r)
	})
	return name
}
