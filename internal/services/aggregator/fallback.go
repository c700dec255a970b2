package aggregator

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/gowebpki/jcs"
	"github.com/ternarybob/pactum/internal/models"
)

// primaryFields keep the first non-null value in chunk order
var primaryFields = map[string]bool{
	"inn": true, "full_name": true, "short_name": true, "organizational_form": true,
	"legal_entity_type": true, "kpp": true, "contract_name": true, "contract_number": true,
	"contract_date": true, "contract_price": true, "vat_type": true, "vat_percent": true,
	"is_supplier": true, "is_buyer": true,
}

// listFields are concatenated across chunks and deduplicated by their identity key
var listFields = map[string]bool{
	"service_locations": true, "locations": true, "responsible_persons": true,
}

// partyFields are nested objects merged field by field with primary rules
var partyFields = map[string]bool{
	"customer": true, "contractor": true,
}

type fallbackMerge struct {
	origin    map[string]int
	conflicts []models.FieldConflict
	report    bool
}

// Fallback merges per-chunk main-field payloads locally: first non-null wins for primary
// fields, a strictly longer string replaces a secondary one, list fields are deduplicated by
// name or address (canonical JSON when neither is set) and parties are merged recursively.
func Fallback(results []models.ExtractionResult, reportConflicts bool) (map[string]interface{}, []models.FieldConflict) {
	f := &fallbackMerge{origin: map[string]int{}, report: reportConflicts}
	merged := map[string]interface{}{}
	for _, result := range results {
		if !result.OK() {
			continue
		}
		f.mergeObject("", merged, result.Payload, result.ChunkIndex)
	}
	return merged, f.conflicts
}

func (f *fallbackMerge) mergeObject(prefix string, dst, src map[string]interface{}, chunk int) {
	keys := make([]string, 0, len(src))
	for k := range src {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		value := src[key]
		if isEmpty(value) {
			continue
		}
		path := prefix + key
		existing, present := dst[key]
		if isEmpty(existing) {
			present = false
		}

		if prefix == "" && listFields[key] {
			dst[key] = appendUnique(key, existing, value)
			continue
		}
		if nested, ok := value.(map[string]interface{}); ok && prefix == "" && partyFields[key] {
			target, ok := existing.(map[string]interface{})
			if !ok {
				target = map[string]interface{}{}
				dst[key] = target
			}
			f.mergeObject(path+".", target, nested, chunk)
			continue
		}

		if !present {
			dst[key] = value
			f.origin[path] = chunk
			continue
		}
		if sameValue(existing, value) {
			continue
		}

		// secondary strings: the more detailed wording wins
		if prefix == "" && !primaryFields[key] {
			old, okOld := existing.(string)
			cur, okCur := value.(string)
			if okOld && okCur && len([]rune(strings.TrimSpace(cur))) > len([]rune(strings.TrimSpace(old))) {
				f.conflict(path, cur, old, f.origin[path])
				dst[key] = value
				f.origin[path] = chunk
				continue
			}
		}
		f.conflict(path, existing, value, chunk)
	}
}

func (f *fallbackMerge) conflict(field string, kept, discarded interface{}, chunk int) {
	if !f.report {
		return
	}
	f.conflicts = append(f.conflicts, models.FieldConflict{
		Field:      field,
		Kept:       kept,
		Discarded:  discarded,
		ChunkIndex: chunk,
	})
}

// listKeyFields name the item fields that identify one entry of a list field; the first
// non-empty one is the dedup key
var listKeyFields = map[string][]string{
	"responsible_persons": {"name", "fio"},
	"service_locations":   {"address", "address_full"},
	"locations":           {"address", "address_full"},
}

// appendUnique concatenates list values, skipping items whose identity key is already present.
// A duplicate fills the empty fields of the item kept for that key.
func appendUnique(field string, existing, value interface{}) []interface{} {
	list, _ := existing.([]interface{})
	seen := make(map[string]int, len(list))
	for i, item := range list {
		seen[itemKey(field, item)] = i
	}

	items, ok := value.([]interface{})
	if !ok {
		items = []interface{}{value}
	}
	for _, item := range items {
		if isEmpty(item) {
			continue
		}
		key := itemKey(field, item)
		if i, dup := seen[key]; dup {
			list[i] = fillMissing(list[i], item)
			continue
		}
		seen[key] = len(list)
		list = append(list, copyItem(item))
	}
	return list
}

// itemKey is the normalised identity field of a keyed list item (a bare string counts as
// that field), otherwise the structural key of the whole item
func itemKey(field string, item interface{}) string {
	names, keyed := listKeyFields[field]
	if !keyed {
		return structuralKey(item)
	}
	switch t := item.(type) {
	case string:
		if text := normalizeText(t); text != "" {
			return "key:" + text
		}
	case map[string]interface{}:
		for _, name := range names {
			if s, ok := t[name].(string); ok {
				if text := normalizeText(s); text != "" {
					return "key:" + text
				}
			}
		}
	}
	return structuralKey(item)
}

func fillMissing(kept, duplicate interface{}) interface{} {
	dup, ok := duplicate.(map[string]interface{})
	if !ok {
		return kept
	}
	target, ok := kept.(map[string]interface{})
	if !ok {
		return copyItem(dup)
	}
	for k, v := range dup {
		if isEmpty(target[k]) && !isEmpty(v) {
			target[k] = v
		}
	}
	return target
}

// copyItem keeps the merge from writing into the per-chunk payloads
func copyItem(item interface{}) interface{} {
	m, ok := item.(map[string]interface{})
	if !ok {
		return item
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// structuralKey is the RFC 8785 canonical JSON of the normalised value; key order and casing
// do not distinguish two items
func structuralKey(v interface{}) string {
	b, err := json.Marshal(normalizeValue(v))
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	canonical, err := jcs.Transform(b)
	if err != nil {
		return string(b)
	}
	return string(canonical)
}

func normalizeValue(v interface{}) interface{} {
	switch t := v.(type) {
	case string:
		return normalizeText(t)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, item := range t {
			if isEmpty(item) {
				continue
			}
			out[k] = normalizeValue(item)
		}
		return out
	case []interface{}:
		out := make([]interface{}, 0, len(t))
		for _, item := range t {
			out = append(out, normalizeValue(item))
		}
		return out
	}
	return v
}

func normalizeText(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

func sameValue(a, b interface{}) bool {
	if na, nb := numberValue(a), numberValue(b); na != nil && nb != nil {
		_, aStr := a.(string)
		_, bStr := b.(string)
		// "7 702,40" and 7702.4 are the same price, but two strings compare as text
		if !(aStr && bStr) {
			return *na == *nb
		}
	}
	return structuralKey(a) == structuralKey(b)
}

func isEmpty(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	case []interface{}:
		return len(t) == 0
	case map[string]interface{}:
		for _, item := range t {
			if !isEmpty(item) {
				return false
			}
		}
		return true
	}
	return false
}
