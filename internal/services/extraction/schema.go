package extraction

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/ternarybob/pactum/internal/models"
)

func nullable(types ...interface{}) map[string]interface{} {
	return map[string]interface{}{"type": append(types, "null")}
}

func object(required []interface{}, props map[string]interface{}) map[string]interface{} {
	schema := map[string]interface{}{"type": "object", "properties": props}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func nullableObject(props map[string]interface{}) map[string]interface{} {
	return map[string]interface{}{"type": []interface{}{"object", "null"}, "properties": props}
}

func nullableArray(items map[string]interface{}) map[string]interface{} {
	return map[string]interface{}{"type": []interface{}{"array", "null"}, "items": items}
}

func partySchema() map[string]interface{} {
	return nullableObject(map[string]interface{}{
		"inn":                 nullable("string"),
		"kpp":                 nullable("string"),
		"full_name":           nullable("string"),
		"short_name":          nullable("string"),
		"organizational_form": nullable("string"),
		"legal_entity_type":   nullable("string"),
	})
}

func locationSchema() map[string]interface{} {
	return object(nil, map[string]interface{}{
		"address":     nullable("string"),
		"description": nullable("string"),
	})
}

// MainFieldsSchema is the reply shape of the main-fields pass and of the oracle merge.
// Numbers may come back as locale strings ("7 702,40"); the aggregator normalises them.
func MainFieldsSchema() map[string]interface{} {
	return object(nil, map[string]interface{}{
		"inn":                 nullable("string"),
		"kpp":                 nullable("string"),
		"full_name":           nullable("string"),
		"short_name":          nullable("string"),
		"organizational_form": nullable("string"),
		"legal_entity_type":   nullable("string"),
		"contract_name":       nullable("string"),
		"contract_number":     nullable("string"),
		"contract_date":       nullable("string"),
		"contract_price":      nullable("number", "string"),
		"vat_type":            nullable("string"),
		"vat_percent":         nullable("number", "string"),
		"is_supplier":         nullable("boolean"),
		"is_buyer":            nullable("boolean"),
		"service_description": nullable("string"),
		"service_start_date":  nullable("string"),
		"service_end_date":    nullable("string"),
		"payment_terms":       nullable("string"),
		"customer":            partySchema(),
		"contractor":          partySchema(),
		"responsible_persons": nullableArray(object(nil, map[string]interface{}{
			"name":     nullable("string"),
			"position": nullable("string"),
			"phone":    nullable("string"),
			"email":    nullable("string"),
		})),
		"service_locations": nullableArray(locationSchema()),
		"locations":         nullableArray(locationSchema()),
	})
}

// LineItemsSchema is the reply shape of the line-items pass
func LineItemsSchema() map[string]interface{} {
	return object([]interface{}{"services"}, map[string]interface{}{
		"services": map[string]interface{}{
			"type": "array",
			"items": object([]interface{}{"name"}, map[string]interface{}{
				"name":        map[string]interface{}{"type": "string"},
				"quantity":    nullable("number", "string"),
				"unit":        nullable("string"),
				"unit_price":  nullable("number", "string"),
				"total_price": nullable("number", "string"),
				"description": nullable("string"),
			}),
		},
	})
}

// SchemaFor returns the reply schema of a pass
func SchemaFor(pass models.PassKind) map[string]interface{} {
	if pass == models.PassLineItems {
		return LineItemsSchema()
	}
	return MainFieldsSchema()
}

var (
	compiledMu      sync.Mutex
	compiledSchemas = map[models.PassKind]*jsonschema.Schema{}
)

func compiledSchema(pass models.PassKind) (*jsonschema.Schema, error) {
	compiledMu.Lock()
	defer compiledMu.Unlock()

	if schema, ok := compiledSchemas[pass]; ok {
		return schema, nil
	}

	b, err := json.Marshal(SchemaFor(pass))
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	name := string(pass) + ".json"
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, bytes.NewReader(b)); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile(name)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}

	compiledSchemas[pass] = schema
	return schema, nil
}

// ParsePayload extracts the JSON object from an oracle reply and validates it against the
// pass schema. Any failure wraps ErrSemantic.
func ParsePayload(pass models.PassKind, text string) (map[string]interface{}, error) {
	raw := extractJSONObject(text)
	if raw == "" {
		return nil, fmt.Errorf("%w: no JSON object in reply", ErrSemantic)
	}

	var v interface{}
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSemantic, err)
	}

	schema, err := compiledSchema(pass)
	if err != nil {
		return nil, err
	}
	if err := schema.Validate(v); err != nil {
		return nil, fmt.Errorf("%w: json does not match schema: %v", ErrSemantic, err)
	}

	payload, ok := v.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("%w: reply is not an object", ErrSemantic)
	}
	return payload, nil
}

// extractJSONObject strips markdown code fences and any prose around the outermost {...}
func extractJSONObject(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		text = strings.TrimSuffix(strings.TrimSpace(text), "```")
		text = strings.TrimSpace(text)
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return ""
	}
	return text[start : end+1]
}
