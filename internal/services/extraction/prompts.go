package extraction

import (
	"fmt"
	"strings"

	"github.com/ternarybob/pactum/internal/models"
)

// ContextMarker introduces the context carried over from earlier chunks
const ContextMarker = "КОНТЕКСТ ИЗ ПРЕДЫДУЩИХ ЧАНКОВ"

// MainFieldsSystemPrompt instructs the oracle for the main-fields pass
const MainFieldsSystemPrompt = `You are a legal analyst extracting structured data from Russian procurement contracts.

Extract from the contract fragment:
- contract_name, contract_number, contract_date (YYYY-MM-DD), contract_price (number), vat_type ("Без НДС" or the VAT wording), vat_percent
- customer (Заказчик, Покупатель) and contractor (Исполнитель, Поставщик, Продавец) as objects with inn, kpp, full_name, short_name, organizational_form, legal_entity_type
- inn, kpp, full_name, short_name, organizational_form, legal_entity_type of the counterparty matching is_supplier / is_buyer
- service_description, service_start_date, service_end_date (YYYY-MM-DD), payment_terms
- responsible_persons (name, position, phone, email as strings; join several values with ", ")
- service_locations and locations (address, description)

Rules:
- Never invent values. INN is exactly 10 or 12 digits and KPP exactly 9 digits, copied from the text without prefixes. Use null when a value is not in the text.
- legal_entity_type is "Юридическое лицо" for a 10-digit INN and "Физическое лицо" for a 12-digit INN.
- If the prompt contains a section marked "` + ContextMarker + `", use it to complete the current fragment but prefer facts from the fragment itself.
- Return only one valid JSON object.`

// LineItemsSystemPrompt instructs the oracle for the line-items pass
const LineItemsSystemPrompt = `You extract every service or goods line from tables in Russian contracts and specifications.

Each table row is one entry. Do not skip, summarise or combine rows, and never return the header row as an entry.
For each row return name (full text as written, including part numbers and models), quantity, unit, unit_price, total_price and description.
Russian prices use a space as thousands separator and a comma as decimal separator: "7 702,40" is 7702.40.
If only one price column exists, use it as total_price. If there is no quantity column, quantity is null.

Return only {"services": [...]}, with an empty array when the fragment has no line items.`

// MergeSystemPrompt instructs the oracle to merge per-chunk main-field results
const MergeSystemPrompt = `You merge contract data extracted from several fragments of one Russian contract into a single JSON object with the same fields.

Rules:
- Never invent values. A field that is null in every fragment stays null.
- Prefer the most complete value of a field. For core contract fields and counterparties prefer the accumulated context, then the earliest fragment.
- For inn choose the value that appears most often; it must be 10 or 12 digits.
- responsible_persons and locations: keep every distinct entry once, merging contact details of the same person.
- If is_supplier and is_buyer both appear, set both to true.
- Return only one valid JSON object.`

// Request is one chunk extraction within a pass
type Request struct {
	Chunk   models.Chunk
	Pass    models.PassKind
	Context string // accumulated context from earlier chunks, may be empty
}

// BuildPrompt renders the user prompt of a request
func BuildPrompt(req Request) string {
	var b strings.Builder
	if strings.TrimSpace(req.Context) != "" && req.Pass == models.PassMainFields {
		fmt.Fprintf(&b, "%s:\n%s\n\n", ContextMarker, req.Context)
	}
	if req.Chunk.IsTableContinuation {
		b.WriteString("The fragment continues a table from the previous fragment; its header is repeated.\n\n")
	}
	fmt.Fprintf(&b, "CONTRACT FRAGMENT %d:\n%s", req.Chunk.Index+1, req.Chunk.Content())
	return b.String()
}

// SystemPrompt returns the system prompt of a pass
func SystemPrompt(pass models.PassKind) string {
	if pass == models.PassLineItems {
		return LineItemsSystemPrompt
	}
	return MainFieldsSystemPrompt
}
