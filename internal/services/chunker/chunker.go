package chunker

import (
	"math"
	"strings"
	"unicode/utf8"

	"github.com/ternarybob/pactum/internal/common"
	"github.com/ternarybob/pactum/internal/models"
)

// textSeparators are tried in order when a text element exceeds the text budget
var textSeparators = []string{"\n\n", "\n", " "}

// Chunker cuts ordered document elements into token-bounded chunks.
// It is a pure function of its input and config and is safe for concurrent use.
type Chunker struct {
	config common.ChunkingConfig
}

// New creates a Chunker. Non-positive budgets fall back to the defaults.
func New(config common.ChunkingConfig) *Chunker {
	defaults := common.NewDefaultConfig().Chunking
	if config.TextTokenBudget <= 0 {
		config.TextTokenBudget = defaults.TextTokenBudget
	}
	if config.TableTokenBudget <= 0 {
		config.TableTokenBudget = defaults.TableTokenBudget
	}
	if config.CharsPerToken <= 0 {
		config.CharsPerToken = defaults.CharsPerToken
	}
	return &Chunker{config: config}
}

// EstimateTokens approximates the token count as ceil(runes / chars_per_token).
// Counting runes keeps Cyrillic text from being weighted double.
func (c *Chunker) EstimateTokens(s string) int {
	n := utf8.RuneCountInString(s)
	return int(math.Ceil(float64(n) / float64(c.config.CharsPerToken)))
}

// Budget returns the token budget for a chunk kind
func (c *Chunker) Budget(kind models.ElementKind) int {
	if kind == models.ElementTable {
		return c.config.TableTokenBudget
	}
	return c.config.TextTokenBudget
}

// Plan returns a single whole-document chunk for short documents, otherwise the result of Split
func (c *Chunker) Plan(elements []models.DocumentElement) []models.Chunk {
	if chunk, ok := c.Whole(elements); ok {
		return []models.Chunk{chunk}
	}
	return c.Split(elements)
}

// Whole packs every element into one chunk when the document is shorter than the
// single-request threshold, fits the budget of its kind and holds no table over the table budget
func (c *Chunker) Whole(elements []models.DocumentElement) (models.Chunk, bool) {
	if c.config.SingleRequestThreshold <= 0 || len(elements) == 0 {
		return models.Chunk{}, false
	}

	chars := 0
	for _, e := range elements {
		if e.Kind == models.ElementTable && c.EstimateTokens(e.Content) > c.config.TableTokenBudget {
			return models.Chunk{}, false
		}
		chars += utf8.RuneCountInString(e.Content)
	}
	if chars >= c.config.SingleRequestThreshold {
		return models.Chunk{}, false
	}

	chunk := models.Chunk{Index: 0, Elements: append([]models.DocumentElement(nil), elements...)}
	chunk.TokenEstimate = c.EstimateTokens(chunk.Content())
	if chunk.TokenEstimate > c.Budget(chunk.Kind()) {
		return models.Chunk{}, false
	}
	return chunk, true
}

// Split produces chunks in element order. Text elements pack together up to the text budget;
// tables always get chunks of their own and are re-prefixed with their header when split.
func (c *Chunker) Split(elements []models.DocumentElement) []models.Chunk {
	var chunks []models.Chunk
	var current []models.DocumentElement

	emit := func(els []models.DocumentElement, continuation bool) {
		chunk := models.Chunk{
			Index:               len(chunks),
			Elements:            els,
			IsTableContinuation: continuation,
		}
		chunk.TokenEstimate = c.EstimateTokens(chunk.Content())
		chunks = append(chunks, chunk)
	}

	flush := func() {
		if len(current) > 0 {
			emit(current, false)
			current = nil
		}
	}

	for _, element := range elements {
		if element.Kind == models.ElementTable {
			flush()
			for _, piece := range c.splitTable(element) {
				emit([]models.DocumentElement{piece}, piece.Part > 0)
			}
			continue
		}

		for _, piece := range c.splitTextElement(element) {
			candidate := append(append([]models.DocumentElement(nil), current...), piece)
			if len(current) > 0 && c.EstimateTokens(joinContent(candidate)) > c.config.TextTokenBudget {
				flush()
				candidate = []models.DocumentElement{piece}
			}
			current = candidate
		}
	}
	flush()

	return chunks
}

func (c *Chunker) splitTextElement(element models.DocumentElement) []models.DocumentElement {
	if !element.Splittable || c.EstimateTokens(element.Content) <= c.config.TextTokenBudget {
		return []models.DocumentElement{element}
	}

	parts := c.splitText(element.Content, 0)
	pieces := make([]models.DocumentElement, len(parts))
	for i, part := range parts {
		pieces[i] = element
		pieces[i].Content = part
		pieces[i].Part = i
	}
	return pieces
}

// splitText cuts s into contiguous substrings (their concatenation is s) at the coarsest
// separator that brings every piece under the text budget. A piece with no separator left
// is returned as is.
func (c *Chunker) splitText(s string, level int) []string {
	budget := c.config.TextTokenBudget
	if c.EstimateTokens(s) <= budget || level >= len(textSeparators) {
		return []string{s}
	}

	segments := splitAfter(s, textSeparators[level])
	if len(segments) == 1 {
		return c.splitText(s, level+1)
	}

	var out []string
	var cur strings.Builder
	for _, seg := range segments {
		if c.EstimateTokens(seg) > budget {
			if cur.Len() > 0 {
				out = append(out, cur.String())
				cur.Reset()
			}
			out = append(out, c.splitText(seg, level+1)...)
			continue
		}
		if cur.Len() > 0 && c.EstimateTokens(cur.String()+seg) > budget {
			out = append(out, cur.String())
			cur.Reset()
		}
		cur.WriteString(seg)
	}
	if cur.Len() > 0 {
		out = append(out, cur.String())
	}
	return out
}

func (c *Chunker) splitTable(element models.DocumentElement) []models.DocumentElement {
	budget := c.config.TableTokenBudget
	if !element.Splittable || c.EstimateTokens(element.Content) <= budget {
		return []models.DocumentElement{element}
	}

	header, rows := SplitTableHeader(element.Content)
	if len(rows) == 0 {
		return []models.DocumentElement{element}
	}

	headerText := strings.Join(header, "\n")
	var pieces []models.DocumentElement
	var batch []string

	emit := func() {
		piece := element
		piece.Content = headerText + "\n" + strings.Join(batch, "\n")
		piece.Part = len(pieces)
		pieces = append(pieces, piece)
		batch = nil
	}

	for _, row := range rows {
		if len(batch) > 0 {
			candidate := headerText + "\n" + strings.Join(batch, "\n") + "\n" + row
			if c.EstimateTokens(candidate) > budget {
				emit()
			}
		}
		batch = append(batch, row)
	}
	if len(batch) > 0 {
		emit()
	}
	return pieces
}

// SplitTableHeader separates a markdown table into its header lines (everything up to and
// including the "| --- |" separator row, or just the first line when there is none) and data rows
func SplitTableHeader(content string) (header []string, rows []string) {
	lines := strings.Split(strings.TrimRight(content, "\n"), "\n")
	if len(lines) == 0 {
		return nil, nil
	}

	sep := -1
	for i, line := range lines {
		if IsSeparatorRow(line) {
			sep = i
			break
		}
	}
	if sep < 0 {
		return lines[:1], lines[1:]
	}
	return lines[:sep+1], lines[sep+1:]
}

// IsSeparatorRow reports whether line is a markdown table delimiter row such as "| --- | :-: |"
func IsSeparatorRow(line string) bool {
	trimmed := strings.TrimSpace(line)
	if !strings.Contains(trimmed, "-") {
		return false
	}
	for _, r := range trimmed {
		switch r {
		case '|', '-', ':', ' ', '\t':
		default:
			return false
		}
	}
	return true
}

func splitAfter(s, sep string) []string {
	raw := strings.SplitAfter(s, sep)
	out := raw[:0]
	for _, part := range raw {
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func joinContent(elements []models.DocumentElement) string {
	return models.Chunk{Elements: elements}.Content()
}
