package loader

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/pactum/internal/interfaces"
	"github.com/ternarybob/pactum/internal/models"
)

// ErrUnsupportedFormat is returned for file extensions no adapter handles
var ErrUnsupportedFormat = errors.New("unsupported document format")

// ErrEmptyDocument is returned when a file yields no text at all
var ErrEmptyDocument = errors.New("document has no extractable text")

// Service loads source files into ordered document elements
type Service struct {
	logger arbor.ILogger
}

// Compile-time interface assertion
var _ interfaces.DocumentLoader = (*Service)(nil)

// NewService creates a document loader
func NewService(logger arbor.ILogger) *Service {
	return &Service{logger: logger}
}

// Load reads path and converts it by extension: .md, .html/.htm, .pdf or .txt
func (s *Service) Load(ctx context.Context, path string) (*models.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read document: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(path))
	var elements []models.DocumentElement
	switch ext {
	case ".md", ".markdown":
		elements = parseMarkdown(raw)
	case ".html", ".htm":
		elements, err = parseHTML(raw)
	case ".pdf":
		elements, err = parsePDF(raw)
	case ".txt", "":
		elements = parseText(string(raw))
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
	if err != nil {
		return nil, fmt.Errorf("parse %s document: %w", ext, err)
	}
	if len(elements) == 0 {
		return nil, ErrEmptyDocument
	}

	for i := range elements {
		elements[i].OrderIndex = i
		elements[i].Splittable = true
	}

	doc := &models.Document{
		Name:     filepath.Base(path),
		Path:     path,
		Elements: elements,
		Raw:      raw,
	}

	tables := 0
	for _, e := range elements {
		if e.Kind == models.ElementTable {
			tables++
		}
	}
	s.logger.Info().
		Str("document", doc.Name).
		Int("elements", len(elements)).
		Int("tables", tables).
		Int("chars", doc.TextLength()).
		Msg("Document loaded")
	return doc, nil
}

// parseText splits plain text on blank lines. Runs of lines starting with "|" become tables.
func parseText(content string) []models.DocumentElement {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	var elements []models.DocumentElement
	for _, block := range strings.Split(content, "\n\n") {
		block = strings.TrimSpace(block)
		if block == "" {
			continue
		}
		kind := models.ElementText
		if isTableBlock(block) {
			kind = models.ElementTable
		}
		elements = append(elements, models.DocumentElement{Kind: kind, Content: block})
	}
	return elements
}

func isTableBlock(block string) bool {
	lines := strings.Split(block, "\n")
	if len(lines) < 2 {
		return false
	}
	for _, line := range lines {
		if !strings.HasPrefix(strings.TrimSpace(line), "|") {
			return false
		}
	}
	return true
}

// renderTable writes rows as a markdown table; the first row is the header
func renderTable(rows [][]string) string {
	width := 0
	for _, row := range rows {
		if len(row) > width {
			width = len(row)
		}
	}
	if width == 0 {
		return ""
	}

	var b strings.Builder
	writeRow := func(cells []string) {
		b.WriteString("|")
		for i := 0; i < width; i++ {
			cell := ""
			if i < len(cells) {
				cell = strings.ReplaceAll(cells[i], "|", "\\|")
			}
			b.WriteString(" " + cell + " |")
		}
		b.WriteString("\n")
	}

	writeRow(rows[0])
	b.WriteString("|" + strings.Repeat(" --- |", width) + "\n")
	for _, row := range rows[1:] {
		writeRow(row)
	}
	return strings.TrimRight(b.String(), "\n")
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
