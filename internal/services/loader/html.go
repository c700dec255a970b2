package loader

import (
	"bytes"
	"fmt"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
	"github.com/ternarybob/pactum/internal/models"
)

// boilerplate is removed before conversion
const boilerplate = "script, style, noscript, nav, header, footer, iframe"

const tablePlaceholder = "PACTUMTABLEPLACEHOLDER"

// parseHTML converts the body to markdown TEXT elements. Top-level tables are lifted out first
// and rendered as TABLE elements at their original position.
func parseHTML(raw []byte) ([]models.DocumentElement, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	doc.Find(boilerplate).Remove()

	var tables []string
	doc.Find("table").
		FilterFunction(func(_ int, s *goquery.Selection) bool {
			return s.ParentsFiltered("table").Length() == 0
		}).
		Each(func(_ int, s *goquery.Selection) {
			var rows [][]string
			s.Find("tr").Each(func(_ int, tr *goquery.Selection) {
				var cells []string
				tr.Find("th, td").Each(func(_ int, cell *goquery.Selection) {
					cells = append(cells, collapse(cell.Text()))
				})
				if len(cells) > 0 {
					rows = append(rows, cells)
				}
			})
			s.ReplaceWithHtml(fmt.Sprintf("<p>%s%d</p>", tablePlaceholder, len(tables)))
			tables = append(tables, renderTable(rows))
		})

	body := doc.Find("body")
	if body.Length() == 0 {
		body = doc.Selection
	}
	html, err := body.Html()
	if err != nil {
		return nil, fmt.Errorf("render html body: %w", err)
	}

	converter := md.NewConverter("", true, nil)
	markdown, err := converter.ConvertString(html)
	if err != nil {
		return nil, fmt.Errorf("convert html to markdown: %w", err)
	}

	var elements []models.DocumentElement
	var pending []string
	flush := func() {
		elements = append(elements, parseText(strings.Join(pending, "\n"))...)
		pending = nil
	}
	for _, line := range strings.Split(markdown, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, tablePlaceholder) {
			var idx int
			if _, err := fmt.Sscanf(trimmed, tablePlaceholder+"%d", &idx); err == nil && idx < len(tables) {
				flush()
				if tables[idx] != "" {
					elements = append(elements, models.DocumentElement{Kind: models.ElementTable, Content: tables[idx]})
				}
				continue
			}
		}
		pending = append(pending, line)
	}
	flush()
	return elements, nil
}
