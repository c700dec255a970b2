package loader

import (
	"strconv"
	"strings"

	"github.com/ternarybob/pactum/internal/models"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	extast "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"
)

var markdownParser = goldmark.New(goldmark.WithExtensions(extension.Table)).Parser()

// parseMarkdown emits one element per top-level block; GFM tables become TABLE elements
func parseMarkdown(source []byte) []models.DocumentElement {
	doc := markdownParser.Parse(text.NewReader(source))

	var elements []models.DocumentElement
	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		if table, ok := n.(*extast.Table); ok {
			if content := renderTable(tableRows(table, source)); content != "" {
				elements = append(elements, models.DocumentElement{Kind: models.ElementTable, Content: content})
			}
			continue
		}
		if content := strings.TrimSpace(blockText(n, source)); content != "" {
			elements = append(elements, models.DocumentElement{Kind: models.ElementText, Content: content})
		}
	}
	return elements
}

func tableRows(table *extast.Table, source []byte) [][]string {
	var rows [][]string
	for row := table.FirstChild(); row != nil; row = row.NextSibling() {
		var cells []string
		for cell := row.FirstChild(); cell != nil; cell = cell.NextSibling() {
			cells = append(cells, collapse(inlineText(cell, source)))
		}
		rows = append(rows, cells)
	}
	return rows
}

func blockText(n ast.Node, source []byte) string {
	switch node := n.(type) {
	case *ast.Heading:
		return strings.Repeat("#", node.Level) + " " + linesText(n, source)
	case *ast.ThematicBreak:
		return ""
	case *ast.List:
		var items []string
		i := node.Start
		for item := n.FirstChild(); item != nil; item = item.NextSibling() {
			marker := "-"
			if node.IsOrdered() {
				marker = strconv.Itoa(i) + "."
				i++
			}
			items = append(items, marker+" "+childrenText(item, source, " "))
		}
		return strings.Join(items, "\n")
	case *ast.Blockquote:
		return "> " + childrenText(n, source, "\n> ")
	}
	if n.Lines().Len() > 0 {
		return linesText(n, source)
	}
	return childrenText(n, source, "\n")
}

func childrenText(n ast.Node, source []byte, sep string) string {
	var parts []string
	for child := n.FirstChild(); child != nil; child = child.NextSibling() {
		if s := strings.TrimSpace(blockText(child, source)); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, sep)
}

func linesText(n ast.Node, source []byte) string {
	lines := n.Lines()
	parts := make([]string, 0, lines.Len())
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		parts = append(parts, strings.TrimRight(string(seg.Value(source)), "\r\n"))
	}
	return strings.Join(parts, "\n")
}

func inlineText(n ast.Node, source []byte) string {
	var b strings.Builder
	_ = ast.Walk(n, func(node ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch t := node.(type) {
		case *ast.Text:
			b.Write(t.Segment.Value(source))
			if t.SoftLineBreak() || t.HardLineBreak() {
				b.WriteByte(' ')
			}
		case *ast.String:
			b.Write(t.Value)
		}
		return ast.WalkContinue, nil
	})
	return b.String()
}
