package models

import "strings"

// ElementKind classifies a document element
type ElementKind string

const (
	ElementText  ElementKind = "TEXT"
	ElementTable ElementKind = "TABLE"
)

// DocumentElement is one ordered block of a loaded document.
// Tables are carried as markdown tables ("| a | b |" rows with a "| --- |" separator).
type DocumentElement struct {
	Kind       ElementKind `json:"kind"`
	Content    string      `json:"content"`
	OrderIndex int         `json:"order_index"`
	Splittable bool        `json:"splittable"`

	// Part numbers the pieces of an element that the chunker had to split (0 for the first or only piece)
	Part int `json:"part,omitempty"`
}

// Document is a loaded source document: ordered elements plus the raw file for attachment
type Document struct {
	Name     string            `json:"name"`
	Path     string            `json:"path"`
	Elements []DocumentElement `json:"elements"`
	Raw      []byte            `json:"-"`
}

// TextLength returns the total number of characters across all elements
func (d *Document) TextLength() int {
	n := 0
	for _, e := range d.Elements {
		n += len([]rune(e.Content))
	}
	return n
}

// Chunk is a token-bounded slice of a document's elements, the unit of one oracle call
type Chunk struct {
	Index               int               `json:"index"`
	Elements            []DocumentElement `json:"elements"`
	TokenEstimate       int               `json:"token_estimate"`
	IsTableContinuation bool              `json:"is_table_continuation"`
}

// Kind is TABLE when every element in the chunk is a table piece, otherwise TEXT
func (c Chunk) Kind() ElementKind {
	if len(c.Elements) == 0 {
		return ElementText
	}
	for _, e := range c.Elements {
		if e.Kind != ElementTable {
			return ElementText
		}
	}
	return ElementTable
}

// Content joins the chunk's elements with blank lines
func (c Chunk) Content() string {
	parts := make([]string, 0, len(c.Elements))
	for _, e := range c.Elements {
		parts = append(parts, e.Content)
	}
	return strings.Join(parts, "\n\n")
}
