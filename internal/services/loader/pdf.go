package loader

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/ternarybob/pactum/internal/models"
	"golang.org/x/text/encoding/charmap"
)

var pageFilePattern = regexp.MustCompile(`page_(\d+)`)

// parsePDF extracts each page's content stream with pdfcpu and decodes its text operators.
// Every page with text becomes one TEXT element.
func parsePDF(raw []byte) ([]models.DocumentElement, error) {
	dir, err := os.MkdirTemp("", "pactum-pdf-")
	if err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	file := filepath.Join(dir, "document.pdf")
	if err := os.WriteFile(file, raw, 0644); err != nil {
		return nil, fmt.Errorf("write temp pdf: %w", err)
	}

	pdfCtx, err := api.ReadContextFile(file)
	if err != nil {
		return nil, fmt.Errorf("read pdf: %w", err)
	}

	outDir := filepath.Join(dir, "content")
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return nil, fmt.Errorf("create content dir: %w", err)
	}
	if err := api.ExtractContentFile(file, outDir, nil, model.NewDefaultConfiguration()); err != nil {
		return nil, fmt.Errorf("extract pdf content: %w", err)
	}

	entries, err := os.ReadDir(outDir)
	if err != nil {
		return nil, fmt.Errorf("read content dir: %w", err)
	}

	type page struct {
		number int
		name   string
	}
	pages := make([]page, 0, len(entries))
	for i, entry := range entries {
		if entry.IsDir() {
			continue
		}
		number := pdfCtx.PageCount + i + 1
		if m := pageFilePattern.FindStringSubmatch(entry.Name()); m != nil {
			number, _ = strconv.Atoi(m[1])
		}
		pages = append(pages, page{number: number, name: entry.Name()})
	}
	sort.Slice(pages, func(i, j int) bool { return pages[i].number < pages[j].number })

	var elements []models.DocumentElement
	for _, p := range pages {
		stream, err := os.ReadFile(filepath.Join(outDir, p.name))
		if err != nil {
			return nil, fmt.Errorf("read page %d content: %w", p.number, err)
		}
		if content := strings.TrimSpace(contentText(stream)); content != "" {
			elements = append(elements, models.DocumentElement{Kind: models.ElementText, Content: content})
		}
	}
	return elements, nil
}

// contentText decodes the text-showing operators (Tj, TJ, ' and ") of a content stream. A change
// of baseline starts a new line; large negative TJ kerning becomes a space.
func contentText(stream []byte) string {
	var (
		b        strings.Builder
		operands []token
		y        float64
		lastY    = math.NaN()
	)

	show := func(s string) {
		if s == "" {
			return
		}
		if !math.IsNaN(lastY) {
			if math.Abs(y-lastY) > 1 {
				b.WriteString("\n")
			} else if b.Len() > 0 && !strings.HasSuffix(b.String(), " ") {
				b.WriteString(" ")
			}
		}
		b.WriteString(s)
		lastY = y
	}

	lex := &lexer{data: stream}
	for {
		tok, ok := lex.next()
		if !ok {
			break
		}
		if tok.kind != tokOperator {
			operands = append(operands, tok)
			continue
		}

		switch tok.text {
		case "BT":
			y = 0
		case "Td", "TD":
			if len(operands) >= 2 {
				y += operands[len(operands)-1].number
			}
		case "Tm":
			if len(operands) >= 6 {
				y = operands[len(operands)-1].number
			}
		case "T*":
			y -= 1000
		case "Tj":
			if len(operands) > 0 {
				show(operands[len(operands)-1].text)
			}
		case "'", "\"":
			y -= 1000
			if len(operands) > 0 {
				show(operands[len(operands)-1].text)
			}
		case "TJ":
			if len(operands) > 0 && operands[len(operands)-1].kind == tokArray {
				show(operands[len(operands)-1].text)
			}
		}
		operands = operands[:0]
	}
	return b.String()
}

type tokenKind int

const (
	tokNumber tokenKind = iota
	tokString
	tokArray
	tokName
	tokOperator
)

type token struct {
	kind   tokenKind
	text   string
	number float64
}

type lexer struct {
	data []byte
	pos  int
}

func (l *lexer) next() (token, bool) {
	l.skipSpace()
	if l.pos >= len(l.data) {
		return token{}, false
	}

	c := l.data[l.pos]
	switch {
	case c == '(':
		return token{kind: tokString, text: decodeBytes(l.literal())}, true
	case c == '<' && l.peek(1) != '<':
		return token{kind: tokString, text: decodeBytes(l.hex())}, true
	case c == '[':
		return l.array(), true
	case c == '/':
		l.pos++
		return token{kind: tokName, text: l.word()}, true
	case c == '<' || c == '>' || c == ']' || c == '{' || c == '}':
		l.pos++
		if l.peek(0) == c {
			l.pos++
		}
		return token{kind: tokName, text: string(c)}, true
	case c == '-' || c == '+' || c == '.' || (c >= '0' && c <= '9'):
		w := l.word()
		n, _ := strconv.ParseFloat(w, 64)
		return token{kind: tokNumber, text: w, number: n}, true
	}
	return token{kind: tokOperator, text: l.word()}, true
}

func (l *lexer) peek(offset int) byte {
	if l.pos+offset >= len(l.data) {
		return 0
	}
	return l.data[l.pos+offset]
}

func (l *lexer) skipSpace() {
	for l.pos < len(l.data) {
		c := l.data[l.pos]
		if c == '%' {
			for l.pos < len(l.data) && l.data[l.pos] != '\n' && l.data[l.pos] != '\r' {
				l.pos++
			}
			continue
		}
		if c != ' ' && c != '\n' && c != '\r' && c != '\t' && c != '\f' && c != 0 {
			return
		}
		l.pos++
	}
}

func (l *lexer) word() string {
	start := l.pos
	for l.pos < len(l.data) {
		switch l.data[l.pos] {
		case ' ', '\n', '\r', '\t', '\f', 0, '(', ')', '<', '>', '[', ']', '{', '}', '/', '%':
			if l.pos == start {
				l.pos++
			}
			return string(l.data[start:l.pos])
		}
		l.pos++
	}
	return string(l.data[start:l.pos])
}

// literal reads a "(...)" string with nested parentheses and backslash escapes
func (l *lexer) literal() []byte {
	l.pos++
	var out []byte
	depth := 1
	for l.pos < len(l.data) {
		c := l.data[l.pos]
		l.pos++
		switch c {
		case '\\':
			if l.pos >= len(l.data) {
				return out
			}
			e := l.data[l.pos]
			l.pos++
			switch e {
			case 'n':
				out = append(out, '\n')
			case 'r':
				out = append(out, '\r')
			case 't':
				out = append(out, '\t')
			case 'b':
				out = append(out, '\b')
			case 'f':
				out = append(out, '\f')
			case '\r', '\n':
			default:
				if e >= '0' && e <= '7' {
					v := int(e - '0')
					for i := 0; i < 2 && l.pos < len(l.data) && l.data[l.pos] >= '0' && l.data[l.pos] <= '7'; i++ {
						v = v*8 + int(l.data[l.pos]-'0')
						l.pos++
					}
					out = append(out, byte(v))
				} else {
					out = append(out, e)
				}
			}
		case '(':
			depth++
			out = append(out, c)
		case ')':
			depth--
			if depth == 0 {
				return out
			}
			out = append(out, c)
		default:
			out = append(out, c)
		}
	}
	return out
}

func (l *lexer) hex() []byte {
	l.pos++
	var digits []byte
	for l.pos < len(l.data) && l.data[l.pos] != '>' {
		c := l.data[l.pos]
		if (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F') {
			digits = append(digits, c)
		}
		l.pos++
	}
	l.pos++
	if len(digits)%2 == 1 {
		digits = append(digits, '0')
	}
	out := make([]byte, 0, len(digits)/2)
	for i := 0; i < len(digits); i += 2 {
		v, _ := strconv.ParseUint(string(digits[i:i+2]), 16, 8)
		out = append(out, byte(v))
	}
	return out
}

// array reads a TJ operand, joining its strings and turning wide gaps into spaces
func (l *lexer) array() token {
	l.pos++
	var b strings.Builder
	for {
		l.skipSpace()
		if l.pos >= len(l.data) {
			break
		}
		if l.data[l.pos] == ']' {
			l.pos++
			break
		}
		tok, ok := l.next()
		if !ok {
			break
		}
		switch tok.kind {
		case tokString:
			b.WriteString(tok.text)
		case tokNumber:
			if tok.number < -200 {
				b.WriteString(" ")
			}
		}
	}
	return token{kind: tokArray, text: b.String()}
}

// decodeBytes maps simple-font string bytes through WinAnsi, the encoding core fonts use
func decodeBytes(raw []byte) string {
	out, err := charmap.Windows1252.NewDecoder().Bytes(raw)
	if err != nil {
		return string(raw)
	}
	return string(out)
}
