// Package docextract converts downloaded document bytes (PDF, DOCX, XLSX)
// into plain text for use as a SearchDoc's mainText. It adapts the
// teacher's local-file tools (internal/tools/pdf.go, docx.go, xlsx.go) to
// operate on bytes fetched over HTTP rather than paths on local disk.
package docextract

import (
	"bytes"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
	"github.com/xuri/excelize/v2"
)

// Kind identifies a document format recognized from a Content-Type header.
type Kind int

const (
	KindNone Kind = iota
	KindPDF
	KindDOCX
	KindXLSX
)

// KindFromContentType classifies an HTTP Content-Type value. Unrecognized
// types return KindNone, telling the caller to fall through to HTML/plain
// text handling.
func KindFromContentType(contentType string) Kind {
	ct := strings.ToLower(contentType)
	switch {
	case strings.Contains(ct, "application/pdf"):
		return KindPDF
	case strings.Contains(ct, "officedocument.wordprocessingml"), strings.Contains(ct, "msword"):
		return KindDOCX
	case strings.Contains(ct, "officedocument.spreadsheetml"), strings.Contains(ct, "ms-excel"):
		return KindXLSX
	default:
		return KindNone
	}
}

var whitespaceRe = regexp.MustCompile(`\s+`)

func cleanWhitespace(s string) string {
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(s, " "))
}

// maxPages bounds PDF extraction so a pathological document can't stall a
// worker indefinitely.
const maxPages = 50

// ExtractText converts raw document bytes of the given kind to plain text.
// It returns an error for KindNone; callers should check KindFromContentType
// first.
func ExtractText(kind Kind, data []byte) (string, error) {
	switch kind {
	case KindPDF:
		return extractPDF(data)
	case KindDOCX:
		return extractDOCX(data)
	case KindXLSX:
		return extractXLSX(data)
	default:
		return "", fmt.Errorf("docextract: unsupported kind %v", kind)
	}
}

func extractPDF(data []byte) (string, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}

	var text strings.Builder
	pages := r.NumPage()
	if pages > maxPages {
		pages = maxPages
	}
	for i := 1; i <= pages; i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		content, err := p.GetPlainText(nil)
		if err != nil {
			continue
		}
		text.WriteString(content)
		text.WriteString(" ")
	}

	return cleanWhitespace(text.String()), nil
}

// extractDOCX writes data to a temp file because nguyenthenguyen/docx only
// opens from a path (it reads the backing zip archive via os.File).
func extractDOCX(data []byte) (string, error) {
	tmp, err := os.CreateTemp("", "docextract-*.docx")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	if _, err := tmp.Write(data); err != nil {
		return "", fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close temp file: %w", err)
	}

	r, err := docx.ReadDocxFile(tmp.Name())
	if err != nil {
		return "", fmt.Errorf("open docx: %w", err)
	}
	defer r.Close()

	content := r.Editable().GetContent()
	// Strip the residual XML markup GetContent leaves behind around runs.
	tagRe := regexp.MustCompile(`<[^>]*>`)
	return cleanWhitespace(tagRe.ReplaceAllString(content, " ")), nil
}

const (
	maxSheets       = 3
	maxRowsPerSheet = 200
)

func extractXLSX(data []byte) (string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("open xlsx: %w", err)
	}
	defer f.Close()

	var text strings.Builder
	sheets := f.GetSheetList()
	if len(sheets) > maxSheets {
		sheets = sheets[:maxSheets]
	}

	for _, sheet := range sheets {
		rows, err := f.GetRows(sheet)
		if err != nil {
			continue
		}
		text.WriteString(sheet)
		text.WriteString(": ")
		limit := len(rows)
		if limit > maxRowsPerSheet {
			limit = maxRowsPerSheet
		}
		for _, row := range rows[:limit] {
			text.WriteString(strings.Join(row, " | "))
			text.WriteString(" ")
		}
	}

	return cleanWhitespace(text.String()), nil
}
