// Package pdftext extracts plain text from PDF attachments.
package pdftext

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

// Extractor pulls the text content out of PDF documents, page by page.
type Extractor struct{}

func New() *Extractor {
	return &Extractor{}
}

// Text returns the concatenated text of every page. Pages without a text
// layer (scanned documents) contribute nothing; an empty result is valid
// and simply means no text could be recovered.
func (e *Extractor) Text(data []byte) (text string, err error) {
	// The parser panics on some malformed files instead of returning an
	// error; turn that into a skippable error for the caller.
	defer func() {
		if r := recover(); r != nil {
			text = ""
			err = fmt.Errorf("parse pdf: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}

	var sb strings.Builder
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}

		rows, err := page.GetTextByRow()
		if err != nil {
			continue
		}
		for _, row := range rows {
			for _, word := range row.Content {
				sb.WriteString(word.S)
				sb.WriteString(" ")
			}
			sb.WriteString("\n")
		}
	}

	return sb.String(), nil
}
