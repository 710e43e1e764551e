// Package pdfgen synthesizes an invoice PDF from email body content for
// messages that carry no usable attachment.
package pdfgen

import (
	"fmt"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"
)

const (
	marginPt     = 72.0
	titleSize    = 16.0
	detailSize   = 12.0
	bodySize     = 10.0
	lineHeight   = 12.0
	wrapColumns  = 100
	bottomLimit  = 100.0
	continuedTop = 50.0
)

// Renderer writes single- or multi-page invoice documents in a fixed
// layout: title with rule, order details, then the paginated body text.
type Renderer struct {
	Title string
	Now   func() time.Time
}

func New() *Renderer {
	return &Renderer{
		Title: "ORDER INVOICE",
		Now:   time.Now,
	}
}

// RenderBody writes a PDF built from the message body to path. Long lines
// wrap at a fixed column and pagination starts a new page whenever the
// cursor passes the bottom margin.
func (r *Renderer) RenderBody(path, orderID, subject, body string) error {
	doc := gofpdf.New("P", "pt", "Letter", "")
	tr := doc.UnicodeTranslatorFromDescriptor("")
	doc.AddPage()
	pageWidth, pageHeight := doc.GetPageSize()

	doc.SetFont("Helvetica", "B", titleSize)
	doc.Text(marginPt, marginPt, tr(r.Title))
	doc.Line(marginPt, marginPt+8, pageWidth-marginPt, marginPt+8)

	doc.SetFont("Helvetica", "", detailSize)
	y := marginPt + 28
	doc.Text(marginPt, y, tr("Order ID: "+orderID))
	y += 20
	doc.Text(marginPt, y, tr("Subject: "+truncate(subject, 100)))
	y += 20
	doc.Text(marginPt, y, tr(fmt.Sprintf("Date: %s", r.Now().Format("2006-01-02 15:04:05"))))
	y += 40

	doc.Text(marginPt, y, tr("Original Email Content:"))
	y += 20
	doc.SetFont("Helvetica", "", bodySize)

	for _, line := range strings.Split(body, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		for _, chunk := range wrapLine(line, wrapColumns) {
			if y > pageHeight-bottomLimit {
				doc.AddPage()
				y = continuedTop
				doc.SetFont("Helvetica", "", bodySize)
			}
			doc.Text(marginPt, y, tr(chunk))
			y += lineHeight
		}
	}

	if err := doc.OutputFileAndClose(path); err != nil {
		return fmt.Errorf("write pdf %s: %w", path, err)
	}
	return nil
}

// wrapLine splits a line into chunks of at most n runes.
func wrapLine(line string, n int) []string {
	runes := []rune(line)
	if len(runes) <= n {
		return []string{line}
	}

	chunks := make([]string, 0, len(runes)/n+1)
	for len(runes) > n {
		chunks = append(chunks, string(runes[:n]))
		runes = runes[n:]
	}
	if len(runes) > 0 {
		chunks = append(chunks, string(runes))
	}
	return chunks
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
