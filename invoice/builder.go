// Package invoice turns a message into a finalized invoice record or a
// rejection with a reason. One document file is written per accepted
// message, named after the order identifier.
package invoice

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/pmehra/invoice-harvest/extract"
	"github.com/pmehra/invoice-harvest/ledger"
	"github.com/pmehra/invoice-harvest/model"
	"github.com/pmehra/invoice-harvest/textnorm"
)

// TextExtractor recovers plain text from document bytes. An empty result is
// valid: it means the document has no text layer.
type TextExtractor interface {
	Text(data []byte) (string, error)
}

// BodyRenderer synthesizes an invoice document from message body content.
type BodyRenderer interface {
	RenderBody(path, orderID, subject, body string) error
}

type Options struct {
	OutDir string
	// SkipExisting leaves a pre-existing {orderID}.pdf untouched instead
	// of overwriting it. Off by default: a rerun overwrites files from
	// earlier runs, matching the historical behavior.
	SkipExisting bool
}

// Builder runs the per-message state machine: identify the order, gate it
// through the ledger, try PDF attachments first, fall back to the body.
type Builder struct {
	opts      Options
	dedup     *ledger.Ledger
	extractor *extract.Extractor
	text      TextExtractor
	render    BodyRenderer
	logger    *slog.Logger
}

func NewBuilder(opts Options, dedup *ledger.Ledger, extractor *extract.Extractor, text TextExtractor, render BodyRenderer, logger *slog.Logger) (*Builder, error) {
	if opts.OutDir == "" {
		return nil, fmt.Errorf("output directory is empty")
	}
	if dedup == nil {
		return nil, fmt.Errorf("ledger must not be nil")
	}
	if extractor == nil {
		extractor = extract.Default()
	}
	if err := os.MkdirAll(opts.OutDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}

	return &Builder{
		opts:      opts,
		dedup:     dedup,
		extractor: extractor,
		text:      text,
		render:    render,
		logger:    logger,
	}, nil
}

// Process applies the full state machine to one message. Rejections are
// returned as data; the caller decides how to log and continue.
func (b *Builder) Process(msg model.RawMessage) model.Outcome {
	display, search := textnorm.Normalize(msg.Bodies)

	orderID := b.extractor.OrderID(msg.Subject, search)
	if orderID == "" {
		return model.Reject(model.ReasonNoOrderID)
	}
	if b.dedup.SeenOrder(orderID) {
		return model.Reject(model.ReasonDuplicateOrder)
	}

	path := filepath.Join(b.opts.OutDir, FileName(orderID))

	outcome, skipped, done := b.fromAttachments(msg, orderID, path)
	if !done {
		outcome = b.fromBody(msg, orderID, display, search, path)
	}
	outcome.SkippedAttachments = skipped
	return outcome
}

// fromAttachments tries each PDF attachment in order. Attachments that are
// empty, duplicated, unreadable, or lacking a subtotal are skipped and
// counted; the first one that yields a subtotal wins and later attachments
// are ignored. done is false when no attachment succeeded and the body
// fallback should run.
func (b *Builder) fromAttachments(msg model.RawMessage, orderID, path string) (outcome model.Outcome, skipped int, done bool) {
	for _, att := range msg.Attachments {
		if att.MediaType != "application/pdf" {
			continue
		}
		if len(att.Data) == 0 {
			b.log().Warn("empty pdf payload", "uid", msg.UID, "filename", att.Filename)
			skipped++
			continue
		}

		fp := ledger.FingerprintOf(att.Data)
		if b.dedup.SeenAttachment(fp) {
			b.log().Warn("duplicate pdf attachment", "uid", msg.UID, "filename", att.Filename)
			skipped++
			continue
		}

		text, err := b.text.Text(att.Data)
		if err != nil {
			b.log().Warn("unreadable pdf attachment", "uid", msg.UID, "filename", att.Filename, "err", err)
			skipped++
			continue
		}

		amount, ok := b.extractor.Subtotal(text)
		if !ok {
			b.log().Warn("subtotal not found in pdf", "uid", msg.UID, "filename", att.Filename)
			skipped++
			continue
		}

		if err := b.writeDocument(path, att.Data); err != nil {
			b.log().Error("write invoice pdf", "uid", msg.UID, "path", path, "err", err)
			return model.Reject(model.ReasonWriteFailed), skipped, true
		}

		b.dedup.RecordAttachment(fp)
		b.dedup.RecordOrder(orderID)
		return model.Accept(model.InvoiceRecord{
			OrderID: orderID,
			Subject: msg.Subject,
			Amount:  amount,
			Path:    path,
		}), skipped, true
	}

	return model.Outcome{}, skipped, false
}

// fromBody extracts the subtotal from the search-form body, retrying once
// on the display form, then synthesizes a document from the display body.
func (b *Builder) fromBody(msg model.RawMessage, orderID, display, search, path string) model.Outcome {
	amount, ok := b.extractor.Subtotal(search)
	if !ok {
		amount, ok = b.extractor.Subtotal(display)
	}
	if !ok {
		return model.Reject(model.ReasonNoSubtotal)
	}

	if b.opts.SkipExisting && fileExists(path) {
		b.log().Info("invoice pdf already exists, keeping it", "path", path)
	} else if err := b.render.RenderBody(path, orderID, msg.Subject, display); err != nil {
		b.log().Error("render invoice pdf", "uid", msg.UID, "path", path, "err", err)
		return model.Reject(model.ReasonRenderFailed)
	}

	b.dedup.RecordOrder(orderID)
	return model.AcceptSynthesized(model.InvoiceRecord{
		OrderID: orderID,
		Subject: msg.Subject,
		Amount:  amount,
		Path:    path,
	})
}

func (b *Builder) writeDocument(path string, data []byte) error {
	if b.opts.SkipExisting && fileExists(path) {
		b.log().Info("invoice pdf already exists, keeping it", "path", path)
		return nil
	}
	return os.WriteFile(path, data, 0o644)
}

func (b *Builder) log() *slog.Logger {
	if b.logger != nil {
		return b.logger
	}
	return slog.Default()
}

// FileName derives the document file name for an order identifier.
// Characters outside letters, digits, spaces, dots, underscores, and
// hyphens become underscores.
func FileName(orderID string) string {
	var sb strings.Builder
	for _, c := range orderID {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9',
			c == ' ', c == '.', c == '_', c == '-':
			sb.WriteRune(c)
		default:
			sb.WriteRune('_')
		}
	}
	if sb.Len() == 0 {
		sb.WriteString("unknown")
	}
	return sb.String() + ".pdf"
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
