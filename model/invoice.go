package model

import "github.com/shopspring/decimal"

// InvoiceRecord is one accepted invoice. Immutable once emitted; order IDs
// are unique within a run.
type InvoiceRecord struct {
	OrderID string
	Subject string
	Amount  decimal.Decimal
	Path    string
}

// RejectReason explains why a message produced no invoice.
type RejectReason string

const (
	ReasonNoOrderID      RejectReason = "no order id"
	ReasonDuplicateOrder RejectReason = "duplicate order"
	ReasonNoSubtotal     RejectReason = "no subtotal found"
	ReasonRenderFailed   RejectReason = "render failed"
	ReasonWriteFailed    RejectReason = "write failed"
)

// Outcome is the per-message processing result. Rejections are data, not
// errors: the pipeline logs them and continues with the next message.
type Outcome struct {
	Accepted bool
	// Synthesized is set when the document was rendered from the message
	// body instead of persisted from an attachment.
	Synthesized bool
	// SkippedAttachments counts PDF attachments that were passed over
	// (empty, duplicate content, unreadable, or no subtotal) before this
	// outcome was reached.
	SkippedAttachments int
	Record             InvoiceRecord
	Reason             RejectReason
}

func Accept(rec InvoiceRecord) Outcome {
	return Outcome{Accepted: true, Record: rec}
}

func AcceptSynthesized(rec InvoiceRecord) Outcome {
	return Outcome{Accepted: true, Synthesized: true, Record: rec}
}

func Reject(reason RejectReason) Outcome {
	return Outcome{Reason: reason}
}
