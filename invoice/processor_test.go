package invoice

import (
	"context"
	"log/slog"
	"testing"

	"github.com/pmehra/invoice-harvest/config"
	"github.com/pmehra/invoice-harvest/extract"
	"github.com/pmehra/invoice-harvest/model"
	"github.com/pmehra/invoice-harvest/runner"
	"github.com/pmehra/invoice-harvest/stats"
)

// Drives three messages through the processor stage: an attachment
// acceptance, a body synthesis after a duplicate-content attachment is
// passed over, and a duplicate-order rejection. The collector must see
// the matching event for each, and only accepted records survive.
func TestProcessor_EventsAndRecords(t *testing.T) {
	r, err := runner.New(config.Config{}, slog.Default())
	if err != nil {
		t.Fatalf("runner.New() error = %v", err)
	}

	collector := stats.NewCollector()
	r.SubscribeStats("collector", func(ctx context.Context, events <-chan stats.Event) error {
		collector.Run(ctx, events)
		return nil
	})

	payload := []byte("%PDF-1.4 invoice ONE111-AA")
	text := &fakeText{byPayload: map[string]string{
		string(payload): "Invoice\nSubtotal Rs.100.00\n",
	}}
	b, err := NewBuilder(Options{OutDir: t.TempDir()}, r.Ledger(), extract.Default(), text, &fakeRender{}, nil)
	if err != nil {
		t.Fatalf("NewBuilder() error = %v", err)
	}
	if _, err := NewProcessor(b, r, nil); err != nil {
		t.Fatalf("NewProcessor() error = %v", err)
	}

	msgs := []model.RawMessage{
		{
			UID:     "1",
			Subject: "Your Order ONE111-AA has shipped",
			Attachments: []model.AttachmentPart{
				{MediaType: "application/pdf", Filename: "invoice.pdf", Data: payload},
			},
		},
		{
			// Byte-identical attachment content arrives again; it is
			// passed over and the body carries the subtotal instead.
			UID:     "2",
			Subject: "Order No. TWO222-BB confirmed",
			Bodies: []model.BodyPart{
				{MediaType: "text/plain", Content: []byte("Subtotal Rs.50.00")},
			},
			Attachments: []model.AttachmentPart{
				{MediaType: "application/pdf", Filename: "invoice.pdf", Data: payload},
			},
		},
		{
			UID:     "3",
			Subject: "Order No. ONE111-AA confirmed",
			Bodies: []model.BodyPart{
				{MediaType: "text/plain", Content: []byte("Subtotal Rs.75.00")},
			},
		},
	}

	r.AddStage("producer", func(ctx context.Context) error {
		defer r.CloseSource()
		for _, msg := range msgs {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case r.SourceWriter() <- model.Envelope{Message: msg}:
			}
		}
		return nil
	})

	if err := r.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	s := collector.Snapshot()
	if s.Scanned != 3 {
		t.Errorf("Scanned = %d, want 3", s.Scanned)
	}
	if s.Accepted != 2 {
		t.Errorf("Accepted = %d, want 2", s.Accepted)
	}
	if s.Synthesized != 1 {
		t.Errorf("Synthesized = %d, want 1 (message 2 renders from the body)", s.Synthesized)
	}
	if s.Rejected != 1 || s.DuplicateOrders != 1 {
		t.Errorf("Rejected = %d DuplicateOrders = %d, want 1 and 1", s.Rejected, s.DuplicateOrders)
	}
	if s.AttachmentsSkipped != 1 {
		t.Errorf("AttachmentsSkipped = %d, want 1 (duplicate content on message 2)", s.AttachmentsSkipped)
	}
	if got := s.TotalAmount.StringFixed(2); got != "150.00" {
		t.Errorf("TotalAmount = %s, want 150.00", got)
	}

	records := r.Records()
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2: %v", len(records), records)
	}
	if records[0].OrderID != "ONE111-AA" || records[1].OrderID != "TWO222-BB" {
		t.Errorf("record order ids = %s, %s; want ONE111-AA, TWO222-BB", records[0].OrderID, records[1].OrderID)
	}
}
