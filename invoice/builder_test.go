package invoice

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/pmehra/invoice-harvest/extract"
	"github.com/pmehra/invoice-harvest/ledger"
	"github.com/pmehra/invoice-harvest/model"
)

// fakeText maps attachment payloads to extracted text by their first bytes.
type fakeText struct {
	byPayload map[string]string
	errFor    map[string]error
}

func (f *fakeText) Text(data []byte) (string, error) {
	key := string(data)
	if err, ok := f.errFor[key]; ok {
		return "", err
	}
	return f.byPayload[key], nil
}

type fakeRender struct {
	calls int
	fail  error
}

func (f *fakeRender) RenderBody(path, orderID, subject, body string) error {
	f.calls++
	if f.fail != nil {
		return f.fail
	}
	return os.WriteFile(path, []byte("%PDF-1.4 synthesized "+orderID), 0o644)
}

func newTestBuilder(t *testing.T, text TextExtractor, render BodyRenderer) (*Builder, *ledger.Ledger, string) {
	t.Helper()
	dir := t.TempDir()
	dedup := ledger.New()
	b, err := NewBuilder(Options{OutDir: dir}, dedup, extract.Default(), text, render, nil)
	if err != nil {
		t.Fatalf("NewBuilder() error = %v", err)
	}
	return b, dedup, dir
}

func TestProcess_AttachmentWithDuplicateCopy(t *testing.T) {
	// Scenario: one message carrying the same PDF twice. The first copy is
	// accepted, the identical second copy never matters.
	payload := []byte("%PDF-1.4 invoice ABC123-001")
	text := &fakeText{byPayload: map[string]string{
		string(payload): "Invoice for your order\nSubtotal Rs.250.00\n",
	}}
	render := &fakeRender{}
	b, dedup, dir := newTestBuilder(t, text, render)

	msg := model.RawMessage{
		UID:     "1",
		Subject: "Your Order ABC123-001 has shipped",
		Attachments: []model.AttachmentPart{
			{MediaType: "application/pdf", Filename: "invoice.pdf", Data: payload},
			{MediaType: "application/pdf", Filename: "invoice.pdf", Data: payload},
		},
	}

	outcome := b.Process(msg)
	if !outcome.Accepted {
		t.Fatalf("Process() rejected: %s", outcome.Reason)
	}
	if outcome.Synthesized {
		t.Error("attachment path must not be marked synthesized")
	}
	if outcome.SkippedAttachments != 0 {
		t.Errorf("SkippedAttachments = %d, want 0 (first copy wins, second never examined)", outcome.SkippedAttachments)
	}
	if outcome.Record.OrderID != "ABC123-001" {
		t.Errorf("OrderID = %q, want ABC123-001", outcome.Record.OrderID)
	}
	if got := outcome.Record.Amount.StringFixed(2); got != "250.00" {
		t.Errorf("Amount = %s, want 250.00", got)
	}
	if outcome.Record.Path != filepath.Join(dir, "ABC123-001.pdf") {
		t.Errorf("Path = %q", outcome.Record.Path)
	}
	if render.calls != 0 {
		t.Errorf("renderer called %d times, want 0", render.calls)
	}

	data, err := os.ReadFile(outcome.Record.Path)
	if err != nil {
		t.Fatalf("read persisted attachment: %v", err)
	}
	if string(data) != string(payload) {
		t.Error("persisted bytes differ from the attachment payload")
	}

	// The identical payload in a second message must be skipped; with no
	// body subtotal either, the message is rejected.
	second := model.RawMessage{
		UID:     "2",
		Subject: "Fwd: Your Order FWD999-123 has shipped",
		Attachments: []model.AttachmentPart{
			{MediaType: "application/pdf", Filename: "invoice.pdf", Data: payload},
		},
	}
	out2 := b.Process(second)
	if out2.Accepted {
		t.Fatal("duplicate attachment with no body subtotal must not be accepted")
	}
	if out2.Reason != model.ReasonNoSubtotal {
		t.Errorf("Reason = %q, want %q", out2.Reason, model.ReasonNoSubtotal)
	}
	if out2.SkippedAttachments != 1 {
		t.Errorf("SkippedAttachments = %d, want 1 (duplicate content)", out2.SkippedAttachments)
	}
	if snap := dedup.Snapshot(); snap.Attachments != 1 {
		t.Errorf("ledger attachments = %d, want 1", snap.Attachments)
	}
}

func TestProcess_BodySynthesis(t *testing.T) {
	// Scenario: no attachment, HTML body carrying the subtotal.
	render := &fakeRender{}
	b, _, dir := newTestBuilder(t, &fakeText{}, render)

	msg := model.RawMessage{
		UID:     "3",
		Subject: "Order No. XYZ789 confirmed",
		Bodies: []model.BodyPart{
			{MediaType: "text/html", Content: []byte("<p>Subtotal: ₹99.99</p>")},
		},
	}

	outcome := b.Process(msg)
	if !outcome.Accepted {
		t.Fatalf("Process() rejected: %s", outcome.Reason)
	}
	if !outcome.Synthesized {
		t.Error("body path must be marked synthesized")
	}
	if outcome.Record.OrderID != "XYZ789" {
		t.Errorf("OrderID = %q, want XYZ789", outcome.Record.OrderID)
	}
	if got := outcome.Record.Amount.StringFixed(2); got != "99.99" {
		t.Errorf("Amount = %s, want 99.99", got)
	}
	if render.calls != 1 {
		t.Errorf("renderer called %d times, want 1", render.calls)
	}
	if _, err := os.Stat(filepath.Join(dir, "XYZ789.pdf")); err != nil {
		t.Errorf("synthesized document missing: %v", err)
	}
}

func TestProcess_DuplicateOrderRejected(t *testing.T) {
	render := &fakeRender{}
	b, _, _ := newTestBuilder(t, &fakeText{}, render)

	msg := model.RawMessage{
		UID:     "4",
		Subject: "Order No. DUP123 confirmed",
		Bodies: []model.BodyPart{
			{MediaType: "text/plain", Content: []byte("Subtotal Rs.48.50")},
		},
	}

	if out := b.Process(msg); !out.Accepted {
		t.Fatalf("first message rejected: %s", out.Reason)
	}

	msg.UID = "5"
	out := b.Process(msg)
	if out.Accepted {
		t.Fatal("second message with the same order id must be rejected")
	}
	if out.Reason != model.ReasonDuplicateOrder {
		t.Errorf("Reason = %q, want %q", out.Reason, model.ReasonDuplicateOrder)
	}
}

func TestProcess_NoOrderID(t *testing.T) {
	b, _, _ := newTestBuilder(t, &fakeText{}, &fakeRender{})

	out := b.Process(model.RawMessage{
		UID:     "6",
		Subject: "Your delivery is on its way",
		Bodies: []model.BodyPart{
			{MediaType: "text/plain", Content: []byte("Subtotal Rs.48.50")},
		},
	})
	if out.Accepted || out.Reason != model.ReasonNoOrderID {
		t.Errorf("outcome = %+v, want rejection %q", out, model.ReasonNoOrderID)
	}
}

func TestProcess_NoSubtotalAnywhere(t *testing.T) {
	b, dedup, _ := newTestBuilder(t, &fakeText{}, &fakeRender{})

	out := b.Process(model.RawMessage{
		UID:     "7",
		Subject: "Order No. EMPTY-01A confirmed",
		Bodies: []model.BodyPart{
			{MediaType: "text/plain", Content: []byte("Thanks for shopping with us.")},
		},
	})
	if out.Accepted || out.Reason != model.ReasonNoSubtotal {
		t.Errorf("outcome = %+v, want rejection %q", out, model.ReasonNoSubtotal)
	}
	if dedup.SeenOrder("EMPTY-01A") {
		t.Error("rejected order must not be recorded in the ledger")
	}
}

func TestProcess_FirstAttachmentFailsSecondSucceeds(t *testing.T) {
	// The attachment loop continues past failures and stops on the first
	// success.
	bad := []byte("%PDF-1.4 scanned, no text layer")
	good := []byte("%PDF-1.4 real invoice")
	text := &fakeText{byPayload: map[string]string{
		string(bad):  "",
		string(good): "Item Total Rs.123.45",
	}}
	b, dedup, _ := newTestBuilder(t, text, &fakeRender{})

	out := b.Process(model.RawMessage{
		UID:     "8",
		Subject: "Your Order RETRY-009 has shipped",
		Attachments: []model.AttachmentPart{
			{MediaType: "application/pdf", Filename: "scan.pdf", Data: bad},
			{MediaType: "application/pdf", Filename: "invoice.pdf", Data: good},
		},
	})
	if !out.Accepted {
		t.Fatalf("Process() rejected: %s", out.Reason)
	}
	if got := out.Record.Amount.StringFixed(2); got != "123.45" {
		t.Errorf("Amount = %s, want 123.45", got)
	}
	if out.SkippedAttachments != 1 {
		t.Errorf("SkippedAttachments = %d, want 1 (textless first attachment)", out.SkippedAttachments)
	}
	// Only the successful attachment is recorded.
	if snap := dedup.Snapshot(); snap.Attachments != 1 {
		t.Errorf("ledger attachments = %d, want 1", snap.Attachments)
	}
}

func TestProcess_UnreadableAttachmentFallsBackToBody(t *testing.T) {
	broken := []byte("not a pdf at all")
	text := &fakeText{errFor: map[string]error{
		string(broken): fmt.Errorf("parse pdf: unexpected token"),
	}}
	render := &fakeRender{}
	b, _, _ := newTestBuilder(t, text, render)

	out := b.Process(model.RawMessage{
		UID:     "9",
		Subject: "Order No. FALLBK-22 confirmed",
		Bodies: []model.BodyPart{
			{MediaType: "text/plain", Content: []byte("Subtotal Rs.10.00")},
		},
		Attachments: []model.AttachmentPart{
			{MediaType: "application/pdf", Filename: "broken.pdf", Data: broken},
		},
	})
	if !out.Accepted || !out.Synthesized {
		t.Fatalf("outcome = %+v, want synthesized acceptance", out)
	}
	if render.calls != 1 {
		t.Errorf("renderer called %d times, want 1", render.calls)
	}
	if out.SkippedAttachments != 1 {
		t.Errorf("SkippedAttachments = %d, want 1 (unreadable attachment)", out.SkippedAttachments)
	}
}

func TestProcess_RenderFailureRejects(t *testing.T) {
	render := &fakeRender{fail: fmt.Errorf("disk full")}
	b, dedup, _ := newTestBuilder(t, &fakeText{}, render)

	out := b.Process(model.RawMessage{
		UID:     "10",
		Subject: "Order No. RENDER-31 confirmed",
		Bodies: []model.BodyPart{
			{MediaType: "text/plain", Content: []byte("Subtotal Rs.5.00")},
		},
	})
	if out.Accepted || out.Reason != model.ReasonRenderFailed {
		t.Errorf("outcome = %+v, want rejection %q", out, model.ReasonRenderFailed)
	}
	if dedup.SeenOrder("RENDER-31") {
		t.Error("order must not be recorded when rendering fails")
	}
}

func TestFileName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"ABC123-001", "ABC123-001.pdf"},
		{"XYZ789", "XYZ789.pdf"},
		{"A/B\\C:1234", "A_B_C_1234.pdf"},
		{"", "unknown.pdf"},
	}

	for _, tt := range tests {
		if got := FileName(tt.in); got != tt.want {
			t.Errorf("FileName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
