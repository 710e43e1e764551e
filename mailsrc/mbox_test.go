package mailsrc

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pmehra/invoice-harvest/model"
)

const sampleMbox = `From nobody Mon Sep  1 00:00:00 2025
From: 1mg <no-reply@mail.1mg.com>
Subject: Order No. AAA111-BB confirmed
Content-Type: text/plain; charset=utf-8

Subtotal Rs.10.00

From nobody Mon Sep  1 00:00:01 2025
From: newsletter@example.com
Subject: Weekly deals
Content-Type: text/plain; charset=utf-8

Nothing to see here

From nobody Mon Sep  1 00:00:02 2025
From: 1mg <no-reply@mail.1mg.com>
Subject: Order No. CCC333-DD confirmed
Content-Type: text/plain; charset=utf-8

Subtotal Rs.20.00
`

func writeSampleMbox(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sample.mbox")
	if err := os.WriteFile(path, []byte(sampleMbox), 0o644); err != nil {
		t.Fatalf("write sample mbox: %v", err)
	}
	return path
}

func TestReadMbox_FiltersBySender(t *testing.T) {
	path := writeSampleMbox(t)

	var subjects []string
	err := ReadMbox(path, "no-reply@mail.1mg.com", func(msg model.RawMessage) error {
		subjects = append(subjects, msg.Subject)
		return nil
	})
	if err != nil {
		t.Fatalf("ReadMbox() error = %v", err)
	}

	want := []string{"Order No. AAA111-BB confirmed", "Order No. CCC333-DD confirmed"}
	if len(subjects) != len(want) {
		t.Fatalf("got %d matching messages %v, want %d", len(subjects), subjects, len(want))
	}
	for i := range want {
		if subjects[i] != want[i] {
			t.Errorf("subject %d = %q, want %q", i, subjects[i], want[i])
		}
	}
}

func TestReadMbox_NoFilter(t *testing.T) {
	path := writeSampleMbox(t)

	count := 0
	err := ReadMbox(path, "", func(model.RawMessage) error {
		count++
		return nil
	})
	if err != nil {
		t.Fatalf("ReadMbox() error = %v", err)
	}
	if count != 3 {
		t.Errorf("got %d messages, want 3", count)
	}
}

func TestCountMessages(t *testing.T) {
	path := writeSampleMbox(t)

	count, err := CountMessages(path)
	if err != nil {
		t.Fatalf("CountMessages() error = %v", err)
	}
	if count != 3 {
		t.Errorf("CountMessages() = %d, want 3", count)
	}
}
