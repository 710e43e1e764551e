// Package ledger tracks which orders and which attachment payloads have
// already been accepted during a run, enforcing at-most-one invoice per
// order and at-most-one acceptance per unique attachment.
package ledger

import (
	"crypto/md5"
	"encoding/hex"
	"sync"
)

// Fingerprint is a content hash of attachment bytes. It is a deduplication
// key, not an identity.
type Fingerprint string

// FingerprintOf computes the fingerprint of an attachment payload.
func FingerprintOf(data []byte) Fingerprint {
	sum := md5.Sum(data)
	return Fingerprint(hex.EncodeToString(sum[:]))
}

// Ledger holds the deduplication state for a single run. It starts empty,
// grows monotonically, and is discarded when the run ends; nothing is
// persisted across runs.
type Ledger struct {
	mu          sync.RWMutex
	orders      map[string]struct{}
	attachments map[Fingerprint]struct{}
}

type Snapshot struct {
	Orders      int
	Attachments int
}

func New() *Ledger {
	return &Ledger{
		orders:      make(map[string]struct{}),
		attachments: make(map[Fingerprint]struct{}),
	}
}

// SeenOrder reports whether this order identifier was already accepted.
func (l *Ledger) SeenOrder(id string) bool {
	if id == "" {
		return false
	}

	l.mu.RLock()
	_, ok := l.orders[id]
	l.mu.RUnlock()
	return ok
}

// SeenAttachment reports whether this exact attachment content was already
// accepted.
func (l *Ledger) SeenAttachment(fp Fingerprint) bool {
	if fp == "" {
		return false
	}

	l.mu.RLock()
	_, ok := l.attachments[fp]
	l.mu.RUnlock()
	return ok
}

// RecordOrder marks an order identifier as accepted. Recording the same
// identifier twice is a no-op.
func (l *Ledger) RecordOrder(id string) {
	if id == "" {
		return
	}

	l.mu.Lock()
	l.orders[id] = struct{}{}
	l.mu.Unlock()
}

// RecordAttachment marks an attachment fingerprint as seen. Recording the
// same fingerprint twice is a no-op.
func (l *Ledger) RecordAttachment(fp Fingerprint) {
	if fp == "" {
		return
	}

	l.mu.Lock()
	l.attachments[fp] = struct{}{}
	l.mu.Unlock()
}

func (l *Ledger) Snapshot() Snapshot {
	l.mu.RLock()
	snap := Snapshot{Orders: len(l.orders), Attachments: len(l.attachments)}
	l.mu.RUnlock()
	return snap
}
