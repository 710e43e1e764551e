package stats

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

type Stage string

const (
	StageMail    Stage = "mail"
	StageInvoice Stage = "invoice"
)

type EventType string

const (
	EventTypeFound             EventType = "found"
	EventTypeScanned           EventType = "scanned"
	EventTypeFiltered          EventType = "filtered"
	EventTypeAccepted          EventType = "accepted"
	EventTypeSynthesized       EventType = "synthesized"
	EventTypeRejected          EventType = "rejected"
	EventTypeAttachmentSkipped EventType = "attachment_skipped"
	EventTypeError             EventType = "error"
)

type Event struct {
	Stage   Stage
	Type    EventType
	UID     string
	OrderID string
	Reason  string
	Count   int
	Amount  decimal.Decimal
	Err     error
}

type Summary struct {
	Found              int
	Scanned            int
	Filtered           int
	Accepted           int
	Synthesized        int
	Rejected           int
	DuplicateOrders    int
	AttachmentsSkipped int
	Errors             int
	TotalAmount        decimal.Decimal
	LastError          error
}

func (s Summary) LogAttrs() []any {
	attrs := []any{
		"found", s.Found,
		"scanned", s.Scanned,
		"filtered", s.Filtered,
		"accepted", s.Accepted,
		"synthesized", s.Synthesized,
		"rejected", s.Rejected,
		"duplicateOrders", s.DuplicateOrders,
		"attachmentsSkipped", s.AttachmentsSkipped,
		"errors", s.Errors,
		"totalAmount", s.TotalAmount.StringFixed(2),
	}
	if s.LastError != nil {
		attrs = append(attrs, "lastError", s.LastError.Error())
	}
	return attrs
}

type Collector struct {
	mu      sync.Mutex
	summary Summary
}

func NewCollector() *Collector {
	return &Collector{}
}

func (c *Collector) Run(ctx context.Context, events <-chan Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			c.apply(evt)
		}
	}
}

func (c *Collector) Snapshot() Summary {
	c.mu.Lock()
	summary := c.summary
	c.mu.Unlock()
	return summary
}

func (c *Collector) apply(evt Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch evt.Type {
	case EventTypeFound:
		c.summary.Found += evt.Count
	case EventTypeScanned:
		c.summary.Scanned++
	case EventTypeFiltered:
		c.summary.Filtered++
	case EventTypeAccepted:
		c.summary.Accepted++
		c.summary.TotalAmount = c.summary.TotalAmount.Add(evt.Amount)
	case EventTypeSynthesized:
		c.summary.Accepted++
		c.summary.Synthesized++
		c.summary.TotalAmount = c.summary.TotalAmount.Add(evt.Amount)
	case EventTypeRejected:
		c.summary.Rejected++
		if evt.Reason == "duplicate order" {
			c.summary.DuplicateOrders++
		}
	case EventTypeAttachmentSkipped:
		c.summary.AttachmentsSkipped += evt.Count
	case EventTypeError:
		c.summary.Errors++
		if evt.Err != nil {
			c.summary.LastError = evt.Err
		}
	}
}

type EventStream interface {
	SubscribeStats(name string, fn func(context.Context, <-chan Event) error)
}

type Reporter struct {
	collector *Collector
	logger    *slog.Logger
	started   time.Time
}

func NewReporter(stream EventStream, logger *slog.Logger) *Reporter {
	reporter := &Reporter{
		collector: NewCollector(),
		logger:    logger,
		started:   time.Now(),
	}
	stream.SubscribeStats("stats-reporter", reporter.consume)
	return reporter
}

func (r *Reporter) consume(ctx context.Context, events <-chan Event) error {
	r.collector.Run(ctx, events)
	summary := r.collector.Snapshot()
	attrs := append(summary.LogAttrs(), "duration", time.Since(r.started))
	if ctx.Err() != nil {
		if r.logger != nil {
			r.logger.Debug("stats collection stopped", append(attrs, "err", ctx.Err())...)
		}
		return ctx.Err()
	}
	if r.logger != nil {
		r.logger.Info("stats summary", attrs...)
	}
	return nil
}

func (r *Reporter) Summary() Summary {
	return r.collector.Snapshot()
}

// PrettyPrintTop prints the top N most frequent items in a map.
func PrettyPrintTop(m map[string]int, limit int) {
	type pair struct {
		Key   string
		Value int
	}

	var pairs []pair
	for k, v := range m {
		pairs = append(pairs, pair{k, v})
	}

	sort.Slice(pairs, func(i, j int) bool {
		return pairs[i].Value > pairs[j].Value
	})

	for i := 0; i < limit && i < len(pairs); i++ {
		fmt.Printf("%d. %s (%d)\n", i+1, pairs[i].Key, pairs[i].Value)
	}
}
