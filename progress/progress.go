package progress

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pterm/pterm"

	"github.com/pmehra/invoice-harvest/stats"
)

// Bar manages a progress bar for tracking message processing. The total is
// not known until the mail source reports how many messages it found, so
// the bar resizes on the first found event.
type Bar struct {
	pb      *pterm.ProgressbarPrinter
	mu      sync.Mutex
	enabled bool
}

// New creates a new progress bar if logLevel is "info".
func New(logLevel string) *Bar {
	enabled := logLevel == "info"

	bar := &Bar{enabled: enabled}
	if enabled {
		pb, _ := pterm.DefaultProgressbar.
			WithTotal(1).
			WithTitle("Processing messages").
			Start()
		bar.pb = pb
	}

	return bar
}

// Update advances the progress bar based on the event type.
func (b *Bar) Update(evt stats.Event) {
	if !b.enabled || b.pb == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	switch evt.Type {
	case stats.EventTypeFound:
		b.pb.Total = evt.Count
		pterm.Info.Printf("Messages found: %d\n", evt.Count)
	case stats.EventTypeScanned, stats.EventTypeFiltered:
		b.pb.Increment()
		if evt.UID != "" {
			b.pb.UpdateTitle("Processing message " + evt.UID)
		}
	case stats.EventTypeAccepted, stats.EventTypeSynthesized:
		// Keep the output clean; acceptance shows up in the final stats.
	case stats.EventTypeRejected:
		// Rejections are summarized at the end.
	case stats.EventTypeError:
		if evt.Err != nil {
			pterm.Error.Printf("Error: %v\n", evt.Err)
		}
	}
}

// Stop finalizes the progress bar.
func (b *Bar) Stop() {
	if !b.enabled || b.pb == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.pb.Current < b.pb.Total {
		b.pb.Current = b.pb.Total
	}

	b.pb.Stop()
	pterm.Success.Println("Processing complete!")
}

// Subscriber creates a stats subscriber function that updates the progress bar.
func (b *Bar) Subscriber(ctx context.Context, events <-chan stats.Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-events:
			if !ok {
				b.Stop()
				return nil
			}
			b.Update(evt)
		}
	}
}

// ProgressReporter wraps the stats collector with progress bar output.
type ProgressReporter struct {
	bar       *Bar
	collector *stats.Collector
	logger    *slog.Logger
	started   time.Time
}

// NewProgressReporter subscribes the bar and a stats collector to the
// event stream.
func NewProgressReporter(stream stats.EventStream, bar *Bar, logger *slog.Logger) *ProgressReporter {
	reporter := &ProgressReporter{
		bar:       bar,
		collector: stats.NewCollector(),
		logger:    logger,
		started:   time.Now(),
	}

	if bar != nil && bar.enabled {
		stream.SubscribeStats("progress-bar", bar.Subscriber)
	}
	stream.SubscribeStats("progress-stats", reporter.collectStats)

	return reporter
}

// Summary returns the collected counters.
func (pr *ProgressReporter) Summary() stats.Summary {
	return pr.collector.Snapshot()
}

// collectStats collects statistics and prints the final summary.
func (pr *ProgressReporter) collectStats(ctx context.Context, events <-chan stats.Event) error {
	pr.collector.Run(ctx, events)
	if ctx.Err() != nil {
		return ctx.Err()
	}

	summary := pr.collector.Snapshot()
	duration := time.Since(pr.started)

	pterm.Println()
	pterm.DefaultSection.Println("Processing Summary")
	pterm.Info.Printf("Duration: %v\n", duration)
	pterm.Info.Printf("Messages found: %d\n", summary.Found)
	pterm.Info.Printf("Scanned: %d\n", summary.Scanned)
	pterm.Info.Printf("Filtered out: %d\n", summary.Filtered)
	pterm.Info.Printf("Invoices created: %d (from body: %d)\n", summary.Accepted, summary.Synthesized)
	pterm.Info.Printf("Rejected: %d (duplicate orders: %d)\n", summary.Rejected, summary.DuplicateOrders)
	pterm.Info.Printf("Attachments skipped: %d\n", summary.AttachmentsSkipped)
	pterm.Info.Printf("Errors: %d\n", summary.Errors)
	pterm.Info.Printf("Total amount: ₹%s\n", summary.TotalAmount.StringFixed(2))
	if summary.LastError != nil {
		pterm.Error.Printf("Last error: %v\n", summary.LastError)
	}

	return nil
}
