package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pmehra/invoice-harvest/config"
	"github.com/pmehra/invoice-harvest/ledger"
	"github.com/pmehra/invoice-harvest/model"
	"github.com/pmehra/invoice-harvest/stats"
)

type StageFunc func(context.Context) error

// Runner drives the run: mail source stage feeds envelopes, the bridge
// forwards them one at a time to the invoice stage, and accepted records
// accumulate for the final report. The ledger is owned here so its lifecycle
// is exactly one run.
type Runner struct {
	cfg    config.Config
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	messages chan model.Envelope
	work     chan model.RawMessage
	events   chan stats.Event
	subs     []chan stats.Event

	dedup *ledger.Ledger

	recMu   sync.Mutex
	records []model.InvoiceRecord

	workWG  sync.WaitGroup
	statsWG sync.WaitGroup

	errMu sync.Mutex
	err   error

	closeSourceOnce sync.Once
	closeWorkOnce   sync.Once
	closeEventsOnce sync.Once
	since           time.Time
}

func New(cfg config.Config, logger *slog.Logger) (*Runner, error) {
	ctx, cancel := context.WithCancel(context.Background())

	r := &Runner{
		cfg:      cfg,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		messages: make(chan model.Envelope, 32),
		work:     make(chan model.RawMessage, 32),
		events:   make(chan stats.Event, 128),
		dedup:    ledger.New(),
	}

	r.AddStage("bridge", r.bridge)
	return r, nil
}

func (r *Runner) Config() config.Config {
	return r.cfg
}

func (r *Runner) Logger() *slog.Logger {
	return r.logger
}

func (r *Runner) Context() context.Context {
	return r.ctx
}

func (r *Runner) Ledger() *ledger.Ledger {
	return r.dedup
}

func (r *Runner) SourceWriter() chan<- model.Envelope {
	return r.messages
}

func (r *Runner) CloseSource() {
	r.closeSourceOnce.Do(func() {
		close(r.messages)
	})
}

func (r *Runner) Work() <-chan model.RawMessage {
	return r.work
}

// AppendRecord stores an accepted invoice. Only the invoice stage calls
// this, but the mutex keeps it safe should stages ever run in parallel.
func (r *Runner) AppendRecord(rec model.InvoiceRecord) {
	r.recMu.Lock()
	r.records = append(r.records, rec)
	r.recMu.Unlock()
}

// Records returns accepted invoices in processing order. Call after Start
// has returned.
func (r *Runner) Records() []model.InvoiceRecord {
	r.recMu.Lock()
	defer r.recMu.Unlock()
	out := make([]model.InvoiceRecord, len(r.records))
	copy(out, r.records)
	return out
}

func (r *Runner) EmitEvent(evt stats.Event) {
	select {
	case <-r.ctx.Done():
	case r.events <- evt:
	}
}

// SubscribeStats registers a stats consumer. Each subscriber gets its own
// channel so the bar and the collector both see every event. Subscribe
// before calling Start.
func (r *Runner) SubscribeStats(name string, fn func(context.Context, <-chan stats.Event) error) {
	ch := make(chan stats.Event, 128)
	r.subs = append(r.subs, ch)
	r.statsWG.Add(1)
	go func() {
		defer r.statsWG.Done()
		if err := fn(r.ctx, ch); err != nil && !errors.Is(err, context.Canceled) {
			r.fail(fmt.Errorf("%s stats: %w", name, err))
		}
	}()
}

func (r *Runner) AddStage(name string, fn StageFunc) {
	r.workWG.Add(1)
	go func() {
		defer r.workWG.Done()
		if err := fn(r.ctx); err != nil && !errors.Is(err, context.Canceled) {
			r.fail(fmt.Errorf("%s stage: %w", name, err))
		}
	}()
}

func (r *Runner) Start() error {
	r.since = time.Now()

	r.statsWG.Add(1)
	go r.broadcast()

	r.workWG.Wait()
	r.closeEvents()
	r.statsWG.Wait()

	r.cancel()

	err := r.err
	duration := time.Since(r.since)
	if err != nil {
		r.logger.Error("pipeline failed", "duration", duration, "err", err)
		return err
	}

	r.logger.Info("pipeline completed", "duration", duration)
	return nil
}

func (r *Runner) bridge(ctx context.Context) error {
	defer r.closeWork()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case envelope, ok := <-r.messages:
			if !ok {
				return nil
			}

			// Producers recover per-message decode problems themselves;
			// an envelope error is a source-level failure and aborts the
			// run with no partial report.
			if envelope.Err != nil {
				r.EmitEvent(stats.Event{Stage: stats.StageMail, Type: stats.EventTypeError, Err: envelope.Err})
				r.fail(fmt.Errorf("mail source: %w", envelope.Err))
				continue
			}

			msg := envelope.Message
			r.EmitEvent(stats.Event{Stage: stats.StageMail, Type: stats.EventTypeScanned, UID: msg.UID})

			select {
			case <-ctx.Done():
				return ctx.Err()
			case r.work <- msg:
			}
		}
	}
}

func (r *Runner) broadcast() {
	defer r.statsWG.Done()
	defer func() {
		for _, ch := range r.subs {
			close(ch)
		}
	}()
	for evt := range r.events {
		for _, ch := range r.subs {
			select {
			case <-r.ctx.Done():
				return
			case ch <- evt:
			}
		}
	}
}

func (r *Runner) closeWork() {
	r.closeWorkOnce.Do(func() {
		close(r.work)
	})
}

func (r *Runner) closeEvents() {
	r.closeEventsOnce.Do(func() {
		close(r.events)
	})
}

func (r *Runner) fail(err error) {
	if err == nil {
		return
	}
	r.errMu.Lock()
	if r.err == nil {
		r.err = err
		r.cancel()
	}
	r.errMu.Unlock()
}
