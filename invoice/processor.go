package invoice

import (
	"context"
	"log/slog"

	"github.com/pmehra/invoice-harvest/model"
	"github.com/pmehra/invoice-harvest/runner"
	"github.com/pmehra/invoice-harvest/stats"
)

// Processor is the pipeline stage that feeds messages through the Builder
// one at a time. Processing is strictly sequential, so ledger updates and
// document writes never race.
type Processor struct {
	builder *Builder
	runner  *runner.Runner
	logger  *slog.Logger
}

func NewProcessor(builder *Builder, r *runner.Runner, logger *slog.Logger) (*Processor, error) {
	p := &Processor{
		builder: builder,
		runner:  r,
		logger:  logger,
	}
	r.AddStage("invoice", p.run)
	return p, nil
}

func (p *Processor) run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-p.runner.Work():
			if !ok {
				return nil
			}
			p.process(msg)
		}
	}
}

func (p *Processor) process(msg model.RawMessage) {
	outcome := p.builder.Process(msg)

	if outcome.SkippedAttachments > 0 {
		p.runner.EmitEvent(stats.Event{
			Stage: stats.StageInvoice,
			Type:  stats.EventTypeAttachmentSkipped,
			UID:   msg.UID,
			Count: outcome.SkippedAttachments,
		})
	}

	if !outcome.Accepted {
		p.runner.EmitEvent(stats.Event{
			Stage:  stats.StageInvoice,
			Type:   stats.EventTypeRejected,
			UID:    msg.UID,
			Reason: string(outcome.Reason),
		})
		if p.logger != nil {
			p.logger.Warn("message rejected", "uid", msg.UID, "subject", msg.Subject, "reason", outcome.Reason)
		}
		return
	}

	rec := outcome.Record
	p.runner.AppendRecord(rec)

	evtType := stats.EventTypeAccepted
	if outcome.Synthesized {
		evtType = stats.EventTypeSynthesized
	}
	p.runner.EmitEvent(stats.Event{
		Stage:   stats.StageInvoice,
		Type:    evtType,
		UID:     msg.UID,
		OrderID: rec.OrderID,
		Amount:  rec.Amount,
	})
	if p.logger != nil {
		p.logger.Info("invoice created", "uid", msg.UID, "orderID", rec.OrderID, "amount", rec.Amount.StringFixed(2), "path", rec.Path, "synthesized", outcome.Synthesized)
	}
}
