package mailsrc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	mboxlib "github.com/emersion/go-mbox"

	"github.com/pmehra/invoice-harvest/model"
	"github.com/pmehra/invoice-harvest/runner"
	"github.com/pmehra/invoice-harvest/stats"
)

type MboxOptions struct {
	Path   string
	Sender string
}

// MboxProducer is the mail-source stage backed by a local mbox archive,
// for offline runs against an exported mailbox.
type MboxProducer struct {
	opts   MboxOptions
	runner *runner.Runner
	logger *slog.Logger
}

func NewMboxProducer(opts MboxOptions, r *runner.Runner, logger *slog.Logger) (*MboxProducer, error) {
	if strings.TrimSpace(opts.Path) == "" {
		return nil, fmt.Errorf("mbox path is empty")
	}
	if opts.Sender == "" {
		return nil, fmt.Errorf("sender filter is empty")
	}
	p := &MboxProducer{
		opts:   opts,
		runner: r,
		logger: logger,
	}
	r.AddStage("mbox", p.run)
	return p, nil
}

func (p *MboxProducer) run(ctx context.Context) error {
	defer p.runner.CloseSource()

	total, err := CountMessages(p.opts.Path)
	if err != nil {
		return fmt.Errorf("count mbox messages: %w", err)
	}
	p.runner.EmitEvent(stats.Event{Stage: stats.StageMail, Type: stats.EventTypeFound, Count: total})
	if p.logger != nil {
		p.logger.Info("mbox opened", "path", p.opts.Path, "messages", total)
	}

	file, err := os.Open(p.opts.Path)
	if err != nil {
		return fmt.Errorf("open mbox: %w", err)
	}
	defer file.Close()

	reader := mboxlib.NewReader(file)
	for idx := 0; ; idx++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		msgReader, err := reader.NextMessage()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("mbox message %d: %w", idx, err)
		}

		raw, err := io.ReadAll(msgReader)
		if err != nil {
			return fmt.Errorf("mbox message %d read: %w", idx, err)
		}

		uid := strconv.Itoa(idx)
		msg, err := ParseRaw(uid, raw)
		if err != nil {
			if p.logger != nil {
				p.logger.Warn("skipping unparseable message", "index", idx, "err", err)
			}
			p.runner.EmitEvent(stats.Event{Stage: stats.StageMail, Type: stats.EventTypeError, UID: uid, Err: err})
			continue
		}

		if !matchesSender(msg, p.opts.Sender) {
			p.runner.EmitEvent(stats.Event{Stage: stats.StageMail, Type: stats.EventTypeFiltered, UID: uid})
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case p.runner.SourceWriter() <- model.Envelope{Message: msg}:
		}
	}
}

// ReadMbox iterates an mbox archive, calling fn for each parsed message
// whose From address matches sender. Unparseable messages are skipped.
func ReadMbox(path, sender string, fn func(model.RawMessage) error) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open mbox: %w", err)
	}
	defer file.Close()

	reader := mboxlib.NewReader(file)
	for idx := 0; ; idx++ {
		msgReader, err := reader.NextMessage()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("mbox message %d: %w", idx, err)
		}

		raw, err := io.ReadAll(msgReader)
		if err != nil {
			continue
		}

		msg, err := ParseRaw(strconv.Itoa(idx), raw)
		if err != nil {
			continue
		}
		if !matchesSender(msg, sender) {
			continue
		}

		if err := fn(msg); err != nil {
			return err
		}
	}
}

// CountMessages counts the messages in an mbox archive without parsing them.
func CountMessages(path string) (int, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open mbox: %w", err)
	}
	defer file.Close()

	reader := mboxlib.NewReader(file)
	count := 0
	for {
		msgReader, err := reader.NextMessage()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return count, nil
			}
			return 0, err
		}
		if _, err := io.Copy(io.Discard, msgReader); err != nil {
			count++
			continue
		}
		count++
	}
}
