package mailsrc

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"strconv"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/pmehra/invoice-harvest/model"
	"github.com/pmehra/invoice-harvest/runner"
	"github.com/pmehra/invoice-harvest/stats"
)

type IMAPOptions struct {
	Host               string
	Port               int
	Username           string
	Password           string
	UseTLS             bool
	InsecureSkipVerify bool
	Mailbox            string
	Sender             string
}

// Fetcher is the mail-source stage backed by an IMAP mailbox. Connection,
// login, select, and search failures are fatal and abort the run; failures
// on individual messages are skipped.
type Fetcher struct {
	opts   IMAPOptions
	runner *runner.Runner
	logger *slog.Logger
}

func NewFetcher(opts IMAPOptions, r *runner.Runner, logger *slog.Logger) (*Fetcher, error) {
	if opts.Host == "" {
		return nil, fmt.Errorf("imap host is empty")
	}
	if opts.Port <= 0 {
		return nil, fmt.Errorf("imap port must be positive")
	}
	if opts.Sender == "" {
		return nil, fmt.Errorf("sender filter is empty")
	}
	f := &Fetcher{
		opts:   opts,
		runner: r,
		logger: logger,
	}
	r.AddStage("imap", f.run)
	return f, nil
}

func (f *Fetcher) run(ctx context.Context) error {
	defer f.runner.CloseSource()

	client, cleanup, err := f.dial(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	if _, err := client.Select(f.mailbox(), nil).Wait(); err != nil {
		return fmt.Errorf("select %s: %w", f.mailbox(), err)
	}

	criteria := &imap.SearchCriteria{
		Header: []imap.SearchCriteriaHeaderField{
			{Key: "From", Value: f.opts.Sender},
		},
	}
	data, err := client.Search(criteria, nil).Wait()
	if err != nil {
		return fmt.Errorf("search from %q: %w", f.opts.Sender, err)
	}

	nums := data.AllSeqNums()
	f.runner.EmitEvent(stats.Event{Stage: stats.StageMail, Type: stats.EventTypeFound, Count: len(nums)})
	if f.logger != nil {
		f.logger.Info("search complete", "sender", f.opts.Sender, "mailbox", f.mailbox(), "messages", len(nums))
	}

	section := &imap.FetchItemBodySection{}
	fetchOpts := &imap.FetchOptions{BodySection: []*imap.FetchItemBodySection{section}}

	for _, num := range nums {
		if err := ctx.Err(); err != nil {
			return err
		}

		uid := strconv.FormatUint(uint64(num), 10)
		msgs, err := client.Fetch(imap.SeqSetNum(num), fetchOpts).Collect()
		if err != nil {
			f.emitMessageError(uid, fmt.Errorf("fetch message %s: %w", uid, err))
			continue
		}
		if len(msgs) == 0 {
			f.emitMessageError(uid, fmt.Errorf("fetch message %s: empty response", uid))
			continue
		}

		raw := msgs[0].FindBodySection(section)
		if len(raw) == 0 {
			f.emitMessageError(uid, fmt.Errorf("fetch message %s: no body", uid))
			continue
		}

		msg, err := ParseRaw(uid, raw)
		if err != nil {
			f.emitMessageError(uid, fmt.Errorf("parse message %s: %w", uid, err))
			continue
		}

		if err := f.emit(ctx, model.Envelope{Message: msg}); err != nil {
			return err
		}
	}

	return nil
}

func (f *Fetcher) dial(ctx context.Context) (*imapclient.Client, func(), error) {
	address := net.JoinHostPort(f.opts.Host, strconv.Itoa(f.opts.Port))
	options := &imapclient.Options{}

	if f.opts.UseTLS {
		options.TLSConfig = &tls.Config{
			ServerName:         f.opts.Host,
			InsecureSkipVerify: f.opts.InsecureSkipVerify,
		}
	}

	var (
		client *imapclient.Client
		err    error
	)

	if f.opts.UseTLS {
		client, err = imapclient.DialTLS(address, options)
	} else {
		client, err = imapclient.DialInsecure(address, options)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("dial imap %s: %w", address, err)
	}

	if err := client.Login(f.opts.Username, f.opts.Password).Wait(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("imap login failed: %w", err)
	}

	if f.logger != nil {
		f.logger.Debug("imap connection established", "address", address, "user", f.opts.Username, "tls", f.opts.UseTLS)
	}

	stopClose := context.AfterFunc(ctx, func() {
		_ = client.Close()
	})

	cleanup := func() {
		stopClose()
		if ctx.Err() == nil {
			if err := client.Logout().Wait(); err != nil {
				if f.logger != nil {
					f.logger.Warn("imap logout failed", "err", err)
				}
			}
		}
		if err := client.Close(); err != nil && f.logger != nil {
			f.logger.Debug("imap connection closed", "err", err)
		}
	}

	return client, cleanup, nil
}

func (f *Fetcher) emit(ctx context.Context, env model.Envelope) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case f.runner.SourceWriter() <- env:
		return nil
	}
}

// emitMessageError records a per-message fetch problem without aborting the
// run.
func (f *Fetcher) emitMessageError(uid string, err error) {
	if f.logger != nil {
		f.logger.Warn("skipping message", "uid", uid, "err", err)
	}
	f.runner.EmitEvent(stats.Event{Stage: stats.StageMail, Type: stats.EventTypeError, UID: uid, Err: err})
}

func (f *Fetcher) mailbox() string {
	if f.opts.Mailbox == "" {
		return "INBOX"
	}
	return f.opts.Mailbox
}
