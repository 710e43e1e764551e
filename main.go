package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/pmehra/invoice-harvest/cmd"
	"github.com/pmehra/invoice-harvest/config"
	"github.com/pmehra/invoice-harvest/extract"
	"github.com/pmehra/invoice-harvest/invoice"
	"github.com/pmehra/invoice-harvest/mailsrc"
	"github.com/pmehra/invoice-harvest/pdfgen"
	"github.com/pmehra/invoice-harvest/pdftext"
	"github.com/pmehra/invoice-harvest/progress"
	"github.com/pmehra/invoice-harvest/report"
	"github.com/pmehra/invoice-harvest/runner"
	"github.com/pmehra/invoice-harvest/stats"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "invoice-harvest",
		Short: "Harvest order-confirmation emails into invoice PDFs and an XLSX summary",
		RunE: func(c *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(c)
			if err != nil {
				return err
			}

			logger, cleanup, err := setupLogger(cfg)
			if err != nil {
				return err
			}
			defer func() {
				_ = cleanup()
			}()

			slog.SetDefault(logger)
			logger.Info("starting invoice-harvest", "sender", cfg.Sender, "outDir", cfg.OutDir, "mbox", cfg.MboxPath)

			return run(cfg, logger)
		},
	}

	if err := config.RegisterFlags(rootCmd); err != nil {
		fmt.Fprintf(os.Stderr, "failed to register CLI flags: %v\n", err)
		os.Exit(1)
	}
	rootCmd.AddCommand(cmd.ScanCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	r, err := runner.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("runner.New: %w", err)
	}

	if cfg.LogLevel == "info" {
		bar := progress.New(cfg.LogLevel)
		progress.NewProgressReporter(r, bar, logger)
	} else {
		stats.NewReporter(r, logger)
	}

	builder, err := invoice.NewBuilder(
		invoice.Options{OutDir: cfg.OutDir, SkipExisting: cfg.SkipExisting},
		r.Ledger(),
		extract.Default(),
		pdftext.New(),
		pdfgen.New(),
		logger,
	)
	if err != nil {
		return fmt.Errorf("invoice.NewBuilder: %w", err)
	}
	if _, err := invoice.NewProcessor(builder, r, logger); err != nil {
		return fmt.Errorf("invoice.NewProcessor: %w", err)
	}

	if cfg.MboxPath != "" {
		mboxOpts := mailsrc.MboxOptions{Path: cfg.MboxPath, Sender: cfg.Sender}
		if _, err := mailsrc.NewMboxProducer(mboxOpts, r, logger); err != nil {
			return fmt.Errorf("mailsrc.NewMboxProducer: %w", err)
		}
	} else {
		imapOpts := mailsrc.IMAPOptions{
			Host:               cfg.IMAPHost,
			Port:               cfg.IMAPPort,
			Username:           cfg.IMAPUser,
			Password:           cfg.IMAPPass,
			UseTLS:             cfg.UseTLS,
			InsecureSkipVerify: cfg.InsecureSkipVerify,
			Mailbox:            cfg.Mailbox,
			Sender:             cfg.Sender,
		}
		if _, err := mailsrc.NewFetcher(imapOpts, r, logger); err != nil {
			return fmt.Errorf("mailsrc.NewFetcher: %w", err)
		}
	}

	if err := r.Start(); err != nil {
		return err
	}

	records := r.Records()
	if len(records) == 0 {
		logger.Warn("no invoices created, skipping report")
		return nil
	}

	table := report.Aggregate(records)
	reportPath := filepath.Join(cfg.OutDir, report.FileName)
	if err := report.WriteXLSX(table, reportPath); err != nil {
		return fmt.Errorf("write report: %w", err)
	}

	logger.Info("report written", "path", reportPath, "invoices", len(records), "total", report.FormatINR(table.Total))
	return nil
}

func setupLogger(cfg config.Config) (*slog.Logger, func() error, error) {
	level := new(slog.LevelVar)
	level.Set(slog.LevelInfo)

	switch cfg.LogLevel {
	case "debug":
		level.Set(slog.LevelDebug)
	case "info":
		level.Set(slog.LevelInfo)
	case "warn":
		level.Set(slog.LevelWarn)
	case "error":
		level.Set(slog.LevelError)
	}

	opts := &slog.HandlerOptions{Level: level}
	cleanup := func() error { return nil }

	if cfg.LogDir != "" {
		if err := os.MkdirAll(cfg.LogDir, 0o755); err != nil {
			return nil, cleanup, err
		}

		logFilePath := filepath.Join(cfg.LogDir, fmt.Sprintf("invoice-harvest-%s.log", time.Now().Format("20060102T150405")))
		file, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, cleanup, err
		}

		handler := slog.NewTextHandler(io.MultiWriter(os.Stdout, file), opts)
		cleanup = func() error {
			return file.Close()
		}
		return slog.New(handler), cleanup, nil
	}

	handler := slog.NewTextHandler(os.Stdout, opts)
	return slog.New(handler), cleanup, nil
}
