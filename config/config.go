package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
)

const (
	DefaultSender = "no-reply@mail.1mg.com"
	DefaultOutDir = "invoices"
)

// Config captures all command-line options required to run the harvester.
type Config struct {
	MboxPath           string
	IMAPHost           string
	IMAPPort           int
	IMAPUser           string
	IMAPPass           string
	UseTLS             bool
	InsecureSkipVerify bool
	Mailbox            string
	Sender             string
	OutDir             string
	SkipExisting       bool
	LogLevel           string
	LogDir             string
}

// RegisterFlags attaches all CLI flags to the provided command.
func RegisterFlags(cmd *cobra.Command) error {
	flags := cmd.Flags()
	flags.String("imap-host", "", "IMAP server hostname")
	flags.Int("imap-port", 993, "IMAP server port")
	flags.String("imap-user", "", "IMAP username")
	flags.String("imap-pass", "", "IMAP password (falls back to IMAP_PASS env var)")
	flags.Bool("use-tls", true, "Use TLS for the IMAP connection")
	flags.Bool("insecure-skip-verify", false, "Skip TLS certificate verification (not recommended)")
	flags.String("mailbox", "INBOX", "Mailbox to search for order emails")
	flags.String("sender", DefaultSender, "Sender address whose order emails are harvested")
	flags.String("mbox", "", "Read messages from a local .mbox file instead of IMAP")
	flags.String("out-dir", DefaultOutDir, "Directory for invoice PDFs and the summary report")
	flags.Bool("skip-existing", false, "Skip writing an invoice PDF when a file for that order already exists")
	flags.String("log-level", "info", "Logging level: debug, info, warn, error")
	flags.String("log-dir", "", "Directory for a timestamped log file in addition to stdout")

	return nil
}

// LoadConfig converts the parsed Cobra flags into a Config struct with validation.
func LoadConfig(cmd *cobra.Command) (Config, error) {
	flags := cmd.Flags()

	imapHost, err := flags.GetString("imap-host")
	if err != nil {
		return Config{}, err
	}
	imapPort, err := flags.GetInt("imap-port")
	if err != nil {
		return Config{}, err
	}
	imapUser, err := flags.GetString("imap-user")
	if err != nil {
		return Config{}, err
	}
	imapPass, err := flags.GetString("imap-pass")
	if err != nil {
		return Config{}, err
	}
	useTLS, err := flags.GetBool("use-tls")
	if err != nil {
		return Config{}, err
	}
	insecureSkipVerify, err := flags.GetBool("insecure-skip-verify")
	if err != nil {
		return Config{}, err
	}
	mailbox, err := flags.GetString("mailbox")
	if err != nil {
		return Config{}, err
	}
	sender, err := flags.GetString("sender")
	if err != nil {
		return Config{}, err
	}
	mboxPath, err := flags.GetString("mbox")
	if err != nil {
		return Config{}, err
	}
	outDir, err := flags.GetString("out-dir")
	if err != nil {
		return Config{}, err
	}
	skipExisting, err := flags.GetBool("skip-existing")
	if err != nil {
		return Config{}, err
	}
	logLevel, err := flags.GetString("log-level")
	if err != nil {
		return Config{}, err
	}
	logDir, err := flags.GetString("log-dir")
	if err != nil {
		return Config{}, err
	}

	if imapPass == "" {
		imapPass = os.Getenv("IMAP_PASS")
	}

	logLevel = strings.ToLower(logLevel)
	if logLevel == "warning" {
		logLevel = "warn"
	}

	cfg := Config{
		MboxPath:           mboxPath,
		IMAPHost:           imapHost,
		IMAPPort:           imapPort,
		IMAPUser:           imapUser,
		IMAPPass:           imapPass,
		UseTLS:             useTLS,
		InsecureSkipVerify: insecureSkipVerify,
		Mailbox:            mailbox,
		Sender:             sender,
		OutDir:             filepath.Clean(outDir),
		SkipExisting:       skipExisting,
		LogLevel:           logLevel,
		LogDir:             logDir,
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func validateConfig(cfg Config) error {
	if cfg.Sender == "" {
		return fmt.Errorf("--sender must not be empty")
	}
	if cfg.OutDir == "" {
		return fmt.Errorf("--out-dir must not be empty")
	}

	if cfg.MboxPath == "" {
		if cfg.IMAPHost == "" {
			return fmt.Errorf("--imap-host is required unless --mbox is given")
		}
		if cfg.IMAPUser == "" {
			return fmt.Errorf("--imap-user is required unless --mbox is given")
		}
		if cfg.IMAPPass == "" {
			return fmt.Errorf("IMAP password must be provided via --imap-pass or IMAP_PASS env var")
		}
		if cfg.IMAPPort <= 0 || cfg.IMAPPort > 65535 {
			return fmt.Errorf("--imap-port must be between 1 and 65535")
		}
		if cfg.Mailbox == "" {
			return fmt.Errorf("--mailbox must not be empty")
		}
	}

	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid --log-level: %s", cfg.LogLevel)
	}

	return nil
}
