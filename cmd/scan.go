package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pmehra/invoice-harvest/config"
	"github.com/pmehra/invoice-harvest/extract"
	"github.com/pmehra/invoice-harvest/mailsrc"
	"github.com/pmehra/invoice-harvest/model"
	"github.com/pmehra/invoice-harvest/stats"
	"github.com/pmehra/invoice-harvest/textnorm"
)

var (
	scanSender string
	scanTopN   int
)

// ScanCmd analyses an mbox archive without writing anything: how many
// messages match the sender, how many carry an extractable order id, and
// how many carry a body subtotal. Useful before a real run against an
// exported mailbox.
var ScanCmd = &cobra.Command{
	Use:   "scan [mbox file]",
	Short: "Analyse an mbox archive and report extraction coverage",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mboxPath := args[0]

		fmt.Println("Scanning mbox file:", mboxPath)

		extractor := extract.Default()
		subjects := make(map[string]int)

		var matched, withOrderID, withSubtotal int
		err := mailsrc.ReadMbox(mboxPath, scanSender, func(msg model.RawMessage) error {
			matched++
			subjects[msg.Subject]++

			_, search := textnorm.Normalize(msg.Bodies)
			orderID := extractor.OrderID(msg.Subject, search)
			if orderID == "" {
				return nil
			}
			withOrderID++

			if _, ok := extractor.Subtotal(search); ok {
				withSubtotal++
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("scan mbox: %w", err)
		}

		total, err := mailsrc.CountMessages(mboxPath)
		if err != nil {
			return fmt.Errorf("count mbox messages: %w", err)
		}

		fmt.Printf("\nMessages in archive: %d\n", total)
		fmt.Printf("From %s: %d\n", scanSender, matched)
		fmt.Printf("With an order id: %d\n", withOrderID)
		fmt.Printf("With a body subtotal: %d\n", withSubtotal)

		fmt.Printf("\nTop %d subjects:\n", scanTopN)
		stats.PrettyPrintTop(subjects, scanTopN)

		return nil
	},
}

func init() {
	ScanCmd.Flags().StringVar(&scanSender, "sender", config.DefaultSender, "Sender address to match")
	ScanCmd.Flags().IntVarP(&scanTopN, "top", "t", 10, "Number of top subjects to display")
}
