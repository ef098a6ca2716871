package cli

import (
	"fmt"

	"hookq/internal/models"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var dlqLimit int

var dlqCmd = &cobra.Command{
	Use:   "dlq",
	Short: "Inspect and replay dead-lettered jobs",
}

var dlqListCmd = &cobra.Command{
	Use:   "list",
	Short: "List dead-lettered jobs, most recent first",
	RunE: func(cmd *cobra.Command, args []string) error {
		var entries []*models.DLQEntry
		path := fmt.Sprintf("/dlq?limit=%d", dlqLimit)
		if _, err := getJSON(path, &entries); err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Println("Dead letter queue is empty.")
			return nil
		}

		fmt.Printf("%-36s %-22s %-9s %-12s %s\n", "ID", "TYPE", "TIER", "FAILED", "REASON")
		for _, e := range entries {
			replayed := ""
			if e.ReplayedAt != nil {
				replayed = fmt.Sprintf(" (replayed %s)", humanize.Time(*e.ReplayedAt))
			}
			fmt.Printf("%-36s %-22s %-9s %-12s %s%s\n",
				e.ID, e.Type, e.Priority, humanize.Time(e.FailedAt), e.FailureReason, replayed)
		}
		return nil
	},
}

var dlqShowCmd = &cobra.Command{
	Use:   "show <entry-id>",
	Short: "Show one dead-lettered job with its attempt history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var entry models.DLQEntry
		if _, err := getJSON("/dlq/"+args[0], &entry); err != nil {
			return err
		}

		fmt.Printf("ID:       %s\n", entry.ID)
		fmt.Printf("Job:      %s (%s, %s)\n", entry.JobID, entry.Type, entry.Priority)
		fmt.Printf("Merchant: %s\n", entry.MerchantID)
		fmt.Printf("Failed:   %s — %s\n", humanize.Time(entry.FailedAt), entry.FailureReason)
		if entry.ReplayedAt != nil {
			fmt.Printf("Replayed: %s (count %d)\n", humanize.Time(*entry.ReplayedAt), entry.ReplayCount)
		}
		if len(entry.Attempts) > 0 {
			fmt.Println("Attempts:")
			for _, a := range entry.Attempts {
				fmt.Printf("  #%d %s: %s\n", a.Attempt, humanize.Time(a.At), a.Error)
			}
		}
		fmt.Printf("Payload:  %s\n", entry.Payload)
		return nil
	},
}

var dlqReplayCmd = &cobra.Command{
	Use:   "replay <entry-id>",
	Short: "Re-enqueue a dead-lettered job as a fresh job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var result struct {
			JobID string `json:"job_id"`
		}
		if err := postJSON("/dlq/"+args[0]+"/replay", &result); err != nil {
			return err
		}
		fmt.Printf("Replayed as job %s\n", result.JobID)
		return nil
	},
}

func init() {
	dlqListCmd.Flags().IntVar(&dlqLimit, "limit", 50, "maximum entries to list")
	dlqCmd.AddCommand(dlqListCmd, dlqShowCmd, dlqReplayCmd)
	rootCmd.AddCommand(dlqCmd)
}
