package cli

import (
	"fmt"

	"hookq/internal/models"

	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show queue depth per tier and status counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		var stats models.QueueStats
		if _, err := getJSON("/stats", &stats); err != nil {
			return err
		}

		fmt.Println("Pending:")
		for _, tier := range []string{"critical", "high", "normal", "low"} {
			fmt.Printf("  %-9s %d\n", tier, stats.Pending[tier])
		}
		fmt.Printf("Active:        %d\n", stats.Active)
		fmt.Printf("Completed:     %d\n", stats.Completed)
		fmt.Printf("Dead-lettered: %d\n", stats.DeadLettered)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statsCmd)
}
