package cli

import (
	"fmt"
	"net/http"

	"hookq/internal/service"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Show the pipeline health verdict and recommendations",
	RunE: func(cmd *cobra.Command, args []string) error {
		var report service.HealthReport
		status, err := getJSON("/health", &report)
		if err != nil {
			return err
		}

		verdict := "HEALTHY"
		if !report.Healthy {
			verdict = "UNHEALTHY"
		}
		fmt.Printf("Status: %s (HTTP %d)\n", verdict, status)
		if report.LastDispatchAt != nil {
			fmt.Printf("Last dispatch: %s\n", humanize.Time(*report.LastDispatchAt))
		} else {
			fmt.Println("Last dispatch: never")
		}
		fmt.Printf("Throughput:    %.2f jobs/sec\n", report.RatePerSecond)
		fmt.Printf("Eligible pending: %d\n", report.EligiblePending)

		if len(report.Circuits) > 0 {
			fmt.Println("Circuits:")
			for _, c := range report.Circuits {
				line := fmt.Sprintf("  %-16s %-9s failures=%d", c.Dependency, c.State, c.ConsecutiveFailures)
				if c.OpenedAt != nil {
					line += fmt.Sprintf(" opened %s", humanize.Time(*c.OpenedAt))
				}
				fmt.Println(line)
			}
		}
		for _, rec := range report.Recommendations {
			fmt.Printf("  ! %s\n", rec)
		}
		if status == http.StatusServiceUnavailable {
			return fmt.Errorf("pipeline is unhealthy")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(healthCmd)
}
