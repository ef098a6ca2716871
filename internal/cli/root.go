package cli

import (
	"github.com/spf13/cobra"
)

var apiURL string

var rootCmd = &cobra.Command{
	Use:   "hookqctl",
	Short: "hookqctl inspects and operates the webhook job spooler",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&apiURL, "api", "http://localhost:8080", "base URL of the hookq API")
}

// Execute runs the CLI.
func Execute() error {
	return rootCmd.Execute()
}
