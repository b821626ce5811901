package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	serverURL string
	userName  string
	outputFmt string
)

var rootCmd = &cobra.Command{
	Use:   "trackerctl",
	Short: "CLI for the tracker server",
	Long: `trackerctl interacts with a tracker server over its REST API.

Requests carry the caller identity in the X-Remote-User header, the same
mechanism a fronting auth proxy would use. Set it with --user or the
TRACKER_USER environment variable.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8080", "Tracker server URL")
	rootCmd.PersistentFlags().StringVarP(&userName, "user", "u", "", "Caller identity (default: TRACKER_USER env)")
	rootCmd.PersistentFlags().StringVarP(&outputFmt, "output", "o", "table", "Output format: table, json, yaml")

	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(projectCmd)
	rootCmd.AddCommand(permissionsCmd)
	rootCmd.AddCommand(runCmd)
}

// resolvedUser returns the effective caller identity.
// Priority: --user flag > TRACKER_USER env var.
func resolvedUser() string {
	if userName != "" {
		return userName
	}
	return os.Getenv("TRACKER_USER")
}
