// Package cmd provides the clud CLI's cobra command tree: the client
// side of the control plane, talking to the daemon over its loopback
// HTTP API and exiting with the documented status codes.
package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "clud",
	Short: "clud schedules, spawns, and supervises coding-agent subprocesses",
	Long: `clud is a developer workstation control plane. A single background
daemon owns process lifetimes, session state, and a cron task store;
this CLI talks to it over its loopback HTTP API.`,
}

// Execute runs the root command and returns the process exit code:
// 0 success, 2 validation error, 3 daemon unreachable, 4 already
// running, 5 stale pid cleanup performed, other = unexpected.
// ExitStalePIDCleaned (5) is defined, but no command returns it:
// daemon.Claim removes a stale PID file without reporting it.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		if code, ok := exitCodeOf(err); ok {
			return code
		}
		return 1
	}
	return 0
}

func init() {
	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(cronCmd)
	rootCmd.AddCommand(agentsCmd)
	rootCmd.AddCommand(doctorCmd)
	rootCmd.AddCommand(versionCmd)
}
