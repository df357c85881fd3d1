package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/clud-dev/clud/internal/daemon"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the clud version",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println(daemon.Version)
		return nil
	},
}
