package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/clud-dev/clud/internal/appconfig"
)

var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "Inspect the agent registry",
}

var agentsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered agents",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := appconfig.Load()
		if err != nil {
			return newExitError(ExitValidationError, err.Error())
		}
		client := newAPIClient(cfg)

		var agents []map[string]any
		if err := client.do("GET", "/agents", nil, &agents); err != nil {
			return newExitError(ExitDaemonUnreachable, err.Error())
		}
		for _, a := range agents {
			fmt.Printf("%v\tpid=%v\tstate=%v\tlast_heartbeat=%v\n", a["id"], a["pid"], a["state"], a["last_heartbeat"])
		}
		return nil
	},
}

var agentsGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Show one agent record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := appconfig.Load()
		if err != nil {
			return newExitError(ExitValidationError, err.Error())
		}
		client := newAPIClient(cfg)

		var agents []map[string]any
		if err := client.do("GET", "/agents", nil, &agents); err != nil {
			return newExitError(ExitDaemonUnreachable, err.Error())
		}
		for _, a := range agents {
			if fmt.Sprint(a["id"]) == args[0] {
				fmt.Printf("%+v\n", a)
				return nil
			}
		}
		return newExitError(ExitValidationError, "unknown agent "+args[0])
	},
}

var agentsKillCmd = &cobra.Command{
	Use:   "kill <id>",
	Short: "Stop an agent record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := appconfig.Load()
		if err != nil {
			return newExitError(ExitValidationError, err.Error())
		}
		client := newAPIClient(cfg)
		if err := client.do("POST", "/agents/"+args[0]+"/stop", nil, nil); err != nil {
			if ae, ok := err.(*apiError); ok && ae.Kind == "NotFound" {
				return newExitError(ExitValidationError, ae.Message)
			}
			return newExitError(ExitDaemonUnreachable, err.Error())
		}
		fmt.Println("stopped", args[0])
		return nil
	},
}

func init() {
	agentsCmd.AddCommand(agentsListCmd, agentsGetCmd, agentsKillCmd)
}
