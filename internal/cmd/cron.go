package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/clud-dev/clud/internal/appconfig"
)

var cronCmd = &cobra.Command{
	Use:   "cron",
	Short: "Manage cron tasks",
}

var cronAddCmd = &cobra.Command{
	Use:   "add <expression> <task-file>",
	Short: "Add a cron task",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := appconfig.Load()
		if err != nil {
			return newExitError(ExitValidationError, err.Error())
		}
		client := newAPIClient(cfg)

		var resp struct {
			ID      string `json:"id"`
			NextRun string `json:"next_run"`
		}
		body := map[string]string{"expression": args[0], "task_file": args[1]}
		if err := client.do("POST", "/cron/tasks", body, &resp); err != nil {
			if ae, ok := err.(*apiError); ok && ae.Kind == "ValidationError" {
				return newExitError(ExitValidationError, ae.Message)
			}
			return newExitError(ExitDaemonUnreachable, err.Error())
		}
		fmt.Printf("added task %s, next run %s\n", resp.ID, resp.NextRun)
		return nil
	},
}

var cronListCmd = &cobra.Command{
	Use:   "list",
	Short: "List cron tasks",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := appconfig.Load()
		if err != nil {
			return newExitError(ExitValidationError, err.Error())
		}
		client := newAPIClient(cfg)

		var tasks []map[string]any
		if err := client.do("GET", "/cron/tasks", nil, &tasks); err != nil {
			return newExitError(ExitDaemonUnreachable, err.Error())
		}
		for _, t := range tasks {
			fmt.Printf("%v\t%v\t%v\tenabled=%v\n", t["id"], t["expression"], t["task_file"], t["enabled"])
		}
		return nil
	},
}

var cronRemoveCmd = &cobra.Command{
	Use:   "rm <id>",
	Short: "Remove a cron task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := appconfig.Load()
		if err != nil {
			return newExitError(ExitValidationError, err.Error())
		}
		client := newAPIClient(cfg)
		if err := client.do("DELETE", "/cron/tasks/"+args[0], nil, nil); err != nil {
			if ae, ok := err.(*apiError); ok && ae.Kind == "NotFound" {
				return newExitError(ExitValidationError, ae.Message)
			}
			return newExitError(ExitDaemonUnreachable, err.Error())
		}
		fmt.Println("removed", args[0])
		return nil
	},
}

func init() {
	cronCmd.AddCommand(cronAddCmd, cronListCmd, cronRemoveCmd)
}
