package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/clud-dev/clud/internal/appconfig"
)

// doctorCmd reports on the daemon's own preconditions (config dir can
// be created, daemon reachable on its port, pid file contents) useful
// before filing a bug. The pid file is printed, not checked.
var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Diagnose common daemon setup problems",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := appconfig.Load()
		if err != nil {
			return newExitError(ExitValidationError, err.Error())
		}

		fmt.Println("config_dir:", cfg.ConfigDir)
		if err := os.MkdirAll(cfg.ConfigDir, 0o755); err != nil {
			fmt.Println("  [FAIL] config dir not writable:", err)
		} else {
			fmt.Println("  [ok] config dir writable")
		}

		fmt.Println("daemon_port:", cfg.DaemonPort)
		client := newAPIClient(cfg)
		var health map[string]any
		if err := client.do("GET", "/health", nil, &health); err != nil {
			fmt.Println("  [info] daemon not reachable (this is fine if it isn't started):", err)
		} else {
			fmt.Printf("  [ok] daemon reachable: %+v\n", health)
		}

		if data, err := os.ReadFile(cfg.PidFile()); err == nil {
			fmt.Println("pid_file:", cfg.PidFile(), "contains", string(data))
		} else {
			fmt.Println("pid_file: absent")
		}

		return nil
	},
}
