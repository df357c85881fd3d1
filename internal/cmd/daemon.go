package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"syscall"

	"github.com/pkg/browser"
	"github.com/spf13/cobra"

	"github.com/clud-dev/clud/internal/appconfig"
	"github.com/clud-dev/clud/internal/daemon"
	"github.com/clud-dev/clud/internal/instance"
	"github.com/clud-dev/clud/internal/pool"
	"github.com/clud-dev/clud/internal/router"
	"github.com/clud-dev/clud/internal/subsystem"
	"github.com/clud-dev/clud/internal/subsystem/telegram"
)

var daemonStartOpen bool

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Manage the background daemon",
}

var daemonStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the daemon if it isn't already running",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := appconfig.Load()
		if err != nil {
			return newExitError(ExitValidationError, err.Error())
		}
		argv0, err := os.Executable()
		if err != nil {
			return err
		}
		err = daemon.EnsureRunning(cfg.DaemonPort, argv0, []string{"daemon", "run"}, cfg.LogFile(), cfg.EnsureDaemonMaxWait())
		if err != nil {
			return newExitError(ExitDaemonUnreachable, err.Error())
		}
		fmt.Println("daemon running on port", cfg.DaemonPort)

		if daemonStartOpen && !cfg.NoBrowser {
			url := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.DaemonPort)
			if err := browser.OpenURL(url); err != nil {
				fmt.Fprintln(os.Stderr, "could not open browser:", err)
			}
		}
		return nil
	},
}

// daemonRunCmd is the hidden foreground entry point spawned by
// "daemon start"'s background-spawn protocol.
var daemonRunCmd = &cobra.Command{
	Use:    "run",
	Hidden: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := appconfig.Load()
		if err != nil {
			return err
		}

		d, err := daemon.New(cfg, subsystemFactories())
		if err != nil {
			return err
		}
		if err := d.Run(context.Background()); err != nil {
			if errors.Is(err, daemon.ErrAlreadyRunning) {
				return newExitError(ExitAlreadyRunning, err.Error())
			}
			return err
		}
		return nil
	},
}

var daemonStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := appconfig.Load()
		if err != nil {
			return newExitError(ExitValidationError, err.Error())
		}

		data, err := os.ReadFile(cfg.PidFile())
		if err != nil {
			return newExitError(ExitDaemonUnreachable, "no pid file; daemon not running")
		}
		var pid int
		if _, err := fmt.Sscanf(string(data), "%d", &pid); err != nil {
			return newExitError(ExitValidationError, "malformed pid file")
		}

		proc, err := os.FindProcess(pid)
		if err != nil {
			return newExitError(ExitDaemonUnreachable, err.Error())
		}
		if err := proc.Signal(syscall.SIGTERM); err != nil {
			return newExitError(ExitDaemonUnreachable, "daemon not reachable: "+err.Error())
		}
		fmt.Println("stop signal sent to pid", pid)
		return nil
	},
}

var daemonStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report whether the daemon is reachable",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := appconfig.Load()
		if err != nil {
			return newExitError(ExitValidationError, err.Error())
		}
		client := newAPIClient(cfg)
		var health map[string]any
		if err := client.do("GET", "/health", nil, &health); err != nil {
			return newExitError(ExitDaemonUnreachable, "daemon unreachable: "+err.Error())
		}
		fmt.Printf("%+v\n", health)
		return nil
	},
}

func init() {
	daemonStartCmd.Flags().BoolVar(&daemonStartOpen, "open", false, "open a browser tab to the daemon's health endpoint once it is up (suppressed by CLUD_NO_BROWSER)")
	daemonCmd.AddCommand(daemonStartCmd, daemonRunCmd, daemonStopCmd, daemonStatusCmd)
}

// subsystemFactories enumerates the concrete subsystems wired into
// this build; currently just the Telegram bridge.
func subsystemFactories() daemon.FactoryBuilder {
	return func(p *pool.Pool, rt *router.Router, agentFactory instance.Factory) map[string]subsystem.RunnerFactory {
		return map[string]subsystem.RunnerFactory{
			"telegram": func(config map[string]any) (subsystem.Runner, error) {
				token, _ := config["token"].(string)
				return telegram.New(telegram.Config{Token: token}, p, agentFactory, rt)
			},
		}
	}
}
