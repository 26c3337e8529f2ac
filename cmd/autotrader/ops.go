package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Rajchodisetti/autotrader/internal/control"
	"github.com/Rajchodisetti/autotrader/internal/engine"
)

var (
	scanOnce    bool
	monitorOnce bool
)

// oneShot builds a private engine for a single cycle. Nothing it opens
// survives the process, so it is only meaningful with the paper broker or as
// a dry look at what a cycle would decide.
func oneShot(cycle func(context.Context, *engine.Engine) any) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	rt, err := engine.Build(cfg)
	if err != nil {
		return err
	}
	defer rt.Close()
	return printJSON(cycle(context.Background(), rt.Engine))
}

func remote(call func(context.Context, *control.Client) (any, error)) error {
	c, err := controlClient()
	if err != nil {
		return err
	}
	out, err := call(context.Background(), c)
	if err != nil {
		return err
	}
	return printJSON(out)
}

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Run one scan/enter cycle",
	Long:  "Triggers a scan cycle on the running engine, or with --once runs it in a fresh in-process engine.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if scanOnce {
			return oneShot(func(ctx context.Context, e *engine.Engine) any { return e.ScanAndDecide(ctx) })
		}
		return remote(func(ctx context.Context, c *control.Client) (any, error) { return c.Scan(ctx) })
	},
}

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Run one monitor/exit cycle",
	RunE: func(cmd *cobra.Command, args []string) error {
		if monitorOnce {
			return oneShot(func(ctx context.Context, e *engine.Engine) any { return e.MonitorAndExit(ctx) })
		}
		return remote(func(ctx context.Context, c *control.Client) (any, error) { return c.Monitor(ctx) })
	},
}

var snapshotCmd = &cobra.Command{
	Use:   "snapshot [SYMBOL]",
	Short: "Show the live position in SYMBOL, or every tracked position",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return remote(func(ctx context.Context, c *control.Client) (any, error) {
			if len(args) == 0 {
				return c.Positions(ctx)
			}
			return c.Snapshot(ctx, strings.ToUpper(args[0]))
		})
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show pause state, risk state and limits",
	RunE: func(cmd *cobra.Command, args []string) error {
		return remote(func(ctx context.Context, c *control.Client) (any, error) { return c.Status(ctx) })
	},
}

var pauseCmd = &cobra.Command{
	Use:   "pause",
	Short: "Stop new entries; exits keep running",
	RunE: func(cmd *cobra.Command, args []string) error {
		return remote(func(ctx context.Context, c *control.Client) (any, error) { return c.Pause(ctx) })
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Allow new entries again",
	RunE: func(cmd *cobra.Command, args []string) error {
		return remote(func(ctx context.Context, c *control.Client) (any, error) { return c.Resume(ctx) })
	},
}

var resetDayCmd = &cobra.Command{
	Use:   "reset-day",
	Short: "Zero daily realized P/L and clear the circuit breaker",
	RunE: func(cmd *cobra.Command, args []string) error {
		return remote(func(ctx context.Context, c *control.Client) (any, error) { return c.ResetDay(ctx) })
	},
}

var emergencyYes bool

var emergencyCmd = &cobra.Command{
	Use:   "emergency-stop",
	Short: "Pause entries and force-exit every open position",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !emergencyYes {
			return fmt.Errorf("emergency-stop closes every open position; pass --yes to confirm")
		}
		return remote(func(ctx context.Context, c *control.Client) (any, error) { return c.EmergencyStop(ctx) })
	},
}

func init() {
	scanCmd.Flags().BoolVar(&scanOnce, "once", false, "run in a fresh in-process engine instead of the running one")
	monitorCmd.Flags().BoolVar(&monitorOnce, "once", false, "run in a fresh in-process engine instead of the running one")
	emergencyCmd.Flags().BoolVar(&emergencyYes, "yes", false, "confirm")

	rootCmd.AddCommand(scanCmd, monitorCmd, snapshotCmd, statusCmd, pauseCmd, resumeCmd, resetDayCmd, emergencyCmd)
}
