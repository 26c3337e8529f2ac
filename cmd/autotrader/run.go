package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Rajchodisetti/autotrader/internal/control"
	"github.com/Rajchodisetti/autotrader/internal/engine"
	"github.com/Rajchodisetti/autotrader/internal/observ"
)

var runPaused bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run both cycles until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if runPaused {
			cfg.Engine.StartPaused = true
		}
		rt, err := engine.Build(cfg)
		if err != nil {
			return err
		}
		defer func() {
			if err := rt.Close(); err != nil {
				observ.Log("shutdown_error", map[string]any{"error": err})
			}
		}()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		srv := &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           control.NewServer(rt.Engine, cfg.Control.Secret),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			observ.Log("control_listen", map[string]any{"addr": cfg.MetricsAddr, "mutations": cfg.Control.Secret != ""})
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				observ.Log("control_listen_failed", map[string]any{"addr": cfg.MetricsAddr, "error": err})
			}
		}()

		err = rt.Engine.Run(ctx)

		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
		return err
	},
}

func init() {
	runCmd.Flags().BoolVar(&runPaused, "paused", false, "start with entries paused")
	rootCmd.AddCommand(runCmd)
}
