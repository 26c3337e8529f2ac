package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Rajchodisetti/autotrader/internal/config"
	"github.com/Rajchodisetti/autotrader/internal/control"
)

var (
	cfgPath    string
	controlURL string
)

var rootCmd = &cobra.Command{
	Use:   "autotrader",
	Short: "Scan, enter and manage short-horizon stock and option trades",
	Long: `autotrader runs a scan/enter cycle and a monitor/exit cycle against a market
data gateway and a broker (paper by default).

Commands that act on positions talk to a running "autotrader run" through its
control API; set CONTROL_SECRET on both sides.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "config/config.yaml", "path to the yaml config")
	rootCmd.PersistentFlags().StringVar(&controlURL, "control-url", "", "control API of a running engine (default control.url from config)")
}

func loadConfig() (config.Root, error) {
	path := cfgPath
	if _, err := os.Stat(path); os.IsNotExist(err) && !rootCmd.PersistentFlags().Changed("config") {
		path = ""
	}
	cfg, err := config.Load(path)
	if err != nil {
		return config.Root{}, err
	}
	if err := cfg.Validate(); err != nil {
		return config.Root{}, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func controlClient() (*control.Client, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	url := cfg.Control.URL
	if controlURL != "" {
		url = controlURL
	}
	return control.NewClient(url, cfg.Control.Secret, cfg.Engine.FillTimeout*4), nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
