package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Rajchodisetti/autotrader/internal/journal"
)

var journalDay string

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Query the trade journal",
}

var journalTodayCmd = &cobra.Command{
	Use:   "today",
	Short: "List today's closed trades and their summary",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		loc, err := time.LoadLocation(cfg.Engine.Timezone)
		if err != nil {
			return err
		}
		day := time.Now().In(loc)
		if journalDay != "" {
			if day, err = time.ParseInLocation("2006-01-02", journalDay, loc); err != nil {
				return fmt.Errorf("--day: %w", err)
			}
		}

		j, err := journal.Open(cfg.Journal.Driver, cfg.Journal.Path, cfg.Journal.DSN)
		if err != nil {
			return err
		}
		if j == nil {
			return fmt.Errorf("journal driver is %q", cfg.Journal.Driver)
		}
		defer j.Close()

		trades, sum, err := journal.Day(context.Background(), j, day, loc)
		if err != nil {
			return err
		}
		if trades == nil {
			trades = []journal.Trade{}
		}
		return printJSON(map[string]any{"summary": sum, "trades": trades})
	},
}

func init() {
	journalTodayCmd.Flags().StringVar(&journalDay, "day", "", "another trading day (YYYY-MM-DD)")
	journalCmd.AddCommand(journalTodayCmd)
	rootCmd.AddCommand(journalCmd)
}
