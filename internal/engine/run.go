package engine

import (
	"context"
	"sync"
	"time"

	"github.com/Rajchodisetti/autotrader/internal/observ"
)

// Run drives both cadences until ctx is done. Each cadence runs its cycles
// back to back on its own goroutine; ticks that arrive during a slow cycle
// are dropped, not queued.
func (e *Engine) Run(ctx context.Context) error {
	observ.Log("engine_started", map[string]any{
		"scan_interval":    e.cfg.ScanInterval.String(),
		"monitor_interval": e.cfg.MonitorInterval.String(),
		"paused":           e.Paused(),
		"timezone":         e.cfg.Location.String(),
	})
	e.rollDay()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		e.cadence(ctx, "scan", e.cfg.ScanInterval, func(ctx context.Context) {
			e.ScanAndDecide(ctx)
		})
	}()
	go func() {
		defer wg.Done()
		e.cadence(ctx, "monitor", e.cfg.MonitorInterval, func(ctx context.Context) {
			e.rollDay()
			e.MonitorAndExit(ctx)
		})
	}()
	wg.Wait()

	observ.Log("engine_stopped", map[string]any{"open_positions": e.risk.OpenCount()})
	return nil
}

func (e *Engine) cadence(ctx context.Context, name string, every time.Duration, cycle func(context.Context)) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	run := func() {
		start := time.Now()
		cycle(ctx)
		if took := time.Since(start); took > every {
			observ.IncCounter("cycle_overruns_total", map[string]string{"cycle": name})
			observ.Log("cycle_overrun", map[string]any{"cycle": name, "took_ms": took.Milliseconds(), "interval_ms": every.Milliseconds()})
		}
	}

	run()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			run()
		}
	}
}
