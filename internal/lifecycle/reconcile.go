package lifecycle

import (
	"context"
	"fmt"
	"sort"

	"github.com/Rajchodisetti/autotrader/internal/observ"
)

// Drift is a mismatch between tracked positions and the broker's book.
type Drift struct {
	Instrument string `json:"instrument"`
	Tracked    int    `json:"tracked"`
	Broker     int    `json:"broker"`
}

// Reconcile compares live positions with the broker and reports drift.
// Nothing is repaired automatically.
func (m *Manager) Reconcile(ctx context.Context) ([]Drift, error) {
	cctx, cancel := context.WithTimeout(ctx, m.cfg.CallTimeout)
	defer cancel()
	held, err := m.broker.GetPositions(cctx)
	if err != nil {
		return nil, fmt.Errorf("reconcile: %w", err)
	}

	tracked := map[string]int{}
	for _, p := range m.All() {
		if p.State != Open && p.State != ExitPending {
			continue
		}
		q := p.Quantity
		if p.Short() {
			q = -q
		}
		tracked[p.Instrument] += q
	}
	book := map[string]int{}
	for _, h := range held {
		book[h.Symbol] += h.Quantity
	}

	var drift []Drift
	for sym, q := range tracked {
		if book[sym] != q {
			drift = append(drift, Drift{Instrument: sym, Tracked: q, Broker: book[sym]})
		}
	}
	for sym, q := range book {
		if _, ok := tracked[sym]; !ok && q != 0 {
			drift = append(drift, Drift{Instrument: sym, Broker: q})
		}
	}
	sort.Slice(drift, func(i, j int) bool { return drift[i].Instrument < drift[j].Instrument })

	observ.SetGauge("reconcile_drift_instruments", float64(len(drift)), nil)
	for _, d := range drift {
		observ.Log("position_drift", map[string]any{"instrument": d.Instrument, "tracked": d.Tracked, "broker": d.Broker})
	}
	return drift, nil
}
