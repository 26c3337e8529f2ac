package outbox

import (
	"math/rand"
	"sync"
	"time"
)

// FillSimulator models paper fills with random latency and adverse slippage.
type FillSimulator struct {
	mu             sync.Mutex
	random         *rand.Rand
	latencyMsMin   int
	latencyMsMax   int
	slippageBpsMin int
	slippageBpsMax int
}

func NewFillSimulator(latencyMsMin, latencyMsMax, slippageBpsMin, slippageBpsMax int) *FillSimulator {
	return NewSeededFillSimulator(time.Now().UnixNano(), latencyMsMin, latencyMsMax, slippageBpsMin, slippageBpsMax)
}

func NewSeededFillSimulator(seed int64, latencyMsMin, latencyMsMax, slippageBpsMin, slippageBpsMax int) *FillSimulator {
	if latencyMsMax < latencyMsMin {
		latencyMsMax = latencyMsMin
	}
	if slippageBpsMax < slippageBpsMin {
		slippageBpsMax = slippageBpsMin
	}
	return &FillSimulator{
		random:         rand.New(rand.NewSource(seed)),
		latencyMsMin:   latencyMsMin,
		latencyMsMax:   latencyMsMax,
		slippageBpsMin: slippageBpsMin,
		slippageBpsMax: slippageBpsMax,
	}
}

// SimulateFill prices order against marketPrice. Buys fill higher, sells lower.
func (fs *FillSimulator) SimulateFill(order Order, marketPrice float64, now time.Time) (Fill, time.Duration) {
	fs.mu.Lock()
	latencyMs := fs.latencyMsMin + fs.random.Intn(fs.latencyMsMax-fs.latencyMsMin+1)
	slippageBps := fs.slippageBpsMin + fs.random.Intn(fs.slippageBpsMax-fs.slippageBpsMin+1)
	fs.mu.Unlock()

	slippageMultiplier := 1.0 + float64(slippageBps)/10000.0
	price := marketPrice
	switch order.Side {
	case "buy":
		price *= slippageMultiplier
	case "sell":
		price /= slippageMultiplier
	}

	latency := time.Duration(latencyMs) * time.Millisecond
	return Fill{
		OrderID:     order.ID,
		Symbol:      order.Symbol,
		Quantity:    order.Quantity,
		Price:       price,
		Side:        order.Side,
		Timestamp:   now.UTC().Add(latency),
		LatencyMs:   latencyMs,
		SlippageBps: slippageBps,
	}, latency
}
