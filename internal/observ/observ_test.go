package observ

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogWritesJSONLine(t *testing.T) {
	var buf bytes.Buffer
	prev := SetOutput(&buf)
	defer SetOutput(prev)

	Log("entry_rejected", map[string]any{"symbol": "AAPL", "error": errors.New("boom")})

	var rec map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &rec))
	assert.Equal(t, "entry_rejected", rec["event"])
	assert.Equal(t, "AAPL", rec["symbol"])
	assert.Equal(t, "boom", rec["error"])
	assert.NotEmpty(t, rec["ts"])
}

func TestCountersAndGauges(t *testing.T) {
	IncCounter("observ_test_total", map[string]string{"kind": "a"})
	IncCounterBy("observ_test_total", map[string]string{"kind": "a"}, 2)
	IncCounter("observ_test_total", map[string]string{"kind": "b", "extra": "ignored"})

	assert.Equal(t, 3.0, CounterValue("observ_test_total", map[string]string{"kind": "a"}))
	assert.Equal(t, 1.0, CounterValue("observ_test_total", map[string]string{"kind": "b"}))
	assert.Equal(t, 0.0, CounterValue("observ_never_total", nil))

	SetGauge("observ_test_gauge", 4.5, nil)
	assert.Equal(t, 4.5, GaugeValue("observ_test_gauge", nil))

	Observe("observ_test_latency", 12, map[string]string{"op": "x"})

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "autotrader_observ_test_total"))
	assert.True(t, strings.Contains(body, "autotrader_observ_test_latency_bucket"))
}
