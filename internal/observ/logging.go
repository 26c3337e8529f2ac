package observ

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

var (
	outMu sync.Mutex
	out   io.Writer = os.Stdout
)

// SetOutput redirects the event log. It returns the previous writer so tests can restore it.
func SetOutput(w io.Writer) io.Writer {
	outMu.Lock()
	defer outMu.Unlock()
	prev := out
	out = w
	return prev
}

// Log writes one JSON object per line: ts, event, and the supplied fields.
func Log(event string, kv map[string]any) {
	rec := make(map[string]any, len(kv)+2)
	for k, v := range kv {
		if err, ok := v.(error); ok {
			v = err.Error()
		}
		rec[k] = v
	}
	rec["ts"] = time.Now().UTC().Format(time.RFC3339Nano)
	rec["event"] = event
	b, err := json.Marshal(rec)
	if err != nil {
		b = []byte(fmt.Sprintf(`{"event":%q,"marshal_error":%q}`, event, err.Error()))
	}

	outMu.Lock()
	defer outMu.Unlock()
	fmt.Fprintln(out, string(b))
}
