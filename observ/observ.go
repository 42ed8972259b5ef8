// Package observ provides structured, line-oriented JSON logging.
//
// One event per line on stdout, always carrying "ts" and "event" keys.
// Everything downstream (dashboards, log shippers) parses these lines;
// keep keys snake_case and values JSON-encodable.
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
	mu  sync.Mutex
	out io.Writer = os.Stdout
)

// SetOutput redirects log output, primarily for tests.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	out = w
}

// Log emits one structured event.
func Log(event string, kv map[string]any) {
	if kv == nil {
		kv = map[string]any{}
	}
	kv["ts"] = time.Now().UTC().Format(time.RFC3339Nano)
	kv["event"] = event
	b, err := json.Marshal(kv)
	if err != nil {
		b = []byte(fmt.Sprintf(`{"event":%q,"marshal_error":%q}`, event, err.Error()))
	}

	mu.Lock()
	defer mu.Unlock()
	fmt.Fprintln(out, string(b))
}

// Warn is Log with a severity key, for events an operator should notice.
func Warn(event string, kv map[string]any) {
	if kv == nil {
		kv = map[string]any{}
	}
	kv["severity"] = "warn"
	Log(event, kv)
}

// Error is Log with error severity and the error message attached.
func Error(event string, err error, kv map[string]any) {
	if kv == nil {
		kv = map[string]any{}
	}
	kv["severity"] = "error"
	if err != nil {
		kv["error"] = err.Error()
	}
	Log(event, kv)
}
