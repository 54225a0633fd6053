package http

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/labstack/echo/v4"
)

// sseWriter writes text/event-stream frames and flushes after each one.
type sseWriter struct {
	resp    *echo.Response
	started bool
}

func newSSEWriter(resp *echo.Response) *sseWriter {
	return &sseWriter{resp: resp}
}

func (w *sseWriter) start() {
	if w.started {
		return
	}
	w.started = true
	h := w.resp.Header()
	h.Set(echo.HeaderContentType, "text/event-stream")
	h.Set(echo.HeaderCacheControl, "no-cache")
	h.Set(echo.HeaderConnection, "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.resp.WriteHeader(200)
}

// data sends an unnamed event. A fragment containing newlines becomes
// several data lines, which clients join back with "\n".
func (w *sseWriter) data(s string) error {
	return w.write("", s)
}

// event sends a named event with a JSON payload.
func (w *sseWriter) event(name string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return w.write(name, string(payload))
}

func (w *sseWriter) write(name, data string) error {
	w.start()

	var b strings.Builder
	if name != "" {
		fmt.Fprintf(&b, "event: %s\n", name)
	}
	for _, line := range strings.Split(data, "\n") {
		fmt.Fprintf(&b, "data: %s\n", line)
	}
	b.WriteByte('\n')

	if _, err := w.resp.Write([]byte(b.String())); err != nil {
		return err
	}
	w.resp.Flush()
	return nil
}
