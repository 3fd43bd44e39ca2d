package httpapi

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// Polling and heartbeat cadence for the SSE stream; vars rather than
// consts so tests can shrink them instead of sleeping for 30s.
var (
	ssePollInterval      = 1 * time.Second
	sseHeartbeatInterval = 30 * time.Second
)

// registerEventsSSE mounts a raw SSE handler directly on the chi router;
// huma doesn't support streaming responses natively, so this is wired
// outside huma.Register, unlike the JSON endpoints.
func registerEventsSSE(router interface {
	Get(pattern string, handlerFn http.HandlerFunc)
}, events EventLister, logger *slog.Logger) {
	router.Get("/events/stream", newEventsSSEHandler(events, logger))
}

// newEventsSSEHandler polls the event lister for anything newer than the
// last event it has sent. There is no in-process event bus to subscribe
// to here, only the diagnostics store, so polling stands in for the
// subscribe/unsubscribe pattern a pub-sub backed stream would use.
func newEventsSSEHandler(events EventLister, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")

		sessionID := r.URL.Query().Get("session_id")
		rc := http.NewResponseController(w)

		fmt.Fprint(w, ":connected\n\n")
		if err := rc.Flush(); err != nil {
			return
		}

		poll := time.NewTicker(ssePollInterval)
		defer poll.Stop()
		heartbeat := time.NewTicker(sseHeartbeatInterval)
		defer heartbeat.Stop()

		ctx := r.Context()
		var lastSeen time.Time

		for {
			select {
			case <-ctx.Done():
				return
			case <-heartbeat.C:
				fmt.Fprint(w, ":heartbeat\n\n")
				if err := rc.Flush(); err != nil {
					return
				}
			case <-poll.C:
				if events == nil {
					continue
				}
				recent, err := events.Recent(ctx, sessionID, 50)
				if err != nil {
					if logger != nil {
						logger.Debug("sse event poll failed", "error", err)
					}
					continue
				}
				wrote := false
				for i := len(recent) - 1; i >= 0; i-- {
					ev := recent[i]
					if !ev.OccurredAt.After(lastSeen) {
						continue
					}
					if err := writeSSEEvent(w, ev); err != nil {
						return
					}
					lastSeen = ev.OccurredAt
					wrote = true
				}
				if wrote {
					if err := rc.Flush(); err != nil {
						return
					}
				}
			}
		}
	}
}

func writeSSEEvent(w http.ResponseWriter, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Kind, data)
	return err
}
