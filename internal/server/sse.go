package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"path"
	"time"

	"github.com/go-chi/chi/v5"

	"combinados/internal/engine"
)

const feedHeartbeat = 30 * time.Second

// registerFeed streams change events over SSE. Clients treat events as cache
// invalidations and refetch; they are expected to refetch everything on
// reconnect, so dropped events are recoverable.
func registerFeed(r chi.Router, basePath string, e engine.Engine) {
	r.Get(path.Join(basePath, "feed"), func(w http.ResponseWriter, req *http.Request) {
		principal, authErr := principalFromRequest(req.Context())
		if authErr != nil {
			respondStatusError(w, authErr)
			return
		}
		flusher, ok := w.(http.Flusher)
		if !ok {
			respondStatusError(w, newAPIError(http.StatusInternalServerError, "internal_error", "streaming unsupported", nil))
			return
		}
		events, cancel := e.Feed.Subscribe(principal.UserID)
		defer cancel()

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		heartbeat := time.NewTicker(feedHeartbeat)
		defer heartbeat.Stop()
		for {
			select {
			case <-req.Context().Done():
				return
			case <-heartbeat.C:
				fmt.Fprint(w, ": keep-alive\n\n")
				flusher.Flush()
			case ev, open := <-events:
				if !open {
					return
				}
				data, err := json.Marshal(ev)
				if err != nil {
					continue
				}
				fmt.Fprintf(w, "event: change\ndata: %s\n\n", data)
				flusher.Flush()
			}
		}
	})
}
