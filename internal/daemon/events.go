package daemon

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"dubline/internal/logging"
)

const keepAliveInterval = 15 * time.Second

// handleEvents streams a job's progress as server-sent events. The last
// known state is sent first; the stream ends after the final event.
func (s *apiServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	events, unsubscribe, err := s.daemon.Subscribe(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	defer unsubscribe()

	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Time{})
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	_ = rc.Flush()

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			_ = rc.Flush()
		case evt, ok := <-events:
			if !ok {
				return
			}
			payload, err := json.Marshal(evt)
			if err != nil {
				s.logger.Error("failed to encode progress event", logging.String(logging.FieldJobID, id), logging.Error(err))
				return
			}
			if _, err := fmt.Fprintf(w, "id: %d\nevent: progress\ndata: %s\n\n", evt.Sequence, payload); err != nil {
				return
			}
			_ = rc.Flush()
			if evt.Final {
				return
			}
		}
	}
}
