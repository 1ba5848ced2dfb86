package controlplane

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/mesutfelat/cowork-oss-sub009/internal/audit"
)

// handleEventStream serves GET /events/stream as server-sent events. The
// task query parameter limits the stream to one task.
func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.bus == nil {
		writeError(w, http.StatusServiceUnavailable, "event stream not available")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	key := r.URL.Query().Get("task")

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	ch, unsub := s.bus.Subscribe(key)
	defer unsub()

	if key == audit.AllTasks {
		fmt.Fprint(w, ": connected to all tasks\n\n")
	} else {
		fmt.Fprintf(w, ": connected to task %s\n\n", key)
	}
	flusher.Flush()

	heartbeat := time.NewTicker(s.heartbeat)
	defer heartbeat.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return

		case msg, ok := <-ch:
			if !ok {
				return
			}
			writeSSEEvent(w, msg)
			flusher.Flush()

		case <-heartbeat.C:
			fmt.Fprintf(w, ": heartbeat %s\n\n", time.Now().Format(time.RFC3339))
			flusher.Flush()
		}
	}
}

func writeSSEEvent(w http.ResponseWriter, msg audit.Message) {
	data, err := json.Marshal(msg.Event)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", msg.ID, msg.Event.Type, data)
}
